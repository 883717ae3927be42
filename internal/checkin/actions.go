package checkin

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guardline/server/internal/model"
	"github.com/guardline/server/internal/repo"
)

// ConfirmRequest identifies the event to confirm. All fields are optional;
// lookup tries event ID, then exact scheduled time, then the most recent
// pending/snoozed event.
type ConfirmRequest struct {
	EventID       *uuid.UUID
	ScheduledTime *time.Time
}

// ConfirmResult reports the confirm outcome. WasEscalated tells the client
// that contacts were already informed before this confirmation.
type ConfirmResult struct {
	EventID          uuid.UUID            `json:"event_id"`
	Status           model.CheckinStatus  `json:"status"`
	ConfirmedAt      time.Time            `json:"confirmed_at"`
	WasEscalated     bool                 `json:"was_escalated"`
	AlreadyConfirmed bool                 `json:"already_confirmed"`
	Synthesized      bool                 `json:"synthesized"`
}

// ConfirmCheckin confirms the user's check-in. Idempotent: confirming an
// already-confirmed event succeeds with the original confirmed_at and writes
// no further audit entries. When no matching event exists the confirmation
// still succeeds by synthesizing an already-confirmed event, so every confirm
// action leaves an audit trail even without a prior pending event.
func (s *Service) ConfirmCheckin(ctx context.Context, user *model.User, req ConfirmRequest, now time.Time) (*ConfirmResult, error) {
	now = now.UTC()

	ev, err := s.lookupForConfirm(ctx, user, req)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return s.synthesizeConfirm(ctx, user, now)
	}

	if ev.Status == model.StatusConfirmed {
		confirmedAt := now
		if ev.ConfirmedAt != nil {
			confirmedAt = *ev.ConfirmedAt
		}
		return &ConfirmResult{
			EventID:          ev.ID,
			Status:           ev.Status,
			ConfirmedAt:      confirmedAt,
			WasEscalated:     ev.EscalatedAt != nil,
			AlreadyConfirmed: true,
		}, nil
	}

	wasEscalated := ev.Status == model.StatusAlerted || ev.EscalatedAt != nil

	ok, err := s.events.Confirm(ctx, ev.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race: re-read and reconcile.
		latest, err := s.events.GetByID(ctx, ev.ID)
		if err != nil {
			return nil, err
		}
		if latest.Status == model.StatusConfirmed {
			confirmedAt := now
			if latest.ConfirmedAt != nil {
				confirmedAt = *latest.ConfirmedAt
			}
			return &ConfirmResult{
				EventID:          latest.ID,
				Status:           latest.Status,
				ConfirmedAt:      confirmedAt,
				WasEscalated:     latest.EscalatedAt != nil,
				AlreadyConfirmed: true,
			}, nil
		}
		// Paused mid-flight; the confirm still needs its audit record.
		return s.synthesizeConfirm(ctx, user, now)
	}

	s.appendAudit(ctx, user.ID, &ev.ID, model.AuditCheckinConfirmed, "confirmed",
		fmt.Sprintf("scheduled %s", ev.ScheduledTime.UTC().Format(time.RFC3339)))

	return &ConfirmResult{
		EventID:      ev.ID,
		Status:       model.StatusConfirmed,
		ConfirmedAt:  now,
		WasEscalated: wasEscalated,
	}, nil
}

// lookupForConfirm tries the three lookup strategies in priority order.
// A nil event with nil error means "not found" (which confirm tolerates).
func (s *Service) lookupForConfirm(ctx context.Context, user *model.User, req ConfirmRequest) (*model.CheckinEvent, error) {
	if req.EventID != nil {
		ev, err := s.events.GetByID(ctx, *req.EventID)
		if err == nil && ev.UserID == user.ID {
			return &ev, nil
		}
		// Fall through: an unknown or foreign ID behaves like "no event".
	}
	if req.ScheduledTime != nil {
		ev, err := s.events.FindByScheduledTime(ctx, user.ID, req.ScheduledTime.UTC())
		if err != nil {
			return nil, err
		}
		if ev != nil {
			return ev, nil
		}
	}
	return s.events.FindLatestActionable(ctx, user.ID)
}

// synthesizeConfirm records an early or unscheduled confirmation as a fresh
// already-confirmed event.
func (s *Service) synthesizeConfirm(ctx context.Context, user *model.User, now time.Time) (*ConfirmResult, error) {
	ev := &model.CheckinEvent{
		UserID:        user.ID,
		ScheduledTime: now,
		DeadlineTime:  now,
		Status:        model.StatusConfirmed,
		ConfirmedAt:   &now,
	}
	outcome, err := s.events.Insert(ctx, ev)
	if err != nil {
		return nil, err
	}
	if outcome == repo.AlreadyExists {
		// Same-instant double submit; reuse the row that won.
		existing, err := s.events.FindByScheduledTime(ctx, user.ID, now)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			ev = existing
		}
	} else {
		s.appendAudit(ctx, user.ID, &ev.ID, model.AuditCheckinConfirmed, "confirmed", "synthesized")
	}
	return &ConfirmResult{
		EventID:     ev.ID,
		Status:      model.StatusConfirmed,
		ConfirmedAt: now,
		Synthesized: true,
	}, nil
}

// SnoozeRequest identifies the event and the requested extension.
type SnoozeRequest struct {
	EventID *uuid.UUID
	Minutes int
}

// SnoozeResult reports the new deadline after a successful snooze.
type SnoozeResult struct {
	EventID      uuid.UUID `json:"event_id"`
	DeadlineTime time.Time `json:"deadline_time"`
	SnoozeCount  int       `json:"snooze_count"`
}

// SnoozeCheckin extends the event's deadline. Legal only from pending/snoozed
// and only below the snooze cap; violations return distinguishable errors,
// and a missing event is a hard not-found (unlike confirm).
func (s *Service) SnoozeCheckin(ctx context.Context, user *model.User, req SnoozeRequest, now time.Time) (*SnoozeResult, error) {
	now = now.UTC()

	if !allowedSnooze(req.Minutes) {
		return nil, fmt.Errorf("%w: %d minutes", ErrInvalidSnoozeDuration, req.Minutes)
	}

	var ev *model.CheckinEvent
	if req.EventID != nil {
		found, err := s.events.GetByID(ctx, *req.EventID)
		if err != nil || found.UserID != user.ID {
			return nil, ErrEventNotFound
		}
		ev = &found
	} else {
		found, err := s.events.FindLatestActionable(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		if found == nil {
			return nil, ErrEventNotFound
		}
		ev = found
	}

	if !canTransition(ev.Status, model.StatusSnoozed) {
		return nil, fmt.Errorf("%w: status %s", ErrInvalidTransition, ev.Status)
	}
	if ev.SnoozeCount >= s.opts.SnoozeCap {
		return nil, ErrSnoozeLimitReached
	}

	newDeadline := ev.DeadlineTime.Add(time.Duration(req.Minutes) * time.Minute)
	ok, err := s.events.Snooze(ctx, ev.ID, newDeadline, s.opts.SnoozeCap, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race with another snooze, a confirm or an escalation;
		// re-read to return the precise rejection.
		latest, err := s.events.GetByID(ctx, ev.ID)
		if err != nil {
			return nil, err
		}
		if latest.SnoozeCount >= s.opts.SnoozeCap {
			return nil, ErrSnoozeLimitReached
		}
		return nil, fmt.Errorf("%w: status %s", ErrInvalidTransition, latest.Status)
	}

	s.appendAudit(ctx, user.ID, &ev.ID, model.AuditCheckinSnoozed, "snoozed",
		fmt.Sprintf("+%d minutes, deadline %s", req.Minutes, newDeadline.UTC().Format(time.RFC3339)))

	return &SnoozeResult{
		EventID:      ev.ID,
		DeadlineTime: newDeadline,
		SnoozeCount:  ev.SnoozeCount + 1,
	}, nil
}

func allowedSnooze(minutes int) bool {
	for _, m := range SnoozeMenu {
		if m == minutes {
			return true
		}
	}
	return false
}

// GetCurrentCheckin returns the user's most recent event still awaiting
// confirmation, or nil when there is none.
func (s *Service) GetCurrentCheckin(ctx context.Context, user *model.User) (*model.CheckinEvent, error) {
	return s.events.FindCurrent(ctx, user.ID)
}

// SetPause sets (or clears, with a nil until) the user's pause window. While
// paused the scheduler creates no events and the escalation engine leaves the
// user's data alone; live pending/snoozed events flip to paused immediately so
// they cannot breach a deadline while dormant. Resuming never revives a
// paused event: the next natural schedule slot creates a fresh one.
func (s *Service) SetPause(ctx context.Context, user *model.User, until *time.Time, now time.Time) error {
	now = now.UTC()
	if err := s.users.SetPause(ctx, user.ID, until); err != nil {
		return err
	}
	if until == nil || !until.After(now) {
		return nil
	}

	paused, err := s.events.PauseActive(ctx, user.ID)
	if err != nil {
		return err
	}
	s.appendAudit(ctx, user.ID, nil, model.AuditCheckinPaused, "paused",
		fmt.Sprintf("until %s, %d events paused", until.UTC().Format(time.RFC3339), paused))
	return nil
}
