package checkin

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/guardline/server/internal/model"
	"github.com/guardline/server/internal/notify"
	"github.com/guardline/server/internal/repo"
)

// RunScheduledCheckins materializes a pending event for every active user
// whose configured daily time falls within the tolerance window around now.
// Safe to call more than once per window: the slot existence check plus the
// (user, scheduled_time) uniqueness constraint make creation idempotent.
// Per-user failures are logged and never abort the batch.
func (s *Service) RunScheduledCheckins(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	users, err := s.users.FindActive(ctx, now)
	if err != nil {
		return 0, err
	}

	created := 0
	for i := range users {
		n, err := s.scheduleUser(ctx, now, &users[i])
		if err != nil {
			s.logger.Error("scheduling user failed",
				zap.String("user_id", users[i].ID.String()),
				zap.Error(err),
			)
			continue
		}
		created += n
	}
	return created, nil
}

func (s *Service) scheduleUser(ctx context.Context, now time.Time, user *model.User) (int, error) {
	created := 0
	for _, slot := range user.CheckinTimes {
		if !slot.Matches(now, s.opts.Tolerance) {
			continue
		}
		scheduledTime := slot.On(now)
		// Late tick or clock skew beyond the tolerance: never backdate.
		if now.Sub(scheduledTime) > s.opts.Tolerance {
			continue
		}

		existing, err := s.events.FindForSlot(ctx, user.ID, now, slot)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}

		ev := &model.CheckinEvent{
			UserID:        user.ID,
			ScheduledTime: scheduledTime,
			DeadlineTime:  scheduledTime.Add(time.Duration(user.GraceMinutes) * time.Minute),
			Status:        model.StatusPending,
		}
		outcome, err := s.events.Insert(ctx, ev)
		if err != nil {
			return created, err
		}
		if outcome == repo.AlreadyExists {
			// A concurrent tick won the insert between the existence check
			// and here.
			continue
		}
		created++

		s.sendCheckinPrompt(ctx, user, ev)

		entry := &model.EventLog{
			UserID:  user.ID,
			EventID: &ev.ID,
			Type:    model.AuditCheckinRequested,
			Result:  "created",
			Detail:  "slot " + slot.String(),
		}
		if err := s.audit.Append(ctx, entry); err != nil {
			s.logger.Error("audit append failed",
				zap.String("event_id", ev.ID.String()),
				zap.Error(err),
			)
		}
	}
	return created, nil
}

// sendCheckinPrompt is best-effort: a push failure is logged and never blocks
// event creation.
func (s *Service) sendCheckinPrompt(ctx context.Context, user *model.User, ev *model.CheckinEvent) {
	if user.PushToken == nil || *user.PushToken == "" {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()

	res, err := s.push.Send(sendCtx, *user.PushToken, notify.ComposeCheckinPrompt(ev.DeadlineTime))
	if err != nil || !res.Success {
		s.logger.Warn("checkin prompt push failed",
			zap.String("user_id", user.ID.String()),
			zap.String("event_id", ev.ID.String()),
			zap.String("reason", res.ErrorReason),
			zap.Error(err),
		)
	}
}
