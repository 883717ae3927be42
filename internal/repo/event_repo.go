package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/guardline/server/internal/model"
)

// EventRepo defines the interface for check-in event repository operations.
// Status mutations are compare-and-set on the expected prior status so a
// concurrent confirm and escalation cannot overwrite each other; callers get
// back whether their transition won.
type EventRepo interface {
	// Insert creates the event, or reports AlreadyExists when the
	// (user_id, scheduled_time) slot is already materialized.
	Insert(ctx context.Context, ev *model.CheckinEvent) (InsertOutcome, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.CheckinEvent, error)
	// FindForSlot looks for an event on day whose scheduled wall-clock time
	// matches the slot.
	FindForSlot(ctx context.Context, userID uuid.UUID, day time.Time, slot model.TimeOfDay) (*model.CheckinEvent, error)
	FindByScheduledTime(ctx context.Context, userID uuid.UUID, at time.Time) (*model.CheckinEvent, error)
	// FindLatestActionable returns the most recent pending or snoozed event.
	FindLatestActionable(ctx context.Context, userID uuid.UUID) (*model.CheckinEvent, error)
	// FindCurrent returns the most recent event still awaiting confirmation
	// (pending, snoozed or alerted).
	FindCurrent(ctx context.Context, userID uuid.UUID) (*model.CheckinEvent, error)
	// FindOverdue returns pending/snoozed events past deadline for unpaused users.
	FindOverdue(ctx context.Context, now time.Time) ([]model.OverdueEvent, error)
	// FindLevel2Due returns alerted events whose level-2 delay has elapsed.
	FindLevel2Due(ctx context.Context, now time.Time) ([]model.OverdueEvent, error)
	MarkAlerted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkLevel2Alerted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	Confirm(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	Snooze(ctx context.Context, id uuid.UUID, newDeadline time.Time, maxSnoozes int, at time.Time) (bool, error)
	// PauseActive flips the user's pending/snoozed events to paused and
	// returns how many rows changed.
	PauseActive(ctx context.Context, userID uuid.UUID) (int64, error)
}

type eventRepo struct {
	db *sql.DB
}

// NewEventRepo creates a new EventRepo instance
func NewEventRepo(db *sql.DB) EventRepo {
	return &eventRepo{db: db}
}

const eventColumns = `id, user_id, scheduled_time, deadline_time, status, confirmed_at,
	snoozed_until, snooze_count, escalated_at, escalation_level, level2_escalated_at,
	created_at, updated_at`

func scanEvent(row rowScanner) (model.CheckinEvent, error) {
	var ev model.CheckinEvent
	var idStr, userIDStr, status string
	err := row.Scan(
		&idStr,
		&userIDStr,
		&ev.ScheduledTime,
		&ev.DeadlineTime,
		&status,
		&ev.ConfirmedAt,
		&ev.SnoozedUntil,
		&ev.SnoozeCount,
		&ev.EscalatedAt,
		&ev.EscalationLevel,
		&ev.Level2EscalatedAt,
		&ev.CreatedAt,
		&ev.UpdatedAt,
	)
	if err != nil {
		return model.CheckinEvent{}, err
	}
	ev.Status = model.CheckinStatus(status)
	if ev.ID, err = uuid.Parse(idStr); err != nil {
		return model.CheckinEvent{}, fmt.Errorf("parse event ID: %w", err)
	}
	if ev.UserID, err = uuid.Parse(userIDStr); err != nil {
		return model.CheckinEvent{}, fmt.Errorf("parse event user ID: %w", err)
	}
	return ev, nil
}

// Insert creates the event. ON CONFLICT DO NOTHING turns a duplicate slot into
// a tagged AlreadyExists result instead of a driver error.
func (r *eventRepo) Insert(ctx context.Context, ev *model.CheckinEvent) (InsertOutcome, error) {
	query := `
		INSERT INTO checkin_events
			(user_id, scheduled_time, deadline_time, status, confirmed_at, snooze_count, escalation_level)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, scheduled_time) DO NOTHING
		RETURNING id, created_at, updated_at
	`
	var idStr string
	err := r.db.QueryRowContext(ctx, query,
		ev.UserID, ev.ScheduledTime, ev.DeadlineTime, string(ev.Status),
		ev.ConfirmedAt, ev.SnoozeCount, ev.EscalationLevel,
	).Scan(&idStr, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return AlreadyExists, nil
		}
		return Created, fmt.Errorf("insert event: %w", err)
	}
	if ev.ID, err = uuid.Parse(idStr); err != nil {
		return Created, fmt.Errorf("parse event ID: %w", err)
	}
	return Created, nil
}

// GetByID retrieves an event by ID
func (r *eventRepo) GetByID(ctx context.Context, id uuid.UUID) (model.CheckinEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM checkin_events WHERE id = $1`
	ev, err := scanEvent(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return model.CheckinEvent{}, fmt.Errorf("event not found: %w", err)
		}
		return model.CheckinEvent{}, fmt.Errorf("query event: %w", err)
	}
	return ev, nil
}

func (r *eventRepo) findOne(ctx context.Context, query string, args ...interface{}) (*model.CheckinEvent, error) {
	ev, err := scanEvent(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query event: %w", err)
	}
	return &ev, nil
}

// FindForSlot searches the day's range for an event at the slot's wall-clock time.
func (r *eventRepo) FindForSlot(ctx context.Context, userID uuid.UUID, day time.Time, slot model.TimeOfDay) (*model.CheckinEvent, error) {
	day = day.UTC()
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)
	query := `
		SELECT ` + eventColumns + `
		FROM checkin_events
		WHERE user_id = $1
		  AND scheduled_time >= $2 AND scheduled_time < $3
		  AND to_char(scheduled_time AT TIME ZONE 'UTC', 'HH24:MI') = $4
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.findOne(ctx, query, userID, dayStart, dayEnd, slot.String())
}

// FindByScheduledTime retrieves the event scheduled at exactly the given instant.
func (r *eventRepo) FindByScheduledTime(ctx context.Context, userID uuid.UUID, at time.Time) (*model.CheckinEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM checkin_events
		WHERE user_id = $1 AND scheduled_time = $2
		LIMIT 1
	`
	return r.findOne(ctx, query, userID, at)
}

// FindLatestActionable returns the most recent pending/snoozed event for the user.
func (r *eventRepo) FindLatestActionable(ctx context.Context, userID uuid.UUID) (*model.CheckinEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM checkin_events
		WHERE user_id = $1 AND status IN ('pending', 'snoozed')
		ORDER BY scheduled_time DESC
		LIMIT 1
	`
	return r.findOne(ctx, query, userID)
}

// FindCurrent returns the most recent pending/snoozed/alerted event for the user.
func (r *eventRepo) FindCurrent(ctx context.Context, userID uuid.UUID) (*model.CheckinEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM checkin_events
		WHERE user_id = $1 AND status IN ('pending', 'snoozed', 'alerted')
		ORDER BY scheduled_time DESC
		LIMIT 1
	`
	return r.findOne(ctx, query, userID)
}

func (r *eventRepo) queryOverdue(ctx context.Context, query string, args ...interface{}) ([]model.OverdueEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query overdue events: %w", err)
	}
	defer rows.Close()

	var out []model.OverdueEvent
	for rows.Next() {
		var oe model.OverdueEvent
		var evIDStr, evUserIDStr, status, userIDStr, timesCSV string
		err := rows.Scan(
			&evIDStr, &evUserIDStr, &oe.Event.ScheduledTime, &oe.Event.DeadlineTime, &status,
			&oe.Event.ConfirmedAt, &oe.Event.SnoozedUntil, &oe.Event.SnoozeCount,
			&oe.Event.EscalatedAt, &oe.Event.EscalationLevel, &oe.Event.Level2EscalatedAt,
			&oe.Event.CreatedAt, &oe.Event.UpdatedAt,
			&userIDStr, &oe.User.PhoneNumber, &oe.User.Name, &oe.User.Timezone, &timesCSV,
			&oe.User.GraceMinutes, &oe.User.SMSAlertsEnabled, &oe.User.Level2DelayMinutes,
			&oe.User.PauseUntil, &oe.User.PushToken, &oe.User.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan overdue event: %w", err)
		}
		oe.Event.Status = model.CheckinStatus(status)
		if oe.Event.ID, err = uuid.Parse(evIDStr); err != nil {
			return nil, fmt.Errorf("parse event ID: %w", err)
		}
		if oe.Event.UserID, err = uuid.Parse(evUserIDStr); err != nil {
			return nil, fmt.Errorf("parse event user ID: %w", err)
		}
		if oe.User.ID, err = uuid.Parse(userIDStr); err != nil {
			return nil, fmt.Errorf("parse user ID: %w", err)
		}
		if timesCSV != "" {
			oe.User.CheckinTimes, err = model.ParseTimesOfDay(strings.Split(timesCSV, ","))
			if err != nil {
				return nil, fmt.Errorf("parse checkin_times: %w", err)
			}
		}
		out = append(out, oe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overdue events: %w", err)
	}
	return out, nil
}

const overdueJoinColumns = `
		e.id, e.user_id, e.scheduled_time, e.deadline_time, e.status, e.confirmed_at,
		e.snoozed_until, e.snooze_count, e.escalated_at, e.escalation_level, e.level2_escalated_at,
		e.created_at, e.updated_at,
		u.id, u.phone_number, u.name, u.timezone, array_to_string(u.checkin_times, ','),
		u.grace_minutes, u.sms_alerts_enabled, u.level2_delay_minutes,
		u.pause_until, u.push_token, u.created_at`

// FindOverdue returns deadline-breached pending/snoozed events for unpaused users.
func (r *eventRepo) FindOverdue(ctx context.Context, now time.Time) ([]model.OverdueEvent, error) {
	query := `
		SELECT ` + overdueJoinColumns + `
		FROM checkin_events e
		JOIN users u ON u.id = e.user_id
		WHERE e.status IN ('pending', 'snoozed')
		  AND e.deadline_time <= $1
		  AND (u.pause_until IS NULL OR u.pause_until <= $1)
		ORDER BY e.deadline_time ASC
	`
	return r.queryOverdue(ctx, query, now)
}

// FindLevel2Due returns alerted events whose configured level-2 delay has
// elapsed since the first escalation.
func (r *eventRepo) FindLevel2Due(ctx context.Context, now time.Time) ([]model.OverdueEvent, error) {
	query := `
		SELECT ` + overdueJoinColumns + `
		FROM checkin_events e
		JOIN users u ON u.id = e.user_id
		WHERE e.status = 'alerted'
		  AND e.escalation_level = 1
		  AND u.level2_delay_minutes > 0
		  AND e.escalated_at + make_interval(mins => u.level2_delay_minutes) <= $1
		  AND (u.pause_until IS NULL OR u.pause_until <= $1)
		ORDER BY e.escalated_at ASC
	`
	return r.queryOverdue(ctx, query, now)
}

func (r *eventRepo) exec(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// MarkAlerted transitions pending/snoozed -> alerted. Returns false when a
// concurrent confirm (or another tick) won the race.
func (r *eventRepo) MarkAlerted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	ok, err := r.exec(ctx, `
		UPDATE checkin_events
		SET status = 'alerted', escalated_at = $2, escalation_level = 1, updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'snoozed')
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark alerted: %w", err)
	}
	return ok, nil
}

// MarkLevel2Alerted stamps the second escalation stage.
func (r *eventRepo) MarkLevel2Alerted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	ok, err := r.exec(ctx, `
		UPDATE checkin_events
		SET escalation_level = 2, level2_escalated_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'alerted' AND escalation_level = 1
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark level2 alerted: %w", err)
	}
	return ok, nil
}

// Confirm transitions pending/snoozed/alerted -> confirmed.
func (r *eventRepo) Confirm(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	ok, err := r.exec(ctx, `
		UPDATE checkin_events
		SET status = 'confirmed', confirmed_at = $2, updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'snoozed', 'alerted')
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("confirm event: %w", err)
	}
	return ok, nil
}

// Snooze extends the deadline and increments snooze_count, guarded by the cap
// in the same statement so concurrent snoozes cannot exceed it.
func (r *eventRepo) Snooze(ctx context.Context, id uuid.UUID, newDeadline time.Time, maxSnoozes int, at time.Time) (bool, error) {
	ok, err := r.exec(ctx, `
		UPDATE checkin_events
		SET status = 'snoozed', deadline_time = $2, snoozed_until = $2,
		    snooze_count = snooze_count + 1, updated_at = $4
		WHERE id = $1 AND status IN ('pending', 'snoozed') AND snooze_count < $3
	`, id, newDeadline, maxSnoozes, at)
	if err != nil {
		return false, fmt.Errorf("snooze event: %w", err)
	}
	return ok, nil
}

// PauseActive flips the user's live events to paused.
func (r *eventRepo) PauseActive(ctx context.Context, userID uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE checkin_events
		SET status = 'paused', updated_at = now()
		WHERE user_id = $1 AND status IN ('pending', 'snoozed')
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("pause active events: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
