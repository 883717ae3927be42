package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/guardline/server/internal/model"
)

// UserSettings is the mutable slice of a user's profile owned by the
// settings surface.
type UserSettings struct {
	Name               string
	Timezone           string
	CheckinTimes       []model.TimeOfDay
	GraceMinutes       int
	SMSAlertsEnabled   bool
	Level2DelayMinutes int
	PushToken          *string
}

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id string) (model.User, error)
	GetByPhone(ctx context.Context, phone string) (model.User, error)
	GetOrCreateByPhone(ctx context.Context, phone string) (model.User, error)
	// FindActive returns users whose pause window does not cover now.
	FindActive(ctx context.Context, now time.Time) ([]model.User, error)
	UpdateSettings(ctx context.Context, userID uuid.UUID, s UserSettings) error
	// SetPause sets or clears pause_until. Flipping live events to paused is
	// the caller's job (EventRepo.PauseActive).
	SetPause(ctx context.Context, userID uuid.UUID, until *time.Time) error
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, phone_number, name, timezone, checkin_times, grace_minutes,
	sms_alerts_enabled, level2_delay_minutes, pause_until, push_token, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (model.User, error) {
	var user model.User
	var idStr string
	var times pq.StringArray
	err := row.Scan(
		&idStr,
		&user.PhoneNumber,
		&user.Name,
		&user.Timezone,
		&times,
		&user.GraceMinutes,
		&user.SMSAlertsEnabled,
		&user.Level2DelayMinutes,
		&user.PauseUntil,
		&user.PushToken,
		&user.CreatedAt,
	)
	if err != nil {
		return model.User{}, err
	}
	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("parse user ID: %w", err)
	}
	user.CheckinTimes, err = model.ParseTimesOfDay(times)
	if err != nil {
		return model.User{}, fmt.Errorf("parse checkin_times: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return model.User{}, fmt.Errorf("user not found: %w", err)
		}
		return model.User{}, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// GetByPhone retrieves a user by phone number
func (r *userRepo) GetByPhone(ctx context.Context, phone string) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone_number = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, phone))
	if err != nil {
		if err == sql.ErrNoRows {
			return model.User{}, fmt.Errorf("user not found: %w", err)
		}
		return model.User{}, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// GetOrCreateByPhone retrieves a user by phone number or creates one if it doesn't exist
func (r *userRepo) GetOrCreateByPhone(ctx context.Context, phone string) (model.User, error) {
	query := `
		INSERT INTO users (phone_number)
		VALUES ($1)
		ON CONFLICT (phone_number) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, phone); err != nil {
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	return r.GetByPhone(ctx, phone)
}

// FindActive returns every user with a non-empty schedule whose pause window
// has lapsed or was never set.
func (r *userRepo) FindActive(ctx context.Context, now time.Time) ([]model.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE cardinality(checkin_times) > 0
		  AND (pause_until IS NULL OR pause_until <= $1)
	`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan active user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active users: %w", err)
	}
	return users, nil
}

// UpdateSettings replaces the user's schedule and escalation settings.
func (r *userRepo) UpdateSettings(ctx context.Context, userID uuid.UUID, s UserSettings) error {
	times := make([]string, len(s.CheckinTimes))
	for i, t := range s.CheckinTimes {
		times[i] = t.String()
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET name = $2, timezone = $3, checkin_times = $4, grace_minutes = $5,
		    sms_alerts_enabled = $6, level2_delay_minutes = $7, push_token = $8
		WHERE id = $1
	`, userID, s.Name, s.Timezone, pq.Array(times), s.GraceMinutes,
		s.SMSAlertsEnabled, s.Level2DelayMinutes, s.PushToken)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("user not found")
	}
	return nil
}

// SetPause sets pause_until (nil clears it).
func (r *userRepo) SetPause(ctx context.Context, userID uuid.UUID, until *time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET pause_until = $2 WHERE id = $1
	`, userID, until)
	if err != nil {
		return fmt.Errorf("set pause: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("user not found")
	}
	return nil
}
