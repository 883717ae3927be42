package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/guardline/server/internal/model"
)

// AuditRepo appends to the event_logs audit trail. Rows are never mutated.
type AuditRepo interface {
	Append(ctx context.Context, entry *model.EventLog) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.EventLog, error)
}

type auditRepo struct {
	db *sql.DB
}

// NewAuditRepo creates a new AuditRepo instance
func NewAuditRepo(db *sql.DB) AuditRepo {
	return &auditRepo{db: db}
}

// Append inserts an audit entry.
func (r *auditRepo) Append(ctx context.Context, entry *model.EventLog) error {
	query := `
		INSERT INTO event_logs (user_id, event_id, type, result, detail)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	var idStr string
	err := r.db.QueryRowContext(ctx, query,
		entry.UserID, entry.EventID, entry.Type, entry.Result, entry.Detail,
	).Scan(&idStr, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	entry.ID, err = uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("parse audit entry ID: %w", err)
	}
	return nil
}

// ListByUser returns the most recent audit entries for a user.
func (r *auditRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.EventLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT id, user_id, event_id, type, result, detail, created_at
		FROM event_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []model.EventLog
	for rows.Next() {
		var e model.EventLog
		var idStr, userIDStr string
		var eventIDStr *string
		err := rows.Scan(&idStr, &userIDStr, &eventIDStr, &e.Type, &e.Result, &e.Detail, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if e.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse audit entry ID: %w", err)
		}
		if e.UserID, err = uuid.Parse(userIDStr); err != nil {
			return nil, fmt.Errorf("parse audit user ID: %w", err)
		}
		if eventIDStr != nil {
			eventID, err := uuid.Parse(*eventIDStr)
			if err != nil {
				return nil, fmt.Errorf("parse audit event ID: %w", err)
			}
			e.EventID = &eventID
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
