package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/guardline/server/internal/model"
)

// ContactRepo defines the interface for emergency contact repository operations
type ContactRepo interface {
	Create(ctx context.Context, contact *model.Contact) error
	// ListByUser returns the user's contacts ordered by level ascending,
	// so primary contacts are attempted first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Contact, error)
}

type contactRepo struct {
	db *sql.DB
}

// NewContactRepo creates a new ContactRepo instance
func NewContactRepo(db *sql.DB) ContactRepo {
	return &contactRepo{db: db}
}

// Create inserts a new contact for a user
func (r *contactRepo) Create(ctx context.Context, contact *model.Contact) error {
	query := `
		INSERT INTO contacts (user_id, name, level, phone_encrypted, push_token, has_app)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	var idStr string
	err := r.db.QueryRowContext(ctx, query,
		contact.UserID, contact.Name, contact.Level,
		contact.PhoneEncrypted, contact.PushToken, contact.HasApp,
	).Scan(&idStr, &contact.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	contact.ID, err = uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("parse contact ID: %w", err)
	}
	return nil
}

// ListByUser returns all contacts for the user, level 1 first.
func (r *contactRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Contact, error) {
	query := `
		SELECT id, user_id, name, level, phone_encrypted, push_token, has_app, created_at
		FROM contacts
		WHERE user_id = $1
		ORDER BY level ASC, created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		var c model.Contact
		var idStr, userIDStr string
		err := rows.Scan(&idStr, &userIDStr, &c.Name, &c.Level,
			&c.PhoneEncrypted, &c.PushToken, &c.HasApp, &c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		if c.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse contact ID: %w", err)
		}
		if c.UserID, err = uuid.Parse(userIDStr); err != nil {
			return nil, fmt.Errorf("parse contact user ID: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}
