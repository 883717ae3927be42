package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guardline/server/internal/model"
)

// DeliveryRepo defines the interface for alert delivery repository operations
type DeliveryRepo interface {
	// Insert creates the attempt row, or reports AlreadyExists when the
	// (event, contact, channel) triple was already attempted.
	Insert(ctx context.Context, d *model.AlertDelivery) (InsertOutcome, error)
	Find(ctx context.Context, eventID, contactID uuid.UUID, channel model.DeliveryChannel) (*model.AlertDelivery, error)
	MarkSent(ctx context.Context, id uuid.UUID, providerRef, providerStatus *string) error
	// MarkFailed records the failure and schedules (or cancels, when
	// nextRetryAt is nil) the next automatic retry.
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string, retryCount int, nextRetryAt *time.Time) error
	// FindDueRetries returns failed deliveries with retry budget left whose
	// retry time has arrived, joined with contact, event and user.
	FindDueRetries(ctx context.Context, now time.Time) ([]model.DueRetry, error)
}

type deliveryRepo struct {
	db *sql.DB
}

// NewDeliveryRepo creates a new DeliveryRepo instance
func NewDeliveryRepo(db *sql.DB) DeliveryRepo {
	return &deliveryRepo{db: db}
}

const deliveryColumns = `id, event_id, contact_id, channel, status, provider_ref,
	provider_status, error_message, retry_count, max_retries, next_retry_at,
	created_at, updated_at`

func scanDelivery(row rowScanner) (model.AlertDelivery, error) {
	var d model.AlertDelivery
	var idStr, eventIDStr, contactIDStr, channel, status string
	err := row.Scan(
		&idStr, &eventIDStr, &contactIDStr, &channel, &status,
		&d.ProviderRef, &d.ProviderStatus, &d.ErrorMessage,
		&d.RetryCount, &d.MaxRetries, &d.NextRetryAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return model.AlertDelivery{}, err
	}
	d.Channel = model.DeliveryChannel(channel)
	d.Status = model.DeliveryStatus(status)
	if d.ID, err = uuid.Parse(idStr); err != nil {
		return model.AlertDelivery{}, fmt.Errorf("parse delivery ID: %w", err)
	}
	if d.EventID, err = uuid.Parse(eventIDStr); err != nil {
		return model.AlertDelivery{}, fmt.Errorf("parse delivery event ID: %w", err)
	}
	if d.ContactID, err = uuid.Parse(contactIDStr); err != nil {
		return model.AlertDelivery{}, fmt.Errorf("parse delivery contact ID: %w", err)
	}
	return d, nil
}

// Insert creates the delivery row; a conflicting triple reports AlreadyExists.
func (r *deliveryRepo) Insert(ctx context.Context, d *model.AlertDelivery) (InsertOutcome, error) {
	query := `
		INSERT INTO alert_deliveries
			(event_id, contact_id, channel, status, retry_count, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id, contact_id, channel) DO NOTHING
		RETURNING id, created_at, updated_at
	`
	var idStr string
	err := r.db.QueryRowContext(ctx, query,
		d.EventID, d.ContactID, string(d.Channel), string(d.Status),
		d.RetryCount, d.MaxRetries,
	).Scan(&idStr, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return AlreadyExists, nil
		}
		return Created, fmt.Errorf("insert delivery: %w", err)
	}
	if d.ID, err = uuid.Parse(idStr); err != nil {
		return Created, fmt.Errorf("parse delivery ID: %w", err)
	}
	return Created, nil
}

// Find retrieves the delivery for the (event, contact, channel) triple, nil when absent.
func (r *deliveryRepo) Find(ctx context.Context, eventID, contactID uuid.UUID, channel model.DeliveryChannel) (*model.AlertDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM alert_deliveries
		WHERE event_id = $1 AND contact_id = $2 AND channel = $3
	`
	d, err := scanDelivery(r.db.QueryRowContext(ctx, query, eventID, contactID, string(channel)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query delivery: %w", err)
	}
	return &d, nil
}

// MarkSent records a successful send and cancels any scheduled retry.
func (r *deliveryRepo) MarkSent(ctx context.Context, id uuid.UUID, providerRef, providerStatus *string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE alert_deliveries
		SET status = 'sent', provider_ref = $2, provider_status = $3,
		    error_message = NULL, next_retry_at = NULL, updated_at = now()
		WHERE id = $1
	`, id, providerRef, providerStatus)
	if err != nil {
		return fmt.Errorf("mark delivery sent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("delivery not found")
	}
	return nil
}

// MarkFailed records the failure; a nil nextRetryAt leaves the row permanently failed.
func (r *deliveryRepo) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string, retryCount int, nextRetryAt *time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE alert_deliveries
		SET status = 'failed', error_message = $2, retry_count = $3,
		    next_retry_at = $4, updated_at = now()
		WHERE id = $1
	`, id, errorMessage, retryCount, nextRetryAt)
	if err != nil {
		return fmt.Errorf("mark delivery failed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("delivery not found")
	}
	return nil
}

// FindDueRetries returns failed deliveries due for another attempt, with the
// contact, event and user needed to re-derive the message from live data.
func (r *deliveryRepo) FindDueRetries(ctx context.Context, now time.Time) ([]model.DueRetry, error) {
	query := `
		SELECT d.id, d.event_id, d.contact_id, d.channel, d.status, d.provider_ref,
		       d.provider_status, d.error_message, d.retry_count, d.max_retries, d.next_retry_at,
		       d.created_at, d.updated_at,
		       c.name, c.level, c.phone_encrypted, c.push_token, c.has_app,
		       e.scheduled_time, e.deadline_time, e.status,
		       u.id, u.name, u.phone_number
		FROM alert_deliveries d
		JOIN contacts c ON c.id = d.contact_id
		JOIN checkin_events e ON e.id = d.event_id
		JOIN users u ON u.id = e.user_id
		WHERE d.status = 'failed'
		  AND d.retry_count < d.max_retries
		  AND d.next_retry_at IS NOT NULL
		  AND d.next_retry_at <= $1
		ORDER BY d.next_retry_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query due retries: %w", err)
	}
	defer rows.Close()

	var out []model.DueRetry
	for rows.Next() {
		var dr model.DueRetry
		var dIDStr, eventIDStr, contactIDStr, channel, dStatus, evStatus, userIDStr string
		err := rows.Scan(
			&dIDStr, &eventIDStr, &contactIDStr, &channel, &dStatus, &dr.Delivery.ProviderRef,
			&dr.Delivery.ProviderStatus, &dr.Delivery.ErrorMessage,
			&dr.Delivery.RetryCount, &dr.Delivery.MaxRetries, &dr.Delivery.NextRetryAt,
			&dr.Delivery.CreatedAt, &dr.Delivery.UpdatedAt,
			&dr.Contact.Name, &dr.Contact.Level, &dr.Contact.PhoneEncrypted,
			&dr.Contact.PushToken, &dr.Contact.HasApp,
			&dr.Event.ScheduledTime, &dr.Event.DeadlineTime, &evStatus,
			&userIDStr, &dr.User.Name, &dr.User.PhoneNumber,
		)
		if err != nil {
			return nil, fmt.Errorf("scan due retry: %w", err)
		}
		dr.Delivery.Channel = model.DeliveryChannel(channel)
		dr.Delivery.Status = model.DeliveryStatus(dStatus)
		dr.Event.Status = model.CheckinStatus(evStatus)
		if dr.Delivery.ID, err = uuid.Parse(dIDStr); err != nil {
			return nil, fmt.Errorf("parse delivery ID: %w", err)
		}
		if dr.Delivery.EventID, err = uuid.Parse(eventIDStr); err != nil {
			return nil, fmt.Errorf("parse delivery event ID: %w", err)
		}
		if dr.Delivery.ContactID, err = uuid.Parse(contactIDStr); err != nil {
			return nil, fmt.Errorf("parse delivery contact ID: %w", err)
		}
		if dr.User.ID, err = uuid.Parse(userIDStr); err != nil {
			return nil, fmt.Errorf("parse user ID: %w", err)
		}
		dr.Contact.ID = dr.Delivery.ContactID
		dr.Contact.UserID = dr.User.ID
		dr.Event.ID = dr.Delivery.EventID
		dr.Event.UserID = dr.User.ID
		out = append(out, dr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due retries: %w", err)
	}
	return out, nil
}
