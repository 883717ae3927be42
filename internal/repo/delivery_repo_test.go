package repo

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardline/server/internal/model"
)

func newDeliveryMock(t *testing.T) (*deliveryRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &deliveryRepo{db: db}, mock
}

func TestDeliveryRepoInsert_Created(t *testing.T) {
	r, mock := newDeliveryMock(t)
	eventID, contactID, id := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO alert_deliveries")).
		WithArgs(eventID, contactID, "sms", "pending", 0, 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(id.String(), now, now))

	d := &model.AlertDelivery{
		EventID:    eventID,
		ContactID:  contactID,
		Channel:    model.ChannelSMS,
		Status:     model.DeliveryPending,
		MaxRetries: 5,
	}
	outcome, err := r.Insert(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)
	assert.Equal(t, id, d.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepoInsert_DuplicateTriple(t *testing.T) {
	r, mock := newDeliveryMock(t)
	eventID, contactID := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (event_id, contact_id, channel) DO NOTHING")).
		WithArgs(eventID, contactID, "sms", "pending", 0, 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}))

	d := &model.AlertDelivery{
		EventID:    eventID,
		ContactID:  contactID,
		Channel:    model.ChannelSMS,
		Status:     model.DeliveryPending,
		MaxRetries: 5,
	}
	outcome, err := r.Insert(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, AlreadyExists, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepoFind_AbsentIsNil(t *testing.T) {
	r, mock := newDeliveryMock(t)
	eventID, contactID := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM alert_deliveries")).
		WithArgs(eventID, contactID, "sms").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	d, err := r.Find(context.Background(), eventID, contactID, model.ChannelSMS)
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepoMarkSent_ClearsRetryState(t *testing.T) {
	r, mock := newDeliveryMock(t)
	id := uuid.New()
	ref := "msg-1"

	mock.ExpectExec(regexp.QuoteMeta("next_retry_at = NULL")).
		WithArgs(id, &ref, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := r.MarkSent(context.Background(), id, &ref, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepoMarkFailed(t *testing.T) {
	r, mock := newDeliveryMock(t)
	id := uuid.New()
	next := time.Date(2026, 8, 25, 9, 12, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("SET status = 'failed'")).
		WithArgs(id, "carrier rejected", 1, &next).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := r.MarkFailed(context.Background(), id, "carrier rejected", 1, &next)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepoFindDueRetries(t *testing.T) {
	r, mock := newDeliveryMock(t)
	now := time.Date(2026, 8, 25, 9, 15, 0, 0, time.UTC)
	dID, eventID, contactID, userID := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	scheduled := now.Add(-15 * time.Minute)
	errMsg := "carrier rejected"
	next := now.Add(-time.Minute)

	rows := sqlmock.NewRows([]string{
		"id", "event_id", "contact_id", "channel", "status", "provider_ref",
		"provider_status", "error_message", "retry_count", "max_retries", "next_retry_at",
		"created_at", "updated_at",
		"name", "level", "phone_encrypted", "push_token", "has_app",
		"scheduled_time", "deadline_time", "e_status",
		"u_id", "u_name", "phone_number",
	}).AddRow(
		dID.String(), eventID.String(), contactID.String(), "sms", "failed", nil,
		nil, errMsg, 1, 5, next,
		now, now,
		"Ben", 1, "sealed", nil, false,
		scheduled, scheduled.Add(10*time.Minute), "alerted",
		userID.String(), "Ana", "+491700000009",
	)

	mock.ExpectQuery(regexp.QuoteMeta("d.retry_count < d.max_retries")).
		WithArgs(now).
		WillReturnRows(rows)

	due, err := r.FindDueRetries(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	dr := due[0]
	assert.Equal(t, dID, dr.Delivery.ID)
	assert.Equal(t, 1, dr.Delivery.RetryCount)
	assert.Equal(t, "Ben", dr.Contact.Name)
	assert.Equal(t, contactID, dr.Contact.ID)
	assert.Equal(t, "Ana", dr.User.Name)
	assert.Equal(t, eventID, dr.Event.ID)
	assert.Equal(t, userID, dr.Event.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
