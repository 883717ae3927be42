package model

import (
	"time"

	"github.com/google/uuid"
)

// CheckinStatus is the lifecycle state of a check-in event
type CheckinStatus string

const (
	StatusPending   CheckinStatus = "pending"
	StatusSnoozed   CheckinStatus = "snoozed"
	StatusConfirmed CheckinStatus = "confirmed"
	StatusMissed    CheckinStatus = "missed"
	StatusAlerted   CheckinStatus = "alerted"
	StatusPaused    CheckinStatus = "paused"
)

// DeliveryChannel identifies the outbound channel of an alert delivery
type DeliveryChannel string

const (
	ChannelSMS  DeliveryChannel = "sms"
	ChannelPush DeliveryChannel = "push"
)

// DeliveryStatus is the lifecycle state of an alert delivery
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// User represents an account with a check-in schedule
type User struct {
	ID                 uuid.UUID
	PhoneNumber        string
	Name               string
	Timezone           string
	CheckinTimes       []TimeOfDay
	GraceMinutes       int
	SMSAlertsEnabled   bool
	Level2DelayMinutes int
	PauseUntil         *time.Time
	PushToken          *string
	CreatedAt          time.Time
}

// Paused reports whether the user's pause window covers the given instant.
func (u *User) Paused(now time.Time) bool {
	return u.PauseUntil != nil && u.PauseUntil.After(now)
}

// Contact is an emergency contact belonging to a user.
// Level 1 contacts are notified immediately on escalation, level 2 after
// the user's configured delay.
type Contact struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Name           string
	Level          int
	PhoneEncrypted string
	PushToken      *string
	HasApp         bool
	CreatedAt      time.Time
}

// CheckinEvent is one scheduled instance of "confirm you are OK by the deadline".
// Its ID doubles as an idempotency key; (user_id, scheduled_time) is unique.
type CheckinEvent struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	ScheduledTime     time.Time
	DeadlineTime      time.Time
	Status            CheckinStatus
	ConfirmedAt       *time.Time
	SnoozedUntil      *time.Time
	SnoozeCount       int
	EscalatedAt       *time.Time
	EscalationLevel   int
	Level2EscalatedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AlertDelivery is one (event, contact, channel) attempt lineage.
// The triple is unique; retries mutate the same row.
type AlertDelivery struct {
	ID             uuid.UUID
	EventID        uuid.UUID
	ContactID      uuid.UUID
	Channel        DeliveryChannel
	Status         DeliveryStatus
	ProviderRef    *string
	ProviderStatus *string
	ErrorMessage   *string
	RetryCount     int
	MaxRetries     int
	NextRetryAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EventLog is an append-only audit entry.
type EventLog struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	EventID   *uuid.UUID
	Type      string
	Result    string
	Detail    string
	CreatedAt time.Time
}

// Audit entry types
const (
	AuditCheckinRequested = "checkin_requested"
	AuditCheckinConfirmed = "checkin_confirmed"
	AuditCheckinSnoozed   = "checkin_snoozed"
	AuditCheckinEscalated = "checkin_escalated"
	AuditContactsAlerted  = "contacts_alerted"
	AuditCheckinPaused    = "checkin_paused"
	AuditDeliveryRetried  = "delivery_retried"
)

// OverdueEvent is a check-in event joined with its owner, as returned by the
// escalation scan.
type OverdueEvent struct {
	Event CheckinEvent
	User  User
}

// DueRetry is a failed delivery joined with everything needed to re-derive
// and resend the alert message.
type DueRetry struct {
	Delivery AlertDelivery
	Contact  Contact
	Event    CheckinEvent
	User     User
}
