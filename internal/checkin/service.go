// Package checkin implements the check-in lifecycle: scheduling pending
// events at configured daily times, escalating breached deadlines to
// emergency contacts, retrying failed deliveries with backoff, and handling
// user confirm/snooze actions.
package checkin

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/guardline/server/internal/model"
	"github.com/guardline/server/internal/notify"
	"github.com/guardline/server/internal/phone"
	"github.com/guardline/server/internal/repo"
)

// User-visible error taxonomy. Invalid transitions are a "bad request" class,
// distinguishable from not-found.
var (
	ErrEventNotFound         = errors.New("checkin event not found")
	ErrSnoozeLimitReached    = errors.New("snooze limit reached")
	ErrInvalidTransition     = errors.New("checkin is not in a snoozable state")
	ErrInvalidSnoozeDuration = errors.New("invalid snooze duration")
)

// SnoozeMenu is the fixed set of snooze durations a client may request.
var SnoozeMenu = []int{5, 10, 15, 30}

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	// Tolerance is the window around a scheduled slot within which a tick
	// fires it. Must be at least half the tick interval or slots can be missed.
	Tolerance time.Duration
	// SendTimeout bounds each outbound provider call.
	SendTimeout time.Duration
	// SMSMaxRetries is the retry budget for failed SMS deliveries.
	SMSMaxRetries int
	// SnoozeCap is how many times one event may be snoozed.
	SnoozeCap int
}

func (o Options) withDefaults() Options {
	if o.Tolerance <= 0 {
		o.Tolerance = time.Minute
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 30 * time.Second
	}
	if o.SMSMaxRetries <= 0 {
		o.SMSMaxRetries = 5
	}
	if o.SnoozeCap <= 0 {
		o.SnoozeCap = 1
	}
	return o
}

// Service drives the check-in state machine. The tick entry points
// (RunScheduledCheckins, RunEscalations, RunRetries) are idempotent under
// duplicate triggers; the store's uniqueness constraints are the guard.
type Service struct {
	users      repo.UserRepo
	contacts   repo.ContactRepo
	events     repo.EventRepo
	deliveries repo.DeliveryRepo
	audit      repo.AuditRepo
	sms        notify.SMSProvider
	push       notify.PushProvider
	phones     phone.Cipher
	logger     *zap.Logger
	opts       Options
}

// NewService creates the check-in engine.
func NewService(
	users repo.UserRepo,
	contacts repo.ContactRepo,
	events repo.EventRepo,
	deliveries repo.DeliveryRepo,
	audit repo.AuditRepo,
	sms notify.SMSProvider,
	push notify.PushProvider,
	phones phone.Cipher,
	logger *zap.Logger,
	opts Options,
) *Service {
	return &Service{
		users:      users,
		contacts:   contacts,
		events:     events,
		deliveries: deliveries,
		audit:      audit,
		sms:        sms,
		push:       push,
		phones:     phones,
		logger:     logger,
		opts:       opts.withDefaults(),
	}
}

// canTransition is the legal-transition table of the event state machine.
// confirmed is terminal; paused is terminal unless externally resumed, and a
// resume never revives the event.
func canTransition(from, to model.CheckinStatus) bool {
	switch from {
	case model.StatusPending:
		return to == model.StatusConfirmed || to == model.StatusSnoozed ||
			to == model.StatusAlerted || to == model.StatusPaused
	case model.StatusSnoozed:
		return to == model.StatusConfirmed || to == model.StatusAlerted ||
			to == model.StatusSnoozed || to == model.StatusPaused
	case model.StatusAlerted:
		return to == model.StatusConfirmed
	default:
		return false
	}
}
