package notify

import "context"

// CategoryCheckinActions is the push category the mobile client maps to
// actionable confirm/snooze buttons. Part of the client/server contract.
const CategoryCheckinActions = "CHECKIN_ACTIONS"

// PushNotification is the payload sent to a device token.
type PushNotification struct {
	Title string
	Body  string
	// Category selects the client's action buttons for this notification.
	Category string
	// TimeSensitive requests high-priority delivery that breaks through
	// notification summaries and focus modes.
	TimeSensitive bool
	Data          map[string]string
}

// PushResult is the provider outcome of one push send attempt.
type PushResult struct {
	Success           bool
	ProviderMessageID string
	ErrorReason       string
}

// PushProvider defines the interface for push delivery adapters.
type PushProvider interface {
	Send(ctx context.Context, token string, n PushNotification) (PushResult, error)
}
