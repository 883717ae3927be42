package notify

import "context"

// SMSResult is the provider outcome of one SMS send attempt.
type SMSResult struct {
	Success        bool
	ProviderRef    string
	ProviderStatus string
	ErrorCode      string
	ErrorMessage   string
}

// SMSProvider defines the interface for SMS delivery adapters. Implementations
// must honor ctx cancellation; a timed-out send is reported as a failure.
type SMSProvider interface {
	Send(ctx context.Context, phone, body string) (SMSResult, error)
}
