package notify

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SMSStub implements SMSProvider by logging instead of sending. Used in
// development and as the default until a real gateway is configured.
type SMSStub struct {
	logger *zap.Logger
}

// NewSMSStub creates a new stub SMS provider
func NewSMSStub(logger *zap.Logger) *SMSStub {
	return &SMSStub{logger: logger}
}

// Send logs the message (phone masked) and reports success.
func (s *SMSStub) Send(ctx context.Context, phone, body string) (SMSResult, error) {
	if err := ctx.Err(); err != nil {
		return SMSResult{Success: false, ErrorMessage: err.Error()}, nil
	}
	s.logger.Info("sms stub send",
		zap.String("phone", MaskPhone(phone)),
		zap.Int("body_len", len(body)),
	)
	return SMSResult{
		Success:        true,
		ProviderRef:    "stub-" + uuid.NewString(),
		ProviderStatus: "queued",
	}, nil
}

// MaskPhone masks a phone number for logging (e.g. +49******89).
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}
