package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PushStub implements PushProvider by logging instead of sending.
type PushStub struct {
	logger *zap.Logger
}

// NewPushStub creates a new stub push provider
func NewPushStub(logger *zap.Logger) *PushStub {
	return &PushStub{logger: logger}
}

// Send logs the notification and reports success.
func (s *PushStub) Send(ctx context.Context, token string, n PushNotification) (PushResult, error) {
	if err := ctx.Err(); err != nil {
		return PushResult{Success: false, ErrorReason: err.Error()}, nil
	}
	s.logger.Info("push stub send",
		zap.String("category", n.Category),
		zap.Bool("time_sensitive", n.TimeSensitive),
		zap.String("title", n.Title),
	)
	return PushResult{
		Success:           true,
		ProviderMessageID: "stub-" + uuid.NewString(),
	}, nil
}
