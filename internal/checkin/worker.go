package checkin

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunTick executes one full pass: scheduler, escalation engine and retry
// manager, in that order. The phases operate on disjoint lifecycle stages, so
// sequential execution within a tick is sufficient; a phase error is logged
// and the remaining phases still run.
func (s *Service) RunTick(ctx context.Context, now time.Time) {
	if created, err := s.RunScheduledCheckins(ctx, now); err != nil {
		s.logger.Error("scheduler pass failed", zap.Error(err))
	} else if created > 0 {
		s.logger.Info("scheduler pass", zap.Int("events_created", created))
	}

	if results, err := s.RunEscalations(ctx, now); err != nil {
		s.logger.Error("escalation pass failed", zap.Error(err))
	} else if len(results) > 0 {
		s.logger.Info("escalation pass", zap.Int("events_escalated", len(results)))
	}

	if resent, err := s.RunRetries(ctx, now); err != nil {
		s.logger.Error("retry pass failed", zap.Error(err))
	} else if resent > 0 {
		s.logger.Info("retry pass", zap.Int("deliveries_resent", resent))
	}
}

// StartTicker launches the background loop driving RunTick every interval
// until ctx is cancelled. An extra external trigger firing concurrently is
// harmless; idempotency lives in the store constraints, not up here.
func (s *Service) StartTicker(ctx context.Context, interval time.Duration) {
	go func() {
		s.logger.Info("tick worker started", zap.Duration("interval", interval))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("tick worker stopped")
				return
			case t := <-ticker.C:
				s.RunTick(ctx, t)
			}
		}
	}()
}
