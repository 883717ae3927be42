package checkin

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/guardline/server/internal/model"
	"github.com/guardline/server/internal/notify"
)

// RunRetries resends failed deliveries whose retry time has arrived. The
// message is re-derived from live user/event data, never replayed from a
// stored copy. On another failure the retry count is incremented and the next
// attempt scheduled by backoff; once the budget is exhausted the row stays
// failed permanently, visible to history.
func (s *Service) RunRetries(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	due, err := s.deliveries.FindDueRetries(ctx, now)
	if err != nil {
		return 0, err
	}

	resent := 0
	for i := range due {
		ok, err := s.retryDelivery(ctx, now, &due[i])
		if err != nil {
			s.logger.Error("delivery retry failed",
				zap.String("delivery_id", due[i].Delivery.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if ok {
			resent++
		}
	}
	return resent, nil
}

func (s *Service) retryDelivery(ctx context.Context, now time.Time, dr *model.DueRetry) (bool, error) {
	if dr.Delivery.Channel != model.ChannelSMS {
		// Only SMS carries a retry budget; anything else due here is a
		// misconfigured row, park it.
		return false, s.deliveries.MarkFailed(ctx, dr.Delivery.ID, "unretryable channel", dr.Delivery.MaxRetries, nil)
	}

	plaintext, err := s.phones.Decrypt(dr.Contact.PhoneEncrypted)
	if err != nil {
		return false, s.recordRetryFailure(ctx, now, dr, err.Error())
	}

	body := notify.ComposeAlertText(dr.User.Name, dr.Event.ScheduledTime)
	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()
	res, err := s.sms.Send(sendCtx, plaintext, body)
	if err != nil || !res.Success {
		msg := res.ErrorMessage
		if err != nil {
			msg = err.Error()
		}
		return false, s.recordRetryFailure(ctx, now, dr, msg)
	}

	refs := providerRefs(res)
	if err := s.deliveries.MarkSent(ctx, dr.Delivery.ID, refs[0], refs[1]); err != nil {
		return false, err
	}
	s.appendAudit(ctx, dr.User.ID, &dr.Delivery.EventID, model.AuditDeliveryRetried, "sent",
		"attempt "+strconv.Itoa(dr.Delivery.RetryCount+1))
	return true, nil
}

// recordRetryFailure bumps the retry count and either schedules the next
// attempt or, when the budget is spent, leaves next_retry_at null.
func (s *Service) recordRetryFailure(ctx context.Context, now time.Time, dr *model.DueRetry, msg string) error {
	newCount := dr.Delivery.RetryCount + 1
	var next *time.Time
	if newCount < dr.Delivery.MaxRetries {
		t := now.Add(BackoffDelay(newCount))
		next = &t
	}
	if err := s.deliveries.MarkFailed(ctx, dr.Delivery.ID, msg, newCount, next); err != nil {
		return err
	}
	result := "rescheduled"
	if next == nil {
		result = "exhausted"
	}
	s.appendAudit(ctx, dr.User.ID, &dr.Delivery.EventID, model.AuditDeliveryRetried, result, msg)
	return nil
}
