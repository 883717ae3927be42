package checkin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/guardline/server/internal/model"
	"github.com/guardline/server/internal/notify"
	"github.com/guardline/server/internal/repo"
)

// ContactOutcome is the per-contact result of an escalation pass.
type ContactOutcome struct {
	ContactID   uuid.UUID `json:"contact_id"`
	ContactName string    `json:"contact_name"`
	Level       int       `json:"level"`
	PushSent    bool      `json:"push_sent"`
	// SMSStatus is one of sent, failed, already_exists, error.
	SMSStatus string `json:"sms_status"`
	Error     string `json:"error,omitempty"`
}

// EscalationResult summarizes one escalated event.
type EscalationResult struct {
	EventID  uuid.UUID        `json:"event_id"`
	UserID   uuid.UUID        `json:"user_id"`
	Level    int              `json:"level"`
	Contacts []ContactOutcome `json:"contacts"`
}

// RunEscalations detects breached deadlines, transitions events to alerted and
// notifies contacts. Every contact is always attempted; one contact's failure
// never aborts the pass. A second escalation run for the same event creates
// zero new deliveries (the (event, contact, channel) constraint).
func (s *Service) RunEscalations(ctx context.Context, now time.Time) ([]EscalationResult, error) {
	now = now.UTC()
	overdue, err := s.events.FindOverdue(ctx, now)
	if err != nil {
		return nil, err
	}

	var results []EscalationResult
	for i := range overdue {
		res, err := s.escalateEvent(ctx, now, &overdue[i])
		if err != nil {
			s.logger.Error("escalation failed",
				zap.String("event_id", overdue[i].Event.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if res != nil {
			results = append(results, *res)
		}
	}

	due2, err := s.events.FindLevel2Due(ctx, now)
	if err != nil {
		// Level-1 work is already done; report it alongside the error.
		return results, err
	}
	for i := range due2 {
		res, err := s.escalateLevel2(ctx, now, &due2[i])
		if err != nil {
			s.logger.Error("level2 escalation failed",
				zap.String("event_id", due2[i].Event.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if res != nil {
			results = append(results, *res)
		}
	}
	return results, nil
}

// escalateEvent drives one event through deadline-breach escalation. The
// status flip is a compare-and-set: losing it (concurrent confirm or a
// duplicate tick) skips the event entirely.
func (s *Service) escalateEvent(ctx context.Context, now time.Time, oe *model.OverdueEvent) (*EscalationResult, error) {
	ok, err := s.events.MarkAlerted(ctx, oe.Event.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	s.appendAudit(ctx, oe.User.ID, &oe.Event.ID, model.AuditCheckinEscalated, "alerted",
		fmt.Sprintf("deadline %s breached", oe.Event.DeadlineTime.UTC().Format(time.RFC3339)))

	result := &EscalationResult{EventID: oe.Event.ID, UserID: oe.User.ID, Level: 1}

	if !oe.User.SMSAlertsEnabled {
		// Still a completed escalation, just with zero deliveries.
		s.appendAudit(ctx, oe.User.ID, &oe.Event.ID, model.AuditContactsAlerted, "0", "sms alerts disabled")
		return result, nil
	}

	contacts, err := s.contacts.ListByUser(ctx, oe.User.ID)
	if err != nil {
		return nil, err
	}
	// With a level-2 delay configured, only primary contacts go out now;
	// secondaries follow after the delay via the level-2 scan.
	if oe.User.Level2DelayMinutes > 0 {
		contacts = filterByLevel(contacts, 1)
	}

	result.Contacts = s.notifyContacts(ctx, now, &oe.Event, &oe.User, contacts)
	s.auditContactsAlerted(ctx, oe, result.Contacts)
	return result, nil
}

// escalateLevel2 notifies secondary contacts once the configured delay after
// the first escalation has elapsed.
func (s *Service) escalateLevel2(ctx context.Context, now time.Time, oe *model.OverdueEvent) (*EscalationResult, error) {
	ok, err := s.events.MarkLevel2Alerted(ctx, oe.Event.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	result := &EscalationResult{EventID: oe.Event.ID, UserID: oe.User.ID, Level: 2}

	if !oe.User.SMSAlertsEnabled {
		s.appendAudit(ctx, oe.User.ID, &oe.Event.ID, model.AuditContactsAlerted, "0", "sms alerts disabled")
		return result, nil
	}

	contacts, err := s.contacts.ListByUser(ctx, oe.User.ID)
	if err != nil {
		return nil, err
	}
	contacts = filterByLevel(contacts, 2)
	if len(contacts) == 0 {
		return result, nil
	}

	result.Contacts = s.notifyContacts(ctx, now, &oe.Event, &oe.User, contacts)
	s.auditContactsAlerted(ctx, oe, result.Contacts)
	return result, nil
}

// notifyContacts fans out one delivery attempt per contact. Contacts are
// independent: each goroutine captures its own outcome and a failure in one
// cannot cancel the others.
func (s *Service) notifyContacts(ctx context.Context, now time.Time, ev *model.CheckinEvent, user *model.User, contacts []model.Contact) []ContactOutcome {
	outcomes := make([]ContactOutcome, len(contacts))
	var wg sync.WaitGroup
	for i := range contacts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = s.notifyContact(ctx, now, ev, user, &contacts[i])
		}(i)
	}
	wg.Wait()
	return outcomes
}

// notifyContact attempts push (when the contact has the app) and always SMS.
// Push is best-effort with no retry budget; a push failure never blocks the
// SMS attempt.
func (s *Service) notifyContact(ctx context.Context, now time.Time, ev *model.CheckinEvent, user *model.User, contact *model.Contact) ContactOutcome {
	out := ContactOutcome{
		ContactID:   contact.ID,
		ContactName: contact.Name,
		Level:       contact.Level,
	}

	if contact.HasApp && contact.PushToken != nil && *contact.PushToken != "" {
		out.PushSent = s.sendContactPush(ctx, ev, user, contact)
	}

	out.SMSStatus, out.Error = s.sendContactSMS(ctx, now, ev, user, contact)
	return out
}

func (s *Service) sendContactPush(ctx context.Context, ev *model.CheckinEvent, user *model.User, contact *model.Contact) bool {
	d := &model.AlertDelivery{
		EventID:   ev.ID,
		ContactID: contact.ID,
		Channel:   model.ChannelPush,
		Status:    model.DeliveryPending,
		// Push is best-effort; SMS is the retried channel.
		MaxRetries: 0,
	}
	outcome, err := s.deliveries.Insert(ctx, d)
	if err != nil {
		s.logger.Error("push delivery insert failed",
			zap.String("event_id", ev.ID.String()),
			zap.String("contact_id", contact.ID.String()),
			zap.Error(err),
		)
		return false
	}
	if outcome == repo.AlreadyExists {
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()
	res, err := s.push.Send(sendCtx, *contact.PushToken, notify.ComposeContactPush(user.Name, ev.ScheduledTime))
	if err != nil || !res.Success {
		reason := res.ErrorReason
		if err != nil {
			reason = err.Error()
		}
		if markErr := s.deliveries.MarkFailed(ctx, d.ID, reason, 0, nil); markErr != nil {
			s.logger.Error("push delivery mark failed", zap.Error(markErr))
		}
		return false
	}
	if err := s.deliveries.MarkSent(ctx, d.ID, &res.ProviderMessageID, nil); err != nil {
		s.logger.Error("push delivery mark sent", zap.Error(err))
	}
	return true
}

func (s *Service) sendContactSMS(ctx context.Context, now time.Time, ev *model.CheckinEvent, user *model.User, contact *model.Contact) (status, errMsg string) {
	existing, err := s.deliveries.Find(ctx, ev.ID, contact.ID, model.ChannelSMS)
	if err != nil {
		return "error", err.Error()
	}
	if existing != nil {
		return repo.AlreadyExists.String(), ""
	}

	d := &model.AlertDelivery{
		EventID:    ev.ID,
		ContactID:  contact.ID,
		Channel:    model.ChannelSMS,
		Status:     model.DeliveryPending,
		MaxRetries: s.opts.SMSMaxRetries,
	}
	outcome, err := s.deliveries.Insert(ctx, d)
	if err != nil {
		return "error", err.Error()
	}
	if outcome == repo.AlreadyExists {
		return repo.AlreadyExists.String(), ""
	}

	plaintext, err := s.phones.Decrypt(contact.PhoneEncrypted)
	if err != nil {
		next := now.Add(BackoffDelay(0))
		if markErr := s.deliveries.MarkFailed(ctx, d.ID, err.Error(), 0, &next); markErr != nil {
			s.logger.Error("sms delivery mark failed", zap.Error(markErr))
		}
		return "failed", err.Error()
	}

	body := notify.ComposeAlertText(user.Name, ev.ScheduledTime)
	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()
	res, err := s.sms.Send(sendCtx, plaintext, body)
	if err != nil || !res.Success {
		msg := res.ErrorMessage
		if err != nil {
			msg = err.Error()
		}
		next := now.Add(BackoffDelay(0))
		if markErr := s.deliveries.MarkFailed(ctx, d.ID, msg, 0, &next); markErr != nil {
			s.logger.Error("sms delivery mark failed", zap.Error(markErr))
		}
		return "failed", msg
	}

	refs := providerRefs(res)
	if err := s.deliveries.MarkSent(ctx, d.ID, refs[0], refs[1]); err != nil {
		s.logger.Error("sms delivery mark sent", zap.Error(err))
	}
	return "sent", ""
}

func providerRefs(res notify.SMSResult) [2]*string {
	var out [2]*string
	if res.ProviderRef != "" {
		ref := res.ProviderRef
		out[0] = &ref
	}
	if res.ProviderStatus != "" {
		st := res.ProviderStatus
		out[1] = &st
	}
	return out
}

func (s *Service) auditContactsAlerted(ctx context.Context, oe *model.OverdueEvent, outcomes []ContactOutcome) {
	sent := 0
	for _, o := range outcomes {
		if o.SMSStatus == "sent" || o.PushSent {
			sent++
		}
	}
	s.appendAudit(ctx, oe.User.ID, &oe.Event.ID, model.AuditContactsAlerted,
		fmt.Sprintf("%d", sent), fmt.Sprintf("%d contacts attempted", len(outcomes)))
}

func (s *Service) appendAudit(ctx context.Context, userID uuid.UUID, eventID *uuid.UUID, entryType, result, detail string) {
	entry := &model.EventLog{
		UserID:  userID,
		EventID: eventID,
		Type:    entryType,
		Result:  result,
		Detail:  detail,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Error("audit append failed",
			zap.String("type", entryType),
			zap.Error(err),
		)
	}
}

func filterByLevel(contacts []model.Contact, level int) []model.Contact {
	out := contacts[:0:0]
	for _, c := range contacts {
		if c.Level == level {
			out = append(out, c)
		}
	}
	return out
}
