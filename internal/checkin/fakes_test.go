package checkin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/guardline/server/internal/model"
	"github.com/guardline/server/internal/notify"
	"github.com/guardline/server/internal/repo"
)

// fakeState is the shared in-memory store backing the repo fakes. The engine
// fans out per contact, so every access goes through the mutex.
type fakeState struct {
	mu         sync.Mutex
	users      map[uuid.UUID]*model.User
	contacts   []*model.Contact
	events     map[uuid.UUID]*model.CheckinEvent
	deliveries map[uuid.UUID]*model.AlertDelivery
	logs       []model.EventLog
}

func newFakeState() *fakeState {
	return &fakeState{
		users:      make(map[uuid.UUID]*model.User),
		events:     make(map[uuid.UUID]*model.CheckinEvent),
		deliveries: make(map[uuid.UUID]*model.AlertDelivery),
	}
}

func (st *fakeState) addUser(u model.User) *model.User {
	st.mu.Lock()
	defer st.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.GraceMinutes == 0 {
		u.GraceMinutes = 10
	}
	st.users[u.ID] = &u
	return &u
}

func (st *fakeState) addContact(c model.Contact) *model.Contact {
	st.mu.Lock()
	defer st.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now().UTC()
	st.contacts = append(st.contacts, &c)
	return &c
}

func (st *fakeState) addEvent(ev model.CheckinEvent) *model.CheckinEvent {
	st.mu.Lock()
	defer st.mu.Unlock()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	stored := ev
	st.events[ev.ID] = &stored
	return &ev
}

func (st *fakeState) addDelivery(d model.AlertDelivery) *model.AlertDelivery {
	st.mu.Lock()
	defer st.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	st.deliveries[d.ID] = &d
	return &d
}

func (st *fakeState) event(id uuid.UUID) model.CheckinEvent {
	st.mu.Lock()
	defer st.mu.Unlock()
	return *st.events[id]
}

func (st *fakeState) delivery(id uuid.UUID) model.AlertDelivery {
	st.mu.Lock()
	defer st.mu.Unlock()
	return *st.deliveries[id]
}

func (st *fakeState) eventsOf(userID uuid.UUID) []model.CheckinEvent {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []model.CheckinEvent
	for _, ev := range st.events {
		if ev.UserID == userID {
			out = append(out, *ev)
		}
	}
	return out
}

func (st *fakeState) deliveriesOf(eventID uuid.UUID) []model.AlertDelivery {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []model.AlertDelivery
	for _, d := range st.deliveries {
		if d.EventID == eventID {
			out = append(out, *d)
		}
	}
	return out
}

func (st *fakeState) logsOfType(entryType string) []model.EventLog {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []model.EventLog
	for _, l := range st.logs {
		if l.Type == entryType {
			out = append(out, l)
		}
	}
	return out
}

// --- repo fakes ---

type fakeUsers struct{ st *fakeState }

func (f *fakeUsers) GetByID(_ context.Context, id string) (model.User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return model.User{}, err
	}
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	u, ok := f.st.users[uid]
	if !ok {
		return model.User{}, errors.New("user not found")
	}
	return *u, nil
}

func (f *fakeUsers) GetByPhone(_ context.Context, phone string) (model.User, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, u := range f.st.users {
		if u.PhoneNumber == phone {
			return *u, nil
		}
	}
	return model.User{}, errors.New("user not found")
}

func (f *fakeUsers) GetOrCreateByPhone(ctx context.Context, phone string) (model.User, error) {
	if u, err := f.GetByPhone(ctx, phone); err == nil {
		return u, nil
	}
	u := f.st.addUser(model.User{PhoneNumber: phone, Timezone: "UTC"})
	return *u, nil
}

func (f *fakeUsers) FindActive(_ context.Context, now time.Time) ([]model.User, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var out []model.User
	for _, u := range f.st.users {
		if len(u.CheckinTimes) == 0 {
			continue
		}
		if u.PauseUntil != nil && u.PauseUntil.After(now) {
			continue
		}
		out = append(out, *u)
	}
	return out, nil
}

func (f *fakeUsers) UpdateSettings(_ context.Context, userID uuid.UUID, s repo.UserSettings) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	u, ok := f.st.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	u.Name = s.Name
	u.Timezone = s.Timezone
	u.CheckinTimes = s.CheckinTimes
	u.GraceMinutes = s.GraceMinutes
	u.SMSAlertsEnabled = s.SMSAlertsEnabled
	u.Level2DelayMinutes = s.Level2DelayMinutes
	u.PushToken = s.PushToken
	return nil
}

func (f *fakeUsers) SetPause(_ context.Context, userID uuid.UUID, until *time.Time) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	u, ok := f.st.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	u.PauseUntil = until
	return nil
}

type fakeContacts struct{ st *fakeState }

func (f *fakeContacts) Create(_ context.Context, c *model.Contact) error {
	stored := f.st.addContact(*c)
	*c = *stored
	return nil
}

func (f *fakeContacts) ListByUser(_ context.Context, userID uuid.UUID) ([]model.Contact, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var out []model.Contact
	for _, c := range f.st.contacts {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

type fakeEvents struct{ st *fakeState }

func (f *fakeEvents) Insert(_ context.Context, ev *model.CheckinEvent) (repo.InsertOutcome, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, existing := range f.st.events {
		if existing.UserID == ev.UserID && existing.ScheduledTime.Equal(ev.ScheduledTime) {
			return repo.AlreadyExists, nil
		}
	}
	ev.ID = uuid.New()
	ev.CreatedAt = time.Now().UTC()
	ev.UpdatedAt = ev.CreatedAt
	stored := *ev
	f.st.events[ev.ID] = &stored
	return repo.Created, nil
}

func (f *fakeEvents) GetByID(_ context.Context, id uuid.UUID) (model.CheckinEvent, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	ev, ok := f.st.events[id]
	if !ok {
		return model.CheckinEvent{}, errors.New("event not found")
	}
	return *ev, nil
}

func (f *fakeEvents) FindForSlot(_ context.Context, userID uuid.UUID, day time.Time, slot model.TimeOfDay) (*model.CheckinEvent, error) {
	day = day.UTC()
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, ev := range f.st.events {
		t := ev.ScheduledTime.UTC()
		if ev.UserID == userID && !t.Before(dayStart) && t.Before(dayEnd) &&
			t.Hour() == slot.Hour && t.Minute() == slot.Minute {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeEvents) FindByScheduledTime(_ context.Context, userID uuid.UUID, at time.Time) (*model.CheckinEvent, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, ev := range f.st.events {
		if ev.UserID == userID && ev.ScheduledTime.Equal(at) {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeEvents) findLatest(userID uuid.UUID, statuses ...model.CheckinStatus) *model.CheckinEvent {
	var latest *model.CheckinEvent
	for _, ev := range f.st.events {
		if ev.UserID != userID {
			continue
		}
		match := false
		for _, s := range statuses {
			if ev.Status == s {
				match = true
			}
		}
		if !match {
			continue
		}
		if latest == nil || ev.ScheduledTime.After(latest.ScheduledTime) {
			cp := *ev
			latest = &cp
		}
	}
	return latest
}

func (f *fakeEvents) FindLatestActionable(_ context.Context, userID uuid.UUID) (*model.CheckinEvent, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	return f.findLatest(userID, model.StatusPending, model.StatusSnoozed), nil
}

func (f *fakeEvents) FindCurrent(_ context.Context, userID uuid.UUID) (*model.CheckinEvent, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	return f.findLatest(userID, model.StatusPending, model.StatusSnoozed, model.StatusAlerted), nil
}

func (f *fakeEvents) FindOverdue(_ context.Context, now time.Time) ([]model.OverdueEvent, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var out []model.OverdueEvent
	for _, ev := range f.st.events {
		if ev.Status != model.StatusPending && ev.Status != model.StatusSnoozed {
			continue
		}
		if ev.DeadlineTime.After(now) {
			continue
		}
		u, ok := f.st.users[ev.UserID]
		if !ok || (u.PauseUntil != nil && u.PauseUntil.After(now)) {
			continue
		}
		out = append(out, model.OverdueEvent{Event: *ev, User: *u})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Event.DeadlineTime.Before(out[j].Event.DeadlineTime)
	})
	return out, nil
}

func (f *fakeEvents) FindLevel2Due(_ context.Context, now time.Time) ([]model.OverdueEvent, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var out []model.OverdueEvent
	for _, ev := range f.st.events {
		if ev.Status != model.StatusAlerted || ev.EscalationLevel != 1 || ev.EscalatedAt == nil {
			continue
		}
		u, ok := f.st.users[ev.UserID]
		if !ok || u.Level2DelayMinutes <= 0 {
			continue
		}
		if ev.EscalatedAt.Add(time.Duration(u.Level2DelayMinutes) * time.Minute).After(now) {
			continue
		}
		if u.PauseUntil != nil && u.PauseUntil.After(now) {
			continue
		}
		out = append(out, model.OverdueEvent{Event: *ev, User: *u})
	}
	return out, nil
}

func (f *fakeEvents) MarkAlerted(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	ev, ok := f.st.events[id]
	if !ok || (ev.Status != model.StatusPending && ev.Status != model.StatusSnoozed) {
		return false, nil
	}
	ev.Status = model.StatusAlerted
	ev.EscalatedAt = &at
	ev.EscalationLevel = 1
	ev.UpdatedAt = at
	return true, nil
}

func (f *fakeEvents) MarkLevel2Alerted(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	ev, ok := f.st.events[id]
	if !ok || ev.Status != model.StatusAlerted || ev.EscalationLevel != 1 {
		return false, nil
	}
	ev.EscalationLevel = 2
	ev.Level2EscalatedAt = &at
	ev.UpdatedAt = at
	return true, nil
}

func (f *fakeEvents) Confirm(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	ev, ok := f.st.events[id]
	if !ok {
		return false, nil
	}
	switch ev.Status {
	case model.StatusPending, model.StatusSnoozed, model.StatusAlerted:
	default:
		return false, nil
	}
	ev.Status = model.StatusConfirmed
	ev.ConfirmedAt = &at
	ev.UpdatedAt = at
	return true, nil
}

func (f *fakeEvents) Snooze(_ context.Context, id uuid.UUID, newDeadline time.Time, maxSnoozes int, at time.Time) (bool, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	ev, ok := f.st.events[id]
	if !ok || (ev.Status != model.StatusPending && ev.Status != model.StatusSnoozed) {
		return false, nil
	}
	if ev.SnoozeCount >= maxSnoozes {
		return false, nil
	}
	ev.Status = model.StatusSnoozed
	ev.DeadlineTime = newDeadline
	ev.SnoozedUntil = &newDeadline
	ev.SnoozeCount++
	ev.UpdatedAt = at
	return true, nil
}

func (f *fakeEvents) PauseActive(_ context.Context, userID uuid.UUID) (int64, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var n int64
	for _, ev := range f.st.events {
		if ev.UserID == userID && (ev.Status == model.StatusPending || ev.Status == model.StatusSnoozed) {
			ev.Status = model.StatusPaused
			n++
		}
	}
	return n, nil
}

type fakeDeliveries struct{ st *fakeState }

func (f *fakeDeliveries) Insert(_ context.Context, d *model.AlertDelivery) (repo.InsertOutcome, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, existing := range f.st.deliveries {
		if existing.EventID == d.EventID && existing.ContactID == d.ContactID && existing.Channel == d.Channel {
			return repo.AlreadyExists, nil
		}
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	stored := *d
	f.st.deliveries[d.ID] = &stored
	return repo.Created, nil
}

func (f *fakeDeliveries) Find(_ context.Context, eventID, contactID uuid.UUID, channel model.DeliveryChannel) (*model.AlertDelivery, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, d := range f.st.deliveries {
		if d.EventID == eventID && d.ContactID == contactID && d.Channel == channel {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeDeliveries) MarkSent(_ context.Context, id uuid.UUID, providerRef, providerStatus *string) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	d, ok := f.st.deliveries[id]
	if !ok {
		return errors.New("delivery not found")
	}
	d.Status = model.DeliverySent
	d.ProviderRef = providerRef
	d.ProviderStatus = providerStatus
	d.ErrorMessage = nil
	d.NextRetryAt = nil
	return nil
}

func (f *fakeDeliveries) MarkFailed(_ context.Context, id uuid.UUID, errorMessage string, retryCount int, nextRetryAt *time.Time) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	d, ok := f.st.deliveries[id]
	if !ok {
		return errors.New("delivery not found")
	}
	d.Status = model.DeliveryFailed
	d.ErrorMessage = &errorMessage
	d.RetryCount = retryCount
	d.NextRetryAt = nextRetryAt
	return nil
}

func (f *fakeDeliveries) FindDueRetries(_ context.Context, now time.Time) ([]model.DueRetry, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var out []model.DueRetry
	for _, d := range f.st.deliveries {
		if d.Status != model.DeliveryFailed || d.RetryCount >= d.MaxRetries {
			continue
		}
		if d.NextRetryAt == nil || d.NextRetryAt.After(now) {
			continue
		}
		dr := model.DueRetry{Delivery: *d}
		for _, c := range f.st.contacts {
			if c.ID == d.ContactID {
				dr.Contact = *c
			}
		}
		if ev, ok := f.st.events[d.EventID]; ok {
			dr.Event = *ev
		}
		if u, ok := f.st.users[dr.Event.UserID]; ok {
			dr.User = *u
		}
		out = append(out, dr)
	}
	return out, nil
}

type fakeAudit struct{ st *fakeState }

func (f *fakeAudit) Append(_ context.Context, entry *model.EventLog) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now().UTC()
	f.st.logs = append(f.st.logs, *entry)
	return nil
}

func (f *fakeAudit) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]model.EventLog, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var out []model.EventLog
	for _, l := range f.st.logs {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// --- provider fakes ---

type fakeSMS struct {
	mu     sync.Mutex
	sent   []string
	bodies []string
	fail   map[string]string
}

func newFakeSMS() *fakeSMS {
	return &fakeSMS{fail: make(map[string]string)}
}

func (f *fakeSMS) Send(ctx context.Context, phone, body string) (notify.SMSResult, error) {
	if err := ctx.Err(); err != nil {
		return notify.SMSResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.fail[phone]; ok {
		return notify.SMSResult{Success: false, ErrorCode: "30003", ErrorMessage: msg}, nil
	}
	f.sent = append(f.sent, phone)
	f.bodies = append(f.bodies, body)
	return notify.SMSResult{
		Success:        true,
		ProviderRef:    fmt.Sprintf("msg-%d", len(f.sent)),
		ProviderStatus: "queued",
	}, nil
}

func (f *fakeSMS) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeSMS) lastBody() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bodies) == 0 {
		return ""
	}
	return f.bodies[len(f.bodies)-1]
}

type fakePush struct {
	mu   sync.Mutex
	sent []string
	fail map[string]string
}

func newFakePush() *fakePush {
	return &fakePush{fail: make(map[string]string)}
}

func (f *fakePush) Send(ctx context.Context, token string, n notify.PushNotification) (notify.PushResult, error) {
	if err := ctx.Err(); err != nil {
		return notify.PushResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if reason, ok := f.fail[token]; ok {
		return notify.PushResult{Success: false, ErrorReason: reason}, nil
	}
	f.sent = append(f.sent, token)
	return notify.PushResult{Success: true, ProviderMessageID: fmt.Sprintf("push-%d", len(f.sent))}, nil
}

func (f *fakePush) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// fakeCipher marks ciphertext with a prefix so tests can seed encrypted phones
// without key material.
type fakeCipher struct{}

func (fakeCipher) Encrypt(plaintext string) (string, error) { return "enc:" + plaintext, nil }

func (fakeCipher) Decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, "enc:") {
		return "", errors.New("malformed ciphertext")
	}
	return strings.TrimPrefix(ciphertext, "enc:"), nil
}

// --- service harness ---

type testHarness struct {
	st      *fakeState
	sms     *fakeSMS
	push    *fakePush
	service *Service
}

func newTestHarness(t *testing.T, opts Options) *testHarness {
	t.Helper()
	st := newFakeState()
	sms := newFakeSMS()
	push := newFakePush()
	service := NewService(
		&fakeUsers{st}, &fakeContacts{st}, &fakeEvents{st}, &fakeDeliveries{st}, &fakeAudit{st},
		sms, push, fakeCipher{}, zaptest.NewLogger(t), opts,
	)
	return &testHarness{st: st, sms: sms, push: push, service: service}
}

func strPtr(s string) *string { return &s }
