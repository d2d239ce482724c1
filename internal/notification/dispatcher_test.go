package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/medimorph/medimorph/internal/domain/doseevent"
	"github.com/medimorph/medimorph/internal/domain/medication"
	apperrors "github.com/medimorph/medimorph/pkg/errors"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// =========================================================================
// Fakes
// =========================================================================

type fakeOutbox struct {
	mu   sync.Mutex
	rows map[common.ID]*OutboxMessage
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{rows: make(map[common.ID]*OutboxMessage)}
}

func (f *fakeOutbox) Enqueue(_ context.Context, msg *OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *msg
	f.rows[msg.ID] = &cp
	return nil
}

func (f *fakeOutbox) ClaimDue(_ context.Context, now time.Time, limit int) ([]*OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*OutboxMessage
	for _, m := range f.rows {
		if m.Status == OutboxPending && !m.NextAttemptAt.After(now) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeOutbox) MarkDone(_ context.Context, id common.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id].Status = OutboxDone
	return nil
}

func (f *fakeOutbox) Reschedule(_ context.Context, id common.ID, attempts int, next time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id].Attempts = attempts
	f.rows[id].NextAttemptAt = next
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id common.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id].Status = OutboxFailed
	return nil
}

func (f *fakeOutbox) get(id common.ID) OutboxMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[id]
}

func (f *fakeOutbox) single() OutboxMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.rows {
		return *m
	}
	return OutboxMessage{}
}

// fakeChannel fails the first failures deliveries, then succeeds.
type fakeChannel struct {
	mu        sync.Mutex
	failures  int
	published [][]byte
	users     []common.UserID
}

func (f *fakeChannel) Publish(_ context.Context, userID common.UserID, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	f.published = append(f.published, payload)
	f.users = append(f.users, userID)
	return nil
}

// fakeEvents only needs MarkDeliveryDegraded; the rest of the repository
// surface is left to the embedded nil interface.
type fakeEvents struct {
	doseevent.Repository
	mu       sync.Mutex
	degraded []common.ID
}

func (f *fakeEvents) MarkDeliveryDegraded(_ context.Context, id common.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.degraded = append(f.degraded, id)
	return nil
}

type fakeMedications struct {
	medication.Repository
	records map[common.ID]*medication.Record
}

func (f *fakeMedications) GetByID(_ context.Context, id common.ID) (*medication.Record, error) {
	if rec, ok := f.records[id]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, apperrors.NotFound("medication not found")
}

type countingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *countingMetrics) RecordDispatch(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = make(map[string]int)
	}
	c.outcomes[outcome]++
}

func testDispatcher(t *testing.T, outbox OutboxRepository, ch Channel, events doseevent.Repository, cfg DispatcherConfig) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(outbox, ch, events, cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

// =========================================================================
// Enqueuer
// =========================================================================

func TestEnqueueSnapshotsMedication(t *testing.T) {
	rec := medication.NewRecord("u1", "Amoxicillin")
	rec.Dosage = "500mg"
	meds := &fakeMedications{records: map[common.ID]*medication.Record{rec.ID: rec}}
	outbox := newFakeOutbox()

	event := doseevent.New(rec.ID, "u1", time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	event.Status = doseevent.StatusFired

	enq := NewEnqueuer(outbox, meds, nil)
	if err := enq.Enqueue(context.Background(), event); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	msg := outbox.single()
	if msg.EventID != event.ID || msg.UserID != "u1" {
		t.Errorf("outbox row = %+v", msg)
	}
	var payload ReminderPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.MedicationName != "Amoxicillin" || payload.Dosage != "500mg" {
		t.Errorf("payload = %+v", payload)
	}
	if payload.Status != "fired" || !payload.ScheduledTime.Equal(event.ScheduledAt) {
		t.Errorf("payload = %+v", payload)
	}
}

func TestEnqueueWithoutMedicationStillDelivers(t *testing.T) {
	meds := &fakeMedications{records: map[common.ID]*medication.Record{}}
	outbox := newFakeOutbox()

	event := doseevent.New(common.NewID(), "u1", time.Now())
	enq := NewEnqueuer(outbox, meds, nil)
	if err := enq.Enqueue(context.Background(), event); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var payload ReminderPayload
	if err := json.Unmarshal(outbox.single().Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.MedicationName != "" {
		t.Errorf("name = %q, want empty for a deleted medication", payload.MedicationName)
	}
	if payload.EventID != event.ID {
		t.Errorf("event id = %s", payload.EventID)
	}
}

// =========================================================================
// Dispatcher
// =========================================================================

func seedOutbox(outbox *fakeOutbox, eventID common.ID) *OutboxMessage {
	msg := NewOutboxMessage(eventID, "u1", []byte(`{"event_id":"x"}`))
	_ = outbox.Enqueue(context.Background(), msg)
	return msg
}

func TestDrainDelivers(t *testing.T) {
	outbox := newFakeOutbox()
	msg := seedOutbox(outbox, common.NewID())
	ch := &fakeChannel{}

	d := testDispatcher(t, outbox, ch, &fakeEvents{}, DefaultDispatcherConfig())
	if n := d.DrainOnce(context.Background()); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	if len(ch.published) != 1 || ch.users[0] != "u1" {
		t.Errorf("channel saw %d messages", len(ch.published))
	}
	if got := outbox.get(msg.ID); got.Status != OutboxDone {
		t.Errorf("status = %s, want done", got.Status)
	}

	// Nothing left to drain.
	if n := d.DrainOnce(context.Background()); n != 0 {
		t.Errorf("second drain delivered %d", n)
	}
}

func TestDrainRetriesWithBackoff(t *testing.T) {
	outbox := newFakeOutbox()
	msg := seedOutbox(outbox, common.NewID())
	ch := &fakeChannel{failures: 1}

	cfg := DefaultDispatcherConfig()
	cfg.BaseBackoff = time.Minute
	d := testDispatcher(t, outbox, ch, &fakeEvents{}, cfg)

	start := time.Now()
	if n := d.DrainOnce(context.Background()); n != 0 {
		t.Fatalf("delivered = %d on a failing channel", n)
	}
	got := outbox.get(msg.ID)
	if got.Status != OutboxPending || got.Attempts != 1 {
		t.Fatalf("row = %+v", got)
	}
	if got.NextAttemptAt.Before(start.Add(50 * time.Second)) {
		t.Errorf("next attempt %v not backed off", got.NextAttemptAt)
	}

	// Not due yet, so another drain leaves it alone.
	if n := d.DrainOnce(context.Background()); n != 0 || len(ch.published) != 0 {
		t.Fatalf("retried before backoff elapsed")
	}

	// Once due, the retry succeeds.
	d.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if n := d.DrainOnce(context.Background()); n != 1 {
		t.Fatalf("retry did not deliver")
	}
	if got := outbox.get(msg.ID); got.Status != OutboxDone {
		t.Errorf("status = %s after retry", got.Status)
	}
}

func TestDrainDegradesAfterAttemptBudget(t *testing.T) {
	outbox := newFakeOutbox()
	eventID := common.NewID()
	msg := seedOutbox(outbox, eventID)
	ch := &fakeChannel{failures: 10}
	events := &fakeEvents{}
	metrics := &countingMetrics{}

	cfg := DefaultDispatcherConfig()
	cfg.MaxAttempts = 2
	cfg.BaseBackoff = time.Millisecond
	d, err := NewDispatcher(outbox, ch, events, cfg, metrics, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	base := time.Now()
	d.DrainOnce(context.Background())
	d.now = func() time.Time { return base.Add(time.Hour) }
	d.DrainOnce(context.Background())

	got := outbox.get(msg.ID)
	if got.Status != OutboxFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if len(events.degraded) != 1 || events.degraded[0] != eventID {
		t.Errorf("degraded events = %v", events.degraded)
	}
	if metrics.outcomes["degraded"] != 1 || metrics.outcomes["retried"] != 1 {
		t.Errorf("metrics = %v", metrics.outcomes)
	}

	// Failed rows never come back.
	d.now = func() time.Time { return base.Add(2 * time.Hour) }
	if n := d.DrainOnce(context.Background()); n != 0 {
		t.Errorf("failed row was redelivered")
	}
}

func TestBackoffDoubles(t *testing.T) {
	cfg := DefaultDispatcherConfig()
	cfg.BaseBackoff = 30 * time.Second
	d := testDispatcher(t, newFakeOutbox(), &fakeChannel{}, &fakeEvents{}, cfg)

	want := []time.Duration{30 * time.Second, time.Minute, 2 * time.Minute}
	for i, w := range want {
		if got := d.backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}
