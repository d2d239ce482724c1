package compliance

import (
	"context"
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

type fakeEvents struct {
	doseevent.Repository
	mu     sync.Mutex
	events map[common.ID]*doseevent.DoseEvent
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{events: make(map[common.ID]*doseevent.DoseEvent)}
}

func (f *fakeEvents) add(e *doseevent.DoseEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.events[e.ID] = &cp
}

func (f *fakeEvents) GetByID(_ context.Context, id common.ID) (*doseevent.DoseEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeEventNotFound, "dose event not found")
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEvents) UpdateStatusIf(_ context.Context, id common.ID, expected, next doseevent.Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok || e.Status != expected {
		return false, nil
	}
	now := time.Now().UTC()
	e.Status = next
	if next == doseevent.StatusTaken || next == doseevent.StatusMissed {
		e.ActedAt = &now
	}
	return true, nil
}

func (f *fakeEvents) CountByStatus(_ context.Context, medicationID common.ID, from, to time.Time) (doseevent.StatusCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(doseevent.StatusCounts)
	for _, e := range f.events {
		if e.MedicationID == medicationID && !e.ScheduledAt.Before(from) && !e.ScheduledAt.After(to) {
			counts[e.Status]++
		}
	}
	return counts, nil
}

type fakeMedications struct {
	medication.Repository
	records []*medication.Record
}

func (f *fakeMedications) ListByUser(_ context.Context, userID common.UserID, _ bool, _ common.Pagination) ([]*medication.Record, error) {
	var out []*medication.Record
	for _, r := range f.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func firedEvent(store *fakeEvents, medID common.ID, userID common.UserID, at time.Time) *doseevent.DoseEvent {
	e := doseevent.New(medID, userID, at)
	e.Status = doseevent.StatusFired
	fired := at
	e.FiredAt = &fired
	store.add(e)
	return e
}

// =========================================================================
// RecordAction
// =========================================================================

func TestRecordActionTaken(t *testing.T) {
	store := newFakeEvents()
	e := firedEvent(store, common.NewID(), "u1", time.Now())

	tracker := NewTracker(store, &fakeMedications{}, nil)
	got, err := tracker.RecordAction(context.Background(), "u1", e.ID, ActionTaken)
	if err != nil {
		t.Fatalf("RecordAction: %v", err)
	}
	if got.Status != doseevent.StatusTaken {
		t.Errorf("status = %s", got.Status)
	}
	if got.ActedAt == nil {
		t.Error("ActedAt not set")
	}
}

func TestRecordActionSkipped(t *testing.T) {
	store := newFakeEvents()
	e := firedEvent(store, common.NewID(), "u1", time.Now())

	tracker := NewTracker(store, &fakeMedications{}, nil)
	got, err := tracker.RecordAction(context.Background(), "u1", e.ID, ActionSkipped)
	if err != nil {
		t.Fatalf("RecordAction: %v", err)
	}
	if got.Status != doseevent.StatusMissed {
		t.Errorf("status = %s", got.Status)
	}
}

func TestRecordActionIdempotent(t *testing.T) {
	store := newFakeEvents()
	e := firedEvent(store, common.NewID(), "u1", time.Now())
	tracker := NewTracker(store, &fakeMedications{}, nil)

	if _, err := tracker.RecordAction(context.Background(), "u1", e.ID, ActionTaken); err != nil {
		t.Fatalf("first action: %v", err)
	}
	got, err := tracker.RecordAction(context.Background(), "u1", e.ID, ActionTaken)
	if err != nil {
		t.Fatalf("repeat action: %v", err)
	}
	if got.Status != doseevent.StatusTaken {
		t.Errorf("status = %s", got.Status)
	}
}

func TestRecordActionLateConfirmation(t *testing.T) {
	// A dose the sweeper already marked missed can still be confirmed taken.
	store := newFakeEvents()
	e := firedEvent(store, common.NewID(), "u1", time.Now())
	store.mu.Lock()
	store.events[e.ID].Status = doseevent.StatusMissed
	store.mu.Unlock()

	tracker := NewTracker(store, &fakeMedications{}, nil)
	got, err := tracker.RecordAction(context.Background(), "u1", e.ID, ActionTaken)
	if err != nil {
		t.Fatalf("late confirmation: %v", err)
	}
	if got.Status != doseevent.StatusTaken {
		t.Errorf("status = %s", got.Status)
	}
}

func TestRecordActionRejectsIllegalStates(t *testing.T) {
	store := newFakeEvents()
	tracker := NewTracker(store, &fakeMedications{}, nil)

	pending := doseevent.New(common.NewID(), "u1", time.Now())
	store.add(pending)
	if _, err := tracker.RecordAction(context.Background(), "u1", pending.ID, ActionTaken); !apperrors.IsCode(err, apperrors.ErrCodeInvalidTransition) {
		t.Errorf("pending dose: err = %v", err)
	}

	// A taken dose cannot be walked back to missed.
	taken := firedEvent(store, common.NewID(), "u1", time.Now())
	if _, err := tracker.RecordAction(context.Background(), "u1", taken.ID, ActionTaken); err != nil {
		t.Fatal(err)
	}
	if _, err := tracker.RecordAction(context.Background(), "u1", taken.ID, ActionSkipped); !apperrors.IsCode(err, apperrors.ErrCodeInvalidTransition) {
		t.Errorf("taken dose skipped: err = %v", err)
	}
}

func TestRecordActionUnknownAction(t *testing.T) {
	store := newFakeEvents()
	e := firedEvent(store, common.NewID(), "u1", time.Now())
	tracker := NewTracker(store, &fakeMedications{}, nil)
	if _, err := tracker.RecordAction(context.Background(), "u1", e.ID, Action("snoozed")); !apperrors.IsCode(err, apperrors.ErrCodeBadRequest) {
		t.Errorf("err = %v", err)
	}
}

func TestRecordActionEnforcesOwnership(t *testing.T) {
	store := newFakeEvents()
	e := firedEvent(store, common.NewID(), "alice", time.Now())
	tracker := NewTracker(store, &fakeMedications{}, nil)
	if _, err := tracker.RecordAction(context.Background(), "mallory", e.ID, ActionTaken); !apperrors.IsCode(err, apperrors.ErrCodeEventNotFound) {
		t.Errorf("err = %v", err)
	}
}

// =========================================================================
// BuildReport
// =========================================================================

func TestBuildReportAdherence(t *testing.T) {
	store := newFakeEvents()
	medA := medication.NewRecord("u1", "Metformin")
	medB := medication.NewRecord("u1", "Atorvastatin")
	meds := &fakeMedications{records: []*medication.Record{medA, medB}}

	now := time.Now().UTC()
	// Metformin: 3 taken, 1 missed, 1 still pending.
	for i := 0; i < 3; i++ {
		e := firedEvent(store, medA.ID, "u1", now.Add(-time.Duration(i+1)*time.Hour))
		store.mu.Lock()
		store.events[e.ID].Status = doseevent.StatusTaken
		store.mu.Unlock()
	}
	missed := firedEvent(store, medA.ID, "u1", now.Add(-5*time.Hour))
	store.mu.Lock()
	store.events[missed.ID].Status = doseevent.StatusMissed
	store.mu.Unlock()
	store.add(doseevent.New(medA.ID, "u1", now.Add(-30*time.Minute)))
	// Atorvastatin: nothing counted yet.
	store.add(doseevent.New(medB.ID, "u1", now.Add(time.Hour)))

	tracker := NewTracker(store, meds, nil)
	report, err := tracker.BuildReport(context.Background(), "u1", 7)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if len(report.Medications) != 2 {
		t.Fatalf("medications = %d", len(report.Medications))
	}

	var a, b MedicationAdherence
	for _, m := range report.Medications {
		switch m.MedicationID {
		case medA.ID:
			a = m
		case medB.ID:
			b = m
		}
	}
	if a.Taken != 3 || a.Missed != 1 || a.Pending != 1 {
		t.Errorf("metformin = %+v", a)
	}
	if !a.Counted || a.Rate != 0.75 {
		t.Errorf("metformin rate = %v counted=%v", a.Rate, a.Counted)
	}
	if b.Counted || b.Rate != 0 {
		t.Errorf("no-data medication = %+v", b)
	}
	if !report.Counted || report.Overall != 0.75 {
		t.Errorf("overall = %v counted=%v", report.Overall, report.Counted)
	}
}

func TestBuildReportNoData(t *testing.T) {
	tracker := NewTracker(newFakeEvents(), &fakeMedications{}, nil)
	report, err := tracker.BuildReport(context.Background(), "u1", 7)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if report.Counted || report.Overall != 0 {
		t.Errorf("empty report = %+v", report)
	}
}

func TestBuildReportWindowExcludesOldEvents(t *testing.T) {
	store := newFakeEvents()
	med := medication.NewRecord("u1", "Metformin")
	meds := &fakeMedications{records: []*medication.Record{med}}
	now := time.Now().UTC()

	recent := firedEvent(store, med.ID, "u1", now.Add(-time.Hour))
	store.mu.Lock()
	store.events[recent.ID].Status = doseevent.StatusTaken
	store.mu.Unlock()
	old := firedEvent(store, med.ID, "u1", now.AddDate(0, 0, -30))
	store.mu.Lock()
	store.events[old.ID].Status = doseevent.StatusMissed
	store.mu.Unlock()

	tracker := NewTracker(store, meds, nil)
	report, err := tracker.BuildReport(context.Background(), "u1", 7)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	m := report.Medications[0]
	if m.Taken != 1 || m.Missed != 0 || m.Rate != 1.0 {
		t.Errorf("window leak: %+v", m)
	}
}
