package medication

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/medimorph/medimorph/internal/domain/doseevent"
	"github.com/medimorph/medimorph/pkg/errors"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// =========================================================================
// In-memory fakes
// =========================================================================

type fakeRepo struct {
	mu      sync.Mutex
	records map[common.ID]*Record
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[common.ID]*Record)}
}

func (f *fakeRepo) Create(_ context.Context, rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.records[rec.ID] = &cp
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, id common.ID) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeMedicationNotFound, "medication not found")
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRepo) GetActiveByName(_ context.Context, userID common.UserID, name string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.UserID == userID && rec.Name == name && rec.Status == StatusActive {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, errors.New(errors.ErrCodeMedicationNotFound, "medication not found")
}

func (f *fakeRepo) ListByUser(_ context.Context, userID common.UserID, includeArchived bool, _ common.Pagination) ([]*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Record
	for _, rec := range f.records {
		if rec.UserID != userID {
			continue
		}
		if !includeArchived && rec.Status != StatusActive {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeRepo) Update(_ context.Context, rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[rec.ID]; !ok {
		return errors.New(errors.ErrCodeMedicationNotFound, "medication not found")
	}
	cp := *rec
	f.records[rec.ID] = &cp
	return nil
}

func (f *fakeRepo) Delete(_ context.Context, id common.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events map[common.ID]*doseevent.DoseEvent
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: make(map[common.ID]*doseevent.DoseEvent)}
}

func (f *fakeEventRepo) CreateBatch(_ context.Context, events []*doseevent.DoseEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range events {
		cp := *e
		f.events[e.ID] = &cp
	}
	return nil
}

func (f *fakeEventRepo) GetByID(_ context.Context, id common.ID) (*doseevent.DoseEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeEventNotFound, "event not found")
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEventRepo) UpdateStatusIf(_ context.Context, id common.ID, expected, next doseevent.Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return false, errors.New(errors.ErrCodeEventNotFound, "event not found")
	}
	if e.Status != expected {
		return false, nil
	}
	e.Status = next
	return true, nil
}

func (f *fakeEventRepo) MarkDeliveryDegraded(_ context.Context, id common.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.events[id]; ok {
		e.DeliveryDegraded = true
	}
	return nil
}

func (f *fakeEventRepo) ListDuePending(_ context.Context, _ []int, before time.Time, _ int) ([]*doseevent.DoseEvent, error) {
	return nil, nil
}

func (f *fakeEventRepo) ListExpiredFired(_ context.Context, _ []int, _ time.Time, _ int) ([]*doseevent.DoseEvent, error) {
	return nil, nil
}

func (f *fakeEventRepo) ListPending(_ context.Context, _ []int) ([]*doseevent.DoseEvent, error) {
	return nil, nil
}

func (f *fakeEventRepo) ListUpcoming(_ context.Context, _ common.UserID, _, _ time.Time) ([]*doseevent.DoseEvent, error) {
	return nil, nil
}

func (f *fakeEventRepo) ListByMedication(_ context.Context, _ common.ID, _, _ time.Time, _ common.Pagination) ([]*doseevent.DoseEvent, error) {
	return nil, nil
}

func (f *fakeEventRepo) CancelPending(_ context.Context, medicationID common.ID) ([]common.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cancelled []common.ID
	for _, e := range f.events {
		if e.MedicationID == medicationID && e.Status == doseevent.StatusPending {
			e.Status = doseevent.StatusCancelled
			cancelled = append(cancelled, e.ID)
		}
	}
	return cancelled, nil
}

func (f *fakeEventRepo) CountByStatus(_ context.Context, medicationID common.ID, _, _ time.Time) (doseevent.StatusCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(doseevent.StatusCounts)
	for _, e := range f.events {
		if e.MedicationID == medicationID {
			counts[e.Status]++
		}
	}
	return counts, nil
}

func (f *fakeEventRepo) byStatus(medicationID common.ID, status doseevent.Status) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.MedicationID == medicationID && e.Status == status {
			n++
		}
	}
	return n
}

type fakeCompiler struct {
	compileFn func(rec *Record, ref time.Time) ([]time.Time, error)
	calls     int
}

func (f *fakeCompiler) Compile(rec *Record, ref time.Time) ([]time.Time, error) {
	f.calls++
	if f.compileFn != nil {
		return f.compileFn(rec, ref)
	}
	// Default: one dose a day for five days.
	var out []time.Time
	for i := 0; i < 5; i++ {
		out = append(out, ref.Add(time.Duration(i+1)*24*time.Hour))
	}
	return out, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	cancelled []common.ID
}

func (n *recordingNotifier) EventsCancelled(_ common.ID, ids []common.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, ids...)
}

func newTestService(t *testing.T, compiler *fakeCompiler) (*Service, *fakeRepo, *fakeEventRepo, *recordingNotifier) {
	t.Helper()
	repo := newFakeRepo()
	events := newFakeEventRepo()
	notifier := &recordingNotifier{}
	if compiler == nil {
		compiler = &fakeCompiler{}
	}
	svc, err := NewService(repo, events, compiler, notifier, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, repo, events, notifier
}

// =========================================================================
// Create
// =========================================================================

func TestCreateSchedulesEvents(t *testing.T) {
	svc, _, events, _ := newTestService(t, nil)

	rec, err := svc.Create(context.Background(), "user-1", CreateParams{
		Name:         "Paracetamol",
		Dosage:       "500mg",
		Frequency:    common.FreqTwiceDaily,
		DurationDays: 5,
		Source:       SourceOCR,
		Confidence:   0.92,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ScheduleState != ScheduleScheduled {
		t.Errorf("schedule state = %s", rec.ScheduleState)
	}
	if got := events.byStatus(rec.ID, doseevent.StatusPending); got != 5 {
		t.Errorf("pending events = %d, want 5", got)
	}
}

func TestCreateDeferredOnUnresolvableSchedule(t *testing.T) {
	compiler := &fakeCompiler{
		compileFn: func(*Record, time.Time) ([]time.Time, error) {
			return nil, errors.New(errors.ErrCodeScheduleUnresolvable, "unknown frequency")
		},
	}
	svc, repo, events, _ := newTestService(t, compiler)

	rec, err := svc.Create(context.Background(), "user-1", CreateParams{Name: "Mystery"})
	if err != nil {
		t.Fatalf("unresolvable schedule must not fail creation: %v", err)
	}

	stored, err := repo.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ScheduleState != ScheduleDeferred {
		t.Errorf("schedule state = %s, want deferred", stored.ScheduleState)
	}
	if got := events.byStatus(rec.ID, doseevent.StatusPending); got != 0 {
		t.Errorf("deferred record has %d events", got)
	}
}

func TestCreateAsNeededUnscheduled(t *testing.T) {
	compiler := &fakeCompiler{
		compileFn: func(*Record, time.Time) ([]time.Time, error) { return nil, nil },
	}
	svc, _, events, _ := newTestService(t, compiler)

	rec, err := svc.Create(context.Background(), "user-1", CreateParams{
		Name:      "Ibuprofen",
		Frequency: common.FreqAsNeeded,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ScheduleState != ScheduleUnscheduled {
		t.Errorf("schedule state = %s, want unscheduled", rec.ScheduleState)
	}
	if got := events.byStatus(rec.ID, doseevent.StatusPending); got != 0 {
		t.Errorf("as-needed record has %d events", got)
	}
}

func TestCreateDuplicateActiveName(t *testing.T) {
	svc, _, _, _ := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "user-1", CreateParams{Name: "Metformin", Frequency: common.FreqOnceDaily}); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Create(ctx, "user-1", CreateParams{Name: "Metformin", Frequency: common.FreqOnceDaily})
	if !errors.IsCode(err, errors.ErrCodeMedicationExists) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	// The same name for a different user is fine.
	if _, err := svc.Create(ctx, "user-2", CreateParams{Name: "Metformin", Frequency: common.FreqOnceDaily}); err != nil {
		t.Errorf("other user blocked: %v", err)
	}
}

// =========================================================================
// Get / ownership
// =========================================================================

func TestGetEnforcesOwnership(t *testing.T) {
	svc, _, _, _ := newTestService(t, nil)
	ctx := context.Background()

	rec, err := svc.Create(ctx, "user-1", CreateParams{Name: "Aspirin", Frequency: common.FreqOnceDaily})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, "user-2", rec.ID); !errors.IsNotFound(err) {
		t.Fatalf("foreign record must read as not found, got %v", err)
	}
}

// =========================================================================
// Update / Archive / Delete
// =========================================================================

func TestUpdateCancelsPendingAndRegenerates(t *testing.T) {
	svc, _, events, notifier := newTestService(t, nil)
	ctx := context.Background()

	rec, err := svc.Create(ctx, "user-1", CreateParams{
		Name: "Amoxicillin", Frequency: common.FreqThreeTimesDaily, DurationDays: 5,
	})
	if err != nil {
		t.Fatal(err)
	}

	// One event has already fired; edits must not touch it.
	var firedID common.ID
	events.mu.Lock()
	for id, e := range events.events {
		e.Status = doseevent.StatusFired
		firedID = id
		break
	}
	events.mu.Unlock()

	newFreq := common.FreqTwiceDaily
	if _, err := svc.Update(ctx, "user-1", rec.ID, UpdateParams{Frequency: &newFreq}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if got := events.byStatus(rec.ID, doseevent.StatusCancelled); got != 4 {
		t.Errorf("cancelled = %d, want the 4 previously pending", got)
	}
	if got := events.byStatus(rec.ID, doseevent.StatusFired); got != 1 {
		t.Errorf("fired = %d, want 1 untouched", got)
	}
	if got := events.byStatus(rec.ID, doseevent.StatusPending); got != 5 {
		t.Errorf("regenerated pending = %d, want 5", got)
	}
	if len(notifier.cancelled) != 4 {
		t.Errorf("notifier saw %d cancellations", len(notifier.cancelled))
	}
	for _, id := range notifier.cancelled {
		if id == firedID {
			t.Error("fired event reported as cancelled")
		}
	}
}

func TestArchiveStopsReminders(t *testing.T) {
	svc, repo, events, _ := newTestService(t, nil)
	ctx := context.Background()

	rec, err := svc.Create(ctx, "user-1", CreateParams{Name: "Losartan", Frequency: common.FreqOnceDaily})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Archive(ctx, "user-1", rec.ID); err != nil {
		t.Fatal(err)
	}

	stored, _ := repo.GetByID(ctx, rec.ID)
	if stored.Status != StatusArchived {
		t.Errorf("status = %s", stored.Status)
	}
	if got := events.byStatus(rec.ID, doseevent.StatusPending); got != 0 {
		t.Errorf("archived record still has %d pending events", got)
	}

	// Archiving twice is a no-op.
	if err := svc.Archive(ctx, "user-1", rec.ID); err != nil {
		t.Errorf("second archive: %v", err)
	}

	if _, err := svc.Update(ctx, "user-1", rec.ID, UpdateParams{}); !errors.IsConflict(err) {
		t.Errorf("editing an archived record must conflict, got %v", err)
	}
}

func TestDeleteCancelsThenRemoves(t *testing.T) {
	svc, repo, events, _ := newTestService(t, nil)
	ctx := context.Background()

	rec, err := svc.Create(ctx, "user-1", CreateParams{Name: "Warfarin", Frequency: common.FreqOnceDaily})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, "user-1", rec.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetByID(ctx, rec.ID); !errors.IsNotFound(err) {
		t.Error("record still present after delete")
	}
	if got := events.byStatus(rec.ID, doseevent.StatusCancelled); got != 5 {
		t.Errorf("cancelled = %d, want 5", got)
	}
}
