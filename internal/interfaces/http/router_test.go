package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/medimorph/medimorph/internal/compliance"
	"github.com/medimorph/medimorph/internal/domain/doseevent"
	"github.com/medimorph/medimorph/internal/domain/medication"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/internal/interfaces/http/handlers"
	"github.com/medimorph/medimorph/internal/interfaces/http/middleware"
	apperrors "github.com/medimorph/medimorph/pkg/errors"
	"github.com/medimorph/medimorph/pkg/types/common"
)

// ============================================================================
// In-memory fakes
// ============================================================================

type fakeMedRepo struct {
	records map[common.ID]*medication.Record
}

func newFakeMedRepo() *fakeMedRepo {
	return &fakeMedRepo{records: make(map[common.ID]*medication.Record)}
}

func (f *fakeMedRepo) Create(_ context.Context, rec *medication.Record) error {
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeMedRepo) GetByID(_ context.Context, id common.ID) (*medication.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeMedicationNotFound, "medication not found")
	}
	return rec, nil
}

func (f *fakeMedRepo) GetActiveByName(_ context.Context, userID common.UserID, name string) (*medication.Record, error) {
	for _, rec := range f.records {
		if rec.UserID == userID && rec.Name == name && rec.Status == medication.StatusActive {
			return rec, nil
		}
	}
	return nil, apperrors.New(apperrors.ErrCodeMedicationNotFound, "medication not found")
}

func (f *fakeMedRepo) ListByUser(_ context.Context, userID common.UserID, includeArchived bool, _ common.Pagination) ([]*medication.Record, error) {
	var out []*medication.Record
	for _, rec := range f.records {
		if rec.UserID != userID {
			continue
		}
		if !includeArchived && rec.Status == medication.StatusArchived {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeMedRepo) Update(_ context.Context, rec *medication.Record) error {
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeMedRepo) Delete(_ context.Context, id common.ID) error {
	delete(f.records, id)
	return nil
}

type fakeEventRepo struct {
	doseevent.Repository
	events map[common.ID]*doseevent.DoseEvent
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: make(map[common.ID]*doseevent.DoseEvent)}
}

func (f *fakeEventRepo) CreateBatch(_ context.Context, events []*doseevent.DoseEvent) error {
	for _, e := range events {
		f.events[e.ID] = e
	}
	return nil
}

func (f *fakeEventRepo) GetByID(_ context.Context, id common.ID) (*doseevent.DoseEvent, error) {
	e, ok := f.events[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeEventNotFound, "dose event not found")
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEventRepo) UpdateStatusIf(_ context.Context, id common.ID, expected, next doseevent.Status) (bool, error) {
	e, ok := f.events[id]
	if !ok || e.Status != expected {
		return false, nil
	}
	e.Status = next
	now := time.Now().UTC()
	switch next {
	case doseevent.StatusFired:
		e.FiredAt = &now
	case doseevent.StatusTaken, doseevent.StatusMissed:
		e.ActedAt = &now
	}
	return true, nil
}

func (f *fakeEventRepo) ListUpcoming(_ context.Context, userID common.UserID, from, to time.Time) ([]*doseevent.DoseEvent, error) {
	var out []*doseevent.DoseEvent
	for _, e := range f.events {
		if e.UserID != userID {
			continue
		}
		if e.Status != doseevent.StatusPending && e.Status != doseevent.StatusFired {
			continue
		}
		if e.ScheduledAt.Before(from) || !e.ScheduledAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeEventRepo) ListByUser(_ context.Context, userID common.UserID, _ bool, _ common.Pagination) ([]*doseevent.DoseEvent, error) {
	var out []*doseevent.DoseEvent
	for _, e := range f.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEventRepo) CancelPending(_ context.Context, medicationID common.ID) ([]common.ID, error) {
	var ids []common.ID
	for _, e := range f.events {
		if e.MedicationID == medicationID && e.Status == doseevent.StatusPending {
			e.Status = doseevent.StatusCancelled
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}

func (f *fakeEventRepo) CountByStatus(_ context.Context, medicationID common.ID, _, _ time.Time) (doseevent.StatusCounts, error) {
	counts := make(doseevent.StatusCounts)
	for _, e := range f.events {
		if e.MedicationID == medicationID {
			counts[e.Status]++
		}
	}
	return counts, nil
}

type fixedCompiler struct{}

func (fixedCompiler) Compile(_ *medication.Record, ref time.Time) ([]time.Time, error) {
	base := ref.Add(time.Hour).Truncate(time.Minute)
	return []time.Time{base, base.Add(12 * time.Hour)}, nil
}

// ============================================================================
// RouterTestSuite
// ============================================================================

type RouterTestSuite struct {
	suite.Suite
	meds    *fakeMedRepo
	events  *fakeEventRepo
	handler http.Handler
}

func (s *RouterTestSuite) SetupTest() {
	s.meds = newFakeMedRepo()
	s.events = newFakeEventRepo()

	logger := logging.NewNopLogger()
	medService, err := medication.NewService(s.meds, s.events, fixedCompiler{}, nil, logger)
	s.Require().NoError(err)
	tracker := compliance.NewTracker(s.events, s.meds, logger)

	s.handler = NewRouter(RouterConfig{
		MedicationHandler: handlers.NewMedicationHandler(medService, logger),
		ReminderHandler:   handlers.NewReminderHandler(s.events, tracker, logger),
		ComplianceHandler: handlers.NewComplianceHandler(tracker, nil, logger),
		HealthHandler:     handlers.NewHealthHandler(nil, logger),
		AuthMiddleware:    middleware.NewAuthMiddleware(middleware.AuthConfig{}, logger),
		Logger:            logger,
	})
}

func (s *RouterTestSuite) do(method, path, user string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(middleware.IdentityHeader, user)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *RouterTestSuite) TestHealthEndpointsArePublic() {
	rec := s.do(http.MethodGet, "/healthz", "", nil)
	s.Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/readyz", "", nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *RouterTestSuite) TestAPIRequiresIdentity() {
	rec := s.do(http.MethodGet, "/api/v1/medications", "", nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *RouterTestSuite) TestMedicationLifecycle() {
	rec := s.do(http.MethodPost, "/api/v1/medications", "alice", map[string]interface{}{
		"name":          "Amoxicillin",
		"dosage":        "500mg",
		"frequency":     "twice_daily",
		"duration_days": 7,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var created medication.Record
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &created))
	s.Equal("Amoxicillin", created.Name)
	s.Equal(medication.ScheduleScheduled, created.ScheduleState)
	s.Len(s.events.events, 2)

	// List shows it.
	rec = s.do(http.MethodGet, "/api/v1/medications", "alice", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "Amoxicillin")

	// Another user cannot see it.
	rec = s.do(http.MethodGet, "/api/v1/medications/"+string(created.ID), "bob", nil)
	s.Equal(http.StatusNotFound, rec.Code)

	// Archive cancels the pending doses.
	rec = s.do(http.MethodPost, "/api/v1/medications/"+string(created.ID)+"/archive", "alice", nil)
	s.Require().Equal(http.StatusNoContent, rec.Code)
	for _, e := range s.events.events {
		s.Equal(doseevent.StatusCancelled, e.Status)
	}
}

func (s *RouterTestSuite) TestCreateMedicationDuplicateName() {
	body := map[string]interface{}{"name": "Metformin", "frequency": "once_daily"}
	rec := s.do(http.MethodPost, "/api/v1/medications", "alice", body)
	s.Require().Equal(http.StatusCreated, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/medications", "alice", body)
	s.Equal(http.StatusConflict, rec.Code)
	s.Contains(rec.Body.String(), "DOSE_004")
}

func (s *RouterTestSuite) TestUpcomingRemindersAndAction() {
	med := medication.NewRecord("alice", "Lisinopril")
	s.Require().NoError(s.meds.Create(context.Background(), med))

	due := doseevent.New(med.ID, "alice", time.Now().UTC().Add(2*time.Hour))
	due.Status = doseevent.StatusFired
	now := time.Now().UTC()
	due.FiredAt = &now
	s.Require().NoError(s.events.CreateBatch(context.Background(), []*doseevent.DoseEvent{due}))

	rec := s.do(http.MethodGet, "/api/v1/reminders?hours=6", "alice", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), string(due.ID))

	// Take the dose.
	rec = s.do(http.MethodPost, "/api/v1/events/"+string(due.ID)+"/action", "alice", map[string]string{"action": "taken"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Equal(doseevent.StatusTaken, s.events.events[due.ID].Status)

	// Repeating the action is idempotent.
	rec = s.do(http.MethodPost, "/api/v1/events/"+string(due.ID)+"/action", "alice", map[string]string{"action": "taken"})
	s.Equal(http.StatusOK, rec.Code)

	// Acting on a pending dose is an invalid transition.
	pending := doseevent.New(med.ID, "alice", time.Now().UTC().Add(4*time.Hour))
	s.Require().NoError(s.events.CreateBatch(context.Background(), []*doseevent.DoseEvent{pending}))
	rec = s.do(http.MethodPost, "/api/v1/events/"+string(pending.ID)+"/action", "alice", map[string]string{"action": "taken"})
	s.Equal(http.StatusConflict, rec.Code)
	s.Contains(rec.Body.String(), "DOSE_001")
}

func (s *RouterTestSuite) TestActionOwnershipEnforced() {
	med := medication.NewRecord("alice", "Lisinopril")
	s.Require().NoError(s.meds.Create(context.Background(), med))
	fired := doseevent.New(med.ID, "alice", time.Now().UTC())
	fired.Status = doseevent.StatusFired
	s.Require().NoError(s.events.CreateBatch(context.Background(), []*doseevent.DoseEvent{fired}))

	rec := s.do(http.MethodPost, "/api/v1/events/"+string(fired.ID)+"/action", "mallory", map[string]string{"action": "taken"})
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *RouterTestSuite) TestComplianceReport() {
	med := medication.NewRecord("alice", "Metformin")
	s.Require().NoError(s.meds.Create(context.Background(), med))

	taken := doseevent.New(med.ID, "alice", time.Now().UTC().Add(-time.Hour))
	taken.Status = doseevent.StatusTaken
	missed := doseevent.New(med.ID, "alice", time.Now().UTC().Add(-2*time.Hour))
	missed.Status = doseevent.StatusMissed
	s.Require().NoError(s.events.CreateBatch(context.Background(), []*doseevent.DoseEvent{taken, missed}))

	rec := s.do(http.MethodGet, "/api/v1/compliance/report?days=7", "alice", nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var report compliance.Report
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &report))
	s.Require().Len(report.Medications, 1)
	s.Equal(1, report.Medications[0].Taken)
	s.Equal(1, report.Medications[0].Missed)
	s.InDelta(0.5, report.Medications[0].Rate, 1e-9)
}

func (s *RouterTestSuite) TestMalformedBodyRejected() {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/medications", bytes.NewBufferString("{not json"))
	req.Header.Set(middleware.IdentityHeader, "alice")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Contains(rec.Body.String(), "COMMON_011")
}

func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}
