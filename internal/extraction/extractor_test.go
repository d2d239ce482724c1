package extraction

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/medimorph/medimorph/pkg/types/common"
)

// =========================================================================
// Mocks
// =========================================================================

type mockModel struct {
	predictFn func(ctx context.Context, text string) ([]Candidate, error)
	callCount int
}

func (m *mockModel) Predict(ctx context.Context, text string) ([]Candidate, error) {
	m.callCount++
	if m.predictFn != nil {
		return m.predictFn(ctx, text)
	}
	return nil, nil
}

type recordingMetrics struct {
	mentions int
	audited  int
	calls    int
}

func (m *recordingMetrics) RecordExtraction(_ context.Context, mentions, audited int, _ float64) {
	m.mentions = mentions
	m.audited = audited
	m.calls++
}

func newTestExtractor(t *testing.T, model Model) *Extractor {
	t.Helper()
	d, err := NewDictionary(DefaultVocabulary())
	if err != nil {
		t.Fatalf("NewDictionary: %v", err)
	}
	e, err := NewExtractor(d, model, DefaultConfig(), nil, nil)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	return e
}

// =========================================================================
// Extract
// =========================================================================

func TestExtractEmptyInput(t *testing.T) {
	e := newTestExtractor(t, nil)
	mentions, audits, err := e.Extract(context.Background(), "")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(mentions) != 0 || len(audits) != 0 {
		t.Errorf("empty input produced mentions=%d audits=%d", len(mentions), len(audits))
	}
}

func TestExtractPrescriptionLine(t *testing.T) {
	e := newTestExtractor(t, nil)

	mentions, audits, err := e.Extract(context.Background(),
		"Paracetamol 500mg 1-1-1 for 5 days")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(audits) != 0 {
		t.Errorf("unexpected audit entries: %+v", audits)
	}
	if len(mentions) != 1 {
		t.Fatalf("mentions = %d, want 1", len(mentions))
	}

	m := mentions[0]
	if m.Name.Value != "Paracetamol" {
		t.Errorf("name = %q", m.Name.Value)
	}
	if m.Name.Source != StrategyDictionary {
		t.Errorf("name source = %q, want dictionary", m.Name.Source)
	}
	if m.Dosage.Value != "500mg" {
		t.Errorf("dosage = %q", m.Dosage.Value)
	}
	if m.FrequencyTag() != common.FreqThreeTimesDaily {
		t.Errorf("frequency = %q", m.Frequency.Value)
	}
	if m.DurationDays() != 5 {
		t.Errorf("duration days = %d", m.DurationDays())
	}
}

func TestExtractOCRNoise(t *testing.T) {
	// The raw line passes through Normalize before extraction, mirroring
	// the upload pipeline.
	e := newTestExtractor(t, nil)
	text := Normalize(RawOCRResult{Text: "Paracetam0l  5O0mg\n1-1-1 for 5 days"})

	mentions, _, err := e.Extract(context.Background(), text)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(mentions) != 1 {
		t.Fatalf("mentions = %d, want 1", len(mentions))
	}
	m := mentions[0]
	if m.Name.Value != "Paracetamol" {
		t.Errorf("name = %q", m.Name.Value)
	}
	if m.Dosage.Value != "500mg" {
		t.Errorf("dosage = %q", m.Dosage.Value)
	}
}

func TestExtractMultipleMedications(t *testing.T) {
	e := newTestExtractor(t, nil)
	mentions, _, err := e.Extract(context.Background(),
		"Amoxicillin 250mg three times daily for 7 days Ibuprofen 400mg twice daily")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(mentions) != 2 {
		t.Fatalf("mentions = %d, want 2", len(mentions))
	}
	if mentions[0].Name.Value != "Amoxicillin" || mentions[1].Name.Value != "Ibuprofen" {
		t.Errorf("order wrong: %q, %q", mentions[0].Name.Value, mentions[1].Name.Value)
	}
	if mentions[0].FrequencyTag() != common.FreqThreeTimesDaily {
		t.Errorf("first frequency = %q", mentions[0].Frequency.Value)
	}
	if mentions[1].FrequencyTag() != common.FreqTwiceDaily {
		t.Errorf("second frequency = %q", mentions[1].Frequency.Value)
	}
	if mentions[1].DurationDays() != 0 {
		t.Errorf("second duration must be unknown, got %d", mentions[1].DurationDays())
	}
}

func TestExtractUnknownFrequencyKept(t *testing.T) {
	e := newTestExtractor(t, nil)
	mentions, _, err := e.Extract(context.Background(), "Metformin 500mg")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(mentions) != 1 {
		t.Fatalf("mentions = %d, want 1", len(mentions))
	}
	m := mentions[0]
	if m.Frequency.Value != UnknownValue {
		t.Errorf("frequency = %q, want UNKNOWN", m.Frequency.Value)
	}
	if m.Duration.Value != UnknownValue {
		t.Errorf("duration = %q, want UNKNOWN", m.Duration.Value)
	}
	if m.FrequencyTag() != common.FreqUnknown {
		t.Errorf("tag = %q", m.FrequencyTag())
	}
}

func TestExtractBelowThresholdGoesToAudit(t *testing.T) {
	model := &mockModel{
		predictFn: func(_ context.Context, _ string) ([]Candidate, error) {
			return []Candidate{{
				Field:      FieldName,
				Value:      "Obscuradol",
				Start:      0,
				End:        10,
				Confidence: 0.40,
				Source:     StrategyNER,
			}}, nil
		},
	}
	e := newTestExtractor(t, model)

	mentions, audits, err := e.Extract(context.Background(), "Obscuradol 10mg")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(mentions) != 0 {
		t.Fatalf("low-confidence mention leaked into results: %+v", mentions)
	}
	if len(audits) != 1 {
		t.Fatalf("audits = %d, want 1", len(audits))
	}
	a := audits[0]
	if a.Reason != AuditReasonBelowThreshold {
		t.Errorf("reason = %q", a.Reason)
	}
	if a.Name != "Obscuradol" || a.Confidence != 0.40 {
		t.Errorf("audit entry = %+v", a)
	}
	if a.Dosage != "10mg" {
		t.Errorf("audit dosage = %q", a.Dosage)
	}
}

func TestExtractDictionaryOutranksNERName(t *testing.T) {
	// NER proposes a different reading of the same span with higher
	// confidence; the vocabulary still wins on source priority.
	model := &mockModel{
		predictFn: func(_ context.Context, _ string) ([]Candidate, error) {
			return []Candidate{{
				Field:      FieldName,
				Value:      "Paracetamax",
				Start:      0,
				End:        11,
				Confidence: 0.99,
				Source:     StrategyNER,
			}}, nil
		},
	}
	e := newTestExtractor(t, model)

	mentions, _, err := e.Extract(context.Background(), "Paracetamol 500mg once daily")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(mentions) != 1 {
		t.Fatalf("mentions = %d, want 1", len(mentions))
	}
	if mentions[0].Name.Value != "Paracetamol" || mentions[0].Name.Source != StrategyDictionary {
		t.Errorf("name = %+v", mentions[0].Name)
	}
}

func TestExtractNERFailureDegrades(t *testing.T) {
	model := &mockModel{
		predictFn: func(_ context.Context, _ string) ([]Candidate, error) {
			return nil, fmt.Errorf("model unavailable")
		},
	}
	e := newTestExtractor(t, model)

	mentions, _, err := e.Extract(context.Background(), "Paracetamol 500mg once daily")
	if err != nil {
		t.Fatalf("Extract must not fail when NER does: %v", err)
	}
	if len(mentions) != 1 {
		t.Fatalf("mentions = %d, want 1", len(mentions))
	}
	if model.callCount != 1 {
		t.Errorf("model called %d times", model.callCount)
	}
}

func TestExtractDeterministic(t *testing.T) {
	e := newTestExtractor(t, nil)
	text := "Amoxicillin 500mg TDS for 7 days Paracetamol 650mg 1-0-1 PRN"

	first, firstAudits, err := e.Extract(context.Background(), text)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		again, againAudits, err := e.Extract(context.Background(), text)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) || !reflect.DeepEqual(firstAudits, againAudits) {
			t.Fatalf("run %d diverged:\nfirst: %+v\nagain: %+v", i, first, again)
		}
	}
}

func TestHeuristicModelTagsSuffixNames(t *testing.T) {
	m := NewHeuristicModel()
	cands, err := m.Predict(context.Background(), "take Unknowncillin at night")
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("candidates = %d, want 1", len(cands))
	}
	if cands[0].Value != "Unknowncillin" || cands[0].Field != FieldName {
		t.Errorf("candidate = %+v", cands[0])
	}
	if cands[0].Confidence < 0.8 {
		t.Errorf("suffixed capitalised name scored %v", cands[0].Confidence)
	}
}

func TestMetricsRecorded(t *testing.T) {
	d, err := NewDictionary(DefaultVocabulary())
	if err != nil {
		t.Fatal(err)
	}
	metrics := &recordingMetrics{}
	e, err := NewExtractor(d, nil, DefaultConfig(), metrics, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.Extract(context.Background(), "Paracetamol 500mg once daily"); err != nil {
		t.Fatal(err)
	}
	if metrics.calls != 1 || metrics.mentions != 1 {
		t.Errorf("metrics = %+v", metrics)
	}
}
