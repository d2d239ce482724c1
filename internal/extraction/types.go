// Package extraction turns noisy OCR output from prescription images into
// structured medication mentions.  Three independent strategies (vocabulary
// lookup, pattern grammar, NER) run over the same normalised text and their
// candidates are merged per field with fixed priorities, so equal input
// always yields equal output.
package extraction

import (
	"context"

	"github.com/medimorph/medimorph/pkg/types/common"
)

// Field identifies which medication attribute a candidate span describes.
type Field string

const (
	FieldName      Field = "NAME"
	FieldDosage    Field = "DOSAGE"
	FieldFrequency Field = "FREQUENCY"
	FieldDuration  Field = "DURATION"
)

// Strategy identifies which recogniser produced a candidate.
type Strategy string

const (
	StrategyDictionary Strategy = "dictionary"
	StrategyPattern    Strategy = "pattern"
	StrategyNER        Strategy = "ner"
)

// TokenConfidence carries the OCR engine's per-token recognition confidence.
type TokenConfidence struct {
	Token      string  `json:"token"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// / RawOCRResult is the unprocessed output of the OCR port.  It is ephemeral:
// normalisation consumes it and nothing downstream sees it again.
type RawOCRResult struct {
	Text             string            `json:"text"`
	TokenConfidences []TokenConfidence `json:"token_confidences,omitempty"`
}

// Candidate is a single field value proposed by one strategy for one span.
type Candidate struct {
	Field      Field    `json:"field"`
	Value      string   `json:"value"`
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Confidence float64  `json:"confidence"`
	Source     Strategy `json:"source"`
}

// FieldValue is the winning candidate for one field after the merge.
type FieldValue struct {
	Value      string   `json:"value"`
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Confidence float64  `json:"confidence"`
	Source     Strategy `json:"source"`
}

// UnknownValue marks a field the grammar could not parse.  The mention is
// still returned; scheduling for it is deferred until the user resolves it.
const UnknownValue = "UNKNOWN"

// Mention is one structured medication found in the text.  Start/End span
// the name occurrence; attached fields may extend past it.
type Mention struct {
	Name      FieldValue `json:"name"`
	Dosage    FieldValue `json:"dosage"`
	Frequency FieldValue `json:"frequency"`
	Duration  FieldValue `json:"duration"`

	Start int `json:"start"`
	End   int `json:"end"`

	// Confidence is the name confidence; the name anchors the mention and
	// gates it against the audit threshold.
	Confidence float64 `json:"confidence"`
}

// FrequencyTag returns the canonical tag for the mention's frequency field.
func (m *Mention) FrequencyTag() common.FrequencyTag {
	if m.Frequency.Value == "" || m.Frequency.Value == UnknownValue {
		return common.FreqUnknown
	}
	return common.FrequencyTag(m.Frequency.Value)
}

// DurationDays returns the parsed duration in days, or 0 when the duration
// is unknown or indefinite.
func (m *Mention) DurationDays() int {
	if m.Duration.Value == "" || m.Duration.Value == UnknownValue {
		return 0
	}
	n := 0
	for _, c := range m.Duration.Value {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// AuditReasonBelowThreshold tags mentions dropped for low name confidence.
const AuditReasonBelowThreshold = "below_confidence_threshold"

// AuditEntry records a candidate mention that was withheld from the result.
// Audit entries are persisted so users can review what the pipeline saw but
// did not trust.
type AuditEntry struct {
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Name       string  `json:"name"`
	Dosage     string  `json:"dosage,omitempty"`
	Frequency  string  `json:"frequency,omitempty"`
	Duration   string  `json:"duration,omitempty"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Metrics records extraction telemetry.  A nil-safe noop implementation is
// substituted when no collector is wired.
type Metrics interface {
	RecordExtraction(ctx context.Context, mentions, audited int, durationMs float64)
}

type noopMetrics struct{}

func (noopMetrics) RecordExtraction(context.Context, int, int, float64) {}
