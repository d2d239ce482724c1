package extraction

import (
	"context"
	"sort"
	"sync"
	"time"
	"unicode"

	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
)

// Config holds the extraction pipeline tunables.
type Config struct {
	// MinConfidence is the name-confidence threshold T.  Mentions scoring
	// below it are diverted to the audit trail instead of being returned.
	MinConfidence float64
	MaxTextLength int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.60,
		MaxTextLength: 100000,
	}
}

// Extractor runs the three recognition strategies and merges their
// candidates into medication mentions.
type Extractor struct {
	dictionary *Dictionary
	model      Model
	config     Config
	metrics    Metrics
	logger     logging.Logger
}

// NewExtractor wires an extractor.  The dictionary is required; a nil model
// falls back to the built-in heuristic tagger.
func NewExtractor(dictionary *Dictionary, model Model, cfg Config, metrics Metrics, logger logging.Logger) (*Extractor, error) {
	if dictionary == nil {
		return nil, errors.New(errors.ErrCodeInvalidParam, "dictionary is required")
	}
	if model == nil {
		model = NewHeuristicModel()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultConfig().MinConfidence
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = DefaultConfig().MaxTextLength
	}
	return &Extractor{
		dictionary: dictionary,
		model:      model,
		config:     cfg,
		metrics:    metrics,
		logger:     logger.Named("extraction"),
	}, nil
}

// Extract runs all strategies over text and returns accepted mentions plus
// the audit entries for candidates withheld below the confidence threshold.
// Output order is first-occurrence offset; equal input yields equal output.
func (e *Extractor) Extract(ctx context.Context, text string) ([]Mention, []AuditEntry, error) {
	if text == "" {
		return []Mention{}, nil, nil
	}
	if len(text) > e.config.MaxTextLength {
		text = text[:e.config.MaxTextLength]
	}

	start := time.Now()

	// The strategies are pure readers over the same immutable text, so they
	// run concurrently and join before the merge.
	var (
		dictCands, patternCands, nerCands []Candidate
		nerErr                            error
		wg                                sync.WaitGroup
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		dictCands = e.dictionaryMatch(text)
	}()
	go func() {
		defer wg.Done()
		patternCands = e.patternMatch(text)
	}()
	go func() {
		defer wg.Done()
		nerCands, nerErr = e.model.Predict(ctx, text)
	}()
	wg.Wait()

	if nerErr != nil {
		// The ensemble degrades rather than fails; dictionary and pattern
		// candidates still stand.
		e.logger.Warn("ner prediction failed, continuing without it",
			logging.Err(nerErr))
		nerCands = nil
	}

	all := make([]Candidate, 0, len(dictCands)+len(patternCands)+len(nerCands))
	all = append(all, dictCands...)
	all = append(all, patternCands...)
	all = append(all, nerCands...)

	mentions, audits := e.merge(text, all)

	e.metrics.RecordExtraction(ctx, len(mentions), len(audits),
		float64(time.Since(start).Milliseconds()))

	return mentions, audits, nil
}

// nameSourceRank orders name candidates: the vocabulary outranks the NER
// model, which outranks pattern output.
func nameSourceRank(s Strategy) int {
	switch s {
	case StrategyDictionary:
		return 3
	case StrategyNER:
		return 2
	default:
		return 1
	}
}

// fieldSourceRank breaks confidence ties for dosage, frequency, and
// duration: the pattern grammar outranks NER, which outranks the
// dictionary.
func fieldSourceRank(s Strategy) int {
	switch s {
	case StrategyPattern:
		return 3
	case StrategyNER:
		return 2
	default:
		return 1
	}
}

// merge turns the joined candidate pool into mentions.  Names are resolved
// first; every other candidate then attaches to the nearest preceding name.
func (e *Extractor) merge(text string, candidates []Candidate) ([]Mention, []AuditEntry) {
	var names, fields []Candidate
	for _, c := range candidates {
		if c.Field == FieldName {
			names = append(names, c)
		} else {
			fields = append(fields, c)
		}
	}

	resolved := resolveNameSpans(names)
	if len(resolved) == 0 {
		return []Mention{}, nil
	}

	mentions := make([]Mention, 0, len(resolved))
	var audits []AuditEntry

	for i, name := range resolved {
		windowStart := name.Start
		windowEnd := len(text)
		if i+1 < len(resolved) {
			windowEnd = resolved[i+1].Start
		}

		m := Mention{
			Name: FieldValue{
				Value:      name.Value,
				Start:      name.Start,
				End:        name.End,
				Confidence: name.Confidence,
				Source:     name.Source,
			},
			Start:      name.Start,
			End:        name.End,
			Confidence: name.Confidence,
		}

		m.Dosage = pickField(fields, FieldDosage, windowStart, windowEnd)
		m.Frequency = pickField(fields, FieldFrequency, windowStart, windowEnd)
		m.Duration = pickField(fields, FieldDuration, windowStart, windowEnd)

		for _, fv := range []FieldValue{m.Dosage, m.Frequency, m.Duration} {
			if fv.Value != UnknownValue && fv.End > m.End {
				m.End = fv.End
			}
		}

		if m.Confidence < e.config.MinConfidence {
			audits = append(audits, AuditEntry{
				Text:       snippet(text, m.Start, m.End),
				Start:      m.Start,
				End:        m.End,
				Name:       m.Name.Value,
				Dosage:     m.Dosage.Value,
				Frequency:  m.Frequency.Value,
				Duration:   m.Duration.Value,
				Confidence: m.Confidence,
				Reason:     AuditReasonBelowThreshold,
			})
			continue
		}
		mentions = append(mentions, m)
	}

	sort.SliceStable(mentions, func(i, j int) bool {
		return mentions[i].Start < mentions[j].Start
	})
	return mentions, audits
}

// resolveNameSpans deduplicates and de-overlaps name candidates.  For any
// overlapping group exactly one survives: highest source rank, then highest
// confidence, then longest span, then smallest offset.
func resolveNameSpans(names []Candidate) []Candidate {
	if len(names) == 0 {
		return nil
	}
	sort.SliceStable(names, func(i, j int) bool {
		if names[i].Start != names[j].Start {
			return names[i].Start < names[j].Start
		}
		return names[i].End > names[j].End
	})

	var out []Candidate
	for _, c := range names {
		if len(out) == 0 {
			out = append(out, c)
			continue
		}
		last := &out[len(out)-1]
		if c.Start >= last.End {
			out = append(out, c)
			continue
		}
		if betterName(c, *last) {
			*last = c
		}
	}
	return out
}

func betterName(a, b Candidate) bool {
	if ra, rb := nameSourceRank(a.Source), nameSourceRank(b.Source); ra != rb {
		return ra > rb
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if la, lb := a.End-a.Start, b.End-b.Start; la != lb {
		return la > lb
	}
	return a.Start < b.Start
}

// pickField selects the winning candidate of one field within a window.
// Highest confidence wins; ties break on source rank, then offset.  No
// candidate at all yields UNKNOWN.
func pickField(fields []Candidate, field Field, start, end int) FieldValue {
	var best *Candidate
	for i := range fields {
		c := &fields[i]
		if c.Field != field || c.Start < start || c.Start >= end {
			continue
		}
		if best == nil || betterField(*c, *best) {
			best = c
		}
	}
	if best == nil {
		return FieldValue{Value: UnknownValue}
	}
	return FieldValue{
		Value:      best.Value,
		Start:      best.Start,
		End:        best.End,
		Confidence: best.Confidence,
		Source:     best.Source,
	}
}

func betterField(a, b Candidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if ra, rb := fieldSourceRank(a.Source), fieldSourceRank(b.Source); ra != rb {
		return ra > rb
	}
	return a.Start < b.Start
}

func snippet(text string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	if start >= end {
		return ""
	}
	return text[start:end]
}

type wordToken struct {
	text  string
	start int
}

// tokenize splits text into word tokens, keeping byte offsets.  Hyphens and
// apostrophes bind into words so "co-amoxiclav" stays whole.
func tokenize(text string) []wordToken {
	var tokens []wordToken
	inWord := false
	wordStart := 0
	for i, r := range text {
		isWordChar := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '\''
		if isWordChar {
			if !inWord {
				wordStart = i
				inWord = true
			}
		} else if inWord {
			tokens = append(tokens, wordToken{text: text[wordStart:i], start: wordStart})
			inWord = false
		}
	}
	if inWord {
		tokens = append(tokens, wordToken{text: text[wordStart:], start: wordStart})
	}
	return tokens
}
