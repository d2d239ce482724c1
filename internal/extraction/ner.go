package extraction

import (
	"context"
	"strings"
	"unicode"
)

// Model is the NER port.  A model tags token spans with medication fields;
// the built-in heuristic model serves when no trained model is deployed.
type Model interface {
	Predict(ctx context.Context, text string) ([]Candidate, error)
}

// HeuristicModel is a deterministic rule-based tagger.  It recognises drug
// names by capitalisation and pharmaceutical suffix, and the remaining
// fields by local keyword cues.  Same text in, same candidates out.
type HeuristicModel struct{}

// NewHeuristicModel returns the built-in NER fallback.
func NewHeuristicModel() *HeuristicModel { return &HeuristicModel{} }

// drugSuffixes are word endings characteristic of pharmaceutical naming
// conventions (INN stems).
var drugSuffixes = []string{
	"cillin", "mycin", "micin", "cycline", "floxacin", "azole",
	"statin", "sartan", "pril", "olol", "dipine", "prazole",
	"tidine", "setron", "triptan", "mab", "nib", "gliptin", "formin",
	"zepam", "zolam", "barbital", "caine", "dryl", "phylline",
	"cetamol", "profen", "fenac", "codone", "morphone",
}

// nerStopwords are capitalised words that start prescription lines but are
// never drug names.
var nerStopwords = map[string]bool{
	"take": true, "tablet": true, "tablets": true, "capsule": true,
	"capsules": true, "syrup": true, "apply": true, "use": true,
	"daily": true, "morning": true, "night": true, "evening": true,
	"before": true, "after": true, "with": true, "food": true,
	"water": true, "dose": true, "doses": true, "days": true,
	"weeks": true, "patient": true, "doctor": true, "hospital": true,
	"clinic": true, "pharmacy": true, "prescription": true,
	"every": true, "times": true, "once": true, "twice": true,
}

func (m *HeuristicModel) Predict(_ context.Context, text string) ([]Candidate, error) {
	var out []Candidate
	for _, tok := range tokenize(text) {
		lower := strings.ToLower(tok.text)
		if nerStopwords[lower] || len([]rune(lower)) < 4 {
			continue
		}
		conf, ok := m.scoreDrugToken(tok.text, lower)
		if !ok {
			continue
		}
		out = append(out, Candidate{
			Field:      FieldName,
			Value:      titleCase(tok.text),
			Start:      tok.start,
			End:        tok.start + len(tok.text),
			Confidence: conf,
			Source:     StrategyNER,
		})
	}
	return out, nil
}

// scoreDrugToken rates how drug-like a token is.  A pharmaceutical suffix
// is the strong signal; leading capitalisation alone is weak.
func (m *HeuristicModel) scoreDrugToken(raw, lower string) (float64, bool) {
	if !isWordAlpha(lower) {
		return 0, false
	}
	suffixed := false
	for _, suf := range drugSuffixes {
		if strings.HasSuffix(lower, suf) && len(lower) > len(suf) {
			suffixed = true
			break
		}
	}
	capitalised := unicode.IsUpper([]rune(raw)[0])

	switch {
	case suffixed && capitalised:
		return 0.85, true
	case suffixed:
		return 0.75, true
	case capitalised && len([]rune(lower)) >= 6:
		return 0.55, true
	}
	return 0, false
}

func isWordAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}

func titleCase(s string) string {
	runes := []rune(strings.ToLower(s))
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
