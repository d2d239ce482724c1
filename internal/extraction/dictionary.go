package extraction

import (
	"bufio"
	"os"
	"sort"
	"strings"

	"github.com/medimorph/medimorph/pkg/errors"
)

// Dictionary matches tokens against a known medication vocabulary.  Matching
// is fuzzy: a bounded edit distance where substitutions between OCR
// confusion pairs cost half a regular edit, so "Paracetam0l" still resolves
// to "Paracetamol" with high confidence.
type Dictionary struct {
	// entries maps lowercase canonical name to its display form.
	entries map[string]string
	// byLength buckets lowercase names by rune length for candidate pruning.
	byLength map[int][]string
	maxLen   int
}

// maxEditDistance bounds the fuzzy search.  Anything further from every
// vocabulary entry than this is not a dictionary match.
const maxEditDistance = 2.0

// NewDictionary builds a dictionary from canonical medication names.
func NewDictionary(names []string) (*Dictionary, error) {
	if len(names) == 0 {
		return nil, errors.New(errors.ErrCodeExtractionEmptyVocabulary,
			"medication vocabulary is empty")
	}

	d := &Dictionary{
		entries:  make(map[string]string, len(names)),
		byLength: make(map[int][]string),
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		lower := strings.ToLower(name)
		if _, dup := d.entries[lower]; dup {
			continue
		}
		d.entries[lower] = name
		n := len([]rune(lower))
		d.byLength[n] = append(d.byLength[n], lower)
		if n > d.maxLen {
			d.maxLen = n
		}
	}
	if len(d.entries) == 0 {
		return nil, errors.New(errors.ErrCodeExtractionEmptyVocabulary,
			"medication vocabulary is empty")
	}
	for _, bucket := range d.byLength {
		sort.Strings(bucket)
	}
	return d, nil
}

// LoadDictionary reads one medication name per line from path.  Blank lines
// and lines starting with '#' are skipped.
func LoadDictionary(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal,
			"failed to open vocabulary file")
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal,
			"failed to read vocabulary file")
	}
	return NewDictionary(names)
}

// Size returns the number of vocabulary entries.
func (d *Dictionary) Size() int { return len(d.entries) }

// Match is a fuzzy dictionary hit.
type Match struct {
	Canonical  string
	Distance   float64
	Confidence float64
}

// Lookup finds the closest vocabulary entry to token within the edit bound.
// Exact matches score 1.0; fuzzy matches degrade with distance relative to
// the entry length.  Ties break on the lexicographically smaller canonical
// name so results are deterministic.
func (d *Dictionary) Lookup(token string) (Match, bool) {
	lower := strings.ToLower(token)
	n := len([]rune(lower))
	if n < 3 {
		// Too short to match reliably; avoids "mg", "od" false hits.
		return Match{}, false
	}

	if display, ok := d.entries[lower]; ok {
		return Match{Canonical: display, Distance: 0, Confidence: 1.0}, true
	}

	best := Match{Distance: maxEditDistance + 1}
	for length := n - 2; length <= n+2; length++ {
		for _, entry := range d.byLength[length] {
			dist := ocrEditDistance(lower, entry, maxEditDistance)
			if dist > maxEditDistance {
				continue
			}
			if dist < best.Distance ||
				(dist == best.Distance && entry < strings.ToLower(best.Canonical)) {
				best = Match{Canonical: d.entries[entry], Distance: dist}
			}
		}
	}
	if best.Canonical == "" {
		return Match{}, false
	}
	entryLen := float64(len([]rune(strings.ToLower(best.Canonical))))
	best.Confidence = 1.0 - best.Distance/entryLen
	if best.Confidence < 0 {
		best.Confidence = 0
	}
	return best, true
}

// confusablePairs lists substitutions that cost 0.5 instead of 1 because an
// OCR engine routinely swaps them.
var confusablePairs = map[[2]rune]bool{
	{'0', 'o'}: true, {'o', '0'}: true,
	{'1', 'l'}: true, {'l', '1'}: true,
	{'1', 'i'}: true, {'i', '1'}: true,
	{'l', 'i'}: true, {'i', 'l'}: true,
	{'5', 's'}: true, {'s', '5'}: true,
	{'8', 'b'}: true, {'b', '8'}: true,
	{'2', 'z'}: true, {'z', '2'}: true,
	{'6', 'g'}: true, {'g', '6'}: true,
}

func substitutionCost(a, b rune) float64 {
	if a == b {
		return 0
	}
	if confusablePairs[[2]rune{a, b}] {
		return 0.5
	}
	return 1
}

// ocrEditDistance is Levenshtein distance with confusable-aware
// substitution costs, cut off once every path exceeds bound.
func ocrEditDistance(a, b string, bound float64) float64 {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if diff := la - lb; diff > int(bound) || -diff > int(bound) {
		return bound + 1
	}

	prev := make([]float64, lb+1)
	curr := make([]float64, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = float64(j)
	}

	for i := 1; i <= la; i++ {
		curr[0] = float64(i)
		rowMin := curr[0]
		for j := 1; j <= lb; j++ {
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + substitutionCost(ra[i-1], rb[j-1])
			curr[j] = min3(del, ins, sub)
			if curr[j] < rowMin {
				rowMin = curr[j]
			}
		}
		if rowMin > bound {
			return bound + 1
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// dictionaryMatch scans the text token stream and emits a name candidate
// for every vocabulary hit.
func (e *Extractor) dictionaryMatch(text string) []Candidate {
	var out []Candidate
	for _, tok := range tokenize(text) {
		m, ok := e.dictionary.Lookup(tok.text)
		if !ok {
			continue
		}
		out = append(out, Candidate{
			Field:      FieldName,
			Value:      m.Canonical,
			Start:      tok.start,
			End:        tok.start + len(tok.text),
			Confidence: m.Confidence,
			Source:     StrategyDictionary,
		})
	}
	return out
}
