package extraction

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/medimorph/medimorph/pkg/types/common"
)

// The pattern strategy is a regex grammar over prescription shorthand.  It
// is authoritative for dosage, frequency, and duration; it never proposes
// names.

var (
	dosageRe = regexp.MustCompile(
		`(?i)\b(\d+(?:\.\d+)?)\s*(mcg|mg|ml|g|iu|units?|tab(?:let)?s?|drops?)\b`)

	// Compact count notation: "1-1-1" is morning-noon-night tablet counts.
	countTripletRe = regexp.MustCompile(`\b([0-9])-([0-9])-([0-9])\b`)

	everyNHoursRe = regexp.MustCompile(`(?i)\bevery\s+(\d+)\s*(?:hours|hrs|h)\b`)

	durationRe = regexp.MustCompile(
		`(?i)\bfor\s+(\d+)\s*(days?|weeks?|months?)\b`)
	durationShortRe = regexp.MustCompile(`(?i)\bx\s*(\d+)\s*d\b`)
)

// frequencyIdioms maps spoken and abbreviated frequency forms to canonical
// tags.  Order matters: more specific phrases are listed before their
// substrings ("three times" before "times").
var frequencyIdioms = []struct {
	re  *regexp.Regexp
	tag common.FrequencyTag
}{
	{regexp.MustCompile(`(?i)\b(?:three\s+times\s+(?:a\s+day|daily)|thrice\s+daily|tds|tid)\b`), common.FreqThreeTimesDaily},
	{regexp.MustCompile(`(?i)\b(?:four\s+times\s+(?:a\s+day|daily)|qid|qds)\b`), common.FreqFourTimesDaily},
	{regexp.MustCompile(`(?i)\b(?:twice\s+(?:a\s+day|daily)|two\s+times\s+(?:a\s+day|daily)|bd|bid)\b`), common.FreqTwiceDaily},
	{regexp.MustCompile(`(?i)\b(?:once\s+(?:a\s+day|daily)|once|od|qd)\b`), common.FreqOnceDaily},
	{regexp.MustCompile(`(?i)\b(?:every\s+morning|in\s+the\s+morning|morning|mane)\b`), common.FreqMorning},
	{regexp.MustCompile(`(?i)\b(?:at\s+(?:night|bedtime)|every\s+night|night|nocte|hs)\b`), common.FreqNight},
	{regexp.MustCompile(`(?i)\b(?:as\s+needed|when\s+required|prn|sos)\b`), common.FreqAsNeeded},
}

// patternMatch runs the full grammar and returns dosage, frequency, and
// duration candidates.
func (e *Extractor) patternMatch(text string) []Candidate {
	var out []Candidate
	out = append(out, matchDosages(text)...)
	out = append(out, matchFrequencies(text)...)
	out = append(out, matchDurations(text)...)
	return out
}

func matchDosages(text string) []Candidate {
	var out []Candidate
	for _, loc := range dosageRe.FindAllStringSubmatchIndex(text, -1) {
		value := text[loc[2]:loc[3]]
		unit := strings.ToLower(text[loc[4]:loc[5]])
		out = append(out, Candidate{
			Field:      FieldDosage,
			Value:      value + unit,
			Start:      loc[0],
			End:        loc[1],
			Confidence: 0.95,
			Source:     StrategyPattern,
		})
	}
	return out
}

func matchFrequencies(text string) []Candidate {
	var out []Candidate

	// Count triplets first; they double as frequency ("1-1-1" = three times
	// daily) and outrank word idioms at the same span.
	for _, loc := range countTripletRe.FindAllStringSubmatchIndex(text, -1) {
		doses := 0
		for g := 1; g <= 3; g++ {
			n, _ := strconv.Atoi(text[loc[2*g] : loc[2*g]+1])
			if n > 0 {
				doses++
			}
		}
		tag := tagForDailyCount(doses)
		if tag == common.FreqUnknown {
			continue
		}
		out = append(out, Candidate{
			Field:      FieldFrequency,
			Value:      string(tag),
			Start:      loc[0],
			End:        loc[1],
			Confidence: 0.95,
			Source:     StrategyPattern,
		})
	}

	for _, idiom := range frequencyIdioms {
		for _, loc := range idiom.re.FindAllStringIndex(text, -1) {
			if coveredBy(out, loc[0], loc[1]) {
				continue
			}
			out = append(out, Candidate{
				Field:      FieldFrequency,
				Value:      string(idiom.tag),
				Start:      loc[0],
				End:        loc[1],
				Confidence: 0.90,
				Source:     StrategyPattern,
			})
		}
	}

	for _, loc := range everyNHoursRe.FindAllStringSubmatchIndex(text, -1) {
		if coveredBy(out, loc[0], loc[1]) {
			continue
		}
		hours, _ := strconv.Atoi(text[loc[2]:loc[3]])
		tag := tagForHourInterval(hours)
		confidence := 0.90
		if tag == common.FreqUnknown {
			confidence = 0.50
		}
		out = append(out, Candidate{
			Field:      FieldFrequency,
			Value:      string(tag),
			Start:      loc[0],
			End:        loc[1],
			Confidence: confidence,
			Source:     StrategyPattern,
		})
	}

	return out
}

func matchDurations(text string) []Candidate {
	var out []Candidate
	for _, loc := range durationRe.FindAllStringSubmatchIndex(text, -1) {
		n, _ := strconv.Atoi(text[loc[2]:loc[3]])
		unit := strings.ToLower(text[loc[4]:loc[5]])
		days := n
		switch {
		case strings.HasPrefix(unit, "week"):
			days = n * 7
		case strings.HasPrefix(unit, "month"):
			days = n * 30
		}
		out = append(out, Candidate{
			Field:      FieldDuration,
			Value:      strconv.Itoa(days),
			Start:      loc[0],
			End:        loc[1],
			Confidence: 0.95,
			Source:     StrategyPattern,
		})
	}
	for _, loc := range durationShortRe.FindAllStringSubmatchIndex(text, -1) {
		if coveredBy(out, loc[0], loc[1]) {
			continue
		}
		out = append(out, Candidate{
			Field:      FieldDuration,
			Value:      text[loc[2]:loc[3]],
			Start:      loc[0],
			End:        loc[1],
			Confidence: 0.90,
			Source:     StrategyPattern,
		})
	}
	return out
}

// tagForDailyCount maps a doses-per-day count onto the canonical vocabulary.
func tagForDailyCount(n int) common.FrequencyTag {
	switch n {
	case 1:
		return common.FreqOnceDaily
	case 2:
		return common.FreqTwiceDaily
	case 3:
		return common.FreqThreeTimesDaily
	case 4:
		return common.FreqFourTimesDaily
	}
	return common.FreqUnknown
}

// tagForHourInterval converts "every N hours" into a daily count tag where
// the interval divides the day cleanly.
func tagForHourInterval(hours int) common.FrequencyTag {
	switch hours {
	case 24:
		return common.FreqOnceDaily
	case 12:
		return common.FreqTwiceDaily
	case 8:
		return common.FreqThreeTimesDaily
	case 6:
		return common.FreqFourTimesDaily
	}
	return common.FreqUnknown
}

func coveredBy(candidates []Candidate, start, end int) bool {
	for _, c := range candidates {
		if start < c.End && c.Start < end {
			return true
		}
	}
	return false
}
