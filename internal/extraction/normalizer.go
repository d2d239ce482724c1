package extraction

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize converts raw OCR output into the canonical text the strategies
// consume: Unicode NFC, all whitespace runs (including line breaks)
// collapsed to single spaces, and common OCR confusions corrected in
// context.  Every correction is a one-for-one rune swap so span offsets
// computed over the normalised text stay valid.
func Normalize(raw RawOCRResult) string {
	text := norm.NFC.String(raw.Text)

	var b strings.Builder
	b.Grow(len(text))
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace {
				b.WriteRune(' ')
			}
			prevSpace = true
		} else {
			b.WriteRune(r)
			prevSpace = false
		}
	}
	collapsed := strings.TrimSpace(b.String())

	return correctConfusables(collapsed)
}

// letterForDigit and digitForLetter are the OCR confusion pairs corrected
// contextually: inside a numeric token a letter reads as its digit twin,
// inside an alphabetic token a digit reads as its letter twin.
var digitForLetter = map[rune]rune{
	'O': '0', 'o': '0',
	'l': '1', 'I': '1',
	'S': '5', 's': '5',
	'B': '8',
}

var letterForDigit = map[rune]rune{
	'0': 'O',
	'1': 'l',
}

// correctConfusables rewrites each whitespace-delimited token whose shape
// says it is numeric (dose values, tablet counts) or alphabetic (drug
// names).  Ambiguous tokens are left untouched.
func correctConfusables(text string) string {
	fields := strings.Split(text, " ")
	for i, tok := range fields {
		fields[i] = correctToken(tok)
	}
	return strings.Join(fields, " ")
}

func correctToken(tok string) string {
	if tok == "" {
		return tok
	}

	core, unit := splitDoseUnit(tok)
	if isNumericShape(core) {
		runes := []rune(core)
		for i, r := range runes {
			if d, ok := digitForLetter[r]; ok {
				runes[i] = d
			}
		}
		return string(runes) + unit
	}

	if isAlphabeticShape(tok) {
		runes := []rune(tok)
		for i, r := range runes {
			if l, ok := letterForDigit[r]; ok {
				runes[i] = l
			}
		}
		return string(runes)
	}

	return tok
}

// splitDoseUnit peels a trailing dose unit off a token so "5O0mg" is judged
// by its numeric core "5O0" rather than the mixed whole.
func splitDoseUnit(tok string) (core, unit string) {
	lower := strings.ToLower(tok)
	for _, u := range []string{"mcg", "mg", "ml", "iu", "g"} {
		if strings.HasSuffix(lower, u) && len(tok) > len(u) {
			return tok[:len(tok)-len(u)], tok[len(tok)-len(u):]
		}
	}
	return tok, ""
}

// isNumericShape reports whether a token is digits plus at most a minority
// of digit-confusable letters, e.g. "5O0" or "l00".
func isNumericShape(s string) bool {
	if s == "" {
		return false
	}
	digits, confusable := 0, 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r) || r == '.' || r == '-' || r == '/':
			digits++
		default:
			if _, ok := digitForLetter[r]; !ok {
				return false
			}
			confusable++
		}
	}
	return digits > 0 && digits >= confusable
}

// isAlphabeticShape reports whether a token is letters plus at most a
// minority of letter-confusable digits, e.g. "Parac3tamol" fails but
// "Atorvastat1n" passes.
func isAlphabeticShape(s string) bool {
	letters, confusable := 0, 0
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letters++
		default:
			if _, ok := letterForDigit[r]; !ok {
				return false
			}
			confusable++
		}
	}
	return letters > 0 && letters > confusable
}
