// Package textsim provides lightweight token-based text similarity used to
// deduplicate findings and recommendations reported by different engines.
//
// The engines describe the same issue in different words ("SQL injection in
// query builder" vs "Possible SQL injection vulnerability"), so exact string
// comparison is useless. Token Jaccard similarity is cheap and good enough
// for short titles and descriptions.
package textsim

import (
	"strings"
	"unicode"
)

// MinTokenLength is the minimum token length considered meaningful.
// Shorter tokens ("a", "of", "in") carry no signal for matching.
const MinTokenLength = 3

// titleKeyTokens is how many leading tokens form a bucketing key.
const titleKeyTokens = 3

// Tokenize splits text into lower-cased alphabetic tokens of at least
// MinTokenLength characters. Digits and punctuation act as separators.
func Tokenize(s string) []string {
	var tokens []string
	var b strings.Builder

	flush := func() {
		if b.Len() >= MinTokenLength {
			tokens = append(tokens, b.String())
		}
		b.Reset()
	}

	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	return tokens
}

// Jaccard computes token-set Jaccard similarity between two strings.
// Returns a value in [0, 1]. Two empty token sets are considered identical.
func Jaccard(a, b string) float64 {
	ta := Tokenize(a)
	tb := Tokenize(b)

	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}

	setA := make(map[string]struct{}, len(ta))
	for _, tok := range ta {
		setA[tok] = struct{}{}
	}
	setB := make(map[string]struct{}, len(tb))
	for _, tok := range tb {
		setB[tok] = struct{}{}
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection

	return float64(intersection) / float64(union)
}

// TitleKey builds a coarse bucketing key from the first few meaningful
// tokens of a title. Findings whose titles share a key are plausible
// duplicate candidates; the key is deliberately lossy.
// Returns "" when the title has no meaningful tokens.
func TitleKey(title string) string {
	tokens := Tokenize(title)
	if len(tokens) == 0 {
		return ""
	}
	if len(tokens) > titleKeyTokens {
		tokens = tokens[:titleKeyTokens]
	}
	return strings.Join(tokens, " ")
}

// Blend computes the weighted title/description similarity used for
// duplicate detection when findings have no matching location:
// 0.6 * title Jaccard + 0.4 * description Jaccard.
func Blend(titleA, descA, titleB, descB string) float64 {
	return 0.6*Jaccard(titleA, titleB) + 0.4*Jaccard(descA, descB)
}
