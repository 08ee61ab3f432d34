// Package textsignal computes cheap local text heuristics: lexicon sentiment,
// negative signal strength, keywords and complexity markers. They feed batch
// planning and the local fallbacks used when inference is unavailable.
package textsignal

import (
	"slices"
	"strings"
	"unicode"
)

var negativeWords = map[string]float64{
	"annoying": 1, "awful": 1.5, "bad": 1, "broken": 1.5, "bug": 1, "buggy": 1.5,
	"cant": 0.5, "crash": 1.5, "crashes": 1.5, "disappointed": 1, "expensive": 1,
	"fail": 1, "fails": 1, "frustrated": 1.5, "frustrating": 1.5, "hate": 2,
	"horrible": 2, "impossible": 1, "issue": 0.5, "lag": 1, "laggy": 1, "missing": 0.5,
	"nightmare": 2, "overpriced": 1.5, "painful": 1.5, "problem": 1, "slow": 1,
	"struggle": 1, "terrible": 2, "tedious": 1, "useless": 2, "waste": 1.5,
	"wish": 0.5, "worst": 2, "wrong": 1,
}

var positiveWords = map[string]float64{
	"amazing": 2, "awesome": 2, "easy": 1, "excellent": 2, "fast": 1, "good": 1,
	"great": 1.5, "happy": 1, "helpful": 1, "love": 2, "nice": 1, "perfect": 2,
	"recommend": 1.5, "reliable": 1, "simple": 0.5, "smooth": 1, "works": 0.5,
}

var negations = map[string]bool{
	"not": true, "no": true, "never": true, "dont": true, "doesnt": true, "isnt": true,
	"wasnt": true, "wont": true, "cannot": true, "without": true,
}

var stopWords = map[string]bool{
	"a": true, "about": true, "after": true, "again": true, "all": true, "also": true,
	"an": true, "and": true, "any": true, "are": true, "as": true, "at": true, "be": true,
	"because": true, "been": true, "but": true, "by": true, "can": true, "could": true,
	"did": true, "do": true, "does": true, "for": true, "from": true, "get": true,
	"had": true, "has": true, "have": true, "how": true, "i": true, "if": true, "im": true,
	"in": true, "into": true, "is": true, "it": true, "its": true, "just": true,
	"like": true, "me": true, "more": true, "my": true, "of": true, "on": true, "one": true,
	"only": true, "or": true, "other": true, "our": true, "out": true, "so": true,
	"some": true, "than": true, "that": true, "the": true, "their": true, "them": true,
	"then": true, "there": true, "they": true, "this": true, "to": true, "too": true,
	"up": true, "use": true, "very": true, "was": true, "we": true, "what": true,
	"when": true, "which": true, "while": true, "who": true, "why": true, "will": true,
	"with": true, "would": true, "you": true, "your": true,
}

var complexityMarkers = []string{
	"```", "traceback", "exception", "stack trace", "error code", "however",
	"although", "workaround", "compared to", " vs ", "integration", "migration",
	"api", "configuration", "step 1", "1.", "2.",
}

// Tokens lowercases text and splits it into words, dropping apostrophes
func Tokens(text string) []string {
	text = strings.ToLower(strings.ReplaceAll(text, "'", ""))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Sentiment returns a lexicon score in [-1, 1]. A negation flips the polarity
// of the next sentiment word.
func Sentiment(text string) float64 {
	var positive, negative float64
	negate := false
	for _, token := range Tokens(text) {
		if negations[token] {
			negate = true
			continue
		}
		p, n := positiveWords[token], negativeWords[token]
		if negate {
			p, n = n, p
		}
		if p > 0 || n > 0 {
			negate = false
		}
		positive += p
		negative += n
	}
	total := positive + negative
	if total == 0 {
		return 0
	}
	return (positive - negative) / total * saturation(total)
}

// NegativeStrength returns how strongly text complains, in [0, 1)
func NegativeStrength(text string) float64 {
	var hits float64
	for _, token := range Tokens(text) {
		hits += negativeWords[token]
	}
	return hits / (hits + 3)
}

// Keywords returns up to limit of the most frequent non stop words, ties
// broken alphabetically
func Keywords(text string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, token := range Tokens(text) {
		if len(token) < 3 || stopWords[token] || isNumber(token) {
			continue
		}
		counts[token]++
	}

	words := make([]string, 0, len(counts))
	for word := range counts {
		words = append(words, word)
	}
	slices.SortFunc(words, func(a, b string) int {
		if counts[a] != counts[b] {
			return counts[b] - counts[a]
		}
		return strings.Compare(a, b)
	})
	if len(words) > limit {
		words = words[:limit]
	}
	return words
}

// ComplexityMarkers counts the distinct markers of technical or nuanced text
func ComplexityMarkers(text string) int {
	lower := strings.ToLower(text)
	count := 0
	for _, marker := range complexityMarkers {
		if strings.Contains(lower, marker) {
			count++
		}
	}
	return count
}

func saturation(weight float64) float64 {
	return weight / (weight + 1)
}

func isNumber(token string) bool {
	for _, r := range token {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
