// internal/service/match/text.go

package match

import (
	"strings"
	"unicode"
)

// placeholderPhrases mark template filler that must not drive lexical
// matches. Text containing any of them is treated as empty.
var placeholderPhrases = []string{
	"no description",
	"not yet generated",
	"error generating",
}

var stopWords = map[string]struct{}{}

func init() {
	words := []string{
		"a", "an", "and", "are", "as", "at", "be", "but", "by", "for", "if", "in", "into", "is", "it", "no", "not",
		"of", "on", "or", "such", "that", "the", "their", "then", "there", "these", "they", "this", "to", "was",
		"will", "with", "he", "she", "we", "you", "i", "me", "him", "her", "us", "them", "my", "your", "his",
		"its", "our", "what", "when", "where", "why", "how", "which", "who", "whom", "those",
		"am", "were", "been", "being", "have", "has", "had", "having",
		"do", "does", "did", "doing", "can", "could", "may", "might", "must", "shall", "should", "would",
		"from", "up", "down", "out", "off", "over", "under", "again", "further", "once", "here",
		"all", "any", "both", "each", "few", "more", "most", "other", "some",
		"nor", "only", "own", "same", "so", "than", "too", "very", "s", "t", "just", "don",
		"now", "etc", "also", "about", "after", "before", "between", "during", "through", "upon", "within",
		"without", "around", "above", "below", "beside", "behind", "across", "along", "among", "amongst",
		"away", "even", "ever", "every", "first", "good", "great", "last", "little", "long", "many",
		"much", "new", "next", "old", "one", "part", "per", "place", "point", "right", "said", "say",
		"see", "seem", "since", "small", "still", "take", "tell", "thing", "think", "third", "though", "time",
		"until", "use", "want", "way", "well", "went", "whether", "while", "whole", "whose",
		"work", "year", "yet", "yourself", "zero",
	}
	for _, w := range words {
		stopWords[w] = struct{}{}
	}
}

// OverlapScore returns the Jaccard ratio of the meaningful word sets of
// two texts, in [0,1]. Either side tokenizing to an empty set scores 0.
func OverlapScore(a, b string) float64 {
	wordsA := MeaningfulWords(a)
	wordsB := MeaningfulWords(b)

	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	common := 0
	for w := range wordsA {
		if _, ok := wordsB[w]; ok {
			common++
		}
	}

	union := len(wordsA) + len(wordsB) - common
	return float64(common) / float64(union)
}

// CommonWordCount returns how many meaningful words two texts share.
func CommonWordCount(a, b string) int {
	wordsA := MeaningfulWords(a)
	wordsB := MeaningfulWords(b)

	common := 0
	for w := range wordsA {
		if _, ok := wordsB[w]; ok {
			common++
		}
	}
	return common
}

// MeaningfulWords tokenizes text into a lowercase word set with stop
// words and single-character tokens removed (digits exempted).
// Placeholder filler is treated as empty text.
func MeaningfulWords(text string) map[string]struct{} {
	words := map[string]struct{}{}
	if text == "" {
		return words
	}

	lower := strings.ToLower(text)
	for _, phrase := range placeholderPhrases {
		if strings.Contains(lower, phrase) {
			return words
		}
	}

	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, tok := range tokens {
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if len(tok) == 1 && !isDigits(tok) {
			continue
		}
		words[tok] = struct{}{}
	}
	return words
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
