// Package script ingests narration text and derives sentence boundaries and
// duration estimates for the rest of the pipeline.
package script

import (
	"regexp"
	"strings"

	"faceless-pipeline/internal/types"
)

var sentenceEnd = regexp.MustCompile(`(?s)(.*?[.!?])(?:\s+|$)`)

// SplitSentences splits text after sentence-ending punctuation, dropping
// fragments of five characters or fewer. If nothing survives the filter the
// whole script is treated as a single sentence.
func SplitSentences(text string) []string {
	flat := strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if flat == "" {
		return nil
	}

	var sentences []string
	consumed := 0
	for _, m := range sentenceEnd.FindAllStringSubmatchIndex(flat, -1) {
		s := strings.TrimSpace(flat[m[2]:m[3]])
		if len(s) > 5 {
			sentences = append(sentences, s)
		}
		consumed = m[1]
	}
	if tail := strings.TrimSpace(flat[consumed:]); len(tail) > 5 {
		sentences = append(sentences, tail)
	}

	if len(sentences) == 0 {
		sentences = []string{flat}
	}
	return sentences
}

// New builds a Script from raw operator text.
func New(title, keyword, text string) types.Script {
	return types.Script{
		Title:     title,
		Keyword:   keyword,
		Sentences: SplitSentences(text),
	}
}

// ExpectedDuration estimates narration length from word count and speaking
// rate. The timing synchronizer compares the real narration against this to
// catch truncated or corrupt audio.
func ExpectedDuration(s types.Script, wordsPerMinute float64) float64 {
	if wordsPerMinute <= 0 {
		return 0
	}
	return float64(s.WordCount()) / wordsPerMinute * 60
}

var stopWords = map[string]bool{
	"the": true, "and": true, "a": true, "an": true, "is": true,
	"are": true, "of": true, "to": true, "in": true, "it": true,
	"that": true, "this": true, "for": true, "with": true, "as": true,
	"at": true,
}

var wordRe = regexp.MustCompile(`\b\w+\b`)

// Keywords produces one search keyword per sentence: the base keyword plus up
// to three content words from the sentence, stop words removed.
func Keywords(s types.Script) []string {
	keywords := make([]string, 0, len(s.Sentences))
	for _, sentence := range s.Sentences {
		var clean []string
		for _, w := range wordRe.FindAllString(sentence, -1) {
			lw := strings.ToLower(w)
			if !stopWords[lw] {
				clean = append(clean, lw)
			}
			if len(clean) == 3 {
				break
			}
		}
		kw := strings.TrimSpace(s.Keyword + " " + strings.Join(clean, " "))
		keywords = append(keywords, kw)
	}
	return keywords
}

// SentenceShares splits total across sentences proportionally to word count.
// Used to size the footage slot each sentence's clip must fill.
func SentenceShares(s types.Script, total float64) []float64 {
	counts := make([]int, len(s.Sentences))
	sum := 0
	for i, sentence := range s.Sentences {
		counts[i] = len(strings.Fields(sentence))
		sum += counts[i]
	}
	if sum == 0 {
		sum = 1
	}
	shares := make([]float64, len(counts))
	for i, c := range counts {
		shares[i] = float64(c) / float64(sum) * total
	}
	return shares
}
