// Package tokenize provides the token length estimator used by the LLM
// chunker. It deliberately avoids a model-specific tokenizer dependency:
// English text averages roughly 4 characters per token across common LLM
// tokenizers, and the chunker re-measures every chunk it emits, so a cheap
// proxy with a safety margin is sufficient.
package tokenize

import (
	"strings"
	"unicode/utf8"
)

// DefaultCharsPerToken is the heuristic character-to-token ratio.
const DefaultCharsPerToken = 4.0

// Estimator estimates token counts from text length. The zero value uses
// [DefaultCharsPerToken]. An Estimator is safe for concurrent use.
type Estimator struct {
	// CharsPerToken overrides the default ratio when > 0. Callers that have
	// observed the real ratio of their corpus (total chars / measured tokens)
	// should set it for tighter chunk sizing.
	CharsPerToken float64
}

// Count estimates the number of tokens in text.
//
// The estimate blends the character heuristic with a whitespace word count:
// very short tokens (punctuation-heavy text) push the word count above the
// character estimate, and the larger of the two is returned so the chunker
// never under-budgets.
func (e Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	ratio := e.CharsPerToken
	if ratio <= 0 {
		ratio = DefaultCharsPerToken
	}
	byChars := int(float64(utf8.RuneCountInString(text))/ratio + 0.5)
	byWords := len(strings.Fields(text))
	if byWords > byChars {
		return byWords
	}
	if byChars == 0 {
		return 1
	}
	return byChars
}

// CharsForTokens converts a token budget into an estimated character count,
// applying a 0.85 safety factor so generated chunks err on the small side
// before re-measurement.
func (e Estimator) CharsForTokens(tokens int) int {
	if tokens <= 0 {
		return 0
	}
	ratio := e.CharsPerToken
	if ratio <= 0 {
		ratio = DefaultCharsPerToken
	}
	return int(float64(tokens) * ratio * 0.85)
}
