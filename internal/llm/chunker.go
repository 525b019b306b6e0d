package llm

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// charEstimateSafety discounts the observed chars-per-token ratio so that the
// character-based chunk sizing undershoots the token budget rather than
// overshooting it.
const charEstimateSafety = 0.85

// shrinkIterations caps how often an over-budget chunk is trimmed before the
// chunker gives up and keeps the last attempt.
const shrinkIterations = 10

// ChunkText splits corpus into pieces that each fit the provider's context
// window together with the rendered template.
//
// The template overhead is measured by rendering it with an empty body. When
// the whole corpus fits, a single chunk is returned. Otherwise the corpus is
// cut into cores of equal token size with symmetric overlap on both sides,
// each cut snapped to the best nearby natural split point.
func (c *Coordinator) ChunkText(template, corpus string) ([]string, error) {
	maxContext := c.provider.Capabilities().ContextWindow
	overhead, err := c.countTokens(render(template, ""))
	if err != nil {
		return nil, fmt.Errorf("llm: count template tokens: %w", err)
	}
	if overhead >= maxContext {
		return nil, fmt.Errorf("llm: template overhead %d exceeds context window %d", overhead, maxContext)
	}
	maxContent := maxContext - overhead - budgetSafety
	if maxContent <= 0 {
		return nil, fmt.Errorf("llm: no content budget left (context %d, template %d)", maxContext, overhead)
	}

	corpusTokens, err := c.countTokens(corpus)
	if err != nil {
		return nil, fmt.Errorf("llm: count corpus tokens: %w", err)
	}
	if corpusTokens <= maxContent {
		return []string{corpus}, nil
	}

	overlapTokens := int(c.overlapRatio * float64(maxContent))
	coreTokens := maxContent - 2*overlapTokens
	if coreTokens <= 0 {
		return nil, fmt.Errorf("llm: overlap ratio %.2f leaves no core budget", c.overlapRatio)
	}

	// Character estimate calibrated on the corpus itself.
	charsPerToken := float64(len(corpus)) / float64(corpusTokens) * charEstimateSafety
	coreChars := int(float64(coreTokens) * charsPerToken)
	if coreChars < 1 {
		coreChars = 1
	}
	overlapChars := int(float64(overlapTokens) * charsPerToken)

	var chunks []string
	for start := 0; start < len(corpus); {
		end := start + coreChars
		if end >= len(corpus) {
			end = len(corpus)
		} else {
			// The snap window can reach behind start when the core is
			// small; a cut at or before start would stall the loop.
			if snapped := snapSplit(corpus, end, coreChars); snapped > start {
				end = snapped
			} else {
				end = runeFloor(corpus, end)
			}
			if end <= start {
				_, n := utf8.DecodeRuneInString(corpus[start:])
				end = start + n
			}
		}

		lo := start - overlapChars
		if lo < 0 {
			lo = 0
		}
		lo = runeFloor(corpus, lo)
		hi := end + overlapChars
		if hi > len(corpus) {
			hi = len(corpus)
		}
		hi = runeFloor(corpus, hi)

		chunk, err := c.shrinkToBudget(template, corpus[lo:hi], maxContext)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)

		if end >= len(corpus) {
			break
		}
		start = end
	}
	return chunks, nil
}

// shrinkToBudget re-measures the rendered chunk against the context window and
// trims 10% off the end until it fits or the iteration cap is hit.
func (c *Coordinator) shrinkToBudget(template, chunk string, maxContext int) (string, error) {
	for i := 0; i < shrinkIterations; i++ {
		tokens, err := c.countTokens(render(template, chunk))
		if err != nil {
			return "", fmt.Errorf("llm: count chunk tokens: %w", err)
		}
		if tokens <= maxContext {
			return chunk, nil
		}
		cut := runeFloor(chunk, len(chunk)*9/10)
		if cut == len(chunk) {
			cut = runeFloor(chunk, len(chunk)-1)
		}
		chunk = chunk[:cut]
	}
	return chunk, nil
}

// snapWindow bounds how far back from the target snapSplit searches for a
// natural boundary, as a fraction of the core size.
func snapWindow(coreChars int) int {
	w := coreChars / 5
	if w < 80 {
		w = 80
	}
	return w
}

// snapSplit moves the cut position at target back to the best natural split
// point inside the search window: paragraph break, then speaker-line break,
// then sentence ending, then line break, then whitespace. Without any of
// those the cut falls on the nearest rune boundary.
func snapSplit(s string, target, coreChars int) int {
	target = runeFloor(s, target)
	lo := target - snapWindow(coreChars)
	if lo < 0 {
		lo = 0
	}
	seg := s[lo:target]

	if i := strings.LastIndex(seg, "\n\n"); i >= 0 {
		return lo + i + 2
	}
	if i := lastSpeakerBreak(seg); i >= 0 {
		return lo + i + 1
	}
	if i := lastSentenceEnd(seg); i >= 0 {
		return lo + i
	}
	if i := strings.LastIndexByte(seg, '\n'); i >= 0 {
		return lo + i + 1
	}
	if i := strings.LastIndexAny(seg, " \t"); i >= 0 {
		return lo + i + 1
	}
	return target
}

// lastSpeakerBreak finds the last newline that begins a speaker line, i.e. a
// line with a ':' within its first 50 characters ("alice: so about the...").
func lastSpeakerBreak(seg string) int {
	for i := strings.LastIndexByte(seg, '\n'); i >= 0; i = strings.LastIndexByte(seg[:i], '\n') {
		rest := seg[i+1:]
		limit := 50
		if len(rest) < limit {
			limit = len(rest)
		}
		if strings.IndexByte(rest[:limit], ':') >= 0 {
			return i
		}
	}
	return -1
}

// lastSentenceEnd finds the position just after the last ". ", "! " or "? "
// in seg, returning the index of the space so the cut lands between sentences.
func lastSentenceEnd(seg string) int {
	best := -1
	for _, p := range []string{". ", "! ", "? "} {
		if i := strings.LastIndex(seg, p); i >= 0 && i+1 > best {
			best = i + 1
		}
	}
	return best
}

// runeFloor lowers i to the nearest rune start so byte slicing never cuts a
// multibyte character in half.
func runeFloor(s string, i int) int {
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
