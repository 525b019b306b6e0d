package pipeline

import (
	"fmt"
	"strings"

	"github.com/reflector-media/reflector/pkg/types"
)

// Cue boundaries: a new cue starts on speaker change, on a silence gap, or
// when the running cue grows past the word cap. The caps keep cues readable
// as subtitles without cutting mid-sentence more than necessary.
const (
	vttMaxWordsPerCue = 32
	vttGapSeconds     = 2.0
)

// renderWebVTT serialises the word list as a WebVTT document with voice
// spans. An empty word list yields just the header.
func renderWebVTT(words []types.Word) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n")

	start := 0
	for start < len(words) {
		end := start + 1
		for end < len(words) &&
			words[end].Speaker == words[start].Speaker &&
			end-start < vttMaxWordsPerCue &&
			words[end].Start-words[end-1].End < vttGapSeconds {
			end++
		}

		cue := words[start:end]
		b.WriteString("\n")
		b.WriteString(vttTimestamp(cue[0].Start))
		b.WriteString(" --> ")
		b.WriteString(vttTimestamp(cue[len(cue)-1].End))
		b.WriteString("\n")
		fmt.Fprintf(&b, "<v Speaker %d>%s\n", cue[0].Speaker, wordsText(cue))

		start = end
	}
	return b.String()
}

// vttTimestamp formats seconds as HH:MM:SS.mmm.
func vttTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(seconds*1000 + 0.5)
	h := ms / 3_600_000
	m := ms % 3_600_000 / 60_000
	s := ms % 60_000 / 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}
