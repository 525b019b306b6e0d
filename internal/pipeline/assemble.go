package pipeline

import (
	"sort"
	"strings"

	"github.com/reflector-media/reflector/pkg/types"
)

// mergeWords flattens per-track word lists into one list ordered by start
// time. The sort is stable so words starting at the same instant keep track
// order, which keeps merges deterministic across replays.
func mergeWords(tracks [][]types.Word) []types.Word {
	var merged []types.Word
	for _, words := range tracks {
		merged = append(merged, words...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Start < merged[j].Start
	})
	return merged
}

// assignSpeakers relabels each word with the speaker of the diarization
// segment it overlaps most. An empty segment list leaves the words untouched;
// words overlapping no segment keep their track-index speaker. Ties on
// overlap go to the segment that starts earliest.
func assignSpeakers(words []types.Word, segments []types.DiarizationSegment) []types.Word {
	if len(segments) == 0 {
		return words
	}

	ordered := make([]types.DiarizationSegment, len(segments))
	copy(ordered, segments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start < ordered[j].Start
	})

	out := make([]types.Word, len(words))
	copy(out, words)
	for i := range out {
		best := 0.0
		speaker := out[i].Speaker
		for _, seg := range ordered {
			if seg.Start >= out[i].End {
				break
			}
			overlap := min(seg.End, out[i].End) - max(seg.Start, out[i].Start)
			if overlap > best {
				best = overlap
				speaker = seg.Speaker
			}
		}
		out[i].Speaker = speaker
	}
	return out
}

// chunkWords splits words into consecutive runs of at most size words. The
// final chunk holds the remainder.
func chunkWords(words []types.Word, size int) [][]types.Word {
	if size <= 0 || len(words) == 0 {
		return nil
	}
	var chunks [][]types.Word
	for start := 0; start < len(words); start += size {
		end := min(start+size, len(words))
		chunks = append(chunks, words[start:end])
	}
	return chunks
}

// wordsText joins word texts with single spaces.
func wordsText(words []types.Word) string {
	var b strings.Builder
	for i, w := range words {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w.Text)
	}
	return b.String()
}
