package pipeline

import (
	"testing"

	"github.com/reflector-media/reflector/pkg/types"
)

func w(text string, start, end float64, speaker int) types.Word {
	return types.Word{Text: text, Start: start, End: end, Speaker: speaker}
}

func TestMergeWordsOrdersByStart(t *testing.T) {
	tracks := [][]types.Word{
		{w("b", 1.0, 1.4, 0), w("d", 3.0, 3.2, 0)},
		{w("a", 0.2, 0.9, 1), w("c", 1.5, 2.0, 1)},
	}

	merged := mergeWords(tracks)

	want := []string{"a", "b", "c", "d"}
	if len(merged) != len(want) {
		t.Fatalf("merged %d words, want %d", len(merged), len(want))
	}
	for i, text := range want {
		if merged[i].Text != text {
			t.Errorf("word %d: want %q, got %q", i, text, merged[i].Text)
		}
	}
}

func TestMergeWordsStableOnTies(t *testing.T) {
	tracks := [][]types.Word{
		{w("first", 1.0, 1.5, 0)},
		{w("second", 1.0, 1.5, 1)},
	}
	merged := mergeWords(tracks)
	if merged[0].Text != "first" || merged[1].Text != "second" {
		t.Errorf("tie not resolved by track order: %q, %q", merged[0].Text, merged[1].Text)
	}
}

func TestAssignSpeakersEmptyDiarizationIsIdentity(t *testing.T) {
	words := []types.Word{w("hi", 0, 1, 2), w("there", 1, 2, 0)}
	out := assignSpeakers(words, nil)
	for i := range words {
		if out[i].Speaker != words[i].Speaker {
			t.Errorf("word %d speaker changed: %d → %d", i, words[i].Speaker, out[i].Speaker)
		}
	}
}

func TestAssignSpeakersMaxOverlapWins(t *testing.T) {
	words := []types.Word{w("hello", 1.0, 2.0, 0)}
	segments := []types.DiarizationSegment{
		{Start: 0.0, End: 1.3, Speaker: 5},  // 0.3s overlap
		{Start: 1.3, End: 3.0, Speaker: 7},  // 0.7s overlap
		{Start: 4.0, End: 10.0, Speaker: 9}, // none
	}
	out := assignSpeakers(words, segments)
	if out[0].Speaker != 7 {
		t.Errorf("speaker: want 7, got %d", out[0].Speaker)
	}
}

func TestAssignSpeakersTieGoesToEarliestStart(t *testing.T) {
	words := []types.Word{w("hello", 1.0, 2.0, 0)}
	segments := []types.DiarizationSegment{
		{Start: 1.5, End: 2.5, Speaker: 7}, // 0.5s overlap, later
		{Start: 0.5, End: 1.5, Speaker: 5}, // 0.5s overlap, earlier
	}
	out := assignSpeakers(words, segments)
	if out[0].Speaker != 5 {
		t.Errorf("tie: want earliest-starting segment's speaker 5, got %d", out[0].Speaker)
	}
}

func TestAssignSpeakersNoOverlapKeepsTrackSpeaker(t *testing.T) {
	words := []types.Word{w("hello", 10.0, 11.0, 3)}
	segments := []types.DiarizationSegment{{Start: 0, End: 5, Speaker: 1}}
	out := assignSpeakers(words, segments)
	if out[0].Speaker != 3 {
		t.Errorf("speaker: want original 3, got %d", out[0].Speaker)
	}
}

func TestAssignSpeakersDoesNotMutateInput(t *testing.T) {
	words := []types.Word{w("hello", 1.0, 2.0, 0)}
	segments := []types.DiarizationSegment{{Start: 0.5, End: 3.0, Speaker: 4}}
	_ = assignSpeakers(words, segments)
	if words[0].Speaker != 0 {
		t.Error("input slice was mutated")
	}
}

func TestChunkWords(t *testing.T) {
	words := make([]types.Word, 7)
	for i := range words {
		words[i] = w("w", float64(i), float64(i)+0.5, 0)
	}

	chunks := chunkWords(words, 3)
	if len(chunks) != 3 {
		t.Fatalf("chunks: want 3, got %d", len(chunks))
	}
	if len(chunks[0]) != 3 || len(chunks[1]) != 3 || len(chunks[2]) != 1 {
		t.Errorf("chunk sizes: %d/%d/%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}

	if got := chunkWords(nil, 3); got != nil {
		t.Errorf("chunking nothing: want nil, got %v", got)
	}
	if got := chunkWords(words, 0); got != nil {
		t.Errorf("zero chunk size: want nil, got %v", got)
	}
}

func TestWordsText(t *testing.T) {
	words := []types.Word{w("one", 0, 1, 0), w("two", 1, 2, 0)}
	if got := wordsText(words); got != "one two" {
		t.Errorf("wordsText: got %q", got)
	}
	if got := wordsText(nil); got != "" {
		t.Errorf("empty wordsText: got %q", got)
	}
}
