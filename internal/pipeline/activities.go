package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/reflector-media/reflector/internal/broadcast"
	"github.com/reflector-media/reflector/internal/cleanup"
	"github.com/reflector-media/reflector/internal/llm"
	"github.com/reflector-media/reflector/internal/store"
	engine "github.com/reflector-media/reflector/internal/workflow"
	"github.com/reflector-media/reflector/pkg/audio"
	"github.com/reflector-media/reflector/pkg/provider/diarization"
	"github.com/reflector-media/reflector/pkg/provider/transcription"
	"github.com/reflector-media/reflector/pkg/storage"
	"github.com/reflector-media/reflector/pkg/types"
)

// waveformBuckets is the resolution of the WAVEFORM event payload.
const waveformBuckets = 255

// Deps carries everything the activity set needs. All fields are required
// unless noted.
type Deps struct {
	Transcripts store.TranscriptStore
	Recordings  store.RecordingStore

	// Objects is the object store. Recording buckets are selected per call;
	// processed audio goes to the store's default bucket.
	Objects storage.ObjectStore

	FFmpeg      *audio.FFmpeg
	Transcriber transcription.Provider
	Diarizer    diarization.Provider
	Coordinator *llm.Coordinator
	Publisher   *broadcast.Publisher

	// Cleaner applies the consent policy when a run reaches a terminal
	// state. Optional; nil disables consent enforcement.
	Cleaner *cleanup.Cleaner

	// EngineName namespaces padded-track keys
	// (file_pipeline_<engine>/<transcript_id>/tracks/...).
	EngineName string

	// PresignExpiry bounds presigned URLs handed to inference services.
	// Defaults to 2h, comfortably above the longest stage timeout.
	PresignExpiry time.Duration

	// TopicWords is the topic-chunk size in words. Defaults to 300.
	TopicWords int

	Log *slog.Logger
}

// Activities is the pipeline's activity set, registered as a whole on the
// worker. Methods are exported exactly when they are Temporal activities.
type Activities struct {
	deps Deps
}

// NewActivities validates deps, applies defaults, and builds the set.
func NewActivities(deps Deps) *Activities {
	if deps.PresignExpiry <= 0 {
		deps.PresignExpiry = 2 * time.Hour
	}
	if deps.TopicWords <= 0 {
		deps.TopicWords = 300
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	deps.Log = deps.Log.With("component", "pipeline")
	return &Activities{deps: deps}
}

// protocolError wraps a no-output condition as a non-retryable failure:
// running the stage again cannot conjure the missing data.
func protocolError(format string, args ...any) error {
	return temporal.NewNonRetryableApplicationError(fmt.Sprintf(format, args...), errTypeProtocol, nil)
}

// emit persists the event on the transcript's log and publishes it to live
// subscribers. Persistence failures fail the activity; publish failures are
// logged only — subscribers recover from the log on reconnect.
func (a *Activities) emit(ctx context.Context, transcriptID, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pipeline: marshal %s payload: %w", event, err)
	}
	seq, err := a.deps.Transcripts.AppendEvent(ctx, transcriptID, event, raw)
	if err != nil {
		return fmt.Errorf("pipeline: append %s event: %w", event, err)
	}
	if err := a.deps.Publisher.Publish(ctx, transcriptID, event, seq, payload); err != nil {
		a.deps.Log.Warn("event publish failed", "transcript_id", transcriptID,
			"event", event, "error", err)
	}
	return nil
}

// ───────────────────────── recording resolution ─────────────────────────

type GetRecordingInput struct {
	TranscriptID string `json:"transcript_id"`
	RecordingID  string `json:"recording_id"`
}

type GetRecordingResult struct {
	BucketName string   `json:"bucket_name"`
	TrackKeys  []string `json:"track_keys"`
}

// GetRecording re-reads the recording row at pipeline start and publishes the
// processing status. The row is authoritative over the dispatch-time config:
// a replayed workflow must see the current track list.
func (a *Activities) GetRecording(ctx context.Context, in GetRecordingInput) (GetRecordingResult, error) {
	rec, err := a.deps.Recordings.Get(ctx, in.RecordingID)
	if err != nil {
		return GetRecordingResult{}, fmt.Errorf("pipeline: get recording %s: %w", in.RecordingID, err)
	}
	if len(rec.TrackKeys) == 0 {
		return GetRecordingResult{}, protocolError("recording %s has no tracks", rec.ID)
	}
	if rec.BucketName == "" {
		return GetRecordingResult{}, protocolError("recording %s has no bucket", rec.ID)
	}

	if err := a.emit(ctx, in.TranscriptID, types.EventStatus,
		map[string]string{"status": string(types.StatusProcessing)}); err != nil {
		return GetRecordingResult{}, err
	}
	return GetRecordingResult{BucketName: rec.BucketName, TrackKeys: rec.TrackKeys}, nil
}

// ───────────────────────── track padding ─────────────────────────

type PadTrackInput struct {
	TranscriptID string `json:"transcript_id"`
	BucketName   string `json:"bucket_name"`
	TrackKey     string `json:"track_key"`
	TrackIndex   int    `json:"track_index"`
}

type PadTrackResult struct {
	// PaddedURL is a presigned URL for the padded object, or for the source
	// object unchanged when no padding was needed (Size is then 0).
	PaddedURL  string `json:"padded_url"`
	Size       int64  `json:"size"`
	TrackIndex int    `json:"track_index"`
}

// PadTrack shifts one participant track onto the meeting clock. The stream's
// own start time decides the delay; when it is absent or zero the source is
// passed through untouched.
func (a *Activities) PadTrack(ctx context.Context, in PadTrackInput) (PadTrackResult, error) {
	log := activity.GetLogger(ctx)

	srcURL, err := a.deps.Objects.Presign(ctx, in.TrackKey, a.deps.PresignExpiry,
		storage.WithBucket(in.BucketName))
	if err != nil {
		return PadTrackResult{}, fmt.Errorf("pipeline: presign track %d: %w", in.TrackIndex, err)
	}

	startTime, err := a.deps.FFmpeg.StartTime(ctx, srcURL)
	if err != nil {
		return PadTrackResult{}, fmt.Errorf("pipeline: probe track %d: %w", in.TrackIndex, err)
	}
	if startTime <= 0 {
		log.Info("track needs no padding", "track", in.TrackIndex)
		return PadTrackResult{PaddedURL: srcURL, TrackIndex: in.TrackIndex}, nil
	}
	activity.RecordHeartbeat(ctx, "probed")

	dir, err := os.MkdirTemp("", "reflector-pad-*")
	if err != nil {
		return PadTrackResult{}, fmt.Errorf("pipeline: pad track %d: %w", in.TrackIndex, err)
	}
	defer os.RemoveAll(dir)

	outPath := filepath.Join(dir, fmt.Sprintf("padded_%d.webm", in.TrackIndex))
	delay := time.Duration(startTime * float64(time.Second))
	if err := a.deps.FFmpeg.PadTrack(ctx, srcURL, outPath, delay); err != nil {
		return PadTrackResult{}, fmt.Errorf("pipeline: pad track %d: %w", in.TrackIndex, err)
	}
	activity.RecordHeartbeat(ctx, "padded")

	f, err := os.Open(outPath)
	if err != nil {
		return PadTrackResult{}, fmt.Errorf("pipeline: pad track %d: %w", in.TrackIndex, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return PadTrackResult{}, fmt.Errorf("pipeline: pad track %d: %w", in.TrackIndex, err)
	}

	key := paddedKey(a.deps.EngineName, in.TranscriptID, in.TrackIndex)
	if err := a.deps.Objects.Put(ctx, key, f,
		storage.WithBucket(in.BucketName), storage.WithContentType("video/webm")); err != nil {
		return PadTrackResult{}, fmt.Errorf("pipeline: upload padded track %d: %w", in.TrackIndex, err)
	}

	paddedURL, err := a.deps.Objects.Presign(ctx, key, a.deps.PresignExpiry,
		storage.WithBucket(in.BucketName))
	if err != nil {
		return PadTrackResult{}, fmt.Errorf("pipeline: presign padded track %d: %w", in.TrackIndex, err)
	}

	log.Info("track padded", "track", in.TrackIndex,
		"delay_ms", delay.Milliseconds(), "size", info.Size())
	return PadTrackResult{PaddedURL: paddedURL, Size: info.Size(), TrackIndex: in.TrackIndex}, nil
}

func paddedKey(engineName, transcriptID string, trackIndex int) string {
	return fmt.Sprintf("file_pipeline_%s/%s/tracks/padded_%d.webm", engineName, transcriptID, trackIndex)
}

// ───────────────────────── transcription ─────────────────────────

type TranscribeTrackInput struct {
	TrackIndex int    `json:"track_index"`
	AudioURL   string `json:"audio_url"`
	Language   string `json:"language"`
}

type TranscribeTrackResult struct {
	Words []types.Word `json:"words"`
}

// TranscribeTrack sends one padded track to the transcription service and
// labels every word with the track index. Zero words on a quiet track is a
// valid result, not a failure; assembly rejects the case where every track
// came back empty.
func (a *Activities) TranscribeTrack(ctx context.Context, in TranscribeTrackInput) (TranscribeTrackResult, error) {
	res, err := a.deps.Transcriber.TranscribeURL(ctx, transcription.URLRequest{
		AudioFileURL: in.AudioURL,
		Language:     in.Language,
	})
	if err != nil {
		return TranscribeTrackResult{}, fmt.Errorf("pipeline: transcribe track %d: %w", in.TrackIndex, err)
	}

	words := make([]types.Word, len(res.Words))
	copy(words, res.Words)
	for i := range words {
		words[i].Speaker = in.TrackIndex
	}
	if len(words) == 0 {
		activity.GetLogger(ctx).Warn("track transcribed to zero words", "track", in.TrackIndex)
	}
	return TranscribeTrackResult{Words: words}, nil
}

// ───────────────────────── mixdown ─────────────────────────

type MixdownInput struct {
	TranscriptID string   `json:"transcript_id"`
	AudioURLs    []string `json:"audio_urls"`
}

type MixdownResult struct {
	AudioKey string  `json:"audio_key"`
	Duration float64 `json:"duration"`
	Size     int64   `json:"size"`
}

// Mixdown mixes all padded tracks into <transcript_id>/audio.mp3 in the
// processed-audio bucket, records the duration on the transcript, and
// publishes the DURATION and WAVEFORM events.
func (a *Activities) Mixdown(ctx context.Context, in MixdownInput) (MixdownResult, error) {
	if len(in.AudioURLs) == 0 {
		return MixdownResult{}, protocolError("mixdown of %s has no inputs", in.TranscriptID)
	}

	sampleRate := 0
	for _, url := range in.AudioURLs {
		rate, err := a.deps.FFmpeg.SampleRate(ctx, url)
		if err == nil && rate > 0 {
			sampleRate = rate
			break
		}
	}
	if sampleRate == 0 {
		return MixdownResult{}, protocolError("mixdown of %s: no decodable audio frames", in.TranscriptID)
	}
	activity.RecordHeartbeat(ctx, "probed")

	dir, err := os.MkdirTemp("", "reflector-mix-*")
	if err != nil {
		return MixdownResult{}, fmt.Errorf("pipeline: mixdown %s: %w", in.TranscriptID, err)
	}
	defer os.RemoveAll(dir)

	outPath := filepath.Join(dir, "audio.mp3")
	if err := a.deps.FFmpeg.Mixdown(ctx, in.AudioURLs, outPath, sampleRate); err != nil {
		return MixdownResult{}, fmt.Errorf("pipeline: mixdown %s: %w", in.TranscriptID, err)
	}
	activity.RecordHeartbeat(ctx, "mixed")

	duration, err := a.deps.FFmpeg.Duration(ctx, outPath)
	if err != nil {
		return MixdownResult{}, fmt.Errorf("pipeline: mixdown %s: %w", in.TranscriptID, err)
	}

	key := in.TranscriptID + "/audio.mp3"
	f, err := os.Open(outPath)
	if err != nil {
		return MixdownResult{}, fmt.Errorf("pipeline: mixdown %s: %w", in.TranscriptID, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return MixdownResult{}, fmt.Errorf("pipeline: mixdown %s: %w", in.TranscriptID, err)
	}
	if err := a.deps.Objects.Put(ctx, key, f, storage.WithContentType("audio/mpeg")); err != nil {
		return MixdownResult{}, fmt.Errorf("pipeline: upload mixdown %s: %w", in.TranscriptID, err)
	}
	activity.RecordHeartbeat(ctx, "uploaded")

	if err := a.deps.Transcripts.Update(ctx, in.TranscriptID,
		store.TranscriptPatch{Duration: &duration}); err != nil {
		return MixdownResult{}, fmt.Errorf("pipeline: record duration %s: %w", in.TranscriptID, err)
	}
	if err := a.emit(ctx, in.TranscriptID, types.EventDuration,
		map[string]float64{"duration": duration}); err != nil {
		return MixdownResult{}, err
	}

	// Waveform peaks are decoration; a probe failure must not sink the stage.
	if peaks, err := a.deps.FFmpeg.ExtractPeaks(ctx, outPath, waveformBuckets); err != nil {
		a.deps.Log.Warn("waveform extraction failed",
			"transcript_id", in.TranscriptID, "error", err)
	} else if err := a.emit(ctx, in.TranscriptID, types.EventWaveform,
		map[string][]float64{"waveform": peaks}); err != nil {
		return MixdownResult{}, err
	}

	return MixdownResult{AudioKey: key, Duration: duration, Size: info.Size()}, nil
}

// ───────────────────────── assembly ─────────────────────────

type AssembleInput struct {
	TranscriptID string       `json:"transcript_id"`
	AudioKey     string       `json:"audio_key"`
	Words        []types.Word `json:"words"`
}

type AssembleResult struct {
	Words []types.Word `json:"words"`
}

// Assemble diarizes the mixdown and folds speaker labels into the merged
// word list, then renders and stores the WebVTT document and publishes the
// TRANSCRIPT event.
func (a *Activities) Assemble(ctx context.Context, in AssembleInput) (AssembleResult, error) {
	if len(in.Words) == 0 {
		return AssembleResult{}, protocolError("transcript %s has no words to assemble", in.TranscriptID)
	}

	audioURL, err := a.deps.Objects.Presign(ctx, in.AudioKey, a.deps.PresignExpiry)
	if err != nil {
		return AssembleResult{}, fmt.Errorf("pipeline: assemble %s: %w", in.TranscriptID, err)
	}
	segments, err := a.deps.Diarizer.Diarize(ctx, diarization.Request{AudioFileURL: audioURL})
	if err != nil {
		return AssembleResult{}, fmt.Errorf("pipeline: diarize %s: %w", in.TranscriptID, err)
	}
	activity.RecordHeartbeat(ctx, "diarized")
	words := assignSpeakers(in.Words, segments)

	vtt := renderWebVTT(words)
	if err := a.deps.Transcripts.Update(ctx, in.TranscriptID,
		store.TranscriptPatch{WebVTT: &vtt}); err != nil {
		return AssembleResult{}, fmt.Errorf("pipeline: store webvtt %s: %w", in.TranscriptID, err)
	}
	if err := a.emit(ctx, in.TranscriptID, types.EventTranscript,
		map[string]any{"words": words}); err != nil {
		return AssembleResult{}, err
	}
	return AssembleResult{Words: words}, nil
}

// ───────────────────────── topics ─────────────────────────

type DetectTopicsInput struct {
	TranscriptID string       `json:"transcript_id"`
	Words        []types.Word `json:"words"`
}

type DetectTopicsResult struct {
	Topics []types.Topic `json:"topics"`
}

type topicReply struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

const topicPrompt = "You segment meeting transcripts. For the following passage, reply with a JSON object " +
	"{\"title\": \"...\", \"summary\": \"...\"} naming the single main topic and summarising it in at most " +
	"three sentences.\n\nPassage:\n" + llm.ContentPlaceholder

// DetectTopics splits the word list into fixed-size chunks and asks the
// model for a title and summary per chunk, in order. Every topic is emitted
// as a TOPIC event as soon as it exists, then the full list is stored.
func (a *Activities) DetectTopics(ctx context.Context, in DetectTopicsInput) (DetectTopicsResult, error) {
	chunks := chunkWords(in.Words, a.deps.TopicWords)
	if len(chunks) == 0 {
		return DetectTopicsResult{}, protocolError("transcript %s has no words for topics", in.TranscriptID)
	}

	topics := make([]types.Topic, 0, len(chunks))
	for i, chunk := range chunks {
		text := wordsText(chunk)
		reply, err := llm.Structured[topicReply](ctx, a.deps.Coordinator, llm.StructuredRequest{
			UserPrompt: render(topicPrompt, text),
		}, func(r *topicReply) error {
			if r.Title == "" {
				return fmt.Errorf("title must not be empty")
			}
			return nil
		})
		if err != nil {
			return DetectTopicsResult{}, fmt.Errorf("pipeline: topic chunk %d of %s: %w", i, in.TranscriptID, err)
		}

		topic := types.Topic{
			ID:         uuid.NewString(),
			Title:      reply.Title,
			Summary:    reply.Summary,
			Timestamp:  chunk[0].Start,
			Duration:   chunk[len(chunk)-1].End - chunk[0].Start,
			Transcript: text,
			Words:      chunk,
		}
		topics = append(topics, topic)

		if err := a.emit(ctx, in.TranscriptID, types.EventTopic, topic); err != nil {
			return DetectTopicsResult{}, err
		}
		activity.RecordHeartbeat(ctx, i+1)
	}

	if err := a.deps.Transcripts.Update(ctx, in.TranscriptID,
		store.TranscriptPatch{Topics: topics}); err != nil {
		return DetectTopicsResult{}, fmt.Errorf("pipeline: store topics %s: %w", in.TranscriptID, err)
	}
	return DetectTopicsResult{Topics: topics}, nil
}

// ───────────────────────── title & summaries ─────────────────────────

type FinalStagesInput struct {
	TranscriptID string        `json:"transcript_id"`
	Topics       []types.Topic `json:"topics"`
}

type TitleResult struct {
	Title string `json:"title"`
}

type titleReply struct {
	Title string `json:"title"`
}

const titlePrompt = "The following are the topics of one recorded meeting, in order. Reply with a JSON object " +
	"{\"title\": \"...\"} giving the meeting a single short title (at most eight words). Do not start with " +
	"lead-ins like \"Discussion about\".\n\n" + llm.ContentPlaceholder

// GenerateTitle produces the meeting title from the topic list, runs the
// title-casing pass, stores it and publishes FINAL_TITLE.
func (a *Activities) GenerateTitle(ctx context.Context, in FinalStagesInput) (TitleResult, error) {
	reply, err := llm.Structured[titleReply](ctx, a.deps.Coordinator, llm.StructuredRequest{
		UserPrompt: render(titlePrompt, topicNotes(in.Topics)),
	}, func(r *titleReply) error {
		if r.Title == "" {
			return fmt.Errorf("title must not be empty")
		}
		return nil
	})
	if err != nil {
		return TitleResult{}, fmt.Errorf("pipeline: title %s: %w", in.TranscriptID, err)
	}

	title := llm.TitleCase(reply.Title)
	if err := a.deps.Transcripts.Update(ctx, in.TranscriptID,
		store.TranscriptPatch{Title: &title, Name: &title}); err != nil {
		return TitleResult{}, fmt.Errorf("pipeline: store title %s: %w", in.TranscriptID, err)
	}
	if err := a.emit(ctx, in.TranscriptID, types.EventFinalTitle,
		map[string]string{"title": title}); err != nil {
		return TitleResult{}, err
	}
	return TitleResult{Title: title}, nil
}

type SummariesResult struct {
	ShortSummary string `json:"short_summary"`
	LongSummary  string `json:"long_summary"`
}

type summariesReply struct {
	ShortSummary string `json:"short_summary"`
	LongSummary  string `json:"long_summary"`
}

const summariesChunkPrompt = "Summarise the following section of a meeting transcript in one dense paragraph, " +
	"keeping decisions and action items. Reply with a JSON object {\"summary\": \"...\"}.\n\n" + llm.ContentPlaceholder

const summariesFinalPrompt = "The following are ordered section summaries of one meeting. Reply with a JSON object " +
	"{\"short_summary\": \"...\", \"long_summary\": \"...\"}: the short summary is at most two sentences, the long " +
	"summary a few paragraphs covering decisions and action items.\n\n" + llm.ContentPlaceholder

type chunkSummaryReply struct {
	Summary string `json:"summary"`
}

// GenerateSummaries produces the short and long summaries from the topic
// list. The corpus is chunked against the model's context budget; section
// summaries are folded into the final pair by one more call.
func (a *Activities) GenerateSummaries(ctx context.Context, in FinalStagesInput) (SummariesResult, error) {
	corpus := topicNotes(in.Topics)
	chunks, err := a.deps.Coordinator.ChunkText(summariesChunkPrompt, corpus)
	if err != nil {
		return SummariesResult{}, fmt.Errorf("pipeline: summaries %s: %w", in.TranscriptID, err)
	}

	notes := corpus
	if len(chunks) > 1 {
		sections := make([]string, 0, len(chunks))
		for i, chunk := range chunks {
			reply, err := llm.Structured[chunkSummaryReply](ctx, a.deps.Coordinator, llm.StructuredRequest{
				UserPrompt: render(summariesChunkPrompt, chunk),
			}, nil)
			if err != nil {
				return SummariesResult{}, fmt.Errorf("pipeline: summary chunk %d of %s: %w", i, in.TranscriptID, err)
			}
			sections = append(sections, reply.Summary)
			activity.RecordHeartbeat(ctx, i+1)
		}
		notes = strings.Join(sections, "\n\n")
	}

	reply, err := llm.Structured[summariesReply](ctx, a.deps.Coordinator, llm.StructuredRequest{
		UserPrompt: render(summariesFinalPrompt, notes),
	}, func(r *summariesReply) error {
		if r.ShortSummary == "" || r.LongSummary == "" {
			return fmt.Errorf("both summaries must be present")
		}
		return nil
	})
	if err != nil {
		return SummariesResult{}, fmt.Errorf("pipeline: summaries %s: %w", in.TranscriptID, err)
	}

	if err := a.deps.Transcripts.Update(ctx, in.TranscriptID, store.TranscriptPatch{
		ShortSummary: &reply.ShortSummary,
		LongSummary:  &reply.LongSummary,
	}); err != nil {
		return SummariesResult{}, fmt.Errorf("pipeline: store summaries %s: %w", in.TranscriptID, err)
	}
	if err := a.emit(ctx, in.TranscriptID, types.EventFinalShortSummary,
		map[string]string{"short_summary": reply.ShortSummary}); err != nil {
		return SummariesResult{}, err
	}
	if err := a.emit(ctx, in.TranscriptID, types.EventFinalLongSummary,
		map[string]string{"long_summary": reply.LongSummary}); err != nil {
		return SummariesResult{}, err
	}
	return SummariesResult{ShortSummary: reply.ShortSummary, LongSummary: reply.LongSummary}, nil
}

// ───────────────────────── status & DAG events ─────────────────────────

type SetStatusInput struct {
	TranscriptID string                 `json:"transcript_id"`
	Status       types.TranscriptStatus `json:"status"`
}

// SetStatus advances the transcript status machine and publishes the STATUS
// event. An already-advanced transcript (activity retry after a success) is
// tolerated.
func (a *Activities) SetStatus(ctx context.Context, in SetStatusInput) error {
	_, err := a.deps.Transcripts.UpdateStatus(ctx, in.TranscriptID, in.Status)
	if err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		return fmt.Errorf("pipeline: set status %s=%s: %w", in.TranscriptID, in.Status, err)
	}
	return a.emit(ctx, in.TranscriptID, types.EventStatus,
		map[string]string{"status": string(in.Status)})
}

type EnforceConsentInput struct {
	TranscriptID string `json:"transcript_id"`
}

// EnforceConsent applies the consent policy once the run reaches a terminal
// state: a denial from any participant purges the raw audio, success or
// failure of the pipeline notwithstanding.
func (a *Activities) EnforceConsent(ctx context.Context, in EnforceConsentInput) error {
	if a.deps.Cleaner == nil {
		return nil
	}
	return a.deps.Cleaner.EnforceConsent(ctx, in.TranscriptID)
}

type DagStatusInput struct {
	TranscriptID  string               `json:"transcript_id"`
	WorkflowRunID string               `json:"workflow_run_id"`
	Summaries     []engine.TaskSummary `json:"summaries"`
}

// PublishDagStatus projects the task table into ordered DagTasks and
// publishes the snapshot. Not persisted: the query handler is the durable
// source for late subscribers.
func (a *Activities) PublishDagStatus(ctx context.Context, in DagStatusInput) error {
	tasks, err := engine.Project(in.Summaries)
	if err != nil {
		return fmt.Errorf("pipeline: project dag of %s: %w", in.TranscriptID, err)
	}
	return a.deps.Publisher.PublishDagStatus(ctx, in.TranscriptID, in.WorkflowRunID, tasks)
}

// ───────────────────────── single-file audio ─────────────────────────

type PrepareAudioInput struct {
	TranscriptID string `json:"transcript_id"`
	BucketName   string `json:"bucket_name,omitempty"`
	ObjectKey    string `json:"object_key"`
}

type PrepareAudioResult struct {
	AudioKey string  `json:"audio_key"`
	AudioURL string  `json:"audio_url"`
	Duration float64 `json:"duration"`
}

// PrepareAudio normalises a single uploaded or composed recording into the
// canonical <transcript_id>/audio.mp3 object, reusing the mixdown path with
// one input, and publishes DURATION and WAVEFORM.
func (a *Activities) PrepareAudio(ctx context.Context, in PrepareAudioInput) (PrepareAudioResult, error) {
	var opts []storage.Option
	if in.BucketName != "" {
		opts = append(opts, storage.WithBucket(in.BucketName))
	}
	srcURL, err := a.deps.Objects.Presign(ctx, in.ObjectKey, a.deps.PresignExpiry, opts...)
	if err != nil {
		return PrepareAudioResult{}, fmt.Errorf("pipeline: presign source %s: %w", in.TranscriptID, err)
	}

	mix, err := a.Mixdown(ctx, MixdownInput{
		TranscriptID: in.TranscriptID,
		AudioURLs:    []string{srcURL},
	})
	if err != nil {
		return PrepareAudioResult{}, err
	}

	audioURL, err := a.deps.Objects.Presign(ctx, mix.AudioKey, a.deps.PresignExpiry)
	if err != nil {
		return PrepareAudioResult{}, fmt.Errorf("pipeline: presign audio %s: %w", in.TranscriptID, err)
	}
	return PrepareAudioResult{AudioKey: mix.AudioKey, AudioURL: audioURL, Duration: mix.Duration}, nil
}

// ───────────────────────── small helpers ─────────────────────────

// render substitutes the chunk into the prompt template.
func render(template, body string) string {
	return strings.ReplaceAll(template, llm.ContentPlaceholder, body)
}

func topicNotes(topics []types.Topic) string {
	sections := make([]string, 0, len(topics))
	for _, t := range topics {
		sections = append(sections, t.Title+": "+t.Summary)
	}
	return strings.Join(sections, "\n\n")
}
