package pipeline

import (
	"time"

	"go.temporal.io/sdk/workflow"

	engine "github.com/reflector-media/reflector/internal/workflow"
	"github.com/reflector-media/reflector/pkg/types"
)

// DiarizationPipeline turns a multitrack recording into a finished
// transcript.
//
// Each track is padded onto the meeting clock and transcribed, all pads feed
// the mixdown, and the merged word list is diarized against the mixed audio
// before the LLM stages run. One failed track fails the pipeline: assembly
// needs every participant present, a partial transcript would silently drop
// speakers.
func DiarizationPipeline(ctx workflow.Context, cfg engine.MultitrackConfig) error {
	n := len(cfg.TrackKeys)
	if n == 0 {
		return protocolError("transcript %s dispatched without track keys", cfg.TranscriptID)
	}

	tracker := newTaskTracker(func() time.Time { return workflow.Now(ctx) })
	tracker.add(taskGetRecording)
	padNames := make([]string, n)
	transNames := make([]string, n)
	for i := range cfg.TrackKeys {
		padNames[i] = padTaskName(i)
		tracker.add(padNames[i], taskGetRecording)
	}
	tracker.add(taskMixdown, padNames...)
	for i := range cfg.TrackKeys {
		transNames[i] = transcribeTaskName(i)
		tracker.add(transNames[i], padNames[i])
	}
	tracker.add(taskMerge, transNames...)
	tracker.add(taskAssemble, taskMerge, taskMixdown)
	tracker.add(taskDetectTopics, taskAssemble)
	tracker.add(taskTitle, taskDetectTopics)
	tracker.add(taskSummaries, taskDetectTopics)
	tracker.add(taskFinalize, taskTitle, taskSummaries)

	run, err := newRun(ctx, cfg.TranscriptID, tracker)
	if err != nil {
		return err
	}

	var rec GetRecordingResult
	if err := run.stage(taskGetRecording, storeTimeout, acts.GetRecording, GetRecordingInput{
		TranscriptID: cfg.TranscriptID,
		RecordingID:  cfg.RecordingID,
	}, &rec); err != nil {
		return run.failed(err)
	}
	if len(rec.TrackKeys) != n {
		// The task graph is sized from the dispatch config; a recording whose
		// track list changed since then needs a fresh dispatch.
		return run.failed(protocolError("recording %s track list changed (%d != %d)",
			cfg.RecordingID, len(rec.TrackKeys), n))
	}

	// Pad all tracks in parallel.
	padCtx := workflow.WithActivityOptions(ctx, stageOptions(padTrackTimeout))
	padFutures := make([]workflow.Future, n)
	for i, key := range rec.TrackKeys {
		tracker.start(padNames[i])
		padFutures[i] = workflow.ExecuteActivity(padCtx, acts.PadTrack, PadTrackInput{
			TranscriptID: cfg.TranscriptID,
			BucketName:   rec.BucketName,
			TrackKey:     key,
			TrackIndex:   i,
		})
	}
	run.publish()

	paddedURLs := make([]string, n)
	for i := range padFutures {
		var res PadTrackResult
		if err := padFutures[i].Get(ctx, &res); err != nil {
			tracker.fail(padNames[i], err)
			return run.failed(err)
		}
		paddedURLs[res.TrackIndex] = res.PaddedURL
		tracker.complete(padNames[i])
	}
	run.publish()

	// The mixdown needs only the pads; transcription runs alongside it.
	mixCtx := workflow.WithActivityOptions(ctx, stageOptions(mixdownTimeout))
	tracker.start(taskMixdown)
	mixFuture := workflow.ExecuteActivity(mixCtx, acts.Mixdown, MixdownInput{
		TranscriptID: cfg.TranscriptID,
		AudioURLs:    paddedURLs,
	})

	transCtx := workflow.WithActivityOptions(ctx, stageOptions(transcribeTimeout))
	transFutures := make([]workflow.Future, n)
	for i := range paddedURLs {
		tracker.start(transNames[i])
		transFutures[i] = workflow.ExecuteActivity(transCtx, acts.TranscribeTrack, TranscribeTrackInput{
			TrackIndex: i,
			AudioURL:   paddedURLs[i],
			Language:   cfg.Language,
		})
	}
	run.publish()

	trackWords := make([][]types.Word, n)
	for i := range transFutures {
		var res TranscribeTrackResult
		if err := transFutures[i].Get(ctx, &res); err != nil {
			tracker.fail(transNames[i], err)
			return run.failed(err)
		}
		trackWords[i] = res.Words
		tracker.complete(transNames[i])
	}

	// Merge is pure workflow code but still a visible task.
	tracker.start(taskMerge)
	merged := mergeWords(trackWords)
	tracker.complete(taskMerge)
	run.publish()

	var mix MixdownResult
	if err := mixFuture.Get(ctx, &mix); err != nil {
		tracker.fail(taskMixdown, err)
		return run.failed(err)
	}
	tracker.complete(taskMixdown)
	run.publish()

	var assembled AssembleResult
	if err := run.stage(taskAssemble, llmStageTimeout, acts.Assemble, AssembleInput{
		TranscriptID: cfg.TranscriptID,
		AudioKey:     mix.AudioKey,
		Words:        merged,
	}, &assembled); err != nil {
		return run.failed(err)
	}

	var topics DetectTopicsResult
	if err := run.stage(taskDetectTopics, llmStageTimeout, acts.DetectTopics, DetectTopicsInput{
		TranscriptID: cfg.TranscriptID,
		Words:        assembled.Words,
	}, &topics); err != nil {
		return run.failed(err)
	}
	tracker.setFanOut(taskDetectTopics, len(topics.Topics), len(topics.Topics))

	if err := runFinalStages(run, cfg.TranscriptID, topics.Topics); err != nil {
		return run.failed(err)
	}

	if err := run.stage(taskFinalize, storeTimeout, acts.SetStatus, SetStatusInput{
		TranscriptID: cfg.TranscriptID,
		Status:       types.StatusEnded,
	}, nil); err != nil {
		return run.failed(err)
	}
	run.enforceConsent()
	return nil
}

// runFinalStages executes title and summaries in parallel; both consume the
// topic list only.
func runFinalStages(run *pipelineRun, transcriptID string, topics []types.Topic) error {
	in := FinalStagesInput{TranscriptID: transcriptID, Topics: topics}
	llmCtx := workflow.WithActivityOptions(run.ctx, stageOptions(llmStageTimeout))

	run.tracker.start(taskTitle)
	titleFuture := workflow.ExecuteActivity(llmCtx, acts.GenerateTitle, in)
	run.tracker.start(taskSummaries)
	summariesFuture := workflow.ExecuteActivity(llmCtx, acts.GenerateSummaries, in)
	run.publish()

	if err := titleFuture.Get(run.ctx, nil); err != nil {
		run.tracker.fail(taskTitle, err)
		return err
	}
	run.tracker.complete(taskTitle)
	if err := summariesFuture.Get(run.ctx, nil); err != nil {
		run.tracker.fail(taskSummaries, err)
		return err
	}
	run.tracker.complete(taskSummaries)
	run.publish()
	return nil
}
