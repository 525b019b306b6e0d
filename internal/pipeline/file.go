package pipeline

import (
	"time"

	"go.temporal.io/sdk/workflow"

	engine "github.com/reflector-media/reflector/internal/workflow"
	"github.com/reflector-media/reflector/pkg/types"
)

const taskTranscribeFile = "transcribe_file"

// FilePipeline processes a single audio object — a direct upload or a
// composed cloud recording. The source is normalised to the canonical
// mixdown key, transcribed in one shot, and then runs the same diarization,
// topic, title and summary tail as the multitrack pipeline.
func FilePipeline(ctx workflow.Context, cfg engine.FileConfig) error {
	tracker := newTaskTracker(func() time.Time { return workflow.Now(ctx) })
	tracker.add(taskPrepareAudio)
	tracker.add(taskTranscribeFile, taskPrepareAudio)
	tracker.add(taskAssemble, taskTranscribeFile)
	tracker.add(taskDetectTopics, taskAssemble)
	tracker.add(taskTitle, taskDetectTopics)
	tracker.add(taskSummaries, taskDetectTopics)
	tracker.add(taskFinalize, taskTitle, taskSummaries)

	run, err := newRun(ctx, cfg.TranscriptID, tracker)
	if err != nil {
		return err
	}

	var audio PrepareAudioResult
	if err := run.stage(taskPrepareAudio, mixdownTimeout, acts.PrepareAudio, PrepareAudioInput{
		TranscriptID: cfg.TranscriptID,
		BucketName:   cfg.BucketName,
		ObjectKey:    cfg.ObjectKey,
	}, &audio); err != nil {
		return run.failed(err)
	}

	var transcribed TranscribeTrackResult
	if err := run.stage(taskTranscribeFile, transcribeTimeout, acts.TranscribeTrack, TranscribeTrackInput{
		TrackIndex: 0,
		AudioURL:   audio.AudioURL,
		Language:   cfg.Language,
	}, &transcribed); err != nil {
		return run.failed(err)
	}

	var assembled AssembleResult
	if err := run.stage(taskAssemble, llmStageTimeout, acts.Assemble, AssembleInput{
		TranscriptID: cfg.TranscriptID,
		AudioKey:     audio.AudioKey,
		Words:        transcribed.Words,
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
