// Package cleanup enforces the consent policy on raw audio and runs the
// public-mode retention sweep.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/reflector-media/reflector/internal/store"
	"github.com/reflector-media/reflector/pkg/storage"
	"github.com/reflector-media/reflector/pkg/types"
)

// Cleaner deletes a recording's raw audio when any participant of its
// meeting denied consent.
type Cleaner struct {
	transcripts store.TranscriptStore
	recordings  store.RecordingStore
	consents    store.ConsentStore
	objects     storage.ObjectStore
	log         *slog.Logger
}

// NewCleaner creates a Cleaner.
func NewCleaner(transcripts store.TranscriptStore, recordings store.RecordingStore, consents store.ConsentStore, objects storage.ObjectStore, log *slog.Logger) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	return &Cleaner{
		transcripts: transcripts,
		recordings:  recordings,
		consents:    consents,
		objects:     objects,
		log:         log.With("component", "cleanup"),
	}
}

// EnforceConsent checks the transcript's meeting for a consent denial and,
// if one exists, deletes every raw audio object of its recording.
// audio_deleted is only set once all deletes succeeded, so a partial failure
// is retried in full on the next call.
func (c *Cleaner) EnforceConsent(ctx context.Context, transcriptID string) error {
	tr, err := c.transcripts.Get(ctx, transcriptID)
	if err != nil {
		return fmt.Errorf("cleanup: get transcript: %w", err)
	}
	if tr.AudioDeleted {
		return nil
	}
	if tr.MeetingID == nil || tr.RecordingID == nil {
		// Uploads and live sessions have no consent surface.
		return nil
	}

	denied, err := c.consents.HasDenial(ctx, *tr.MeetingID)
	if err != nil {
		return fmt.Errorf("cleanup: consent lookup: %w", err)
	}
	if !denied {
		return nil
	}

	rec, err := c.recordings.Get(ctx, *tr.RecordingID)
	if err != nil {
		return fmt.Errorf("cleanup: get recording: %w", err)
	}

	if err := c.purgeRecording(ctx, rec); err != nil {
		return err
	}

	deleted := true
	if err := c.transcripts.Update(ctx, tr.ID, store.TranscriptPatch{AudioDeleted: &deleted}); err != nil {
		return fmt.Errorf("cleanup: mark audio deleted: %w", err)
	}
	c.log.Info("raw audio purged after consent denial",
		"transcript_id", tr.ID, "recording_id", rec.ID)
	return nil
}

// purgeRecording deletes every raw object of the recording. All keys are
// attempted even when one fails; the combined error is returned so no
// failure hides behind an earlier one.
func (c *Cleaner) purgeRecording(ctx context.Context, rec *types.Recording) error {
	keys := rec.TrackKeys
	if len(keys) == 0 {
		keys = []string{rec.ObjectKey}
	}

	var opts []storage.Option
	if rec.BucketName != "" {
		opts = append(opts, storage.WithBucket(rec.BucketName))
	}

	var errs []error
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := c.objects.Delete(ctx, key, opts...); err != nil {
			errs = append(errs, fmt.Errorf("cleanup: delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
