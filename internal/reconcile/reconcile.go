// Package reconcile links externally produced recordings to meetings and
// dispatches processing exactly once per recording.
//
// Recordings surface twice: webhooks announce them as they finish, and a
// periodic poller re-lists the recent window of the object store to catch
// dropped webhooks. Both paths funnel into [Reconciler.Reconcile]; the
// recording row's UNIQUE key is the only dispatch lock, so the webhook and
// the poller can race freely.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/reflector-media/reflector/internal/store"
	"github.com/reflector-media/reflector/internal/workflow"
	"github.com/reflector-media/reflector/pkg/types"
)

// MatchWindow bounds time-based meeting matching: a meeting qualifies when
// its start lies within one week of the recording timestamp, either side.
// Boundaries are inclusive; recordings slightly before the meeting start
// (clock skew, early join) are expected.
const MatchWindow = 168 * time.Hour

// Discovered is one recording reported by a webhook or found by the poller.
type Discovered struct {
	RecordingID string
	BucketName  string
	RoomName    string
	ObjectKey   string

	// TrackKeys is nil for composed (cloud) recordings. Non-nil declares
	// multitrack intent; an empty non-nil list is a hard error.
	TrackKeys []string

	RecordedAt time.Time
	Type       types.RecordingType
}

// Dispatcher is the slice of the workflow dispatcher the reconciler needs.
type Dispatcher interface {
	Validate(ctx context.Context, tr *types.Transcript) (*workflow.Validation, error)
	Prepare(ctx context.Context, v *workflow.Validation) (workflow.Config, error)
	Dispatch(ctx context.Context, cfg workflow.Config, force bool) (workflow.DispatchResult, error)
}

// Reconciler resolves discovered recordings to meetings and owns the
// create-transcript-and-dispatch step.
type Reconciler struct {
	transcripts store.TranscriptStore
	meetings    store.MeetingStore
	recordings  store.RecordingStore
	requests    store.RecordingRequestStore
	dispatcher  Dispatcher
	window      time.Duration
	log         *slog.Logger
}

// NewReconciler creates a Reconciler with the default matching window.
func NewReconciler(
	transcripts store.TranscriptStore,
	meetings store.MeetingStore,
	recordings store.RecordingStore,
	requests store.RecordingRequestStore,
	dispatcher Dispatcher,
	log *slog.Logger,
) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		transcripts: transcripts,
		meetings:    meetings,
		recordings:  recordings,
		requests:    requests,
		dispatcher:  dispatcher,
		window:      MatchWindow,
		log:         log.With("component", "reconcile"),
	}
}

// Reconcile processes one discovered recording end to end: validate, match a
// meeting, win or lose the creation race, and dispatch the pipeline. Losing
// the race and failing to match are both quiet outcomes, not errors.
func (r *Reconciler) Reconcile(ctx context.Context, d Discovered) error {
	if err := validate(d); err != nil {
		return err
	}

	meetingID, matched, err := r.resolveMeeting(ctx, d)
	if err != nil {
		return err
	}
	if !matched {
		if err := r.recordings.CreateOrphan(ctx, &types.Recording{
			ID:         d.RecordingID,
			BucketName: d.BucketName,
			RoomName:   d.RoomName,
			ObjectKey:  d.ObjectKey,
			TrackKeys:  d.TrackKeys,
			RecordedAt: d.RecordedAt,
		}); err != nil {
			return fmt.Errorf("reconcile: orphan %s: %w", d.RecordingID, err)
		}
		r.log.Warn("recording matched no meeting, recorded as orphan",
			"recording_id", d.RecordingID, "room_name", d.RoomName)
		return nil
	}

	if d.Type == types.RecordingCloud {
		won, err := r.meetings.SetCloudRecordingIfMissing(ctx, meetingID, d.ObjectKey)
		if err != nil {
			return fmt.Errorf("reconcile: cloud key for meeting %s: %w", meetingID, err)
		}
		if !won {
			r.log.Debug("cloud recording key already set", "meeting_id", meetingID)
		}
	}

	created, err := r.recordings.TryCreateWithMeeting(ctx, &types.Recording{
		ID:         d.RecordingID,
		BucketName: d.BucketName,
		RoomName:   d.RoomName,
		ObjectKey:  d.ObjectKey,
		TrackKeys:  d.TrackKeys,
		RecordedAt: d.RecordedAt,
		MeetingID:  &meetingID,
		Status:     types.RecordingPending,
	})
	if err != nil {
		return fmt.Errorf("reconcile: create recording %s: %w", d.RecordingID, err)
	}
	if !created {
		r.log.Debug("recording already reconciled", "recording_id", d.RecordingID)
		return nil
	}

	meeting, err := r.meetings.Get(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("reconcile: meeting %s: %w", meetingID, err)
	}

	recordingID := d.RecordingID
	tr := &types.Transcript{
		ID:          uuid.NewString(),
		Name:        meeting.RoomName + " " + d.RecordedAt.UTC().Format("2006-01-02 15:04"),
		Status:      types.StatusUploaded,
		Source:      types.SourceRoom,
		Share:       types.SharePrivate,
		RoomID:      &meeting.RoomID,
		MeetingID:   &meetingID,
		RecordingID: &recordingID,
	}
	if err := r.transcripts.Create(ctx, tr); err != nil {
		return fmt.Errorf("reconcile: create transcript for %s: %w", d.RecordingID, err)
	}

	return r.dispatch(ctx, tr, false)
}

// Redispatch re-runs the pipeline for an already-reconciled recording, e.g.
// an operator retry after a terminal failure.
func (r *Reconciler) Redispatch(ctx context.Context, recordingID string, force bool) error {
	tr, err := r.transcripts.GetByRecordingID(ctx, recordingID)
	if err != nil {
		return fmt.Errorf("reconcile: redispatch %s: %w", recordingID, err)
	}
	return r.dispatch(ctx, tr, force)
}

func (r *Reconciler) dispatch(ctx context.Context, tr *types.Transcript, force bool) error {
	v, err := r.dispatcher.Validate(ctx, tr)
	if err != nil {
		return fmt.Errorf("reconcile: validate %s: %w", tr.ID, err)
	}
	if v.Outcome != workflow.ValidationOk {
		r.log.Info("dispatch skipped", "transcript_id", tr.ID, "outcome", v.Outcome.String())
		return nil
	}
	cfg, err := r.dispatcher.Prepare(ctx, v)
	if err != nil {
		return fmt.Errorf("reconcile: prepare %s: %w", tr.ID, err)
	}
	res, err := r.dispatcher.Dispatch(ctx, cfg, force)
	if err != nil {
		return fmt.Errorf("reconcile: dispatch %s: %w", tr.ID, err)
	}
	r.log.Info("pipeline dispatched", "transcript_id", tr.ID, "result", res.String())
	return nil
}

// resolveMeeting finds the meeting a recording belongs to: the request
// ledger wins, time-based matching is the fallback.
func (r *Reconciler) resolveMeeting(ctx context.Context, d Discovered) (string, bool, error) {
	req, err := r.requests.GetByRecordingID(ctx, d.RecordingID)
	switch {
	case err == nil:
		return req.MeetingID, true, nil
	case !errors.Is(err, store.ErrNotFound):
		return "", false, fmt.Errorf("reconcile: request lookup %s: %w", d.RecordingID, err)
	}

	if d.RoomName == "" {
		return "", false, nil
	}
	meetings, err := r.meetings.FindByRoomNameAround(ctx, d.RoomName, d.RecordedAt, r.window)
	if err != nil {
		return "", false, fmt.Errorf("reconcile: meeting search %s: %w", d.RoomName, err)
	}
	if len(meetings) == 0 {
		return "", false, nil
	}
	return closestMeeting(meetings, d.RecordedAt).ID, true, nil
}

// closestMeeting picks the meeting minimising |start_date − at|, breaking
// ties on the lexicographically smaller id so concurrent reconcilers agree.
func closestMeeting(meetings []types.Meeting, at time.Time) types.Meeting {
	best := meetings[0]
	bestDist := absDuration(best.StartDate.Sub(at))
	for _, m := range meetings[1:] {
		dist := absDuration(m.StartDate.Sub(at))
		if dist < bestDist || (dist == bestDist && m.ID < best.ID) {
			best = m
			bestDist = dist
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func validate(d Discovered) error {
	if d.RecordingID == "" {
		return errors.New("reconcile: recording id is required")
	}
	if d.TrackKeys != nil && len(d.TrackKeys) == 0 {
		return fmt.Errorf("reconcile: recording %s declares multitrack intent with an empty track list", d.RecordingID)
	}
	if len(d.TrackKeys) > 0 && d.BucketName == "" {
		return fmt.Errorf("reconcile: recording %s has track keys but no bucket", d.RecordingID)
	}
	return nil
}
