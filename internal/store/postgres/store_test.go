package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reflector-media/reflector/internal/store"
	"github.com/reflector-media/reflector/internal/store/postgres"
	"github.com/reflector-media/reflector/pkg/types"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if REFLECTOR_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("REFLECTOR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("REFLECTOR_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
// It calls t.Cleanup to close the store when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	st, err := postgres.New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}

// dropSchema removes all tables created by Migrate in reverse dependency order.
func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS calendar_events CASCADE",
		"DROP TABLE IF EXISTS consents CASCADE",
		"DROP TABLE IF EXISTS participant_sessions CASCADE",
		"DROP TABLE IF EXISTS recording_requests CASCADE",
		"DROP TABLE IF EXISTS recordings CASCADE",
		"DROP TABLE IF EXISTS meetings CASCADE",
		"DROP TABLE IF EXISTS rooms CASCADE",
		"DROP TABLE IF EXISTS transcript_events CASCADE",
		"DROP TABLE IF EXISTS transcripts CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

func mustCreateRoom(t *testing.T, ctx context.Context, st *postgres.Store, id, name string) {
	t.Helper()
	err := st.Rooms().Create(ctx, &types.Room{
		ID: id, Name: name, Platform: "whereby", RecordingType: "local",
	})
	if err != nil {
		t.Fatalf("create room %s: %v", id, err)
	}
}

func mustCreateMeeting(t *testing.T, ctx context.Context, st *postgres.Store, m types.Meeting) {
	t.Helper()
	if m.StartDate.IsZero() {
		m.StartDate = time.Now()
	}
	if err := st.Meetings().Create(ctx, &m); err != nil {
		t.Fatalf("create meeting %s: %v", m.ID, err)
	}
}

func strPtr(s string) *string { return &s }

// ─────────────────────────────────────────────────────────────────────────────
// Transcripts
// ─────────────────────────────────────────────────────────────────────────────

func TestTranscriptCreateGetUpdate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := st.Transcripts()

	tr := &types.Transcript{
		ID:            "tr-1",
		Name:          "Weekly sync",
		Status:        types.StatusIdle,
		Source:        types.SourceFile,
		Share:         types.SharePrivate,
		AudioLocation: types.AudioS3,
		Language:      "en",
	}
	if err := ts.Create(ctx, tr); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := ts.Get(ctx, tr.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != tr.Name || got.Status != types.StatusIdle {
		t.Errorf("Get: want %q/%s, got %q/%s", tr.Name, types.StatusIdle, got.Name, got.Status)
	}
	if got.Topics != nil && len(got.Topics) != 0 {
		t.Errorf("Topics: want empty, got %v", got.Topics)
	}

	// Patch a few fields; untouched fields survive.
	dur := 123.5
	patch := store.TranscriptPatch{
		Title:    strPtr("Q3 Planning"),
		Duration: &dur,
		Topics: []types.Topic{
			{ID: "t1", Title: "Budget", Timestamp: 0, Duration: 60, Words: []types.Word{
				{Text: "hello", Start: 0.1, End: 0.4, Speaker: 0},
			}},
		},
		WorkflowRunID: strPtr("run-42"),
	}
	if err := ts.Update(ctx, tr.ID, patch); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err = ts.Get(ctx, tr.ID)
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got.Title != "Q3 Planning" {
		t.Errorf("Title: want Q3 Planning, got %q", got.Title)
	}
	if got.Duration == nil || *got.Duration != dur {
		t.Errorf("Duration: want %v, got %v", dur, got.Duration)
	}
	if got.Name != tr.Name {
		t.Errorf("Name should be untouched, got %q", got.Name)
	}
	if len(got.Topics) != 1 || len(got.Topics[0].Words) != 1 {
		t.Errorf("Topics round-trip: got %+v", got.Topics)
	}
	if got.WorkflowRunID == nil || *got.WorkflowRunID != "run-42" {
		t.Errorf("WorkflowRunID: want run-42, got %v", got.WorkflowRunID)
	}

	// ClearWorkflowRun wins over a set WorkflowRunID.
	if err := ts.Update(ctx, tr.ID, store.TranscriptPatch{ClearWorkflowRun: true}); err != nil {
		t.Fatalf("Update clear: %v", err)
	}
	got, _ = ts.Get(ctx, tr.ID)
	if got.WorkflowRunID != nil {
		t.Errorf("WorkflowRunID: want nil after clear, got %v", got.WorkflowRunID)
	}

	// Unknown id.
	if _, err := ts.Get(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get missing: want ErrNotFound, got %v", err)
	}
	if err := ts.Update(ctx, "nope", patch); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Update missing: want ErrNotFound, got %v", err)
	}
}

func TestTranscriptStatusTransitions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := st.Transcripts()

	create := func(id string, status types.TranscriptStatus) {
		t.Helper()
		err := ts.Create(ctx, &types.Transcript{
			ID: id, Status: status, Source: types.SourceFile,
			Share: types.SharePrivate, AudioLocation: types.AudioLocal,
		})
		if err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	// Forward path idle → uploaded → processing → ended.
	create("st-1", types.StatusIdle)
	for _, to := range []types.TranscriptStatus{
		types.StatusUploaded, types.StatusProcessing, types.StatusEnded,
	} {
		got, err := ts.UpdateStatus(ctx, "st-1", to)
		if err != nil {
			t.Fatalf("UpdateStatus(%s): %v", to, err)
		}
		if got.Status != to {
			t.Errorf("UpdateStatus(%s): returned status %s", to, got.Status)
		}
	}

	// ended → processing is not allowed.
	if _, err := ts.UpdateStatus(ctx, "st-1", types.StatusProcessing); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("ended→processing: want ErrInvalidTransition, got %v", err)
	}

	// Any state may report an error, and error → error stays idempotent.
	if _, err := ts.UpdateStatus(ctx, "st-1", types.StatusError); err != nil {
		t.Fatalf("ended→error: %v", err)
	}
	if _, err := ts.UpdateStatus(ctx, "st-1", types.StatusError); err != nil {
		t.Errorf("error→error: want idempotent success, got %v", err)
	}

	// Reprocess: error → processing.
	if _, err := ts.UpdateStatus(ctx, "st-1", types.StatusProcessing); err != nil {
		t.Errorf("error→processing: %v", err)
	}

	// Skipping a stage is rejected.
	create("st-2", types.StatusIdle)
	if _, err := ts.UpdateStatus(ctx, "st-2", types.StatusEnded); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("idle→ended: want ErrInvalidTransition, got %v", err)
	}

	// Missing transcript is a distinct error.
	if _, err := ts.UpdateStatus(ctx, "missing", types.StatusUploaded); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing: want ErrNotFound, got %v", err)
	}
}

func TestTranscriptEventsOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := st.Transcripts()

	if err := ts.Create(ctx, &types.Transcript{
		ID: "ev-1", Status: types.StatusIdle, Source: types.SourceLive,
		Share: types.SharePrivate, AudioLocation: types.AudioLocal,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	appended := []struct {
		event string
		data  string
	}{
		{types.EventStatus, `{"status":"processing"}`},
		{types.EventTopic, `{"title":"Intro"}`},
		{types.EventFinalTitle, `{"title":"Kickoff"}`},
		{types.EventDuration, ""}, // empty payload normalised to {}
	}
	var lastSeq int64
	for _, a := range appended {
		seq, err := ts.AppendEvent(ctx, "ev-1", a.event, []byte(a.data))
		if err != nil {
			t.Fatalf("AppendEvent %s: %v", a.event, err)
		}
		if seq <= lastSeq {
			t.Errorf("AppendEvent %s: seq %d not increasing (last %d)", a.event, seq, lastSeq)
		}
		lastSeq = seq
	}

	events, err := ts.Events(ctx, "ev-1")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != len(appended) {
		t.Fatalf("Events: want %d, got %d", len(appended), len(events))
	}
	for i, a := range appended {
		if events[i].Event != a.event {
			t.Errorf("event[%d]: want %s, got %s", i, a.event, events[i].Event)
		}
	}
	if string(events[3].Data) != "{}" {
		t.Errorf("empty payload: want {}, got %s", events[3].Data)
	}

	// A different transcript sees nothing.
	other, err := ts.Events(ctx, "ev-other")
	if err != nil {
		t.Fatalf("Events other: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Events other: want 0, got %d", len(other))
	}
}

func TestTranscriptSearch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := st.Transcripts()

	seed := []types.Transcript{
		{ID: "s-1", Title: "Quarterly budget review", UserID: strPtr("alice"),
			Share: types.SharePrivate},
		{ID: "s-2", Title: "Budget overruns discussion", UserID: strPtr("bob"),
			Share: types.SharePublic},
		{ID: "s-3", Title: "Engineering standup", UserID: strPtr("bob"),
			Share:  types.SharePrivate,
			Topics: []types.Topic{{ID: "t-1", Title: "Kubernetes migration"}}},
	}
	for i := range seed {
		seed[i].Status = types.StatusEnded
		seed[i].Source = types.SourceFile
		seed[i].AudioLocation = types.AudioLocal
		if err := ts.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("Create %s: %v", seed[i].ID, err)
		}
	}

	// Unrestricted search matches both budget transcripts.
	all, err := ts.Search(ctx, "budget", nil, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Search budget: want 2, got %d", len(all))
	}

	// alice sees her own plus bob's public one.
	scoped, err := ts.Search(ctx, "budget", strPtr("alice"), 10)
	if err != nil {
		t.Fatalf("Search scoped: %v", err)
	}
	if len(scoped) != 2 {
		t.Errorf("Search scoped: want 2, got %d", len(scoped))
	}

	// Topic titles are part of the search projection.
	byTopic, err := ts.Search(ctx, "kubernetes", strPtr("bob"), 10)
	if err != nil {
		t.Fatalf("Search topic: %v", err)
	}
	if len(byTopic) != 1 || byTopic[0].ID != "s-3" {
		t.Errorf("Search topic: want s-3, got %+v", byTopic)
	}

	// alice cannot see bob's private standup.
	hidden, err := ts.Search(ctx, "standup", strPtr("alice"), 10)
	if err != nil {
		t.Fatalf("Search hidden: %v", err)
	}
	if len(hidden) != 0 {
		t.Errorf("Search hidden: want 0, got %d", len(hidden))
	}
}

func TestDeleteExpiredCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mustCreateRoom(t, ctx, st, "room-1", "standup")
	mustCreateMeeting(t, ctx, st, types.Meeting{
		ID: "m-1", RoomName: "standup", RoomID: "room-1", IsActive: false,
	})
	ok, err := st.Recordings().TryCreateWithMeeting(ctx, &types.Recording{
		ID: "rec-1", RoomName: "standup", RecordedAt: time.Now(),
		MeetingID: strPtr("m-1"), Status: types.RecordingPending,
	})
	if err != nil || !ok {
		t.Fatalf("TryCreateWithMeeting: ok=%v err=%v", ok, err)
	}
	if err := st.Sessions().Upsert(ctx, &types.ParticipantSession{
		MeetingID: "m-1", SessionID: "sess-1", UserName: "Alice",
		JoinedAt: time.Now(),
	}); err != nil {
		t.Fatalf("session upsert: %v", err)
	}

	old := &types.Transcript{
		ID: "exp-1", Status: types.StatusEnded, Source: types.SourceRoom,
		Share: types.SharePrivate, AudioLocation: types.AudioS3,
		MeetingID: strPtr("m-1"), RecordingID: strPtr("rec-1"),
	}
	if err := st.Transcripts().Create(ctx, old); err != nil {
		t.Fatalf("Create expired: %v", err)
	}
	// An owned transcript of the same age must survive the sweep.
	owned := &types.Transcript{
		ID: "own-1", Status: types.StatusEnded, Source: types.SourceFile,
		Share: types.SharePrivate, AudioLocation: types.AudioLocal,
		UserID: strPtr("alice"),
	}
	if err := st.Transcripts().Create(ctx, owned); err != nil {
		t.Fatalf("Create owned: %v", err)
	}

	n, err := st.Transcripts().DeleteExpired(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired: want 1, got %d", n)
	}

	if _, err := st.Transcripts().Get(ctx, "exp-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expired transcript: want ErrNotFound, got %v", err)
	}
	if _, err := st.Transcripts().Get(ctx, "own-1"); err != nil {
		t.Errorf("owned transcript should survive: %v", err)
	}
	if _, err := st.Meetings().Get(ctx, "m-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("meeting: want ErrNotFound, got %v", err)
	}
	if _, err := st.Recordings().Get(ctx, "rec-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("recording: want ErrNotFound, got %v", err)
	}
	// Sessions cascade from the meeting delete.
	total, err := st.Sessions().CountTotal(ctx, "m-1")
	if err != nil {
		t.Fatalf("CountTotal: %v", err)
	}
	if total != 0 {
		t.Errorf("sessions after cascade: want 0, got %d", total)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Meetings
// ─────────────────────────────────────────────────────────────────────────────

func TestMeetingLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ms := st.Meetings()

	mustCreateRoom(t, ctx, st, "room-1", "standup")
	mustCreateMeeting(t, ctx, st, types.Meeting{
		ID: "m-1", RoomName: "standup", RoomID: "room-1",
		NumClients: 3, IsActive: true,
	})

	active, err := ms.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].ID != "m-1" {
		t.Fatalf("ListActive: want [m-1], got %+v", active)
	}

	end := time.Now()
	if err := ms.Deactivate(ctx, "m-1", end); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	got, err := ms.Get(ctx, "m-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.IsActive || got.NumClients != 0 {
		t.Errorf("Deactivate: want inactive with 0 clients, got %+v", got)
	}
	active, _ = ms.ListActive(ctx)
	if len(active) != 0 {
		t.Errorf("ListActive after deactivate: want 0, got %d", len(active))
	}
}

func TestSetCloudRecordingIfMissing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ms := st.Meetings()

	mustCreateRoom(t, ctx, st, "room-1", "standup")
	mustCreateMeeting(t, ctx, st, types.Meeting{
		ID: "m-1", RoomName: "standup", RoomID: "room-1", IsActive: true,
	})

	wrote, err := ms.SetCloudRecordingIfMissing(ctx, "m-1", "cloud/a.mp4")
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	if !wrote {
		t.Fatal("first write: want true")
	}

	// Second writer loses; the stored key stays the first one.
	wrote, err = ms.SetCloudRecordingIfMissing(ctx, "m-1", "cloud/b.mp4")
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if wrote {
		t.Error("second write: want false")
	}
	got, _ := ms.Get(ctx, "m-1")
	if got.ComposedVideoKey == nil || *got.ComposedVideoKey != "cloud/a.mp4" {
		t.Errorf("ComposedVideoKey: want cloud/a.mp4, got %v", got.ComposedVideoKey)
	}
}

func TestFindByRoomNameAround(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ms := st.Meetings()

	mustCreateRoom(t, ctx, st, "room-1", "standup")
	mustCreateRoom(t, ctx, st, "room-2", "retro")

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	window := 168 * time.Hour
	for _, m := range []types.Meeting{
		{ID: "m-exact", RoomName: "standup", RoomID: "room-1", StartDate: at},
		{ID: "m-edge-lo", RoomName: "standup", RoomID: "room-1", StartDate: at.Add(-window)},
		{ID: "m-edge-hi", RoomName: "standup", RoomID: "room-1", StartDate: at.Add(window)},
		{ID: "m-outside", RoomName: "standup", RoomID: "room-1", StartDate: at.Add(window + time.Second)},
		{ID: "m-other-room", RoomName: "retro", RoomID: "room-2", StartDate: at},
	} {
		mustCreateMeeting(t, ctx, st, m)
	}

	got, err := ms.FindByRoomNameAround(ctx, "standup", at, window)
	if err != nil {
		t.Fatalf("FindByRoomNameAround: %v", err)
	}
	ids := map[string]bool{}
	for _, m := range got {
		ids[m.ID] = true
	}
	for _, want := range []string{"m-exact", "m-edge-lo", "m-edge-hi"} {
		if !ids[want] {
			t.Errorf("missing %s in %v", want, ids)
		}
	}
	if ids["m-outside"] || ids["m-other-room"] {
		t.Errorf("unexpected meeting in %v", ids)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Recordings + requests
// ─────────────────────────────────────────────────────────────────────────────

func TestTryCreateWithMeetingDedup(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mustCreateRoom(t, ctx, st, "room-1", "standup")
	mustCreateMeeting(t, ctx, st, types.Meeting{
		ID: "m-1", RoomName: "standup", RoomID: "room-1",
	})

	rec := &types.Recording{
		ID: "rec-1", BucketName: "recordings", RoomName: "standup",
		ObjectKey:  "standup/rec-1",
		TrackKeys:  []string{"standup/rec-1/track0.webm", "standup/rec-1/track1.webm"},
		RecordedAt: time.Now(), MeetingID: strPtr("m-1"),
		Status: types.RecordingPending,
	}
	ok, err := st.Recordings().TryCreateWithMeeting(ctx, rec)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if !ok {
		t.Fatal("first create: want true")
	}

	// A second poller discovering the same recording loses the race quietly.
	ok, err = st.Recordings().TryCreateWithMeeting(ctx, rec)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if ok {
		t.Error("second create: want false")
	}

	got, err := st.Recordings().Get(ctx, "rec-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.TrackKeys) != 2 {
		t.Errorf("TrackKeys: want 2, got %v", got.TrackKeys)
	}

	if err := st.Recordings().MarkCompleted(ctx, "rec-1"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	got, _ = st.Recordings().Get(ctx, "rec-1")
	if got.Status != types.RecordingCompleted {
		t.Errorf("Status: want completed, got %s", got.Status)
	}

	// Missing meeting reference is a caller bug, not a quiet false.
	if _, err := st.Recordings().TryCreateWithMeeting(ctx, &types.Recording{
		ID: "rec-2", RecordedAt: time.Now(),
	}); err == nil {
		t.Error("nil MeetingID: want error, got nil")
	}
}

func TestCreateOrphanIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := &types.Recording{
		ID: "orph-1", BucketName: "recordings", RoomName: "ghost-room",
		ObjectKey: "ghost-room/orph-1", RecordedAt: time.Now(),
	}
	if err := st.Recordings().CreateOrphan(ctx, rec); err != nil {
		t.Fatalf("CreateOrphan: %v", err)
	}
	// Rediscovery on the next poll cycle is a no-op.
	if err := st.Recordings().CreateOrphan(ctx, rec); err != nil {
		t.Errorf("CreateOrphan again: %v", err)
	}

	got, err := st.Recordings().Get(ctx, "orph-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != types.RecordingOrphan || got.MeetingID != nil {
		t.Errorf("orphan: want status=orphan meeting=nil, got %+v", got)
	}
}

func TestRecordingRequestAppend(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	rr := st.RecordingRequests()

	req := &types.RecordingRequest{
		RecordingID: "ext-1", MeetingID: "m-1", InstanceID: "inst-1",
		Type: types.RecordingRawTracks, RequestedAt: time.Now(),
	}
	if err := rr.Append(ctx, req); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// Duplicate webhook delivery of the same recording id is absorbed.
	dup := *req
	dup.MeetingID = "m-other"
	if err := rr.Append(ctx, &dup); err != nil {
		t.Errorf("Append duplicate: %v", err)
	}

	got, err := rr.GetByRecordingID(ctx, "ext-1")
	if err != nil {
		t.Fatalf("GetByRecordingID: %v", err)
	}
	if got.MeetingID != "m-1" {
		t.Errorf("MeetingID: first write wins, want m-1, got %s", got.MeetingID)
	}

	if _, err := rr.GetByRecordingID(ctx, "ext-unknown"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown id: want ErrNotFound, got %v", err)
	}
}

func TestRecordingRequestsByMeeting(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	rr := st.RecordingRequests()

	// Stop and restart within the same meeting instance produce two rows
	// that share an instance_id.
	base := time.Now().Truncate(time.Second)
	for i, req := range []*types.RecordingRequest{
		{RecordingID: "ext-stop", MeetingID: "m-1", InstanceID: "inst-1",
			Type: types.RecordingRawTracks},
		{RecordingID: "ext-restart", MeetingID: "m-1", InstanceID: "inst-1",
			Type: types.RecordingRawTracks},
		{RecordingID: "ext-other", MeetingID: "m-2", InstanceID: "inst-2",
			Type: types.RecordingRawTracks},
	} {
		req.RequestedAt = base.Add(time.Duration(i) * time.Minute)
		if err := rr.Append(ctx, req); err != nil {
			t.Fatalf("Append %s: %v", req.RecordingID, err)
		}
	}

	got, err := rr.GetByMeetingID(ctx, "m-1")
	if err != nil {
		t.Fatalf("GetByMeetingID: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 requests for m-1, got %d", len(got))
	}
	if got[0].RecordingID != "ext-stop" || got[1].RecordingID != "ext-restart" {
		t.Errorf("request order: got %s, %s", got[0].RecordingID, got[1].RecordingID)
	}
	if got[0].InstanceID != got[1].InstanceID {
		t.Errorf("instance ids differ: %s vs %s", got[0].InstanceID, got[1].InstanceID)
	}

	if empty, err := rr.GetByMeetingID(ctx, "m-none"); err != nil || len(empty) != 0 {
		t.Errorf("unknown meeting: want empty, got %v (err %v)", empty, err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Sessions + consents
// ─────────────────────────────────────────────────────────────────────────────

func TestSessionCounts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ss := st.Sessions()

	mustCreateRoom(t, ctx, st, "room-1", "standup")
	mustCreateMeeting(t, ctx, st, types.Meeting{
		ID: "m-1", RoomName: "standup", RoomID: "room-1", IsActive: true,
	})

	now := time.Now()
	left := now.Add(5 * time.Minute)
	sessions := []types.ParticipantSession{
		{MeetingID: "m-1", SessionID: "s-1", UserName: "Alice", JoinedAt: now},
		{MeetingID: "m-1", SessionID: "s-2", UserName: "Bob", JoinedAt: now},
		{MeetingID: "m-1", SessionID: "s-3", UserName: "Carol", JoinedAt: now, LeftAt: &left},
	}
	for i := range sessions {
		if err := ss.Upsert(ctx, &sessions[i]); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	open, err := ss.CountOpen(ctx, "m-1")
	if err != nil {
		t.Fatalf("CountOpen: %v", err)
	}
	if open != 2 {
		t.Errorf("CountOpen: want 2, got %d", open)
	}
	total, err := ss.CountTotal(ctx, "m-1")
	if err != nil {
		t.Fatalf("CountTotal: %v", err)
	}
	if total != 3 {
		t.Errorf("CountTotal: want 3, got %d", total)
	}

	// Rejoin with the same session id updates in place, no extra row.
	rejoined := sessions[0]
	rejoined.UserName = "Alice M."
	if err := ss.Upsert(ctx, &rejoined); err != nil {
		t.Fatalf("Upsert rejoin: %v", err)
	}
	total, _ = ss.CountTotal(ctx, "m-1")
	if total != 3 {
		t.Errorf("CountTotal after rejoin: want 3, got %d", total)
	}

	closed, err := ss.CloseOpen(ctx, "m-1", time.Now())
	if err != nil {
		t.Fatalf("CloseOpen: %v", err)
	}
	if closed != 2 {
		t.Errorf("CloseOpen: want 2, got %d", closed)
	}
	open, _ = ss.CountOpen(ctx, "m-1")
	if open != 0 {
		t.Errorf("CountOpen after close: want 0, got %d", open)
	}
}

func TestConsentDenial(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	cs := st.Consents()

	mustCreateRoom(t, ctx, st, "room-1", "standup")
	mustCreateMeeting(t, ctx, st, types.Meeting{
		ID: "m-1", RoomName: "standup", RoomID: "room-1",
	})

	record := func(user string, given bool) {
		t.Helper()
		err := cs.Record(ctx, &types.Consent{
			MeetingID: "m-1", UserName: user, Given: given, DecidedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("Record %s: %v", user, err)
		}
	}

	record("alice", true)
	denied, err := cs.HasDenial(ctx, "m-1")
	if err != nil {
		t.Fatalf("HasDenial: %v", err)
	}
	if denied {
		t.Error("HasDenial: want false with only approvals")
	}

	record("bob", false)
	denied, _ = cs.HasDenial(ctx, "m-1")
	if !denied {
		t.Error("HasDenial: want true after a denial")
	}

	// bob changes his mind; the upsert replaces the decision.
	record("bob", true)
	denied, _ = cs.HasDenial(ctx, "m-1")
	if denied {
		t.Error("HasDenial: want false after bob re-consents")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Rooms + calendar
// ─────────────────────────────────────────────────────────────────────────────

func TestRoomCRUD(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	rs := st.Rooms()

	room := &types.Room{
		ID: "room-1", Name: "standup", UserID: "alice", Platform: "whereby",
		RecordingType: "cloud", RecordingTrigger: "automatic-2nd-participant",
		ICSURL: "https://calendar.example.com/standup.ics",
	}
	if err := rs.Create(ctx, room); err != nil {
		t.Fatalf("Create: %v", err)
	}

	byName, err := rs.GetByName(ctx, "standup")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if byName.ID != "room-1" || byName.ICSURL != room.ICSURL {
		t.Errorf("GetByName: got %+v", byName)
	}

	if err := rs.Delete(ctx, "room-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := rs.Get(ctx, "room-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after delete: want ErrNotFound, got %v", err)
	}
	if err := rs.Delete(ctx, "room-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Delete missing: want ErrNotFound, got %v", err)
	}
}

func TestCalendarSync(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	cal := st.Calendar()

	mustCreateRoom(t, ctx, st, "room-1", "standup")

	base := time.Now().Add(time.Hour)
	events := []types.CalendarEvent{
		{ID: "cal-1", RoomID: "room-1", ICSUID: "uid-1", Title: "Planning",
			StartTime: base, EndTime: base.Add(time.Hour)},
		{ID: "cal-2", RoomID: "room-1", ICSUID: "uid-2", Title: "Review",
			StartTime: base.Add(2 * time.Hour), EndTime: base.Add(3 * time.Hour)},
	}
	for i := range events {
		if err := cal.Upsert(ctx, &events[i]); err != nil {
			t.Fatalf("Upsert %s: %v", events[i].ID, err)
		}
	}

	// Next sync no longer carries uid-2.
	n, err := cal.SoftDeleteMissing(ctx, "room-1", []string{"uid-1"})
	if err != nil {
		t.Fatalf("SoftDeleteMissing: %v", err)
	}
	if n != 1 {
		t.Errorf("SoftDeleteMissing: want 1, got %d", n)
	}

	upcoming, err := cal.ListUpcoming(ctx, "room-1", time.Now())
	if err != nil {
		t.Fatalf("ListUpcoming: %v", err)
	}
	if len(upcoming) != 1 || upcoming[0].ICSUID != "uid-1" {
		t.Errorf("ListUpcoming: want [uid-1], got %+v", upcoming)
	}

	// The event reappearing in the feed resurrects the soft-deleted row.
	if err := cal.Upsert(ctx, &events[1]); err != nil {
		t.Fatalf("Upsert resurrect: %v", err)
	}
	upcoming, _ = cal.ListUpcoming(ctx, "room-1", time.Now())
	if len(upcoming) != 2 {
		t.Errorf("ListUpcoming after resurrect: want 2, got %d", len(upcoming))
	}

	// An empty keep list soft-deletes everything still visible.
	n, err = cal.SoftDeleteMissing(ctx, "room-1", nil)
	if err != nil {
		t.Fatalf("SoftDeleteMissing all: %v", err)
	}
	if n != 2 {
		t.Errorf("SoftDeleteMissing all: want 2, got %d", n)
	}
}
