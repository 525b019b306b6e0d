package presence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/reflector-media/reflector/internal/presence"
	storemock "github.com/reflector-media/reflector/internal/store/mock"
	"github.com/reflector-media/reflector/pkg/types"
)

// fakePlatform serves canned participant counts per room and records deletes.
type fakePlatform struct {
	counts   map[string]int
	countErr map[string]error
	delErr   map[string]error
	deleted  []string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		counts:   make(map[string]int),
		countErr: make(map[string]error),
		delErr:   make(map[string]error),
	}
}

func (f *fakePlatform) ParticipantCount(_ context.Context, room string) (int, error) {
	if err := f.countErr[room]; err != nil {
		return 0, err
	}
	return f.counts[room], nil
}

func (f *fakePlatform) DeleteRoom(_ context.Context, room string) error {
	f.deleted = append(f.deleted, room)
	return f.delErr[room]
}

type fixture struct {
	meetings *storemock.MeetingStore
	sessions *storemock.SessionStore
	platform *fakePlatform
	rec      *presence.Reconciler
}

func newFixture(t *testing.T, pending *presence.PendingJoins) *fixture {
	t.Helper()
	f := &fixture{
		meetings: storemock.NewMeetingStore(),
		sessions: storemock.NewSessionStore(),
		platform: newFakePlatform(),
	}
	f.rec = presence.NewReconciler(f.meetings, f.sessions, f.platform, pending, nil)
	return f
}

func (f *fixture) addMeeting(t *testing.T, id, room string) {
	t.Helper()
	err := f.meetings.Create(context.Background(), &types.Meeting{
		ID:        id,
		RoomName:  room,
		StartDate: time.Now().Add(-time.Hour),
		IsActive:  true,
	})
	if err != nil {
		t.Fatalf("create meeting: %v", err)
	}
}

func (f *fixture) addSession(t *testing.T, meetingID, sessionID string, open bool) {
	t.Helper()
	s := &types.ParticipantSession{
		MeetingID: meetingID,
		SessionID: sessionID,
		UserName:  "tester",
		JoinedAt:  time.Now().Add(-30 * time.Minute),
	}
	if !open {
		left := time.Now().Add(-10 * time.Minute)
		s.LeftAt = &left
	}
	if err := f.sessions.Upsert(context.Background(), s); err != nil {
		t.Fatalf("upsert session: %v", err)
	}
}

func (f *fixture) meeting(t *testing.T, id string) *types.Meeting {
	t.Helper()
	m, err := f.meetings.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get meeting: %v", err)
	}
	return m
}

func newTestJoins(t *testing.T, grace time.Duration) (*presence.PendingJoins, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return presence.NewPendingJoins(client, grace), mr
}

func TestSweepKeepsPopulatedMeeting(t *testing.T) {
	f := newFixture(t, nil)
	f.addMeeting(t, "m1", "standup")
	f.addSession(t, "m1", "s1", true)
	f.platform.counts["standup"] = 2

	if err := f.rec.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !f.meeting(t, "m1").IsActive {
		t.Fatal("meeting with participants must stay active")
	}
	if len(f.platform.deleted) != 0 {
		t.Fatalf("unexpected room deletes: %v", f.platform.deleted)
	}
}

func TestSweepDeactivatesEmptyMeeting(t *testing.T) {
	f := newFixture(t, nil)
	f.addMeeting(t, "m1", "standup")
	f.addSession(t, "m1", "s1", true) // stale: platform says the room is empty

	if err := f.rec.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	m := f.meeting(t, "m1")
	if m.IsActive {
		t.Fatal("empty attended meeting must deactivate")
	}
	if m.EndDate.IsZero() {
		t.Fatal("deactivation must stamp the end date")
	}
	open, _ := f.sessions.CountOpen(context.Background(), "m1")
	if open != 0 {
		t.Fatalf("open sessions after deactivation = %d, want 0", open)
	}
	if len(f.platform.deleted) != 1 || f.platform.deleted[0] != "standup" {
		t.Fatalf("deleted rooms = %v, want [standup]", f.platform.deleted)
	}
}

func TestSweepSkipsNeverAttendedMeeting(t *testing.T) {
	f := newFixture(t, nil)
	f.addMeeting(t, "m1", "standup")

	if err := f.rec.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !f.meeting(t, "m1").IsActive {
		t.Fatal("meeting without any session must stay active")
	}
}

func TestSweepToleratesRoomDelete404(t *testing.T) {
	f := newFixture(t, nil)
	f.addMeeting(t, "m1", "standup")
	f.addSession(t, "m1", "s1", false)
	f.platform.delErr["standup"] = presence.ErrRoomNotFound

	if err := f.rec.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if f.meeting(t, "m1").IsActive {
		t.Fatal("missing platform room must not block deactivation")
	}
}

func TestSweepTreatsMissingRoomAsEmpty(t *testing.T) {
	f := newFixture(t, nil)
	f.addMeeting(t, "m1", "standup")
	f.addSession(t, "m1", "s1", false)
	f.platform.countErr["standup"] = presence.ErrRoomNotFound

	if err := f.rec.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if f.meeting(t, "m1").IsActive {
		t.Fatal("a deleted platform room counts as empty")
	}
}

func TestSweepPlatformErrorKeepsMeetingWithOpenSession(t *testing.T) {
	f := newFixture(t, nil)
	f.addMeeting(t, "m1", "standup")
	f.addSession(t, "m1", "s1", true)
	f.platform.countErr["standup"] = errors.New("gateway timeout")

	if err := f.rec.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !f.meeting(t, "m1").IsActive {
		t.Fatal("platform outage with open sessions must keep the meeting")
	}
}

func TestSweepPlatformErrorWithoutOpenSessionIsLoggedNotFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.addMeeting(t, "m1", "standup")
	f.addSession(t, "m1", "s1", false)
	f.platform.countErr["standup"] = errors.New("gateway timeout")

	// The per-meeting error is logged; the sweep itself succeeds and the
	// meeting is left untouched until the platform answers again.
	if err := f.rec.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !f.meeting(t, "m1").IsActive {
		t.Fatal("meeting must not deactivate on a platform error")
	}
}

func TestSweepHonorsJoinGrace(t *testing.T) {
	joins, mr := newTestJoins(t, time.Minute)
	f := newFixture(t, joins)
	f.addMeeting(t, "m1", "standup")
	f.addSession(t, "m1", "s1", false)

	if err := joins.Add(context.Background(), "m1", "conn-1"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := f.rec.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !f.meeting(t, "m1").IsActive {
		t.Fatal("pending join must keep the meeting active")
	}

	// Grace expires, next sweep deactivates.
	mr.FastForward(2 * time.Minute)
	if err := f.rec.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if f.meeting(t, "m1").IsActive {
		t.Fatal("expired join grace must not keep the meeting")
	}
}

func TestSweepContinuesAfterMeetingFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.addMeeting(t, "m1", "broken")
	f.addSession(t, "m1", "s1", false)
	f.addMeeting(t, "m2", "standup")
	f.addSession(t, "m2", "s2", false)
	f.platform.countErr["broken"] = errors.New("boom")

	if err := f.rec.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if f.meeting(t, "m2").IsActive {
		t.Fatal("failure on one meeting must not stop the sweep")
	}
}
