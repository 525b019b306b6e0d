// Package mock provides in-memory test doubles for the store interfaces.
//
// Unlike pure call recorders these doubles are stateful: writes are kept in
// maps and read back by later calls, so a reconciler or pipeline under test
// observes the same invariants the PostgreSQL backend enforces (status
// transition guard, recording dedup, first-write-wins cloud recording key).
// Every method has an exported *Err field to inject failures. All mocks are
// safe for concurrent use via an internal [sync.Mutex].
package mock

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/reflector-media/reflector/internal/store"
	"github.com/reflector-media/reflector/pkg/types"
)

// Compile-time interface checks.
var (
	_ store.TranscriptStore       = (*TranscriptStore)(nil)
	_ store.MeetingStore          = (*MeetingStore)(nil)
	_ store.RecordingStore        = (*RecordingStore)(nil)
	_ store.RecordingRequestStore = (*RecordingRequestStore)(nil)
	_ store.SessionStore          = (*SessionStore)(nil)
	_ store.ConsentStore          = (*ConsentStore)(nil)
	_ store.RoomStore             = (*RoomStore)(nil)
	_ store.CalendarStore         = (*CalendarStore)(nil)
)

// ─────────────────────────────────────────────────────────────────────────────
// TranscriptStore
// ─────────────────────────────────────────────────────────────────────────────

// TranscriptStore is a stateful test double for [store.TranscriptStore].
type TranscriptStore struct {
	mu          sync.Mutex
	transcripts map[string]*types.Transcript
	events      map[string][]types.TranscriptEvent

	GetErr          error
	CreateErr       error
	UpdateErr       error
	UpdateStatusErr error
	AppendEventErr  error
	EventsErr       error
	SearchErr       error
	DeleteErr       error
}

// NewTranscriptStore returns an empty transcript store.
func NewTranscriptStore() *TranscriptStore {
	return &TranscriptStore{
		transcripts: make(map[string]*types.Transcript),
		events:      make(map[string][]types.TranscriptEvent),
	}
}

// Get implements [store.TranscriptStore].
func (m *TranscriptStore) Get(_ context.Context, id string) (*types.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	t, ok := m.transcripts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// Create implements [store.TranscriptStore].
func (m *TranscriptStore) Create(_ context.Context, t *types.Transcript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.transcripts[cp.ID] = &cp
	return nil
}

// Update implements [store.TranscriptStore].
func (m *TranscriptStore) Update(_ context.Context, id string, patch store.TranscriptPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	t, ok := m.transcripts[id]
	if !ok {
		return store.ErrNotFound
	}
	if patch.Name != nil {
		t.Name = *patch.Name
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.ShortSummary != nil {
		t.ShortSummary = *patch.ShortSummary
	}
	if patch.LongSummary != nil {
		t.LongSummary = *patch.LongSummary
	}
	if patch.Duration != nil {
		d := *patch.Duration
		t.Duration = &d
	}
	if patch.WebVTT != nil {
		t.WebVTT = *patch.WebVTT
	}
	if patch.AudioDeleted != nil {
		t.AudioDeleted = *patch.AudioDeleted
	}
	if patch.Locked != nil {
		t.Locked = *patch.Locked
	}
	if patch.Topics != nil {
		t.Topics = append([]types.Topic(nil), patch.Topics...)
	}
	if patch.Participants != nil {
		t.Participants = append([]types.Participant(nil), patch.Participants...)
	}
	if patch.ClearWorkflowRun {
		t.WorkflowRunID = nil
	} else if patch.WorkflowRunID != nil {
		id := *patch.WorkflowRunID
		t.WorkflowRunID = &id
	}
	return nil
}

// UpdateStatus implements [store.TranscriptStore] with the same transition
// guard the PostgreSQL backend applies.
func (m *TranscriptStore) UpdateStatus(_ context.Context, id string, to types.TranscriptStatus) (*types.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateStatusErr != nil {
		return nil, m.UpdateStatusErr
	}
	t, ok := m.transcripts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !store.CanTransition(t.Status, to) {
		return nil, store.ErrInvalidTransition
	}
	t.Status = to
	cp := *t
	return &cp, nil
}

// AppendEvent implements [store.TranscriptStore].
func (m *TranscriptStore) AppendEvent(_ context.Context, id string, event string, data []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendEventErr != nil {
		return 0, m.AppendEventErr
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	seq := int64(len(m.events[id]) + 1)
	m.events[id] = append(m.events[id], types.TranscriptEvent{
		Seq:       seq,
		Event:     event,
		Data:      append([]byte(nil), data...),
		CreatedAt: time.Now(),
	})
	return seq, nil
}

// Events implements [store.TranscriptStore].
func (m *TranscriptStore) Events(_ context.Context, id string) ([]types.TranscriptEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EventsErr != nil {
		return nil, m.EventsErr
	}
	return append([]types.TranscriptEvent(nil), m.events[id]...), nil
}

// GetByRecordingID implements [store.TranscriptStore].
func (m *TranscriptStore) GetByRecordingID(_ context.Context, recordingID string) (*types.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	for _, t := range m.transcripts {
		if t.RecordingID != nil && *t.RecordingID == recordingID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// Search implements [store.TranscriptStore] with a case-insensitive substring
// match over title and summaries.
func (m *TranscriptStore) Search(_ context.Context, query string, userID *string, limit int) ([]types.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if limit <= 0 {
		limit = 50
	}
	q := strings.ToLower(query)
	var out []types.Transcript
	for _, t := range m.transcripts {
		if userID != nil {
			owned := t.UserID != nil && *t.UserID == *userID
			if !owned && t.Share != types.SharePublic {
				continue
			}
		}
		haystack := strings.ToLower(t.Title + " " + t.ShortSummary + " " + t.LongSummary)
		if strings.Contains(haystack, q) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteExpired implements [store.TranscriptStore]. Cascading deletes of
// meetings and recordings are left to the caller's other mocks; only the
// transcript rows and their event logs are removed here.
func (m *TranscriptStore) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return 0, m.DeleteErr
	}
	n := 0
	for id, t := range m.transcripts {
		if t.UserID == nil && t.CreatedAt.Before(cutoff) {
			delete(m.transcripts, id)
			delete(m.events, id)
			n++
		}
	}
	return n, nil
}

// Delete implements [store.TranscriptStore].
func (m *TranscriptStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if _, ok := m.transcripts[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.transcripts, id)
	delete(m.events, id)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// MeetingStore
// ─────────────────────────────────────────────────────────────────────────────

// MeetingStore is a stateful test double for [store.MeetingStore].
type MeetingStore struct {
	mu       sync.Mutex
	meetings map[string]*types.Meeting

	GetErr        error
	CreateErr     error
	ListErr       error
	DeactivateErr error
	SetCloudErr   error
	FindErr       error
}

// NewMeetingStore returns an empty meeting store.
func NewMeetingStore() *MeetingStore {
	return &MeetingStore{meetings: make(map[string]*types.Meeting)}
}

// Get implements [store.MeetingStore].
func (m *MeetingStore) Get(_ context.Context, id string) (*types.Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	mt, ok := m.meetings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *mt
	return &cp, nil
}

// Create implements [store.MeetingStore].
func (m *MeetingStore) Create(_ context.Context, mt *types.Meeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	cp := *mt
	m.meetings[cp.ID] = &cp
	return nil
}

// ListActive implements [store.MeetingStore].
func (m *MeetingStore) ListActive(_ context.Context) ([]types.Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var out []types.Meeting
	for _, mt := range m.meetings {
		if mt.IsActive {
			out = append(out, *mt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

// Deactivate implements [store.MeetingStore].
func (m *MeetingStore) Deactivate(_ context.Context, id string, endDate time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeactivateErr != nil {
		return m.DeactivateErr
	}
	mt, ok := m.meetings[id]
	if !ok {
		return store.ErrNotFound
	}
	mt.IsActive = false
	mt.EndDate = endDate
	mt.NumClients = 0
	return nil
}

// SetCloudRecordingIfMissing implements [store.MeetingStore].
func (m *MeetingStore) SetCloudRecordingIfMissing(_ context.Context, id, objectKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetCloudErr != nil {
		return false, m.SetCloudErr
	}
	mt, ok := m.meetings[id]
	if !ok || mt.ComposedVideoKey != nil {
		return false, nil
	}
	key := objectKey
	mt.ComposedVideoKey = &key
	return true, nil
}

// FindByRoomNameAround implements [store.MeetingStore].
func (m *MeetingStore) FindByRoomNameAround(_ context.Context, roomName string, at time.Time, window time.Duration) ([]types.Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	lo, hi := at.Add(-window), at.Add(window)
	var out []types.Meeting
	for _, mt := range m.meetings {
		if mt.RoomName != roomName {
			continue
		}
		if mt.StartDate.Before(lo) || mt.StartDate.After(hi) {
			continue
		}
		out = append(out, *mt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// RecordingStore + RecordingRequestStore
// ─────────────────────────────────────────────────────────────────────────────

// RecordingStore is a stateful test double for [store.RecordingStore].
type RecordingStore struct {
	mu         sync.Mutex
	recordings map[string]*types.Recording

	GetErr    error
	CreateErr error
	MarkErr   error
}

// NewRecordingStore returns an empty recording store.
func NewRecordingStore() *RecordingStore {
	return &RecordingStore{recordings: make(map[string]*types.Recording)}
}

// Get implements [store.RecordingStore].
func (m *RecordingStore) Get(_ context.Context, id string) (*types.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	r, ok := m.recordings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// TryCreateWithMeeting implements [store.RecordingStore]. Like the database
// backend, a duplicate id reports false without error.
func (m *RecordingStore) TryCreateWithMeeting(_ context.Context, rec *types.Recording) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return false, m.CreateErr
	}
	if _, exists := m.recordings[rec.ID]; exists {
		return false, nil
	}
	cp := *rec
	if cp.Status == "" {
		cp.Status = types.RecordingPending
	}
	m.recordings[cp.ID] = &cp
	return true, nil
}

// CreateOrphan implements [store.RecordingStore].
func (m *RecordingStore) CreateOrphan(_ context.Context, rec *types.Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if _, exists := m.recordings[rec.ID]; exists {
		return nil
	}
	cp := *rec
	cp.MeetingID = nil
	cp.Status = types.RecordingOrphan
	m.recordings[cp.ID] = &cp
	return nil
}

// MarkCompleted implements [store.RecordingStore].
func (m *RecordingStore) MarkCompleted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarkErr != nil {
		return m.MarkErr
	}
	r, ok := m.recordings[id]
	if !ok {
		return store.ErrNotFound
	}
	r.Status = types.RecordingCompleted
	return nil
}

// RecordingRequestStore is a stateful test double for
// [store.RecordingRequestStore].
type RecordingRequestStore struct {
	mu       sync.Mutex
	requests map[string]*types.RecordingRequest

	AppendErr error
	GetErr    error
}

// NewRecordingRequestStore returns an empty request store.
func NewRecordingRequestStore() *RecordingRequestStore {
	return &RecordingRequestStore{requests: make(map[string]*types.RecordingRequest)}
}

// Append implements [store.RecordingRequestStore]. A repeated recording id is
// absorbed; the first request wins.
func (m *RecordingRequestStore) Append(_ context.Context, req *types.RecordingRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}
	if _, exists := m.requests[req.RecordingID]; exists {
		return nil
	}
	cp := *req
	m.requests[cp.RecordingID] = &cp
	return nil
}

// GetByRecordingID implements [store.RecordingRequestStore].
func (m *RecordingRequestStore) GetByRecordingID(_ context.Context, recordingID string) (*types.RecordingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	req, ok := m.requests[recordingID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

// GetByMeetingID implements [store.RecordingRequestStore].
func (m *RecordingRequestStore) GetByMeetingID(_ context.Context, meetingID string) ([]types.RecordingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	var reqs []types.RecordingRequest
	for _, req := range m.requests {
		if req.MeetingID == meetingID {
			reqs = append(reqs, *req)
		}
	}
	sort.Slice(reqs, func(i, j int) bool {
		if !reqs[i].RequestedAt.Equal(reqs[j].RequestedAt) {
			return reqs[i].RequestedAt.Before(reqs[j].RequestedAt)
		}
		return reqs[i].RecordingID < reqs[j].RecordingID
	})
	return reqs, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// SessionStore + ConsentStore
// ─────────────────────────────────────────────────────────────────────────────

type sessionKey struct {
	meetingID string
	sessionID string
}

// SessionStore is a stateful test double for [store.SessionStore].
type SessionStore struct {
	mu       sync.Mutex
	sessions map[sessionKey]*types.ParticipantSession

	UpsertErr error
	CountErr  error
	CloseErr  error
}

// NewSessionStore returns an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[sessionKey]*types.ParticipantSession)}
}

// Upsert implements [store.SessionStore].
func (m *SessionStore) Upsert(_ context.Context, s *types.ParticipantSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	cp := *s
	m.sessions[sessionKey{s.MeetingID, s.SessionID}] = &cp
	return nil
}

// CountOpen implements [store.SessionStore].
func (m *SessionStore) CountOpen(_ context.Context, meetingID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CountErr != nil {
		return 0, m.CountErr
	}
	n := 0
	for k, s := range m.sessions {
		if k.meetingID == meetingID && s.LeftAt == nil {
			n++
		}
	}
	return n, nil
}

// CountTotal implements [store.SessionStore].
func (m *SessionStore) CountTotal(_ context.Context, meetingID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CountErr != nil {
		return 0, m.CountErr
	}
	n := 0
	for k := range m.sessions {
		if k.meetingID == meetingID {
			n++
		}
	}
	return n, nil
}

// CloseOpen implements [store.SessionStore].
func (m *SessionStore) CloseOpen(_ context.Context, meetingID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CloseErr != nil {
		return 0, m.CloseErr
	}
	n := 0
	for k, s := range m.sessions {
		if k.meetingID == meetingID && s.LeftAt == nil {
			left := at
			s.LeftAt = &left
			n++
		}
	}
	return n, nil
}

// ConsentStore is a stateful test double for [store.ConsentStore].
type ConsentStore struct {
	mu       sync.Mutex
	consents map[sessionKey]*types.Consent // meetingID + userName

	RecordErr error
	DenialErr error
}

// NewConsentStore returns an empty consent store.
func NewConsentStore() *ConsentStore {
	return &ConsentStore{consents: make(map[sessionKey]*types.Consent)}
}

// Record implements [store.ConsentStore].
func (m *ConsentStore) Record(_ context.Context, c *types.Consent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecordErr != nil {
		return m.RecordErr
	}
	cp := *c
	m.consents[sessionKey{c.MeetingID, c.UserName}] = &cp
	return nil
}

// HasDenial implements [store.ConsentStore].
func (m *ConsentStore) HasDenial(_ context.Context, meetingID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DenialErr != nil {
		return false, m.DenialErr
	}
	for k, c := range m.consents {
		if k.meetingID == meetingID && !c.Given {
			return true, nil
		}
	}
	return false, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// RoomStore + CalendarStore
// ─────────────────────────────────────────────────────────────────────────────

// RoomStore is a stateful test double for [store.RoomStore].
type RoomStore struct {
	mu    sync.Mutex
	rooms map[string]*types.Room

	GetErr    error
	CreateErr error
	DeleteErr error
}

// NewRoomStore returns an empty room store.
func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[string]*types.Room)}
}

// Get implements [store.RoomStore].
func (m *RoomStore) Get(_ context.Context, id string) (*types.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	r, ok := m.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// GetByName implements [store.RoomStore].
func (m *RoomStore) GetByName(_ context.Context, name string) (*types.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	for _, r := range m.rooms {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// Create implements [store.RoomStore].
func (m *RoomStore) Create(_ context.Context, r *types.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	cp := *r
	m.rooms[cp.ID] = &cp
	return nil
}

// Delete implements [store.RoomStore].
func (m *RoomStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if _, ok := m.rooms[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.rooms, id)
	return nil
}

// CalendarStore is a stateful test double for [store.CalendarStore].
type CalendarStore struct {
	mu     sync.Mutex
	events map[sessionKey]*types.CalendarEvent // roomID + icsUID

	UpsertErr error
	DeleteErr error
	ListErr   error
}

// NewCalendarStore returns an empty calendar store.
func NewCalendarStore() *CalendarStore {
	return &CalendarStore{events: make(map[sessionKey]*types.CalendarEvent)}
}

// Upsert implements [store.CalendarStore].
func (m *CalendarStore) Upsert(_ context.Context, ev *types.CalendarEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	cp := *ev
	cp.DeletedAt = nil
	m.events[sessionKey{ev.RoomID, ev.ICSUID}] = &cp
	return nil
}

// SoftDeleteMissing implements [store.CalendarStore].
func (m *CalendarStore) SoftDeleteMissing(_ context.Context, roomID string, keep []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return 0, m.DeleteErr
	}
	keepSet := make(map[string]bool, len(keep))
	for _, uid := range keep {
		keepSet[uid] = true
	}
	now := time.Now()
	n := 0
	for k, ev := range m.events {
		if k.meetingID != roomID || ev.DeletedAt != nil || keepSet[ev.ICSUID] {
			continue
		}
		at := now
		ev.DeletedAt = &at
		n++
	}
	return n, nil
}

// ListUpcoming implements [store.CalendarStore].
func (m *CalendarStore) ListUpcoming(_ context.Context, roomID string, from time.Time) ([]types.CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var out []types.CalendarEvent
	for k, ev := range m.events {
		if k.meetingID != roomID || ev.DeletedAt != nil || ev.EndTime.Before(from) {
			continue
		}
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}
