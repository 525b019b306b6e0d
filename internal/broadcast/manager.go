package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// subscribeTimeout bounds how long a broker subscribe may block. Without this,
// a stalled broker connection would block the client's read loop indefinitely.
const subscribeTimeout = 10 * time.Second

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action string `json:"action"`         // "subscribe", "unsubscribe", "ping"
	Room   string `json:"room,omitempty"` // room name, e.g. "ts:abc-123"
}

// Manager owns the WebSocket connections of one process and fans broker
// messages out to them per room.
type Manager struct {
	broker  Broker
	history History

	// Active connections: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Room subscriptions: room → set of connection_ids
	rooms  map[string]map[string]bool
	roomMu sync.RWMutex

	// One broker feed per room with local subscribers.
	pumps  map[string]*Subscription
	pumpMu sync.Mutex

	writeTimeout time.Duration
	log          *slog.Logger
}

// Connection represents a single WebSocket client.
//
// subscriptions is accessed without a lock. All reads and writes happen on
// the goroutine that owns this connection (HandleConnection's read loop and
// its deferred cleanup). The replay buffer is shared with the broker pump
// goroutines and guarded by mu.
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc

	mu        sync.Mutex
	replaying map[string][][]byte
}

// beginReplay starts parking live events for room instead of delivering them.
func (c *Connection) beginReplay(room string) {
	c.mu.Lock()
	if c.replaying == nil {
		c.replaying = make(map[string][][]byte)
	}
	c.replaying[room] = [][]byte{}
	c.mu.Unlock()
}

// parkDuringReplay captures payload when a history replay for room is in
// flight, reporting whether it did. Parked events are flushed by endReplay's
// caller after the replay, minus those the replay already delivered.
func (c *Connection) parkDuringReplay(room string, payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.replaying[room]
	if !ok {
		return false
	}
	c.replaying[room] = append(buf, payload)
	return true
}

// endReplay stops parking and returns the captured payloads in arrival order.
func (c *Connection) endReplay(room string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.replaying[room]
	delete(c.replaying, room)
	return buf
}

// parkedCount reports the replay buffer size for room. Unexported — used by
// tests to poll instead of sleeping.
func (c *Connection) parkedCount(room string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.replaying[room])
}

// NewManager creates a Manager. history may be nil, in which case subscribers
// receive live events only.
func NewManager(broker Broker, history History, writeTimeout time.Duration, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		broker:       broker,
		history:      history,
		connections:  make(map[string]*Connection),
		rooms:        make(map[string]map[string]bool),
		pumps:        make(map[string]*Subscription),
		writeTimeout: writeTimeout,
		log:          log,
	}
}

// Handler returns an http.Handler that upgrades requests to WebSocket and
// serves them until the connection closes.
func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			m.log.Warn("websocket accept failed", "error", err)
			return
		}
		m.HandleConnection(r.Context(), conn)
	})
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Blocks until the connection closes.
func (m *Manager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.log.Warn("invalid websocket message", "connection_id", connID, "error", err)
			continue
		}
		m.handleClientMessage(ctx, c, &msg)
	}
}

// Broadcast sends an event payload to all local connections subscribed to room.
func (m *Manager) Broadcast(room string, event []byte) {
	m.roomMu.RLock()
	connIDs, exists := m.rooms[room]
	if !exists {
		m.roomMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.roomMu.RUnlock()

	// Snapshot connection pointers, then send without holding any lock so a
	// slow write (up to writeTimeout) cannot stall register/unregister.
	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if conn.parkDuringReplay(room, event) {
			continue
		}
		if err := m.sendRaw(conn, event); err != nil {
			m.log.Warn("failed to send to websocket client",
				"connection_id", conn.ID, "error", err)
		}
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount returns the number of subscribers for a room.
// Unexported — used by tests to poll instead of sleeping.
func (m *Manager) subscriberCount(room string) int {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()
	return len(m.rooms[room])
}

// parkedDuringReplay sums the replay buffers for room across connections.
// Unexported — used by tests to poll instead of sleeping.
func (m *Manager) parkedDuringReplay(room string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.connections {
		n += c.parkedCount(room)
	}
	return n
}

func (m *Manager) handleClientMessage(ctx context.Context, c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Room == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "room is required for subscribe"})
			return
		}
		// Live events arriving while history is replayed are parked on the
		// connection; the buffer must be open before the room membership so
		// nothing slips through ahead of older persisted events.
		replay := m.history != nil && strings.HasPrefix(msg.Room, "ts:")
		if replay {
			c.beginReplay(msg.Room)
		}
		if err := m.subscribe(c, msg.Room); err != nil {
			if replay {
				c.endReplay(msg.Room)
			}
			m.sendJSON(c, map[string]string{
				"type":    "subscription.error",
				"room":    msg.Room,
				"message": "failed to subscribe to room",
			})
			return
		}
		m.sendJSON(c, map[string]string{
			"type": "subscription.confirmed",
			"room": msg.Room,
		})
		if replay {
			m.replayHistory(ctx, c, msg.Room)
		}

	case "unsubscribe":
		if msg.Room == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "room is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, msg.Room)

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// subscribe registers a connection for a room and opens the broker feed if it
// is the first local subscriber. The broker subscribe is synchronous so the
// subsequent history replay runs with the live feed already active, closing
// the gap where events published between replay and subscribe would be lost.
func (m *Manager) subscribe(c *Connection, room string) error {
	m.roomMu.Lock()
	needsFeed := false
	if _, exists := m.rooms[room]; !exists {
		m.rooms[room] = make(map[string]bool)
		needsFeed = true
	}
	m.rooms[room][c.ID] = true
	m.roomMu.Unlock()

	if needsFeed {
		if err := m.openPump(room); err != nil {
			m.log.Error("failed to open broker feed", "room", room, "error", err)
			m.roomMu.Lock()
			delete(m.rooms[room], c.ID)
			if len(m.rooms[room]) == 0 {
				delete(m.rooms, room)
			}
			m.roomMu.Unlock()
			return fmt.Errorf("broadcast: open feed for %s: %w", room, err)
		}
	}

	c.subscriptions[room] = true
	return nil
}

// openPump subscribes to the broker channel for room and forwards every
// message to the local Broadcast fan-out until the feed closes.
func (m *Manager) openPump(room string) error {
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()

	sub, err := m.broker.Subscribe(ctx, room)
	if err != nil {
		return err
	}

	m.pumpMu.Lock()
	m.pumps[room] = sub
	m.pumpMu.Unlock()

	go func() {
		for payload := range sub.C {
			m.Broadcast(room, payload)
		}
	}()
	return nil
}

// unsubscribe removes a connection from a room and closes the broker feed if
// it was the last local subscriber. The goroutine re-checks m.rooms before
// closing so a rapid unsubscribe/resubscribe cycle does not drop the feed.
func (m *Manager) unsubscribe(c *Connection, room string) {
	m.roomMu.Lock()
	if subs, exists := m.rooms[room]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.rooms, room)
			go func() {
				m.roomMu.RLock()
				_, resubscribed := m.rooms[room]
				m.roomMu.RUnlock()
				if resubscribed {
					return
				}
				m.pumpMu.Lock()
				sub := m.pumps[room]
				delete(m.pumps, room)
				m.pumpMu.Unlock()
				if sub != nil {
					sub.Close()
				}
			}()
		}
	}
	m.roomMu.Unlock()

	delete(c.subscriptions, room)
}

// replayHistory sends the persisted event log of a transcript room to one
// connection, in insertion order, then flushes live events parked while the
// replay ran. Parked events whose sequence the replay already covered are
// dropped, so an event persisted and published inside the window is delivered
// exactly once.
func (m *Manager) replayHistory(ctx context.Context, c *Connection, room string) {
	var maxSeq int64
	defer func() {
		for _, payload := range c.endReplay(room) {
			var env struct {
				Seq int64 `json:"seq"`
			}
			_ = json.Unmarshal(payload, &env)
			if env.Seq != 0 && env.Seq <= maxSeq {
				continue
			}
			if err := m.sendRaw(c, payload); err != nil {
				m.log.Warn("failed to send parked event",
					"connection_id", c.ID, "error", err)
				return
			}
		}
	}()

	transcriptID := strings.TrimPrefix(room, "ts:")
	events, err := m.history.Events(ctx, transcriptID)
	if err != nil {
		m.log.Error("history replay failed", "room", room, "error", err)
		return
	}
	for _, evt := range events {
		payload, err := json.Marshal(Envelope{Event: evt.Event, Seq: evt.Seq, Data: json.RawMessage(evt.Data)})
		if err != nil {
			continue
		}
		if err := m.sendRaw(c, payload); err != nil {
			m.log.Warn("failed to send history event",
				"connection_id", c.ID, "error", err)
			return
		}
		if evt.Seq > maxSeq {
			maxSeq = evt.Seq
		}
	}
}

func (m *Manager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *Manager) unregisterConnection(c *Connection) {
	for room := range c.subscriptions {
		m.unsubscribe(c, room)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// sendJSON marshals and sends a JSON message to a single connection.
func (m *Manager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.log.Warn("failed to marshal websocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		m.log.Warn("failed to send websocket message",
			"connection_id", c.ID, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (m *Manager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
