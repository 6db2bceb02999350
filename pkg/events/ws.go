package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// catchupLimit bounds how many events a single subscribe's auto-catchup
// will replay before telling the client to fall back to FetchEvents
// paging over HTTP instead.
const catchupLimit = 200

// ConnectionManager fans live events out to WebSocket subscribers and
// replays missed history on subscribe, using the same Manager.FetchEvents
// cursor contract the HTTP/MCP facade uses. One ConnectionManager per
// kahlohostd process; it has no dependency on any particular transport
// beyond *websocket.Conn.
type ConnectionManager struct {
	manager *Manager

	mu          sync.RWMutex
	connections map[string]*wsConnection

	channelMu sync.RWMutex
	channels  map[string]map[string]bool // channel -> set of connection IDs

	writeTimeout time.Duration
}

// channelKey builds the subscription channel name for a stream scope.
func channelKey(scope Scope, id string) string {
	return fmt.Sprintf("%s:%s", scope, id)
}

type wsConnection struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]bool // channel this connection owns; accessed only from its own read loop
	ctx           context.Context
	cancel        context.CancelFunc
}

type wsClientMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
	Cursor  string `json:"cursor"`
}

// NewConnectionManager creates a ConnectionManager bound to manager. It
// registers itself as an ingest hook so every pushed event is broadcast
// to subscribers of its target/job channel.
func NewConnectionManager(manager *Manager, writeTimeout time.Duration) *ConnectionManager {
	cm := &ConnectionManager{
		manager:      manager,
		connections:  make(map[string]*wsConnection),
		channels:     make(map[string]map[string]bool),
		writeTimeout: writeTimeout,
	}
	manager.OnIngest(cm.onIngest)
	return cm
}

func (cm *ConnectionManager) onIngest(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	cm.broadcast(channelKey(ScopeTarget, ev.TargetID), payload)
	if ev.JobID != "" {
		cm.broadcast(channelKey(ScopeJob, ev.JobID), payload)
	}
}

// HandleConnection manages one upgraded WebSocket connection's lifetime,
// blocking until it closes.
func (cm *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &wsConnection{
		id:            id,
		conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	cm.mu.Lock()
	cm.connections[id] = c
	cm.mu.Unlock()

	defer cm.unregister(c)

	cm.sendJSON(c, map[string]string{"type": "connection.established", "connection_id": id})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("events: invalid websocket message", "connection_id", id, "error", err)
			continue
		}
		cm.handleClientMessage(ctx, c, &msg)
	}
}

func (cm *ConnectionManager) handleClientMessage(ctx context.Context, c *wsConnection, msg *wsClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			cm.sendJSON(c, map[string]string{"type": "error", "message": "channel is required"})
			return
		}
		cm.subscribe(c, msg.Channel)
		cm.sendJSON(c, map[string]string{"type": "subscription.confirmed", "channel": msg.Channel})
		cm.catchup(ctx, c, msg.Channel, msg.Cursor)

	case "unsubscribe":
		if msg.Channel == "" {
			cm.sendJSON(c, map[string]string{"type": "error", "message": "channel is required"})
			return
		}
		cm.unsubscribe(c, msg.Channel)

	case "ping":
		cm.sendJSON(c, map[string]string{"type": "pong"})
	}
}

func (cm *ConnectionManager) subscribe(c *wsConnection, channel string) {
	cm.channelMu.Lock()
	subs, ok := cm.channels[channel]
	if !ok {
		subs = make(map[string]bool)
		cm.channels[channel] = subs
	}
	subs[c.id] = true
	cm.channelMu.Unlock()

	c.subscriptions[channel] = true
}

func (cm *ConnectionManager) unsubscribe(c *wsConnection, channel string) {
	cm.channelMu.Lock()
	if subs, ok := cm.channels[channel]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(cm.channels, channel)
		}
	}
	cm.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

// catchup replays history from cursor (or the beginning if empty) via
// the same FetchEvents path HTTP/MCP callers use, so "what did I miss
// while reconnecting" is answered identically over both transports.
func (cm *ConnectionManager) catchup(ctx context.Context, c *wsConnection, channel, cursor string) {
	scope, id, ok := splitChannel(channel)
	if !ok {
		return
	}

	var targetID, jobID string
	if scope == ScopeTarget {
		targetID = id
	} else {
		jobID = id
	}

	events, _, err := cm.manager.FetchEvents(targetID, jobID, cursor, catchupLimit+1, Filters{})
	if err != nil {
		slog.Warn("events: catchup fetch failed", "channel", channel, "error", err)
		return
	}

	hasMore := len(events) > catchupLimit
	if hasMore {
		events = events[:catchupLimit]
	}

	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := cm.sendRaw(c, data); err != nil {
			return
		}
	}

	if hasMore {
		cm.sendJSON(c, map[string]any{"type": "catchup.overflow", "channel": channel, "has_more": true})
	}
}

func splitChannel(channel string) (Scope, string, bool) {
	if len(channel) < 3 {
		return "", "", false
	}
	scope := Scope(channel[:1])
	if channel[1] != ':' {
		return "", "", false
	}
	if scope != ScopeTarget && scope != ScopeJob {
		return "", "", false
	}
	return scope, channel[2:], true
}

func (cm *ConnectionManager) broadcast(channel string, data []byte) {
	cm.channelMu.RLock()
	subs, ok := cm.channels[channel]
	if !ok {
		cm.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	cm.channelMu.RUnlock()

	cm.mu.RLock()
	conns := make([]*wsConnection, 0, len(ids))
	for _, id := range ids {
		if c, ok := cm.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		if err := cm.sendRaw(c, data); err != nil {
			slog.Warn("events: websocket send failed", "connection_id", c.id, "error", err)
		}
	}
}

// ActiveConnections reports the number of live WebSocket clients.
func (cm *ConnectionManager) ActiveConnections() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

func (cm *ConnectionManager) unregister(c *wsConnection) {
	for ch := range c.subscriptions {
		cm.unsubscribe(c, ch)
	}
	cm.mu.Lock()
	delete(cm.connections, c.id)
	cm.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (cm *ConnectionManager) sendJSON(c *wsConnection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := cm.sendRaw(c, data); err != nil {
		slog.Warn("events: websocket send failed", "connection_id", c.id, "error", err)
	}
}

func (cm *ConnectionManager) sendRaw(c *wsConnection, data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, cm.writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}
