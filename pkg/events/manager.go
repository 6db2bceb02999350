package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CloseHook is invoked when a target's event pipeline is closed, so the
// artifact store (or any other per-target collaborator) can close its
// own state for the same target in lockstep (spec §4.2 close).
type CloseHook func(targetID string)

// IngestHook is invoked synchronously after every event is pushed to a
// target/job stream, in push order. The job controller uses this to
// capture first-writer-wins final metrics off job.completed/job.failed
// events without the event pipeline knowing anything about jobs.
type IngestHook func(ev Event)

// Manager owns every target's ring buffers and JSONL persistence. Its
// mutex guards the map of per-target state and is held across every
// stream push and read, so ingest hooks also run under it.
type Manager struct {
	dataDir string

	targetCapacity int
	jobCapacity    int
	defaultLimit   int
	maxLimit       int

	mu      sync.Mutex
	targets map[string]*targetState

	closeHooks  []CloseHook
	ingestHooks []IngestHook

	log *slog.Logger
}

type targetState struct {
	stream *stream
	jobs   map[string]*stream
	log    *targetLog
}

// NewManager constructs a Manager. targetCapacity/jobCapacity/
// defaultLimit/maxLimit come from pkg/config's EventsConfig.
func NewManager(dataDir string, targetCapacity, jobCapacity, defaultLimit, maxLimit int) *Manager {
	return &Manager{
		dataDir:        dataDir,
		targetCapacity: targetCapacity,
		jobCapacity:    jobCapacity,
		defaultLimit:   defaultLimit,
		maxLimit:       maxLimit,
		targets:        make(map[string]*targetState),
		log:            slog.With("component", "events"),
	}
}

// OnClose registers a hook fired by CloseTarget.
func (m *Manager) OnClose(hook CloseHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeHooks = append(m.closeHooks, hook)
}

// OnIngest registers a hook fired after every successfully pushed event.
func (m *Manager) OnIngest(hook IngestHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingestHooks = append(m.ingestHooks, hook)
}

func (m *Manager) targetFor(targetID string) *targetState {
	ts, ok := m.targets[targetID]
	if ok {
		return ts
	}
	ts = &targetState{
		stream: newStream(m.targetCapacity),
		jobs:   make(map[string]*stream),
	}
	if l, err := openTargetLog(m.dataDir, targetID, time.Now()); err != nil {
		m.log.Warn("failed to open target event log", "target_id", targetID, "error", err)
	} else {
		ts.log = l
	}
	m.targets[targetID] = ts
	return ts
}

// ingest is the single push path shared by agent-originated and
// host-generated synthetic events.
func (m *Manager) ingest(targetID string, pid *int, jobID, kind string, level Level, correlationID string, payload map[string]any) Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !validLevel(level) {
		level = LevelInfo
	}

	ev := Event{
		EventID:       uuid.NewString(),
		Ts:            time.Now().UTC(),
		TargetID:      targetID,
		Pid:           pid,
		JobID:         jobID,
		Kind:          kind,
		Level:         level,
		CorrelationID: correlationID,
		Payload:       payload,
	}

	ts := m.targetFor(targetID)
	pushed := ts.stream.push(ev)
	pushedEv := pushed.ev

	if ts.log != nil {
		ts.log.append(&pushedEv)
	}

	if jobID != "" {
		js, ok := ts.jobs[jobID]
		if !ok {
			js = newStream(m.jobCapacity)
			ts.jobs[jobID] = js
		}
		js.push(ev)
	}

	for _, h := range m.ingestHooks {
		h(pushedEv)
	}

	return pushedEv
}

// RecordAgentMessage implements §4.2's ingestion gate. message must be
// the outer `{type:"send", payload:{kahlo:{...}}}` envelope; any other
// shape is ignored (returns false).
func (m *Manager) RecordAgentMessage(targetID string, pid *int, message map[string]any) bool {
	if message["type"] != "send" {
		return false
	}
	payload, ok := message["payload"].(map[string]any)
	if !ok {
		return false
	}
	kahlo, ok := payload["kahlo"].(map[string]any)
	if !ok {
		return false
	}

	switch kahlo["type"] {
	case "event":
		jobID, _ := kahlo["job_id"].(string)
		kind, _ := kahlo["kind"].(string)
		level := Level(stringField(kahlo, "level"))
		correlationID, _ := kahlo["correlation_id"].(string)
		evPayload, _ := kahlo["payload"].(map[string]any)
		m.ingest(targetID, pid, jobID, kind, level, correlationID, evPayload)
		return true

	case "artifact":
		// Artifact envelopes are recognized and consumed here; nothing is
		// validated, stored or pushed for them. The target manager's message
		// handlers do not pass them or their binary data on to pkg/artifact,
		// so no artifact.* event results from an agent message.
		return true

	case "heartbeat":
		// Heartbeats are recognized and consumed here; they are not pushed
		// as stream events and are not forwarded anywhere else (a job's
		// LastHeartbeat is set only from its getStatus reply in pkg/job).
		return true

	default:
		return false
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// PushSynthetic emits a host-generated event (target.died, job.crashed,
// artifact.stored, ...) through the same ingestion path as agent
// messages, per §9 "Synthetic events".
func (m *Manager) PushSynthetic(targetID, jobID, kind string, level Level, payload map[string]any) Event {
	return m.ingest(targetID, nil, jobID, kind, level, "", payload)
}

// FetchEvents implements §4.2's fetchEvents contract. Exactly one of
// targetID/jobID must be non-empty.
func (m *Manager) FetchEvents(targetID, jobID, cursor string, limit int, filters Filters) ([]Event, string, error) {
	if (targetID == "") == (jobID == "") {
		return nil, cursor, fmt.Errorf("events: exactly one of target_id or job_id must be set")
	}

	scope, id := ScopeTarget, targetID
	if jobID != "" {
		scope, id = ScopeJob, jobID
	}

	if limit <= 0 {
		limit = m.defaultLimit
	}
	if limit > m.maxLimit {
		limit = m.maxLimit
	}

	var sinceSeq uint64
	if cursor != "" {
		c, err := ParseCursor(cursor)
		if err != nil {
			return nil, cursor, err
		}
		if c.Scope == scope && c.ID == id {
			sinceSeq = c.Seq
		}
		// Mismatched scope: forfeit history, advance to current seq below.
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.targets[targetID]
	if !ok && jobID != "" {
		// Need the owning target to reach the job stream; targetID is
		// empty when the caller queried by job_id, so search for it.
		for _, cand := range m.targets {
			if _, hasJob := cand.jobs[jobID]; hasJob {
				ts = cand
				ok = true
				break
			}
		}
	}
	if !ok {
		return []Event{}, MakeCursor(scope, id, 0), nil
	}

	var s *stream
	if scope == ScopeTarget {
		s = ts.stream
	} else {
		s = ts.jobs[jobID]
		if s == nil {
			return []Event{}, MakeCursor(scope, id, 0), nil
		}
	}

	if cursor != "" {
		c, _ := ParseCursor(cursor)
		if !(c.Scope == scope && c.ID == id) {
			sinceSeq = s.seq
		}
	}

	evs, lastSeq, _ := s.selectSince(sinceSeq, limit, filters)
	return evs, MakeCursor(scope, id, lastSeq), nil
}

// CloseTarget flushes and removes the target's in-memory state, and
// fires registered close hooks (e.g. the artifact store's own close).
func (m *Manager) CloseTarget(targetID string) {
	m.mu.Lock()
	ts, ok := m.targets[targetID]
	if ok {
		delete(m.targets, targetID)
	}
	hooks := append([]CloseHook(nil), m.closeHooks...)
	m.mu.Unlock()

	if ok && ts.log != nil {
		ts.log.close()
	}
	for _, h := range hooks {
		h(targetID)
	}
}
