// Package fake provides a deterministic, in-memory double for
// pkg/deviceio, scripted by the test rather than backed by a real
// device or injected runtime.
package fake

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fuzzysecurity/kahlo-host/pkg/deviceio"
)

var pidSeq int64

func nextPid() int {
	return int(atomic.AddInt64(&pidSeq, 1)) + 1000
}

// Device is a scriptable deviceio.Device. Construct it with NewDevice (the
// zero value has nil handler/state maps and is not usable); use
// AddProcess to seed EnumerateProcesses results before attach/spawn flows
// run against it.
type Device struct {
	id string

	mu             sync.Mutex
	processes      []deviceio.ProcessInfo
	gatingEnabled  bool
	spawnHandlers  map[int]func(deviceio.SpawnEvent)
	childHandlers  map[int]func(deviceio.ChildEvent)
	handlerSeq     int
	killed         map[int]bool
	spawned        map[int]string // pid -> package, for processes created via Spawn
	sessions       map[int]*Session
	SpawnErr       error
	AttachErr      error
	EnableGateErr  error
	DisableGateErr error

	// DefaultScriptHandlers, when set, is merged into every script
	// created on a session attached to this device, on top of the
	// built-in "ping" handler — lets a test script a session's
	// orchestrator/job RPC responses (e.g. "startJob", "getStatus")
	// before any script exists to set them on directly.
	DefaultScriptHandlers map[string]func(args []any) (any, error)
}

// NewDevice creates a fake device with the given id.
func NewDevice(id string) *Device {
	return &Device{
		id:            id,
		spawnHandlers: make(map[int]func(deviceio.SpawnEvent)),
		childHandlers: make(map[int]func(deviceio.ChildEvent)),
		killed:        make(map[int]bool),
		spawned:       make(map[int]string),
		sessions:      make(map[int]*Session),
	}
}

func (d *Device) ID() string { return d.id }

// AddProcess seeds one entry EnumerateProcesses will return.
func (d *Device) AddProcess(pid int, name, identifier string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processes = append(d.processes, deviceio.ProcessInfo{Pid: pid, Name: name, Identifier: identifier})
}

func (d *Device) EnumerateProcesses(ctx context.Context) ([]deviceio.ProcessInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]deviceio.ProcessInfo, len(d.processes))
	copy(out, d.processes)
	return out, nil
}

func (d *Device) Spawn(ctx context.Context, pkg string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SpawnErr != nil {
		return 0, d.SpawnErr
	}
	pid := nextPid()
	d.spawned[pid] = pkg
	d.processes = append(d.processes, deviceio.ProcessInfo{Pid: pid, Name: pkg, Identifier: pkg})
	return pid, nil
}

func (d *Device) Resume(ctx context.Context, pid int) error {
	return nil
}

func (d *Device) Kill(ctx context.Context, pid int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.killed[pid] = true
	return nil
}

// Killed reports whether Kill was called for pid — for test assertions.
func (d *Device) Killed(pid int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.killed[pid]
}

// SessionFor returns the session created by the most recent Attach call
// for pid, or nil — for test assertions and crash simulation.
func (d *Device) SessionFor(pid int) *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[pid]
}

func (d *Device) Attach(ctx context.Context, pid int) (deviceio.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.AttachErr != nil {
		return nil, d.AttachErr
	}
	s := newSession(pid)
	s.extraHandlers = d.DefaultScriptHandlers
	d.sessions[pid] = s
	return s, nil
}

func (d *Device) EnableSpawnGating(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.EnableGateErr != nil {
		return d.EnableGateErr
	}
	d.gatingEnabled = true
	return nil
}

func (d *Device) DisableSpawnGating(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DisableGateErr != nil {
		return d.DisableGateErr
	}
	d.gatingEnabled = false
	return nil
}

// GatingEnabled reports the current spawn-gating state — for test assertions.
func (d *Device) GatingEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gatingEnabled
}

func (d *Device) OnSpawnAdded(handler func(deviceio.SpawnEvent)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.handlerSeq
	d.handlerSeq++
	d.spawnHandlers[id] = handler
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.spawnHandlers, id)
	}
}

func (d *Device) OnChildAdded(handler func(deviceio.ChildEvent)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.handlerSeq
	d.handlerSeq++
	d.childHandlers[id] = handler
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.childHandlers, id)
	}
}

// TriggerSpawnAdded simulates the debug bridge reporting a new suspended
// process while spawn gating is enabled.
func (d *Device) TriggerSpawnAdded(ev deviceio.SpawnEvent) {
	d.mu.Lock()
	handlers := make([]func(deviceio.SpawnEvent), 0, len(d.spawnHandlers))
	for _, h := range d.spawnHandlers {
		handlers = append(handlers, h)
	}
	d.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// TriggerChildAdded simulates the debug bridge reporting a forked child
// of a gated process.
func (d *Device) TriggerChildAdded(ev deviceio.ChildEvent) {
	d.mu.Lock()
	handlers := make([]func(deviceio.ChildEvent), 0, len(d.childHandlers))
	for _, h := range d.childHandlers {
		handlers = append(handlers, h)
	}
	d.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Session is a scriptable deviceio.Session.
type Session struct {
	pid int

	mu            sync.Mutex
	detached      bool
	handlers      map[int]func(string)
	handlerSeq    int
	scripts       []*Script
	extraHandlers map[string]func(args []any) (any, error)
	DetachErr     error
}

func newSession(pid int) *Session {
	return &Session{pid: pid, handlers: make(map[int]func(string))}
}

func (s *Session) Pid() int { return s.pid }

func (s *Session) CreateScript(ctx context.Context, source string) (deviceio.Script, error) {
	sc := newScript(source)
	s.mu.Lock()
	for method, h := range s.extraHandlers {
		sc.RPCHandlers[method] = h
	}
	s.scripts = append(s.scripts, sc)
	s.mu.Unlock()
	return sc, nil
}

// Scripts returns every script created on this session so far, in
// creation order — for test assertions and for scripting a script's
// RPCHandlers after the fact (e.g. from an OnMessage/spawn callback
// fired before the caller that created it has returned).
func (s *Session) Scripts() []*Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Script, len(s.scripts))
	copy(out, s.scripts)
	return out
}

func (s *Session) Detach(ctx context.Context) error {
	if s.DetachErr != nil {
		return s.DetachErr
	}
	s.fireDetached("detach requested")
	return nil
}

func (s *Session) OnDetached(handler func(string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.handlerSeq
	s.handlerSeq++
	s.handlers[id] = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

// SimulateCrash fires the detached handlers as if the process died
// underneath the session, without the caller having requested detach.
func (s *Session) SimulateCrash(reason string) {
	s.fireDetached(reason)
}

func (s *Session) fireDetached(reason string) {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	s.detached = true
	handlers := make([]func(string), 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(reason)
	}
}

// Script is a scriptable deviceio.Script. RPC responses are resolved by
// RPCHandlers, keyed by method name; a method with no registered handler
// returns an error. The built-in "ping" handler can be overridden like
// any other by setting RPCHandlers["ping"].
type Script struct {
	source string

	mu             sync.Mutex
	loaded         bool
	destroyed      bool
	messageHandlers map[int]func(map[string]any, []byte)
	destroyHandlers map[int]func(string)
	handlerSeq     int
	RPCHandlers    map[string]func(args []any) (any, error)
}

func newScript(source string) *Script {
	return &Script{
		source:          source,
		messageHandlers: make(map[int]func(map[string]any, []byte)),
		destroyHandlers: make(map[int]func(string)),
		RPCHandlers: map[string]func(args []any) (any, error){
			"ping": func(args []any) (any, error) { return "pong", nil },
		},
	}
}

func (s *Script) Source() string { return s.source }

func (s *Script) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
	return nil
}

func (s *Script) Unload(ctx context.Context) error {
	s.fireDestroyed("unloaded")
	return nil
}

func (s *Script) Call(ctx context.Context, method string, args ...any) (any, error) {
	s.mu.Lock()
	h, ok := s.RPCHandlers[method]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fake script: no handler registered for %q", method)
	}
	return h(args)
}

func (s *Script) OnMessage(handler func(map[string]any, []byte)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.handlerSeq
	s.handlerSeq++
	s.messageHandlers[id] = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.messageHandlers, id)
	}
}

func (s *Script) OnDestroyed(handler func(string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.handlerSeq
	s.handlerSeq++
	s.destroyHandlers[id] = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.destroyHandlers, id)
	}
}

// SendMessage simulates the script posting an unsolicited message, the
// shape the event pipeline's ingestion gate parses.
func (s *Script) SendMessage(message map[string]any, data []byte) {
	s.mu.Lock()
	handlers := make([]func(map[string]any, []byte), 0, len(s.messageHandlers))
	for _, h := range s.messageHandlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(message, data)
	}
}

// SimulateCrash fires the destroyed handlers as if the runtime tore the
// script down on its own (e.g. an unhandled exception in a hook).
func (s *Script) SimulateCrash(reason string) {
	s.fireDestroyed(reason)
}

func (s *Script) fireDestroyed(reason string) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	handlers := make([]func(string), 0, len(s.destroyHandlers))
	for _, h := range s.destroyHandlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(reason)
	}
}
