package target

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fuzzysecurity/kahlo-host/pkg/deviceio"
	"github.com/fuzzysecurity/kahlo-host/pkg/draft"
	"github.com/fuzzysecurity/kahlo-host/pkg/errs"
	"github.com/fuzzysecurity/kahlo-host/pkg/events"
	"github.com/fuzzysecurity/kahlo-host/pkg/job"
	"github.com/fuzzysecurity/kahlo-host/pkg/lock"
	"github.com/fuzzysecurity/kahlo-host/pkg/module"
)

// Timeouts per spec §5. These bound the suspension points the target
// manager drives directly; job RPC timeouts live in pkg/job.
const (
	deviceResolveTimeout = 10 * time.Second
	attachTimeout        = 15 * time.Second
	spawnTimeout         = 30 * time.Second
	pingTimeout          = 5 * time.Second
)

// orchestratorSource is the coordinator script injected into every
// target. Its body is the in-process agent's concern, not the host's;
// the host only needs the wire contract (ping/getSnapshot) §6 defines.
const orchestratorSource = "/* kahlo coordinator orchestrator */"

// DeviceResolver resolves a device_id to a live device handle.
type DeviceResolver interface {
	Resolve(ctx context.Context, deviceID string) (deviceio.Device, error)
}

// bootstrapRunner is the subset of *job.Controller the target manager
// needs to run bootstrap jobs. Kept as an interface so tests can script
// bootstrap outcomes without a real job controller.
type bootstrapRunner interface {
	StartBootstrap(ctx context.Context, in job.StartInput) (*job.Job, error)
}

type parentGating struct {
	packagePrefix  string
	childBootstrap *Bootstrap
}

type deviceGating struct {
	device          deviceio.Device
	refCount        int
	parents         map[string]parentGating // parent_target_id -> entry
	disconnectSpawn func()
	disconnectChild func()
}

// Manager is the target manager described in spec §4.7.
type Manager struct {
	lock *lock.KeyedMutex

	mu      sync.RWMutex
	targets map[string]*Target
	sessions map[string]deviceio.Session

	jsMu        sync.Mutex
	jobScripts  map[string]map[string]deviceio.Script // target_id -> job_id -> script
	orchestrators map[string]deviceio.Script

	gatingMu sync.Mutex
	gating   map[string]*deviceGating // device_id -> state

	resolver  DeviceResolver
	events    *events.Manager
	drafts    *draft.Store
	modules   *module.Store
	bootstrap bootstrapRunner

	scriptDestroyed func(targetID, jobID, reason string)

	log *slog.Logger
}

// NewManager constructs a Manager.
func NewManager(resolver DeviceResolver, eventManager *events.Manager, drafts *draft.Store, modules *module.Store, bootstrapRunner bootstrapRunner) *Manager {
	return &Manager{
		lock:          lock.New(),
		targets:       make(map[string]*Target),
		sessions:      make(map[string]deviceio.Session),
		jobScripts:    make(map[string]map[string]deviceio.Script),
		orchestrators: make(map[string]deviceio.Script),
		gating:        make(map[string]*deviceGating),
		resolver:      resolver,
		events:        eventManager,
		drafts:        drafts,
		modules:       modules,
		bootstrap:     bootstrapRunner,
		log:           slog.With("component", "target_manager"),
	}
}

// SetScriptDestroyedCallback wires the job controller's crash handler.
// Composed at startup to avoid an import cycle between pkg/target and
// pkg/job (pkg/job only depends on pkg/target structurally, through its
// ScriptCreator interface).
func (m *Manager) SetScriptDestroyedCallback(cb func(targetID, jobID, reason string)) {
	m.scriptDestroyed = cb
}

func (m *Manager) get(targetID string) (*Target, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.targets[targetID]
	return t, ok
}

func (m *Manager) put(t *Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[t.TargetID] = t
}

func (m *Manager) session(targetID string) (deviceio.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[targetID]
	return s, ok
}

// Status returns a copy of the tracked target, or NOT_FOUND.
func (m *Manager) Status(targetID string) (*Target, error) {
	t, ok := m.get(targetID)
	if !ok {
		return nil, errs.TargetManagerError(errs.CodeNotFound, "target %q not found", targetID)
	}
	return t.Clone(), nil
}

// List returns a copy of every tracked target.
func (m *Manager) List() []*Target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Target, 0, len(m.targets))
	for _, t := range m.targets {
		out = append(out, t.Clone())
	}
	return out
}

func (m *Manager) resolveDevice(ctx context.Context, deviceID string) (deviceio.Device, error) {
	rctx, cancel := context.WithTimeout(ctx, deviceResolveTimeout)
	defer cancel()
	dev, err := m.resolver.Resolve(rctx, deviceID)
	if err != nil {
		return nil, errs.TargetManagerError(errs.CodeUnavailable, "resolve device %q: %v", deviceID, err)
	}
	return dev, nil
}

// selectProcess implements the attach path's pid selection per spec
// §4.7: exact match, else unique "pkg:suffix" match, else unique
// substring match. On ambiguity/no-match it returns up to 20 candidates
// drawn from every tier attempted.
func selectProcess(procs []deviceio.ProcessInfo, pkg string) (*deviceio.ProcessInfo, []deviceio.ProcessInfo) {
	var exact, suffix, contains []deviceio.ProcessInfo
	prefix := pkg + ":"
	for _, p := range procs {
		if p.Name == pkg || p.Identifier == pkg {
			exact = append(exact, p)
		}
		if strings.HasPrefix(p.Name, prefix) || strings.HasPrefix(p.Identifier, prefix) {
			suffix = append(suffix, p)
		}
		if strings.Contains(p.Name, pkg) || strings.Contains(p.Identifier, pkg) {
			contains = append(contains, p)
		}
	}
	if len(exact) == 1 {
		return &exact[0], nil
	}
	if len(suffix) == 1 {
		return &suffix[0], nil
	}
	if len(contains) == 1 {
		return &contains[0], nil
	}
	return nil, capCandidates(append(append(exact, suffix...), contains...), 20)
}

func capCandidates(procs []deviceio.ProcessInfo, max int) []deviceio.ProcessInfo {
	seen := make(map[int]bool)
	out := make([]deviceio.ProcessInfo, 0, max)
	for _, p := range procs {
		if seen[p.Pid] {
			continue
		}
		seen[p.Pid] = true
		out = append(out, p)
		if len(out) == max {
			break
		}
	}
	return out
}

// EnsureTarget implements spec §4.7's idempotent ensureTarget.
func (m *Manager) EnsureTarget(ctx context.Context, in EnsureInput) (*Target, error) {
	if in.Mode == ModeAttach && in.Gating != GatingNone && in.Gating != "" {
		return nil, errs.TargetManagerError(errs.CodeInvalidArgument, "mode=attach requires gating=none")
	}
	if (in.Gating == GatingSpawn || in.Gating == GatingChild) && in.Bootstrap == nil {
		return nil, errs.TargetManagerError(errs.CodeInvalidArgument, "gating=%s requires a bootstrap", in.Gating)
	}

	key := "ensure:" + in.DeviceID + ":" + in.Package
	var out *Target
	err := m.lock.WithLock(ctx, key, func(ctx context.Context) error {
		if existing := m.findExistingRunning(in); existing != nil {
			out = existing
			return nil
		}
		var t *Target
		var err error
		if in.Mode == ModeAttach {
			t, err = m.doAttach(ctx, in.DeviceID, in.Package)
		} else {
			t, err = m.doSpawn(ctx, in)
		}
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// findExistingRunning matches on device/package/mode only: an existing
// target's gating was fixed at creation time and cannot be changed by a
// later ensureTarget call, so a differing requested Gating still
// resolves to the same live target rather than spawning a duplicate.
func (m *Manager) findExistingRunning(in EnsureInput) *Target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.targets {
		if t.DeviceID == in.DeviceID && t.Package == in.Package && t.Mode == in.Mode &&
			t.State == StateRunning && !t.detached {
			return t.Clone()
		}
	}
	return nil
}

// doAttach implements the attach path.
func (m *Manager) doAttach(ctx context.Context, deviceID, pkg string) (*Target, error) {
	dev, err := m.resolveDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	procs, err := dev.EnumerateProcesses(ctx)
	if err != nil {
		return nil, errs.TargetManagerError(errs.CodeUnavailable, "enumerate processes: %v", err)
	}
	proc, candidates := selectProcess(procs, pkg)
	if proc == nil {
		return nil, errs.TargetManagerError(errs.CodeNotFound, "no unique process matching %q", pkg).
			WithDetails(map[string]any{"candidates": candidates})
	}

	attachCtx, cancel := context.WithTimeout(ctx, attachTimeout)
	session, err := dev.Attach(attachCtx, proc.Pid)
	cancel()
	if err != nil {
		return nil, errs.TargetManagerError(errs.CodeUnavailable, "attach to pid %d: %v", proc.Pid, err)
	}

	targetID := uuid.NewString()
	now := time.Now().UTC()
	pid := proc.Pid
	t := &Target{
		TargetID:   targetID,
		DeviceID:   deviceID,
		Package:    pkg,
		Pid:        &pid,
		Mode:       ModeAttach,
		Gating:     GatingNone,
		State:      StateRunning,
		AgentState: AgentNotInjected,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.storeSessionAndTarget(targetID, session, t)
	session.OnDetached(func(reason string) { m.onSessionDetached(targetID, reason) })

	if err := m.injectOrchestrator(ctx, t, session); err != nil {
		m.forgetTarget(targetID)
		return nil, err
	}
	return t.Clone(), nil
}

// doSpawn implements the spawn path.
func (m *Manager) doSpawn(ctx context.Context, in EnsureInput) (*Target, error) {
	var resolvedBootstrapSource string
	if in.Bootstrap != nil {
		src, err := m.resolveBootstrapSource(*in.Bootstrap)
		if err != nil {
			return nil, err
		}
		resolvedBootstrapSource = src
	}

	dev, err := m.resolveDevice(ctx, in.DeviceID)
	if err != nil {
		return nil, err
	}

	spawnCtx, cancel := context.WithTimeout(ctx, spawnTimeout)
	pid, err := dev.Spawn(spawnCtx, in.Package)
	cancel()
	if err != nil {
		return nil, errs.TargetManagerError(errs.CodeUnavailable, "spawn %q: %v", in.Package, err)
	}

	attachCtx, cancel := context.WithTimeout(ctx, attachTimeout)
	session, err := dev.Attach(attachCtx, pid)
	cancel()
	if err != nil {
		_ = dev.Kill(context.Background(), pid)
		return nil, errs.TargetManagerError(errs.CodeUnavailable, "attach to spawned pid %d: %v", pid, err)
	}

	targetID := uuid.NewString()
	now := time.Now().UTC()
	t := &Target{
		TargetID:   targetID,
		DeviceID:   in.DeviceID,
		Package:    in.Package,
		Pid:        &pid,
		Mode:       ModeSpawn,
		Gating:     in.Gating,
		State:      StateRunning,
		AgentState: AgentNotInjected,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.storeSessionAndTarget(targetID, session, t)
	session.OnDetached(func(reason string) { m.onSessionDetached(targetID, reason) })

	if err := m.injectOrchestrator(ctx, t, session); err != nil {
		_ = dev.Kill(context.Background(), pid)
		m.forgetTarget(targetID)
		return nil, err
	}

	switch in.Gating {
	case GatingNone:
		if err := dev.Resume(ctx, pid); err != nil {
			t.ResumeError = &ResumeError{Message: err.Error()}
			t.UpdatedAt = time.Now().UTC()
			m.put(t)
		}
		return t.Clone(), nil

	case GatingSpawn:
		if err := m.runGatedBootstrap(ctx, t, resolvedBootstrapSource, in.Bootstrap); err != nil {
			_ = dev.Kill(context.Background(), pid)
			m.forgetTarget(targetID)
			return nil, err
		}
		if err := dev.Resume(ctx, pid); err != nil {
			t.ResumeError = &ResumeError{Message: err.Error()}
			t.UpdatedAt = time.Now().UTC()
			m.put(t)
		}
		return t.Clone(), nil

	case GatingChild:
		if err := m.acquireGating(ctx, dev, in.DeviceID, targetID, in.Package, in.ChildBootstrap); err != nil {
			_ = dev.Kill(context.Background(), pid)
			m.forgetTarget(targetID)
			return nil, errs.TargetManagerError(errs.CodeUnavailable, "enable spawn gating: %v", err)
		}
		if err := m.runGatedBootstrap(ctx, t, resolvedBootstrapSource, in.Bootstrap); err != nil {
			m.releaseGating(in.DeviceID, targetID)
			_ = dev.Kill(context.Background(), pid)
			m.forgetTarget(targetID)
			return nil, err
		}
		if err := dev.Resume(ctx, pid); err != nil {
			t.ResumeError = &ResumeError{Message: err.Error()}
			t.UpdatedAt = time.Now().UTC()
			m.put(t)
		}
		return t.Clone(), nil

	default:
		return nil, errs.TargetManagerError(errs.CodeInvalidArgument, "unknown gating %q", in.Gating)
	}
}

func (m *Manager) runGatedBootstrap(ctx context.Context, t *Target, resolvedSource string, b *Bootstrap) error {
	jobType := job.Type(b.JobType)
	if jobType == "" {
		jobType = job.TypeOneshot
	}
	_, err := m.bootstrap.StartBootstrap(ctx, job.StartInput{
		TargetID:         t.TargetID,
		Type:             jobType,
		ModuleSource:     resolvedSource,
		ModuleProvenance: job.ProvenanceBootstrap,
		Params:           b.Params,
	})
	if err != nil {
		return errs.TargetManagerError(errs.CodeUnavailable, "bootstrap failed: %v", err)
	}
	return nil
}

func (m *Manager) storeSessionAndTarget(targetID string, session deviceio.Session, t *Target) {
	m.mu.Lock()
	m.sessions[targetID] = session
	m.targets[targetID] = t
	m.mu.Unlock()
}

func (m *Manager) forgetTarget(targetID string) {
	m.mu.Lock()
	delete(m.sessions, targetID)
	delete(m.targets, targetID)
	m.mu.Unlock()
	m.jsMu.Lock()
	delete(m.jobScripts, targetID)
	delete(m.orchestrators, targetID)
	m.jsMu.Unlock()
}

// injectOrchestrator implements spec §4.7's orchestrator injection.
func (m *Manager) injectOrchestrator(ctx context.Context, t *Target, session deviceio.Session) error {
	script, err := session.CreateScript(ctx, orchestratorSource)
	if err != nil {
		t.AgentState = AgentCrashed
		t.AgentError = &AgentError{Message: fmt.Sprintf("create orchestrator script: %v", err)}
		t.UpdatedAt = time.Now().UTC()
		m.put(t)
		return errs.TargetManagerError(errs.CodeUnavailable, "create orchestrator script: %v", err)
	}

	script.OnDestroyed(func(reason string) { m.onOrchestratorDestroyed(t.TargetID, reason) })
	script.OnMessage(func(msg map[string]any, data []byte) {
		m.events.RecordAgentMessage(t.TargetID, t.Pid, msg)
	})

	if err := script.Load(ctx); err != nil {
		t.AgentState = AgentCrashed
		t.AgentError = &AgentError{Message: fmt.Sprintf("load orchestrator: %v", err)}
		t.UpdatedAt = time.Now().UTC()
		m.put(t)
		return errs.TargetManagerError(errs.CodeUnavailable, "load orchestrator: %v", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	resp, err := script.Call(pingCtx, "ping")
	cancel()
	if err != nil || resp != "pong" {
		t.AgentState = AgentCrashed
		msg := "ping did not return pong"
		if err != nil {
			msg = err.Error()
		}
		t.AgentError = &AgentError{Message: msg}
		t.UpdatedAt = time.Now().UTC()
		m.put(t)
		return errs.TargetManagerError(errs.CodeUnavailable, "orchestrator ping failed: %s", msg)
	}

	t.AgentState = AgentReady
	t.UpdatedAt = time.Now().UTC()
	m.put(t)

	m.jsMu.Lock()
	m.orchestrators[t.TargetID] = script
	m.jsMu.Unlock()
	return nil
}

// CallOrchestrator issues an RPC to a running target's orchestrator
// script, used by the snapshot tool (spec §6 "snapshots.get"). It does
// not take the target's key lock: the orchestrator script handle is
// read under jsMu only, so a concurrent Detach unloading the script
// races safely — the call simply fails with CodeUnavailable if the
// script is gone by the time Call runs.
func (m *Manager) CallOrchestrator(ctx context.Context, targetID, method string, args ...any) (any, error) {
	t, ok := m.get(targetID)
	if !ok {
		return nil, errs.TargetManagerError(errs.CodeNotFound, "target %s not found", targetID)
	}
	if t.State != StateRunning || t.AgentState != AgentReady {
		return nil, errs.TargetManagerError(errs.CodeUnavailable, "target %s orchestrator is not ready", targetID)
	}

	m.jsMu.Lock()
	script, ok := m.orchestrators[targetID]
	m.jsMu.Unlock()
	if !ok {
		return nil, errs.TargetManagerError(errs.CodeUnavailable, "target %s has no orchestrator loaded", targetID)
	}

	resp, err := script.Call(ctx, method, args...)
	if err != nil {
		return nil, errs.TargetManagerError(errs.CodeUnavailable, "orchestrator call %q failed: %v", method, err)
	}
	return resp, nil
}

func (m *Manager) onOrchestratorDestroyed(targetID, reason string) {
	t, ok := m.get(targetID)
	if !ok || t.detached || t.State != StateRunning {
		return
	}
	_ = m.lock.WithLock(context.Background(), targetID, func(ctx context.Context) error {
		cur, ok := m.get(targetID)
		if !ok || cur.detached || cur.State != StateRunning {
			return nil
		}
		cur.AgentState = AgentCrashed
		cur.AgentError = &AgentError{Message: fmt.Sprintf("orchestrator destroyed: %s", reason)}
		cur.UpdatedAt = time.Now().UTC()
		m.put(cur)
		return nil
	})
}

// onSessionDetached implements spec §4.7's session-detached handler. It
// peeks the detached flag lock-free first so that Detach's own
// caller-initiated session.Detach call (made while already holding the
// target's key lock) short-circuits here instead of re-entering the
// same key, which would deadlock.
func (m *Manager) onSessionDetached(targetID, reason string) {
	t, ok := m.get(targetID)
	if !ok || t.detached {
		return
	}
	_ = m.lock.WithLock(context.Background(), targetID, func(ctx context.Context) error {
		cur, ok := m.get(targetID)
		if !ok || cur.detached {
			return nil
		}
		cur.detached = true
		cur.State = StateDead
		if cur.AgentState == AgentReady {
			cur.AgentState = AgentCrashed
		}
		cur.LastDetach = &LastDetach{Reason: reason, Crash: true}
		cur.UpdatedAt = time.Now().UTC()
		m.put(cur)
		m.events.PushSynthetic(targetID, "", events.KindTargetDied, events.LevelError, map[string]any{"reason": reason})
		return nil
	})
}

// CreateJobScript implements job.ScriptCreator, serialized under the
// target's lock per spec §4.7.
func (m *Manager) CreateJobScript(ctx context.Context, targetID, jobID, source string) (deviceio.Script, error) {
	var out deviceio.Script
	err := m.lock.WithLock(ctx, targetID, func(ctx context.Context) error {
		t, ok := m.get(targetID)
		if !ok {
			return errs.TargetManagerError(errs.CodeNotFound, "target %q not found", targetID)
		}
		if t.State != StateRunning {
			return errs.TargetManagerError(errs.CodeUnavailable, "target %q is not running", targetID)
		}

		m.jsMu.Lock()
		if _, exists := m.jobScripts[targetID][jobID]; exists {
			m.jsMu.Unlock()
			return errs.TargetManagerError(errs.CodeInvalidArgument, "duplicate job_id %q", jobID)
		}
		m.jsMu.Unlock()

		session, ok := m.session(targetID)
		if !ok {
			return errs.TargetManagerError(errs.CodeUnavailable, "no session for target %q", targetID)
		}

		script, err := session.CreateScript(ctx, source)
		if err != nil {
			return errs.TargetManagerError(errs.CodeUnavailable, "create job script: %v", err)
		}
		script.OnDestroyed(func(reason string) { m.onJobScriptDestroyed(targetID, jobID, reason) })
		script.OnMessage(func(msg map[string]any, data []byte) {
			m.events.RecordAgentMessage(targetID, t.Pid, msg)
		})
		if err := script.Load(ctx); err != nil {
			return errs.TargetManagerError(errs.CodeUnavailable, "load job script: %v", err)
		}

		m.jsMu.Lock()
		if m.jobScripts[targetID] == nil {
			m.jobScripts[targetID] = make(map[string]deviceio.Script)
		}
		m.jobScripts[targetID][jobID] = script
		m.jsMu.Unlock()

		out = script
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UnloadJobScript implements job.ScriptCreator; idempotent.
func (m *Manager) UnloadJobScript(ctx context.Context, targetID, jobID string) error {
	return m.lock.WithLock(ctx, targetID, func(ctx context.Context) error {
		return m.unloadJobScriptLocked(ctx, targetID, jobID)
	})
}

// unloadJobScriptLocked is the lockless internal form spec §4.7 calls
// for; callers must already hold the target's key lock.
func (m *Manager) unloadJobScriptLocked(ctx context.Context, targetID, jobID string) error {
	m.jsMu.Lock()
	script, ok := m.jobScripts[targetID][jobID]
	if ok {
		delete(m.jobScripts[targetID], jobID)
	}
	m.jsMu.Unlock()
	if !ok {
		return nil
	}
	return script.Unload(ctx)
}

func (m *Manager) unloadAllJobScriptsLocked(ctx context.Context, targetID string) {
	m.jsMu.Lock()
	ids := make([]string, 0, len(m.jobScripts[targetID]))
	for jobID := range m.jobScripts[targetID] {
		ids = append(ids, jobID)
	}
	m.jsMu.Unlock()
	for _, jobID := range ids {
		if err := m.unloadJobScriptLocked(ctx, targetID, jobID); err != nil {
			m.log.Warn("job script unload failed during detach", "target_id", targetID, "job_id", jobID, "error", err)
		}
	}
}

func (m *Manager) onJobScriptDestroyed(targetID, jobID, reason string) {
	m.jsMu.Lock()
	if scripts, ok := m.jobScripts[targetID]; ok {
		delete(scripts, jobID)
	}
	m.jsMu.Unlock()
	if m.scriptDestroyed != nil {
		m.scriptDestroyed(targetID, jobID, reason)
	}
}

// Detach implements spec §4.7's detach operation.
func (m *Manager) Detach(ctx context.Context, targetID string) (*Target, error) {
	var out *Target
	var children []string
	err := m.lock.WithLock(ctx, targetID, func(ctx context.Context) error {
		t, ok := m.get(targetID)
		if !ok {
			return errs.TargetManagerError(errs.CodeNotFound, "target %q not found", targetID)
		}
		if t.detached {
			out = t.Clone()
			return nil
		}

		t.detached = true
		m.put(t)

		m.unloadAllJobScriptsLocked(ctx, targetID)

		m.jsMu.Lock()
		orch, hasOrch := m.orchestrators[targetID]
		delete(m.orchestrators, targetID)
		m.jsMu.Unlock()
		if hasOrch {
			_ = orch.Unload(ctx)
		}

		if session, ok := m.session(targetID); ok {
			_ = session.Detach(ctx)
		}

		t.State = StateDetached
		t.UpdatedAt = time.Now().UTC()
		m.put(t)

		m.events.CloseTarget(targetID)

		if t.Gating == GatingChild {
			m.releaseGating(t.DeviceID, targetID)
		}

		m.mu.RLock()
		for _, cand := range m.targets {
			if cand.ParentTargetID == targetID {
				children = append(children, cand.TargetID)
			}
		}
		m.mu.RUnlock()

		out = t.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, childID := range children {
		childID := childID
		g.Go(func() error {
			_, err := m.Detach(gctx, childID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		m.log.Warn("child detach cascade encountered an error", "target_id", targetID, "error", err)
	}
	return out, nil
}

// acquireGating implements the ref-counted per-device spawn/child
// gating described in spec §4.7.
func (m *Manager) acquireGating(ctx context.Context, dev deviceio.Device, deviceID, targetID, packagePrefix string, childBootstrap *Bootstrap) error {
	m.gatingMu.Lock()
	g, ok := m.gating[deviceID]
	if !ok {
		g = &deviceGating{device: dev, parents: make(map[string]parentGating)}
		m.gating[deviceID] = g
	}
	first := g.refCount == 0
	if first {
		if err := dev.EnableSpawnGating(ctx); err != nil {
			if g.refCount == 0 {
				delete(m.gating, deviceID)
			}
			m.gatingMu.Unlock()
			return err
		}
		g.disconnectSpawn = dev.OnSpawnAdded(func(ev deviceio.SpawnEvent) {
			m.handleGatedEvent(deviceID, ev.Identifier, ev.Pid)
		})
		g.disconnectChild = dev.OnChildAdded(func(ev deviceio.ChildEvent) {
			m.handleGatedEvent(deviceID, ev.Identifier, ev.Pid)
		})
	}
	g.parents[targetID] = parentGating{packagePrefix: packagePrefix, childBootstrap: childBootstrap}
	g.refCount++
	m.gatingMu.Unlock()
	return nil
}

func (m *Manager) releaseGating(deviceID, targetID string) {
	m.gatingMu.Lock()
	g, ok := m.gating[deviceID]
	if !ok {
		m.gatingMu.Unlock()
		return
	}
	delete(g.parents, targetID)
	g.refCount--
	if g.refCount > 0 {
		m.gatingMu.Unlock()
		return
	}
	dev := g.device
	disconnectSpawn, disconnectChild := g.disconnectSpawn, g.disconnectChild
	delete(m.gating, deviceID)
	m.gatingMu.Unlock()

	if disconnectSpawn != nil {
		disconnectSpawn()
	}
	if disconnectChild != nil {
		disconnectChild()
	}
	_ = dev.DisableSpawnGating(context.Background())
}

// handleGatedEvent matches a newly-gated pid's identifier against every
// registered parent prefix. A match adopts the child under that
// parent; no match resumes the orphan so unrelated processes are never
// blocked.
func (m *Manager) handleGatedEvent(deviceID, identifier string, pid int) {
	m.gatingMu.Lock()
	g, ok := m.gating[deviceID]
	if !ok {
		m.gatingMu.Unlock()
		return
	}
	dev := g.device
	var matchedParent string
	var matchedEntry parentGating
	for parentID, entry := range g.parents {
		if strings.HasPrefix(identifier, entry.packagePrefix) {
			matchedParent = parentID
			matchedEntry = entry
			break
		}
	}
	m.gatingMu.Unlock()

	ctx := context.Background()
	if matchedParent == "" {
		_ = dev.Resume(ctx, pid)
		return
	}

	parent, ok := m.get(matchedParent)
	if !ok || parent.State != StateRunning {
		_ = dev.Resume(ctx, pid)
		return
	}

	m.adoptChild(ctx, dev, parent, identifier, pid, matchedEntry.childBootstrap)
}

func (m *Manager) adoptChild(ctx context.Context, dev deviceio.Device, parent *Target, identifier string, pid int, childBootstrap *Bootstrap) {
	session, err := dev.Attach(ctx, pid)
	if err != nil {
		m.log.Warn("adopt child: attach failed, resuming orphan", "pid", pid, "error", err)
		_ = dev.Resume(ctx, pid)
		return
	}

	targetID := uuid.NewString()
	now := time.Now().UTC()
	childPid := pid
	t := &Target{
		TargetID:       targetID,
		DeviceID:       parent.DeviceID,
		Package:        identifier,
		Pid:            &childPid,
		Mode:           ModeSpawn,
		Gating:         GatingNone,
		State:          StateRunning,
		AgentState:     AgentNotInjected,
		ParentTargetID: parent.TargetID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.storeSessionAndTarget(targetID, session, t)
	session.OnDetached(func(reason string) { m.onSessionDetached(targetID, reason) })

	if err := m.injectOrchestrator(ctx, t, session); err != nil {
		m.log.Warn("adopt child: orchestrator injection failed, resuming anyway", "target_id", targetID, "error", err)
	}

	if childBootstrap != nil {
		src, err := m.resolveBootstrapSource(*childBootstrap)
		if err == nil {
			if err := m.runGatedBootstrap(ctx, t, src, childBootstrap); err != nil {
				m.log.Warn("child bootstrap failed", "target_id", targetID, "error", err)
			}
		} else {
			m.log.Warn("resolve child bootstrap source failed", "target_id", targetID, "error", err)
		}
	}

	if err := dev.Resume(ctx, pid); err != nil {
		t.ResumeError = &ResumeError{Message: err.Error()}
		t.UpdatedAt = time.Now().UTC()
		m.put(t)
	}
}

// resolveBootstrapSource implements spec §4.7's bootstrap resolution:
// all lookups happen synchronously before any process state changes.
func (m *Manager) resolveBootstrapSource(b Bootstrap) (string, error) {
	switch b.Kind {
	case BootstrapSource:
		if b.Source == "" {
			return "", errs.TargetManagerError(errs.CodeInvalidArgument, "bootstrap source must not be empty")
		}
		return b.Source, nil

	case BootstrapDraftID:
		d, err := m.drafts.Get(b.Ref)
		if err != nil {
			return "", err
		}
		if d.Source == "" {
			return "", errs.TargetManagerError(errs.CodeInvalidArgument, "draft %q has empty source", b.Ref)
		}
		return d.Source, nil

	case BootstrapModuleRef:
		name, version, ok := splitModuleRef(b.Ref)
		if !ok {
			return "", errs.TargetManagerError(errs.CodeInvalidArgument, "malformed module_ref %q", b.Ref)
		}
		src, err := m.modules.ReadSource(name, version)
		if err != nil {
			return "", err
		}
		return src, nil

	default:
		return "", errs.TargetManagerError(errs.CodeInvalidArgument, "unknown bootstrap kind %q", b.Kind)
	}
}

func splitModuleRef(ref string) (name, version string, ok bool) {
	i := strings.LastIndex(ref, "@")
	if i <= 0 || i == len(ref)-1 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}
