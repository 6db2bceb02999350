package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fuzzysecurity/kahlo-host/pkg/deviceio"
	"github.com/fuzzysecurity/kahlo-host/pkg/errs"
	"github.com/fuzzysecurity/kahlo-host/pkg/events"
	"github.com/fuzzysecurity/kahlo-host/pkg/lock"
)

// rpcTimeout bounds the startJob/getStatus agent RPCs. It is a job
// controller implementation detail, independent of the five RPC
// timeouts the target manager and facade apply to ping/device
// resolution/attach/spawn/snapshot.
const rpcTimeout = 10 * time.Second

// ScriptCreator is the subset of the target manager the job controller
// depends on, kept as an interface so pkg/job never imports pkg/target
// (which itself calls back into the job controller on script crash).
type ScriptCreator interface {
	CreateJobScript(ctx context.Context, targetID, jobID, source string) (deviceio.Script, error)
	UnloadJobScript(ctx context.Context, targetID, jobID string) error
}

// Controller is the job controller described in spec §4.6.
type Controller struct {
	lock *lock.KeyedMutex

	mu         sync.RWMutex
	jobs       map[string]*Job
	scripts    map[string]deviceio.Script
	ttlTimers  map[string]*time.Timer

	scriptCreator ScriptCreator
	events        *events.Manager
	retention     time.Duration
	lastHealth    map[string]Health

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	log *slog.Logger
}

// NewController constructs a Controller. retention is the terminal-job
// pruning window (spec default 1h).
func NewController(scriptCreator ScriptCreator, eventManager *events.Manager, retention time.Duration) *Controller {
	if retention <= 0 {
		retention = time.Hour
	}
	c := &Controller{
		lock:          lock.New(),
		jobs:          make(map[string]*Job),
		scripts:       make(map[string]deviceio.Script),
		ttlTimers:     make(map[string]*time.Timer),
		scriptCreator: scriptCreator,
		events:        eventManager,
		retention:     retention,
		lastHealth:    make(map[string]Health),
		stopCh:        make(chan struct{}),
		log:           slog.With("component", "job_controller"),
	}
	eventManager.OnIngest(c.onIngest)
	return c
}

// SetScriptCreator wires the target manager in after construction, for
// callers that must build the job controller and the target manager in
// two steps to break the mutual dependency between them (the target
// manager's bootstrapRunner is this controller; this controller's
// ScriptCreator is the target manager). Mirrors
// target.Manager.SetScriptDestroyedCallback's two-phase wiring from the
// other direction.
func (c *Controller) SetScriptCreator(sc ScriptCreator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scriptCreator = sc
}

// RunRetentionSweep starts the periodic terminal-job pruning loop. It
// blocks until Stop is called, so callers should run it in a goroutine.
func (c *Controller) RunRetentionSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	c.wg.Add(1)
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.pruneTerminal()
		}
	}
}

// RunHealthSupervision starts the periodic daemon health sweep
// described in SPEC_FULL.md §4.6: recomputes health for every running
// daemon job and emits a job.health_changed event on transition, so
// subscribers learn a daemon went unhealthy without polling
// jobs.status. It blocks until Stop is called, so callers should run it
// in a goroutine, same as RunRetentionSweep.
func (c *Controller) RunHealthSupervision(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	c.wg.Add(1)
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweepHealth()
		}
	}
}

// Stop signals RunRetentionSweep/RunHealthSupervision to exit and waits
// for them.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Controller) pruneTerminal() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, j := range c.jobs {
		if isTerminal(j.State) && now.Sub(j.UpdatedAt) > c.retention {
			delete(c.jobs, id)
			delete(c.scripts, id)
			delete(c.lastHealth, id)
		}
	}
}

func (c *Controller) sweepHealth() {
	c.mu.Lock()
	type transition struct {
		targetID, jobID string
		health          Health
	}
	var transitions []transition
	for id, j := range c.jobs {
		if j.Type != TypeDaemon || j.State != StateRunning {
			delete(c.lastHealth, id)
			continue
		}
		health := CalculateJobHealth(j.Type, j.State, j.LastHeartbeat)
		if prev, ok := c.lastHealth[id]; !ok || prev != health {
			c.lastHealth[id] = health
			transitions = append(transitions, transition{targetID: j.TargetID, jobID: id, health: health})
		}
	}
	c.mu.Unlock()

	for _, tr := range transitions {
		level := events.LevelInfo
		if tr.health == HealthUnhealthy {
			level = events.LevelWarn
		}
		c.events.PushSynthetic(tr.targetID, tr.jobID, events.KindJobHealthChanged, level, map[string]any{"health": string(tr.health)})
	}
}

func (c *Controller) get(jobID string) (*Job, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	j, ok := c.jobs[jobID]
	return j, ok
}

func (c *Controller) put(j *Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs[j.JobID] = j
}

// Start implements spec §4.6's start operation.
func (c *Controller) Start(ctx context.Context, in StartInput) (*Job, error) {
	if in.ModuleSource == "" {
		return nil, errs.JobControllerError(errs.CodeInvalidArgument, "module_source must not be empty")
	}
	c.pruneTerminal()

	jobID := uuid.NewString()
	var result *Job
	err := c.lock.WithLock(ctx, jobID, func(ctx context.Context) error {
		r, err := c.doStart(ctx, jobID, in, false)
		result = r
		return err
	})
	return result, err
}

// StartBootstrap implements spec §4.6's startBootstrap operation: the
// lock key serializes bootstrap attempts per target rather than per
// job, and the job persists after start returns (its in-script hooks
// remain active), so no per-job lock is acquired.
func (c *Controller) StartBootstrap(ctx context.Context, in StartInput) (*Job, error) {
	if in.ModuleSource == "" {
		return nil, errs.JobControllerError(errs.CodeInvalidArgument, "module_source must not be empty")
	}

	jobID := uuid.NewString()
	var result *Job
	err := c.lock.WithLock(ctx, "bootstrap:"+in.TargetID, func(ctx context.Context) error {
		r, err := c.doStart(ctx, jobID, in, true)
		result = r
		return err
	})
	return result, err
}

func (c *Controller) doStart(ctx context.Context, jobID string, in StartInput, isBootstrap bool) (*Job, error) {
	now := time.Now().UTC()
	j := &Job{
		JobID:            jobID,
		TargetID:         in.TargetID,
		Type:             in.Type,
		ModuleSource:     in.ModuleSource,
		ModuleProvenance: in.ModuleProvenance,
		IsBootstrap:      isBootstrap,
		State:            StateQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	c.put(j)

	script, err := c.scriptCreator.CreateJobScript(ctx, in.TargetID, jobID, in.ModuleSource)
	if err != nil {
		j.State = StateFailed
		j.Error = &Error{Message: fmt.Sprintf("create job script: %v", err)}
		j.UpdatedAt = time.Now().UTC()
		c.put(j)
		return j.Clone(), errs.JobControllerError(errs.CodeUnavailable, "create job script: %v", err)
	}

	c.mu.Lock()
	c.scripts[jobID] = script
	c.mu.Unlock()

	j.State = StateStarting
	j.UpdatedAt = time.Now().UTC()
	c.put(j)

	rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	resp, callErr := script.Call(rpcCtx, "startJob", map[string]any{
		"job_id":        jobID,
		"job_type":      string(in.Type),
		"module_source": in.ModuleSource,
		"params":        in.Params,
	})
	cancel()

	if callErr != nil {
		j.State = StateFailed
		j.Error = &Error{Message: fmt.Sprintf("startJob RPC failed: %v", callErr)}
		j.UpdatedAt = time.Now().UTC()
		c.put(j)
		_ = c.scriptCreator.UnloadJobScript(context.Background(), in.TargetID, jobID)
		return j.Clone(), errs.JobControllerError(errs.CodeUnavailable, "startJob RPC failed: %v", callErr)
	}

	state := StateRunning
	if m, ok := resp.(map[string]any); ok {
		if s, ok := m["state"].(string); ok && s != "" {
			state = State(s)
		}
	}
	j.State = state
	j.UpdatedAt = time.Now().UTC()

	if in.TTL > 0 {
		c.armTTL(jobID, in.TTL)
	}

	c.put(j)
	c.events.PushSynthetic(in.TargetID, jobID, events.KindJobStarted, events.LevelInfo, map[string]any{
		"type":         string(in.Type),
		"is_bootstrap": isBootstrap,
	})
	return j.Clone(), nil
}

func (c *Controller) armTTL(jobID string, ttl time.Duration) {
	timer := time.AfterFunc(ttl, func() {
		if _, err := c.Cancel(context.Background(), jobID); err != nil {
			c.log.Warn("TTL cancel failed", "job_id", jobID, "error", err)
		}
	})
	c.mu.Lock()
	c.ttlTimers[jobID] = timer
	c.mu.Unlock()
}

func (c *Controller) clearTTL(jobID string) {
	c.mu.Lock()
	timer, ok := c.ttlTimers[jobID]
	if ok {
		delete(c.ttlTimers, jobID)
	}
	c.mu.Unlock()
	if ok {
		timer.Stop()
	}
}

// Status implements spec §4.6's jobStatus operation.
func (c *Controller) Status(ctx context.Context, jobID string) (*Job, error) {
	j, ok := c.get(jobID)
	if !ok {
		return nil, errs.JobControllerError(errs.CodeNotFound, "job %q not found", jobID)
	}
	if isTerminal(j.State) {
		return j.Clone(), nil
	}

	c.mu.RLock()
	script, hasScript := c.scripts[jobID]
	c.mu.RUnlock()
	if !hasScript {
		return j.Clone(), nil
	}

	var out *Job
	err := c.lock.WithLock(ctx, jobID, func(ctx context.Context) error {
		rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
		resp, callErr := script.Call(rpcCtx, "getStatus")
		cancel()

		current, ok := c.get(jobID)
		if !ok {
			return errs.JobControllerError(errs.CodeNotFound, "job %q not found", jobID)
		}
		if isTerminal(current.State) {
			out = current.Clone()
			return nil
		}

		if callErr != nil {
			if current.State == StateRunning {
				current.State = StateFailed
				current.Error = &Error{Message: "Script crashed or became unavailable"}
				current.UpdatedAt = time.Now().UTC()
				c.put(current)
			}
			out = current.Clone()
			return nil
		}

		reconcileStatus(current, resp)
		current.UpdatedAt = time.Now().UTC()
		c.put(current)
		out = current.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func reconcileStatus(j *Job, resp any) {
	m, ok := resp.(map[string]any)
	if !ok {
		return
	}
	if s, ok := m["state"].(string); ok && s != "" {
		j.State = State(s)
	}
	if hb, ok := m["heartbeat"].(time.Time); ok {
		j.LastHeartbeat = &hb
	}
	if result, ok := m["result"]; ok {
		j.Result = result
	}
	if errBody, ok := m["error"].(map[string]any); ok {
		if msg, ok := errBody["message"].(string); ok {
			j.Error = &Error{Message: msg}
		}
	}
}

// Cancel implements spec §4.6's cancel operation.
func (c *Controller) Cancel(ctx context.Context, jobID string) (*Job, error) {
	var out *Job
	err := c.lock.WithLock(ctx, jobID, func(ctx context.Context) error {
		current, ok := c.get(jobID)
		if !ok {
			return errs.JobControllerError(errs.CodeNotFound, "job %q not found", jobID)
		}
		if isTerminal(current.State) {
			out = current.Clone()
			return nil
		}

		c.clearTTL(jobID)

		c.mu.RLock()
		script, hasScript := c.scripts[jobID]
		c.mu.RUnlock()
		if hasScript {
			rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
			if resp, err := script.Call(rpcCtx, "getStatus"); err == nil {
				reconcileStatus(current, resp)
			}
			cancel()
		}

		// Set cancelled before unload so the script-destroyed callback
		// treats this termination as expected, not a crash.
		current.State = StateCancelled
		current.UpdatedAt = time.Now().UTC()
		c.put(current)

		if hasScript {
			if err := c.scriptCreator.UnloadJobScript(context.Background(), current.TargetID, jobID); err != nil {
				c.log.Warn("job script unload failed during cancel", "job_id", jobID, "error", err)
			}
		}

		out = current.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OnScriptDestroyed is registered with the target manager as the
// script-destroyed callback for job scripts.
func (c *Controller) OnScriptDestroyed(targetID, jobID, reason string) {
	current, ok := c.get(jobID)
	if !ok || isTerminal(current.State) {
		return
	}

	c.clearTTL(jobID)
	current.State = StateFailed
	current.Error = &Error{Message: fmt.Sprintf("Job script destroyed: %s", reason)}
	current.UpdatedAt = time.Now().UTC()
	c.put(current)

	c.events.PushSynthetic(targetID, jobID, events.KindJobCrashed, events.LevelError, map[string]any{"reason": reason})
}

// onIngest implements first-writer-wins final-metrics capture: hooked
// into the event pipeline so a job.completed/job.failed event's metrics
// survive even after the job script unloads.
func (c *Controller) onIngest(ev events.Event) {
	if ev.Kind != events.KindJobCompleted && ev.Kind != events.KindJobFailed {
		return
	}
	if ev.JobID == "" {
		return
	}
	raw, ok := ev.Payload["metrics"]
	if !ok {
		return
	}
	metricsMap, ok := raw.(map[string]any)
	if !ok {
		return
	}

	j, ok := c.get(ev.JobID)
	if !ok || j.Metrics != nil {
		return
	}

	m := &Metrics{}
	if v, ok := metricsMap["events_emitted"].(float64); ok {
		m.EventsEmitted = int(v)
	}
	if v, ok := metricsMap["hooks_installed"].(float64); ok {
		m.HooksInstalled = int(v)
	}
	if v, ok := metricsMap["errors"].(float64); ok {
		m.Errors = int(v)
	}

	j.Metrics = m
	j.UpdatedAt = time.Now().UTC()
	c.put(j)
}

// List returns a copy of every known job.
func (c *Controller) List() []*Job {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Job, 0, len(c.jobs))
	for _, j := range c.jobs {
		out = append(out, j.Clone())
	}
	return out
}
