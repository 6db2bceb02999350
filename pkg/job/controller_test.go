package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuzzysecurity/kahlo-host/pkg/deviceio"
	"github.com/fuzzysecurity/kahlo-host/pkg/deviceio/fake"
	"github.com/fuzzysecurity/kahlo-host/pkg/errs"
	"github.com/fuzzysecurity/kahlo-host/pkg/events"
)

// fakeScriptCreator is a scripted ScriptCreator for controller tests. Each
// target gets one fake.Script per job, keyed by job_id.
type fakeScriptCreator struct {
	scripts      map[string]*fake.Script
	createErr    error
	unloadErr    error
	unloadCalled map[string]bool
}

func newFakeScriptCreator() *fakeScriptCreator {
	return &fakeScriptCreator{
		scripts:      make(map[string]*fake.Script),
		unloadCalled: make(map[string]bool),
	}
}

func (f *fakeScriptCreator) CreateJobScript(ctx context.Context, targetID, jobID, source string) (deviceio.Script, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	sc := newScriptedScript(source)
	f.scripts[jobID] = sc
	return sc, nil
}

func (f *fakeScriptCreator) UnloadJobScript(ctx context.Context, targetID, jobID string) error {
	f.unloadCalled[jobID] = true
	if f.unloadErr != nil {
		return f.unloadErr
	}
	if sc, ok := f.scripts[jobID]; ok {
		return sc.Unload(ctx)
	}
	return nil
}

// newScriptedScript builds a fake.Script whose startJob handler replies ok.
func newScriptedScript(source string) *fake.Script {
	s, _ := (&fake.Session{}).CreateScript(context.Background(), source)
	sc := s.(*fake.Script)
	sc.RPCHandlers["startJob"] = func(args []any) (any, error) {
		return map[string]any{"ok": true, "state": "running"}, nil
	}
	sc.RPCHandlers["getStatus"] = func(args []any) (any, error) {
		return map[string]any{"state": "running"}, nil
	}
	return sc
}

func newTestManager(t *testing.T) *events.Manager {
	t.Helper()
	return events.NewManager(t.TempDir(), 100, 100, 50, 500)
}

func TestStartTransitionsToRunning(t *testing.T) {
	sc := newFakeScriptCreator()
	m := newTestManager(t)
	c := NewController(sc, m, time.Hour)

	j, err := c.Start(context.Background(), StartInput{
		TargetID:     "t1",
		Type:         TypeOneshot,
		ModuleSource: "console.log(1)",
	})
	require.NoError(t, err)
	assert.Equal(t, StateRunning, j.State)
	assert.False(t, j.IsBootstrap)
}

func TestStartRejectsEmptyModuleSource(t *testing.T) {
	c := NewController(newFakeScriptCreator(), newTestManager(t), time.Hour)
	_, err := c.Start(context.Background(), StartInput{TargetID: "t1"})
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CodeInvalidArgument, e.Code)
}

func TestStartFailsWhenScriptCreationFails(t *testing.T) {
	sc := newFakeScriptCreator()
	sc.createErr = assert.AnError
	c := NewController(sc, newTestManager(t), time.Hour)

	j, err := c.Start(context.Background(), StartInput{TargetID: "t1", ModuleSource: "x"})
	require.Error(t, err)
	require.NotNil(t, j)
	assert.Equal(t, StateFailed, j.State)
}

func TestStartBootstrapSetsFlagsAndLockKey(t *testing.T) {
	sc := newFakeScriptCreator()
	c := NewController(sc, newTestManager(t), time.Hour)

	j, err := c.StartBootstrap(context.Background(), StartInput{
		TargetID:     "t1",
		Type:         TypeDaemon,
		ModuleSource: "bootstrap",
	})
	require.NoError(t, err)
	assert.True(t, j.IsBootstrap)
	assert.Equal(t, StateRunning, j.State)
}

func TestStatusReturnsTerminalSnapshotWithoutRPC(t *testing.T) {
	sc := newFakeScriptCreator()
	m := newTestManager(t)
	c := NewController(sc, m, time.Hour)

	j, err := c.Start(context.Background(), StartInput{TargetID: "t1", ModuleSource: "x"})
	require.NoError(t, err)

	_, err = c.Cancel(context.Background(), j.JobID)
	require.NoError(t, err)

	status, err := c.Status(context.Background(), j.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, status.State)
}

func TestStatusFlipsToFailedWhenRPCThrowsWhileRunning(t *testing.T) {
	sc := newFakeScriptCreator()
	m := newTestManager(t)
	c := NewController(sc, m, time.Hour)

	j, err := c.Start(context.Background(), StartInput{TargetID: "t1", ModuleSource: "x"})
	require.NoError(t, err)

	script := sc.scripts[j.JobID]
	delete(script.RPCHandlers, "getStatus")

	status, err := c.Status(context.Background(), j.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, status.State)
	require.NotNil(t, status.Error)
	assert.Equal(t, "Script crashed or became unavailable", status.Error.Message)
}

func TestCancelIsIdempotent(t *testing.T) {
	sc := newFakeScriptCreator()
	m := newTestManager(t)
	c := NewController(sc, m, time.Hour)

	j, err := c.Start(context.Background(), StartInput{TargetID: "t1", ModuleSource: "x"})
	require.NoError(t, err)

	first, err := c.Cancel(context.Background(), j.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, first.State)

	second, err := c.Cancel(context.Background(), j.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, second.State)
}

func TestCancelUnknownJobReturnsNotFound(t *testing.T) {
	c := NewController(newFakeScriptCreator(), newTestManager(t), time.Hour)
	_, err := c.Cancel(context.Background(), "bogus")
	require.Error(t, err)
	e, _ := errs.As(err)
	assert.Equal(t, errs.CodeNotFound, e.Code)
}

func TestOnScriptDestroyedMarksFailedAndEmitsCrashedEvent(t *testing.T) {
	sc := newFakeScriptCreator()
	m := newTestManager(t)
	c := NewController(sc, m, time.Hour)

	j, err := c.Start(context.Background(), StartInput{TargetID: "t1", ModuleSource: "x"})
	require.NoError(t, err)

	c.OnScriptDestroyed("t1", j.JobID, "unhandled exception")

	updated, ok := c.get(j.JobID)
	require.True(t, ok)
	assert.Equal(t, StateFailed, updated.State)
	assert.Equal(t, "Job script destroyed: unhandled exception", updated.Error.Message)

	evs, _, err := m.FetchEvents("t1", "", "", 10, events.Filters{})
	require.NoError(t, err)
	var found bool
	for _, ev := range evs {
		if ev.Kind == events.KindJobCrashed {
			found = true
		}
	}
	assert.True(t, found)
}

func TestOnScriptDestroyedIgnoresAlreadyTerminalJob(t *testing.T) {
	sc := newFakeScriptCreator()
	m := newTestManager(t)
	c := NewController(sc, m, time.Hour)

	j, err := c.Start(context.Background(), StartInput{TargetID: "t1", ModuleSource: "x"})
	require.NoError(t, err)
	_, err = c.Cancel(context.Background(), j.JobID)
	require.NoError(t, err)

	c.OnScriptDestroyed("t1", j.JobID, "unrelated crash")

	updated, ok := c.get(j.JobID)
	require.True(t, ok)
	assert.Equal(t, StateCancelled, updated.State)
}

func TestFinalMetricsCaptureIsFirstWriterWins(t *testing.T) {
	sc := newFakeScriptCreator()
	m := newTestManager(t)
	c := NewController(sc, m, time.Hour)

	j, err := c.Start(context.Background(), StartInput{TargetID: "t1", ModuleSource: "x"})
	require.NoError(t, err)

	m.PushSynthetic("t1", j.JobID, events.KindJobCompleted, events.LevelInfo, map[string]any{
		"metrics": map[string]any{"events_emitted": float64(5), "hooks_installed": float64(2), "errors": float64(0)},
	})

	updated, ok := c.get(j.JobID)
	require.True(t, ok)
	require.NotNil(t, updated.Metrics)
	assert.Equal(t, 5, updated.Metrics.EventsEmitted)

	// A second event must not overwrite the first-writer metrics.
	m.PushSynthetic("t1", j.JobID, events.KindJobCompleted, events.LevelInfo, map[string]any{
		"metrics": map[string]any{"events_emitted": float64(99)},
	})
	again, ok := c.get(j.JobID)
	require.True(t, ok)
	assert.Equal(t, 5, again.Metrics.EventsEmitted)
}

func TestPruneTerminalRemovesOldTerminalJobs(t *testing.T) {
	sc := newFakeScriptCreator()
	m := newTestManager(t)
	c := NewController(sc, m, time.Millisecond)

	j, err := c.Start(context.Background(), StartInput{TargetID: "t1", ModuleSource: "x"})
	require.NoError(t, err)
	_, err = c.Cancel(context.Background(), j.JobID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	c.pruneTerminal()

	_, ok := c.get(j.JobID)
	assert.False(t, ok)
}

func TestCalculateJobHealth(t *testing.T) {
	now := time.Now()
	stale := now.Add(-time.Minute)

	assert.Equal(t, HealthUnknown, CalculateJobHealth(TypeOneshot, StateRunning, &now))
	assert.Equal(t, HealthUnknown, CalculateJobHealth(TypeDaemon, StateQueued, &now))
	assert.Equal(t, HealthUnhealthy, CalculateJobHealth(TypeDaemon, StateRunning, nil))
	assert.Equal(t, HealthHealthy, CalculateJobHealth(TypeDaemon, StateRunning, &now))
	assert.Equal(t, HealthUnhealthy, CalculateJobHealth(TypeDaemon, StateRunning, &stale))
}

func TestCloneComputesHealth(t *testing.T) {
	now := time.Now()
	j := &Job{Type: TypeDaemon, State: StateRunning, LastHeartbeat: &now}
	assert.Equal(t, HealthHealthy, j.Clone().Health)

	j.State = StateCompleted
	assert.Equal(t, HealthUnknown, j.Clone().Health)
}

func TestStatusSurfacesHealth(t *testing.T) {
	sc := newFakeScriptCreator()
	m := newTestManager(t)
	c := NewController(sc, m, time.Hour)

	j, err := c.StartBootstrap(context.Background(), StartInput{
		TargetID:     "t1",
		Type:         TypeDaemon,
		ModuleSource: "daemon",
	})
	require.NoError(t, err)

	// The fake getStatus reports no heartbeat, so a running daemon is
	// unhealthy.
	status, err := c.Status(context.Background(), j.JobID)
	require.NoError(t, err)
	assert.Equal(t, HealthUnhealthy, status.Health)
}

func TestSweepHealthEmitsHealthChangedOnTransition(t *testing.T) {
	sc := newFakeScriptCreator()
	m := newTestManager(t)
	c := NewController(sc, m, time.Hour)

	j, err := c.StartBootstrap(context.Background(), StartInput{
		TargetID:     "t1",
		Type:         TypeDaemon,
		ModuleSource: "daemon",
	})
	require.NoError(t, err)

	current, ok := c.get(j.JobID)
	require.True(t, ok)
	stale := time.Now().Add(-time.Minute)
	current.LastHeartbeat = &stale
	c.put(current)

	c.sweepHealth()

	evs, _, err := m.FetchEvents("t1", "", "", 10, events.Filters{})
	require.NoError(t, err)
	var found bool
	for _, ev := range evs {
		if ev.Kind == events.KindJobHealthChanged {
			found = true
		}
	}
	assert.True(t, found)

	// A second sweep with no further change emits nothing new.
	before := len(evs)
	c.sweepHealth()
	evs, _, err = m.FetchEvents("t1", "", "", 10, events.Filters{})
	require.NoError(t, err)
	assert.Len(t, evs, before)
}

func TestListReturnsClones(t *testing.T) {
	sc := newFakeScriptCreator()
	m := newTestManager(t)
	c := NewController(sc, m, time.Hour)

	_, err := c.Start(context.Background(), StartInput{TargetID: "t1", ModuleSource: "x"})
	require.NoError(t, err)
	_, err = c.Start(context.Background(), StartInput{TargetID: "t1", ModuleSource: "y"})
	require.NoError(t, err)

	list := c.List()
	assert.Len(t, list, 2)
}
