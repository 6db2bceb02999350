package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fuzzysecurity/kahlo-host/pkg/facade"
	"github.com/fuzzysecurity/kahlo-host/pkg/job"
	"github.com/fuzzysecurity/kahlo-host/pkg/target"
)

// TestAttachOneshotCompletes covers the "attach + oneshot" scenario: an
// attach target running a oneshot job reaches state=completed with the
// script's reported result, polled through jobs.status. The fake
// orchestrator/job scripts are scripted via DefaultScriptHandlers since
// the real injected agent protocol isn't simulated by the fake backend.
func TestAttachOneshotCompletes(t *testing.T) {
	app := NewTestApp(t)
	app.Device.DefaultScriptHandlers = map[string]func(args []any) (any, error){
		"startJob":  func(args []any) (any, error) { return map[string]any{"state": "running"}, nil },
		"getStatus": func(args []any) (any, error) { return map[string]any{"state": "completed", "result": 42.0}, nil },
	}
	app.Device.AddProcess(1234, "com.ex.app", "com.ex.app")

	ensured, err := app.Facade.EnsureTarget(context.Background(), facade.EnsureTargetInput{
		DeviceID: "emu-1",
		Package:  "com.ex.app",
		Mode:     string(target.ModeAttach),
		Gating:   string(target.GatingNone),
	})
	require.NoError(t, err)

	started, err := app.Facade.JobsStart(context.Background(), facade.JobsStartInput{
		TargetID: ensured.TargetID,
		Type:     string(job.TypeOneshot),
		Module:   facade.BootstrapSpec{Kind: "source", Source: "module.exports={start:(p,c)=>42}"},
	})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	var status *job.Job
	for time.Now().Before(deadline) {
		status, err = app.Facade.JobsStatus(context.Background(), facade.JobIDInput{JobID: started.JobID})
		require.NoError(t, err)
		if status.State == job.StateCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.Equal(t, job.StateCompleted, status.State)
	require.Equal(t, 42.0, status.Result)
}
