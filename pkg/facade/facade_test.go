package facade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuzzysecurity/kahlo-host/pkg/artifact"
	"github.com/fuzzysecurity/kahlo-host/pkg/deviceio"
	"github.com/fuzzysecurity/kahlo-host/pkg/deviceio/fake"
	"github.com/fuzzysecurity/kahlo-host/pkg/draft"
	"github.com/fuzzysecurity/kahlo-host/pkg/errs"
	"github.com/fuzzysecurity/kahlo-host/pkg/events"
	"github.com/fuzzysecurity/kahlo-host/pkg/job"
	"github.com/fuzzysecurity/kahlo-host/pkg/module"
	"github.com/fuzzysecurity/kahlo-host/pkg/target"
)

// newTestFacade wires every real store (no mocks beyond pkg/deviceio/fake,
// the device-layer boundary every package in this tree tests against) the
// same way a production kahlohostd process does: the job controller and
// target manager are built in two steps to satisfy their mutual
// dependency (job.Controller.SetScriptCreator / target.Manager's
// bootstrapRunner).
func newTestFacade(t *testing.T) (*Facade, *fake.Device) {
	t.Helper()

	registry := deviceio.NewRegistry()
	dev := fake.NewDevice("dev1")
	registry.Register(dev)

	eventMgr := events.NewManager(t.TempDir(), 100, 100, 50, 500)
	drafts := draft.New(t.TempDir())
	modules := module.New(t.TempDir())
	artifacts := artifact.New(t.TempDir(), 0)

	jobs := job.NewController(nil, eventMgr, time.Hour)
	targets := target.NewManager(registry, eventMgr, drafts, modules, jobs)
	jobs.SetScriptCreator(targets)
	targets.SetScriptDestroyedCallback(jobs.OnScriptDestroyed)

	return New(registry, targets, jobs, eventMgr, artifacts, drafts, modules), dev
}

func ensureTarget(t *testing.T, f *Facade, dev *fake.Device) string {
	t.Helper()
	dev.AddProcess(1234, "com.example.app", "com.example.app")
	out, err := f.EnsureTarget(context.Background(), EnsureTargetInput{
		DeviceID: "dev1",
		Package:  "com.example.app",
		Mode:     string(target.ModeAttach),
		Gating:   string(target.GatingNone),
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.TargetID)
	return out.TargetID
}

func TestDevicesListGetHealthProcesses(t *testing.T) {
	f, dev := newTestFacade(t)
	dev.AddProcess(1, "system_server", "android")

	list, err := f.DevicesList(context.Background(), struct{}{})
	require.NoError(t, err)
	require.Len(t, list.Devices, 1)
	assert.Equal(t, "dev1", list.Devices[0].DeviceID)

	info, err := f.DevicesGet(context.Background(), DeviceIDInput{DeviceID: "dev1"})
	require.NoError(t, err)
	assert.Equal(t, "dev1", info.DeviceID)

	health, err := f.DevicesHealth(context.Background(), DeviceIDInput{DeviceID: "dev1"})
	require.NoError(t, err)
	assert.True(t, health.Reachable)

	procs, err := f.ProcessesList(context.Background(), DeviceIDInput{DeviceID: "dev1"})
	require.NoError(t, err)
	require.Len(t, procs.Processes, 1)
	assert.Equal(t, "system_server", procs.Processes[0].Name)
}

func TestDevicesGetUnknownDeviceReturnsNotFound(t *testing.T) {
	f, _ := newTestFacade(t)

	_, err := f.DevicesGet(context.Background(), DeviceIDInput{DeviceID: "no-such-device"})
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CodeNotFound, e.Code)
}

func TestEnsureTargetStatusAndDetach(t *testing.T) {
	f, dev := newTestFacade(t)
	targetID := ensureTarget(t, f, dev)

	status, err := f.TargetStatus(context.Background(), TargetIDInput{TargetID: targetID})
	require.NoError(t, err)
	assert.Equal(t, target.StateRunning, status.State)
	assert.Equal(t, target.AgentReady, status.AgentState)

	out, err := f.DetachTarget(context.Background(), TargetIDInput{TargetID: targetID})
	require.NoError(t, err)
	assert.Equal(t, targetID, out.TargetID)
	assert.Equal(t, string(target.StateDetached), out.State)
}

func TestSnapshotUnimplementedMethodReturnsUnavailable(t *testing.T) {
	f, dev := newTestFacade(t)
	targetID := ensureTarget(t, f, dev)

	_, err := f.Snapshot(context.Background(), SnapshotInput{TargetID: targetID, Kind: "heap"})
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CodeUnavailable, e.Code)
}

func TestJobsStartFailsWhenOrchestratorHasNoStartJobHandler(t *testing.T) {
	f, dev := newTestFacade(t)
	targetID := ensureTarget(t, f, dev)

	_, err := f.JobsStart(context.Background(), JobsStartInput{
		TargetID: targetID,
		Type:     string(job.TypeOneshot),
		Module:   BootstrapSpec{Kind: "source", Source: "console.log('hi')"},
	})
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CodeUnavailable, e.Code)
}

func TestJobsStartRejectsMalformedModuleRef(t *testing.T) {
	f, dev := newTestFacade(t)
	targetID := ensureTarget(t, f, dev)

	_, err := f.JobsStart(context.Background(), JobsStartInput{
		TargetID: targetID,
		Module:   BootstrapSpec{Kind: "module_ref", Ref: "bad-ref-no-at-sign"},
	})
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CodeInvalidArgument, e.Code)
}

func TestEventsFetchRequiresTargetOrJob(t *testing.T) {
	f, _ := newTestFacade(t)

	_, err := f.EventsFetch(context.Background(), EventsFetchInput{})
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CodeInvalidArgument, e.Code)
}

func TestEventsFetchForTargetReturnsEmptyPage(t *testing.T) {
	f, dev := newTestFacade(t)
	targetID := ensureTarget(t, f, dev)

	out, err := f.EventsFetch(context.Background(), EventsFetchInput{TargetID: targetID, Limit: 10})
	require.NoError(t, err)
	assert.NotNil(t, out.Events)
}

func TestArtifactsListRequiresTargetOrJob(t *testing.T) {
	f, _ := newTestFacade(t)

	_, err := f.ArtifactsList(context.Background(), ArtifactsListInput{})
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CodeInvalidArgument, e.Code)
}

func TestArtifactsListByTargetIsEmptyForFreshTarget(t *testing.T) {
	f, dev := newTestFacade(t)
	targetID := ensureTarget(t, f, dev)

	out, err := f.ArtifactsList(context.Background(), ArtifactsListInput{TargetID: targetID})
	require.NoError(t, err)
	assert.Empty(t, out.Artifacts)
}

func TestModuleDraftLifecycle(t *testing.T) {
	f, _ := newTestFacade(t)

	d, err := f.ModulesCreateDraft(context.Background(), CreateDraftInput{
		Name:   "inspector",
		Source: "console.log('v1')",
	})
	require.NoError(t, err)
	require.NotEmpty(t, d.DraftID)

	got, err := f.ModulesGetDraft(context.Background(), DraftIDInput{DraftID: d.DraftID})
	require.NoError(t, err)
	assert.Equal(t, d.DraftID, got.DraftID)

	list, err := f.ModulesListDrafts(context.Background(), struct{}{})
	require.NoError(t, err)
	assert.Len(t, list.Drafts, 1)

	newSource := "console.log('v2')"
	updated, err := f.ModulesUpdateDraft(context.Background(), UpdateDraftInput{
		DraftID: d.DraftID,
		Source:  &newSource,
	})
	require.NoError(t, err)
	assert.Equal(t, newSource, updated.Source)

	bundle, err := f.ModulesPromoteDraft(context.Background(), PromoteDraftInput{
		DraftID: d.DraftID,
		Name:    "inspector",
	})
	require.NoError(t, err)
	assert.Equal(t, "inspector", bundle.Name)
	assert.Equal(t, "0.1.0", bundle.Version)

	fetched, err := f.ModulesGet(context.Background(), ModulesGetInput{Name: "inspector", Version: "0.1.0"})
	require.NoError(t, err)
	assert.Equal(t, bundle.Version, fetched.Version)

	modList, err := f.ModulesList(context.Background(), struct{}{})
	require.NoError(t, err)
	assert.Len(t, modList.Modules, 1)
}

func TestModulesCreateDraftFromJobUnknownJobReturnsError(t *testing.T) {
	f, _ := newTestFacade(t)

	_, err := f.ModulesCreateDraftFromJob(context.Background(), CreateDraftFromJobInput{JobID: "no-such-job"})
	require.Error(t, err)
	_, ok := errs.As(err)
	require.True(t, ok)
}

func TestOperationsFailCleanlyWhenStoreNotConfigured(t *testing.T) {
	f := &Facade{metrics: newMetrics()}

	_, err := f.DevicesList(context.Background(), struct{}{})
	requireNotImplemented(t, err)

	_, err = f.TargetStatus(context.Background(), TargetIDInput{TargetID: "t1"})
	requireNotImplemented(t, err)

	_, err = f.JobsList(context.Background(), struct{}{})
	requireNotImplemented(t, err)

	_, err = f.EventsFetch(context.Background(), EventsFetchInput{TargetID: "t1"})
	requireNotImplemented(t, err)

	_, err = f.ArtifactsList(context.Background(), ArtifactsListInput{TargetID: "t1"})
	requireNotImplemented(t, err)

	_, err = f.ModulesList(context.Background(), struct{}{})
	requireNotImplemented(t, err)

	_, err = f.ModulesCreateDraft(context.Background(), CreateDraftInput{Source: "x"})
	requireNotImplemented(t, err)
}

func requireNotImplemented(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CodeNotImplemented, e.Code)
}
