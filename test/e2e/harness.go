// Package e2e provides end-to-end test infrastructure for the
// kahlo-host control plane, boxing the real job/target/event/
// artifact/draft/module stores around the fake device backend.
package e2e

import (
	"testing"
	"time"

	"github.com/fuzzysecurity/kahlo-host/pkg/artifact"
	"github.com/fuzzysecurity/kahlo-host/pkg/deviceio"
	"github.com/fuzzysecurity/kahlo-host/pkg/deviceio/fake"
	"github.com/fuzzysecurity/kahlo-host/pkg/draft"
	"github.com/fuzzysecurity/kahlo-host/pkg/events"
	"github.com/fuzzysecurity/kahlo-host/pkg/facade"
	"github.com/fuzzysecurity/kahlo-host/pkg/job"
	"github.com/fuzzysecurity/kahlo-host/pkg/module"
	"github.com/fuzzysecurity/kahlo-host/pkg/target"
)

// TestApp boots a complete kahlo-host instance for e2e testing, wired
// the same way cmd/kahlohostd/main.go wires a production process.
type TestApp struct {
	Facade    *facade.Facade
	Registry  *deviceio.Registry
	Targets   *target.Manager
	Jobs      *job.Controller
	Events    *events.Manager
	Artifacts *artifact.Store
	Drafts    *draft.Store
	Modules   *module.Store

	Device *fake.Device

	t *testing.T
}

type testAppConfig struct {
	targetRingCapacity int
	jobRingCapacity    int
	fetchDefaultLimit  int
	fetchMaxLimit      int
	artifactBudget     int64
	jobRetention       time.Duration
	deviceID           string
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithTargetRingCapacity overrides the per-target event ring size.
func WithTargetRingCapacity(n int) TestAppOption {
	return func(c *testAppConfig) { c.targetRingCapacity = n }
}

// WithJobRingCapacity overrides the per-job event ring size.
func WithJobRingCapacity(n int) TestAppOption {
	return func(c *testAppConfig) { c.jobRingCapacity = n }
}

// WithArtifactBudget overrides the per-target artifact disk budget.
func WithArtifactBudget(bytes int64) TestAppOption {
	return func(c *testAppConfig) { c.artifactBudget = bytes }
}

// WithJobRetention overrides how long a terminal job stays queryable.
func WithJobRetention(d time.Duration) TestAppOption {
	return func(c *testAppConfig) { c.jobRetention = d }
}

// WithDeviceID overrides the fake device's id (default "emu-1").
func WithDeviceID(id string) TestAppOption {
	return func(c *testAppConfig) { c.deviceID = id }
}

// NewTestApp creates and wires a full kahlo-host test instance around
// one registered fake.Device. Nothing is started in the background;
// callers drive time and device state explicitly through the fake.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{
		targetRingCapacity: 500,
		jobRingCapacity:    500,
		fetchDefaultLimit:  200,
		fetchMaxLimit:      5000,
		artifactBudget:     64 * 1024 * 1024,
		jobRetention:       time.Hour,
		deviceID:           "emu-1",
	}
	for _, opt := range opts {
		opt(tc)
	}

	registry := deviceio.NewRegistry()
	dev := fake.NewDevice(tc.deviceID)
	registry.Register(dev)

	eventMgr := events.NewManager(t.TempDir(),
		tc.targetRingCapacity, tc.jobRingCapacity,
		tc.fetchDefaultLimit, tc.fetchMaxLimit)
	drafts := draft.New(t.TempDir())
	modules := module.New(t.TempDir())
	artifacts := artifact.New(t.TempDir(), tc.artifactBudget)

	jobs := job.NewController(nil, eventMgr, tc.jobRetention)
	targets := target.NewManager(registry, eventMgr, drafts, modules, jobs)
	jobs.SetScriptCreator(targets)
	targets.SetScriptDestroyedCallback(jobs.OnScriptDestroyed)

	f := facade.New(registry, targets, jobs, eventMgr, artifacts, drafts, modules)

	return &TestApp{
		Facade:    f,
		Registry:  registry,
		Targets:   targets,
		Jobs:      jobs,
		Events:    eventMgr,
		Artifacts: artifacts,
		Drafts:    drafts,
		Modules:   modules,
		Device:    dev,
		t:         t,
	}
}
