// Package facade implements the tool facade described in spec §4.8 /
// §6: one dispatch core behind two transports — an MCP tool surface
// (github.com/modelcontextprotocol/go-sdk/mcp, server-side) and a
// small HTTP admin/debug mirror (github.com/labstack/echo/v5) — sharing
// one error-envelope mapper and one set of Prometheus metrics.
package facade

import (
	"time"

	"github.com/fuzzysecurity/kahlo-host/pkg/artifact"
	"github.com/fuzzysecurity/kahlo-host/pkg/deviceio"
	"github.com/fuzzysecurity/kahlo-host/pkg/draft"
	"github.com/fuzzysecurity/kahlo-host/pkg/events"
	"github.com/fuzzysecurity/kahlo-host/pkg/job"
	"github.com/fuzzysecurity/kahlo-host/pkg/module"
	"github.com/fuzzysecurity/kahlo-host/pkg/target"
)

// snapshotTimeout bounds snapshots.get, per spec §6.
const snapshotTimeout = 10 * time.Second

// Facade holds every backend dependency the tool surface dispatches
// into. It has no state of its own beyond metrics: every operation is a
// thin, schema-validated translation into one of these components.
type Facade struct {
	Devices  *deviceio.Registry
	Targets  *target.Manager
	Jobs     *job.Controller
	Events   *events.Manager
	Artifacts *artifact.Store
	Drafts   *draft.Store
	Modules  *module.Store

	metrics *metrics
}

// New constructs a Facade wired to the given backend components. Any of
// the pointer fields may be nil in a test that only exercises a subset
// of the tool surface; handlers for an unwired component return
// CodeNotImplemented rather than panicking.
func New(devices *deviceio.Registry, targets *target.Manager, jobs *job.Controller, ev *events.Manager, artifacts *artifact.Store, drafts *draft.Store, modules *module.Store) *Facade {
	return &Facade{
		Devices:   devices,
		Targets:   targets,
		Jobs:      jobs,
		Events:    ev,
		Artifacts: artifacts,
		Drafts:    drafts,
		Modules:   modules,
		metrics:   newMetrics(),
	}
}
