// Package deviceio defines the black-box boundary between the control
// plane and the platform debug bridge plus the in-process agent. The
// core never talks to a real device or a real injected script directly;
// it only depends on these interfaces, so tests can substitute the
// deterministic double in deviceio/fake.
package deviceio

import "context"

// ProcessInfo describes one running process as enumerated on a device.
type ProcessInfo struct {
	Pid        int
	Name       string
	Identifier string // package/bundle identifier, when known
}

// SpawnEvent is delivered to a device's spawnAdded handler when a new
// process is created in a suspended state while spawn gating is enabled.
type SpawnEvent struct {
	Pid        int
	Identifier string
}

// ChildEvent is delivered to a device's childAdded handler when a
// gated process forks a child that is also suspended awaiting adoption.
type ChildEvent struct {
	Pid        int
	ParentPid  int
	Identifier string
}

// Device is the host-side handle to one connected/enumerable device.
// Every method that can block on I/O takes a context for cancellation;
// callers bound each call with their own deadline (pkg/target uses its
// package-level timeout constants; pkg/config's TimeoutsConfig values are
// validated but not passed to any caller).
type Device interface {
	ID() string

	EnumerateProcesses(ctx context.Context) ([]ProcessInfo, error)

	// Spawn creates a new process for pkg in a suspended state and
	// returns its pid. The process does not run until Resume is called.
	Spawn(ctx context.Context, pkg string) (pid int, err error)

	Resume(ctx context.Context, pid int) error

	Kill(ctx context.Context, pid int) error

	Attach(ctx context.Context, pid int) (Session, error)

	// EnableSpawnGating/DisableSpawnGating toggle the device-wide
	// subscription that suspends newly spawned processes and their
	// children pending adoption. Callers are responsible for ref-counting;
	// the device itself applies no counting of its own.
	EnableSpawnGating(ctx context.Context) error
	DisableSpawnGating(ctx context.Context) error

	// OnSpawnAdded/OnChildAdded register handlers fired while spawn
	// gating is enabled. The returned func disconnects the handler.
	OnSpawnAdded(handler func(SpawnEvent)) (disconnect func())
	OnChildAdded(handler func(ChildEvent)) (disconnect func())
}

// Session is the host-side handle to one attached-or-spawned process.
// It reports detachment and is the factory for per-target/per-job scripts.
type Session interface {
	Pid() int

	CreateScript(ctx context.Context, source string) (Script, error)

	Detach(ctx context.Context) error

	// OnDetached fires exactly once, whether detachment was caller-
	// initiated or the process died/crashed underneath the session.
	// reason is implementation-defined free text for diagnostics.
	OnDetached(handler func(reason string)) (disconnect func())
}

// Script is one loaded instrumentation script — either the injected
// coordinator ("orchestrator") or a per-job script. Unloading a script
// is the runtime's sole cleanup mechanism: it removes every hook, timer,
// and interceptor the script installed.
type Script interface {
	Load(ctx context.Context) error

	// Unload tears the script down. It is not required to be idempotent
	// at this layer — callers (pkg/target) are responsible for tracking
	// whether a script has already been unloaded.
	Unload(ctx context.Context) error

	// Call issues an RPC to an exported function in the script and waits
	// for its reply or ctx's deadline, whichever comes first.
	Call(ctx context.Context, method string, args ...any) (any, error)

	// OnMessage fires for every message the script posts outside of an
	// RPC reply (the {type:"send", payload:{...}} envelope of §6).
	// data carries the optional binary side-channel payload, if any.
	OnMessage(handler func(message map[string]any, data []byte)) (disconnect func())

	// OnDestroyed fires exactly once when the script is torn down,
	// whether by explicit Unload, session detach, or a runtime crash.
	OnDestroyed(handler func(reason string)) (disconnect func())
}
