package deviceio

import (
	"context"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/fuzzysecurity/kahlo-host/pkg/errs"
)

// DeviceInfo is the thin devices.list/get payload shape (spec §6).
type DeviceInfo struct {
	DeviceID string `json:"device_id"`
}

// DeviceHealth is the devices.health payload shape.
type DeviceHealth struct {
	DeviceID  string `json:"device_id"`
	Reachable bool   `json:"reachable"`
	Detail    string `json:"detail,omitempty"`
}

// Registry resolves device ids to Device handles and backs the
// "thin pass-throughs; not part of the core" devices.list/get/health,
// processes.list, and adb.exec tools (spec §6). It is a registration
// table, not a discovery mechanism: devices are added explicitly (by a
// platform-specific bootstrap, or by tests) rather than auto-enumerated,
// since auto-discovery is itself platform/backend specific and
// deliberately out of this module's scope.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Device

	// adbPath is the adb binary invoked by ExecADB. Defaults to "adb",
	// resolved against PATH at call time.
	adbPath string
}

// NewRegistry constructs an empty device registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]Device), adbPath: "adb"}
}

// SetADBPath overrides the adb binary path (for tests or non-default installs).
func (r *Registry) SetADBPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adbPath = path
}

// Register adds or replaces a device handle under its own ID().
func (r *Registry) Register(dev Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[dev.ID()] = dev
}

// Unregister removes a device handle, if present.
func (r *Registry) Unregister(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, deviceID)
}

// Resolve implements the resolver interface pkg/target depends on.
func (r *Registry) Resolve(ctx context.Context, deviceID string) (Device, error) {
	r.mu.RLock()
	dev, ok := r.devices[deviceID]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.TargetManagerError(errs.CodeNotFound, "device %s not registered", deviceID).
			WithSuggestion("Verify device_id using devices.list.")
	}
	return dev, nil
}

// List returns every registered device, sorted by ID for stable output.
func (r *Registry) List() []DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DeviceInfo, 0, len(r.devices))
	for id := range r.devices {
		out = append(out, DeviceInfo{DeviceID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Get returns one registered device's info.
func (r *Registry) Get(deviceID string) (DeviceInfo, error) {
	r.mu.RLock()
	_, ok := r.devices[deviceID]
	r.mu.RUnlock()
	if !ok {
		return DeviceInfo{}, errs.TargetManagerError(errs.CodeNotFound, "device %s not registered", deviceID).
			WithSuggestion("Verify device_id using devices.list.")
	}
	return DeviceInfo{DeviceID: deviceID}, nil
}

// Health enumerates processes on the device as a liveness probe: a
// device that can list its processes is considered reachable.
func (r *Registry) Health(ctx context.Context, deviceID string) (DeviceHealth, error) {
	dev, err := r.Resolve(ctx, deviceID)
	if err != nil {
		return DeviceHealth{}, err
	}
	if _, err := dev.EnumerateProcesses(ctx); err != nil {
		return DeviceHealth{DeviceID: deviceID, Reachable: false, Detail: err.Error()}, nil
	}
	return DeviceHealth{DeviceID: deviceID, Reachable: true}, nil
}

// Processes lists running processes on a device.
func (r *Registry) Processes(ctx context.Context, deviceID string) ([]ProcessInfo, error) {
	dev, err := r.Resolve(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return dev.EnumerateProcesses(ctx)
}

// ExecADB runs the adb binary against one device's serial and returns
// combined stdout+stderr. This is a literal pass-through: no output
// parsing, no retry, no ecosystem library in the retrieval pack wraps
// adb, so it is implemented directly against os/exec rather than
// reaching for a library that does not exist in this corpus.
func (r *Registry) ExecADB(ctx context.Context, deviceID string, args []string) (string, error) {
	r.mu.RLock()
	adbPath := r.adbPath
	r.mu.RUnlock()

	full := append([]string{"-s", deviceID}, args...)
	cmd := exec.CommandContext(ctx, adbPath, full...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), errs.TargetManagerError(errs.CodeUnavailable, "adb %s: %v", strings.Join(full, " "), err)
	}
	return string(out), nil
}
