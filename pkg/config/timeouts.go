package config

import "time"

// TimeoutsConfig holds the cancellation/timeout budgets spec §4.7 assigns
// to each bounded RPC the host makes into a target's agent.
type TimeoutsConfig struct {
	// Ping is the orchestrator-injection ready-check timeout. Default 5s.
	Ping time.Duration `yaml:"ping"`

	// DeviceResolution bounds looking up a device by id/type. Default 10s.
	DeviceResolution time.Duration `yaml:"device_resolution"`

	// Attach bounds attaching to an existing process. Default 15s.
	Attach time.Duration `yaml:"attach"`

	// Spawn bounds spawning a new process in a suspended state. Default 30s.
	Spawn time.Duration `yaml:"spawn"`

	// Snapshot bounds a getSnapshot RPC. Default 10s.
	Snapshot time.Duration `yaml:"snapshot"`
}

// DefaultTimeoutsConfig returns the built-in timeout defaults.
func DefaultTimeoutsConfig() TimeoutsConfig {
	return TimeoutsConfig{
		Ping:             5 * time.Second,
		DeviceResolution: 10 * time.Second,
		Attach:           15 * time.Second,
		Spawn:            30 * time.Second,
		Snapshot:         10 * time.Second,
	}
}
