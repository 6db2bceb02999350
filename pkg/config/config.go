package config

// Config is the fully loaded, merged, and validated configuration for a
// kahlohostd process. It is the primary object returned by Initialize and
// threaded through to every store and manager at wiring time.
type Config struct {
	configDir string // configuration directory path (for reference)

	// DataDir is the root of the on-disk data layout: runs/ (per-target
	// event logs and artifacts), drafts/, and modules/ all live under it.
	DataDir string `yaml:"data_dir"`

	Artifact  ArtifactConfig  `yaml:"artifact"`
	Events    EventsConfig    `yaml:"events"`
	Retention RetentionConfig `yaml:"retention"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Facade    FacadeConfig    `yaml:"facade"`
}

// ArtifactConfig controls the artifact store's budget enforcement and
// inline-payload threshold (spec §4.3).
type ArtifactConfig struct {
	// BudgetBytes is the per-target disk budget. Default 500 MiB.
	BudgetBytes int64 `yaml:"budget_bytes"`

	// InlineThresholdBytes is the facade-visible inline-payload threshold:
	// artifacts.get only returns payload_b64 when stored_size_bytes is at
	// or under this value. Default 32 KiB.
	InlineThresholdBytes int64 `yaml:"inline_threshold_bytes"`
}

// EventsConfig controls ring buffer capacities and events.fetch pagination
// defaults (spec §4.2).
type EventsConfig struct {
	// TargetStreamCapacity is the ring size for a target's own stream.
	// Default 5000.
	TargetStreamCapacity int `yaml:"target_stream_capacity"`

	// JobStreamCapacity is the ring size for a single job's stream.
	// Default 2000.
	JobStreamCapacity int `yaml:"job_stream_capacity"`

	// FetchDefaultLimit is the default page size for events.fetch. Default 200.
	FetchDefaultLimit int `yaml:"fetch_default_limit"`

	// FetchMaxLimit caps the page size a caller may request. Default 5000.
	FetchMaxLimit int `yaml:"fetch_max_limit"`
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}
