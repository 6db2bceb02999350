package config

const (
	mib = 1024 * 1024
	kib = 1024
)

// DefaultConfig returns the built-in configuration applied before any
// kahlohost.yaml overrides are merged in.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Artifact: ArtifactConfig{
			BudgetBytes:          500 * mib,
			InlineThresholdBytes: 32 * kib,
		},
		Events: EventsConfig{
			TargetStreamCapacity: 5000,
			JobStreamCapacity:    2000,
			FetchDefaultLimit:    200,
			FetchMaxLimit:        5000,
		},
		Retention: DefaultRetentionConfig(),
		Timeouts:  DefaultTimeoutsConfig(),
		Facade:    DefaultFacadeConfig(),
	}
}
