package config

import "time"

// RetentionConfig controls pruning of terminal job records (spec §3:
// "terminal records are pruned after a retention window").
type RetentionConfig struct {
	// JobTerminalRetention is how long a completed/failed/cancelled job
	// record is kept before opportunistic pruning removes it.
	JobTerminalRetention time.Duration `yaml:"job_terminal_retention"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		JobTerminalRetention: 1 * time.Hour,
	}
}
