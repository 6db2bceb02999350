package config

import (
	"fmt"
	"time"
)

// Validator validates configuration comprehensively with clear error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error).
func (v *Validator) ValidateAll() error {
	if err := v.validateDataDir(); err != nil {
		return fmt.Errorf("data_dir validation failed: %w", err)
	}
	if err := v.validateArtifact(); err != nil {
		return fmt.Errorf("artifact validation failed: %w", err)
	}
	if err := v.validateEvents(); err != nil {
		return fmt.Errorf("events validation failed: %w", err)
	}
	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}
	if err := v.validateTimeouts(); err != nil {
		return fmt.Errorf("timeouts validation failed: %w", err)
	}
	if err := v.validateFacade(); err != nil {
		return fmt.Errorf("facade validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateDataDir() error {
	if v.cfg.DataDir == "" {
		return NewValidationError("data_dir", "", fmt.Errorf("%w: data_dir", ErrMissingRequiredField))
	}
	return nil
}

func (v *Validator) validateArtifact() error {
	a := v.cfg.Artifact
	if a.BudgetBytes <= 0 {
		return NewValidationError("artifact", "budget_bytes", fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, a.BudgetBytes))
	}
	if a.InlineThresholdBytes <= 0 {
		return NewValidationError("artifact", "inline_threshold_bytes", fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, a.InlineThresholdBytes))
	}
	if a.InlineThresholdBytes > a.BudgetBytes {
		return NewValidationError("artifact", "inline_threshold_bytes", fmt.Errorf("%w: must not exceed budget_bytes (%d), got %d", ErrInvalidValue, a.BudgetBytes, a.InlineThresholdBytes))
	}
	return nil
}

func (v *Validator) validateEvents() error {
	e := v.cfg.Events
	if e.TargetStreamCapacity <= 0 {
		return NewValidationError("events", "target_stream_capacity", fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, e.TargetStreamCapacity))
	}
	if e.JobStreamCapacity <= 0 {
		return NewValidationError("events", "job_stream_capacity", fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, e.JobStreamCapacity))
	}
	if e.FetchDefaultLimit <= 0 {
		return NewValidationError("events", "fetch_default_limit", fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, e.FetchDefaultLimit))
	}
	if e.FetchMaxLimit <= 0 {
		return NewValidationError("events", "fetch_max_limit", fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, e.FetchMaxLimit))
	}
	if e.FetchDefaultLimit > e.FetchMaxLimit {
		return NewValidationError("events", "fetch_default_limit", fmt.Errorf("%w: must not exceed fetch_max_limit (%d), got %d", ErrInvalidValue, e.FetchMaxLimit, e.FetchDefaultLimit))
	}
	return nil
}

func (v *Validator) validateRetention() error {
	r := v.cfg.Retention
	if r.JobTerminalRetention <= 0 {
		return NewValidationError("retention", "job_terminal_retention", fmt.Errorf("%w: must be positive, got %v", ErrInvalidValue, r.JobTerminalRetention))
	}
	return nil
}

func (v *Validator) validateTimeouts() error {
	t := v.cfg.Timeouts
	checks := []struct {
		field string
		value time.Duration
	}{
		{"ping", t.Ping},
		{"device_resolution", t.DeviceResolution},
		{"attach", t.Attach},
		{"spawn", t.Spawn},
		{"snapshot", t.Snapshot},
	}
	for _, c := range checks {
		if c.value <= 0 {
			return NewValidationError("timeouts", c.field, fmt.Errorf("%w: must be positive, got %v", ErrInvalidValue, c.value))
		}
	}
	return nil
}

func (v *Validator) validateFacade() error {
	f := v.cfg.Facade
	if f.HTTPAddr == "" {
		return NewValidationError("facade", "http_addr", fmt.Errorf("%w: http_addr", ErrMissingRequiredField))
	}
	if !f.MCPStdio && f.MCPAddr == "" {
		return NewValidationError("facade", "mcp_addr", fmt.Errorf("%w: either mcp_stdio or mcp_addr must be set", ErrInvalidValue))
	}
	return nil
}
