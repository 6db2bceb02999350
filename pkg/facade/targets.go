package facade

import (
	"context"

	"github.com/fuzzysecurity/kahlo-host/pkg/errs"
	"github.com/fuzzysecurity/kahlo-host/pkg/target"
)

// BootstrapSpec is the wire shape of a bootstrap/child_bootstrap
// descriptor: exactly one of ref or source is set, selected by kind.
type BootstrapSpec struct {
	Kind   string `json:"kind"`
	Ref    string `json:"ref,omitempty"`
	Source string `json:"source,omitempty"`
}

func (b *BootstrapSpec) toDomain(jobType string, params map[string]any) *target.Bootstrap {
	if b == nil {
		return nil
	}
	return &target.Bootstrap{
		Kind:    target.BootstrapKind(b.Kind),
		Ref:     b.Ref,
		Source:  b.Source,
		JobType: jobType,
		Params:  params,
	}
}

// EnsureTargetInput is the targets.ensure tool request.
type EnsureTargetInput struct {
	DeviceID             string         `json:"device_id"`
	Package              string         `json:"package"`
	Mode                 string         `json:"mode"`
	Gating               string         `json:"gating"`
	Bootstrap            *BootstrapSpec `json:"bootstrap,omitempty"`
	BootstrapParams      map[string]any `json:"bootstrap_params,omitempty"`
	BootstrapType        string         `json:"bootstrap_type,omitempty"`
	ChildBootstrap       *BootstrapSpec `json:"child_bootstrap,omitempty"`
	ChildBootstrapParams map[string]any `json:"child_bootstrap_params,omitempty"`
	ChildBootstrapType   string         `json:"child_bootstrap_type,omitempty"`
}

// EnsureTargetOutput is the targets.ensure tool result.
type EnsureTargetOutput struct {
	TargetID string `json:"target_id"`
}

// TargetIDInput is shared by targets.status and targets.detach.
type TargetIDInput struct {
	TargetID string `json:"target_id" param:"target_id"`
}

// DetachTargetOutput is the targets.detach tool result.
type DetachTargetOutput struct {
	TargetID string `json:"target_id"`
	State    string `json:"state"`
}

func (f *Facade) requireTargets() error {
	if f.Targets == nil {
		return errs.TargetManagerError(errs.CodeNotImplemented, "target manager is not configured")
	}
	return nil
}

// EnsureTarget implements targets.ensure.
func (f *Facade) EnsureTarget(ctx context.Context, in EnsureTargetInput) (EnsureTargetOutput, error) {
	if err := f.requireTargets(); err != nil {
		return EnsureTargetOutput{}, err
	}
	t, err := f.Targets.EnsureTarget(ctx, target.EnsureInput{
		DeviceID:       in.DeviceID,
		Package:        in.Package,
		Mode:           target.Mode(in.Mode),
		Gating:         target.Gating(in.Gating),
		Bootstrap:      in.Bootstrap.toDomain(in.BootstrapType, in.BootstrapParams),
		ChildBootstrap: in.ChildBootstrap.toDomain(in.ChildBootstrapType, in.ChildBootstrapParams),
	})
	if err != nil {
		return EnsureTargetOutput{}, err
	}
	return EnsureTargetOutput{TargetID: t.TargetID}, nil
}

// TargetStatus implements targets.status.
func (f *Facade) TargetStatus(ctx context.Context, in TargetIDInput) (*target.Target, error) {
	if err := f.requireTargets(); err != nil {
		return nil, err
	}
	return f.Targets.Status(in.TargetID)
}

// DetachTarget implements targets.detach.
func (f *Facade) DetachTarget(ctx context.Context, in TargetIDInput) (DetachTargetOutput, error) {
	if err := f.requireTargets(); err != nil {
		return DetachTargetOutput{}, err
	}
	t, err := f.Targets.Detach(ctx, in.TargetID)
	if err != nil {
		return DetachTargetOutput{}, err
	}
	return DetachTargetOutput{TargetID: t.TargetID, State: string(t.State)}, nil
}

// SnapshotInput is the snapshots.get tool request.
type SnapshotInput struct {
	TargetID string         `json:"target_id" param:"target_id"`
	Kind     string         `json:"kind"`
	Options  map[string]any `json:"options,omitempty"`
}

// SnapshotOutput is the snapshots.get tool result.
type SnapshotOutput struct {
	Kind     string `json:"kind"`
	Snapshot any    `json:"snapshot"`
}

// Snapshot implements snapshots.get: a bounded RPC into the target's
// orchestrator, per spec §6's 10s timeout.
func (f *Facade) Snapshot(ctx context.Context, in SnapshotInput) (SnapshotOutput, error) {
	if err := f.requireTargets(); err != nil {
		return SnapshotOutput{}, err
	}
	sctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()
	resp, err := f.Targets.CallOrchestrator(sctx, in.TargetID, "snapshot", in.Kind, in.Options)
	if err != nil {
		return SnapshotOutput{}, err
	}
	return SnapshotOutput{Kind: in.Kind, Snapshot: resp}, nil
}
