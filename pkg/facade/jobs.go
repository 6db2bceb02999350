package facade

import (
	"context"
	"strings"
	"time"

	"github.com/fuzzysecurity/kahlo-host/pkg/errs"
	"github.com/fuzzysecurity/kahlo-host/pkg/job"
)

// JobsStartInput is the jobs.start tool request.
type JobsStartInput struct {
	TargetID string         `json:"target_id"`
	Type     string         `json:"type,omitempty"`
	TTLMs    int64          `json:"ttl_ms,omitempty"`
	Module   BootstrapSpec  `json:"module"`
	Params   map[string]any `json:"params,omitempty"`
}

// JobsStartOutput is the jobs.start tool result.
type JobsStartOutput struct {
	JobID string `json:"job_id"`
}

// JobIDInput is shared by jobs.status and jobs.cancel.
type JobIDInput struct {
	JobID string `json:"job_id" param:"job_id"`
}

func (f *Facade) requireJobs() error {
	if f.Jobs == nil {
		return errs.JobControllerError(errs.CodeNotImplemented, "job controller is not configured")
	}
	return nil
}

// resolveModuleSource resolves a jobs.start/modules.createDraftFromJob
// module descriptor into a concrete source string and its provenance
// tag, the same three-way switch pkg/target's resolveBootstrapSource
// implements for bootstrap descriptors — kept separate because jobs
// started directly (not as a target's bootstrap) carry their own
// provenance tag independent of target.BootstrapKind's string values.
func (f *Facade) resolveModuleSource(m BootstrapSpec) (string, job.ProvenanceKind, error) {
	switch m.Kind {
	case "source":
		if m.Source == "" {
			return "", "", errs.JobControllerError(errs.CodeInvalidArgument, "module.source must not be empty")
		}
		return m.Source, job.ProvenanceSource, nil
	case "draft_id":
		if f.Drafts == nil {
			return "", "", errs.JobControllerError(errs.CodeNotImplemented, "draft store is not configured")
		}
		d, err := f.Drafts.Get(m.Ref)
		if err != nil {
			return "", "", err
		}
		if d.Source == "" {
			return "", "", errs.JobControllerError(errs.CodeInvalidArgument, "draft %s has an empty source", m.Ref)
		}
		return d.Source, job.ProvenanceDraftID, nil
	case "module_ref":
		if f.Modules == nil {
			return "", "", errs.JobControllerError(errs.CodeNotImplemented, "module store is not configured")
		}
		name, version, ok := splitModuleRef(m.Ref)
		if !ok {
			return "", "", errs.JobControllerError(errs.CodeInvalidArgument, "malformed module_ref %q, expected name@version", m.Ref)
		}
		src, err := f.Modules.ReadSource(name, version)
		if err != nil {
			return "", "", err
		}
		return src, job.ProvenanceModuleRef, nil
	default:
		return "", "", errs.JobControllerError(errs.CodeInvalidArgument, "module.kind must be one of source, draft_id, module_ref")
	}
}

// splitModuleRef splits a "name@version" reference. Mirrors
// pkg/target/manager.go's unexported helper of the same shape; kept as
// a private duplicate rather than an exported cross-package call since
// the two packages must never share mutable state, only this one pure
// string operation.
func splitModuleRef(ref string) (name, version string, ok bool) {
	i := strings.LastIndex(ref, "@")
	if i <= 0 || i == len(ref)-1 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}

// JobsStart implements jobs.start.
func (f *Facade) JobsStart(ctx context.Context, in JobsStartInput) (JobsStartOutput, error) {
	if err := f.requireJobs(); err != nil {
		return JobsStartOutput{}, err
	}
	source, provenance, err := f.resolveModuleSource(in.Module)
	if err != nil {
		return JobsStartOutput{}, err
	}
	jobType := job.Type(in.Type)
	if jobType == "" {
		jobType = job.TypeOneshot
	}
	var ttl time.Duration
	if in.TTLMs > 0 {
		ttl = time.Duration(in.TTLMs) * time.Millisecond
	}
	j, err := f.Jobs.Start(ctx, job.StartInput{
		TargetID:         in.TargetID,
		Type:             jobType,
		ModuleSource:     source,
		ModuleProvenance: provenance,
		Params:           in.Params,
		TTL:              ttl,
	})
	if err != nil {
		return JobsStartOutput{}, err
	}
	return JobsStartOutput{JobID: j.JobID}, nil
}

// JobsStatus implements jobs.status.
func (f *Facade) JobsStatus(ctx context.Context, in JobIDInput) (*job.Job, error) {
	if err := f.requireJobs(); err != nil {
		return nil, err
	}
	return f.Jobs.Status(ctx, in.JobID)
}

// JobsListOutput is the jobs.list tool result.
type JobsListOutput struct {
	Jobs []*job.Job `json:"jobs"`
}

// JobsList implements jobs.list.
func (f *Facade) JobsList(ctx context.Context, _ struct{}) (JobsListOutput, error) {
	if err := f.requireJobs(); err != nil {
		return JobsListOutput{}, err
	}
	return JobsListOutput{Jobs: f.Jobs.List()}, nil
}

// JobsCancel implements jobs.cancel.
func (f *Facade) JobsCancel(ctx context.Context, in JobIDInput) (*job.Job, error) {
	if err := f.requireJobs(); err != nil {
		return nil, err
	}
	return f.Jobs.Cancel(ctx, in.JobID)
}
