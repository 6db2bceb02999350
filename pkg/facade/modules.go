package facade

import (
	"context"

	"github.com/fuzzysecurity/kahlo-host/pkg/draft"
	"github.com/fuzzysecurity/kahlo-host/pkg/errs"
	"github.com/fuzzysecurity/kahlo-host/pkg/module"
)

// defaultSourceExt is applied to modules.promoteDraft/promoteFromJob
// when the caller leaves ext unset — every bootstrap and job source in
// this module is a Frida JavaScript snippet.
const defaultSourceExt = ".js"

func (f *Facade) requireDrafts() error {
	if f.Drafts == nil {
		return errs.DraftError(errs.CodeNotImplemented, "draft store is not configured")
	}
	return nil
}

func (f *Facade) requireModules() error {
	if f.Modules == nil {
		return errs.ModuleStoreError(errs.CodeNotImplemented, "module store is not configured")
	}
	return nil
}

func promotionStrategy(s string) module.Strategy {
	switch module.Strategy(s) {
	case module.StrategyPatch, module.StrategyMajor:
		return module.Strategy(s)
	default:
		return module.StrategyMinor
	}
}

// ModulesListOutput is the modules.list tool result.
type ModulesListOutput struct {
	Modules []*module.Bundle `json:"modules"`
}

// ModulesList implements modules.list.
func (f *Facade) ModulesList(ctx context.Context, _ struct{}) (ModulesListOutput, error) {
	if err := f.requireModules(); err != nil {
		return ModulesListOutput{}, err
	}
	bundles, err := f.Modules.List()
	if err != nil {
		return ModulesListOutput{}, err
	}
	return ModulesListOutput{Modules: bundles}, nil
}

// ModulesGetInput is the modules.get tool request.
type ModulesGetInput struct {
	Name    string `json:"name" param:"name"`
	Version string `json:"version" param:"version"`
}

// ModulesGet implements modules.get.
func (f *Facade) ModulesGet(ctx context.Context, in ModulesGetInput) (*module.Bundle, error) {
	if err := f.requireModules(); err != nil {
		return nil, err
	}
	return f.Modules.Get(in.Name, in.Version)
}

// CreateDraftInput is the modules.createDraft tool request.
type CreateDraftInput struct {
	Name     string         `json:"name,omitempty"`
	Source   string         `json:"source"`
	Manifest map[string]any `json:"manifest,omitempty"`
}

// ModulesCreateDraft implements modules.createDraft.
func (f *Facade) ModulesCreateDraft(ctx context.Context, in CreateDraftInput) (*draft.Draft, error) {
	if err := f.requireDrafts(); err != nil {
		return nil, err
	}
	return f.Drafts.Create(in.Name, in.Source, in.Manifest, "")
}

// CreateDraftFromJobInput is the modules.createDraftFromJob tool request.
type CreateDraftFromJobInput struct {
	JobID    string         `json:"job_id"`
	Name     string         `json:"name,omitempty"`
	Manifest map[string]any `json:"manifest,omitempty"`
}

// ModulesCreateDraftFromJob implements modules.createDraftFromJob: a
// draft snapshotting the exact source a completed job ran, so it can be
// iterated on before promotion.
func (f *Facade) ModulesCreateDraftFromJob(ctx context.Context, in CreateDraftFromJobInput) (*draft.Draft, error) {
	if err := f.requireDrafts(); err != nil {
		return nil, err
	}
	if err := f.requireJobs(); err != nil {
		return nil, err
	}
	j, err := f.Jobs.Status(ctx, in.JobID)
	if err != nil {
		return nil, err
	}
	if j.ModuleSource == "" {
		return nil, errs.DraftError(errs.CodeInvalidArgument, "job %s has no recorded module source", in.JobID)
	}
	return f.Drafts.Create(in.Name, j.ModuleSource, in.Manifest, j.JobID)
}

// UpdateDraftInput is the modules.updateDraft tool request. Name and
// Source are pointers and Manifest is a map, so an absent (nil) field
// leaves that draft field unchanged, matching draft.Store.Update's
// contract.
type UpdateDraftInput struct {
	DraftID  string         `json:"draft_id" param:"draft_id"`
	Name     *string        `json:"name,omitempty"`
	Source   *string        `json:"source,omitempty"`
	Manifest map[string]any `json:"manifest,omitempty"`
}

// ModulesUpdateDraft implements modules.updateDraft.
func (f *Facade) ModulesUpdateDraft(ctx context.Context, in UpdateDraftInput) (*draft.Draft, error) {
	if err := f.requireDrafts(); err != nil {
		return nil, err
	}
	return f.Drafts.Update(in.DraftID, in.Name, in.Source, in.Manifest)
}

// DraftIDInput is the modules.getDraft tool request.
type DraftIDInput struct {
	DraftID string `json:"draft_id" param:"draft_id"`
}

// ModulesGetDraft implements modules.getDraft.
func (f *Facade) ModulesGetDraft(ctx context.Context, in DraftIDInput) (*draft.Draft, error) {
	if err := f.requireDrafts(); err != nil {
		return nil, err
	}
	return f.Drafts.Get(in.DraftID)
}

// ListDraftsOutput is the modules.listDrafts tool result.
type ListDraftsOutput struct {
	Drafts []*draft.Draft `json:"drafts"`
}

// ModulesListDrafts implements modules.listDrafts.
func (f *Facade) ModulesListDrafts(ctx context.Context, _ struct{}) (ListDraftsOutput, error) {
	if err := f.requireDrafts(); err != nil {
		return ListDraftsOutput{}, err
	}
	drafts, err := f.Drafts.List()
	if err != nil {
		return ListDraftsOutput{}, err
	}
	return ListDraftsOutput{Drafts: drafts}, nil
}

// PromoteDraftInput is the modules.promoteDraft tool request.
type PromoteDraftInput struct {
	DraftID  string `json:"draft_id" param:"draft_id"`
	Name     string `json:"name"`
	Strategy string `json:"strategy,omitempty"`
	Ext      string `json:"ext,omitempty"`
}

// ModulesPromoteDraft implements modules.promoteDraft.
func (f *Facade) ModulesPromoteDraft(ctx context.Context, in PromoteDraftInput) (*module.Bundle, error) {
	if err := f.requireDrafts(); err != nil {
		return nil, err
	}
	if err := f.requireModules(); err != nil {
		return nil, err
	}
	d, err := f.Drafts.Get(in.DraftID)
	if err != nil {
		return nil, err
	}
	ext := in.Ext
	if ext == "" {
		ext = defaultSourceExt
	}
	return f.Modules.PromoteDraft(in.Name, d.Source, ext, d.Manifest, promotionStrategy(in.Strategy), in.DraftID)
}

// PromoteFromJobInput is the modules.promoteFromJob tool request.
type PromoteFromJobInput struct {
	JobID    string         `json:"job_id" param:"job_id"`
	Name     string         `json:"name"`
	Strategy string         `json:"strategy,omitempty"`
	Ext      string         `json:"ext,omitempty"`
	Manifest map[string]any `json:"manifest,omitempty"`
}

// ModulesPromoteFromJob implements modules.promoteFromJob.
func (f *Facade) ModulesPromoteFromJob(ctx context.Context, in PromoteFromJobInput) (*module.Bundle, error) {
	if err := f.requireJobs(); err != nil {
		return nil, err
	}
	if err := f.requireModules(); err != nil {
		return nil, err
	}
	j, err := f.Jobs.Status(ctx, in.JobID)
	if err != nil {
		return nil, err
	}
	if j.ModuleSource == "" {
		return nil, errs.ModuleStoreError(errs.CodeInvalidArgument, "job %s has no recorded module source", in.JobID)
	}
	ext := in.Ext
	if ext == "" {
		ext = defaultSourceExt
	}
	return f.Modules.PromoteFromJob(in.Name, j.ModuleSource, ext, in.Manifest, promotionStrategy(in.Strategy), in.JobID)
}
