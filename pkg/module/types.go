// Package module implements the immutable, versioned module bundle
// store described in spec §4.5: a directory-backed (name, semver)-keyed
// store with an on-disk index cache rebuilt defensively from the
// directory tree, and promotion from either a draft or a completed job.
package module

import "time"

// Bundle is one immutable, promoted (name, version) module.
type Bundle struct {
	Name               string         `json:"name"`
	Version            string         `json:"version"`
	SourceExt          string         `json:"source_ext"`
	Manifest           map[string]any `json:"manifest,omitempty"`
	DerivedFromJobID   string         `json:"derived_from_job_id,omitempty"`
	DerivedFromDraftID string         `json:"derived_from_draft_id,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// Ref is the "{name}@{version}" reference string.
func (b *Bundle) Ref() string {
	return b.Name + "@" + b.Version
}

func (b *Bundle) Clone() *Bundle {
	c := *b
	return &c
}

type indexFile struct {
	Bundles []*Bundle `json:"bundles"`
}
