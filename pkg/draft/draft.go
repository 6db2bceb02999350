// Package draft implements the persistent, mutable draft-module store:
// atomic write-tmp-then-rename persistence per spec §4.4, with all
// mutations serialized under one global write lock so that reads can
// safely return shallow copies mid-promotion.
package draft

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fuzzysecurity/kahlo-host/pkg/errs"
)

// Draft is a mutable source snapshot awaiting promotion to a module.
type Draft struct {
	DraftID          string         `json:"draft_id"`
	Name             string         `json:"name,omitempty"`
	Source           string         `json:"source"`
	Manifest         map[string]any `json:"manifest,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DerivedFromJobID string         `json:"derived_from_job_id,omitempty"`
}

// Clone returns a shallow copy, safe to hand to a caller that must not
// observe a concurrent update in flight.
func (d *Draft) Clone() *Draft {
	c := *d
	return &c
}

// Store is the draft store. The zero value is not usable; construct
// with New.
type Store struct {
	dataDir string

	mu       sync.Mutex // serializes create/update/delete
	loadOnce sync.Once
	loadErr  error
	drafts   map[string]*Draft
}

// New constructs a Store backed by <dataDir>/drafts/.
func New(dataDir string) *Store {
	return &Store{dataDir: dataDir, drafts: make(map[string]*Draft)}
}

func (s *Store) dir() string {
	return filepath.Join(s.dataDir, "drafts")
}

// ensureLoaded scans <dataDir>/drafts/ on first use: loads every
// *.json into memory and deletes any leftover *.tmp files from a crash
// between write and rename.
func (s *Store) ensureLoaded() error {
	s.loadOnce.Do(func() {
		dir := s.dir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.loadErr = errs.DraftError(errs.CodeInternal, "create drafts directory: %v", err)
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			s.loadErr = errs.DraftError(errs.CodeInternal, "scan drafts directory: %v", err)
			return
		}
		for _, e := range entries {
			name := e.Name()
			path := filepath.Join(dir, name)
			switch filepath.Ext(name) {
			case ".tmp":
				_ = os.Remove(path)
			case ".json":
				data, err := os.ReadFile(path)
				if err != nil {
					continue
				}
				var d Draft
				if err := json.Unmarshal(data, &d); err != nil {
					continue
				}
				s.drafts[d.DraftID] = &d
			}
		}
	})
	return s.loadErr
}

func (s *Store) path(draftID string) string {
	return filepath.Join(s.dir(), draftID+".json")
}

// persist writes d to <draftID>.json via write-tmp-then-rename, which
// is atomic on POSIX within one filesystem.
func (s *Store) persist(d *Draft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return errs.DraftError(errs.CodeInternal, "marshal draft: %v", err)
	}
	final := s.path(d.DraftID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.DraftError(errs.CodeInternal, "write draft: %v", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return errs.DraftError(errs.CodeInternal, "rename draft: %v", err)
	}
	return nil
}

// Create persists a new draft and returns a copy of it.
func (s *Store) Create(name, source string, manifest map[string]any, derivedFromJobID string) (*Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	if source == "" {
		return nil, errs.DraftError(errs.CodeInvalidArgument, "source must not be empty")
	}

	now := time.Now().UTC()
	d := &Draft{
		DraftID:          uuid.NewString(),
		Name:             name,
		Source:           source,
		Manifest:         manifest,
		CreatedAt:        now,
		UpdatedAt:        now,
		DerivedFromJobID: derivedFromJobID,
	}
	if err := s.persist(d); err != nil {
		return nil, err
	}
	s.drafts[d.DraftID] = d
	return d.Clone(), nil
}

// Get returns a copy of the draft, or NOT_FOUND.
func (s *Store) Get(draftID string) (*Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	d, ok := s.drafts[draftID]
	if !ok {
		return nil, errs.DraftError(errs.CodeNotFound, "draft %q not found", draftID)
	}
	return d.Clone(), nil
}

// List returns a copy of every known draft.
func (s *Store) List() ([]*Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	out := make([]*Draft, 0, len(s.drafts))
	for _, d := range s.drafts {
		out = append(out, d.Clone())
	}
	return out, nil
}

// Update applies the non-nil name, source, and manifest to a copy of the
// stored draft, persists it, and returns the updated copy. The whole
// update runs under the store's write lock.
func (s *Store) Update(draftID string, name, source *string, manifest map[string]any) (*Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	existing, ok := s.drafts[draftID]
	if !ok {
		return nil, errs.DraftError(errs.CodeNotFound, "draft %q not found", draftID)
	}

	updated := existing.Clone()
	if name != nil {
		updated.Name = *name
	}
	if source != nil {
		if *source == "" {
			return nil, errs.DraftError(errs.CodeInvalidArgument, "source must not be empty")
		}
		updated.Source = *source
	}
	if manifest != nil {
		updated.Manifest = manifest
	}
	updated.UpdatedAt = time.Now().UTC()

	if err := s.persist(updated); err != nil {
		return nil, err
	}
	s.drafts[draftID] = updated
	return updated.Clone(), nil
}

// Delete removes a draft's file and in-memory entry.
func (s *Store) Delete(draftID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}
	if _, ok := s.drafts[draftID]; !ok {
		return errs.DraftError(errs.CodeNotFound, "draft %q not found", draftID)
	}
	if err := os.Remove(s.path(draftID)); err != nil && !os.IsNotExist(err) {
		return errs.DraftError(errs.CodeInternal, "remove draft file: %v", err)
	}
	delete(s.drafts, draftID)
	return nil
}
