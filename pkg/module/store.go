package module

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fuzzysecurity/kahlo-host/pkg/errs"
)

// Store is the module bundle store. The zero value is not usable;
// construct with New.
type Store struct {
	dataDir string

	mu       sync.Mutex // serializes promotion; index rebuild also runs under it
	loadOnce sync.Once
	loadErr  error

	// index[name][version] = bundle
	index map[string]map[string]*Bundle

	log *slog.Logger
}

// New constructs a Store backed by <dataDir>/modules/.
func New(dataDir string) *Store {
	return &Store{
		dataDir: dataDir,
		index:   make(map[string]map[string]*Bundle),
		log:     slog.With("component", "module_store"),
	}
}

func (s *Store) modulesDir() string {
	return filepath.Join(s.dataDir, "modules")
}

func (s *Store) bundleDir(name, version string) string {
	return filepath.Join(s.modulesDir(), name, version)
}

func (s *Store) indexPath() string {
	return filepath.Join(s.modulesDir(), "index.json")
}

// ensureLoaded rebuilds the index from the directory tree on first use.
// If the rebuild observes zero bundles, it falls back to a non-empty
// on-disk index.json instead of clobbering it with an empty rebuild —
// this guards against a rebuild racing a not-yet-synced filesystem.
func (s *Store) ensureLoaded() error {
	s.loadOnce.Do(func() {
		if err := os.MkdirAll(s.modulesDir(), 0o755); err != nil {
			s.loadErr = errs.ModuleStoreError(errs.CodeInternal, "create modules directory: %v", err)
			return
		}

		fresh := s.rebuildFromDisk()
		if len(fresh) > 0 {
			s.index = fresh
			s.persistIndex()
			return
		}

		if existing, ok := s.loadIndexFile(); ok && len(existing) > 0 {
			s.log.Info("module store rebuild observed zero bundles; keeping existing on-disk index", "path", s.indexPath())
			s.index = existing
			return
		}

		s.log.Info("empty store")
	})
	return s.loadErr
}

func (s *Store) rebuildFromDisk() map[string]map[string]*Bundle {
	fresh := make(map[string]map[string]*Bundle)

	nameEntries, err := os.ReadDir(s.modulesDir())
	if err != nil {
		return fresh
	}
	for _, nameEntry := range nameEntries {
		if !nameEntry.IsDir() {
			continue
		}
		name := nameEntry.Name()
		versionEntries, err := os.ReadDir(filepath.Join(s.modulesDir(), name))
		if err != nil {
			continue
		}
		for _, versionEntry := range versionEntries {
			if !versionEntry.IsDir() {
				continue
			}
			version := versionEntry.Name()
			if !validSemver(version) {
				s.log.Warn("skipping module version directory with invalid semver", "name", name, "version", version)
				continue
			}
			manifestPath := filepath.Join(s.bundleDir(name, version), "manifest.json")
			data, err := os.ReadFile(manifestPath)
			if err != nil {
				s.log.Warn("skipping module version directory with unreadable manifest", "name", name, "version", version, "error", err)
				continue
			}
			var b Bundle
			if err := json.Unmarshal(data, &b); err != nil {
				s.log.Warn("skipping module version directory with malformed manifest", "name", name, "version", version, "error", err)
				continue
			}
			b.Name = name
			b.Version = version
			if fresh[name] == nil {
				fresh[name] = make(map[string]*Bundle)
			}
			fresh[name][version] = &b
		}
	}
	return fresh
}

func (s *Store) loadIndexFile() (map[string]map[string]*Bundle, bool) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		return nil, false
	}
	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, false
	}
	out := make(map[string]map[string]*Bundle)
	for _, b := range f.Bundles {
		if out[b.Name] == nil {
			out[b.Name] = make(map[string]*Bundle)
		}
		out[b.Name][b.Version] = b
	}
	return out, true
}

func (s *Store) persistIndex() {
	var f indexFile
	for _, versions := range s.index {
		for _, b := range versions {
			f.Bundles = append(f.Bundles, b)
		}
	}
	data, err := json.Marshal(f)
	if err != nil {
		s.log.Warn("failed to marshal module index", "error", err)
		return
	}
	if err := os.WriteFile(s.indexPath(), data, 0o644); err != nil {
		s.log.Warn("failed to persist module index", "error", err)
	}
}

// Get returns a copy of one bundle, or NOT_FOUND.
func (s *Store) Get(name, version string) (*Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	versions, ok := s.index[name]
	if !ok {
		return nil, errs.ModuleStoreError(errs.CodeNotFound, "module %q not found", name)
	}
	b, ok := versions[version]
	if !ok {
		return nil, errs.ModuleStoreError(errs.CodeNotFound, "module %s@%s not found", name, version)
	}
	return b.Clone(), nil
}

// ReadSource returns the raw source text for a promoted bundle, used by
// bootstrap resolution when a job references a module by name/version.
func (s *Store) ReadSource(name, version string) (string, error) {
	b, err := s.Get(name, version)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(s.bundleDir(name, version), "source"+b.SourceExt))
	if err != nil {
		return "", errs.ModuleStoreError(errs.CodeInternal, "read module source: %v", err)
	}
	return string(data), nil
}

// List returns a copy of every known bundle.
func (s *Store) List() ([]*Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	var out []*Bundle
	for _, versions := range s.index {
		for _, b := range versions {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

func (s *Store) latestVersion(name string) string {
	versions, ok := s.index[name]
	if !ok || len(versions) == 0 {
		return ""
	}
	latest := ""
	for v := range versions {
		if latest == "" || compareSemver(v, latest) > 0 {
			latest = v
		}
	}
	return latest
}

// promote is the shared write path for promoteDraft/promoteFromJob: pick
// the next version for name, write manifest.json + source.<ext>, update
// and persist the index.
func (s *Store) promote(name, source, ext string, manifest map[string]any, strategy Strategy, derivedFromJobID, derivedFromDraftID string) (*Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errs.ModuleStoreError(errs.CodeInvalidArgument, "name must not be empty")
	}
	if source == "" {
		return nil, errs.ModuleStoreError(errs.CodeInvalidArgument, "source must not be empty")
	}

	version, err := nextVersion(s.latestVersion(name), strategy)
	if err != nil {
		return nil, errs.ModuleStoreError(errs.CodeInvalidArgument, "%v", err)
	}

	dir := s.bundleDir(name, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.ModuleStoreError(errs.CodeInternal, "create module directory: %v", err)
	}

	b := &Bundle{
		Name:               name,
		Version:            version,
		SourceExt:          ext,
		Manifest:           manifest,
		DerivedFromJobID:   derivedFromJobID,
		DerivedFromDraftID: derivedFromDraftID,
		CreatedAt:          time.Now().UTC(),
	}

	manifestData, err := json.Marshal(b)
	if err != nil {
		return nil, errs.ModuleStoreError(errs.CodeInternal, "marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), manifestData, 0o644); err != nil {
		return nil, errs.ModuleStoreError(errs.CodeInternal, "write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "source"+ext), []byte(source), 0o644); err != nil {
		return nil, errs.ModuleStoreError(errs.CodeInternal, "write source: %v", err)
	}

	if s.index[name] == nil {
		s.index[name] = make(map[string]*Bundle)
	}
	s.index[name][version] = b
	s.persistIndex()

	return b.Clone(), nil
}

// PromoteDraft promotes a draft's source into a new module version.
func (s *Store) PromoteDraft(name, source, ext string, manifest map[string]any, strategy Strategy, draftID string) (*Bundle, error) {
	return s.promote(name, source, ext, manifest, strategy, "", draftID)
}

// PromoteFromJob promotes a completed job's module source into a new
// module version.
func (s *Store) PromoteFromJob(name, source, ext string, manifest map[string]any, strategy Strategy, jobID string) (*Bundle, error) {
	return s.promote(name, source, ext, manifest, strategy, jobID, "")
}
