package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fuzzysecurity/kahlo-host/pkg/errs"
)

type targetState struct {
	dir        string // <data>/runs/<day>/target_<id>
	indexFile  *os.File
	errored    bool
	totalBytes int64
	byID       map[string]*Record
	tmpCleaned bool
}

// Store is the per-target artifact store described in spec §4.3. One
// Store instance is shared by every target known to the process.
type Store struct {
	dataDir     string
	budgetBytes int64

	mu         sync.Mutex
	targets    map[string]*targetState
	globalByID map[string]string // artifact_id -> target_id, across all targets

	log *slog.Logger
}

// New constructs a Store. budgetBytes is the per-target disk budget
// (DefaultBudgetBytes if the caller passes 0).
func New(dataDir string, budgetBytes int64) *Store {
	if budgetBytes <= 0 {
		budgetBytes = DefaultBudgetBytes
	}
	return &Store{
		dataDir:     dataDir,
		budgetBytes: budgetBytes,
		targets:     make(map[string]*targetState),
		globalByID:  make(map[string]string),
		log:         slog.With("component", "artifact_store"),
	}
}

func blobDir(targetDir string) string {
	return filepath.Join(targetDir, "artifacts")
}

func targetRunDir(dataDir, targetID string, now time.Time) string {
	return filepath.Join(dataDir, "runs", now.UTC().Format("2006-01-02"), "target_"+targetID)
}

// ensureTargetState creates the target's artifacts directory and index
// writer on first use, and sweeps orphan *.tmp blobs left behind by a
// crash between write-tmp and rename.
func (s *Store) ensureTargetState(targetID string, now time.Time) (*targetState, error) {
	if ts, ok := s.targets[targetID]; ok {
		return ts, nil
	}

	dir := targetRunDir(s.dataDir, targetID, now)
	bdir := blobDir(dir)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return nil, errs.ArtifactError(errs.CodeInternal, "create artifact directory: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "artifacts.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errs.ArtifactError(errs.CodeInternal, "open artifacts.jsonl: %v", err)
	}

	entries, _ := os.ReadDir(bdir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			_ = os.Remove(filepath.Join(bdir, e.Name()))
		}
	}

	ts := &targetState{dir: dir, indexFile: f, byID: make(map[string]*Record), tmpCleaned: true}
	s.targets[targetID] = ts
	return ts, nil
}

// StoreArtifact implements spec §4.3's 11-step synchronous store
// operation. It must run to completion without suspension: the budget
// check, duplicate-id check, and index insertion all depend on this for
// their TOCTOU guarantees.
func (s *Store) StoreArtifact(in StoreInput) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validType(in.Type) {
		return nil, errs.ArtifactError(errs.CodeInvalidArgument, "unknown artifact type %q", in.Type)
	}

	data := in.Data
	if data == nil {
		data = []byte{}
	}
	if in.SizeBytes > 0 && len(data) == 0 {
		return nil, errs.ArtifactError(errs.CodeInvalidArgument, "size_bytes=%d but no data supplied", in.SizeBytes)
	}

	actualSize := int64(len(data))
	if actualSize != in.SizeBytes {
		return nil, errs.ArtifactError(errs.CodeInvalidArgument, "declared size_bytes=%d does not match actual size %d", in.SizeBytes, actualSize)
	}

	ts, err := s.ensureTargetState(in.TargetID, in.Ts)
	if err != nil {
		return nil, err
	}

	if ts.totalBytes+actualSize > s.budgetBytes {
		return nil, errs.ArtifactError(errs.CodeInvalidArgument, "artifact would exceed target disk budget (%d + %d > %d)", ts.totalBytes, actualSize, s.budgetBytes)
	}

	if _, exists := ts.byID[in.ArtifactID]; exists {
		return nil, errs.ArtifactError(errs.CodeInvalidArgument, "artifact_id %q already exists", in.ArtifactID)
	}
	if _, exists := s.globalByID[in.ArtifactID]; exists {
		return nil, errs.ArtifactError(errs.CodeInvalidArgument, "artifact_id %q already exists", in.ArtifactID)
	}

	sum := sha256.Sum256(data)
	sha := hex.EncodeToString(sum[:])

	sanitized := sanitizeName(in.Name)
	ext := deriveExtension(sanitized, in.MIME)

	bdir := blobDir(ts.dir)
	tmpPath := filepath.Join(bdir, in.ArtifactID+ext+".tmp")
	finalPath := filepath.Join(bdir, in.ArtifactID+ext)

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return nil, errs.ArtifactError(errs.CodeInternal, "write artifact blob: %v", err)
	}

	rec := &Record{
		ArtifactID:      in.ArtifactID,
		TargetID:        in.TargetID,
		JobID:           in.JobID,
		Ts:              in.Ts,
		Type:            in.Type,
		SizeBytes:       in.SizeBytes,
		StoredSizeBytes: actualSize,
		SHA256:          sha,
		MIME:            in.MIME,
		Name:            sanitized,
		Metadata:        in.Metadata,
		StorageRef:      finalPath,
	}

	ts.byID[in.ArtifactID] = rec
	s.globalByID[in.ArtifactID] = in.TargetID
	ts.totalBytes += actualSize

	if !ts.errored {
		if line, err := json.Marshal(rec); err == nil {
			if _, werr := ts.indexFile.Write(append(line, '\n')); werr != nil {
				ts.errored = true
			}
		} else {
			ts.errored = true
		}
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		if _, statErr := os.Stat(tmpPath); statErr == nil {
			// Blob is intact at the tmp path; keep the in-memory record and
			// point storage_ref there instead of rolling back.
			rec.StorageRef = tmpPath
			s.log.Warn("artifact rename failed, left at tmp path", "artifact_id", in.ArtifactID, "tmp_path", tmpPath, "error", err)
			return rec, nil
		}
		delete(ts.byID, in.ArtifactID)
		delete(s.globalByID, in.ArtifactID)
		ts.totalBytes -= actualSize
		return nil, errs.ArtifactError(errs.CodeInternal, "rename artifact blob: %v", err)
	}

	return rec, nil
}

// ReadArtifactPayload reads the blob bytes for an artifact. Unlike
// StoreArtifact this is not required to run atomically with any other
// operation.
func (s *Store) ReadArtifactPayload(artifactID string) ([]byte, error) {
	rec, err := s.GetArtifact(artifactID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(rec.StorageRef)
	if err != nil {
		return nil, errs.ArtifactError(errs.CodeInternal, "read artifact blob: %v", err)
	}
	return data, nil
}

// GetArtifact returns a copy of the stored record for artifactID.
func (s *Store) GetArtifact(artifactID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	targetID, ok := s.globalByID[artifactID]
	if !ok {
		return nil, errs.ArtifactError(errs.CodeNotFound, "artifact %q not found", artifactID)
	}
	ts := s.targets[targetID]
	rec := *ts.byID[artifactID]
	return &rec, nil
}

// ListArtifactsByTarget returns every record stored for targetID.
func (s *Store) ListArtifactsByTarget(targetID string) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.targets[targetID]
	if !ok {
		return nil
	}
	out := make([]*Record, 0, len(ts.byID))
	for _, rec := range ts.byID {
		r := *rec
		out = append(out, &r)
	}
	return out
}

// ListArtifactsByJob returns every record carrying jobID, scanning all
// targets (a job belongs to exactly one target, but the caller supplies
// only job_id).
func (s *Store) ListArtifactsByJob(jobID string) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Record
	for _, ts := range s.targets {
		for _, rec := range ts.byID {
			if rec.JobID == jobID {
				r := *rec
				out = append(out, &r)
			}
		}
	}
	return out
}

// ListAllArtifacts returns every record known to the store, across all
// targets.
func (s *Store) ListAllArtifacts() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Record
	for _, ts := range s.targets {
		for _, rec := range ts.byID {
			r := *rec
			out = append(out, &r)
		}
	}
	return out
}

// GetTargetArtifactStats summarizes a target's storage usage.
func (s *Store) GetTargetArtifactStats(targetID string) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{TargetID: targetID, BudgetBytes: s.budgetBytes}
	if ts, ok := s.targets[targetID]; ok {
		stats.Count = len(ts.byID)
		stats.TotalBytes = ts.totalBytes
	}
	return stats
}

// CloseTargetArtifactStore ends the index writer for targetID if it has
// not already errored. Unlike the event pipeline's close, this does NOT
// remove the target's in-memory state: artifact queries must keep
// working after a target detaches.
func (s *Store) CloseTargetArtifactStore(targetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.targets[targetID]
	if !ok || ts.indexFile == nil {
		return
	}
	if !ts.errored {
		_ = ts.indexFile.Sync()
	}
	_ = ts.indexFile.Close()
}
