// Package artifact implements the synchronous per-target artifact store:
// content-hashed, budget-enforced, temp-file-then-rename persistence of
// binary payloads emitted by running jobs.
package artifact

import "time"

// Type is the declared artifact kind. Only these five are accepted.
type Type string

const (
	TypeFileDump   Type = "file_dump"
	TypeMemoryDump Type = "memory_dump"
	TypeTrace      Type = "trace"
	TypePcapLike   Type = "pcap_like"
	TypeCustom     Type = "custom"
)

func validType(t Type) bool {
	switch t {
	case TypeFileDump, TypeMemoryDump, TypeTrace, TypePcapLike, TypeCustom:
		return true
	default:
		return false
	}
}

// InlineThresholdBytes is the facade-visible cutoff below which
// artifacts.get may return the payload inline as base64 instead of a
// storage_ref.
const InlineThresholdBytes = 32 * 1024

// DefaultBudgetBytes is the default per-target disk budget.
const DefaultBudgetBytes = 500 * 1024 * 1024

// Record is one immutable stored artifact.
type Record struct {
	ArtifactID      string         `json:"artifact_id"`
	TargetID        string         `json:"target_id"`
	JobID           string         `json:"job_id,omitempty"`
	Ts              time.Time      `json:"ts"`
	Type            Type           `json:"type"`
	SizeBytes       int64          `json:"size_bytes"`
	StoredSizeBytes int64          `json:"stored_size_bytes"`
	SHA256          string         `json:"sha256"`
	MIME            string         `json:"mime,omitempty"`
	Name            string         `json:"name,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	StorageRef      string         `json:"storage_ref"`
}

// StoreInput is the request shape for StoreArtifact.
type StoreInput struct {
	TargetID   string
	ArtifactID string
	JobID      string
	Ts         time.Time
	Type       Type
	SizeBytes  int64
	MIME       string
	Name       string
	Metadata   map[string]any
	Data       []byte
}

// Stats summarizes a target's artifact storage for getTargetArtifactStats.
type Stats struct {
	TargetID    string `json:"target_id"`
	Count       int    `json:"count"`
	TotalBytes  int64  `json:"total_bytes"`
	BudgetBytes int64  `json:"budget_bytes"`
}
