package facade

import (
	"context"
	"encoding/base64"

	"github.com/fuzzysecurity/kahlo-host/pkg/artifact"
	"github.com/fuzzysecurity/kahlo-host/pkg/errs"
)

// ArtifactsListInput is the artifacts.list tool request. Exactly one of
// TargetID or JobID should be set, per spec §6's "{target_id|job_id}".
type ArtifactsListInput struct {
	TargetID string `json:"target_id,omitempty" query:"target_id"`
	JobID    string `json:"job_id,omitempty" query:"job_id"`
}

// ArtifactsListOutput is the artifacts.list tool result.
type ArtifactsListOutput struct {
	Artifacts []*artifact.Record `json:"artifacts"`
}

// ArtifactIDInput is the artifacts.get tool request.
type ArtifactIDInput struct {
	ArtifactID string `json:"artifact_id" param:"artifact_id"`
}

// ArtifactsGetOutput is the artifacts.get tool result. PayloadB64 is
// only populated when stored_size_bytes is at or under
// artifact.InlineThresholdBytes, per spec §6.
type ArtifactsGetOutput struct {
	Artifact   *artifact.Record `json:"artifact"`
	StorageRef string           `json:"storage_ref,omitempty"`
	Encoding   string           `json:"encoding,omitempty"`
	PayloadB64 string           `json:"payload_b64,omitempty"`
}

func (f *Facade) requireArtifacts() error {
	if f.Artifacts == nil {
		return errs.ArtifactError(errs.CodeNotImplemented, "artifact store is not configured")
	}
	return nil
}

// ArtifactsList implements artifacts.list.
func (f *Facade) ArtifactsList(ctx context.Context, in ArtifactsListInput) (ArtifactsListOutput, error) {
	if err := f.requireArtifacts(); err != nil {
		return ArtifactsListOutput{}, err
	}
	if in.TargetID == "" && in.JobID == "" {
		return ArtifactsListOutput{}, errs.ArtifactError(errs.CodeInvalidArgument, "exactly one of target_id or job_id must be set")
	}
	if in.JobID != "" {
		return ArtifactsListOutput{Artifacts: f.Artifacts.ListArtifactsByJob(in.JobID)}, nil
	}
	return ArtifactsListOutput{Artifacts: f.Artifacts.ListArtifactsByTarget(in.TargetID)}, nil
}

// ArtifactsGet implements artifacts.get.
func (f *Facade) ArtifactsGet(ctx context.Context, in ArtifactIDInput) (ArtifactsGetOutput, error) {
	if err := f.requireArtifacts(); err != nil {
		return ArtifactsGetOutput{}, err
	}
	rec, err := f.Artifacts.GetArtifact(in.ArtifactID)
	if err != nil {
		return ArtifactsGetOutput{}, err
	}
	out := ArtifactsGetOutput{Artifact: rec, StorageRef: rec.StorageRef}
	if rec.StoredSizeBytes <= artifact.InlineThresholdBytes {
		payload, err := f.Artifacts.ReadArtifactPayload(in.ArtifactID)
		if err != nil {
			return ArtifactsGetOutput{}, err
		}
		out.Encoding = "base64"
		out.PayloadB64 = base64.StdEncoding.EncodeToString(payload)
	}
	return out, nil
}
