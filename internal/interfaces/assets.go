package interfaces

import (
	"context"
	"errors"
)

// ErrAssetNotFound indicates the requested asset (or variant) does not exist
// on the server yet. Distinguished from transient failures so the caller can
// trigger on-demand generation instead of retrying blindly.
var ErrAssetNotFound = errors.New("asset not found")

// AssetLoader checks that a derived asset is actually retrievable
type AssetLoader interface {
	Load(ctx context.Context, url string) error
}

// Generation request/response statuses returned by the asset service
const (
	GenerationStatusGenerating = "generating"
	GenerationStatusExists     = "exists"
)

// GenerationRequest asks the server to produce a missing asset variant
type GenerationRequest struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Variant    string `json:"variant"`
}

// GenerationResponse is the synchronous answer to a generation request.
// Status "generating" carries the job id to wait for; "exists" means the
// variant is already present and the load can be retried immediately.
type GenerationResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
}

// GenerationService triggers on-demand production of a missing variant
type GenerationService interface {
	RequestGeneration(ctx context.Context, req GenerationRequest) (GenerationResponse, error)
}
