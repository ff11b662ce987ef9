package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/fancymatt/life-os-sub005/internal/interfaces"
)

// GenerationClient asks the server to produce a missing asset variant.
// The response is synchronous: either the variant already exists, or a
// generation job was enqueued and its completion will arrive on the feed.
type GenerationClient struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewGenerationClient creates an on-demand generation client
func NewGenerationClient(baseURL string, timeout time.Duration, logger arbor.ILogger) *GenerationClient {
	return &GenerationClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// RequestGeneration triggers production of one entity's asset variant
func (g *GenerationClient) RequestGeneration(ctx context.Context, genReq interfaces.GenerationRequest) (interfaces.GenerationResponse, error) {
	body, err := json.Marshal(genReq)
	if err != nil {
		return interfaces.GenerationResponse{}, fmt.Errorf("failed to marshal generation request: %w", err)
	}

	url := g.baseURL + "/api/assets/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return interfaces.GenerationResponse{}, fmt.Errorf("failed to build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return interfaces.GenerationResponse{}, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return interfaces.GenerationResponse{}, fmt.Errorf("generation request returned status %d", resp.StatusCode)
	}

	var genResp interfaces.GenerationResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return interfaces.GenerationResponse{}, fmt.Errorf("failed to decode generation response: %w", err)
	}

	g.logger.Debug().
		Str("entity_type", genReq.EntityType).
		Str("entity_id", genReq.EntityID).
		Str("variant", genReq.Variant).
		Str("status", genResp.Status).
		Str("job_id", genResp.JobID).
		Msg("Generation request answered")

	return genResp, nil
}
