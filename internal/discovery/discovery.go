// -----------------------------------------------------------------------
// Active-Job Discovery - One-shot catch-up read of jobs already in flight
// -----------------------------------------------------------------------

package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/fancymatt/life-os-sub005/internal/models"
)

// Client reads the current job list once per widget mount, closing the race
// between "job already running" and "widget just subscribed". It is a bounded
// read, never a stream, and failures are reported to the caller who treats
// them as best-effort.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewClient creates a discovery client for the given server base URL
func NewClient(baseURL string, timeout time.Duration, logger arbor.ILogger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// ListActiveJobs fetches up to limit jobs in non-terminal states
func (c *Client) ListActiveJobs(ctx context.Context, limit int) ([]models.Job, error) {
	url := fmt.Sprintf("%s/api/jobs?status=active&limit=%d", c.baseURL, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build job list request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("job list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("job list request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read job list response: %w", err)
	}

	jobs, err := models.ParseJobList(body)
	if err != nil {
		return nil, err
	}

	// The server is expected to filter, but stale caches have returned
	// terminal rows before. Filter again on our side.
	active := make([]models.Job, 0, len(jobs))
	for _, job := range jobs {
		if job.Status.IsActive() {
			active = append(active, job)
		}
	}

	c.logger.Debug().
		Int("returned", len(jobs)).
		Int("active", len(active)).
		Msg("Fetched active job list")

	return active, nil
}
