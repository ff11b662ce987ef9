// -----------------------------------------------------------------------
// Asset Loader - Verifies derived assets are actually retrievable
// -----------------------------------------------------------------------

package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/fancymatt/life-os-sub005/internal/interfaces"
)

// HTTPLoader fetches an asset URL to confirm it exists. 404/410 map to
// ErrAssetNotFound so callers can distinguish a missing derivative (trigger
// generation) from a transient failure (retry with backoff).
type HTTPLoader struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewHTTPLoader creates an asset loader. baseURL is prepended to
// server-relative asset paths.
func NewHTTPLoader(baseURL string, timeout time.Duration, logger arbor.ILogger) *HTTPLoader {
	return &HTTPLoader{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Load fetches the asset and discards the body. A nil return means the
// asset is present and servable.
func (l *HTTPLoader) Load(ctx context.Context, url string) error {
	if strings.HasPrefix(url, "/") {
		url = l.baseURL + url
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build asset request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("asset request failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: %s (status %d)", interfaces.ErrAssetNotFound, url, resp.StatusCode)
	default:
		return fmt.Errorf("asset request for %s returned status %d", url, resp.StatusCode)
	}
}
