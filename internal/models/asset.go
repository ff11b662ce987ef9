// -----------------------------------------------------------------------
// Asset URLs - Variant substitution and freshness stamping
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// previewSuffix is the canonical preview marker in generated asset paths.
// Canonical: /p/x9_preview.png  Variant: /p/x9_preview_small.png
const previewSuffix = "_preview"

// freshnessParam is the cache-busting query parameter
const freshnessParam = "t"

// VariantURL transforms a canonical asset reference into a size/variant
// specific one by suffix substitution. An empty variant returns the
// canonical reference unchanged.
func VariantURL(base, variant string) string {
	if variant == "" || base == "" {
		return base
	}

	ext := path.Ext(stripQuery(base))
	marker := previewSuffix + ext
	if ext == "" || !strings.Contains(base, marker) {
		return base
	}

	replacement := fmt.Sprintf("%s_%s%s", previewSuffix, variant, ext)
	return strings.Replace(base, marker, replacement, 1)
}

// HasFreshnessToken reports whether the URL already carries a cache-bust
// timestamp. Such URLs must not be re-stamped: the token identifies one
// retry sequence, and replacing it on unrelated re-renders would reset
// backoff accounting.
func HasFreshnessToken(rawURL string) bool {
	query := urlQuery(rawURL)
	if query == "" {
		return false
	}
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		key := pair
		if idx := strings.Index(pair, "="); idx >= 0 {
			key = pair[:idx]
		}
		if key == freshnessParam {
			return true
		}
	}
	return false
}

// Freshen appends a cache-busting timestamp unless the URL already has one
func Freshen(rawURL string, now func() time.Time) string {
	if rawURL == "" || HasFreshnessToken(rawURL) {
		return rawURL
	}
	return stamp(rawURL, now)
}

// Refresh force-stamps a new freshness token, replacing any existing one.
// Used when a completed job hands over a newly observed asset reference.
func Refresh(rawURL string, now func() time.Time) string {
	if rawURL == "" {
		return rawURL
	}
	return stamp(stripFreshnessToken(rawURL), now)
}

// IsDerivativeVariant reports whether the URL references a derived variant
// (as opposed to the canonical preview). Derived variants may not exist
// until generated on demand, which is why a failed load of one is treated
// as "missing" rather than "transient".
func IsDerivativeVariant(rawURL, variant string) bool {
	if variant == "" || rawURL == "" {
		return false
	}
	clean := stripQuery(rawURL)
	ext := path.Ext(clean)
	return strings.HasSuffix(clean, fmt.Sprintf("%s_%s%s", previewSuffix, variant, ext))
}

func stamp(rawURL string, now func() time.Time) string {
	if now == nil {
		now = time.Now
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s%s=%d", rawURL, sep, freshnessParam, now().UnixMilli())
}

func stripFreshnessToken(rawURL string) string {
	base := stripQuery(rawURL)
	query := urlQuery(rawURL)
	if query == "" {
		return base
	}

	var kept []string
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		key := pair
		if idx := strings.Index(pair, "="); idx >= 0 {
			key = pair[:idx]
		}
		if key != freshnessParam {
			kept = append(kept, pair)
		}
	}
	if len(kept) == 0 {
		return base
	}
	return base + "?" + strings.Join(kept, "&")
}

func stripQuery(rawURL string) string {
	if idx := strings.Index(rawURL, "?"); idx >= 0 {
		return rawURL[:idx]
	}
	return rawURL
}

func urlQuery(rawURL string) string {
	if idx := strings.Index(rawURL, "?"); idx >= 0 {
		return rawURL[idx+1:]
	}
	return ""
}
