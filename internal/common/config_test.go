package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "studiosync.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsValidate(t *testing.T) {
	config, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles() error = %v", err)
	}
	if config.Server.BaseURL == "" {
		t.Error("default base_url missing")
	}
	if config.Tracking.RetryMaxAttempts != 10 {
		t.Errorf("retry_max_attempts = %d, want 10", config.Tracking.RetryMaxAttempts)
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
[server]
base_url = "http://jobs.internal:9000"

[tracking]
retry_max_attempts = 5

[[tracking.entities]]
entity_type = "character"
entity_id = "char-1"
variant = "small"
`)

	config, err := LoadFromFiles(path)
	if err != nil {
		t.Fatalf("LoadFromFiles() error = %v", err)
	}
	if config.Server.BaseURL != "http://jobs.internal:9000" {
		t.Errorf("base_url = %q", config.Server.BaseURL)
	}
	if config.Tracking.RetryMaxAttempts != 5 {
		t.Errorf("retry_max_attempts = %d, want 5", config.Tracking.RetryMaxAttempts)
	}
	// File values merge over defaults without clearing unrelated keys.
	if config.Server.FeedPath != "/ws/jobs" {
		t.Errorf("feed_path = %q, want default", config.Server.FeedPath)
	}
	if len(config.Tracking.Entities) != 1 {
		t.Fatalf("entities = %d, want 1", len(config.Tracking.Entities))
	}
	if config.Tracking.Entities[0].Variant != "small" {
		t.Errorf("variant = %q", config.Tracking.Entities[0].Variant)
	}
}

func TestLaterFilesWin(t *testing.T) {
	first := writeTempConfig(t, `
[server]
base_url = "http://first:8085"
`)
	second := writeTempConfig(t, `
[server]
base_url = "http://second:8085"
`)

	config, err := LoadFromFiles(first, second)
	if err != nil {
		t.Fatalf("LoadFromFiles() error = %v", err)
	}
	if config.Server.BaseURL != "http://second:8085" {
		t.Errorf("base_url = %q, want second file's value", config.Server.BaseURL)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeTempConfig(t, `
[server]
base_url = "http://file:8085"
`)
	t.Setenv("STUDIOSYNC_SERVER_BASE_URL", "http://env:8085")

	config, err := LoadFromFiles(path)
	if err != nil {
		t.Fatalf("LoadFromFiles() error = %v", err)
	}
	if config.Server.BaseURL != "http://env:8085" {
		t.Errorf("base_url = %q, want env value", config.Server.BaseURL)
	}
}

func TestFlagOverridesEverything(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, "http://flag:8085")
	if config.Server.BaseURL != "http://flag:8085" {
		t.Errorf("base_url = %q, want flag value", config.Server.BaseURL)
	}

	ApplyFlagOverrides(config, "")
	if config.Server.BaseURL != "http://flag:8085" {
		t.Error("empty flag must not clear base_url")
	}
}

func TestInvalidBaseURLRejected(t *testing.T) {
	path := writeTempConfig(t, `
[server]
base_url = "not a url"
`)
	if _, err := LoadFromFiles(path); err == nil {
		t.Fatal("expected validation error for malformed base_url")
	}
}

func TestInvalidPruneScheduleRejected(t *testing.T) {
	path := writeTempConfig(t, `
[snapshots]
enabled = true
prune_schedule = "every 5 minutes"
`)
	if _, err := LoadFromFiles(path); err == nil {
		t.Fatal("expected validation error for malformed cron expression")
	}
}

func TestMissingFileErrors(t *testing.T) {
	if _, err := LoadFromFiles("/does/not/exist.toml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestDurationGettersFallBack(t *testing.T) {
	tracking := TrackingConfig{RetryBase: "250ms", RetryCap: "garbage", ProgressInterval: ""}
	if got := tracking.GetRetryBase(); got != 250*time.Millisecond {
		t.Errorf("GetRetryBase() = %v", got)
	}
	if got := tracking.GetRetryCap(); got != 3*time.Second {
		t.Errorf("GetRetryCap() = %v, want fallback", got)
	}
	if got := tracking.GetProgressInterval(); got != 250*time.Millisecond {
		t.Errorf("GetProgressInterval() = %v, want fallback", got)
	}

	snapshots := SnapshotsConfig{Retention: "-5h"}
	if got := snapshots.GetRetention(); got != 72*time.Hour {
		t.Errorf("GetRetention() = %v, want fallback for non-positive value", got)
	}
}
