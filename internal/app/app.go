// -----------------------------------------------------------------------
// App - Composition root: wires config, storage, feed, and trackers
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/fancymatt/life-os-sub005/internal/assets"
	"github.com/fancymatt/life-os-sub005/internal/common"
	"github.com/fancymatt/life-os-sub005/internal/discovery"
	"github.com/fancymatt/life-os-sub005/internal/events"
	"github.com/fancymatt/life-os-sub005/internal/feed"
	"github.com/fancymatt/life-os-sub005/internal/matcher"
	"github.com/fancymatt/life-os-sub005/internal/models"
	storagebadger "github.com/fancymatt/life-os-sub005/internal/storage/badger"
	"github.com/fancymatt/life-os-sub005/internal/tracker"
)

// App owns the long-lived pieces of the process: one feed connection, one
// broadcaster, one tracker per configured entity, and the optional snapshot
// store with its prune schedule.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	DB          *storagebadger.BadgerDB
	Snapshots   *storagebadger.SnapshotStore
	Broadcaster *events.Broadcaster
	Feed        *feed.Client
	Discovery   *discovery.Client
	Trackers    []*tracker.Tracker

	cron *cron.Cron
}

// New wires all components. Nothing is connected or subscribed yet; Start
// does that.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config:      cfg,
		Logger:      logger,
		Broadcaster: events.NewBroadcaster(logger),
	}

	if cfg.Snapshots.Enabled {
		db, err := storagebadger.NewBadgerDB(logger, &cfg.Storage.Badger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize snapshot storage: %w", err)
		}
		a.DB = db
		a.Snapshots = storagebadger.NewSnapshotStore(db, logger)
	}

	timeout := cfg.Server.GetRequestTimeout()
	a.Discovery = discovery.NewClient(cfg.Server.BaseURL, timeout, logger)
	loader := assets.NewHTTPLoader(cfg.Server.BaseURL, timeout, logger)
	generator := assets.NewGenerationClient(cfg.Server.BaseURL, timeout, logger)

	trackerCfg := tracker.Config{
		RetryBase:        cfg.Tracking.GetRetryBase(),
		RetryCap:         cfg.Tracking.GetRetryCap(),
		RetryMaxAttempts: cfg.Tracking.RetryMaxAttempts,
		DiscoveryLimit:   cfg.Tracking.DiscoveryLimit,
		ProgressInterval: cfg.Tracking.GetProgressInterval(),
	}

	for _, entity := range cfg.Tracking.Entities {
		identity := matcher.Identity{
			EntityType: entity.EntityType,
			EntityID:   entity.EntityID,
		}
		t := tracker.New(identity, entity.Variant, a.Discovery, loader, generator, trackerCfg, logger, a.logUpdate)
		a.Trackers = append(a.Trackers, t)
	}

	a.Feed = feed.NewClient(a.Broadcaster, logger, nil)

	return a, nil
}

// Start connects the feed, mounts the trackers, and arms the prune schedule.
// The returned error is fatal; the process should exit.
func (a *App) Start(ctx context.Context) error {
	if a.Snapshots != nil {
		// Record every feed event before trackers see it, so the monitor
		// view survives a restart with last-known state intact.
		a.Broadcaster.Subscribe(func(job models.Job) {
			if err := a.Snapshots.Record(context.Background(), job); err != nil {
				a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to record job snapshot")
			}
		})
	}

	feedURL := WebsocketURL(a.Config.Server.BaseURL, a.Config.Server.FeedPath)
	if err := a.Feed.Dial(ctx, feedURL); err != nil {
		return err
	}

	for _, t := range a.Trackers {
		t.Mount(a.Broadcaster)
	}

	if a.Snapshots != nil && a.Config.Snapshots.PruneSchedule != "" {
		a.cron = cron.New()
		retention := a.Config.Snapshots.GetRetention()
		_, err := a.cron.AddFunc(a.Config.Snapshots.PruneSchedule, func() {
			if _, err := a.Snapshots.Prune(context.Background(), retention); err != nil {
				a.Logger.Warn().Err(err).Msg("Snapshot prune failed")
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule snapshot prune: %w", err)
		}
		a.cron.Start()
	}

	a.Logger.Info().
		Str("server", a.Config.Server.BaseURL).
		Int("trackers", len(a.Trackers)).
		Msg("StudioSync started")

	return nil
}

// Done is closed when the feed connection terminates. The feed is not
// reconnected in place; the process exits and supervision restarts it.
func (a *App) Done() <-chan struct{} {
	return a.Feed.Done()
}

// FeedErr returns the terminal feed error, nil after a clean shutdown
func (a *App) FeedErr() error {
	return a.Feed.Err()
}

// Stop tears everything down in reverse dependency order
func (a *App) Stop() {
	if a.cron != nil {
		a.cron.Stop()
	}

	for _, t := range a.Trackers {
		t.Close()
	}

	if a.Feed != nil {
		if err := a.Feed.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Error closing job feed")
		}
	}

	if a.Broadcaster != nil {
		a.Broadcaster.Close()
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Error closing snapshot storage")
		}
	}

	a.Logger.Info().Msg("StudioSync stopped")
}

// logUpdate is the default tracker callback for the monitor binary: state
// transitions land in the log instead of a view layer.
func (a *App) logUpdate(snap tracker.Snapshot) {
	event := a.Logger.Info().
		Str("entity_type", snap.Identity.EntityType).
		Str("entity_id", snap.Identity.EntityID).
		Str("state", string(snap.State))
	if snap.TrackedJobID != "" {
		event = event.Str("job_id", snap.TrackedJobID)
	}
	if snap.State == tracker.StateGenerating {
		event = event.Float64("progress", snap.Progress)
	}
	if snap.AssetURL != "" {
		event = event.Str("asset_url", snap.AssetURL)
	}
	if snap.Error != "" {
		event = event.Str("error", snap.Error)
	}
	event.Msg("Tracker update")
}

// WebsocketURL derives the feed endpoint from the HTTP base URL
func WebsocketURL(baseURL, feedPath string) string {
	url := baseURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return strings.TrimSuffix(url, "/") + feedPath
}
