// -----------------------------------------------------------------------
// Tracker - Per-widget job tracking and asset reconciliation
// -----------------------------------------------------------------------

package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/fancymatt/life-os-sub005/internal/common"
	"github.com/fancymatt/life-os-sub005/internal/interfaces"
	"github.com/fancymatt/life-os-sub005/internal/matcher"
	"github.com/fancymatt/life-os-sub005/internal/models"
)

// State is the tracker's view-state for the asset it is reconciling
type State string

const (
	StateIdle         State = "idle"          // no tracked job, nothing in flight
	StateGenerating   State = "generating"    // a job for this entity is queued or running
	StatePendingAsset State = "pending_asset" // job completed, asset not confirmed yet
	StateLoaded       State = "loaded"        // asset confirmed retrievable
	StateFailed       State = "failed"        // gave up; widget shows its stand-in
)

// Snapshot is the tracker's observable state, handed to OnUpdate
type Snapshot struct {
	Identity     matcher.Identity
	Variant      string
	State        State
	TrackedJobID string
	Progress     float64
	AssetURL     string
	Error        string
}

// Config tunes retry/backoff and discovery behavior
type Config struct {
	RetryBase        time.Duration // first asset retry delay
	RetryCap         time.Duration // backoff ceiling
	RetryMaxAttempts int           // give up after this many failed loads
	DiscoveryLimit   int           // bound for the catch-up job list read
	ProgressInterval time.Duration // min interval between progress-only notifications, 0 = unthrottled
	Now              func() time.Time
}

// DefaultConfig returns production retry tuning
func DefaultConfig() Config {
	return Config{
		RetryBase:        100 * time.Millisecond,
		RetryCap:         3 * time.Second,
		RetryMaxAttempts: 10,
		DiscoveryLimit:   50,
		ProgressInterval: 250 * time.Millisecond,
	}
}

// appliedEvent is the last (status, progress) applied for one job id. Kept
// per job id, not as a single last-event slot, so replays of the tracked job
// and of the generation job are each dropped independently of interleaving.
type appliedEvent struct {
	status   models.JobStatus
	progress float64
}

// resultAssetKeys are checked in order for the completed job's asset
// reference. Newer jobs write preview_image_path; some older analyzers
// wrote image_path.
var resultAssetKeys = []string{"preview_image_path", "image_path"}

// Tracker follows the background jobs of one entity and reconciles the
// entity's preview asset once a job completes. One instance per widget
// mount; widgets never share trackers.
//
// All async callbacks (discovery read, asset loads, generation request,
// retry timers) re-check an epoch counter before mutating state, so work
// started before Close or an identity change can never apply afterwards.
//
// OnUpdate is invoked with the tracker's lock held and must not call back
// into the tracker.
type Tracker struct {
	lister    interfaces.JobLister
	loader    interfaces.AssetLoader
	generator interfaces.GenerationService
	logger    arbor.ILogger
	cfg       Config
	onUpdate  func(Snapshot)
	throttle  *rate.Limiter

	mu          sync.Mutex
	identity    matcher.Identity
	variant     string
	epoch       int
	mounted     bool
	closed      bool
	unsubscribe interfaces.Unsubscribe
	retryTimer  *time.Timer

	state        State
	trackedJobID string
	applied      map[string]appliedEvent
	lastProgress float64
	assetURL     string
	errMsg       string
	retryCount   int

	// On-demand generation bookkeeping. optimizationRequested is the
	// fires-once guard: at most one generation request per identity/variant
	// for the tracker's lifetime, reset only by SetIdentity.
	optimizationRequested bool
	optimizationJobID     string
	optimizationInFlight  bool
}

// New creates an unmounted tracker for one entity identity and variant
func New(identity matcher.Identity, variant string, lister interfaces.JobLister, loader interfaces.AssetLoader, generator interfaces.GenerationService, cfg Config, logger arbor.ILogger, onUpdate func(Snapshot)) *Tracker {
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = 3 * time.Second
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 10
	}
	if cfg.DiscoveryLimit <= 0 {
		cfg.DiscoveryLimit = 50
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var throttle *rate.Limiter
	if cfg.ProgressInterval > 0 {
		throttle = rate.NewLimiter(rate.Every(cfg.ProgressInterval), 1)
	}

	return &Tracker{
		lister:    lister,
		loader:    loader,
		generator: generator,
		logger:    logger,
		cfg:       cfg,
		onUpdate:  onUpdate,
		throttle:  throttle,
		identity:  identity,
		variant:   variant,
		state:     StateIdle,
		applied:   make(map[string]appliedEvent),
	}
}

// Mount subscribes to the broadcaster and runs the one-shot discovery read.
// Discovery is best-effort: a failed read just means no pre-seeded job.
func (t *Tracker) Mount(sub interfaces.Subscriber) {
	t.mu.Lock()
	if t.mounted || t.closed {
		t.mu.Unlock()
		return
	}
	t.mounted = true
	t.unsubscribe = sub.Subscribe(t.Apply)
	epoch := t.epoch
	t.mu.Unlock()

	t.runDiscovery(epoch)
}

// Close synchronously unsubscribes and cancels pending retries. Callbacks
// from work already in flight are discarded by the epoch guard.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.epoch++
	t.cancelRetryLocked()
	unsub := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// SetIdentity retargets the tracker at a different entity or variant.
// All counters, the tracked job, and the fires-once generation guard are
// reset, and discovery reruns for the new identity.
func (t *Tracker) SetIdentity(identity matcher.Identity, variant string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if t.identity == identity && t.variant == variant {
		t.mu.Unlock()
		return
	}

	t.epoch++
	t.cancelRetryLocked()
	t.identity = identity
	t.variant = variant
	t.state = StateIdle
	t.trackedJobID = ""
	t.applied = make(map[string]appliedEvent)
	t.lastProgress = 0
	t.assetURL = ""
	t.errMsg = ""
	t.retryCount = 0
	t.optimizationRequested = false
	t.optimizationJobID = ""
	t.optimizationInFlight = false

	mounted := t.mounted
	epoch := t.epoch
	t.notifyLocked(true)
	t.mu.Unlock()

	if mounted {
		t.runDiscovery(epoch)
	}
}

// Current returns the tracker's observable state
func (t *Tracker) Current() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Apply is the broadcaster listener. Each call receives one complete job
// snapshot; applying the same snapshot twice is a no-op beyond the first.
func (t *Tracker) Apply(job models.Job) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || !t.mounted {
		return
	}

	status := job.Status.Normalize()

	// Duplicate delivery is expected on the feed; drop exact re-applications.
	if prev, ok := t.applied[job.ID]; ok && prev.status == status && prev.progress == job.Progress {
		return
	}

	// Completion of the generation job we requested for a missing variant.
	if t.optimizationJobID != "" && job.ID == t.optimizationJobID {
		t.applyGenerationEventLocked(job, status)
		return
	}

	res := matcher.Match(t.identity, t.trackedJobID, job)
	if !res.Matched {
		return
	}

	if t.trackedJobID == "" {
		if matcher.ShouldAdopt(res, job) {
			t.trackedJobID = job.ID
			t.logger.Debug().
				Str("job_id", job.ID).
				Str("strategy", string(res.Strategy)).
				Str("entity_type", t.identity.EntityType).
				Str("entity_id", t.identity.EntityID).
				Msg("Adopted in-flight job")
		} else if !status.IsTerminal() {
			return
		}
		// Terminal on first sight: apply the result below without ever
		// showing an in-progress indicator.
	} else if job.ID != t.trackedJobID {
		// Locked onto another job for this entity; stay locked.
		return
	}

	t.applied[job.ID] = appliedEvent{status: status, progress: job.Progress}
	t.lastProgress = job.Progress

	switch status {
	case models.JobStatusQueued, models.JobStatusRunning:
		transition := t.state != StateGenerating
		t.state = StateGenerating
		t.notifyLocked(transition)

	case models.JobStatusCompleted:
		t.applyCompletedLocked(job)

	case models.JobStatusFailed:
		t.state = StateFailed
		t.errMsg = job.Error
		t.logger.Warn().
			Str("job_id", job.ID).
			Str("error", job.Error).
			Msg("Tracked job failed")
		t.notifyLocked(true)

	case models.JobStatusCancelled:
		t.state = StateIdle
		t.notifyLocked(true)
	}
}

// applyCompletedLocked adopts the completed job's asset reference and
// starts confirming it is retrievable.
func (t *Tracker) applyCompletedLocked(job models.Job) {
	base := ""
	for _, key := range resultAssetKeys {
		if v, ok := job.ResultString(key); ok && v != "" {
			base = v
			break
		}
	}

	if base == "" {
		t.logger.Debug().
			Str("job_id", job.ID).
			Msg("Completed job carried no asset reference")
		t.state = StateIdle
		t.notifyLocked(true)
		return
	}

	// A newly observed URL always gets a fresh cache-bust token; the token
	// then stays fixed for the whole retry sequence.
	url := models.Refresh(models.VariantURL(base, t.variant), t.cfg.Now)
	t.assetURL = url
	t.retryCount = 0
	t.cancelRetryLocked()
	t.state = StatePendingAsset
	t.notifyLocked(true)

	t.startLoadLocked(url)
}

// applyGenerationEventLocked handles feed events for the on-demand
// generation job spawned for a missing variant.
func (t *Tracker) applyGenerationEventLocked(job models.Job, status models.JobStatus) {
	// Recorded under the generation job's own id; this never displaces the
	// tracked job's entry, so a replay of either is still dropped.
	t.applied[job.ID] = appliedEvent{status: status, progress: job.Progress}

	switch {
	case status == models.JobStatusCompleted:
		t.optimizationInFlight = false
		if t.assetURL == "" {
			return
		}
		// Variant was just produced; stamp a new token and confirm the load.
		t.assetURL = models.Refresh(t.assetURL, t.cfg.Now)
		t.retryCount = 0
		t.cancelRetryLocked()
		t.state = StatePendingAsset
		t.notifyLocked(true)
		t.startLoadLocked(t.assetURL)

	case status.IsTerminal():
		t.optimizationInFlight = false
		t.state = StateFailed
		t.errMsg = job.Error
		t.logger.Warn().
			Str("job_id", job.ID).
			Str("status", string(status)).
			Msg("Variant generation job did not complete")
		t.notifyLocked(true)
	}
	// Non-terminal generation progress: keep waiting.
}

// runDiscovery performs the one bounded catch-up read per mount (or per
// identity change). Runs off the delivery goroutine; never blocks callers.
func (t *Tracker) runDiscovery(epoch int) {
	if t.lister == nil {
		return
	}

	common.SafeGo(t.logger, "tracker.discovery", func() {
		jobs, err := t.lister.ListActiveJobs(context.Background(), t.cfg.DiscoveryLimit)
		if err != nil {
			// Best-effort: the widget waits for a live event instead.
			t.logger.Warn().Err(err).Msg("Active-job discovery failed")
			return
		}

		t.mu.Lock()
		defer t.mu.Unlock()

		if t.closed || t.epoch != epoch || t.trackedJobID != "" {
			return
		}

		for _, job := range jobs {
			res := matcher.Match(t.identity, "", job)
			if !res.Matched || !matcher.ShouldAdopt(res, job) {
				continue
			}

			t.trackedJobID = job.ID
			t.applied[job.ID] = appliedEvent{status: job.Status.Normalize(), progress: job.Progress}
			t.lastProgress = job.Progress
			t.state = StateGenerating
			t.logger.Debug().
				Str("job_id", job.ID).
				Str("strategy", string(res.Strategy)).
				Msg("Discovered in-flight job on mount")
			t.notifyLocked(true)
			return
		}
	})
}

// startLoadLocked kicks off one async load attempt for the current asset URL
func (t *Tracker) startLoadLocked(url string) {
	if t.loader == nil {
		return
	}
	epoch := t.epoch
	common.SafeGo(t.logger, "tracker.assetload", func() {
		t.attemptLoad(epoch, url)
	})
}

func (t *Tracker) attemptLoad(epoch int, url string) {
	err := t.loader.Load(context.Background(), url)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.epoch != epoch || t.assetURL != url {
		return
	}

	if err == nil {
		t.state = StateLoaded
		t.errMsg = ""
		t.cancelRetryLocked()
		t.logger.Debug().
			Str("url", url).
			Int("attempts", t.retryCount+1).
			Msg("Asset confirmed")
		t.notifyLocked(true)
		return
	}

	// Missing derived variant: trigger its generation, exactly once per
	// identity/variant. Every later failure falls through to backoff.
	if errors.Is(err, interfaces.ErrAssetNotFound) &&
		models.IsDerivativeVariant(url, t.variant) &&
		!t.optimizationRequested && t.generator != nil {
		t.optimizationRequested = true
		common.SafeGo(t.logger, "tracker.generate", func() {
			t.requestGeneration(epoch)
		})
		return
	}

	// While a generation job is in flight there is nothing to retry; its
	// completion event restarts the load.
	if t.optimizationInFlight {
		return
	}

	// Freshly produced asset that is not servable yet: back off and retry.
	if models.HasFreshnessToken(url) {
		t.scheduleRetryLocked(epoch, url, err)
		return
	}

	t.state = StateFailed
	t.errMsg = err.Error()
	t.logger.Warn().Err(err).Str("url", url).Msg("Asset load failed")
	t.notifyLocked(true)
}

func (t *Tracker) requestGeneration(epoch int) {
	t.mu.Lock()
	if t.closed || t.epoch != epoch {
		t.mu.Unlock()
		return
	}
	req := interfaces.GenerationRequest{
		EntityType: t.identity.EntityType,
		EntityID:   t.identity.EntityID,
		Variant:    t.variant,
	}
	t.mu.Unlock()

	resp, err := t.generator.RequestGeneration(context.Background(), req)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.epoch != epoch {
		return
	}

	if err != nil {
		// The fires-once guard stays set; fall back to plain retries.
		t.logger.Warn().Err(err).Msg("Variant generation request failed")
		t.scheduleRetryLocked(epoch, t.assetURL, err)
		return
	}

	switch resp.Status {
	case interfaces.GenerationStatusExists:
		// Variant is already there; the 404 was a race. Retry now.
		t.startLoadLocked(t.assetURL)

	case interfaces.GenerationStatusGenerating:
		t.optimizationJobID = resp.JobID
		t.optimizationInFlight = true
		t.state = StateGenerating
		t.logger.Debug().
			Str("job_id", resp.JobID).
			Str("variant", t.variant).
			Msg("Waiting for variant generation job")
		t.notifyLocked(true)

	default:
		t.logger.Warn().
			Str("status", resp.Status).
			Msg("Unexpected generation response status")
	}
}

// scheduleRetryLocked arms the backoff timer for the next load attempt:
// doubling from RetryBase, capped at RetryCap, at most RetryMaxAttempts
// attempts before the widget falls back to its stand-in for good.
func (t *Tracker) scheduleRetryLocked(epoch int, url string, cause error) {
	t.retryCount++
	if t.retryCount >= t.cfg.RetryMaxAttempts {
		t.state = StateFailed
		t.errMsg = cause.Error()
		t.logger.Warn().
			Err(cause).
			Str("url", url).
			Int("attempts", t.retryCount).
			Msg("Giving up on asset after max retries")
		t.notifyLocked(true)
		return
	}

	delay := t.cfg.RetryBase << (t.retryCount - 1)
	if delay > t.cfg.RetryCap || delay <= 0 {
		delay = t.cfg.RetryCap
	}

	t.cancelRetryLocked()
	t.retryTimer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		stale := t.closed || t.epoch != epoch || t.assetURL != url
		t.mu.Unlock()
		if stale {
			return
		}
		t.attemptLoad(epoch, url)
	})
}

func (t *Tracker) cancelRetryLocked() {
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		Identity:     t.identity,
		Variant:      t.variant,
		State:        t.state,
		TrackedJobID: t.trackedJobID,
		Progress:     t.lastProgress,
		AssetURL:     t.assetURL,
		Error:        t.errMsg,
	}
}

// notifyLocked surfaces the current snapshot. State transitions always pass;
// progress-only updates are throttled so a chatty job cannot flood the view.
func (t *Tracker) notifyLocked(transition bool) {
	if t.onUpdate == nil {
		return
	}
	if !transition && t.throttle != nil && !t.throttle.Allow() {
		return
	}
	t.onUpdate(t.snapshotLocked())
}
