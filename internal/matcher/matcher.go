// -----------------------------------------------------------------------
// Matcher - Decides whether a job event belongs to a given entity widget
// -----------------------------------------------------------------------

package matcher

import (
	"github.com/fancymatt/life-os-sub005/internal/models"
)

// Identity is the entity a widget renders
type Identity struct {
	EntityType string
	EntityID   string
}

// Strategy names the identification strategy that produced a match
type Strategy string

const (
	StrategyNone      Strategy = ""
	StrategyTrackedID Strategy = "tracked_id"
	StrategyMetadata  Strategy = "metadata"
	StrategyResult    Strategy = "result"
	StrategyLegacyKey Strategy = "legacy_key"
)

// Identification field names. Metadata is written at enqueue time in
// camelCase; result payloads use snake_case; very old generator jobs only
// ever populated item_id. The asymmetry is an observed producer
// inconsistency - match all shapes rather than assuming a canonical one.
const (
	metadataEntityTypeKey = "entityType"
	metadataEntityIDKey   = "entityId"
	resultEntityTypeKey   = "entity_type"
	resultEntityIDKey     = "entity_id"
	legacyItemIDKey       = "item_id"
)

// Result reports whether a job matched and via which strategy
type Result struct {
	Matched  bool
	Strategy Strategy
}

// Match evaluates the identification strategies in priority order and
// accepts the first hit:
//
//  1. tracked-id: the widget is already locked onto this job. Wins
//     unconditionally, even if the payload's own identity fields disagree.
//  2. metadata: entityType/entityId written at creation time.
//  3. result: entity_type/entity_id, present only once a result exists.
//  4. legacy key: item_id in the result, for producers that never wrote
//     the newer fields.
//
// No match means "not for this widget" - that is normal, not an error.
func Match(id Identity, trackedJobID string, job models.Job) Result {
	if trackedJobID != "" && job.ID == trackedJobID {
		return Result{Matched: true, Strategy: StrategyTrackedID}
	}

	if metaType, ok := job.MetadataString(metadataEntityTypeKey); ok && metaType == id.EntityType {
		if metaID, ok := job.MetadataString(metadataEntityIDKey); ok && metaID == id.EntityID {
			return Result{Matched: true, Strategy: StrategyMetadata}
		}
	}

	if resType, ok := job.ResultString(resultEntityTypeKey); ok && resType == id.EntityType {
		if resID, ok := job.ResultString(resultEntityIDKey); ok && resID == id.EntityID {
			return Result{Matched: true, Strategy: StrategyResult}
		}
	}

	if itemID, ok := job.ResultString(legacyItemIDKey); ok && itemID == id.EntityID {
		return Result{Matched: true, Strategy: StrategyLegacyKey}
	}

	return Result{}
}

// ShouldAdopt reports whether a widget with no tracked job should lock onto
// this one. Only identity-based matches (not tracked-id, which presupposes
// adoption) on a still-active job qualify. A terminal job seen for the first
// time is matched for result application but never adopted as in-progress.
func ShouldAdopt(res Result, job models.Job) bool {
	if !res.Matched || res.Strategy == StrategyTrackedID {
		return false
	}
	return job.Status.IsActive()
}
