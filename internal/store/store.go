// Package store is the caching and dedup decision layer in front of the
// two metered APIs. It owns the fill-only merge policy applied on every
// upsert and the two oracles gating paid calls: NeedsDetails (Places
// details cost control) and ShouldClassify (Claude cost control).
//
// The store never makes network calls and never retries; collaborators
// handle their own failures and the store only records whatever partial
// data they managed to produce.
package store

import (
	"context"
	"time"

	"github.com/sells-group/territory-intel/internal/model"
)

// idChunkSize bounds IN-list parameter counts; SQLite's default variable
// limit is 999 and Postgres binds are cheap, so 800 is safe for both.
const idChunkSize = 800

// maxReasonChars caps the stored classification rationale.
const maxReasonChars = 400

// Store defines the persistence contract for the territory pipeline.
type Store interface {
	// UpsertPlace creates or merges one place. Nil fields never erase
	// stored values; last_seen always advances. An empty place ID is a
	// no-op (caller bug, logged at debug).
	UpsertPlace(ctx context.Context, u model.PlaceUpdate) error

	// UpsertPlaces applies UpsertPlace semantics to a batch and returns
	// the number of rows written.
	UpsertPlaces(ctx context.Context, updates []model.PlaceUpdate) (int64, error)

	// TouchLastSeen advances last_seen for existing ids without any API
	// cost. Unknown ids are ignored. Any input cardinality is accepted.
	TouchLastSeen(ctx context.Context, placeIDs []string) error

	// ExistingPlaceIDs returns the subset of ids already stored. Callers
	// use it to count new-vs-seen before upserting.
	ExistingPlaceIDs(ctx context.Context, placeIDs []string) (map[string]struct{}, error)

	// GetPlace returns a place by id, including export-invisible ones.
	// Returns (nil, nil) when absent.
	GetPlace(ctx context.Context, placeID string) (*model.Place, error)

	// NeedsDetails reports whether a paid details fetch is warranted:
	// record absent, phone missing, or maps link missing. A missing
	// website alone never triggers a re-fetch.
	NeedsDetails(ctx context.Context, placeID string) (bool, error)

	// ShouldClassify reports whether a paid classification is warranted:
	// record absent, never classified, partial prior classification, or
	// website drift against currentWebsite.
	ShouldClassify(ctx context.Context, placeID string, currentWebsite *string) (bool, error)

	// WriteClassification replaces the whole classification block and
	// stamps ai_last_updated. Writing to an unknown id is a no-op.
	WriteClassification(ctx context.Context, placeID string, c model.Classification) error

	// WriteScore overwrites total_score. Writing to an unknown id is a
	// no-op.
	WriteScore(ctx context.Context, placeID string, score float64) error

	// SelectForClassification returns up to limit classifier candidates,
	// most recently seen first (place_id breaks ties).
	SelectForClassification(ctx context.Context, limit int) ([]model.Candidate, error)

	// SelectForExport returns every place except permanently closed ones.
	SelectForExport(ctx context.Context) ([]model.Place, error)

	// AllPlaceIDs returns every stored place id, most recently seen first.
	AllPlaceIDs(ctx context.Context) ([]string, error)

	// Run bookkeeping.
	StartRun(ctx context.Context) (string, error)
	CompleteRun(ctx context.Context, runID string, stats RunStats, runErr error) error
	RecentRuns(ctx context.Context, limit int) ([]Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

// RunStats are the per-phase counters recorded for one pipeline run.
type RunStats struct {
	Discovered int64 `json:"discovered"`
	NewPlaces  int64 `json:"new_places"`
	Enriched   int64 `json:"enriched"`
	Classified int64 `json:"classified"`
	Scored     int64 `json:"scored"`
	Exported   int64 `json:"exported"`
}

// Run is one recorded pipeline run.
type Run struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Stats       RunStats   `json:"stats"`
	Error       *string    `json:"error,omitempty"`
}

// aiState is the projection the classification oracle reads.
type aiState struct {
	Website       *string
	AILastUpdated *time.Time
	MobilityFit   *int64
	SecurityFit   *int64
	VoipFit       *int64
	FleetAttach   *int64
}

// classifyNeeded is the classification oracle decision, shared by both
// backends. A nil row means the record does not exist.
func classifyNeeded(row *aiState, currentWebsite *string) bool {
	if row == nil {
		return true
	}
	if row.AILastUpdated == nil {
		return true
	}
	// Partial prior write: self-heal by reclassifying.
	if row.MobilityFit == nil || row.SecurityFit == nil || row.VoipFit == nil || row.FleetAttach == nil {
		return true
	}

	cur := model.Deref(currentWebsite)
	stored := model.Deref(row.Website)
	if cur != "" && stored != "" && cur != stored {
		return true
	}
	if cur != "" && stored == "" {
		return true
	}
	return false
}

// detailsNeeded is the enrichment oracle decision for an existing record.
func detailsNeeded(phone, mapsURL *string) bool {
	return phone == nil || mapsURL == nil
}

// truncateReason bounds the free-text rationale defensively; the
// classifier schema already promises the cap.
func truncateReason(reason string) string {
	r := []rune(reason)
	if len(r) <= maxReasonChars {
		return reason
	}
	return string(r[:maxReasonChars])
}

// chunkIDs splits ids into slices of at most size elements.
func chunkIDs(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
