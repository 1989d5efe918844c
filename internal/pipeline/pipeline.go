// Package pipeline orchestrates the four phases of a territory run:
// discovery, enrichment, classification, and export. The store decides
// what each phase may skip; the pipeline decides pacing and retries.
package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/territory-intel/internal/classifier"
	"github.com/sells-group/territory-intel/internal/export"
	"github.com/sells-group/territory-intel/internal/model"
	"github.com/sells-group/territory-intel/internal/resilience"
	"github.com/sells-group/territory-intel/internal/scorer"
	"github.com/sells-group/territory-intel/internal/store"
	"github.com/sells-group/territory-intel/pkg/google"
)

// Config bounds one pipeline run.
type Config struct {
	// MaxClassifications caps paid Claude calls per run.
	MaxClassifications int
	// ScanLimit caps how many candidates the classify phase scans.
	ScanLimit int
	// DetailsLimit caps paid details calls per run; zero means no cap.
	DetailsLimit int
	// RateLimit is the Places request budget in requests per second.
	RateLimit float64
	// ExportPath is where the ranked CSV lands.
	ExportPath string
}

// Pipeline wires the store to the two metered APIs.
type Pipeline struct {
	store      store.Store
	places     google.Client
	classifier *classifier.Classifier
	homepage   *classifier.HomepageFetcher
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	cfg        Config
}

// New creates a pipeline. The homepage fetcher may be nil, in which
// case classification runs without homepage context.
func New(st store.Store, places google.Client, cl *classifier.Classifier, hp *classifier.HomepageFetcher, cfg Config) *Pipeline {
	if cfg.MaxClassifications <= 0 {
		cfg.MaxClassifications = 200
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = 10000
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 10
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.ShouldRetry = isRetryable

	return &Pipeline{
		store:      st,
		places:     places,
		classifier: cl,
		homepage:   hp,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		retry:      retryCfg,
		cfg:        cfg,
	}
}

// isRetryable treats Places 408/429/5xx and transport hiccups as
// transient. Claude calls go through the SDK's own retry layer.
func isRetryable(err error) bool {
	var apiErr *google.APIError
	if errors.As(err, &apiErr) {
		return resilience.IsTransientHTTPStatus(apiErr.StatusCode)
	}
	return resilience.IsTransient(err)
}

// Run executes every phase in order and records the run. A failed phase
// aborts the run but still records the counters accumulated so far.
func (p *Pipeline) Run(ctx context.Context, plan Plan) (store.RunStats, error) {
	runID, err := p.store.StartRun(ctx)
	if err != nil {
		return store.RunStats{}, err
	}
	zap.L().Info("run started", zap.String("run_id", runID))

	var stats store.RunStats
	err = p.runPhases(ctx, plan, &stats)

	if cerr := p.store.CompleteRun(ctx, runID, stats, err); cerr != nil {
		zap.L().Error("record run", zap.String("run_id", runID), zap.Error(cerr))
	}
	if err != nil {
		return stats, err
	}

	zap.L().Info("run complete",
		zap.String("run_id", runID),
		zap.Int64("discovered", stats.Discovered),
		zap.Int64("new_places", stats.NewPlaces),
		zap.Int64("enriched", stats.Enriched),
		zap.Int64("classified", stats.Classified),
		zap.Int64("exported", stats.Exported))
	return stats, nil
}

func (p *Pipeline) runPhases(ctx context.Context, plan Plan, stats *store.RunStats) error {
	ids, err := p.Discover(ctx, plan, stats)
	if err != nil {
		return err
	}
	if err := p.Enrich(ctx, ids, stats); err != nil {
		return err
	}
	if err := p.Classify(ctx, stats); err != nil {
		return err
	}
	return p.Export(ctx, stats)
}

// Discover runs every plan query through text search and merges the
// results. Returns the unique place ids seen this run. A failed query
// is logged and skipped; discovery is additive and a later run
// recovers whatever a skipped query missed.
func (p *Pipeline) Discover(ctx context.Context, plan Plan, stats *store.RunStats) ([]string, error) {
	seen := make(map[string]struct{})
	var order []string

	for _, query := range plan.Queries() {
		if err := p.limiter.Wait(ctx); err != nil {
			return order, eris.Wrap(err, "pipeline: rate wait")
		}

		results, err := resilience.DoVal(ctx, p.retry, "text search", func(ctx context.Context) ([]google.PlaceLite, error) {
			return p.places.TextSearch(ctx, query)
		})
		if err != nil {
			if ctx.Err() != nil {
				return order, eris.Wrapf(err, "pipeline: discover %q", query)
			}
			zap.L().Warn("discovery query failed", zap.String("query", query), zap.Error(err))
			continue
		}

		// Places already merged earlier this run only need their
		// last_seen advanced.
		updates := make([]model.PlaceUpdate, 0, len(results))
		batch := make([]string, 0, len(results))
		var repeats []string
		for _, r := range results {
			if _, dup := seen[r.PlaceID]; dup {
				repeats = append(repeats, r.PlaceID)
				continue
			}
			seen[r.PlaceID] = struct{}{}
			order = append(order, r.PlaceID)
			batch = append(batch, r.PlaceID)
			updates = append(updates, discoveryUpdate(r))
		}

		existing, err := p.store.ExistingPlaceIDs(ctx, batch)
		if err != nil {
			return order, err
		}
		if _, err := p.store.UpsertPlaces(ctx, updates); err != nil {
			return order, err
		}
		if err := p.store.TouchLastSeen(ctx, repeats); err != nil {
			return order, err
		}

		stats.Discovered += int64(len(results))
		stats.NewPlaces += int64(len(batch) - len(existing))
		zap.L().Info("discovery query",
			zap.String("query", query),
			zap.Int("found", len(results)),
			zap.Int("new", len(batch)-len(existing)))
	}

	zap.L().Info("discovery done",
		zap.Int("unique_places", len(order)),
		zap.Int64("new_places", stats.NewPlaces))
	return order, nil
}

// discoveryUpdate maps a text search hit onto the merge shape. Details
// fields stay nil so they never erase enriched values.
func discoveryUpdate(r google.PlaceLite) model.PlaceUpdate {
	u := model.PlaceUpdate{
		PlaceID:        r.PlaceID,
		Lat:            r.Lat,
		Lng:            r.Lng,
		PrimaryType:    r.PrimaryType,
		Types:          r.Types,
		BusinessStatus: r.BusinessStatus,
	}
	if r.Name != "" {
		u.Name = model.StringPtr(r.Name)
	}
	if r.Address != "" {
		u.Address = model.StringPtr(r.Address)
	}
	return u
}

// Enrich fetches place details for every id the store reports as
// missing call-ready contact data. A failed fetch is logged and
// skipped; the store keeps the id eligible for the next run.
func (p *Pipeline) Enrich(ctx context.Context, ids []string, stats *store.RunStats) error {
	var fetched int
	for _, pid := range ids {
		if p.cfg.DetailsLimit > 0 && fetched >= p.cfg.DetailsLimit {
			zap.L().Info("details budget reached", zap.Int("limit", p.cfg.DetailsLimit))
			break
		}

		needed, err := p.store.NeedsDetails(ctx, pid)
		if err != nil {
			return err
		}
		if !needed {
			continue
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "pipeline: rate wait")
		}
		d, err := resilience.DoVal(ctx, p.retry, "place details", func(ctx context.Context) (*google.PlaceDetails, error) {
			return p.places.PlaceDetails(ctx, pid)
		})
		if err != nil {
			if ctx.Err() != nil {
				return eris.Wrapf(err, "pipeline: enrich %s", pid)
			}
			zap.L().Warn("details fetch failed", zap.String("place_id", pid), zap.Error(err))
			continue
		}
		fetched++

		if err := p.store.UpsertPlace(ctx, detailsUpdate(d)); err != nil {
			return err
		}
		stats.Enriched++
	}

	zap.L().Info("enrichment done", zap.Int64("enriched", stats.Enriched))
	return nil
}

func detailsUpdate(d *google.PlaceDetails) model.PlaceUpdate {
	u := model.PlaceUpdate{
		PlaceID:        d.PlaceID,
		Phone:          d.Phone,
		Website:        d.Website,
		Rating:         d.Rating,
		ReviewCount:    d.ReviewCount,
		Lat:            d.Lat,
		Lng:            d.Lng,
		PrimaryType:    d.PrimaryType,
		Types:          d.Types,
		BusinessStatus: d.BusinessStatus,
		MapsURL:        d.MapsURL,
		OpeningHours:   d.OpeningHours,
	}
	if d.Name != "" {
		u.Name = model.StringPtr(d.Name)
	}
	if d.Address != "" {
		u.Address = model.StringPtr(d.Address)
	}
	return u
}

// Classify scores the freshest candidates through Claude, bounded by
// the per-run budget. Each classification is immediately followed by a
// deterministic rescore so a crash never leaves a classified place
// unscored for long.
func (p *Pipeline) Classify(ctx context.Context, stats *store.RunStats) error {
	candidates, err := p.store.SelectForClassification(ctx, p.cfg.ScanLimit)
	if err != nil {
		return err
	}

	var classified int
	for _, cand := range candidates {
		if classified >= p.cfg.MaxClassifications {
			zap.L().Info("classification budget reached", zap.Int("limit", p.cfg.MaxClassifications))
			break
		}
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "pipeline: classify")
		}

		should, err := p.store.ShouldClassify(ctx, cand.PlaceID, cand.Website)
		if err != nil {
			return err
		}
		if !should {
			continue
		}

		result, err := p.classifier.Classify(ctx, p.classifyInput(ctx, cand))
		if err != nil {
			zap.L().Warn("classification failed",
				zap.String("place_id", cand.PlaceID),
				zap.String("name", model.Deref(cand.Name)),
				zap.Error(err))
			continue
		}

		if err := p.store.WriteClassification(ctx, cand.PlaceID, *result); err != nil {
			return err
		}
		classified++
		stats.Classified++

		if err := p.rescore(ctx, cand.PlaceID, stats); err != nil {
			return err
		}
	}

	zap.L().Info("classification done", zap.Int64("classified", stats.Classified))
	return nil
}

// classifyInput assembles the classifier prompt context. The homepage
// fetch is best effort; an unreachable site just means less context.
func (p *Pipeline) classifyInput(ctx context.Context, cand model.Candidate) classifier.Input {
	in := classifier.Input{
		Name:        model.Deref(cand.Name),
		Address:     model.Deref(cand.Address),
		PrimaryType: cand.PrimaryType,
		Website:     cand.Website,
	}
	if p.homepage != nil && cand.Website != nil && *cand.Website != "" {
		text, err := p.homepage.Fetch(ctx, *cand.Website)
		if err != nil {
			zap.L().Debug("homepage fetch failed",
				zap.String("place_id", cand.PlaceID),
				zap.String("website", *cand.Website),
				zap.Error(err))
		} else {
			in.HomepageText = text
		}
	}
	return in
}

// rescore re-reads the stored row so the score reflects merged data,
// not just this run's view.
func (p *Pipeline) rescore(ctx context.Context, placeID string, stats *store.RunStats) error {
	place, err := p.store.GetPlace(ctx, placeID)
	if err != nil {
		return err
	}
	if place == nil {
		return nil
	}

	score := scorer.Compute(scorer.FromPlace(place))
	if err := p.store.WriteScore(ctx, placeID, score); err != nil {
		return err
	}
	stats.Scored++

	zap.L().Debug("scored place",
		zap.String("place_id", placeID),
		zap.String("name", model.Deref(place.Name)),
		zap.Float64("score", score))
	return nil
}

// RescoreAll recomputes total_score for every stored place. Used by
// the score command after a weights change.
func (p *Pipeline) RescoreAll(ctx context.Context) (int64, error) {
	ids, err := p.store.AllPlaceIDs(ctx)
	if err != nil {
		return 0, err
	}

	var stats store.RunStats
	for _, pid := range ids {
		if err := p.rescore(ctx, pid, &stats); err != nil {
			return stats.Scored, err
		}
	}
	return stats.Scored, nil
}

// Export writes the ranked CSV for everything except permanently
// closed places.
func (p *Pipeline) Export(ctx context.Context, stats *store.RunStats) error {
	places, err := p.store.SelectForExport(ctx)
	if err != nil {
		return err
	}

	rows := make([]*model.Place, len(places))
	for i := range places {
		rows[i] = &places[i]
	}
	if err := export.WriteFile(p.cfg.ExportPath, rows); err != nil {
		return err
	}
	stats.Exported = int64(len(rows))
	return nil
}
