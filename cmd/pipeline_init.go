package main

import (
	"context"
	"time"

	"github.com/sells-group/territory-intel/internal/classifier"
	"github.com/sells-group/territory-intel/internal/pipeline"
	"github.com/sells-group/territory-intel/internal/store"
	anthropicpkg "github.com/sells-group/territory-intel/pkg/anthropic"
	"github.com/sells-group/territory-intel/pkg/google"
)

// pipelineEnv bundles everything a pipeline command needs.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

func (e *pipelineEnv) Close() {
	e.Store.Close()
}

func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	opts := []google.Option{
		google.WithRegion(cfg.Google.RegionCode),
		google.WithLanguage(cfg.Google.LanguageCode),
		google.WithPageSize(cfg.Google.PageSize),
		google.WithMaxPages(cfg.Google.MaxPages),
	}
	if cfg.Google.Bias.Enabled {
		opts = append(opts, google.WithLocationBias(google.Rectangle{
			Low:  google.LatLng{Latitude: cfg.Google.Bias.LowLat, Longitude: cfg.Google.Bias.LowLng},
			High: google.LatLng{Latitude: cfg.Google.Bias.HighLat, Longitude: cfg.Google.Bias.HighLng},
		}))
	}
	placesClient := google.NewClient(cfg.Google.Key, opts...)

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	cl := classifier.New(anthropicClient, cfg.Anthropic.Model, cfg.Anthropic.MaxOutputTokens)
	hp := classifier.NewHomepageFetcher(
		time.Duration(cfg.Classify.HomepageTimeoutSecs)*time.Second,
		cfg.Classify.HomepageMaxChars,
	)

	p := pipeline.New(st, placesClient, cl, hp, pipeline.Config{
		MaxClassifications: cfg.Classify.MaxPerRun,
		ScanLimit:          cfg.Classify.ScanLimit,
		DetailsLimit:       cfg.Google.DetailsLimit,
		RateLimit:          cfg.Google.RateLimit,
		ExportPath:         cfg.Export.Path,
	})

	return &pipelineEnv{Store: st, Pipeline: p}, nil
}

func loadPlan() (pipeline.Plan, error) {
	if planPath != "" {
		return pipeline.LoadPlan(planPath)
	}
	return pipeline.LoadPlan(cfg.Plan.Path)
}
