package steps

import (
	"fmt"
	"log/slog"

	"curator/internal/config"
	"curator/internal/depgate"
	"curator/internal/quality"
	"curator/internal/recordstore"
	"curator/internal/registry"
	"curator/internal/workitem"
)

// Inline pool sizes. Probe and evaluate are local work and run wide; scrape
// and finalize touch external surfaces and stay narrower.
const (
	probeConcurrency    = 8
	scrapeConcurrency   = 4
	evaluateConcurrency = 8
	finalizeConcurrency = 4
)

// Build registers the full pipeline and validates the transition table.
func Build(cfg *config.Config, store recordstore.API, client Completer, logger *slog.Logger) (*registry.Registry, error) {
	reg := registry.New()
	gate := depgate.New(store)

	defs := []*registry.Definition{
		{
			Name:         "probe",
			Precondition: workitem.StatusPending,
			OnSuccess:    workitem.StatusProbed,
			Mode:         registry.ModeInline,
			Concurrency:  probeConcurrency,
			Branch:       probeBranch,
			Handler:      NewProber("ffprobe", logger),
		},
		{
			Name:         "scrape",
			Precondition: workitem.StatusProbed,
			OnSuccess:    workitem.StatusScraped,
			Mode:         registry.ModeInline,
			Concurrency:  scrapeConcurrency,
			Handler:      NewScraper(nil, logger),
		},
		{
			Name:         "evaluate",
			Precondition: workitem.StatusScraped,
			OnSuccess:    workitem.StatusEvaluated,
			Mode:         registry.ModeInline,
			Concurrency:  evaluateConcurrency,
			Branch:       evaluateBranch,
			Handler:      NewQualityEvaluator(quality.New(cfg.Quality), logger),
		},
		{
			Name:         "thumbnail",
			Precondition: workitem.StatusEvaluated,
			OnSuccess:    workitem.StatusThumbnailed,
			Mode:         registry.ModeQueued,
			Concurrency:  cfg.Workers.Thumbnail,
			Handler:      NewThumbnailer("ffmpeg", cfg.Paths.ThumbnailDir, logger),
		},
		{
			Name:         "describe",
			Precondition: workitem.StatusThumbnailed,
			OnSuccess:    workitem.StatusDescribed,
			Mode:         registry.ModeQueued,
			Concurrency:  cfg.Workers.Describe,
			Handler:      NewDescriber(client, logger),
		},
		{
			Name:         "tag",
			Precondition: workitem.StatusDescribed,
			OnSuccess:    workitem.StatusTagged,
			Mode:         registry.ModeQueued,
			Concurrency:  cfg.Workers.Tag,
			Handler:      NewTagger(client, logger),
		},
		{
			Name:         "finalize",
			Precondition: workitem.StatusTagged,
			OnSuccess:    workitem.StatusCompleted,
			Mode:         registry.ModeInline,
			Concurrency:  finalizeConcurrency,
			Gate:         gate.ForContainers(workitem.StatusTagged),
			Handler:      NewFinalizer(store, logger),
		},
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return nil, fmt.Errorf("register %s: %w", def.Name, err)
		}
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("validate pipeline: %w", err)
	}
	return reg, nil
}
