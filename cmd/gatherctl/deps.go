// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/research-engine/internal/analyze"
	"github.com/pdiddy/research-engine/internal/container"
	"github.com/pdiddy/research-engine/internal/fetch"
	"github.com/pdiddy/research-engine/internal/history"
	"github.com/pdiddy/research-engine/internal/index"
	"github.com/pdiddy/research-engine/internal/ocr"
	"github.com/pdiddy/research-engine/internal/orchestrator"
	"github.com/pdiddy/research-engine/internal/scheduler"
	"github.com/pdiddy/research-engine/internal/score"
	"github.com/pdiddy/research-engine/internal/store"
)

const defaultUserAgent = "gatherctl/0.1"

// appDeps bundles every long-lived dependency a gatherctl subcommand needs.
// Built once per invocation from --data-dir and loaded secrets/config.
type appDeps struct {
	Index      *index.Client
	PaperStore *store.Store
	History    *history.Store
	Pipeline   *orchestrator.Pipeline
	Scheduler  *scheduler.Scheduler
}

func buildDeps(cmd *cobra.Command) (*appDeps, error) {
	dir := dataDir(cmd)
	papersDir := filepath.Join(dir, "paper_analyze")

	paperStore, err := store.NewStore(dir)
	if err != nil {
		return nil, fmt.Errorf("opening paper store: %w", err)
	}

	historyStore, err := history.NewStore(dir)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	apiKey := secretDefault("anthropic-api-key", viper.GetString("anthropic_api_key"))
	httpClient := &http.Client{}

	scorer := score.NewScorer(&score.ClaudeBackend{APIKey: apiKey, Client: httpClient})
	analyzer := analyze.NewAnalyzer(&analyze.ClaudeBackend{APIKey: apiKey, Client: httpClient})

	fastOCR := ocr.NewFastExtractor()
	var structOCR orchestrator.StructuredExtractor
	if rt, err := container.DetectRuntime(); err == nil {
		if extractor, err := ocr.NewStructuredExtractor(rt); err == nil {
			structOCR = extractor
		}
	}

	pipe := orchestrator.New(orchestrator.Dependencies{
		Store:     paperStore,
		Persist:   paperStore,
		Scorer:    scorer,
		Fetcher:   fetch.NewFetcher(),
		FastOCR:   fastOCR,
		StructOCR: structOCR,
		Analyzer:  analyzer,
		PaperDir:  func(paperID string) string { return filepath.Join(papersDir, paperID) },
	})

	indexClient := index.NewClient(defaultUserAgent)
	sched := scheduler.New(indexClient, pipe, historyStore, nil)

	return &appDeps{
		Index:      indexClient,
		PaperStore: paperStore,
		History:    historyStore,
		Pipeline:   pipe,
		Scheduler:  sched,
	}, nil
}
