package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"

	"github.com/xhad/chainserve/pkg/config"
	"github.com/xhad/chainserve/pkg/knowledge"
	"github.com/xhad/chainserve/pkg/pipeline"
)

// loadConfig loads and validates the config, printing every problem.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("  %s", e.Error())
		}
		return nil, fmt.Errorf("invalid config: %d problem(s)", len(errs))
	}
	return cfg, nil
}

// app is everything a command needs to run routes.
type app struct {
	cfg    *config.Config
	routes []pipeline.Route
	kb     *knowledge.Base
}

func (a *app) Close() {
	a.kb.Close()
}

func (a *app) route(path string) (pipeline.Route, error) {
	for _, r := range a.routes {
		if r.Path == path {
			return r, nil
		}
	}
	return pipeline.Route{}, fmt.Errorf("no route %q", path)
}

// buildApp builds the given routes, and the knowledge base when one of them
// retrieves documents or withStore is set.
func buildApp(ctx context.Context, cfg *config.Config, routes []config.Route, withStore, showProgress bool) (*app, error) {
	a := &app{cfg: cfg}

	deps := pipeline.Deps{
		Models: pipeline.NewRegistry(cfg.LLM),
		LLM:    cfg.LLM,
	}

	if withStore || needsRetriever(routes) {
		embedder, err := pipeline.NewEmbedder(cfg.LLM, cfg.Store.BatchSize)
		if err != nil {
			return nil, err
		}
		var progress knowledge.Progress
		var bars *ingestBars
		if showProgress {
			bars = newIngestBars()
			progress = bars.progress()
		}
		kb, err := knowledge.Build(ctx, cfg, embedder, progress)
		if bars != nil {
			bars.finish()
		}
		if err != nil {
			return nil, fmt.Errorf("knowledge base: %w", err)
		}
		a.kb = kb
		deps.Retriever = kb.Retriever
		deps.Store = kb.Store
		if showProgress {
			color.Green("✓ Knowledge base ready: %d chunks (%s)", kb.Chunks, cfg.Store.Backend)
		}
	}

	built, err := pipeline.Build(routes, deps)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.routes = built
	return a, nil
}

func needsRetriever(routes []config.Route) bool {
	for _, r := range routes {
		if r.Kind == config.KindRetrieval {
			return true
		}
	}
	return false
}

// findRoute returns the configured route for path, falling back to the
// default route table.
func findRoute(cfg *config.Config, path string) (config.Route, error) {
	for _, r := range cfg.Routes {
		if r.Path == path {
			return r, nil
		}
	}
	for _, r := range config.DefaultRoutes() {
		if r.Path == path {
			return r, nil
		}
	}
	return config.Route{}, errors.New("unknown route " + path)
}
