// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vnexus/disclosure/services/disclosure/cache"
	"github.com/vnexus/disclosure/services/disclosure/config"
	"github.com/vnexus/disclosure/services/disclosure/pipeline"
	"github.com/vnexus/disclosure/services/disclosure/rules"
	"github.com/vnexus/disclosure/services/disclosure/stages"
)

// service is the wired disclosure pipeline shared by every command.
type service struct {
	orchestrator *pipeline.Orchestrator
	source       rules.EngineSource
	reloader     *rules.Reloader
	results      *cache.ResultCache
	logger       *slog.Logger
}

// serviceOptions tune newService for the calling command.
type serviceOptions struct {
	// watch starts the rule file watcher when the config asks for it.
	watch bool

	// persistentCache opens the on-disk result cache. Without it the cache
	// is in memory for the life of the process.
	persistentCache bool
}

// newService wires rules, stages, the result cache and the orchestrator.
//
// Description:
//
//	The rule source is a hot-reloading Reloader when a rule file is
//	configured and watching is on, a static engine over that file when it
//	is off, and the built-in rules otherwise. The result cache is opened
//	only when the pipeline config enables caching.
//
// Outputs:
//
//	*service - Ready to Execute. Must be closed.
//	error - Non-nil if any component fails to start.
func newService(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts serviceOptions) (*service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &service{logger: logger}

	if err := s.openRules(ctx, cfg, opts.watch); err != nil {
		s.Close()
		return nil, err
	}

	var pipeOpts []pipeline.Option
	pcfg := cfg.PipelineConfig()
	if pcfg.EnableCache {
		cc := cfg.CacheConfig(logger)
		if !opts.persistentCache {
			cc.InMemory = true
		}
		results, err := cache.Open(cc, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open result cache: %w", err)
		}
		s.results = results
		pipeOpts = append(pipeOpts,
			pipeline.WithCache(results),
			pipeline.WithCacheVersion(func() string { return s.engine().Registry().Version() }),
		)
	}

	execs := stages.Default(s.source, stages.DefaultExtractor(), logger)
	orch, err := pipeline.New(pcfg, execs, logger, pipeOpts...)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	s.orchestrator = orch

	logger.Info("disclosure pipeline ready",
		slog.String("tier", string(pcfg.Tier)),
		slog.Int("groups", len(orch.Groups())),
		slog.String("rules_version", s.engine().Registry().Version()),
		slog.Bool("result_cache", s.results != nil),
	)
	return s, nil
}

func (s *service) openRules(ctx context.Context, cfg *config.Config, watch bool) error {
	ecfg := cfg.EngineConfig()
	path := cfg.Rules.File

	if path != "" && watch && cfg.Rules.Watch {
		r, err := rules.NewReloader(path, ecfg, s.logger)
		if err != nil {
			return err
		}
		s.reloader = r
		s.source = r
		if err := r.Start(ctx); err != nil {
			return fmt.Errorf("watch rules: %w", err)
		}
		return nil
	}

	var reg *rules.Registry
	var err error
	if path != "" {
		reg, err = rules.LoadRegistry(path)
	} else {
		reg, err = rules.DefaultRegistry()
	}
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	engine, err := rules.NewEngine(reg, ecfg, s.logger)
	if err != nil {
		return fmt.Errorf("create rule engine: %w", err)
	}
	s.source = rules.NewStaticSource(engine)
	return nil
}

func (s *service) engine() *rules.Engine {
	return s.source.Engine()
}

// Execute runs one analysis.
func (s *service) Execute(ctx context.Context, in pipeline.Input) (*pipeline.Result, error) {
	return s.orchestrator.Execute(ctx, in)
}

// Status snapshots every component.
func (s *service) Status() statusResponse {
	st := statusResponse{
		Pipeline: s.orchestrator.Status(),
		Rules:    s.engine().Status(),
		Reload:   s.reloader != nil,
	}
	if s.results != nil {
		cs := s.results.Stats()
		st.Cache = &cs
	}
	return st
}

// Close stops the watcher and closes the cache. Safe on a partial service.
func (s *service) Close() error {
	var errs []error
	if s.reloader != nil {
		errs = append(errs, s.reloader.Close())
	}
	if s.results != nil {
		errs = append(errs, s.results.Close())
	}
	return errors.Join(errs...)
}

// statusResponse is the combined status document.
type statusResponse struct {
	Pipeline pipeline.Status    `json:"pipeline"`
	Rules    rules.EngineStatus `json:"rules"`
	Reload   bool               `json:"hot_reload"`
	Cache    *cache.Stats       `json:"result_cache,omitempty"`
	Uptime   string             `json:"uptime,omitempty"`
}
