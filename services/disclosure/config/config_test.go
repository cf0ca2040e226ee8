// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnexus/disclosure/services/disclosure/pipeline"
	"github.com/vnexus/disclosure/services/disclosure/rules"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvTier, EnvRulesFile, EnvCacheDir, EnvLogLevel, EnvConfig} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disclosure.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_MatchesComponentDefaults(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, pipeline.DefaultConfig(), cfg.Pipeline)
	assert.Equal(t, rules.DefaultEngineConfig(), cfg.Rules.Engine)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Empty(t, cfg.Rules.File)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, pipeline.TierStandard, cfg.Pipeline.Tier)
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
pipeline:
  tier: rigorous
  max_retries: 0
rules:
  engine:
    max_chain_depth: 0
server:
  addr: "127.0.0.1:9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, pipeline.TierRigorous, cfg.Pipeline.Tier)
	assert.Equal(t, 0, cfg.Pipeline.MaxRetries)
	assert.Equal(t, 0, cfg.Rules.Engine.MaxChainDepth)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)

	// Untouched keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Pipeline.BaseTimeout)
	assert.Equal(t, 8, cfg.Rules.Engine.MaxConcurrency)
	assert.True(t, cfg.Pipeline.EnableFallback)
}

func TestLoad_ConfigEnvPath(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "pipeline:\n  tier: draft\n")
	t.Setenv(EnvConfig, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, pipeline.TierDraft, cfg.Pipeline.Tier)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "pipeline:\n  tier: draft\nlog_level: warn\n")
	t.Setenv(EnvTier, " RIGOROUS ")
	t.Setenv(EnvRulesFile, "/etc/disclosure/rules.yaml")
	t.Setenv(EnvCacheDir, "/var/lib/disclosure")
	t.Setenv(EnvLogLevel, "DEBUG")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, pipeline.TierRigorous, cfg.Pipeline.Tier)
	assert.Equal(t, "/etc/disclosure/rules.yaml", cfg.Rules.File)
	assert.Equal(t, "/var/lib/disclosure", cfg.Cache.Path)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{name: "unknown key", content: "pipeline:\n  tierr: draft\n", errMsg: "tierr"},
		{name: "bad tier", content: "pipeline:\n  tier: platinum\n", errMsg: "invalid"},
		{name: "bad log level", content: "log_level: loud\n", errMsg: "invalid config"},
		{name: "timeouts inverted", content: "pipeline:\n  min_timeout: 10s\n  max_timeout: 1s\n", errMsg: "MaxTimeout"},
		{name: "negative chain depth", content: "rules:\n  engine:\n    max_chain_depth: -1\n", errMsg: "invalid"},
		{name: "rate without burst", content: "server:\n  rate_limit: 5\n  rate_burst: 0\n", errMsg: "rate_burst"},
		{name: "jaeger exporter", content: "telemetry:\n  trace_exporter: jaeger\n", errMsg: "TraceExporter"},
		{name: "bad exporter", content: "telemetry:\n  trace_exporter: pigeon\n", errMsg: "invalid config"},
		{name: "zero complexity threshold", content: "pipeline:\n  complexity_threshold: 0\n", errMsg: "ComplexityThreshold"},
		{name: "malformed yaml", content: "pipeline: [\n", errMsg: "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeFile(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("oversized file", func(t *testing.T) {
		clearEnv(t)
		big := "# " + strings.Repeat("x", MaxConfigFileSize) + "\n"
		_, err := Load(writeFile(t, big))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "limit")
	})
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, pipeline.TierStandard, cfg.Pipeline.Tier)
}

func TestConversions(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	t.Run("cache in memory without path", func(t *testing.T) {
		cc := cfg.CacheConfig(nil)
		assert.True(t, cc.InMemory)
	})

	t.Run("cache on disk with path", func(t *testing.T) {
		c := *cfg
		c.Cache.Path = "/tmp/x"
		logger := slog.Default()
		cc := c.CacheConfig(logger)
		assert.False(t, cc.InMemory)
		assert.Same(t, logger, cc.Logger)
	})

	t.Run("pipeline defaults applied", func(t *testing.T) {
		c := *cfg
		c.Pipeline.BaseTimeout = 0
		assert.Equal(t, 30*time.Second, c.PipelineConfig().BaseTimeout)
	})

	t.Run("engine defaults applied", func(t *testing.T) {
		c := *cfg
		c.Rules.Engine.MaxConcurrency = 0
		assert.Equal(t, 8, c.EngineConfig().MaxConcurrency)
	})

	t.Run("logging", func(t *testing.T) {
		c := *cfg
		c.LogLevel = "warn"
		c.LogJSON = true
		lc := c.LoggingConfig("disclosure")
		assert.Equal(t, slog.LevelWarn, lc.Level)
		assert.True(t, lc.JSON)
		assert.Equal(t, "disclosure", lc.Service)
	})

	t.Run("telemetry", func(t *testing.T) {
		assert.Equal(t, "disclosure", cfg.TelemetryConfig().ServiceName)
	})
}

func TestLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	} {
		c := Config{LogLevel: in}
		assert.Equal(t, want, c.Level(), in)
	}
}
