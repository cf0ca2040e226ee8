// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the disclosure service configuration.
//
// Configuration is layered: embedded defaults, then an optional YAML file,
// then environment overrides. The result is validated once and converted
// into the per-component configuration types.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/vnexus/disclosure/services/disclosure/cache"
	"github.com/vnexus/disclosure/services/disclosure/logging"
	"github.com/vnexus/disclosure/services/disclosure/pipeline"
	"github.com/vnexus/disclosure/services/disclosure/rules"
	"github.com/vnexus/disclosure/services/disclosure/telemetry"
)

//go:embed defaults.yaml
var defaultYAML []byte

// MaxConfigFileSize bounds config files read from disk (1MB).
const MaxConfigFileSize = 1024 * 1024

// Environment variables that override the file.
const (
	EnvTier      = "DISCLOSURE_TIER"
	EnvRulesFile = "DISCLOSURE_RULES_FILE"
	EnvCacheDir  = "DISCLOSURE_CACHE_DIR"
	EnvLogLevel  = "DISCLOSURE_LOG_LEVEL"
	EnvConfig    = "DISCLOSURE_CONFIG"
)

var validate = validator.New()

// Config is the full service configuration.
type Config struct {
	LogLevel  string           `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogJSON   bool             `yaml:"log_json"`
	LogDir    string           `yaml:"log_dir"`
	Pipeline  pipeline.Config  `yaml:"pipeline"`
	Rules     RulesConfig      `yaml:"rules"`
	Cache     cache.Config     `yaml:"cache"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Server    ServerConfig     `yaml:"server"`
}

// RulesConfig selects the rule set and configures the engine.
type RulesConfig struct {
	// File is a YAML rule file. Empty uses the built-in rules.
	File string `yaml:"file"`

	// Watch hot-reloads File on change. Ignored without File.
	Watch bool `yaml:"watch"`

	Engine rules.EngineConfig `yaml:"engine"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	RateLimit       float64       `yaml:"rate_limit" validate:"gte=0"`
	RateBurst       int           `yaml:"rate_burst" validate:"gte=0"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the embedded defaults.
func Default() (*Config, error) {
	var cfg Config
	if err := decode(defaultYAML, &cfg); err != nil {
		return nil, fmt.Errorf("parse embedded defaults: %w", err)
	}
	return &cfg, nil
}

// Load builds the configuration.
//
// Description:
//
//	Starts from the embedded defaults, overlays path when non-empty (keys
//	absent from the file keep their defaults), applies environment
//	overrides, and validates the result.
//
// Inputs:
//
//	path - YAML config file. Empty skips the file layer; when empty,
//	       DISCLOSURE_CONFIG is consulted.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Non-nil if the file cannot be read or the result is invalid.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		data, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileSize {
		return nil, fmt.Errorf("config file %s is %d bytes, limit is %d", path, info.Size(), MaxConfigFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return data, nil
}

// decode rejects unknown keys so typos surface instead of being ignored.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvTier); v != "" {
		c.Pipeline.Tier = pipeline.Tier(strings.ToLower(strings.TrimSpace(v)))
	}
	if v := os.Getenv(EnvRulesFile); v != "" {
		c.Rules.File = v
	}
	if v := os.Getenv(EnvCacheDir); v != "" {
		c.Cache.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = strings.ToLower(strings.TrimSpace(v))
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	p := c.PipelineConfig()
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid pipeline config: %w", err)
	}
	e := c.Rules.Engine
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid rules engine config: %w", err)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return errors.New("invalid server config: rate_burst must be >= 1 when rate_limit is set")
	}
	return nil
}

// PipelineConfig returns the orchestrator configuration with defaults applied.
func (c *Config) PipelineConfig() pipeline.Config {
	p := c.Pipeline
	p.ApplyDefaults()
	return p
}

// EngineConfig returns the rule engine configuration with defaults applied.
func (c *Config) EngineConfig() rules.EngineConfig {
	e := c.Rules.Engine
	e.ApplyDefaults()
	return e
}

// CacheConfig returns the result cache configuration. Without a path the
// cache runs in memory.
func (c *Config) CacheConfig(logger *slog.Logger) cache.Config {
	cc := c.Cache
	cc.InMemory = cc.Path == ""
	cc.Logger = logger
	return cc
}

// TelemetryConfig returns the telemetry configuration.
func (c *Config) TelemetryConfig() telemetry.Config {
	return c.Telemetry
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoggingConfig returns the logger configuration for service.
func (c *Config) LoggingConfig(service string) logging.Config {
	return logging.Config{
		Level:   c.Level(),
		Service: service,
		JSON:    c.LogJSON,
		LogDir:  c.LogDir,
	}
}
