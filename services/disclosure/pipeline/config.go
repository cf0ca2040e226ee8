// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// MaxInputChars is the hard ceiling on combined input text, in characters.
const MaxInputChars = 100_000

var configValidate = validator.New()

// Config configures an Orchestrator.
type Config struct {
	// Tier selects the quality gate.
	Tier Tier `yaml:"tier" json:"tier" validate:"required,oneof=draft standard rigorous"`

	// BaseTimeout is the deadline before complexity, pressure and retry scaling.
	BaseTimeout time.Duration `yaml:"base_timeout" json:"base_timeout"`

	// MinTimeout and MaxTimeout clamp the computed deadline.
	MinTimeout time.Duration `yaml:"min_timeout" json:"min_timeout"`
	MaxTimeout time.Duration `yaml:"max_timeout" json:"max_timeout"`

	// ComplexityThreshold is the score above which the deadline is scaled up.
	// Zero means unset and takes the default; use ComplexityScale 0 to disable scaling.
	ComplexityThreshold float64 `yaml:"complexity_threshold" json:"complexity_threshold" validate:"gt=0,lte=1"`

	// ComplexityScale is the deadline growth per unit of score above the threshold.
	ComplexityScale float64 `yaml:"complexity_scale" json:"complexity_scale" validate:"gte=0,lte=10"`

	// PressureMultiplier scales the deadline under memory pressure.
	PressureMultiplier float64 `yaml:"pressure_multiplier" json:"pressure_multiplier" validate:"gte=1,lte=10"`

	// PressureRatio is the heap fraction of the memory limit considered pressure.
	PressureRatio float64 `yaml:"pressure_ratio" json:"pressure_ratio" validate:"gt=0,lte=1"`

	// RetryDecay shrinks the deadline geometrically per retry.
	RetryDecay float64 `yaml:"retry_decay" json:"retry_decay" validate:"gt=0,lte=1"`

	// MaxRetries bounds stage retries per execution. 0 disables retries.
	MaxRetries int `yaml:"max_retries" json:"max_retries" validate:"gte=0,lte=10"`

	// RetryInitialInterval and RetryMaxInterval shape the backoff between retries.
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval" json:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `yaml:"retry_max_interval" json:"retry_max_interval"`

	// EnableFallback runs a draft pipeline when the primary run fails.
	EnableFallback bool `yaml:"enable_fallback" json:"enable_fallback"`

	// EnableCache consults the result cache before running.
	EnableCache bool `yaml:"enable_cache" json:"enable_cache"`

	// CacheVersion is part of every cache key.
	CacheVersion string `yaml:"cache_version" json:"cache_version"`

	// DisclosureAfterRules schedules DISCLOSURE after RULES instead of beside it.
	DisclosureAfterRules bool `yaml:"disclosure_after_rules" json:"disclosure_after_rules"`

	// MaxInputChars is the input ceiling. Capped at MaxInputChars.
	MaxInputChars int `yaml:"max_input_chars" json:"max_input_chars" validate:"gte=0"`
}

// DefaultConfig returns the standard-tier configuration.
func DefaultConfig() Config {
	return Config{
		Tier:                 TierStandard,
		BaseTimeout:          30 * time.Second,
		MinTimeout:           5 * time.Second,
		MaxTimeout:           120 * time.Second,
		ComplexityThreshold:  0.6,
		ComplexityScale:      2.0,
		PressureMultiplier:   1.5,
		PressureRatio:        0.85,
		RetryDecay:           0.8,
		MaxRetries:           2,
		RetryInitialInterval: 100 * time.Millisecond,
		RetryMaxInterval:     2 * time.Second,
		EnableFallback:       true,
		EnableCache:          true,
		CacheVersion:         "v1",
		MaxInputChars:        MaxInputChars,
	}
}

// ApplyDefaults fills zero values with defaults.
//
// MaxRetries, the booleans and ComplexityScale are left alone; zero is meaningful.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Tier == "" {
		c.Tier = d.Tier
	}
	if c.BaseTimeout == 0 {
		c.BaseTimeout = d.BaseTimeout
	}
	if c.MinTimeout == 0 {
		c.MinTimeout = d.MinTimeout
	}
	if c.MaxTimeout == 0 {
		c.MaxTimeout = d.MaxTimeout
	}
	if c.ComplexityThreshold == 0 {
		c.ComplexityThreshold = d.ComplexityThreshold
	}
	if c.PressureMultiplier == 0 {
		c.PressureMultiplier = d.PressureMultiplier
	}
	if c.PressureRatio == 0 {
		c.PressureRatio = d.PressureRatio
	}
	if c.RetryDecay == 0 {
		c.RetryDecay = d.RetryDecay
	}
	if c.RetryInitialInterval == 0 {
		c.RetryInitialInterval = d.RetryInitialInterval
	}
	if c.RetryMaxInterval == 0 {
		c.RetryMaxInterval = d.RetryMaxInterval
	}
	if c.CacheVersion == "" {
		c.CacheVersion = d.CacheVersion
	}
	if c.MaxInputChars == 0 || c.MaxInputChars > MaxInputChars {
		c.MaxInputChars = MaxInputChars
	}
}

// Validate checks the configuration.
//
// Outputs:
//   - error: Non-nil if configuration is invalid.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return err
	}
	if c.BaseTimeout <= 0 {
		return errors.New("BaseTimeout must be > 0")
	}
	if c.MinTimeout <= 0 {
		return errors.New("MinTimeout must be > 0")
	}
	if c.MaxTimeout < c.MinTimeout {
		return fmt.Errorf("MaxTimeout (%s) must be >= MinTimeout (%s)", c.MaxTimeout, c.MinTimeout)
	}
	if c.RetryMaxInterval < c.RetryInitialInterval {
		return fmt.Errorf("RetryMaxInterval (%s) must be >= RetryInitialInterval (%s)", c.RetryMaxInterval, c.RetryInitialInterval)
	}
	return nil
}

// fallbackConfig derives the fallback orchestrator's configuration.
func (c Config) fallbackConfig() Config {
	fb := c
	fb.Tier = TierDraft
	fb.MaxRetries = 0
	fb.EnableCache = false
	fb.EnableFallback = false
	fb.DisclosureAfterRules = false
	return fb
}
