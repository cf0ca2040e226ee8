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
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vnexus/disclosure/services/disclosure/config"
	"github.com/vnexus/disclosure/services/disclosure/logging"
	"github.com/vnexus/disclosure/services/disclosure/pipeline"
)

// app holds state shared by every subcommand.
type app struct {
	// Flags.
	configPath string
	tier       string
	logLevel   string

	cfg    *config.Config
	log    *logging.Logger
	logger *slog.Logger
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "disclosure",
		Short: "Analyze medical histories for underwriting disclosure",
		Long: `disclosure runs the adaptive disclosure pipeline over free-text medical
histories: segmentation, date anchoring, entity normalization, timeline
construction, rule evaluation and report synthesis.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.log != nil {
				return a.log.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default: $DISCLOSURE_CONFIG or built-in defaults)")
	root.PersistentFlags().StringVar(&a.tier, "tier", "", "override the quality tier: draft, standard or rigorous")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the log level: debug, info, warn or error")

	root.AddCommand(
		newAnalyzeCmd(a),
		newRulesCmd(a),
		newStatusCmd(a),
		newServeCmd(a),
	)
	return root
}

// setup loads config, applies flag overrides and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.tier != "" {
		cfg.Pipeline.Tier = pipeline.Tier(strings.ToLower(a.tier))
	}
	if a.logLevel != "" {
		cfg.LogLevel = strings.ToLower(a.logLevel)
	}
	if a.tier != "" || a.logLevel != "" {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg

	lc := cfg.LoggingConfig("disclosure")
	lc.Output = cmd.ErrOrStderr()
	l, err := logging.New(lc)
	if err != nil {
		// The console handler still works without the file.
		l.Slog().Warn("log file disabled", slog.String("error", err.Error()))
	}
	a.log = l
	a.logger = l.Slog()
	slog.SetDefault(a.logger)
	return nil
}
