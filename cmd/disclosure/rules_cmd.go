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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vnexus/disclosure/services/disclosure/rules"
)

func newRulesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and validate disclosure rules",
	}
	cmd.AddCommand(newRulesListCmd(a), newRulesValidateCmd(a))
	return cmd
}

func newRulesListCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the configured rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := loadConfiguredRules(a.cfg.Rules.File)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			format, err := resolveFormat(output, out)
			if err != nil {
				return err
			}
			if format == formatText {
				renderRules(out, reg)
				return nil
			}
			return writeJSON(out, rulesDocument(reg), false)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", formatAuto, "output format: json, text or auto")
	return cmd
}

func newRulesValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a rule file (default: the configured one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Rules.File
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no rule file configured; pass one or set rules.file")
			}
			reg, err := rules.LoadRegistry(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules, version %s\n", path, reg.Len(), reg.Version())
			return nil
		},
	}
}

// loadConfiguredRules loads path, or the built-in rules when path is empty.
func loadConfiguredRules(path string) (*rules.Registry, error) {
	if path == "" {
		return rules.DefaultRegistry()
	}
	return rules.LoadRegistry(path)
}

type rulesListing struct {
	Version    string                 `json:"version"`
	Count      int                    `json:"count"`
	Categories map[rules.Category]int `json:"categories"`
	Rules      []rules.Rule           `json:"rules"`
}

func rulesDocument(reg *rules.Registry) rulesListing {
	return rulesListing{
		Version:    reg.Version(),
		Count:      reg.Len(),
		Categories: reg.CategoryCounts(),
		Rules:      reg.Rules(),
	}
}
