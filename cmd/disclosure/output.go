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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/vnexus/disclosure/services/disclosure/pipeline"
	"github.com/vnexus/disclosure/services/disclosure/rules"
)

// Output formats accepted by --output.
const (
	formatAuto = "auto"
	formatJSON = "json"
	formatText = "text"
)

var (
	colorTeal    = lipgloss.Color("#2CD7C7")
	colorSlate   = lipgloss.Color("#2C4A54")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorTeal)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorSlate)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorTeal).Padding(0, 1)
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// resolveFormat turns "auto" into text on a terminal and JSON otherwise.
func resolveFormat(format string, w io.Writer) (string, error) {
	switch format {
	case formatJSON, formatText:
		return format, nil
	case formatAuto, "":
		if isTerminal(w) {
			return formatText, nil
		}
		return formatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want auto, json or text)", format)
	}
}

// writeJSON indents on a terminal and writes compact JSON otherwise.
func writeJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty || isTerminal(w) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// renderRules prints the rule table.
func renderRules(w io.Writer, reg *rules.Registry) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Rules (%d, version %s)", reg.Len(), reg.Version())))

	counts := reg.CategoryCounts()
	cats := make([]string, 0, len(counts))
	for c, n := range counts {
		cats = append(cats, fmt.Sprintf("%s=%d", c, n))
	}
	sort.Strings(cats)
	fmt.Fprintln(w, mutedStyle.Render(strings.Join(cats, "  ")))
	fmt.Fprintln(w)

	for _, r := range reg.Rules() {
		triggers := make([]string, 0, len(r.Triggers))
		for _, t := range r.Triggers {
			if t.Value == "" {
				triggers = append(triggers, t.EntityType)
				continue
			}
			triggers = append(triggers, t.EntityType+":"+t.Value)
		}
		fmt.Fprintf(w, "  %-28s %-20s %s\n", r.ID, r.Category, mutedStyle.Render(strings.Join(triggers, ", ")))
	}
}

// renderResult prints a human summary of an analysis.
func renderResult(w io.Writer, res *pipeline.Result) {
	md := res.Metadata
	header := fmt.Sprintf("%s  tier=%s  confidence=%.2f  %s",
		md.ExecutionID, md.Tier, res.Confidence, md.Duration.Round(time.Millisecond))
	fmt.Fprintln(w, boxStyle.Render(titleStyle.Render("Disclosure analysis")+"\n"+mutedStyle.Render(header)))

	switch {
	case md.Degraded:
		fmt.Fprintln(w, errorStyle.Render("degraded result: "+md.OriginalError))
	case md.FallbackUsed:
		fmt.Fprintln(w, warningStyle.Render("fallback used: "+md.OriginalError))
	}
	for _, issue := range res.QualityIssues {
		fmt.Fprintln(w, warningStyle.Render("quality: "+issue))
	}

	for _, item := range res.Report.Items {
		line := fmt.Sprintf("  [%s] %s", item.Kind, item.Title)
		if item.Date != "" {
			line += " (" + item.Date + ")"
		}
		fmt.Fprintln(w, line)
		if item.Detail != "" {
			fmt.Fprintln(w, mutedStyle.Render("      "+item.Detail))
		}
	}
}

// renderStatus prints the status snapshot.
func renderStatus(w io.Writer, st statusResponse) {
	fmt.Fprintln(w, titleStyle.Render("Pipeline"))
	fmt.Fprintf(w, "  tier %s, %d groups\n", st.Pipeline.Config.Tier, len(st.Pipeline.Groups))
	for i, g := range st.Pipeline.Groups {
		names := make([]string, len(g))
		for j, s := range g {
			names[j] = string(s)
		}
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("    %d: %s", i+1, strings.Join(names, ", "))))
	}
	fmt.Fprintf(w, "  executions %d, succeeded %d, failed %d, fallbacks %d\n",
		st.Pipeline.Executions, st.Pipeline.Succeeded, st.Pipeline.Failed, st.Pipeline.Fallbacks)

	fmt.Fprintln(w, titleStyle.Render("Rules"))
	fmt.Fprintf(w, "  %d rules, version %s, cache %t\n",
		st.Rules.RuleCount, st.Rules.RegistryVersion, st.Rules.CacheEnabled)

	if st.Cache != nil {
		fmt.Fprintln(w, titleStyle.Render("Result cache"))
		fmt.Fprintf(w, "  hits %d, misses %d, hit rate %.2f\n", st.Cache.Hits, st.Cache.Misses, st.Cache.HitRate)
	}
}
