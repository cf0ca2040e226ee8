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

	"github.com/spf13/cobra"

	"github.com/vnexus/disclosure/services/disclosure/pipeline"
)

// maxInputBytes bounds what analyze reads; four bytes per rune covers any
// UTF-8 text the pipeline would accept.
const maxInputBytes = pipeline.MaxInputChars*4 + 1

type analyzeFlags struct {
	input  string
	output string
	pretty bool
}

func newAnalyzeCmd(a *app) *cobra.Command {
	f := &analyzeFlags{}
	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Analyze a medical history from a file or stdin",
		Long: `Runs the pipeline over a plain-text history read from file, or stdin when
file is omitted or "-". With --input, reads a JSON request instead:

  {"text": "...", "segments": ["..."], "entities": [{"type": "diagnosis", "value": "asthma", "confidence": 0.9}]}`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, a, f, args)
		},
	}
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "JSON request file (\"-\" for stdin)")
	cmd.Flags().StringVarP(&f.output, "output", "o", formatJSON, "output format: json, text or auto")
	cmd.Flags().BoolVar(&f.pretty, "pretty", false, "indent JSON even when not writing to a terminal")
	return cmd
}

func runAnalyze(cmd *cobra.Command, a *app, f *analyzeFlags, args []string) error {
	out := cmd.OutOrStdout()
	format, err := resolveFormat(f.output, out)
	if err != nil {
		return err
	}

	in, err := readInput(cmd.InOrStdin(), f, args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, err := newService(ctx, a.cfg, a.logger, serviceOptions{persistentCache: true})
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.Execute(ctx, in)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	if format == formatText {
		renderResult(out, res)
		return nil
	}
	return writeJSON(out, res, f.pretty)
}

// readInput builds the pipeline input from --input, a file argument or stdin.
func readInput(stdin io.Reader, f *analyzeFlags, args []string) (pipeline.Input, error) {
	if f.input != "" {
		if len(args) > 0 {
			return pipeline.Input{}, fmt.Errorf("--input and a file argument are mutually exclusive")
		}
		data, err := readSource(stdin, f.input)
		if err != nil {
			return pipeline.Input{}, err
		}
		var in pipeline.Input
		if err := json.Unmarshal(data, &in); err != nil {
			return pipeline.Input{}, fmt.Errorf("parse request %s: %w", f.input, err)
		}
		return in, nil
	}

	src := "-"
	if len(args) == 1 {
		src = args[0]
	}
	data, err := readSource(stdin, src)
	if err != nil {
		return pipeline.Input{}, err
	}
	return pipeline.Input{Text: string(data)}, nil
}

func readSource(stdin io.Reader, src string) ([]byte, error) {
	r := stdin
	name := "stdin"
	if src != "-" {
		file, err := os.Open(src)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer file.Close()
		r = file
		name = src
	}

	data, err := io.ReadAll(io.LimitReader(r, maxInputBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) > maxInputBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", name, maxInputBytes)
	}
	return data, nil
}
