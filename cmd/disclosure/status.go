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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const statusTimeout = 10 * time.Second

func newStatusCmd(a *app) *cobra.Command {
	var (
		server string
		output string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline, rule engine and cache status",
		Long: `Without --server, builds the pipeline from the current configuration and
prints its plan and rule set. With --server, asks a running "disclosure serve"
for its live counters.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			format, err := resolveFormat(output, out)
			if err != nil {
				return err
			}

			var st statusResponse
			if server != "" {
				st, err = fetchStatus(cmd.Context(), server)
			} else {
				st, err = localStatus(cmd.Context(), a)
			}
			if err != nil {
				return err
			}

			if format == formatText {
				renderStatus(out, st)
				return nil
			}
			return writeJSON(out, st, false)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "base URL of a running server, e.g. http://localhost:8080")
	cmd.Flags().StringVarP(&output, "output", "o", formatAuto, "output format: json, text or auto")
	return cmd
}

func localStatus(ctx context.Context, a *app) (statusResponse, error) {
	svc, err := newService(ctx, a.cfg, a.logger, serviceOptions{})
	if err != nil {
		return statusResponse{}, err
	}
	defer svc.Close()
	return svc.Status(), nil
}

func fetchStatus(ctx context.Context, server string) (statusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	url := strings.TrimRight(server, "/") + statusPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return statusResponse{}, fmt.Errorf("build status request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return statusResponse{}, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusResponse{}, fmt.Errorf("fetch status: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var st statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return statusResponse{}, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}
