// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("DISCLOSURE_ENV", "")
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")

	cfg := DefaultConfig()
	assert.Equal(t, "disclosure", cfg.ServiceName)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "none", cfg.TraceExporter)
	assert.Equal(t, "prometheus", cfg.MetricExporter)
}

func TestDefaultConfig_Env(t *testing.T) {
	t.Setenv("DISCLOSURE_ENV", "production")
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")

	cfg := DefaultConfig()
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "stdout", cfg.TraceExporter)
}

func TestInit(t *testing.T) {
	t.Run("nil context", func(t *testing.T) {
		//nolint:staticcheck // testing nil context handling
		_, err := Init(nil, Config{})
		require.ErrorIs(t, err, ErrNilContext)
	})

	t.Run("noop", func(t *testing.T) {
		shutdown, err := Init(context.Background(), Config{TraceExporter: "none", MetricExporter: "none"})
		require.NoError(t, err)
		require.NoError(t, shutdown(context.Background()))
	})

	t.Run("stdout", func(t *testing.T) {
		shutdown, err := Init(context.Background(), Config{ServiceName: "test", TraceExporter: "stdout", MetricExporter: "stdout"})
		require.NoError(t, err)
		require.NoError(t, shutdown(context.Background()))
	})

	t.Run("unknown trace exporter", func(t *testing.T) {
		_, err := Init(context.Background(), Config{TraceExporter: "carrier-pigeon", MetricExporter: "none"})
		require.ErrorIs(t, err, ErrUnknownExporter)
	})

	t.Run("jaeger is not a trace exporter", func(t *testing.T) {
		_, err := Init(context.Background(), Config{TraceExporter: "jaeger"})
		require.ErrorIs(t, err, ErrUnknownExporter)
	})

	t.Run("unknown metric exporter", func(t *testing.T) {
		_, err := Init(context.Background(), Config{TraceExporter: "none", MetricExporter: "carrier-pigeon"})
		require.ErrorIs(t, err, ErrUnknownExporter)
	})
}

func TestMetricsHandler(t *testing.T) {
	h := MetricsHandler()
	require.NotNil(t, h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "empty", cfg: Config{}},
		{name: "defaults", cfg: Config{TraceExporter: ExporterNone, MetricExporter: ExporterPrometheus}},
		{name: "otlp and stdout", cfg: Config{TraceExporter: ExporterOTLP, MetricExporter: ExporterStdout}},
		{name: "jaeger", cfg: Config{TraceExporter: "jaeger"}, wantErr: true},
		{name: "prometheus traces", cfg: Config{TraceExporter: ExporterPrometheus}, wantErr: true},
		{name: "otlp metrics", cfg: Config{MetricExporter: ExporterOTLP}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownExporter)
				return
			}
			assert.NoError(t, err)
		})
	}
}
