// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires the disclosure service's OpenTelemetry providers.
//
// Traces go to OTLP/gRPC or stdout; metrics go to the Prometheus registry
// served on /metrics, or to stdout. The rule engine's promauto collectors
// share that registry, so /metrics works even with metrics export off.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names.
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterOTLP       = "otlp"
	ExporterPrometheus = "prometheus"
)

var (
	// ErrNilContext is returned when Init receives a nil context.
	ErrNilContext = errors.New("context must not be nil")

	// ErrUnknownExporter is returned for an unsupported exporter name.
	ErrUnknownExporter = errors.New("unknown exporter")
)

// Config selects exporters and the resource identity.
type Config struct {
	ServiceName    string `yaml:"service_name" json:"service_name"`
	ServiceVersion string `yaml:"service_version" json:"service_version"`
	Environment    string `yaml:"environment" json:"environment"`

	// TraceExporter is "otlp", "stdout" or "none". Empty means none.
	TraceExporter string `yaml:"trace_exporter" json:"trace_exporter" validate:"omitempty,oneof=otlp stdout none"`

	// MetricExporter is "prometheus", "stdout" or "none". Empty means none.
	MetricExporter string `yaml:"metric_exporter" json:"metric_exporter" validate:"omitempty,oneof=prometheus stdout none"`

	// OTLPEndpoint is the gRPC collector address for the otlp trace exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure" json:"otlp_insecure"`
}

// DefaultConfig returns development defaults.
//
// DISCLOSURE_ENV, OTEL_TRACES_EXPORTER, OTEL_METRICS_EXPORTER and
// OTEL_EXPORTER_OTLP_ENDPOINT override the matching fields.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "disclosure",
		ServiceVersion: "1.0.0",
		Environment:    getEnvOr("DISCLOSURE_ENV", "development"),
		TraceExporter:  getEnvOr("OTEL_TRACES_EXPORTER", ExporterNone),
		MetricExporter: getEnvOr("OTEL_METRICS_EXPORTER", ExporterPrometheus),
		OTLPEndpoint:   getEnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:   true,
	}
}

// Validate rejects exporter names Init cannot build.
func (c Config) Validate() error {
	switch c.TraceExporter {
	case "", ExporterNone, ExporterStdout, ExporterOTLP:
	default:
		return fmt.Errorf("%w: trace exporter %q", ErrUnknownExporter, c.TraceExporter)
	}
	switch c.MetricExporter {
	case "", ExporterNone, ExporterStdout, ExporterPrometheus:
	default:
		return fmt.Errorf("%w: metric exporter %q", ErrUnknownExporter, c.MetricExporter)
	}
	return nil
}

func (c Config) tracing() bool { return c.TraceExporter != "" && c.TraceExporter != ExporterNone }
func (c Config) metering() bool {
	return c.MetricExporter != "" && c.MetricExporter != ExporterNone
}

// Init installs the global tracer and meter providers and the W3C propagator.
//
// Inputs:
//
//	ctx - Used to dial the OTLP collector. Must not be nil.
//	cfg - Exporter selection.
//
// Outputs:
//
//	shutdown - Flushes and stops whatever was installed. Call it on exit.
//	error - ErrUnknownExporter for a bad name, or the exporter's own error.
//
// Thread Safety: Call once at startup.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var stops []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs []error
		for i := len(stops) - 1; i >= 0; i-- {
			errs = append(errs, stops[i](ctx))
		}
		return errors.Join(errs...)
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	if cfg.tracing() {
		exp, err := spanExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		stops = append(stops, tp.Shutdown)
	}

	if cfg.metering() {
		reader, err := metricReader(cfg)
		if err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("init meter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(reader),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		stops = append(stops, mp.Shutdown)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return shutdown, nil
}

func spanExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	if cfg.TraceExporter == ExporterStdout {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func metricReader(cfg Config) (sdkmetric.Reader, error) {
	if cfg.MetricExporter == ExporterStdout {
		exp, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	}
	// Registers with the default Prometheus registry.
	return promexporter.New()
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
