// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the slog logger used by the disclosure binaries.
//
// Output goes to stderr by default (text or JSON) and optionally to a daily
// JSON log file. Records logged with a context carrying an OpenTelemetry span
// gain trace_id and span_id attributes.
//
// This package does NOT redact anything. Callers must not log input text or
// entity values; log counts and ids instead:
//
//	// BAD
//	logger.Info("analyze", "text", in.Text)
//
//	// GOOD
//	logger.Info("analyze", "chars", len(in.Text))
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Config configures the Logger. The zero value logs Info+ as text to stderr.
type Config struct {
	// Level is the minimum level.
	Level slog.Level

	// Service is added to every record as the "service" attribute.
	Service string

	// JSON switches the console handler to JSON.
	JSON bool

	// LogDir enables a "{service}_{YYYY-MM-DD}.log" JSON file in this
	// directory. A leading ~ expands to the home directory.
	LogDir string

	// Quiet disables console output.
	Quiet bool

	// Output replaces stderr as the console writer.
	Output io.Writer
}

// Logger owns the handlers and any open log file.
//
// Thread Safety: Safe for concurrent use.
type Logger struct {
	slog *slog.Logger
	file *os.File
	mu   sync.Mutex
}

// New creates a Logger.
//
// Description:
//
//	Builds a console handler (unless Quiet) and a file handler (when LogDir
//	is set and writable), fans records out to both, and wraps the result so
//	trace ids are attached. A LogDir that cannot be opened is reported as
//	an error; the returned Logger still works without the file.
//
// Outputs:
//
//	*Logger - Always non-nil. Must be closed.
//	error - Non-nil if the log file could not be opened.
func New(cfg Config) (*Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handlers []slog.Handler
	l := &Logger{}

	if !cfg.Quiet {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		if cfg.JSON {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}

	var fileErr error
	if cfg.LogDir != "" {
		f, err := openLogFile(cfg)
		if err != nil {
			fileErr = err
		} else {
			l.file = f
			handlers = append(handlers, slog.NewJSONHandler(f, opts))
		}
	}

	var h slog.Handler
	switch len(handlers) {
	case 0:
		h = slog.NewTextHandler(io.Discard, opts)
	case 1:
		h = handlers[0]
	default:
		h = &multiHandler{handlers: handlers}
	}
	h = &traceHandler{next: h}
	if cfg.Service != "" {
		h = h.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}

	l.slog = slog.New(h)
	return l, fileErr
}

func openLogFile(cfg Config) (*os.File, error) {
	dir := expandPath(cfg.LogDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	service := cfg.Service
	if service == "" {
		service = "disclosure"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Slog returns the underlying logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close syncs and closes the log file, if any. Safe to call twice.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := errors.Join(l.file.Sync(), l.file.Close())
	l.file = nil
	return err
}

// traceHandler adds trace_id and span_id from the record's context.
type traceHandler struct {
	next slog.Handler
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			r = r.Clone()
			r.AddAttrs(
				slog.String("trace_id", sc.TraceID().String()),
				slog.String("span_id", sc.SpanID().String()),
			)
		}
	}
	return h.next.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{next: h.next.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{next: h.next.WithGroup(name)}
}

// multiHandler fans records out to several handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			errs = append(errs, handler.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
