// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires tracing and metrics for a single CLI invocation.
//
// A CLI run is short-lived, so nothing is served or pushed: spans go to a
// JSON file through the stdout exporter and metrics are written once, at
// shutdown, in the Prometheus text format (the node_exporter textfile
// collector can pick them up from there).
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ErrNilContext is returned by Init when ctx is nil.
var ErrNilContext = errors.New("telemetry: nil context")

// Config selects where telemetry goes. Empty paths disable that signal.
type Config struct {
	ServiceName    string `json:"service_name" yaml:"service_name"`
	ServiceVersion string `json:"service_version" yaml:"service_version"`

	// TraceFile receives one JSON document per span.
	TraceFile string `json:"trace_file" yaml:"trace_file"`

	// MetricsFile receives the registry in text format at shutdown.
	MetricsFile string `json:"metrics_file" yaml:"metrics_file"`
}

// DefaultConfig returns a config with both signals disabled.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "termite",
		ServiceVersion: "0.1.0",
	}
}

// Telemetry holds the providers for one process.
type Telemetry struct {
	// Registry collects the application's metrics.
	Registry *prometheus.Registry

	cfg       Config
	tp        *sdktrace.TracerProvider
	traceFile *os.File
}

// Init builds the metrics registry and, when TraceFile is set, installs a
// global tracer provider that writes spans to it.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	t := &Telemetry{Registry: reg, cfg: cfg}
	if cfg.TraceFile == "" {
		return t, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.TraceFile), 0o755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	f, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)
	t.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	t.traceFile = f
	otel.SetTracerProvider(t.tp)
	return t, nil
}

// Shutdown flushes spans and writes the metrics file. Every step runs even
// if an earlier one fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.tp != nil {
		if err := t.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush traces: %w", err))
		}
		t.tp = nil
	}
	if t.traceFile != nil {
		if err := t.traceFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close trace file: %w", err))
		}
		t.traceFile = nil
	}
	if t.cfg.MetricsFile != "" {
		if err := WriteMetrics(t.Registry, t.cfg.MetricsFile); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// WriteMetrics writes g to path in the Prometheus text format, atomically.
func WriteMetrics(g prometheus.Gatherer, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
