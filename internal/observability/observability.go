// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability wires OpenTelemetry tracing and metrics, with a
// Prometheus exposition endpoint and a stdout fallback for local runs.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config selects exporters. An empty OTLPEndpoint falls back to a
// stdout trace exporter; Prometheus metrics are always exposed in
// addition to (not instead of) any configured metric exporter.
type Config struct {
	ServiceName   string
	OTLPEndpoint  string
	StdoutFallback bool
}

// Provider bundles the tracer and meter this service emits from, plus
// the io.Closer-style Shutdown used on graceful exit.
type Provider struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	PrometheusRegisterer *prometheus.Exporter

	Tracer trace.Tracer
	Meter  metric.Meter
}

// NoOp returns a Provider backed by OpenTelemetry's no-op implementations,
// used in tests and anywhere tracing/metrics are not wired up.
func NoOp() *Provider {
	return &Provider{
		Tracer: otel.Tracer("noop"),
		Meter:  otel.Meter("noop"),
	}
}

// New builds a real Provider: an OTLP (or stdout) trace exporter and a
// Prometheus-backed metric reader, both attached to a resource describing
// this service.
func New(ctx context.Context, config Config) (*Provider, error) {
	if config.ServiceName == "" {
		config.ServiceName = "dcsentinel"
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(config.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	traceExporter, err := newTraceExporter(ctx, config)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("build prometheus exporter: %w", err)
	}

	readers := []sdkmetric.Option{sdkmetric.WithReader(promExporter), sdkmetric.WithResource(res)}
	if config.StdoutFallback {
		stdoutExporter, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("build stdout metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(stdoutExporter)))
	}
	mp := sdkmetric.NewMeterProvider(readers...)
	otel.SetMeterProvider(mp)

	return &Provider{
		TracerProvider:       tp,
		MeterProvider:        mp,
		PrometheusRegisterer: promExporter,
		Tracer:               tp.Tracer(config.ServiceName),
		Meter:                mp.Meter(config.ServiceName),
	}, nil
}

func newTraceExporter(ctx context.Context, config Config) (sdktrace.SpanExporter, error) {
	if config.OTLPEndpoint == "" {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("build stdout trace exporter: %w", err)
		}
		return exporter, nil
	}
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(config.OTLPEndpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("build otlp trace exporter: %w", err)
	}
	return exporter, nil
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.TracerProvider == nil {
		return nil
	}
	if err := p.TracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter provider: %w", err)
		}
	}
	return nil
}
