// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package metricsstore retains recent probe samples per instance/metric
// in a bounded ring buffer and computes rolling baseline statistics used
// by the health evaluator and anomaly detector.
package metricsstore

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dcsentinel/agent/internal/domain"
)

// Point is one retained metric observation.
type Point struct {
	Value     float64
	Timestamp time.Time
}

// Baseline summarizes a metric's recent distribution.
//
// # Description
//
// Computed on demand from the retained points for a (instance, metric)
// key. Returned with DataPoints=0 when no points are retained yet.
type Baseline struct {
	P50         float64
	P99         float64
	Mean        float64
	StdDev      float64
	Min         float64
	Max         float64
	DataPoints  int
	WindowStart time.Time
	WindowEnd   time.Time
}

// Config controls retention limits.
type Config struct {
	// MaxPointsPerMetric bounds the ring buffer length. Default 1000.
	MaxPointsPerMetric int

	// RetentionPeriod bounds retained point age. Default 1h.
	RetentionPeriod time.Duration
}

// DefaultConfig returns the teacher-derived defaults.
func DefaultConfig() Config {
	return Config{
		MaxPointsPerMetric: 1000,
		RetentionPeriod:    time.Hour,
	}
}

type key struct {
	instanceUID string
	metric      string
}

// Store is an in-memory ring-buffer metrics store with optional durable
// mirroring to an external Persister (see badger.go).
//
// # Thread Safety
//
// Store is safe for concurrent use.
type Store struct {
	config    Config
	mu        sync.RWMutex
	points    map[key][]Point
	persister Persister
	exporter  Exporter
	mirror    *JSONLMirror
}

// Persister durably mirrors recorded points and loads them back on start.
// Implemented by BadgerPersister; nil disables durability.
type Persister interface {
	Save(instanceUID, metric string, p Point) error
	LoadAll() (map[string]map[string][]Point, error)
	Close() error
}

// Exporter mirrors recorded points to a long-term metrics system.
// Implemented by InfluxExporter; nil disables export. Unlike Persister,
// export failures never fail Record — the in-memory baseline and durable
// mirror are the source of truth the rest of the system depends on.
type Exporter interface {
	Write(instanceUID, metric string, p Point) error
}

// New creates a Store, optionally restoring prior state from persister.
func New(config Config, persister Persister) (*Store, error) {
	if config.MaxPointsPerMetric <= 0 {
		config.MaxPointsPerMetric = 1000
	}
	if config.RetentionPeriod <= 0 {
		config.RetentionPeriod = time.Hour
	}
	s := &Store{
		config:    config,
		points:    make(map[key][]Point),
		persister: persister,
	}
	if persister != nil {
		restored, err := persister.LoadAll()
		if err != nil {
			return nil, fmt.Errorf("restore metrics store: %w", err)
		}
		for instanceUID, metrics := range restored {
			for metric, pts := range metrics {
				s.points[key{instanceUID, metric}] = pts
			}
		}
	}
	return s, nil
}

// RecordSample fans a MetricsSample out into its per-metric points.
func (s *Store) RecordSample(sample domain.MetricsSample) error {
	fields := map[string]float64{
		"latency_ms":           sample.LatencyMS,
		"memory_used_percent":  sample.MemoryUsedPercent,
		"hit_rate":             sample.HitRate,
		"ops_per_second":       sample.OpsPerSecond,
		"connected_clients":    sample.ConnectedClients,
		"rejected_connections": sample.RejectedConnections,
		"evicted_keys":         sample.EvictedKeys,
		"api_avg_latency_ms":   sample.APIAvgLatencyMS,
	}
	for metric, value := range fields {
		if err := s.Record(sample.InstanceUID, metric, Point{Value: value, Timestamp: sample.Timestamp}); err != nil {
			return err
		}
	}
	return nil
}

// SetMirror wires an optional append-only JSONL audit trail after
// construction; every recorded point is appended in addition to being
// retained in the ring buffer.
func (s *Store) SetMirror(mirror *JSONLMirror) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = mirror
}

// SetExporter wires an optional long-term export sink after construction,
// mirroring this codebase's other post-construction registration hooks
// (alertbus.Bus.Register, decision.Engine.OnActiveDCChange).
func (s *Store) SetExporter(exporter Exporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exporter = exporter
}

// Record appends one point to the named metric's ring buffer.
func (s *Store) Record(instanceUID, metric string, p Point) error {
	s.mu.Lock()
	k := key{instanceUID, metric}
	pts := append(s.points[k], p)
	if len(pts) > s.config.MaxPointsPerMetric {
		pts = pts[len(pts)-s.config.MaxPointsPerMetric:]
	}
	s.points[k] = pts
	exporter := s.exporter
	mirror := s.mirror
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.Save(instanceUID, metric, p); err != nil {
			return fmt.Errorf("persist metric point: %w", err)
		}
	}
	if mirror != nil {
		if err := mirror.Append(instanceUID, metric, p); err != nil {
			return fmt.Errorf("mirror metric point: %w", err)
		}
	}
	if exporter != nil {
		_ = exporter.Write(instanceUID, metric, p)
	}
	return nil
}

// Query returns retained points for a metric, newest last.
func (s *Store) Query(instanceUID, metric string) []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pts := s.points[key{instanceUID, metric}]
	out := make([]Point, len(pts))
	copy(out, pts)
	return out
}

// GetBaseline computes rolling statistics for a metric over the retention window.
func (s *Store) GetBaseline(instanceUID, metric string) Baseline {
	pts := s.Query(instanceUID, metric)
	cutoff := time.Now().Add(-s.config.RetentionPeriod)

	values := make([]float64, 0, len(pts))
	var windowStart, windowEnd time.Time
	for _, p := range pts {
		if p.Timestamp.Before(cutoff) {
			continue
		}
		values = append(values, p.Value)
		if windowStart.IsZero() || p.Timestamp.Before(windowStart) {
			windowStart = p.Timestamp
		}
		if p.Timestamp.After(windowEnd) {
			windowEnd = p.Timestamp
		}
	}
	if len(values) == 0 {
		return Baseline{}
	}
	return computeBaseline(values, windowStart, windowEnd)
}

func computeBaseline(values []float64, start, end time.Time) Baseline {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := len(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	var sqDiff float64
	for _, v := range sorted {
		d := v - mean
		sqDiff += d * d
	}
	stddev := math.Sqrt(sqDiff / float64(n))

	return Baseline{
		P50:         percentile(sorted, 0.50),
		P99:         percentile(sorted, 0.99),
		Mean:        mean,
		StdDev:      stddev,
		Min:         sorted[0],
		Max:         sorted[n-1],
		DataPoints:  n,
		WindowStart: start,
		WindowEnd:   end,
	}
}

// percentile expects sorted ascending values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Prune drops points older than the retention period across all keys.
func (s *Store) Prune() {
	cutoff := time.Now().Add(-s.config.RetentionPeriod)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, pts := range s.points {
		kept := pts[:0:0]
		for _, p := range pts {
			if !p.Timestamp.Before(cutoff) {
				kept = append(kept, p)
			}
		}
		s.points[k] = kept
	}
}

// Close releases the persister, if any.
func (s *Store) Close() error {
	if s.mirror != nil {
		if err := s.mirror.Close(); err != nil {
			return err
		}
	}
	if s.persister != nil {
		return s.persister.Close()
	}
	return nil
}
