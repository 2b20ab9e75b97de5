// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package anomaly

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/dcsentinel/agent/internal/domain"
)

// ModelVersion is bumped whenever the feature vector shape or scoring
// algorithm changes incompatibly; a mismatch on load triggers a full retrain.
const ModelVersion = 1

const (
	// MinTrainingSamples is the minimum accumulated feature history before
	// a model can be fit.
	MinTrainingSamples = 100

	// WarmupDelay is how long a newly observed instance accumulates
	// samples before its first fit.
	WarmupDelay = 300 * time.Second

	// RefitInterval is how often a fitted model is retrained.
	RefitInterval = time.Hour

	// DefaultThreshold is the anomaly_score cutoff above which a sample
	// is flagged anomalous.
	DefaultThreshold = 0.7

	// zScoreContributionCutoff is the minimum |z| for a feature to be
	// reported as a contributing factor.
	zScoreContributionCutoff = 2.0

	// zScoreNormalizationDivisor normalizes contribution weight into [0,1].
	zScoreNormalizationDivisor = 5.0
)

// FeatureContribution explains one feature's role in an anomaly score.
type FeatureContribution struct {
	Feature string
	ZScore  float64
	Weight  float64 // min(zscore/5.0, 1.0)
}

// Model is the persisted per-instance state: accumulated feature history,
// the fitted scaler/forest (nil until MinTrainingSamples is reached), and
// training bookkeeping.
type Model struct {
	Version      int                     `json:"version"`
	InstanceUID  string                  `json:"instance_uid"`
	History      [][FeatureCount]float64 `json:"history"`
	FirstSeen    time.Time               `json:"first_seen"`
	LastTrained  time.Time               `json:"last_trained"`
	Scaler       StandardScaler          `json:"scaler"`
	forest       *Forest
}

// newModel starts an empty per-instance model.
func newModel(instanceUID string, now time.Time) *Model {
	return &Model{Version: ModelVersion, InstanceUID: instanceUID, FirstSeen: now}
}

func (m *Model) fitted() bool {
	return m.forest != nil
}

func (m *Model) readyToTrain(now time.Time) bool {
	if len(m.History) < MinTrainingSamples {
		return false
	}
	if !m.fitted() {
		return now.Sub(m.FirstSeen) >= WarmupDelay
	}
	return now.Sub(m.LastTrained) >= RefitInterval
}

func (m *Model) train(now time.Time, rng *rand.Rand) {
	m.Scaler = StandardScaler{}
	m.Scaler.Fit(m.History)

	scaled := make([][FeatureCount]float64, len(m.History))
	for i, v := range m.History {
		scaled[i] = m.Scaler.Transform(v)
	}
	m.forest = Fit(scaled, rng)
	m.LastTrained = now
}

// Detector owns per-instance anomaly models and exposes Observe, the
// single entry point that records a sample, trains on cadence, and scores.
//
// # Thread Safety
//
// Detector is safe for concurrent use across instances.
type Detector struct {
	mu        sync.Mutex
	models    map[string]*Model
	threshold float64
	rng       *rand.Rand
}

// NewDetector creates a Detector with the given alert threshold (0 selects
// DefaultThreshold) and a seeded PRNG for reproducible fixtures.
func NewDetector(threshold float64, seed int64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{
		models:    make(map[string]*Model),
		threshold: threshold,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Result is the outcome of scoring one sample.
type Result struct {
	IsAnomaly     bool
	Score         float64
	Contributions []FeatureContribution
	ModelTrained  bool
}

// Observe records sample's feature vector, trains the instance's model if
// due, and scores the sample against the current model (a model that has
// not yet accumulated MinTrainingSamples always reports IsAnomaly=false).
func (d *Detector) Observe(sample domain.MetricsSample, now time.Time) Result {
	vec := extractFeatures(sample)

	d.mu.Lock()
	defer d.mu.Unlock()

	model, ok := d.models[sample.InstanceUID]
	if !ok {
		model = newModel(sample.InstanceUID, now)
		d.models[sample.InstanceUID] = model
	}
	model.History = append(model.History, vec)

	if model.readyToTrain(now) {
		model.train(now, d.rng)
	}

	if !model.fitted() {
		return Result{}
	}

	scaled := model.Scaler.Transform(vec)
	score := model.forest.Score(scaled)
	contributions := contributionsFor(vec, model.History)

	return Result{
		IsAnomaly:     score > d.threshold,
		Score:         score,
		Contributions: contributions,
	}
}

// Snapshot returns a copy of an instance's model for persistence, or nil
// if no model exists yet.
func (d *Detector) Snapshot(instanceUID string) *Model {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.models[instanceUID]
	if !ok {
		return nil
	}
	cp := *m
	cp.History = append([][FeatureCount]float64(nil), m.History...)
	return &cp
}

// Restore installs a previously persisted model, refitting the forest from
// its scaler/history so predictions resume without a cold-start gap. A
// version mismatch is treated as absent state (caller should discard and
// let a fresh model accumulate).
func (d *Detector) Restore(m *Model) {
	if m == nil || m.Version != ModelVersion {
		return
	}
	if len(m.History) >= MinTrainingSamples {
		scaled := make([][FeatureCount]float64, len(m.History))
		for i, v := range m.History {
			scaled[i] = m.Scaler.Transform(v)
		}
		m.forest = Fit(scaled, d.rng)
	}
	d.mu.Lock()
	d.models[m.InstanceUID] = m
	d.mu.Unlock()
}

func extractFeatures(s domain.MetricsSample) [FeatureCount]float64 {
	return [FeatureCount]float64{
		s.LatencyMS,
		s.MemoryUsedPercent,
		s.HitRate,
		math.Min(s.OpsPerSecond/10000, 1.0),
		math.Min(s.ConnectedClients/1000, 1.0),
		s.RejectedConnections,
		s.EvictedKeys,
		s.APIAvgLatencyMS,
	}
}

// contributionsFor computes z-scores of the current vector against the
// full stored feature history, reporting only features whose |z| exceeds
// zScoreContributionCutoff.
func contributionsFor(vec [FeatureCount]float64, history [][FeatureCount]float64) []FeatureContribution {
	var means, stddevs [FeatureCount]float64
	n := float64(len(history))
	if n == 0 {
		return nil
	}
	for _, h := range history {
		for i, v := range h {
			means[i] += v
		}
	}
	for i := range means {
		means[i] /= n
	}
	for _, h := range history {
		for i, v := range h {
			d := v - means[i]
			stddevs[i] += d * d
		}
	}
	for i := range stddevs {
		stddevs[i] = math.Sqrt(stddevs[i] / n)
	}

	var out []FeatureContribution
	for i, v := range vec {
		if stddevs[i] == 0 {
			continue
		}
		z := math.Abs((v - means[i]) / stddevs[i])
		if z > zScoreContributionCutoff {
			out = append(out, FeatureContribution{
				Feature: featureNames[i],
				ZScore:  z,
				Weight:  math.Min(z/zScoreNormalizationDivisor, 1.0),
			})
		}
	}
	return out
}
