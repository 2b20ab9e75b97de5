// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package health evaluates raw probe samples against a rolling baseline
// to produce a HealthStatus. Evaluation is a pure function: it never
// performs I/O and is safe to call from any goroutine.
package health

import (
	"time"

	"github.com/dcsentinel/agent/internal/domain"
	"github.com/dcsentinel/agent/internal/metricsstore"
)

// Thresholds configures the health classification boundaries.
type Thresholds struct {
	// DegradedStdDevMultiple is how many standard deviations beyond the
	// baseline latency/hit-rate mean count as "degraded". Default 2.0.
	DegradedStdDevMultiple float64

	// FailingConsecutiveErrors is the error-streak length at which a failed
	// probe marks the status "failed" with CanServeTraffic=false; shorter
	// streaks of failed probes mark it "failing". Default 3.
	FailingConsecutiveErrors int
}

// DefaultThresholds mirror the values exercised in the testable-properties
// scenarios: healthy within 2 stddev, failed at 3 consecutive errors.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedStdDevMultiple:   2.0,
		FailingConsecutiveErrors: 3,
	}
}

// Evaluate maps a sample and its metric baselines onto the next HealthStatus.
//
// # Inputs
//
//   - sample: latest probe observation
//   - latencyBaseline, hitRateBaseline: rolling statistics for the
//     corresponding metrics (zero-value Baseline when insufficient history)
//   - prior: the instance's previous HealthStatus in this DC
//   - probeFailed: true when this cycle's probe errored rather than returning a sample
//   - thresholds: classification boundaries
//
// # Outputs
//
//   - domain.HealthStatus: the evaluated status, with ConsecutiveErrors
//     updated (reset to 0 on a successful probe, incremented on failure)
func Evaluate(
	sample domain.MetricsSample,
	latencyBaseline, hitRateBaseline metricsstore.Baseline,
	prior domain.HealthStatus,
	probeFailed bool,
	thresholds Thresholds,
) domain.HealthStatus {
	next := prior
	next.InstanceUID = sample.InstanceUID
	next.DC = sample.DC
	next.LastUpdated = time.Now()

	if probeFailed {
		next.ConsecutiveErrors = prior.ConsecutiveErrors + 1
	} else {
		next.ConsecutiveErrors = 0
		next.LatencyMS = sample.LatencyMS
		next.MemoryUsedPercent = sample.MemoryUsedPercent
		next.HitRate = sample.HitRate
	}

	switch {
	case probeFailed && next.ConsecutiveErrors >= thresholds.FailingConsecutiveErrors:
		next.Status = domain.StatusFailed
		next.CanServeTraffic = false
	case probeFailed:
		next.Status = domain.StatusFailing
		next.CanServeTraffic = prior.CanServeTraffic
	case next.ConsecutiveErrors >= thresholds.FailingConsecutiveErrors:
		next.Status = domain.StatusFailing
		next.CanServeTraffic = true
	case isWithinBaseline(sample, latencyBaseline, hitRateBaseline, thresholds.DegradedStdDevMultiple):
		next.Status = domain.StatusHealthy
		next.CanServeTraffic = true
	default:
		next.Status = domain.StatusDegraded
		next.CanServeTraffic = true
	}

	return next
}

func isWithinBaseline(sample domain.MetricsSample, latency, hitRate metricsstore.Baseline, multiple float64) bool {
	if latency.DataPoints == 0 || hitRate.DataPoints == 0 {
		// No history yet: treat the first sample as healthy.
		return true
	}
	latencyOK := latency.StdDev == 0 || sample.LatencyMS <= latency.Mean+multiple*latency.StdDev
	hitRateOK := hitRate.StdDev == 0 || sample.HitRate >= hitRate.Mean-multiple*hitRate.StdDev
	return latencyOK && hitRateOK
}

// ApplyAnomaly folds an anomaly-detector verdict into a HealthStatus,
// matching the escalation rules from the reference scoring model:
// score>0.9 forces "failing", score>0.95 additionally forces
// CanServeTraffic=false, otherwise a healthy instance degrades.
func ApplyAnomaly(status domain.HealthStatus, isAnomaly bool, score float64) domain.HealthStatus {
	if !isAnomaly {
		status.IsAnomaly = false
		status.AnomalyScore = score
		status.ConsecutiveAnomalies = 0
		return status
	}

	status.IsAnomaly = true
	status.AnomalyScore = score
	status.ConsecutiveAnomalies++

	switch {
	case score > 0.95:
		status.Status = domain.StatusFailing
		status.CanServeTraffic = false
	case score > 0.9:
		status.Status = domain.StatusFailing
	case status.Status == domain.StatusHealthy:
		status.Status = domain.StatusDegraded
	}
	return status
}

// ShouldAlertAnomaly reports whether the anomaly should be surfaced on the
// alert bus: the score must clear the threshold AND the instance must have
// been anomalous for at least 3 consecutive evaluations.
func ShouldAlertAnomaly(status domain.HealthStatus, threshold float64) bool {
	return status.AnomalyScore > threshold && status.ConsecutiveAnomalies >= 3
}
