// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package anomaly

import "math"

// FeatureCount is the fixed dimensionality of the anomaly feature vector:
// latency_ms, memory_used_percent, hit_rate, ops_per_second,
// connected_clients, rejected_connections, evicted_keys, api_avg_latency_ms.
const FeatureCount = 8

var featureNames = [FeatureCount]string{
	"latency_ms",
	"memory_used_percent",
	"hit_rate",
	"ops_per_second",
	"connected_clients",
	"rejected_connections",
	"evicted_keys",
	"api_avg_latency_ms",
}

// StandardScaler fits a per-feature mean/stddev and normalizes vectors to
// zero mean, unit variance, mirroring scikit-learn's StandardScaler.
type StandardScaler struct {
	Mean   [FeatureCount]float64 `json:"mean"`
	StdDev [FeatureCount]float64 `json:"stddev"`
}

// Fit computes mean and standard deviation across all samples.
func (s *StandardScaler) Fit(samples [][FeatureCount]float64) {
	n := float64(len(samples))
	if n == 0 {
		return
	}

	var sum [FeatureCount]float64
	for _, vec := range samples {
		for i, v := range vec {
			sum[i] += v
		}
	}
	for i := range s.Mean {
		s.Mean[i] = sum[i] / n
	}

	var sqDiff [FeatureCount]float64
	for _, vec := range samples {
		for i, v := range vec {
			d := v - s.Mean[i]
			sqDiff[i] += d * d
		}
	}
	for i := range s.StdDev {
		variance := sqDiff[i] / n
		s.StdDev[i] = math.Sqrt(variance)
		if s.StdDev[i] == 0 {
			s.StdDev[i] = 1 // avoid division by zero for constant features
		}
	}
}

// Transform normalizes a single feature vector using the fitted statistics.
func (s *StandardScaler) Transform(vec [FeatureCount]float64) [FeatureCount]float64 {
	var out [FeatureCount]float64
	for i, v := range vec {
		out[i] = (v - s.Mean[i]) / s.StdDev[i]
	}
	return out
}
