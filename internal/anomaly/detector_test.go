// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcsentinel/agent/internal/domain"
)

func baselineSample(uid string, latency float64) domain.MetricsSample {
	return domain.MetricsSample{
		InstanceUID:       uid,
		LatencyMS:         latency,
		MemoryUsedPercent: 40,
		HitRate:           0.95,
		OpsPerSecond:      5000,
		ConnectedClients:  100,
	}
}

func TestDetector_ObserveBeforeWarmupNeverFlagsAnomaly(t *testing.T) {
	d := NewDetector(0.7, 1)
	now := time.Now()

	var last Result
	for i := 0; i < MinTrainingSamples+5; i++ {
		last = d.Observe(baselineSample("inst-1", 10), now)
	}
	// Warmup delay (300s) has not elapsed even though sample count has.
	assert.False(t, last.IsAnomaly)
	assert.False(t, last.ModelTrained)
}

func TestDetector_ObserveTrainsAfterWarmupAndSampleFloor(t *testing.T) {
	d := NewDetector(0.7, 1)
	start := time.Now()

	for i := 0; i < MinTrainingSamples; i++ {
		d.Observe(baselineSample("inst-1", 10+float64(i%3)), start)
	}
	// MinTrainingSamples are now accumulated; observing one more sample at a
	// time past WarmupDelay triggers the fit on this call.
	past := start.Add(WarmupDelay + time.Second)
	result := d.Observe(baselineSample("inst-1", 10), past)

	snap := d.Snapshot("inst-1")
	require.NotNil(t, snap)
	assert.False(t, snap.LastTrained.IsZero())
	_ = result
}

func TestDetector_SnapshotReturnsNilForUnknownInstance(t *testing.T) {
	d := NewDetector(0.7, 1)
	assert.Nil(t, d.Snapshot("missing"))
}

func TestDetector_RestoreIgnoresVersionMismatch(t *testing.T) {
	d := NewDetector(0.7, 1)
	d.Restore(&Model{Version: ModelVersion + 1, InstanceUID: "inst-1"})
	assert.Nil(t, d.Snapshot("inst-1"))
}

func TestDetector_RestoreRefitsFromHistory(t *testing.T) {
	d := NewDetector(0.7, 1)
	history := make([][FeatureCount]float64, MinTrainingSamples)
	for i := range history {
		history[i] = [FeatureCount]float64{10, 40, 0.95, 0.5, 0.1, 0, 0, 5}
	}
	model := &Model{
		Version:     ModelVersion,
		InstanceUID: "inst-1",
		History:     history,
		FirstSeen:   time.Now().Add(-time.Hour),
		LastTrained: time.Now().Add(-time.Minute),
	}
	d.Restore(model)

	snap := d.Snapshot("inst-1")
	require.NotNil(t, snap)
	assert.True(t, snap.fitted())
}

func TestContributionsFor_EmptyHistoryReturnsNil(t *testing.T) {
	vec := [FeatureCount]float64{1, 2, 3, 4, 5, 6, 7, 8}
	assert.Nil(t, contributionsFor(vec, nil))
}
