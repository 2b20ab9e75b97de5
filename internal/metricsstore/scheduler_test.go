// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metricsstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPruneScheduler_RunNowPrunesImmediately(t *testing.T) {
	cfg := Config{MaxPointsPerMetric: 100, RetentionPeriod: time.Minute}
	store, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, store.Record("inst-1", "latency_ms", Point{Value: 1, Timestamp: time.Now().Add(-time.Hour)}))

	sched := NewPruneScheduler(store, time.Hour)
	sched.RunNow()

	assert.Empty(t, store.Query("inst-1", "latency_ms"))
}

func TestPruneScheduler_StartStopDoesNotHang(t *testing.T) {
	store, err := New(DefaultConfig(), nil)
	require.NoError(t, err)

	sched := NewPruneScheduler(store, 5*time.Millisecond)
	sched.Start()
	time.Sleep(20 * time.Millisecond)
	sched.Stop()
}
