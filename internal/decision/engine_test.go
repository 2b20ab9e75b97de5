// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package decision

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcsentinel/agent/internal/domain"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeExecutor) Failover(_ context.Context, _ domain.Instance, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (f *fakeAlerter) Publish(_ context.Context, alert domain.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return nil
}

func testInstance() domain.Instance {
	return domain.Instance{UID: "inst-1", Name: "cache-1", ActiveDC: "us-east"}
}

func TestScoreDatacenter_HealthyBeatsDegraded(t *testing.T) {
	healthy := domain.HealthStatus{Status: domain.StatusHealthy, LatencyMS: 5, HitRate: 0.98}
	degraded := domain.HealthStatus{Status: domain.StatusDegraded, LatencyMS: 5, HitRate: 0.98}
	assert.Greater(t, ScoreDatacenter(healthy), ScoreDatacenter(degraded))
}

func TestScoreDatacenter_ConsecutiveErrorsAndAnomaliesPenalize(t *testing.T) {
	clean := domain.HealthStatus{Status: domain.StatusHealthy}
	noisy := domain.HealthStatus{Status: domain.StatusHealthy, ConsecutiveErrors: 2, ConsecutiveAnomalies: 3}
	assert.Greater(t, ScoreDatacenter(clean), ScoreDatacenter(noisy))
}

func TestBestTarget_SkipsActiveAndUnhealthy(t *testing.T) {
	dcStatus := map[string]domain.HealthStatus{
		"us-east": {Status: domain.StatusFailed, CanServeTraffic: false},
		"us-west": {Status: domain.StatusHealthy, CanServeTraffic: true, HitRate: 0.99},
		"eu-west": {Status: domain.StatusFailed, CanServeTraffic: false},
	}
	dc, _, found := BestTarget("us-east", dcStatus)
	require.True(t, found)
	assert.Equal(t, "us-west", dc)
}

func TestBestTarget_NoneFoundWhenAllUnavailable(t *testing.T) {
	dcStatus := map[string]domain.HealthStatus{
		"us-east": {Status: domain.StatusHealthy, CanServeTraffic: true},
		"us-west": {Status: domain.StatusFailed, CanServeTraffic: false},
	}
	_, _, found := BestTarget("us-east", dcStatus)
	assert.False(t, found)
}

func TestDecide_HealthyActiveNoErrors_NoDecision(t *testing.T) {
	exec := &fakeExecutor{}
	engine := NewEngine(DefaultConfig(), exec, &fakeAlerter{}, nil)
	dcStatus := map[string]domain.HealthStatus{
		"us-east": {Status: domain.StatusHealthy, CanServeTraffic: true},
		"us-west": {Status: domain.StatusHealthy, CanServeTraffic: true},
	}
	decision, err := engine.Decide(context.Background(), testInstance(), dcStatus, nil, nil, time.Now())
	require.NoError(t, err)
	assert.Nil(t, decision)
	assert.Equal(t, 0, exec.callCount())
}

func TestDecide_RuleBasedExecutesAboveThreshold(t *testing.T) {
	exec := &fakeExecutor{}
	alerter := &fakeAlerter{}
	cfg := DefaultConfig()
	cfg.FailoverConfidenceThreshold = 0.95
	engine := NewEngine(cfg, exec, alerter, nil)

	dcStatus := map[string]domain.HealthStatus{
		"us-east": {Status: domain.StatusFailed, CanServeTraffic: true, ConsecutiveErrors: 5, MemoryUsedPercent: 97},
		"us-west": {Status: domain.StatusHealthy, CanServeTraffic: true},
	}
	decision, err := engine.Decide(context.Background(), testInstance(), dcStatus, nil, nil, time.Now())
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.True(t, decision.Executed)
	assert.Equal(t, "us-west", decision.ToDC)
	assert.Equal(t, domain.SourceRule, decision.Source)
	assert.Equal(t, 1, exec.callCount())

	alerter.mu.Lock()
	defer alerter.mu.Unlock()
	require.Len(t, alerter.alerts, 1)
	assert.Equal(t, "failover_succeeded", alerter.alerts[0].Category)
}

func TestDecide_RuleBasedRecordsHistoryBelowThreshold(t *testing.T) {
	exec := &fakeExecutor{}
	alerter := &fakeAlerter{}
	cfg := DefaultConfig()
	cfg.FailoverConfidenceThreshold = 0.95
	engine := NewEngine(cfg, exec, alerter, nil)

	dcStatus := map[string]domain.HealthStatus{
		"us-east": {Status: domain.StatusFailing, CanServeTraffic: true, ConsecutiveErrors: 1},
		"us-west": {Status: domain.StatusHealthy, CanServeTraffic: true},
	}
	decision, err := engine.Decide(context.Background(), testInstance(), dcStatus, nil, nil, time.Now())
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.False(t, decision.Executed)
	assert.Equal(t, 0, exec.callCount())
	assert.Len(t, engine.History(testInstance().UID), 1)

	alerter.mu.Lock()
	defer alerter.mu.Unlock()
	require.Len(t, alerter.alerts, 1)
	assert.Equal(t, "manual_failover_required", alerter.alerts[0].Category)
}

// TestDecide_RuleBasedBelowSpecThreshold_ManualFailoverRequired mirrors the
// worked example from the end-to-end scenarios: a 0.75 confidence decision
// must not auto-execute against the 0.95 default threshold, and must
// surface manual_failover_required instead of silently dropping.
func TestDecide_RuleBasedBelowSpecThreshold_ManualFailoverRequired(t *testing.T) {
	exec := &fakeExecutor{}
	alerter := &fakeAlerter{}
	engine := NewEngine(DefaultConfig(), exec, alerter, nil)
	now := time.Now()
	engine.lastFailover[testInstance().UID] = now.Add(-1800 * time.Second)

	dcStatus := map[string]domain.HealthStatus{
		"us-east": {Status: domain.StatusFailing, CanServeTraffic: true, MemoryUsedPercent: 97, LatencyMS: 600},
		"us-west": {Status: domain.StatusDegraded, CanServeTraffic: true},
	}
	decision, err := engine.Decide(context.Background(), testInstance(), dcStatus, nil, nil, now)
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.InDelta(t, 0.75, decision.Confidence, 0.001)
	assert.False(t, decision.Executed)
	assert.Equal(t, 0, exec.callCount())

	alerter.mu.Lock()
	defer alerter.mu.Unlock()
	require.Len(t, alerter.alerts, 1)
	assert.Equal(t, "manual_failover_required", alerter.alerts[0].Category)
}

func TestDecide_RuleBasedAboveThresholdButAutoFailoverDisabled_DoesNotExecute(t *testing.T) {
	exec := &fakeExecutor{}
	alerter := &fakeAlerter{}
	cfg := DefaultConfig()
	cfg.AutoFailover = false
	engine := NewEngine(cfg, exec, alerter, nil)

	dcStatus := map[string]domain.HealthStatus{
		"us-east": {Status: domain.StatusFailed, CanServeTraffic: true, ConsecutiveErrors: 5, MemoryUsedPercent: 97},
		"us-west": {Status: domain.StatusHealthy, CanServeTraffic: true},
	}
	decision, err := engine.Decide(context.Background(), testInstance(), dcStatus, nil, nil, time.Now())
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.False(t, decision.Executed)
	assert.Equal(t, 0, exec.callCount())

	alerter.mu.Lock()
	defer alerter.mu.Unlock()
	require.Len(t, alerter.alerts, 1)
	assert.Equal(t, "manual_failover_required", alerter.alerts[0].Category)
}

func TestConfidence_ClampedAtOne(t *testing.T) {
	engine := NewEngine(DefaultConfig(), &fakeExecutor{}, &fakeAlerter{}, nil)
	active := domain.HealthStatus{Status: domain.StatusFailed, ConsecutiveErrors: 10, MemoryUsedPercent: 99, LatencyMS: 900}
	target := domain.HealthStatus{Status: domain.StatusHealthy}
	c := engine.confidence("inst-1", active, target, time.Now())
	assert.Equal(t, 1.0, c)
}

func TestConfidence_RecentFailoverReducesConfidence(t *testing.T) {
	engine := NewEngine(DefaultConfig(), &fakeExecutor{}, &fakeAlerter{}, nil)
	now := time.Now()
	engine.lastFailover["inst-1"] = now.Add(-10 * time.Minute)

	active := domain.HealthStatus{Status: domain.StatusFailing}
	target := domain.HealthStatus{Status: domain.StatusHealthy}
	withCooldown := engine.confidence("inst-1", active, target, now)

	delete(engine.lastFailover, "inst-1")
	withoutCooldown := engine.confidence("inst-1", active, target, now)

	assert.Less(t, withCooldown, withoutCooldown)
}

func TestDecide_AIPath_SingleRecommendationRecordsButDoesNotExecute(t *testing.T) {
	exec := &fakeExecutor{}
	engine := NewEngine(DefaultConfig(), exec, &fakeAlerter{}, nil)

	dcStatus := map[string]domain.HealthStatus{
		"us-east": {Status: domain.StatusFailing, CanServeTraffic: true},
		"us-west": {Status: domain.StatusHealthy, CanServeTraffic: true},
	}
	ai := &domain.AIRecommendation{Recommendation: "failover", TargetDC: "us-west", Confidence: 0.9, Reason: "elevated error rate"}

	decision, err := engine.Decide(context.Background(), testInstance(), dcStatus, ai, nil, time.Now())
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.False(t, decision.Executed)
	assert.Equal(t, 0, exec.callCount())
}

func TestDecide_AIPath_RequiresTwoInARowToExecute(t *testing.T) {
	exec := &fakeExecutor{}
	engine := NewEngine(DefaultConfig(), exec, &fakeAlerter{}, nil)

	dcStatus := map[string]domain.HealthStatus{
		"us-east": {Status: domain.StatusFailing, CanServeTraffic: true},
		"us-west": {Status: domain.StatusHealthy, CanServeTraffic: true},
	}
	ai := &domain.AIRecommendation{Recommendation: "failover", TargetDC: "us-west", Confidence: 0.9, Reason: "elevated error rate"}
	history := []domain.AIRecommendationRecord{
		{TargetDC: "us-west", Confidence: 0.85, Recommends: true},
	}

	decision, err := engine.Decide(context.Background(), testInstance(), dcStatus, ai, history, time.Now())
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.True(t, decision.Executed)
	assert.Equal(t, domain.SourceAI, decision.Source)
	assert.Equal(t, 1, exec.callCount())
}

func TestDecide_AIPath_PriorEntryTargetingDifferentDCDoesNotExecute(t *testing.T) {
	exec := &fakeExecutor{}
	engine := NewEngine(DefaultConfig(), exec, &fakeAlerter{}, nil)

	dcStatus := map[string]domain.HealthStatus{
		"us-east": {Status: domain.StatusFailing, CanServeTraffic: true},
		"us-west": {Status: domain.StatusHealthy, CanServeTraffic: true},
	}
	ai := &domain.AIRecommendation{Recommendation: "failover", TargetDC: "us-west", Confidence: 0.9}
	history := []domain.AIRecommendationRecord{
		{TargetDC: "eu-west", Confidence: 0.9, Recommends: true},
	}

	decision, err := engine.Decide(context.Background(), testInstance(), dcStatus, ai, history, time.Now())
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.False(t, decision.Executed)
	assert.Equal(t, 0, exec.callCount())
}

func TestManualFailover_SetsConfidenceOneAndRecordsHistory(t *testing.T) {
	exec := &fakeExecutor{}
	engine := NewEngine(DefaultConfig(), exec, &fakeAlerter{}, nil)

	decision, err := engine.ManualFailover(context.Background(), testInstance(), "us-west", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1.0, decision.Confidence)
	assert.Equal(t, domain.SourceManual, decision.Source)
	assert.True(t, decision.Executed)
	assert.Equal(t, 1, exec.callCount())
	assert.Len(t, engine.History(testInstance().UID), 1)
}

func TestExecute_OnActiveDCChangeFiresForManualAndRuleBasedPaths(t *testing.T) {
	exec := &fakeExecutor{}
	engine := NewEngine(DefaultConfig(), exec, &fakeAlerter{}, nil)

	var mu sync.Mutex
	var updates []string
	engine.OnActiveDCChange(func(instanceUID, dc string) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, instanceUID+"->"+dc)
	})

	_, err := engine.ManualFailover(context.Background(), testInstance(), "us-west", time.Now())
	require.NoError(t, err)

	dcStatus := map[string]domain.HealthStatus{
		"us-east": {Status: domain.StatusFailed, CanServeTraffic: true, ConsecutiveErrors: 5, MemoryUsedPercent: 97},
		"eu-west": {Status: domain.StatusHealthy, CanServeTraffic: true},
	}
	_, err = engine.Decide(context.Background(), testInstance(), dcStatus, nil, nil, time.Now())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"inst-1->us-west", "inst-1->eu-west"}, updates)
}

func TestManualFailover_PropagatesExecutorError(t *testing.T) {
	exec := &fakeExecutor{err: assert.AnError}
	engine := NewEngine(DefaultConfig(), exec, &fakeAlerter{}, nil)

	_, err := engine.ManualFailover(context.Background(), testInstance(), "us-west", time.Now())
	assert.Error(t, err)
}

func TestClassifyAuditImpact(t *testing.T) {
	cases := []struct {
		name     string
		pre      float64
		post     float64
		expected string
	}{
		{"halved", 0.20, 0.05, "Significant improvement"},
		{"slightlyBetter", 0.20, 0.15, "Slight improvement"},
		{"worsened", 0.10, 0.20, "Situation worsened"},
		{"unchanged", 0.10, 0.11, "No significant change"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, classifyAuditImpact(tc.pre, tc.post))
		})
	}
}

func TestEngine_PostFailoverAuditPublishesAlert(t *testing.T) {
	exec := &fakeExecutor{}
	alerter := &fakeAlerter{}
	cfg := DefaultConfig()
	cfg.PostFailoverAuditDelay = 10 * time.Millisecond

	rates := []float64{0.30}
	errorRate := func(_ context.Context, _ string) (float64, error) {
		return rates[0], nil
	}
	engine := NewEngine(cfg, exec, alerter, errorRate)

	_, err := engine.ManualFailover(context.Background(), testInstance(), "us-west", time.Now())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		alerter.mu.Lock()
		defer alerter.mu.Unlock()
		return len(alerter.alerts) == 2
	}, time.Second, 5*time.Millisecond)

	alerter.mu.Lock()
	defer alerter.mu.Unlock()
	assert.Equal(t, "failover_succeeded", alerter.alerts[0].Category)
	assert.Equal(t, "failover_audit", alerter.alerts[1].Category)
}
