// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package decision scores candidate datacenters, computes failover
// confidence, gates AI-advised failovers behind a two-in-a-row
// consistency check, and drives the cooldown loop that ties the rule
// path and the LLM advisor together.
package decision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dcsentinel/agent/internal/domain"
)

// Config tunes the decision engine's thresholds and cadence.
type Config struct {
	// AIFailoverConfidenceThreshold is the minimum confidence an AI
	// recommendation (and its immediately-previous ring-buffer entry)
	// must carry before it is allowed to execute.
	AIFailoverConfidenceThreshold float64

	// FailoverConfidenceThreshold is the minimum confidence the
	// rule-based path must reach before AutoFailover is allowed to fire.
	// Below this, the decision is recorded and surfaced as a
	// manual_failover_required alert instead of executed.
	FailoverConfidenceThreshold float64

	// AutoFailover gates whether the rule-based path is permitted to
	// execute at all once it clears FailoverConfidenceThreshold. When
	// false, every rule-based decision above the threshold still only
	// emits a manual-intervention alert.
	AutoFailover bool

	DecisionInterval       time.Duration
	InitialDelay           time.Duration
	ErrorRetryDelay        time.Duration
	PostFailoverAuditDelay time.Duration
	MaxHistory             int
}

func DefaultConfig() Config {
	return Config{
		AIFailoverConfidenceThreshold: 0.8,
		FailoverConfidenceThreshold:   0.95,
		AutoFailover:                  true,
		DecisionInterval:              30 * time.Second,
		InitialDelay:                  60 * time.Second,
		ErrorRetryDelay:               30 * time.Second,
		PostFailoverAuditDelay:        300 * time.Second,
		MaxHistory:                    100,
	}
}

// Executor performs the actual DNS cutover for a decided failover.
type Executor interface {
	Failover(ctx context.Context, instance domain.Instance, fromDC, toDC string) error
}

// Alerter publishes operational alerts.
type Alerter interface {
	Publish(ctx context.Context, alert domain.Alert) error
}

// ClientErrorRateFunc returns the current client-observed error rate for
// an instance, used by the post-failover audit.
type ClientErrorRateFunc func(ctx context.Context, instanceUID string) (float64, error)

// Engine owns per-instance failover state: last failover time and a
// capped decision history. The active DC is not held here; changes to it
// are reported through OnActiveDCChange.
//
// # Thread Safety
//
// Engine is safe for concurrent use across instances.
type Engine struct {
	config    Config
	executor  Executor
	alerts    Alerter
	errorRate ClientErrorRateFunc

	mu           sync.Mutex
	lastFailover map[string]time.Time
	history      map[string][]domain.FailoverDecision
	onActiveDC   func(instanceUID, dc string)
}

// NewEngine builds an Engine. errorRate may be nil, in which case the
// post-failover audit is skipped.
func NewEngine(config Config, executor Executor, alerts Alerter, errorRate ClientErrorRateFunc) *Engine {
	if config.AIFailoverConfidenceThreshold <= 0 {
		config.AIFailoverConfidenceThreshold = 0.8
	}
	if config.FailoverConfidenceThreshold <= 0 {
		config.FailoverConfidenceThreshold = 0.95
	}
	if config.DecisionInterval <= 0 {
		config.DecisionInterval = 30 * time.Second
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 60 * time.Second
	}
	if config.ErrorRetryDelay <= 0 {
		config.ErrorRetryDelay = 30 * time.Second
	}
	if config.PostFailoverAuditDelay <= 0 {
		config.PostFailoverAuditDelay = 300 * time.Second
	}
	if config.MaxHistory <= 0 {
		config.MaxHistory = 100
	}
	return &Engine{
		config:       config,
		executor:     executor,
		alerts:       alerts,
		errorRate:    errorRate,
		lastFailover: make(map[string]time.Time),
		history:      make(map[string][]domain.FailoverDecision),
	}
}

// OnActiveDCChange registers a callback invoked, with the instance's new
// active datacenter, immediately after a failover's DNS cutover succeeds.
// The engine itself holds no durable instance state; the caller (the
// runtime supervisor) uses this hook to persist active_dc back onto the
// instance record it hands out to every other reader.
func (e *Engine) OnActiveDCChange(fn func(instanceUID, dc string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onActiveDC = fn
}

// ScoreDatacenter implements the alternative-DC scoring formula: a
// candidate unable to serve traffic is excluded entirely by the caller
// (BestTarget), never scored here.
func ScoreDatacenter(status domain.HealthStatus) float64 {
	var score float64
	switch status.Status {
	case domain.StatusHealthy:
		score += 100
	case domain.StatusDegraded:
		score += 50
	}
	if v := 50 - status.LatencyMS/2; v > 0 {
		score += v
	}
	if status.MemoryUsedPercent < 80 {
		score += (100 - status.MemoryUsedPercent) / 2
	}
	score += status.HitRate * 30
	score -= 10 * float64(status.ConsecutiveErrors)
	score -= 5 * float64(status.ConsecutiveAnomalies)
	return score
}

// BestTarget picks the highest-scoring candidate DC other than
// activeDC, skipping any DC that cannot currently serve traffic.
func BestTarget(activeDC string, dcStatus map[string]domain.HealthStatus) (string, float64, bool) {
	var bestDC string
	var bestScore float64
	found := false
	for dc, status := range dcStatus {
		if dc == activeDC || !status.CanServeTraffic {
			continue
		}
		score := ScoreDatacenter(status)
		if !found || score > bestScore {
			bestDC, bestScore, found = dc, score, true
		}
	}
	return bestDC, bestScore, found
}

// confidence implements the standard-path confidence formula.
func (e *Engine) confidence(instanceUID string, active, target domain.HealthStatus, now time.Time) float64 {
	c := 0.5
	switch active.Status {
	case domain.StatusFailed:
		c += 0.4
	case domain.StatusFailing:
		c += 0.2
	}
	if active.ConsecutiveErrors >= 3 {
		c += 0.3
	}
	if active.MemoryUsedPercent > 95 {
		c += 0.2
	}
	if active.LatencyMS > 500 {
		c += 0.15
	}
	if target.Status == domain.StatusHealthy && active.Status != domain.StatusHealthy {
		c += 0.1
	}

	e.mu.Lock()
	last, ok := e.lastFailover[instanceUID]
	e.mu.Unlock()
	if ok {
		since := now.Sub(last)
		if since < time.Hour {
			c -= 0.3
		} else if since < 24*time.Hour {
			c -= 0.1
		}
	}

	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

// Decide evaluates one cooldown-loop tick for an instance. When an AI
// recommendation is supplied (the caller only consults the advisor when
// llmadvisor.ShouldConsult gates it), the AI-advised execution path is
// tried first: a failover verdict for another DC that clears the AI
// confidence threshold, with at least one prior ring-buffer entry, is
// decided on that path alone (executed when the prior entry agrees,
// otherwise surfaced as manual_failover_required). In every other case
// the pure rule-based path runs. A nil return means no failover is
// warranted this tick.
func (e *Engine) Decide(ctx context.Context, instance domain.Instance, dcStatus map[string]domain.HealthStatus, ai *domain.AIRecommendation, aiHistory []domain.AIRecommendationRecord, now time.Time) (*domain.FailoverDecision, error) {
	active, ok := dcStatus[instance.ActiveDC]
	if !ok {
		return nil, fmt.Errorf("no health status for active dc %q", instance.ActiveDC)
	}

	if ai != nil {
		if decision, execute := e.aiDecision(instance, *ai, aiHistory, now); decision != nil {
			if execute {
				if err := e.execute(ctx, instance, *decision); err != nil {
					return nil, err
				}
			} else {
				e.publishManualFailoverRequired(ctx, instance, *decision)
			}
			return decision, nil
		}
	}

	targetDC, _, found := BestTarget(instance.ActiveDC, dcStatus)
	if !found {
		return nil, nil
	}
	target := dcStatus[targetDC]

	if active.Status == domain.StatusHealthy && active.ConsecutiveErrors == 0 {
		return nil, nil
	}

	confidence := e.confidence(instance.UID, active, target, now)
	decision := domain.FailoverDecision{
		ID:          domain.NewDecisionID(instance.UID, now),
		InstanceUID: instance.UID,
		FromDC:      instance.ActiveDC,
		ToDC:        targetDC,
		Confidence:  confidence,
		Reason:      "rule-based health evaluation",
		Source:      domain.SourceRule,
		Timestamp:   now,
	}
	if decision.ToDC == decision.FromDC {
		return nil, nil
	}

	if confidence >= e.config.FailoverConfidenceThreshold && e.config.AutoFailover {
		if err := e.execute(ctx, instance, decision); err != nil {
			return nil, err
		}
	} else {
		e.publishManualFailoverRequired(ctx, instance, decision)
		e.recordHistory(instance.UID, decision)
	}
	return &decision, nil
}

// aiDecision applies the AI-advised execution gate: recommendation must
// be "failover" with a target, confidence must clear the threshold, and
// the single immediately-previous ring-buffer entry must agree on both
// the same target DC and the same confidence floor. This deliberately
// checks only recent[-1], not a majority vote across the whole window.
func (e *Engine) aiDecision(instance domain.Instance, ai domain.AIRecommendation, history []domain.AIRecommendationRecord, now time.Time) (*domain.FailoverDecision, bool) {
	if ai.Recommendation != "failover" || ai.TargetDC == "" {
		return nil, false
	}
	if ai.Confidence < e.config.AIFailoverConfidenceThreshold {
		return nil, false
	}
	if len(history) == 0 {
		return nil, false
	}
	prev := history[len(history)-1]
	execute := prev.Recommends && prev.TargetDC == ai.TargetDC && prev.Confidence >= e.config.AIFailoverConfidenceThreshold

	decision := domain.FailoverDecision{
		ID:          domain.NewDecisionID(instance.UID, now),
		InstanceUID: instance.UID,
		FromDC:      instance.ActiveDC,
		ToDC:        ai.TargetDC,
		Confidence:  ai.Confidence,
		Reason:      ai.Reason,
		Source:      domain.SourceAI,
		Timestamp:   now,
	}
	if decision.ToDC == decision.FromDC {
		return nil, false
	}
	return &decision, execute
}

// ManualFailover bypasses all threshold and gating logic but still flows
// through the same execution path so ActiveDC, last-failover time, and
// decision history are all updated identically to the automatic paths.
func (e *Engine) ManualFailover(ctx context.Context, instance domain.Instance, toDC string, now time.Time) (domain.FailoverDecision, error) {
	decision := domain.FailoverDecision{
		ID:          domain.NewDecisionID(instance.UID, now),
		InstanceUID: instance.UID,
		FromDC:      instance.ActiveDC,
		ToDC:        toDC,
		Confidence:  1.0,
		Reason:      "Manual failover requested",
		Source:      domain.SourceManual,
		Timestamp:   now,
	}
	if err := e.execute(ctx, instance, decision); err != nil {
		return domain.FailoverDecision{}, err
	}
	return decision, nil
}

func (e *Engine) execute(ctx context.Context, instance domain.Instance, decision domain.FailoverDecision) error {
	var preRate float64
	haveAuditBaseline := false
	if e.errorRate != nil {
		if rate, err := e.errorRate(ctx, instance.UID); err == nil {
			preRate = rate
			haveAuditBaseline = true
		}
	}

	if err := e.executor.Failover(ctx, instance, decision.FromDC, decision.ToDC); err != nil {
		e.publishFailoverOutcome(ctx, instance, decision, err)
		return fmt.Errorf("execute failover for %s: %w", instance.UID, err)
	}
	decision.Executed = true

	e.mu.Lock()
	e.lastFailover[instance.UID] = decision.Timestamp
	onActiveDC := e.onActiveDC
	e.mu.Unlock()
	e.recordHistory(instance.UID, decision)

	if onActiveDC != nil {
		onActiveDC(instance.UID, decision.ToDC)
	}
	e.publishFailoverOutcome(ctx, instance, decision, nil)

	if haveAuditBaseline {
		e.scheduleAudit(instance, decision, preRate)
	}
	return nil
}

// publishManualFailoverRequired surfaces a rule-based or AI-advised
// decision that was not allowed to execute, per the rule that confidence-
// or cooldown-gated decisions are never silently dropped.
func (e *Engine) publishManualFailoverRequired(ctx context.Context, instance domain.Instance, decision domain.FailoverDecision) {
	if e.alerts == nil {
		return
	}
	_ = e.alerts.Publish(ctx, domain.Alert{
		Severity:    "warning",
		Category:    "manual_failover_required",
		InstanceUID: instance.UID,
		Message:     fmt.Sprintf("failover to %s for %s requires manual confirmation (confidence %.2f)", decision.ToDC, instance.UID, decision.Confidence),
		Metadata: map[string]any{
			"decision_id": decision.ID,
			"from_dc":     decision.FromDC,
			"to_dc":       decision.ToDC,
			"confidence":  decision.Confidence,
			"source":      decision.Source,
		},
		Timestamp: decision.Timestamp,
	})
}

// publishFailoverOutcome emits failover_succeeded or failover_failed,
// depending on whether cause is nil.
func (e *Engine) publishFailoverOutcome(ctx context.Context, instance domain.Instance, decision domain.FailoverDecision, cause error) {
	if e.alerts == nil {
		return
	}
	metadata := map[string]any{
		"decision_id": decision.ID,
		"from_dc":     decision.FromDC,
		"to_dc":       decision.ToDC,
		"confidence":  decision.Confidence,
		"source":      decision.Source,
	}
	category := "failover_succeeded"
	severity := "info"
	message := fmt.Sprintf("failover for %s: %s -> %s", instance.UID, decision.FromDC, decision.ToDC)
	if cause != nil {
		category = "failover_failed"
		severity = "critical"
		message = fmt.Sprintf("failover for %s failed: %s -> %s: %v", instance.UID, decision.FromDC, decision.ToDC, cause)
		metadata["error"] = cause.Error()
	}
	_ = e.alerts.Publish(ctx, domain.Alert{
		Severity:    severity,
		Category:    category,
		InstanceUID: instance.UID,
		Message:     message,
		Metadata:    metadata,
		Timestamp:   decision.Timestamp,
	})
}

func (e *Engine) recordHistory(instanceUID string, decision domain.FailoverDecision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := append(e.history[instanceUID], decision)
	if len(h) > e.config.MaxHistory {
		h = h[len(h)-e.config.MaxHistory:]
	}
	e.history[instanceUID] = h
}

// History returns a copy of an instance's capped decision history.
func (e *Engine) History(instanceUID string) []domain.FailoverDecision {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.FailoverDecision(nil), e.history[instanceUID]...)
}

// scheduleAudit runs a single delayed comparison of client error rate
// before and after a failover, implemented as a one-shot timer rather
// than a long-lived goroutine.
func (e *Engine) scheduleAudit(instance domain.Instance, decision domain.FailoverDecision, preRate float64) {
	time.AfterFunc(e.config.PostFailoverAuditDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		postRate, err := e.errorRate(ctx, instance.UID)
		if err != nil {
			return
		}

		impact := classifyAuditImpact(preRate, postRate)
		severity := "info"
		if impact == "Situation worsened" {
			severity = "warning"
		}

		if e.alerts == nil {
			return
		}
		_ = e.alerts.Publish(ctx, domain.Alert{
			Severity:    severity,
			Category:    "failover_audit",
			InstanceUID: instance.UID,
			Message:     fmt.Sprintf("post-failover audit for %s (%s -> %s): %s", instance.UID, decision.FromDC, decision.ToDC, impact),
			Metadata: map[string]any{
				"decision_id": decision.ID,
				"pre_rate":    preRate,
				"post_rate":   postRate,
			},
			Timestamp: time.Now(),
		})
	})
}

func classifyAuditImpact(pre, post float64) string {
	switch {
	case post < pre*0.5:
		return "Significant improvement"
	case post < pre:
		return "Slight improvement"
	case post > pre*1.5:
		return "Situation worsened"
	default:
		return "No significant change"
	}
}
