// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package domain holds the core data model shared by every dcsentinel
// component: instances, datacenters, metric samples, health status,
// anomaly models, and failover decisions.
package domain

import "time"

// Status is the health classification of an instance in a datacenter.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusFailing  Status = "failing"
	StatusFailed   Status = "failed"
)

// Instance describes one logical replicated key-value store deployment
// spanning one or more datacenters.
type Instance struct {
	UID       string            `json:"uid"`
	Name      string            `json:"name"`
	ActiveDC  string            `json:"active_dc"`
	Endpoints map[string]string `json:"endpoints,omitempty"` // dc name -> address override
	Tags      map[string]string `json:"tags,omitempty"`
}

// Datacenter describes a failover target.
type Datacenter struct {
	Name   string `json:"name"`
	Suffix string `json:"suffix"` // DNS suffix used to synthesize default hostnames
	Region string `json:"region"`
}

// MetricsSample is a single probe observation for an instance in a DC.
type MetricsSample struct {
	InstanceUID         string    `json:"instance_uid"`
	DC                  string    `json:"dc"`
	Timestamp           time.Time `json:"timestamp"`
	LatencyMS           float64   `json:"latency_ms"`
	MemoryUsedPercent   float64   `json:"memory_used_percent"`
	HitRate             float64   `json:"hit_rate"`
	OpsPerSecond        float64   `json:"ops_per_second"`
	ConnectedClients    float64   `json:"connected_clients"`
	RejectedConnections float64   `json:"rejected_connections"`
	EvictedKeys         float64   `json:"evicted_keys"`
	APIAvgLatencyMS     float64   `json:"api_avg_latency_ms"`
}

// HealthStatus is the evaluated health of an instance in a specific DC.
type HealthStatus struct {
	InstanceUID          string    `json:"instance_uid"`
	DC                   string    `json:"dc"`
	Status               Status    `json:"status"`
	CanServeTraffic      bool      `json:"can_serve_traffic"`
	ConsecutiveErrors    int       `json:"consecutive_errors"`
	IsAnomaly            bool      `json:"is_anomaly"`
	AnomalyScore         float64   `json:"anomaly_score"`
	ConsecutiveAnomalies int       `json:"consecutive_anomalies"`
	LatencyMS            float64   `json:"latency_ms"`
	MemoryUsedPercent    float64   `json:"memory_used_percent"`
	HitRate              float64   `json:"hit_rate"`
	LastUpdated          time.Time `json:"last_updated"`
}

// AIRecommendation is the structured output of an LLM advisory consult.
type AIRecommendation struct {
	Recommendation    string   `json:"recommendation"` // failover|no_action|monitor|manual_review
	TargetDC          string   `json:"target_dc,omitempty"`
	Confidence        float64  `json:"confidence"`
	Reason            string   `json:"reason"`
	PotentialImpact   string   `json:"potential_impact,omitempty"`
	PrimaryIndicators []string `json:"primary_indicators,omitempty"`
}

// AIRecommendationRecord is one entry in an instance's consistency ring buffer.
type AIRecommendationRecord struct {
	Timestamp  time.Time
	TargetDC   string
	Confidence float64
	Recommends bool // true when Recommendation == "failover"
}

// DecisionSource identifies what triggered a FailoverDecision.
type DecisionSource string

const (
	SourceRule   DecisionSource = "rule"
	SourceAI     DecisionSource = "ai"
	SourceManual DecisionSource = "manual"
)

// FailoverDecision records one evaluated (and possibly executed) failover.
type FailoverDecision struct {
	ID          string         `json:"id"`
	InstanceUID string         `json:"instance_uid"`
	FromDC      string         `json:"from_dc"`
	ToDC        string         `json:"to_dc"`
	Confidence  float64        `json:"confidence"`
	Reason      string         `json:"reason"`
	Source      DecisionSource `json:"source"`
	Executed    bool           `json:"executed"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewDecisionID builds the deterministic decision identifier used
// throughout the audit trail and history cap.
func NewDecisionID(instanceUID string, ts time.Time) string {
	return instanceUID + "_" + formatUnix(ts)
}

func formatUnix(ts time.Time) string {
	// Deterministic, allocation-light alternative to fmt.Sprintf("%d", ...).
	n := ts.Unix()
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Alert is one lifecycle event published on the alert bus.
type Alert struct {
	// ID correlates an alert across sinks and the websocket stream; Bus
	// assigns it on Publish if the caller leaves it blank.
	ID          string         `json:"id"`
	Severity    string         `json:"severity"` // info|warning|critical
	Category    string         `json:"category"` // status_change|anomaly_detected|failover_succeeded|failover_failed|manual_failover_required|failover_audit
	InstanceUID string         `json:"instance_uid"`
	Message     string         `json:"message"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// ClientErrorAnalysis summarizes client-observed log evidence for an instance.
type ClientErrorAnalysis struct {
	ErrorRate                float64            `json:"error_rate"`
	ErrorCount               int                `json:"error_count"`
	TotalLogs                int                `json:"total_logs"`
	HasConnectionErrors      bool               `json:"has_connection_errors"`
	HasTimeoutErrors         bool               `json:"has_timeout_errors"`
	HasMemoryErrors          bool               `json:"has_memory_errors"`
	HasAuthenticationErrors  bool               `json:"has_authentication_errors"`
	ConnectionErrorCount     int                `json:"connection_error_count"`
	TimeoutErrorCount        int                `json:"timeout_error_count"`
	MemoryErrorCount         int                `json:"memory_error_count"`
	AuthenticationErrorCount int                `json:"authentication_error_count"`
	ClientImpact             string             `json:"client_impact"` // none|low|medium|high|severe
	ErrorDistribution        map[string]MinuteCounts `json:"error_distribution"`
	ErrorSpikes              []string           `json:"error_spikes"`
}

// MinuteCounts is the per-minute error/total tally used for spike detection.
type MinuteCounts struct {
	Total  int `json:"total"`
	Errors int `json:"errors"`
}
