// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llmadvisor consults a chat-completions model for a structured
// failover recommendation, gated so the model is only called when the
// rule-based health signal already looks abnormal.
package llmadvisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/dcsentinel/agent/internal/domain"
	"github.com/dcsentinel/agent/internal/logevidence"
)

// Config selects between the public OpenAI API and an Azure OpenAI
// deployment, following the env-var-with-fallback credential convention
// used throughout this codebase's other external integrations.
type Config struct {
	APIKey         string
	Model          string // e.g. "gpt-4o-mini"
	AzureEndpoint  string // non-empty selects Azure OpenAI
	AzureAPIVersion string
	AzureDeployment string
	RateLimit      time.Duration // default 300s
}

func DefaultConfig() Config {
	return Config{Model: "gpt-4o-mini", RateLimit: 300 * time.Second}
}

const (
	maxRelevantLogs  = 10
	requestTemp      = 0.2
	requestMaxTokens = 1000
)

const systemPrompt = `You are a site reliability assistant advising on datacenter failover for a replicated key-value store cluster. Respond ONLY with a JSON object matching this schema:
{
  "recommendation": "failover" | "no_action" | "monitor" | "manual_review",
  "target_dc": string (required only when recommendation is "failover"),
  "confidence": number in [0,1],
  "reason": string,
  "potential_impact": string,
  "primary_indicators": [string]
}`

// Advisor wraps an OpenAI-compatible chat completions client.
//
// # Thread Safety
//
// Advisor is safe for concurrent use across instances.
type Advisor struct {
	config Config
	client *openai.Client

	mu sync.Mutex
	// cache holds the last recommendation issued per instance, returned
	// when a consult lands inside the rate-limit window and a prior
	// recommendation still exists.
	cache map[string]domain.AIRecommendation
	// limiters enforces one model call per instance per config.RateLimit
	// window; callers that arrive sooner are deflected to the cache (or
	// the "no_action" fallback when there is nothing cached yet).
	limiters map[string]*rate.Limiter
	// history is a per-instance ring buffer of the 5 most recent
	// recommendations, used by the decision engine's consistency gate.
	history map[string][]domain.AIRecommendationRecord
}

// New builds an Advisor, selecting an Azure OpenAI or public API client
// depending on whether config.AzureEndpoint is set.
func New(config Config) *Advisor {
	if config.RateLimit <= 0 {
		config.RateLimit = 300 * time.Second
	}

	var clientConfig openai.ClientConfig
	if config.AzureEndpoint != "" {
		clientConfig = openai.DefaultAzureConfig(config.APIKey, config.AzureEndpoint)
		clientConfig.APIVersion = config.AzureAPIVersion
		if config.AzureDeployment != "" {
			clientConfig.AzureModelMapperFunc = func(string) string {
				return config.AzureDeployment
			}
		}
	} else {
		clientConfig = openai.DefaultConfig(config.APIKey)
	}

	return &Advisor{
		config:   config,
		client:   openai.NewClientWithConfig(clientConfig),
		cache:    make(map[string]domain.AIRecommendation),
		limiters: make(map[string]*rate.Limiter),
		history:  make(map[string][]domain.AIRecommendationRecord),
	}
}

// limiterFor returns the per-instance token-bucket limiter, lazily
// created with a burst of 1 so at most one call per RateLimit window is
// ever allowed through regardless of how many goroutines consult
// concurrently.
func (a *Advisor) limiterFor(instanceUID string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[instanceUID]
	if !ok {
		l = rate.NewLimiter(rate.Every(a.config.RateLimit), 1)
		a.limiters[instanceUID] = l
	}
	return l
}

// ShouldConsult implements the rule-based gate: the model is only worth
// calling when the instance already looks abnormal by cheaper signals.
func ShouldConsult(status domain.HealthStatus, clientErrors domain.ClientErrorAnalysis) bool {
	if status.Status == domain.StatusFailing || status.Status == domain.StatusFailed {
		return true
	}
	if status.ConsecutiveErrors >= 2 {
		return true
	}
	if status.IsAnomaly && status.AnomalyScore > 0.7 {
		return true
	}
	switch clientErrors.ClientImpact {
	case "medium", "high", "severe":
		return true
	}
	if clientErrors.ErrorRate > 0.05 {
		return true
	}
	if clientErrors.HasConnectionErrors || clientErrors.HasTimeoutErrors {
		return true
	}
	if status.MemoryUsedPercent > 90 {
		return true
	}
	if status.LatencyMS > 200 {
		return true
	}
	if clientErrors.ErrorCount > 10 {
		return true
	}
	return false
}

// Consult returns a cached recommendation if the per-instance rate limit
// window hasn't elapsed, otherwise calls the model and refreshes both the
// cache and the consistency-gate history. A rate-limited consult with no
// prior cached recommendation degrades to the same no_action fallback an
// unparseable model response produces, rather than blocking the caller.
func (a *Advisor) Consult(ctx context.Context, instance domain.Instance, sample domain.MetricsSample, dcStatus map[string]domain.HealthStatus, clientErrors domain.ClientErrorAnalysis, logs []logevidence.LogEntry, now time.Time) (domain.AIRecommendation, error) {
	if !a.limiterFor(instance.UID).AllowN(now, 1) {
		a.mu.Lock()
		cached, ok := a.cache[instance.UID]
		a.mu.Unlock()
		if ok {
			return cached, nil
		}
		return rateLimited(), nil
	}

	rec, err := a.request(ctx, instance, sample, dcStatus, clientErrors, logs)
	if err != nil {
		return domain.AIRecommendation{}, err
	}

	a.mu.Lock()
	a.cache[instance.UID] = rec
	a.recordLocked(instance.UID, rec, now)
	a.mu.Unlock()

	return rec, nil
}

func (a *Advisor) recordLocked(instanceUID string, rec domain.AIRecommendation, now time.Time) {
	ring := a.history[instanceUID]
	ring = append(ring, domain.AIRecommendationRecord{
		Timestamp:   now,
		TargetDC:    rec.TargetDC,
		Confidence:  rec.Confidence,
		Recommends: rec.Recommendation == "failover",
	})
	if len(ring) > 5 {
		ring = ring[len(ring)-5:]
	}
	a.history[instanceUID] = ring
}

// History returns a copy of the per-instance recommendation ring buffer,
// most recent last.
func (a *Advisor) History(instanceUID string) []domain.AIRecommendationRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AIRecommendationRecord(nil), a.history[instanceUID]...)
}

func (a *Advisor) request(ctx context.Context, instance domain.Instance, sample domain.MetricsSample, dcStatus map[string]domain.HealthStatus, clientErrors domain.ClientErrorAnalysis, logs []logevidence.LogEntry) (domain.AIRecommendation, error) {
	userPrompt, err := buildUserPrompt(instance, sample, dcStatus, clientErrors, logs)
	if err != nil {
		return domain.AIRecommendation{}, fmt.Errorf("build llm advisor prompt: %w", err)
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.config.Model,
		Temperature: requestTemp,
		MaxTokens:   requestMaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return domain.AIRecommendation{}, fmt.Errorf("llm advisor request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return noAction(), nil
	}

	return validateDecision(resp.Choices[0].Message.Content), nil
}

// rawDecision is the wire shape returned by the model before validation.
type rawDecision struct {
	Recommendation    string   `json:"recommendation"`
	TargetDC          string   `json:"target_dc"`
	Confidence        any      `json:"confidence"`
	Reason            string   `json:"reason"`
	PotentialImpact   string   `json:"potential_impact"`
	PrimaryIndicators []string `json:"primary_indicators"`
}

// validateDecision mirrors the reference validator: an invalid or
// unparseable response degrades to no_action with zero confidence rather
// than propagating an error up to the decision engine.
func validateDecision(content string) domain.AIRecommendation {
	var raw rawDecision
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return noAction()
	}

	switch raw.Recommendation {
	case "failover", "no_action", "monitor", "manual_review":
	default:
		return noAction()
	}
	if raw.Recommendation == "failover" && raw.TargetDC == "" {
		return noAction()
	}

	confidence, ok := parseConfidence(raw.Confidence)
	if !ok || confidence < 0 || confidence > 1 {
		return noAction()
	}

	return domain.AIRecommendation{
		Recommendation:    raw.Recommendation,
		TargetDC:          raw.TargetDC,
		Confidence:        confidence,
		Reason:            raw.Reason,
		PotentialImpact:   raw.PotentialImpact,
		PrimaryIndicators: raw.PrimaryIndicators,
	}
}

func parseConfidence(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func noAction() domain.AIRecommendation {
	return domain.AIRecommendation{Recommendation: "no_action", Confidence: 0}
}

// rateLimited is returned when a consult arrives before its instance's
// rate-limit window has elapsed and no prior recommendation is cached yet.
func rateLimited() domain.AIRecommendation {
	return domain.AIRecommendation{Recommendation: "no_action", Confidence: 0, Reason: "Rate limited"}
}

func buildUserPrompt(instance domain.Instance, sample domain.MetricsSample, dcStatus map[string]domain.HealthStatus, clientErrors domain.ClientErrorAnalysis, logs []logevidence.LogEntry) (string, error) {
	sampleJSON, err := json.Marshal(sample)
	if err != nil {
		return "", err
	}
	statusJSON, err := json.Marshal(dcStatus)
	if err != nil {
		return "", err
	}
	statsJSON, err := json.Marshal(clientErrors)
	if err != nil {
		return "", err
	}
	logLines, err := json.Marshal(extractRelevantLogs(logs))
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		"Instance: name=%s uid=%s active_dc=%s\n\nLatest metrics sample:\n%s\n\nHealth status by datacenter:\n%s\n\nClient log statistics:\n%s\n\nRelevant log lines:\n%s",
		instance.Name, instance.UID, instance.ActiveDC, sampleJSON, statusJSON, statsJSON, logLines,
	), nil
}

// extractRelevantLogs prioritizes error-level entries, backfills with the
// most recent remaining entries, and deduplicates by document ID, capped
// at maxRelevantLogs.
func extractRelevantLogs(logs []logevidence.LogEntry) []logevidence.LogEntry {
	sorted := append([]logevidence.LogEntry(nil), logs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp > sorted[j].Timestamp
	})

	seen := make(map[string]bool)
	var errors, rest []logevidence.LogEntry
	for _, l := range sorted {
		if seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		if isErrorLevel(l.Level) {
			errors = append(errors, l)
		} else {
			rest = append(rest, l)
		}
	}

	out := errors
	if len(out) > maxRelevantLogs {
		return out[:maxRelevantLogs]
	}
	for _, l := range rest {
		if len(out) >= maxRelevantLogs {
			break
		}
		out = append(out, l)
	}
	return out
}

func isErrorLevel(level string) bool {
	switch level {
	case "ERROR", "error", "SEVERE", "severe", "FATAL", "fatal":
		return true
	default:
		return false
	}
}
