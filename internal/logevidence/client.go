// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logevidence queries an Elasticsearch-compatible log store for
// client-observed errors correlated with an instance, and analyzes the
// results for error rate, category breakdown, and spike detection.
package logevidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dcsentinel/agent/internal/circuitbreaker"
	"github.com/dcsentinel/agent/internal/domain"
)

// Config configures the log store connection.
type Config struct {
	URL             string // base Elasticsearch-compatible URL
	IndexPattern    string // default "logstash-*"
	Username        string
	Password        string
	VerifySSL       bool
	Timeout         time.Duration
	CacheTTL        time.Duration // default 300s
	ClientLogsOnly  bool          // filter log_source.keyword == "client"
}

// DefaultConfig mirrors the reference client's defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		IndexPattern:   "logstash-*",
		VerifySSL:      true,
		Timeout:        30 * time.Second,
		CacheTTL:       300 * time.Second,
		ClientLogsOnly: true,
	}
}

// LogEntry is one Elasticsearch hit source, with the document ID attached.
type LogEntry struct {
	ID              string `json:"_id"`
	Message         string `json:"message"`
	Level           string `json:"level"`
	Timestamp       string `json:"@timestamp"`
	RedisInstance   string `json:"redis_instance,omitempty"`
}

type cacheEntry struct {
	logs     []LogEntry
	queried  time.Time
}

// Client queries the log store and caches results per instance.
//
// # Thread Safety
//
// Client is safe for concurrent use.
type Client struct {
	config  Config
	http    *http.Client
	breaker *circuitbreaker.Breaker

	mu    sync.Mutex
	cache map[string]cacheEntry

	// group collapses concurrent cache-miss queries for the same instance
	// (the decision loop's tick and advise paths can both ask for the same
	// instance's logs within the same cycle) into a single upstream call.
	group singleflight.Group
}

// New creates a Client guarded by a circuit breaker.
func New(config Config, breaker *circuitbreaker.Breaker) *Client {
	if config.IndexPattern == "" {
		config.IndexPattern = "logstash-*"
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 300 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		breaker: breaker,
		cache:   make(map[string]cacheEntry),
	}
}

// GetClientLogs returns cached logs for instanceUID if the cache is fresh,
// otherwise queries the log store and refreshes the cache.
func (c *Client) GetClientLogs(ctx context.Context, instanceUID, instanceName string, windowMinutes int, maxLogs int, forceRefresh bool) ([]LogEntry, error) {
	c.mu.Lock()
	entry, ok := c.cache[instanceUID]
	c.mu.Unlock()

	if ok && !forceRefresh && time.Since(entry.queried) < c.config.CacheTTL {
		return entry.logs, nil
	}

	key := fmt.Sprintf("%s:%d:%d", instanceUID, windowMinutes, maxLogs)
	result, err, _ := c.group.Do(key, func() (any, error) {
		return c.query(ctx, instanceUID, instanceName, windowMinutes, maxLogs)
	})
	if err != nil {
		return nil, err
	}
	logs := result.([]LogEntry)

	c.mu.Lock()
	c.cache[instanceUID] = cacheEntry{logs: logs, queried: time.Now()}
	c.mu.Unlock()
	return logs, nil
}

type esQuery struct {
	Query esBoolQuery `json:"query"`
	Sort  []esSort    `json:"sort"`
	Size  int         `json:"size"`
}

type esBoolQuery struct {
	Bool esBool `json:"bool"`
}

type esBool struct {
	Must []json.RawMessage `json:"must"`
}

type esSort struct {
	Timestamp esOrder `json:"@timestamp"`
}

type esOrder struct {
	Order string `json:"order"`
}

func (c *Client) query(ctx context.Context, instanceUID, instanceName string, windowMinutes, maxLogs int) ([]LogEntry, error) {
	now := time.Now().UTC()
	start := now.Add(-time.Duration(windowMinutes) * time.Minute)

	must := []json.RawMessage{
		mustJSON(map[string]any{
			"range": map[string]any{
				"@timestamp": map[string]any{
					"gte": start.Format("2006-01-02T15:04:05.000Z"),
					"lte": now.Format("2006-01-02T15:04:05.000Z"),
				},
			},
		}),
		mustJSON(map[string]any{
			"bool": map[string]any{
				"should": []map[string]any{
					{"term": map[string]any{"redis_instance.keyword": instanceUID}},
					{"term": map[string]any{"redis_instance_name.keyword": instanceName}},
					{"query_string": map[string]any{
						"query":           fmt.Sprintf("message:*%s* OR message:*%s*", instanceUID, instanceName),
						"analyze_wildcard": true,
					}},
				},
				"minimum_should_match": 1,
			},
		}),
	}
	if c.config.ClientLogsOnly {
		must = append(must, mustJSON(map[string]any{
			"term": map[string]any{"log_source.keyword": "client"},
		}))
	}

	q := esQuery{
		Query: esBoolQuery{Bool: esBool{Must: must}},
		Sort:  []esSort{{Timestamp: esOrder{Order: "desc"}}},
		Size:  maxLogs,
	}

	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal elasticsearch query: %w", err)
	}

	url := strings.TrimRight(c.config.URL, "/") + "/" + c.config.IndexPattern + "/_search"

	var hits esResponse
	err = c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build log query request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.config.Username != "" {
			req.SetBasicAuth(c.config.Username, c.config.Password)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("query log store: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("log store returned status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&hits)
	})
	if err != nil {
		return nil, err
	}

	logs := make([]LogEntry, 0, len(hits.Hits.Hits))
	for _, h := range hits.Hits.Hits {
		entry := h.Source
		entry.ID = h.ID
		logs = append(logs, entry)
	}
	return logs, nil
}

func mustJSON(v map[string]any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

type esResponse struct {
	Hits struct {
		Hits []struct {
			ID     string   `json:"_id"`
			Source LogEntry `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// AnalyzeClientErrors classifies error rate, category breakdown, and spike
// minutes for a set of logs, matching the reference implementation's
// thresholds and substring-match categorization exactly.
func AnalyzeClientErrors(logs []LogEntry) domain.ClientErrorAnalysis {
	if len(logs) == 0 {
		return domain.ClientErrorAnalysis{ClientImpact: "none"}
	}

	var errorCount, connErr, timeoutErr, memErr, authErr int
	distribution := make(map[string]domain.MinuteCounts)

	for _, log := range logs {
		message := strings.ToLower(log.Message)
		level := strings.ToUpper(log.Level)
		isError := level == "ERROR" || level == "SEVERE" || level == "FATAL" ||
			strings.Contains(message, "error") || strings.Contains(message, "exception")

		if len(log.Timestamp) >= 16 {
			minute := log.Timestamp[:16]
			mc := distribution[minute]
			mc.Total++
			if isError {
				mc.Errors++
			}
			distribution[minute] = mc
		}

		if !isError {
			continue
		}
		errorCount++
		if strings.Contains(message, "connection") || strings.Contains(message, "connect") {
			connErr++
		}
		if strings.Contains(message, "timeout") || strings.Contains(message, "timed out") {
			timeoutErr++
		}
		if strings.Contains(message, "memory") || strings.Contains(message, "oom") || strings.Contains(message, "out of memory") {
			memErr++
		}
		if strings.Contains(message, "auth") || strings.Contains(message, "password") || strings.Contains(message, "unauthorized") {
			authErr++
		}
	}

	total := len(logs)
	errorRate := float64(errorCount) / float64(total)

	var spikes []string
	for minute, counts := range distribution {
		if counts.Total > 0 && counts.Errors >= 3 && float64(counts.Errors)/float64(counts.Total) > 0.5 {
			spikes = append(spikes, minute)
		}
	}
	sort.Strings(spikes)

	return domain.ClientErrorAnalysis{
		ErrorRate:                errorRate,
		ErrorCount:               errorCount,
		TotalLogs:                total,
		HasConnectionErrors:      connErr > 0,
		HasTimeoutErrors:         timeoutErr > 0,
		HasMemoryErrors:          memErr > 0,
		HasAuthenticationErrors:  authErr > 0,
		ConnectionErrorCount:     connErr,
		TimeoutErrorCount:        timeoutErr,
		MemoryErrorCount:         memErr,
		AuthenticationErrorCount: authErr,
		ClientImpact:             classifyImpact(errorRate),
		ErrorDistribution:        distribution,
		ErrorSpikes:              spikes,
	}
}

func classifyImpact(errorRate float64) string {
	switch {
	case errorRate > 0.5:
		return "severe"
	case errorRate > 0.2:
		return "high"
	case errorRate > 0.05:
		return "medium"
	case errorRate > 0:
		return "low"
	default:
		return "none"
	}
}
