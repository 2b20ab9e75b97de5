// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package probe periodically samples a monitored instance's metrics
// endpoint and feeds the result into the health and anomaly pipeline.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dcsentinel/agent/internal/circuitbreaker"
	"github.com/dcsentinel/agent/internal/domain"
)

// Config tunes one probe's HTTP client and cadence.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

func DefaultConfig() Config {
	return Config{Interval: 10 * time.Second, Timeout: 5 * time.Second}
}

// SampleHandler consumes a fetched sample, or records a probe failure
// when err is non-nil (the metrics endpoint was unreachable or returned
// malformed data).
type SampleHandler func(sample domain.MetricsSample, err error)

// Probe polls one instance's metrics endpoint on a fixed interval,
// wrapping each poll in a circuit breaker so a persistently failing
// target stops hammering the network and instead fails fast.
//
// # Thread Safety
//
// Probe's exported methods are safe for concurrent use; Start/Stop are
// not meant to be called concurrently with each other.
type Probe struct {
	instance domain.Instance
	dc       string
	endpoint string
	config   Config
	client   *http.Client
	breaker  *circuitbreaker.Breaker
	handler  SampleHandler
	log      *slog.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Probe for one instance/datacenter pair.
func New(instance domain.Instance, dc, endpoint string, config Config, breaker *circuitbreaker.Breaker, handler SampleHandler, log *slog.Logger) *Probe {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &Probe{
		instance: instance,
		dc:       dc,
		endpoint: endpoint,
		config:   config,
		client:   &http.Client{Timeout: config.Timeout},
		breaker:  breaker,
		handler:  handler,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start launches the polling loop in a background goroutine.
func (p *Probe) Start() {
	p.wg.Add(1)
	go p.loop()
}

// Stop signals the loop to exit and waits for it to finish.
func (p *Probe) Stop() {
	close(p.done)
	p.wg.Wait()
}

func (p *Probe) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.tick()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Probe) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()

	var sample domain.MetricsSample
	err := p.breaker.Execute(func() error {
		s, err := p.fetch(ctx)
		if err != nil {
			return err
		}
		sample = s
		return nil
	})
	if err != nil {
		p.log.Warn("probe failed", "instance", p.instance.UID, "dc", p.dc, "error", err)
	}
	p.handler(sample, err)
}

// wireSample is the metrics endpoint's response shape.
type wireSample struct {
	LatencyMS            float64 `json:"latency_ms"`
	MemoryUsedPercent     float64 `json:"memory_used_percent"`
	HitRate               float64 `json:"hit_rate"`
	OpsPerSecond          float64 `json:"ops_per_second"`
	ConnectedClients      float64 `json:"connected_clients"`
	RejectedConnections   float64 `json:"rejected_connections"`
	EvictedKeys           float64 `json:"evicted_keys"`
	APIAvgLatencyMS       float64 `json:"api_avg_latency_ms"`
}

func (p *Probe) fetch(ctx context.Context) (domain.MetricsSample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return domain.MetricsSample{}, fmt.Errorf("build probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.MetricsSample{}, fmt.Errorf("probe %s: %w", p.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.MetricsSample{}, fmt.Errorf("probe %s returned status %d", p.endpoint, resp.StatusCode)
	}

	var w wireSample
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return domain.MetricsSample{}, fmt.Errorf("decode probe response from %s: %w", p.endpoint, err)
	}

	return domain.MetricsSample{
		InstanceUID:           p.instance.UID,
		DC:                    p.dc,
		Timestamp:             time.Now(),
		LatencyMS:             w.LatencyMS,
		MemoryUsedPercent:     w.MemoryUsedPercent,
		HitRate:               w.HitRate,
		OpsPerSecond:          w.OpsPerSecond,
		ConnectedClients:      w.ConnectedClients,
		RejectedConnections:   w.RejectedConnections,
		EvictedKeys:           w.EvictedKeys,
		APIAvgLatencyMS:       w.APIAvgLatencyMS,
	}, nil
}
