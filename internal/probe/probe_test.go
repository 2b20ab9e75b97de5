// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package probe

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcsentinel/agent/internal/circuitbreaker"
	"github.com/dcsentinel/agent/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBreaker() *circuitbreaker.Breaker {
	return circuitbreaker.New("probe-test", circuitbreaker.DefaultConfig())
}

func TestProbe_FetchParsesSuccessfulResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"latency_ms":12.5,"memory_used_percent":55,"hit_rate":0.9,"ops_per_second":1000,"connected_clients":42,"rejected_connections":0,"evicted_keys":3,"api_avg_latency_ms":8}`))
	}))
	defer server.Close()

	instance := domain.Instance{UID: "inst-1"}
	p := New(instance, "us-east", server.URL, DefaultConfig(), testBreaker(), func(domain.MetricsSample, error) {}, discardLogger())

	sample, err := p.fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "inst-1", sample.InstanceUID)
	assert.Equal(t, "us-east", sample.DC)
	assert.Equal(t, 12.5, sample.LatencyMS)
	assert.Equal(t, 42.0, sample.ConnectedClients)
}

func TestProbe_FetchNonOKStatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := New(domain.Instance{UID: "inst-1"}, "us-east", server.URL, DefaultConfig(), testBreaker(), func(domain.MetricsSample, error) {}, discardLogger())

	_, err := p.fetch(context.Background())
	assert.Error(t, err)
}

func TestProbe_FetchMalformedBodyErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	p := New(domain.Instance{UID: "inst-1"}, "us-east", server.URL, DefaultConfig(), testBreaker(), func(domain.MetricsSample, error) {}, discardLogger())

	_, err := p.fetch(context.Background())
	assert.Error(t, err)
}

func TestProbe_StartInvokesHandlerImmediatelyAndOnInterval(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"latency_ms":1}`))
	}))
	defer server.Close()

	var mu sync.Mutex
	var calls int
	handler := func(sample domain.MetricsSample, err error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
	}

	cfg := Config{Interval: 20 * time.Millisecond, Timeout: time.Second}
	p := New(domain.Instance{UID: "inst-1"}, "us-east", server.URL, cfg, testBreaker(), handler, discardLogger())

	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestProbe_StopHaltsTheLoop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	var mu sync.Mutex
	var calls int
	handler := func(domain.MetricsSample, error) {
		mu.Lock()
		calls++
		mu.Unlock()
	}

	cfg := Config{Interval: 10 * time.Millisecond, Timeout: time.Second}
	p := New(domain.Instance{UID: "inst-1"}, "us-east", server.URL, cfg, testBreaker(), handler, discardLogger())
	p.Start()
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	mu.Lock()
	after := calls
	mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, after, calls, "no further handler calls should occur after Stop returns")
}
