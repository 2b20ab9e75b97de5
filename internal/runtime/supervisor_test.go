// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcsentinel/agent/internal/alertbus"
	"github.com/dcsentinel/agent/internal/circuitbreaker"
	cfgpkg "github.com/dcsentinel/agent/internal/config"
	"github.com/dcsentinel/agent/internal/decision"
	"github.com/dcsentinel/agent/internal/domain"
	"github.com/dcsentinel/agent/pkg/logging"
)

type fakeExecutor struct{}

func (fakeExecutor) Failover(context.Context, domain.Instance, string, string) error { return nil }

func testConfig(logStoreURL string) *cfgpkg.Config {
	cfg := &cfgpkg.Config{
		Datacenters: []cfgpkg.Datacenter{{Name: "us-east", Suffix: "use1"}, {Name: "us-west", Suffix: "usw1"}},
		Instances: []cfgpkg.Instance{
			{UID: "inst-1", Name: "cache-primary", ActiveDC: "us-east", Endpoints: map[string]string{"us-east": "http://127.0.0.1:0/metrics"}},
		},
		ProbeIntervalSeconds:    10,
		DecisionIntervalSeconds: 30,
		AnomalyThreshold:        0.7,
		AIFailoverConfidence:    0.8,
		LogStoreURL:             logStoreURL,
	}
	return cfg
}

func newTestSupervisor(t *testing.T, logStoreURL string) *Supervisor {
	t.Helper()
	logger := logging.New(logging.Config{Quiet: true})
	t.Cleanup(func() { _ = logger.Close() })

	deps := Deps{
		DNSExecutor: fakeExecutor{},
		AlertSinks:  nil,
		Breaker:     circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
	}
	sup, err := New(testConfig(logStoreURL), logger, deps)
	require.NoError(t, err)
	return sup
}

func TestNew_BuildsOneProbePerInstanceDCPair(t *testing.T) {
	sup := newTestSupervisor(t, "http://127.0.0.1:0")
	assert.Len(t, sup.probes, 1)
	assert.Len(t, sup.Instances(), 1)
}

func TestInstance_LooksUpByUID(t *testing.T) {
	sup := newTestSupervisor(t, "http://127.0.0.1:0")
	inst, ok := sup.Instance("inst-1")
	require.True(t, ok)
	assert.Equal(t, "cache-primary", inst.Name)

	_, ok = sup.Instance("missing")
	assert.False(t, ok)
}

func TestHandleSample_PopulatesHealthAndSurvivesProbeError(t *testing.T) {
	sup := newTestSupervisor(t, "http://127.0.0.1:0")

	sample := domain.MetricsSample{InstanceUID: "inst-1", DC: "us-east", LatencyMS: 5, MemoryUsedPercent: 30}
	sup.handleSample("inst-1", "us-east", sample, nil)

	health := sup.HealthByDC("inst-1")
	require.Contains(t, health, "us-east")
	assert.Equal(t, domain.StatusHealthy, health["us-east"].Status)

	sup.handleSample("inst-1", "us-east", domain.MetricsSample{}, errors.New("probe unreachable"))
	health = sup.HealthByDC("inst-1")
	assert.Equal(t, 1, health["us-east"].ConsecutiveErrors)
}

func TestClientErrorRate_UnknownInstanceErrors(t *testing.T) {
	sup := newTestSupervisor(t, "http://127.0.0.1:0")
	_, err := sup.clientErrorRate(context.Background(), "missing")
	assert.Error(t, err)
}

func TestClientErrorRate_QueriesLogClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hits":{"hits":[]}}`))
	}))
	defer server.Close()
	sup := newTestSupervisor(t, server.URL)

	rate, err := sup.clientErrorRate(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rate, 0.0)
}

func TestTickFor_ReturnsInstanceSnapshotAndHealth(t *testing.T) {
	sup := newTestSupervisor(t, "http://127.0.0.1:0")
	sup.handleSample("inst-1", "us-east", domain.MetricsSample{InstanceUID: "inst-1", DC: "us-east"}, nil)

	tick := sup.tickFor("inst-1")
	inst, status, err := tick(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "inst-1", inst.UID)
	assert.Contains(t, status, "us-east")

	tick = sup.tickFor("missing")
	_, _, err = tick(context.Background(), time.Now())
	assert.Error(t, err)
}

func TestAdviseFor_NilAdvisorReturnsNilFunc(t *testing.T) {
	sup := newTestSupervisor(t, "http://127.0.0.1:0")
	assert.Nil(t, sup.adviseFor("inst-1"))
}

func TestDecider_ReturnsConfiguredEngine(t *testing.T) {
	sup := newTestSupervisor(t, "http://127.0.0.1:0")
	assert.IsType(t, &decision.Engine{}, sup.Decider())
}

func TestDatacenters_ReturnsConfiguredSet(t *testing.T) {
	sup := newTestSupervisor(t, "http://127.0.0.1:0")
	dcs := sup.Datacenters()
	assert.Contains(t, dcs, "us-east")
	assert.Contains(t, dcs, "us-west")
}

func TestStop_IsIdempotentWithNoProbesStarted(t *testing.T) {
	sup := newTestSupervisor(t, "http://127.0.0.1:0")
	sup.Stop()
}

func TestAlertBusRegistersSink(t *testing.T) {
	logger := logging.New(logging.Config{Quiet: true})
	defer logger.Close()
	bus := alertbus.New(alertbus.NewLogSink(logger))
	require.NoError(t, bus.Publish(context.Background(), domain.Alert{Severity: "info", Message: "test"}))
}
