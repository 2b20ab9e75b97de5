// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package runtime assembles the probe, health, anomaly, decision, and
// alerting components into one running supervisor process.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/dcsentinel/agent/internal/alertbus"
	"github.com/dcsentinel/agent/internal/anomaly"
	"github.com/dcsentinel/agent/internal/circuitbreaker"
	cfgpkg "github.com/dcsentinel/agent/internal/config"
	"github.com/dcsentinel/agent/internal/decision"
	"github.com/dcsentinel/agent/internal/dnsfailover"
	"github.com/dcsentinel/agent/internal/domain"
	"github.com/dcsentinel/agent/internal/health"
	"github.com/dcsentinel/agent/internal/llmadvisor"
	"github.com/dcsentinel/agent/internal/logevidence"
	"github.com/dcsentinel/agent/internal/metricsstore"
	"github.com/dcsentinel/agent/internal/probe"
	"github.com/dcsentinel/agent/pkg/logging"
)

// instanceState tracks the mutable, per-instance-per-DC health view the
// rest of the supervisor reads from.
type instanceState struct {
	mu          sync.RWMutex
	instance    domain.Instance
	healthByDC  map[string]domain.HealthStatus
}

// Supervisor owns every long-running component and exposes the read-side
// views the HTTP API and CLI need.
type Supervisor struct {
	cfg         *cfgpkg.Config
	log         *logging.Logger
	datacenters map[string]domain.Datacenter

	stores       map[string]*metricsstore.Store
	detector     *anomaly.Detector
	logClient    *logevidence.Client
	advisor      *llmadvisor.Advisor
	alerts       *alertbus.Bus
	alertStream  *alertbus.WebSocketSink
	decider      *decision.Engine

	mu     sync.RWMutex
	states map[string]*instanceState

	probes     []*probe.Probe
	schedulers []*metricsstore.PruneScheduler
}

// Deps bundles the externally-constructed components a Supervisor wires
// together; callers build these from config (DNS provider, secrets).
type Deps struct {
	DNSExecutor decision.Executor
	AlertSinks  []alertbus.Sink
	Breaker     *circuitbreaker.Registry
}

// New builds a Supervisor for the given config, with one metrics store,
// probe, and health state per configured instance/DC pair.
func New(cfg *cfgpkg.Config, log *logging.Logger, deps Deps) (*Supervisor, error) {
	datacenters := make(map[string]domain.Datacenter, len(cfg.Datacenters))
	for _, dc := range cfg.Datacenters {
		datacenters[dc.Name] = domain.Datacenter{Name: dc.Name, Suffix: dc.Suffix, Region: dc.Region}
	}

	alertStream := alertbus.NewWebSocketSink()
	alerts := alertbus.New(append(deps.AlertSinks, alertStream)...)
	detector := anomaly.NewDetector(cfg.AnomalyThreshold, 1)

	logClient := logevidence.New(logevidence.DefaultConfig(cfg.LogStoreURL), deps.Breaker.Get("log-evidence"))

	var advisor *llmadvisor.Advisor
	if cfg.LLM.Model != "" {
		advisorCfg := llmadvisor.DefaultConfig()
		advisorCfg.Model = cfg.LLM.Model
		advisorCfg.AzureEndpoint = cfg.LLM.AzureEndpoint
		advisorCfg.AzureAPIVersion = cfg.LLM.AzureAPIVersion
		advisorCfg.AzureDeployment = cfg.LLM.AzureDeployment
		advisor = llmadvisor.New(advisorCfg)
	}

	s := &Supervisor{
		cfg:         cfg,
		log:         log,
		datacenters: datacenters,
		stores:      make(map[string]*metricsstore.Store),
		detector:    detector,
		logClient:   logClient,
		advisor:     advisor,
		alerts:      alerts,
		alertStream: alertStream,
		states:      make(map[string]*instanceState),
	}

	decisionCfg := decision.DefaultConfig()
	decisionCfg.AIFailoverConfidenceThreshold = cfg.AIFailoverConfidence
	if cfg.FailoverConfidenceThreshold > 0 {
		decisionCfg.FailoverConfidenceThreshold = cfg.FailoverConfidenceThreshold
	}
	decisionCfg.AutoFailover = cfg.AutoFailover
	decisionCfg.DecisionInterval = time.Duration(cfg.DecisionIntervalSeconds) * time.Second
	s.decider = decision.NewEngine(decisionCfg, deps.DNSExecutor, alerts, s.clientErrorRate)
	s.decider.OnActiveDCChange(s.updateActiveDC)

	var gcsArchiver *metricsstore.GCSArchiver
	if cfg.GCSArchive.Bucket != "" {
		archiver, err := metricsstore.NewGCSArchiver(context.Background(), cfg.GCSArchive.Bucket, cfg.GCSArchive.Prefix)
		if err != nil {
			return nil, fmt.Errorf("build gcs archiver: %w", err)
		}
		gcsArchiver = archiver
	}

	for _, inst := range cfg.Instances {
		instance := domain.Instance{UID: inst.UID, Name: inst.Name, ActiveDC: inst.ActiveDC, Endpoints: inst.Endpoints, Tags: inst.Tags}
		store, err := metricsstore.New(metricsstore.DefaultConfig(), nil)
		if err != nil {
			return nil, fmt.Errorf("build metrics store for %s: %w", inst.UID, err)
		}
		if cfg.InfluxDB.URL != "" {
			store.SetExporter(metricsstore.NewInfluxExporter(cfg.InfluxDB.URL, cfg.InfluxDB.Token, cfg.InfluxDB.Org, cfg.InfluxDB.Bucket))
		}
		if cfg.MetricsJSONLDir != "" {
			mirrorPath := filepath.Join(cfg.MetricsJSONLDir, inst.UID+".jsonl")
			mirror, err := metricsstore.NewJSONLMirror(metricsstore.DefaultJSONLMirrorConfig(mirrorPath))
			if err != nil {
				return nil, fmt.Errorf("build jsonl mirror for %s: %w", inst.UID, err)
			}
			if gcsArchiver != nil {
				mirror.SetArchiver(gcsArchiver)
			}
			store.SetMirror(mirror)
		}
		s.stores[inst.UID] = store
		s.states[inst.UID] = &instanceState{instance: instance, healthByDC: make(map[string]domain.HealthStatus)}

		for _, dc := range cfg.Datacenters {
			endpoint, ok := inst.Endpoints[dc.Name]
			if !ok {
				continue
			}
			dcName := dc.Name
			p := probe.New(instance, dcName, endpoint, probe.DefaultConfig(), deps.Breaker.Get(inst.UID+"/"+dcName),
				func(sample domain.MetricsSample, err error) { s.handleSample(inst.UID, dcName, sample, err) },
				log.Slog())
			s.probes = append(s.probes, p)
		}
	}

	return s, nil
}

func (s *Supervisor) handleSample(instanceUID, dc string, sample domain.MetricsSample, probeErr error) {
	now := time.Now()
	store := s.stores[instanceUID]

	s.mu.RLock()
	st := s.states[instanceUID]
	s.mu.RUnlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	prior := st.healthByDC[dc]
	st.mu.Unlock()

	var status domain.HealthStatus
	if probeErr == nil {
		if err := store.RecordSample(sample); err != nil {
			s.log.Warn("record sample failed", "instance", instanceUID, "dc", dc, "error", err)
		}
		latencyBaseline := store.GetBaseline(instanceUID, "latency_ms")
		hitRateBaseline := store.GetBaseline(instanceUID, "hit_rate")
		status = health.Evaluate(sample, latencyBaseline, hitRateBaseline, prior, false, health.DefaultThresholds())

		result := s.detector.Observe(sample, now)
		status = health.ApplyAnomaly(status, result.IsAnomaly, result.Score)
		if health.ShouldAlertAnomaly(status, s.cfg.AnomalyThreshold) {
			s.publishAnomalyAlert(instanceUID, dc, status)
		}
	} else {
		status = health.Evaluate(domain.MetricsSample{InstanceUID: instanceUID, DC: dc}, metricsstore.Baseline{}, metricsstore.Baseline{}, prior, true, health.DefaultThresholds())
	}
	status.InstanceUID = instanceUID
	status.DC = dc
	status.LastUpdated = now

	st.mu.Lock()
	st.healthByDC[dc] = status
	st.mu.Unlock()
}

// updateActiveDC persists a post-failover active_dc change back onto the
// instance record, registered with the decision engine via
// OnActiveDCChange so both the automatic decision loop and manual API
// failovers keep the supervisor's view of active_dc authoritative.
func (s *Supervisor) updateActiveDC(instanceUID, dc string) {
	s.mu.RLock()
	st := s.states[instanceUID]
	s.mu.RUnlock()
	if st == nil {
		return
	}
	st.mu.Lock()
	st.instance.ActiveDC = dc
	st.mu.Unlock()
}

// publishAnomalyAlert surfaces a sustained anomaly (3+ consecutive
// anomalous samples above threshold) on the alert bus.
func (s *Supervisor) publishAnomalyAlert(instanceUID, dc string, status domain.HealthStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.alerts.Publish(ctx, domain.Alert{
		Severity:    "warning",
		Category:    "anomaly_detected",
		InstanceUID: instanceUID,
		Message:     fmt.Sprintf("sustained anomaly on %s/%s (score %.2f, %d consecutive)", instanceUID, dc, status.AnomalyScore, status.ConsecutiveAnomalies),
		Metadata: map[string]any{
			"dc":                    dc,
			"anomaly_score":         status.AnomalyScore,
			"consecutive_anomalies": status.ConsecutiveAnomalies,
		},
		Timestamp: time.Now(),
	})
}

// clientErrorRate satisfies decision.ClientErrorRateFunc by querying the
// log evidence client and re-running its error analysis.
func (s *Supervisor) clientErrorRate(ctx context.Context, instanceUID string) (float64, error) {
	s.mu.RLock()
	st := s.states[instanceUID]
	s.mu.RUnlock()
	if st == nil {
		return 0, fmt.Errorf("unknown instance %s", instanceUID)
	}

	st.mu.RLock()
	name := st.instance.Name
	st.mu.RUnlock()

	logs, err := s.logClient.GetClientLogs(ctx, instanceUID, name, 15, 500, true)
	if err != nil {
		return 0, err
	}
	return logevidence.AnalyzeClientErrors(logs).ErrorRate, nil
}

// Start launches every probe, prune scheduler, and the decision loop for
// each configured instance.
func (s *Supervisor) Start(ctx context.Context) {
	for _, p := range s.probes {
		p.Start()
	}
	for _, store := range s.stores {
		sched := metricsstore.NewPruneScheduler(store, 0)
		sched.Start()
		s.schedulers = append(s.schedulers, sched)
	}

	for uid := range s.states {
		instanceUID := uid
		go s.decider.Loop(ctx, s.log.Slog(), s.tickFor(instanceUID), s.adviseFor(instanceUID))
	}
}

func (s *Supervisor) tickFor(instanceUID string) decision.TickFunc {
	return func(ctx context.Context, now time.Time) (domain.Instance, map[string]domain.HealthStatus, error) {
		s.mu.RLock()
		st := s.states[instanceUID]
		s.mu.RUnlock()
		if st == nil {
			return domain.Instance{}, nil, fmt.Errorf("unknown instance %s", instanceUID)
		}
		st.mu.RLock()
		defer st.mu.RUnlock()
		snapshot := make(map[string]domain.HealthStatus, len(st.healthByDC))
		for k, v := range st.healthByDC {
			snapshot[k] = v
		}
		return st.instance, snapshot, nil
	}
}

func (s *Supervisor) adviseFor(instanceUID string) decision.AdviseFunc {
	if s.advisor == nil {
		return nil
	}
	return func(ctx context.Context, instance domain.Instance, now time.Time) (*domain.AIRecommendation, []domain.AIRecommendationRecord, error) {
		s.mu.RLock()
		st := s.states[instanceUID]
		s.mu.RUnlock()
		if st == nil {
			return nil, nil, nil
		}
		st.mu.RLock()
		active := st.healthByDC[instance.ActiveDC]
		dcStatus := make(map[string]domain.HealthStatus, len(st.healthByDC))
		for k, v := range st.healthByDC {
			dcStatus[k] = v
		}
		st.mu.RUnlock()

		logs, err := s.logClient.GetClientLogs(ctx, instanceUID, instance.Name, 15, 200, false)
		if err != nil {
			return nil, nil, err
		}
		clientErrors := logevidence.AnalyzeClientErrors(logs)

		if !llmadvisor.ShouldConsult(active, clientErrors) {
			return nil, s.advisor.History(instanceUID), nil
		}

		sample := domain.MetricsSample{InstanceUID: instanceUID, DC: instance.ActiveDC, Timestamp: now}
		rec, err := s.advisor.Consult(ctx, instance, sample, dcStatus, clientErrors, logs, now)
		if err != nil {
			return nil, s.advisor.History(instanceUID), err
		}
		return &rec, s.advisor.History(instanceUID), nil
	}
}

// Stop halts every probe, scheduler, and durable store.
func (s *Supervisor) Stop() {
	for _, p := range s.probes {
		p.Stop()
	}
	for _, sched := range s.schedulers {
		sched.Stop()
	}
	for _, store := range s.stores {
		_ = store.Close()
	}
}

// Instances implements api.InstanceStore.
func (s *Supervisor) Instances() []domain.Instance {
	s.mu.RLock()
	states := make([]*instanceState, 0, len(s.states))
	for _, st := range s.states {
		states = append(states, st)
	}
	s.mu.RUnlock()

	out := make([]domain.Instance, 0, len(states))
	for _, st := range states {
		st.mu.RLock()
		out = append(out, st.instance)
		st.mu.RUnlock()
	}
	return out
}

// Instance implements api.InstanceStore.
func (s *Supervisor) Instance(uid string) (domain.Instance, bool) {
	s.mu.RLock()
	st, ok := s.states[uid]
	s.mu.RUnlock()
	if !ok {
		return domain.Instance{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.instance, true
}

// HealthByDC implements api.InstanceStore.
func (s *Supervisor) HealthByDC(uid string) map[string]domain.HealthStatus {
	s.mu.RLock()
	st := s.states[uid]
	s.mu.RUnlock()
	if st == nil {
		return nil
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make(map[string]domain.HealthStatus, len(st.healthByDC))
	for k, v := range st.healthByDC {
		out[k] = v
	}
	return out
}

// Decider exposes the decision engine for manual failover (CLI, API).
func (s *Supervisor) Decider() *decision.Engine {
	return s.decider
}

// AlertStream exposes the websocket handler operators connect to for a
// live tail of every published alert.
func (s *Supervisor) AlertStream() http.Handler {
	return s.alertStream
}

// Datacenters returns every configured datacenter keyed by name, as used
// by the DNS executor's endpoint resolution.
func (s *Supervisor) Datacenters() map[string]domain.Datacenter {
	return s.datacenters
}
