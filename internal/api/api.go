// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package api exposes the supervisor's HTTP surface: health/readiness
// probes, instance and decision introspection, manual failover, and
// Prometheus metrics exposition.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/dcsentinel/agent/internal/decision"
	"github.com/dcsentinel/agent/internal/domain"
)

// InstanceStore is the read-side view the API needs over supervised
// instances and their health, decoupled from any one storage backend.
type InstanceStore interface {
	Instances() []domain.Instance
	Instance(uid string) (domain.Instance, bool)
	HealthByDC(uid string) map[string]domain.HealthStatus
}

// Server wires the gin engine, the decision engine for manual failover,
// and the read-side instance store.
type Server struct {
	engine      *gin.Engine
	store       InstanceStore
	decider     *decision.Engine
	alertStream http.Handler
}

// New builds a Server instrumented with OTel tracing via otelgin. The
// otel prometheus exporter registers its collectors with the default
// Prometheus registerer, so /metrics is served via promhttp.Handler.
// alertStream may be nil, in which case the live alert feed is not mounted.
func New(store InstanceStore, decider *decision.Engine, alertStream http.Handler) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("dcsentinel"))

	s := &Server{engine: r, store: store, decider: decider, alertStream: alertStream}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/readyz", s.handleReadyz)

	v1 := s.engine.Group("/api/v1")
	v1.GET("/instances", s.handleListInstances)
	v1.GET("/instances/:uid/health", s.handleInstanceHealth)
	v1.GET("/instances/:uid/decisions", s.handleInstanceDecisions)
	v1.POST("/instances/:uid/failover", s.handleManualFailover)
	if s.alertStream != nil {
		v1.GET("/alerts/stream", gin.WrapH(s.alertStream))
	}

	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler returns the underlying http.Handler for use with an http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReadyz(c *gin.Context) {
	if len(s.store.Instances()) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "no instances configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) handleListInstances(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Instances())
}

func (s *Server) handleInstanceHealth(c *gin.Context) {
	uid := c.Param("uid")
	if _, ok := s.store.Instance(uid); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
		return
	}
	c.JSON(http.StatusOK, s.store.HealthByDC(uid))
}

func (s *Server) handleInstanceDecisions(c *gin.Context) {
	uid := c.Param("uid")
	if _, ok := s.store.Instance(uid); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
		return
	}
	c.JSON(http.StatusOK, s.decider.History(uid))
}

type failoverRequest struct {
	TargetDC string `json:"target_dc" binding:"required"`
}

func (s *Server) handleManualFailover(c *gin.Context) {
	uid := c.Param("uid")
	instance, ok := s.store.Instance(uid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
		return
	}

	var req failoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision, err := s.decider.ManualFailover(c.Request.Context(), instance, req.TargetDC, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, decision)
}
