// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dcsentinel/agent/internal/alertbus"
	"github.com/dcsentinel/agent/internal/api"
	"github.com/dcsentinel/agent/internal/circuitbreaker"
	cfgpkg "github.com/dcsentinel/agent/internal/config"
	"github.com/dcsentinel/agent/internal/decision"
	"github.com/dcsentinel/agent/internal/dnsfailover"
	"github.com/dcsentinel/agent/internal/domain"
	"github.com/dcsentinel/agent/internal/observability"
	"github.com/dcsentinel/agent/internal/runtime"
	"github.com/dcsentinel/agent/pkg/logging"
)

const shutdownGrace = 10 * time.Second

func runCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor: probe instances, evaluate health, and drive failover decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervisor(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "listen", ":8080", "address for the operator HTTP surface")
	return cmd
}

func runSupervisor(ctx context.Context, addr string) error {
	log := logging.Default()
	defer log.Close()

	obs, err := observability.New(ctx, observability.Config{ServiceName: "dcsentinel"})
	if err != nil {
		return fmt.Errorf("build observability provider: %w", err)
	}
	defer obs.Shutdown(context.Background())

	dnsExecutor, err := buildDNSExecutor(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build dns executor: %w", err)
	}

	sinks := []alertbus.Sink{alertbus.NewLogSink(log)}
	if webhook := os.Getenv("DCSENTINEL_SLACK_WEBHOOK_URL"); webhook != "" {
		sinks = append(sinks, alertbus.NewSlackSink(webhook))
	}

	sup, err := runtime.New(cfg, log, runtime.Deps{
		DNSExecutor: dnsExecutor,
		AlertSinks:  sinks,
		Breaker:     circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
	})
	if err != nil {
		return fmt.Errorf("build supervisor: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sup.Start(runCtx)
	defer sup.Stop()

	server := api.New(sup, sup.Decider(), sup.AlertStream())
	httpServer := &http.Server{Addr: addr, Handler: server.Handler()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

// buildDNSExecutor wires whichever DNSProvider the config selects into a
// dnsfailover.Executor satisfying decision.Executor. The default-record
// table is empty until an operator supplies per-instance records via the
// config's endpoint overrides; EndpointForDC's synthesized-default
// fallback still lets failover work against the configured suffix.
func buildDNSExecutor(ctx context.Context, cfg *cfgpkg.Config) (decision.Executor, error) {
	var provider dnsfailover.Provider
	var err error
	switch cfg.DNSProvider {
	case "route53":
		provider, err = dnsfailover.NewRoute53Provider(ctx, cfg.Route53.ZoneID)
	case "clouddns":
		provider, err = dnsfailover.NewCloudDNSProvider(ctx, cfg.CloudDNS.ProjectID, cfg.CloudDNS.ZoneName)
	default:
		return nil, fmt.Errorf("unsupported dns_provider %q", cfg.DNSProvider)
	}
	if err != nil {
		return nil, err
	}

	return dnsfailover.NewExecutor(provider, dnsfailover.DNSConfig{}, datacentersFromConfig(cfg)), nil
}

func datacentersFromConfig(cfg *cfgpkg.Config) map[string]domain.Datacenter {
	out := make(map[string]domain.Datacenter, len(cfg.Datacenters))
	for _, dc := range cfg.Datacenters {
		out[dc.Name] = domain.Datacenter{Name: dc.Name, Suffix: dc.Suffix, Region: dc.Region}
	}
	return out
}
