// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dnsfailover executes a decided failover by repointing a DNS
// record from one datacenter's endpoint to another's, against a
// pluggable DNSProvider.
package dnsfailover

import (
	"context"
	"fmt"

	"github.com/dcsentinel/agent/internal/domain"
)

// Record is one DNS record to be repointed on failover. Instance-specific
// records (matching InstanceUID or InstanceName) take priority over
// default records shared across instances.
type Record struct {
	Name         string // e.g. "cache.example.com"
	Type         string // not read by Executor: every record is upserted as a CNAME
	TTL          int64
	InstanceUID  string // empty on a default/shared record
	InstanceName string
}

// DNSConfig holds the records an instance's failover should update, plus
// an optional per-instance per-DC endpoint override table.
type DNSConfig struct {
	Records     []Record
	EndpointMap map[string]map[string]string // instanceUID -> dc -> hostname
}

// RecordsForInstance implements the original's record-resolution rule:
// instance-specific records take priority; if none exist, default
// records (matching neither identifier) are copied and tagged with the
// current instance's identifiers.
func (c DNSConfig) RecordsForInstance(instance domain.Instance) []Record {
	var specific []Record
	var defaults []Record
	for _, r := range c.Records {
		switch {
		case r.InstanceUID == instance.UID || (r.InstanceName != "" && r.InstanceName == instance.Name):
			specific = append(specific, r)
		case r.InstanceUID == "" && r.InstanceName == "":
			defaults = append(defaults, r)
		}
	}
	if len(specific) > 0 {
		return specific
	}
	out := make([]Record, len(defaults))
	for i, r := range defaults {
		r.InstanceUID = instance.UID
		r.InstanceName = instance.Name
		out[i] = r
	}
	return out
}

// EndpointForDC resolves the hostname a record should point at for dc,
// in priority order: the instance's own endpoint map, the DNS config's
// per-instance override table, then a synthesized default built from the
// datacenter's configured suffix.
func EndpointForDC(instance domain.Instance, dc domain.Datacenter, cfg DNSConfig) string {
	if ep, ok := instance.Endpoints[dc.Name]; ok && ep != "" {
		return ep
	}
	if byDC, ok := cfg.EndpointMap[instance.UID]; ok {
		if ep, ok := byDC[dc.Name]; ok && ep != "" {
			return ep
		}
	}
	return fmt.Sprintf("%s.%s.%s", instance.Name, dc.Name, dc.Suffix)
}

// Provider issues the wire-level DNS update for one record.
type Provider interface {
	UpsertCNAME(ctx context.Context, recordName string, target string, ttl int64) error
}

// Executor adapts the decision engine's Executor interface to a
// DNSConfig and a backing Provider.
type Executor struct {
	provider    Provider
	config      DNSConfig
	datacenters map[string]domain.Datacenter
}

func NewExecutor(provider Provider, config DNSConfig, datacenters map[string]domain.Datacenter) *Executor {
	return &Executor{provider: provider, config: config, datacenters: datacenters}
}

// Failover repoints every record resolved for instance at toDC's
// endpoint hostname.
func (e *Executor) Failover(ctx context.Context, instance domain.Instance, fromDC, toDC string) error {
	dc, ok := e.datacenters[toDC]
	if !ok {
		return fmt.Errorf("unknown datacenter %q", toDC)
	}
	target := EndpointForDC(instance, dc, e.config)

	records := e.config.RecordsForInstance(instance)
	if len(records) == 0 {
		return fmt.Errorf("no dns records resolved for instance %q", instance.UID)
	}

	for _, r := range records {
		if err := e.provider.UpsertCNAME(ctx, r.Name, target, r.TTL); err != nil {
			return fmt.Errorf("upsert record %q for instance %q: %w", r.Name, instance.UID, err)
		}
	}
	return nil
}
