// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigJSON = `{
	"datacenters": [{"name":"us-east","suffix":"use1"}],
	"instances": [{"uid":"inst-1","name":"cache-primary","active_dc":"us-east"}],
	"probe_interval_seconds": 10,
	"decision_interval_seconds": 30,
	"anomaly_threshold": 0.7,
	"ai_failover_confidence": 0.6,
	"dns_provider": "route53",
	"log_store_url": "https://logs.example.com"
}`

func writeConfigFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "dcsentinel.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadInto_ValidConfigPopulatesFields(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), validConfigJSON)

	var cfg Config
	require.NoError(t, loadInto(path, &cfg))

	require.Len(t, cfg.Datacenters, 1)
	assert.Equal(t, "us-east", cfg.Datacenters[0].Name)
	require.Len(t, cfg.Instances, 1)
	assert.Equal(t, "inst-1", cfg.Instances[0].UID)
	assert.Equal(t, "route53", cfg.DNSProvider)
}

func TestLoadInto_MissingRequiredFieldFailsValidation(t *testing.T) {
	body := `{
		"datacenters": [{"name":"us-east","suffix":"use1"}],
		"instances": [{"uid":"inst-1","name":"cache-primary","active_dc":"us-east"}],
		"dns_provider": "route53",
		"log_store_url": "https://logs.example.com"
	}`
	path := writeConfigFile(t, t.TempDir(), body)

	var cfg Config
	err := loadInto(path, &cfg)
	require.Error(t, err, "probe_interval_seconds defaults to zero, which fails gte=1")
}

func TestLoadInto_InvalidDNSProviderFailsValidation(t *testing.T) {
	body := `{
		"datacenters": [{"name":"us-east","suffix":"use1"}],
		"instances": [{"uid":"inst-1","name":"cache-primary","active_dc":"us-east"}],
		"probe_interval_seconds": 10,
		"decision_interval_seconds": 30,
		"dns_provider": "bogus",
		"log_store_url": "https://logs.example.com"
	}`
	path := writeConfigFile(t, t.TempDir(), body)

	var cfg Config
	err := loadInto(path, &cfg)
	assert.Error(t, err)
}

func TestLoadInto_MalformedJSONErrors(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "{not json")

	var cfg Config
	err := loadInto(path, &cfg)
	assert.Error(t, err)
}

func TestLoadInto_MissingFileErrors(t *testing.T) {
	var cfg Config
	err := loadInto(filepath.Join(t.TempDir(), "missing.json"), &cfg)
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, validConfigJSON)

	reloaded := make(chan Config, 1)
	w, err := NewWatcher(path, func(c Config) {
		select {
		case reloaded <- c:
		default:
		}
	})
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	updated := `{
		"datacenters": [{"name":"us-east","suffix":"use1"},{"name":"us-west","suffix":"usw1"}],
		"instances": [{"uid":"inst-1","name":"cache-primary","active_dc":"us-east"}],
		"probe_interval_seconds": 10,
		"decision_interval_seconds": 30,
		"dns_provider": "route53",
		"log_store_url": "https://logs.example.com"
	}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Len(t, cfg.Datacenters, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not observe the config change in time")
	}
}

func TestWatcher_StopDoesNotHang(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, validConfigJSON)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	w.Start()
	w.Stop()
}
