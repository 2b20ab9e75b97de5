// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads, validates, and hot-reloads the supervisor's
// JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
)

// Datacenter describes one replica site an instance may fail over to.
type Datacenter struct {
	Name   string `json:"name" validate:"required"`
	Suffix string `json:"suffix" validate:"required"`
	Region string `json:"region"`
}

// Instance describes one monitored key-value store deployment.
type Instance struct {
	UID       string            `json:"uid" validate:"required"`
	Name      string            `json:"name" validate:"required"`
	ActiveDC  string            `json:"active_dc" validate:"required"`
	Endpoints map[string]string `json:"endpoints"`
	Tags      map[string]string `json:"tags"`
}

// Config is the top-level supervisor configuration.
type Config struct {
	Datacenters []Datacenter `json:"datacenters" validate:"required,dive"`
	Instances   []Instance   `json:"instances" validate:"required,dive"`

	ProbeIntervalSeconds    int     `json:"probe_interval_seconds" validate:"gte=1"`
	DecisionIntervalSeconds int     `json:"decision_interval_seconds" validate:"gte=1"`
	AnomalyThreshold        float64 `json:"anomaly_threshold" validate:"gte=0,lte=1"`
	AIFailoverConfidence    float64 `json:"ai_failover_confidence" validate:"gte=0,lte=1"`

	// FailoverConfidenceThreshold gates the rule-based decision path; a
	// zero value lets the decision package fall back to its own default
	// (0.95) rather than forcing every config file to specify it.
	FailoverConfidenceThreshold float64 `json:"failover_confidence_threshold" validate:"gte=0,lte=1"`
	// AutoFailover permits the rule-based path to execute once it clears
	// FailoverConfidenceThreshold. When false, qualifying decisions are
	// still recorded and alerted as manual_failover_required.
	AutoFailover bool `json:"auto_failover"`

	DNSProvider string `json:"dns_provider" validate:"oneof=route53 clouddns"`
	Route53     struct {
		ZoneID string `json:"zone_id"`
	} `json:"route53"`
	CloudDNS struct {
		ProjectID string `json:"project_id"`
		ZoneName  string `json:"zone_name"`
	} `json:"clouddns"`

	LLM struct {
		Model           string `json:"model"`
		AzureEndpoint   string `json:"azure_endpoint"`
		AzureAPIVersion string `json:"azure_api_version"`
		AzureDeployment string `json:"azure_deployment"`
	} `json:"llm"`

	LogStoreURL string `json:"log_store_url" validate:"required,url"`

	// InfluxDB optionally mirrors every recorded metric point to a
	// long-term InfluxDB bucket. Export is disabled when URL is empty.
	InfluxDB struct {
		URL    string `json:"url"`
		Token  string `json:"token"`
		Org    string `json:"org"`
		Bucket string `json:"bucket"`
	} `json:"influxdb"`

	// MetricsJSONLDir, when set, enables a per-instance append-only JSONL
	// audit trail of every recorded metric point.
	MetricsJSONLDir string `json:"metrics_jsonl_dir"`

	// GCSArchive optionally uploads rotated-out JSONL mirror files to a
	// GCS bucket before they are pruned locally. Archival is disabled
	// when Bucket is empty.
	GCSArchive struct {
		Bucket string `json:"bucket"`
		Prefix string `json:"prefix"`
	} `json:"gcs_archive"`
}

var (
	global   Config
	once     sync.Once
	loadErr  error
	validate = validator.New()
)

// Load reads and validates the config at path exactly once per process;
// subsequent calls return the cached result.
func Load(path string) (*Config, error) {
	once.Do(func() {
		loadErr = loadInto(path, &global)
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return &global, nil
}

func loadInto(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var next Config
	if err := json.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := validate.Struct(next); err != nil {
		return fmt.Errorf("validate config %s: %w", path, err)
	}
	*cfg = next
	return nil
}

// Watcher hot-reloads the roster (datacenters/instances) whenever the
// config file changes on disk, without restarting the process.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	onReload func(Config)
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher begins watching path's parent directory (fsnotify requires
// watching a directory to reliably observe editor-style atomic renames).
func NewWatcher(path string, onReload func(Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}
	return &Watcher{path: path, watcher: fw, onReload: onReload, done: make(chan struct{})}, nil
}

// Start launches the reload loop in a background goroutine.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop halts the watcher and waits for the goroutine to exit.
func (w *Watcher) Stop() {
	close(w.done)
	w.wg.Wait()
	w.watcher.Close()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	var debounce *time.Timer
	for {
		select {
		case <-w.done:
			if debounce != nil {
				debounce.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, w.reload)
		case <-w.watcher.Errors:
			continue
		}
	}
}

func (w *Watcher) reload() {
	var next Config
	if err := loadInto(w.path, &next); err != nil {
		return
	}
	global = next
	if w.onReload != nil {
		w.onReload(next)
	}
}
