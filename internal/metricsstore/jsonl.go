// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metricsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Archiver uploads a rotated-out JSONL file to cold storage before it is
// deleted from local disk. Implemented by GCSArchiver; nil disables
// archival and rotated files are simply discarded once MaxRotatedFiles
// is exceeded.
type Archiver interface {
	Archive(ctx context.Context, localPath string) error
}

// JSONLMirrorConfig controls the human-auditable append-only trail.
type JSONLMirrorConfig struct {
	// Path is the JSONL file to append to.
	Path string

	// MaxSize rotates the file once it exceeds this many bytes. Default 10MB.
	MaxSize int64

	// MaxRotatedFiles caps how many rotated ("{path}.1", "{path}.2", ...) files are retained.
	MaxRotatedFiles int
}

// DefaultJSONLMirrorConfig returns the teacher-derived rotation defaults.
func DefaultJSONLMirrorConfig(path string) JSONLMirrorConfig {
	return JSONLMirrorConfig{
		Path:            path,
		MaxSize:         10 * 1024 * 1024,
		MaxRotatedFiles: 3,
	}
}

type jsonlRecord struct {
	InstanceUID string    `json:"instance_uid"`
	Metric      string    `json:"metric"`
	Value       float64   `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
}

// JSONLMirror appends every recorded point to a rotating JSONL file.
//
// # Thread Safety
//
// JSONLMirror is safe for concurrent use.
type JSONLMirror struct {
	config   JSONLMirrorConfig
	mu       sync.Mutex
	file     *os.File
	size     int64
	archiver Archiver
}

// SetArchiver wires an optional cold-storage archiver after construction.
func (m *JSONLMirror) SetArchiver(a Archiver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archiver = a
}

// NewJSONLMirror opens (creating if necessary) the mirror file for appending.
func NewJSONLMirror(config JSONLMirrorConfig) (*JSONLMirror, error) {
	if config.MaxSize <= 0 {
		config.MaxSize = 10 * 1024 * 1024
	}
	if config.MaxRotatedFiles <= 0 {
		config.MaxRotatedFiles = 3
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0750); err != nil {
		return nil, fmt.Errorf("create jsonl mirror dir: %w", err)
	}
	f, err := os.OpenFile(config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open jsonl mirror: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat jsonl mirror: %w", err)
	}
	return &JSONLMirror{config: config, file: f, size: info.Size()}, nil
}

// Append writes one record and rotates the file if it grew past MaxSize.
func (m *JSONLMirror) Append(instanceUID, metric string, p Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	line, err := json.Marshal(jsonlRecord{InstanceUID: instanceUID, Metric: metric, Value: p.Value, Timestamp: p.Timestamp})
	if err != nil {
		return fmt.Errorf("marshal jsonl record: %w", err)
	}
	line = append(line, '\n')

	n, err := m.file.Write(line)
	if err != nil {
		return fmt.Errorf("write jsonl mirror: %w", err)
	}
	m.size += int64(n)

	if m.size >= m.config.MaxSize {
		if err := m.rotateLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (m *JSONLMirror) rotateLocked() error {
	if err := m.file.Close(); err != nil {
		return fmt.Errorf("close jsonl mirror before rotate: %w", err)
	}

	// The shift below overwrites path.{MaxRotatedFiles} with
	// path.{MaxRotatedFiles-1}; archive it first or it is lost silently.
	oldest := fmt.Sprintf("%s.%d", m.config.Path, m.config.MaxRotatedFiles)
	if _, err := os.Stat(oldest); err == nil {
		if m.archiver != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_ = m.archiver.Archive(ctx, oldest)
			cancel()
		}
		_ = os.Remove(oldest)
	}

	for i := m.config.MaxRotatedFiles - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", m.config.Path, i)
		dst := fmt.Sprintf("%s.%d", m.config.Path, i+1)
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, dst)
		}
	}
	if err := os.Rename(m.config.Path, m.config.Path+".1"); err != nil {
		return fmt.Errorf("rotate jsonl mirror: %w", err)
	}

	f, err := os.OpenFile(m.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("reopen jsonl mirror after rotate: %w", err)
	}
	m.file = f
	m.size = 0
	return nil
}

// Close flushes and closes the underlying file.
func (m *JSONLMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("sync jsonl mirror: %w", err)
	}
	return m.file.Close()
}
