// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package alertbus publishes operational alerts to one or more sinks.
package alertbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dcsentinel/agent/internal/domain"
)

// Sink delivers a single alert. Publish fans an alert out to every
// registered sink and aggregates any errors.
type Sink interface {
	Send(ctx context.Context, alert domain.Alert) error
}

// Bus fans an alert out to every registered sink.
//
// # Thread Safety
//
// Bus is safe for concurrent use.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
}

// New creates a Bus with the given initial sinks.
func New(sinks ...Sink) *Bus {
	return &Bus{sinks: sinks}
}

// Register adds a sink after construction.
func (b *Bus) Register(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Publish delivers alert to every sink, continuing past individual sink
// failures. If any sink fails, the returned error reports how many failed
// and wraps the first failure.
func (b *Bus) Publish(ctx context.Context, alert domain.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d alert sinks failed: %w", len(errs), len(sinks), errs[0])
}
