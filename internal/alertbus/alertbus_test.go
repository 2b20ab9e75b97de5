// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package alertbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcsentinel/agent/internal/domain"
)

type fakeSink struct {
	received []domain.Alert
	err      error
}

func (f *fakeSink) Send(_ context.Context, alert domain.Alert) error {
	f.received = append(f.received, alert)
	return f.err
}

func TestBus_PublishFansOutToAllSinks(t *testing.T) {
	a, b := &fakeSink{}, &fakeSink{}
	bus := New(a, b)

	alert := domain.Alert{Severity: "warning", Message: "dc degraded"}
	require.NoError(t, bus.Publish(context.Background(), alert))

	require.Len(t, a.received, 1)
	require.Len(t, b.received, 1)
	assert.Equal(t, "dc degraded", a.received[0].Message)
}

func TestBus_PublishAggregatesSinkFailuresButContinues(t *testing.T) {
	failing := &fakeSink{err: errors.New("webhook down")}
	working := &fakeSink{}
	bus := New(failing, working)

	err := bus.Publish(context.Background(), domain.Alert{Message: "test"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 alert sinks failed")
	assert.Len(t, working.received, 1, "a failing sink must not block delivery to the rest")
}

func TestBus_RegisterAddsSinkAfterConstruction(t *testing.T) {
	bus := New()
	sink := &fakeSink{}
	bus.Register(sink)

	require.NoError(t, bus.Publish(context.Background(), domain.Alert{Message: "hi"}))
	assert.Len(t, sink.received, 1)
}

func TestBus_PublishAssignsIDWhenBlank(t *testing.T) {
	sink := &fakeSink{}
	bus := New(sink)

	require.NoError(t, bus.Publish(context.Background(), domain.Alert{Message: "hi"}))
	require.Len(t, sink.received, 1)
	assert.NotEmpty(t, sink.received[0].ID)
}

func TestBus_PublishPreservesCallerSuppliedID(t *testing.T) {
	sink := &fakeSink{}
	bus := New(sink)

	require.NoError(t, bus.Publish(context.Background(), domain.Alert{ID: "caller-id", Message: "hi"}))
	require.Len(t, sink.received, 1)
	assert.Equal(t, "caller-id", sink.received[0].ID)
}
