// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package alertbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcsentinel/agent/internal/domain"
	"github.com/dcsentinel/agent/pkg/logging"
)

func TestLogSink_RoutesBySeverity(t *testing.T) {
	exporter := logging.NewBufferedExporter()
	logger := logging.New(logging.Config{Quiet: true, Exporter: exporter})
	t.Cleanup(func() { _ = logger.Close() })

	sink := NewLogSink(logger)
	require.NoError(t, sink.Send(context.Background(), domain.Alert{
		Severity:    "critical",
		Category:    "failover_failed",
		InstanceUID: "inst-1",
		Message:     "failover did not complete",
	}))
	require.NoError(t, sink.Send(context.Background(), domain.Alert{
		Severity: "info",
		Message:  "status nominal",
	}))

	require.Eventually(t, func() bool {
		return len(exporter.Entries()) == 2
	}, time.Second, 5*time.Millisecond)

	entries := exporter.Entries()
	assert.Equal(t, logging.LevelError, entries[0].Level)
	assert.Equal(t, logging.LevelInfo, entries[1].Level)
}
