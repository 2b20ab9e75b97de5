// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package alertbus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcsentinel/agent/internal/domain"
)

func TestSlackSink_SendPostsFormattedMessage(t *testing.T) {
	var received slack.WebhookMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	sink := NewSlackSink(server.URL)
	err := sink.Send(context.Background(), domain.Alert{
		Severity:    "critical",
		Category:    "failover_failed",
		InstanceUID: "inst-1",
		Message:     "failover did not complete",
		Metadata:    map[string]any{"from_dc": "us-east"},
	})
	require.NoError(t, err)

	assert.Contains(t, received.Text, "rotating_light")
	assert.Contains(t, received.Text, "failover did not complete")
	require.Len(t, received.Attachments, 1)
	assert.Equal(t, "danger", received.Attachments[0].Color)
	assert.Equal(t, "inst-1", received.Attachments[0].Footer)
}

func TestSlackSink_SendPropagatesWebhookFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := NewSlackSink(server.URL)
	err := sink.Send(context.Background(), domain.Alert{Severity: "info", Message: "test"})
	assert.Error(t, err)
}

func TestSeverityColor(t *testing.T) {
	assert.Equal(t, "danger", severityColor("critical"))
	assert.Equal(t, "warning", severityColor("warning"))
	assert.Equal(t, "good", severityColor("info"))
}
