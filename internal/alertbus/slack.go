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
	"fmt"

	"github.com/slack-go/slack"

	"github.com/dcsentinel/agent/internal/domain"
)

// SlackSink delivers alerts via an incoming webhook.
type SlackSink struct {
	webhookURL string
}

func NewSlackSink(webhookURL string) *SlackSink {
	return &SlackSink{webhookURL: webhookURL}
}

var severityEmoji = map[string]string{
	"info":     ":information_source:",
	"warning":  ":warning:",
	"critical": ":rotating_light:",
}

// Send posts a formatted message to the configured webhook.
func (s *SlackSink) Send(ctx context.Context, alert domain.Alert) error {
	emoji, ok := severityEmoji[alert.Severity]
	if !ok {
		emoji = ":bell:"
	}

	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("%s *[%s/%s]* %s", emoji, alert.Severity, alert.Category, alert.Message),
		Attachments: []slack.Attachment{
			{
				Color:  severityColor(alert.Severity),
				Fields: metadataFields(alert),
				Footer: alert.InstanceUID,
				Ts:     jsonNumberTimestamp(alert),
			},
		},
	}

	if err := slack.PostWebhookContext(ctx, s.webhookURL, msg); err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	return nil
}

func severityColor(severity string) string {
	switch severity {
	case "critical":
		return "danger"
	case "warning":
		return "warning"
	default:
		return "good"
	}
}

func metadataFields(alert domain.Alert) []slack.AttachmentField {
	fields := make([]slack.AttachmentField, 0, len(alert.Metadata))
	for k, v := range alert.Metadata {
		fields = append(fields, slack.AttachmentField{
			Title: k,
			Value: fmt.Sprintf("%v", v),
			Short: true,
		})
	}
	return fields
}

func jsonNumberTimestamp(alert domain.Alert) json.Number {
	return json.Number(fmt.Sprintf("%d", alert.Timestamp.Unix()))
}
