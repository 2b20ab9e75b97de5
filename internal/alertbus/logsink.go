// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package alertbus

import (
	"context"

	"github.com/dcsentinel/agent/internal/domain"
	"github.com/dcsentinel/agent/pkg/logging"
)

// LogSink writes alerts through the structured logger, for local/dev use
// or as a fallback when no external sink is configured.
type LogSink struct {
	logger *logging.Logger
}

func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Send logs the alert at a severity-appropriate level.
func (s *LogSink) Send(ctx context.Context, alert domain.Alert) error {
	args := []any{"category", alert.Category, "instance", alert.InstanceUID}
	for k, v := range alert.Metadata {
		args = append(args, k, v)
	}

	switch alert.Severity {
	case "critical":
		s.logger.Error(alert.Message, args...)
	case "warning":
		s.logger.Warn(alert.Message, args...)
	default:
		s.logger.Info(alert.Message, args...)
	}
	return nil
}
