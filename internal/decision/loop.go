// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package decision

import (
	"context"
	"log/slog"
	"time"

	"github.com/dcsentinel/agent/internal/domain"
)

// TickFunc gathers the inputs Decide needs for one instance at the
// current moment: the instance record and the health status observed
// across every datacenter it's deployed to.
type TickFunc func(ctx context.Context, now time.Time) (domain.Instance, map[string]domain.HealthStatus, error)

// AdviseFunc consults the LLM advisor when the caller's rule-based gate
// says it's warranted, returning a nil recommendation otherwise.
type AdviseFunc func(ctx context.Context, instance domain.Instance, now time.Time) (*domain.AIRecommendation, []domain.AIRecommendationRecord, error)

// Loop drives one instance's cooldown cycle: an initial delay, then a
// steady decision interval, backing off to ErrorRetryDelay whenever a
// tick's inputs or the decide call itself errors.
func (e *Engine) Loop(ctx context.Context, log *slog.Logger, tick TickFunc, advise AdviseFunc) {
	timer := time.NewTimer(e.config.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		now := time.Now()
		instance, dcStatus, err := tick(ctx, now)
		if err != nil {
			log.Error("decision loop tick failed", "error", err)
			timer.Reset(e.config.ErrorRetryDelay)
			continue
		}

		var ai *domain.AIRecommendation
		var history []domain.AIRecommendationRecord
		if advise != nil {
			ai, history, err = advise(ctx, instance, now)
			if err != nil {
				log.Error("llm advisor consult failed", "instance", instance.UID, "error", err)
			}
		}

		decision, err := e.Decide(ctx, instance, dcStatus, ai, history, now)
		if err != nil {
			log.Error("decision evaluation failed", "instance", instance.UID, "error", err)
			timer.Reset(e.config.ErrorRetryDelay)
			continue
		}
		if decision != nil && decision.Executed {
			log.Info("failover executed", "instance", instance.UID, "from", decision.FromDC, "to", decision.ToDC, "source", decision.Source, "confidence", decision.Confidence)
		}

		timer.Reset(e.config.DecisionInterval)
	}
}
