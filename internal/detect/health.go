/*
 * This file is part of Aegis (https://github.com/aegislabs/aegis).
 * Copyright (C) 2025 Aegis Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package detect

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/aegislabs/aegis-hub/internal/logging"
)

// HealthChecker polls the detector's liveness endpoint on its own cadence.
// Detection polls are skipped while the endpoint is unhealthy.
type HealthChecker struct {
	client   *Client
	interval time.Duration
	clock    clock.Clock
	healthy  atomic.Bool
}

// NewHealthChecker creates a health checker that starts out unhealthy
// until the first probe succeeds
func NewHealthChecker(client *Client, interval time.Duration, clk clock.Clock) *HealthChecker {
	if clk == nil {
		clk = clock.New()
	}
	return &HealthChecker{
		client:   client,
		interval: interval,
		clock:    clk,
	}
}

// Healthy reports the result of the most recent probe
func (h *HealthChecker) Healthy() bool {
	return h.healthy.Load()
}

// Run probes the liveness endpoint until the context is cancelled.
// The first probe fires immediately.
func (h *HealthChecker) Run(ctx context.Context) {
	h.probe(ctx)

	ticker := h.clock.Ticker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.probe(ctx)
		}
	}
}

func (h *HealthChecker) probe(ctx context.Context) {
	healthy := h.client.CheckHealth(ctx)
	was := h.healthy.Swap(healthy)

	if healthy != was {
		logging.LogDetection("health_changed",
			zap.Bool("healthy", healthy),
		)
	}
}
