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
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/aegislabs/aegis-hub/internal/events"
	"github.com/aegislabs/aegis-hub/internal/logging"
	"github.com/aegislabs/aegis-hub/internal/metrics"
)

// IncidentSink receives incidents raised by the poll loop
type IncidentSink func(*events.Incident)

// Healther gates the poll loop on detector liveness
type Healther interface {
	Healthy() bool
}

// PollerOptions configures the detection poll loop
type PollerOptions struct {
	Interval       time.Duration
	PersonAlertMin int           // person count that raises a multi_person incident
	AlertCooldown  time.Duration // per-alert-kind quiet period
	Clock          clock.Clock

	// OnUpdate is invoked with each poll response after the detection
	// state is replaced, including the empty response that clears it.
	// Nil disables the callback.
	OnUpdate func([]events.Detection)
}

// Poller drives the fixed-interval detection loop: grab the current
// frame, post it to the detector, replace the detection state with the
// response. Polls are skipped while the detector is unhealthy and while
// a previous request is still in flight.
type Poller struct {
	client *Client
	frames FrameSource
	state  *State
	health Healther
	sink   IncidentSink
	opts   PollerOptions
	clock  clock.Clock

	inFlight atomic.Bool

	mu         sync.Mutex
	lastAlerts map[string]time.Time // incident type -> last raised
}

// NewPoller creates a poller. A nil sink discards incidents.
func NewPoller(client *Client, frames FrameSource, state *State, health Healther, sink IncidentSink, opts PollerOptions) *Poller {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Interval <= 0 {
		opts.Interval = 600 * time.Millisecond
	}
	return &Poller{
		client:     client,
		frames:     frames,
		state:      state,
		health:     health,
		sink:       sink,
		opts:       opts,
		clock:      opts.Clock,
		lastAlerts: make(map[string]time.Time),
	}
}

// Run ticks until the context is cancelled. Each tick polls in its own
// goroutine so a slow detector delays nothing; the in-flight guard makes
// overlapping ticks skip instead of stack.
func (p *Poller) Run(ctx context.Context) {
	ticker := p.clock.Ticker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go p.Poll(ctx)
		}
	}
}

// Poll performs one detection cycle
func (p *Poller) Poll(ctx context.Context) {
	if !p.health.Healthy() {
		metrics.RecordDetectSkip("unhealthy")
		return
	}

	if !p.inFlight.CompareAndSwap(false, true) {
		metrics.RecordDetectSkip("in_flight")
		return
	}
	defer p.inFlight.Store(false)

	frame, err := p.frames.NextFrame(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoFrame) {
			logging.LogError(err, "failed to read frame")
		}
		metrics.RecordDetectSkip("no_frame")
		return
	}

	detections, err := p.client.Detect(ctx, frame)
	if err != nil {
		// Network errors degrade to a skipped cycle; the health checker
		// decides when to resume.
		logging.LogDetection("poll_failed",
			zap.Error(err),
		)
		metrics.RecordDetectSkip("error")
		return
	}

	metrics.RecordDetectPoll(len(detections))
	p.state.Replace(detections)
	if p.opts.OnUpdate != nil {
		p.opts.OnUpdate(detections)
	}
	p.evaluate(detections)
}

// evaluate raises incidents from a frame's detections: one per harmful
// object, and a multi_person incident when enough people are in frame.
// Both kinds sit behind a cooldown so one lingering object does not
// flood the incident file.
func (p *Poller) evaluate(detections []events.Detection) {
	if p.sink == nil {
		return
	}

	persons := 0
	for _, d := range detections {
		if d.IsPerson() {
			persons++
		}
		if !d.Harmful {
			continue
		}
		if !p.shouldAlert(events.TypeHarmfulObject + ":" + d.Label) {
			continue
		}

		incident := events.NewIncident("object_detection", events.TypeHarmfulObject, d.Confidence).
			WithSeverity(events.SeverityHigh).
			WithDetail("label", d.Label).
			WithDetail("reason", d.Reason)
		p.sink(incident)
	}

	if p.opts.PersonAlertMin > 0 && persons >= p.opts.PersonAlertMin &&
		p.shouldAlert(events.TypeMultiPerson) {
		incident := events.NewIncident("object_detection", events.TypeMultiPerson, 1.0).
			WithSeverity(events.SeverityMedium).
			WithDetail("person_count", strconv.Itoa(persons))
		p.sink(incident)
	}
}

// shouldAlert enforces the per-key cooldown
func (p *Poller) shouldAlert(key string) bool {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if last, ok := p.lastAlerts[key]; ok && now.Sub(last) < p.opts.AlertCooldown {
		return false
	}
	p.lastAlerts[key] = now
	return true
}
