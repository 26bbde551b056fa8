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
	"sync"
	"time"

	"github.com/aegislabs/aegis-hub/internal/events"
)

// State holds the detections from the most recent poll cycle. Each poll
// replaces the set wholesale; an empty response clears it.
type State struct {
	mu         sync.RWMutex
	detections []events.Detection
	updatedAt  time.Time
}

// NewState creates an empty detection state
func NewState() *State {
	return &State{
		detections: []events.Detection{},
	}
}

// Replace swaps in the detections from the latest poll cycle
func (s *State) Replace(detections []events.Detection) {
	if detections == nil {
		detections = []events.Detection{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections = detections
	s.updatedAt = time.Now()
}

// Snapshot returns a copy of the current detections and when they were set
func (s *State) Snapshot() ([]events.Detection, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]events.Detection, len(s.detections))
	copy(out, s.detections)
	return out, s.updatedAt
}
