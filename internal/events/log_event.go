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

package events

import (
	"sync"
	"time"
)

// Log event sources
const (
	SourceBackendStdout = "backend_stdout"
	SourceBackendStderr = "backend_stderr"
	SourceHub           = "hub"
)

// LogEvent is a transient line of backend or hub output shown in the UI
type LogEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	IsError   bool      `json:"is_error"`
	Source    string    `json:"source"`
}

// NewLogEvent creates a log event stamped with the current time
func NewLogEvent(source, message string, isError bool) LogEvent {
	return LogEvent{
		Timestamp: time.Now(),
		Message:   message,
		IsError:   isError,
		Source:    source,
	}
}

// LogRing is a bounded in-memory list of log events for display only.
// When full, the oldest entry is dropped.
type LogRing struct {
	mu      sync.RWMutex
	entries []LogEvent
	max     int
}

// NewLogRing creates a ring holding at most max entries
func NewLogRing(max int) *LogRing {
	if max <= 0 {
		max = 500
	}
	return &LogRing{
		entries: make([]LogEvent, 0, max),
		max:     max,
	}
}

// Append adds an event, evicting the oldest entry when the ring is full
func (r *LogRing) Append(event LogEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= r.max {
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:len(r.entries)-1]
	}
	r.entries = append(r.entries, event)
}

// Snapshot returns a copy of the current entries, oldest first
func (r *LogRing) Snapshot() []LogEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]LogEvent, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of buffered entries
func (r *LogRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
