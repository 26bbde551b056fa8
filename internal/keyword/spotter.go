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

// Package keyword spots suspicious keywords in voice transcripts and
// raises incidents for them.
package keyword

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/aegislabs/aegis-hub/internal/events"
	"github.com/aegislabs/aegis-hub/internal/logging"
	"github.com/aegislabs/aegis-hub/internal/security"
)

// IncidentSink receives incidents raised by the spotter
type IncidentSink func(*events.Incident)

// Spotter matches configured keywords against transcripts. Matching is
// case-insensitive on word boundaries, so "help" matches "HELP ME" but
// not "helpful". Each keyword has its own cooldown to keep a repeated
// phrase from flooding the incident file.
type Spotter struct {
	sink     IncidentSink
	cooldown time.Duration
	clock    clock.Clock

	mu        sync.Mutex
	patterns  map[string]*regexp.Regexp
	lastMatch map[string]time.Time
}

// NewSpotter creates a spotter with the given keyword list.
// A nil sink discards incidents.
func NewSpotter(keywords []string, cooldown time.Duration, sink IncidentSink, clk clock.Clock) *Spotter {
	if clk == nil {
		clk = clock.New()
	}
	s := &Spotter{
		sink:      sink,
		cooldown:  cooldown,
		clock:     clk,
		patterns:  make(map[string]*regexp.Regexp),
		lastMatch: make(map[string]time.Time),
	}
	s.UpdateKeywords(keywords)
	return s
}

// UpdateKeywords replaces the keyword list wholesale, typically on a
// config document reload. Keywords that fail to compile are skipped.
func (s *Spotter) UpdateKeywords(keywords []string) {
	patterns := make(map[string]*regexp.Regexp, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
		if err != nil {
			logging.LogWarn("skipping keyword that does not compile",
				zap.String("keyword", security.SanitizeLogInput(kw)),
				zap.Error(err),
			)
			continue
		}
		patterns[kw] = re
	}

	s.mu.Lock()
	s.patterns = patterns
	s.mu.Unlock()
}

// Keywords returns the active keyword list
func (s *Spotter) Keywords() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.patterns))
	for kw := range s.patterns {
		out = append(out, kw)
	}
	return out
}

// Scan checks a transcript against the keyword list and raises one
// incident per matched keyword, subject to the per-keyword cooldown.
// Returns the keywords that raised incidents.
func (s *Spotter) Scan(transcript string, confidence float64) []string {
	if transcript == "" {
		return nil
	}

	now := s.clock.Now()

	s.mu.Lock()
	var matched []string
	for kw, re := range s.patterns {
		if !re.MatchString(transcript) {
			continue
		}
		if last, ok := s.lastMatch[kw]; ok && now.Sub(last) < s.cooldown {
			continue
		}
		s.lastMatch[kw] = now
		matched = append(matched, kw)
	}
	s.mu.Unlock()

	for _, kw := range matched {
		incident := events.NewIncident("voice_monitor", events.TypeSuspiciousKeyword, confidence).
			WithSeverity(events.SeverityHigh).
			WithDetail("keyword", kw).
			WithDetail("transcript", excerpt(transcript, 200))

		logging.LogIncident(incident, "🚨 Suspicious keyword detected",
			zap.String("keyword", security.SanitizeLogInput(kw)),
		)
		if s.sink != nil {
			s.sink(incident)
		}
	}
	return matched
}

// excerpt truncates a transcript for incident details
func excerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
