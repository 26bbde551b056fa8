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

package keyword

import (
	"os"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/aegislabs/aegis-hub/internal/events"
	"github.com/aegislabs/aegis-hub/internal/logging"
)

func TestMain(m *testing.M) {
	_ = logging.InitializeWithConfig(logging.LogConfig{Level: "error", Format: "console"})
	os.Exit(m.Run())
}

func TestSpotter_Scan(t *testing.T) {
	tests := []struct {
		name       string
		keywords   []string
		transcript string
		want       []string
	}{
		{
			name:       "Simple match",
			keywords:   []string{"help"},
			transcript: "somebody help me",
			want:       []string{"help"},
		},
		{
			name:       "Case insensitive",
			keywords:   []string{"emergency"},
			transcript: "THIS IS AN EMERGENCY",
			want:       []string{"emergency"},
		},
		{
			name:       "Word boundary respected",
			keywords:   []string{"help"},
			transcript: "that was very helpful",
			want:       nil,
		},
		{
			name:       "Multi-word keyword",
			keywords:   []string{"call the police"},
			transcript: "please call the police now",
			want:       []string{"call the police"},
		},
		{
			name:       "No match",
			keywords:   []string{"fire", "gun"},
			transcript: "nice weather today",
			want:       nil,
		},
		{
			name:       "Empty transcript",
			keywords:   []string{"help"},
			transcript: "",
			want:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var incidents []*events.Incident
			spotter := NewSpotter(tt.keywords, time.Minute,
				func(incident *events.Incident) { incidents = append(incidents, incident) }, nil)

			got := spotter.Scan(tt.transcript, 0.9)
			if len(got) != len(tt.want) {
				t.Fatalf("Scan() = %v, want %v", got, tt.want)
			}
			if len(incidents) != len(tt.want) {
				t.Errorf("sink received %d incidents, want %d", len(incidents), len(tt.want))
			}
			for _, incident := range incidents {
				if incident.Type != events.TypeSuspiciousKeyword {
					t.Errorf("Type = %q, want %q", incident.Type, events.TypeSuspiciousKeyword)
				}
				if incident.Module != "voice_monitor" {
					t.Errorf("Module = %q, want voice_monitor", incident.Module)
				}
			}
		})
	}
}

func TestSpotter_Cooldown(t *testing.T) {
	mock := clock.NewMock()
	var incidents []*events.Incident
	spotter := NewSpotter([]string{"danger"}, 10*time.Second,
		func(incident *events.Incident) { incidents = append(incidents, incident) }, mock)

	spotter.Scan("danger ahead", 0.9)
	spotter.Scan("danger again", 0.9)
	if len(incidents) != 1 {
		t.Fatalf("sink received %d incidents inside cooldown, want 1", len(incidents))
	}

	mock.Add(11 * time.Second)
	spotter.Scan("danger once more", 0.9)
	if len(incidents) != 2 {
		t.Errorf("sink received %d incidents after cooldown, want 2", len(incidents))
	}
}

func TestSpotter_UpdateKeywords(t *testing.T) {
	var incidents []*events.Incident
	spotter := NewSpotter([]string{"fire"}, time.Minute,
		func(incident *events.Incident) { incidents = append(incidents, incident) }, nil)

	spotter.UpdateKeywords([]string{"flood"})

	if got := spotter.Scan("fire in the hole", 0.9); got != nil {
		t.Errorf("Scan() matched removed keyword: %v", got)
	}
	if got := spotter.Scan("a flood warning", 0.9); len(got) != 1 {
		t.Errorf("Scan() = %v, want one flood match", got)
	}
}

func TestSpotter_TranscriptExcerptInDetails(t *testing.T) {
	var incidents []*events.Incident
	spotter := NewSpotter([]string{"weapon"}, time.Minute,
		func(incident *events.Incident) { incidents = append(incidents, incident) }, nil)

	spotter.Scan("he has a weapon", 0.8)
	if len(incidents) != 1 {
		t.Fatal("expected one incident")
	}
	if incidents[0].Details["keyword"] != "weapon" {
		t.Errorf("Details[keyword] = %q, want weapon", incidents[0].Details["keyword"])
	}
	if incidents[0].Details["transcript"] != "he has a weapon" {
		t.Errorf("Details[transcript] = %q, want full transcript", incidents[0].Details["transcript"])
	}
}
