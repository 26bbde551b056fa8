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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
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

// staticHealth is a fixed health gate for poller tests
type staticHealth bool

func (h staticHealth) Healthy() bool { return bool(h) }

// staticFrames always returns the same frame
type staticFrames string

func (f staticFrames) NextFrame(ctx context.Context) (string, error) {
	return string(f), nil
}

func detectServer(t *testing.T, detections []events.Detection, hits *atomic.Int64) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}

		var req struct {
			ImageBase64 string `json:"image_base64"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("detect request body did not decode: %v", err)
		}
		if req.ImageBase64 == "" {
			t.Error("detect request missing image_base64")
		}

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"detections": detections,
		})
	}))
}

func TestClient_Detect(t *testing.T) {
	want := []events.Detection{
		{BBox: [4]float64{1, 2, 3, 4}, Label: "knife", Confidence: 0.92, Harmful: true, Reason: "Harmful object detected"},
		{BBox: [4]float64{5, 6, 7, 8}, Label: "person", Confidence: 0.88, Reason: "Safe object"},
	}
	server := detectServer(t, want, nil)
	defer server.Close()

	client := NewClient(server.URL, server.URL, time.Second)
	got, err := client.Detect(context.Background(), "ZnJhbWU=")
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("Detect() returned %d detections, want 2", len(got))
	}
	if got[0].Label != "knife" || !got[0].Harmful {
		t.Errorf("Detect()[0] = %+v, want harmful knife", got[0])
	}
}

func TestClient_DetectServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL, time.Second)
	if _, err := client.Detect(context.Background(), "ZnJhbWU="); err == nil {
		t.Error("Detect() should fail on a 500 response")
	}
}

func TestClient_CheckHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer healthy.Close()

	client := NewClient(healthy.URL, healthy.URL, time.Second)
	if !client.CheckHealth(context.Background()) {
		t.Error("CheckHealth() = false against a 200 endpoint")
	}

	unreachable := NewClient("http://127.0.0.1:1/detect", "http://127.0.0.1:1/health", 200*time.Millisecond)
	if unreachable.CheckHealth(context.Background()) {
		t.Error("CheckHealth() = true against an unreachable endpoint")
	}
}

func TestPoller_UnhealthySkipsAllRequests(t *testing.T) {
	var hits atomic.Int64
	server := detectServer(t, nil, &hits)
	defer server.Close()

	client := NewClient(server.URL+"/detect", server.URL, time.Second)
	poller := NewPoller(client, staticFrames("ZnJhbWU="), NewState(), staticHealth(false), nil, PollerOptions{})

	for i := 0; i < 10; i++ {
		poller.Poll(context.Background())
	}

	if got := hits.Load(); got != 0 {
		t.Errorf("detect endpoint received %d requests while unhealthy, want 0", got)
	}
}

func TestPoller_EmptyResponseClearsState(t *testing.T) {
	state := NewState()
	state.Replace([]events.Detection{{Label: "person", Confidence: 0.9}})

	server := detectServer(t, []events.Detection{}, nil)
	defer server.Close()

	client := NewClient(server.URL, server.URL, time.Second)
	poller := NewPoller(client, staticFrames("ZnJhbWU="), state, staticHealth(true), nil, PollerOptions{})

	poller.Poll(context.Background())

	detections, _ := state.Snapshot()
	if len(detections) != 0 {
		t.Errorf("state holds %d detections after empty response, want 0", len(detections))
	}
}

func TestPoller_OnUpdateCallback(t *testing.T) {
	t.Run("Poll response reaches the callback", func(t *testing.T) {
		server := detectServer(t, []events.Detection{
			{Label: "person", Confidence: 0.9},
		}, nil)
		defer server.Close()

		var updates [][]events.Detection
		client := NewClient(server.URL, server.URL, time.Second)
		poller := NewPoller(client, staticFrames("ZnJhbWU="), NewState(), staticHealth(true), nil, PollerOptions{
			OnUpdate: func(detections []events.Detection) {
				updates = append(updates, detections)
			},
		})

		poller.Poll(context.Background())

		if len(updates) != 1 {
			t.Fatalf("callback fired %d times, want 1", len(updates))
		}
		if len(updates[0]) != 1 || updates[0][0].Label != "person" {
			t.Errorf("callback got %+v, want one person detection", updates[0])
		}
	})

	t.Run("Empty response still fires so overlays clear", func(t *testing.T) {
		server := detectServer(t, []events.Detection{}, nil)
		defer server.Close()

		fired := false
		client := NewClient(server.URL, server.URL, time.Second)
		poller := NewPoller(client, staticFrames("ZnJhbWU="), NewState(), staticHealth(true), nil, PollerOptions{
			OnUpdate: func(detections []events.Detection) {
				fired = true
				if len(detections) != 0 {
					t.Errorf("callback got %d detections, want 0", len(detections))
				}
			},
		})

		poller.Poll(context.Background())

		if !fired {
			t.Error("callback did not fire for an empty response")
		}
	})
}

func TestPoller_InFlightGuard(t *testing.T) {
	var hits atomic.Int64
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"detections": []events.Detection{}})
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL, 5*time.Second)
	poller := NewPoller(client, staticFrames("ZnJhbWU="), NewState(), staticHealth(true), nil, PollerOptions{})

	done := make(chan struct{})
	go func() {
		poller.Poll(context.Background())
		close(done)
	}()

	// Wait until the first request is inside the handler
	deadline := time.Now().Add(5 * time.Second)
	for hits.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// Overlapping polls must be dropped, not queued
	for i := 0; i < 5; i++ {
		poller.Poll(context.Background())
	}

	close(release)
	<-done

	if got := hits.Load(); got != 1 {
		t.Errorf("detect endpoint received %d requests, want 1 (overlap must skip)", got)
	}
}

func TestPoller_HarmfulDetectionRaisesIncident(t *testing.T) {
	server := detectServer(t, []events.Detection{
		{Label: "knife", Confidence: 0.95, Harmful: true, Reason: "Harmful object detected"},
	}, nil)
	defer server.Close()

	var incidents []*events.Incident
	sink := func(incident *events.Incident) { incidents = append(incidents, incident) }

	client := NewClient(server.URL, server.URL, time.Second)
	poller := NewPoller(client, staticFrames("ZnJhbWU="), NewState(), staticHealth(true), sink, PollerOptions{
		AlertCooldown: time.Minute,
	})

	poller.Poll(context.Background())
	// Same object still in frame next cycle; cooldown suppresses a repeat
	poller.Poll(context.Background())

	if len(incidents) != 1 {
		t.Fatalf("sink received %d incidents, want 1 (cooldown)", len(incidents))
	}
	if incidents[0].Type != events.TypeHarmfulObject {
		t.Errorf("Type = %q, want %q", incidents[0].Type, events.TypeHarmfulObject)
	}
	if incidents[0].Details["label"] != "knife" {
		t.Errorf("Details[label] = %q, want knife", incidents[0].Details["label"])
	}
}

func TestPoller_MultiPersonAlert(t *testing.T) {
	server := detectServer(t, []events.Detection{
		{Label: "person", Confidence: 0.9},
		{Label: "person", Confidence: 0.8},
		{Label: "chair", Confidence: 0.7},
	}, nil)
	defer server.Close()

	var incidents []*events.Incident
	sink := func(incident *events.Incident) { incidents = append(incidents, incident) }

	client := NewClient(server.URL, server.URL, time.Second)
	poller := NewPoller(client, staticFrames("ZnJhbWU="), NewState(), staticHealth(true), sink, PollerOptions{
		PersonAlertMin: 2,
		AlertCooldown:  time.Minute,
	})

	poller.Poll(context.Background())

	if len(incidents) != 1 {
		t.Fatalf("sink received %d incidents, want 1", len(incidents))
	}
	if incidents[0].Type != events.TypeMultiPerson {
		t.Errorf("Type = %q, want %q", incidents[0].Type, events.TypeMultiPerson)
	}
	if incidents[0].Details["person_count"] != "2" {
		t.Errorf("person_count = %q, want 2", incidents[0].Details["person_count"])
	}
}

func TestPoller_CooldownExpires(t *testing.T) {
	server := detectServer(t, []events.Detection{
		{Label: "gun", Confidence: 0.9, Harmful: true, Reason: "Harmful object detected"},
	}, nil)
	defer server.Close()

	mock := clock.NewMock()
	var incidents []*events.Incident
	sink := func(incident *events.Incident) { incidents = append(incidents, incident) }

	client := NewClient(server.URL, server.URL, time.Second)
	poller := NewPoller(client, staticFrames("ZnJhbWU="), NewState(), staticHealth(true), sink, PollerOptions{
		AlertCooldown: 10 * time.Second,
		Clock:         mock,
	})

	poller.Poll(context.Background())
	mock.Add(11 * time.Second)
	poller.Poll(context.Background())

	if len(incidents) != 2 {
		t.Errorf("sink received %d incidents, want 2 after cooldown expiry", len(incidents))
	}
}

func TestDirFrameSource(t *testing.T) {
	t.Run("Missing directory", func(t *testing.T) {
		source := NewDirFrameSource(filepath.Join(t.TempDir(), "nope"))
		if _, err := source.NextFrame(context.Background()); err != ErrNoFrame {
			t.Errorf("NextFrame() error = %v, want ErrNoFrame", err)
		}
	})

	t.Run("Empty directory", func(t *testing.T) {
		source := NewDirFrameSource(t.TempDir())
		if _, err := source.NextFrame(context.Background()); err != ErrNoFrame {
			t.Errorf("NextFrame() error = %v, want ErrNoFrame", err)
		}
	})

	t.Run("Newest image wins", func(t *testing.T) {
		dir := t.TempDir()
		old := filepath.Join(dir, "old.jpg")
		if err := os.WriteFile(old, []byte("old"), 0600); err != nil {
			t.Fatal(err)
		}
		past := time.Now().Add(-time.Hour)
		if err := os.Chtimes(old, past, past); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "new.jpg"), []byte("new"), 0600); err != nil {
			t.Fatal(err)
		}
		// Non-image files are ignored even when newer
		if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}

		source := NewDirFrameSource(dir)
		frame, err := source.NextFrame(context.Background())
		if err != nil {
			t.Fatalf("NextFrame() error: %v", err)
		}
		// "new" base64 encoded
		if frame != "bmV3" {
			t.Errorf("NextFrame() = %q, want %q", frame, "bmV3")
		}
	})
}

func TestHealthChecker(t *testing.T) {
	var status atomic.Int64
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	mock := clock.NewMock()
	client := NewClient(server.URL, server.URL, time.Second)
	checker := NewHealthChecker(client, 2*time.Second, mock)

	if checker.Healthy() {
		t.Error("checker should start out unhealthy")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go checker.Run(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for !checker.Healthy() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !checker.Healthy() {
		t.Fatal("checker never became healthy")
	}

	status.Store(http.StatusServiceUnavailable)
	time.Sleep(50 * time.Millisecond) // let the ticker get registered
	mock.Add(2 * time.Second)

	deadline = time.Now().Add(5 * time.Second)
	for checker.Healthy() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if checker.Healthy() {
		t.Error("checker should turn unhealthy after a failing probe")
	}
}
