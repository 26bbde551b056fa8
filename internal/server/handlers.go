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

package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aegislabs/aegis-hub/internal/configstore"
	"github.com/aegislabs/aegis-hub/internal/logging"
	"github.com/aegislabs/aegis-hub/internal/metrics"
	"github.com/aegislabs/aegis-hub/internal/orchestrator"
	"github.com/aegislabs/aegis-hub/internal/security"
	"github.com/aegislabs/aegis-hub/internal/storage"
)

// envelope is the response shape every command returns
type envelope struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func respond(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		logging.LogError(err, "failed to write response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: false, Error: message}); err != nil {
		logging.LogError(err, "failed to write error response")
	}
}

func readJSON(r *http.Request, data interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	defer func() { _ = r.Body.Close() }()

	return json.Unmarshal(body, data)
}

// handleHealth provides hub liveness plus component state
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":           "ok",
		"timestamp":        time.Now(),
		"backend":          s.orch.State(),
		"detector_healthy": s.health.Healthy(),
	}
	if s.nats != nil {
		health["nats_connected"] = s.nats.IsConnected()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		logging.LogError(err, "failed to write health response")
	}
}

// handleMonitorStart spawns the backend if needed and asks it to open
// its capture devices
func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.orch.Start(); err != nil && err != orchestrator.ErrAlreadyRunning {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	metrics.RecordCommand("start-monitoring")
	if err := s.orch.StartMonitoring(); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.nats != nil {
		_ = s.nats.PublishSystemEvent("monitoring_started", "")
	}

	respond(w, s.orch.Status())
}

// handleMonitorStop releases the backend's capture devices and stops
// the process
func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	metrics.RecordCommand("stop-monitoring")
	if err := s.orch.StopMonitoring(); err != nil && err != orchestrator.ErrNotRunning {
		logging.LogError(err, "failed to send stop-monitoring")
	}

	if err := s.orch.Stop(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.nats != nil {
		_ = s.nats.PublishSystemEvent("monitoring_stopped", "")
	}

	respond(w, s.orch.Status())
}

// handleMonitorStatus reports supervisor state, detector health, and
// the active config document
func (s *Server) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	doc, err := s.configStore.Load()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respond(w, map[string]interface{}{
		"backend":          s.orch.Status(),
		"detector_healthy": s.health.Healthy(),
		"config":           doc,
	})
}

// handleIncidents serves the incident file wholesale. With the archive
// query parameter it serves filtered results from SQLite instead.
func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.URL.Query().Get("archive") == "true" {
		s.handleArchivedIncidents(w, r)
		return
	}

	incidents, err := s.incidentFile.ReadAll()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, incidents)
}

func (s *Server) handleArchivedIncidents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if t := query.Get("type"); t != "" {
		if err := security.ValidateIncidentType(t); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	options := storage.ListOptions{
		Module:    query.Get("module"),
		Type:      query.Get("type"),
		Severity:  query.Get("severity"),
		SortBy:    query.Get("sort_by"),
		SortOrder: query.Get("sort_order"),
	}
	if v := query.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			options.Limit = n
		}
	}
	if v := query.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			options.Offset = n
		}
	}

	incidents, err := s.incidentStore.List(options)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.incidentStore.Count(options)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respond(w, map[string]interface{}{
		"incidents": incidents,
		"total":     total,
	})
}

// handleDetections serves the most recent poll cycle's detections
func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	detections, updatedAt := s.detectState.Snapshot()
	respond(w, map[string]interface{}{
		"detections": detections,
		"updated_at": updatedAt,
	})
}

// handleConfig reads or wholesale-replaces the monitored config document
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		doc, err := s.configStore.Load()
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respond(w, doc)

	case http.MethodPut, http.MethodPost:
		var doc configstore.Document
		if err := readJSON(r, &doc); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON document")
			return
		}
		if len(doc) == 0 {
			respondError(w, http.StatusBadRequest, "empty config document")
			return
		}

		if err := s.configStore.Save(doc); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}

		// The fsnotify watcher also fires on this write; refreshing the
		// spotter here just makes the change immediate.
		s.spotter.UpdateKeywords(doc.VoiceMonitor().SuspiciousKeywords)
		respond(w, doc)

	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleStorageDir updates where the backend keeps recordings. The path
// must be absolute and traversal-free.
func (s *Server) handleStorageDir(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		doc, err := s.configStore.Load()
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respond(w, map[string]string{"path": doc.Storage().IncidentsPath})

	case http.MethodPost:
		var req struct {
			Path string `json:"path"`
		}
		if err := readJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON")
			return
		}

		if err := security.ValidateStorageDir(req.Path); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		doc, err := s.configStore.Load()
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}

		section := doc.Storage()
		section.IncidentsPath = req.Path
		if err := doc.SetSection(configstore.SectionStorage, section); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := s.configStore.Save(doc); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}

		respond(w, map[string]string{"path": req.Path})

	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleLogs serves the in-memory display buffer, or the SQLite archive
// with the archive query parameter
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.URL.Query().Get("archive") == "true" {
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		entries, err := s.logStore.Recent(limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respond(w, entries)
		return
	}

	respond(w, s.ring.Snapshot())
}
