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
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/aegislabs/aegis-hub/internal/config"
	"github.com/aegislabs/aegis-hub/internal/configstore"
	"github.com/aegislabs/aegis-hub/internal/detect"
	"github.com/aegislabs/aegis-hub/internal/events"
	"github.com/aegislabs/aegis-hub/internal/keyword"
	"github.com/aegislabs/aegis-hub/internal/logging"
	"github.com/aegislabs/aegis-hub/internal/messaging"
	"github.com/aegislabs/aegis-hub/internal/metrics"
	"github.com/aegislabs/aegis-hub/internal/notify"
	"github.com/aegislabs/aegis-hub/internal/orchestrator"
	"github.com/aegislabs/aegis-hub/internal/storage"
	"github.com/aegislabs/aegis-hub/internal/transcribe"
)

// Server is the Aegis hub: it supervises the inference backend, drives
// the detection poll loop, and exposes the command API the dashboard
// uses.
type Server struct {
	cfg    *config.Config
	mux    *http.ServeMux
	server *http.Server

	orch          *orchestrator.Orchestrator
	configStore   *configstore.Store
	configWatcher *configstore.Watcher
	incidentFile  *storage.IncidentFile
	db            *storage.Database
	incidentStore *storage.IncidentStore
	logStore      *storage.LogStore
	detectState   *detect.State
	health        *detect.HealthChecker
	poller        *detect.Poller
	spotter       *keyword.Spotter
	transcriber   transcribe.Transcriber
	nats          *messaging.NATSService
	notifier      *notify.Notifier
	ring          *events.LogRing
	hub           *wsHub

	// Server context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a hub server and wires its components together
func New(cfg *config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	db, err := storage.NewDatabase(storage.DatabaseConfig{Path: cfg.Storage.DBPath})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open incident archive: %w", err)
	}

	ring := events.NewLogRing(cfg.Server.LogRingSize)
	store := configstore.NewStore(cfg.Storage.ConfigPath)
	doc, err := store.Load()
	if err != nil {
		cancel()
		_ = db.Close()
		return nil, fmt.Errorf("failed to load config document: %w", err)
	}

	voice := doc.VoiceMonitor()
	detectClient := detect.NewClient(cfg.Detect.URL, cfg.Detect.HealthURL, cfg.Detect.RequestTimeout)

	s := &Server{
		cfg:           cfg,
		mux:           http.NewServeMux(),
		orch:          orchestrator.New(cfg.Backend, ring),
		configStore:   store,
		incidentFile:  storage.NewIncidentFile(cfg.Storage.IncidentsPath),
		db:            db,
		incidentStore: storage.NewIncidentStore(db),
		logStore:      storage.NewLogStore(db),
		detectState:   detect.NewState(),
		nats:          messaging.NewNATSService(cfg.NATS),
		notifier:      notify.New(cfg.Notify),
		ring:          ring,
		hub:           newWSHub(),
		ctx:           ctx,
		cancel:        cancel,
	}

	s.spotter = keyword.NewSpotter(voice.SuspiciousKeywords, cfg.Detect.AlertCooldown, s.handleIncident, nil)
	s.health = detect.NewHealthChecker(detectClient, cfg.Detect.HealthInterval, nil)
	s.poller = detect.NewPoller(detectClient,
		detect.NewDirFrameSource(cfg.Detect.SnapshotDir),
		s.detectState, s.health, s.handleIncident,
		detect.PollerOptions{
			Interval:       cfg.Detect.PollInterval,
			PersonAlertMin: cfg.Detect.PersonAlertMin,
			AlertCooldown:  cfg.Detect.AlertCooldown,
			OnUpdate: func(detections []events.Detection) {
				s.hub.Broadcast(wsKindDetections, detections)
			},
		})
	s.configWatcher = configstore.NewWatcher(store)
	s.configWatcher.Subscribe(s.handleConfigReload)

	transcriber, err := transcribe.NewWhisperTranscriber(cfg.Whisper.ModelPath)
	if err != nil {
		// Audio clips still flow through the backend's own transcript
		// path, so this only disables the hub-side fallback.
		logging.LogWarn("local transcription unavailable",
			zap.Error(err),
		)
	} else {
		s.transcriber = transcriber
	}

	s.orch.SetMessageHandler(s.handleBackendMessage)
	s.orch.SetLogHandler(s.handleLogEvent)
	s.orch.SetRestartHandler(s.handleBackendRestart)

	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      s.mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.routes()
	return s, nil
}

// Start runs the HTTP server and all background services. Blocks until
// the server stops.
func (s *Server) Start() error {
	if s.nats != nil {
		if err := s.nats.Connect(); err != nil {
			// Degrade to standalone operation
			logging.LogWarn("⚠️  NATS unavailable, running standalone",
				zap.Error(err),
			)
			s.nats = nil
		}
	}

	go s.health.Run(s.ctx)
	go s.poller.Run(s.ctx)
	go s.configWatcher.Run(s.ctx)
	go s.retentionLoop()

	logging.Sugar.Infow("🚀 Aegis Hub starting",
		"addr", s.server.Addr,
		"detect_url", s.cfg.Detect.URL,
		"poll_interval", s.cfg.Detect.PollInterval,
	)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the hub down, stopping the backend first so its
// capture devices are released.
func (s *Server) Stop() error {
	logging.Sugar.Infow("🛑 Shutting down Aegis Hub")

	s.cancel()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.orch.Stop(stopCtx); err != nil {
		logging.LogError(err, "failed to stop backend process")
	}

	s.hub.Close()
	if s.transcriber != nil {
		_ = s.transcriber.Close()
	}
	if s.nats != nil {
		s.nats.Close()
	}

	if err := s.server.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if err := s.db.Close(); err != nil {
		logging.LogError(err, "failed to close incident archive")
	}

	logging.Sugar.Infow("✅ Aegis Hub shut down successfully")
	return nil
}

// routes sets up HTTP routing
func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	s.mux.HandleFunc("/api/monitor/start", s.handleMonitorStart)
	s.mux.HandleFunc("/api/monitor/stop", s.handleMonitorStop)
	s.mux.HandleFunc("/api/monitor/status", s.handleMonitorStatus)

	s.mux.HandleFunc("/api/incidents", s.handleIncidents)
	s.mux.HandleFunc("/api/detections", s.handleDetections)
	s.mux.HandleFunc("/api/config", s.handleConfig)
	s.mux.HandleFunc("/api/storage/dir", s.handleStorageDir)
	s.mux.HandleFunc("/api/logs", s.handleLogs)

	s.mux.HandleFunc("/ws", s.hub.HandleWS)
	s.mux.Handle("/metrics", metrics.Handler())
}

// handleIncident is the sink every incident source feeds: the detection
// poller, the keyword spotter, and incidents reported by the backend
// itself. It appends to the incident file (the wire contract the
// dashboard reads), archives to SQLite, and fans out to NATS, desktop
// notification, and connected websocket clients.
func (s *Server) handleIncident(incident *events.Incident) {
	if incident == nil {
		return
	}
	if err := incident.IsValid(); err != nil {
		logging.LogWarn("dropping invalid incident",
			zap.Error(err),
		)
		return
	}

	metrics.RecordIncident(incident.Type)
	logging.LogIncident(incident, "🚨 Incident recorded")

	if err := s.incidentFile.Append(incident); err != nil {
		logging.LogError(err, "failed to append incident to file")
	}
	if err := s.incidentStore.Insert(incident); err != nil {
		logging.LogError(err, "failed to archive incident")
	}
	if s.nats != nil {
		if err := s.nats.PublishIncident(incident); err != nil {
			logging.LogError(err, "failed to publish incident")
		}
	}

	s.notifier.Alert(incident)
	s.hub.Broadcast(wsKindIncident, incident)
}

// handleBackendMessage dispatches structured backend stdout messages
func (s *Server) handleBackendMessage(msg orchestrator.Message) {
	switch msg.Type {
	case orchestrator.MessageTypeIncident:
		var incident events.Incident
		if err := json.Unmarshal(msg.Data, &incident); err != nil {
			logging.LogError(err, "failed to decode backend incident")
			return
		}
		if incident.ID == "" {
			// Backend incidents may arrive without an ID; mint one
			fresh := events.NewIncident(incident.Module, incident.Type, incident.Confidence)
			if incident.Severity != "" {
				fresh.Severity = incident.Severity
			}
			if incident.Details != nil {
				fresh.Details = incident.Details
			}
			if !incident.Timestamp.IsZero() {
				fresh.Timestamp = incident.Timestamp
			}
			s.handleIncident(fresh)
			return
		}
		s.handleIncident(&incident)

	case orchestrator.MessageTypeTranscript:
		var transcript struct {
			Text       string  `json:"text"`
			Confidence float64 `json:"confidence"`
		}
		if err := json.Unmarshal(msg.Data, &transcript); err != nil {
			logging.LogError(err, "failed to decode backend transcript")
			return
		}
		s.spotter.Scan(transcript.Text, transcript.Confidence)

	case orchestrator.MessageTypeAudioClip:
		// Raw clips the backend could not transcribe itself are run
		// through local whisper before feeding the spotter.
		if s.transcriber == nil {
			return
		}
		var clip struct {
			Samples    []float32 `json:"samples"`
			SampleRate int       `json:"sample_rate"`
		}
		if err := json.Unmarshal(msg.Data, &clip); err != nil {
			logging.LogError(err, "failed to decode backend audio clip")
			return
		}
		if len(clip.Samples) == 0 {
			return
		}
		if clip.SampleRate <= 0 {
			clip.SampleRate = s.cfg.Whisper.SampleRate
		}
		text, err := s.transcriber.Transcribe(clip.Samples, clip.SampleRate)
		if err != nil {
			logging.Sugar.Debugw("local transcription failed",
				"error", err,
			)
			return
		}
		// Local transcription carries no confidence estimate
		s.spotter.Scan(text, 1.0)

	case orchestrator.MessageTypeStatus:
		s.hub.Broadcast(wsKindStatus, json.RawMessage(msg.Data))

	case orchestrator.MessageTypeLog:
		var entry struct {
			Message string `json:"message"`
			IsError bool   `json:"is_error"`
		}
		if err := json.Unmarshal(msg.Data, &entry); err != nil {
			return
		}
		s.handleLogEvent(events.NewLogEvent(events.SourceBackendStdout, entry.Message, entry.IsError))

	default:
		logging.Sugar.Debugw("unhandled backend message",
			"type", msg.Type,
		)
	}
}

// handleLogEvent archives relayed output and pushes it to the dashboard
func (s *Server) handleLogEvent(event events.LogEvent) {
	if err := s.logStore.Insert(event); err != nil {
		logging.LogError(err, "failed to archive log event")
	}
	s.hub.Broadcast(wsKindLog, event)
}

// handleBackendRestart pushes the current config document to a freshly
// respawned backend so it does not come back up with stale defaults
func (s *Server) handleBackendRestart() {
	doc, err := s.configStore.Load()
	if err != nil {
		logging.LogError(err, "failed to load config for restarted backend")
		return
	}
	if err := s.orch.SendCommand("update-config", doc); err != nil &&
		err != orchestrator.ErrNotRunning {
		logging.LogError(err, "failed to push config to restarted backend")
	}
}

// handleConfigReload reacts to external edits of the config document:
// the keyword list is refreshed and the new document is pushed to the
// backend so it picks the change up without a restart.
func (s *Server) handleConfigReload(doc configstore.Document) {
	s.spotter.UpdateKeywords(doc.VoiceMonitor().SuspiciousKeywords)

	if err := s.orch.SendCommand("update-config", doc); err != nil &&
		err != orchestrator.ErrNotRunning {
		logging.LogError(err, "failed to push config update to backend")
	}
}

// retentionLoop purges archived rows past the configured retention
func (s *Server) retentionLoop() {
	if s.cfg.Storage.RetentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(12 * time.Hour)
	defer ticker.Stop()

	for {
		s.purgeExpired()
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) purgeExpired() {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.Storage.RetentionDays)

	if n, err := s.incidentStore.PurgeOlderThan(cutoff); err != nil {
		logging.LogError(err, "incident retention purge failed")
	} else if n > 0 {
		logging.Sugar.Infow("🧹 Purged expired incidents",
			"deleted", n,
			"cutoff", cutoff,
		)
	}

	if n, err := s.logStore.PurgeOlderThan(cutoff); err != nil {
		logging.LogError(err, "log retention purge failed")
	} else if n > 0 {
		logging.Sugar.Infow("🧹 Purged expired logs",
			"deleted", n,
		)
	}
}
