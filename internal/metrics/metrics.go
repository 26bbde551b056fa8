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

// Package metrics exposes Prometheus collectors for the hub's poll loop,
// backend supervision, and incident pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	detectPollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aegis_detect_polls_total",
		Help: "Completed detection poll cycles",
	})

	detectSkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_detect_skips_total",
		Help: "Detection poll cycles skipped, by reason",
	}, []string{"reason"})

	detectionsCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aegis_detections_current",
		Help: "Detections in the most recent poll response",
	})

	incidentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_incidents_total",
		Help: "Incidents raised, by type",
	}, []string{"type"})

	backendRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aegis_backend_restarts_total",
		Help: "Backend process restarts performed by the supervisor",
	})

	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_commands_total",
		Help: "Commands forwarded to the backend, by name",
	}, []string{"command"})

	websocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aegis_websocket_clients",
		Help: "Connected dashboard websocket clients",
	})
)

// RecordDetectPoll counts a completed poll cycle and the detections it
// returned
func RecordDetectPoll(detections int) {
	detectPollsTotal.Inc()
	detectionsCurrent.Set(float64(detections))
}

// RecordDetectSkip counts a skipped poll cycle
func RecordDetectSkip(reason string) {
	detectSkipsTotal.WithLabelValues(reason).Inc()
}

// RecordIncident counts a raised incident
func RecordIncident(incidentType string) {
	incidentsTotal.WithLabelValues(incidentType).Inc()
}

// RecordBackendRestart counts a supervisor restart
func RecordBackendRestart() {
	backendRestartsTotal.Inc()
}

// RecordCommand counts a command forwarded to the backend
func RecordCommand(command string) {
	commandsTotal.WithLabelValues(command).Inc()
}

// SetWebsocketClients tracks connected dashboard clients
func SetWebsocketClients(n int) {
	websocketClients.Set(float64(n))
}

// Handler returns the HTTP handler serving the metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
