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

// Package messaging publishes hub events to NATS so other systems
// (recorders, pagers, home automation) can react to incidents without
// polling the hub API. Publishing is optional: with no NATS URL
// configured the hub runs standalone.
package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/aegislabs/aegis-hub/internal/config"
	"github.com/aegislabs/aegis-hub/internal/events"
	"github.com/aegislabs/aegis-hub/internal/logging"
)

// NATS subjects for hub event types
const (
	SubjectIncidents    = "incidents"
	SubjectSystemEvents = "system"
)

// SystemEvent describes a hub lifecycle change (backend started, exited,
// monitoring toggled)
type SystemEvent struct {
	Kind      string `json:"kind"`
	Detail    string `json:"detail,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NATSService publishes incidents and system events
type NATSService struct {
	conn   *nats.Conn
	cfg    config.NATSConfig
	prefix string
}

// NewNATSService creates a service from the hub configuration.
// Returns nil when no NATS URL is configured.
func NewNATSService(cfg config.NATSConfig) *NATSService {
	if cfg.URL == "" {
		return nil
	}
	return &NATSService{
		cfg:    cfg,
		prefix: cfg.SubjectPrefix,
	}
}

// Connect establishes the connection to the NATS server
func (ns *NATSService) Connect() error {
	logging.Sugar.Infow("🔌 Connecting to NATS",
		"url", ns.cfg.URL,
	)

	opts := []nats.Option{
		nats.Name("aegis-hub"),
		nats.ReconnectWait(ns.cfg.ReconnectWait),
		nats.MaxReconnects(ns.cfg.MaxReconnect),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.LogWarn("⚠️  NATS disconnected",
				zap.Error(err),
			)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.LogNATSEvent("", "reconnected",
				zap.String("url", nc.ConnectedUrl()),
			)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.LogNATSEvent("", "closed")
		}),
	}

	conn, err := nats.Connect(ns.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	ns.conn = conn
	logging.Sugar.Infow("✅ Connected to NATS server",
		"url", conn.ConnectedUrl(),
	)
	return nil
}

// PublishIncident publishes an incident on <prefix>.incidents.<type>
func (ns *NATSService) PublishIncident(incident *events.Incident) error {
	if ns.conn == nil {
		return fmt.Errorf("NATS connection not established")
	}

	data, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("failed to marshal incident: %w", err)
	}

	subject := fmt.Sprintf("%s.%s.%s", ns.prefix, SubjectIncidents, incident.Type)
	if err := ns.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	logging.LogNATSEvent(subject, "published",
		zap.String("incident_id", incident.ID),
		zap.String("type", incident.Type),
	)
	return nil
}

// PublishSystemEvent publishes a hub lifecycle event
func (ns *NATSService) PublishSystemEvent(kind, detail string) error {
	if ns.conn == nil {
		return fmt.Errorf("NATS connection not established")
	}

	event := SystemEvent{
		Kind:      kind,
		Detail:    detail,
		Timestamp: time.Now().Unix(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal system event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", ns.prefix, SubjectSystemEvents)
	if err := ns.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	logging.LogNATSEvent(subject, "published",
		zap.String("kind", kind),
	)
	return nil
}

// SubscribeToIncidents subscribes to incidents of all types
func (ns *NATSService) SubscribeToIncidents(handler func(*events.Incident)) (*nats.Subscription, error) {
	if ns.conn == nil {
		return nil, fmt.Errorf("NATS connection not established")
	}

	subject := fmt.Sprintf("%s.%s.>", ns.prefix, SubjectIncidents)
	return ns.conn.Subscribe(subject, func(msg *nats.Msg) {
		var incident events.Incident
		if err := json.Unmarshal(msg.Data, &incident); err != nil {
			logging.LogError(err, "❌ Error unmarshaling incident from NATS")
			return
		}
		handler(&incident)
	})
}

// Close closes the NATS connection
func (ns *NATSService) Close() {
	if ns.conn != nil {
		ns.conn.Close()
		logging.LogNATSEvent("", "connection_closed")
	}
}

// IsConnected returns true if connected to NATS
func (ns *NATSService) IsConnected() bool {
	return ns.conn != nil && ns.conn.IsConnected()
}

// GetStats returns connection statistics
func (ns *NATSService) GetStats() nats.Statistics {
	if ns.conn != nil {
		return ns.conn.Stats()
	}
	return nats.Statistics{}
}
