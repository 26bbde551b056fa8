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

// Package notify raises desktop notifications for high-severity
// incidents so the user sees alerts without the dashboard open.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"

	"github.com/aegislabs/aegis-hub/internal/config"
	"github.com/aegislabs/aegis-hub/internal/events"
	"github.com/aegislabs/aegis-hub/internal/logging"
)

// Notifier shows desktop alerts, rate-limited by a global cooldown so a
// burst of incidents produces one notification, not a popup storm.
type Notifier struct {
	cfg config.NotifyConfig

	mu   sync.Mutex
	last time.Time
}

// New creates a notifier. A disabled notifier silently drops alerts.
func New(cfg config.NotifyConfig) *Notifier {
	return &Notifier{cfg: cfg}
}

// Alert shows a desktop notification for an incident. Low-severity
// incidents and incidents inside the cooldown window are dropped.
func (n *Notifier) Alert(incident *events.Incident) {
	if !n.cfg.Enabled || incident == nil {
		return
	}
	if incident.Severity == events.SeverityLow {
		return
	}

	n.mu.Lock()
	if time.Since(n.last) < n.cfg.Cooldown {
		n.mu.Unlock()
		return
	}
	n.last = time.Now()
	n.mu.Unlock()

	title := "Aegis security alert"
	body := fmt.Sprintf("%s (%.0f%% confidence)", incident.Type, incident.Confidence*100)
	if label, ok := incident.Details["label"]; ok {
		body = fmt.Sprintf("%s: %s (%.0f%% confidence)", incident.Type, label, incident.Confidence*100)
	}

	if err := beeep.Alert(title, body, ""); err != nil {
		logging.LogWarn("failed to show desktop notification",
			zap.Error(err),
		)
	}
}
