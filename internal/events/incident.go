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
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity levels for incidents
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Well-known incident types produced by the monitoring modules
const (
	TypeMotionDetected    = "motion_detected"
	TypeHarmfulObject     = "harmful_object"
	TypeSuspiciousKeyword = "suspicious_keyword"
	TypeMultiPerson       = "multi_person"
	TypeVoiceAnomaly      = "voice_anomaly"
	TypeUnknownFace       = "unknown_face"
)

// Incident represents a recorded detection event with full traceability
type Incident struct {
	// Core identification
	ID        string    `json:"id" db:"id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`

	// Classification
	Module     string  `json:"module" db:"module"`
	Type       string  `json:"type" db:"type"`
	Confidence float64 `json:"confidence" db:"confidence"`
	Severity   string  `json:"severity" db:"severity"`

	// Free-form context from the producing module (detected label,
	// matched keyword, person count, ...)
	Details map[string]string `json:"details,omitempty" db:"details"`
}

// NewIncident creates a new Incident with a generated ID and current timestamp
func NewIncident(module, incidentType string, confidence float64) *Incident {
	return &Incident{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		Module:     module,
		Type:       incidentType,
		Confidence: confidence,
		Severity:   SeverityMedium,
		Details:    make(map[string]string),
	}
}

// GetID returns the incident ID, satisfying the logging helper interface
func (in *Incident) GetID() string {
	return in.ID
}

// WithSeverity sets the severity and returns the incident for chaining
func (in *Incident) WithSeverity(severity string) *Incident {
	in.Severity = severity
	return in
}

// WithDetail adds a single detail entry and returns the incident for chaining
func (in *Incident) WithDetail(key, value string) *Incident {
	if in.Details == nil {
		in.Details = make(map[string]string)
	}
	in.Details[key] = value
	return in
}

// DetailsJSON returns details as JSON string for database storage
func (in *Incident) DetailsJSON() (string, error) {
	if in.Details == nil {
		return "{}", nil
	}

	data, err := json.Marshal(in.Details)
	if err != nil {
		return "", fmt.Errorf("failed to marshal details: %w", err)
	}

	return string(data), nil
}

// SetDetailsFromJSON parses JSON string and sets details
func (in *Incident) SetDetailsFromJSON(jsonStr string) error {
	if jsonStr == "" || jsonStr == "{}" {
		in.Details = make(map[string]string)
		return nil
	}

	var details map[string]string
	if err := json.Unmarshal([]byte(jsonStr), &details); err != nil {
		return fmt.Errorf("failed to unmarshal details JSON: %w", err)
	}

	in.Details = details
	return nil
}

// IsValid performs basic validation on the incident
func (in *Incident) IsValid() error {
	if in.ID == "" {
		return fmt.Errorf("ID is required")
	}

	if in.Module == "" {
		return fmt.Errorf("module is required")
	}

	if in.Type == "" {
		return fmt.Errorf("type is required")
	}

	if in.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	if in.Confidence < 0 || in.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1")
	}

	switch in.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh:
	default:
		return fmt.Errorf("unknown severity: %s", in.Severity)
	}

	return nil
}

// String returns a human-readable representation of the incident
func (in *Incident) String() string {
	return fmt.Sprintf("Incident{ID: %s, Module: %s, Type: %s, Confidence: %.2f, Severity: %s}",
		in.ID, in.Module, in.Type, in.Confidence, in.Severity)
}
