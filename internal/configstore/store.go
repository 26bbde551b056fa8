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

// Package configstore owns the monitored configuration document: a flat
// JSON file with recognized top-level sections (detection thresholds,
// suspicious keyword lists, storage settings) that the hub mostly passes
// through untouched. Reads return the whole document, saves replace it
// wholesale, last writer wins.
package configstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aegislabs/aegis-hub/internal/logging"
)

// Recognized top-level section names
const (
	SectionFaceRecognition   = "face_recognition"
	SectionVoiceMonitor      = "voice_monitor"
	SectionObjectDetection   = "object_detection"
	SectionActivityDetection = "activity_detection"
	SectionBuffer            = "buffer"
	SectionStorage           = "storage"
)

// Document is the monitored config document. Sections the hub does not
// understand are preserved byte-for-byte across a load/save round trip.
type Document map[string]json.RawMessage

// VoiceMonitorSection is the typed view of the voice_monitor section
type VoiceMonitorSection struct {
	Enabled            bool     `json:"enabled"`
	Sensitivity        float64  `json:"sensitivity"`
	SuspiciousKeywords []string `json:"suspicious_keywords"`
}

// ObjectDetectionSection is the typed view of the object_detection section
type ObjectDetectionSection struct {
	Enabled             bool     `json:"enabled"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	SuspiciousObjects   []string `json:"suspicious_objects"`
}

// FaceRecognitionSection is the typed view of the face_recognition section
type FaceRecognitionSection struct {
	Enabled             bool    `json:"enabled"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	KnownFacesPath      string  `json:"known_faces_path"`
}

// StorageSection is the typed view of the storage section
type StorageSection struct {
	IncidentsPath string `json:"incidents_path"`
	LogsPath      string `json:"logs_path"`
	RetentionDays int    `json:"retention_days"`
}

// VoiceMonitor decodes the voice_monitor section, falling back to the
// default section when missing or malformed
func (d Document) VoiceMonitor() VoiceMonitorSection {
	section := defaultVoiceMonitor()
	if raw, ok := d[SectionVoiceMonitor]; ok {
		if err := json.Unmarshal(raw, &section); err != nil {
			return defaultVoiceMonitor()
		}
	}
	return section
}

// ObjectDetection decodes the object_detection section, falling back to
// the default section when missing or malformed
func (d Document) ObjectDetection() ObjectDetectionSection {
	section := defaultObjectDetection()
	if raw, ok := d[SectionObjectDetection]; ok {
		if err := json.Unmarshal(raw, &section); err != nil {
			return defaultObjectDetection()
		}
	}
	return section
}

// FaceRecognition decodes the face_recognition section, falling back to
// the default section when missing or malformed
func (d Document) FaceRecognition() FaceRecognitionSection {
	section := defaultFaceRecognition()
	if raw, ok := d[SectionFaceRecognition]; ok {
		if err := json.Unmarshal(raw, &section); err != nil {
			return defaultFaceRecognition()
		}
	}
	return section
}

// Storage decodes the storage section, falling back to the default
// section when missing or malformed
func (d Document) Storage() StorageSection {
	section := defaultStorage()
	if raw, ok := d[SectionStorage]; ok {
		if err := json.Unmarshal(raw, &section); err != nil {
			return defaultStorage()
		}
	}
	return section
}

// SetSection encodes value into the named top-level section
func (d Document) SetSection(name string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal section %q: %w", name, err)
	}
	d[name] = raw
	return nil
}

// Store reads and writes the config document at a fixed path
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store for the document at path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the document path
func (s *Store) Path() string {
	return s.path
}

// Load reads the document from disk. A missing or corrupt file yields the
// default document, matching the backend's behavior, so a fresh install
// starts with sane thresholds instead of an error.
func (s *Store) Load() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Sugar.Infow("📝 Config document missing, using defaults", "path", s.path)
			return DefaultDocument(), nil
		}
		return nil, fmt.Errorf("failed to read config document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		logging.LogWarn("Config document is not valid JSON, using defaults")
		return DefaultDocument(), nil
	}

	return doc, nil
}

// Save writes a full replacement document back to disk. No merge is
// attempted; the caller is expected to have loaded the document first.
func (s *Store) Save(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config document: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config document: %w", err)
	}

	logging.Sugar.Infow("💾 Config document saved", "path", s.path, "sections", len(doc))
	return nil
}
