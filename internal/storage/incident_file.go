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

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aegislabs/aegis-hub/internal/events"
)

// IncidentFile is the JSON-array incident file shared with the backend.
// The backend appends, the UI reads it wholesale; the hub mirrors its own
// incidents into it so the file stays the single source for get-incidents.
type IncidentFile struct {
	mu   sync.Mutex
	path string
}

// NewIncidentFile creates a store over the incident file at path
func NewIncidentFile(path string) *IncidentFile {
	return &IncidentFile{path: path}
}

// Path returns the incident file path
func (f *IncidentFile) Path() string {
	return f.path
}

// ReadAll returns every incident in the file, oldest first. A missing
// file is an empty collection, not an error.
func (f *IncidentFile) ReadAll() ([]*events.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.readLocked()
}

// Append adds an incident to the end of the array, rewriting the file.
// The array format has no framing for true appends, so read-modify-write
// is the contract here, same as the original backend.
func (f *IncidentFile) Append(incident *events.Incident) error {
	if err := incident.IsValid(); err != nil {
		return fmt.Errorf("invalid incident: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	incidents, err := f.readLocked()
	if err != nil {
		return err
	}

	incidents = append(incidents, incident)
	return f.writeLocked(incidents)
}

func (f *IncidentFile) readLocked() ([]*events.Incident, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*events.Incident{}, nil
		}
		return nil, fmt.Errorf("failed to read incidents file: %w", err)
	}

	if len(data) == 0 {
		return []*events.Incident{}, nil
	}

	var incidents []*events.Incident
	if err := json.Unmarshal(data, &incidents); err != nil {
		return nil, fmt.Errorf("failed to parse incidents file: %w", err)
	}

	return incidents, nil
}

func (f *IncidentFile) writeLocked(incidents []*events.Incident) error {
	data, err := json.MarshalIndent(incidents, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal incidents: %w", err)
	}

	if dir := filepath.Dir(f.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create incidents directory: %w", err)
		}
	}

	if err := os.WriteFile(f.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write incidents file: %w", err)
	}

	return nil
}
