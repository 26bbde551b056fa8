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
	"database/sql"
	"fmt"
	"time"

	"github.com/aegislabs/aegis-hub/internal/events"
	"github.com/aegislabs/aegis-hub/internal/logging"
)

// IncidentStore handles database operations for archived incidents
type IncidentStore struct {
	db *Database
}

// NewIncidentStore creates a new incident store
func NewIncidentStore(db *Database) *IncidentStore {
	return &IncidentStore{db: db}
}

// Insert stores a new incident in the archive
func (s *IncidentStore) Insert(incident *events.Incident) error {
	if err := incident.IsValid(); err != nil {
		return fmt.Errorf("invalid incident: %w", err)
	}

	detailsJSON, err := incident.DetailsJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize details: %w", err)
	}

	query := `
		INSERT INTO incidents (
			id, timestamp, module, type, confidence, severity, details
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.DB().Exec(query,
		incident.ID, incident.Timestamp, incident.Module, incident.Type,
		incident.Confidence, incident.Severity, detailsJSON,
	)

	if err != nil {
		return fmt.Errorf("failed to insert incident: %w", err)
	}

	logging.LogDatabaseOperation("INSERT", "incidents")
	return nil
}

// GetByID retrieves an incident by its ID
func (s *IncidentStore) GetByID(id string) (*events.Incident, error) {
	query := `
		SELECT id, timestamp, module, type, confidence, severity, details
		FROM incidents
		WHERE id = ?`

	row := s.db.DB().QueryRow(query, id)
	return s.scanIncident(row)
}

// List retrieves incidents with pagination and filtering
func (s *IncidentStore) List(options ListOptions) ([]*events.Incident, error) {
	query, args := s.buildListQuery(options)

	rows, err := s.db.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var incidents []*events.Incident
	for rows.Next() {
		incident, err := s.scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, incident)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating incidents: %w", err)
	}

	return incidents, nil
}

// Count returns the total number of incidents matching the filter
func (s *IncidentStore) Count(options ListOptions) (int64, error) {
	options.Limit = 0
	options.Offset = 0
	query, args := s.buildListQuery(options)

	countQuery := "SELECT COUNT(*) FROM (" + query + ") as filtered"

	var count int64
	err := s.db.DB().QueryRow(countQuery, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count incidents: %w", err)
	}

	return count, nil
}

// PurgeOlderThan removes archived incidents older than the cutoff and
// returns the number of rows deleted. Retention runs from a timer, so
// failures are reported rather than fatal.
func (s *IncidentStore) PurgeOlderThan(cutoff time.Time) (int64, error) {
	result, err := s.db.DB().Exec("DELETE FROM incidents WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge incidents: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if deleted > 0 {
		logging.Sugar.Infow("🗑️  Purged archived incidents", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

// ListOptions defines filtering and pagination options
type ListOptions struct {
	// Filtering
	Module    string
	Type      string
	Severity  string
	StartTime *time.Time
	EndTime   *time.Time

	// Pagination
	Limit  int
	Offset int

	// Sorting
	SortBy    string // "timestamp", "confidence"
	SortOrder string // "ASC", "DESC"
}

// buildListQuery constructs the SQL query based on ListOptions
func (s *IncidentStore) buildListQuery(options ListOptions) (string, []interface{}) {
	query := `
		SELECT id, timestamp, module, type, confidence, severity, details
		FROM incidents WHERE 1=1`

	var args []interface{}

	if options.Module != "" {
		query += " AND module = ?"
		args = append(args, options.Module)
	}

	if options.Type != "" {
		query += " AND type = ?"
		args = append(args, options.Type)
	}

	if options.Severity != "" {
		query += " AND severity = ?"
		args = append(args, options.Severity)
	}

	if options.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, options.StartTime)
	}

	if options.EndTime != nil {
		query += " AND timestamp <= ?"
		args = append(args, options.EndTime)
	}

	sortBy := options.SortBy
	switch sortBy {
	case "timestamp", "confidence":
	default:
		sortBy = "timestamp"
	}

	sortOrder := options.SortOrder
	if sortOrder != "ASC" {
		sortOrder = "DESC"
	}

	query += fmt.Sprintf(" ORDER BY %s %s", sortBy, sortOrder)

	if options.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, options.Limit)

		if options.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, options.Offset)
		}
	}

	return query, args
}

// scanIncident scans a database row into an Incident struct
func (s *IncidentStore) scanIncident(scanner interface{}) (*events.Incident, error) {
	var incident events.Incident
	var detailsJSON string

	var row interface {
		Scan(dest ...interface{}) error
	}

	switch v := scanner.(type) {
	case *sql.Row:
		row = v
	case *sql.Rows:
		row = v
	default:
		return nil, fmt.Errorf("unsupported scanner type")
	}

	err := row.Scan(
		&incident.ID, &incident.Timestamp, &incident.Module, &incident.Type,
		&incident.Confidence, &incident.Severity, &detailsJSON,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("incident not found")
		}
		return nil, err
	}

	if err := incident.SetDetailsFromJSON(detailsJSON); err != nil {
		return nil, fmt.Errorf("failed to parse details JSON: %w", err)
	}

	return &incident, nil
}

// LogStore persists relayed backend output for later inspection
type LogStore struct {
	db *Database
}

// NewLogStore creates a new log store
func NewLogStore(db *Database) *LogStore {
	return &LogStore{db: db}
}

// Insert appends a log event to the archive
func (s *LogStore) Insert(event events.LogEvent) error {
	_, err := s.db.DB().Exec(
		"INSERT INTO logs (timestamp, source, message, is_error) VALUES (?, ?, ?, ?)",
		event.Timestamp, event.Source, event.Message, event.IsError,
	)
	if err != nil {
		return fmt.Errorf("failed to insert log event: %w", err)
	}
	return nil
}

// Recent returns the most recent limit log events, newest first
func (s *LogStore) Recent(limit int) ([]events.LogEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.DB().Query(
		"SELECT timestamp, source, message, is_error FROM logs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []events.LogEvent
	for rows.Next() {
		var event events.LogEvent
		if err := rows.Scan(&event.Timestamp, &event.Source, &event.Message, &event.IsError); err != nil {
			return nil, fmt.Errorf("failed to scan log event: %w", err)
		}
		out = append(out, event)
	}

	return out, rows.Err()
}

// PurgeOlderThan removes archived logs older than the cutoff
func (s *LogStore) PurgeOlderThan(cutoff time.Time) (int64, error) {
	result, err := s.db.DB().Exec("DELETE FROM logs WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge logs: %w", err)
	}
	return result.RowsAffected()
}
