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

package security

import (
	"errors"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidStorageDir is returned when a storage directory path is unsafe
	ErrInvalidStorageDir = errors.New("invalid storage directory")

	// ErrInvalidIncidentType is returned when an incident type contains unsafe characters
	ErrInvalidIncidentType = errors.New("invalid incident type")
)

// SanitizeLogInput removes newline characters to prevent log injection attacks.
// This function should be used for all user-controlled data before logging,
// including lines relayed verbatim from the backend process.
func SanitizeLogInput(input string) string {
	sanitized := strings.ReplaceAll(input, "\n", "")
	sanitized = strings.ReplaceAll(sanitized, "\r", "")
	return sanitized
}

// ValidateStorageDir ensures that a directory selected via the select-directory
// command is an absolute, clean path with no parent directory references.
// The hub writes incident archives under this path, so a traversal here
// would let a caller redirect writes anywhere on disk.
func ValidateStorageDir(dir string) error {
	if dir == "" {
		return ErrInvalidStorageDir
	}

	if strings.Contains(dir, "..") {
		return ErrInvalidStorageDir
	}

	if !filepath.IsAbs(dir) {
		return ErrInvalidStorageDir
	}

	if filepath.Clean(dir) != dir {
		return ErrInvalidStorageDir
	}

	return nil
}

// ValidateIncidentType ensures an incident type is a plain identifier before
// it is used in queries or file names. Only allows lowercase ASCII letters,
// digits and underscores, matching the backend's incident type vocabulary.
func ValidateIncidentType(incidentType string) error {
	if incidentType == "" {
		return ErrInvalidIncidentType
	}

	for _, r := range incidentType {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return ErrInvalidIncidentType
		}
	}

	return nil
}
