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

package detect

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoFrame is returned when no frame is currently available to poll
var ErrNoFrame = errors.New("no frame available")

// FrameSource supplies the current video frame as base64-encoded image
// bytes. The backend process writes frames somewhere the hub can reach;
// DirFrameSource covers the snapshot-directory arrangement.
type FrameSource interface {
	NextFrame(ctx context.Context) (string, error)
}

// DirFrameSource reads the most recently modified image file from a
// snapshot directory the backend writes into.
type DirFrameSource struct {
	dir string
}

// NewDirFrameSource creates a frame source over the given directory
func NewDirFrameSource(dir string) *DirFrameSource {
	return &DirFrameSource{dir: dir}
}

// NextFrame returns the newest snapshot, base64 encoded.
// Returns ErrNoFrame when the directory is missing or holds no images.
func (s *DirFrameSource) NextFrame(ctx context.Context) (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoFrame
		}
		return "", err
	}

	var newest string
	var newestMod int64
	for _, entry := range entries {
		if entry.IsDir() || !isImageFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest = entry.Name()
			newestMod = mod
		}
	}

	if newest == "" {
		return "", ErrNoFrame
	}

	data, err := os.ReadFile(filepath.Join(s.dir, newest))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}
