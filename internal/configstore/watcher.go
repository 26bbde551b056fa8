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

package configstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aegislabs/aegis-hub/internal/logging"
)

// debounceWindow coalesces the write bursts editors and atomic savers
// produce into a single reload
const debounceWindow = 200 * time.Millisecond

// Watcher reloads the config document when the file changes on disk and
// notifies subscribers with the fresh document
type Watcher struct {
	store *Store

	mu          sync.Mutex
	subscribers []func(Document)
}

// NewWatcher creates a watcher over the store's document
func NewWatcher(store *Store) *Watcher {
	return &Watcher{store: store}
}

// Subscribe registers a callback invoked after every observed change.
// Callbacks run on the watcher goroutine and must not block.
func (w *Watcher) Subscribe(fn func(Document)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers = append(w.subscribers, fn)
}

// Run watches the document until ctx is cancelled. The parent directory is
// watched rather than the file itself so rename-style saves keep working.
func (w *Watcher) Run(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer func() { _ = fsWatcher.Close() }()

	dir := filepath.Dir(w.store.Path())
	if err := fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	logging.Sugar.Infow("👀 Watching config document", "path", w.store.Path())

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	target := filepath.Clean(w.store.Path())
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWindow, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			doc, err := w.store.Load()
			if err != nil {
				logging.LogError(err, "Failed to reload config document")
				continue
			}
			logging.Sugar.Infow("🔄 Config document reloaded", "sections", len(doc))
			w.notify(doc)

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			logging.LogError(err, "Config watcher error")
		}
	}
}

func (w *Watcher) notify(doc Document) {
	w.mu.Lock()
	subscribers := make([]func(Document), len(w.subscribers))
	copy(subscribers, w.subscribers)
	w.mu.Unlock()

	for _, fn := range subscribers {
		fn(doc)
	}
}
