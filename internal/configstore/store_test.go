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
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/aegislabs/aegis-hub/internal/logging"
)

func TestMain(m *testing.M) {
	_ = logging.InitializeWithConfig(logging.LogConfig{Level: "error", Format: "console"})
	os.Exit(m.Run())
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "config.json"))
}

func TestStore_LoadMissingReturnsDefaults(t *testing.T) {
	store := newTestStore(t)

	doc, err := store.Load()
	if err != nil {
		t.Fatalf("Load() on missing file returned error: %v", err)
	}

	vm := doc.VoiceMonitor()
	if !vm.Enabled {
		t.Error("default voice_monitor section should be enabled")
	}
	if len(vm.SuspiciousKeywords) == 0 {
		t.Error("default voice_monitor section should carry suspicious keywords")
	}

	od := doc.ObjectDetection()
	if od.ConfidenceThreshold != 0.6 {
		t.Errorf("default object_detection threshold = %f, want 0.6", od.ConfidenceThreshold)
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	doc := DefaultDocument()
	if err := doc.SetSection(SectionVoiceMonitor, VoiceMonitorSection{
		Enabled:            true,
		Sensitivity:        0.9,
		SuspiciousKeywords: []string{"help", "intruder"},
	}); err != nil {
		t.Fatalf("SetSection() error: %v", err)
	}

	if err := store.Save(doc); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	reloaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Round-trip identity: every section decodes to the same value
	if len(reloaded) != len(doc) {
		t.Errorf("reloaded document has %d sections, want %d", len(reloaded), len(doc))
	}

	vm := reloaded.VoiceMonitor()
	if vm.Sensitivity != 0.9 {
		t.Errorf("VoiceMonitor().Sensitivity = %f, want 0.9", vm.Sensitivity)
	}
	if !reflect.DeepEqual(vm.SuspiciousKeywords, []string{"help", "intruder"}) {
		t.Errorf("VoiceMonitor().SuspiciousKeywords = %v, want [help intruder]", vm.SuspiciousKeywords)
	}
}

func TestStore_UnknownSectionsPreserved(t *testing.T) {
	store := newTestStore(t)

	doc := Document{}
	custom := json.RawMessage(`{"vendor":"acme","knob":42}`)
	doc["custom_extension"] = custom
	if err := store.Save(doc); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	reloaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	raw, ok := reloaded["custom_extension"]
	if !ok {
		t.Fatal("unknown section dropped on round trip")
	}

	var got map[string]interface{}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unknown section corrupted: %v", err)
	}
	if got["vendor"] != "acme" {
		t.Errorf("custom_extension.vendor = %v, want acme", got["vendor"])
	}
}

func TestStore_CorruptFileReturnsDefaults(t *testing.T) {
	store := newTestStore(t)

	if err := os.WriteFile(store.Path(), []byte("{not json"), 0600); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}

	doc, err := store.Load()
	if err != nil {
		t.Fatalf("Load() on corrupt file returned error: %v", err)
	}

	if !doc.VoiceMonitor().Enabled {
		t.Error("corrupt file should fall back to default document")
	}
}

func TestStore_LastWriterWins(t *testing.T) {
	store := newTestStore(t)

	first := DefaultDocument()
	_ = first.SetSection(SectionObjectDetection, ObjectDetectionSection{ConfidenceThreshold: 0.5})
	if err := store.Save(first); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	second := DefaultDocument()
	_ = second.SetSection(SectionObjectDetection, ObjectDetectionSection{ConfidenceThreshold: 0.8})
	if err := store.Save(second); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	reloaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := reloaded.ObjectDetection().ConfidenceThreshold; got != 0.8 {
		t.Errorf("ObjectDetection().ConfidenceThreshold = %f, want 0.8 (last writer)", got)
	}
}

func TestDocument_MalformedSectionFallsBack(t *testing.T) {
	doc := Document{
		SectionVoiceMonitor: json.RawMessage(`"not an object"`),
	}

	vm := doc.VoiceMonitor()
	if !vm.Enabled || len(vm.SuspiciousKeywords) == 0 {
		t.Error("malformed section should decode to defaults")
	}
}

func TestWatcher_NotifiesOnChange(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(DefaultDocument()); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	watcher := NewWatcher(store)
	updates := make(chan Document, 1)
	watcher.Subscribe(func(doc Document) {
		select {
		case updates <- doc:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	// Give the watcher a moment to install the fs watch
	time.Sleep(100 * time.Millisecond)

	doc := DefaultDocument()
	_ = doc.SetSection(SectionVoiceMonitor, VoiceMonitorSection{
		Enabled:            true,
		Sensitivity:        0.42,
		SuspiciousKeywords: []string{"updated"},
	})
	if err := store.Save(doc); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	select {
	case got := <-updates:
		if got.VoiceMonitor().Sensitivity != 0.42 {
			t.Errorf("watcher delivered stale document, sensitivity = %f", got.VoiceMonitor().Sensitivity)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not deliver an update")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on context cancel")
	}
}
