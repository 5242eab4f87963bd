package store

import (
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"

	"sonos-orchestrator/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "orchestrator.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadReturnsDefaultsWhenEmpty(t *testing.T) {
	s := openTestStore(t)

	settings, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Volume != 10 || settings.MaxVolume != 100 {
		t.Fatalf("expected defaults, got volume=%d max=%d", settings.Volume, settings.MaxVolume)
	}
	if len(settings.Stations) == 0 {
		t.Fatalf("defaults should carry a station catalog")
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	doc := types.DefaultSettings()
	doc.Volume = 25
	doc.Speakers = []types.Speaker{{Name: "Kitchen", IPAddress: "10.0.0.1"}}
	scene := types.NewScene("Morning")
	scene.SourceType = types.SourceStation
	scene.SourceURL = "radio.example/stream"
	doc.Scenes = []types.Scene{*scene}

	if err := s.Save(doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Volume != 25 {
		t.Fatalf("volume: %d", got.Volume)
	}
	if len(got.Scenes) != 1 || got.Scenes[0].Name != "Morning" {
		t.Fatalf("scenes: %+v", got.Scenes)
	}
	if got.Scenes[0].SourceType != types.SourceStation {
		t.Fatalf("source type: %v", got.Scenes[0].SourceType)
	}

	// Loads must be independent snapshots.
	got.Volume = 99
	again, err := s.Load()
	if err != nil {
		t.Fatalf("load again: %v", err)
	}
	if again.Volume != 25 {
		t.Fatalf("snapshot leaked: %d", again.Volume)
	}
}

func TestLoadCorruptDocumentFallsBackToDefaults(t *testing.T) {
	s := openTestStore(t)

	err := s.Bolt().Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(settingsBucket).Put(settingsKey, []byte("{not json"))
	})
	if err != nil {
		t.Fatalf("inject corrupt value: %v", err)
	}

	settings, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Volume != 10 {
		t.Fatalf("expected defaults after corruption, got %+v", settings)
	}
}
