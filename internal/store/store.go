// Package store persists the configuration document in bbolt. Every load
// returns a fresh snapshot; callers mutate and save it back, last writer
// wins.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"sonos-orchestrator/internal/logger"
	"sonos-orchestrator/internal/types"
)

var (
	settingsBucket = []byte("settings")
	settingsKey    = []byte("document")
)

// Store manages the persistent configuration document.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(settingsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Load returns the configuration document. A missing or unreadable
// document yields the defaults rather than an error; only database
// failures are returned.
func (s *Store) Load() (*types.Settings, error) {
	var settings *types.Settings
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(settingsBucket).Get(settingsKey)
		if data == nil {
			return nil
		}
		var doc types.Settings
		if err := json.Unmarshal(data, &doc); err != nil {
			logger.Warn("Stored settings are corrupt, falling back to defaults: %v", err)
			return nil
		}
		settings = &doc
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if settings == nil {
		return types.DefaultSettings(), nil
	}
	return settings, nil
}

// Save writes the configuration document back.
func (s *Store) Save(settings *types.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(settingsBucket).Put(settingsKey, data)
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// Bolt exposes the underlying database so other buckets (the action log)
// can share the same file.
func (s *Store) Bolt() *bbolt.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
