// Package actionlog records orchestration activity in an append-only
// bbolt bucket. Writes are best-effort: a failed append is logged and
// dropped, never surfaced to the caller.
package actionlog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"sonos-orchestrator/internal/logger"
)

var actionsBucket = []byte("actions")

// Entry is one recorded action.
type Entry struct {
	Kind        string    `json:"kind"`
	Details     string    `json:"details,omitempty"`
	PerformedBy string    `json:"performed_by,omitempty"`
	At          time.Time `json:"at"`
}

// Log appends actions to a shared bbolt database.
type Log struct {
	db *bbolt.DB
}

// New ensures the actions bucket exists.
func New(db *bbolt.DB) (*Log, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(actionsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create actions bucket: %w", err)
	}
	return &Log{db: db}, nil
}

// Record appends an entry, best-effort.
func (l *Log) Record(kind, details string) {
	l.RecordBy(kind, details, "")
}

// RecordBy appends an entry attributed to performedBy, best-effort.
func (l *Log) RecordBy(kind, details, performedBy string) {
	entry := Entry{
		Kind:        kind,
		Details:     details,
		PerformedBy: performedBy,
		At:          time.Now().UTC(),
	}
	if err := l.append(entry); err != nil {
		logger.Warn("Failed to record action %s: %v", kind, err)
	}
}

func (l *Log) append(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(actionsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, data)
	})
}

// Recent returns up to n entries, newest first.
func (l *Log) Recent(n int) ([]Entry, error) {
	var entries []Entry
	err := l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(actionsBucket).Cursor()
		for k, v := c.Last(); k != nil && len(entries) < n; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read action log: %w", err)
	}
	return entries, nil
}
