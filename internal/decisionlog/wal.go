// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

package decisionlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/edgewatch/edgewatch/internal/logging"
	"github.com/edgewatch/edgewatch/internal/telemetry"
)

// WAL errors.
var (
	ErrWALClosed     = errors.New("WAL closed")
	ErrEntryNotFound = errors.New("WAL entry not found")
)

const pendingPrefix = "pending:"

// WALConfig holds WAL tuning options.
type WALConfig struct {
	// Path is the directory where BadgerDB stores its files. Should be on
	// a durable filesystem (not tmpfs).
	Path string

	// SyncWrites forces fsync after every write. Leave enabled: a
	// buffered-but-lost staged record defeats the point of staging.
	SyncWrites bool

	// EntryTTL is the time-to-live for staged entries. Entries older than
	// this are dropped by Badger regardless of confirmation.
	EntryTTL time.Duration
}

// DefaultWALConfig returns production defaults.
func DefaultWALConfig(path string) WALConfig {
	return WALConfig{
		Path:       path,
		SyncWrites: true,
		EntryTTL:   7 * 24 * time.Hour,
	}
}

// Entry is one staged decision record awaiting its CSV append.
type Entry struct {
	ID        string                    `json:"id"`
	Record    *telemetry.DecisionRecord `json:"record"`
	CreatedAt time.Time                 `json:"created_at"`
}

// WAL stages decision records in BadgerDB before the CSV append. A record
// is written here first, appended to the log, then confirmed (deleted). On
// restart, unconfirmed entries are replayed by Appender.Recover, so a crash
// between the stage and the append loses nothing.
type WAL struct {
	db  *badger.DB
	ttl time.Duration

	mu     sync.RWMutex
	closed bool
}

// OpenWAL opens (or creates) the staging WAL at the configured path.
func OpenWAL(cfg WALConfig) (*WAL, error) {
	if cfg.Path == "" {
		return nil, errors.New("WAL path must not be empty")
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open WAL store: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("decision WAL opened")

	return &WAL{db: db, ttl: cfg.EntryTTL}, nil
}

// Write stages a decision record and returns its entry ID. Durable before
// return when SyncWrites is enabled.
func (w *WAL) Write(ctx context.Context, rec *telemetry.DecisionRecord) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return "", ErrWALClosed
	}
	if rec == nil {
		return "", errors.New("nil record")
	}

	entry := &Entry{
		ID:        uuid.New().String(),
		Record:    rec,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal WAL entry: %w", err)
	}

	key := []byte(pendingPrefix + entry.ID)
	err = w.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, data)
		if w.ttl > 0 {
			e = e.WithTTL(w.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return "", fmt.Errorf("stage WAL entry: %w", err)
	}
	return entry.ID, nil
}

// Confirm removes a staged entry after its row reached the decision log.
func (w *WAL) Confirm(ctx context.Context, entryID string) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWALClosed
	}

	key := []byte(pendingPrefix + entryID)
	err := w.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("confirm WAL entry: %w", err)
	}
	return nil
}

// Pending returns all staged entries in creation order, oldest first.
// Badger's View transaction provides snapshot isolation, so the result is
// a consistent point-in-time view.
func (w *WAL) Pending(ctx context.Context) ([]*Entry, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return nil, ErrWALClosed
	}

	var entries []*Entry
	err := w.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(pendingPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("unmarshal WAL entry: %w", err)
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Keys iterate in lexical UUID order; replay must follow arrival
	// order.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].CreatedAt.Before(entries[j-1].CreatedAt); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	return entries, nil
}

// PendingCount returns the number of staged entries.
func (w *WAL) PendingCount(ctx context.Context) (int, error) {
	entries, err := w.Pending(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Close shuts down the WAL store.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.db.Close()
}
