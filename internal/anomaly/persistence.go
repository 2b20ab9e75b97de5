// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package anomaly

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerModelStore persists per-instance Model snapshots as versioned JSON
// documents, namespaced "model|{instance_uid}". A stale ModelVersion is
// treated as absent by Detector.Restore, which forces a full retrain
// rather than failing to decode.
type BadgerModelStore struct {
	db *badger.DB
}

// NewBadgerModelStore wraps an already-open Badger handle (typically
// shared with the metrics store's durable backend).
func NewBadgerModelStore(db *badger.DB) *BadgerModelStore {
	return &BadgerModelStore{db: db}
}

func modelKey(instanceUID string) []byte {
	return []byte("model|" + instanceUID)
}

// Save writes a model snapshot.
func (s *BadgerModelStore) Save(m *Model) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal anomaly model for %s: %w", m.InstanceUID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(modelKey(m.InstanceUID), data)
	})
}

// Load reads a model snapshot, returning (nil, nil) if none exists.
func (s *BadgerModelStore) Load(instanceUID string) (*Model, error) {
	var m Model
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(modelKey(instanceUID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load anomaly model for %s: %w", instanceUID, err)
	}
	if m.InstanceUID == "" {
		return nil, nil
	}
	return &m, nil
}

// LoadAll scans every persisted model, skipping entries whose Version
// does not match ModelVersion so the caller lets them retrain from scratch.
func (s *BadgerModelStore) LoadAll() ([]*Model, error) {
	var out []*Model
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte("model|")})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var m Model
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return err
			}
			if m.Version == ModelVersion {
				out = append(out, &m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan anomaly models: %w", err)
	}
	return out, nil
}
