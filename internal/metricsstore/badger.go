// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metricsstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerPersister durably mirrors metric points in an embedded Badger
// KV store, keyed "instance_uid|metric|unix_nanos" so that a scan over
// an instance/metric prefix returns points in chronological order.
type BadgerPersister struct {
	db *badger.DB
}

// OpenBadgerPersister opens (creating if necessary) a Badger database at dir.
func OpenBadgerPersister(dir string) (*BadgerPersister, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger metrics store at %s: %w", dir, err)
	}
	return &BadgerPersister{db: db}, nil
}

func pointKey(instanceUID, metric string, ts time.Time) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(ts.UnixNano()))
	return []byte(instanceUID + "|" + metric + "|" + string(buf[:]))
}

// Save writes one point durably.
func (p *BadgerPersister) Save(instanceUID, metric string, pt Point) error {
	var val [16]byte
	binary.BigEndian.PutUint64(val[0:8], uint64(pt.Timestamp.UnixNano()))
	binary.BigEndian.PutUint64(val[8:16], math.Float64bits(pt.Value))

	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pointKey(instanceUID, metric, pt.Timestamp), val[:])
	})
}

// LoadAll scans the entire keyspace and reconstructs per-instance,
// per-metric point slices in key (chronological) order.
func (p *BadgerPersister) LoadAll() (map[string]map[string][]Point, error) {
	out := make(map[string]map[string][]Point)
	err := p.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			k := item.Key()
			parts := strings.SplitN(string(k), "|", 3)
			if len(parts) != 3 {
				continue
			}
			instanceUID, metric := parts[0], parts[1]
			var pt Point
			err := item.Value(func(val []byte) error {
				if len(val) < 16 {
					return fmt.Errorf("corrupt metric point value")
				}
				nanos := int64(binary.BigEndian.Uint64(val[0:8]))
				pt = Point{
					Timestamp: time.Unix(0, nanos),
					Value:     math.Float64frombits(binary.BigEndian.Uint64(val[8:16])),
				}
				return nil
			})
			if err != nil {
				return err
			}
			if out[instanceUID] == nil {
				out[instanceUID] = make(map[string][]Point)
			}
			out[instanceUID][metric] = append(out[instanceUID][metric], pt)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan badger metrics store: %w", err)
	}
	return out, nil
}

// RunValueLogGC invokes Badger's own value-log garbage collection. Safe to
// call periodically; returns nil when there is nothing to reclaim.
func (p *BadgerPersister) RunValueLogGC() error {
	err := p.db.RunValueLogGC(0.5)
	if err == badger.ErrNoRewrite {
		return nil
	}
	return err
}

// Close releases the underlying database handle.
func (p *BadgerPersister) Close() error {
	return p.db.Close()
}
