// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/fstrace/services/fstrace/store"
	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
)

var (
	metaIDKey  = []byte("meta/id")
	metaMinKey = []byte("meta/min")

	eventPrefix   = []byte("e/")
	syscallPrefix = []byte("s/")
	filePrefix    = []byte("f/")
	procPrefix    = []byte("p/")
	fileRecPrefix = []byte("m/")
	envPrefix     = []byte("v/")
)

// Store is a BadgerDB-backed store.Backend.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	*store.ScanIndex
	kv *kv
}

// Open opens a store with the given configuration.
func Open(cfg Config) (*Store, error) {
	k, err := openKV(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{kv: k}
	s.ScanIndex = store.NewScanIndex(s)
	return s, nil
}

// OpenInMemory opens a throwaway in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

// Close implements store.Backend.
func (s *Store) Close() error {
	return s.kv.close()
}

// Dir returns the store directory, or "" for an in-memory store.
func (s *Store) Dir() string {
	return s.kv.dir
}

// IngestionID returns the id of the loaded dataset, and false when the
// store is empty.
func (s *Store) IngestionID(ctx context.Context) (string, bool, error) {
	var (
		id    string
		found bool
	)
	err := s.kv.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(metaIDKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error {
			id = string(v)
			return nil
		})
	})
	if err != nil {
		return "", false, fmt.Errorf("reading ingestion id: %w", err)
	}
	return id, found, nil
}

// Load implements store.Loader.
//
// Records are written through a WriteBatch; the metadata keys are written
// last, so a store without an ingestion id holds no complete trace.
func (s *Store) Load(ctx context.Context, ds *store.Dataset) error {
	if _, loaded, err := s.IngestionID(ctx); err != nil {
		return err
	} else if loaded {
		return store.ErrAlreadyLoaded
	}

	wb := s.kv.db.NewWriteBatch()
	defer wb.Cancel()

	minStamp := math.Inf(1)
	for i, e := range ds.Events {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		seq := uint64(i)
		val, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encoding event %d: %w", i, err)
		}
		if err := wb.Set(key(eventPrefix, seq), val); err != nil {
			return fmt.Errorf("writing event %d: %w", i, err)
		}
		if err := wb.Set(key(syscallPrefix, ordered(int64(e.Syscall)), seq), []byte{}); err != nil {
			return fmt.Errorf("indexing event %d: %w", i, err)
		}
		if err := wb.Set(key(filePrefix, ordered(e.FileID), seq), []byte{}); err != nil {
			return fmt.Errorf("indexing event %d: %w", i, err)
		}
		minStamp = math.Min(minStamp, e.Stamp)
	}
	if len(ds.Events) == 0 {
		minStamp = 0
	}

	if err := writeRecords(wb, procPrefix, ds.Processes); err != nil {
		return fmt.Errorf("writing processes: %w", err)
	}
	if err := writeRecords(wb, fileRecPrefix, ds.Files); err != nil {
		return fmt.Errorf("writing files: %w", err)
	}
	if err := writeRecords(wb, envPrefix, ds.Env); err != nil {
		return fmt.Errorf("writing env: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flushing load batch: %w", err)
	}

	return s.kv.update(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(metaMinKey, u64(math.Float64bits(minStamp))); err != nil {
			return err
		}
		return txn.Set(metaIDKey, []byte(ds.ID))
	})
}

func writeRecords[T any](wb *badger.WriteBatch, prefix []byte, records []T) error {
	for i, r := range records {
		val, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := wb.Set(key(prefix, uint64(i)), val); err != nil {
			return err
		}
	}
	return nil
}

// ScanSyscall implements store.EventScanner.
func (s *Store) ScanSyscall(ctx context.Context, code syscall.Code) ([]store.SyscallEvent, error) {
	return s.scanIndex(ctx, key(syscallPrefix, ordered(int64(code))))
}

// ScanFile implements store.EventScanner.
func (s *Store) ScanFile(ctx context.Context, fileID int64) ([]store.SyscallEvent, error) {
	return s.scanIndex(ctx, key(filePrefix, ordered(fileID)))
}

// MinTimestamp implements store.EventScanner.
func (s *Store) MinTimestamp(ctx context.Context) (float64, error) {
	var ts float64
	err := s.kv.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(metaMinKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			ts = math.Float64frombits(binary.BigEndian.Uint64(v))
			return nil
		})
	})
	return ts, err
}

// Processes implements store.Index.
func (s *Store) Processes(ctx context.Context) ([]store.ProcessRecord, error) {
	return scanRecords[store.ProcessRecord](ctx, s.kv, procPrefix)
}

// Files implements store.Index.
func (s *Store) Files(ctx context.Context) ([]store.FileRecord, error) {
	return scanRecords[store.FileRecord](ctx, s.kv, fileRecPrefix)
}

// Env implements store.Index.
func (s *Store) Env(ctx context.Context) ([]store.EnvRecord, error) {
	return scanRecords[store.EnvRecord](ctx, s.kv, envPrefix)
}

// scanIndex walks an index prefix and resolves each entry's event.
func (s *Store) scanIndex(ctx context.Context, prefix []byte) ([]store.SyscallEvent, error) {
	out := []store.SyscallEvent{}
	err := s.kv.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().Key()
			seq := binary.BigEndian.Uint64(k[len(k)-8:])

			item, err := txn.Get(key(eventPrefix, seq))
			if err != nil {
				return fmt.Errorf("resolving event %d: %w", seq, err)
			}
			var e store.SyscallEvent
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &e) }); err != nil {
				return fmt.Errorf("decoding event %d: %w", seq, err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanRecords[T any](ctx context.Context, k *kv, prefix []byte) ([]T, error) {
	out := []T{}
	err := k.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec T
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", prefix, err)
	}
	return out, nil
}

// key joins a prefix with big-endian integers.
func key(prefix []byte, parts ...uint64) []byte {
	k := make([]byte, len(prefix), len(prefix)+8*len(parts))
	copy(k, prefix)
	for _, p := range parts {
		k = binary.BigEndian.AppendUint64(k, p)
	}
	return k
}

// ordered maps a signed integer to an unsigned one with the same ordering.
func ordered(v int64) uint64 {
	return uint64(v) ^ (1 << 63)
}

func u64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

var _ store.Backend = (*Store)(nil)
