// Package pebblecursor persists the executor scan cursor in a local pebble database.
package pebblecursor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"retrans/internal/executor"
)

var ErrClosed = errors.New("cursor store closed")

var (
	lastScannedKey  = []byte("cursor/last_scanned")
	processedPrefix = []byte("processed/")
	skippedPrefix   = []byte("skipped/")
)

// Store implements executor.CursorStore.
type Store struct {
	db     *pebble.DB
	closed bool
	mu     sync.RWMutex
}

var _ executor.CursorStore = (*Store)(nil)

func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(8 << 20),
		MemTableSize: 4 << 20,
	}
	defer opts.Cache.Unref()
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) get(key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (s *Store) put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Set(key, value, pebble.Sync)
}

func (s *Store) LastScanned(context.Context) (uint64, bool, error) {
	v, ok, err := s.get(lastScannedKey)
	if err != nil || !ok {
		return 0, false, err
	}
	if len(v) != 8 {
		return 0, false, fmt.Errorf("corrupt cursor value of %d bytes", len(v))
	}
	return binary.BigEndian.Uint64(v), true, nil
}

func (s *Store) SetLastScanned(_ context.Context, block uint64) error {
	return s.put(lastScannedKey, encodeBlock(block))
}

func (s *Store) Processed(_ context.Context, src executor.Source) (bool, error) {
	_, ok, err := s.get(processedKey(src))
	return ok, err
}

func (s *Store) MarkProcessed(_ context.Context, src executor.Source) error {
	return s.put(processedKey(src), []byte{1})
}

func (s *Store) RecordSkipped(_ context.Context, block uint64) error {
	return s.put(append(append([]byte{}, skippedPrefix...), encodeBlock(block)...), nil)
}

// Skipped lists skipped blocks in ascending order.
func (s *Store) Skipped() ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: skippedPrefix,
		UpperBound: prefixEnd(skippedPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close()

	var blocks []uint64
	for iter.First(); iter.Valid(); iter.Next() {
		k := iter.Key()[len(skippedPrefix):]
		if len(k) == 8 {
			blocks = append(blocks, binary.BigEndian.Uint64(k))
		}
	}
	return blocks, iter.Error()
}

func processedKey(src executor.Source) []byte {
	return append(append([]byte{}, processedPrefix...), src.Key()...)
}

func encodeBlock(block uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, block)
	return b
}

func prefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	end[len(end)-1]++
	return end
}
