package pebblecursor

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrans/internal/executor"
)

func TestStore(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s *Store)
	}{
		{name: "cursor_round_trip", fn: testCursorRoundTrip},
		{name: "processed_sources", fn: testProcessedSources},
		{name: "skipped_blocks_sorted", fn: testSkippedBlocks},
		{name: "closed_store", fn: testClosedStore},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Open(t.TempDir())
			require.NoError(t, err)
			defer s.Close() //nolint:errcheck

			tc.fn(t, s)
		})
	}
}

func testCursorRoundTrip(t *testing.T, s *Store) {
	ctx := context.Background()
	_, ok, err := s.LastScanned(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetLastScanned(ctx, 12345))
	last, ok, err := s.LastScanned(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(12345), last)
}

func testProcessedSources(t *testing.T, s *Store) {
	ctx := context.Background()
	src := executor.Source{TxHash: common.HexToHash("0xabc"), LogIndex: 4}
	seen, err := s.Processed(ctx, src)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.MarkProcessed(ctx, src))
	seen, err = s.Processed(ctx, src)
	require.NoError(t, err)
	assert.True(t, seen)

	other := executor.Source{TxHash: src.TxHash, LogIndex: 5}
	seen, err = s.Processed(ctx, other)
	require.NoError(t, err)
	assert.False(t, seen)
}

func testSkippedBlocks(t *testing.T, s *Store) {
	ctx := context.Background()
	for _, b := range []uint64{300, 7, 256} {
		require.NoError(t, s.RecordSkipped(ctx, b))
	}
	blocks, err := s.Skipped()
	require.NoError(t, err)
	assert.Equal(t, []uint64{7, 256, 300}, blocks)
}

func testClosedStore(t *testing.T, s *Store) {
	require.NoError(t, s.Close())
	_, _, err := s.LastScanned(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, s.Close())
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.SetLastScanned(context.Background(), 99))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck
	last, ok, err := s.LastScanned(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(99), last)
}
