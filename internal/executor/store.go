package executor

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"
)

// Queue holds jobs waiting for their execution time. Scheduling the same job id twice keeps one entry.
type Queue interface {
	Schedule(ctx context.Context, job Job) error
	Due(ctx context.Context, now time.Time, limit int) ([]Job, error)
	Remove(ctx context.Context, id *big.Int) error
	Len(ctx context.Context) (int, error)
}

// CursorStore remembers how far the chain was scanned and which logs were handled.
type CursorStore interface {
	LastScanned(ctx context.Context) (block uint64, ok bool, err error)
	SetLastScanned(ctx context.Context, block uint64) error
	Processed(ctx context.Context, src Source) (bool, error)
	MarkProcessed(ctx context.Context, src Source) error
	RecordSkipped(ctx context.Context, block uint64) error
}

// MemoryQueue is mostly for testing and single-process runs.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{jobs: make(map[string]Job)}
}

func (q *MemoryQueue) Schedule(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.Key()] = job
	return nil
}

func (q *MemoryQueue) Due(_ context.Context, now time.Time, limit int) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []Job
	for _, j := range q.jobs {
		if j.Due(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool {
		if due[a].ExecutionTime.Equal(due[b].ExecutionTime) {
			return due[a].ID.Cmp(due[b].ID) < 0
		}
		return due[a].ExecutionTime.Before(due[b].ExecutionTime)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (q *MemoryQueue) Remove(_ context.Context, id *big.Int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, id.String())
	return nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs), nil
}

type MemoryCursor struct {
	mu        sync.Mutex
	last      uint64
	hasLast   bool
	processed map[string]struct{}
	skipped   []uint64
}

func NewMemoryCursor() *MemoryCursor {
	return &MemoryCursor{processed: make(map[string]struct{})}
}

func (m *MemoryCursor) LastScanned(context.Context) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.hasLast, nil
}

func (m *MemoryCursor) SetLastScanned(_ context.Context, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last, m.hasLast = block, true
	return nil
}

func (m *MemoryCursor) Processed(_ context.Context, src Source) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[src.Key()]
	return ok, nil
}

func (m *MemoryCursor) MarkProcessed(_ context.Context, src Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[src.Key()] = struct{}{}
	return nil
}

func (m *MemoryCursor) RecordSkipped(_ context.Context, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped = append(m.skipped, block)
	return nil
}

// Skipped returns the blocks that could not be scanned.
func (m *MemoryCursor) Skipped() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.skipped...)
}
