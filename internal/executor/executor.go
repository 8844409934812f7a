package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"retrans/internal/chain"
	"retrans/internal/contracts"
	"retrans/internal/logging"
)

const (
	DefaultMaxBlockSpread = 500
	DefaultScanInterval   = time.Minute
	DefaultBatchSize      = 20
)

type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier int
}

type Config struct {
	Contract       common.Address
	ScanInterval   time.Duration
	MaxBlockSpread uint64
	Confirmations  uint64
	// StartBlock is used when no cursor is stored. Zero starts at the current head.
	StartBlock uint64
	BatchSize  int
	Retry      RetryConfig
	Now        func() time.Time
}

func (c *Config) setDefaults() {
	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.MaxBlockSpread == 0 {
		c.MaxBlockSpread = DefaultMaxBlockSpread
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 1
	}
	if c.Retry.InitialBackoff <= 0 {
		c.Retry.InitialBackoff = 500 * time.Millisecond
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Executor scrapes NewJob events and calls executeJob once a job is due.
type Executor struct {
	cfg     Config
	reader  chain.LogReader
	writer  chain.Writer
	queue   Queue
	cursor  CursorStore
	log     *slog.Logger
	metrics *Metrics
}

func New(cfg Config, reader chain.LogReader, writer chain.Writer, queue Queue, cursor CursorStore, logger *slog.Logger, metrics *Metrics) (*Executor, error) {
	if reader == nil {
		return nil, errors.New("log reader is required")
	}
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if queue == nil || cursor == nil {
		return nil, errors.New("queue and cursor store are required")
	}
	if cfg.Contract == (common.Address{}) {
		return nil, errors.New("recurring transactions contract address is required")
	}
	cfg.setDefaults()
	return &Executor{
		cfg:     cfg,
		reader:  reader,
		writer:  writer,
		queue:   queue,
		cursor:  cursor,
		log:     logging.OrDefault(logger).With("component", "executor"),
		metrics: metrics,
	}, nil
}

// Run ticks until ctx ends. Tick errors are logged and retried on the next tick.
func (e *Executor) Run(ctx context.Context) error {
	e.log.Info("executor started", "contract", e.cfg.Contract.Hex(), "interval", e.cfg.ScanInterval)
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		if err := e.Tick(ctx); err != nil && ctx.Err() == nil {
			e.log.Error("executor tick failed", "err", err)
		}
		select {
		case <-ctx.Done():
			e.log.Info("executor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick scans new blocks, then executes due jobs. Jobs are not executed when the scan failed,
// so a half-read range never races its own executions.
func (e *Executor) Tick(ctx context.Context) error {
	if _, err := e.Scan(ctx); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if _, err := e.ExecuteDue(ctx); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	return nil
}

// Scan reads NewJob logs up to the confirmed head and returns how many jobs were scheduled.
func (e *Executor) Scan(ctx context.Context) (int, error) {
	head, err := e.reader.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	if head < e.cfg.Confirmations {
		return 0, nil
	}
	latest := head - e.cfg.Confirmations

	last, ok, err := e.cursor.LastScanned(ctx)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if !ok {
		if e.cfg.StartBlock == 0 {
			e.log.Info("no cursor stored, starting at head", "block", latest)
			if err := e.cursor.SetLastScanned(ctx, latest); err != nil {
				return 0, err
			}
			e.metrics.setLastScanned(latest)
			return 0, nil
		}
		last = e.cfg.StartBlock - 1
	}

	scheduled := 0
	for last < latest {
		from := last + 1
		to := min(from+e.cfg.MaxBlockSpread-1, latest)
		logs, end, err := e.fetch(ctx, from, to)
		if err != nil {
			return scheduled, err
		}
		for _, l := range logs {
			added, err := e.schedule(ctx, l)
			if err != nil {
				return scheduled, err
			}
			if added {
				scheduled++
			}
		}
		if err := e.cursor.SetLastScanned(ctx, end); err != nil {
			return scheduled, fmt.Errorf("save cursor: %w", err)
		}
		e.metrics.setLastScanned(end)
		last = end
	}
	e.refreshDepth(ctx)
	return scheduled, nil
}

// fetch returns logs for [from, end] where end <= to. The range shrinks while the node
// rejects it as too large. A single block that still fails is recorded as skipped.
func (e *Executor) fetch(ctx context.Context, from, to uint64) ([]types.Log, uint64, error) {
	topic := contracts.RecurringTransactions.Events[contracts.EventNewJob].ID
	for {
		q := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{e.cfg.Contract},
			Topics:    [][]common.Hash{{topic}},
		}
		logs, err := e.reader.FilterLogs(ctx, q)
		if err == nil {
			return logs, to, nil
		}
		if !tooLarge(err) {
			return nil, 0, fmt.Errorf("filter logs %d-%d: %w", from, to, err)
		}
		if from == to {
			e.log.Warn("skipping block, logs too large", "block", from, "err", err)
			if err := e.cursor.RecordSkipped(ctx, from); err != nil {
				return nil, 0, err
			}
			e.metrics.incSkipped()
			return nil, from, nil
		}
		to = from + (to-from)/2
		e.log.Debug("log range too large, halving", "from", from, "to", to)
	}
}

func (e *Executor) schedule(ctx context.Context, l types.Log) (bool, error) {
	if l.Removed {
		return false, nil
	}
	job, err := DecodeNewJob(l)
	if errors.Is(err, ErrNotNewJob) {
		return false, nil
	}
	if err != nil {
		// The cursor moves past this log, so keep the block visible for a manual rescan.
		e.log.Error("undecodable NewJob log, recording block as skipped", "tx", l.TxHash.Hex(), "index", l.Index, "block", l.BlockNumber, "err", err)
		if err := e.cursor.RecordSkipped(ctx, l.BlockNumber); err != nil {
			return false, err
		}
		e.metrics.incSkipped()
		return false, nil
	}
	seen, err := e.cursor.Processed(ctx, job.Source)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}
	if err := e.queue.Schedule(ctx, job); err != nil {
		return false, fmt.Errorf("schedule job %s: %w", job.ID, err)
	}
	if err := e.cursor.MarkProcessed(ctx, job.Source); err != nil {
		return false, err
	}
	e.metrics.incScheduled()
	e.log.Info("job scheduled", "job_id", job.ID.String(), "execution_time", job.ExecutionTime, "block", job.BlockNumber)
	return true, nil
}

// ExecuteDue runs every job whose execution time has passed and returns how many succeeded.
// Jobs failing with a retryable error stay queued for the next tick.
func (e *Executor) ExecuteDue(ctx context.Context) (int, error) {
	jobs, err := e.queue.Due(ctx, e.cfg.Now(), e.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("load due jobs: %w", err)
	}
	done := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		hash, err := e.executeWithRetry(ctx, job)
		if err != nil && ctx.Err() != nil {
			return done, ctx.Err()
		}
		if err != nil {
			e.metrics.incExecuted("failed")
			if chain.IsRetryable(err) {
				e.log.Warn("job execution failed, will retry", "job_id", job.ID.String(), "err", err)
				continue
			}
			e.log.Error("job execution failed, dropping", "job_id", job.ID.String(), "err", chain.Describe(err))
		} else {
			e.metrics.incExecuted("success")
			e.log.Info("job executed", "job_id", job.ID.String(), "tx", hash.Hex())
			done++
		}
		if err := e.queue.Remove(ctx, job.ID); err != nil {
			return done, fmt.Errorf("remove job %s: %w", job.ID, err)
		}
	}
	e.refreshDepth(ctx)
	return done, nil
}

func (e *Executor) executeWithRetry(ctx context.Context, job Job) (common.Hash, error) {
	retry := e.cfg.Retry
	backoff := retry.InitialBackoff
	for i := 1; i <= retry.MaxAttempts; i++ {
		hash, err := e.execute(ctx, job)
		if err == nil {
			e.metrics.incRetry("success")
			return hash, nil
		}
		if !chain.IsRetryable(err) || i == retry.MaxAttempts {
			e.metrics.incRetry("failed")
			return common.Hash{}, err
		}

		e.metrics.incRetry("retry")
		sleep := backoff
		if retry.MaxBackoff > 0 && sleep > retry.MaxBackoff {
			sleep = retry.MaxBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
		if retry.BackoffMultiplier > 1 {
			backoff *= time.Duration(retry.BackoffMultiplier)
		}
	}
	return common.Hash{}, errors.New("exhausted retries")
}

func (e *Executor) execute(ctx context.Context, job Job) (common.Hash, error) {
	hash, err := e.writer.Write(ctx, chain.WriteRequest{
		Contract: e.cfg.Contract,
		ABI:      contracts.RecurringTransactions,
		Method:   contracts.MethodExecuteJob,
		Args:     []any{job.ID},
	})
	if err != nil {
		return common.Hash{}, err
	}
	if _, err := e.writer.WaitMined(ctx, hash); err != nil {
		return hash, err
	}
	return hash, nil
}

func (e *Executor) refreshDepth(ctx context.Context) {
	if n, err := e.queue.Len(ctx); err == nil {
		e.metrics.setQueueDepth(n)
	}
}

// tooLarge matches the messages providers use when a log query exceeds their limits.
func tooLarge(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"too large", "too many", "more than", "limit exceeded", "response size"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
