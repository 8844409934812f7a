package executor

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"retrans/internal/contracts"
)

var ErrNotNewJob = errors.New("log is not a NewJob event")

// Source identifies the log a job came from.
type Source struct {
	TxHash   common.Hash `json:"txHash"`
	LogIndex uint        `json:"logIndex"`
}

func (s Source) Key() string {
	return fmt.Sprintf("%s:%d", s.TxHash.Hex(), s.LogIndex)
}

// Job is one pending execution announced by a NewJob event.
type Job struct {
	ID            *big.Int  `json:"id"`
	ExecutionTime time.Time `json:"executionTime"`
	BlockNumber   uint64    `json:"blockNumber"`
	Source        Source    `json:"source"`
}

func (j Job) Key() string {
	return j.ID.String()
}

func (j Job) Due(now time.Time) bool {
	return !j.ExecutionTime.After(now)
}

// DecodeNewJob reads the job id from the indexed topic and the execution time from data.
func DecodeNewJob(l types.Log) (Job, error) {
	ev := contracts.RecurringTransactions.Events[contracts.EventNewJob]
	if len(l.Topics) != 2 || l.Topics[0] != ev.ID {
		return Job{}, ErrNotNewJob
	}
	values, err := contracts.RecurringTransactions.Unpack(contracts.EventNewJob, l.Data)
	if err != nil {
		return Job{}, fmt.Errorf("unpack NewJob: %w", err)
	}
	if len(values) != 1 {
		return Job{}, fmt.Errorf("unpack NewJob: expected 1 value, got %d", len(values))
	}
	execTime, ok := values[0].(*big.Int)
	if !ok || !execTime.IsInt64() {
		return Job{}, fmt.Errorf("unpack NewJob: bad execution time %v", values[0])
	}
	return Job{
		ID:            new(big.Int).SetBytes(l.Topics[1].Bytes()),
		ExecutionTime: time.Unix(execTime.Int64(), 0).UTC(),
		BlockNumber:   l.BlockNumber,
		Source:        Source{TxHash: l.TxHash, LogIndex: l.Index},
	}, nil
}
