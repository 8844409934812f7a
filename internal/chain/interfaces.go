package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// WriteRequest is one state-changing contract call.
type WriteRequest struct {
	Contract common.Address
	ABI      abi.ABI
	Method   string
	Args     []any
	Value    *big.Int // native currency attached, nil for none
}

// Receipt is the mined outcome of a write.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Status      uint64
	GasUsed     uint64
}

func (r Receipt) Succeeded() bool {
	return r.Status == types.ReceiptStatusSuccessful
}

// Writer submits contract writes and waits for them to be mined.
type Writer interface {
	Write(ctx context.Context, req WriteRequest) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (Receipt, error)
}

// Caller performs read-only contract calls.
type Caller interface {
	Call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...any) ([]any, error)
}

// LogReader is the subset of an RPC client needed to scan contract events.
type LogReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}
