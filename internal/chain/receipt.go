package chain

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type receiptFetcher interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// WaitForReceipt polls until the transaction is mined or ctx is cancelled.
// A mined but reverted transaction returns its receipt with a ContractRevert error.
func WaitForReceipt(ctx context.Context, client receiptFetcher, hash common.Hash, every time.Duration) (Receipt, error) {
	if every <= 0 {
		every = defaultPollInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if receipt != nil {
			out := toReceipt(receipt)
			if !out.Succeeded() {
				return out, &WriteError{Kind: KindContractRevert, Reason: "transaction reverted"}
			}
			return out, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return Receipt{}, ClassifyError(err)
		}
		select {
		case <-ctx.Done():
			return Receipt{}, ClassifyError(ctx.Err())
		case <-ticker.C:
		}
	}
}

func toReceipt(r *types.Receipt) Receipt {
	out := Receipt{
		TxHash:  r.TxHash,
		Status:  r.Status,
		GasUsed: r.GasUsed,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}
