package chain

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// FakeClient hashes requests to emulate transaction hashes for local runs and tests.
// Every write is mined immediately and succeeds.
type FakeClient struct {
	mu       sync.Mutex
	requests []WriteRequest
}

func (f *FakeClient) Write(_ context.Context, req WriteRequest) (common.Hash, error) {
	if req.Method == "" {
		return common.Hash{}, fmt.Errorf("method required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return fakeHash(fmt.Sprintf("%d:%s:%s:%v:%v", len(f.requests), req.Contract.Hex(), req.Method, req.Args, req.Value)), nil
}

func (f *FakeClient) WaitMined(_ context.Context, hash common.Hash) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Receipt{TxHash: hash, BlockNumber: uint64(len(f.requests)), Status: 1}, nil
}

// Requests returns a copy of the writes seen so far.
func (f *FakeClient) Requests() []WriteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]WriteRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func fakeHash(input string) common.Hash {
	return common.Hash(sha256.Sum256([]byte(input)))
}
