package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrans/internal/contracts"
)

type stubFetcher struct {
	calls    int
	minedAt  int
	status   uint64
	fatalErr error
}

func (s *stubFetcher) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	s.calls++
	if s.fatalErr != nil {
		return nil, s.fatalErr
	}
	if s.calls < s.minedAt {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{TxHash: hash, Status: s.status, BlockNumber: big.NewInt(42), GasUsed: 21000}, nil
}

func TestWaitForReceiptPollsUntilMined(t *testing.T) {
	f := &stubFetcher{minedAt: 3, status: types.ReceiptStatusSuccessful}
	hash := common.HexToHash("0x01")

	r, err := WaitForReceipt(context.Background(), f, hash, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, f.calls)
	assert.Equal(t, uint64(42), r.BlockNumber)
	assert.True(t, r.Succeeded())
}

func TestWaitForReceiptReverted(t *testing.T) {
	f := &stubFetcher{minedAt: 1, status: types.ReceiptStatusFailed}
	r, err := WaitForReceipt(context.Background(), f, common.HexToHash("0x02"), time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, KindContractRevert, ClassifyError(err).Kind)
	assert.False(t, r.Succeeded())
}

func TestWaitForReceiptContextCancelled(t *testing.T) {
	f := &stubFetcher{minedAt: 1 << 30}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := WaitForReceipt(ctx, f, common.HexToHash("0x03"), time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, KindNetworkFailure, ClassifyError(err).Kind)
}

func TestWaitForReceiptFetchError(t *testing.T) {
	f := &stubFetcher{fatalErr: errors.New("connection refused")}
	_, err := WaitForReceipt(context.Background(), f, common.HexToHash("0x04"), time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, 1, f.calls)
}

func TestParsePrivateKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))

	parsed, err := ParsePrivateKey("0x" + hexKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(parsed.PublicKey))

	_, err = ParsePrivateKey("zz")
	assert.Error(t, err)
}

func TestFakeClientRecordsWrites(t *testing.T) {
	f := &FakeClient{}
	ctx := context.Background()
	req := WriteRequest{Contract: common.HexToAddress("0x1"), ABI: contracts.ERC20, Method: contracts.MethodApprove, Args: []any{common.HexToAddress("0x2"), big.NewInt(5)}}

	h1, err := f.Write(ctx, req)
	require.NoError(t, err)
	h2, err := f.Write(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	r, err := f.WaitMined(ctx, h1)
	require.NoError(t, err)
	assert.True(t, r.Succeeded())
	assert.Len(t, f.Requests(), 2)

	_, err = f.Write(ctx, WriteRequest{})
	assert.Error(t, err)
}

func TestNewEthClientRequiresURL(t *testing.T) {
	_, err := NewEthClient(context.Background(), EthClientConfig{})
	assert.Error(t, err)
}
