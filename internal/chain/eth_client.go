package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"retrans/internal/contracts"
)

var ErrReadOnly = errors.New("client is read-only")

const defaultPollInterval = 2 * time.Second

// EthClient talks to an EVM node. Without a private key it can only read.
type EthClient struct {
	client    *ethclient.Client
	chainID   *big.Int
	from      common.Address
	transacts *bind.TransactOpts
	pollEvery time.Duration

	mu    sync.Mutex
	bound map[common.Address]*bind.BoundContract
}

type EthClientConfig struct {
	RPCURL        string
	PrivateKeyHex string
	PollInterval  time.Duration
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	c := &EthClient{
		client:    cli,
		chainID:   chainID,
		pollEvery: cfg.PollInterval,
		bound:     make(map[common.Address]*bind.BoundContract),
	}
	if c.pollEvery <= 0 {
		c.pollEvery = defaultPollInterval
	}

	if cfg.PrivateKeyHex == "" {
		return c, nil
	}

	pk, err := ParsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		cli.Close()
		return nil, err
	}
	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.GasLimit = 0 // let node estimate
	c.transacts = txOpts
	c.from = txOpts.From
	return c, nil
}

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (c *EthClient) Close() {
	c.client.Close()
}

func (c *EthClient) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Address is the signing account, or the zero address for read-only clients.
func (c *EthClient) Address() common.Address {
	return c.from
}

func (c *EthClient) CanWrite() bool {
	return c.transacts != nil
}

func (c *EthClient) contract(address common.Address, parsed abi.ABI) *bind.BoundContract {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.bound[address]; ok {
		return b
	}
	b := bind.NewBoundContract(address, parsed, c.client, c.client, c.client)
	c.bound[address] = b
	return b
}

func (c *EthClient) Write(ctx context.Context, req WriteRequest) (common.Hash, error) {
	if c.transacts == nil {
		return common.Hash{}, ErrReadOnly
	}
	if req.Method == "" {
		return common.Hash{}, fmt.Errorf("method required")
	}

	opts := *c.transacts
	opts.Context = ctx
	opts.Value = req.Value

	tx, err := c.contract(req.Contract, req.ABI).Transact(&opts, req.Method, req.Args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s tx: %w", req.Method, ClassifyError(err))
	}
	return tx.Hash(), nil
}

func (c *EthClient) WaitMined(ctx context.Context, hash common.Hash) (Receipt, error) {
	return WaitForReceipt(ctx, c.client, hash, c.pollEvery)
}

func (c *EthClient) Call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	var out []any
	if err := c.contract(contract, parsed).Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

// BalanceOf reads an ERC20 balance.
func (c *EthClient) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := c.Call(ctx, token, contracts.ERC20, contracts.MethodBalanceOf, owner)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("balanceOf: unexpected output length %d", len(out))
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf: unexpected output type %T", out[0])
	}
	return bal, nil
}

func (c *EthClient) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return c.client.BalanceAt(ctx, owner, nil)
}

func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.client.BlockNumber(ctx)
}

func (c *EthClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return c.client.FilterLogs(ctx, q)
}

func (c *EthClient) Ping(ctx context.Context) error {
	_, err := c.client.BlockNumber(ctx)
	return err
}
