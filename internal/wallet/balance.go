package wallet

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceProvider reads the balance shown next to the active account.
type BalanceProvider interface {
	Balance(ctx context.Context, owner common.Address) (*big.Int, error)
}

type tokenBalanceReader interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

type nativeBalanceReader interface {
	NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error)
}

// TokenBalance reads an ERC20 balance.
type TokenBalance struct {
	Reader tokenBalanceReader
	Token  common.Address
}

func (t TokenBalance) Balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return t.Reader.BalanceOf(ctx, t.Token, owner)
}

type NativeBalance struct {
	Reader nativeBalanceReader
}

func (n NativeBalance) Balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return n.Reader.NativeBalance(ctx, owner)
}

// Balance is a display snapshot: the value, whether a fetch is in flight, and the last error.
type Balance struct {
	Value   *big.Int
	Loading bool
	Err     error
}

func (b Balance) String() string {
	if b.Value == nil {
		return "unknown"
	}
	return b.Value.String()
}

// Fetch runs one lookup and returns the finished snapshot.
func Fetch(ctx context.Context, p BalanceProvider, owner common.Address) Balance {
	if p == nil {
		return Balance{}
	}
	v, err := p.Balance(ctx, owner)
	if err != nil {
		return Balance{Err: err}
	}
	return Balance{Value: v}
}

type cachedBalance struct {
	value   *big.Int
	fetched time.Time
}

// BalanceCache memoises balances per address for TTL.
type BalanceCache struct {
	Provider BalanceProvider
	TTL      time.Duration
	Now      func() time.Time

	mu      sync.Mutex
	entries map[common.Address]cachedBalance
}

func NewBalanceCache(p BalanceProvider, ttl time.Duration) *BalanceCache {
	return &BalanceCache{Provider: p, TTL: ttl, entries: make(map[common.Address]cachedBalance)}
}

func (c *BalanceCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *BalanceCache) Balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	c.mu.Lock()
	if e, ok := c.entries[owner]; ok && c.now().Sub(e.fetched) < c.TTL {
		c.mu.Unlock()
		return new(big.Int).Set(e.value), nil
	}
	c.mu.Unlock()

	v, err := c.Provider.Balance(ctx, owner)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[owner] = cachedBalance{value: new(big.Int).Set(v), fetched: c.now()}
	c.mu.Unlock()
	return v, nil
}

// Invalidate drops the cached value for owner, e.g. after a transfer was submitted.
func (c *BalanceCache) Invalidate(owner common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, owner)
}
