// Package ens resolves ENS name ownership through the registry contract.
package ens

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"retrans/internal/chain"
	"retrans/internal/contracts"
	"retrans/internal/logging"
	"retrans/internal/validate"
)

// DefaultRegistry is the ENS registry deployed at the same address on mainnet and the public testnets.
var DefaultRegistry = common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")

// NameWrappers maps chain ids to the NameWrapper deployment. New .eth names are
// wrapped, so the registry reports the wrapper as their owner.
var NameWrappers = map[int64]common.Address{
	1:        common.HexToAddress("0xD4416b13d2b3a9aBae7AcD5D6C2BbDBE25686401"),
	11155111: common.HexToAddress("0x0635513f179D50A207757E05759CbD106d7dFcE8"),
}

// DefaultNameWrapper returns the known wrapper for chainID, or the zero address.
func DefaultNameWrapper(chainID *big.Int) common.Address {
	if chainID == nil || !chainID.IsInt64() {
		return common.Address{}
	}
	return NameWrappers[chainID.Int64()]
}

const MsgNotOwner = "You are not the owner of this name"

// Normalize lowercases and trims name. Full UTS-46 mapping is out of scope.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Namehash implements the EIP-137 recursive label hash.
func Namehash(name string) common.Hash {
	var node common.Hash
	name = Normalize(name)
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := crypto.Keccak256([]byte(labels[i]))
		node = crypto.Keccak256Hash(node.Bytes(), labelHash)
	}
	return node
}

type Resolver struct {
	Caller   chain.Caller
	Registry common.Address
	// NameWrapper, when set, is asked for the owner of names the registry
	// reports as held by the wrapper.
	NameWrapper common.Address
	Logger      *slog.Logger
}

// NewResolver uses DefaultRegistry when registry is the zero address.
func NewResolver(caller chain.Caller, registry common.Address) *Resolver {
	if registry == (common.Address{}) {
		registry = DefaultRegistry
	}
	return &Resolver{Caller: caller, Registry: registry}
}

// Owner returns the owner of name, following the NameWrapper for wrapped
// names. The zero address means unowned.
func (r *Resolver) Owner(ctx context.Context, name string) (common.Address, error) {
	node := Namehash(name)
	owner, err := r.callAddress(ctx, r.Registry, contracts.ENSRegistry, contracts.MethodOwner, [32]byte(node))
	if err != nil {
		return common.Address{}, fmt.Errorf("ens owner %q: %w", name, err)
	}
	if r.NameWrapper == (common.Address{}) || owner != r.NameWrapper {
		return owner, nil
	}
	owner, err = r.callAddress(ctx, r.NameWrapper, contracts.NameWrapper, contracts.MethodOwnerOf, new(big.Int).SetBytes(node[:]))
	if err != nil {
		return common.Address{}, fmt.Errorf("ens wrapped owner %q: %w", name, err)
	}
	return owner, nil
}

func (r *Resolver) callAddress(ctx context.Context, contract common.Address, parsed abi.ABI, method string, arg any) (common.Address, error) {
	out, err := r.Caller.Call(ctx, contract, parsed, method, arg)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("unexpected output length %d", len(out))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected output type %T", out[0])
	}
	return addr, nil
}

// IsAccountOwner reports whether account owns name. Any lookup failure counts
// as not owning and is reported through setErr.
func (r *Resolver) IsAccountOwner(ctx context.Context, name string, account common.Address, setErr validate.ErrorSetter) bool {
	log := logging.OrDefault(r.Logger)
	owner, err := r.Owner(ctx, name)
	if err != nil {
		log.Warn("ens ownership lookup failed", "name", name, "error", err)
		if setErr != nil {
			setErr(MsgNotOwner)
		}
		return false
	}
	if owner != (common.Address{}) && strings.EqualFold(owner.Hex(), account.Hex()) {
		return true
	}
	log.Debug("ens name owned by another account", "name", name, "owner", owner.Hex())
	if setErr != nil {
		setErr(MsgNotOwner)
	}
	return false
}
