// Package contracts carries the ABI fragments retrans calls into.
package contracts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ERC20ABI covers the token methods used for allowance and balance checks.
const ERC20ABI = `[
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"decimals","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

// RecurringTransactionsABI is the job contract: createJob registers a job,
// executeJob runs one period, NewJob announces the next execution time.
const RecurringTransactionsABI = `[
  {"type":"function","name":"createJob","stateMutability":"payable",
   "inputs":[
     {"name":"period","type":"uint256"},
     {"name":"amount","type":"uint256"},
     {"name":"recipient","type":"address"},
     {"name":"token","type":"address"}],
   "outputs":[]},
  {"type":"function","name":"executeJob","stateMutability":"nonpayable",
   "inputs":[{"name":"_job_id","type":"uint256"}],
   "outputs":[]},
  {"type":"event","name":"NewJob","anonymous":false,
   "inputs":[
     {"name":"job_id","type":"uint256","indexed":true},
     {"name":"job_execution_time","type":"uint256","indexed":false}]}
]`

// ENSRegistryABI exposes the registry lookups needed for ownership checks.
const ENSRegistryABI = `[
  {"type":"function","name":"owner","stateMutability":"view",
   "inputs":[{"name":"node","type":"bytes32"}],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"resolver","stateMutability":"view",
   "inputs":[{"name":"node","type":"bytes32"}],
   "outputs":[{"name":"","type":"address"}]}
]`

// NameWrapperABI reads the owner of a wrapped name. The token id is the namehash.
const NameWrapperABI = `[
  {"type":"function","name":"ownerOf","stateMutability":"view",
   "inputs":[{"name":"id","type":"uint256"}],
   "outputs":[{"name":"owner","type":"address"}]}
]`

const (
	MethodApprove    = "approve"
	MethodBalanceOf  = "balanceOf"
	MethodCreateJob  = "createJob"
	MethodExecuteJob = "executeJob"
	MethodOwner      = "owner"
	MethodOwnerOf    = "ownerOf"
	EventNewJob      = "NewJob"
)

var (
	ERC20                 = mustParse("erc20", ERC20ABI)
	RecurringTransactions = mustParse("recurring transactions", RecurringTransactionsABI)
	ENSRegistry           = mustParse("ens registry", ENSRegistryABI)
	NameWrapper           = mustParse("name wrapper", NameWrapperABI)
)

func mustParse(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse %s abi: %v", name, err))
	}
	return parsed
}
