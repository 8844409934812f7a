package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"retrans/internal/validate"
)

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendPebble   = "pebble"
)

// AppConfig is the whole configuration file.
type AppConfig struct {
	Service   ServiceConfig   `yaml:"service"`
	Chain     ChainConfig     `yaml:"chain"`
	Contracts ContractsConfig `yaml:"contracts"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServiceConfig struct {
	HTTPPort           int           `yaml:"http_port"`
	HMACSecret         string        `yaml:"hmac_secret"`
	HMACClockSkew      time.Duration `yaml:"hmac_clock_skew"`
	IdempotencyWindow  time.Duration `yaml:"idempotency_window"`
	IdempotencyBackend string        `yaml:"idempotency_backend"`
	BalanceTTL         time.Duration `yaml:"balance_ttl"`
}

type ChainConfig struct {
	RPCURL            string        `yaml:"rpc_url"`
	PrivateKey        string        `yaml:"private_key"`
	ChainID           int64         `yaml:"chain_id"`
	NativeFeeWei      string        `yaml:"native_fee_wei"`
	DefaultExecutions int           `yaml:"default_executions"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	RPCTimeout        time.Duration `yaml:"rpc_timeout"`
}

type ContractsConfig struct {
	Token                 string `yaml:"token"`
	RecurringTransactions string `yaml:"recurring_transactions"`
	ENSRegistry           string `yaml:"ens_registry"`
	// NameWrapper defaults to the known deployment for the connected chain.
	NameWrapper string `yaml:"name_wrapper"`
}

type ExecutorConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ScanInterval   time.Duration `yaml:"scan_interval"`
	MaxBlockSpread uint64        `yaml:"max_block_spread"`
	Confirmations  uint64        `yaml:"confirmations"`
	StartBlock     uint64        `yaml:"start_block"`
	BatchSize      int           `yaml:"batch_size"`
	QueueBackend   string        `yaml:"queue_backend"`
	CursorBackend  string        `yaml:"cursor_backend"`
	Retry          RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier int           `yaml:"backoff_multiplier"`
}

type StorageConfig struct {
	PostgresDSN     string `yaml:"postgres_dsn"`
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	PebblePath      string `yaml:"pebble_path"`
	IdempotencyFile string `yaml:"idempotency_file"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads path (optional), expands environment references, applies
// environment overrides and defaults, then validates the result.
func Load(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	var cfg AppConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyEnv() {
	c.Service.HTTPPort = envOrInt("API_HTTP_PORT", c.Service.HTTPPort)
	c.Service.HMACSecret = envOr("HMAC_SECRET", c.Service.HMACSecret)
	c.Chain.RPCURL = envOr("CHAIN_RPC_URL", c.Chain.RPCURL)
	c.Chain.PrivateKey = envOr("CHAIN_PRIVATE_KEY", c.Chain.PrivateKey)
	c.Chain.DefaultExecutions = envOrInt("DEFAULT_EXECUTIONS", c.Chain.DefaultExecutions)
	c.Contracts.Token = envOr("TOKEN_ADDRESS", c.Contracts.Token)
	c.Contracts.RecurringTransactions = envOr("RECURRING_TRANSACTIONS_ADDRESS", c.Contracts.RecurringTransactions)
	c.Storage.PostgresDSN = envOr("POSTGRES_DSN", c.Storage.PostgresDSN)
	c.Storage.RedisURL = envOr("REDIS_URL", c.Storage.RedisURL)
	c.Logging.Level = envOr("LOG_LEVEL", c.Logging.Level)
}

func (c *AppConfig) applyDefaults() {
	if c.Service.HTTPPort == 0 {
		c.Service.HTTPPort = 3000
	}
	if c.Service.HMACClockSkew == 0 {
		c.Service.HMACClockSkew = time.Minute
	}
	if c.Service.IdempotencyWindow == 0 {
		c.Service.IdempotencyWindow = 24 * time.Hour
	}
	if c.Service.IdempotencyBackend == "" {
		c.Service.IdempotencyBackend = BackendMemory
	}
	if c.Service.BalanceTTL == 0 {
		c.Service.BalanceTTL = 15 * time.Second
	}
	if c.Chain.NativeFeeWei == "" {
		c.Chain.NativeFeeWei = "10000000000000000"
	}
	if c.Chain.DefaultExecutions == 0 {
		c.Chain.DefaultExecutions = 10
	}
	if c.Chain.PollInterval == 0 {
		c.Chain.PollInterval = 2 * time.Second
	}
	if c.Chain.RPCTimeout == 0 {
		c.Chain.RPCTimeout = 10 * time.Second
	}
	if c.Executor.ScanInterval == 0 {
		c.Executor.ScanInterval = time.Minute
	}
	if c.Executor.MaxBlockSpread == 0 {
		c.Executor.MaxBlockSpread = 500
	}
	if c.Executor.BatchSize == 0 {
		c.Executor.BatchSize = 20
	}
	if c.Executor.QueueBackend == "" {
		c.Executor.QueueBackend = BackendMemory
	}
	if c.Executor.CursorBackend == "" {
		c.Executor.CursorBackend = BackendMemory
	}
	if c.Executor.Retry.MaxAttempts == 0 {
		c.Executor.Retry.MaxAttempts = 3
	}
	if c.Executor.Retry.InitialBackoff == 0 {
		c.Executor.Retry.InitialBackoff = 500 * time.Millisecond
	}
	if c.Executor.Retry.MaxBackoff == 0 {
		c.Executor.Retry.MaxBackoff = 10 * time.Second
	}
	if c.Executor.Retry.BackoffMultiplier == 0 {
		c.Executor.Retry.BackoffMultiplier = 2
	}
	if c.Storage.PebblePath == "" {
		c.Storage.PebblePath = "data/cursor"
	}
	if c.Storage.IdempotencyFile == "" {
		c.Storage.IdempotencyFile = "data/idempotency.json"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks addresses, endpoints and backend names.
func (c *AppConfig) Validate() error {
	var errs []error
	if !validate.ValidateRPC(c.Chain.RPCURL, nil) {
		errs = append(errs, fmt.Errorf("chain.rpc_url: %s", validate.MsgInvalidRPC))
	}
	for name, addr := range map[string]string{
		"contracts.token":                  c.Contracts.Token,
		"contracts.recurring_transactions": c.Contracts.RecurringTransactions,
		"contracts.ens_registry":           c.Contracts.ENSRegistry,
		"contracts.name_wrapper":           c.Contracts.NameWrapper,
	} {
		if addr != "" && !validate.IsAddress(addr) {
			errs = append(errs, fmt.Errorf("%s: invalid address %q", name, addr))
		}
	}
	if _, ok := validate.ParseUint(c.Chain.NativeFeeWei); !ok {
		errs = append(errs, fmt.Errorf("chain.native_fee_wei: %q is not a whole number", c.Chain.NativeFeeWei))
	}
	if c.Chain.DefaultExecutions < 1 {
		errs = append(errs, errors.New("chain.default_executions must be greater than zero"))
	}
	errs = append(errs,
		oneOf("service.idempotency_backend", c.Service.IdempotencyBackend, BackendMemory, BackendFile, BackendPostgres),
		oneOf("executor.queue_backend", c.Executor.QueueBackend, BackendMemory, BackendRedis),
		oneOf("executor.cursor_backend", c.Executor.CursorBackend, BackendMemory, BackendPebble),
	)
	if c.Service.IdempotencyBackend == BackendPostgres && c.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres idempotency backend"))
	}
	if c.Executor.QueueBackend == BackendRedis && c.Storage.RedisURL == "" {
		errs = append(errs, errors.New("storage.redis_url is required for the redis queue backend"))
	}
	return errors.Join(errs...)
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: %q is not one of %s", key, value, strings.Join(allowed, ", "))
}

// NativeFee is the wei attached to createJob.
func (c *AppConfig) NativeFee() *big.Int {
	fee, ok := validate.ParseUint(c.Chain.NativeFeeWei)
	if !ok {
		return new(big.Int)
	}
	return fee
}

func (c ContractsConfig) TokenAddress() common.Address {
	return common.HexToAddress(c.Token)
}

func (c ContractsConfig) RecurringAddress() common.Address {
	return common.HexToAddress(c.RecurringTransactions)
}

// RegistryAddress is the zero address when unset, which selects the mainnet registry.
func (c ContractsConfig) RegistryAddress() common.Address {
	return common.HexToAddress(c.ENSRegistry)
}

// NameWrapperAddress is the zero address when unset.
func (c ContractsConfig) NameWrapperAddress() common.Address {
	return common.HexToAddress(c.NameWrapper)
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
