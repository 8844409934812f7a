package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"retrans/internal/chain"
	"retrans/internal/config"
	"retrans/internal/configuration"
	"retrans/internal/ens"
	"retrans/internal/executor"
	"retrans/internal/idempotency"
	"retrans/internal/logging"
	"retrans/internal/server"
	"retrans/internal/storage/pebblecursor"
	"retrans/internal/storage/redisqueue"
	"retrans/internal/wallet"
)

// app is the wiring shared by every command.
type app struct {
	cfg      *config.AppConfig
	log      *slog.Logger
	client   *chain.EthClient
	writer   chain.Writer
	accounts *wallet.Static
	metrics  *server.Metrics
	closers  []func()
}

// newApp loads config and connects to the chain. Logs go to logOut.
func newApp(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Setup("info", logOut).Error("Failed to load config", "error", err)
		return nil, err
	}
	level := cfg.Logging.Level
	if isDebug {
		level = "debug"
	}
	a := &app{
		cfg:      cfg,
		log:      logging.Setup(level, logOut),
		metrics:  server.NewMetrics(),
		accounts: wallet.NewStatic(wallet.Account{}),
	}

	if cfg.Chain.PrivateKey != "" {
		accounts, err := wallet.FromPrivateKey(cfg.Chain.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("private key: %w", err)
		}
		a.accounts = accounts
	}

	switch {
	case fakeMode:
		a.log.Warn("using in-memory chain, no transaction reaches a network")
		a.writer = &chain.FakeClient{}
	case cfg.Chain.RPCURL != "":
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Chain.RPCTimeout)
		defer cancel()
		client, err := chain.NewEthClient(dialCtx, chain.EthClientConfig{
			RPCURL:        cfg.Chain.RPCURL,
			PrivateKeyHex: cfg.Chain.PrivateKey,
			PollInterval:  cfg.Chain.PollInterval,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Chain.ChainID != 0 && client.ChainID().Cmp(big.NewInt(cfg.Chain.ChainID)) != 0 {
			client.Close()
			return nil, fmt.Errorf("rpc serves chain %s, config expects %d", client.ChainID(), cfg.Chain.ChainID)
		}
		a.client = client
		a.writer = client
		a.closers = append(a.closers, client.Close)
		a.log.Info("connected to rpc", "chain_id", client.ChainID().String(), "account", a.accounts.Current().String(), "can_write", client.CanWrite())
	default:
		a.log.Warn("no rpc url configured, falling back to the in-memory chain")
		a.writer = &chain.FakeClient{}
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) requireClient() error {
	if a.client == nil {
		return errors.New("an rpc url is required for this command")
	}
	return nil
}

// resolver is nil without a client.
func (a *app) resolver() *ens.Resolver {
	if a.client == nil {
		return nil
	}
	r := ens.NewResolver(a.client, a.cfg.Contracts.RegistryAddress())
	r.NameWrapper = a.cfg.Contracts.NameWrapperAddress()
	if r.NameWrapper == (common.Address{}) {
		r.NameWrapper = ens.DefaultNameWrapper(a.client.ChainID())
	}
	r.Logger = a.log
	return r
}

func (a *app) controller() (*configuration.Controller, error) {
	var owners configuration.OwnershipChecker
	if r := a.resolver(); r != nil {
		owners = r
	}
	return configuration.NewController(configuration.Options{
		Writer: a.writer,
		Owners: owners,
		Settings: configuration.Settings{
			Token:             a.cfg.Contracts.TokenAddress(),
			Recurring:         a.cfg.Contracts.RecurringAddress(),
			NativeFee:         a.cfg.NativeFee(),
			DefaultExecutions: uint64(a.cfg.Chain.DefaultExecutions),
		},
		Account: a.accounts.Current(),
		Logger:  a.log,
		OnStage: a.metrics.ObserveStage,
	})
}

func (a *app) balances() wallet.BalanceProvider {
	if a.client == nil {
		return nil
	}
	var p wallet.BalanceProvider = wallet.NativeBalance{Reader: a.client}
	if a.cfg.Contracts.Token != "" {
		p = wallet.TokenBalance{Reader: a.client, Token: a.cfg.Contracts.TokenAddress()}
	}
	return wallet.NewBalanceCache(p, a.cfg.Service.BalanceTTL)
}

func (a *app) idempotencyStore(ctx context.Context) (idempotency.Store, error) {
	switch a.cfg.Service.IdempotencyBackend {
	case config.BackendPostgres:
		store, err := idempotency.NewPostgresStore(ctx, a.cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("idempotency store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case config.BackendFile:
		return idempotency.NewFileStore(a.cfg.Storage.IdempotencyFile)
	default:
		return idempotency.NewMemoryStore(), nil
	}
}

// executor builds the job runner. It needs a real client to read logs.
func (a *app) executor(ctx context.Context) (*executor.Executor, executor.Queue, error) {
	if err := a.requireClient(); err != nil {
		return nil, nil, err
	}
	ec := a.cfg.Executor

	var queue executor.Queue = executor.NewMemoryQueue()
	if ec.QueueBackend == config.BackendRedis {
		q, err := redisqueue.New(ctx, redisqueue.Config{
			URL:       a.cfg.Storage.RedisURL,
			Password:  a.cfg.Storage.RedisPassword,
			Namespace: a.cfg.Contracts.RecurringAddress().Hex(),
		})
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() { _ = q.Close() })
		queue = q
	}

	var cursor executor.CursorStore = executor.NewMemoryCursor()
	if ec.CursorBackend == config.BackendPebble {
		c, err := pebblecursor.Open(a.cfg.Storage.PebblePath)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() { _ = c.Close() })
		cursor = c
	}

	exec, err := executor.New(executor.Config{
		Contract:       a.cfg.Contracts.RecurringAddress(),
		ScanInterval:   ec.ScanInterval,
		MaxBlockSpread: ec.MaxBlockSpread,
		Confirmations:  ec.Confirmations,
		StartBlock:     ec.StartBlock,
		BatchSize:      ec.BatchSize,
		Retry: executor.RetryConfig{
			MaxAttempts:       ec.Retry.MaxAttempts,
			InitialBackoff:    ec.Retry.InitialBackoff,
			MaxBackoff:        ec.Retry.MaxBackoff,
			BackoffMultiplier: ec.Retry.BackoffMultiplier,
		},
	}, a.client, a.writer, queue, cursor, a.log, executor.NewMetrics(a.metrics.Registerer()))
	if err != nil {
		return nil, nil, err
	}
	return exec, queue, nil
}
