package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"vestchain/config"
	"vestchain/core/state"
	"vestchain/indexer"
	"vestchain/native/bank"
	"vestchain/native/timelock"
	"vestchain/native/vesting"
	"vestchain/storage"
)

// node bundles the long lived components behind the HTTP API.
type node struct {
	db       storage.Database
	state    *state.Manager
	ledger   *bank.Ledger
	engine   *vesting.Engine
	timelock *timelock.Controller
	events   *indexer.Store
	owner    [20]byte
	logger   *slog.Logger
}

// openNode opens storage and the event index and wires the engine according
// to cfg. Genesis is applied separately by bootstrap.
func openNode(cfg *config.Config, logger *slog.Logger, now func() int64) (*node, error) {
	owner, err := cfg.OwnerAddress()
	if err != nil {
		return nil, err
	}
	pool, err := cfg.Pool.Build(now())
	if err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}

	db, err := storage.Open(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	n := &node{db: db, state: state.NewManager(db), owner: owner, logger: logger}

	if strings.EqualFold(cfg.Indexer.Driver, "sqlite") {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			n.Close()
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	n.events, err = indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN, logger)
	if err != nil {
		n.Close()
		return nil, err
	}

	n.ledger, err = bank.NewLedger(n.state, pool.Token)
	if err != nil {
		n.Close()
		return nil, err
	}

	n.engine = vesting.NewEngine()
	n.engine.SetState(n.state)
	n.engine.SetToken(n.ledger)
	n.engine.SetNowFunc(now)
	n.engine.SetEmitter(n.events)

	if !cfg.Timelock.Enabled {
		n.engine.SetAuthorization(vesting.Direct(vesting.RoleManager))
		return n, nil
	}
	executors, err := cfg.TimelockExecutors()
	if err != nil {
		n.Close()
		return nil, err
	}
	n.timelock = timelock.NewController(cfg.Timelock.MinDelay.Duration, owner)
	n.timelock.SetState(n.state)
	n.timelock.SetNowFunc(now)
	n.timelock.GrantProposer(pool.Vault)
	for _, executor := range executors {
		n.timelock.GrantExecutor(executor)
	}
	n.engine.SetAuthorization(vesting.Delayed(n.timelock))
	return n, nil
}

// bootstrap applies genesis exactly once: the pool record, the owner roles,
// the manager role for configured proposers and the vault funding.
func (n *node) bootstrap(cfg *config.Config, genesisTime int64) error {
	applied, err := n.state.GenesisApplied()
	if err != nil {
		return err
	}
	if applied {
		n.logger.Info("genesis already applied")
		return nil
	}
	pool, err := cfg.Pool.Build(genesisTime)
	if err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	proposers, err := cfg.TimelockProposers()
	if err != nil {
		return err
	}
	if err := n.engine.Initialize(pool, n.owner); err != nil && !errors.Is(err, vesting.ErrPoolExists) {
		return fmt.Errorf("initialize pool: %w", err)
	}
	for _, proposer := range proposers {
		if err := n.engine.GrantRole(n.owner, proposer, vesting.RoleManager); err != nil {
			return fmt.Errorf("grant proposer: %w", err)
		}
	}
	if err := n.ledger.Credit(pool.Vault, pool.Cap); err != nil {
		return fmt.Errorf("fund vault: %w", err)
	}
	if err := n.state.MarkGenesisApplied(); err != nil {
		return err
	}
	n.logger.Info("genesis applied",
		"token", pool.Token,
		"cap", pool.Cap.String(),
		"start_round", pool.StartRound,
		"curve", pool.Curve.Kind.String(),
		"timelock", cfg.Timelock.Enabled)
	return nil
}

func (n *node) Close() {
	if n.events != nil {
		if err := n.events.Close(); err != nil {
			n.logger.Warn("close event index", "error", err)
		}
	}
	if n.db != nil {
		n.db.Close()
	}
}
