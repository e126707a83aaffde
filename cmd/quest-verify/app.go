package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/devblac/quest-verify/internal/chain"
	"github.com/devblac/quest-verify/internal/checkin"
	"github.com/devblac/quest-verify/internal/claims"
	"github.com/devblac/quest-verify/internal/config"
	"github.com/devblac/quest-verify/internal/decoder"
	"github.com/devblac/quest-verify/internal/ledger"
	"github.com/devblac/quest-verify/internal/logging"
	"github.com/devblac/quest-verify/internal/metrics"
	"github.com/devblac/quest-verify/internal/sink"
	"github.com/devblac/quest-verify/internal/storage"
	"github.com/devblac/quest-verify/internal/verify"
	"github.com/devblac/quest-verify/internal/vision"
	"github.com/ethereum/go-ethereum/common"
)

// app is everything a command needs to verify and record claims.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    storage.LedgerStore
	chains   *chain.Set
	registry *verify.Registry
	claims   *claims.Service
	metrics  *metrics.Metrics
}

// loadConfig reads the config and builds the logger. LOG_LEVEL overrides global.log_level.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Global.LogLevel
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	return cfg, logging.NewWithLevel(level), nil
}

func openLedger(ctx context.Context, cfg *config.Config) (storage.LedgerStore, error) {
	store, err := storage.OpenLedger(ctx, cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return store, nil
}

func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger, mtr *metrics.Metrics) (*app, error) {
	chains, err := chain.DialAll(cfg.Chains)
	if err != nil {
		return nil, err
	}

	dec, err := decoder.New()
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	if len(cfg.ABIDirs) > 0 {
		loaded, err := decoder.LoadABIs(cfg.ABIDirs)
		if err != nil {
			return nil, fmt.Errorf("load abis: %w", err)
		}
		if replaced := dec.Override(loaded); len(replaced) > 0 {
			log.Info("contract abis overridden", "interfaces", replaced)
		}
	}

	deps := verify.Dependencies{
		Config:  cfg,
		Chains:  chains,
		Decoder: dec,
		Metrics: mtr,
		Logger:  log,
	}
	if cfg.Vision != nil {
		deps.Judge = vision.New(*cfg.Vision, log)
	}
	if cfg.Checkin != nil {
		gw, ok := chains.Get(cfg.Checkin.ChainID)
		if !ok {
			return nil, fmt.Errorf("checkin: no gateway for chain %d", cfg.Checkin.ChainID)
		}
		deps.Checkin = checkin.NewChecker(gw, dec, common.HexToAddress(cfg.Checkin.Contract))
	}

	registry, err := verify.Build(deps)
	if err != nil {
		return nil, fmt.Errorf("build strategies: %w", err)
	}

	senders, err := sink.Build(cfg.Sinks)
	if err != nil {
		return nil, err
	}

	store, err := openLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc := claims.NewService(registry, ledger.NewGuard(store, mtr, log),
		claims.WithSinks(senders),
		claims.WithNetworkNames(chains.Name),
		claims.WithMetrics(mtr),
		claims.WithLogger(log),
	)
	log.Info("strategies ready", "task_types", registry.TaskTypes(), "ledger", cfg.Ledger.Driver)

	return &app{
		cfg:      cfg,
		log:      log,
		store:    store,
		chains:   chains,
		registry: registry,
		claims:   svc,
		metrics:  mtr,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
