package verify

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/devblac/quest-verify/internal/chain"
	"github.com/devblac/quest-verify/internal/config"
	"github.com/devblac/quest-verify/internal/decoder"
	"github.com/devblac/quest-verify/internal/metrics"
	"github.com/ethereum/go-ethereum/common"
)

// Registry maps task types to strategies. It is assembled once and only read afterwards.
type Registry struct {
	strategies map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{strategies: map[string]Strategy{}}
}

// Register binds a strategy to a task type. Each task type may be bound once.
func (r *Registry) Register(taskType string, s Strategy) error {
	if taskType == "" || s == nil {
		return fmt.Errorf("task type and strategy are required")
	}
	if _, exists := r.strategies[taskType]; exists {
		return fmt.Errorf("task type %s already registered", taskType)
	}
	r.strategies[taskType] = s
	return nil
}

// Resolve returns the strategy for a task type. Absence means no verification is possible.
func (r *Registry) Resolve(taskType string) (Strategy, bool) {
	s, ok := r.strategies[taskType]
	return s, ok
}

// TaskTypes lists registered task types in order.
func (r *Registry) TaskTypes() []string {
	out := make([]string, 0, len(r.strategies))
	for t := range r.strategies {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Dependencies are the shared clients strategies are built from.
type Dependencies struct {
	Config  *config.Config
	Chains  *chain.Set
	Decoder *decoder.Decoder
	Judge   Judge
	Checkin CheckinService
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Build wires one strategy per supported task type from the config sections present.
func Build(deps Dependencies) (*Registry, error) {
	cfg := deps.Config
	reg := NewRegistry()
	register := func(s Strategy, types ...string) error {
		for _, t := range types {
			if err := reg.Register(t, s); err != nil {
				return err
			}
		}
		return nil
	}

	if err := register(NewDeployStrategy(deps.Chains, deps.Decoder, deps.Metrics, deps.Logger), TaskDeployLock); err != nil {
		return nil, err
	}

	if cfg.Vendor != nil {
		gw, ok := deps.Chains.Get(cfg.Vendor.ChainID)
		if !ok {
			return nil, fmt.Errorf("vendor: no gateway for chain %d", cfg.Vendor.ChainID)
		}
		contract := common.HexToAddress(cfg.Vendor.Contract)
		if err := register(NewVendorStrategy(gw, deps.Decoder, contract, deps.Logger),
			TaskVendorBuy, TaskVendorSell, TaskVendorLightUp); err != nil {
			return nil, err
		}
		if err := register(NewLevelUpStrategy(gw, deps.Decoder, contract, deps.Logger), TaskVendorLevelUp); err != nil {
			return nil, err
		}
	}

	if cfg.Swap != nil {
		gw, ok := deps.Chains.Get(cfg.Swap.ChainID)
		if !ok {
			return nil, fmt.Errorf("swap: no gateway for chain %d", cfg.Swap.ChainID)
		}
		s := NewSwapStrategy(gw, deps.Decoder, common.HexToAddress(cfg.Swap.Router), PairsFromConfig(*cfg.Swap), deps.Logger)
		if err := register(s, TaskUniswapSwap); err != nil {
			return nil, err
		}
	}

	var model, fallback string
	if cfg.Vision != nil {
		model, fallback = cfg.Vision.Model, cfg.Vision.FallbackModel
	}
	if err := register(NewVisionStrategy(deps.Judge, model, fallback, deps.Logger), TaskSubmitProofAI); err != nil {
		return nil, err
	}

	if deps.Checkin != nil {
		if err := register(NewCheckinStrategy(deps.Checkin, deps.Logger), TaskDailyCheckin); err != nil {
			return nil, err
		}
	}

	return reg, nil
}
