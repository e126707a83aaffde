package verify

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/devblac/quest-verify/internal/chain"
	"github.com/devblac/quest-verify/internal/decoder"
	"github.com/devblac/quest-verify/internal/metrics"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

const (
	maxAllowedNetworks = 6
	maxRewardRatio     = 2.0
)

// Networks is the read-only view of the chain gateways a deployment may live on.
type Networks interface {
	Get(id uint64) (chain.Gateway, bool)
	Factory(id uint64) (common.Address, bool)
	Name(id uint64) string
	IDs() []uint64
}

type networkRule struct {
	ChainID     uint64   `json:"chainId"`
	RewardRatio *float64 `json:"rewardRatio"`
	Enabled     *bool    `json:"enabled"`
}

func (n networkRule) ratio() float64 {
	if n.RewardRatio == nil {
		return 1.0
	}
	return *n.RewardRatio
}

func (n networkRule) enabled() bool {
	return n.Enabled == nil || *n.Enabled
}

type deployTaskConfig struct {
	AllowedNetworks []networkRule `json:"allowedNetworks"`
	MinTimestamp    *float64      `json:"minTimestamp"`
	BaseReward      int64         `json:"baseReward"`
}

// DeployStrategy verifies that the claimant deployed a lock through the trusted factory on
// exactly one of the allowed chains. The hash is probed on every enabled chain concurrently.
type DeployStrategy struct {
	nets    Networks
	dec     *decoder.Decoder
	metrics *metrics.Metrics
	logger  *slog.Logger
	nowFunc func() time.Time
}

func NewDeployStrategy(nets Networks, dec *decoder.Decoder, m *metrics.Metrics, logger *slog.Logger) *DeployStrategy {
	return &DeployStrategy{nets: nets, dec: dec, metrics: m, logger: orDefault(logger), nowFunc: time.Now}
}

type probeOutcome struct {
	chainID uint64
	receipt *chain.Receipt
}

func (s *DeployStrategy) Verify(ctx context.Context, req Request) Result {
	cfg, err := s.config(req)
	if err != nil {
		return fail(CodeInvalidConfig, err.Error())
	}
	enabled := make([]networkRule, 0, len(cfg.AllowedNetworks))
	for _, n := range cfg.AllowedNetworks {
		if n.enabled() {
			enabled = append(enabled, n)
		}
	}

	rawHash := txHashFrom(req.Evidence)
	if rawHash == "" {
		return fail(CodeTxHashRequired, "transaction hash is required")
	}
	if !validTxHash(rawHash) {
		return fail(CodeInvalidTxHash, "transaction hash must be 0x followed by 64 hex characters")
	}
	claimant, ok := claimantAddress(req.ClaimantAddress)
	if !ok {
		return fail(CodeWalletRequired, "a linked wallet address is required")
	}
	hash := common.HexToHash(rawHash)

	found := s.probe(ctx, hash, enabled)
	switch len(found) {
	case 0:
		return fail(CodeTxNotFoundMulti, "transaction not found on any enabled network")
	case 1:
	default:
		names := make([]string, 0, len(found))
		for _, f := range found {
			names = append(names, s.nets.Name(f.chainID))
		}
		return fail(CodeMultiNetworkConflict,
			fmt.Sprintf("transaction hash found on multiple networks: %s", strings.Join(names, ", ")))
	}
	win := found[0]
	rc := win.receipt
	rule := ruleFor(enabled, win.chainID)

	if !rc.Succeeded() {
		return fail(CodeTxFailed, "transaction failed on-chain")
	}
	if rc.From != claimant {
		return fail(CodeSenderMismatch, "transaction sender does not match your wallet")
	}

	if cfg.MinTimestamp != nil {
		gw, _ := s.nets.Get(win.chainID)
		ts, err := gw.BlockTimestamp(ctx, rc.BlockNumber)
		if err != nil {
			s.logger.Warn("block timestamp unavailable, skipping age check",
				"chain_id", win.chainID, "block", rc.BlockNumber, "err", err)
		} else if float64(ts) < *cfg.MinTimestamp {
			return fail(CodeTxTooOld, "transaction predates the task start")
		}
	}

	factory, ok := s.nets.Factory(win.chainID)
	if !ok {
		return fail(CodeInvalidFactory, fmt.Sprintf("no trusted factory for %s", s.nets.Name(win.chainID)))
	}
	var creations []decoder.Event
	for _, ev := range s.dec.DecodeFrom(decoder.LockFactory, rc.Logs, factory) {
		if ev.Name == "NewLock" {
			creations = append(creations, ev)
		}
	}
	if len(creations) == 0 {
		return fail(CodeInvalidFactory, "no lock deployment from the trusted factory in this transaction")
	}
	lock, ok := lockFor(creations, claimant)
	if !ok {
		return fail(CodeLockAddressNotFound, "could not find a lock deployed for your wallet")
	}

	multiplier := rule.ratio()
	meta := map[string]any{
		"transactionHash":  normalizeHash(rawHash),
		"chainId":          win.chainID,
		"lockAddress":      lock.Hex(),
		"blockNumber":      rc.BlockNumber,
		"rewardMultiplier": multiplier,
		"networkName":      s.nets.Name(win.chainID),
		"verifiedAt":       stamp(s.nowFunc),
	}
	if cfg.BaseReward > 0 {
		meta["finalReward"] = FinalReward(cfg.BaseReward, multiplier)
	}
	return passed(meta)
}

// probe looks the hash up on every enabled chain and waits for all of them.
// A lookup error counts as "not on this chain".
func (s *DeployStrategy) probe(ctx context.Context, hash common.Hash, enabled []networkRule) []probeOutcome {
	outcomes := make([]probeOutcome, len(enabled))
	var g errgroup.Group
	for i, n := range enabled {
		i, id := i, n.ChainID
		gw, _ := s.nets.Get(id)
		g.Go(func() error {
			rc, err := gw.Receipt(ctx, hash)
			s.metrics.ChainProbe(id, err == nil && rc != nil)
			if err != nil || rc == nil {
				s.logger.Debug("receipt not found on chain", "chain_id", id, "tx", hash.Hex(), "err", err)
				return nil
			}
			outcomes[i] = probeOutcome{chainID: id, receipt: rc}
			return nil
		})
	}
	_ = g.Wait()

	found := make([]probeOutcome, 0, 1)
	for _, o := range outcomes {
		if o.receipt != nil {
			found = append(found, o)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].chainID < found[j].chainID })
	return found
}

func (s *DeployStrategy) config(req Request) (deployTaskConfig, error) {
	var cfg deployTaskConfig
	present, err := decodeTaskConfig(req.TaskConfig, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("task config: %w", err)
	}
	if !present || cfg.AllowedNetworks == nil {
		for _, id := range s.nets.IDs() {
			cfg.AllowedNetworks = append(cfg.AllowedNetworks, networkRule{ChainID: id})
		}
	}
	if err := validateNetworks(cfg.AllowedNetworks); err != nil {
		return cfg, err
	}
	if cfg.MinTimestamp != nil {
		ts := *cfg.MinTimestamp
		if math.IsNaN(ts) || math.IsInf(ts, 0) || ts < 0 {
			return cfg, fmt.Errorf("minTimestamp must be a finite non-negative number")
		}
	}
	if cfg.BaseReward < 0 {
		return cfg, fmt.Errorf("baseReward must not be negative")
	}
	for _, n := range cfg.AllowedNetworks {
		if !n.enabled() {
			continue
		}
		if _, ok := s.nets.Get(n.ChainID); !ok {
			return cfg, fmt.Errorf("network %d is not configured", n.ChainID)
		}
	}
	return cfg, nil
}

func validateNetworks(nets []networkRule) error {
	if len(nets) == 0 {
		return fmt.Errorf("allowedNetworks must not be empty")
	}
	if len(nets) > maxAllowedNetworks {
		return fmt.Errorf("at most %d networks may be allowed", maxAllowedNetworks)
	}
	seen := map[uint64]struct{}{}
	anyEnabled := false
	for _, n := range nets {
		if n.ChainID == 0 {
			return fmt.Errorf("chainId is required")
		}
		if _, dup := seen[n.ChainID]; dup {
			return fmt.Errorf("duplicate chainId %d", n.ChainID)
		}
		seen[n.ChainID] = struct{}{}
		r := n.ratio()
		if math.IsNaN(r) || r <= 0 || r > maxRewardRatio {
			return fmt.Errorf("rewardRatio for chain %d must be in (0, %.1f]", n.ChainID, maxRewardRatio)
		}
		if n.enabled() {
			anyEnabled = true
		}
	}
	if !anyEnabled {
		return fmt.Errorf("at least one network must be enabled")
	}
	return nil
}

func ruleFor(rules []networkRule, id uint64) networkRule {
	for _, r := range rules {
		if r.ChainID == id {
			return r
		}
	}
	return networkRule{ChainID: id}
}

func lockFor(creations []decoder.Event, owner common.Address) (common.Address, bool) {
	for _, ev := range creations {
		who, _ := decoder.AddressArg(ev.Args, "lockOwner")
		lock, _ := decoder.AddressArg(ev.Args, "newLockAddress")
		if who == owner && lock != (common.Address{}) {
			return lock, true
		}
	}
	return common.Address{}, false
}

// FinalReward is floor(base × multiplier).
func FinalReward(base int64, multiplier float64) int64 {
	return int64(math.Floor(float64(base) * multiplier))
}
