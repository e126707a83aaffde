package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devblac/quest-verify/internal/chain"
	"github.com/devblac/quest-verify/internal/decoder"
	"github.com/ethereum/go-ethereum/common"
)

type levelUpTaskConfig struct {
	TargetStage int `json:"targetStage"`
}

// LevelUpStrategy compares the claimant's vendor progression stage with a target.
// It needs no transaction evidence.
type LevelUpStrategy struct {
	gw       chain.Gateway
	dec      *decoder.Decoder
	contract common.Address
	logger   *slog.Logger
	nowFunc  func() time.Time
}

func NewLevelUpStrategy(gw chain.Gateway, dec *decoder.Decoder, contract common.Address, logger *slog.Logger) *LevelUpStrategy {
	return &LevelUpStrategy{gw: gw, dec: dec, contract: contract, logger: orDefault(logger), nowFunc: time.Now}
}

func (s *LevelUpStrategy) Verify(ctx context.Context, req Request) Result {
	var cfg levelUpTaskConfig
	if _, err := decodeTaskConfig(req.TaskConfig, &cfg); err != nil {
		return fail(CodeInvalidTaskConfig, err.Error())
	}
	if cfg.TargetStage <= 0 || cfg.TargetStage > 255 {
		return fail(CodeInvalidTaskConfig, "targetStage must be between 1 and 255")
	}
	user, ok := claimantAddress(req.ClaimantAddress)
	if !ok {
		return fail(CodeWalletRequired, "a linked wallet address is required")
	}

	stage, err := s.stage(ctx, user)
	if err != nil {
		s.logger.Warn("stage read failed", "user", user.Hex(), "err", err)
		return fail(CodeStateReadFailed, "could not read your current stage")
	}
	if int(stage) < cfg.TargetStage {
		return failWith(CodeStageTooLow,
			fmt.Sprintf("current stage %d is below the target stage %d", stage, cfg.TargetStage),
			map[string]any{"currentStage": stage, "targetStage": cfg.TargetStage})
	}
	return passed(map[string]any{
		"currentStage": stage,
		"targetStage":  cfg.TargetStage,
		"verifiedAt":   stamp(s.nowFunc),
	})
}

func (s *LevelUpStrategy) stage(ctx context.Context, user common.Address) (uint8, error) {
	data, err := s.dec.Pack(decoder.Vendor, "getStage", user)
	if err != nil {
		return 0, err
	}
	out, err := s.gw.CallContract(ctx, s.contract, data)
	if err != nil {
		return 0, err
	}
	vals, err := s.dec.Unpack(decoder.Vendor, "getStage", out)
	if err != nil {
		return 0, err
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("getStage returned %d values", len(vals))
	}
	stage, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("getStage returned %T", vals[0])
	}
	return stage, nil
}
