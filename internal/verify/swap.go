package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/devblac/quest-verify/internal/chain"
	"github.com/devblac/quest-verify/internal/config"
	"github.com/devblac/quest-verify/internal/decoder"
	"github.com/ethereum/go-ethereum/common"
)

const (
	DirectionForward = "forward"
	DirectionReverse = "reverse"
)

var digitsPattern = regexp.MustCompile(`^[0-9]+$`)

// SwapPair is a configured pair. Tokens[0] is the input of a forward swap. A pair with two
// legs is routed through an intermediate token: Legs[0] holds Tokens[0], Legs[1] holds Tokens[1].
type SwapPair struct {
	ID     string
	Tokens [2]common.Address
	Legs   []PoolLeg
}

// PoolLeg is one liquidity pool and its token ordering.
type PoolLeg struct {
	Pool   common.Address
	Token0 common.Address
	Token1 common.Address
}

type swapTaskConfig struct {
	Pair                 string `json:"pair"`
	Direction            string `json:"direction"`
	RequiredMinimumInput string `json:"requiredMinimumInput"`
}

// SwapStrategy verifies router swaps on the single supported swap chain.
type SwapStrategy struct {
	gw      chain.Gateway
	dec     *decoder.Decoder
	router  common.Address
	pairs   map[string]SwapPair
	logger  *slog.Logger
	nowFunc func() time.Time
}

func NewSwapStrategy(gw chain.Gateway, dec *decoder.Decoder, router common.Address, pairs []SwapPair, logger *slog.Logger) *SwapStrategy {
	byID := make(map[string]SwapPair, len(pairs))
	for _, p := range pairs {
		byID[p.ID] = p
	}
	return &SwapStrategy{gw: gw, dec: dec, router: router, pairs: byID, logger: orDefault(logger), nowFunc: time.Now}
}

// PairsFromConfig converts the swap config section.
func PairsFromConfig(cfg config.SwapConfig) []SwapPair {
	out := make([]SwapPair, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		sp := SwapPair{ID: p.ID}
		for i := 0; i < len(p.Tokens) && i < 2; i++ {
			sp.Tokens[i] = common.HexToAddress(p.Tokens[i])
		}
		for _, l := range p.Legs {
			sp.Legs = append(sp.Legs, PoolLeg{
				Pool:   common.HexToAddress(l.Pool),
				Token0: common.HexToAddress(l.Token0),
				Token1: common.HexToAddress(l.Token1),
			})
		}
		out = append(out, sp)
	}
	return out
}

func (s *SwapStrategy) Verify(ctx context.Context, req Request) Result {
	pair, direction, minimum, err := s.config(req)
	if err != nil {
		return fail(CodeInvalidTaskConfig, err.Error())
	}

	rawHash := txHashFrom(req.Evidence)
	if rawHash == "" || !validTxHash(rawHash) {
		return fail(CodeTxHashRequired, "a valid transaction hash is required")
	}
	claimant, ok := claimantAddress(req.ClaimantAddress)
	if !ok {
		return fail(CodeWalletRequired, "a linked wallet address is required")
	}
	if id, given := evidenceUint(req.Evidence, "chainId"); given && id != s.gw.ChainID() {
		return fail(CodeWrongChain, fmt.Sprintf("swaps are only accepted on %s", chain.NetworkName(s.gw.ChainID())))
	}

	rc, err := s.gw.Receipt(ctx, common.HexToHash(rawHash))
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			return fail(CodeTxNotFound, "transaction not found")
		}
		s.logger.Debug("swap receipt fetch failed", "tx", rawHash, "err", err)
		return fail(CodeTxFetchFailed, "could not fetch transaction receipt")
	}
	if !rc.Succeeded() {
		return fail(CodeTxFailed, "transaction failed on-chain")
	}
	if rc.ChainID != 0 && rc.ChainID != s.gw.ChainID() {
		return fail(CodeWrongChain, fmt.Sprintf("swaps are only accepted on %s", chain.NetworkName(s.gw.ChainID())))
	}
	if rc.From != claimant {
		return fail(CodeSenderMismatch, "transaction sender does not match your wallet")
	}
	if rc.To == nil || *rc.To != s.router {
		return fail(CodeWrongRouter, "transaction was not sent to the swap router")
	}

	swaps := make([]decoder.Event, len(pair.Legs))
	for i, leg := range pair.Legs {
		var legSwaps []decoder.Event
		for _, ev := range s.dec.DecodeFrom(decoder.SwapPool, rc.Logs, leg.Pool) {
			if ev.Name == "Swap" {
				legSwaps = append(legSwaps, ev)
			}
		}
		switch {
		case len(legSwaps) == 0:
			return fail(CodeMissingPoolSwaps, fmt.Sprintf("no swap found in pool %s", leg.Pool.Hex()))
		case len(legSwaps) > 1:
			return fail(CodeAmbiguousPoolSwaps, fmt.Sprintf("%d swaps found in pool %s", len(legSwaps), leg.Pool.Hex()))
		}
		swaps[i] = legSwaps[0]
	}

	legIdx, inputToken := 0, pair.Tokens[0]
	if direction == DirectionReverse {
		legIdx, inputToken = len(pair.Legs)-1, pair.Tokens[1]
	}
	input, err := inputAmount(pair.Legs[legIdx], swaps[legIdx], inputToken)
	if err != nil {
		return fail(CodeInputAmountNotFound, err.Error())
	}
	if input.Cmp(minimum) < 0 {
		return fail(CodeAmountTooLow, fmt.Sprintf("input amount %s is below the required minimum %s", input, minimum))
	}

	return passed(map[string]any{
		"transactionHash": normalizeHash(rawHash),
		"pair":            pair.ID,
		"direction":       direction,
		"inputAmount":     input.String(),
		"chainId":         s.gw.ChainID(),
		"blockNumber":     rc.BlockNumber,
		"verifiedAt":      stamp(s.nowFunc),
	})
}

// inputAmount reads the delta of the input token from a pool swap. A positive delta means the
// token entered the pool.
func inputAmount(leg PoolLeg, ev decoder.Event, token common.Address) (*big.Int, error) {
	var field string
	switch token {
	case leg.Token0:
		field = "amount0"
	case leg.Token1:
		field = "amount1"
	default:
		return nil, fmt.Errorf("input token %s is not traded in pool %s", token.Hex(), leg.Pool.Hex())
	}
	delta, ok := decoder.BigArg(ev.Args, field)
	if !ok {
		return nil, fmt.Errorf("swap event has no %s", field)
	}
	if delta.Sign() <= 0 {
		return nil, errors.New("no positive input amount in the swap")
	}
	return new(big.Int).Set(delta), nil
}

func (s *SwapStrategy) config(req Request) (SwapPair, string, *big.Int, error) {
	var cfg swapTaskConfig
	present, err := decodeTaskConfig(req.TaskConfig, &cfg)
	if err != nil {
		return SwapPair{}, "", nil, fmt.Errorf("task config: %w", err)
	}
	if !present {
		return SwapPair{}, "", nil, errors.New("task config is required")
	}
	pair, ok := s.pairs[cfg.Pair]
	if !ok || len(pair.Legs) == 0 {
		return SwapPair{}, "", nil, fmt.Errorf("unknown pair %q", cfg.Pair)
	}
	direction := strings.ToLower(strings.TrimSpace(cfg.Direction))
	if direction != DirectionForward && direction != DirectionReverse {
		return SwapPair{}, "", nil, fmt.Errorf("direction must be %q or %q", DirectionForward, DirectionReverse)
	}
	minStr := strings.TrimSpace(cfg.RequiredMinimumInput)
	if !digitsPattern.MatchString(minStr) {
		return SwapPair{}, "", nil, errors.New("requiredMinimumInput must be a non-negative integer string")
	}
	minimum, _ := new(big.Int).SetString(minStr, 10)
	return pair, direction, minimum, nil
}
