package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/devblac/quest-verify/internal/chain"
	"github.com/devblac/quest-verify/internal/decoder"
	"github.com/ethereum/go-ethereum/common"
)

var vendorEvents = map[string]string{
	TaskVendorBuy:     "Purchased",
	TaskVendorSell:    "Sold",
	TaskVendorLightUp: "Lit",
}

type vendorTaskConfig struct {
	MinimumAmount amount `json:"minimumAmount"`
	RequiredToken string `json:"requiredToken"`
}

// VendorStrategy verifies buy, sell and light-up transactions against the vendor contract.
type VendorStrategy struct {
	gw       chain.Gateway
	dec      *decoder.Decoder
	contract common.Address
	logger   *slog.Logger
	nowFunc  func() time.Time
}

func NewVendorStrategy(gw chain.Gateway, dec *decoder.Decoder, contract common.Address, logger *slog.Logger) *VendorStrategy {
	return &VendorStrategy{gw: gw, dec: dec, contract: contract, logger: orDefault(logger), nowFunc: time.Now}
}

func (s *VendorStrategy) Verify(ctx context.Context, req Request) Result {
	eventName, ok := vendorEvents[req.TaskType]
	if !ok {
		return fail(CodeUnsupportedTaskType, fmt.Sprintf("vendor strategy cannot verify %q", req.TaskType))
	}

	var cfg vendorTaskConfig
	if _, err := decodeTaskConfig(req.TaskConfig, &cfg); err != nil {
		return fail(CodeInvalidTaskConfig, err.Error())
	}
	field, err := amountField(req.TaskType, cfg.RequiredToken)
	if err != nil {
		return fail(CodeInvalidTaskConfig, err.Error())
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

	rc, err := s.gw.Receipt(ctx, common.HexToHash(rawHash))
	if err != nil {
		s.logger.Debug("vendor receipt fetch failed", "tx", rawHash, "err", err)
		return fail(CodeTxFetchFailed, "could not fetch transaction receipt")
	}
	if rc.To == nil || *rc.To != s.contract {
		return fail(CodeWrongContract, "transaction was not sent to the vendor contract")
	}
	if rc.From != claimant {
		return fail(CodeSenderMismatch, "transaction sender does not match your wallet")
	}
	if !rc.Succeeded() {
		return fail(CodeTxFailed, "transaction failed on-chain")
	}

	var matched []decoder.Event
	for _, ev := range s.dec.DecodeFrom(decoder.Vendor, rc.Logs, s.contract) {
		if ev.Name == eventName {
			matched = append(matched, ev)
		}
	}
	if len(matched) == 0 {
		return fail(CodeEventNotFound, fmt.Sprintf("no %s event from the vendor contract", eventName))
	}
	var ev *decoder.Event
	for i := range matched {
		if who, _ := decoder.AddressArg(matched[i].Args, "user"); who == claimant {
			ev = &matched[i]
			break
		}
	}
	if ev == nil {
		return fail(CodeUserMismatch, fmt.Sprintf("%s event is not for your wallet", eventName))
	}

	meta := map[string]any{
		"transactionHash": normalizeHash(rawHash),
		"eventName":       ev.Name,
		"logIndex":        ev.LogIndex,
		"blockNumber":     rc.BlockNumber,
		"chainId":         s.gw.ChainID(),
		"verifiedAt":      stamp(s.nowFunc),
	}
	if field == "" {
		return passed(meta)
	}

	amt, found := decoder.BigArg(ev.Args, field)
	if !found {
		return fail(CodeEventNotFound, fmt.Sprintf("%s event has no %s", eventName, field))
	}
	minimum := cfg.MinimumAmount.orZero()
	if amt.Cmp(minimum) < 0 {
		return fail(CodeAmountTooLow, fmt.Sprintf("amount %s is below the required minimum %s", amt, minimum))
	}
	meta["amount"] = amt.String()
	return passed(meta)
}

// amountField picks the event field compared against the minimum. Buys default to the
// swap-token side and sells to the base-token side. Light-up has no amount gate.
func amountField(taskType, requiredToken string) (string, error) {
	if taskType == TaskVendorLightUp {
		return "", nil
	}
	switch strings.ToLower(strings.TrimSpace(requiredToken)) {
	case "base":
		return "baseTokenAmount", nil
	case "swap":
		return "swapTokenAmount", nil
	case "":
		if taskType == TaskVendorBuy {
			return "swapTokenAmount", nil
		}
		return "baseTokenAmount", nil
	default:
		return "", errors.New(`requiredToken must be "base" or "swap"`)
	}
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
