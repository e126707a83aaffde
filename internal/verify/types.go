// Package verify holds the verification strategies. A strategy inspects submitted
// evidence for one family of task types and returns a Result; it never writes the
// replay ledger and never returns a Go error across its boundary.
package verify

import (
	"context"
	"encoding/json"
	"time"
)

// Code is a machine-readable failure reason.
type Code string

const (
	CodeTxHashRequired       Code = "TX_HASH_REQUIRED"
	CodeInvalidTxHash        Code = "INVALID_TX_HASH"
	CodeInvalidTaskConfig    Code = "INVALID_TASK_CONFIG"
	CodeInvalidConfig        Code = "INVALID_CONFIG"
	CodeWalletRequired       Code = "WALLET_REQUIRED"
	CodeTxFetchFailed        Code = "TX_FETCH_FAILED"
	CodeTxNotFound           Code = "TX_NOT_FOUND"
	CodeTxNotFoundMulti      Code = "TX_NOT_FOUND_MULTI_NETWORK"
	CodeTxFailed             Code = "TX_FAILED"
	CodeTxTooOld             Code = "TX_TOO_OLD"
	CodeSenderMismatch       Code = "SENDER_MISMATCH"
	CodeWrongContract        Code = "WRONG_CONTRACT"
	CodeWrongRouter          Code = "WRONG_ROUTER"
	CodeWrongChain           Code = "WRONG_CHAIN"
	CodeUserMismatch         Code = "USER_MISMATCH"
	CodeEventNotFound        Code = "EVENT_NOT_FOUND"
	CodeInvalidFactory       Code = "INVALID_FACTORY"
	CodeLockAddressNotFound  Code = "LOCK_ADDRESS_NOT_FOUND"
	CodeAmountTooLow         Code = "AMOUNT_TOO_LOW"
	CodeStageTooLow          Code = "STAGE_TOO_LOW"
	CodeStateReadFailed      Code = "STATE_READ_FAILED"
	CodeMultiNetworkConflict Code = "MULTI_NETWORK_CONFLICT"
	CodeMissingPoolSwaps     Code = "MISSING_REQUIRED_POOL_SWAPS"
	CodeAmbiguousPoolSwaps   Code = "AMBIGUOUS_POOL_SWAPS"
	CodeInputAmountNotFound  Code = "INPUT_AMOUNT_NOT_FOUND"
	CodeAINotConfigured      Code = "AI_NOT_CONFIGURED"
	CodeAIImageRequired      Code = "AI_IMAGE_REQUIRED"
	CodeAIServiceError       Code = "AI_SERVICE_ERROR"
	CodeAIParseError         Code = "AI_PARSE_ERROR"
	CodeAIRetry              Code = "AI_RETRY"
	CodeAIDefer              Code = "AI_DEFER"
	CodeCheckinNotFound      Code = "CHECKIN_NOT_FOUND"
	CodeCheckinError         Code = "CHECKIN_VERIFICATION_ERROR"
	CodeUnsupportedTaskType  Code = "UNSUPPORTED_TASK_TYPE"
	CodeDuplicateSubmission  Code = "DUPLICATE_SUBMISSION"
	CodeLedgerUnavailable    Code = "LEDGER_UNAVAILABLE"
)

// Task types handled by the built-in strategies.
const (
	TaskVendorBuy     = "vendor_buy"
	TaskVendorSell    = "vendor_sell"
	TaskVendorLightUp = "vendor_light_up"
	TaskVendorLevelUp = "vendor_level_up"
	TaskDeployLock    = "deploy_lock"
	TaskUniswapSwap   = "uniswap_swap"
	TaskSubmitProofAI = "submit_proof_ai"
	TaskDailyCheckin  = "daily_checkin"
)

// Request is one verification attempt. TaskConfig is the strategy-specific JSON payload.
type Request struct {
	TaskType        string          `json:"taskType"`
	Evidence        map[string]any  `json:"evidence,omitempty"`
	ClaimantID      string          `json:"claimantId"`
	ClaimantAddress string          `json:"claimantAddress,omitempty"`
	TaskConfig      json.RawMessage `json:"taskConfig,omitempty"`
}

// Result is the trust decision. Metadata carries facts worth persisting.
type Result struct {
	Success      bool           `json:"success"`
	ErrorCode    Code           `json:"errorCode,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Strategy verifies one family of task types.
type Strategy interface {
	Verify(ctx context.Context, req Request) Result
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, req Request) Result

func (f StrategyFunc) Verify(ctx context.Context, req Request) Result { return f(ctx, req) }

func passed(meta map[string]any) Result {
	return Result{Success: true, Metadata: meta}
}

func fail(code Code, msg string) Result {
	return Result{ErrorCode: code, ErrorMessage: msg}
}

func failWith(code Code, msg string, meta map[string]any) Result {
	return Result{ErrorCode: code, ErrorMessage: msg, Metadata: meta}
}

func stamp(now func() time.Time) string {
	return now().UTC().Format(time.RFC3339)
}
