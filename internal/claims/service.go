// Package claims turns a verification result into a reward decision: it resolves the
// strategy, verifies, binds on-chain evidence in the replay ledger and notifies sinks.
package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/devblac/quest-verify/internal/ledger"
	"github.com/devblac/quest-verify/internal/metrics"
	"github.com/devblac/quest-verify/internal/sink"
	"github.com/devblac/quest-verify/internal/storage"
	"github.com/devblac/quest-verify/internal/verify"
)

// ErrTaskIDRequired is returned for a submission without a task id.
var ErrTaskIDRequired = errors.New("taskId is required")

// Resolver finds the strategy for a task type.
type Resolver interface {
	Resolve(taskType string) (verify.Strategy, bool)
}

// Registrar binds evidence to a claimant.
type Registrar interface {
	Register(ctx context.Context, c ledger.Claim) (ledger.Outcome, error)
}

// Submission is a claimant asking to be rewarded for a task.
type Submission struct {
	TaskID string `json:"taskId"`
	verify.Request
}

// Decision is what the caller should do with a submission.
type Decision struct {
	TaskID     string               `json:"taskId"`
	TaskType   string               `json:"taskType"`
	ClaimantID string               `json:"claimantId"`
	Rewardable bool                 `json:"rewardable"`
	Duplicate  bool                 `json:"duplicate"`
	Result     verify.Result        `json:"result"`
	Entry      *storage.LedgerEntry `json:"ledgerEntry,omitempty"`
}

// Service runs the verification pipeline for one submission at a time; it is safe for
// concurrent use.
type Service struct {
	strategies Resolver
	guard      Registrar
	sinks      map[string]sink.Sender
	network    func(uint64) string
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithSinks notifies the given senders about every rewardable claim.
func WithSinks(sinks map[string]sink.Sender) Option {
	return func(s *Service) { s.sinks = sinks }
}

// WithNetworkNames resolves chain ids to display names for notifications.
func WithNetworkNames(name func(uint64) string) Option {
	return func(s *Service) { s.network = name }
}

// WithMetrics counts verification outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(strategies Resolver, guard Registrar, opts ...Option) *Service {
	s := &Service{
		strategies: strategies,
		guard:      guard,
		network:    func(id uint64) string { return fmt.Sprintf("Chain %d", id) },
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify runs the strategy without touching the ledger.
func (s *Service) Verify(ctx context.Context, req verify.Request) verify.Result {
	strategy, ok := s.strategies.Resolve(req.TaskType)
	if !ok {
		res := verify.Result{
			ErrorCode:    verify.CodeUnsupportedTaskType,
			ErrorMessage: fmt.Sprintf("no verification available for task type %q", req.TaskType),
		}
		s.metrics.Verification(req.TaskType, string(res.ErrorCode))
		return res
	}
	res := strategy.Verify(ctx, req)
	s.metrics.Verification(req.TaskType, string(res.ErrorCode))
	if !res.Success {
		s.logger.Info("verification failed", "task_type", req.TaskType, "claimant", req.ClaimantID,
			"code", res.ErrorCode)
	}
	return res
}

// Submit verifies and, for evidence-backed results, registers the evidence. Only the
// first accepted registration of a piece of evidence is rewardable.
func (s *Service) Submit(ctx context.Context, sub Submission) (Decision, error) {
	if sub.TaskID == "" {
		return Decision{}, ErrTaskIDRequired
	}
	dec := Decision{TaskID: sub.TaskID, TaskType: sub.TaskType, ClaimantID: sub.ClaimantID}

	dec.Result = s.Verify(ctx, sub.Request)
	if !dec.Result.Success {
		return dec, nil
	}

	chainID, txHash, bound := evidenceKey(dec.Result.Metadata)
	if !bound {
		dec.Rewardable = true
		s.notify(ctx, dec, 0, "")
		return dec, nil
	}

	out, err := s.guard.Register(ctx, claimFrom(sub, chainID, txHash, dec.Result.Metadata))
	if err != nil {
		return Decision{}, fmt.Errorf("register evidence: %w", err)
	}
	dec.Entry = out.Entry

	switch out.Status {
	case ledger.StatusAccepted:
		dec.Rewardable = true
		s.notify(ctx, dec, chainID, txHash)
	case ledger.StatusAlreadyRegistered:
		dec.Duplicate = true
	case ledger.StatusConflict:
		dec.Result = verify.Result{
			ErrorCode:    verify.CodeDuplicateSubmission,
			ErrorMessage: "this transaction has already been used to claim a reward",
			Metadata:     dec.Result.Metadata,
		}
	default:
		dec.Result = verify.Result{
			ErrorCode:    verify.CodeLedgerUnavailable,
			ErrorMessage: "could not record the claim, please retry",
			Metadata:     dec.Result.Metadata,
		}
	}
	return dec, nil
}

func (s *Service) notify(ctx context.Context, dec Decision, chainID uint64, txHash string) {
	if len(s.sinks) == 0 {
		return
	}
	payload := sink.ClaimPayload{
		TaskID:     dec.TaskID,
		TaskType:   dec.TaskType,
		ClaimantID: dec.ClaimantID,
		ChainID:    chainID,
		TxHash:     txHash,
		Metadata:   dec.Result.Metadata,
	}
	if chainID != 0 {
		payload.Network = s.network(chainID)
	}

	ids := make([]string, 0, len(s.sinks))
	for id := range s.sinks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		err := s.sinks[id].Send(ctx, payload)
		s.metrics.Notification(id, err == nil)
		if err != nil {
			s.logger.Warn("sink delivery failed", "sink", id, "task", dec.TaskID, "err", err)
		}
	}
}

// evidenceKey extracts the ledger key from result metadata. Results without both a chain
// id and a transaction hash are evidence-free.
func evidenceKey(meta map[string]any) (uint64, string, bool) {
	hash, _ := meta["transactionHash"].(string)
	id, ok := uintValue(meta["chainId"])
	if hash == "" || !ok || id == 0 {
		return 0, "", false
	}
	return id, ledger.NormalizeTxHash(hash), true
}

func claimFrom(sub Submission, chainID uint64, txHash string, meta map[string]any) ledger.Claim {
	c := ledger.Claim{
		ChainID:    chainID,
		TxHash:     txHash,
		ClaimantID: sub.ClaimantID,
		TaskID:     sub.TaskID,
		TaskType:   sub.TaskType,
	}
	for _, key := range []string{"amount", "inputAmount"} {
		if v, ok := meta[key].(string); ok && v != "" {
			c.Amount = &v
			break
		}
	}
	if v, ok := meta["eventName"].(string); ok && v != "" {
		c.EventName = &v
	}
	if v, ok := uintValue(meta["blockNumber"]); ok {
		c.BlockNumber = &v
	}
	if v, ok := uintValue(meta["logIndex"]); ok {
		c.LogIndex = &v
	}
	return c
}

func uintValue(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint:
		return uint64(n), true
	case int:
		if n >= 0 {
			return uint64(n), true
		}
	case int64:
		if n >= 0 {
			return uint64(n), true
		}
	case float64:
		if n >= 0 && n == float64(uint64(n)) {
			return uint64(n), true
		}
	}
	return 0, false
}
