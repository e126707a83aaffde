package verify

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// CheckinService reports whether an address can still check in today.
type CheckinService interface {
	CanCheckinToday(ctx context.Context, user common.Address) (bool, error)
}

// CheckinStrategy succeeds once the claimant has checked in today. It holds no state.
type CheckinStrategy struct {
	svc     CheckinService
	logger  *slog.Logger
	nowFunc func() time.Time
}

func NewCheckinStrategy(svc CheckinService, logger *slog.Logger) *CheckinStrategy {
	return &CheckinStrategy{svc: svc, logger: orDefault(logger), nowFunc: time.Now}
}

func (s *CheckinStrategy) Verify(ctx context.Context, req Request) Result {
	user, ok := claimantAddress(req.ClaimantAddress)
	if !ok {
		return fail(CodeWalletRequired, "a linked wallet address is required")
	}
	can, err := s.svc.CanCheckinToday(ctx, user)
	if err != nil {
		s.logger.Warn("checkin lookup failed", "user", user.Hex(), "err", err)
		return fail(CodeCheckinError, "could not verify your check-in")
	}
	if can {
		return fail(CodeCheckinNotFound, "you have not checked in today")
	}
	return passed(map[string]any{"checkedIn": true, "verifiedAt": stamp(s.nowFunc)})
}
