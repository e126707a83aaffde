package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/devblac/quest-verify/internal/claims"
	"github.com/devblac/quest-verify/internal/config"
	"github.com/devblac/quest-verify/internal/health"
	"github.com/devblac/quest-verify/internal/logging"
	"github.com/devblac/quest-verify/internal/storage"
	"github.com/devblac/quest-verify/internal/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClaims struct {
	lastSub   claims.Submission
	lastReq   verify.Request
	submitErr error
}

func (f *fakeClaims) Submit(ctx context.Context, sub claims.Submission) (claims.Decision, error) {
	f.lastSub = sub
	if f.submitErr != nil {
		return claims.Decision{}, f.submitErr
	}
	return claims.Decision{
		TaskID:     sub.TaskID,
		TaskType:   sub.TaskType,
		ClaimantID: sub.ClaimantID,
		Rewardable: true,
		Result:     verify.Result{Success: true},
	}, nil
}

func (f *fakeClaims) Verify(ctx context.Context, req verify.Request) verify.Result {
	f.lastReq = req
	return verify.Result{ErrorCode: verify.CodeTxFailed, ErrorMessage: "reverted"}
}

type fakeLedger struct {
	entries   []storage.LedgerEntry
	err       error
	lastLimit int
}

func (f *fakeLedger) ListLedgerEntries(ctx context.Context, limit int) ([]storage.LedgerEntry, error) {
	f.lastLimit = limit
	return f.entries, f.err
}

func newTestServer(t *testing.T, cfg config.ServerConfig, c Claims, l LedgerLister) *Server {
	t.Helper()
	srv := New(cfg, c, l, health.Checker{}, logging.Discard())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	return env.Error.Code
}

func TestSubmitClaim(t *testing.T) {
	fc := &fakeClaims{}
	srv := newTestServer(t, config.ServerConfig{}, fc, &fakeLedger{})

	body := `{"taskId":"t1","taskType":"vendor_buy","claimantId":"u1","claimantAddress":"0xabc",
		"evidence":{"transactionHash":"0x01","chainId":8453},"taskConfig":{"minimumAmount":"5"}}`
	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/claims", body)
	require.Equal(t, http.StatusOK, w.Code)

	var dec claims.Decision
	require.NoError(t, json.NewDecoder(w.Body).Decode(&dec))
	assert.True(t, dec.Rewardable)
	assert.Equal(t, "t1", dec.TaskID)

	assert.Equal(t, "vendor_buy", fc.lastSub.TaskType)
	assert.Equal(t, "0xabc", fc.lastSub.ClaimantAddress)
	assert.Equal(t, json.Number("8453"), fc.lastSub.Evidence["chainId"])
	assert.JSONEq(t, `{"minimumAmount":"5"}`, string(fc.lastSub.TaskConfig))
}

func TestSubmitClaimRejectsBadInput(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{}, &fakeClaims{}, &fakeLedger{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", "{", http.StatusBadRequest},
		{"missing task id", `{"taskType":"vendor_buy","claimantId":"u1"}`, http.StatusBadRequest},
		{"missing claimant", `{"taskId":"t1","taskType":"vendor_buy"}`, http.StatusBadRequest},
		{"too large", `{"taskId":"` + strings.Repeat("a", maxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv.Handler(), http.MethodPost, "/api/v1/claims", tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
		})
	}
}

func TestSubmitClaimInternalError(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{}, &fakeClaims{submitErr: errors.New("boom")}, &fakeLedger{})
	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/claims", `{"taskId":"t1","taskType":"x","claimantId":"u1"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, w))
}

func TestVerifyEndpoint(t *testing.T) {
	fc := &fakeClaims{}
	srv := newTestServer(t, config.ServerConfig{}, fc, &fakeLedger{})

	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/verify", `{"taskType":"vendor_sell","claimantId":"u1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res verify.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.False(t, res.Success)
	assert.Equal(t, verify.CodeTxFailed, res.ErrorCode)
	assert.Equal(t, "vendor_sell", fc.lastReq.TaskType)

	w = do(t, srv.Handler(), http.MethodPost, "/api/v1/verify", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLedgerEndpoint(t *testing.T) {
	fl := &fakeLedger{entries: []storage.LedgerEntry{{ID: "e1", ChainID: 1, TxHash: "0x01", ClaimantID: "u1", TaskID: "t1"}}}
	srv := newTestServer(t, config.ServerConfig{}, &fakeClaims{}, fl)

	w := do(t, srv.Handler(), http.MethodGet, "/api/v1/ledger?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, fl.lastLimit)

	var body struct {
		Entries []storage.LedgerEntry `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "e1", body.Entries[0].ID)

	w = do(t, srv.Handler(), http.MethodGet, "/api/v1/ledger?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	fl.err = errors.New("db down")
	w = do(t, srv.Handler(), http.MethodGet, "/api/v1/ledger", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, string(verify.CodeLedgerUnavailable), errorCode(t, w))
}

func TestHealthzRoute(t *testing.T) {
	srv := New(config.ServerConfig{}, &fakeClaims{}, &fakeLedger{}, health.Checker{
		LedgerPing: func(ctx context.Context) error { return errors.New("down") },
	}, logging.Discard())
	defer srv.Close()

	w := do(t, srv.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, config.ServerConfig{RateLimitRPM: 60, RateLimitBurst: 2}, &fakeClaims{}, &fakeLedger{})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, srv.Handler(), http.MethodGet, "/api/v1/ledger", "").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// health checks bypass the limiter
	assert.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/healthz", "").Code)
}
