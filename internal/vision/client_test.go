package vision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devblac/quest-verify/internal/config"
	"github.com/devblac/quest-verify/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seenRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
}

func chatBody(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"content": content}}},
	})
	return b
}

func newTestClient(url string, retries int) *Client {
	c := New(config.VisionConfig{
		BaseURL:       url,
		APIKey:        "sk-test",
		Model:         "primary",
		FallbackModel: "backup",
		MaxTokens:     100,
		Retries:       retries,
	}, logging.Discard())
	c.retryDelay = time.Millisecond
	return c
}

func TestJudgeApprove(t *testing.T) {
	var got seenRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write(chatBody(`{"decision":"approve","confidence":0.92,"reason":"profile page shown"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	j, err := c.Judge(context.Background(), Request{
		ImageRef:  "https://img.example/proof.png",
		Prompt:    "Show your profile page",
		Threshold: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "approve", j.Decision)
	assert.InDelta(t, 0.92, j.Confidence, 1e-9)
	assert.Equal(t, "primary", j.Model)

	assert.Equal(t, "primary", got.Model)
	assert.Equal(t, "json_object", got.ResponseFormat["type"])
	require.Len(t, got.Messages, 2)
	assert.Contains(t, string(got.Messages[1].Content), "https://img.example/proof.png")
	assert.Contains(t, string(got.Messages[1].Content), "image_url")
}

func TestJudgeFallsBackOnServiceError(t *testing.T) {
	var primaryCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req seenRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model == "primary" {
			primaryCalls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(chatBody(`{"decision":"retry","confidence":0.5,"reason":"crop the wallet address"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 1)
	j, err := c.Judge(context.Background(), Request{ImageRef: "https://x/y.png", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "backup", j.Model)
	assert.Equal(t, "retry", j.Decision)
	assert.Equal(t, int32(2), primaryCalls.Load(), "primary should be retried once before falling back")
}

func TestJudgeParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(chatBody("I think it looks fine"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	_, err := c.Judge(context.Background(), Request{ImageRef: "https://x/y.png", Prompt: "p"})
	var je *JudgeError
	require.True(t, errors.As(err, &je))
	assert.Equal(t, CodeParseError, je.Code)
	assert.Equal(t, "I think it looks fine", je.RawContent)
}

func TestJudgeServiceErrorWhenAllModelsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	_, err := c.Judge(context.Background(), Request{ImageRef: "https://x/y.png", Prompt: "p"})
	var je *JudgeError
	require.True(t, errors.As(err, &je))
	assert.Equal(t, CodeServiceError, je.Code)
}

func TestParseJudgment(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		decision string
		conf     float64
		wantErr  bool
	}{
		{"plain", `{"decision":"Approve","confidence":0.8,"reason":"ok"}`, "approve", 0.8, false},
		{"fenced", "```json\n{\"decision\":\"defer\",\"confidence\":0.4}\n```", "defer", 0.4, false},
		{"prose around", `Sure: {"decision":"retry","confidence":0.3} done`, "retry", 0.3, false},
		{"clamped", `{"decision":"approve","confidence":1.7}`, "approve", 1, false},
		{"no decision", `{"confidence":0.9}`, "", 0, true},
		{"not json", `approve`, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := parseJudgment(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.decision, j.Decision)
			assert.InDelta(t, tt.conf, j.Confidence, 1e-9)
		})
	}
}

func TestDoWithRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, _, err := doWithRetry(ctx, 5, 50*time.Millisecond, func() (int, []byte, error) {
		calls++
		cancel()
		return 500, nil, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
