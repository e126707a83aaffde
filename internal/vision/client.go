// Package vision is the Vision Judge gateway: it asks an OpenAI-compatible chat
// completions endpoint to judge a proof screenshot against a task prompt.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/devblac/quest-verify/internal/config"
)

const (
	CodeServiceError = "AI_SERVICE_ERROR"
	CodeParseError   = "AI_PARSE_ERROR"
)

// Request is one judgment call.
type Request struct {
	ImageRef       string
	Prompt         string
	Model          string
	FallbackModels []string
	MaxTokens      int
	Temperature    float64
	Threshold      float64
}

// Judgment is the structured answer of the model.
type Judgment struct {
	Decision   string
	Confidence float64
	Reason     string
	Model      string
	RawContent string
}

// JudgeError reports why no judgment could be produced.
type JudgeError struct {
	Code       string
	Model      string
	RawContent string
	Err        error
}

func (e *JudgeError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s (%s): %v", e.Code, e.Model, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *JudgeError) Unwrap() error { return e.Err }

// Client talks to the chat completions API.
type Client struct {
	baseURL       string
	apiKey        string
	httpClient    *http.Client
	model         string
	fallbackModel string
	maxTokens     int
	temperature   float64
	attempts      int
	retryDelay    time.Duration
	logger        *slog.Logger
}

// New builds a client from the vision config section.
func New(cfg config.VisionConfig, logger *slog.Logger) *Client {
	timeout := 60 * time.Second
	if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
		timeout = d
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		httpClient:    &http.Client{Timeout: timeout},
		model:         cfg.Model,
		fallbackModel: cfg.FallbackModel,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		attempts:      cfg.Retries + 1,
		retryDelay:    time.Second,
		logger:        logger,
	}
}

// DefaultModel is the configured primary model.
func (c *Client) DefaultModel() string { return c.model }

// FallbackModel is the configured secondary model.
func (c *Client) FallbackModel() string { return c.fallbackModel }

// Judge asks each model in turn until one answers. A transport or service failure moves on
// to the next model; an answer that cannot be parsed stops with CodeParseError.
func (c *Client) Judge(ctx context.Context, req Request) (*Judgment, error) {
	models := candidateModels(orString(req.Model, c.model), req.FallbackModels, c.fallbackModel)
	if len(models) == 0 {
		return nil, &JudgeError{Code: CodeServiceError, Err: errors.New("no model configured")}
	}

	var lastErr error
	for _, model := range models {
		content, err := c.complete(ctx, model, req)
		if err != nil {
			c.logger.Warn("vision model call failed", "model", model, "err", err)
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		j, err := parseJudgment(content)
		if err != nil {
			return nil, &JudgeError{Code: CodeParseError, Model: model, RawContent: content, Err: err}
		}
		j.Model = model
		j.RawContent = content
		return j, nil
	}
	return nil, &JudgeError{Code: CodeServiceError, Err: lastErr}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, model string, req Request) (string, error) {
	payload := map[string]any{
		"model": model,
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt(req.Threshold)},
			{"role": "user", "content": []map[string]any{
				{"type": "text", "text": req.Prompt},
				{"type": "image_url", "image_url": map[string]string{"url": req.ImageRef}},
			}},
		},
		"max_tokens":      orInt(req.MaxTokens, c.maxTokens),
		"temperature":     orFloat(req.Temperature, c.temperature),
		"response_format": map[string]string{"type": "json_object"},
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	_, body, err := doWithRetry(ctx, c.attempts, c.retryDelay, func() (int, []byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
		if err != nil {
			return 0, nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, b, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(b), 200))
		}
		return resp.StatusCode, b, nil
	})
	if err != nil {
		return "", err
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", errors.New("empty response")
	}
	return out.Choices[0].Message.Content, nil
}

func systemPrompt(threshold float64) string {
	return fmt.Sprintf(`You verify screenshots submitted as proof that a user completed a task.
Answer with a JSON object only: {"decision": "approve" | "retry" | "defer", "confidence": number between 0 and 1, "reason": string}.
Use "approve" only when the image clearly satisfies the task and your confidence is at least %.2f.
Use "retry" when the user should resubmit a clearer or different screenshot, and say what to change in "reason".
Use "defer" when a human should decide. Never reject outright.`, threshold)
}

func candidateModels(primary string, fallbacks []string, configured string) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(m string) {
		m = strings.TrimSpace(m)
		if m == "" {
			return
		}
		if _, ok := seen[m]; ok {
			return
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	add(primary)
	for _, m := range fallbacks {
		add(m)
	}
	if len(fallbacks) == 0 {
		add(configured)
	}
	return out
}

func orString(v, d string) string {
	if v != "" {
		return v
	}
	return d
}

func orInt(v, d int) int {
	if v != 0 {
		return v
	}
	return d
}

func orFloat(v, d float64) float64 {
	if v != 0 {
		return v
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
