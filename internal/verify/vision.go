package verify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/devblac/quest-verify/internal/vision"
)

const defaultConfidenceThreshold = 0.7

var imageKeys = []string{"imageUrl", "image_url", "screenshotUrl", "proofUrl", "fileUrl", "image"}

// Judge is the Vision Judge gateway.
type Judge interface {
	Judge(ctx context.Context, req vision.Request) (*vision.Judgment, error)
}

type visionTaskConfig struct {
	AIPrompt            string   `json:"aiPrompt"`
	Prompt              string   `json:"prompt"`
	ConfidenceThreshold *float64 `json:"aiConfidenceThreshold"`
	Model               string   `json:"aiModel"`
	FallbackModel       string   `json:"aiFallbackModel"`
	MaxTokens           int      `json:"aiMaxTokens"`
	Temperature         float64  `json:"aiTemperature"`
}

// VisionStrategy asks the vision judge whether a screenshot proves the task. It only ever
// approves, asks for a retry, or defers to a human.
type VisionStrategy struct {
	judge         Judge
	model         string
	fallbackModel string
	logger        *slog.Logger
	nowFunc       func() time.Time
}

// NewVisionStrategy builds the strategy. A nil judge makes every attempt fail with AI_NOT_CONFIGURED.
func NewVisionStrategy(judge Judge, model, fallbackModel string, logger *slog.Logger) *VisionStrategy {
	return &VisionStrategy{judge: judge, model: model, fallbackModel: fallbackModel, logger: orDefault(logger), nowFunc: time.Now}
}

func (s *VisionStrategy) Verify(ctx context.Context, req Request) Result {
	var cfg visionTaskConfig
	if _, err := decodeTaskConfig(req.TaskConfig, &cfg); err != nil {
		return fail(CodeInvalidTaskConfig, err.Error())
	}
	prompt := strings.TrimSpace(cfg.AIPrompt)
	if prompt == "" {
		prompt = strings.TrimSpace(cfg.Prompt)
	}
	if prompt == "" || s.judge == nil {
		return fail(CodeAINotConfigured, "AI verification is not configured for this task")
	}

	image := evidenceString(req.Evidence, imageKeys...)
	if !validImageRef(image) {
		return fail(CodeAIImageRequired, "a screenshot URL or image is required")
	}

	threshold := defaultConfidenceThreshold
	if cfg.ConfidenceThreshold != nil {
		threshold = clamp01(*cfg.ConfidenceThreshold)
	}
	model := cfg.Model
	if model == "" {
		model = s.model
	}
	var fallbacks []string
	if fb := firstNonEmpty(cfg.FallbackModel, s.fallbackModel); fb != "" && fb != model {
		fallbacks = []string{fb}
	}

	j, err := s.judge.Judge(ctx, vision.Request{
		ImageRef:       image,
		Prompt:         prompt,
		Model:          model,
		FallbackModels: fallbacks,
		MaxTokens:      cfg.MaxTokens,
		Temperature:    cfg.Temperature,
		Threshold:      threshold,
	})
	if err != nil {
		var je *vision.JudgeError
		if errors.As(err, &je) && je.Code == vision.CodeParseError {
			s.logger.Warn("vision judgment unparseable", "model", je.Model, "err", je.Err)
			return failWith(CodeAIParseError, "could not read the AI judgment; a reviewer will check your proof",
				map[string]any{"aiThreshold": threshold, "aiModel": je.Model, "rawContent": je.RawContent})
		}
		s.logger.Warn("vision judge unavailable", "err", err)
		return failWith(CodeAIServiceError, "AI verification is temporarily unavailable",
			map[string]any{"aiThreshold": threshold})
	}

	decision := effectiveDecision(j.Decision, j.Confidence, threshold)
	meta := map[string]any{
		"aiDecision":   decision,
		"aiConfidence": j.Confidence,
		"aiThreshold":  threshold,
		"aiReason":     j.Reason,
		"aiModel":      j.Model,
		"verifiedAt":   stamp(s.nowFunc),
	}
	switch decision {
	case "approve":
		return passed(meta)
	case "retry":
		msg := j.Reason
		if msg == "" {
			msg = "please submit a clearer screenshot"
		}
		return failWith(CodeAIRetry, msg, meta)
	default:
		return failWith(CodeAIDefer, "your proof was sent for manual review", meta)
	}
}

// effectiveDecision maps any model answer to approve, retry or defer. An approval below the
// threshold is deferred.
func effectiveDecision(decision string, confidence, threshold float64) string {
	switch strings.ToLower(strings.TrimSpace(decision)) {
	case "approve":
		if confidence >= threshold {
			return "approve"
		}
		return "defer"
	case "retry":
		return "retry"
	default:
		return "defer"
	}
}

func validImageRef(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "data:image/")
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
