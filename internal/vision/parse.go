package vision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type rawJudgment struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// parseJudgment reads the model's JSON answer, tolerating markdown fences and surrounding prose.
func parseJudgment(content string) (*Judgment, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no json object in model output")
	}

	var raw rawJudgment
	if err := json.Unmarshal([]byte(s[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decode judgment: %w", err)
	}
	decision := strings.ToLower(strings.TrimSpace(raw.Decision))
	if decision == "" {
		return nil, errors.New("judgment has no decision")
	}
	conf := raw.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return &Judgment{
		Decision:   decision,
		Confidence: conf,
		Reason:     strings.TrimSpace(raw.Reason),
	}, nil
}
