package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/txwatch/internal/model"
)

// Risk tiers.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// ContractInfo is optional decoded metadata about the called contract.
type ContractInfo struct {
	Address  string `json:"address,omitempty"`
	Name     string `json:"name,omitempty"`
	Function string `json:"function,omitempty"`
	Verified bool   `json:"verified"`
}

// Verdict is a structured risk assessment.
type Verdict struct {
	RiskLevel   string        `json:"risk_level"`
	FraudScore  int           `json:"fraud_score"` // 0-100
	Description string        `json:"description"`
	Warnings    []string      `json:"warnings"`
	Contract    *ContractInfo `json:"contract,omitempty"`
	Confidence  float64       `json:"confidence"` // 0-1
	Source      string        `json:"source,omitempty"`
}

// Chunk is one piece of a streamed narrative. The last chunk has Done set,
// or Err when the stream failed.
type Chunk struct {
	Text string `json:"text,omitempty"`
	Done bool   `json:"done,omitempty"`
	Err  error  `json:"-"`
}

// Analyzer returns a structured verdict.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (Verdict, error)
}

// Streamer returns an incremental narrative. The channel is closed after the
// final chunk.
type Streamer interface {
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Service is a backend offering both shapes.
type Service interface {
	Analyzer
	Streamer
}

// RiskFor maps a fraud score onto a tier.
func RiskFor(score int) string {
	switch {
	case score >= 75:
		return RiskCritical
	case score >= 50:
		return RiskHigh
	case score >= 25:
		return RiskMedium
	}
	return RiskLow
}

// ParseVerdict decodes a model reply, tolerating markdown fences.
func ParseVerdict(raw string) (Verdict, error) {
	raw = cleanJSON(raw)
	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Verdict{}, fmt.Errorf("cannot parse verdict: %s", truncate(raw, 200))
	}
	v.FraudScore = max(0, min(100, v.FraudScore))
	v.Confidence = max(0, min(1, v.Confidence))
	v.RiskLevel = strings.ToLower(strings.TrimSpace(v.RiskLevel))
	switch v.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
	default:
		v.RiskLevel = RiskFor(v.FraudScore)
	}
	if v.Warnings == nil {
		v.Warnings = []string{}
	}
	return v, nil
}

// unavailable marks err as an advisory failure, keeping the cause.
func unavailable(err error) error {
	if err == nil || errors.Is(err, model.ErrAnalysisUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrAnalysisUnavailable, err)
}

func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
