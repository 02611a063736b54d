package model

import (
	"fmt"
	"log/slog"
)

type CostTracking string

const (
	CostTrackingDefault      CostTracking = "default"
	CostTrackingIgnoreErrors CostTracking = "ignore_errors"
)

// Pricing is a per-million-token price list used when the backend does not
// report cost itself.
type Pricing struct {
	InputPerMillion  float64 `json:"input_per_million" toml:"input_per_million" yaml:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million" toml:"output_per_million" yaml:"output_per_million"`
}

func (p Pricing) IsZero() bool {
	return p.InputPerMillion == 0 && p.OutputPerMillion == 0
}

// Usage is the token accounting block returned by chat and responses
// backends.
type Usage struct {
	PromptTokens     int      `json:"prompt_tokens,omitempty"`
	CompletionTokens int      `json:"completion_tokens,omitempty"`
	InputTokens      int      `json:"input_tokens,omitempty"`
	OutputTokens     int      `json:"output_tokens,omitempty"`
	Cost             *float64 `json:"cost,omitempty"`
}

func (u *Usage) inputTokens() int {
	if u.PromptTokens > 0 {
		return u.PromptTokens
	}
	return u.InputTokens
}

func (u *Usage) outputTokens() int {
	if u.CompletionTokens > 0 {
		return u.CompletionTokens
	}
	return u.OutputTokens
}

// ComputeCost derives the cost of one call. A positive backend-reported
// cost wins; otherwise the configured pricing is applied to the token
// counts. When neither yields a value the call fails with a *CostError,
// unless mode is ignore_errors, in which case zero is recorded.
func ComputeCost(modelName string, mode CostTracking, pricing Pricing, u *Usage, logger *slog.Logger) (float64, error) {
	cost, reason := deriveCost(pricing, u)
	if reason == "" {
		return cost, nil
	}
	if mode == CostTrackingIgnoreErrors {
		return 0, nil
	}
	err := &CostError{Model: modelName, Reason: reason}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("cost tracking failed", "model", modelName, "reason", reason)
	return 0, err
}

func deriveCost(pricing Pricing, u *Usage) (float64, string) {
	if u != nil && u.Cost != nil {
		switch c := *u.Cost; {
		case c < 0:
			return 0, fmt.Sprintf("reported cost %g is negative", c)
		case c > 0:
			return c, ""
		}
	}
	if !pricing.IsZero() {
		if u == nil {
			return 0, "no usage reported to apply pricing to"
		}
		in := float64(u.inputTokens()) * pricing.InputPerMillion / 1e6
		out := float64(u.outputTokens()) * pricing.OutputPerMillion / 1e6
		return in + out, ""
	}
	if u == nil {
		return 0, "no usage reported and no pricing configured"
	}
	return 0, "reported cost is zero or missing and no pricing configured"
}
