// Package model holds the machinery shared by model adapters: retry
// policy, error classification, cost computation and call accounting.
package model

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/yudai-dev/yudai/internal/actions"
	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/tmpl"
)

// Base implements the bookkeeping half of ports.Model. Adapters embed a
// *Base and add Query and FormatObservationMessages.
type Base struct {
	Config Config
	Logger *slog.Logger

	global     *domain.Tracker
	local      domain.Tracker
	multimodal *regexp.Regexp
	action     *regexp.Regexp
}

// NewBase validates cfg. global may be nil; when set it receives every
// recorded call in addition to the adapter's own counters.
func NewBase(cfg Config, global *domain.Tracker, logger *slog.Logger) (*Base, error) {
	cfg = cfg.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	b := &Base{Config: cfg, Logger: logger, global: global}
	if cfg.MultimodalRegex != "" {
		re, err := regexp.Compile(cfg.MultimodalRegex)
		if err != nil {
			return nil, fmt.Errorf("compiling multimodal regex: %w", err)
		}
		b.multimodal = re
	}
	re, err := actions.CompileActionRegex(cfg.ActionRegex)
	if err != nil {
		return nil, err
	}
	b.action = re
	return b, nil
}

// ActionRegex is the compiled text-mode action pattern.
func (b *Base) ActionRegex() *regexp.Regexp { return b.action }

// Record accounts for one completed query.
func (b *Base) Record(cost float64) {
	b.local.Add(cost)
	b.global.Add(cost)
}

func (b *Base) Stats() (float64, int) {
	return b.local.Cost(), b.local.Calls()
}

// Cost derives the cost of a call under this adapter's configuration.
func (b *Base) Cost(u *Usage) (float64, error) {
	return ComputeCost(b.Config.ModelName, b.Config.CostTracking, b.Config.Pricing, u, b.Logger)
}

func (b *Base) FormatMessage(role domain.Role, content string) domain.Message {
	return domain.Message{Role: role, Content: actions.ExpandMultimodal(content, b.multimodal)}
}

// ConfigVars is the configuration as template variables.
func (b *Base) ConfigVars() map[string]any {
	return tmpl.ToMap(b.Config)
}

func (b *Base) TemplateVars() map[string]any {
	vars := b.ConfigVars()
	cost, calls := b.Stats()
	vars["n_model_calls"] = calls
	vars["model_cost"] = cost
	return vars
}

func (b *Base) Serialize() map[string]any {
	return b.ConfigVars()
}

// PrepareMessages strips messages down to the fields a chat backend
// accepts.
func PrepareMessages(messages []domain.Message) []WireMessage {
	out := make([]WireMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, WireMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		})
	}
	return out
}

// WireMessage is the subset of a message sent to chat backends.
type WireMessage struct {
	Role       string            `json:"role"`
	Content    domain.Content    `json:"content"`
	ToolCalls  []domain.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Name       string            `json:"name,omitempty"`
}
