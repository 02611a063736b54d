// Package scripted provides a model that replays a fixed list of outputs.
// It backs tests and dry runs that must not reach a real backend.
package scripted

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yudai-dev/yudai/internal/actions"
	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/model"
)

const (
	sleepDirective   = "/sleep"
	warningDirective = "/warning"
)

// ErrExhausted is returned once every scripted output has been served.
var ErrExhausted = errors.New("scripted model has no outputs left")

type Config struct {
	model.Config
	Outputs     []string `json:"outputs"`
	CostPerCall float64  `json:"cost_per_call"`
	// ToolCalls makes responses carry structured bash tool calls built from
	// the fenced command instead of plain text actions.
	ToolCalls bool `json:"tool_calls"`
}

// Model returns Outputs in order. An output starting with /sleep<seconds> or
// /warning<text> is acted upon and skipped without counting as a call.
type Model struct {
	*model.Base
	cfg Config

	mu   sync.Mutex
	next int
}

func New(cfg Config, tracker *domain.Tracker, logger *slog.Logger) (*Model, error) {
	if cfg.ModelName == "" {
		cfg.ModelName = "deterministic"
	}
	if cfg.CostPerCall == 0 {
		cfg.CostPerCall = 1.0
	}
	base, err := model.NewBase(cfg.Config, tracker, logger)
	if err != nil {
		return nil, err
	}
	cfg.Config = base.Config
	return &Model{Base: base, cfg: cfg}, nil
}

func (m *Model) pop() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next >= len(m.cfg.Outputs) {
		return "", ErrExhausted
	}
	out := m.cfg.Outputs[m.next]
	m.next++
	return out, nil
}

func (m *Model) Query(ctx context.Context, _ []domain.Message, _ []domain.ToolDescriptor) (domain.Response, error) {
	for {
		output, err := m.pop()
		if err != nil {
			return domain.Response{}, err
		}
		if arg, ok := strings.CutPrefix(output, sleepDirective); ok {
			secs, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
			if err != nil {
				return domain.Response{}, fmt.Errorf("parsing sleep directive %q: %w", output, err)
			}
			select {
			case <-time.After(time.Duration(secs * float64(time.Second))):
			case <-ctx.Done():
				return domain.Response{}, ctx.Err()
			}
			continue
		}
		if arg, ok := strings.CutPrefix(output, warningDirective); ok {
			m.Logger.Warn(strings.TrimSpace(arg))
			continue
		}
		return m.respond(output)
	}
}

func (m *Model) respond(output string) (domain.Response, error) {
	cost := m.cfg.CostPerCall
	resp := domain.Response{Content: output, Cost: cost, Model: m.Config.ModelName}
	acts, err := actions.ParseText(output, m.ActionRegex(), m.Config.FormatErrorTemplate, m.ConfigVars())
	m.Record(cost)
	if err != nil {
		var fe *domain.FormatError
		if errors.As(err, &fe) {
			fe.Cost = cost
			fe.Response = &resp
		}
		return resp, err
	}
	if m.cfg.ToolCalls {
		for i := range acts {
			call := actions.BuildToolCall(acts[i].Command, "")
			acts[i].ToolCallID = call.ID
			resp.ToolCalls = append(resp.ToolCalls, call)
		}
	}
	resp.Actions = acts
	return resp, nil
}

func (m *Model) FormatObservationMessages(outputs []domain.Observation, msg *domain.Message) ([]domain.Message, error) {
	if m.cfg.ToolCalls {
		return actions.FormatToolObservations(outputs, msg, m.Config.ObservationTemplate, m.ConfigVars())
	}
	return actions.FormatTextObservations(outputs, m.Config.ObservationTemplate, m.ConfigVars())
}

func (m *Model) Serialize() map[string]any {
	out := m.Base.Serialize()
	out["outputs"] = m.cfg.Outputs
	out["cost_per_call"] = m.cfg.CostPerCall
	out["tool_calls"] = m.cfg.ToolCalls
	return out
}

func (m *Model) TemplateVars() map[string]any {
	vars := m.Base.TemplateVars()
	vars["cost_per_call"] = m.cfg.CostPerCall
	return vars
}
