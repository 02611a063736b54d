// Package roulette provides meta-models that route each query to one of
// several sub-models.
package roulette

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/ports"
)

// Selector picks the index of the sub-model that serves the next call,
// given the number of calls completed so far.
type Selector func(calls int) int

// Model proxies every call to the sub-model chosen by its selector.
// Formatting of observations goes to whichever sub-model served the most
// recent query; plain messages are formatted by the first sub-model.
type Model struct {
	name   string
	models []ports.Model
	pick   Selector
	extra  map[string]any

	mu   sync.Mutex
	last ports.Model
}

func newModel(name string, models []ports.Model, pick Selector) (*Model, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("%s model needs at least one sub-model", name)
	}
	return &Model{name: name, models: models, pick: pick, extra: map[string]any{}}, nil
}

// NewRoulette selects a sub-model uniformly at random. A nil rng uses the
// global source.
func NewRoulette(models []ports.Model, rng *rand.Rand) (*Model, error) {
	intn := rand.IntN
	if rng != nil {
		intn = rng.IntN
	}
	return newModel("roulette", models, func(int) int { return intn(len(models)) })
}

// NewInterleaving cycles through sequence, a list of sub-model indices.
// An empty sequence alternates over all sub-models in order.
func NewInterleaving(models []ports.Model, sequence []int) (*Model, error) {
	for _, i := range sequence {
		if i < 0 || i >= len(models) {
			return nil, fmt.Errorf("interleaving sequence index %d out of range [0, %d)", i, len(models))
		}
	}
	m, err := newModel("interleaving", models, func(calls int) int {
		if len(sequence) == 0 {
			return calls % len(models)
		}
		return sequence[calls%len(sequence)]
	})
	if err != nil {
		return nil, err
	}
	m.extra["sequence"] = sequence
	return m, nil
}

func (m *Model) Query(ctx context.Context, messages []domain.Message, tools []domain.ToolDescriptor) (domain.Response, error) {
	_, calls := m.Stats()
	sub := m.models[m.pick(calls)]
	m.mu.Lock()
	m.last = sub
	m.mu.Unlock()

	resp, err := sub.Query(ctx, messages, tools)
	if resp.Model == "" {
		if name, ok := sub.Serialize()["model_name"].(string); ok {
			resp.Model = name
		}
	}
	return resp, err
}

func (m *Model) FormatMessage(role domain.Role, content string) domain.Message {
	return m.models[0].FormatMessage(role, content)
}

func (m *Model) FormatObservationMessages(outputs []domain.Observation, msg *domain.Message) ([]domain.Message, error) {
	m.mu.Lock()
	sub := m.last
	m.mu.Unlock()
	if sub == nil {
		sub = m.models[0]
	}
	return sub.FormatObservationMessages(outputs, msg)
}

// Stats sums cost and calls over every sub-model.
func (m *Model) Stats() (float64, int) {
	var cost float64
	var calls int
	for _, sub := range m.models {
		c, n := sub.Stats()
		cost += c
		calls += n
	}
	return cost, calls
}

func (m *Model) TemplateVars() map[string]any {
	vars := m.Serialize()
	cost, calls := m.Stats()
	vars["n_model_calls"] = calls
	vars["model_cost"] = cost
	return vars
}

func (m *Model) Serialize() map[string]any {
	subs := make([]map[string]any, 0, len(m.models))
	for _, sub := range m.models {
		subs = append(subs, sub.Serialize())
	}
	out := map[string]any{"model_name": m.name, "models": subs}
	for k, v := range m.extra {
		out[k] = v
	}
	return out
}
