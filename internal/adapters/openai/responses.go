package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/yudai-dev/yudai/internal/actions"
	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/model"
)

type responsesInput struct {
	Role    string         `json:"role"`
	Content domain.Content `json:"content"`
}

type responsesRequest struct {
	Model              string           `json:"model"`
	Input              []responsesInput `json:"input"`
	PreviousResponseID string           `json:"previous_response_id,omitempty"`
}

type responsesResponse struct {
	ID         string `json:"id"`
	OutputText string `json:"output_text"`
	Output     []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage *model.Usage `json:"usage"`
}

func (r *responsesResponse) text() string {
	if r.OutputText != "" {
		return r.OutputText
	}
	var parts []string
	for _, item := range r.Output {
		for _, c := range item.Content {
			if c.Text != "" {
				parts = append(parts, c.Text)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// ResponsesModel talks to a /responses endpoint. The backend keeps the
// conversation: after the first call only the newest message is sent,
// chained to the previous response id. Actions are fenced text blocks.
type ResponsesModel struct {
	*model.Base
	client *client
	retry  model.RetryPolicy

	mu         sync.Mutex
	previousID string
}

func NewResponsesModel(cfg model.Config, opts Options) (*ResponsesModel, error) {
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	base, err := model.NewBase(cfg, opts.Tracker, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &ResponsesModel{
		Base:   base,
		client: newClient(cfg.BaseURL, opts.APIKey, opts.Client),
		retry:  retryPolicy(opts),
	}, nil
}

// PreviousResponseID returns the handle sent with the next query.
func (m *ResponsesModel) PreviousResponseID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previousID
}

func (m *ResponsesModel) Query(ctx context.Context, messages []domain.Message, _ []domain.ToolDescriptor) (domain.Response, error) {
	m.mu.Lock()
	prev := m.previousID
	m.mu.Unlock()

	input := make([]responsesInput, 0, len(messages))
	for _, msg := range messages {
		input = append(input, responsesInput{Role: string(msg.Role), Content: msg.Content})
	}
	if prev != "" && len(input) > 0 {
		input = input[len(input)-1:]
	}
	payload, err := buildPayload(responsesRequest{
		Model:              m.Config.ModelName,
		Input:              input,
		PreviousResponseID: prev,
	}, m.Config.ModelKwargs)
	if err != nil {
		return domain.Response{}, err
	}

	var parsed responsesResponse
	raw, err := model.Do(ctx, m.retry, func(ctx context.Context) (json.RawMessage, error) {
		body, err := m.client.post(ctx, "/responses", payload)
		if err != nil {
			return nil, err
		}
		parsed = responsesResponse{}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, &model.APIError{Kind: model.KindInvalidResponse, Message: "decoding responses payload", Err: err}
		}
		return body, nil
	})
	if err != nil {
		return domain.Response{}, fmt.Errorf("querying %s: %w", m.Config.ModelName, err)
	}
	if parsed.ID != "" {
		m.mu.Lock()
		m.previousID = parsed.ID
		m.mu.Unlock()
	}

	cost, err := m.Cost(parsed.Usage)
	if err != nil {
		return domain.Response{}, err
	}
	resp := domain.Response{
		Content: parsed.text(),
		Cost:    cost,
		Model:   m.Config.ModelName,
		Raw:     raw,
		Extra:   map[string]any{"response_id": parsed.ID},
	}
	acts, err := actions.ParseText(resp.Content, m.ActionRegex(), m.Config.FormatErrorTemplate, m.ConfigVars())
	m.Record(cost)
	if err != nil {
		var fe *domain.FormatError
		if errors.As(err, &fe) {
			fe.Cost = cost
			fe.Response = &resp
		}
		return resp, err
	}
	resp.Actions = acts
	return resp, nil
}

func (m *ResponsesModel) FormatObservationMessages(outputs []domain.Observation, _ *domain.Message) ([]domain.Message, error) {
	return actions.FormatTextObservations(outputs, m.Config.ObservationTemplate, m.ConfigVars())
}
