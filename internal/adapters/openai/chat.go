package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yudai-dev/yudai/internal/actions"
	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/model"
)

// Mode selects how actions are carried in a chat response.
type Mode string

const (
	// ModeToolCall expects structured bash tool calls.
	ModeToolCall Mode = "toolcall"
	// ModeText expects a single fenced command block in the content.
	ModeText Mode = "text"
)

type chatRequest struct {
	Model    string                  `json:"model"`
	Messages []model.WireMessage     `json:"messages"`
	Tools    []domain.ToolDescriptor `json:"tools,omitempty"`
	Usage    *usageOption            `json:"usage,omitempty"`
}

type usageOption struct {
	Include bool `json:"include"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role      string            `json:"role"`
			Content   *string           `json:"content"`
			ToolCalls []domain.ToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *model.Usage `json:"usage"`
}

// ChatModel talks to a /chat/completions endpoint.
type ChatModel struct {
	*model.Base
	mode   Mode
	client *client
	retry  model.RetryPolicy
}

func NewChatModel(cfg model.Config, mode Mode, opts Options) (*ChatModel, error) {
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if mode == "" {
		mode = ModeToolCall
	}
	if mode != ModeToolCall && mode != ModeText {
		return nil, fmt.Errorf("unknown chat mode %q", mode)
	}
	base, err := model.NewBase(cfg, opts.Tracker, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &ChatModel{
		Base:   base,
		mode:   mode,
		client: newClient(cfg.BaseURL, opts.APIKey, opts.Client),
		retry:  retryPolicy(opts),
	}, nil
}

func (m *ChatModel) Query(ctx context.Context, messages []domain.Message, tools []domain.ToolDescriptor) (domain.Response, error) {
	req := chatRequest{
		Model:    m.Config.ModelName,
		Messages: model.PrepareMessages(messages),
		Usage:    &usageOption{Include: true},
	}
	if m.mode == ModeToolCall {
		if len(tools) == 0 {
			tools = []domain.ToolDescriptor{actions.BashTool()}
		}
		req.Tools = tools
	}
	payload, err := buildPayload(req, m.Config.ModelKwargs)
	if err != nil {
		return domain.Response{}, err
	}

	var parsed chatResponse
	raw, err := model.Do(ctx, m.retry, func(ctx context.Context) (json.RawMessage, error) {
		body, err := m.client.post(ctx, "/chat/completions", payload)
		if err != nil {
			return nil, err
		}
		parsed = chatResponse{}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, &model.APIError{Kind: model.KindInvalidResponse, Message: "decoding chat response", Err: err}
		}
		if len(parsed.Choices) == 0 {
			return nil, &model.APIError{Kind: model.KindInvalidResponse, Message: "response has no choices"}
		}
		return body, nil
	})
	if err != nil {
		return domain.Response{}, fmt.Errorf("querying %s: %w", m.Config.ModelName, err)
	}

	cost, err := m.Cost(parsed.Usage)
	if err != nil {
		return domain.Response{}, err
	}

	choice := parsed.Choices[0].Message
	resp := domain.Response{
		ToolCalls: choice.ToolCalls,
		Cost:      cost,
		Model:     m.Config.ModelName,
		Raw:       raw,
	}
	if choice.Content != nil {
		resp.Content = *choice.Content
	}

	var acts []domain.Action
	if m.mode == ModeToolCall {
		acts, err = actions.ParseToolCalls(choice.ToolCalls, m.Config.FormatErrorTemplate, m.ConfigVars())
	} else {
		acts, err = actions.ParseText(resp.Content, m.ActionRegex(), m.Config.FormatErrorTemplate, m.ConfigVars())
	}
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

func (m *ChatModel) FormatObservationMessages(outputs []domain.Observation, msg *domain.Message) ([]domain.Message, error) {
	if m.mode == ModeToolCall {
		return actions.FormatToolObservations(outputs, msg, m.Config.ObservationTemplate, m.ConfigVars())
	}
	return actions.FormatTextObservations(outputs, m.Config.ObservationTemplate, m.ConfigVars())
}

func (m *ChatModel) Serialize() map[string]any {
	out := m.Base.Serialize()
	out["mode"] = string(m.mode)
	return out
}
