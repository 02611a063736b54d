package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPart is one element of structured multimodal content.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// Content is either a plain string or a list of parts. It encodes as a
// JSON string when Parts is nil and as an array otherwise.
type Content struct {
	Text  string
	Parts []ContentPart
}

func TextContent(s string) Content { return Content{Text: s} }

// String flattens the content to text, joining text parts with newlines.
func (c Content) String() string {
	if c.Parts == nil {
		return c.Text
	}
	var texts []string
	for _, p := range c.Parts {
		if p.Type == "text" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case len(data) > 0 && data[0] == '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = Content{Parts: parts}
		return nil
	default:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	}
}

// FunctionCall carries the tool name and its arguments. Arguments may hold
// either a JSON object or a JSON string containing an encoded object.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolDescriptor advertises a callable tool to a structured backend.
type ToolDescriptor struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// Action is a validated command extracted from a model response.
type Action struct {
	Tool       string `json:"tool"`
	Command    string `json:"command"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Message is one entry of a conversation. Messages are append-only once
// they enter an agent's history.
type Message struct {
	Role       Role           `json:"role"`
	Content    Content        `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Actions    []Action       `json:"actions,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// TimeoutReturnCode marks an observation whose command hit its deadline.
const TimeoutReturnCode = 124

// ParsedOutput is a structured digest of a domain tool's output.
type ParsedOutput struct {
	Tool    string         `json:"tool"`
	Summary string         `json:"summary"`
	Details map[string]any `json:"details,omitempty"`
}

type Observation struct {
	Output     string        `json:"output"`
	ReturnCode int           `json:"returncode"`
	Command    string        `json:"command"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Exception  string        `json:"exception_info,omitempty"`
	RawOutput  string        `json:"raw_output,omitempty"`
	Parsed     *ParsedOutput `json:"parsed,omitempty"`
}

// Response is the normalized result of one model query.
type Response struct {
	Content   string
	Actions   []Action
	ToolCalls []ToolCall
	Cost      float64
	Model     string
	Raw       json.RawMessage
	Extra     map[string]any
}
