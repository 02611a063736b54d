// Package actions extracts shell actions from model responses and turns
// execution results back into conversation messages. Every turn must
// carry exactly one action; anything else is reported as a
// *domain.FormatError with guidance rendered from a template.
package actions

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/tmpl"
)

const BashToolName = "bash"

// DefaultActionRegex matches one fenced bash block.
const DefaultActionRegex = "```(?:bash|sh)\\s*\\n(.*?)\\n```"

const DefaultFormatErrorTemplate = `Format error:

<error>
{{.error}}
</error>

Please always provide EXACTLY ONE action, found {{len .actions}} actions.
If you have completed your assignment, run the following command: echo COMPLETE_TASK_AND_SUBMIT_FINAL_OUTPUT`

const DefaultObservationTemplate = `<returncode>{{.output.returncode}}</returncode>
<output>
{{.output.output}}</output>`

// BashTool describes the single command-running tool.
func BashTool() domain.ToolDescriptor {
	return domain.ToolDescriptor{
		Type: "function",
		Function: domain.FunctionSpec{
			Name:        BashToolName,
			Description: "Execute a bash command in the agent environment.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{"type": "string", "description": "The bash command to run."},
				},
				"required": []string{"command"},
			},
		},
	}
}

// CompileActionRegex compiles pattern so that '.' also matches newlines and
// checks it has exactly one capturing group.
func CompileActionRegex(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?s)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling action regex: %w", err)
	}
	if n := re.NumSubexp(); n != 1 {
		return nil, fmt.Errorf("action regex must have exactly one capturing group, has %d", n)
	}
	return re, nil
}

func formatError(template, reason string, found []string, vars map[string]any) error {
	if found == nil {
		found = []string{}
	}
	msg, err := tmpl.Render(template, vars, map[string]any{"error": reason, "actions": found})
	if err != nil {
		return fmt.Errorf("rendering format error: %w", err)
	}
	return &domain.FormatError{Message: msg}
}

// ParseToolCalls validates structured tool calls. There must be exactly one
// call; it must target the bash tool and carry a string "command" argument.
// Arguments may arrive as a JSON object or as a JSON string holding one.
func ParseToolCalls(calls []domain.ToolCall, formatErrorTemplate string, vars map[string]any) ([]domain.Action, error) {
	if len(calls) == 0 {
		return nil, formatError(formatErrorTemplate, "No tool calls found.", nil, vars)
	}
	if len(calls) > 1 {
		found := make([]string, 0, len(calls))
		for _, call := range calls {
			if command, err := toolCommand(call); err == nil {
				found = append(found, command)
			}
		}
		reason := fmt.Sprintf("Expected exactly one tool call, found %d.", len(calls))
		return nil, formatError(formatErrorTemplate, reason, found, vars)
	}
	call := calls[0]
	command, err := toolCommand(call)
	if err != nil {
		return nil, formatError(formatErrorTemplate, err.Error(), nil, vars)
	}
	return []domain.Action{{
		Tool:       call.Function.Name,
		Command:    command,
		ToolCallID: call.ID,
	}}, nil
}

// toolCommand returns the trimmed command of a bash call, or an error whose
// text is the guidance reason.
func toolCommand(call domain.ToolCall) (string, error) {
	if call.Function.Name != BashToolName {
		return "", fmt.Errorf("Unexpected tool '%s', expected '%s'.", call.Function.Name, BashToolName)
	}
	args, err := decodeArguments(call.Function.Arguments)
	if err != nil {
		return "", fmt.Errorf("Could not parse tool arguments JSON: %v", err)
	}
	var command string
	raw, ok := args["command"]
	if ok {
		ok = json.Unmarshal(raw, &command) == nil
	}
	if !ok {
		return "", errors.New("Tool call missing required 'command' argument.")
	}
	return strings.TrimSpace(command), nil
}

func decodeArguments(raw json.RawMessage) (map[string]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, err
		}
		raw = json.RawMessage(encoded)
	}
	var args map[string]json.RawMessage
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// ParseText extracts the single fenced command from content.
func ParseText(content string, re *regexp.Regexp, formatErrorTemplate string, vars map[string]any) ([]domain.Action, error) {
	matches := re.FindAllStringSubmatch(content, -1)
	found := make([]string, 0, len(matches))
	for _, m := range matches {
		found = append(found, m[1])
	}
	if len(found) != 1 {
		reason := fmt.Sprintf("Expected exactly one action, found %d.", len(found))
		return nil, formatError(formatErrorTemplate, reason, found, vars)
	}
	return []domain.Action{{Tool: BashToolName, Command: strings.TrimSpace(found[0])}}, nil
}

// BuildToolCall wraps command in a bash tool call. An empty id is replaced
// with a fresh one.
func BuildToolCall(command, id string) domain.ToolCall {
	if id == "" {
		id = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	args, _ := json.Marshal(map[string]string{"command": command})
	encoded, _ := json.Marshal(string(args))
	return domain.ToolCall{
		ID:   id,
		Type: "function",
		Function: domain.FunctionCall{
			Name:      BashToolName,
			Arguments: encoded,
		},
	}
}
