package actions_test

import (
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yudai-dev/yudai/internal/actions"
	"github.com/yudai-dev/yudai/internal/domain"
)

const errTemplate = "{{.error}} ({{len .actions}})"

func defaultRegex(t *testing.T) *regexp.Regexp {
	t.Helper()
	re, err := actions.CompileActionRegex(actions.DefaultActionRegex)
	require.NoError(t, err)
	return re
}

func requireFormatError(t *testing.T, err error) *domain.FormatError {
	t.Helper()
	var fe *domain.FormatError
	require.True(t, errors.As(err, &fe), "expected FormatError, got %v", err)
	return fe
}

func TestParseText_SingleBlock(t *testing.T) {
	acts, err := actions.ParseText("Let me look.\n```bash\n  ls -la  \n```\n", defaultRegex(t), errTemplate, nil)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "ls -la", acts[0].Command)
	assert.Equal(t, "bash", acts[0].Tool)
}

func TestParseText_MultilineCommand(t *testing.T) {
	acts, err := actions.ParseText("```sh\ncd /tmp\nls\n```", defaultRegex(t), errTemplate, nil)
	require.NoError(t, err)
	assert.Equal(t, "cd /tmp\nls", acts[0].Command)
}

func TestParseText_WrongCount(t *testing.T) {
	re := defaultRegex(t)

	_, err := actions.ParseText("no code here", re, errTemplate, nil)
	fe := requireFormatError(t, err)
	assert.Equal(t, "Expected exactly one action, found 0. (0)", fe.Message)

	_, err = actions.ParseText("```bash\na\n```\n```bash\nb\n```", re, errTemplate, nil)
	fe = requireFormatError(t, err)
	assert.Equal(t, "Expected exactly one action, found 2. (2)", fe.Message)
}

func TestParseText_TemplateSeesMatchedFragments(t *testing.T) {
	_, err := actions.ParseText("```bash\na\n```\n```bash\nb\n```", defaultRegex(t), `{{join .actions ","}}`, nil)
	fe := requireFormatError(t, err)
	assert.Equal(t, "a,b", fe.Message)
}

func TestParseText_DefaultTemplateRenders(t *testing.T) {
	_, err := actions.ParseText("", defaultRegex(t), actions.DefaultFormatErrorTemplate, nil)
	fe := requireFormatError(t, err)
	assert.Contains(t, fe.Message, "found 0 actions")
}

func TestCompileActionRegex_RequiresOneGroup(t *testing.T) {
	_, err := actions.CompileActionRegex("```bash(.*)(x)```")
	require.Error(t, err)
	_, err = actions.CompileActionRegex("(")
	require.Error(t, err)
}

func TestParseToolCalls_SingleCall(t *testing.T) {
	acts, err := actions.ParseToolCalls([]domain.ToolCall{actions.BuildToolCall("echo one", "call_1")}, errTemplate, nil)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, domain.Action{Tool: "bash", Command: "echo one", ToolCallID: "call_1"}, acts[0])
}

func TestParseToolCalls_ObjectArgumentsAreTrimmed(t *testing.T) {
	calls := []domain.ToolCall{{ID: "call_2", Type: "function", Function: domain.FunctionCall{
		Name: "bash", Arguments: json.RawMessage(`{"command":"  ls -la \n"}`),
	}}}
	acts, err := actions.ParseToolCalls(calls, errTemplate, nil)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "ls -la", acts[0].Command)
	assert.Equal(t, "call_2", acts[0].ToolCallID)
}

func TestParseToolCalls_RejectsMultipleCalls(t *testing.T) {
	calls := []domain.ToolCall{
		actions.BuildToolCall("ls", "a"),
		actions.BuildToolCall("pwd", "b"),
	}
	acts, err := actions.ParseToolCalls(calls, errTemplate, nil)
	assert.Nil(t, acts)
	fe := requireFormatError(t, err)
	assert.Equal(t, "Expected exactly one tool call, found 2. (2)", fe.Message)
}

func TestParseToolCalls_Failures(t *testing.T) {
	cases := map[string]struct {
		calls []domain.ToolCall
		want  string
	}{
		"none": {nil, "No tool calls found. (0)"},
		"unknown tool": {
			[]domain.ToolCall{{ID: "c", Function: domain.FunctionCall{Name: "python", Arguments: json.RawMessage(`{}`)}}},
			"Unexpected tool 'python', expected 'bash'. (0)",
		},
		"missing command": {
			[]domain.ToolCall{{ID: "c", Function: domain.FunctionCall{Name: "bash", Arguments: json.RawMessage(`{"cmd":"ls"}`)}}},
			"Tool call missing required 'command' argument. (0)",
		},
		"non-string command": {
			[]domain.ToolCall{{ID: "c", Function: domain.FunctionCall{Name: "bash", Arguments: json.RawMessage(`{"command":3}`)}}},
			"Tool call missing required 'command' argument. (0)",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := actions.ParseToolCalls(tc.calls, errTemplate, nil)
			fe := requireFormatError(t, err)
			assert.Equal(t, tc.want, fe.Message)
		})
	}
}

func TestParseToolCalls_BadJSON(t *testing.T) {
	calls := []domain.ToolCall{{ID: "c", Function: domain.FunctionCall{Name: "bash", Arguments: json.RawMessage(`"{not json"`)}}}
	_, err := actions.ParseToolCalls(calls, errTemplate, nil)
	fe := requireFormatError(t, err)
	assert.Contains(t, fe.Message, "Could not parse tool arguments JSON")
}

func TestBuildToolCall_GeneratesID(t *testing.T) {
	call := actions.BuildToolCall("ls", "")
	assert.Regexp(t, `^call_[0-9a-f]{32}$`, call.ID)
}
