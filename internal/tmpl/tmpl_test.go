package tmpl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yudai-dev/yudai/internal/tmpl"
)

func TestRender_MergesLaterWins(t *testing.T) {
	out, err := tmpl.Render("{{.task}} on {{.os}}",
		map[string]any{"task": "a", "os": "linux"},
		map[string]any{"task": "b"},
	)
	require.NoError(t, err)
	assert.Equal(t, "b on linux", out)
}

func TestRender_MissingVariableFails(t *testing.T) {
	_, err := tmpl.Render("{{.nope}}", map[string]any{"task": "x"})
	require.Error(t, err)
}

func TestRender_Funcs(t *testing.T) {
	out, err := tmpl.Render(`{{len .actions}} {{default "none" .err}}`, map[string]any{
		"actions": []string{"a", "b"},
		"err":     "",
	})
	require.NoError(t, err)
	assert.Equal(t, "2 none", out)
}

func TestToMap(t *testing.T) {
	type cfg struct {
		StepLimit int     `json:"step_limit"`
		CostLimit float64 `json:"cost_limit"`
	}
	m := tmpl.ToMap(cfg{StepLimit: 3, CostLimit: 1.5})
	assert.Equal(t, float64(3), m["step_limit"])
	assert.Equal(t, 1.5, m["cost_limit"])
}
