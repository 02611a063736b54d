package local_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yudai-dev/yudai/internal/adapters/local"
	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/ports"
)

func bash(cmd string) domain.Action {
	return domain.Action{Tool: "bash", Command: cmd}
}

func TestEnvironment_ExecuteInCwdWithEnv(t *testing.T) {
	dir := t.TempDir()
	env := local.New(local.Config{Cwd: dir, Env: map[string]string{"GREETING": "hola"}})

	obs, err := env.Execute(context.Background(), bash("pwd; echo $GREETING"), ports.ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, obs.ReturnCode)
	assert.Contains(t, obs.Output, dir)
	assert.Contains(t, obs.Output, "hola")
	assert.Equal(t, "pwd; echo $GREETING", obs.Command)
}

func TestEnvironment_NonZeroExitIsObservation(t *testing.T) {
	env := local.New(local.Config{})
	obs, err := env.Execute(context.Background(), bash("no_such_binary_xyz"), ports.ExecOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, 0, obs.ReturnCode)
	assert.Contains(t, obs.Output, "no_such_binary_xyz")
}

func TestEnvironment_TimeoutPartialCapture(t *testing.T) {
	env := local.New(local.Config{})
	obs, err := env.Execute(context.Background(), bash("echo 999; sleep 5"), ports.ExecOptions{Timeout: 300 * time.Millisecond})
	require.NoError(t, err)
	assert.Contains(t, obs.Output, "999")
	assert.Equal(t, domain.TimeoutReturnCode, obs.ReturnCode)
	assert.True(t, obs.TimedOut)
}

func TestEnvironment_OptionsOverrideCwd(t *testing.T) {
	dir := t.TempDir()
	env := local.New(local.Config{Cwd: "/"})
	obs, err := env.Execute(context.Background(), bash("pwd"), ports.ExecOptions{Cwd: dir})
	require.NoError(t, err)
	assert.Contains(t, obs.Output, dir)
}

func TestEnvironment_TemplateVarsAndTools(t *testing.T) {
	t.Setenv("YUDAI_TEST_VAR", "present")
	env := local.New(local.Config{Cwd: "/work", Timeout: 10 * time.Second})
	vars := env.TemplateVars()
	assert.Equal(t, "present", vars["YUDAI_TEST_VAR"])
	assert.Equal(t, "/work", vars["cwd"])
	assert.Equal(t, 10.0, vars["timeout"])
	assert.NotEmpty(t, vars["system"])

	tools := env.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "bash", tools[0].Function.Name)
}
