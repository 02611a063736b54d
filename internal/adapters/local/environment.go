// Package local runs actions as subprocesses on the host.
package local

import (
	"context"
	"maps"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/yudai-dev/yudai/internal/actions"
	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/ports"
	"github.com/yudai-dev/yudai/internal/shell"
)

type Config struct {
	Cwd     string
	Env     map[string]string
	Timeout time.Duration
	// Shell interprets the command string; defaults to "sh".
	Shell string
}

type Environment struct {
	cfg Config
}

func New(cfg Config) *Environment {
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Environment{cfg: cfg}
}

func (e *Environment) Execute(ctx context.Context, action domain.Action, opts ports.ExecOptions) (domain.Observation, error) {
	cwd := opts.Cwd
	if cwd == "" {
		cwd = e.cfg.Cwd
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = e.cfg.Timeout
	}
	env := os.Environ()
	for k, v := range e.cfg.Env {
		env = append(env, k+"="+v)
	}
	res, err := shell.Run(ctx, shell.Command{
		Name:    e.cfg.Shell,
		Args:    []string{"-c", action.Command},
		Dir:     cwd,
		Env:     env,
		Timeout: timeout,
	})
	if err != nil {
		return domain.Observation{}, err
	}
	return res.Observe(action.Command), nil
}

// TemplateVars exposes the configuration, host platform details and the
// process environment.
func (e *Environment) TemplateVars() map[string]any {
	vars := map[string]any{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	host, _ := os.Hostname()
	vars["system"] = runtime.GOOS
	vars["machine"] = runtime.GOARCH
	vars["node"] = host
	maps.Copy(vars, e.Serialize())
	return vars
}

func (e *Environment) Tools() []domain.ToolDescriptor {
	return []domain.ToolDescriptor{actions.BashTool()}
}

func (e *Environment) Serialize() map[string]any {
	env := map[string]any{}
	for k, v := range e.cfg.Env {
		env[k] = v
	}
	return map[string]any{
		"cwd":     e.cfg.Cwd,
		"env":     env,
		"timeout": e.cfg.Timeout.Seconds(),
		"shell":   e.cfg.Shell,
	}
}
