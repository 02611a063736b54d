package ports

import (
	"context"
	"time"

	"github.com/yudai-dev/yudai/internal/domain"
)

type ExecOptions struct {
	Cwd     string
	Timeout time.Duration
}

// Environment runs one action at a time. A command that fails, times out
// or cannot be started is reported through the returned Observation; the
// error return is reserved for cancellation of ctx and for transport
// failures of remote environments.
type Environment interface {
	Execute(ctx context.Context, action domain.Action, opts ExecOptions) (domain.Observation, error)
	TemplateVars() map[string]any
	Tools() []domain.ToolDescriptor
	Serialize() map[string]any
}
