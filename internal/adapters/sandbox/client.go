package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/ports"
)

type Config struct {
	// Target is a gRPC address such as "unix:///tmp/yudai.sock" or
	// "localhost:7443".
	Target  string
	Cwd     string
	Timeout time.Duration
}

// Environment runs actions on a remote sandbox daemon.
type Environment struct {
	cfg    Config
	conn   *grpc.ClientConn
	logger *slog.Logger
	desc   description
}

// Dial connects to the daemon and fetches its description. Extra dial
// options are applied after the default insecure credentials.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger, opts ...grpc.DialOption) (*Environment, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(cfg.Target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to sandbox %s: %w", cfg.Target, err)
	}
	e := &Environment{cfg: cfg, conn: conn, logger: logger}

	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, describeMethod, &structpb.Struct{}, out); err != nil {
		conn.Close()
		return nil, fmt.Errorf("describing sandbox %s: %w", cfg.Target, err)
	}
	if err := fromStruct(out, &e.desc); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Info("connected to sandbox", "target", cfg.Target)
	return e, nil
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
	req, err := toStruct(executeRequest{
		Tool:           action.Tool,
		Command:        action.Command,
		Cwd:            cwd,
		TimeoutSeconds: timeout.Seconds(),
	})
	if err != nil {
		return domain.Observation{}, err
	}
	out := new(structpb.Struct)
	if err := e.conn.Invoke(ctx, executeMethod, req, out); err != nil {
		if ctx.Err() != nil {
			return domain.Observation{}, ctx.Err()
		}
		if status.Code(err) == codes.Canceled {
			return domain.Observation{}, context.Canceled
		}
		return domain.Observation{}, fmt.Errorf("sandbox execute: %w", err)
	}
	var obs domain.Observation
	if err := fromStruct(out, &obs); err != nil {
		return domain.Observation{}, err
	}
	return obs, nil
}

func (e *Environment) TemplateVars() map[string]any {
	vars := maps.Clone(e.desc.TemplateVars)
	if vars == nil {
		vars = map[string]any{}
	}
	vars["sandbox_target"] = e.cfg.Target
	return vars
}

func (e *Environment) Tools() []domain.ToolDescriptor {
	return e.desc.Tools
}

func (e *Environment) Serialize() map[string]any {
	return map[string]any{
		"target":  e.cfg.Target,
		"cwd":     e.cfg.Cwd,
		"timeout": e.cfg.Timeout.Seconds(),
		"remote":  e.desc.Config,
	}
}

func (e *Environment) Close() error {
	return e.conn.Close()
}
