package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/ports"
)

// Server serves one environment. Calls are serialized because an
// environment runs a single action at a time.
type Server struct {
	env    ports.Environment
	logger *slog.Logger
	sem    chan struct{}
}

func NewServer(env ports.Environment, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{env: env, logger: logger, sem: make(chan struct{}, 1)}
}

func (s *Server) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req executeRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Command == "" {
		return nil, status.Error(codes.InvalidArgument, "command is required")
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
	defer func() { <-s.sem }()

	opts := ports.ExecOptions{
		Cwd:     req.Cwd,
		Timeout: time.Duration(req.TimeoutSeconds * float64(time.Second)),
	}
	tool := req.Tool
	if tool == "" {
		tool = "bash"
	}
	s.logger.Debug("sandbox execute", "command", req.Command, "cwd", req.Cwd)
	obs, err := s.env.Execute(ctx, domain.Action{Tool: tool, Command: req.Command}, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		s.logger.Error("sandbox execute failed", "command", req.Command, "error", err)
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := toStruct(obs)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) Describe(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	out, err := toStruct(description{
		TemplateVars: s.env.TemplateVars(),
		Tools:        s.env.Tools(),
		Config:       s.env.Serialize(),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
