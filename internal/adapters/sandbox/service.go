// Package sandbox exposes an environment over gRPC and provides the
// matching remote client. Messages are google.protobuf.Struct values so the
// service needs no generated code.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yudai-dev/yudai/internal/domain"
)

const ServiceName = "yudai.sandbox.v1.Sandbox"

const (
	executeMethod  = "/" + ServiceName + "/Execute"
	describeMethod = "/" + ServiceName + "/Describe"
)

// SandboxServer is the server side contract of the service.
type SandboxServer interface {
	Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Describe(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SandboxServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "Describe", Handler: describeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "yudai/sandbox/v1/sandbox.proto",
}

// Register attaches srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv SandboxServer) {
	s.RegisterService(&serviceDesc, srv)
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SandboxServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SandboxServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func describeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SandboxServer).Describe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: describeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SandboxServer).Describe(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// toStruct converts any JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return structpb.NewStruct(m)
}

// fromStruct decodes a Struct into v.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}

type executeRequest struct {
	Tool           string  `json:"tool,omitempty"`
	Command        string  `json:"command"`
	Cwd            string  `json:"cwd,omitempty"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

type description struct {
	TemplateVars map[string]any          `json:"template_vars"`
	Tools        []domain.ToolDescriptor `json:"tools"`
	Config       map[string]any          `json:"config"`
}
