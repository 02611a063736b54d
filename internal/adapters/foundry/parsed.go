package foundry

import (
	"context"
	"io"
	"maps"

	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/ports"
)

// Parser turns a command's observation into a digest, or nil to leave it
// untouched.
type Parser interface {
	Parse(command string, obs domain.Observation) *domain.ParsedOutput
}

// ParsedEnvironment replaces the output of recognized commands with a
// short summary. The original text is kept in RawOutput and the structured
// digest in Parsed.
type ParsedEnvironment struct {
	ports.Environment
	parser Parser
}

// NewParsed wraps inner. A nil parser uses CommandParser.
func NewParsed(inner ports.Environment, parser Parser) *ParsedEnvironment {
	if parser == nil {
		parser = CommandParser{}
	}
	return &ParsedEnvironment{Environment: inner, parser: parser}
}

func (p *ParsedEnvironment) Execute(ctx context.Context, action domain.Action, opts ports.ExecOptions) (domain.Observation, error) {
	obs, err := p.Environment.Execute(ctx, action, opts)
	if err != nil {
		return obs, err
	}
	digest := p.parser.Parse(action.Command, obs)
	if digest == nil {
		return obs, nil
	}
	if obs.RawOutput == "" {
		obs.RawOutput = obs.Output
	}
	obs.Parsed = digest
	if digest.Summary != "" {
		obs.Output = digest.Summary
	}
	return obs, nil
}

func (p *ParsedEnvironment) Serialize() map[string]any {
	out := maps.Clone(p.Environment.Serialize())
	if out == nil {
		out = map[string]any{}
	}
	out["parsed_output"] = true
	return out
}

func (p *ParsedEnvironment) Close() error {
	if c, ok := p.Environment.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
