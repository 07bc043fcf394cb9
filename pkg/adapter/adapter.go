package adapter

import (
	"context"
	"errors"
	"fmt"
)

// ErrOracleUnavailable marks transport-level failures talking to a completion provider.
var ErrOracleUnavailable = errors.New("oracle unavailable")

// Adapter defines the interface for LLM provider adapters.
type Adapter interface {
	// Complete sends a system/user prompt pair to the model and returns its text.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

// Oracle is the completion surface consumed by generators, the planner and the bug fixer.
type Oracle interface {
	Complete(ctx context.Context, system, prompt string, structured bool) (string, error)
}

// Request is a single completion request.
type Request struct {
	Model      string
	System     string
	Prompt     string
	Structured bool
	MaxTokens  int
}

// Bind fixes an adapter to one model and exposes it as an Oracle.
func Bind(a Adapter, model string) Oracle {
	return &boundOracle{adapter: a, model: model}
}

type boundOracle struct {
	adapter Adapter
	model   string
}

func (o *boundOracle) Complete(ctx context.Context, system, prompt string, structured bool) (string, error) {
	resp, err := o.adapter.Complete(ctx, Request{
		Model:      o.model,
		System:     system,
		Prompt:     prompt,
		Structured: structured,
	})
	if err != nil {
		return "", Unavailable(o.adapter.Name(), err)
	}
	return resp.Text, nil
}

// Unavailable wraps a provider error so callers can match ErrOracleUnavailable.
func Unavailable(name string, err error) error {
	if err == nil || errors.Is(err, ErrOracleUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrOracleUnavailable, name, err)
}

const defaultMaxTokens = 8192

func maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}
