package repair

import (
	"context"
	"errors"
	"fmt"

	"github.com/Pond-International/pond-agent/pkg/adapter"
	"github.com/Pond-International/pond-agent/pkg/script"
)

// ErrNoFix means the oracle answered but no usable script could be extracted.
// Callers abandon the repair loop on it regardless of remaining budget.
var ErrNoFix = errors.New("no fix produced")

// Fixer asks an oracle for a corrected version of a failing script.
type Fixer struct {
	oracle adapter.Oracle
	system string
}

// Option configures a Fixer.
type Option func(*Fixer)

// WithSystemPrompt replaces the default repair instructions.
func WithSystemPrompt(system string) Option {
	return func(f *Fixer) {
		f.system = system
	}
}

// NewFixer creates a fixer backed by oracle.
func NewFixer(oracle adapter.Oracle, opts ...Option) *Fixer {
	f := &Fixer{oracle: oracle, system: SystemPrompt}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fix issues one oracle request and returns a replacement script body.
// It returns ErrNoFix when the response holds no script, and an error
// wrapping adapter.ErrOracleUnavailable when the oracle cannot be reached.
func (f *Fixer) Fix(ctx context.Context, source, diagnostic string) (string, error) {
	resp, err := f.oracle.Complete(ctx, f.system, BuildPrompt(source, diagnostic), false)
	if err != nil {
		return "", adapter.Unavailable("repair", err)
	}

	fixed, ok := script.ExtractSource(resp)
	if !ok {
		return "", fmt.Errorf("%w: empty response", ErrNoFix)
	}
	return fixed, nil
}
