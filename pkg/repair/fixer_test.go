package repair

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pond-International/pond-agent/pkg/adapter"
)

type stubOracle struct {
	response string
	err      error
	system   string
	prompt   string
	calls    int
}

func (o *stubOracle) Complete(_ context.Context, system, prompt string, structured bool) (string, error) {
	o.calls++
	o.system = system
	o.prompt = prompt
	if structured {
		return "", errors.New("repair must request free text")
	}
	return o.response, o.err
}

func TestFixStripsFences(t *testing.T) {
	oracle := &stubOracle{response: "```python\nprint('fixed')\n```"}
	fixer := NewFixer(oracle)

	fixed, err := fixer.Fix(context.Background(), "print(x)", "NameError: name 'x' is not defined")
	require.NoError(t, err)
	assert.Equal(t, "print('fixed')", fixed)
	assert.Equal(t, 1, oracle.calls)
	assert.Equal(t, SystemPrompt, oracle.system)
	assert.Contains(t, oracle.prompt, "NameError: name 'x' is not defined")
}

func TestFixReturnsNoFixOnEmptyResponse(t *testing.T) {
	for _, response := range []string{"", "   ", "```\n```", "python"} {
		fixer := NewFixer(&stubOracle{response: response})
		_, err := fixer.Fix(context.Background(), "x", "err")
		assert.ErrorIs(t, err, ErrNoFix, "response %q", response)
	}
}

func TestFixReportsOracleUnavailable(t *testing.T) {
	fixer := NewFixer(&stubOracle{err: errors.New("connection refused")})
	_, err := fixer.Fix(context.Background(), "x", "err")
	assert.ErrorIs(t, err, adapter.ErrOracleUnavailable)
	assert.NotErrorIs(t, err, ErrNoFix)
}

func TestFixCustomSystemPrompt(t *testing.T) {
	oracle := &stubOracle{response: "ok()"}
	_, err := NewFixer(oracle, WithSystemPrompt("custom")).Fix(context.Background(), "x", "err")
	require.NoError(t, err)
	assert.Equal(t, "custom", oracle.system)
}
