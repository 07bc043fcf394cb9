package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingAdapter struct{ err error }

func (a *failingAdapter) Complete(context.Context, Request) (*Response, error) { return nil, a.err }
func (a *failingAdapter) Name() string                                          { return "failing" }
func (a *failingAdapter) Models() []string                                      { return nil }

func TestBindPassesPromptsThrough(t *testing.T) {
	mock := NewMockAdapter()
	mock.Enqueue("first", "second")

	oracle := Bind(mock, "mock-1")
	out, err := oracle.Complete(context.Background(), "sys", "user", true)
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "sys", calls[0].System)
	assert.Equal(t, "user", calls[0].Prompt)
	assert.True(t, calls[0].Structured)
	assert.Equal(t, "mock-1", calls[0].Model)
}

func TestBindWrapsErrorsAsUnavailable(t *testing.T) {
	cause := &AdapterError{Status: 503, Err: fmt.Errorf("overloaded")}
	oracle := Bind(&failingAdapter{err: cause}, "m")

	_, err := oracle.Complete(context.Background(), "", "p", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOracleUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsTransient(err))
}

func TestUnavailableDoesNotDoubleWrap(t *testing.T) {
	err := Unavailable("a", fmt.Errorf("boom"))
	again := Unavailable("b", err)
	assert.Same(t, err, again)
	assert.NoError(t, Unavailable("a", nil))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&AdapterError{Status: 429}))
	assert.True(t, IsTransient(&AdapterError{Status: 502}))
	assert.True(t, IsTransient(&AdapterError{Temporary: true}))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(&AdapterError{Status: 400}))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.False(t, IsTransient(nil))
}

func TestMockPrefersKeyedResponses(t *testing.T) {
	mock := NewMockAdapterWithResponses(map[string]string{"known": "keyed"}, "fallback")
	mock.Enqueue("queued")

	resp, err := mock.Complete(context.Background(), Request{Prompt: "known"})
	require.NoError(t, err)
	assert.Equal(t, "keyed", resp.Text)

	resp, err = mock.Complete(context.Background(), Request{Prompt: "other"})
	require.NoError(t, err)
	assert.Equal(t, "queued", resp.Text)

	resp, err = mock.Complete(context.Background(), Request{Prompt: "other"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.Text)
	assert.Equal(t, "mock-1", resp.Model)
}
