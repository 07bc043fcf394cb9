package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pond-International/pond-agent/pkg/adapter"
	"github.com/Pond-International/pond-agent/pkg/config"
)

type transientAdapter struct {
	failures int
	calls    int
}

func (a *transientAdapter) Complete(_ context.Context, req adapter.Request) (*adapter.Response, error) {
	a.calls++
	if a.calls <= a.failures {
		return nil, &adapter.AdapterError{Status: 429, Temporary: true, Err: fmt.Errorf("rate limit")}
	}
	return &adapter.Response{Text: "ok", Adapter: "transient", Model: req.Model, Usage: &adapter.Usage{PromptTokens: 10}}, nil
}

func (a *transientAdapter) Name() string { return "transient" }

func (a *transientAdapter) Models() []string { return []string{"mock-1"} }

type failingAdapter struct {
	err   error
	calls int
}

func (a *failingAdapter) Complete(context.Context, adapter.Request) (*adapter.Response, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return nil, fmt.Errorf("hard failure")
}

func (a *failingAdapter) Name() string { return "primary" }

func (a *failingAdapter) Models() []string { return []string{"mock-1"} }

func TestEstimateCostAndTotals(t *testing.T) {
	pricing := config.PricingConfig{
		"openai": {"gpt-4o": {PromptPer1K: 0.15, CompletionPer1K: 0.60}},
	}

	usage := adapter.Usage{PromptTokens: 1000, CompletionTokens: 500}
	cost, ok := estimateCost(pricing, "openai", "gpt-4o", usage)
	require.True(t, ok)
	want := 0.15 + 0.30
	assert.InDelta(t, want, cost.Amount, 1e-9)

	tracker := newCostTracker(&config.OracleConfig{Pricing: pricing})
	report := adapter.CallReport{Adapter: "openai", Model: "gpt-4o", Usage: usage, Cost: cost}
	tracker.recordReports([]adapter.CallReport{report})
	tracker.recordReports([]adapter.CallReport{report, {Adapter: "openai", Error: "boom"}})

	total := tracker.report()
	assert.Equal(t, 2000, total.TotalUsage.PromptTokens)
	assert.InDelta(t, want*2, total.TotalAmount, 1e-9)
	assert.Len(t, total.Calls, 3)
	assert.Nil(t, total.Budget)
}

func TestBudgetStopsSecondCall(t *testing.T) {
	cfg := &config.OracleConfig{
		Pricing:      config.PricingConfig{"mock": {"default": {PromptPer1K: 1.0}}},
		MaxBudgetUSD: 1.5,
	}
	mock := adapter.NewMockAdapter()
	mock.Usage = &adapter.Usage{PromptTokens: 1000}
	o := &policyOracle{
		stage:    "prep",
		adapters: map[string]adapter.Adapter{"mock": mock},
		target:   callTarget{Adapter: "mock", Model: "mock-1"},
		cfg:      cfg,
		tracker:  newCostTracker(cfg),
	}

	_, err := o.Complete(context.Background(), "s", "first", false)
	require.NoError(t, err)
	_, err = o.Complete(context.Background(), "s", "second", false)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Len(t, mock.Calls(), 1)

	report := o.tracker.report()
	require.NotNil(t, report.Budget)
	assert.True(t, report.Budget.Exceeded)
	assert.NotEmpty(t, report.Budget.Reason)
	assert.InDelta(t, 1.0, report.ByStage["prep"], 1e-9)
	assert.Equal(t, "prep", report.Calls[0].Stage)
}

func TestRetryWithTransientErrors(t *testing.T) {
	cfg := &config.OracleConfig{Retry: config.RetryConfig{MaxRetries: 2, BaseBackoffMs: 1, MaxBackoffMs: 2}}
	impl := &transientAdapter{failures: 2}

	resp, reports, err := callAdapterWithPolicy(
		context.Background(),
		map[string]adapter.Adapter{"transient": impl},
		callTarget{Adapter: "transient", Model: "mock-1"},
		adapter.Request{Prompt: "prompt"},
		cfg,
		newCostTracker(cfg),
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	require.Len(t, reports, 1)
	assert.Equal(t, 2, reports[0].Retries)
	assert.Equal(t, 3, impl.calls)
}

func TestNonTransientErrorIsNotRetried(t *testing.T) {
	cfg := &config.OracleConfig{Retry: config.RetryConfig{MaxRetries: 3, BaseBackoffMs: 1, MaxBackoffMs: 1}}
	impl := &failingAdapter{err: &adapter.AdapterError{Status: 400, Err: errors.New("bad request")}}

	_, reports, err := callAdapterWithPolicy(
		context.Background(),
		map[string]adapter.Adapter{"primary": impl},
		callTarget{Adapter: "primary", Model: "mock-1"},
		adapter.Request{},
		cfg,
		nil,
		nil,
	)
	assert.ErrorContains(t, err, "bad request")
	assert.Equal(t, 1, impl.calls)
	require.Len(t, reports, 1)
	assert.NotEmpty(t, reports[0].Error)
}

func TestFallbackAdapterUsedOnFailure(t *testing.T) {
	cfg := &config.OracleConfig{
		Fallback: config.FallbackConfig{
			AllowFallback: true,
			FallbackChain: map[string][]config.RouteTarget{
				"primary/mock-1": {{Adapter: "mock", Model: "mock-1"}},
			},
		},
	}
	mock := adapter.NewMockAdapterWithResponses(nil, "from fallback")

	resp, reports, err := callAdapterWithPolicy(
		context.Background(),
		map[string]adapter.Adapter{"primary": &failingAdapter{}, "mock": mock},
		callTarget{Adapter: "primary", Model: "mock-1"},
		adapter.Request{Prompt: "prompt"},
		cfg,
		newCostTracker(cfg),
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Text)
	assert.Equal(t, "mock", resp.Adapter)
	require.Len(t, reports, 2)
	assert.False(t, reports[0].FallbackUsed)
	assert.True(t, reports[1].FallbackUsed)
}

func TestMissingAdapterFails(t *testing.T) {
	_, _, err := callAdapterWithPolicy(context.Background(), nil, callTarget{Adapter: "openai"}, adapter.Request{}, nil, nil, nil)
	assert.ErrorContains(t, err, "adapter openai not configured")
}

func TestComputeBackoff(t *testing.T) {
	assert.Equal(t, 200, int(computeBackoff(200, 2000, 0).Milliseconds()))
	assert.Equal(t, 800, int(computeBackoff(200, 2000, 2).Milliseconds()))
	assert.Equal(t, 2000, int(computeBackoff(200, 2000, 10).Milliseconds()))
	assert.Zero(t, computeBackoff(0, 0, 3))
}

func TestSleepWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, sleepWithContext(ctx, 0))
	assert.ErrorIs(t, sleepWithContext(ctx, 1<<40), context.Canceled)
}

func TestNewOracleUsesStageRoute(t *testing.T) {
	mock := adapter.NewMockAdapterWithResponses(nil, "ok")
	opts := RunOptions{
		Adapters: map[string]adapter.Adapter{"mock": mock},
		Oracle: &config.OracleConfig{
			Default: config.RouteTarget{Adapter: "mock", Model: "mock-1"},
			Stages:  map[string]config.RouteTarget{"build_model": {Model: "mock-large"}},
		},
	}

	text, err := NewOracle("build_model", opts).Complete(context.Background(), "sys", "prompt", false)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)

	_, err = NewOracle("", opts).Complete(context.Background(), "sys", "plan", true)
	require.NoError(t, err)

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "mock-large", calls[0].Model)
	assert.Equal(t, "mock-1", calls[1].Model)
	assert.True(t, calls[1].Structured)
}
