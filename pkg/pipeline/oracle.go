package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Pond-International/pond-agent/pkg/adapter"
	"github.com/Pond-International/pond-agent/pkg/config"
)

// ErrBudgetExceeded is returned when the run's USD cap would be crossed.
var ErrBudgetExceeded = errors.New("oracle budget exceeded")

type callTarget struct {
	Adapter string
	Model   string
}

// policyOracle is the Oracle handed to generators, the planner and the fixer.
// Transport retries, backoff and provider fallback live here, below the
// stage loop, which never retries an oracle failure itself.
type policyOracle struct {
	stage    string
	adapters map[string]adapter.Adapter
	target   callTarget
	cfg      *config.OracleConfig
	tracker  *costTracker
	logger   *slog.Logger
}

func (o *policyOracle) Complete(ctx context.Context, system, prompt string, structured bool) (string, error) {
	req := adapter.Request{System: system, Prompt: prompt, Structured: structured}
	resp, reports, err := callAdapterWithPolicy(ctx, o.adapters, o.target, req, o.cfg, o.tracker, o.logger)
	for i := range reports {
		reports[i].Stage = o.stage
	}
	o.tracker.recordReports(reports)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func callAdapterWithPolicy(
	ctx context.Context,
	adapters map[string]adapter.Adapter,
	primary callTarget,
	req adapter.Request,
	cfg *config.OracleConfig,
	tracker *costTracker,
	logger *slog.Logger,
) (*adapter.Response, []adapter.CallReport, error) {
	targets := buildTargets(primary, cfg)
	retryCfg := retrySettings(cfg)
	var reports []adapter.CallReport
	var lastErr error

	for idx, target := range targets {
		adapterImpl, ok := adapters[target.Adapter]
		if !ok {
			lastErr = fmt.Errorf("adapter %s not configured", target.Adapter)
			continue
		}

		for attempt := 0; attempt <= retryCfg.MaxRetries; attempt++ {
			if err := tracker.checkBudget(target.Adapter, target.Model); err != nil {
				return nil, reports, err
			}

			req.Model = target.Model
			resp, err := adapterImpl.Complete(ctx, req)
			if err == nil {
				usage := normalizeUsage(resp.Usage)
				cost, _ := estimateCost(cfgPricing(cfg), target.Adapter, target.Model, usage)
				reports = append(reports, adapter.CallReport{
					Adapter:      target.Adapter,
					Model:        target.Model,
					Usage:        usage,
					Cost:         cost,
					Retries:      attempt,
					FallbackUsed: idx > 0,
				})
				return resp, reports, nil
			}

			lastErr = err
			if !adapter.IsTransient(err) || attempt == retryCfg.MaxRetries {
				reports = append(reports, adapter.CallReport{
					Adapter:      target.Adapter,
					Model:        target.Model,
					Cost:         adapter.Cost{Currency: "USD"},
					Retries:      attempt,
					FallbackUsed: idx > 0,
					Error:        err.Error(),
				})
				break
			}

			backoff := computeBackoff(retryCfg.BaseBackoffMs, retryCfg.MaxBackoffMs, attempt)
			if logger != nil {
				logger.Warn("oracle call failed, retrying", "adapter", target.Adapter, "model", target.Model, "retry", attempt+1, "backoff", backoff, "error", err)
			}
			if err := sleepWithContext(ctx, backoff); err != nil {
				return nil, reports, err
			}
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("adapter call failed")
	}
	return nil, reports, lastErr
}

func buildTargets(primary callTarget, cfg *config.OracleConfig) []callTarget {
	targets := []callTarget{primary}
	if cfg == nil || !cfg.Fallback.AllowFallback {
		return targets
	}
	for _, entry := range resolveFallbackChain(cfg, primary) {
		targets = append(targets, callTarget{Adapter: entry.Adapter, Model: entry.Model})
	}
	return targets
}

func resolveFallbackChain(cfg *config.OracleConfig, primary callTarget) []config.RouteTarget {
	if cfg == nil || cfg.Fallback.FallbackChain == nil {
		return nil
	}
	key := fmt.Sprintf("%s/%s", primary.Adapter, primary.Model)
	if chain, ok := cfg.Fallback.FallbackChain[key]; ok {
		return chain
	}
	if chain, ok := cfg.Fallback.FallbackChain[primary.Adapter]; ok {
		return chain
	}
	return nil
}

func retrySettings(cfg *config.OracleConfig) config.RetryConfig {
	if cfg == nil {
		return config.RetryConfig{MaxRetries: 2, BaseBackoffMs: 200, MaxBackoffMs: 2000}
	}
	return cfg.Retry
}

func computeBackoff(baseMs, maxMs, attempt int) time.Duration {
	limit := time.Duration(maxMs) * time.Millisecond
	backoff := time.Duration(baseMs) * time.Millisecond
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= limit {
			return limit
		}
	}
	if backoff > limit {
		return limit
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func cfgPricing(cfg *config.OracleConfig) config.PricingConfig {
	if cfg == nil {
		return nil
	}
	return cfg.Pricing
}

// NewOracle returns the oracle a stage named stageName would use in a run
// configured by opts, with the same retry, fallback and budget policy. An
// empty name selects the planner's target.
func NewOracle(stageName string, opts RunOptions) adapter.Oracle {
	cfg := opts.Oracle
	if cfg == nil {
		cfg = config.DefaultOracleConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &run{opts: opts, oracle: cfg, tracker: newCostTracker(cfg), logger: logger}
	if stageName == "" {
		return r.oracleFor(nil)
	}
	return r.oracleFor(&Stage{Name: stageName})
}
