package pipeline

import (
	"fmt"

	"github.com/Pond-International/pond-agent/pkg/adapter"
	"github.com/Pond-International/pond-agent/pkg/config"
	"github.com/Pond-International/pond-agent/pkg/evidence"
)

// costTracker totals oracle usage for one run and enforces the optional USD
// cap. A run's oracle calls are sequential, so the tracker is not locked.
type costTracker struct {
	pricing   config.PricingConfig
	maxUSD    float64
	usage     adapter.Usage
	amount    float64
	byStage   map[string]float64
	calls     []adapter.CallReport
	budget    *evidence.BudgetStatus
	lastUsage *adapter.Usage
}

func newCostTracker(cfg *config.OracleConfig) *costTracker {
	t := &costTracker{byStage: make(map[string]float64)}
	if cfg != nil {
		t.pricing = cfg.Pricing
		t.maxUSD = cfg.MaxBudgetUSD
	}
	if t.maxUSD > 0 {
		t.budget = &evidence.BudgetStatus{MaxAmount: t.maxUSD}
	}
	return t
}

// checkBudget refuses a call once spend has reached the cap, or when the
// previous call's usage priced for this model would cross it.
func (t *costTracker) checkBudget(adapterName, model string) error {
	if t == nil || t.budget == nil {
		return nil
	}
	if t.amount >= t.maxUSD {
		return t.exceed(fmt.Sprintf("budget %.2f exceeded (current total %.2f)", t.maxUSD, t.amount))
	}
	if t.lastUsage == nil {
		return nil
	}
	cost, ok := estimateCost(t.pricing, adapterName, model, *t.lastUsage)
	if !ok {
		return nil
	}
	if projected := t.amount + cost.Amount; projected > t.maxUSD {
		return t.exceed(fmt.Sprintf("budget %.2f exceeded (projected total %.2f)", t.maxUSD, projected))
	}
	return nil
}

func (t *costTracker) exceed(reason string) error {
	t.budget.Exceeded = true
	t.budget.Reason = reason
	return fmt.Errorf("%w: %s", ErrBudgetExceeded, reason)
}

func (t *costTracker) recordReports(reports []adapter.CallReport) {
	if t == nil {
		return
	}
	for _, report := range reports {
		t.calls = append(t.calls, report)
		if report.Error != "" {
			continue
		}
		t.amount += report.Cost.Amount
		t.byStage[report.Stage] += report.Cost.Amount
		t.usage = addUsage(t.usage, report.Usage)
		usage := report.Usage
		t.lastUsage = &usage
	}
}

func (t *costTracker) report() *evidence.RunCostReport {
	if t == nil {
		return nil
	}
	rep := &evidence.RunCostReport{
		Currency:    "USD",
		TotalAmount: t.amount,
		TotalUsage:  t.usage,
		Calls:       t.calls,
		Budget:      t.budget,
	}
	if len(t.byStage) > 0 {
		rep.ByStage = make(map[string]float64, len(t.byStage))
		for stage, amount := range t.byStage {
			rep.ByStage[stage] = amount
		}
	}
	return rep
}

func normalizeUsage(u *adapter.Usage) adapter.Usage {
	if u == nil {
		return adapter.Usage{}
	}
	usage := *u
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

// estimateCost prices usage from the per-1K-token table. A model missing from
// the table falls back to the adapter's "default" entry.
func estimateCost(pricing config.PricingConfig, adapterName, model string, usage adapter.Usage) (adapter.Cost, bool) {
	models, ok := pricing[adapterName]
	if !ok {
		return adapter.Cost{Currency: "USD"}, false
	}
	entry, ok := models[model]
	if !ok {
		if entry, ok = models["default"]; !ok {
			return adapter.Cost{Currency: "USD"}, false
		}
	}
	amount := float64(usage.PromptTokens)/1000*entry.PromptPer1K +
		float64(usage.CompletionTokens)/1000*entry.CompletionPer1K
	return adapter.Cost{
		Currency:     "USD",
		Amount:       amount,
		IsEstimate:   true,
		PricingModel: "per_1k_tokens",
	}, true
}

func addUsage(a, b adapter.Usage) adapter.Usage {
	return adapter.Usage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
	}
}
