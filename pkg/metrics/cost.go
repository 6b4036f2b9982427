package metrics

import (
	"sync"

	"github.com/arbiterhq/arbiter/pkg/adapter"
	"github.com/arbiterhq/arbiter/pkg/config"
)

// CallReport captures metadata for one adapter call inside a request.
type CallReport struct {
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Usage    adapter.Usage `json:"usage"`
	Cost     adapter.Cost  `json:"cost"`
	Judge    bool          `json:"judge,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// CostTracker accumulates usage and spend for one routing request,
// judges included.
type CostTracker struct {
	mu          sync.Mutex
	pricing     config.PricingConfig
	totalUsage  adapter.Usage
	totalAmount float64
	calls       []CallReport
}

// NewCostTracker creates a tracker over the configured pricing table.
func NewCostTracker(pricing config.PricingConfig) *CostTracker {
	return &CostTracker{pricing: pricing}
}

// Record adds one call to the running totals.
func (t *CostTracker) Record(report CallReport) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, report)
	if report.Error != "" {
		return
	}
	t.totalAmount += report.Cost.Amount
	t.totalUsage = addUsage(t.totalUsage, report.Usage)
}

// Total returns the accumulated spend and usage.
func (t *CostTracker) Total() (float64, adapter.Usage) {
	if t == nil {
		return 0, adapter.Usage{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalAmount, t.totalUsage
}

// Calls returns the per-call reports in order.
func (t *CostTracker) Calls() []CallReport {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]CallReport, len(t.calls))
	copy(out, t.calls)
	return out
}

// EstimateCost prices a call from the per-1k token table. The second
// return is false when no pricing entry covers the model.
func EstimateCost(pricing config.PricingConfig, providerAdapter, model string, usage adapter.Usage) (adapter.Cost, bool) {
	entry, ok := pricingFor(pricing, providerAdapter, model)
	if !ok {
		return adapter.Cost{Currency: "USD"}, false
	}

	promptCost := (float64(usage.PromptTokens) / 1000.0) * entry.PromptPer1K
	completionCost := (float64(usage.CompletionTokens) / 1000.0) * entry.CompletionPer1K
	return adapter.Cost{
		Currency:     "USD",
		Amount:       promptCost + completionCost,
		IsEstimate:   true,
		PricingModel: "per_1k_tokens",
	}, true
}

func pricingFor(pricing config.PricingConfig, providerAdapter, model string) (config.ModelPricing, bool) {
	if pricing == nil {
		return config.ModelPricing{}, false
	}
	if adapterPricing, ok := pricing[providerAdapter]; ok {
		if entry, ok := adapterPricing[model]; ok {
			return entry, true
		}
		if entry, ok := adapterPricing["default"]; ok {
			return entry, true
		}
	}
	return config.ModelPricing{}, false
}

func addUsage(a adapter.Usage, b adapter.Usage) adapter.Usage {
	return adapter.Usage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
	}
}
