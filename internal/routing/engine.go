package routing

import (
	"sort"

	"github.com/wayfare-ai/llmgateway/internal/pricing"
	"github.com/wayfare-ai/llmgateway/internal/rules"
)

// Engine evaluates a ModelMapping's ProviderMappings against a rule
// Context and produces an ordered list of CandidateProviders.
type Engine struct {
	evaluator rules.Evaluator
}

// NewEngine constructs an Engine. The zero value is also ready to use.
func NewEngine() Engine { return Engine{} }

// Evaluate filters providerMappings down to the active mappings whose
// provider is active and whose model-level and provider-level rules both
// pass ctx, joins each surviving mapping with its Provider record, and
// returns the result sorted ascending by priority (lower priority value
// sorts first). A CandidateProvider is never returned for an inactive
// provider or an inactive mapping.
func (e Engine) Evaluate(
	ctx rules.Context,
	modelMapping ModelMapping,
	providerMappings []ProviderMapping,
	providers map[int64]Provider,
) []CandidateProvider {
	var out []CandidateProvider

	for _, pm := range providerMappings {
		if !pm.IsActive {
			continue
		}
		provider, ok := providers[pm.ProviderID]
		if !ok || !provider.IsActive {
			continue
		}
		if !e.evaluator.EvaluateRuleSet(modelMapping.Rules, ctx) {
			continue
		}
		if !e.evaluator.EvaluateRuleSet(pm.Rules, ctx) {
			continue
		}

		out = append(out, CandidateProvider{
			MappingID:    pm.ID,
			ProviderID:   provider.ID,
			ProviderName: provider.Name,
			TargetModel:  pm.TargetModel,
			Protocol:     provider.Protocol,
			BaseURL:      provider.BaseURL,
			APIKey:       provider.APIKey,
			ExtraHeaders: provider.ExtraHeaders,
			ProxyURL:     provider.ProxyURL,
			Priority:     pm.Priority,
			Weight:       pm.Weight,
			Billing:      resolveBilling(ctx, modelMapping, pm),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].MappingID < out[j].MappingID
	})
	return out
}

// resolveBilling joins the optional model-level and provider-level billing
// configs through pricing.ResolveBilling, defaulting either side to its
// zero value (token_flat, no prices set) when unconfigured.
func resolveBilling(ctx rules.Context, mm ModelMapping, pm ProviderMapping) pricing.ResolvedBilling {
	var model pricing.ModelBilling
	if mm.Billing != nil {
		model = *mm.Billing
	}
	var provider pricing.ProviderBilling
	if pm.Billing != nil {
		provider = *pm.Billing
	}
	return pricing.ResolveBilling(ctx.TokenUsage.InputTokens, model, provider)
}
