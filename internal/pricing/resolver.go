package pricing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// resolvedPrice is the intermediate result of the provider>model>zero price
// fallback used by the flat (non-tiered, non-inherited) billing path.
type resolvedPrice struct {
	inputPrice  float64
	outputPrice float64
	source      PriceSource
}

// resolvePrice applies the price fallback: a provider override wins per
// direction, falling back to the model price for whichever direction the
// provider didn't override, and to zero if neither did.
func resolvePrice(modelInput, modelOutput, providerInput, providerOutput *float64) resolvedPrice {
	hasProviderOverride := providerInput != nil || providerOutput != nil
	hasModelFallback := modelInput != nil || modelOutput != nil

	effectiveInput := floatOr(providerInput, floatOr(modelInput, 0))
	effectiveOutput := floatOr(providerOutput, floatOr(modelOutput, 0))

	var source PriceSource
	switch {
	case hasProviderOverride:
		source = SupplierOverride
	case hasModelFallback:
		source = ModelFallback
	default:
		source = DefaultZero
	}

	return resolvedPrice{inputPrice: effectiveInput, outputPrice: effectiveOutput, source: source}
}

// selectTier picks the effective tier: sort ascending by MaxInputTokens
// (nil/unbounded sorts last), then pick the first tier whose bound is nil
// or ≥ inputTokens; fall back to the last (highest) tier if none match.
func selectTier(tiers []Tier, inputTokens int) (inputPrice, outputPrice float64, cachedInput, cachedOutput *float64) {
	if len(tiers) == 0 {
		return 0, 0, nil, nil
	}

	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return tierKey(sorted[i]) < tierKey(sorted[j])
	})

	for _, t := range sorted {
		if t.MaxInputTokens == nil || inputTokens <= *t.MaxInputTokens {
			return t.InputPrice, t.OutputPrice, t.CachedInputPrice, t.CachedOutputPrice
		}
	}

	last := sorted[len(sorted)-1]
	return last.InputPrice, last.OutputPrice, last.CachedInputPrice, last.CachedOutputPrice
}

func tierKey(t Tier) int {
	if t.MaxInputTokens == nil {
		return int(^uint(0) >> 1) // unbounded tiers sort last
	}
	return *t.MaxInputTokens
}

// ResolveBilling resolves the effective billing: provider billing_mode wins over
// model billing_mode wins over a token_flat zero default. For token_flat,
// prices additionally fall back provider > model > zero per direction. For
// token_tiered, a per-tier cached price overrides the global cached price.
func ResolveBilling(inputTokens int, model ModelBilling, provider ProviderBilling) ResolvedBilling {
	// inherit_model_default discards every provider-level field.
	if provider.Mode == InheritModelDefault {
		provider = ProviderBilling{}
	}

	var (
		mode               BillingMode
		effPerRequestPrice *float64
		effPerImagePrice   *float64
		effTieredPricing   []Tier
		priceSource        PriceSource
		isProviderSource   bool
		priceSourceIsSet   bool
	)

	switch {
	case provider.Mode != "" && provider.Mode != InheritModelDefault:
		mode = provider.Mode
		effPerRequestPrice = provider.PerRequestPrice
		effPerImagePrice = provider.PerImagePrice
		effTieredPricing = provider.TieredPricing
		priceSource = SupplierOverride
		isProviderSource = true
		priceSourceIsSet = true
	case model.Mode != "":
		mode = model.Mode
		effPerRequestPrice = model.PerRequestPrice
		effPerImagePrice = model.PerImagePrice
		effTieredPricing = model.TieredPricing
		priceSource = ModelFallback
		isProviderSource = false
		priceSourceIsSet = true
	default:
		mode = TokenFlat
		isProviderSource = false
		priceSourceIsSet = false
	}

	if mode == PerRequest {
		p := decimalPtr(floatPtr(floatOr(effPerRequestPrice, 0)))
		return ResolvedBilling{Mode: mode, PriceSource: priceSource, PerRequestPrice: p}
	}
	if mode == PerImage {
		p := decimalPtr(floatPtr(floatOr(effPerImagePrice, 0)))
		return ResolvedBilling{Mode: mode, PriceSource: priceSource, PerImagePrice: p}
	}

	cacheEnabled, cachedInPrice, cachedOutPrice := resolveCacheFields(provider, model, isProviderSource && priceSourceIsSet)

	if mode == TokenTiered {
		tierIn, tierOut, tierCachedIn, tierCachedOut := selectTier(effTieredPricing, inputTokens)
		effCachedIn := tierCachedIn
		if effCachedIn == nil {
			effCachedIn = cachedInPrice
		}
		effCachedOut := tierCachedOut
		if effCachedOut == nil {
			effCachedOut = cachedOutPrice
		}
		return ResolvedBilling{
			Mode:                mode,
			PriceSource:         priceSource,
			InputPrice:          decimal.NewFromFloat(tierIn),
			OutputPrice:         decimal.NewFromFloat(tierOut),
			CacheBillingEnabled: cacheEnabled,
			CachedInputPrice:    decimalPtr(effCachedIn),
			CachedOutputPrice:   decimalPtr(effCachedOut),
		}
	}

	// token_flat: resolve directional prices provider > model > zero.
	resolved := resolvePrice(model.InputPrice, model.OutputPrice, provider.InputPrice, provider.OutputPrice)

	if !priceSourceIsSet {
		// No explicit billing_mode anywhere; resolve cache from provider >
		// model directly.
		if provider.CacheBillingEnabled != nil && *provider.CacheBillingEnabled {
			cacheEnabled = true
			cachedInPrice = provider.CachedInputPrice
			cachedOutPrice = provider.CachedOutputPrice
		} else if model.CacheBillingEnabled != nil && *model.CacheBillingEnabled {
			cacheEnabled = true
			cachedInPrice = model.CachedInputPrice
			cachedOutPrice = model.CachedOutputPrice
		}
	}

	return ResolvedBilling{
		Mode:                TokenFlat,
		PriceSource:         resolved.source,
		InputPrice:          decimal.NewFromFloat(resolved.inputPrice),
		OutputPrice:         decimal.NewFromFloat(resolved.outputPrice),
		CacheBillingEnabled: cacheEnabled,
		CachedInputPrice:    decimalPtr(cachedInPrice),
		CachedOutputPrice:   decimalPtr(cachedOutPrice),
	}
}

// resolveCacheFields implements _resolve_cache_fields: pick the cache
// billing trio from whichever side (provider or model) is the billing
// source for the selected mode.
func resolveCacheFields(provider ProviderBilling, model ModelBilling, isProviderSource bool) (enabled bool, cachedInput, cachedOutput *float64) {
	if isProviderSource {
		return provider.CacheBillingEnabled != nil && *provider.CacheBillingEnabled, provider.CachedInputPrice, provider.CachedOutputPrice
	}
	return model.CacheBillingEnabled != nil && *model.CacheBillingEnabled, model.CachedInputPrice, model.CachedOutputPrice
}

func floatPtr(f float64) *float64 { return &f }
