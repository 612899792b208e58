package pricing

import "github.com/shopspring/decimal"

// CalculateCost prices a request: token counts are priced per million, each cost component individually rounded up (ceiling) to 4
// decimal places before being summed, also rounded up to 4 places. When
// cache billing is enabled, cachedInputTokens is clamped to inputTokens and
// billed at the cached rate (falling back to the regular input rate if
// unset); the non-cached remainder is billed at the regular rate.
func CalculateCost(billing ResolvedBilling, inputTokens, outputTokens, cachedInputTokens int) CostBreakdown {
	outputCost := q4(tokenCost(outputTokens, billing.OutputPrice))

	var inputCost, cachedInputCost decimal.Decimal

	if billing.CacheBillingEnabled {
		clampedCached := cachedInputTokens
		if clampedCached > inputTokens {
			clampedCached = inputTokens
		}
		if clampedCached < 0 {
			clampedCached = 0
		}
		nonCached := inputTokens - clampedCached

		cachedRate := billing.InputPrice
		if billing.CachedInputPrice != nil {
			cachedRate = *billing.CachedInputPrice
		}

		inputCost = q4(tokenCost(nonCached, billing.InputPrice))
		cachedInputCost = q4(tokenCost(clampedCached, cachedRate))
	} else {
		inputCost = q4(tokenCost(inputTokens, billing.InputPrice))
		cachedInputCost = decimal.Zero
	}

	// No cached-output-token count is reported by any supported protocol
	// today, so cachedOutputCost is always zero; CachedOutputPrice exists on
	// ResolvedBilling for billing configs that set it regardless.
	cachedOutputCost := decimal.Zero

	total := q4(inputCost.Add(outputCost).Add(cachedInputCost).Add(cachedOutputCost))

	return CostBreakdown{
		TotalCost:        total,
		InputCost:        inputCost,
		OutputCost:       outputCost,
		CachedInputCost:  cachedInputCost,
		CachedOutputCost: cachedOutputCost,
	}
}

// tokenCost converts a token count to a cost at the given per-million price.
func tokenCost(tokens int, pricePerMillion decimal.Decimal) decimal.Decimal {
	if tokens <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(tokens)).Div(oneMillion).Mul(pricePerMillion)
}

// CalculateCostFromBilling prices a request under any billing mode:
// per_request and per_image modes short-circuit to a flat per-unit price
// (imageCount is ignored for per_request, multiplied in for per_image);
// every other mode delegates to CalculateCost.
func CalculateCostFromBilling(billing ResolvedBilling, inputTokens, outputTokens, cachedInputTokens, imageCount int) CostBreakdown {
	switch billing.Mode {
	case PerRequest:
		price := decimal.Zero
		if billing.PerRequestPrice != nil {
			price = *billing.PerRequestPrice
		}
		total := q4(price)
		return CostBreakdown{TotalCost: total}
	case PerImage:
		price := decimal.Zero
		if billing.PerImagePrice != nil {
			price = *billing.PerImagePrice
		}
		n := imageCount
		if n < 0 {
			n = 0
		}
		total := q4(price.Mul(decimal.NewFromInt(int64(n))))
		return CostBreakdown{TotalCost: total}
	default:
		return CalculateCost(billing, inputTokens, outputTokens, cachedInputTokens)
	}
}
