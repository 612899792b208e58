// Package pricing resolves effective per-token/per-request/per-image
// billing configuration and computes costs from it. Every function here
// is pure — no network or database access.
package pricing

import "github.com/shopspring/decimal"

// BillingMode is the closed set of ways a model or provider can be billed.
type BillingMode string

const (
	TokenFlat           BillingMode = "token_flat"
	TokenTiered         BillingMode = "token_tiered"
	PerRequest          BillingMode = "per_request"
	PerImage            BillingMode = "per_image"
	InheritModelDefault BillingMode = "inherit_model_default"
)

// PriceSource records which layer (provider override, model fallback, or
// neither) an effective price ultimately came from.
type PriceSource string

const (
	SupplierOverride PriceSource = "SupplierOverride"
	ModelFallback    PriceSource = "ModelFallback"
	DefaultZero      PriceSource = "DefaultZero"
)

// Tier is one entry of a token_tiered pricing table. MaxInputTokens is nil
// for the catch-all final tier.
type Tier struct {
	MaxInputTokens    *int
	InputPrice        float64
	OutputPrice       float64
	CachedInputPrice  *float64
	CachedOutputPrice *float64
}

// ModelBilling is a logical model's billing configuration, the fallback
// layer beneath any provider-level override.
type ModelBilling struct {
	Mode                 BillingMode
	InputPrice            *float64
	OutputPrice           *float64
	PerRequestPrice       *float64
	PerImagePrice         *float64
	TieredPricing         []Tier
	CacheBillingEnabled   *bool
	CachedInputPrice      *float64
	CachedOutputPrice     *float64
}

// ProviderBilling is a (requested_model, provider) mapping's billing
// override. A Mode of InheritModelDefault discards every other field here
// and falls through to ModelBilling.
type ProviderBilling struct {
	Mode                BillingMode
	InputPrice          *float64
	OutputPrice         *float64
	PerRequestPrice     *float64
	PerImagePrice       *float64
	TieredPricing       []Tier
	CacheBillingEnabled *bool
	CachedInputPrice    *float64
	CachedOutputPrice   *float64
}

// ResolvedBilling is the output of ResolveBilling: one concrete, ready-to-
// apply billing configuration plus a provenance tag.
type ResolvedBilling struct {
	Mode        BillingMode
	PriceSource PriceSource

	InputPrice  decimal.Decimal
	OutputPrice decimal.Decimal

	PerRequestPrice *decimal.Decimal
	PerImagePrice   *decimal.Decimal

	CacheBillingEnabled bool
	CachedInputPrice    *decimal.Decimal
	CachedOutputPrice   *decimal.Decimal
}

// CostBreakdown is the result of CalculateCost: every cost component,
// already rounded up (ceiling) to 4 decimal places.
type CostBreakdown struct {
	TotalCost        decimal.Decimal
	InputCost        decimal.Decimal
	OutputCost       decimal.Decimal
	CachedInputCost  decimal.Decimal
	CachedOutputCost decimal.Decimal
}

var oneMillion = decimal.NewFromInt(1_000_000)

// q4 rounds up (ceiling) to 4 decimal places — the single rounding policy
// every cost component goes through.
func q4(d decimal.Decimal) decimal.Decimal {
	return d.RoundCeil(4)
}

func floatOr(p *float64, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	return *p
}

func decimalPtr(p *float64) *decimal.Decimal {
	if p == nil {
		return nil
	}
	d := decimal.NewFromFloat(*p)
	return &d
}
