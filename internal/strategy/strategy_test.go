package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfare-ai/llmgateway/internal/pricing"
	"github.com/wayfare-ai/llmgateway/internal/routing"
)

func cands() []routing.CandidateProvider {
	return []routing.CandidateProvider{
		{MappingID: 1, ProviderID: 1, ProviderName: "a", Priority: 1},
		{MappingID: 2, ProviderID: 2, ProviderName: "b", Priority: 1},
		{MappingID: 3, ProviderID: 3, ProviderName: "c", Priority: 2},
	}
}

func TestRoundRobin_SelectRotatesAcrossCalls(t *testing.T) {
	rr := NewRoundRobin()
	c := cands()

	first, ok := rr.Select(c, "gpt-4", Extras{})
	require.True(t, ok)
	second, ok := rr.Select(c, "gpt-4", Extras{})
	require.True(t, ok)
	third, ok := rr.Select(c, "gpt-4", Extras{})
	require.True(t, ok)
	fourth, ok := rr.Select(c, "gpt-4", Extras{})
	require.True(t, ok)

	assert.Equal(t, c[0], first)
	assert.Equal(t, c[1], second)
	assert.Equal(t, c[2], third)
	assert.Equal(t, c[0], fourth) // wraps
}

func TestRoundRobin_CountersAreIndependentPerModel(t *testing.T) {
	rr := NewRoundRobin()
	c := cands()

	a, _ := rr.Select(c, "gpt-4", Extras{})
	b, _ := rr.Select(c, "claude-3", Extras{})
	assert.Equal(t, c[0], a)
	assert.Equal(t, c[0], b)
}

func TestRoundRobin_GetNextSkipsTriedAndExhausts(t *testing.T) {
	rr := NewRoundRobin()
	c := cands()
	tried := Tried{c[0].Identity(): {}, c[1].Identity(): {}}

	next, ok := rr.GetNext(c, "gpt-4", tried, Extras{})
	require.True(t, ok)
	assert.Equal(t, c[2], next)

	tried[c[2].Identity()] = struct{}{}
	_, ok = rr.GetNext(c, "gpt-4", tried, Extras{})
	assert.False(t, ok)
}

func TestPriority_RoundRobinsWithinLowestBucketThenFailsOverToNextBucket(t *testing.T) {
	p := NewPriority()
	c := cands() // priorities: 1,1,2

	first, ok := p.GetNext(c, "gpt-4", nil, Extras{})
	require.True(t, ok)
	assert.Equal(t, 1, first.Priority)

	tried := Tried{c[0].Identity(): {}, c[1].Identity(): {}}
	next, ok := p.GetNext(c, "gpt-4", tried, Extras{})
	require.True(t, ok)
	assert.Equal(t, "c", next.ProviderName) // only the priority-2 bucket remains
}

func TestPriority_TriedIdentityIsMappingScopedNotProviderScoped(t *testing.T) {
	p := NewPriority()
	c := []routing.CandidateProvider{
		{MappingID: 1, ProviderID: 1, TargetModel: "m1", Priority: 1},
		{MappingID: 2, ProviderID: 1, TargetModel: "m2", Priority: 1}, // same provider, different mapping
	}
	tried := Tried{c[0].Identity(): {}}

	next, ok := p.GetNext(c, "gpt-4", tried, Extras{})
	require.True(t, ok)
	assert.Equal(t, "m2", next.TargetModel)
}

func cheapPrice(v float64) *float64 { return &v }

func TestCostFirst_SortsAscendingByCost(t *testing.T) {
	cf := NewCostFirst()
	c := []routing.CandidateProvider{
		{MappingID: 1, ProviderID: 1, ProviderName: "expensive", Priority: 1, Billing: pricing.ResolveBilling(1000,
			pricing.ModelBilling{Mode: pricing.TokenFlat, InputPrice: cheapPrice(10), OutputPrice: cheapPrice(10)}, pricing.ProviderBilling{})},
		{MappingID: 2, ProviderID: 2, ProviderName: "cheap", Priority: 2, Billing: pricing.ResolveBilling(1000,
			pricing.ModelBilling{Mode: pricing.TokenFlat, InputPrice: cheapPrice(1), OutputPrice: cheapPrice(1)}, pricing.ProviderBilling{})},
	}

	selected, ok := cf.Select(c, "gpt-4", Extras{InputTokens: 1000})
	require.True(t, ok)
	assert.Equal(t, "cheap", selected.ProviderName)
}

func TestCostFirst_FallsBackToPriorityWithoutInputTokens(t *testing.T) {
	cf := NewCostFirst()
	c := cands()

	selected, ok := cf.Select(c, "gpt-4", Extras{})
	require.True(t, ok)
	assert.Equal(t, 1, selected.Priority) // priority bucket 1, not cost-ordered
}
