// Package routing holds the gateway's routing entities — ModelMapping,
// ProviderMapping, Provider, and the CandidateProvider runtime join of all
// three.
package routing

import (
	"time"

	"github.com/wayfare-ai/llmgateway/internal/pricing"
	"github.com/wayfare-ai/llmgateway/internal/rules"
)

// Strategy selects how a ModelMapping's candidate providers are ordered
// and retried.
type Strategy string

const (
	RoundRobin Strategy = "round_robin"
	Priority   Strategy = "priority"
	CostFirst  Strategy = "cost_first"
)

// ModelMapping is the logical model record clients address by name.
type ModelMapping struct {
	RequestedModel string
	Strategy       Strategy
	Rules          *rules.RuleSet
	Billing        *pricing.ModelBilling
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProviderMapping is a (requested_model, provider) edge: one way a logical
// model can be served.
type ProviderMapping struct {
	ID             int64
	RequestedModel string
	ProviderID     int64
	ProviderName   string
	TargetModel    string
	Rules          *rules.RuleSet
	Billing        *pricing.ProviderBilling
	Priority       int
	Weight         int
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Provider is one upstream LLM supplier account.
type Provider struct {
	ID           int64
	Name         string
	BaseURL      string
	Protocol     string
	APIKey       string
	ExtraHeaders map[string]string
	ProxyURL     string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CandidateProvider is the runtime join of ModelMapping, ProviderMapping,
// and Provider the executor needs to forward one attempt: resolved API key,
// resolved target model name, and effective billing. It must never be
// constructed before rule evaluation has filtered out inactive providers
// and inactive mappings.
type CandidateProvider struct {
	MappingID    int64
	ProviderID   int64
	ProviderName string
	TargetModel  string
	Protocol     string
	BaseURL      string
	APIKey       string
	ExtraHeaders map[string]string
	ProxyURL     string
	Priority     int
	Weight       int
	Billing      pricing.ResolvedBilling
}

// Identity is the tried-set key the retry/failover executor uses to avoid
// reattempting the same candidate. It is deliberately finer-grained than
// provider id alone: two ProviderMappings that route to the same Provider
// but a different TargetModel (or belong to different ModelMappings) are
// distinct attempts.
type Identity struct {
	MappingID   int64
	ProviderID  int64
	TargetModel string
}

func (c CandidateProvider) Identity() Identity {
	return Identity{MappingID: c.MappingID, ProviderID: c.ProviderID, TargetModel: c.TargetModel}
}
