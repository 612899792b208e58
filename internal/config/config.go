// Package config handles loading and validating gateway configuration: the
// HTTP server settings, the retry policy, the optional Redis continuation
// store, and the provider/model-mapping graph the in-memory repositories
// are seeded from at startup.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/wayfare-ai/llmgateway/internal/pricing"
	"github.com/wayfare-ai/llmgateway/internal/routing"
	"github.com/wayfare-ai/llmgateway/internal/rules"
)

// Config is the top-level configuration for the llmgateway process.
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Retry     RetryConfig      `koanf:"retry"`
	Redis     RedisConfig      `koanf:"redis"`
	APIKeys   []string         `koanf:"api_keys"`
	Providers []ProviderConfig `koanf:"providers"`
	Models    []ModelConfig    `koanf:"models"`
}

// ServerConfig holds HTTP server settings. WriteTimeout must accommodate
// long-lived SSE connections; zero disables it.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// RetryConfig holds the retry/failover executor's policy knobs.
type RetryConfig struct {
	MaxRetries   int `koanf:"max_retries"`
	RetryDelayMs int `koanf:"retry_delay_ms"`
}

// RedisConfig points at the optional continuation-blob store. An empty
// Addr disables it.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// ProviderConfig holds one upstream supplier account.
type ProviderConfig struct {
	ID           int64             `koanf:"id"`
	Name         string            `koanf:"name"`
	Protocol     string            `koanf:"protocol"`
	BaseURL      string            `koanf:"base_url"`
	APIKey       string            `koanf:"api_key"`
	ExtraHeaders map[string]string `koanf:"extra_headers"`
	ProxyURL     string            `koanf:"proxy_url"`
	Disabled     bool              `koanf:"disabled"`
}

// ModelConfig holds one logical model and its provider mappings.
type ModelConfig struct {
	RequestedModel string                  `koanf:"requested_model"`
	Strategy       string                  `koanf:"strategy"`
	Disabled       bool                    `koanf:"disabled"`
	Billing        *BillingConfig          `koanf:"billing"`
	Providers      []ProviderMappingConfig `koanf:"providers"`
}

// ProviderMappingConfig is one (model, provider) edge.
type ProviderMappingConfig struct {
	ID          int64          `koanf:"id"`
	ProviderID  int64          `koanf:"provider_id"`
	TargetModel string         `koanf:"target_model"`
	Priority    int            `koanf:"priority"`
	Weight      int            `koanf:"weight"`
	Disabled    bool           `koanf:"disabled"`
	Billing     *BillingConfig `koanf:"billing"`
	Rules       *RuleSetConfig `koanf:"rules"`
}

// BillingConfig covers the flat/per-request/per-image billing shapes a
// YAML-seeded deployment configures. Tiered pricing tables stay behind the
// repository interfaces; a deployment that needs them belongs on a real
// store, not a config file.
type BillingConfig struct {
	Mode             string   `koanf:"mode"`
	InputPrice       *float64 `koanf:"input_price"`
	OutputPrice      *float64 `koanf:"output_price"`
	PerRequestPrice  *float64 `koanf:"per_request_price"`
	PerImagePrice    *float64 `koanf:"per_image_price"`
	CacheBilling     *bool    `koanf:"cache_billing"`
	CachedInputPrice *float64 `koanf:"cached_input_price"`
}

// RuleSetConfig mirrors rules.RuleSet for YAML decoding.
type RuleSetConfig struct {
	Logic string       `koanf:"logic"`
	Rules []RuleConfig `koanf:"rules"`
}

// RuleConfig mirrors rules.Rule for YAML decoding.
type RuleConfig struct {
	Field    string `koanf:"field"`
	Operator string `koanf:"operator"`
	Value    any    `koanf:"value"`
}

// Load reads configuration from a YAML file and layers environment
// variable overrides on top: any env var starting with "LLMGATEWAY_"
// overrides the corresponding key (LLMGATEWAY_SERVER_PORT -> server.port).
// Provider api_key values of the form ${VAR_NAME} are expanded from the
// environment after a best-effort .env load.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	if err := k.Load(env.Provider("LLMGATEWAY_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "LLMGATEWAY_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	for i, p := range cfg.Providers {
		cfg.Providers[i].APIKey = expandEnvPlaceholder(p.APIKey)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnvPlaceholder resolves a ${VAR_NAME} placeholder against the
// process environment; any other value passes through untouched.
func expandEnvPlaceholder(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

func (c *Config) validate() error {
	providerIDs := make(map[int64]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == 0 {
			return fmt.Errorf("provider %q: id is required and must be nonzero", p.Name)
		}
		if providerIDs[p.ID] {
			return fmt.Errorf("provider %q: duplicate id %d", p.Name, p.ID)
		}
		providerIDs[p.ID] = true
		if p.BaseURL == "" {
			return fmt.Errorf("provider %q: base_url is required", p.Name)
		}
	}
	for _, m := range c.Models {
		if m.RequestedModel == "" {
			return fmt.Errorf("model entry missing requested_model")
		}
		for _, pm := range m.Providers {
			if !providerIDs[pm.ProviderID] {
				return fmt.Errorf("model %q: mapping references unknown provider id %d", m.RequestedModel, pm.ProviderID)
			}
			if pm.TargetModel == "" {
				return fmt.Errorf("model %q: mapping for provider %d missing target_model", m.RequestedModel, pm.ProviderID)
			}
		}
	}
	return nil
}

// RoutingProviders converts the provider entries into routing.Provider
// records for seeding an in-memory ProviderRepo.
func (c *Config) RoutingProviders() []routing.Provider {
	out := make([]routing.Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		out = append(out, routing.Provider{
			ID:           p.ID,
			Name:         p.Name,
			BaseURL:      p.BaseURL,
			Protocol:     p.Protocol,
			APIKey:       p.APIKey,
			ExtraHeaders: p.ExtraHeaders,
			ProxyURL:     p.ProxyURL,
			IsActive:     !p.Disabled,
		})
	}
	return out
}

// ModelMappings converts the model entries into routing.ModelMapping
// records.
func (c *Config) ModelMappings() []routing.ModelMapping {
	out := make([]routing.ModelMapping, 0, len(c.Models))
	for _, m := range c.Models {
		out = append(out, routing.ModelMapping{
			RequestedModel: m.RequestedModel,
			Strategy:       strategyOrDefault(m.Strategy),
			Billing:        m.Billing.toModelBilling(),
			IsActive:       !m.Disabled,
		})
	}
	return out
}

// ProviderMappings converts every model entry's provider list into
// routing.ProviderMapping records. Mapping ids left at zero in the file
// are assigned sequentially so candidate identity (mapping_id,
// provider_id, target_model) stays unique across the whole file.
func (c *Config) ProviderMappings() []routing.ProviderMapping {
	var out []routing.ProviderMapping
	var nextID int64 = 1
	for _, m := range c.Models {
		for _, pm := range m.Providers {
			id := pm.ID
			if id == 0 {
				id = nextID
			}
			nextID = id + 1
			weight := pm.Weight
			if weight == 0 {
				weight = 1
			}
			out = append(out, routing.ProviderMapping{
				ID:             id,
				RequestedModel: m.RequestedModel,
				ProviderID:     pm.ProviderID,
				ProviderName:   c.providerName(pm.ProviderID),
				TargetModel:    pm.TargetModel,
				Rules:          pm.Rules.toRuleSet(),
				Billing:        pm.Billing.toProviderBilling(),
				Priority:       pm.Priority,
				Weight:         weight,
				IsActive:       !pm.Disabled,
			})
		}
	}
	return out
}

func (c *Config) providerName(id int64) string {
	for _, p := range c.Providers {
		if p.ID == id {
			return p.Name
		}
	}
	return ""
}

func strategyOrDefault(s string) routing.Strategy {
	switch routing.Strategy(s) {
	case routing.RoundRobin, routing.Priority, routing.CostFirst:
		return routing.Strategy(s)
	default:
		return routing.Priority
	}
}

func (b *BillingConfig) toModelBilling() *pricing.ModelBilling {
	if b == nil || b.Mode == "" {
		return nil
	}
	return &pricing.ModelBilling{
		Mode:                pricing.BillingMode(b.Mode),
		InputPrice:          b.InputPrice,
		OutputPrice:         b.OutputPrice,
		PerRequestPrice:     b.PerRequestPrice,
		PerImagePrice:       b.PerImagePrice,
		CacheBillingEnabled: b.CacheBilling,
		CachedInputPrice:    b.CachedInputPrice,
	}
}

func (b *BillingConfig) toProviderBilling() *pricing.ProviderBilling {
	if b == nil || b.Mode == "" {
		return nil
	}
	return &pricing.ProviderBilling{
		Mode:                pricing.BillingMode(b.Mode),
		InputPrice:          b.InputPrice,
		OutputPrice:         b.OutputPrice,
		PerRequestPrice:     b.PerRequestPrice,
		PerImagePrice:       b.PerImagePrice,
		CacheBillingEnabled: b.CacheBilling,
		CachedInputPrice:    b.CachedInputPrice,
	}
}

func (r *RuleSetConfig) toRuleSet() *rules.RuleSet {
	if r == nil || len(r.Rules) == 0 {
		return nil
	}
	out := &rules.RuleSet{Logic: rules.Logic(strings.ToUpper(r.Logic))}
	if out.Logic == "" {
		out.Logic = rules.LogicAND
	}
	for _, rc := range r.Rules {
		out.Rules = append(out.Rules, rules.Rule{
			Field:    rc.Field,
			Operator: rules.Operator(rc.Operator),
			Value:    rc.Value,
		})
	}
	return out
}
