// Package main is the entry point for the llmgateway process: it loads
// configuration, assembles the codec and supplier registries, seeds the
// in-memory repositories, and serves the three chat endpoints.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/wayfare-ai/llmgateway/internal/config"
	"github.com/wayfare-ai/llmgateway/internal/kvstore"
	"github.com/wayfare-ai/llmgateway/internal/orchestrator"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
	"github.com/wayfare-ai/llmgateway/internal/protocol/anthropic"
	"github.com/wayfare-ai/llmgateway/internal/protocol/gemini"
	"github.com/wayfare-ai/llmgateway/internal/protocol/openaichat"
	"github.com/wayfare-ai/llmgateway/internal/protocol/openairesponses"
	"github.com/wayfare-ai/llmgateway/internal/repo/memory"
	"github.com/wayfare-ai/llmgateway/internal/server"
	"github.com/wayfare-ai/llmgateway/internal/supplier"
)

// requestLogCapacity bounds the in-memory request-log ring. A deployment
// with a real store swaps memory.LogRepo out behind repo.LogRepo.
const requestLogCapacity = 10000

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Codec registry: one Decoder/Encoder pair per wire protocol. Gemini is
	// provider-side only; the other three also serve client endpoints.
	codecs := protocol.NewRegistry()
	for name, codec := range map[protocol.Name]protocol.Codec{
		protocol.OpenAIChat:        {Decoder: openaichat.New(), Encoder: openaichat.New()},
		protocol.OpenAIResponses:   {Decoder: openairesponses.New(), Encoder: openairesponses.New()},
		protocol.AnthropicMessages: {Decoder: anthropic.New(), Encoder: anthropic.New()},
		protocol.Gemini:            {Decoder: gemini.New(), Encoder: gemini.New()},
	} {
		codecs.Register(name, codec)
	}

	// Supplier registry: one wire client per provider protocol string.
	suppliers := supplier.NewRegistry()
	suppliers.Register("openai", supplier.NewOpenAIClient(http.DefaultClient))
	suppliers.Register("openai_responses", supplier.NewOpenAIClient(http.DefaultClient))
	suppliers.Register("anthropic", supplier.NewAnthropicClient(http.DefaultClient))
	suppliers.Register("gemini", supplier.NewGeminiClient(http.DefaultClient))

	// Repositories, seeded from config.
	models := memory.NewModelRepo(cfg.ModelMappings(), cfg.ProviderMappings())
	providers := memory.NewProviderRepo(cfg.RoutingProviders())
	logs := memory.NewLogRepo(requestLogCapacity)

	orch := orchestrator.New(codecs, suppliers, models, providers, logs, orchestrator.RetryConfig{
		MaxRetries:   cfg.Retry.MaxRetries,
		RetryDelayMs: cfg.Retry.RetryDelayMs,
	})

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		prefix := cfg.Redis.KeyPrefix
		if prefix == "" {
			prefix = "llmgateway:continuation:"
		}
		orch.UseContinuationStore(kvstore.NewRedisStore(client, prefix))
		log.Printf("continuation store enabled at %s", cfg.Redis.Addr)
	}

	for _, m := range cfg.ModelMappings() {
		log.Printf("registered model %q (strategy %s)", m.RequestedModel, m.Strategy)
	}

	srv := server.New(cfg, orch)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("llmgateway listening on :%d", cfg.Server.Port)

	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
