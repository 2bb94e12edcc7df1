package app

import (
	"context"
	"fmt"

	"github.com/docmesh/graphrag-backend/internal/clients/anthropic"
	"github.com/docmesh/graphrag-backend/internal/clients/openai"
	redisbus "github.com/docmesh/graphrag-backend/internal/clients/redis"
	"github.com/docmesh/graphrag-backend/internal/data/graph"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
	"github.com/docmesh/graphrag-backend/internal/platform/neo4jdb"
	"github.com/docmesh/graphrag-backend/internal/providers"
)

type Clients struct {
	Neo4j   *neo4jdb.Client
	Graph   graph.DocumentGraph
	Factory providers.Factory
	JobsBus redisbus.JobsBus
}

// wireClients builds the vendor clients from the environment. A provider with
// no API key configured is skipped with a warning; at least one provider and
// the Neo4j store are required.
func wireClients(ctx context.Context, log *logger.Logger) (Clients, error) {
	neo, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init neo4j: %w", err)
	}
	if neo == nil {
		return Clients{}, fmt.Errorf("NEO4J_URI is required")
	}

	documentGraph := graph.NewDocumentGraph(neo, log)
	if err := documentGraph.EnsureSchema(ctx); err != nil {
		return Clients{}, fmt.Errorf("ensure graph schema: %w", err)
	}

	var pc providers.Clients

	openaiClient, err := openai.NewClient(log, openai.Config{EnvPrefix: "OPENAI"})
	if err != nil {
		log.Warn("OpenAI client disabled", "error", err)
	} else {
		pc.OpenAI = openaiClient
		pc.Embedder = openaiClient
	}

	anthropicClient, err := anthropic.NewClient(log)
	if err != nil {
		log.Warn("Anthropic client disabled", "error", err)
	} else {
		pc.Anthropic = anthropicClient
	}

	kimiClient, err := openai.NewClient(log, openai.Config{
		EnvPrefix:      "KIMI",
		DefaultBaseURL: "https://api.moonshot.ai",
		DefaultModel:   "moonshot-v1-32k",
	})
	if err != nil {
		log.Warn("Kimi client disabled", "error", err)
	} else {
		pc.Kimi = kimiClient
	}

	deepseekClient, err := openai.NewClient(log, openai.Config{
		EnvPrefix:      "DEEPSEEK",
		DefaultBaseURL: "https://api.deepseek.com",
		DefaultModel:   "deepseek-chat",
	})
	if err != nil {
		log.Warn("DeepSeek client disabled", "error", err)
	} else {
		pc.DeepSeek = deepseekClient
	}

	factory, err := providers.NewFactory(log, pc)
	if err != nil {
		return Clients{}, fmt.Errorf("init provider factory: %w", err)
	}

	// Redis is optional; without it progress events are poll-only.
	bus, err := redisbus.NewJobsBus(log)
	if err != nil {
		log.Warn("Redis jobs bus disabled", "error", err)
		bus = nil
	}

	return Clients{
		Neo4j:   neo,
		Graph:   documentGraph,
		Factory: factory,
		JobsBus: bus,
	}, nil
}
