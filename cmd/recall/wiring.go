// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pdiddy/recall-engine/internal/capability"
	"github.com/pdiddy/recall-engine/internal/classify"
	"github.com/pdiddy/recall-engine/internal/logger"
	"github.com/pdiddy/recall-engine/internal/pipeline"
	"github.com/pdiddy/recall-engine/internal/search"
	"github.com/pdiddy/recall-engine/internal/server"
	"github.com/pdiddy/recall-engine/internal/summary"
	"github.com/pdiddy/recall-engine/internal/tagging"
	"github.com/pdiddy/recall-engine/internal/vectorstore"
	"github.com/pdiddy/recall-engine/pkg/types"
)

// components holds everything built from the config for one command run.
type components struct {
	store    vectorstore.Store
	ingestor *pipeline.Ingestor
	engine   *search.Engine
	summary  *summary.Generator
	service  *pipeline.Service
	checks   map[string]server.Check
	closers  []io.Closer
}

func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// build wires the pipeline from cfg. The caller must Close the result.
func build(ctx context.Context, cfg types.Config, log *logger.Logger) (*components, error) {
	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	c := &components{checks: map[string]server.Check{}}

	store, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return nil, err
	}
	c.store = store
	c.closers = append(c.closers, store)
	c.checks["store"] = func(ctx context.Context) error {
		_, err := store.GetByID(ctx, "health-check")
		if err == nil || errors.Is(err, vectorstore.ErrNotFound) {
			return nil
		}
		return err
	}

	gen, err := newGenerator(ctx, cfg.AI)
	if err != nil {
		c.Close()
		return nil, err
	}
	if cl, ok := gen.(io.Closer); ok {
		c.closers = append(c.closers, cl)
	}

	emb, err := c.newEmbedder(ctx, cfg, log)
	if err != nil {
		c.Close()
		return nil, err
	}

	p := pipeline.PoliciesFor(cfg.Pipeline)
	c.ingestor = pipeline.NewIngestor(
		classify.New(gen, p.Classify, log),
		tagging.New(gen, p.Tag, log),
		emb, store, p, log,
	)
	c.engine = search.NewEngine(emb, store, search.Options{
		FetchFactor: cfg.Pipeline.SearchFetchFactor,
		EmbedPolicy: p.Embed,
		StorePolicy: p.Search,
	}, log)
	c.summary = summary.New(gen, summary.Options{
		MaxSources: cfg.Pipeline.MaxSummarySources,
		Policy:     p.Summary,
	}, log)

	c.service, err = pipeline.New(cfg.Pipeline, c.ingestor, c.engine, c.summary, log)
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func openStore(ctx context.Context, sc types.VectorStoreConfig, log *logger.Logger) (vectorstore.Store, error) {
	switch sc.Backend {
	case types.BackendSQLite, "":
		return vectorstore.NewSQLiteStore(sc.SQLitePath, sc.Dimension)
	case types.BackendQdrant:
		return vectorstore.NewQdrantStore(ctx, vectorstore.QdrantConfig{
			URL:        sc.QdrantURL,
			Collection: sc.QdrantCollection,
			APIKey:     sc.QdrantAPIKey,
			Dimension:  sc.Dimension,
		}, log)
	case types.BackendMongo:
		s, err := vectorstore.NewMongoStore(ctx, vectorstore.MongoConfig{
			URI:         sc.MongoURI,
			Database:    sc.MongoDatabase,
			Collection:  sc.MongoCollection,
			VectorIndex: sc.MongoVectorIndex,
			Dimension:   sc.Dimension,
		}, log)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureIndex(ctx); err != nil {
			log.Warn("could not ensure vector search index", "error", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown vector store backend %q", sc.Backend)
}

func newGenerator(ctx context.Context, ai types.AIConfig) (capability.Generator, error) {
	switch ai.Provider {
	case types.ProviderClaude, "":
		if ai.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic API key is required: set ANTHROPIC_API_KEY or .secrets/anthropic-api-key")
		}
		return &capability.ClaudeGenerator{APIKey: ai.AnthropicAPIKey, Model: ai.Model}, nil
	case types.ProviderOpenAI:
		if ai.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key is required: set OPENAI_API_KEY or .secrets/openai-api-key")
		}
		return &capability.OpenAIClient{APIKey: ai.OpenAIAPIKey, BaseURL: ai.OpenAIBaseURL, Model: ai.Model}, nil
	case types.ProviderVertex:
		return capability.NewVertexGenerator(ctx, vertexConfig(ai, ai.Model))
	}
	return nil, fmt.Errorf("unknown generation provider %q", ai.Provider)
}

func (c *components) newEmbedder(ctx context.Context, cfg types.Config, log *logger.Logger) (capability.Embedder, error) {
	ai := cfg.AI
	var emb capability.Embedder
	switch ai.EmbedProvider {
	case types.ProviderOpenAI, "":
		if ai.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key is required for embeddings: set OPENAI_API_KEY or .secrets/openai-api-key")
		}
		emb = &capability.OpenAIClient{APIKey: ai.OpenAIAPIKey, BaseURL: ai.OpenAIBaseURL, EmbedModel: ai.EmbedModel}
	case types.ProviderVertex:
		v, err := capability.NewVertexEmbedder(ctx, vertexConfig(ai, ai.EmbedModel))
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, v)
		emb = v
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", ai.EmbedProvider)
	}

	if cfg.Cache.RedisAddr == "" {
		return emb, nil
	}
	rdb, err := capability.DialRedis(ctx, cfg.Cache.RedisAddr)
	if err != nil {
		log.Warn("embedding cache disabled", "addr", cfg.Cache.RedisAddr, "error", err)
		return emb, nil
	}
	c.closers = append(c.closers, rdb)
	c.checks["cache"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	return capability.NewCachedEmbedder(emb, rdb, string(ai.EmbedProvider)+"/"+ai.EmbedModel, cfg.Cache.TTL, log), nil
}

func vertexConfig(ai types.AIConfig, model string) capability.VertexConfig {
	return capability.VertexConfig{
		ProjectID:       ai.ProjectID,
		Location:        ai.Location,
		Model:           model,
		CredentialsFile: ai.CredentialsFile,
	}
}
