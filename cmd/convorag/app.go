package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xxxsen/convorag/internal/ai"
	"github.com/xxxsen/convorag/internal/chunker"
	"github.com/xxxsen/convorag/internal/config"
	"github.com/xxxsen/convorag/internal/db"
	"github.com/xxxsen/convorag/internal/embedcache"
	"github.com/xxxsen/convorag/internal/repo"
	"github.com/xxxsen/convorag/internal/segmentstore"
	"github.com/xxxsen/convorag/internal/service"
	"github.com/xxxsen/convorag/internal/vectorstore"
)

type app struct {
	cfg       *config.Config
	db        *sql.DB
	registry  *prometheus.Registry
	cacheRepo *repo.EmbeddingCacheRepo
	vectors   *vectorstore.Store
	indexer   *service.Indexer
	qa        *service.QAService
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

func loadApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logutil.GetLogger(ctx)
	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a := &app{cfg: cfg, db: conn}
	if err := db.ApplyMigrations(ctx, conn); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	segments, err := segmentstore.New(cfg.SegmentStore)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init segment store: %w", err)
	}
	vectors, err := vectorstore.New(cfg.VectorStore, conn)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init vector store: %w", err)
	}
	if err := vectors.EnsureCollection(ctx); err != nil {
		logger.Warn("vector store not ready, will retry on health check",
			zap.String("backend", vectors.BackendName()), zap.Error(err))
	}
	a.vectors = vectors

	a.cacheRepo = repo.NewEmbeddingCacheRepo(conn)
	embedder, err := buildEmbedder(cfg, a.cacheRepo)
	if err != nil {
		a.Close()
		return nil, err
	}
	generator, err := buildGenerator(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := service.NewMetrics(a.registry)

	store := service.NewRepoStore(repo.NewTranscriptRepo(conn), repo.NewFolderRepo(conn), segments)
	ch := chunker.New(chunker.Config{
		MaxTokens:     cfg.Chunking.MaxTokens,
		OverlapTokens: cfg.Chunking.OverlapTokens,
		MinChunkSize:  cfg.Chunking.MinChunkSize,
	})
	a.indexer = service.NewIndexer(store, vectors, embedder, ch, service.IndexerOptions{
		IndexVersion: cfg.Indexing.IndexVersion,
		Metrics:      metrics,
	})
	retriever := service.NewRetriever(a.indexer, store, store, vectors, embedder, service.RetrieverOptions{
		ScoreThreshold: cfg.Retrieval.ScoreThreshold,
		IndexWorkers:   cfg.Indexing.Workers,
	})
	synth := service.NewSynthesizer(generator, service.SynthesizerOptions{
		MaxTokens:           cfg.LLM.MaxTokens,
		PromptCostPer1K:     cfg.LLM.PromptCostPer1K,
		CompletionCostPer1K: cfg.LLM.CompletionCostPer1K,
		HistoryLimit:        cfg.Retrieval.HistoryLimit,
		HistoryAnswerChars:  cfg.Retrieval.HistoryAnswerChars,
		Metrics:             metrics,
	})
	a.qa = service.NewQAService(retriever, a.indexer, synth, store, store, vectors, service.QAOptions{
		ConversationLimit: cfg.Retrieval.ConversationLimit,
		FolderLimit:       cfg.Retrieval.FolderLimit,
		GlobalLimit:       cfg.Retrieval.GlobalLimit,
		DiscoveryLimit:    cfg.Retrieval.DiscoveryLimit,
		MaxResults:        cfg.Retrieval.MaxResults,
		MaxQuestionChars:  cfg.Retrieval.MaxQuestionChars,
		Metrics:           metrics,
	})
	logger.Info("services ready",
		zap.String("vector_store", vectors.BackendName()),
		zap.String("segment_store", cfg.SegmentStore.Type),
		zap.String("embed_model", embedder.ModelName()),
		zap.Int("index_version", a.indexer.IndexVersion()),
	)
	return a, nil
}

func retryConfig(cfg config.RetryConfig) ai.RetryConfig {
	out := ai.DefaultRetryConfig()
	out.MaxRetries = cfg.MaxRetries
	if cfg.InitialIntervalMS > 0 {
		out.InitialInterval = time.Duration(cfg.InitialIntervalMS) * time.Millisecond
	}
	if cfg.MaxIntervalMS > 0 {
		out.MaxInterval = time.Duration(cfg.MaxIntervalMS) * time.Millisecond
	}
	return out
}

func providerName(p config.ProviderConfig) string {
	if p.Name != "" {
		return p.Name
	}
	return p.Provider + ":" + p.Model
}

// buildEmbedder wires providers behind a fallback group, then the DB cache
// and finally the in-process LRU, so lookups hit memory first.
func buildEmbedder(cfg *config.Config, cacheRepo embedcache.ICacheRepo) (ai.IEmbedder, error) {
	var limiter *rate.Limiter
	if cfg.Embedding.RequestsPerSecond > 0 {
		burst := cfg.Embedding.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Embedding.RequestsPerSecond), burst)
	}
	items := make([]ai.EmbedderEntry, 0, len(cfg.Embedding.Providers))
	for _, p := range cfg.Embedding.Providers {
		provider, err := ai.NewEmbedProvider(p.Provider, p.Data)
		if err != nil {
			return nil, fmt.Errorf("init embed provider %s: %w", providerName(p), err)
		}
		items = append(items, ai.EmbedderEntry{
			Name: providerName(p),
			Embedder: ai.NewEmbedder(provider, p.Model, ai.EmbedderOptions{
				Dimension: cfg.VectorStore.Dimension,
				BatchSize: cfg.Embedding.BatchSize,
				Limiter:   limiter,
				Retry:     retryConfig(cfg.Embedding.Retry),
			}),
		})
	}
	embedder, err := ai.NewGroupEmbedder(items)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	if cfg.Embedding.DBCache {
		embedder = embedcache.WrapDBCacheToEmbedder(embedder, cacheRepo)
	}
	ttl := time.Duration(cfg.Embedding.LruCacheTTLSec) * time.Second
	return embedcache.WrapLruCacheToEmbedder(embedder, cfg.Embedding.LruCacheSize, ttl), nil
}

func buildGenerator(cfg *config.Config) (ai.IGenerator, error) {
	items := make([]ai.GeneratorEntry, 0, len(cfg.LLM.Providers))
	for _, p := range cfg.LLM.Providers {
		provider, err := ai.NewProvider(p.Provider, p.Data)
		if err != nil {
			return nil, fmt.Errorf("init llm provider %s: %w", providerName(p), err)
		}
		items = append(items, ai.GeneratorEntry{
			Name: providerName(p),
			Generator: ai.NewGenerator(provider, p.Model, ai.GeneratorOptions{
				Timeout: time.Duration(cfg.LLM.TimeoutSec) * time.Second,
				Retry:   retryConfig(cfg.LLM.Retry),
			}),
		})
	}
	return ai.NewGroupGenerator(items), nil
}
