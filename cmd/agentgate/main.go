// The agentgate gateway: syncs the on-chain agent catalog into a vector
// index and serves discovery queries over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agentgate/agentgate/internal/api"
	"github.com/agentgate/agentgate/internal/capability"
	"github.com/agentgate/agentgate/internal/classify"
	"github.com/agentgate/agentgate/internal/config"
	"github.com/agentgate/agentgate/internal/embedding"
	"github.com/agentgate/agentgate/internal/graph"
	"github.com/agentgate/agentgate/internal/provider"
	"github.com/agentgate/agentgate/internal/reachability"
	"github.com/agentgate/agentgate/internal/reputation"
	"github.com/agentgate/agentgate/internal/scheduler"
	"github.com/agentgate/agentgate/internal/search"
	"github.com/agentgate/agentgate/internal/store"
	agentsync "github.com/agentgate/agentgate/internal/sync"
	"github.com/agentgate/agentgate/internal/telemetry"
	"github.com/agentgate/agentgate/internal/vectorstore"
)

var (
	version = "dev"
	commit  = "none"
)

const (
	openaiEmbedURL  = "https://api.openai.com/v1/embeddings"
	voyageEmbedURL  = "https://api.voyageai.com/v1/embeddings"
	voyageRerankURL = "https://api.voyageai.com/v1/rerank"

	defaultOpenAIEmbedModel = "text-embedding-3-small"
	defaultVoyageEmbedModel = "voyage-3"
	defaultRerankModel      = "rerank-2.5"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("AGENTGATE_CONFIG")
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting agentgate",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("environment", cfg.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	st, err := store.Open(cfg.DatabaseDSN, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	vectors, err := vectorstore.New(vectorstore.Config{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
		Collection: cfg.Qdrant.Collection,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect vector store: %w", err)
	}
	defer vectors.Close()

	if err := vectors.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	var graphClient *graph.Client
	if cfg.Graph.URL != "" {
		graphClient = graph.New(cfg.Graph.URL, logger)
	}

	embedder := buildEmbedder(cfg, logger)

	llm, err := provider.New(cfg.LLM.Provider, cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		return fmt.Errorf("build llm provider: %w", err)
	}

	guard := &capability.Guard{
		AllowHTTP:    cfg.AllowHTTPEndpoints,
		AllowPrivate: cfg.AllowPrivateEndpoints,
	}
	cards := capability.NewFetcher(guard, logger)

	reach := reachability.NewEvaluator(st)
	rep := reputation.NewService(st, vectors, logger)

	classifier := classify.NewClassifier(llm, cfg.LLM.Model, logger)
	consumer := classify.NewConsumer(st, classifier, graphClient, vectors, logger)

	planner := buildPlanner(cfg, vectors, embedder, llm, logger)

	graphSyncer := agentsync.NewGraphSyncer(graphClient, st, vectors, embedder, cards, reach, logger)
	relational := agentsync.NewRelationalSyncer(st, vectors, logger)
	feedback := agentsync.NewFeedbackSyncer(graphClient, st, rep, logger)
	reconciler := agentsync.NewReconciler(graphClient, st, vectors, graphSyncer, logger)

	var sched *scheduler.Scheduler
	if graphClient != nil {
		sched = scheduler.New(st, scheduler.DefaultJobs(scheduler.Workers{
			Graph:      graphSyncer,
			Relational: relational,
			Feedback:   feedback,
			Reconcile:  reconciler,
			Classify:   consumer,
			Store:      st,
		}), logger)
		sched.Start(ctx)
		defer sched.Stop()
	} else {
		logger.Warn("graph endpoint not configured, background sync disabled")
	}

	var graphHealth api.HealthChecker
	if graphClient != nil {
		graphHealth = graphClient
	}

	srv := api.NewServer(api.ServerConfig{
		ListenAddr: cfg.ListenAddr,
		RateLimit: api.RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Tiers:             cfg.RateLimit.Tiers,
		},
		LLMConfigured: cfg.LLM.APIKey != "",
		Version:       version,
	}, planner, vectors, st, graphHealth, logger)

	return srv.Start(ctx)
}

// buildEmbedder picks the primary and fallback providers from the configured
// keys. Voyage is primary when both keys are present.
func buildEmbedder(cfg config.Config, logger *zap.Logger) *embedding.Client {
	var voyage, openai embedding.Provider
	if cfg.Embedding.VoyageKey != "" {
		model := cfg.Embedding.Model
		if model == "" {
			model = defaultVoyageEmbedModel
		}
		voyage = embedding.NewVoyageProvider(voyageEmbedURL, cfg.Embedding.VoyageKey, model)
	}
	if cfg.Embedding.OpenAIKey != "" {
		model := cfg.Embedding.Model
		if model == "" {
			model = defaultOpenAIEmbedModel
		}
		openai = embedding.NewOpenAIProvider(openaiEmbedURL, cfg.Embedding.OpenAIKey, model)
	}

	if voyage != nil {
		return embedding.NewClient(voyage, openai, logger)
	}
	return embedding.NewClient(openai, nil, logger)
}

func buildPlanner(cfg config.Config, vectors search.VectorIndex, embedder search.Embedder, llm provider.Provider, logger *zap.Logger) *search.Planner {
	var hyde *search.HyDE
	if cfg.Search.HyDEEnabled {
		model := cfg.Search.HyDEModel
		if model == "" {
			model = cfg.LLM.Model
		}
		hyde = search.NewHyDE(llm, model, logger)
	}

	var reranker search.Reranker
	if cfg.HasReranker() {
		endpoint := cfg.Search.RerankerURL
		if endpoint == "" {
			endpoint = voyageRerankURL
		}
		model := cfg.Search.RerankerModel
		if model == "" {
			model = defaultRerankModel
		}
		reranker = search.NewVoyageReranker(endpoint, cfg.Embedding.VoyageKey, model)
	}

	return search.NewPlanner(vectors, embedder, hyde, reranker, search.Options{
		HyDEEnabled:     cfg.Search.HyDEEnabled,
		RerankerEnabled: cfg.HasReranker(),
	}, logger)
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
