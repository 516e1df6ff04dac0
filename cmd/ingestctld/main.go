// Command ingestctld is the long-running daemon: it owns the scheduler's
// claim loop, cost-estimation sub-loop, and lease reaper. It serves no
// submission endpoint: the CLI opens the job store in-process (wiring here
// is selected from config, the way the teacher's cmd/orchestrator/main.go
// and databases.NewManager pick backends by config string).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"ingestctl/internal/blobstore"
	"ingestctl/internal/config"
	"ingestctl/internal/embedder"
	"ingestctl/internal/extractor"
	extractoranthropic "ingestctl/internal/extractor/anthropic"
	extractorgoogle "ingestctl/internal/extractor/google"
	extractoropenai "ingestctl/internal/extractor/openai"
	"ingestctl/internal/graph"
	"ingestctl/internal/jobstore"
	jobstorememory "ingestctl/internal/jobstore/memory"
	jobstorepostgres "ingestctl/internal/jobstore/postgres"
	"ingestctl/internal/obslog"
	"ingestctl/internal/obsmetrics"
	"ingestctl/internal/ratelimit"
	"ingestctl/internal/scheduler"
	"ingestctl/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("ingestctld")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	obslog.Init(cfg.Observability.LogPath, cfg.Observability.LogLevel)
	logEffectiveConfig(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	jobs, closeJobs, err := buildJobStore(ctx, cfg.JobStore)
	if err != nil {
		return fmt.Errorf("init job store: %w", err)
	}
	defer closeJobs()

	graphStore, vectorIndex, closeGraph, err := buildGraph(ctx, cfg.Graph)
	if err != nil {
		return fmt.Errorf("init graph: %w", err)
	}
	defer closeGraph()

	profiles, err := config.LoadProfiles(cfg.Extractor.ProfilePath)
	if err != nil {
		return fmt.Errorf("load extraction profiles: %w", err)
	}

	extr, err := buildExtractor(ctx, cfg.Extractor)
	if err != nil {
		return fmt.Errorf("init extractor: %w", err)
	}

	emb := buildEmbedder(cfg.Embedder)
	blobs, err := buildBlobStore(ctx)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	limiter, closeLimiter, err := buildRateLimiter(cfg.RateLimit)
	if err != nil {
		return fmt.Errorf("init rate limiter: %w", err)
	}
	defer closeLimiter()

	shutdownOTel, err := obsmetrics.InitOTel(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("init otel metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("otel metrics shutdown")
		}
	}()

	resolver := graph.NewResolver(graphStore, vectorIndex, graph.ResolveConfig{
		MatchThreshold:      cfg.Graph.MatchThreshold,
		TopK:                5,
		OntologyScopedMatch: cfg.Graph.OntologyScopedMatch,
		SearchTermOverlap:   0.5,
		ReuseOnOverlap:      true,
	})

	metrics := obsmetrics.New()

	workerFactory := func(workerID string) *worker.Worker {
		return worker.New(worker.Deps{
			Jobs:                jobs,
			Blobs:               blobs,
			Extractor:           extr,
			Embedder:            emb,
			Resolver:            resolver,
			GraphStore:          graphStore,
			Limiter:             limiter,
			Metrics:             metrics,
			Profiles:            profiles,
			MaxChunkConcurrency: cfg.Scheduler.MaxChunkConcurrency,
			MaxAttempts:         cfg.Extractor.MaxAttempts,
		}, workerID)
	}

	selfID := hostnameOrDefault()
	sched := scheduler.New(jobs, workerFactory, cfg.Scheduler, metrics, selfID)

	if len(cfg.Scheduler.WakeBrokers) > 0 {
		wake := scheduler.NewWakePublisher(ctx, cfg.Scheduler.WakeBrokers, cfg.Scheduler.WakeTopic, "ingestctld-"+selfID)
		sched.SetWakePublisher(wake)
		log.Info().Strs("brokers", cfg.Scheduler.WakeBrokers).Str("topic", cfg.Scheduler.WakeTopic).Msg("wake channel enabled")
	}

	log.Info().Str("self_id", selfID).Int("max_concurrent_jobs", cfg.Scheduler.MaxConcurrentJobs).Msg("ingestctld starting")
	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("scheduler stopped: %w", err)
	}
	log.Info().Msg("ingestctld stopped")
	return nil
}

// logEffectiveConfig logs the resolved configuration at startup with API
// keys and DSNs redacted, so operators can confirm wiring without secrets
// ending up in log aggregation.
func logEffectiveConfig(cfg config.Config) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("could not marshal config for startup log")
		return
	}
	log.Info().RawJSON("config", obslog.RedactJSON(raw)).Msg("effective configuration")
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "ingestctld"
	}
	return h
}

func buildJobStore(ctx context.Context, cfg config.JobStoreConfig) (jobstore.Store, func(), error) {
	switch cfg.Backend {
	case "memory":
		if !cfg.AllowNonDurable {
			return nil, nil, fmt.Errorf("jobstore: memory backend requires JOBSTORE_ALLOW_NONDURABLE=true")
		}
		return jobstorememory.New(), func() {}, nil
	case "postgres", "":
		store, err := jobstorepostgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("jobstore: unknown backend %q", cfg.Backend)
	}
}

func buildGraph(ctx context.Context, cfg config.GraphConfig) (graph.Store, graph.VectorIndex, func(), error) {
	var store graph.Store
	var pool *pgxpool.Pool
	closeFns := []func(){}

	switch cfg.Backend {
	case "memory":
		store = graph.NewMemoryStore()
	case "postgres", "":
		p, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("graph: connecting to postgres: %w", err)
		}
		pool = p
		closeFns = append(closeFns, pool.Close)
		pgStore, err := graph.NewPostgresStore(ctx, pool)
		if err != nil {
			return nil, nil, nil, err
		}
		store = pgStore
	default:
		return nil, nil, nil, fmt.Errorf("graph: unknown backend %q", cfg.Backend)
	}

	var index graph.VectorIndex
	switch cfg.VectorBackend {
	case "memory":
		index = graph.NewMemoryVectorIndex()
	case "qdrant":
		qi, err := graph.NewQdrantVectorIndex(cfg.QdrantAddr, "concepts", 0)
		if err != nil {
			return nil, nil, nil, err
		}
		index = qi
	case "pgvector", "":
		if pool == nil {
			p, err := pgxpool.New(ctx, cfg.DSN)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("graph: connecting to postgres for pgvector: %w", err)
			}
			pool = p
			closeFns = append(closeFns, pool.Close)
		}
		pvi, err := graph.NewPGVectorIndex(ctx, pool, 0)
		if err != nil {
			return nil, nil, nil, err
		}
		index = pvi
	default:
		return nil, nil, nil, fmt.Errorf("graph: unknown vector backend %q", cfg.VectorBackend)
	}

	closeAll := func() {
		for _, fn := range closeFns {
			fn()
		}
	}
	return store, index, closeAll, nil
}

func buildExtractor(ctx context.Context, cfg config.ExtractorConfig) (extractor.Extractor, error) {
	switch cfg.Provider {
	case "openai":
		return extractoropenai.New(cfg.APIKey, cfg.BaseURL), nil
	case "google":
		return extractorgoogle.New(ctx, cfg.APIKey)
	case "anthropic", "":
		return extractoranthropic.New(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("extractor: unknown provider %q", cfg.Provider)
	}
}

func buildEmbedder(cfg config.EmbedderConfig) embedder.Embedder {
	switch cfg.Provider {
	case "deterministic":
		return embedder.NewDeterministic(cfg.Dimension, 1)
	case "openai", "":
		return embedder.NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimension)
	default:
		return embedder.NewDeterministic(cfg.Dimension, 1)
	}
}

func buildBlobStore(ctx context.Context) (blobstore.Resolver, error) {
	s3, err := blobstore.NewS3(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("s3 blob store unavailable, falling back to in-memory (blob-ref inputs will fail)")
		return blobstore.NewMemory(), nil
	}
	return s3, nil
}

func buildRateLimiter(cfg config.RateLimitConfig) (ratelimit.Bucket, func(), error) {
	switch cfg.Backend {
	case "redis":
		r, err := ratelimit.NewRedis(cfg.RedisAddr, ratelimit.Config{RefillPerS: cfg.RefillPerS, BucketSize: cfg.BucketSize})
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	case "memory", "":
		return ratelimit.NewMemory(ratelimit.Config{RefillPerS: cfg.RefillPerS, BucketSize: cfg.BucketSize}), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("ratelimit: unknown backend %q", cfg.Backend)
	}
}
