// Package config loads ingestctl's runtime configuration from the process
// environment (with an optional .env overlay), following the env-var-driven
// loader idiom rather than a monolithic YAML tree.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// JobStoreConfig selects and tunes the durable job queue backend.
type JobStoreConfig struct {
	// Backend is one of "postgres", "memory".
	Backend string
	DSN     string
	// AllowNonDurable must be explicitly set for the memory backend to run
	// unattended background workers against it.
	AllowNonDurable bool
	RetentionWindow time.Duration
}

// GraphConfig selects the property-graph and vector-index backends.
type GraphConfig struct {
	// Backend is one of "postgres", "memory".
	Backend string
	DSN     string
	// VectorBackend is one of "pgvector", "qdrant", "memory".
	VectorBackend  string
	QdrantAddr     string
	QdrantUseTLS   bool
	MatchThreshold float64
	// OntologyScopedMatch restricts top-K concept search to the same
	// ontology; true by default per §4.E step 3.
	OntologyScopedMatch bool
}

// ExtractorConfig selects the LLM extraction backend and its profile.
type ExtractorConfig struct {
	// Provider is one of "anthropic", "openai", "google".
	Provider    string
	APIKey      string
	BaseURL     string
	ProfilePath string
	Timeout     time.Duration
	// MaxAttempts bounds chunk-level retries on Transient/RateLimited errors
	// before escalating to Permanent (§7, default 5).
	MaxAttempts int
}

// Profile is one entry of the extraction-profile YAML file (§6.2).
type Profile struct {
	Name        string  `yaml:"name"`
	ModelID     string  `yaml:"model_id"`
	Thinking    bool    `yaml:"thinking_mode"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	// InputPricePerMTok / OutputPricePerMTok feed the cost estimator (§4.D.3).
	InputPricePerMTok  float64 `yaml:"input_price_per_mtok"`
	OutputPricePerMTok float64 `yaml:"output_price_per_mtok"`
}

// EmbedderConfig selects the embedding backend.
type EmbedderConfig struct {
	// Provider is one of "openai", "deterministic".
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// SchedulerConfig bounds concurrency, per §4.C/§5.
type SchedulerConfig struct {
	MaxConcurrentJobs   int
	MaxChunkConcurrency int
	LeaseDuration       time.Duration
	ReaperInterval      time.Duration
	MaxRetries          int
	ApprovalTTL         time.Duration
	// WakeBrokers, when non-empty, enables the non-durable Kafka wake
	// channel that nudges idle workers when a job becomes approved.
	WakeBrokers []string
	WakeTopic   string
}

// RateLimitConfig configures the per-(provider, model) token bucket.
type RateLimitConfig struct {
	// Backend is one of "redis", "memory".
	Backend     string
	RedisAddr   string
	RefillPerS  float64
	BucketSize  float64
}

// ObservabilityConfig configures logging/metrics. OTLPEndpoint is optional:
// when empty, metrics are collected against the SDK's no-op provider and
// every counter/histogram call is a deliberate discard rather than a wired
// export (useful for local/dev runs with nothing scraping OTLP).
type ObservabilityConfig struct {
	LogLevel       string
	LogPath        string
	OTLPEndpoint   string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Config is the root configuration struct, captured once at startup and
// passed by value into every worker goroutine (§9 "global state → config
// structs").
type Config struct {
	JobStore      JobStoreConfig
	Graph         GraphConfig
	Extractor     ExtractorConfig
	Embedder      EmbedderConfig
	Scheduler     SchedulerConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

// Load reads configuration from the environment, optionally overlaying a
// .env file first (dev convenience only; real secrets are expected to be
// delivered as actual environment variables per spec.md's external-secrets
// boundary).
func Load() (Config, error) {
	if path := os.Getenv("INGESTCTL_DOTENV"); path != "" {
		_ = godotenv.Overload(path)
	} else {
		_ = godotenv.Overload()
	}

	cfg := Config{
		JobStore: JobStoreConfig{
			Backend:         getEnvDefault("JOBSTORE_BACKEND", "postgres"),
			DSN:             os.Getenv("JOBSTORE_DSN"),
			AllowNonDurable: getBoolDefault("JOBSTORE_ALLOW_NONDURABLE", false),
			RetentionWindow: getDurationDefault("JOBSTORE_RETENTION", 30*24*time.Hour),
		},
		Graph: GraphConfig{
			Backend:             getEnvDefault("GRAPH_BACKEND", "postgres"),
			DSN:                 os.Getenv("GRAPH_DSN"),
			VectorBackend:       getEnvDefault("GRAPH_VECTOR_BACKEND", "pgvector"),
			QdrantAddr:          os.Getenv("QDRANT_ADDR"),
			QdrantUseTLS:        getBoolDefault("QDRANT_USE_TLS", false),
			MatchThreshold:      getFloatDefault("GRAPH_MATCH_THRESHOLD", 0.85),
			OntologyScopedMatch: getBoolDefault("GRAPH_ONTOLOGY_SCOPED_MATCH", true),
		},
		Extractor: ExtractorConfig{
			Provider:    getEnvDefault("EXTRACTOR_PROVIDER", "anthropic"),
			APIKey:      os.Getenv("EXTRACTOR_API_KEY"),
			BaseURL:     os.Getenv("EXTRACTOR_BASE_URL"),
			ProfilePath: getEnvDefault("EXTRACTOR_PROFILE_PATH", "extraction_profiles.yaml"),
			Timeout:     getDurationDefault("EXTRACTOR_TIMEOUT", 120*time.Second),
			MaxAttempts: getIntDefault("EXTRACTOR_MAX_ATTEMPTS", 5),
		},
		Embedder: EmbedderConfig{
			Provider:  getEnvDefault("EMBEDDER_PROVIDER", "openai"),
			APIKey:    os.Getenv("EMBEDDER_API_KEY"),
			BaseURL:   os.Getenv("EMBEDDER_BASE_URL"),
			Model:     getEnvDefault("EMBEDDER_MODEL", "text-embedding-3-small"),
			Dimension: getIntDefault("EMBEDDER_DIMENSION", 1536),
			Timeout:   getDurationDefault("EMBEDDER_TIMEOUT", 10*time.Second),
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentJobs:   getIntDefault("MAX_CONCURRENT_JOBS", 4),
			MaxChunkConcurrency: getIntDefault("MAX_CHUNK_CONCURRENCY", 4),
			LeaseDuration:       getDurationDefault("LEASE_DURATION", 5*time.Minute),
			ReaperInterval:      getDurationDefault("REAPER_INTERVAL", 30*time.Second),
			MaxRetries:          getIntDefault("MAX_LEASE_RETRIES", 3),
			ApprovalTTL:         getDurationDefault("APPROVAL_TTL", 24*time.Hour),
			WakeBrokers:         splitCSV(os.Getenv("KAFKA_BROKERS")),
			WakeTopic:           getEnvDefault("KAFKA_WAKE_TOPIC", "ingestctl.jobs.approved"),
		},
		RateLimit: RateLimitConfig{
			Backend:    getEnvDefault("RATELIMIT_BACKEND", "memory"),
			RedisAddr:  os.Getenv("REDIS_ADDR"),
			RefillPerS: getFloatDefault("RATELIMIT_REFILL_PER_S", 2),
			BucketSize: getFloatDefault("RATELIMIT_BUCKET_SIZE", 10),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnvDefault("LOG_LEVEL", "info"),
			LogPath:        os.Getenv("LOG_PATH"),
			OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName:    getEnvDefault("OTEL_SERVICE_NAME", "ingestctld"),
			ServiceVersion: getEnvDefault("OTEL_SERVICE_VERSION", "dev"),
			Environment:    getEnvDefault("OTEL_ENVIRONMENT", "development"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.JobStore.Backend == "postgres" && c.JobStore.DSN == "" {
		return fmt.Errorf("config: JOBSTORE_DSN is required when JOBSTORE_BACKEND=postgres")
	}
	if c.JobStore.Backend == "memory" && !c.JobStore.AllowNonDurable {
		return fmt.Errorf("config: JOBSTORE_BACKEND=memory requires JOBSTORE_ALLOW_NONDURABLE=true")
	}
	if c.Scheduler.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("config: MAX_CONCURRENT_JOBS must be positive")
	}
	if c.Scheduler.MaxChunkConcurrency <= 0 {
		return fmt.Errorf("config: MAX_CHUNK_CONCURRENCY must be positive")
	}
	return nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloatDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
