package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the sync engine.
type Config struct {
	// Scanner
	HashAlgorithm     string   // sha256, sha1 or md5
	AllowedExtensions []string // lowercase, with leading dot
	IgnorePatterns    []string // glob patterns matched against base names and path segments
	MaxFileSizeBytes  int64
	HashCacheEnabled  bool

	// Chunking
	ChunkStrategy string // fixed, recursive or markdown
	ChunkSize     int    // target chunk size in runes
	ChunkOverlap  int    // overlap between consecutive chunks in runes

	// Embedding
	EmbeddingBaseURL     string
	EmbeddingModel       string
	EmbeddingAPIKey      string
	EmbeddingBatchSize   int
	MaxSequenceChars     int // texts longer than this are truncated before embedding
	VectorDimension      int
	NormalizeVectors     bool
	EmbeddingConcurrency int64   // max concurrent backend calls
	EmbeddingRateLimit   float64 // requests per second, 0 = unlimited

	// Vector index
	QdrantURL          string
	CollectionPrefix   string
	DistanceMetric     string // cosine, dot or euclid
	PayloadIndexFields []string
	PreviewChars       int

	// Orchestration
	WorkerConcurrency int
	CommitBatchSize   int
	RetryAttempts     int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	SkipFailedFiles   bool
	DeleteRetention   time.Duration

	// Tenants
	TenantRoots   map[string]string // tenant ID -> corpus root directory
	WatchEnabled  bool
	WatchDebounce time.Duration

	// Infra
	DBPath    string
	APIPort   string
	LogLevel  slog.Level
	LogFormat string
	LogFile   string // when set, logs rotate via lumberjack
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies defaults for optional fields and validates required fields.
// If a .env file exists in the current directory or project root, it will be loaded automatically.
// Environment variables already set take precedence over .env file values.
func Load() (*Config, error) {
	_ = godotenv.Load() // Try current directory

	// Try to find project root by looking for a .env next to go.mod
	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ {
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	cfg := &Config{
		HashAlgorithm:     strings.ToLower(getEnv("HASH_ALGORITHM", "sha256")),
		AllowedExtensions: splitList(getEnv("ALLOWED_EXTENSIONS", ".md,.txt,.rst")),
		IgnorePatterns:    splitList(getEnv("IGNORE_PATTERNS", ".*,node_modules,__pycache__")),

		ChunkStrategy: strings.ToLower(getEnv("CHUNK_STRATEGY", "recursive")),

		EmbeddingBaseURL: getEnv("EMBEDDING_BASE_URL", "http://localhost:8081"),
		EmbeddingModel:   getEnv("EMBEDDING_MODEL", "granite-embedding-278m-multilingual"),
		EmbeddingAPIKey:  getEnv("EMBEDDING_API_KEY", "dummy-key"),

		QdrantURL:          getEnv("QDRANT_URL", "http://localhost:6333"),
		CollectionPrefix:   getEnv("COLLECTION_PREFIX", "docs"),
		DistanceMetric:     strings.ToLower(getEnv("DISTANCE_METRIC", "cosine")),
		PayloadIndexFields: splitList(getEnv("PAYLOAD_INDEX_FIELDS", "tenant_id,document_id,file_type")),

		DBPath:    getEnv("DB_PATH", "./data/docsync.db"),
		APIPort:   getEnv("API_PORT", "9000"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		LogFile:   getEnv("LOG_FILE", ""),
	}

	var errs []string
	cfg.MaxFileSizeBytes = getEnvInt64(&errs, "MAX_FILE_SIZE_BYTES", 10*1024*1024)
	cfg.HashCacheEnabled = getEnvBool(&errs, "HASH_CACHE_ENABLED", true)
	cfg.ChunkSize = int(getEnvInt64(&errs, "CHUNK_SIZE", 700))
	cfg.ChunkOverlap = int(getEnvInt64(&errs, "CHUNK_OVERLAP", 100))
	cfg.EmbeddingBatchSize = int(getEnvInt64(&errs, "EMBEDDING_BATCH_SIZE", 32))
	cfg.MaxSequenceChars = int(getEnvInt64(&errs, "MAX_SEQUENCE_CHARS", 2000))
	cfg.VectorDimension = int(getEnvInt64(&errs, "VECTOR_DIMENSION", 0))
	cfg.NormalizeVectors = getEnvBool(&errs, "NORMALIZE_VECTORS", true)
	cfg.EmbeddingConcurrency = getEnvInt64(&errs, "EMBEDDING_CONCURRENCY", 1)
	cfg.EmbeddingRateLimit = getEnvFloat(&errs, "EMBEDDING_RATE_LIMIT", 0)
	cfg.PreviewChars = int(getEnvInt64(&errs, "PREVIEW_CHARS", 160))
	cfg.WorkerConcurrency = int(getEnvInt64(&errs, "WORKER_CONCURRENCY", 4))
	cfg.CommitBatchSize = int(getEnvInt64(&errs, "COMMIT_BATCH_SIZE", 10))
	cfg.RetryAttempts = int(getEnvInt64(&errs, "RETRY_ATTEMPTS", 3))
	cfg.RetryBaseDelay = getEnvDuration(&errs, "RETRY_BASE_DELAY", 500*time.Millisecond)
	cfg.RetryMaxDelay = getEnvDuration(&errs, "RETRY_MAX_DELAY", 30*time.Second)
	cfg.SkipFailedFiles = getEnvBool(&errs, "SKIP_FAILED_FILES", true)
	cfg.DeleteRetention = getEnvDuration(&errs, "DELETE_RETENTION", 72*time.Hour)
	cfg.WatchEnabled = getEnvBool(&errs, "WATCH_ENABLED", false)
	cfg.WatchDebounce = getEnvDuration(&errs, "WATCH_DEBOUNCE", 2*time.Second)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	cfg.TenantRoots, err = parseTenantRoots(getEnv("TENANT_ROOTS", ""))
	if err != nil {
		return nil, err
	}

	cfg.LogLevel, err = parseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Create data directory if it doesn't exist (for the DB file)
	dataDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.HashAlgorithm {
	case "sha256", "sha1", "md5":
	default:
		return fmt.Errorf("HASH_ALGORITHM must be sha256, sha1 or md5, got %q", c.HashAlgorithm)
	}

	switch c.ChunkStrategy {
	case "fixed", "recursive", "markdown":
	default:
		return fmt.Errorf("CHUNK_STRATEGY must be fixed, recursive or markdown, got %q", c.ChunkStrategy)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be greater than 0")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE)")
	}

	if c.VectorDimension <= 0 {
		return fmt.Errorf("VECTOR_DIMENSION is required and must be greater than 0")
	}
	if c.EmbeddingBatchSize <= 0 {
		return fmt.Errorf("EMBEDDING_BATCH_SIZE must be greater than 0")
	}
	if c.EmbeddingConcurrency <= 0 {
		return fmt.Errorf("EMBEDDING_CONCURRENCY must be greater than 0")
	}

	switch c.DistanceMetric {
	case "cosine":
		// Cosine distance requires unit vectors; normalization is not optional here.
		c.NormalizeVectors = true
	case "dot", "euclid":
	default:
		return fmt.Errorf("DISTANCE_METRIC must be cosine, dot or euclid, got %q", c.DistanceMetric)
	}

	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be greater than 0")
	}
	if c.CommitBatchSize <= 0 {
		return fmt.Errorf("COMMIT_BATCH_SIZE must be greater than 0")
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("RETRY_ATTEMPTS must be greater than 0")
	}

	if len(c.TenantRoots) == 0 {
		return fmt.Errorf("TENANT_ROOTS is required (format: tenant=/path,tenant2=/path2)")
	}

	return nil
}

// parseTenantRoots parses "acme=/data/acme,globex=/data/globex" into a map.
func parseTenantRoots(s string) (map[string]string, error) {
	roots := make(map[string]string)
	if s == "" {
		return roots, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, path, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		path = strings.TrimSpace(path)
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid TENANT_ROOTS entry %q (expected tenant=/path)", pair)
		}
		if _, dup := roots[name]; dup {
			return nil, fmt.Errorf("duplicate tenant %q in TENANT_ROOTS", name)
		}
		roots[name] = path
	}
	return roots, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", s)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(errs *[]string, key string, defaultValue int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer", key))
		return defaultValue
	}
	return v
}

func getEnvFloat(errs *[]string, key string, defaultValue float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be a number", key))
		return defaultValue
	}
	return v
}

func getEnvBool(errs *[]string, key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be a boolean", key))
		return defaultValue
	}
	return v
}

func getEnvDuration(errs *[]string, key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be a duration (e.g. 30s, 5m)", key))
		return defaultValue
	}
	return v
}
