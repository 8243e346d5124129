package config

import (
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setRequired gives Load the minimum viable environment.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("VECTOR_DIMENSION", "768")
	t.Setenv("TENANT_ROOTS", "acme=/data/acme")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "data", "docsync.db"))
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.HashAlgorithm != "sha256" {
		t.Errorf("HashAlgorithm = %q, want sha256", cfg.HashAlgorithm)
	}
	if len(cfg.AllowedExtensions) != 3 || cfg.AllowedExtensions[0] != ".md" {
		t.Errorf("AllowedExtensions = %v", cfg.AllowedExtensions)
	}
	if cfg.ChunkStrategy != "recursive" || cfg.ChunkSize != 700 || cfg.ChunkOverlap != 100 {
		t.Errorf("chunking = %s/%d/%d", cfg.ChunkStrategy, cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.EmbeddingBatchSize != 32 || cfg.EmbeddingConcurrency != 1 {
		t.Errorf("embedding = batch %d concurrency %d", cfg.EmbeddingBatchSize, cfg.EmbeddingConcurrency)
	}
	if cfg.DistanceMetric != "cosine" || !cfg.NormalizeVectors {
		t.Errorf("vector index = %s normalize=%v", cfg.DistanceMetric, cfg.NormalizeVectors)
	}
	if cfg.CommitBatchSize != 10 || cfg.WorkerConcurrency != 4 {
		t.Errorf("orchestration = commit %d workers %d", cfg.CommitBatchSize, cfg.WorkerConcurrency)
	}
	if cfg.DeleteRetention != 72*time.Hour {
		t.Errorf("DeleteRetention = %v, want 72h", cfg.DeleteRetention)
	}
	if cfg.WatchEnabled {
		t.Error("WatchEnabled default should be false")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if cfg.TenantRoots["acme"] != "/data/acme" {
		t.Errorf("TenantRoots = %v", cfg.TenantRoots)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("HASH_ALGORITHM", "SHA1")
	t.Setenv("CHUNK_STRATEGY", "markdown")
	t.Setenv("CHUNK_SIZE", "500")
	t.Setenv("CHUNK_OVERLAP", "0")
	t.Setenv("RETRY_BASE_DELAY", "250ms")
	t.Setenv("WATCH_ENABLED", "true")
	t.Setenv("WATCH_DEBOUNCE", "5s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.HashAlgorithm != "sha1" {
		t.Errorf("HashAlgorithm = %q, want sha1", cfg.HashAlgorithm)
	}
	if cfg.ChunkStrategy != "markdown" || cfg.ChunkSize != 500 || cfg.ChunkOverlap != 0 {
		t.Errorf("chunking = %s/%d/%d", cfg.ChunkStrategy, cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.RetryBaseDelay != 250*time.Millisecond {
		t.Errorf("RetryBaseDelay = %v", cfg.RetryBaseDelay)
	}
	if !cfg.WatchEnabled || cfg.WatchDebounce != 5*time.Second {
		t.Errorf("watch = %v/%v", cfg.WatchEnabled, cfg.WatchDebounce)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
}

func TestLoad_CosineForcesNormalization(t *testing.T) {
	setRequired(t)
	t.Setenv("DISTANCE_METRIC", "cosine")
	t.Setenv("NORMALIZE_VECTORS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.NormalizeVectors {
		t.Error("cosine metric must force vector normalization")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantMsg string
	}{
		{"bad hash algorithm", "HASH_ALGORITHM", "crc32", "HASH_ALGORITHM"},
		{"bad chunk strategy", "CHUNK_STRATEGY", "semantic", "CHUNK_STRATEGY"},
		{"overlap at chunk size", "CHUNK_OVERLAP", "700", "CHUNK_OVERLAP"},
		{"zero batch size", "EMBEDDING_BATCH_SIZE", "0", "EMBEDDING_BATCH_SIZE"},
		{"bad distance metric", "DISTANCE_METRIC", "manhattan", "DISTANCE_METRIC"},
		{"zero workers", "WORKER_CONCURRENCY", "0", "WORKER_CONCURRENCY"},
		{"non-integer size", "CHUNK_SIZE", "lots", "CHUNK_SIZE"},
		{"bad duration", "DELETE_RETENTION", "three days", "DELETE_RETENTION"},
		{"bad log level", "LOG_LEVEL", "verbose", "LOG_LEVEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %s", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad_MissingVectorDimension(t *testing.T) {
	t.Setenv("TENANT_ROOTS", "acme=/data/acme")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "docsync.db"))
	t.Setenv("VECTOR_DIMENSION", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "VECTOR_DIMENSION") {
		t.Fatalf("err = %v, want VECTOR_DIMENSION error", err)
	}
}

func TestLoad_MissingTenantRoots(t *testing.T) {
	t.Setenv("VECTOR_DIMENSION", "768")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "docsync.db"))
	t.Setenv("TENANT_ROOTS", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "TENANT_ROOTS") {
		t.Fatalf("err = %v, want TENANT_ROOTS error", err)
	}
}

func TestParseTenantRoots(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string]string
		wantErr bool
	}{
		{
			name:  "two tenants",
			input: "acme=/data/acme,globex=/data/globex",
			want:  map[string]string{"acme": "/data/acme", "globex": "/data/globex"},
		},
		{
			name:  "whitespace tolerated",
			input: " acme = /data/acme , globex=/data/globex ",
			want:  map[string]string{"acme": "/data/acme", "globex": "/data/globex"},
		},
		{
			name:  "trailing comma",
			input: "acme=/data/acme,",
			want:  map[string]string{"acme": "/data/acme"},
		},
		{name: "empty", input: "", want: map[string]string{}},
		{name: "missing path", input: "acme=", wantErr: true},
		{name: "missing separator", input: "acme", wantErr: true},
		{name: "duplicate tenant", input: "acme=/a,acme=/b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTenantRoots(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("parseTenantRoots() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTenantRoots() error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("roots[%q] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warning", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "trace", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseLogLevel(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("parseLogLevel() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseLogLevel() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("level = %v, want %v", got, tt.want)
			}
		})
	}
}
