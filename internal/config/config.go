// Package config loads quarry configuration from YAML with environment
// overrides. Deployment constants such as the dense embedding dimension
// and the collection prefix live here; components validate against them
// rather than probing at runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Role controls whether this process drains the job queues.
type Role string

const (
	// RoleProcessor runs queue workers in addition to serving requests.
	RoleProcessor Role = "processor"
	// RoleClientOnly enqueues jobs but never processes them.
	RoleClientOnly Role = "client-only"
)

// Config is the complete quarry configuration.
type Config struct {
	Version   int             `yaml:"version"`
	DataDir   string          `yaml:"data_dir"`
	Role      Role            `yaml:"role"`
	Inference InferenceConfig `yaml:"inference"`
	Vector    VectorConfig    `yaml:"vector"`
	Lexical   LexicalConfig   `yaml:"lexical"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Queue     QueueConfig     `yaml:"queue"`
	Search    SearchConfig    `yaml:"search"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	LogLevel  string          `yaml:"log_level"`
	LogFile   string          `yaml:"log_file"`
}

// InferenceConfig configures the external embedding/rerank service.
type InferenceConfig struct {
	// Endpoint is the base URL of the inference service.
	Endpoint string `yaml:"endpoint"`

	// Dimension is the dense embedding dimension. This is a deployment
	// constant: collections are created with it and refuse to mix.
	Dimension int `yaml:"dimension"`

	// QueryTimeout bounds query-time embedding calls.
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// IndexTimeout bounds indexing-time batch embedding calls.
	IndexTimeout time.Duration `yaml:"index_timeout"`

	// RerankTimeout is the hard deadline for query-time reranking.
	RerankTimeout time.Duration `yaml:"rerank_timeout"`

	// HealthTimeout bounds health checks.
	HealthTimeout time.Duration `yaml:"health_timeout"`

	// CacheSize bounds the embedding, sparse, and rerank caches.
	CacheSize int `yaml:"cache_size"`

	// CacheTTL expires cached inference results.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// BatchSize caps texts per encode request.
	BatchSize int `yaml:"batch_size"`
}

// VectorConfig configures the vector store.
type VectorConfig struct {
	// Backend selects "qdrant" or "local" (in-process HNSW, dev/test).
	Backend string `yaml:"backend"`

	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`

	// CollectionPrefix maps external store names to collection names:
	// "<prefix><store>" dense, "<prefix>hybrid_<store>" hybrid.
	CollectionPrefix string `yaml:"collection_prefix"`

	// Hybrid enables sparse+dense hybrid collections with server-side RRF.
	Hybrid bool `yaml:"hybrid"`

	// Timeout bounds vector store operations.
	Timeout time.Duration `yaml:"timeout"`
}

// LexicalConfig configures the BM25 index.
type LexicalConfig struct {
	// Root is the directory holding one bleve index per store.
	Root string `yaml:"root"`
}

// ChunkingConfig configures the chunker.
type ChunkingConfig struct {
	// MaxASTBytes is the largest file parsed with tree-sitter;
	// larger files fall back to line chunking.
	MaxASTBytes int `yaml:"max_ast_bytes"`
	// MinChunkLines merges AST chunks shorter than this into the
	// previous chunk when contiguous.
	MinChunkLines int `yaml:"min_chunk_lines"`
	// FallbackLines is the line-chunk size for non-AST files.
	FallbackLines int `yaml:"fallback_lines"`
	// FallbackOverlap is the line overlap between consecutive chunks.
	FallbackOverlap int `yaml:"fallback_overlap"`
}

// QueueConfig configures the durable job queue.
type QueueConfig struct {
	// Path is the sqlite database file backing the queues.
	Path string `yaml:"path"`
	// EmbedConcurrency is the global embedding-worker concurrency.
	EmbedConcurrency int `yaml:"embed_concurrency"`
	// RetainCompleted bounds completed-job retention per queue.
	RetainCompleted int `yaml:"retain_completed"`
	// VectorBatchSize caps points per vector-store commit.
	VectorBatchSize int `yaml:"vector_batch_size"`
}

// SearchConfig configures the query pipeline.
type SearchConfig struct {
	// SparseWeight and DenseWeight are the base fusion weights; they
	// must sum to 1.
	SparseWeight float64 `yaml:"sparse_weight"`
	DenseWeight  float64 `yaml:"dense_weight"`

	// RRFConstant is the fusion smoothing parameter k.
	RRFConstant int `yaml:"rrf_constant"`

	// SparseTopK and DenseTopK are the per-modality candidate depths.
	SparseTopK int `yaml:"sparse_top_k"`
	DenseTopK  int `yaml:"dense_top_k"`

	// DefaultLimit and MaxLimit bound the final result count.
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`

	// SymbolBoost multiplies scores per matched symbol (capped at 3 matches).
	SymbolBoost float64 `yaml:"symbol_boost"`
	// PathBoost multiplies scores when a query path fragment matches.
	PathBoost float64 `yaml:"path_boost"`

	// ConfidenceWeighting enables per-modality confidence weight shifts.
	ConfidenceWeighting bool `yaml:"confidence_weighting"`
	// MaxWeightBoost bounds the confidence-driven weight shift.
	MaxWeightBoost float64 `yaml:"max_weight_boost"`
	// MinWeight floors either modality weight after adjustment.
	MinWeight float64 `yaml:"min_weight"`

	// Rerank enables cross-encoder reranking.
	Rerank bool `yaml:"rerank"`
	// RerankCandidates caps how many fused results are sent to the reranker.
	RerankCandidates int `yaml:"rerank_candidates"`
}

// TelemetryConfig configures query telemetry.
type TelemetryConfig struct {
	// RingSize is the per-query record buffer capacity.
	RingSize int `yaml:"ring_size"`
}

// Default returns the baked-in defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Role:    RoleProcessor,
		Inference: InferenceConfig{
			Endpoint:      "http://localhost:8080",
			Dimension:     1024,
			QueryTimeout:  30 * time.Second,
			IndexTimeout:  300 * time.Second,
			RerankTimeout: 100 * time.Millisecond,
			HealthTimeout: 5 * time.Second,
			CacheSize:     1000,
			CacheTTL:      time.Hour,
			BatchSize:     32,
		},
		Vector: VectorConfig{
			Backend:          "qdrant",
			Host:             "localhost",
			Port:             6334,
			CollectionPrefix: "quarry_",
			Hybrid:           false,
			Timeout:          30 * time.Second,
		},
		Lexical: LexicalConfig{},
		Chunking: ChunkingConfig{
			MaxASTBytes:     500 * 1024,
			MinChunkLines:   10,
			FallbackLines:   100,
			FallbackOverlap: 5,
		},
		Queue: QueueConfig{
			EmbedConcurrency: 2,
			RetainCompleted:  100,
			VectorBatchSize:  3000,
		},
		Search: SearchConfig{
			SparseWeight:        0.4,
			DenseWeight:         0.6,
			RRFConstant:         60,
			SparseTopK:          200,
			DenseTopK:           80,
			DefaultLimit:        10,
			MaxLimit:            100,
			SymbolBoost:         1.5,
			PathBoost:           1.2,
			ConfidenceWeighting: true,
			MaxWeightBoost:      0.5,
			MinWeight:           0.1,
			Rerank:              true,
			RerankCandidates:    20,
		},
		Telemetry: TelemetryConfig{RingSize: 10000},
		LogLevel:  "info",
	}
}

// Load reads the config file if present, applies env overrides, fills
// derived paths, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.fillDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays QUARRY_* environment variables. Env wins over file.
func (c *Config) applyEnv() {
	if v := os.Getenv("QUARRY_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("QUARRY_ROLE"); v != "" {
		c.Role = Role(v)
	}
	if v := os.Getenv("QUARRY_INFERENCE_ENDPOINT"); v != "" {
		c.Inference.Endpoint = v
	}
	if v := os.Getenv("QUARRY_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Inference.Dimension = n
		}
	}
	if v := os.Getenv("QUARRY_QDRANT_HOST"); v != "" {
		c.Vector.Host = v
	}
	if v := os.Getenv("QUARRY_QDRANT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Vector.Port = n
		}
	}
	if v := os.Getenv("QUARRY_HYBRID"); v != "" {
		c.Vector.Hybrid = v == "1" || v == "true"
	}
	if v := os.Getenv("QUARRY_RERANK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Inference.RerankTimeout = d
		}
	}
	if v := os.Getenv("QUARRY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// fillDerived resolves paths that default relative to DataDir.
func (c *Config) fillDerived() {
	if c.Lexical.Root == "" {
		c.Lexical.Root = filepath.Join(c.DataDir, "lexical")
	}
	if c.Queue.Path == "" {
		c.Queue.Path = filepath.Join(c.DataDir, "queue.db")
	}
}

// TrackingDir is where per-store tracking documents live.
func (c *Config) TrackingDir() string {
	return filepath.Join(c.DataDir, "tracking")
}

// Validate rejects configurations that would corrupt state at runtime.
func (c *Config) Validate() error {
	if c.Inference.Dimension <= 0 {
		return fmt.Errorf("inference.dimension must be positive, got %d", c.Inference.Dimension)
	}
	if sum := c.Search.SparseWeight + c.Search.DenseWeight; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("search weights must sum to 1.0, got %.3f", sum)
	}
	if c.Role != RoleProcessor && c.Role != RoleClientOnly {
		return fmt.Errorf("role must be %q or %q, got %q", RoleProcessor, RoleClientOnly, c.Role)
	}
	if c.Vector.Backend != "qdrant" && c.Vector.Backend != "local" {
		return fmt.Errorf("vector.backend must be \"qdrant\" or \"local\", got %q", c.Vector.Backend)
	}
	if c.Search.MinWeight < 0 || c.Search.MinWeight >= 0.5 {
		return fmt.Errorf("search.min_weight must be in [0, 0.5), got %.3f", c.Search.MinWeight)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quarry"
	}
	return filepath.Join(home, ".quarry")
}
