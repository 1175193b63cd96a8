// Package config provides configuration loading for ragcache.
//
// Configuration is read from an optional YAML file and then overridden by
// RAGCACHE_* environment variables. Credentials are carried as Secret so
// they never reach logs.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ragcache/internal/chunking"
)

// Config holds the complete ragcache configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Vector     VectorConfig     `koanf:"vector"`
	KV         KVConfig         `koanf:"kv"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	LLM        LLMConfig        `koanf:"llm"`
	Cache      CacheConfig      `koanf:"cache"`
	Chunking   chunking.Options `koanf:"chunking"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Facade     FacadeConfig     `koanf:"facade"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	ChatPath        string   `koanf:"chat_path"`
	IngestPath      string   `koanf:"ingest_path"`
	MaxBodyBytes    int64    `koanf:"max_body_bytes"`
}

// VectorConfig selects and configures the similarity index.
type VectorConfig struct {
	// Provider is one of chromem, qdrant or grpc.
	Provider   string `koanf:"provider"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`

	ChromemPath     string `koanf:"chromem_path"`
	ChromemCompress bool   `koanf:"chromem_compress"`
	ChromemInMemory bool   `koanf:"chromem_in_memory"`

	QdrantHost   string `koanf:"qdrant_host"`
	QdrantPort   int    `koanf:"qdrant_port"`
	QdrantAPIKey Secret `koanf:"qdrant_api_key"`
	QdrantUseTLS bool   `koanf:"qdrant_use_tls"`

	// GRPCAddr is the address of a ragcache vector facade.
	GRPCAddr string `koanf:"grpc_addr"`
}

// KVConfig selects and configures the answer payload store.
type KVConfig struct {
	// Provider is one of badger or nats.
	Provider string `koanf:"provider"`

	NATSURL   string   `koanf:"nats_url"`
	NATSToken Secret   `koanf:"nats_token"`
	Bucket    string   `koanf:"bucket"`
	TTL       Duration `koanf:"ttl"`

	BadgerPath     string `koanf:"badger_path"`
	BadgerInMemory bool   `koanf:"badger_in_memory"`
}

// EmbeddingsConfig configures the OpenAI-compatible embedding endpoint.
type EmbeddingsConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
}

// LLMConfig configures the answer generator.
type LLMConfig struct {
	// Provider is one of gemini or anthropic.
	Provider    string  `koanf:"provider"`
	Model       string  `koanf:"model"`
	APIKey      Secret  `koanf:"api_key"`
	MaxTokens   int     `koanf:"max_tokens"`
	Temperature float64 `koanf:"temperature"`
}

// CacheConfig configures the semantic cache.
type CacheConfig struct {
	Threshold    float64  `koanf:"threshold"`
	WriteTimeout Duration `koanf:"write_timeout"`
}

// RetrievalConfig holds the top-K used by each retrieval stage.
type RetrievalConfig struct {
	EnhancedTopK int `koanf:"enhanced_top_k"`
	RawTopK      int `koanf:"raw_top_k"`
	ProbeTopK    int `koanf:"probe_top_k"`
}

// IngestConfig configures batched ingestion.
type IngestConfig struct {
	BatchSize     int     `koanf:"batch_size"`
	RatePerSecond float64 `koanf:"rate_per_second"`
}

// FacadeConfig configures the gRPC vector facade server.
type FacadeConfig struct {
	ListenAddr string `koanf:"listen_addr"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	Protocol     string  `koanf:"protocol"`
	Insecure     bool    `koanf:"insecure"`
	ServiceName  string  `koanf:"service_name"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// LoggingConfig holds log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.ChatPath == "" {
		cfg.Server.ChatPath = "/api/chat"
	}
	if cfg.Server.IngestPath == "" {
		cfg.Server.IngestPath = "/api/ingest"
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 4 << 20
	}

	// chromem is the default: embedded, no external service
	if cfg.Vector.Provider == "" {
		cfg.Vector.Provider = "chromem"
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "ragcache"
	}
	if cfg.Vector.VectorSize == 0 {
		cfg.Vector.VectorSize = 384 // bge-small-en-v1.5
	}
	if cfg.Vector.ChromemPath == "" {
		cfg.Vector.ChromemPath = "~/.local/share/ragcache/vectors"
	}
	if cfg.Vector.QdrantPort == 0 {
		cfg.Vector.QdrantPort = 6334
	}

	if cfg.KV.Provider == "" {
		cfg.KV.Provider = "badger"
	}
	if cfg.KV.Bucket == "" {
		cfg.KV.Bucket = "ragcache_answers"
	}
	if cfg.KV.BadgerPath == "" {
		cfg.KV.BadgerPath = "~/.local/share/ragcache/kv"
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080/v1"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "gemini"
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case "anthropic":
			cfg.LLM.Model = "claude-sonnet-4-5"
		default:
			cfg.LLM.Model = "gemini-2.5-flash"
		}
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 2048
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.2
	}

	if cfg.Cache.Threshold == 0 {
		cfg.Cache.Threshold = 0.95
	}
	if cfg.Cache.WriteTimeout == 0 {
		cfg.Cache.WriteTimeout = Duration(10 * time.Second)
	}

	if cfg.Chunking.Size == 0 && cfg.Chunking.Overlap == 0 {
		cfg.Chunking = chunking.DefaultOptions()
	}

	if cfg.Retrieval.EnhancedTopK == 0 {
		cfg.Retrieval.EnhancedTopK = 8
	}
	if cfg.Retrieval.RawTopK == 0 {
		cfg.Retrieval.RawTopK = 10
	}
	if cfg.Retrieval.ProbeTopK == 0 {
		cfg.Retrieval.ProbeTopK = 10
	}

	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 50
	}

	if cfg.Facade.ListenAddr == "" {
		cfg.Facade.ListenAddr = ":50051"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "ragcache"
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration.
//
// Missing credentials are not validation errors: each backend reports
// them when it is constructed so the server can still start and serve
// /health.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Vector.Provider {
	case "chromem", "qdrant", "grpc":
	default:
		return fmt.Errorf("unknown vector provider %q (want chromem, qdrant or grpc)", c.Vector.Provider)
	}
	if c.Vector.VectorSize <= 0 {
		return fmt.Errorf("vector size must be positive, got %d", c.Vector.VectorSize)
	}

	switch c.KV.Provider {
	case "badger", "nats":
	default:
		return fmt.Errorf("unknown kv provider %q (want badger or nats)", c.KV.Provider)
	}

	switch c.LLM.Provider {
	case "gemini", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider %q (want gemini or anthropic)", c.LLM.Provider)
	}

	if c.Cache.Threshold <= 0 || c.Cache.Threshold > 1 {
		return fmt.Errorf("cache threshold must be in (0, 1], got %v", c.Cache.Threshold)
	}

	if err := c.Chunking.Validate(); err != nil {
		return err
	}

	if c.Retrieval.EnhancedTopK <= 0 || c.Retrieval.RawTopK <= 0 || c.Retrieval.ProbeTopK <= 0 {
		return errors.New("retrieval top-k values must be positive")
	}

	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest batch size must be positive, got %d", c.Ingest.BatchSize)
	}
	if c.Ingest.RatePerSecond < 0 {
		return fmt.Errorf("ingest rate must not be negative, got %v", c.Ingest.RatePerSecond)
	}

	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		return fmt.Errorf("telemetry sampling rate must be between 0 and 1, got %v", c.Telemetry.SamplingRate)
	}

	return nil
}
