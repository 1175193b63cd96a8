package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/api/chat", cfg.Server.ChatPath)
	assert.Equal(t, "/api/ingest", cfg.Server.IngestPath)
	assert.Equal(t, "chromem", cfg.Vector.Provider)
	assert.Equal(t, "badger", cfg.KV.Provider)
	assert.Equal(t, 0.95, cfg.Cache.Threshold)
	assert.Equal(t, 900, cfg.Chunking.Size)
	assert.Equal(t, 150, cfg.Chunking.Overlap)
	assert.Equal(t, 8, cfg.Retrieval.EnhancedTopK)
	assert.Equal(t, 10, cfg.Retrieval.RawTopK)
	assert.Equal(t, 10, cfg.Retrieval.ProbeTopK)
	assert.Equal(t, 50, cfg.Ingest.BatchSize)
	assert.Equal(t, ":50051", cfg.Facade.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8081
vector:
  provider: qdrant
  qdrant_host: qdrant.internal
  qdrant_api_key: from-file
cache:
  threshold: 0.9
  write_timeout: 3s
chunking:
  size: 500
  overlap: 50
`, 0o600)

	t.Setenv("RAGCACHE_SERVER_HTTP_PORT", "9999")
	t.Setenv("RAGCACHE_LLM_API_KEY", "gem-key")
	t.Setenv("RAGCACHE_KV_PROVIDER", "nats")
	t.Setenv("RAGCACHE_KV_NATS_URL", "nats://localhost:4222")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port, "env overrides file")
	assert.Equal(t, "qdrant", cfg.Vector.Provider)
	assert.Equal(t, "qdrant.internal", cfg.Vector.QdrantHost)
	assert.Equal(t, "from-file", cfg.Vector.QdrantAPIKey.Value())
	assert.Equal(t, 0.9, cfg.Cache.Threshold)
	assert.Equal(t, 3*time.Second, cfg.Cache.WriteTimeout.Duration())
	assert.Equal(t, 500, cfg.Chunking.Size)
	assert.Equal(t, 50, cfg.Chunking.Overlap)
	assert.Equal(t, "gem-key", cfg.LLM.APIKey.Value())
	assert.Equal(t, "nats", cfg.KV.Provider)
	assert.Equal(t, "nats://localhost:4222", cfg.KV.NATSURL)
}

func TestLoad_ImplicitPathMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoad_ExplicitPathMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_RejectsWorldWritable(t *testing.T) {
	path := writeConfig(t, "server:\n  http_port: 8081\n", 0o666)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_InvalidOverlap(t *testing.T) {
	path := writeConfig(t, "chunking:\n  size: 100\n  overlap: 100\n", 0o600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlap must be < chunk size")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"bad vector provider", func(c *Config) { c.Vector.Provider = "pinecone" }, "unknown vector provider"},
		{"bad kv provider", func(c *Config) { c.KV.Provider = "redis" }, "unknown kv provider"},
		{"bad llm provider", func(c *Config) { c.LLM.Provider = "llama" }, "unknown llm provider"},
		{"threshold above one", func(c *Config) { c.Cache.Threshold = 1.5 }, "cache threshold"},
		{"zero top-k", func(c *Config) { c.Retrieval.RawTopK = -1 }, "top-k"},
		{"zero batch", func(c *Config) { c.Ingest.BatchSize = -5 }, "batch size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.http_port", envKey("RAGCACHE_SERVER_HTTP_PORT"))
	assert.Equal(t, "vector.qdrant_api_key", envKey("RAGCACHE_VECTOR_QDRANT_API_KEY"))
	assert.Equal(t, "cache.threshold", envKey("RAGCACHE_CACHE_THRESHOLD"))
}
