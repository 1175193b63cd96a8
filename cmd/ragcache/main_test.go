package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/ragcache/internal/semcache"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath = ""
	t.Cleanup(func() { configPath = "" })

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "ingest", "ask", "vector-grpc"})
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestIngest_MissingFile(t *testing.T) {
	_, err := execute(t, "ingest", filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read file")
}

func TestArgs(t *testing.T) {
	_, err := execute(t, "ingest")
	assert.Error(t, err)
	_, err = execute(t, "ask")
	assert.Error(t, err)
}

func TestExplicitConfigMustExist(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "vector-grpc")
	require.Error(t, err)
}

func TestVectorGRPC_RejectsGRPCProvider(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("RAGCACHE_VECTOR_PROVIDER", "grpc")
	t.Setenv("RAGCACHE_VECTOR_GRPC_ADDR", "127.0.0.1:1")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\n"), 0o600))

	_, err := execute(t, "--config", path, "vector-grpc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local vector provider")
}

func TestPrintSources(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	page := 4
	printSources(cmd, []semcache.Citation{
		{ID: "doc:a:0", Source: "handbook.pdf", Page: &page, Score: 0.91234},
		{ID: "doc:a:1", Source: "notes.txt", Score: 0.5},
	})

	assert.Equal(t, "\nSources:\n"+
		"  [1] handbook.pdf (page 4, relevance 0.912)\n"+
		"  [2] notes.txt (page n/a, relevance 0.500)\n", out.String())

	out.Reset()
	printSources(cmd, nil)
	assert.Empty(t, out.String())
}
