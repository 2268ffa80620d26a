package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.HTTPAddr())
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, []string{"http://localhost:3001"}, cfg.CORS.AllowOrigins)
	assert.Equal(t, 10*time.Minute, cfg.ProcessorTimeout())
	assert.Equal(t, 1, cfg.Processing.FrameIntervalSeconds)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[app]
port = 9001

[mysql]
host = "db.internal"
db = "materials"

[vector_index]
namespace = "from-file"

[processing]
parallel = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PINECONE_NAMESPACE", "from-env")
	t.Setenv("CORS_ALLOW_ORIGINS", "http://a.test, ,http://b.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.App.Port)
	assert.True(t, cfg.Processing.Parallel)
	assert.Equal(t, "from-env", cfg.VectorIndex.Namespace)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowOrigins)
	assert.Contains(t, cfg.MySQLDSN(), "@tcp(db.internal:3306)/materials?")
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("STORAGE_BACKEND", "s3")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend")
}

func TestGetEnvAsIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "not-a-number")
	assert.Equal(t, 7, getEnvAsInt("SOME_INT", 7))
}
