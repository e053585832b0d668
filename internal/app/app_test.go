package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoshBonura/ai-agent-playground-sub001/internal/config"
)

func TestNewApp_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	cfg := &config.Config{
		AppPort:           8000,
		DatabasePath:      dbPath,
		RepositoryBackend: "sqlite",
		GeneratorURL:      "http://127.0.0.1:1",
		LogLevel:          "DEBUG",
	}

	app, err := NewApp(cfg)
	require.NoError(t, err)
	require.NotNil(t, app)
	defer func() { require.NoError(t, app.DB.Close()) }()

	assert.NotNil(t, app.DB)
	assert.NotNil(t, app.Server)
	assert.NotNil(t, app.Chat)
	assert.Equal(t, ":8000", app.Server.Addr)

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should have been created")
}

func TestNewApp_Redis(t *testing.T) {
	// The redis client connects lazily, so assembly succeeds without a
	// reachable server.
	cfg := &config.Config{
		AppPort:           8000,
		RepositoryBackend: "redis",
		RedisAddr:         "127.0.0.1:6379",
		GeneratorURL:      "http://127.0.0.1:1",
	}

	app, err := NewApp(cfg)
	require.NoError(t, err)
	assert.Nil(t, app.DB)
	assert.NotNil(t, app.Server)
}

func TestNewApp_UnknownBackend(t *testing.T) {
	cfg := &config.Config{RepositoryBackend: "mongodb"}

	_, err := NewApp(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown repository backend")
}
