package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tripgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "tripgraph.db", cfg.Store.Path)
	assert.Equal(t, ProviderOpenAI, cfg.Model.Provider)
	assert.Equal(t, 8, cfg.Engine.MaxConcurrent)
	assert.Equal(t, 10*time.Second, cfg.Services.HTTPTimeout)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
store:
  backend: redis
  addr: localhost:6379
  lock_ttl: 45s
model:
  provider: anthropic
  name: claude-3-5-haiku-latest
engine:
  max_concurrent: 3
  node_timeout: 2m
log:
  level: debug
  format: json
metrics:
  listen: ":9090"
`)
	cfg, err := Load(path, env(map[string]string{"ANTHROPIC_API_KEY": "sk-ant"}))
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, 45*time.Second, cfg.Store.LockTTL)
	assert.Equal(t, 3, cfg.Engine.MaxConcurrent)
	assert.Equal(t, 2*time.Minute, cfg.Engine.NodeTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":9090", cfg.Metrics.Listen)
	assert.Equal(t, "sk-ant", cfg.ModelKey())
	assert.Equal(t, "tripgraph", cfg.Services.UserAgent, "unset fields keep their defaults")
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "store:\n  backend: sqlite\n  path: file.db\n")
	cfg, err := Load(path, env(map[string]string{
		"TRIPGRAPH_STORE_PATH":     "env.db",
		"TRIPGRAPH_MODEL_PROVIDER": "google",
		"TRIPGRAPH_MAX_CONCURRENT": "2",
		"TRIPGRAPH_NODE_TIMEOUT":   "90s",
		"GOOGLE_API_KEY":           "g-key",
		"OPENWEATHER_API_KEY":      "w-key",
		"TAVILY_API_KEY":           "t-key",
	}))
	require.NoError(t, err)

	assert.Equal(t, "env.db", cfg.Store.Path)
	assert.Equal(t, ProviderGoogle, cfg.Model.Provider)
	assert.Equal(t, 2, cfg.Engine.MaxConcurrent)
	assert.Equal(t, 90*time.Second, cfg.Engine.NodeTimeout)
	assert.Equal(t, "g-key", cfg.ModelKey())
	assert.Equal(t, "w-key", cfg.Keys.OpenWeather)
	assert.Equal(t, "t-key", cfg.Keys.Tavily)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), env(nil))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "store: [unclosed"), env(nil))
		assert.Error(t, err)
	})

	t.Run("bad env integer", func(t *testing.T) {
		_, err := Load("", env(map[string]string{"TRIPGRAPH_MAX_CONCURRENT": "many"}))
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "TRIPGRAPH_MAX_CONCURRENT", vErr.Field)
	})

	t.Run("bad env duration", func(t *testing.T) {
		_, err := Load("", env(map[string]string{"TRIPGRAPH_NODE_TIMEOUT": "soon"}))
		assert.Error(t, err)
	})
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "mysql"
	cfg.Model.Provider = "llama"
	cfg.Engine.MaxConcurrent = 0
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)

	var fields []string
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var vErr *ValidationError
		require.True(t, errors.As(e, &vErr))
		fields = append(fields, vErr.Field)
	}
	assert.Equal(t, []string{"store.dsn", "model.provider", "engine.max_concurrent", "log.format"}, fields)
}

func TestValidate_Backends(t *testing.T) {
	tests := []struct {
		store StoreConfig
		ok    bool
	}{
		{StoreConfig{Backend: BackendMemory}, true},
		{StoreConfig{Backend: BackendSQLite}, false},
		{StoreConfig{Backend: BackendMySQL, DSN: "u:p@/db"}, true},
		{StoreConfig{Backend: BackendRedis}, false},
		{StoreConfig{Backend: "etcd"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.store.Backend, func(t *testing.T) {
			cfg := Default()
			cfg.Store = tt.store
			assert.Equal(t, tt.ok, cfg.Validate() == nil)
		})
	}
}
