package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_Defaults(t *testing.T) {
	path := writeConfig(t, `
camunda:
  broker_address: localhost:26500
database:
  elasticsearch:
    addresses: ["http://localhost:9200"]
workers:
  extract-map-references:
    enabled: true
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "maps-workers", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, BackendElasticsearch, cfg.Storage.Backend)
	assert.Equal(t, "maps-saved-objects", cfg.Storage.Index)
	assert.Equal(t, 1000, cfg.Storage.ListingLimit)
	assert.Equal(t, "maps:", cfg.Cache.KeyPrefix)
	assert.Equal(t, 5*time.Minute, GetDuration(cfg.Cache.TTL))
	assert.Equal(t, 30*time.Second, GetDuration(cfg.Cache.LocalTTL))

	w := cfg.Workers["extract-map-references"]
	assert.True(t, w.Enabled)
	assert.Equal(t, 10, w.MaxJobsActive)
	assert.Equal(t, 30000, w.Timeout)
	assert.Equal(t, 3, w.MaxRetries)
}

func TestLoadFromFile_EnvOverrides(t *testing.T) {
	t.Setenv("MAPS_TEST_PG_HOST", "pg.internal")
	t.Setenv("DATABASE_POSTGRES_PASSWORD", "s3cret")
	t.Setenv("STORAGE_BACKEND", "postgres")

	path := writeConfig(t, `
camunda:
  broker_address: localhost:26500
database:
  postgres:
    host: ${MAPS_TEST_PG_HOST}
    database: maps
    user: maps
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Storage.Backend)
	assert.Equal(t, "pg.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, "s3cret", cfg.Database.Postgres.Password)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Contains(t, cfg.Database.Postgres.GetDSN(), "sslmode=disable")
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		errContains string
	}{
		{
			name:        "missing broker",
			body:        "database:\n  elasticsearch:\n    url: http://es:9200\n",
			errContains: "camunda.broker_address",
		},
		{
			name:        "elasticsearch backend without address",
			body:        "camunda:\n  broker_address: zeebe:26500\n",
			errContains: "database.elasticsearch",
		},
		{
			name:        "unknown backend",
			body:        "camunda:\n  broker_address: zeebe:26500\nstorage:\n  backend: badger\n",
			errContains: "storage.backend",
		},
		{
			name: "cache without redis",
			body: "camunda:\n  broker_address: zeebe:26500\n" +
				"database:\n  elasticsearch:\n    url: http://es:9200\n" +
				"cache:\n  enabled: true\n",
			errContains: "database.redis.address",
		},
		{
			name: "sns without topic",
			body: "camunda:\n  broker_address: zeebe:26500\n" +
				"database:\n  elasticsearch:\n    url: http://es:9200\n" +
				"notifications:\n  sns:\n    enabled: true\n",
			errContains: "topic_arn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestGetWorkerConfig_Fallback(t *testing.T) {
	cfg := &Config{Camunda: CamundaConfig{MaxJobsActive: 7, Timeout: 1500}}

	w := GetWorkerConfig(cfg, "load-map")
	assert.True(t, w.Enabled)
	assert.Equal(t, 7, w.MaxJobsActive)
	assert.Equal(t, 1500, w.Timeout)
	assert.True(t, IsWorkerEnabled(cfg, "load-map"))

	cfg.Workers = map[string]WorkerConfig{"load-map": {Enabled: false}}
	assert.False(t, IsWorkerEnabled(cfg, "load-map"))
}

func TestElasticsearchConfig_GetAddresses(t *testing.T) {
	assert.Equal(t, []string{"http://a:9200"}, ElasticsearchConfig{URL: "http://a:9200"}.GetAddresses())
	assert.Equal(t, []string{"http://b:9200"}, ElasticsearchConfig{
		URL:       "http://a:9200",
		Addresses: []string{"http://b:9200"},
	}.GetAddresses())
	assert.Nil(t, ElasticsearchConfig{}.GetAddresses())
}
