package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kanban.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, StoreHTTP, cfg.CardStore)
	assert.Equal(t, 8, cfg.BatchConcurrency)
	assert.Equal(t, time.Duration(0), cfg.LinkStagger)
	assert.Equal(t, uuid.Nil, cfg.TenantID)
}

func TestLoadFile_YAMLThenEnv(t *testing.T) {
	tenant := uuid.New()
	path := writeConfig(t, `
port: "9000"
card_store: postgres
database_url: postgres://file
tenant_id: `+tenant.String()+`
batch_concurrency: 4
link_stagger: 250ms
allowed_origins:
  - https://app.example
`)
	t.Setenv("PORT", "9100")
	t.Setenv("REFRESH_INTERVAL", "30s")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Port, "env wins over file")
	assert.Equal(t, StorePostgres, cfg.CardStore)
	assert.Equal(t, "postgres://file", cfg.DatabaseURL)
	assert.Equal(t, tenant, cfg.TenantID)
	assert.Equal(t, 4, cfg.BatchConcurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.LinkStagger)
	assert.Equal(t, 30*time.Second, cfg.RefreshInterval)
	assert.Equal(t, []string{"https://app.example"}, cfg.AllowedOrigins)
}

func TestLoad_UsesConfigFileEnv(t *testing.T) {
	path := writeConfig(t, "compose_url: http://compose\n")
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("ALLOWED_ORIGINS", "https://a, https://b,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://compose", cfg.ComposeURL)
	assert.Equal(t, []string{"https://a", "https://b"}, cfg.AllowedOrigins)
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown store":    {"CARD_STORE": "sqlite"},
		"bad concurrency":  {"BATCH_CONCURRENCY": "many"},
		"zero concurrency": {"BATCH_CONCURRENCY": "0"},
		"bad duration":     {"LINK_STAGGER": "soon"},
		"negative stagger": {"LINK_STAGGER": "-1s"},
		"bad tenant":       {"TENANT_ID": "acme"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadFile("")
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
