package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadMomConfig(t *testing.T) {
	path := writeFile(t, `
env: development
tenant_data_dir: /var/lib/burrow
tenants:
  example.org:
    domain_aliases: [www.example.org]
secrets:
  scoped_api_keys:
    k1: [example.org]
users_refresh: 30s
`)

	cfg, err := LoadMomConfig(path)
	require.NoError(t, err)

	assert.Equal(t, Development, cfg.Env)
	assert.Equal(t, DefaultMomAddress, cfg.Address)
	assert.Equal(t, DefaultDevAPIKey, cfg.Secrets.ReadonlyAPIKey)
	assert.Equal(t, int64(DefaultDeriveParallel), cfg.DeriveParallelism)
	assert.Equal(t, 30*time.Second, cfg.UsersRefresh)
	assert.Equal(t, DefaultShutdownGrace, cfg.ShutdownGrace)
	assert.Equal(t, "example.org", cfg.Tenants["example.org"].Name)
	assert.Equal(t, "/var/lib/burrow/example.org", cfg.TenantBaseDir("example.org"))
}

func TestLoadMomConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "unknown field",
			content: "tenant_data_dir: /x\nbogus: 1\n",
		},
		{
			name:    "missing data dir",
			content: "env: development\n",
		},
		{
			name:    "production without api key",
			content: "env: production\ntenant_data_dir: /x\n",
		},
		{
			name: "production tenant without storage",
			content: `env: production
tenant_data_dir: /x
secrets: {readonly_api_key: k}
tenants:
  example.org: {}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadMomConfig(writeFile(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestCubConfigDefaults(t *testing.T) {
	t.Setenv("BURROW_ENV", "")
	t.Setenv("BURROW_MOM_API_KEY", "from-env")

	cfg, err := LoadCubConfig("")
	require.NoError(t, err)

	assert.Equal(t, Development, cfg.Env)
	assert.Equal(t, DefaultMomBaseURL, cfg.MomBaseURL)
	assert.Equal(t, "from-env", cfg.MomAPIKey)

	size, maxObject, err := cfg.Cache.Bytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(200*1024*1024), size)
	assert.Equal(t, uint64(8*1024*1024), maxObject)
}

func TestCubConfigRejectsBadCacheSize(t *testing.T) {
	_, err := LoadCubConfig(writeFile(t, "cache: {size: lots}\n"))
	assert.Error(t, err)
}

func TestDomains(t *testing.T) {
	dev := Domains{Env: Development, Port: 1111}
	prod := Domains{Env: Production}

	assert.Equal(t, "example.org.lvh.me", dev.WebDomain("example.org"))
	assert.Equal(t, "cdn.example.org.lvh.me", dev.CDNDomain("example.org"))
	assert.Equal(t, "http://example.org.lvh.me:1111", dev.WebBaseURL("example.org"))
	assert.Equal(t, "http://cdn.example.org.lvh.me:1111", dev.CDNBaseURL("example.org"))

	assert.Equal(t, "example.org", prod.WebDomain("example.org"))
	assert.Equal(t, "https://example.org", prod.WebBaseURL("example.org"))
	assert.Equal(t, "https://cdn.example.org", prod.CDNBaseURL("example.org"))
}

func TestDefaultEnvironment(t *testing.T) {
	t.Setenv("BURROW_ENV", "production")
	assert.Equal(t, Production, DefaultEnvironment())

	t.Setenv("BURROW_ENV", "staging")
	assert.Equal(t, Development, DefaultEnvironment())
}

func TestDeriveCookieSauce(t *testing.T) {
	a := DeriveCookieSauce("global", "example.org")
	b := DeriveCookieSauce("global", "example.org")
	c := DeriveCookieSauce("global", "other.org")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
