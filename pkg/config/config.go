package config

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMomAddress       = "127.0.0.1:1118"
	DefaultCubAddress       = "127.0.0.1:1111"
	DefaultMomBaseURL       = "http://localhost:1118"
	DefaultDevAPIKey        = "mom-dev-api-key"
	DefaultDeriveParallel   = 4
	DefaultUsersRefresh     = 120 * time.Second
	DefaultShutdownGrace    = 10 * time.Second
	DefaultCacheSize        = "200MiB"
	DefaultCacheObjectLimit = "8MiB"
	DefaultRateRPM          = 600
	DefaultRateBurst        = 60
)

// MomConfig configures the coordinator
type MomConfig struct {
	Env           Environment                   `yaml:"env"`
	Address       string                        `yaml:"address"`
	TenantDataDir string                        `yaml:"tenant_data_dir"`
	Tenants       map[string]types.TenantConfig `yaml:"tenants"`
	Secrets       MomSecrets                    `yaml:"secrets"`

	// DeriveParallelism bounds concurrent transformer runs per tenant
	DeriveParallelism int64 `yaml:"derive_parallelism"`

	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Transformer CommandConfig   `yaml:"transformer"`
	Transcoder  CommandConfig   `yaml:"transcoder"`
	Prober      CommandConfig   `yaml:"prober"`

	// Upstream is the production coordinator, consulted by list-missing in development
	Upstream *UpstreamConfig `yaml:"upstream,omitempty"`

	TracingEndpoint string        `yaml:"tracing_endpoint,omitempty"`
	UsersRefresh    time.Duration `yaml:"users_refresh"`
	ShutdownGrace   time.Duration `yaml:"shutdown_grace"`
}

// MomSecrets holds API keys and the global cookie secret
type MomSecrets struct {
	// ReadonlyAPIKey grants access to every tenant
	ReadonlyAPIKey string `yaml:"readonly_api_key"`
	// ScopedAPIKeys maps a key to the tenants it may access
	ScopedAPIKeys map[string][]string `yaml:"scoped_api_keys,omitempty"`
	CookieSauce   string              `yaml:"cookie_sauce,omitempty"`
}

// RateLimitConfig configures derive admission. A Redis address makes the
// budget shared across coordinator restarts and replicas.
type RateLimitConfig struct {
	RPM   int          `yaml:"rpm"`
	Burst int          `yaml:"burst"`
	Redis *RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig points at a Redis server
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// CommandConfig is an external transformer command. An empty Command
// selects the in-process identity transformer.
type CommandConfig struct {
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
}

// UpstreamConfig addresses another coordinator
type UpstreamConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// CubConfig configures a front-end
type CubConfig struct {
	Env        Environment `yaml:"env"`
	Address    string      `yaml:"address"`
	MomBaseURL string      `yaml:"mom_base_url"`
	MomAPIKey  string      `yaml:"mom_api_key"`
	// DevPort is the port used in development base URLs
	DevPort         int         `yaml:"dev_port"`
	Cache           CacheConfig `yaml:"cache"`
	TracingEndpoint string      `yaml:"tracing_endpoint,omitempty"`
}

// CacheConfig sizes the front-end disk cache. Sizes are human strings
// such as "200MiB".
type CacheConfig struct {
	Dir           string `yaml:"dir,omitempty"`
	Size          string `yaml:"size,omitempty"`
	MaxObjectSize string `yaml:"max_object_size,omitempty"`
}

// Bytes parses Size and MaxObjectSize
func (c CacheConfig) Bytes() (size, maxObject uint64, err error) {
	size, err = humanize.ParseBytes(c.Size)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid cache size %q: %w", c.Size, err)
	}
	maxObject, err = humanize.ParseBytes(c.MaxObjectSize)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid cache max_object_size %q: %w", c.MaxObjectSize, err)
	}
	return size, maxObject, nil
}

// LoadMomConfig reads a coordinator config file
func LoadMomConfig(path string) (*MomConfig, error) {
	var cfg MomConfig
	if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values
func (c *MomConfig) ApplyDefaults() {
	if c.Env == "" {
		c.Env = DefaultEnvironment()
	}
	if c.Address == "" {
		c.Address = DefaultMomAddress
	}
	if c.DeriveParallelism <= 0 {
		c.DeriveParallelism = DefaultDeriveParallel
	}
	if c.RateLimit.RPM <= 0 {
		c.RateLimit.RPM = DefaultRateRPM
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = DefaultRateBurst
	}
	if c.UsersRefresh <= 0 {
		c.UsersRefresh = DefaultUsersRefresh
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.Secrets.ReadonlyAPIKey == "" && c.Env.IsDev() {
		c.Secrets.ReadonlyAPIKey = DefaultDevAPIKey
	}
	for name, tc := range c.Tenants {
		if tc.Name == "" {
			tc.Name = name
			c.Tenants[name] = tc
		}
	}
}

// Validate checks the config for mistakes that would only show up later
func (c *MomConfig) Validate() error {
	if !c.Env.Valid() {
		return fmt.Errorf("invalid env %q", c.Env)
	}
	if c.TenantDataDir == "" {
		return fmt.Errorf("tenant_data_dir is required")
	}
	if c.Secrets.ReadonlyAPIKey == "" {
		return fmt.Errorf("secrets.readonly_api_key is required in production")
	}
	for name, tc := range c.Tenants {
		if tc.Name != name {
			return fmt.Errorf("tenant %q has mismatched name %q", name, tc.Name)
		}
		if c.Env.IsProd() && tc.ObjectStorage == nil {
			return fmt.Errorf("tenant %q: object_storage is required in production", name)
		}
	}
	return nil
}

// TenantBaseDir is where a tenant's local state lives
func (c *MomConfig) TenantBaseDir(tenant string) string {
	return filepath.Join(c.TenantDataDir, tenant)
}

// LoadCubConfig reads a front-end config file. An empty path yields the
// defaults, which is what development uses.
func LoadCubConfig(path string) (*CubConfig, error) {
	var cfg CubConfig
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values and environment overrides
func (c *CubConfig) ApplyDefaults() {
	if c.Env == "" {
		c.Env = DefaultEnvironment()
	}
	if c.Address == "" {
		c.Address = DefaultCubAddress
	}
	if c.MomBaseURL == "" {
		c.MomBaseURL = DefaultMomBaseURL
	}
	if key := os.Getenv("BURROW_MOM_API_KEY"); key != "" {
		c.MomAPIKey = key
	}
	if c.MomAPIKey == "" {
		c.MomAPIKey = DefaultDevAPIKey
	}
	if c.DevPort == 0 {
		c.DevPort = 1111
	}
	if c.Cache.Size == "" {
		c.Cache.Size = DefaultCacheSize
	}
	if c.Cache.MaxObjectSize == "" {
		c.Cache.MaxObjectSize = DefaultCacheObjectLimit
	}
}

// Validate checks the config
func (c *CubConfig) Validate() error {
	if !c.Env.Valid() {
		return fmt.Errorf("invalid env %q", c.Env)
	}
	if c.Env.IsProd() && c.MomAPIKey == DefaultDevAPIKey {
		return fmt.Errorf("mom_api_key must be set in production")
	}
	if _, _, err := c.Cache.Bytes(); err != nil {
		return err
	}
	return nil
}

// DeriveCookieSauce derives a tenant's cookie secret from the global one
func DeriveCookieSauce(global, tenant string) string {
	mac := hmac.New(sha256.New, []byte(global))
	mac.Write([]byte(tenant))
	return hex.EncodeToString(mac.Sum(nil))
}

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}
