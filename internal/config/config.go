// Package config holds the typed configuration shared by the supervisor,
// the worker child and the CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/modelsearch/internal/artifacts"
	"github.com/psantana5/modelsearch/internal/executor"
	"github.com/psantana5/modelsearch/internal/generator"
	"github.com/psantana5/modelsearch/internal/strategy"
	"github.com/psantana5/modelsearch/pkg/cleanup"
	"github.com/psantana5/modelsearch/pkg/store"
	"github.com/psantana5/modelsearch/pkg/tlsutil"
	"github.com/psantana5/modelsearch/pkg/tracing"
)

// EnvPrefix prefixes every environment override, e.g. MSEARCH_POOL_MAX_ACTIVE.
const EnvPrefix = "MSEARCH"

// Config is the complete configuration.
type Config struct {
	Server    ServerConfig     `mapstructure:"server" yaml:"server"`
	Store     store.Config     `mapstructure:"store" yaml:"store"`
	Pool      PoolConfig       `mapstructure:"pool" yaml:"pool"`
	Generator generator.Config `mapstructure:"generator" yaml:"generator"`
	Executor  executor.Config  `mapstructure:"executor" yaml:"executor"`
	Search    SearchConfig     `mapstructure:"search" yaml:"search"`
	Tracing   tracing.Config   `mapstructure:"tracing" yaml:"tracing"`
	Logging   LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Artifacts artifacts.Config `mapstructure:"artifacts" yaml:"artifacts"`
	Cleanup   cleanup.Config   `mapstructure:"cleanup" yaml:"cleanup"`
}

// ServerConfig configures the control API.
type ServerConfig struct {
	Addr        string `mapstructure:"addr" yaml:"addr"`
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"` // empty disables the metrics listener
	URL         string `mapstructure:"url" yaml:"url"`                   // base URL the CLI talks to
	// APIKeys are accepted bearer tokens; empty disables authentication
	APIKeys []string `mapstructure:"api_keys" yaml:"api_keys"`
	// APIKeyHashes are bcrypt hashes of further accepted tokens
	APIKeyHashes       []string       `mapstructure:"api_key_hashes" yaml:"api_key_hashes"`
	RateLimit          float64        `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second per client, 0 = unlimited
	RateBurst          int            `mapstructure:"rate_burst" yaml:"rate_burst"`
	ReadTimeout        time.Duration  `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout       time.Duration  `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout    time.Duration  `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	HostSampleInterval time.Duration  `mapstructure:"host_sample_interval" yaml:"host_sample_interval"`
	TLS                tlsutil.Config `mapstructure:"tls" yaml:"tls"`
}

// PoolConfig configures the worker pool.
type PoolConfig struct {
	MaxActive   int           `mapstructure:"max_active" yaml:"max_active"`
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	// WorkerCommand runs one job; empty means this binary's "worker run"
	WorkerCommand []string `mapstructure:"worker_command" yaml:"worker_command"`
}

// SearchConfig tunes the refinement loop.
type SearchConfig struct {
	Timeouts strategy.TrialTimeouts `mapstructure:"timeouts" yaml:"timeouts"`
	Seed     int64                  `mapstructure:"seed" yaml:"seed"` // 0 seeds from the clock
}

// LoggingConfig configures process and job logs.
type LoggingConfig struct {
	Level     string `mapstructure:"level" yaml:"level"`
	JSON      bool   `mapstructure:"json" yaml:"json"`
	ToFile    bool   `mapstructure:"to_file" yaml:"to_file"` // /var/log/msearch/<component>/<sub>.log
	JobLogDir string `mapstructure:"job_log_dir" yaml:"job_log_dir"`
	MaxSizeMB int64  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:               ":8000",
			MetricsAddr:        ":9090",
			URL:                "http://localhost:8000",
			RateLimit:          10,
			RateBurst:          20,
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       30 * time.Second,
			ShutdownTimeout:    30 * time.Second,
			HostSampleInterval: 15 * time.Second,
			TLS: tlsutil.Config{
				CertFile: "certs/msearch.crt",
				KeyFile:  "certs/msearch.key",
				Generate: true,
			},
		},
		Store: store.Config{
			Type: "sqlite",
			Path: "msearch.db",
		},
		Pool: PoolConfig{
			MaxActive:   2,
			GracePeriod: 5 * time.Second,
		},
		Generator: generator.DefaultConfig(),
		Executor:  executor.DefaultConfig(),
		Tracing: tracing.Config{
			ServiceName:  "msearch",
			Environment:  "development",
			OTLPEndpoint: "localhost:4318",
		},
		Logging: LoggingConfig{
			Level:     "info",
			JobLogDir: "logs",
			MaxSizeMB: 100,
		},
		Artifacts: artifacts.DefaultConfig(),
		Cleanup:   cleanup.DefaultConfig(),
	}
}

// Validate checks the configuration as a whole.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		errs = append(errs, errors.New("server.rate_burst must be >= 1 when rate limiting"))
	}
	switch c.Store.Type {
	case "sqlite", "":
	case "postgres", "postgresql":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unsupported store.type %q", c.Store.Type))
	}
	if c.Pool.MaxActive < 1 {
		errs = append(errs, fmt.Errorf("pool.max_active must be >= 1, got %d", c.Pool.MaxActive))
	}
	if c.Pool.GracePeriod < 0 {
		errs = append(errs, errors.New("pool.grace_period must not be negative"))
	}
	if c.Search.Timeouts.Generate < 0 || c.Search.Timeouts.Train < 0 {
		errs = append(errs, errors.New("search.timeouts must not be negative"))
	}
	if err := c.Generator.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Executor.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Server.TLS.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Cleanup.RetentionDays < 0 {
		errs = append(errs, errors.New("cleanup.retention_days must not be negative"))
	}
	if c.Tracing.Enabled && c.Tracing.OTLPEndpoint == "" {
		errs = append(errs, errors.New("tracing.otlp_endpoint is required when tracing is enabled"))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	if c.Generator.APIKey != "" {
		c.Generator.APIKey = mask(c.Generator.APIKey)
	}
	if len(c.Server.APIKeys) > 0 {
		keys := make([]string, len(c.Server.APIKeys))
		for i, k := range c.Server.APIKeys {
			keys[i] = mask(k)
		}
		c.Server.APIKeys = keys
	}
	if c.Store.DSN != "" {
		c.Store.DSN = "********"
	}
	return c
}

func mask(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// YAML renders the configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	data, err := Default().YAML()
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultPath is $HOME/.msearch/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".msearch", "config.yaml"), nil
}

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Bind registers defaults and environment overrides on v. Call it before
// ReadInConfig.
func Bind(v *viper.Viper) error {
	defaults, err := flatten(Default())
	if err != nil {
		return err
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string][]string{
		"generator.api_key": {"GROQ_API_KEY", "MSEARCH_GENERATOR_API_KEY"},
		"store.dsn":         {"MSEARCH_DATABASE_URL", "MSEARCH_STORE_DSN"},
		"server.url":        {"MSEARCH_URL", "MSEARCH_SERVER_URL"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}
	if key := strings.TrimSpace(os.Getenv("MSEARCH_API_KEY")); key != "" && !contains(cfg.Server.APIKeys, key) {
		cfg.Server.APIKeys = append(cfg.Server.APIKeys, key)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile reads a single YAML file on top of the defaults, honouring
// environment overrides.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	if err := Bind(v); err != nil {
		return Config{}, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return Load(v)
}

// flatten turns cfg into dotted viper keys via its YAML form.
func flatten(cfg Config) (map[string]interface{}, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to render defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse defaults: %w", err)
	}
	out := make(map[string]interface{})
	var walk func(prefix string, m map[string]interface{})
	walk = func(prefix string, m map[string]interface{}) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := v.(map[string]interface{}); ok {
				walk(key, sub)
				continue
			}
			out[key] = v
		}
	}
	walk("", tree)
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
