package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"gopkg.in/yaml.v3"

	"github.com/metasync/metasync/internal/metadata"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.metasync/metasync.yaml"
	DefaultHome    = "~/.metasync"

	DefaultSecretHeader = "X-Hasura-Admin-Secret"
	DefaultTimeout      = 30 * time.Second
	DefaultRetries      = 2
	MaxRetries          = 10
)

// Config is the top-level configuration.
type Config struct {
	Version     int               `yaml:"version"`
	Endpoint    EndpointConfig    `yaml:"endpoint"`
	Source      SourceConfig      `yaml:"source,omitempty"`
	Consistency ConsistencyConfig `yaml:"consistency,omitempty"`
	Logging     LogConfig         `yaml:"logging,omitempty"`
	// StateDir holds state.yaml and metadata snapshots.
	StateDir string `yaml:"state_dir,omitempty"`
}

// EndpointConfig locates the remote engine.
type EndpointConfig struct {
	URL               string        `yaml:"url"`
	AdminSecret       string        `yaml:"admin_secret,omitempty"`
	AdminSecretHeader string        `yaml:"admin_secret_header,omitempty"`
	Timeout           time.Duration `yaml:"timeout,omitempty"`
	Retries           *int          `yaml:"retries,omitempty"` // default 2, max 10
}

// SourceConfig describes the default data source.
type SourceConfig struct {
	Name        string `yaml:"name,omitempty"`
	Kind        string `yaml:"kind,omitempty"`
	DatabaseURL string `yaml:"database_url,omitempty"`
	// Verify connects to DatabaseURL from this machine before registering it.
	Verify bool `yaml:"verify,omitempty"`
}

// ConsistencyConfig controls metadata healing.
type ConsistencyConfig struct {
	Preflight *bool `yaml:"preflight,omitempty"` // default true
}

// PreflightEnabled reports whether inconsistent objects are dropped before
// each healed operation.
func (c ConsistencyConfig) PreflightEnabled() bool {
	return c.Preflight == nil || *c.Preflight
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level         string `yaml:"level,omitempty"`          // debug, info, warn, error
	Directory     string `yaml:"directory,omitempty"`      // default ~/.metasync/logs/
	RetentionDays int    `yaml:"retention_days,omitempty"` // default 30
}

// Load reads and parses the config file from the given path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	if err := cfg.resolveSecrets(context.Background()); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a configuration without a file from METASYNC_ENDPOINT,
// METASYNC_ADMIN_SECRET and DATABASE_URL.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Version: CurrentVersion,
		Endpoint: EndpointConfig{
			URL:         os.Getenv("METASYNC_ENDPOINT"),
			AdminSecret: os.Getenv("METASYNC_ADMIN_SECRET"),
		},
		Source: SourceConfig{DatabaseURL: os.Getenv("DATABASE_URL")},
	}
	if cfg.Endpoint.URL == "" {
		return nil, fmt.Errorf("METASYNC_ENDPOINT not set and no config file given")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyDefaults() {
	if c.Endpoint.AdminSecretHeader == "" {
		c.Endpoint.AdminSecretHeader = DefaultSecretHeader
	}
	if c.Endpoint.Timeout == 0 {
		c.Endpoint.Timeout = DefaultTimeout
	}
	if c.Endpoint.Retries == nil {
		retries := DefaultRetries
		c.Endpoint.Retries = &retries
	}
	c.Endpoint.URL = strings.TrimRight(c.Endpoint.URL, "/")
	if c.Source.Name == "" {
		c.Source.Name = "default"
	}
	if c.Source.Kind == "" {
		c.Source.Kind = metadata.DefaultKind
	}
	if c.StateDir == "" {
		c.StateDir = DefaultHome
	}
	c.StateDir = ExpandHome(c.StateDir)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = filepath.Join(c.StateDir, "logs")
	}
	c.Logging.Directory = ExpandHome(c.Logging.Directory)
	if c.Logging.RetentionDays == 0 {
		c.Logging.RetentionDays = 30
	}
}

// Validate checks the endpoint and source settings.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Endpoint.URL)
	switch {
	case c.Endpoint.URL == "":
		errs = append(errs, errors.New("endpoint.url is required"))
	case err != nil:
		errs = append(errs, fmt.Errorf("endpoint.url: %w", err))
	case (u.Scheme != "http" && u.Scheme != "https") || u.Host == "":
		errs = append(errs, fmt.Errorf("endpoint.url %q must be an absolute http(s) URL", c.Endpoint.URL))
	}
	if c.Endpoint.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("endpoint.timeout must be positive, got %s", c.Endpoint.Timeout))
	}
	if r := c.Endpoint.Retries; r != nil && (*r < 0 || *r > MaxRetries) {
		errs = append(errs, fmt.Errorf("endpoint.retries must be between 0 and %d, got %d", MaxRetries, *r))
	}
	if c.Source.DatabaseURL != "" && metadata.IsPostgresFamily(c.Source.Kind) {
		if _, err := pgx.ParseConfig(c.Source.DatabaseURL); err != nil {
			errs = append(errs, fmt.Errorf("source.database_url: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RetryCount returns the configured number of retries.
func (c *Config) RetryCount() int {
	if c.Endpoint.Retries == nil {
		return DefaultRetries
	}
	return *c.Endpoint.Retries
}

// StatePath is the location of state.yaml.
func (c *Config) StatePath() string {
	return filepath.Join(c.StateDir, "state.yaml")
}

// SnapshotDir is where metadata snapshots are written.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.StateDir, "snapshots")
}

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

func (c *Config) resolveSecrets(ctx context.Context) error {
	var err error
	c.Endpoint.AdminSecret, err = ResolveValue(ctx, c.Endpoint.AdminSecret)
	if err != nil {
		return fmt.Errorf("endpoint admin secret: %w", err)
	}
	c.Source.DatabaseURL, err = ResolveValue(ctx, c.Source.DatabaseURL)
	if err != nil {
		return fmt.Errorf("source database url: %w", err)
	}
	return nil
}

// ResolveValue replaces every secret reference in val. References may be
// embedded, e.g. postgres://app:${ENV:DB_PASSWORD}@db/app.
func ResolveValue(ctx context.Context, val string) (string, error) {
	var firstErr error
	out := secretPattern.ReplaceAllStringFunc(val, func(ref string) string {
		if firstErr != nil {
			return ref
		}
		m := secretPattern.FindStringSubmatch(ref)
		v, err := resolveOne(ctx, m[1], m[2])
		if err != nil {
			firstErr = err
			return ref
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func resolveOne(ctx context.Context, provider, ref string) (string, error) {
	switch provider {
	case "ENV":
		v := os.Getenv(ref)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return v, nil
	case "VAULT":
		return resolveVault(ctx, ref)
	case "AWS_SM":
		return resolveAWSSecretsManager(ctx, ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}
