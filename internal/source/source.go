// Package source manages the named database connections the remote engine
// serves, including bootstrap of the default source.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/metasync/metasync/internal/metadata"
	"github.com/metasync/metasync/internal/resource"
)

// DefaultName is the source every schema operation assumes.
const DefaultName = "default"

// Environment variables consulted by EnsureDefault, in order.
var urlEnvVars = []string{"DATABASE_URL", "HASURA_GRAPHQL_DATABASE_URL"}

// PoolSettings tunes the engine's connection pool for a source.
type PoolSettings struct {
	MaxConnections     int `json:"max_connections,omitempty" yaml:"max_connections,omitempty"`
	IdleTimeout        int `json:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty"`
	Retries            int `json:"retries,omitempty" yaml:"retries,omitempty"`
	ConnectionLifetime int `json:"connection_lifetime,omitempty" yaml:"connection_lifetime,omitempty"`
	PoolTimeout        int `json:"pool_timeout,omitempty" yaml:"pool_timeout,omitempty"`
}

// Spec describes a source. Exactly one of DatabaseURL and
// DatabaseURLFromEnv is set.
type Spec struct {
	Name               string        `yaml:"name"`
	Kind               string        `yaml:"kind,omitempty"`
	DatabaseURL        string        `yaml:"database_url,omitempty"`
	DatabaseURLFromEnv string        `yaml:"database_url_from_env,omitempty"`
	Pool               *PoolSettings `yaml:"pool_settings,omitempty"`
	IsolationLevel     string        `yaml:"isolation_level,omitempty"`
	UsePreparedStmts   bool          `yaml:"use_prepared_statements,omitempty"`
}

func (s Spec) kind() string {
	if s.Kind == "" {
		return metadata.DefaultKind
	}
	return s.Kind
}

func (s Spec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("source without name")
	}
	if (s.DatabaseURL == "") == (s.DatabaseURLFromEnv == "") {
		return fmt.Errorf("source %s: needs exactly one of database_url and database_url_from_env", s.Name)
	}
	switch s.IsolationLevel {
	case "", "read-committed", "repeatable-read", "serializable":
	default:
		return fmt.Errorf("source %s: invalid isolation level %q", s.Name, s.IsolationLevel)
	}
	if s.DatabaseURL != "" && metadata.IsPostgresFamily(s.Kind) {
		if err := ValidateURL(s.DatabaseURL); err != nil {
			return fmt.Errorf("source %s: %w", s.Name, err)
		}
	}
	return nil
}

type connectionInfo struct {
	DatabaseURL           any           `json:"database_url"`
	PoolSettings          *PoolSettings `json:"pool_settings,omitempty"`
	IsolationLevel        string        `json:"isolation_level,omitempty"`
	UsePreparedStatements bool          `json:"use_prepared_statements,omitempty"`
}

type configuration struct {
	ConnectionInfo connectionInfo `json:"connection_info"`
}

func (s Spec) configuration() configuration {
	var url any = s.DatabaseURL
	if s.DatabaseURLFromEnv != "" {
		url = map[string]string{"from_env": s.DatabaseURLFromEnv}
	}
	return configuration{ConnectionInfo: connectionInfo{
		DatabaseURL:           url,
		PoolSettings:          s.Pool,
		IsolationLevel:        s.IsolationLevel,
		UsePreparedStatements: s.UsePreparedStmts,
	}}
}

type addArgs struct {
	Name                 string        `json:"name"`
	Configuration        configuration `json:"configuration"`
	ReplaceConfiguration bool          `json:"replace_configuration,omitempty"`
}

type dropArgs struct {
	Name    string `json:"name"`
	Cascade bool   `json:"cascade"`
}

// Info is a registered source as reported by the engine.
type Info struct {
	Name        string `json:"name" yaml:"name"`
	Kind        string `json:"kind" yaml:"kind"`
	DatabaseURL string `json:"database_url,omitempty" yaml:"database_url,omitempty"`
	FromEnv     string `json:"from_env,omitempty" yaml:"from_env,omitempty"`
	Tables      int    `json:"tables" yaml:"tables"`
}

// Pinger checks that a database accepts connections.
type Pinger func(ctx context.Context, databaseURL string) error

// Options configures a Registry.
type Options struct {
	// DatabaseURL is the configured default connection string, tried by
	// EnsureDefault before the environment.
	DatabaseURL string
	// Kind of the default source.
	Kind string
	// Ping, when set, runs before a literal URL is registered.
	Ping Pinger
}

// Registry manages data sources.
type Registry struct {
	drv    resource.Driver
	md     metadata.Runner
	opts   Options
	logger *slog.Logger
}

func NewRegistry(md metadata.Runner, opts Options, logger *slog.Logger) *Registry {
	drv := resource.NewDriver(logger)
	return &Registry{drv: drv, md: md, opts: opts, logger: drv.Logger}
}

// List returns every registered source.
func (r *Registry) List(ctx context.Context) ([]Info, error) {
	doc, err := metadata.Export(ctx, r.md)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(doc.Sources))
	for _, s := range doc.Sources {
		out = append(out, Info{
			Name:        s.Name,
			Kind:        s.Kind,
			DatabaseURL: s.DatabaseURL(),
			FromEnv:     fromEnv(s.Configuration),
			Tables:      len(s.Tables),
		})
	}
	return out, nil
}

func fromEnv(cfg json.RawMessage) string {
	var v struct {
		ConnectionInfo struct {
			DatabaseURL struct {
				FromEnv string `json:"from_env"`
			} `json:"database_url"`
		} `json:"connection_info"`
	}
	if json.Unmarshal(cfg, &v) != nil {
		return ""
	}
	return v.ConnectionInfo.DatabaseURL.FromEnv
}

func (r *Registry) Exists(ctx context.Context, name string) (bool, error) {
	doc, err := metadata.Export(ctx, r.md)
	if err != nil {
		return false, err
	}
	return doc.Source(name) != nil, nil
}

func (r *Registry) object(s Spec) *resource.MetadataObject {
	op := metadata.Op(s.kind(), metadata.AddSource)
	return &resource.MetadataObject{
		Runner: r.md,
		Name:   fmt.Sprintf("source %s", s.Name),
		Present: func(doc *metadata.Document) bool {
			return doc.Source(s.Name) != nil
		},
		CreateReq: metadata.Request{Type: op, Args: addArgs{Name: s.Name, Configuration: s.configuration()}},
		DropReq: func(cascade bool) metadata.Request {
			return metadata.Request{
				Type: metadata.Op(s.kind(), metadata.DropSource),
				Args: dropArgs{Name: s.Name, Cascade: cascade},
			}
		},
		ReplaceReqs: []metadata.Request{{
			Type: op,
			Args: addArgs{Name: s.Name, Configuration: s.configuration(), ReplaceConfiguration: true},
		}},
	}
}

func (r *Registry) check(ctx context.Context, s Spec) error {
	if err := s.validate(); err != nil {
		return err
	}
	if r.opts.Ping != nil && s.DatabaseURL != "" && metadata.IsPostgresFamily(s.Kind) {
		if err := r.opts.Ping(ctx, s.DatabaseURL); err != nil {
			return fmt.Errorf("source %s: %w", s.Name, err)
		}
	}
	return nil
}

// Create registers a source; it fails if the name is taken.
func (r *Registry) Create(ctx context.Context, s Spec) (*resource.Outcome, error) {
	if err := r.check(ctx, s); err != nil {
		return resource.Invalid("%v", err), nil
	}
	return r.drv.Create(ctx, r.object(s))
}

// Define registers a source or replaces the configuration of an existing
// one in place; metadata tracked on it is kept.
func (r *Registry) Define(ctx context.Context, s Spec) (*resource.Outcome, error) {
	if err := r.check(ctx, s); err != nil {
		return resource.Invalid("%v", err), nil
	}
	return r.drv.Define(ctx, r.object(s))
}

// Delete removes a source. With cascade (the default) everything tracked
// on it is removed from metadata as well.
func (r *Registry) Delete(ctx context.Context, name string, opts ...resource.DeleteOption) (*resource.Outcome, error) {
	kind := metadata.DefaultKind
	if doc, err := metadata.Export(ctx, r.md); err == nil {
		if s := doc.Source(name); s != nil && s.Kind != "" {
			kind = s.Kind
		}
	}
	return r.drv.Delete(ctx, r.object(Spec{Name: name, Kind: kind}), opts...)
}

// ResolveURL returns the first non-empty of databaseURL, the configured
// URL and the environment variables, with the place it came from.
func (r *Registry) ResolveURL(databaseURL string) (url, origin string) {
	if databaseURL != "" {
		return databaseURL, "argument"
	}
	if r.opts.DatabaseURL != "" {
		return r.opts.DatabaseURL, "config"
	}
	for _, name := range urlEnvVars {
		if v := os.Getenv(name); v != "" {
			return v, name
		}
	}
	return "", ""
}

// EnsureDefault registers the default source when it is missing. An
// existing default source is left untouched and reported as ignored.
func (r *Registry) EnsureDefault(ctx context.Context, databaseURL string) (*resource.Outcome, error) {
	exists, err := r.Exists(ctx, DefaultName)
	if err != nil {
		return nil, err
	}
	if exists {
		r.logger.Debug("default source present")
		return resource.IgnoredOutcome(), nil
	}

	url, origin := r.ResolveURL(databaseURL)
	if url == "" {
		return resource.Invalid("no database url: pass one, set source.database_url or export %s", urlEnvVars[0]), nil
	}
	r.logger.Info("registering default source", "origin", origin)

	out, err := r.Create(ctx, Spec{Name: DefaultName, Kind: r.opts.Kind, DatabaseURL: url})
	if errors.Is(err, resource.ErrAlreadyExists) {
		return resource.IgnoredOutcome(), nil
	}
	return out, err
}
