package engine

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/metasync/metasync/internal/computed"
	"github.com/metasync/metasync/internal/config"
	"github.com/metasync/metasync/internal/consistency"
	"github.com/metasync/metasync/internal/events"
	"github.com/metasync/metasync/internal/metadata"
	"github.com/metasync/metasync/internal/permission"
	"github.com/metasync/metasync/internal/relationship"
	"github.com/metasync/metasync/internal/schema"
	"github.com/metasync/metasync/internal/source"
	"github.com/metasync/metasync/internal/sqlexec"
	"github.com/metasync/metasync/internal/state"
	"github.com/metasync/metasync/internal/tracking"
	"github.com/metasync/metasync/internal/transport"
)

// Managers are the per-source object managers.
type Managers struct {
	Schema        *schema.Manager
	Tracking      *tracking.Manager
	Relationships *relationship.Manager
	Permissions   *permission.Manager
	Events        *events.Manager
	Computed      *computed.Manager
}

// NewManagers scopes every manager to one source.
func NewManagers(sql sqlexec.Runner, md metadata.Runner, scope metadata.Scope, logger *slog.Logger) Managers {
	return Managers{
		Schema:        schema.NewManager(sql, scope.Name(), logger),
		Tracking:      tracking.NewManager(md, scope, logger),
		Relationships: relationship.NewManager(md, scope, logger),
		Permissions:   permission.NewManager(md, scope, logger),
		Events:        events.NewManager(md, scope, logger),
		Computed:      computed.NewManager(md, scope, logger),
	}
}

// Engine is the facade the CLI drives. Every manager shares one transport
// client.
type Engine struct {
	Managers

	Config *config.Config
	Logger *slog.Logger

	SQL         sqlexec.Runner
	Metadata    metadata.Runner
	Sources     *source.Registry
	Consistency *consistency.Monitor

	endpoint  string
	statePath string
	reportDir string
}

// New creates an Engine for the endpoint in cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	client, err := transport.New(transport.Options{
		URL:          cfg.Endpoint.URL,
		AdminSecret:  cfg.Endpoint.AdminSecret,
		SecretHeader: cfg.Endpoint.AdminSecretHeader,
		Timeout:      cfg.Endpoint.Timeout,
		Retries:      cfg.RetryCount(),
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}
	sql := sqlexec.New(client, cfg.Source.Name, logger)
	md := metadata.New(client, logger)
	return newEngine(cfg, sql, md, client.Endpoint(), logger), nil
}

func newEngine(cfg *config.Config, sql sqlexec.Runner, md metadata.Runner, endpoint string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	opts := source.Options{DatabaseURL: cfg.Source.DatabaseURL, Kind: cfg.Source.Kind}
	if cfg.Source.Verify {
		opts.Ping = source.Ping
	}
	scope := metadata.Scope{Source: cfg.Source.Name, Kind: cfg.Source.Kind}

	return &Engine{
		Managers:    NewManagers(sql, md, scope, logger),
		Config:      cfg,
		Logger:      logger,
		SQL:         sql,
		Metadata:    md,
		Sources:     source.NewRegistry(md, opts, logger),
		Consistency: consistency.New(md, consistency.Options{SnapshotDir: cfg.SnapshotDir(), Preflight: cfg.Consistency.PreflightEnabled()}, logger),
		endpoint:    endpoint,
		statePath:   cfg.StatePath(),
		reportDir:   filepath.Join(cfg.StateDir, "reports"),
	}
}

// Endpoint is the base URL of the remote engine.
func (e *Engine) Endpoint() string {
	return e.endpoint
}

// ForSource returns managers scoped to another source on the same
// connection.
func (e *Engine) ForSource(name, kind string) Managers {
	return NewManagers(e.SQL, e.Metadata, metadata.Scope{Source: name, Kind: kind}, e.Logger)
}

// LoadState reads the apply state from disk.
func (e *Engine) LoadState() (*state.State, error) {
	return state.Load(e.statePath)
}

// SaveState writes st to disk.
func (e *Engine) SaveState(st *state.State) error {
	return st.Save(e.statePath)
}
