// Package sqlexec runs raw SQL against a named data source through the
// remote engine's run_sql endpoint.
package sqlexec

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/metasync/metasync/internal/transport"
)

const (
	Path          = "/v2/query"
	DefaultSource = "default"

	TuplesOK  = "TuplesOk"
	CommandOK = "CommandOk"
)

// Runner executes SQL. Managers depend on this rather than on *Executor.
type Runner interface {
	SQL(ctx context.Context, text string, opts ...Option) (*Result, error)
}

// Poster is the part of the transport the executor needs.
type Poster interface {
	Post(ctx context.Context, path string, body, out any) (*transport.ServiceError, error)
}

// Result is the discriminated run_sql payload. On success Err is nil and
// Rows holds the header row followed by stringified cells. On a SQL-logical
// failure Err is set and Rows is empty.
type Result struct {
	ResultType string                  `json:"result_type"`
	Rows       [][]string              `json:"result"`
	Err        *transport.ServiceError `json:"-"`
}

// OK reports whether the statement succeeded.
func (r *Result) OK() bool {
	return r != nil && r.Err == nil
}

// Header returns the column names of a TuplesOk result.
func (r *Result) Header() []string {
	if r == nil || len(r.Rows) == 0 {
		return nil
	}
	return r.Rows[0]
}

// Records returns data rows keyed by column name.
func (r *Result) Records() []map[string]string {
	if r == nil || len(r.Rows) < 2 {
		return nil
	}
	header := r.Rows[0]
	out := make([]map[string]string, 0, len(r.Rows)-1)
	for _, row := range r.Rows[1:] {
		rec := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

// Column returns every data cell of the named column.
func (r *Result) Column(name string) []string {
	var out []string
	for _, rec := range r.Records() {
		out = append(out, rec[name])
	}
	return out
}

// Empty reports whether a TuplesOk result has no data rows.
func (r *Result) Empty() bool {
	return r == nil || len(r.Rows) < 2
}

// Bool parses a stringified boolean cell ("t", "true", "1").
func Bool(cell string) bool {
	switch strings.ToLower(cell) {
	case "t", "true", "1", "yes", "on":
		return true
	}
	return false
}

// Int parses a stringified integer cell.
func Int(cell string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(cell), 10, 64)
}

type options struct {
	source           string
	cascade          bool
	readOnly         bool
	checkConsistency *bool
}

// Option customizes a single SQL call.
type Option func(*options)

// WithSource targets a data source other than the executor default.
func WithSource(name string) Option {
	return func(o *options) { o.source = name }
}

// WithCascade asks the engine to drop metadata depending on dropped objects.
// It is only forwarded for statements that contain a DROP.
func WithCascade(cascade bool) Option {
	return func(o *options) { o.cascade = cascade }
}

// WithReadOnly runs the statement in a read-only transaction.
func WithReadOnly() Option {
	return func(o *options) { o.readOnly = true }
}

// WithCheckMetadataConsistency overrides the engine's post-statement
// metadata consistency check.
func WithCheckMetadataConsistency(check bool) Option {
	return func(o *options) { o.checkConsistency = &check }
}

type runSQLArgs struct {
	Source                   string `json:"source"`
	SQL                      string `json:"sql"`
	Cascade                  bool   `json:"cascade"`
	ReadOnly                 bool   `json:"read_only,omitempty"`
	CheckMetadataConsistency *bool  `json:"check_metadata_consistency,omitempty"`
}

type request struct {
	Type string     `json:"type"`
	Args runSQLArgs `json:"args"`
}

// Executor implements Runner over the transport.
type Executor struct {
	client Poster
	source string
	logger *slog.Logger
}

// New creates an Executor. An empty source means "default".
func New(client Poster, source string, logger *slog.Logger) *Executor {
	if source == "" {
		source = DefaultSource
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{client: client, source: source, logger: logger}
}

var dropPattern = regexp.MustCompile(`(?i)\bdrop\b`)

// SQL sends text to the run_sql endpoint. It returns an error only for
// transport failures; SQL errors are reported in Result.Err.
func (e *Executor) SQL(ctx context.Context, text string, opts ...Option) (*Result, error) {
	o := options{source: e.source}
	for _, opt := range opts {
		opt(&o)
	}

	req := request{
		Type: "run_sql",
		Args: runSQLArgs{
			Source:                   o.source,
			SQL:                      text,
			Cascade:                  o.cascade && dropPattern.MatchString(text),
			ReadOnly:                 o.readOnly,
			CheckMetadataConsistency: o.checkConsistency,
		},
	}

	res := &Result{}
	svc, err := e.client.Post(ctx, Path, req, res)
	if err != nil {
		return nil, fmt.Errorf("run_sql on %s: %w", o.source, err)
	}
	if svc != nil {
		e.logger.Debug("sql rejected", "source", o.source, "error", svc.String())
		return &Result{Err: svc}, nil
	}
	return res, nil
}
