package resource

import (
	"context"
	"errors"
	"strings"

	"github.com/metasync/metasync/internal/metadata"
	"github.com/metasync/metasync/internal/sqlexec"
)

// SQLObject is a Resource backed by statements on the SQL plane.
type SQLObject struct {
	Runner sqlexec.Runner
	Source string
	Name   string

	// ExistsSQL must return at least one row when the object is present.
	ExistsSQL string
	CreateSQL string
	DropSQL   func(cascade bool) string
	// ReplaceSQL defaults to DropSQL(false) followed by CreateSQL in the
	// same run_sql transaction.
	ReplaceSQL string
}

func (o *SQLObject) Describe() string { return o.Name }

func (o *SQLObject) opts(extra ...sqlexec.Option) []sqlexec.Option {
	var opts []sqlexec.Option
	if o.Source != "" {
		opts = append(opts, sqlexec.WithSource(o.Source))
	}
	return append(opts, extra...)
}

func (o *SQLObject) Exists(ctx context.Context) (bool, error) {
	res, err := o.Query(ctx, o.ExistsSQL)
	if err != nil {
		return false, err
	}
	return !res.Empty(), nil
}

// Query runs a read-only statement about the object. A rejected query is
// returned as a *CheckError.
func (o *SQLObject) Query(ctx context.Context, stmt string) (*sqlexec.Result, error) {
	res, err := o.Runner.SQL(ctx, stmt, o.opts(sqlexec.WithReadOnly())...)
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, &CheckError{Object: o.Name, Err: res.Err}
	}
	return res, nil
}

func (o *SQLObject) Create(ctx context.Context) (*Outcome, error) {
	return o.Exec(ctx, o.CreateSQL, false)
}

func (o *SQLObject) Replace(ctx context.Context) (*Outcome, error) {
	stmt := o.ReplaceSQL
	if stmt == "" {
		stmt = Join(o.DropSQL(false), o.CreateSQL)
	}
	return o.Exec(ctx, stmt, false)
}

func (o *SQLObject) Drop(ctx context.Context, cascade bool) (*Outcome, error) {
	return o.Exec(ctx, o.DropSQL(cascade), cascade)
}

// Exec runs one statement against the object's source.
func (o *SQLObject) Exec(ctx context.Context, stmt string, cascade bool) (*Outcome, error) {
	res, err := o.Runner.SQL(ctx, stmt, o.opts(sqlexec.WithCascade(cascade))...)
	if err != nil {
		return nil, err
	}
	return FromResult(res), nil
}

// Join concatenates statements so they run in one transaction.
func Join(stmts ...string) string {
	parts := make([]string, 0, len(stmts))
	for _, s := range stmts {
		s = strings.TrimRight(strings.TrimSpace(s), ";")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ";\n") + ";"
}

// MetadataObject is a Resource backed by requests on the metadata plane.
type MetadataObject struct {
	Runner metadata.Runner
	Name   string

	// Present looks the object up in an exported document.
	Present   func(doc *metadata.Document) bool
	CreateReq metadata.Request
	DropReq   func(cascade bool) metadata.Request
	// ReplaceReqs defaults to DropReq(false) followed by CreateReq in one
	// bulk request. A single request is sent as-is.
	ReplaceReqs []metadata.Request
}

func (o *MetadataObject) Describe() string { return o.Name }

func (o *MetadataObject) Exists(ctx context.Context) (bool, error) {
	doc, err := metadata.Export(ctx, o.Runner)
	if err != nil {
		var ee *metadata.ExportError
		if errors.As(err, &ee) {
			return false, &CheckError{Object: o.Name, Err: ee.Err}
		}
		return false, err
	}
	return o.Present(doc), nil
}

func (o *MetadataObject) Create(ctx context.Context) (*Outcome, error) {
	return o.Send(ctx, o.CreateReq)
}

func (o *MetadataObject) Replace(ctx context.Context) (*Outcome, error) {
	reqs := o.ReplaceReqs
	if len(reqs) == 0 {
		reqs = []metadata.Request{o.DropReq(false), o.CreateReq}
	}
	if len(reqs) == 1 {
		return o.Send(ctx, reqs[0])
	}
	resp, err := o.Runner.Bulk(ctx, reqs...)
	if err != nil {
		return nil, err
	}
	return FromResponse(resp), nil
}

func (o *MetadataObject) Drop(ctx context.Context, cascade bool) (*Outcome, error) {
	return o.Send(ctx, o.DropReq(cascade))
}

// Send issues one request.
func (o *MetadataObject) Send(ctx context.Context, req metadata.Request) (*Outcome, error) {
	resp, err := o.Runner.V1(ctx, req)
	if err != nil {
		return nil, err
	}
	return FromResponse(resp), nil
}
