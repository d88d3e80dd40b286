package resource

import (
	"context"
	"log/slog"
)

// Driver runs Create, Define and Delete and logs each outcome. Managers
// hold one so every kind reports the same way.
type Driver struct {
	Logger *slog.Logger
}

// NewDriver creates a Driver; a nil logger discards.
func NewDriver(logger *slog.Logger) Driver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return Driver{Logger: logger}
}

func (d Driver) Create(ctx context.Context, r Resource) (*Outcome, error) {
	out, err := Create(ctx, r)
	d.log("create", r, out, err)
	return out, err
}

func (d Driver) Define(ctx context.Context, r Resource) (*Outcome, error) {
	out, err := Define(ctx, r)
	d.log("define", r, out, err)
	return out, err
}

func (d Driver) Delete(ctx context.Context, r Resource, opts ...DeleteOption) (*Outcome, error) {
	out, err := Delete(ctx, r, Cascading(opts...))
	d.log("delete", r, out, err)
	return out, err
}

func (d Driver) log(verb string, r Resource, out *Outcome, err error) {
	logger := d.Logger
	if logger == nil {
		return
	}
	switch {
	case err != nil:
		logger.Debug(verb+" failed", "object", r.Describe(), "error", err)
	case out.Failed():
		logger.Debug(verb+" rejected", "object", r.Describe(), "error", out.String())
	default:
		logger.Debug(verb, "object", r.Describe(), "outcome", out.String())
	}
}
