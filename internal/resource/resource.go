// Package resource holds the create/define/delete control flow shared by
// every managed object kind. A kind supplies an existence check plus
// create, replace and drop calls; the driver functions turn those into a
// strict constructor, an idempotent convergence and an idempotent
// destructor.
package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/metasync/metasync/internal/metadata"
	"github.com/metasync/metasync/internal/sqlexec"
	"github.com/metasync/metasync/internal/transport"
)

// ErrAlreadyExists is matched by every *AlreadyExistsError.
var ErrAlreadyExists = errors.New("already exists")

// AlreadyExistsError is returned by Create when the target is present.
type AlreadyExistsError struct {
	Object string
	Err    *transport.ServiceError
}

func (e *AlreadyExistsError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s already exists (%s)", e.Object, e.Err)
	}
	return e.Object + " already exists"
}

func (e *AlreadyExistsError) Unwrap() error { return ErrAlreadyExists }

// CheckError is returned by Exists when the remote side rejects an
// existence check. Create, Define and Delete report it as a rejected
// outcome carrying Err.
type CheckError struct {
	Object string
	Err    *transport.ServiceError
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("checking whether %s exists: %s", e.Object, e.Err)
}

// Outcome is the non-error result of a managed operation.
type Outcome struct {
	Success bool                    `json:"success" yaml:"success"`
	Ignored bool                    `json:"ignored,omitempty" yaml:"ignored,omitempty"`
	Err     *transport.ServiceError `json:"error,omitempty" yaml:"error,omitempty"`
	Raw     json.RawMessage         `json:"-" yaml:"-"`
}

// Failed reports whether the remote side rejected the operation.
func (o *Outcome) Failed() bool {
	return o == nil || !o.Success
}

func (o *Outcome) String() string {
	switch {
	case o == nil:
		return "no outcome"
	case o.Ignored:
		return "ignored"
	case o.Success:
		return "ok"
	default:
		return o.Err.String()
	}
}

// Succeeded is a plain success.
func Succeeded() *Outcome {
	return &Outcome{Success: true}
}

// IgnoredOutcome is the success reported when a destructor finds nothing to
// remove.
func IgnoredOutcome() *Outcome {
	return &Outcome{Success: true, Ignored: true}
}

// Rejected wraps a logical failure.
func Rejected(err *transport.ServiceError) *Outcome {
	return &Outcome{Err: err}
}

// Invalid is a validation-failed outcome for input rejected before any
// remote call is made.
func Invalid(format string, args ...any) *Outcome {
	return Rejected(&transport.ServiceError{
		Code:    transport.CodeValidationFailed,
		Message: fmt.Sprintf(format, args...),
	})
}

// FromResult converts a run_sql result.
func FromResult(res *sqlexec.Result) *Outcome {
	if res == nil {
		return Rejected(&transport.ServiceError{Code: transport.CodeUnexpected, Message: "empty result"})
	}
	if res.Err != nil {
		return Rejected(res.Err)
	}
	return Succeeded()
}

// FromResponse converts a metadata response.
func FromResponse(resp *metadata.Response) *Outcome {
	if resp == nil {
		return Rejected(&transport.ServiceError{Code: transport.CodeUnexpected, Message: "empty response"})
	}
	if resp.Err != nil {
		return Rejected(resp.Err)
	}
	return &Outcome{Success: true, Raw: resp.Raw}
}

// Resource is one managed object.
type Resource interface {
	Describe() string
	Exists(ctx context.Context) (bool, error)
	Create(ctx context.Context) (*Outcome, error)
	// Replace swaps an existing object for the desired one in a single
	// remote call, either natively or as an atomic drop-and-create.
	Replace(ctx context.Context) (*Outcome, error)
	Drop(ctx context.Context, cascade bool) (*Outcome, error)
}

// Updater is implemented by kinds that converge an existing object in place
// instead of recreating it.
type Updater interface {
	Update(ctx context.Context) (*Outcome, error)
}

// DeleteOption customizes a delete.
type DeleteOption func(*deleteOptions)

type deleteOptions struct {
	cascade bool
}

// WithCascade sets whether dependents are dropped too. Deletes cascade
// unless told otherwise.
func WithCascade(cascade bool) DeleteOption {
	return func(o *deleteOptions) { o.cascade = cascade }
}

// Cascading resolves the cascade flag of a set of options.
func Cascading(opts ...DeleteOption) bool {
	o := deleteOptions{cascade: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o.cascade
}

// settle turns a rejected existence check into a rejected outcome so only
// transport failures leave the drivers as errors.
func settle(out *Outcome, err error) (*Outcome, error) {
	var ce *CheckError
	if errors.As(err, &ce) {
		return Rejected(ce.Err), nil
	}
	return out, err
}

// Create creates r. It fails with an *AlreadyExistsError when r is present
// or the remote side reports it as already existing.
func Create(ctx context.Context, r Resource) (*Outcome, error) {
	exists, err := r.Exists(ctx)
	if err != nil {
		return settle(nil, err)
	}
	if exists {
		return nil, &AlreadyExistsError{Object: r.Describe()}
	}

	out, err := r.Create(ctx)
	if err != nil {
		return nil, err
	}
	if out.Err.AlreadyExists() {
		return nil, &AlreadyExistsError{Object: r.Describe(), Err: out.Err}
	}
	return out, nil
}

// Define converges r: absent objects are created, present objects are
// updated in place or replaced.
func Define(ctx context.Context, r Resource) (*Outcome, error) {
	exists, err := r.Exists(ctx)
	if err != nil {
		return settle(nil, err)
	}
	if !exists {
		out, err := r.Create(ctx)
		if err != nil || !out.Err.AlreadyExists() {
			return out, err
		}
		// Created concurrently since the check.
	}

	if u, ok := r.(Updater); ok {
		return settle(u.Update(ctx))
	}
	return r.Replace(ctx)
}

// Delete drops r. An absent object is reported as an ignored success.
func Delete(ctx context.Context, r Resource, cascade bool) (*Outcome, error) {
	exists, err := r.Exists(ctx)
	if err != nil {
		return settle(nil, err)
	}
	if !exists {
		return IgnoredOutcome(), nil
	}

	out, err := r.Drop(ctx, cascade)
	if err != nil {
		return nil, err
	}
	if out.Err.NotFound() {
		return IgnoredOutcome(), nil
	}
	return out, nil
}
