package rollback

import (
	"context"
	"errors"
	"fmt"

	"github.com/metasync/metasync/internal/consistency"
	"github.com/metasync/metasync/internal/resource"
	"github.com/metasync/metasync/internal/state"
	"github.com/metasync/metasync/internal/transport"
)

// ErrNothingToRollBack is returned when state records no restorable
// snapshot.
var ErrNothingToRollBack = errors.New("no snapshot to roll back to")

// Metadata is the part of the consistency monitor a rollback needs.
type Metadata interface {
	Restore(ctx context.Context, path string) (*resource.Outcome, error)
	Reload(ctx context.Context) (*resource.Outcome, error)
	Inconsistent(ctx context.Context) (*consistency.Report, error)
}

// Rollback restores the metadata snapshot taken before the last apply.
// Database objects created by that apply are left in place.
type Rollback struct {
	md    Metadata
	state *state.State
}

// Options controls what gets rolled back.
type Options struct {
	// Snapshot overrides the snapshot recorded in state.
	Snapshot   string
	SkipReload bool
}

// Result holds the outcome of a rollback.
type Result struct {
	Snapshot     string                           `json:"snapshot" yaml:"snapshot"`
	Restored     bool                             `json:"restored" yaml:"restored"`
	Reloaded     bool                             `json:"reloaded" yaml:"reloaded"`
	Inconsistent []consistency.InconsistentObject `json:"inconsistent,omitempty" yaml:"inconsistent,omitempty"`
	Errors       []string                         `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// New creates a new Rollback orchestrator.
func New(md Metadata, st *state.State) *Rollback {
	return &Rollback{md: md, state: st}
}

// Execute performs the rollback. Logical failures of each step are
// collected and later steps still run; a transport error stops the
// rollback and is returned.
func (r *Rollback) Execute(ctx context.Context, opts Options) (*Result, error) {
	snapshot := opts.Snapshot
	if snapshot == "" {
		if !r.state.CanRollBack() {
			return nil, ErrNothingToRollBack
		}
		snapshot = r.state.SnapshotPath
	}
	result := &Result{Snapshot: snapshot}

	// Step 1: replace metadata with the snapshot
	out, err := r.md.Restore(ctx, snapshot)
	switch {
	case err != nil && isTransport(err):
		return result, err
	case err != nil:
		result.Errors = append(result.Errors, fmt.Sprintf("restoring snapshot: %v", err))
	case out.Failed():
		result.Errors = append(result.Errors, fmt.Sprintf("restoring snapshot: %s", out))
	default:
		result.Restored = true
	}

	// Step 2: reload so sources pick up the restored configuration
	if !opts.SkipReload {
		out, err := r.md.Reload(ctx)
		switch {
		case err != nil:
			return result, err
		case out.Failed():
			result.Errors = append(result.Errors, fmt.Sprintf("reloading metadata: %s", out))
		default:
			result.Reloaded = true
		}
	}

	// Step 3: report what the restored metadata cannot resolve
	report, err := r.md.Inconsistent(ctx)
	if err != nil {
		if isTransport(err) {
			return result, err
		}
		result.Errors = append(result.Errors, err.Error())
	} else {
		result.Inconsistent = report.Objects
	}

	if result.Restored {
		r.state.MarkRolledBack()
	}
	return result, nil
}

func isTransport(err error) bool {
	var te *transport.Error
	return errors.As(err, &te)
}
