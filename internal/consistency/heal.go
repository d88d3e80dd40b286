package consistency

import (
	"context"
	"fmt"
	"sync"

	"github.com/metasync/metasync/internal/resource"
)

// Op is a managed operation that can be healed.
type Op func(ctx context.Context) (*resource.Outcome, error)

// Heal records one drop-and-retry.
type Heal struct {
	Step    string               `json:"step" yaml:"step"`
	Cause   string               `json:"cause" yaml:"cause"`
	Dropped []InconsistentObject `json:"dropped,omitempty" yaml:"dropped,omitempty"`
	Retry   string               `json:"retry" yaml:"retry"`
}

// WithHealing runs op. When op is rejected with a failure that points at
// stale metadata, the inconsistent objects are dropped and op is retried
// exactly once; the retry's outcome is returned. Transport errors are
// returned untouched and never retried.
func (m *Monitor) WithHealing(ctx context.Context, op Op) (*resource.Outcome, error) {
	out, _, err := m.heal(ctx, "", op)
	return out, err
}

func (m *Monitor) heal(ctx context.Context, step string, op Op) (*resource.Outcome, *Heal, error) {
	if m.opts.Preflight {
		if err := m.preflight(ctx); err != nil {
			return nil, nil, err
		}
	}

	out, err := op(ctx)
	if err != nil || !out.Failed() || !out.Err.Stale() {
		return out, nil, err
	}

	h := &Heal{Step: step, Cause: out.Err.String()}
	m.logger.Warn("stale metadata, dropping inconsistent objects", "step", step, "cause", h.Cause)

	if report, err := m.Inconsistent(ctx); err == nil {
		h.Dropped = report.Objects
	} else {
		m.logger.Warn("listing inconsistent metadata before drop", "error", err)
	}
	drop, err := m.DropInconsistent(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("dropping inconsistent metadata: %w", err)
	}
	if drop.Failed() {
		m.logger.Warn("dropping inconsistent metadata rejected", "error", drop.String())
	}

	out, err = op(ctx)
	if err != nil {
		return nil, nil, err
	}
	h.Retry = out.String()
	return out, h, nil
}

func (m *Monitor) preflight(ctx context.Context) error {
	report, err := m.Inconsistent(ctx)
	if err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	if report.IsConsistent || len(report.Objects) == 0 {
		return nil
	}
	m.logger.Info("preflight dropping inconsistent objects", "count", len(report.Objects))
	drop, err := m.DropInconsistent(ctx)
	if err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	if drop.Failed() {
		m.logger.Warn("preflight drop rejected", "error", drop.String())
	}
	return nil
}

// Healer wraps managed operations in WithHealing and keeps a record of
// every heal it performed. It is safe for concurrent use.
type Healer struct {
	monitor *Monitor

	mu    sync.Mutex
	heals []Heal
}

func (m *Monitor) Healer() *Healer {
	return &Healer{monitor: m}
}

// Do runs op with healing under the given step name.
func (h *Healer) Do(ctx context.Context, step string, op Op) (*resource.Outcome, error) {
	out, heal, err := h.monitor.heal(ctx, step, op)
	if heal != nil {
		h.mu.Lock()
		h.heals = append(h.heals, *heal)
		h.mu.Unlock()
	}
	return out, err
}

// Heals returns the heals performed so far.
func (h *Healer) Heals() []Heal {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Heal(nil), h.heals...)
}
