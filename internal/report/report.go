package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/metasync/metasync/internal/consistency"
	"github.com/metasync/metasync/internal/state"
)

// Step results.
const (
	ResultOK      = "ok"
	ResultIgnored = "ignored"
	ResultFailed  = "failed"
)

// Report is the record of one apply.
type Report struct {
	Version     string    `json:"version"`
	GeneratedAt time.Time `json:"generated_at"`

	Endpoint string `json:"endpoint"`
	Manifest string `json:"manifest,omitempty"`
	Snapshot string `json:"snapshot,omitempty"`

	Status    state.Status       `json:"status"`
	Counts    state.Counts       `json:"counts"`
	Steps     []Step             `json:"steps"`
	Heals     []consistency.Heal `json:"heals,omitempty"`
	Errors    []string           `json:"errors,omitempty"`
	NextSteps []string           `json:"next_steps,omitempty"`
}

// Step is the outcome of converging one object.
type Step struct {
	Kind   string `json:"kind"`
	Object string `json:"object"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Tally counts step results. Healed is the number of heals.
func Tally(steps []Step, heals int) state.Counts {
	c := state.Counts{Healed: heals}
	for _, s := range steps {
		switch s.Result {
		case ResultOK:
			c.Succeeded++
		case ResultIgnored:
			c.Ignored++
		default:
			c.Failed++
		}
	}
	return c
}

// Generate assembles a report from the steps of an apply.
func Generate(endpoint, manifest, snapshot string, steps []Step, heals []consistency.Heal, errs []string) *Report {
	counts := Tally(steps, len(heals))
	status := state.StatusFor(counts)
	if len(errs) > len(failures(steps)) {
		// an abort leaves errors no step accounts for
		status = state.StatusFailed
	}

	var nextSteps []string
	if counts.Failed > 0 || status == state.StatusFailed {
		nextSteps = append(nextSteps, "Fix the failed objects in the manifest and run apply again")
		if snapshot != "" {
			nextSteps = append(nextSteps, fmt.Sprintf("Run 'metasync rollback --confirm' to restore %s", snapshot))
		}
	}
	if len(heals) > 0 {
		nextSteps = append(nextSteps, "Review the inconsistent objects dropped while healing")
	}

	return &Report{
		Version:     "1",
		GeneratedAt: time.Now(),
		Endpoint:    endpoint,
		Manifest:    manifest,
		Snapshot:    snapshot,
		Status:      status,
		Counts:      counts,
		Steps:       steps,
		Heals:       heals,
		Errors:      errs,
		NextSteps:   nextSteps,
	}
}

func failures(steps []Step) []Step {
	var out []Step
	for _, s := range steps {
		if s.Result == ResultFailed {
			out = append(out, s)
		}
	}
	return out
}

// WriteJSON writes the report as JSON.
func WriteJSON(report *Report, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadJSON reads a report from a JSON file.
func ReadJSON(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	r := &Report{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}
	return r, nil
}

// FormatText renders the report as human-readable text. Successful steps
// are summarized by count only.
func FormatText(report *Report) string {
	var b strings.Builder

	b.WriteString("=== metasync apply report ===\n")
	fmt.Fprintf(&b, "Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Endpoint:  %s\n", report.Endpoint)
	if report.Manifest != "" {
		fmt.Fprintf(&b, "Manifest:  %s\n", report.Manifest)
	}
	if report.Snapshot != "" {
		fmt.Fprintf(&b, "Snapshot:  %s\n", report.Snapshot)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Status: %s\n", report.Status)
	fmt.Fprintf(&b, "  Succeeded: %d\n", report.Counts.Succeeded)
	fmt.Fprintf(&b, "  Ignored:   %d\n", report.Counts.Ignored)
	fmt.Fprintf(&b, "  Failed:    %d\n", report.Counts.Failed)
	fmt.Fprintf(&b, "  Healed:    %d\n\n", report.Counts.Healed)

	if failed := failures(report.Steps); len(failed) > 0 {
		b.WriteString("Failed steps:\n")
		for _, s := range failed {
			fmt.Fprintf(&b, "  [%s] %s: %s\n", s.Kind, s.Object, s.Error)
		}
		b.WriteString("\n")
	}

	if len(report.Heals) > 0 {
		b.WriteString("Heals:\n")
		for _, h := range report.Heals {
			fmt.Fprintf(&b, "  %s: %s (dropped %d, retry %s)\n", h.Step, h.Cause, len(h.Dropped), h.Retry)
		}
		b.WriteString("\n")
	}

	if len(report.Errors) > len(failures(report.Steps)) {
		b.WriteString("Errors:\n")
		for _, e := range report.Errors {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
		b.WriteString("\n")
	}

	if len(report.NextSteps) > 0 {
		b.WriteString("Next Steps:\n")
		for i, s := range report.NextSteps {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, s)
		}
	}

	return b.String()
}
