// Package consistency inspects and repairs the remote engine's metadata:
// whole-document export and replace, inconsistency reports, snapshots and
// the drop-and-retry healing used around every managed operation.
package consistency

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/metasync/metasync/internal/metadata"
	"github.com/metasync/metasync/internal/resource"
)

// InconsistentObject is one metadata object the engine could not resolve
// against the database.
type InconsistentObject struct {
	Type       string          `json:"type" yaml:"type"`
	Name       string          `json:"name,omitempty" yaml:"name,omitempty"`
	Reason     string          `json:"reason" yaml:"reason"`
	Definition json.RawMessage `json:"definition,omitempty" yaml:"-"`
}

// Report is the answer of get_inconsistent_metadata.
type Report struct {
	IsConsistent bool                 `json:"is_consistent" yaml:"is_consistent"`
	Objects      []InconsistentObject `json:"inconsistent_objects" yaml:"inconsistent_objects"`
}

// Options configures a Monitor.
type Options struct {
	// SnapshotDir receives Snapshot files.
	SnapshotDir string
	// Preflight drops already-inconsistent objects before every healed
	// operation.
	Preflight bool
}

// Monitor runs whole-metadata operations.
type Monitor struct {
	md     metadata.Runner
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func New(md metadata.Runner, opts Options, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Monitor{md: md, opts: opts, logger: logger, now: time.Now}
}

func (m *Monitor) send(ctx context.Context, req metadata.Request) (*resource.Outcome, error) {
	resp, err := m.md.V1(ctx, req)
	if err != nil {
		return nil, err
	}
	return resource.FromResponse(resp), nil
}

// Export returns the current metadata document.
func (m *Monitor) Export(ctx context.Context) (*metadata.Document, error) {
	return metadata.Export(ctx, m.md)
}

// Replace swaps the whole metadata for doc. With allowInconsistent the
// engine accepts objects it cannot resolve and reports them instead.
func (m *Monitor) Replace(ctx context.Context, doc *metadata.Document, allowInconsistent bool) (*resource.Outcome, error) {
	return m.send(ctx, metadata.Request{
		Type:    metadata.OpReplaceMetadata,
		Version: 2,
		Args: struct {
			AllowInconsistent bool            `json:"allow_inconsistent_metadata"`
			Metadata          json.RawMessage `json:"metadata"`
		}{allowInconsistent, doc.Raw()},
	})
}

// Clear resets metadata to an empty document. Database objects are left
// untouched.
func (m *Monitor) Clear(ctx context.Context) (*resource.Outcome, error) {
	return m.send(ctx, metadata.Request{Type: metadata.OpClearMetadata})
}

// Reload makes the engine re-read the database catalog of every source.
func (m *Monitor) Reload(ctx context.Context) (*resource.Outcome, error) {
	return m.send(ctx, metadata.Request{
		Type: metadata.OpReloadMetadata,
		Args: map[string]bool{"reload_remote_schemas": true, "reload_sources": true},
	})
}

// Inconsistent lists the objects the engine currently cannot resolve.
func (m *Monitor) Inconsistent(ctx context.Context) (*Report, error) {
	resp, err := m.md.V1(ctx, metadata.Request{Type: metadata.OpGetInconsistentMetadata})
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, fmt.Errorf("listing inconsistent metadata: %s", resp.Err)
	}
	r := &Report{}
	if err := resp.Decode(r); err != nil {
		return nil, fmt.Errorf("parsing inconsistency report: %w", err)
	}
	for i := range r.Objects {
		if r.Objects[i].Name == "" {
			r.Objects[i].Name = objectName(r.Objects[i].Definition)
		}
	}
	return r, nil
}

// objectName pulls a display name out of an inconsistent object's
// definition, which is a bare name or carries a name or table field.
func objectName(def json.RawMessage) string {
	var s string
	if json.Unmarshal(def, &s) == nil {
		return s
	}
	var v struct {
		Name  string                  `json:"name"`
		Table *metadata.QualifiedName `json:"table"`
	}
	if json.Unmarshal(def, &v) != nil {
		return ""
	}
	if v.Name != "" {
		return v.Name
	}
	if v.Table != nil {
		return v.Table.String()
	}
	return ""
}

// DropInconsistent removes every inconsistent object from metadata.
func (m *Monitor) DropInconsistent(ctx context.Context) (*resource.Outcome, error) {
	return m.send(ctx, metadata.Request{Type: metadata.OpDropInconsistentMetadata})
}

// Snapshot exports metadata to a timestamped YAML file and returns its
// path.
func (m *Monitor) Snapshot(ctx context.Context) (string, error) {
	doc, err := m.Export(ctx)
	if err != nil {
		return "", err
	}

	var tree any
	if err := json.Unmarshal(doc.Raw(), &tree); err != nil {
		return "", fmt.Errorf("decoding exported metadata: %w", err)
	}
	data, err := yaml.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("marshaling snapshot: %w", err)
	}

	dir := m.opts.SnapshotDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("metadata-%s.yaml", m.now().UTC().Format("20060102T150405.000Z")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	m.logger.Info("metadata snapshot written", "path", path)
	return path, nil
}

// ReadSnapshot loads a snapshot file written by Snapshot.
func ReadSnapshot(path string) (*metadata.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("converting snapshot %s: %w", path, err)
	}
	return metadata.ParseDocument(raw)
}

// Restore replaces metadata with a snapshot. Only metadata is restored;
// schema changes made since the snapshot stay in place, so objects that
// reference them are allowed to load inconsistently.
func (m *Monitor) Restore(ctx context.Context, path string) (*resource.Outcome, error) {
	doc, err := ReadSnapshot(path)
	if err != nil {
		return nil, err
	}
	m.logger.Info("restoring metadata snapshot", "path", path)
	return m.Replace(ctx, doc, true)
}
