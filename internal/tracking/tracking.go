// Package tracking registers database tables and functions with the
// metadata layer so they become queryable.
package tracking

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/metasync/metasync/internal/metadata"
	"github.com/metasync/metasync/internal/resource"
)

// Table is a table or view to track. Configuration is passed through as
// the table customization (custom_name, custom_root_fields, ...).
type Table struct {
	Schema        string         `yaml:"schema"`
	Name          string         `yaml:"name"`
	Configuration map[string]any `yaml:"configuration,omitempty"`
}

// Function is a SQL function to expose as a root field.
type Function struct {
	Schema        string         `yaml:"schema"`
	Name          string         `yaml:"name"`
	Configuration map[string]any `yaml:"configuration,omitempty"`
}

// Manager tracks and untracks objects on one source.
type Manager struct {
	drv   resource.Driver
	md    metadata.Runner
	scope metadata.Scope
}

func NewManager(md metadata.Runner, scope metadata.Scope, logger *slog.Logger) *Manager {
	return &Manager{drv: resource.NewDriver(logger), md: md, scope: scope}
}

type tableArgs struct {
	Source        string                 `json:"source"`
	Table         metadata.QualifiedName `json:"table"`
	Configuration map[string]any         `json:"configuration,omitempty"`
	Cascade       *bool                  `json:"cascade,omitempty"`
}

type trackedTable struct {
	*resource.MetadataObject
	m     *Manager
	table Table
}

// Update applies the customization of an already tracked table; without
// one there is nothing to change.
func (t trackedTable) Update(ctx context.Context) (*resource.Outcome, error) {
	if len(t.table.Configuration) == 0 {
		return resource.Succeeded(), nil
	}
	return t.Send(ctx, metadata.Request{
		Type: t.m.scope.Op(metadata.SetTableCustomization),
		Args: tableArgs{
			Source:        t.m.scope.Name(),
			Table:         metadata.QualifiedName{Schema: t.table.Schema, Name: t.table.Name},
			Configuration: t.table.Configuration,
		},
	})
}

func (m *Manager) table(t Table) trackedTable {
	qn := metadata.QualifiedName{Schema: t.Schema, Name: t.Name}
	obj := &resource.MetadataObject{
		Runner: m.md,
		Name:   fmt.Sprintf("tracked table %s", qn),
		Present: func(doc *metadata.Document) bool {
			return m.scope.In(doc).Table(t.Schema, t.Name) != nil
		},
		CreateReq: metadata.Request{
			Type: m.scope.Op(metadata.TrackTable),
			Args: tableArgs{Source: m.scope.Name(), Table: qn, Configuration: t.Configuration},
		},
		DropReq: func(cascade bool) metadata.Request {
			return metadata.Request{
				Type: m.scope.Op(metadata.UntrackTable),
				Args: tableArgs{Source: m.scope.Name(), Table: qn, Cascade: &cascade},
			}
		},
	}
	return trackedTable{MetadataObject: obj, m: m, table: t}
}

// TrackTable tracks a table; it fails if the table is already tracked.
func (m *Manager) TrackTable(ctx context.Context, t Table) (*resource.Outcome, error) {
	return m.drv.Create(ctx, m.table(t))
}

// DefineTrackedTable tracks a table if needed and applies its customization.
func (m *Manager) DefineTrackedTable(ctx context.Context, t Table) (*resource.Outcome, error) {
	return m.drv.Define(ctx, m.table(t))
}

// UntrackTable removes a table from the metadata layer. The table itself
// is left in the database.
func (m *Manager) UntrackTable(ctx context.Context, schema, name string, opts ...resource.DeleteOption) (*resource.Outcome, error) {
	return m.drv.Delete(ctx, m.table(Table{Schema: schema, Name: name}), opts...)
}

type functionArgs struct {
	Source        string                 `json:"source"`
	Function      metadata.QualifiedName `json:"function"`
	Configuration map[string]any         `json:"configuration,omitempty"`
}

func (m *Manager) function(f Function) *resource.MetadataObject {
	qn := metadata.QualifiedName{Schema: f.Schema, Name: f.Name}
	drop := metadata.Request{
		Type: m.scope.Op(metadata.UntrackFunction),
		Args: functionArgs{Source: m.scope.Name(), Function: qn},
	}
	return &resource.MetadataObject{
		Runner: m.md,
		Name:   fmt.Sprintf("tracked function %s", qn),
		Present: func(doc *metadata.Document) bool {
			return m.scope.In(doc).Function(f.Schema, f.Name) != nil
		},
		CreateReq: metadata.Request{
			Type: m.scope.Op(metadata.TrackFunction),
			Args: functionArgs{Source: m.scope.Name(), Function: qn, Configuration: f.Configuration},
		},
		DropReq: func(bool) metadata.Request { return drop },
	}
}

func (m *Manager) TrackFunction(ctx context.Context, f Function) (*resource.Outcome, error) {
	return m.drv.Create(ctx, m.function(f))
}

// DefineTrackedFunction tracks a function, retracking it when already
// tracked so a changed configuration takes effect.
func (m *Manager) DefineTrackedFunction(ctx context.Context, f Function) (*resource.Outcome, error) {
	return m.drv.Define(ctx, m.function(f))
}

func (m *Manager) UntrackFunction(ctx context.Context, schema, name string) (*resource.Outcome, error) {
	return m.drv.Delete(ctx, m.function(Function{Schema: schema, Name: name}))
}

// TrackedTables lists the tables tracked on the source.
func (m *Manager) TrackedTables(ctx context.Context) ([]metadata.QualifiedName, error) {
	doc, err := metadata.Export(ctx, m.md)
	if err != nil {
		return nil, err
	}
	src := m.scope.In(doc)
	if src == nil {
		return nil, nil
	}
	out := make([]metadata.QualifiedName, 0, len(src.Tables))
	for _, t := range src.Tables {
		out = append(out, t.Table)
	}
	return out, nil
}
