// Package computed manages function-backed virtual fields on tracked
// tables.
package computed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/metasync/metasync/internal/metadata"
	"github.com/metasync/metasync/internal/resource"
)

// Definition binds a field to a SQL function. TableArgument names the
// function argument that receives the row; empty means the first one.
type Definition struct {
	Function      metadata.QualifiedName `json:"function" yaml:"function"`
	TableArgument string                 `json:"table_argument,omitempty" yaml:"table_argument,omitempty"`
}

// Field is a computed field on a table.
type Field struct {
	Schema     string     `yaml:"schema"`
	Table      string     `yaml:"table"`
	Name       string     `yaml:"name"`
	Definition Definition `yaml:"definition"`
	Comment    string     `yaml:"comment,omitempty"`
}

func (f Field) validate() error {
	if f.Name == "" {
		return fmt.Errorf("computed field on %s.%s without name", f.Schema, f.Table)
	}
	if f.Definition.Function.Name == "" {
		return fmt.Errorf("computed field %s: definition needs a function", f.Name)
	}
	return nil
}

type addArgs struct {
	Source     string                 `json:"source"`
	Table      metadata.QualifiedName `json:"table"`
	Name       string                 `json:"name"`
	Definition Definition             `json:"definition"`
	Comment    string                 `json:"comment,omitempty"`
}

type dropArgs struct {
	Source  string                 `json:"source"`
	Table   metadata.QualifiedName `json:"table"`
	Name    string                 `json:"name"`
	Cascade bool                   `json:"cascade"`
}

// Manager manages computed fields on one source.
type Manager struct {
	drv   resource.Driver
	md    metadata.Runner
	scope metadata.Scope
}

func NewManager(md metadata.Runner, scope metadata.Scope, logger *slog.Logger) *Manager {
	return &Manager{drv: resource.NewDriver(logger), md: md, scope: scope}
}

func (m *Manager) object(f Field) *resource.MetadataObject {
	table := metadata.QualifiedName{Schema: f.Schema, Name: f.Table}
	if f.Definition.Function.Name != "" && f.Definition.Function.Schema == "" {
		f.Definition.Function.Schema = "public"
	}
	return &resource.MetadataObject{
		Runner: m.md,
		Name:   fmt.Sprintf("computed field %s on %s", f.Name, table),
		Present: func(doc *metadata.Document) bool {
			t := m.scope.In(doc).Table(f.Schema, f.Table)
			return t != nil && t.ComputedField(f.Name) != nil
		},
		CreateReq: metadata.Request{
			Type: m.scope.Op(metadata.AddComputedField),
			Args: addArgs{Source: m.scope.Name(), Table: table, Name: f.Name, Definition: f.Definition, Comment: f.Comment},
		},
		DropReq: func(cascade bool) metadata.Request {
			return metadata.Request{
				Type: m.scope.Op(metadata.DropComputedField),
				Args: dropArgs{Source: m.scope.Name(), Table: table, Name: f.Name, Cascade: cascade},
			}
		},
	}
}

// CreateComputedField adds a field; it fails if the table already has a
// field of that name.
func (m *Manager) CreateComputedField(ctx context.Context, f Field) (*resource.Outcome, error) {
	if err := f.validate(); err != nil {
		return resource.Invalid("%v", err), nil
	}
	return m.drv.Create(ctx, m.object(f))
}

// DefineComputedField adds a field or swaps an existing one's definition in
// a single bulk request.
func (m *Manager) DefineComputedField(ctx context.Context, f Field) (*resource.Outcome, error) {
	if err := f.validate(); err != nil {
		return resource.Invalid("%v", err), nil
	}
	return m.drv.Define(ctx, m.object(f))
}

func (m *Manager) DeleteComputedField(ctx context.Context, schema, table, name string, opts ...resource.DeleteOption) (*resource.Outcome, error) {
	return m.drv.Delete(ctx, m.object(Field{Schema: schema, Table: table, Name: name}), opts...)
}
