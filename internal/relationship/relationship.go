// Package relationship manages object and array relationships between
// tracked tables.
package relationship

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/metasync/metasync/internal/metadata"
	"github.com/metasync/metasync/internal/resource"
)

// Type is object (many-to-one) or array (one-to-many).
type Type string

const (
	Object Type = "object"
	Array  Type = "array"
)

// ForeignKeyOn names the foreign key a relationship follows: a local
// column for object relationships, a remote table and column for array
// relationships.
type ForeignKeyOn struct {
	Table  *metadata.QualifiedName
	Column string
}

func (f ForeignKeyOn) MarshalJSON() ([]byte, error) {
	if f.Table == nil {
		return json.Marshal(f.Column)
	}
	return json.Marshal(struct {
		Table  metadata.QualifiedName `json:"table"`
		Column string                 `json:"column"`
	}{*f.Table, f.Column})
}

// UnmarshalYAML accepts either a column name or a {table, column} mapping.
func (f *ForeignKeyOn) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		f.Table = nil
		return node.Decode(&f.Column)
	}
	var v struct {
		Table  metadata.QualifiedName `yaml:"table"`
		Column string                 `yaml:"column"`
	}
	if err := node.Decode(&v); err != nil {
		return err
	}
	f.Table, f.Column = &v.Table, v.Column
	return nil
}

// ManualConfiguration joins tables without a physical foreign key.
type ManualConfiguration struct {
	RemoteTable   metadata.QualifiedName `json:"remote_table" yaml:"remote_table"`
	ColumnMapping map[string]string      `json:"column_mapping" yaml:"column_mapping"`
}

// Using is exactly one of a foreign key or a manual configuration.
type Using struct {
	ForeignKey *ForeignKeyOn        `json:"foreign_key_constraint_on,omitempty" yaml:"foreign_key_constraint_on,omitempty"`
	Manual     *ManualConfiguration `json:"manual_configuration,omitempty" yaml:"manual_configuration,omitempty"`
}

func (u Using) validate() error {
	switch {
	case u.ForeignKey == nil && u.Manual == nil:
		return fmt.Errorf("using needs foreign_key_constraint_on or manual_configuration")
	case u.ForeignKey != nil && u.Manual != nil:
		return fmt.Errorf("using takes only one of foreign_key_constraint_on and manual_configuration")
	case u.Manual != nil && len(u.Manual.ColumnMapping) == 0:
		return fmt.Errorf("manual_configuration needs a column_mapping")
	}
	return nil
}

// Relationship is a named relationship on a tracked table.
type Relationship struct {
	Schema  string `yaml:"schema"`
	Table   string `yaml:"table"`
	Name    string `yaml:"name"`
	Type    Type   `yaml:"type"`
	Using   Using  `yaml:"using"`
	Comment string `yaml:"comment,omitempty"`
}

func (r Relationship) validate() error {
	if r.Type != Object && r.Type != Array {
		return fmt.Errorf("relationship %s: invalid type %q", r.Name, r.Type)
	}
	if err := r.Using.validate(); err != nil {
		return fmt.Errorf("relationship %s: %w", r.Name, err)
	}
	return nil
}

// Manager manages relationships on one source.
type Manager struct {
	drv   resource.Driver
	md    metadata.Runner
	scope metadata.Scope
}

func NewManager(md metadata.Runner, scope metadata.Scope, logger *slog.Logger) *Manager {
	return &Manager{drv: resource.NewDriver(logger), md: md, scope: scope}
}

type createArgs struct {
	Source  string                 `json:"source"`
	Table   metadata.QualifiedName `json:"table"`
	Name    string                 `json:"name"`
	Using   Using                  `json:"using"`
	Comment string                 `json:"comment,omitempty"`
}

type dropArgs struct {
	Source       string                 `json:"source"`
	Table        metadata.QualifiedName `json:"table"`
	Relationship string                 `json:"relationship"`
	Cascade      bool                   `json:"cascade"`
}

func (m *Manager) object(r Relationship) *resource.MetadataObject {
	table := metadata.QualifiedName{Schema: r.Schema, Name: r.Table}
	op := metadata.CreateObjectRelationship
	if r.Type == Array {
		op = metadata.CreateArrayRelationship
	}
	return &resource.MetadataObject{
		Runner: m.md,
		Name:   fmt.Sprintf("relationship %s on %s", r.Name, table),
		Present: func(doc *metadata.Document) bool {
			t := m.scope.In(doc).Table(r.Schema, r.Table)
			if t == nil {
				return false
			}
			rel, _ := t.Relationship(r.Name)
			return rel != nil
		},
		CreateReq: metadata.Request{
			Type: m.scope.Op(op),
			Args: createArgs{Source: m.scope.Name(), Table: table, Name: r.Name, Using: r.Using, Comment: r.Comment},
		},
		DropReq: func(cascade bool) metadata.Request {
			return metadata.Request{
				Type: m.scope.Op(metadata.DropRelationship),
				Args: dropArgs{Source: m.scope.Name(), Table: table, Relationship: r.Name, Cascade: cascade},
			}
		},
	}
}

// CreateRelationship creates a relationship; it fails if one with the same
// name exists on the table.
func (m *Manager) CreateRelationship(ctx context.Context, r Relationship) (*resource.Outcome, error) {
	if err := r.validate(); err != nil {
		return resource.Invalid("%v", err), nil
	}
	return m.drv.Create(ctx, m.object(r))
}

// DefineRelationship creates a relationship or replaces an existing one of
// the same name wholesale.
func (m *Manager) DefineRelationship(ctx context.Context, r Relationship) (*resource.Outcome, error) {
	if err := r.validate(); err != nil {
		return resource.Invalid("%v", err), nil
	}
	return m.drv.Define(ctx, m.object(r))
}

// DefineObjectRelationshipForeign defines an object relationship following
// the foreign key on a local column.
func (m *Manager) DefineObjectRelationshipForeign(ctx context.Context, schema, table, name, column string) (*resource.Outcome, error) {
	return m.DefineRelationship(ctx, Relationship{
		Schema: schema,
		Table:  table,
		Name:   name,
		Type:   Object,
		Using:  Using{ForeignKey: &ForeignKeyOn{Column: column}},
	})
}

// DefineArrayRelationshipForeign defines an array relationship following
// the foreign key that remote.column holds onto this table.
func (m *Manager) DefineArrayRelationshipForeign(ctx context.Context, schema, table, name string, remote metadata.QualifiedName, column string) (*resource.Outcome, error) {
	return m.DefineRelationship(ctx, Relationship{
		Schema: schema,
		Table:  table,
		Name:   name,
		Type:   Array,
		Using:  Using{ForeignKey: &ForeignKeyOn{Table: &remote, Column: column}},
	})
}

func (m *Manager) DeleteRelationship(ctx context.Context, schema, table, name string, opts ...resource.DeleteOption) (*resource.Outcome, error) {
	return m.drv.Delete(ctx, m.object(Relationship{Schema: schema, Table: table, Name: name}), opts...)
}
