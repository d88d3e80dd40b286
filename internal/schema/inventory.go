package schema

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Inventory is a point-in-time listing of one schema.
type Inventory struct {
	Source string           `yaml:"source,omitempty"`
	Schema string           `yaml:"schema"`
	Tables []TableInventory `yaml:"tables"`
}

// TableInventory is a table or view and its columns.
type TableInventory struct {
	TableInfo `yaml:",inline"`
	Columns   []ColumnInfo `yaml:"columns"`
}

// Inventory lists every table of a schema together with its columns.
func (m *Manager) Inventory(ctx context.Context, schema string) (*Inventory, error) {
	tables, err := m.Tables(ctx, schema)
	if err != nil {
		return nil, err
	}

	inv := &Inventory{Source: m.source, Schema: schema, Tables: make([]TableInventory, len(tables))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, t := range tables {
		g.Go(func() error {
			cols, err := m.Columns(gctx, schema, t.Name)
			if err != nil {
				return fmt.Errorf("table %s: %w", t.Name, err)
			}
			inv.Tables[i] = TableInventory{TableInfo: t, Columns: cols}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inv, nil
}

// LoadYAML reads an inventory from a YAML file.
func LoadYAML(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory file: %w", err)
	}
	inv := &Inventory{}
	if err := yaml.Unmarshal(data, inv); err != nil {
		return nil, fmt.Errorf("parsing inventory: %w", err)
	}
	return inv, nil
}

// WriteYAML writes the inventory to a YAML file at the given path.
func (inv *Inventory) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	data, err := yaml.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshaling inventory: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Summary returns a human-readable summary of the inventory.
func (inv *Inventory) Summary() string {
	var tables, views, cols int
	for _, t := range inv.Tables {
		if t.Type == "VIEW" {
			views++
		} else {
			tables++
		}
		cols += len(t.Columns)
	}
	return fmt.Sprintf("Schema %s: %d tables, %d views, %d columns", inv.Schema, tables, views, cols)
}
