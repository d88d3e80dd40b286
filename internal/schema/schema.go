// Package schema converges database objects (schemas, tables, columns,
// functions, triggers, foreign keys, views) through the SQL plane and lists
// what currently exists. Nothing is cached: every read re-queries.
package schema

// Table is a table with an id column and millisecond timestamps.
type Table struct {
	Schema   string `yaml:"schema"`
	Name     string `yaml:"name"`
	IDColumn string `yaml:"id_column,omitempty"` // default "id"
	IDType   string `yaml:"id_type,omitempty"`   // default uuid
}

// Column is a column added to an existing table.
type Column struct {
	Schema  string `yaml:"schema"`
	Table   string `yaml:"table"`
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Unique  bool   `yaml:"unique,omitempty"`
	Comment string `yaml:"comment,omitempty"`
	Postfix string `yaml:"postfix,omitempty"` // raw DDL suffix, e.g. NOT NULL DEFAULT 0
}

// Function is a SQL function. Body is placed inside dollar quotes.
type Function struct {
	Schema     string `yaml:"schema"`
	Name       string `yaml:"name"`
	Arguments  string `yaml:"arguments,omitempty"` // e.g. "user_row users, search text"
	Returns    string `yaml:"returns"`
	Language   string `yaml:"language,omitempty"`   // default plpgsql
	Volatility string `yaml:"volatility,omitempty"` // VOLATILE, STABLE or IMMUTABLE
	Body       string `yaml:"body"`
}

// Trigger fires a function on row mutations.
type Trigger struct {
	Schema         string   `yaml:"schema"`
	Table          string   `yaml:"table"`
	Name           string   `yaml:"name"`
	Timing         string   `yaml:"timing"`                    // BEFORE, AFTER, INSTEAD OF
	Events         []string `yaml:"events"`                    // INSERT, UPDATE, DELETE, TRUNCATE
	ForEach        string   `yaml:"for_each,omitempty"`        // ROW (default) or STATEMENT
	FunctionSchema string   `yaml:"function_schema,omitempty"` // default: the trigger's schema
	Function       string   `yaml:"function"`
}

// ColumnRef points at one column.
type ColumnRef struct {
	Schema string `yaml:"schema"`
	Table  string `yaml:"table"`
	Column string `yaml:"column"`
}

// ForeignKey is a single-column foreign key constraint.
type ForeignKey struct {
	Name     string    `yaml:"name,omitempty"` // default <table>_<column>_fkey
	From     ColumnRef `yaml:"from"`
	To       ColumnRef `yaml:"to"`
	OnDelete string    `yaml:"on_delete,omitempty"`
	OnUpdate string    `yaml:"on_update,omitempty"`
}

// ConstraintName returns the explicit name or the derived default.
func (fk ForeignKey) ConstraintName() string {
	if fk.Name != "" {
		return fk.Name
	}
	return fk.From.Table + "_" + fk.From.Column + "_fkey"
}

// View is a named SELECT.
type View struct {
	Schema     string `yaml:"schema"`
	Name       string `yaml:"name"`
	Definition string `yaml:"definition"`
}

// TableInfo is one row of a table listing.
type TableInfo struct {
	Schema string `yaml:"schema"`
	Name   string `yaml:"name"`
	Type   string `yaml:"type"` // BASE TABLE or VIEW
}

// ColumnInfo is one row of a column listing.
type ColumnInfo struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`      // information_schema data_type, e.g. uuid, bigint
	FullType string `yaml:"full_type"` // format_type output, e.g. character varying(64)
	Nullable bool   `yaml:"nullable"`
	Default  string `yaml:"default,omitempty"`
	Comment  string `yaml:"comment,omitempty"`
}
