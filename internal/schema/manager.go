package schema

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/metasync/metasync/internal/resource"
	"github.com/metasync/metasync/internal/sqlexec"
)

// Manager converges database objects on one source.
type Manager struct {
	drv    resource.Driver
	sql    sqlexec.Runner
	source string
}

// NewManager creates a Manager. An empty source means the runner's default.
func NewManager(runner sqlexec.Runner, source string, logger *slog.Logger) *Manager {
	return &Manager{drv: resource.NewDriver(logger), sql: runner, source: source}
}

func (m *Manager) opts(extra ...sqlexec.Option) []sqlexec.Option {
	var opts []sqlexec.Option
	if m.source != "" {
		opts = append(opts, sqlexec.WithSource(m.source))
	}
	return append(opts, extra...)
}

func (m *Manager) object(name string) *resource.SQLObject {
	return &resource.SQLObject{Runner: m.sql, Source: m.source, Name: name}
}

// --- schemas ---

type schemaObject struct{ *resource.SQLObject }

// Update is a no-op: a schema has nothing to converge besides its name.
func (schemaObject) Update(context.Context) (*resource.Outcome, error) {
	return resource.Succeeded(), nil
}

func (m *Manager) schema(name string) schemaObject {
	o := m.object(fmt.Sprintf("schema %s", name))
	o.ExistsSQL = schemaExistsSQL(name)
	o.CreateSQL = "CREATE SCHEMA " + ident(name)
	o.DropSQL = func(cascade bool) string { return "DROP SCHEMA " + ident(name) + cascadeClause(cascade) }
	return schemaObject{o}
}

// CreateSchema creates a schema; it fails if the schema exists.
func (m *Manager) CreateSchema(ctx context.Context, name string) (*resource.Outcome, error) {
	return m.drv.Create(ctx, m.schema(name))
}

// DefineSchema creates a schema unless it already exists.
func (m *Manager) DefineSchema(ctx context.Context, name string) (*resource.Outcome, error) {
	return m.drv.Define(ctx, m.schema(name))
}

// DeleteSchema drops a schema, cascading unless told otherwise.
func (m *Manager) DeleteSchema(ctx context.Context, name string, opts ...resource.DeleteOption) (*resource.Outcome, error) {
	return m.drv.Delete(ctx, m.schema(name), opts...)
}

// --- tables ---

type tableObject struct {
	*resource.SQLObject
	table Table
}

// Update adds any missing timestamp columns; existing rows are kept.
func (t tableObject) Update(ctx context.Context) (*resource.Outcome, error) {
	return t.Exec(ctx, addTimestampsSQL(t.table), false)
}

func (m *Manager) table(t Table) tableObject {
	o := m.object(fmt.Sprintf("table %s.%s", t.Schema, t.Name))
	o.ExistsSQL = relationExistsSQL(t.Schema, t.Name, "'r', 'p'")
	o.CreateSQL = createTableSQL(t)
	o.DropSQL = func(cascade bool) string { return "DROP TABLE " + ident(t.Schema, t.Name) + cascadeClause(cascade) }
	return tableObject{SQLObject: o, table: t}
}

// CreateTable creates a table; it fails if the table exists.
func (m *Manager) CreateTable(ctx context.Context, t Table) (*resource.Outcome, error) {
	if err := t.validate(); err != nil {
		return resource.Invalid("%v", err), nil
	}
	return m.drv.Create(ctx, m.table(t))
}

// DefineTable creates a table or adds missing timestamp columns to an
// existing one.
func (m *Manager) DefineTable(ctx context.Context, t Table) (*resource.Outcome, error) {
	if err := t.validate(); err != nil {
		return resource.Invalid("%v", err), nil
	}
	return m.drv.Define(ctx, m.table(t))
}

// DeleteTable drops a table, cascading unless told otherwise.
func (m *Manager) DeleteTable(ctx context.Context, schema, name string, opts ...resource.DeleteOption) (*resource.Outcome, error) {
	return m.drv.Delete(ctx, m.table(Table{Schema: schema, Name: name}), opts...)
}

// --- columns ---

type columnObject struct {
	*resource.SQLObject
	column Column
}

// Update converges an existing column in place, keeping its data: the type
// is altered with a cast, then default, nullability, uniqueness and comment
// are set to match. Other postfix clauses only apply at creation.
func (c columnObject) Update(ctx context.Context) (*resource.Outcome, error) {
	res, err := c.Query(ctx, columnExistsSQL(c.column))
	if err != nil {
		return nil, err
	}
	recs := res.Records()
	if len(recs) == 0 {
		return c.Create(ctx)
	}
	return c.Exec(ctx, resource.Join(alterColumnSQL(c.column, existingColumnFrom(recs[0]))...), false)
}

func (m *Manager) column(c Column) columnObject {
	o := m.object(fmt.Sprintf("column %s.%s.%s", c.Schema, c.Table, c.Name))
	o.ExistsSQL = columnExistsSQL(c)
	create := []string{addColumnSQL(c)}
	if c.Comment != "" {
		create = append(create, commentColumnSQL(c))
	}
	o.CreateSQL = resource.Join(create...)
	o.DropSQL = func(cascade bool) string { return dropColumnSQL(c, cascade) }
	return columnObject{SQLObject: o, column: c}
}

// CreateColumn adds a column; it fails if the column exists.
func (m *Manager) CreateColumn(ctx context.Context, c Column) (*resource.Outcome, error) {
	if err := validType(c.Type); err != nil {
		return resource.Invalid("column %s: %v", c.Name, err), nil
	}
	return m.drv.Create(ctx, m.column(c))
}

// DefineColumn adds a column or converges an existing one in place.
func (m *Manager) DefineColumn(ctx context.Context, c Column) (*resource.Outcome, error) {
	if err := validType(c.Type); err != nil {
		return resource.Invalid("column %s: %v", c.Name, err), nil
	}
	return m.drv.Define(ctx, m.column(c))
}

// DeleteColumn drops a column, cascading unless told otherwise.
func (m *Manager) DeleteColumn(ctx context.Context, schema, table, name string, opts ...resource.DeleteOption) (*resource.Outcome, error) {
	return m.drv.Delete(ctx, m.column(Column{Schema: schema, Table: table, Name: name}), opts...)
}

// --- functions ---

func (m *Manager) function(f Function) *resource.SQLObject {
	o := m.object(fmt.Sprintf("function %s.%s", f.Schema, f.Name))
	o.ExistsSQL = functionExistsSQL(f)
	o.CreateSQL = functionSQL(f, false)
	o.ReplaceSQL = functionSQL(f, true)
	o.DropSQL = func(cascade bool) string {
		target := ident(f.Schema, f.Name)
		if f.Arguments != "" {
			target += "(" + f.Arguments + ")"
		}
		return "DROP FUNCTION " + target + cascadeClause(cascade)
	}
	return o
}

// CreateFunction creates a function; it fails if one with the name exists.
func (m *Manager) CreateFunction(ctx context.Context, f Function) (*resource.Outcome, error) {
	return m.drv.Create(ctx, m.function(f))
}

// DefineFunction uses CREATE OR REPLACE on an existing function.
func (m *Manager) DefineFunction(ctx context.Context, f Function) (*resource.Outcome, error) {
	return m.drv.Define(ctx, m.function(f))
}

// DeleteFunction drops a function. arguments is the parameter list used to
// pick the overload; it may be empty for functions that are not overloaded.
func (m *Manager) DeleteFunction(ctx context.Context, schema, name, arguments string, opts ...resource.DeleteOption) (*resource.Outcome, error) {
	return m.drv.Delete(ctx, m.function(Function{Schema: schema, Name: name, Arguments: arguments}), opts...)
}

// --- triggers ---

func (m *Manager) trigger(t Trigger) *resource.SQLObject {
	o := m.object(fmt.Sprintf("trigger %s on %s.%s", t.Name, t.Schema, t.Table))
	o.ExistsSQL = triggerExistsSQL(t)
	o.DropSQL = func(cascade bool) string { return dropTriggerSQL(t, false, cascade) }
	if t.Function != "" {
		o.CreateSQL = createTriggerSQL(t)
		o.ReplaceSQL = resource.Join(dropTriggerSQL(t, true, false), o.CreateSQL)
	}
	return o
}

// CreateTrigger creates a trigger; it fails if the trigger exists.
func (m *Manager) CreateTrigger(ctx context.Context, t Trigger) (*resource.Outcome, error) {
	if err := t.validate(); err != nil {
		return resource.Invalid("%v", err), nil
	}
	return m.drv.Create(ctx, m.trigger(t))
}

// DefineTrigger drops and recreates an existing trigger in one statement.
func (m *Manager) DefineTrigger(ctx context.Context, t Trigger) (*resource.Outcome, error) {
	if err := t.validate(); err != nil {
		return resource.Invalid("%v", err), nil
	}
	return m.drv.Define(ctx, m.trigger(t))
}

// DeleteTrigger drops a trigger from schema.table.
func (m *Manager) DeleteTrigger(ctx context.Context, schema, table, name string, opts ...resource.DeleteOption) (*resource.Outcome, error) {
	return m.drv.Delete(ctx, m.trigger(Trigger{Schema: schema, Table: table, Name: name}), opts...)
}

// --- foreign keys ---

func (m *Manager) foreignKey(schema, table, name, add string) *resource.SQLObject {
	o := m.object(fmt.Sprintf("foreign key %s on %s.%s", name, schema, table))
	o.ExistsSQL = constraintExistsSQL(schema, table, name)
	o.CreateSQL = add
	o.DropSQL = func(cascade bool) string { return dropConstraintSQL(schema, table, name, cascade) }
	return o
}

func (m *Manager) foreignKeyFor(fk ForeignKey) (*resource.SQLObject, *resource.Outcome) {
	add, err := addForeignKeySQL(fk)
	if err != nil {
		return nil, resource.Invalid("foreign key %s: %v", fk.ConstraintName(), err)
	}
	return m.foreignKey(fk.From.Schema, fk.From.Table, fk.ConstraintName(), add), nil
}

// CreateForeignKey adds a constraint; it fails if the name is taken.
func (m *Manager) CreateForeignKey(ctx context.Context, fk ForeignKey) (*resource.Outcome, error) {
	o, invalid := m.foreignKeyFor(fk)
	if invalid != nil {
		return invalid, nil
	}
	return m.drv.Create(ctx, o)
}

// DefineForeignKey adds a constraint or swaps an existing one of the same
// name.
func (m *Manager) DefineForeignKey(ctx context.Context, fk ForeignKey) (*resource.Outcome, error) {
	o, invalid := m.foreignKeyFor(fk)
	if invalid != nil {
		return invalid, nil
	}
	return m.drv.Define(ctx, o)
}

// DeleteForeignKey drops the named constraint from schema.table.
func (m *Manager) DeleteForeignKey(ctx context.Context, schema, table, name string, opts ...resource.DeleteOption) (*resource.Outcome, error) {
	return m.drv.Delete(ctx, m.foreignKey(schema, table, name, ""), opts...)
}

// --- views ---

func (m *Manager) view(v View) *resource.SQLObject {
	o := m.object(fmt.Sprintf("view %s.%s", v.Schema, v.Name))
	o.ExistsSQL = relationExistsSQL(v.Schema, v.Name, "'v'")
	o.CreateSQL = fmt.Sprintf("CREATE VIEW %s AS\n%s", ident(v.Schema, v.Name), v.Definition)
	o.DropSQL = func(cascade bool) string { return "DROP VIEW " + ident(v.Schema, v.Name) + cascadeClause(cascade) }
	o.ReplaceSQL = resource.Join("DROP VIEW IF EXISTS "+ident(v.Schema, v.Name), o.CreateSQL)
	return o
}

// CreateView creates a view; it fails if the view exists.
func (m *Manager) CreateView(ctx context.Context, v View) (*resource.Outcome, error) {
	return m.drv.Create(ctx, m.view(v))
}

// DefineView drops and recreates an existing view so its column set may
// change.
func (m *Manager) DefineView(ctx context.Context, v View) (*resource.Outcome, error) {
	return m.drv.Define(ctx, m.view(v))
}

// DeleteView drops a view, cascading unless told otherwise.
func (m *Manager) DeleteView(ctx context.Context, schema, name string, opts ...resource.DeleteOption) (*resource.Outcome, error) {
	return m.drv.Delete(ctx, m.view(View{Schema: schema, Name: name}), opts...)
}
