package schema

import (
	"context"
	"fmt"

	"github.com/metasync/metasync/internal/sqlexec"
)

func schemaExistsSQL(name string) string {
	return "SELECT 1 FROM pg_catalog.pg_namespace WHERE nspname = " + literal(name)
}

func relationExistsSQL(schema, name, kinds string) string {
	return fmt.Sprintf(`SELECT 1 FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = %s AND c.relname = %s AND c.relkind IN (%s)`, literal(schema), literal(name), kinds)
}

func columnExistsSQL(c Column) string {
	return fmt.Sprintf(`SELECT format_type(a.atttypid, a.atttypmod) AS full_type,
       a.attnotnull AS not_null,
       a.atthasdef AS has_default,
       COALESCE((SELECT con.conname FROM pg_catalog.pg_constraint con
                 WHERE con.conrelid = a.attrelid AND con.contype = 'u'
                   AND con.conkey = ARRAY[a.attnum]::int2[]
                 LIMIT 1), '') AS unique_constraint
FROM pg_catalog.pg_attribute a
JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = %s AND c.relname = %s AND a.attname = %s AND a.attnum > 0 AND NOT a.attisdropped`,
		literal(c.Schema), literal(c.Table), literal(c.Name))
}

func functionExistsSQL(f Function) string {
	return fmt.Sprintf(`SELECT 1 FROM pg_catalog.pg_proc p
JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
WHERE n.nspname = %s AND p.proname = %s`, literal(f.Schema), literal(f.Name))
}

func triggerExistsSQL(t Trigger) string {
	return fmt.Sprintf(`SELECT 1 FROM pg_catalog.pg_trigger tg
JOIN pg_catalog.pg_class c ON c.oid = tg.tgrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE NOT tg.tgisinternal AND n.nspname = %s AND c.relname = %s AND tg.tgname = %s`,
		literal(t.Schema), literal(t.Table), literal(t.Name))
}

func constraintExistsSQL(schema, table, name string) string {
	return fmt.Sprintf(`SELECT 1 FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = %s AND c.relname = %s AND con.conname = %s`,
		literal(schema), literal(table), literal(name))
}

const listSchemasSQL = `SELECT schema_name FROM information_schema.schemata
WHERE schema_name NOT IN ('pg_catalog', 'information_schema')
  AND schema_name NOT LIKE 'pg\_toast%'
  AND schema_name NOT LIKE 'pg\_temp\_%'
ORDER BY schema_name`

func listTablesSQL(schema string) string {
	return fmt.Sprintf(`SELECT table_name, table_type FROM information_schema.tables
WHERE table_schema = %s
ORDER BY table_name`, literal(schema))
}

func listColumnsSQL(schema, table string) string {
	return fmt.Sprintf(`SELECT c.column_name, c.data_type,
       format_type(a.atttypid, a.atttypmod) AS full_type,
       c.is_nullable,
       COALESCE(c.column_default, '') AS column_default,
       COALESCE(col_description(a.attrelid, a.attnum), '') AS comment
FROM information_schema.columns c
JOIN pg_catalog.pg_namespace n ON n.nspname = c.table_schema
JOIN pg_catalog.pg_class r ON r.relnamespace = n.oid AND r.relname = c.table_name
JOIN pg_catalog.pg_attribute a ON a.attrelid = r.oid AND a.attname = c.column_name
WHERE c.table_schema = %s AND c.table_name = %s
ORDER BY c.ordinal_position`, literal(schema), literal(table))
}

// Schemas lists the non-system schemas of the source.
func (m *Manager) Schemas(ctx context.Context) ([]string, error) {
	res, err := m.query(ctx, "listing schemas", listSchemasSQL)
	if err != nil {
		return nil, err
	}
	return res.Column("schema_name"), nil
}

// Tables lists the tables and views of a schema.
func (m *Manager) Tables(ctx context.Context, schema string) ([]TableInfo, error) {
	res, err := m.query(ctx, "listing tables", listTablesSQL(schema))
	if err != nil {
		return nil, err
	}
	var out []TableInfo
	for _, rec := range res.Records() {
		out = append(out, TableInfo{Schema: schema, Name: rec["table_name"], Type: rec["table_type"]})
	}
	return out, nil
}

// Columns lists the columns of a table in ordinal order.
func (m *Manager) Columns(ctx context.Context, schema, table string) ([]ColumnInfo, error) {
	res, err := m.query(ctx, "listing columns", listColumnsSQL(schema, table))
	if err != nil {
		return nil, err
	}
	var out []ColumnInfo
	for _, rec := range res.Records() {
		out = append(out, ColumnInfo{
			Name:     rec["column_name"],
			Type:     rec["data_type"],
			FullType: rec["full_type"],
			Nullable: rec["is_nullable"] == "YES",
			Default:  rec["column_default"],
			Comment:  rec["comment"],
		})
	}
	return out, nil
}

func (m *Manager) query(ctx context.Context, what, stmt string) (*sqlexec.Result, error) {
	res, err := m.sql.SQL(ctx, stmt, m.opts(sqlexec.WithReadOnly())...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	if res.Err != nil {
		return nil, fmt.Errorf("%s: %s", what, res.Err)
	}
	return res, nil
}
