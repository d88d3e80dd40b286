package schema

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metasync/metasync/internal/resource"
	"github.com/metasync/metasync/internal/sqlexec"
	"github.com/metasync/metasync/internal/transport"
)

var present = sqlexec.Tuples([]string{"?column?"}, []string{"1"})

func newManager() (*Manager, *sqlexec.MockRunner) {
	m := &sqlexec.MockRunner{}
	return NewManager(m, "default", nil), m
}

func last(m *sqlexec.MockRunner) string {
	return m.Statements[len(m.Statements)-1]
}

func TestCreateTable(t *testing.T) {
	mgr, m := newManager()

	out, err := mgr.CreateTable(context.Background(), Table{Schema: "s1", Name: "users"})
	require.NoError(t, err)
	assert.True(t, out.Success)

	stmt := last(m)
	assert.Contains(t, stmt, `CREATE TABLE "s1"."users"`)
	assert.Contains(t, stmt, `"id" uuid PRIMARY KEY DEFAULT gen_random_uuid()`)
	assert.Contains(t, stmt, `"created_at" bigint NOT NULL DEFAULT (extract(epoch from now()) * 1000)::bigint`)
	assert.Contains(t, stmt, `"updated_at" bigint NOT NULL DEFAULT`)
	assert.Equal(t, []string{"default", "default"}, m.Sources)
}

func TestCreateTable_IntegerID(t *testing.T) {
	mgr, m := newManager()

	_, err := mgr.CreateTable(context.Background(), Table{Schema: "public", Name: "orders", IDColumn: "order_id", IDType: "int8"})
	require.NoError(t, err)
	assert.Contains(t, last(m), `"order_id" bigint GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY`)
}

func TestCreateTable_AlreadyExists(t *testing.T) {
	mgr, m := newManager()
	m.On("relkind IN", present)

	_, err := mgr.CreateTable(context.Background(), Table{Schema: "public", Name: "users"})
	require.Error(t, err)
	assert.ErrorIs(t, err, resource.ErrAlreadyExists)
	assert.Contains(t, err.Error(), "already exists")
	assert.Len(t, m.Statements, 1)
}

func TestCreateTable_InvalidIDType(t *testing.T) {
	mgr, m := newManager()

	out, err := mgr.CreateTable(context.Background(), Table{Schema: "public", Name: "users", IDType: "uuid; DROP TABLE x"})
	require.NoError(t, err)
	assert.Equal(t, transport.CodeValidationFailed, out.Err.Code)
	assert.Empty(t, m.Statements)
}

func TestDefineTable_ExistingAddsTimestamps(t *testing.T) {
	mgr, m := newManager()
	m.On("relkind IN", present)

	for range 2 {
		out, err := mgr.DefineTable(context.Background(), Table{Schema: "public", Name: "users"})
		require.NoError(t, err)
		assert.True(t, out.Success)
	}
	assert.False(t, m.Executed("CREATE TABLE"))
	assert.Contains(t, last(m), `ADD COLUMN IF NOT EXISTS "created_at"`)
	assert.Contains(t, last(m), `ADD COLUMN IF NOT EXISTS "updated_at"`)
}

func TestDeleteTable(t *testing.T) {
	ctx := context.Background()

	mgr, m := newManager()
	out, err := mgr.DeleteTable(ctx, "public", "missing")
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.True(t, out.Ignored)
	assert.False(t, m.Executed("DROP"))

	mgr, m = newManager()
	m.On("relkind IN", present)
	_, err = mgr.DeleteTable(ctx, "public", "users")
	require.NoError(t, err)
	assert.Equal(t, `DROP TABLE "public"."users" CASCADE`, last(m))
	assert.True(t, m.Cascades[len(m.Cascades)-1])

	mgr, m = newManager()
	m.On("relkind IN", present)
	m.On("DROP TABLE", sqlexec.Failed(&transport.ServiceError{
		Code:    transport.CodePostgresError,
		Message: "query execution failed",
	}))
	out, err = mgr.DeleteTable(ctx, "public", "users", resource.WithCascade(false))
	require.NoError(t, err)
	assert.True(t, out.Failed())
	assert.Equal(t, `DROP TABLE "public"."users"`, last(m))
	assert.False(t, m.Cascades[len(m.Cascades)-1])
}

func TestSchemaTriad(t *testing.T) {
	ctx := context.Background()

	mgr, m := newManager()
	_, err := mgr.DefineSchema(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, `CREATE SCHEMA "s1"`, last(m))

	mgr, m = newManager()
	m.On("nspname =", present)
	out, err := mgr.DefineSchema(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Len(t, m.Statements, 1, "an existing schema is left alone")

	_, err = mgr.DeleteSchema(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, `DROP SCHEMA "s1" CASCADE`, last(m))
}

func TestDefineColumn(t *testing.T) {
	ctx := context.Background()
	col := Column{Schema: "public", Table: "users", Name: "age", Type: "INT", Comment: "years"}

	mgr, m := newManager()
	_, err := mgr.DefineColumn(ctx, col)
	require.NoError(t, err)
	assert.Equal(t, "ALTER TABLE \"public\".\"users\" ADD COLUMN \"age\" INT;\nCOMMENT ON COLUMN \"public\".\"users\".\"age\" IS 'years';", last(m))

	mgr, m = newManager()
	m.On("NOT a.attisdropped", sqlexec.Tuples([]string{"full_type"}, []string{"integer"}))
	_, err = mgr.DefineColumn(ctx, col)
	require.NoError(t, err)
	assert.Equal(t, `COMMENT ON COLUMN "public"."users"."age" IS 'years';`, last(m))

	mgr, m = newManager()
	m.On("NOT a.attisdropped", sqlexec.Tuples([]string{"full_type"}, []string{"text"}))
	_, err = mgr.DefineColumn(ctx, col)
	require.NoError(t, err)
	assert.Equal(t, "ALTER TABLE \"public\".\"users\" ALTER COLUMN \"age\" TYPE INT USING \"age\"::INT;\n"+
		"COMMENT ON COLUMN \"public\".\"users\".\"age\" IS 'years';", last(m))
	assert.False(t, m.Executed("DROP COLUMN"))
}

// existing reports a column the way columnExistsSQL does.
func existing(fullType, notNull, hasDefault, unique string) *sqlexec.Result {
	return sqlexec.Tuples([]string{"full_type", "not_null", "has_default", "unique_constraint"},
		[]string{fullType, notNull, hasDefault, unique})
}

func TestDefineColumn_TypeModifiersMatch(t *testing.T) {
	tests := []struct {
		declared string
		reported string
	}{
		{"timestamp(3)", "timestamp(3) without time zone"},
		{"timestamptz(3)", "timestamp(3) with time zone"},
		{"TIMESTAMP(6) WITH TIME ZONE", "timestamp(6) with time zone"},
		{"time(0)", "time(0) without time zone"},
		{"timestamptz[]", "timestamp with time zone[]"},
		{"float", "double precision"},
		{"float8", "double precision"},
		{"double", "double precision"},
		{"float(10)", "real"},
		{"varchar(64)", "character varying(64)"},
		{"numeric(10, 2)", "numeric(10,2)"},
	}
	for _, tt := range tests {
		t.Run(tt.declared, func(t *testing.T) {
			mgr, m := newManager()
			m.On("NOT a.attisdropped", existing(tt.reported, "f", "f", ""))

			out, err := mgr.DefineColumn(context.Background(), Column{Schema: "public", Table: "t", Name: "c", Type: tt.declared})
			require.NoError(t, err)
			assert.True(t, out.Success)
			assert.Equal(t, `COMMENT ON COLUMN "public"."t"."c" IS NULL;`, last(m))
			assert.False(t, m.Executed("DROP COLUMN"))
			assert.False(t, m.Executed("ALTER COLUMN"))
		})
	}
}

func TestDefineColumn_ConvergesAttributesInPlace(t *testing.T) {
	ctx := context.Background()
	const prefix = `ALTER TABLE "public"."t" `

	mgr, m := newManager()
	m.On("NOT a.attisdropped", existing("integer", "f", "f", ""))
	_, err := mgr.DefineColumn(ctx, Column{Schema: "public", Table: "t", Name: "c", Type: "integer", Unique: true, Postfix: "NOT NULL DEFAULT 0"})
	require.NoError(t, err)
	assert.Equal(t, prefix+`ALTER COLUMN "c" SET DEFAULT 0;
`+prefix+`ALTER COLUMN "c" SET NOT NULL;
`+prefix+`ADD CONSTRAINT "t_c_key" UNIQUE ("c");
COMMENT ON COLUMN "public"."t"."c" IS NULL;`, last(m))

	mgr, m = newManager()
	m.On("NOT a.attisdropped", existing("integer", "t", "t", "t_c_key"))
	_, err = mgr.DefineColumn(ctx, Column{Schema: "public", Table: "t", Name: "c", Type: "int"})
	require.NoError(t, err)
	assert.Equal(t, prefix+`ALTER COLUMN "c" DROP DEFAULT;
`+prefix+`ALTER COLUMN "c" DROP NOT NULL;
`+prefix+`DROP CONSTRAINT "t_c_key";
COMMENT ON COLUMN "public"."t"."c" IS NULL;`, last(m))
}

func TestDefineColumn_TypeChangeKeepsData(t *testing.T) {
	mgr, m := newManager()
	m.On("NOT a.attisdropped", existing("text", "f", "t", ""))

	_, err := mgr.DefineColumn(context.Background(), Column{Schema: "public", Table: "t", Name: "c", Type: "integer", Postfix: "DEFAULT 0"})
	require.NoError(t, err)
	const prefix = `ALTER TABLE "public"."t" ALTER COLUMN "c" `
	assert.Equal(t, prefix+`DROP DEFAULT;
`+prefix+`TYPE integer USING "c"::integer;
`+prefix+`SET DEFAULT 0;
COMMENT ON COLUMN "public"."t"."c" IS NULL;`, last(m))
	assert.False(t, m.Executed("DROP COLUMN"))
}

func TestDefineColumn_SerialKeepsSequenceDefault(t *testing.T) {
	mgr, m := newManager()
	m.On("NOT a.attisdropped", existing("integer", "t", "t", ""))

	_, err := mgr.DefineColumn(context.Background(), Column{Schema: "public", Table: "t", Name: "n", Type: "serial", Postfix: "NOT NULL"})
	require.NoError(t, err)
	assert.Equal(t, `COMMENT ON COLUMN "public"."t"."n" IS NULL;`, last(m))
}

func TestParsePostfix(t *testing.T) {
	tests := map[string]columnAttrs{
		"":                                  {},
		"NULL":                              {},
		"DEFAULT NULL":                      {},
		"NOT NULL DEFAULT 0":                {notNull: true, def: "0"},
		"DEFAULT now() NOT NULL":            {notNull: true, def: "now()"},
		"default 'not null'":                {def: "'not null'"},
		"PRIMARY KEY":                       {notNull: true},
		"GENERATED ALWAYS AS (a * 2) STORED": {generated: true},
	}
	for in, want := range tests {
		assert.Equal(t, want, parsePostfix(in), in)
	}
}

func TestCreateColumn_UniqueAndPostfix(t *testing.T) {
	mgr, m := newManager()

	_, err := mgr.CreateColumn(context.Background(), Column{
		Schema: "public", Table: "users", Name: "email", Type: "text", Unique: true, Postfix: "NOT NULL DEFAULT ''",
	})
	require.NoError(t, err)
	assert.Equal(t, `ALTER TABLE "public"."users" ADD COLUMN "email" text UNIQUE NOT NULL DEFAULT '';`, last(m))
}

func TestDefineFunction(t *testing.T) {
	ctx := context.Background()
	fn := Function{Schema: "public", Name: "touch", Returns: "trigger", Body: "BEGIN NEW.updated_at := 1; RETURN NEW; END;"}

	mgr, m := newManager()
	_, err := mgr.DefineFunction(ctx, fn)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(last(m), `CREATE FUNCTION "public"."touch"()`))
	assert.Contains(t, last(m), "LANGUAGE plpgsql")
	assert.Contains(t, last(m), "$fn$")

	mgr, m = newManager()
	m.On("pg_proc", present)
	_, err = mgr.DefineFunction(ctx, fn)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(last(m), `CREATE OR REPLACE FUNCTION "public"."touch"()`))

	_, err = mgr.DeleteFunction(ctx, "public", "touch", "")
	require.NoError(t, err)
	assert.Equal(t, `DROP FUNCTION "public"."touch" CASCADE`, last(m))
}

func TestTrigger(t *testing.T) {
	ctx := context.Background()
	tg := Trigger{Schema: "public", Table: "users", Name: "users_touch", Timing: "before", Events: []string{"insert", "update"}, Function: "touch"}

	mgr, m := newManager()
	m.On("pg_trigger", present)
	_, err := mgr.DefineTrigger(ctx, tg)
	require.NoError(t, err)
	assert.Equal(t,
		"DROP TRIGGER IF EXISTS \"users_touch\" ON \"public\".\"users\";\n"+
			"CREATE TRIGGER \"users_touch\" BEFORE INSERT OR UPDATE ON \"public\".\"users\" FOR EACH ROW EXECUTE FUNCTION \"public\".\"touch\"();",
		last(m))

	mgr, m = newManager()
	bad := tg
	bad.Timing = "DURING"
	out, err := mgr.CreateTrigger(ctx, bad)
	require.NoError(t, err)
	assert.Equal(t, transport.CodeValidationFailed, out.Err.Code)
	assert.Empty(t, m.Statements)
}

func TestForeignKey(t *testing.T) {
	ctx := context.Background()
	fk := ForeignKey{
		From:     ColumnRef{Schema: "public", Table: "posts", Column: "author_id"},
		To:       ColumnRef{Schema: "public", Table: "users", Column: "id"},
		OnDelete: "set_null",
		OnUpdate: "cascade",
	}
	assert.Equal(t, "posts_author_id_fkey", fk.ConstraintName())

	mgr, m := newManager()
	_, err := mgr.CreateForeignKey(ctx, fk)
	require.NoError(t, err)
	assert.Equal(t,
		`ALTER TABLE "public"."posts" ADD CONSTRAINT "posts_author_id_fkey" FOREIGN KEY ("author_id") REFERENCES "public"."users" ("id") ON DELETE SET NULL ON UPDATE CASCADE`,
		last(m))

	bad := fk
	bad.OnDelete = "explode"
	out, err := mgr.DefineForeignKey(ctx, bad)
	require.NoError(t, err)
	assert.Equal(t, transport.CodeValidationFailed, out.Err.Code)

	out, err = mgr.DeleteForeignKey(ctx, "public", "posts", "posts_author_id_fkey")
	require.NoError(t, err)
	assert.True(t, out.Ignored)
}

func TestDefineView_ExistingIsRecreated(t *testing.T) {
	mgr, m := newManager()
	m.On("relkind IN ('v')", present)

	_, err := mgr.DefineView(context.Background(), View{Schema: "public", Name: "active_users", Definition: "SELECT id FROM users;"})
	require.NoError(t, err)
	assert.Equal(t,
		"DROP VIEW IF EXISTS \"public\".\"active_users\";\nCREATE VIEW \"public\".\"active_users\" AS\nSELECT id FROM users;",
		last(m))
}

func TestColumns(t *testing.T) {
	mgr, m := newManager()
	m.On("information_schema.columns", sqlexec.Tuples(
		[]string{"column_name", "data_type", "full_type", "is_nullable", "column_default", "comment"},
		[]string{"id", "uuid", "uuid", "NO", "gen_random_uuid()", ""},
		[]string{"created_at", "bigint", "bigint", "NO", "", ""},
		[]string{"name", "character varying", "character varying(64)", "YES", "", "display name"},
	))

	cols, err := mgr.Columns(context.Background(), "s1", "users")
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, "uuid", cols[0].Type)
	assert.False(t, cols[0].Nullable)
	assert.Equal(t, "character varying(64)", cols[2].FullType)
	assert.True(t, cols[2].Nullable)
	assert.Equal(t, "display name", cols[2].Comment)
	assert.Contains(t, m.Statements[0], "c.table_schema = 's1'")
}

func TestSchemas_LogicalFailure(t *testing.T) {
	mgr, m := newManager()
	m.Default = sqlexec.Failed(&transport.ServiceError{Code: transport.CodePostgresError, Message: "permission denied"})

	_, err := mgr.Schemas(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing schemas")
}

func TestNormalizeType(t *testing.T) {
	tests := map[string]string{
		"INT":                "integer",
		"int8":               "bigint",
		"Varchar(64)":        "character varying(64)",
		"numeric(10, 2)":     "numeric(10,2)",
		"timestamptz":        "timestamp with time zone",
		"TEXT[]":             "text[]",
		"double   precision": "double precision",
		"uuid":               "uuid",
		"timestamp(3)":       "timestamp(3) without time zone",
		"timestamptz(3)":     "timestamp(3) with time zone",
		"timestamp(3)[]":     "timestamp(3) without time zone[]",
		"float":              "double precision",
		"float(40)":          "double precision",
		"float4":             "real",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeType(in), in)
	}
}

func TestInventoryWriteAndLoadYAML(t *testing.T) {
	mgr, m := newManager()
	m.On("information_schema.tables", sqlexec.Tuples(
		[]string{"table_name", "table_type"},
		[]string{"posts", "BASE TABLE"},
		[]string{"users", "BASE TABLE"},
		[]string{"active_users", "VIEW"},
	))
	m.On("information_schema.columns", sqlexec.Tuples(
		[]string{"column_name", "data_type", "full_type", "is_nullable", "column_default", "comment"},
		[]string{"id", "uuid", "uuid", "NO", "", ""},
	))

	inv, err := mgr.Inventory(context.Background(), "public")
	require.NoError(t, err)
	require.Len(t, inv.Tables, 3)
	assert.Equal(t, "posts", inv.Tables[0].Name)
	assert.Equal(t, "Schema public: 2 tables, 1 views, 3 columns", inv.Summary())

	path := filepath.Join(t.TempDir(), "out", "public.yaml")
	require.NoError(t, inv.WriteYAML(path))

	loaded, err := LoadYAML(path)
	require.NoError(t, err)
	assert.Equal(t, inv, loaded)
}
