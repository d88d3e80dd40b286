package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metasync/metasync/internal/permission"
	"github.com/metasync/metasync/internal/relationship"
	"github.com/metasync/metasync/internal/schema"
)

const blog = `
version: 1
source:
  name: default
  database_url_from_env: DATABASE_URL
schemas: [public]
tables:
  - name: users
  - name: posts
    id_type: bigint
columns:
  - table: users
    name: email
    type: text
    unique: true
  - table: posts
    name: author_id
    type: uuid
    postfix: NOT NULL
foreign_keys:
  - from: {table: posts, column: author_id}
    to: {table: users, column: id}
    on_delete: cascade
tracking:
  tables:
    - name: users
    - name: posts
relationships:
  - table: posts
    name: author
    type: object
    using:
      foreign_key_constraint_on: author_id
  - table: users
    name: posts
    type: array
    using:
      foreign_key_constraint_on: {table: posts, column: author_id}
permissions:
  - table: posts
    operation: select
    roles: [user, anonymous]
    columns: "*"
    filter: {}
event_triggers:
  - name: post_created
    table: posts
    webhook_from_env: POST_HOOK
    insert: true
cron_triggers:
  - name: nightly_digest
    webhook: http://hooks/digest
    schedule: "0 6 * * *"
`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(blog))
	require.NoError(t, err)

	assert.Equal(t, "public", m.DefaultSchema)
	require.Len(t, m.Tables, 2)
	assert.Equal(t, "public", m.Tables[1].Schema)
	assert.Equal(t, "bigint", m.Tables[1].IDType)
	assert.Equal(t, "public", m.ForeignKeys[0].To.Schema)
	assert.Equal(t, "posts_author_id_fkey", m.ForeignKeys[0].ConstraintName())
	assert.Equal(t, relationship.Array, m.Relationships[1].Type)
	assert.Equal(t, "posts", m.Relationships[1].Using.ForeignKey.Table.Name)
	assert.Equal(t, permission.AllColumns, m.Permissions[0].Columns)
	assert.Equal(t, "public", m.EventTriggers[0].Schema)
	assert.Equal(t, "DATABASE_URL", m.Source.DatabaseURLFromEnv)
	assert.Equal(t, 15, m.Count())
}

func TestParse_DefaultSchema(t *testing.T) {
	m, err := Parse([]byte("version: 1\ndefault_schema: app\ntables:\n  - name: users\n  - schema: audit\n    name: log\n"))
	require.NoError(t, err)
	assert.Equal(t, "app", m.Tables[0].Schema)
	assert.Equal(t, "audit", m.Tables[1].Schema)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"version", "version: 2\n", "unsupported manifest version"},
		{"unknown key", "version: 1\ntabels: []\n", "field tabels not found"},
		{"duplicate table", "version: 1\ntables: [{name: users}, {name: users}]\n", "duplicate table public.users"},
		{"duplicate role", "version: 1\npermissions:\n  - {table: t, operation: select, roles: [a, a]}\n", "duplicate permission public.t.select.a"},
		{"missing column type", "version: 1\ncolumns: [{table: t, name: c}]\n", `column "c": missing required field`},
		{"long trigger name", "version: 1\nevent_triggers: [{name: " + strings.Repeat("x", 50) + ", table: t}]\n", "longer than 42 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	m := &Manifest{
		Version: 1,
		Schemas: []string{"app", "app"},
		Views:   []schema.View{{Schema: "app", Name: "active_users"}},
	}
	err := m.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate schema app")
	assert.Contains(t, err.Error(), `view "active_users": missing required field`)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metasync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(blog), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, m.Permissions[0].Roles, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading manifest")
}
