package computed

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/metasync/metasync/internal/metadata"
	"github.com/metasync/metasync/internal/resource"
	"github.com/metasync/metasync/internal/transport"
)

const withFullName = `{"version":3,"sources":[{"name":"default","kind":"postgres","tables":[
  {"table":{"schema":"public","name":"users"},
   "computed_fields":[{"name":"full_name","definition":{"function":{"schema":"public","name":"user_full_name"}}}]}
]}]}`

const bare = `{"version":3,"sources":[{"name":"default","kind":"postgres","tables":[
  {"table":{"schema":"public","name":"users"}}
]}]}`

func newManager(export string) (*Manager, *metadata.MockClient) {
	m := &metadata.MockClient{}
	m.On(metadata.OpExportMetadata, metadata.Body(export))
	return NewManager(m, metadata.Scope{}, nil), m
}

func wire(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func fullName(function string) Field {
	return Field{
		Schema:     "public",
		Table:      "users",
		Name:       "full_name",
		Definition: Definition{Function: metadata.QualifiedName{Name: function}, TableArgument: "u"},
		Comment:    "first and last name",
	}
}

func TestDefineComputedField_Creates(t *testing.T) {
	mgr, m := newManager(bare)

	out, err := mgr.DefineComputedField(context.Background(), fullName("user_full_name"))
	require.NoError(t, err)
	assert.True(t, out.Success)

	req, ok := m.Last("pg_add_computed_field")
	require.True(t, ok)
	assert.JSONEq(t, `{
		"source": "default",
		"table": {"schema": "public", "name": "users"},
		"name": "full_name",
		"definition": {"function": {"schema": "public", "name": "user_full_name"}, "table_argument": "u"},
		"comment": "first and last name"
	}`, wire(t, req.Args))
}

func TestDefineComputedField_ReplacesInBulk(t *testing.T) {
	mgr, m := newManager(withFullName)

	out, err := mgr.DefineComputedField(context.Background(), fullName("user_display_name"))
	require.NoError(t, err)
	assert.True(t, out.Success)

	req, ok := m.Last(metadata.OpBulk)
	require.True(t, ok)
	reqs := req.Args.([]metadata.Request)
	require.Len(t, reqs, 2)
	assert.Equal(t, "pg_drop_computed_field", reqs[0].Type)
	assert.Contains(t, wire(t, reqs[0].Args), `"cascade":false`)
	assert.Equal(t, "pg_add_computed_field", reqs[1].Type)
	assert.Contains(t, wire(t, reqs[1].Args), `"user_display_name"`)
}

func TestCreateComputedField(t *testing.T) {
	mgr, _ := newManager(withFullName)
	_, err := mgr.CreateComputedField(context.Background(), fullName("user_full_name"))
	assert.ErrorIs(t, err, resource.ErrAlreadyExists)

	mgr, m := newManager(bare)
	m.On("pg_add_computed_field", metadata.Failure(transport.CodeValidationFailed, "function user_full_name does not exist"))
	out, err := mgr.CreateComputedField(context.Background(), fullName("user_full_name"))
	require.NoError(t, err)
	assert.True(t, out.Failed())
}

func TestComputedField_Invalid(t *testing.T) {
	mgr, m := newManager(bare)

	out, err := mgr.DefineComputedField(context.Background(), Field{Schema: "public", Table: "users", Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, transport.CodeValidationFailed, out.Err.Code)
	assert.Empty(t, m.Requests)
}

func TestDeleteComputedField(t *testing.T) {
	ctx := context.Background()

	mgr, m := newManager(withFullName)
	out, err := mgr.DeleteComputedField(ctx, "public", "users", "full_name", resource.WithCascade(false))
	require.NoError(t, err)
	assert.False(t, out.Ignored)
	req, _ := m.Last("pg_drop_computed_field")
	assert.Contains(t, wire(t, req.Args), `"cascade":false`)

	mgr, m = newManager(bare)
	out, err = mgr.DeleteComputedField(ctx, "public", "users", "full_name")
	require.NoError(t, err)
	assert.True(t, out.Ignored)
	assert.Equal(t, 0, m.Count("pg_drop_computed_field"))
}

func TestField_YAML(t *testing.T) {
	var f Field
	require.NoError(t, yaml.Unmarshal([]byte(`
schema: public
table: users
name: full_name
definition:
  function: user_full_name
`), &f))
	assert.Equal(t, metadata.QualifiedName{Schema: "public", Name: "user_full_name"}, f.Definition.Function)
	assert.NoError(t, f.validate())
}
