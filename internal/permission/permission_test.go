package permission

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/metasync/metasync/internal/metadata"
	"github.com/metasync/metasync/internal/resource"
	"github.com/metasync/metasync/internal/transport"
)

const userSelect = `{"version":3,"sources":[{"name":"default","kind":"postgres","tables":[
  {"table":{"schema":"public","name":"users"},
   "select_permissions":[{"role":"user","permission":{"columns":["id"],"filter":{}}}]}
]}]}`

// rejecting fails create requests for one role and records the rest.
type rejecting struct {
	metadata.MockClient
	role string
}

func (r *rejecting) V1(ctx context.Context, req metadata.Request) (*metadata.Response, error) {
	if args, ok := req.Args.(createArgs); ok && args.Role == r.role {
		r.MockClient.V1(ctx, req)
		return metadata.Failure(transport.CodeValidationFailed, "bad filter for "+r.role), nil
	}
	return r.MockClient.V1(ctx, req)
}

func newManager(export string) (*Manager, *metadata.MockClient) {
	m := &metadata.MockClient{}
	m.On(metadata.OpExportMetadata, metadata.Body(export))
	return NewManager(m, metadata.Scope{Source: "default", Kind: "postgres"}, nil), m
}

func body(t *testing.T, req metadata.Request) map[string]any {
	t.Helper()
	data, err := json.Marshal(req.Args)
	require.NoError(t, err)
	var out struct {
		Permission map[string]any `json:"permission"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	return out.Permission
}

func TestDefinePermission_Create(t *testing.T) {
	mgr, m := newManager(`{"version":3,"sources":[{"name":"default","kind":"postgres","tables":[]}]}`)

	outs, err := mgr.DefinePermission(context.Background(), Permission{
		Schema:    "public",
		Table:     "users",
		Operation: Select,
		Roles:     []string{"user"},
		Filter:    map[string]any{"id": map[string]any{"_eq": "X-Hasura-User-Id"}},
		Columns:   ColumnList("id", "name"),
		Aggregate: true,
		Limit:     50,
	})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.True(t, outs[0].Success)

	req, ok := m.Last("pg_create_select_permission")
	require.True(t, ok)
	assert.Equal(t, map[string]any{
		"columns":            []any{"id", "name"},
		"filter":             map[string]any{"id": map[string]any{"_eq": "X-Hasura-User-Id"}},
		"limit":              float64(50),
		"allow_aggregations": true,
	}, body(t, req))
}

func TestDefinePermission_ReplacesExisting(t *testing.T) {
	mgr, m := newManager(userSelect)

	outs, err := mgr.DefinePermission(context.Background(), Permission{
		Schema: "public", Table: "users", Operation: Select, Roles: []string{"user"}, Columns: AllColumns,
	})
	require.NoError(t, err)
	assert.True(t, outs[0].Success)

	req, ok := m.Last(metadata.OpBulk)
	require.True(t, ok)
	reqs := req.Args.([]metadata.Request)
	require.Len(t, reqs, 2)
	assert.Equal(t, "pg_drop_select_permission", reqs[0].Type)
	assert.Equal(t, "pg_create_select_permission", reqs[1].Type)
	assert.Equal(t, "*", body(t, reqs[1])["columns"])
}

func TestDefinePermission_OutcomesFollowRoleOrder(t *testing.T) {
	r := &rejecting{role: "guest"}
	r.On(metadata.OpExportMetadata, metadata.Body(`{"version":3,"sources":[]}`))
	mgr := NewManager(r, metadata.Scope{}, nil)

	roles := []string{"admin", "guest", "user", "editor"}
	outs, err := mgr.DefinePermission(context.Background(), Permission{
		Schema: "public", Table: "users", Operation: Delete, Roles: roles,
	})
	require.NoError(t, err)
	require.Len(t, outs, len(roles))
	for i, role := range roles {
		if role == "guest" {
			assert.True(t, outs[i].Failed(), role)
			assert.Contains(t, outs[i].Err.Message, "guest")
		} else {
			assert.True(t, outs[i].Success, role)
		}
	}
	assert.Equal(t, len(roles), r.Count("pg_create_delete_permission"))
}

func TestDefinePermission_TransportErrorAborts(t *testing.T) {
	mgr, m := newManager(`{}`)
	m.Err = &transport.Error{Kind: transport.KindTimeout, Op: "POST /v1/metadata", Err: errors.New("deadline")}

	_, err := mgr.DefinePermission(context.Background(), Permission{
		Schema: "public", Table: "users", Operation: Select, Roles: []string{"a", "b"}, Columns: AllColumns,
	})
	var te *transport.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, transport.KindTimeout, te.Kind)
}

func TestDefinePermission_Validation(t *testing.T) {
	mgr, m := newManager(`{}`)

	outs, err := mgr.DefinePermission(context.Background(), Permission{
		Schema: "public", Table: "users", Operation: Insert, Roles: []string{"a", "b"}, Aggregate: true,
	})
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.Equal(t, transport.CodeValidationFailed, outs[1].Err.Code)

	outs, err = mgr.DefinePermission(context.Background(), Permission{Schema: "public", Table: "users", Operation: "upsert"})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.True(t, outs[0].Failed())
	assert.Empty(t, m.Requests)
}

func TestCreatePermission_AlreadyExists(t *testing.T) {
	mgr, _ := newManager(userSelect)

	_, err := mgr.CreatePermission(context.Background(), Permission{
		Schema: "public", Table: "users", Operation: Select, Roles: []string{"user"}, Columns: AllColumns,
	})
	assert.ErrorIs(t, err, resource.ErrAlreadyExists)
}

func TestDeletePermission(t *testing.T) {
	ctx := context.Background()

	mgr, m := newManager(userSelect)
	out, err := mgr.DeletePermission(ctx, "public", "users", Select, "user")
	require.NoError(t, err)
	assert.False(t, out.Ignored)
	assert.Equal(t, 1, m.Count("pg_drop_select_permission"))

	out, err = mgr.DeletePermission(ctx, "public", "users", Update, "user")
	require.NoError(t, err)
	assert.True(t, out.Ignored)
	assert.Equal(t, 0, m.Count("pg_drop_update_permission"))
}

func TestPermissionBodies(t *testing.T) {
	insert := Permission{Operation: Insert, Columns: ColumnList("title"), Set: map[string]any{"author_id": "X-Hasura-User-Id"}}.body()
	assert.Equal(t, map[string]any{}, insert["check"])
	assert.Contains(t, insert, "set")
	assert.NotContains(t, insert, "filter")

	del := Permission{Operation: Delete}.body()
	assert.Equal(t, map[string]any{"filter": map[string]any{}}, del)
}

func TestColumns_YAML(t *testing.T) {
	var p Permission
	require.NoError(t, yaml.Unmarshal([]byte("columns: true"), &p))
	assert.True(t, p.Columns.All)

	require.NoError(t, yaml.Unmarshal([]byte("columns: [id, name]"), &p))
	assert.Equal(t, Columns{List: []string{"id", "name"}}, p.Columns)

	assert.Error(t, yaml.Unmarshal([]byte("columns: some"), &p))
}
