package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metasync/metasync/internal/transport"
)

const sampleExport = `{
  "version": 3,
  "sources": [
    {
      "name": "default",
      "kind": "postgres",
      "tables": [
        {
          "table": {"schema": "public", "name": "users"},
          "object_relationships": [
            {"name": "profile", "using": {"foreign_key_constraint_on": "profile_id"}}
          ],
          "array_relationships": [
            {"name": "posts", "using": {"foreign_key_constraint_on": {"table": {"schema": "public", "name": "posts"}, "column": "author_id"}}}
          ],
          "select_permissions": [
            {"role": "user", "permission": {"columns": ["id", "name"], "filter": {"id": {"_eq": "X-Hasura-User-Id"}}}}
          ],
          "event_triggers": [
            {"name": "users_changed", "definition": {"enable_manual": false, "insert": {"columns": "*"}}, "webhook": "http://hooks/users"}
          ]
        },
        {"table": "posts"}
      ],
      "functions": [{"function": {"schema": "public", "name": "search_posts"}}],
      "configuration": {"connection_info": {"database_url": "postgres://u:p@db:5432/app"}}
    }
  ],
  "cron_triggers": [{"name": "nightly", "webhook": "http://hooks/nightly", "schedule": "0 3 * * *"}],
  "remote_schemas": [{"name": "countries"}]
}`

func TestDocument_Lookups(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleExport))
	require.NoError(t, err)

	src := doc.Source("default")
	require.NotNil(t, src)
	assert.Equal(t, "postgres://u:p@db:5432/app", src.DatabaseURL())
	assert.Nil(t, doc.Source("missing"))

	users := src.Table("public", "users")
	require.NotNil(t, users)

	rel, kind := users.Relationship("profile")
	require.NotNil(t, rel)
	assert.Equal(t, "object", kind)
	_, kind = users.Relationship("posts")
	assert.Equal(t, "array", kind)
	rel, _ = users.Relationship("nope")
	assert.Nil(t, rel)

	perm := users.Permission("select", "user")
	require.NotNil(t, perm)
	var body struct {
		Columns []string `json:"columns"`
	}
	require.NoError(t, json.Unmarshal(perm.Permission, &body))
	assert.Equal(t, []string{"id", "name"}, body.Columns)
	assert.Nil(t, users.Permission("insert", "user"))

	tbl, et := src.EventTrigger("users_changed")
	require.NotNil(t, et)
	assert.Equal(t, "users", tbl.Table.Name)

	assert.NotNil(t, src.Table("public", "posts"), "bare table names default to public")
	assert.NotNil(t, src.Function("public", "search_posts"))
	assert.NotNil(t, doc.CronTrigger("nightly"))
}

func TestDocument_RoundTripKeepsUnmodelledFields(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleExport))
	require.NoError(t, err)

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.Contains(t, generic, "remote_schemas")
}

func TestOp(t *testing.T) {
	assert.Equal(t, "pg_track_table", Op("postgres", TrackTable))
	assert.Equal(t, "pg_track_table", Op("", TrackTable))
	assert.Equal(t, "mssql_add_source", Op("mssql", AddSource))
	assert.Equal(t, "pg_create_select_permission", PermissionOp("postgres", "create", "select"))
	assert.Equal(t, "citus_drop_delete_permission", PermissionOp("citus", "drop", "delete"))
	assert.True(t, IsPostgresFamily("citus"))
	assert.False(t, IsPostgresFamily("bigquery"))
}

func TestClient_V1AndBulk(t *testing.T) {
	var got []Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, Path, r.URL.Path)
		var req struct {
			Type string          `json:"type"`
			Args json.RawMessage `json:"args"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got = append(got, Request{Type: req.Type, Args: string(req.Args)})

		if req.Type == "pg_drop_relationship" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":"not-exists","error":"relationship \"x\" does not exist","path":"$.args"}`))
			return
		}
		w.Write([]byte(`{"message":"success"}`))
	}))
	defer srv.Close()

	tc, err := transport.New(transport.Options{URL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	c := New(tc, nil)

	resp, err := c.V1(context.Background(), Request{Type: OpReloadMetadata})
	require.NoError(t, err)
	assert.True(t, resp.OK())

	resp, err = c.V1(context.Background(), Request{Type: "pg_drop_relationship", Args: map[string]any{"relationship": "x"}})
	require.NoError(t, err)
	require.False(t, resp.OK())
	assert.True(t, resp.Err.NotFound())

	_, err = c.Bulk(context.Background(),
		Request{Type: "pg_drop_select_permission", Args: map[string]any{"role": "user"}},
		Request{Type: "pg_create_select_permission"},
	)
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, "{}", got[0].Args, "nil args are sent as an empty object")
	assert.Equal(t, OpBulk, got[2].Type)
	assert.Contains(t, got[2].Args, `"pg_create_select_permission","args":{}`)
}

func TestExport(t *testing.T) {
	m := &MockClient{}
	m.On(OpExportMetadata, Body(sampleExport))

	doc, err := Export(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Version)
	assert.Len(t, doc.Sources, 1)

	m2 := &MockClient{}
	m2.On(OpExportMetadata, Failure("unexpected", "boom"))
	_, err = Export(context.Background(), m2)
	assert.Error(t, err)
}

func TestMockClient_Queue(t *testing.T) {
	m := &MockClient{}
	m.On("a", Failure("x", "first")).On("a", Success())

	r1, _ := m.V1(context.Background(), Request{Type: "a"})
	r2, _ := m.V1(context.Background(), Request{Type: "a"})
	r3, _ := m.V1(context.Background(), Request{Type: "a"})
	assert.False(t, r1.OK())
	assert.True(t, r2.OK())
	assert.True(t, r3.OK())
	assert.Equal(t, 3, m.Count("a"))
}
