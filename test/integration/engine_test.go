//go:build integration

package integration

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metasync/metasync/internal/manifest"
	"github.com/metasync/metasync/internal/metadata"
	"github.com/metasync/metasync/internal/relationship"
	"github.com/metasync/metasync/internal/resource"
	"github.com/metasync/metasync/internal/schema"
	"github.com/metasync/metasync/internal/source"
	"github.com/metasync/metasync/internal/sqlexec"
	"github.com/metasync/metasync/internal/state"
	"github.com/metasync/metasync/internal/tracking"
)

func TestSourceReachable(t *testing.T) {
	skipIfNoPostgres(t)
	require.NoError(t, source.Ping(testContext(t), databaseURL(t)))
}

func TestSchemaLifecycle(t *testing.T) {
	e := testEngine(t)
	ctx := testContext(t)
	s := scratchSchema()
	t.Cleanup(func() { _, _ = e.Schema.DeleteSchema(ctx, s, resource.WithCascade(true)) })

	out, err := e.Schema.CreateSchema(ctx, s)
	require.NoError(t, err)
	assert.True(t, out.Success)

	_, err = e.Schema.CreateSchema(ctx, s)
	assert.ErrorIs(t, err, resource.ErrAlreadyExists)

	out, err = e.Schema.DefineTable(ctx, schema.Table{Schema: s, Name: "users"})
	require.NoError(t, err)
	assert.True(t, out.Success)

	out, err = e.Schema.DefineColumn(ctx, schema.Column{Schema: s, Table: "users", Name: "email", Type: "text", Unique: true})
	require.NoError(t, err)
	assert.True(t, out.Success)

	cols, err := e.Schema.Columns(ctx, s, "users")
	require.NoError(t, err)
	var names []string
	for _, c := range cols {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "email")

	out, err = e.Schema.DeleteTable(ctx, s, "users")
	require.NoError(t, err)
	assert.True(t, out.Success)

	out, err = e.Schema.DeleteTable(ctx, s, "users")
	require.NoError(t, err)
	assert.True(t, out.Ignored)
}

func TestApplyAndRollback(t *testing.T) {
	e := testEngine(t)
	ctx := testContext(t)
	s := scratchSchema()
	t.Cleanup(func() {
		_, _ = e.Tracking.UntrackTable(ctx, s, "posts", resource.WithCascade(true))
		_, _ = e.Tracking.UntrackTable(ctx, s, "users", resource.WithCascade(true))
		_, _ = e.Schema.DeleteSchema(ctx, s, resource.WithCascade(true))
	})

	m, err := manifest.Parse([]byte(fmt.Sprintf(`
version: 1
default_schema: %s
schemas: [%s]
tables:
  - name: users
  - name: posts
columns:
  - table: posts
    name: author_id
    type: uuid
foreign_keys:
  - from: {table: posts, column: author_id}
    to: {table: users, column: id}
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
permissions:
  - table: posts
    operation: select
    roles: [user]
    columns: "*"
`, s, s)))
	require.NoError(t, err)

	result, err := e.Apply(ctx, m)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Zero(t, result.Counts.Failed)
	assert.GreaterOrEqual(t, result.Counts.Succeeded, 9)

	tracked, err := e.Tracking.TrackedTables(ctx)
	require.NoError(t, err)
	assert.Contains(t, qualified(tracked), s+".posts")

	// a second apply converges to the same state
	again, err := e.Apply(ctx, m)
	require.NoError(t, err)
	assert.Empty(t, again.Errors)

	rb, err := e.Rollback(ctx)
	require.NoError(t, err)
	assert.True(t, rb.Restored)

	tracked, err = e.Tracking.TrackedTables(ctx)
	require.NoError(t, err)
	// the second apply's snapshot already tracked everything
	assert.Contains(t, qualified(tracked), s+".posts")

	st, err := e.LoadState()
	require.NoError(t, err)
	assert.Equal(t, state.StatusRolledBack, st.Status)
}

func TestHealingAfterOutOfBandDrop(t *testing.T) {
	e := testEngine(t)
	ctx := testContext(t)
	s := scratchSchema()
	t.Cleanup(func() { _, _ = e.Schema.DeleteSchema(ctx, s, resource.WithCascade(true)) })

	for _, tbl := range []string{"users", "orders"} {
		_, err := e.Schema.DefineTable(ctx, schema.Table{Schema: s, Name: tbl})
		require.NoError(t, err)
		_, err = e.Tracking.DefineTrackedTable(ctx, tracking.Table{Schema: s, Name: tbl})
		require.NoError(t, err)
	}

	// drop a tracked table behind the engine's back
	res, err := e.SQL.SQL(ctx, fmt.Sprintf(`DROP TABLE %q.orders`, s), sqlexec.WithCheckMetadataConsistency(false))
	require.NoError(t, err)
	require.True(t, res.OK(), "%v", res.Err)

	out, err := e.Consistency.WithHealing(ctx, func(ctx context.Context) (*resource.Outcome, error) {
		return e.Relationships.DefineRelationship(ctx, relationship.Relationship{
			Schema: s, Table: "users", Name: "self", Type: relationship.Object,
			Using: relationship.Using{Manual: &relationship.ManualConfiguration{
				RemoteTable:   metadata.QualifiedName{Schema: s, Name: "users"},
				ColumnMapping: map[string]string{"id": "id"},
			}},
		})
	})
	require.NoError(t, err)
	assert.True(t, out.Success, out.String())

	_, err = e.Consistency.DropInconsistent(ctx)
	require.NoError(t, err)
	r, err := e.Consistency.Inconsistent(ctx)
	require.NoError(t, err)
	assert.True(t, r.IsConsistent)
}

func qualified(names []metadata.QualifiedName) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, n.String())
	}
	return out
}
