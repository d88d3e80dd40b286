package consistency

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metasync/metasync/internal/metadata"
	"github.com/metasync/metasync/internal/resource"
	"github.com/metasync/metasync/internal/transport"
)

const exported = `{"version":3,"sources":[{"name":"default","kind":"postgres","tables":[
  {"table":{"schema":"public","name":"users"},"x_unmodelled":{"keep":true}}
]}]}`

const inconsistent = `{"is_consistent":false,"inconsistent_objects":[
  {"type":"table","reason":"no such table","definition":{"schema":"public","name":"gone"}},
  {"type":"event_trigger","reason":"table missing","definition":{"name":"on_gone","table":{"schema":"public","name":"gone"}}},
  {"type":"source","reason":"cannot connect","definition":"analytics"}
]}`

func newMonitor(t *testing.T, opts Options) (*Monitor, *metadata.MockClient) {
	t.Helper()
	m := &metadata.MockClient{}
	mon := New(m, opts, nil)
	mon.now = func() time.Time { return time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC) }
	return mon, m
}

func TestInconsistent(t *testing.T) {
	mon, m := newMonitor(t, Options{})
	m.On(metadata.OpGetInconsistentMetadata, metadata.Body(inconsistent))

	r, err := mon.Inconsistent(context.Background())
	require.NoError(t, err)
	assert.False(t, r.IsConsistent)
	require.Len(t, r.Objects, 3)
	assert.Equal(t, "public.gone", r.Objects[0].Name)
	assert.Equal(t, "on_gone", r.Objects[1].Name)
	assert.Equal(t, "analytics", r.Objects[2].Name)
}

func TestInconsistent_RejectedIsError(t *testing.T) {
	mon, m := newMonitor(t, Options{})
	m.On(metadata.OpGetInconsistentMetadata, metadata.Failure(transport.CodeAccessDenied, "admin only"))

	_, err := mon.Inconsistent(context.Background())
	assert.ErrorContains(t, err, "admin only")
}

func TestReplace(t *testing.T) {
	mon, m := newMonitor(t, Options{})
	doc, err := metadata.ParseDocument([]byte(exported))
	require.NoError(t, err)

	out, err := mon.Replace(context.Background(), doc, true)
	require.NoError(t, err)
	assert.True(t, out.Success)

	req, ok := m.Last(metadata.OpReplaceMetadata)
	require.True(t, ok)
	assert.Equal(t, 2, req.Version)
	data, err := json.Marshal(req.Args)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"allow_inconsistent_metadata":true`)
	assert.Contains(t, string(data), `"x_unmodelled":{"keep":true}`)
}

func TestClearReloadDrop(t *testing.T) {
	ctx := context.Background()
	mon, m := newMonitor(t, Options{})

	_, err := mon.Clear(ctx)
	require.NoError(t, err)
	_, err = mon.Reload(ctx)
	require.NoError(t, err)
	_, err = mon.DropInconsistent(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{
		metadata.OpClearMetadata,
		metadata.OpReloadMetadata,
		metadata.OpDropInconsistentMetadata,
	}, m.Types())
	req, _ := m.Last(metadata.OpReloadMetadata)
	assert.Equal(t, map[string]bool{"reload_remote_schemas": true, "reload_sources": true}, req.Args)
}

func TestSnapshotAndRestore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "snapshots")
	mon, m := newMonitor(t, Options{SnapshotDir: dir})
	m.On(metadata.OpExportMetadata, metadata.Body(exported))

	path, err := mon.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "metadata-20260301T123000.000Z.yaml"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "x_unmodelled:")

	doc, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.NotNil(t, doc.Source("default").Table("public", "users"))

	out, err := mon.Restore(ctx, path)
	require.NoError(t, err)
	assert.True(t, out.Success)
	req, ok := m.Last(metadata.OpReplaceMetadata)
	require.True(t, ok)
	data, err = json.Marshal(req.Args)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"allow_inconsistent_metadata":true`)
	assert.Contains(t, string(data), `"keep":true`)
}

func TestRestore_MissingFile(t *testing.T) {
	mon, m := newMonitor(t, Options{})
	_, err := mon.Restore(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
	assert.Empty(t, m.Requests)
}

// flaky fails with the given response until calls exceeds failures.
type flaky struct {
	fail     *resource.Outcome
	failures int
	calls    int
}

func (f *flaky) op(context.Context) (*resource.Outcome, error) {
	f.calls++
	if f.calls <= f.failures {
		return f.fail, nil
	}
	return resource.Succeeded(), nil
}

func TestWithHealing(t *testing.T) {
	stale := resource.Rejected(&transport.ServiceError{Code: transport.CodeInconsistent, Message: "cannot continue due to inconsistent metadata"})
	other := resource.Rejected(&transport.ServiceError{Code: transport.CodeValidationFailed, Message: "bad filter"})

	tests := []struct {
		name      string
		op        *flaky
		wantCalls int
		wantDrops int
		wantOK    bool
	}{
		{"success is not retried", &flaky{}, 1, 0, true},
		{"stale failure is healed once", &flaky{fail: stale, failures: 1}, 2, 1, true},
		{"retry outcome is returned", &flaky{fail: stale, failures: 5}, 2, 1, false},
		{"other failure is not retried", &flaky{fail: other, failures: 5}, 1, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon, m := newMonitor(t, Options{})
			m.On(metadata.OpGetInconsistentMetadata, metadata.Body(inconsistent))

			out, err := mon.WithHealing(context.Background(), tt.op.op)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, tt.op.calls)
			assert.Equal(t, tt.wantDrops, m.Count(metadata.OpDropInconsistentMetadata))
			assert.Equal(t, tt.wantOK, out.Success)
		})
	}
}

func TestWithHealing_TransportErrorPassesThrough(t *testing.T) {
	mon, m := newMonitor(t, Options{})
	terr := &transport.Error{Kind: transport.KindNetwork, Op: "POST /v1/metadata", Err: errors.New("connection refused")}
	calls := 0

	_, err := mon.WithHealing(context.Background(), func(context.Context) (*resource.Outcome, error) {
		calls++
		return nil, terr
	})
	assert.ErrorIs(t, err, terr)
	assert.Equal(t, 1, calls)
	assert.Empty(t, m.Requests)
}

func TestWithHealing_Preflight(t *testing.T) {
	mon, m := newMonitor(t, Options{Preflight: true})
	m.On(metadata.OpGetInconsistentMetadata, metadata.Body(inconsistent))

	out, err := mon.WithHealing(context.Background(), (&flaky{}).op)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 1, m.Count(metadata.OpDropInconsistentMetadata))

	mon, m = newMonitor(t, Options{Preflight: true})
	m.On(metadata.OpGetInconsistentMetadata, metadata.Body(`{"is_consistent":true,"inconsistent_objects":[]}`))
	_, err = mon.WithHealing(context.Background(), (&flaky{}).op)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Count(metadata.OpDropInconsistentMetadata))
}

func TestHealer_RecordsHeals(t *testing.T) {
	mon, m := newMonitor(t, Options{})
	m.On(metadata.OpGetInconsistentMetadata, metadata.Body(inconsistent))
	h := mon.Healer()

	stale := resource.Rejected(&transport.ServiceError{Code: transport.CodeNotExists, Message: "table users does not exist"})
	_, err := h.Do(context.Background(), "track public.users", (&flaky{fail: stale, failures: 1}).op)
	require.NoError(t, err)
	_, err = h.Do(context.Background(), "track public.posts", (&flaky{}).op)
	require.NoError(t, err)

	heals := h.Heals()
	require.Len(t, heals, 1)
	assert.Equal(t, "track public.users", heals[0].Step)
	assert.Contains(t, heals[0].Cause, "not-exists")
	assert.Len(t, heals[0].Dropped, 3)
	assert.Equal(t, "ok", heals[0].Retry)
}
