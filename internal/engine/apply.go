package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/metasync/metasync/internal/consistency"
	"github.com/metasync/metasync/internal/manifest"
	"github.com/metasync/metasync/internal/permission"
	"github.com/metasync/metasync/internal/report"
	"github.com/metasync/metasync/internal/resource"
	"github.com/metasync/metasync/internal/rollback"
	"github.com/metasync/metasync/internal/source"
	"github.com/metasync/metasync/internal/state"
	"github.com/metasync/metasync/internal/transport"
)

// ApplyResult is the outcome of converging a manifest.
type ApplyResult struct {
	Snapshot   string             `json:"snapshot"`
	Steps      []report.Step      `json:"steps"`
	Heals      []consistency.Heal `json:"heals,omitempty"`
	Errors     []string           `json:"errors,omitempty"`
	Counts     state.Counts       `json:"counts"`
	ReportPath string             `json:"report_path,omitempty"`
}

// Failed reports whether any step failed.
func (r *ApplyResult) Failed() bool {
	return len(r.Errors) > 0
}

// task converges one object.
type task struct {
	kind   string
	object string
	op     consistency.Op
}

// ApplyFile loads the manifest at path and applies it.
func (e *Engine) ApplyFile(ctx context.Context, path string) (*ApplyResult, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return e.apply(ctx, m, abs)
}

// Apply converges m in dependency order. Every step is healed; logical
// failures are collected and later steps still run. A transport error
// aborts the apply and is returned together with the partial result.
func (e *Engine) Apply(ctx context.Context, m *manifest.Manifest) (*ApplyResult, error) {
	return e.apply(ctx, m, "")
}

func (e *Engine) apply(ctx context.Context, m *manifest.Manifest, manifestPath string) (*ApplyResult, error) {
	st, err := e.LoadState()
	if err != nil {
		return nil, err
	}

	snapshot, err := e.Consistency.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshotting metadata: %w", err)
	}
	e.Logger.Info("metadata snapshot taken", "path", snapshot)

	st.BeginApply(e.endpoint, manifestPath, snapshot)
	if err := e.SaveState(st); err != nil {
		return nil, err
	}

	healer := e.Consistency.Healer()
	result := &ApplyResult{Snapshot: snapshot}
	tasks := e.plan(m)
	e.Logger.Info("applying manifest", "objects", len(tasks))

	var abort error
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			abort = err
			break
		}
		name := t.kind + " " + t.object
		out, err := e.attempt(ctx, healer, name, t.op)
		if err != nil {
			abort = err
			break
		}
		result.Steps = append(result.Steps, step(t, out))
		if out.Failed() {
			e.Logger.Warn("step failed", "step", name, "error", out.String())
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", name, out))
		} else {
			e.Logger.Debug("step done", "step", name, "result", out.String())
		}
	}
	if abort != nil {
		e.Logger.Error("apply aborted", "error", abort)
		result.Errors = append(result.Errors, fmt.Sprintf("aborted: %v", abort))
	}

	result.Heals = healer.Heals()
	rep := report.Generate(e.endpoint, manifestPath, snapshot, result.Steps, result.Heals, result.Errors)
	result.Counts = rep.Counts
	result.ReportPath = filepath.Join(e.reportDir, fmt.Sprintf("apply-%s.json", rep.GeneratedAt.UTC().Format("20060102T150405.000Z")))
	if err := report.WriteJSON(rep, result.ReportPath); err != nil {
		e.Logger.Warn("writing apply report", "error", err)
		result.ReportPath = ""
	}

	st.FinishApply(rep.Counts)
	st.Status = rep.Status
	st.ReportPath = result.ReportPath
	if err := e.SaveState(st); err != nil {
		return result, err
	}

	e.Logger.Info("apply finished", "status", st.Status,
		"succeeded", rep.Counts.Succeeded, "ignored", rep.Counts.Ignored,
		"failed", rep.Counts.Failed, "healed", rep.Counts.Healed)
	return result, abort
}

func step(t task, out *resource.Outcome) report.Step {
	s := report.Step{Kind: t.kind, Object: t.object, Result: report.ResultOK}
	switch {
	case out.Failed():
		s.Result = report.ResultFailed
		s.Error = out.String()
	case out.Ignored:
		s.Result = report.ResultIgnored
	}
	return s
}

// attempt runs one step, running it a second time when the first failure
// is transient. Rejections come back as outcomes; a returned error means
// the endpoint could not be reached or ctx is done, and stops the apply.
func (e *Engine) attempt(ctx context.Context, healer *consistency.Healer, name string, op consistency.Op) (*resource.Outcome, error) {
	out, err := healer.Do(ctx, name, op)
	var svc *transport.ServiceError
	if out != nil {
		svc = out.Err
	}
	if transport.Classify(err, svc) != transport.Transient || ctx.Err() != nil {
		return out, err
	}
	e.Logger.Warn("transient failure, retrying step", "step", name, "result", describe(out, err))
	return healer.Do(ctx, name, op)
}

func describe(out *resource.Outcome, err error) string {
	if err != nil {
		return err.Error()
	}
	return out.String()
}

// plan lists the steps for m in dependency order.
func (e *Engine) plan(m *manifest.Manifest) []task {
	var tasks []task
	add := func(kind, object string, op consistency.Op) {
		tasks = append(tasks, task{kind: kind, object: object, op: op})
	}
	join := func(parts ...string) string { return strings.Join(parts, ".") }

	mg := e.Managers
	switch {
	case m.Source != nil:
		spec := *m.Source
		if spec.Name == "" {
			spec.Name = source.DefaultName
		}
		add("source", spec.Name, func(ctx context.Context) (*resource.Outcome, error) {
			return e.Sources.Define(ctx, spec)
		})
		if spec.Name != e.Config.Source.Name {
			mg = e.ForSource(spec.Name, spec.Kind)
		}
	default:
		if url, _ := e.Sources.ResolveURL(""); url != "" {
			add("source", source.DefaultName, func(ctx context.Context) (*resource.Outcome, error) {
				return e.Sources.EnsureDefault(ctx, "")
			})
		}
	}

	for _, s := range m.Schemas {
		add("schema", s, func(ctx context.Context) (*resource.Outcome, error) {
			return mg.Schema.DefineSchema(ctx, s)
		})
	}
	for _, t := range m.Tables {
		add("table", join(t.Schema, t.Name), func(ctx context.Context) (*resource.Outcome, error) {
			return mg.Schema.DefineTable(ctx, t)
		})
	}
	for _, c := range m.Columns {
		add("column", join(c.Schema, c.Table, c.Name), func(ctx context.Context) (*resource.Outcome, error) {
			return mg.Schema.DefineColumn(ctx, c)
		})
	}
	for _, f := range m.Functions {
		add("function", join(f.Schema, f.Name), func(ctx context.Context) (*resource.Outcome, error) {
			return mg.Schema.DefineFunction(ctx, f)
		})
	}
	for _, v := range m.Views {
		add("view", join(v.Schema, v.Name), func(ctx context.Context) (*resource.Outcome, error) {
			return mg.Schema.DefineView(ctx, v)
		})
	}
	for _, fk := range m.ForeignKeys {
		name := fk.Name
		if name == "" {
			name = join(fk.From.Schema, fk.From.Table, fk.From.Column)
		}
		add("foreign_key", name, func(ctx context.Context) (*resource.Outcome, error) {
			return mg.Schema.DefineForeignKey(ctx, fk)
		})
	}
	for _, t := range m.Triggers {
		add("trigger", join(t.Schema, t.Table, t.Name), func(ctx context.Context) (*resource.Outcome, error) {
			return mg.Schema.DefineTrigger(ctx, t)
		})
	}
	for _, t := range m.Tracking.Tables {
		add("track_table", join(t.Schema, t.Name), func(ctx context.Context) (*resource.Outcome, error) {
			return mg.Tracking.DefineTrackedTable(ctx, t)
		})
	}
	for _, f := range m.Tracking.Functions {
		add("track_function", join(f.Schema, f.Name), func(ctx context.Context) (*resource.Outcome, error) {
			return mg.Tracking.DefineTrackedFunction(ctx, f)
		})
	}
	for _, r := range m.Relationships {
		add("relationship", join(r.Schema, r.Table, r.Name), func(ctx context.Context) (*resource.Outcome, error) {
			return mg.Relationships.DefineRelationship(ctx, r)
		})
	}
	for _, p := range m.Permissions {
		roles := p.Roles
		if len(roles) == 0 {
			roles = []string{""}
		}
		for _, role := range roles {
			add("permission", join(p.Schema, p.Table, string(p.Operation), role), definePermission(mg.Permissions, p, role))
		}
	}
	for _, f := range m.ComputedFields {
		add("computed_field", join(f.Schema, f.Table, f.Name), func(ctx context.Context) (*resource.Outcome, error) {
			return mg.Computed.DefineComputedField(ctx, f)
		})
	}
	for _, t := range m.EventTriggers {
		add("event_trigger", t.Name, func(ctx context.Context) (*resource.Outcome, error) {
			return mg.Events.DefineEventTrigger(ctx, t)
		})
	}
	for _, c := range m.CronTriggers {
		add("cron_trigger", c.Name, func(ctx context.Context) (*resource.Outcome, error) {
			return mg.Events.DefineCronTrigger(ctx, c)
		})
	}
	return tasks
}

// definePermission applies one role of p so each role is healed and
// reported on its own.
func definePermission(pm *permission.Manager, p permission.Permission, role string) consistency.Op {
	p.Roles = nil
	if role != "" {
		p.Roles = []string{role}
	}
	return func(ctx context.Context) (*resource.Outcome, error) {
		outs, err := pm.DefinePermission(ctx, p)
		if err != nil {
			return nil, err
		}
		return outs[0], nil
	}
}

// RollbackResult is the outcome of restoring the last snapshot.
type RollbackResult = rollback.Result

// Rollback restores the metadata snapshot recorded by the last apply.
// Database objects are not touched.
func (e *Engine) Rollback(ctx context.Context) (*RollbackResult, error) {
	st, err := e.LoadState()
	if err != nil {
		return nil, err
	}
	result, err := rollback.New(e.Consistency, st).Execute(ctx, rollback.Options{})
	if err != nil {
		return result, err
	}
	for _, msg := range result.Errors {
		e.Logger.Warn("rollback step failed", "error", msg)
	}
	if err := e.SaveState(st); err != nil {
		return result, err
	}
	e.Logger.Info("rollback finished", "snapshot", result.Snapshot, "restored", result.Restored)
	return result, nil
}
