// Package permission manages per-role select, insert, update and delete
// permissions on tracked tables.
package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/metasync/metasync/internal/metadata"
	"github.com/metasync/metasync/internal/resource"
)

// Operation is the row operation a permission grants.
type Operation string

const (
	Select Operation = "select"
	Insert Operation = "insert"
	Update Operation = "update"
	Delete Operation = "delete"
)

func (o Operation) valid() bool {
	switch o {
	case Select, Insert, Update, Delete:
		return true
	}
	return false
}

// Columns is either every column or an explicit list.
type Columns struct {
	All  bool
	List []string
}

// AllColumns exposes every column of the table.
var AllColumns = Columns{All: true}

// ColumnList exposes exactly the named columns.
func ColumnList(cols ...string) Columns {
	return Columns{List: cols}
}

func (c Columns) MarshalJSON() ([]byte, error) {
	if c.All {
		return json.Marshal("*")
	}
	if c.List == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.List)
}

// UnmarshalYAML accepts true, "*" or a list of column names.
func (c *Columns) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		switch node.Value {
		case "true", "*":
			*c = AllColumns
			return nil
		case "false":
			*c = Columns{}
			return nil
		}
		return fmt.Errorf("line %d: columns must be true, \"*\" or a list", node.Line)
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*c = Columns{List: list}
	return nil
}

// Permission grants an operation on a table to one or more roles. Filter
// and Check are boolean predicate trees passed to the engine verbatim.
type Permission struct {
	Schema    string         `yaml:"schema"`
	Table     string         `yaml:"table"`
	Operation Operation      `yaml:"operation"`
	Roles     []string       `yaml:"roles"`
	Filter    map[string]any `yaml:"filter,omitempty"`
	Check     map[string]any `yaml:"check,omitempty"`
	Columns   Columns        `yaml:"columns"`
	Set       map[string]any `yaml:"set,omitempty"`
	Limit     int            `yaml:"limit,omitempty"`
	Aggregate bool           `yaml:"aggregate,omitempty"`
	Comment   string         `yaml:"comment,omitempty"`
}

func (p Permission) validate() error {
	if !p.Operation.valid() {
		return fmt.Errorf("permission on %s.%s: invalid operation %q", p.Schema, p.Table, p.Operation)
	}
	if p.Aggregate && p.Operation != Select {
		return fmt.Errorf("permission on %s.%s: aggregate is only valid for select", p.Schema, p.Table)
	}
	if p.Limit < 0 {
		return fmt.Errorf("permission on %s.%s: negative limit", p.Schema, p.Table)
	}
	return nil
}

// body renders the operation-specific permission object.
func (p Permission) body() map[string]any {
	filter := p.Filter
	if filter == nil {
		filter = map[string]any{}
	}

	body := map[string]any{}
	switch p.Operation {
	case Select:
		body["columns"] = p.Columns
		body["filter"] = filter
		if p.Limit > 0 {
			body["limit"] = p.Limit
		}
		if p.Aggregate {
			body["allow_aggregations"] = true
		}
	case Insert:
		check := p.Check
		if check == nil {
			check = map[string]any{}
		}
		body["check"] = check
		body["columns"] = p.Columns
		if p.Set != nil {
			body["set"] = p.Set
		}
	case Update:
		body["columns"] = p.Columns
		body["filter"] = filter
		if p.Check != nil {
			body["check"] = p.Check
		}
		if p.Set != nil {
			body["set"] = p.Set
		}
	case Delete:
		body["filter"] = filter
	}
	return body
}

// Manager manages permissions on one source.
type Manager struct {
	drv   resource.Driver
	md    metadata.Runner
	scope metadata.Scope
}

func NewManager(md metadata.Runner, scope metadata.Scope, logger *slog.Logger) *Manager {
	return &Manager{drv: resource.NewDriver(logger), md: md, scope: scope}
}

type createArgs struct {
	Source     string                 `json:"source"`
	Table      metadata.QualifiedName `json:"table"`
	Role       string                 `json:"role"`
	Permission map[string]any         `json:"permission"`
	Comment    string                 `json:"comment,omitempty"`
}

type dropArgs struct {
	Source string                 `json:"source"`
	Table  metadata.QualifiedName `json:"table"`
	Role   string                 `json:"role"`
}

func (m *Manager) object(p Permission, role string) *resource.MetadataObject {
	table := metadata.QualifiedName{Schema: p.Schema, Name: p.Table}
	op := string(p.Operation)
	drop := metadata.Request{
		Type: metadata.PermissionOp(m.scope.Kind, "drop", op),
		Args: dropArgs{Source: m.scope.Name(), Table: table, Role: role},
	}
	return &resource.MetadataObject{
		Runner: m.md,
		Name:   fmt.Sprintf("%s permission for %s on %s", op, role, table),
		Present: func(doc *metadata.Document) bool {
			t := m.scope.In(doc).Table(p.Schema, p.Table)
			return t != nil && t.Permission(op, role) != nil
		},
		CreateReq: metadata.Request{
			Type: metadata.PermissionOp(m.scope.Kind, "create", op),
			Args: createArgs{Source: m.scope.Name(), Table: table, Role: role, Permission: p.body(), Comment: p.Comment},
		},
		DropReq: func(bool) metadata.Request { return drop },
	}
}

// fanOut runs fn once per role concurrently. Outcomes are returned in role
// order; the first error cancels the remaining calls.
func (m *Manager) fanOut(ctx context.Context, p Permission, fn func(context.Context, resource.Resource) (*resource.Outcome, error)) ([]*resource.Outcome, error) {
	if err := p.validate(); err != nil {
		return invalidForRoles(p.Roles, err), nil
	}
	if len(p.Roles) == 0 {
		return []*resource.Outcome{resource.Invalid("permission on %s.%s: no roles", p.Schema, p.Table)}, nil
	}

	outcomes := make([]*resource.Outcome, len(p.Roles))
	g, gctx := errgroup.WithContext(ctx)
	for i, role := range p.Roles {
		g.Go(func() error {
			out, err := fn(gctx, m.object(p, role))
			if err != nil {
				return fmt.Errorf("role %s: %w", role, err)
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func invalidForRoles(roles []string, err error) []*resource.Outcome {
	n := max(len(roles), 1)
	out := make([]*resource.Outcome, n)
	for i := range out {
		out[i] = resource.Invalid("%v", err)
	}
	return out
}

// CreatePermission creates the permission for every role; a role that
// already holds one yields an *resource.AlreadyExistsError.
func (m *Manager) CreatePermission(ctx context.Context, p Permission) ([]*resource.Outcome, error) {
	return m.fanOut(ctx, p, m.drv.Create)
}

// DefinePermission creates or atomically replaces the permission of every
// role. The result holds one outcome per role, in role order.
func (m *Manager) DefinePermission(ctx context.Context, p Permission) ([]*resource.Outcome, error) {
	return m.fanOut(ctx, p, m.drv.Define)
}

// DeletePermission drops one role's permission; an absent permission is an
// ignored success.
func (m *Manager) DeletePermission(ctx context.Context, schema, table string, op Operation, role string) (*resource.Outcome, error) {
	if !op.valid() {
		return resource.Invalid("invalid operation %q", op), nil
	}
	p := Permission{Schema: schema, Table: table, Operation: op}
	return m.drv.Delete(ctx, m.object(p, role))
}
