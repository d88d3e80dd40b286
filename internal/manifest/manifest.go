// Package manifest loads the desired-state document that apply converges
// toward.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/metasync/metasync/internal/computed"
	"github.com/metasync/metasync/internal/events"
	"github.com/metasync/metasync/internal/permission"
	"github.com/metasync/metasync/internal/relationship"
	"github.com/metasync/metasync/internal/schema"
	"github.com/metasync/metasync/internal/source"
	"github.com/metasync/metasync/internal/tracking"
)

const CurrentVersion = 1

// Tracking lists what to expose through the metadata layer.
type Tracking struct {
	Tables    []tracking.Table    `yaml:"tables,omitempty"`
	Functions []tracking.Function `yaml:"functions,omitempty"`
}

// Manifest is the full desired state of one source.
type Manifest struct {
	Version int `yaml:"version"`
	// DefaultSchema fills every empty schema field; default public.
	DefaultSchema string `yaml:"default_schema,omitempty"`

	Source         *source.Spec                `yaml:"source,omitempty"`
	Schemas        []string                    `yaml:"schemas,omitempty"`
	Tables         []schema.Table              `yaml:"tables,omitempty"`
	Columns        []schema.Column             `yaml:"columns,omitempty"`
	Functions      []schema.Function           `yaml:"functions,omitempty"`
	Views          []schema.View               `yaml:"views,omitempty"`
	ForeignKeys    []schema.ForeignKey         `yaml:"foreign_keys,omitempty"`
	Triggers       []schema.Trigger            `yaml:"triggers,omitempty"`
	Tracking       Tracking                    `yaml:"tracking,omitempty"`
	Relationships  []relationship.Relationship `yaml:"relationships,omitempty"`
	Permissions    []permission.Permission     `yaml:"permissions,omitempty"`
	ComputedFields []computed.Field            `yaml:"computed_fields,omitempty"`
	EventTriggers  []events.EventTrigger       `yaml:"event_triggers,omitempty"`
	CronTriggers   []events.CronTrigger        `yaml:"cron_triggers,omitempty"`
}

// Load reads, defaults and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes a manifest. Unknown keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported manifest version %d (expected %d)", m.Version, CurrentVersion)
	}
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) applyDefaults() {
	if m.DefaultSchema == "" {
		m.DefaultSchema = "public"
	}
	def := func(s *string) {
		if *s == "" {
			*s = m.DefaultSchema
		}
	}
	for i := range m.Tables {
		def(&m.Tables[i].Schema)
	}
	for i := range m.Columns {
		def(&m.Columns[i].Schema)
	}
	for i := range m.Functions {
		def(&m.Functions[i].Schema)
	}
	for i := range m.Views {
		def(&m.Views[i].Schema)
	}
	for i := range m.ForeignKeys {
		def(&m.ForeignKeys[i].From.Schema)
		def(&m.ForeignKeys[i].To.Schema)
	}
	for i := range m.Triggers {
		def(&m.Triggers[i].Schema)
	}
	for i := range m.Tracking.Tables {
		def(&m.Tracking.Tables[i].Schema)
	}
	for i := range m.Tracking.Functions {
		def(&m.Tracking.Functions[i].Schema)
	}
	for i := range m.Relationships {
		def(&m.Relationships[i].Schema)
	}
	for i := range m.Permissions {
		def(&m.Permissions[i].Schema)
	}
	for i := range m.ComputedFields {
		def(&m.ComputedFields[i].Schema)
	}
	for i := range m.EventTriggers {
		def(&m.EventTriggers[i].Schema)
	}
}

// uniq reports keys seen more than once.
type uniq struct {
	kind string
	seen map[string]bool
	errs *[]error
}

func (u *uniq) add(parts ...string) {
	key := strings.Join(parts, ".")
	if u.seen == nil {
		u.seen = make(map[string]bool)
	}
	if u.seen[key] {
		*u.errs = append(*u.errs, fmt.Errorf("duplicate %s %s", u.kind, key))
	}
	u.seen[key] = true
}

// Validate checks names and uniqueness. Kind-specific rules such as
// column types or cron schedules are checked again when each object is
// applied.
func (m *Manifest) Validate() error {
	var errs []error
	required := func(kind, name string, fields ...string) {
		for _, f := range fields {
			if f == "" {
				errs = append(errs, fmt.Errorf("%s %q: missing required field", kind, name))
				return
			}
		}
	}

	schemas := uniq{kind: "schema", errs: &errs}
	for _, s := range m.Schemas {
		required("schema", s, s)
		schemas.add(s)
	}
	tables := uniq{kind: "table", errs: &errs}
	for _, t := range m.Tables {
		required("table", t.Name, t.Name)
		tables.add(t.Schema, t.Name)
	}
	columns := uniq{kind: "column", errs: &errs}
	for _, c := range m.Columns {
		required("column", c.Name, c.Table, c.Name, c.Type)
		columns.add(c.Schema, c.Table, c.Name)
	}
	functions := uniq{kind: "function", errs: &errs}
	for _, f := range m.Functions {
		required("function", f.Name, f.Name, f.Returns, f.Body)
		functions.add(f.Schema, f.Name, f.Arguments)
	}
	views := uniq{kind: "view", errs: &errs}
	for _, v := range m.Views {
		required("view", v.Name, v.Name, v.Definition)
		views.add(v.Schema, v.Name)
	}
	fks := uniq{kind: "foreign key", errs: &errs}
	for _, fk := range m.ForeignKeys {
		required("foreign key", fk.Name, fk.From.Table, fk.From.Column, fk.To.Table, fk.To.Column)
		fks.add(fk.From.Schema, fk.From.Table, fk.ConstraintName())
	}
	triggers := uniq{kind: "trigger", errs: &errs}
	for _, t := range m.Triggers {
		required("trigger", t.Name, t.Table, t.Name, t.Function)
		triggers.add(t.Schema, t.Table, t.Name)
	}
	tracked := uniq{kind: "tracked table", errs: &errs}
	for _, t := range m.Tracking.Tables {
		required("tracked table", t.Name, t.Name)
		tracked.add(t.Schema, t.Name)
	}
	trackedFns := uniq{kind: "tracked function", errs: &errs}
	for _, f := range m.Tracking.Functions {
		required("tracked function", f.Name, f.Name)
		trackedFns.add(f.Schema, f.Name)
	}
	rels := uniq{kind: "relationship", errs: &errs}
	for _, r := range m.Relationships {
		required("relationship", r.Name, r.Table, r.Name)
		rels.add(r.Schema, r.Table, r.Name)
	}
	perms := uniq{kind: "permission", errs: &errs}
	for _, p := range m.Permissions {
		required("permission", string(p.Operation), p.Table, string(p.Operation))
		for _, role := range p.Roles {
			perms.add(p.Schema, p.Table, string(p.Operation), role)
		}
	}
	fields := uniq{kind: "computed field", errs: &errs}
	for _, f := range m.ComputedFields {
		required("computed field", f.Name, f.Table, f.Name)
		fields.add(f.Schema, f.Table, f.Name)
	}
	ets := uniq{kind: "event trigger", errs: &errs}
	for _, e := range m.EventTriggers {
		required("event trigger", e.Name, e.Table, e.Name)
		if len(e.Name) > events.MaxNameLength {
			errs = append(errs, fmt.Errorf("event trigger %q: longer than %d characters, try %q",
				e.Name, events.MaxNameLength, events.TruncateName(e.Name)))
		}
		ets.add(e.Name)
	}
	crons := uniq{kind: "cron trigger", errs: &errs}
	for _, c := range m.CronTriggers {
		required("cron trigger", c.Name, c.Name, c.Schedule)
		crons.add(c.Name)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid manifest: %w", errors.Join(errs...))
	}
	return nil
}

// Count returns the number of objects the manifest declares.
func (m *Manifest) Count() int {
	n := len(m.Schemas) + len(m.Tables) + len(m.Columns) + len(m.Functions) + len(m.Views) +
		len(m.ForeignKeys) + len(m.Triggers) + len(m.Tracking.Tables) + len(m.Tracking.Functions) +
		len(m.Relationships) + len(m.ComputedFields) + len(m.EventTriggers) + len(m.CronTriggers)
	for _, p := range m.Permissions {
		n += len(p.Roles)
	}
	if m.Source != nil {
		n++
	}
	return n
}
