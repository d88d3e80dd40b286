// Package events manages webhook registrations: event triggers fired on row
// mutations and cron triggers fired on a schedule.
package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/metasync/metasync/internal/metadata"
	"github.com/metasync/metasync/internal/resource"
)

// MaxNameLength is the longest event trigger name the engine accepts.
const MaxNameLength = 42

// Header is sent with every delivery; exactly one of Value and ValueFromEnv
// is set.
type Header struct {
	Name         string `json:"name" yaml:"name"`
	Value        string `json:"value,omitempty" yaml:"value,omitempty"`
	ValueFromEnv string `json:"value_from_env,omitempty" yaml:"value_from_env,omitempty"`
}

// RetryConf controls redelivery of failed webhook calls.
type RetryConf struct {
	NumRetries  int `json:"num_retries" yaml:"num_retries"`
	IntervalSec int `json:"interval_sec" yaml:"interval_sec"`
	TimeoutSec  int `json:"timeout_sec" yaml:"timeout_sec"`
}

// EventTrigger is a webhook fired on inserts, updates or deletes of a table.
type EventTrigger struct {
	Name           string     `yaml:"name"`
	Schema         string     `yaml:"schema"`
	Table          string     `yaml:"table"`
	Webhook        string     `yaml:"webhook,omitempty"`
	WebhookFromEnv string     `yaml:"webhook_from_env,omitempty"`
	Insert         bool       `yaml:"insert,omitempty"`
	Update         bool       `yaml:"update,omitempty"`
	UpdateColumns  []string   `yaml:"update_columns,omitempty"` // default: every column
	Delete         bool       `yaml:"delete,omitempty"`
	EnableManual   bool       `yaml:"enable_manual,omitempty"`
	Headers        []Header   `yaml:"headers,omitempty"`
	Retry          *RetryConf `yaml:"retry,omitempty"`
}

func validateHeaders(owner string, headers []Header) error {
	for _, h := range headers {
		if h.Name == "" {
			return fmt.Errorf("%s: header without name", owner)
		}
		if (h.Value == "") == (h.ValueFromEnv == "") {
			return fmt.Errorf("%s: header %s needs exactly one of value and value_from_env", owner, h.Name)
		}
	}
	return nil
}

func (e EventTrigger) validate() error {
	if e.Name == "" {
		return fmt.Errorf("event trigger without name")
	}
	if len(e.Name) > MaxNameLength {
		return fmt.Errorf("event trigger name %q is longer than %d characters", e.Name, MaxNameLength)
	}
	if (e.Webhook == "") == (e.WebhookFromEnv == "") {
		return fmt.Errorf("event trigger %s: needs exactly one of webhook and webhook_from_env", e.Name)
	}
	if !e.Insert && !e.Update && !e.Delete && !e.EnableManual {
		return fmt.Errorf("event trigger %s: no operations enabled", e.Name)
	}
	return validateHeaders("event trigger "+e.Name, e.Headers)
}

// TruncateName shortens name to MaxNameLength. Truncated names end in a
// hash of the full name so distinct long names stay distinct.
func TruncateName(name string) string {
	if len(name) <= MaxNameLength {
		return name
	}
	sum := uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()[:8]
	return name[:MaxNameLength-len(sum)-1] + "_" + sum
}

type opSpec struct {
	Columns any `json:"columns"`
}

type createArgs struct {
	Name           string                 `json:"name"`
	Source         string                 `json:"source"`
	Table          metadata.QualifiedName `json:"table"`
	Webhook        string                 `json:"webhook,omitempty"`
	WebhookFromEnv string                 `json:"webhook_from_env,omitempty"`
	Insert         *opSpec                `json:"insert,omitempty"`
	Update         *opSpec                `json:"update,omitempty"`
	Delete         *opSpec                `json:"delete,omitempty"`
	EnableManual   bool                   `json:"enable_manual"`
	Headers        []Header               `json:"headers,omitempty"`
	RetryConf      *RetryConf             `json:"retry_conf,omitempty"`
	Replace        bool                   `json:"replace,omitempty"`
}

type deleteArgs struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

func (e EventTrigger) args(source string, replace bool) createArgs {
	all := &opSpec{Columns: "*"}
	a := createArgs{
		Name:           e.Name,
		Source:         source,
		Table:          metadata.QualifiedName{Schema: e.Schema, Name: e.Table},
		Webhook:        e.Webhook,
		WebhookFromEnv: e.WebhookFromEnv,
		EnableManual:   e.EnableManual,
		Headers:        e.Headers,
		RetryConf:      e.Retry,
		Replace:        replace,
	}
	if e.Insert {
		a.Insert = all
	}
	if e.Update {
		a.Update = all
		if len(e.UpdateColumns) > 0 {
			a.Update = &opSpec{Columns: e.UpdateColumns}
		}
	}
	if e.Delete {
		a.Delete = all
	}
	return a
}

// Manager manages event and cron triggers.
type Manager struct {
	drv   resource.Driver
	md    metadata.Runner
	scope metadata.Scope
}

func NewManager(md metadata.Runner, scope metadata.Scope, logger *slog.Logger) *Manager {
	return &Manager{drv: resource.NewDriver(logger), md: md, scope: scope}
}

func (m *Manager) eventTrigger(e EventTrigger) *resource.MetadataObject {
	// owner is the source the trigger was found on; drops go there.
	owner := m.scope
	return &resource.MetadataObject{
		Runner: m.md,
		Name:   fmt.Sprintf("event trigger %s", e.Name),
		Present: func(doc *metadata.Document) bool {
			src, et := doc.EventTrigger(e.Name)
			if et == nil {
				return false
			}
			owner = metadata.Scope{Source: src.Name, Kind: src.Kind}
			return true
		},
		CreateReq: metadata.Request{
			Type: m.scope.Op(metadata.CreateEventTrigger),
			Args: e.args(m.scope.Name(), false),
		},
		DropReq: func(bool) metadata.Request {
			return metadata.Request{
				Type: owner.Op(metadata.DeleteEventTrigger),
				Args: deleteArgs{Name: e.Name, Source: owner.Name()},
			}
		},
		ReplaceReqs: []metadata.Request{{
			Type: m.scope.Op(metadata.CreateEventTrigger),
			Args: e.args(m.scope.Name(), true),
		}},
	}
}

// CreateEventTrigger registers a trigger; it fails if the name is taken.
// Names over MaxNameLength are rejected without a remote call.
func (m *Manager) CreateEventTrigger(ctx context.Context, e EventTrigger) (*resource.Outcome, error) {
	if err := e.validate(); err != nil {
		return resource.Invalid("%v", err), nil
	}
	return m.drv.Create(ctx, m.eventTrigger(e))
}

// DefineEventTrigger registers a trigger or swaps the webhook, operations
// and headers of an existing one in place.
func (m *Manager) DefineEventTrigger(ctx context.Context, e EventTrigger) (*resource.Outcome, error) {
	if err := e.validate(); err != nil {
		return resource.Invalid("%v", err), nil
	}
	return m.drv.Define(ctx, m.eventTrigger(e))
}

// DeleteEventTrigger removes a trigger from whichever source it is
// registered on.
func (m *Manager) DeleteEventTrigger(ctx context.Context, name string) (*resource.Outcome, error) {
	return m.drv.Delete(ctx, m.eventTrigger(EventTrigger{Name: name}))
}
