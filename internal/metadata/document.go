package metadata

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Document is an exported metadata document. The typed fields are a
// read-only view used for lookups; the raw bytes are kept so a document can
// be replayed through replace_metadata without losing anything the view does
// not model.
type Document struct {
	Version      int              `json:"version"`
	Sources      []SourceMetadata `json:"sources"`
	CronTriggers []CronTrigger    `json:"cron_triggers,omitempty"`

	raw json.RawMessage
}

type documentView Document

func (d *Document) UnmarshalJSON(data []byte) error {
	var v documentView
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*d = Document(v)
	d.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	if len(d.raw) > 0 {
		return d.raw, nil
	}
	return json.Marshal(documentView(d))
}

// Raw returns the document exactly as exported.
func (d *Document) Raw() json.RawMessage {
	if len(d.raw) == 0 {
		data, _ := d.MarshalJSON()
		return data
	}
	return d.raw
}

// ParseDocument parses an exported document.
func ParseDocument(data []byte) (*Document, error) {
	d := &Document{}
	if err := json.Unmarshal(bytes.TrimSpace(data), d); err != nil {
		return nil, err
	}
	return d, nil
}

// Source returns the named source, or nil.
func (d *Document) Source(name string) *SourceMetadata {
	if d == nil {
		return nil
	}
	for i := range d.Sources {
		if d.Sources[i].Name == name {
			return &d.Sources[i]
		}
	}
	return nil
}

// CronTrigger returns the named cron trigger, or nil.
func (d *Document) CronTrigger(name string) *CronTrigger {
	if d == nil {
		return nil
	}
	for i := range d.CronTriggers {
		if d.CronTriggers[i].Name == name {
			return &d.CronTriggers[i]
		}
	}
	return nil
}

// EventTrigger searches every source for the named trigger. Trigger names
// are unique across sources.
func (d *Document) EventTrigger(name string) (*SourceMetadata, *EventTrigger) {
	if d == nil {
		return nil, nil
	}
	for i := range d.Sources {
		if _, et := d.Sources[i].EventTrigger(name); et != nil {
			return &d.Sources[i], et
		}
	}
	return nil, nil
}

// SourceMetadata is one data source and the objects tracked on it.
type SourceMetadata struct {
	Name          string             `json:"name"`
	Kind          string             `json:"kind"`
	Tables        []TableMetadata    `json:"tables"`
	Functions     []FunctionMetadata `json:"functions,omitempty"`
	Configuration json.RawMessage    `json:"configuration,omitempty"`
}

// DatabaseURL extracts configuration.connection_info.database_url when it
// is a literal string.
func (s *SourceMetadata) DatabaseURL() string {
	var cfg struct {
		ConnectionInfo struct {
			DatabaseURL json.RawMessage `json:"database_url"`
		} `json:"connection_info"`
	}
	if err := json.Unmarshal(s.Configuration, &cfg); err != nil {
		return ""
	}
	var url string
	if err := json.Unmarshal(cfg.ConnectionInfo.DatabaseURL, &url); err != nil {
		return ""
	}
	return url
}

// Table returns the tracked table, or nil.
func (s *SourceMetadata) Table(schema, name string) *TableMetadata {
	if s == nil {
		return nil
	}
	for i := range s.Tables {
		if s.Tables[i].Table.Schema == schema && s.Tables[i].Table.Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// Function returns the tracked function, or nil.
func (s *SourceMetadata) Function(schema, name string) *FunctionMetadata {
	if s == nil {
		return nil
	}
	for i := range s.Functions {
		if s.Functions[i].Function.Schema == schema && s.Functions[i].Function.Name == name {
			return &s.Functions[i]
		}
	}
	return nil
}

// EventTrigger searches every table of the source for the named trigger.
func (s *SourceMetadata) EventTrigger(name string) (*TableMetadata, *EventTrigger) {
	if s == nil {
		return nil, nil
	}
	for i := range s.Tables {
		if et := s.Tables[i].EventTrigger(name); et != nil {
			return &s.Tables[i], et
		}
	}
	return nil, nil
}

// QualifiedName is a schema-qualified object name. The engine also accepts
// a bare string, meaning the public schema.
type QualifiedName struct {
	Schema string `json:"schema" yaml:"schema"`
	Name   string `json:"name" yaml:"name"`
}

func (q *QualifiedName) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		q.Schema, q.Name = "public", bare
		return nil
	}
	type plain QualifiedName
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*q = QualifiedName(p)
	if q.Schema == "" {
		q.Schema = "public"
	}
	return nil
}

// UnmarshalYAML accepts the same two forms as UnmarshalJSON.
func (q *QualifiedName) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		q.Schema = "public"
		return node.Decode(&q.Name)
	}
	var p struct {
		Schema string `yaml:"schema"`
		Name   string `yaml:"name"`
	}
	if err := node.Decode(&p); err != nil {
		return err
	}
	q.Schema, q.Name = p.Schema, p.Name
	if q.Schema == "" {
		q.Schema = "public"
	}
	return nil
}

func (q QualifiedName) String() string {
	return q.Schema + "." + q.Name
}

// TableMetadata is a tracked table with everything attached to it.
type TableMetadata struct {
	Table               QualifiedName   `json:"table"`
	ObjectRelationships []Relationship  `json:"object_relationships,omitempty"`
	ArrayRelationships  []Relationship  `json:"array_relationships,omitempty"`
	ComputedFields      []ComputedField `json:"computed_fields,omitempty"`
	SelectPermissions   []Permission    `json:"select_permissions,omitempty"`
	InsertPermissions   []Permission    `json:"insert_permissions,omitempty"`
	UpdatePermissions   []Permission    `json:"update_permissions,omitempty"`
	DeletePermissions   []Permission    `json:"delete_permissions,omitempty"`
	EventTriggers       []EventTrigger  `json:"event_triggers,omitempty"`
	Configuration       json.RawMessage `json:"configuration,omitempty"`
}

// Relationship returns the named relationship and its type ("object" or
// "array"), or nil.
func (t *TableMetadata) Relationship(name string) (*Relationship, string) {
	for i := range t.ObjectRelationships {
		if t.ObjectRelationships[i].Name == name {
			return &t.ObjectRelationships[i], "object"
		}
	}
	for i := range t.ArrayRelationships {
		if t.ArrayRelationships[i].Name == name {
			return &t.ArrayRelationships[i], "array"
		}
	}
	return nil, ""
}

// Permissions returns the permissions for one operation
// (select, insert, update, delete).
func (t *TableMetadata) Permissions(operation string) []Permission {
	switch operation {
	case "select":
		return t.SelectPermissions
	case "insert":
		return t.InsertPermissions
	case "update":
		return t.UpdatePermissions
	case "delete":
		return t.DeletePermissions
	}
	return nil
}

// Permission returns the permission of role for operation, or nil.
func (t *TableMetadata) Permission(operation, role string) *Permission {
	perms := t.Permissions(operation)
	for i := range perms {
		if perms[i].Role == role {
			return &perms[i]
		}
	}
	return nil
}

// ComputedField returns the named computed field, or nil.
func (t *TableMetadata) ComputedField(name string) *ComputedField {
	for i := range t.ComputedFields {
		if t.ComputedFields[i].Name == name {
			return &t.ComputedFields[i]
		}
	}
	return nil
}

// EventTrigger returns the named event trigger, or nil.
func (t *TableMetadata) EventTrigger(name string) *EventTrigger {
	for i := range t.EventTriggers {
		if t.EventTriggers[i].Name == name {
			return &t.EventTriggers[i]
		}
	}
	return nil
}

// Relationship is an object or array relationship; Using is kept raw.
type Relationship struct {
	Name    string          `json:"name"`
	Using   json.RawMessage `json:"using"`
	Comment string          `json:"comment,omitempty"`
}

// Permission is one role's permission on one operation.
type Permission struct {
	Role       string          `json:"role"`
	Permission json.RawMessage `json:"permission"`
	Comment    string          `json:"comment,omitempty"`
}

// ComputedField is a function-backed virtual field.
type ComputedField struct {
	Name       string          `json:"name"`
	Definition json.RawMessage `json:"definition"`
	Comment    string          `json:"comment,omitempty"`
}

// EventTrigger is a webhook registration on row mutations.
type EventTrigger struct {
	Name           string          `json:"name"`
	Definition     json.RawMessage `json:"definition"`
	Webhook        string          `json:"webhook,omitempty"`
	WebhookFromEnv string          `json:"webhook_from_env,omitempty"`
	Headers        json.RawMessage `json:"headers,omitempty"`
	RetryConf      json.RawMessage `json:"retry_conf,omitempty"`
}

// FunctionMetadata is a tracked SQL function.
type FunctionMetadata struct {
	Function      QualifiedName   `json:"function"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// CronTrigger is a scheduled webhook.
type CronTrigger struct {
	Name     string          `json:"name"`
	Webhook  string          `json:"webhook"`
	Schedule string          `json:"schedule"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Comment  string          `json:"comment,omitempty"`
}
