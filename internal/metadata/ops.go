package metadata

// Operations that are not scoped to a data source.
const (
	OpBulk                     = "bulk"
	OpExportMetadata           = "export_metadata"
	OpReplaceMetadata          = "replace_metadata"
	OpClearMetadata            = "clear_metadata"
	OpReloadMetadata           = "reload_metadata"
	OpGetInconsistentMetadata  = "get_inconsistent_metadata"
	OpDropInconsistentMetadata = "drop_inconsistent_metadata"
	OpCreateCronTrigger        = "create_cron_trigger"
	OpDeleteCronTrigger        = "delete_cron_trigger"
)

// Source-scoped operations. The wire name carries the source kind prefix,
// see Op.
const (
	TrackTable               = "track_table"
	UntrackTable             = "untrack_table"
	SetTableCustomization    = "set_table_customization"
	TrackFunction            = "track_function"
	UntrackFunction          = "untrack_function"
	CreateObjectRelationship = "create_object_relationship"
	CreateArrayRelationship  = "create_array_relationship"
	DropRelationship         = "drop_relationship"
	CreateEventTrigger       = "create_event_trigger"
	DeleteEventTrigger       = "delete_event_trigger"
	AddComputedField         = "add_computed_field"
	DropComputedField        = "drop_computed_field"
	AddSource                = "add_source"
	DropSource               = "drop_source"
)

// DefaultKind is the source kind assumed when none is configured.
const DefaultKind = "postgres"

var kindPrefixes = map[string]string{
	"postgres":  "pg",
	"pg":        "pg",
	"citus":     "citus",
	"cockroach": "cockroach",
	"mssql":     "mssql",
	"bigquery":  "bigquery",
	"mysql":     "mysql",
	"snowflake": "snowflake",
	"athena":    "athena",
	"alloy":     "pg",
	"yugabyte":  "pg",
}

// Op returns the wire name of a source-scoped operation for a source kind,
// e.g. Op("postgres", TrackTable) == "pg_track_table".
func Op(kind, op string) string {
	if kind == "" {
		kind = DefaultKind
	}
	prefix, ok := kindPrefixes[kind]
	if !ok {
		prefix = kind
	}
	return prefix + "_" + op
}

// PermissionOp returns the wire name of a permission create/drop
// operation, e.g. PermissionOp("postgres", "create", "select").
func PermissionOp(kind, action, operation string) string {
	return Op(kind, action+"_"+operation+"_permission")
}

// IsPostgresFamily reports whether a source kind speaks the postgres wire
// protocol and accepts postgres connection strings.
func IsPostgresFamily(kind string) bool {
	switch kind {
	case "", "postgres", "pg", "citus", "cockroach", "alloy", "yugabyte":
		return true
	}
	return false
}

// Scope is the data source a manager issues source-scoped operations on.
type Scope struct {
	Source string
	Kind   string
}

// Name returns the source name, "default" when unset.
func (s Scope) Name() string {
	if s.Source == "" {
		return "default"
	}
	return s.Source
}

// Op returns the wire name of op for the scope's source kind.
func (s Scope) Op(op string) string {
	return Op(s.Kind, op)
}

// In returns the scope's source from an exported document, or nil.
func (s Scope) In(doc *Document) *SourceMetadata {
	return doc.Source(s.Name())
}
