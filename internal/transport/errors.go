package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
)

// Kind identifies the class of a transport-level failure.
type Kind string

const (
	KindNetwork     Kind = "network"
	KindTimeout     Kind = "timeout"
	KindAuth        Kind = "auth"
	KindUnavailable Kind = "unavailable"
	KindProtocol    Kind = "protocol"
)

// Error is a transport-level failure. It is the only failure the engine
// returns as an error; everything the remote service rejects on logical
// grounds comes back as a ServiceError value instead.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s failure", e.Op, e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether reissuing the same request may succeed.
func (e *Error) Temporary() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindUnavailable:
		return true
	}
	return false
}

// ServiceError is the logical failure envelope shared by the SQL and
// metadata endpoints: {code, error, internal, path}.
type ServiceError struct {
	Code     string          `json:"code" yaml:"code"`
	Message  string          `json:"error" yaml:"error"`
	Internal json.RawMessage `json:"internal,omitempty" yaml:"-"`
	Path     string          `json:"path,omitempty" yaml:"path,omitempty"`
}

func (e *ServiceError) String() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if pg := e.postgres(); pg != nil && pg.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, pg.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Service error codes the engine reacts to.
const (
	CodeAlreadyExists        = "already-exists"
	CodeAlreadyTracked       = "already-tracked"
	CodeAlreadyUntracked     = "already-untracked"
	CodeNotExists            = "not-exists"
	CodeNotFound             = "not-found"
	CodeAccessDenied         = "access-denied"
	CodeInvalidHeaders       = "invalid-headers"
	CodeInvalidConfiguration = "invalid-configuration"
	CodeInconsistent         = "inconsistent-metadata"
	CodeUnexpected           = "unexpected"
	CodePostgresError        = "postgres-error"
	CodeValidationFailed     = "validation-failed"
	CodeConcurrentUpdate     = "concurrent-update"
)

// postgresDetail is the database error nested under internal.error for
// run_sql failures.
type postgresDetail struct {
	StatusCode  string `json:"status_code"`
	Message     string `json:"message"`
	Description string `json:"description"`
	Hint        string `json:"hint"`
}

func (e *ServiceError) postgres() *postgresDetail {
	if e == nil || len(e.Internal) == 0 {
		return nil
	}
	var wrapper struct {
		Error *postgresDetail `json:"error"`
	}
	if err := json.Unmarshal(e.Internal, &wrapper); err != nil {
		return nil
	}
	return wrapper.Error
}

// PostgresCode returns the SQLSTATE of a run_sql failure, or "".
func (e *ServiceError) PostgresCode() string {
	if pg := e.postgres(); pg != nil {
		return pg.StatusCode
	}
	return ""
}

func (e *ServiceError) text() string {
	s := strings.ToLower(e.Message)
	if pg := e.postgres(); pg != nil {
		s += " " + strings.ToLower(pg.Message)
	}
	return s
}

// AlreadyExists reports whether the service rejected a create because the
// target object is already present.
func (e *ServiceError) AlreadyExists() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case CodeAlreadyExists, CodeAlreadyTracked:
		return true
	}
	switch e.PostgresCode() {
	case pgerrcode.DuplicateTable, pgerrcode.DuplicateSchema, pgerrcode.DuplicateColumn,
		pgerrcode.DuplicateObject, pgerrcode.DuplicateFunction:
		return true
	}
	return strings.Contains(e.text(), "already exists")
}

// NotFound reports whether the service rejected an operation because the
// target object is absent.
func (e *ServiceError) NotFound() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case CodeNotExists, CodeNotFound, CodeAlreadyUntracked:
		return true
	}
	if isUndefinedObject(e.PostgresCode()) {
		return true
	}
	return strings.Contains(e.text(), "does not exist")
}

// Stale reports whether the failure may come from metadata that references
// database objects changed outside the engine.
func (e *ServiceError) Stale() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case CodeNotExists, CodeInvalidConfiguration, CodeInconsistent:
		return true
	}
	if isUndefinedObject(e.PostgresCode()) {
		return true
	}
	return strings.Contains(e.text(), "inconsistent")
}

func isUndefinedObject(code string) bool {
	switch code {
	case pgerrcode.UndefinedTable, pgerrcode.InvalidSchemaName, pgerrcode.UndefinedColumn,
		pgerrcode.UndefinedFunction, pgerrcode.UndefinedObject:
		return true
	}
	return false
}
