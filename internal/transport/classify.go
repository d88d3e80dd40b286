package transport

import (
	"errors"

	"github.com/jackc/pgerrcode"
)

// Class is the coarse outcome of a remote call as seen by convergence loops.
type Class int

const (
	// Satisfied means the desired state holds: the call succeeded, or it
	// failed only because the object is already present or already absent.
	Satisfied Class = iota
	// Transient means reissuing the call may succeed.
	Transient
	// Fatal means the call will keep failing until the input changes.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Satisfied:
		return "satisfied"
	case Transient:
		return "transient"
	default:
		return "fatal"
	}
}

// Classify folds a transport error and a service error into a Class.
func Classify(err error, svc *ServiceError) Class {
	if err != nil {
		var te *Error
		if errors.As(err, &te) && te.Temporary() {
			return Transient
		}
		return Fatal
	}
	if svc == nil {
		return Satisfied
	}
	if svc.AlreadyExists() || svc.NotFound() {
		return Satisfied
	}
	if svc.Code == CodeConcurrentUpdate || pgerrcode.IsTransactionRollback(svc.PostgresCode()) {
		return Transient
	}
	return Fatal
}
