package ddns

import (
	"errors"
	"fmt"
)

// Kind classifies an Error by the part of the update cycle that produced it.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindConfig is fatal and only produced at startup.
	KindConfig
	KindIPDetection
	KindRemoteUpdate
	KindPersistence
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "Configuration error"
	case KindIPDetection:
		return "IP detection error"
	case KindRemoteUpdate:
		return "Remote update error"
	case KindPersistence:
		return "Persistence error"
	case KindNotification:
		return "Notification error"
	default:
		return "Unknown error"
	}
}

// Error is returned by the adapters and the update cycle.
// Everything except KindConfig is recoverable at the tick boundary.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "cloudflare.SetRecord"
	Err  error
}

// NewError wraps err with a kind and operation.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind with no operation or cause,
// which lets callers write errors.Is(err, &ddns.Error{Kind: ddns.KindPersistence}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
