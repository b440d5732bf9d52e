package platform

import (
	"errors"
	"fmt"
)

// ErrorKind classifies platform failures for the policy in the lifecycle
// and permission components: denied and not-found are terminal per
// operation, transient ones are logged and abandoned without retry.
type ErrorKind int

const (
	// KindTransient covers rate limits and generic HTTP hiccups.
	KindTransient ErrorKind = iota
	// KindPermissionDenied means the bot lacks rights for the operation.
	KindPermissionDenied
	// KindNotFound means the channel or member vanished between dispatch
	// and execution; callers treat it as a no-op.
	KindNotFound
)

// Error is the platform error surfaced through the Session interface.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("platform: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("platform: %s", e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a platform error of the given kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func kindIs(err error, kind ErrorKind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}

// IsNotFound reports whether err is a platform not-found error.
func IsNotFound(err error) bool { return kindIs(err, KindNotFound) }

// IsPermissionDenied reports whether err is a platform permission error.
func IsPermissionDenied(err error) bool { return kindIs(err, KindPermissionDenied) }

// IsTransient reports whether err is a transient platform error.
func IsTransient(err error) bool { return kindIs(err, KindTransient) }
