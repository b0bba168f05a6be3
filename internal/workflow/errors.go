// Package workflow holds the task lifecycle rules: the status machine, the
// approval gate, emergency and deadline negotiation, comment receivers, and
// the change recorder. Everything here is pure and operates on store.Task values.
package workflow

import "fmt"

type Kind int

const (
	KindValidation Kind = iota + 1
	KindLock
	KindNotFound
	KindPermission
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindLock:
		return "lock"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	default:
		return "unknown"
	}
}

// Error is a workflow rejection. No state has changed when one is returned.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Message
}

// Is matches the kind sentinels below so callers can use errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrLocked     = &Error{Kind: KindLock}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrForbidden  = &Error{Kind: KindPermission}
)

func validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func forbiddenf(format string, args ...any) *Error {
	return &Error{Kind: KindPermission, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// GuardResult is the outcome of a precondition check.
type GuardResult struct {
	Allowed bool
	Kind    Kind
	Reason  string
}

func allow() GuardResult {
	return GuardResult{Allowed: true}
}

func deny(kind Kind, format string, args ...any) GuardResult {
	return GuardResult{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Err converts a denied guard into an *Error, or nil when allowed.
func (r GuardResult) Err() error {
	if r.Allowed {
		return nil
	}
	return &Error{Kind: r.Kind, Message: r.Reason}
}
