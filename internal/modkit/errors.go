package modkit

import "errors"

// Kind classifies an error per the error taxonomy in spec.md §7. Callers at
// the API boundary (out of scope for this core) use it to decide HTTP status
// codes and retry behavior; the core itself uses it to decide which failures
// are retried (Transient) vs. swallowed-and-reported (PermanentTarget,
// Crypto) vs. propagated (FatalConfig).
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindAuth            Kind = "auth"
	KindConflict        Kind = "conflict"
	KindValidation      Kind = "validation"
	KindTransient       Kind = "transient"
	KindPermanentTarget Kind = "permanent_target"
	KindCrypto          Kind = "crypto"
	KindFatalConfig     Kind = "fatal_config"
)

// CoreError is a taxonomy-tagged error. Wrap lower-level errors with Wrap to
// preserve the chain for errors.Is/As while still exposing a Kind.
type CoreError struct {
	kind Kind
	msg  string
	err  error
}

func (e *CoreError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *CoreError) Unwrap() error { return e.err }

// GetKind returns the taxonomy kind of err, or "" if err does not carry one.
func GetKind(err error) Kind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.kind
	}
	return ""
}

func NewError(kind Kind, msg string) error {
	return &CoreError{kind: kind, msg: msg}
}

func Wrap(kind Kind, msg string, err error) error {
	return &CoreError{kind: kind, msg: msg, err: err}
}

// IsTransient reports whether err is tagged Transient and therefore eligible
// for the retry policy in Retry.
func IsTransient(err error) bool {
	return GetKind(err) == KindTransient
}

var (
	ErrServiceAlreadyRegistered = errors.New("service already registered")
	ErrServiceNotFound          = errors.New("service not found")
	ErrModuleDependencyMissing  = errors.New("module depends on non-existent module")
	ErrCircularDependency       = errors.New("circular dependency detected")
	ErrConfigSectionNotFound    = errors.New("config section not found")
)
