package core

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures. Callers branch on the kind, never on
// message text.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindUpstream
	KindIntegrity
	KindExtraction
	KindIO
	KindParse
	KindValidation
	KindPersistence
	KindNotFound
)

var kindNames = map[Kind]string{
	KindUnknown:     "UnknownError",
	KindUpstream:    "UpstreamError",
	KindIntegrity:   "IntegrityError",
	KindExtraction:  "ExtractionError",
	KindIO:          "IOError",
	KindParse:       "ParseError",
	KindValidation:  "ValidationError",
	KindPersistence: "PersistenceError",
	KindNotFound:    "NotFoundError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Error is a classified failure raised by an operation.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "registry.update"
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Op == "":
		return e.Kind.String() + ": " + e.Err.Error()
	case e.Err == nil:
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind, so that
// errors.Is(err, ErrNotFound) works through any amount of wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrUpstream    = &Error{Kind: KindUpstream}
	ErrIntegrity   = &Error{Kind: KindIntegrity}
	ErrExtraction  = &Error{Kind: KindExtraction}
	ErrIO          = &Error{Kind: KindIO}
	ErrParse       = &Error{Kind: KindParse}
	ErrValidation  = &Error{Kind: KindValidation}
	ErrPersistence = &Error{Kind: KindPersistence}
	ErrNotFound    = &Error{Kind: KindNotFound}
)

// E wraps err with a kind and operation. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
