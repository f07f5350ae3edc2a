// Package ldmerr defines the closed error-kind taxonomy shared by every
// package in this module: the binary LDM parser, the device-mapper
// planner, and the device-mapper executor.
//
// It generalizes the teacher's chapi2/cerrors.ChapiError (Code + Text,
// built by a flexible variadic constructor) onto the kind set this
// domain actually needs instead of chapi2's gRPC-style codes.
package ldmerr

import (
	"errors"
	"fmt"
)

// Kind is a closed enumeration of the error categories a caller of this
// module may need to distinguish. It is never extended at run time.
type Kind int

const (
	// Internal indicates a parser contract was violated in a way that
	// points at a bug in this module, not bad input.
	Internal Kind = iota
	// Io indicates a read call failed or a device could not be stat'd.
	Io
	// NotLdm indicates the device carries no LDM signature at all.
	NotLdm
	// Invalid indicates structurally wrong metadata: bad magic,
	// out-of-range offsets, an unresolved link target, a broken
	// invariant.
	Invalid
	// Inconsistent indicates two members of the same disk group
	// disagree on committed sequence number.
	Inconsistent
	// NotSupported indicates metadata that is well-formed but uses a
	// revision or combination this reader does not implement.
	NotSupported
	// MissingDisk indicates a device-mapper plan could not be fully
	// assembled because an underlying disk is absent.
	MissingDisk
	// External indicates a failure reported by the device-mapper
	// subsystem itself.
	External
)

func (k Kind) String() string {
	switch k {
	case Internal:
		return "Internal"
	case Io:
		return "Io"
	case NotLdm:
		return "NotLdm"
	case Invalid:
		return "Invalid"
	case Inconsistent:
		return "Inconsistent"
	case NotSupported:
		return "NotSupported"
	case MissingDisk:
		return "MissingDisk"
	case External:
		return "External"
	default:
		return "Unknown"
	}
}

// Error is the single error type returned by every exported operation in
// this module. Context — device path, disk-group GUID and sequence
// numbers, missing disk name — is folded into Msg by the caller that
// raises the error, the same way chapi2's NewChapiErrorf formats
// ChapiError.Text.
type Error struct {
	Kind Kind
	Msg  string
	// Wrapped is the underlying error, if any, that triggered this one
	// (e.g. an os.PathError from a failed pread).
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is an *Error of the same Kind, so callers
// can write errors.Is(err, ldmerr.New(ldmerr.NotLdm, "")) or, more
// conveniently, errors.Is(err, ldmerr.OfKind(ldmerr.NotLdm)) with the
// OfKind helper below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error with the given kind and a formatted message,
// mirroring chapi2's NewChapiErrorf.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error that carries an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Wrapped: cause}
}

// OfKind is a convenience sentinel usable with errors.Is(err, ldmerr.OfKind(ldmerr.NotLdm)).
func OfKind(kind Kind) *Error {
	return &Error{Kind: kind}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error,
// defaulting to Internal for anything else — matching the teacher's
// ChapiError.ErrorCode() fallback-to-Unknown convention.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
