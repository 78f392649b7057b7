// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package rerr defines the error taxonomy shared by every layer of the
// record store: a closed set of Kinds wrapped in a single error type, never
// a type per failure mode.
package rerr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind is the closed taxonomy of failure modes the record store can
// surface.
type Kind int

const (
	_ Kind = iota

	// Validation errors.
	DuplicateIndexName
	UnsupportedType
	InvalidTypeCount
	CustomValidationFailed
	KeyTooLarge
	ValueTooLarge

	// Schema/state errors.
	IndexNotFound
	IndexNotReadable
	UnsupportedIndexKind

	// Logical conflicts.
	UniqueViolation

	// Data/codec errors.
	FieldNotFound
	NestedFieldUnsupported
	TypeMismatch
	DeserializationFailed

	// Transient KV errors: commit conflicts and timeouts that escaped the
	// store's own retry. The builder and scrubber retry these with bounded
	// backoff; everything else is terminal for the batch.
	TransientKV

	// Cancellation. Propagates; never retried and not counted as failure.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case DuplicateIndexName:
		return "DuplicateIndexName"
	case UnsupportedType:
		return "UnsupportedType"
	case InvalidTypeCount:
		return "InvalidTypeCount"
	case CustomValidationFailed:
		return "CustomValidationFailed"
	case KeyTooLarge:
		return "KeyTooLarge"
	case ValueTooLarge:
		return "ValueTooLarge"
	case IndexNotFound:
		return "IndexNotFound"
	case IndexNotReadable:
		return "IndexNotReadable"
	case UnsupportedIndexKind:
		return "UnsupportedIndexKind"
	case UniqueViolation:
		return "UniqueViolation"
	case FieldNotFound:
		return "FieldNotFound"
	case NestedFieldUnsupported:
		return "NestedFieldUnsupported"
	case TypeMismatch:
		return "TypeMismatch"
	case DeserializationFailed:
		return "DeserializationFailed"
	case TransientKV:
		return "TransientKV"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is the single error type used across the module. Callers distinguish
// failure modes with Is/As against Kind, never a type switch.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with a stack trace captured at the call site.
func New(kind Kind, format string, args ...any) error {
	return pkgerrors.WithStack(&Error{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// Wrap constructs an *Error that chains cause, preserving its stack trace if
// it already carries one.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	if cause == nil {
		return New(kind, format, args...)
	}
	return pkgerrors.WithStack(&Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause})
}

// Is reports whether err (or any error in its chain) is an *Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			break
		}
		err = errors.Unwrap(err)
	}
	return e != nil && e.Kind == kind
}

// KindOf extracts the Kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			break
		}
		err = errors.Unwrap(err)
	}
	if e == nil {
		return 0, false
	}
	return e.Kind, true
}
