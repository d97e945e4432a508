// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

// Package cberrors holds the single error taxonomy (spec §7) shared by every
// corebus package. It lives at the bottom of the dependency graph, below
// ident, so that registry, component, loader, and eventbus can all return
// the same typed codes without an import cycle through the root package.
package cberrors

import (
	"errors"
	"fmt"
)

// Code is the sum type every corebus operation's failure belongs to.
type Code int

const (
	// AliasNotFound is returned by alias lookups and by default-service
	// resolution when no default is registered for the requested interface.
	AliasNotFound Code = iota + 1
	// ClsidNotFound is returned when a ClassId is not present in the registry.
	ClsidNotFound
	// NotAService is returned when a caller used the singleton path
	// (get_service) against a clsid registered as transient.
	NotAService
	// NotAComponent is returned when a caller used the transient path
	// (create_transient) against a clsid registered as a singleton.
	NotAComponent
	// FactoryFailed is returned when a factory returned nil or panicked.
	FactoryFailed
	// InterfaceNotImpl is returned when a class does not implement the
	// requested interface id at all.
	InterfaceNotImpl
	// VersionMajorMismatch is returned when an interface id is implemented
	// but at a different, incompatible major version.
	VersionMajorMismatch
	// VersionMinorTooLow is returned when an interface id is implemented at
	// the right major version but the implementation's minor is below what
	// the caller requires.
	VersionMinorTooLow
	// DuplicateClsid is returned by register_component when the clsid is
	// already registered.
	DuplicateClsid
	// DefaultConflict is returned by register_component when another
	// default implementation already exists for one of the listed
	// interfaces.
	DefaultConflict
	// Internal covers manager-not-yet-initialized, registry inconsistency,
	// and other invariant violations that should never happen in correct
	// use of the API.
	Internal
)

func (c Code) String() string {
	switch c {
	case AliasNotFound:
		return "AliasNotFound"
	case ClsidNotFound:
		return "ClsidNotFound"
	case NotAService:
		return "NotAService"
	case NotAComponent:
		return "NotAComponent"
	case FactoryFailed:
		return "FactoryFailed"
	case InterfaceNotImpl:
		return "InterfaceNotImpl"
	case VersionMajorMismatch:
		return "VersionMajorMismatch"
	case VersionMinorTooLow:
		return "VersionMinorTooLow"
	case DuplicateClsid:
		return "DuplicateClsid"
	case DefaultConflict:
		return "DefaultConflict"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is the concrete error value carried across the API. It always
// carries a Code so callers can switch on failure kind without string
// matching, plus a human-readable message and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is / errors.As reach the wrapped cause.
func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error carrying cause as its Unwrap target.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err is a *Error with the given code. It is the
// idiomatic way to branch on failure kind:
//
//	if cberrors.Is(err, cberrors.ClsidNotFound) { ... }
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
