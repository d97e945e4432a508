// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

// Package platform is the one OS-loader surface the core ever touches
// (spec §6): open a shared library, resolve a symbol out of it, close it,
// and read the last platform-level error string. Nothing else in corebus
// calls into an OS loader directly.
package platform

// LibraryHandle is an opaque, backend-specific handle to an opened shared
// library. Callers never inspect it; they pass it back into ResolveSymbol
// and CloseLibrary.
type LibraryHandle any

// Backend is the four-operation abstraction spec §6 mandates: "Four
// operations, each a plain function." Exactly one Backend is active per
// Manager; the loader package depends only on this interface, never on an
// OS-specific loader API directly.
type Backend interface {
	// OpenLibrary maps the shared library at path into the process.
	OpenLibrary(path string) (LibraryHandle, error)
	// ResolveSymbol looks up name in an already-opened library. Returns nil
	// (no error) semantics are backend-specific; callers treat a nil value
	// the same as a non-nil error.
	ResolveSymbol(handle LibraryHandle, name string) (any, error)
	// CloseLibrary unmaps a previously opened library. Some backends
	// (notably Go's stdlib plugin package, see stdlib_supported.go) cannot
	// actually unmap a shared object once loaded; on those, CloseLibrary is
	// a documented no-op rather than an error, since the OS-level
	// constraint is real, not a missing library.
	CloseLibrary(handle LibraryHandle) error
	// LastErrorString returns a human-readable description of the most
	// recent failure on this backend, for diagnostics; every operation
	// above already returns its own error, so this is a secondary surface,
	// kept because spec §6 names it as one of the four operations.
	LastErrorString() string
}
