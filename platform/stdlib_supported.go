// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

//go:build linux || darwin || freebsd

package platform

import (
	"fmt"
	"plugin"
	"sync"
)

// stdlibBackend implements Backend on top of Go's standard library
// "plugin" package, the way
// streamspace-dev-streamspace/api/internal/plugins/discovery.go opens
// Go-plugin ".so" files: plugin.Open to map the library, (*plugin.Plugin).
// Lookup to resolve a symbol by name.
type stdlibBackend struct {
	mu      sync.Mutex
	lastErr string
}

// NewDefaultBackend returns the platform's default Backend.
func NewDefaultBackend() Backend {
	return &stdlibBackend{}
}

func (b *stdlibBackend) OpenLibrary(path string) (LibraryHandle, error) {
	p, err := plugin.Open(path)
	if err != nil {
		b.setLastError(err)
		return nil, err
	}
	return p, nil
}

func (b *stdlibBackend) ResolveSymbol(handle LibraryHandle, name string) (any, error) {
	p, ok := handle.(*plugin.Plugin)
	if !ok {
		err := fmt.Errorf("platform: handle is not a *plugin.Plugin")
		b.setLastError(err)
		return nil, err
	}
	sym, err := p.Lookup(name)
	if err != nil {
		b.setLastError(err)
		return nil, err
	}
	return sym, nil
}

// CloseLibrary is a documented no-op: the stdlib plugin package has no
// unload operation. Once a .so is mapped with plugin.Open, it stays mapped
// for the life of the process; this is an OS/runtime constraint, not a
// gap this backend could close by trying harder.
func (b *stdlibBackend) CloseLibrary(LibraryHandle) error {
	return nil
}

func (b *stdlibBackend) LastErrorString() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

func (b *stdlibBackend) setLastError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErr = err.Error()
}
