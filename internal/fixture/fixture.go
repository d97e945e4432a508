// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

// Package fixture is a test-only in-memory component and backend, used by
// this repo's own tests instead of a real compiled plugin shared library.
// It corresponds to the demo components
// (_examples/original_source/src/plugin_demo_core_services/) the original
// used to exercise the framework end to end; this module's Non-goals
// exclude shipping a concrete plugin, so the fixture lives under
// internal/ rather than as a product package.
package fixture

import (
	"sync"

	"github.com/componentbus/corebus/cberrors"
	"github.com/componentbus/corebus/ident"
	"github.com/componentbus/corebus/loader"
	"github.com/componentbus/corebus/platform"
	"github.com/componentbus/corebus/registry"
)

// WidgetClsid and WidgetInterfaceID identify the fixture's sole component,
// a minimal singleton service with an observable Shutdown hook.
var (
	WidgetClsid      = ident.NewClassId("corebus-fixture-widget-clsid")
	WidgetInterfaceID = ident.NewInterfaceId("corebus-fixture-IWidget-iid")
)

// WidgetInterface is the typed interface QueryInterface hands back for a
// Widget.
var WidgetInterface = ident.InterfaceDescriptor{IID: WidgetInterfaceID, Name: "fixture.IWidget", Major: 1, Minor: 0}

// IWidget is the capability a Widget exposes once cast.
type IWidget interface {
	Greet() string
}

// Widget is the fixture's component instance: a trivial singleton that
// records whether its lifecycle hooks ran, for assertions in tests that
// exercise Load/GetService/UnloadAll end to end.
type Widget struct {
	mu              sync.Mutex
	initialized     bool
	shutdownCalled  bool
	ShutdownFailure error
}

func (w *Widget) Greet() string { return "hello from widget" }

func (w *Widget) Cast(iid ident.InterfaceId) (any, error) {
	switch iid {
	case ident.BaseInterfaceID, WidgetInterfaceID:
		return w, nil
	default:
		return nil, cberrors.New(cberrors.InterfaceNotImpl, "widget does not implement interface %d", iid)
	}
}

func (w *Widget) Initialize() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.initialized = true
	return nil
}

func (w *Widget) Shutdown() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.shutdownCalled = true
	return w.ShutdownFailure
}

// WasInitialized reports whether Initialize ran.
func (w *Widget) WasInitialized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.initialized
}

// WasShutdown reports whether Shutdown ran.
func (w *Widget) WasShutdown() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shutdownCalled
}

// Entry is a loader.EntryFunc that registers one Widget singleton, the
// fixture's counterpart to the original's plugin_entry.cpp.
func Entry(w *Widget) loader.EntryFunc {
	return func(r *loader.Registrar) {
		err := r.RegisterComponent(
			WidgetClsid,
			func() (registry.Instance, error) { return w, nil },
			true, // singleton
			"fixture.Widget",
			[]ident.InterfaceDescriptor{ident.BaseInterface, WidgetInterface},
			true, // default implementation of IWidget
		)
		if err != nil {
			panic(err)
		}
	}
}

// Backend is an in-memory platform.Backend standing in for a real shared
// library: "opening" a path looks up a pre-registered entry function
// instead of touching the filesystem or an OS loader.
type Backend struct {
	mu      sync.Mutex
	entries map[string]loader.EntryFunc
	Opened  []string
	Closed  []string
}

// NewBackend returns an empty Backend.
func NewBackend() *Backend {
	return &Backend{entries: make(map[string]loader.EntryFunc)}
}

// Register associates path with entry, to be returned the next time it is
// opened.
func (b *Backend) Register(path string, entry loader.EntryFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[path] = entry
}

func (b *Backend) OpenLibrary(path string) (platform.LibraryHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[path]; !ok {
		return nil, cberrors.New(cberrors.Internal, "fixture: no such registered path %q", path)
	}
	b.Opened = append(b.Opened, path)
	return path, nil
}

func (b *Backend) ResolveSymbol(handle platform.LibraryHandle, name string) (any, error) {
	path, _ := handle.(string)
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries[path]
	if !ok {
		return nil, cberrors.New(cberrors.Internal, "fixture: no entry registered for %q", path)
	}
	return entry, nil
}

func (b *Backend) CloseLibrary(handle platform.LibraryHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closed = append(b.Closed, handle.(string))
	return nil
}

func (b *Backend) LastErrorString() string { return "" }
