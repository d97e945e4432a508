// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

package component

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/componentbus/corebus/ident"
	"github.com/componentbus/corebus/registry"
)

// Initializer is the optional lifecycle hook a factory-produced instance
// may implement (spec §4.3.3). It runs after construction, before the
// handle is ever returned to a caller. It must not recursively fetch other
// services; dependency ordering is the caller's responsibility.
type Initializer interface {
	Initialize() error
}

// Shutdowner is the optional lifecycle hook run exactly once, before the
// underlying instance is discarded (spec §4.3.3, §4.4 phase 1).
type Shutdowner interface {
	Shutdown() error
}

// Handle is a reference-counted handle to a component instance (spec §3).
// All sharing between callers uses Handle, never the bare registry.Instance.
// The zero value is not usable; construct via Instances.CreateTransient /
// Instances.GetService.
type Handle struct {
	clsid    ident.ClassId
	info     *registry.ComponentInfo
	instance registry.Instance

	refs int32

	shutdownOnce sync.Once
	shutdownErr  error
}

func newHandle(clsid ident.ClassId, info *registry.ComponentInfo, inst registry.Instance) *Handle {
	return &Handle{clsid: clsid, info: info, instance: inst, refs: 1}
}

// Clsid reports the class this handle was constructed from.
func (h *Handle) Clsid() ident.ClassId { return h.clsid }

// AddRef increments the handle's reference count and returns h, mirroring
// the source's reference-counted-handle-sharing discipline (spec §3,
// §9 "cross-module object ownership"). Every AddRef must be matched by a
// Release.
func (h *Handle) AddRef() *Handle {
	atomic.AddInt32(&h.refs, 1)
	return h
}

// Release drops one reference. When the count reaches zero, the
// instance's Shutdown hook (if any) runs exactly once — whether that
// last Release came from ordinary caller code or from the loader's
// unload-phase bookkeeping (spec §4.4 phase 2: "handles drop to refcount 1
// ... then the singleton map, refcount to 0 — destructors run now").
func (h *Handle) Release() error {
	if atomic.AddInt32(&h.refs, -1) == 0 {
		return h.runShutdown()
	}
	return nil
}

// RunShutdown invokes the instance's Shutdown hook idempotently. The
// loader calls this directly (rather than through Release) during unload
// phase 1 (spec §4.4), while the handle may still carry outstanding
// references; sync.Once guarantees the hook still only fires once
// regardless of which path gets there first.
func (h *Handle) RunShutdown() error {
	return h.runShutdown()
}

func (h *Handle) runShutdown() error {
	h.shutdownOnce.Do(func() {
		h.shutdownErr = h.callShutdown()
	})
	return h.shutdownErr
}

func (h *Handle) callShutdown() (err error) {
	sd, ok := h.instance.(Shutdowner)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("shutdown panicked: %v", r)
		}
	}()
	return sd.Shutdown()
}

// InterfaceRef is a typed reference produced by QueryInterface. It shares
// ownership with the handle it was queried from (spec §4.3.1: "the
// returned reference shares ownership with the original handle"); Release
// drops that shared reference.
type InterfaceRef struct {
	handle *Handle
	value  any
}

// Value returns the typed interface pointer/value produced by Cast.
// Callers type-assert it to the concrete interface they requested.
func (r *InterfaceRef) Value() any { return r.value }

// Release drops the reference this InterfaceRef shares with its handle.
func (r *InterfaceRef) Release() error { return r.handle.Release() }
