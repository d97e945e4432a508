// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/componentbus/corebus/ident"
)

// Instance is the minimal contract a factory-produced object must satisfy:
// given an interface id the framework has already version-checked against
// the owning ComponentInfo's static interface list, hand back a typed
// reference to it. A linear scan over a short, class-specific table is the
// expected implementation (spec §9) — Cast itself performs no version
// checking, that happens one layer up in component.QueryInterface.
type Instance interface {
	Cast(iid ident.InterfaceId) (any, error)
}

// Factory produces a new, fully-constructed Instance. It must not call any
// lifecycle hook itself; construction and Initialize are sequenced by the
// component package (spec §4.3.3).
type Factory func() (Instance, error)

// ComponentInfo is the immutable record produced by a successful
// register_component call (spec §3). It is never mutated after it is
// returned by Registry.RegisterComponent; the registry only ever replaces
// the map entry wholesale (on rollback/unload) rather than editing it.
type ComponentInfo struct {
	Clsid            ident.ClassId
	IsSingleton      bool
	Alias            string
	SourcePluginPath string
	Interfaces       []ident.InterfaceDescriptor
	IsDefault        bool
	Factory          Factory

	// seq orders registrations so AllComponents/ComponentsOfPlugin/
	// ComponentsImplementing return deterministic results instead of
	// Go's randomized map iteration order; restores a property the
	// original C++ implementation got for free from insertion-ordered
	// containers.
	seq uint64
}

// DescriptorFor reports the InterfaceDescriptor this class publishes for
// iid, if any. Used by component.QueryInterface to run the version policy
// (spec §4.3.1) before ever calling into the instance's Cast.
func (info *ComponentInfo) DescriptorFor(iid ident.InterfaceId) (ident.InterfaceDescriptor, bool) {
	for _, d := range info.Interfaces {
		if d.IID == iid {
			return d, true
		}
	}
	return ident.InterfaceDescriptor{}, false
}

// SingletonSlot is the once-initialized, failure-sticky holder for a
// singleton clsid's single shared instance (spec §3, §4.3.2). Exactly one
// slot exists per singleton clsid, created empty at registration and
// destroyed wholesale (never reset) during unload phase 2.
type SingletonSlot struct {
	group singleflight.Group

	mu       sync.Mutex
	resolved bool
	instance Instance
	err      error
}

// Resolve runs construct at most once for the lifetime of the slot.
//
// Concurrent callers racing in before the first completes join the same
// golang.org/x/sync/singleflight call and all observe the identical
// (instance, err) pair the winner produced. Once resolved, every later
// caller — including ones arriving long after, on a different goroutine —
// skips singleflight entirely and reads the cached result directly. A
// captured failure is sticky: construct is never retried once resolved,
// whether it succeeded or failed.
func (s *SingletonSlot) Resolve(key string, construct func() (Instance, error)) (Instance, error) {
	if inst, err, ok := s.cached(); ok {
		return inst, err
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		if inst, cerr, ok := s.cached(); ok {
			return inst, cerr
		}

		inst, cerr := construct()

		s.mu.Lock()
		s.resolved = true
		s.instance, s.err = inst, cerr
		s.mu.Unlock()

		return inst, cerr
	})
	if err != nil {
		return nil, err
	}
	// v is nil here only when construct's own Instance return value was
	// nil (the captured-failure path still boxes a non-nil err, but a
	// nil Instance re-boxed into the any returned by group.Do stays nil);
	// asserting straight to Instance would panic on that nil any.
	if v == nil {
		return nil, err
	}
	return v.(Instance), nil
}

func (s *SingletonSlot) cached() (Instance, error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resolved {
		return nil, nil, false
	}
	return s.instance, s.err, true
}
