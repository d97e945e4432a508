// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

package loader

import "github.com/componentbus/corebus/component"

// UnloadHooks lets the owning Manager plug into phases this package
// cannot reach on its own. loader sits below eventbus in the dependency
// order (spec §2), so clearing the bus's subscription state during phase
// 2 has to be injected rather than called directly.
type UnloadHooks struct {
	// ReportShutdownFailure receives every error a plugin's Shutdown hook
	// returns during phase 1 (spec §4.4, §7's OOB callback). May be nil.
	ReportShutdownFailure func(error)
	// ClearEventBus runs at the start of phase 2, satisfying spec §4.4
	// phase 2's "clear the event queue, the subscription maps". May be
	// nil (useful in tests that don't wire an event bus).
	ClearEventBus func()
}

// UnloadAll runs the strict three-phase shutdown of spec §4.4:
//
//  1. Shutdown phase: walk loaded libraries in LIFO order, collect every
//     already-initialized singleton's handle under an extra reference
//     (each registry lookup takes the reader lock only for its own
//     duration), then invoke Shutdown on each collected handle. All
//     services remain resolvable via the non-raising lookup path for the
//     duration of this phase.
//  2. Destruction phase: clear the event bus (via ClearEventBus), drop
//     the phase-1 extra references, clear every registry table, then
//     drop the instance factory's own intrinsic references to the
//     singleton handles (component.Instances.ClearSingletons).
//  3. Unmap phase: close every library handle in LIFO order and forget
//     them.
//
// After UnloadAll returns, the Loader is empty and ready to Load the same
// paths again (spec §8: "UnloadAllPlugins followed by re-load ... yields
// an identical set of registered components").
func (l *Loader) UnloadAll(hooks UnloadHooks) {
	l.mu.Lock()
	libs := append([]loadedLib(nil), l.libs...)
	l.mu.Unlock()

	strong := l.collectInitializedSingletons(libs)
	l.runShutdownHooks(strong, hooks.ReportShutdownFailure)

	if hooks.ClearEventBus != nil {
		hooks.ClearEventBus()
	}
	for _, h := range strong {
		_ = h.Release()
	}
	l.reg.Clear()
	for _, h := range l.instances.ClearSingletons() {
		_ = h.Release()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.libs) - 1; i >= 0; i-- {
		if err := l.backend.CloseLibrary(l.libs[i].handle); err != nil {
			l.logger.Warn("close_library failed", "path", l.libs[i].path, "error", err)
		}
	}
	l.libs = nil
}

// collectInitializedSingletons walks libs in LIFO order and, for each
// singleton clsid that has actually been resolved by some prior
// GetService call, takes an extra reference to its handle (spec §4.4
// "collect the cached handle into a strongly-held list").
func (l *Loader) collectInitializedSingletons(libs []loadedLib) []*component.Handle {
	var strong []*component.Handle
	for i := len(libs) - 1; i >= 0; i-- {
		for _, info := range l.reg.ComponentsOfPlugin(libs[i].path) {
			if !info.IsSingleton {
				continue
			}
			if h, ok := l.instances.ResolvedSingletonHandle(info.Clsid); ok {
				strong = append(strong, h.AddRef())
			}
		}
	}
	return strong
}

func (l *Loader) runShutdownHooks(handles []*component.Handle, report func(error)) {
	for _, h := range handles {
		if err := h.RunShutdown(); err != nil {
			l.logger.Warn("plugin shutdown hook failed", "clsid", h.Clsid(), "error", err)
			if report != nil {
				report(err)
			}
		}
	}
}
