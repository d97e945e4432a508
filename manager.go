// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

// Package corebus wires the registry, component, loader, and eventbus
// packages into one process-wide plugin runtime (spec §1, §2): the host
// builds a Manager, loads shared libraries into it, and uses it to look
// up services, create transient components, and publish/subscribe to
// events, exactly as a loaded plugin does from the other side of the
// entry-point call.
package corebus

import (
	"github.com/hashicorp/go-hclog"

	"github.com/componentbus/corebus/cberrors"
	"github.com/componentbus/corebus/component"
	"github.com/componentbus/corebus/eventbus"
	"github.com/componentbus/corebus/ident"
	"github.com/componentbus/corebus/loader"
	"github.com/componentbus/corebus/platform"
	"github.com/componentbus/corebus/registry"
)

// Config controls the Manager's tunables. Every field has a default
// applied by New, matching spec §6's "no configuration file, all policy
// in code."
type Config struct {
	Logger hclog.Logger
	// Backend is the platform abstraction the loader opens shared
	// libraries through. Defaults to platform.NewDefaultBackend().
	Backend platform.Backend
	// EntrySymbol overrides the exported entry-point symbol name Load
	// resolves. Defaults to loader.DefaultEntrySymbol.
	EntrySymbol string
	// DirectoryExtensions restricts LoadDirectory to matching files.
	// Defaults to the host platform's shared-library extension.
	DirectoryExtensions []string
	// EventQueueCapacity bounds the event bus's asynchronous task queue.
	// Zero selects the bus's own default.
	EventQueueCapacity int
	// OOBHandler receives synchronous/queued callback panics and plugin
	// Shutdown-hook failures (spec §4.5, §7).
	OOBHandler eventbus.OOBHandler
}

// Manager is the process-wide plugin core (spec §2's "The core"): the
// registry, the instance factory, the loader, and the event bus, plus the
// core's own built-in services re-registered after every unload (spec
// §4.4's closing paragraph: "the core's own services (event bus, query,
// manager) are re-registered in their built-in slots so the runtime is
// reusable").
type Manager struct {
	logger hclog.Logger
	oob    eventbus.OOBHandler

	Registry  *registry.Registry
	Instances *component.Instances
	Events    *eventbus.Bus
	Loader    *loader.Loader
}

// New builds a Manager with its built-in services already registered.
// It does not become the process-wide Global() instance automatically;
// call SetGlobal explicitly if the host wants the service-locator helpers
// to find it.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	bus := eventbus.New(eventbus.Config{
		Logger:        logger,
		QueueCapacity: cfg.EventQueueCapacity,
		OOBHandler:    cfg.OOBHandler,
	})
	reg := registry.New(logger, bus)
	instances := component.New(reg, logger)
	ld := loader.New(loader.Config{
		Logger:              logger,
		Backend:             cfg.Backend,
		EntrySymbol:         cfg.EntrySymbol,
		DirectoryExtensions: cfg.DirectoryExtensions,
	}, reg, instances, bus)

	m := &Manager{
		logger:    logger.Named("corebus"),
		oob:       cfg.OOBHandler,
		Registry:  reg,
		Instances: instances,
		Events:    bus,
		Loader:    ld,
	}
	m.registerBuiltins()
	return m
}

// Load loads one shared library (spec §4.4).
func (m *Manager) Load(path string) error { return m.Loader.Load(path) }

// LoadDirectory loads every matching shared library under dir (spec
// §4.4).
func (m *Manager) LoadDirectory(dir string, recursive bool) ([]loader.LoadFailure, error) {
	return m.Loader.LoadDirectory(dir, recursive)
}

// Shutdown tears the Manager down: it runs the same three-phase unload as
// UnloadAll (so every plugin's Shutdown hook still fires before anything
// is destroyed) and then joins the event bus's worker goroutine, which
// spec §5 says is "started at core construction and joined at
// destruction." Shutdown does not re-register the built-in services
// afterward — unlike UnloadAll, a Manager that has been Shutdown is not
// meant to be reused, matching spec §9's "torn down on host shutdown."
// If m is the process-wide Global instance, the caller should clear it
// with SetGlobal(nil) first so Global() observes teardown safely.
func (m *Manager) Shutdown() {
	m.unloadAll()
	m.Events.Shutdown()
}

// UnloadAll runs the strict three-phase shutdown (spec §4.4) and then
// re-registers the core's own built-in services, leaving the Manager
// ready to Load again.
func (m *Manager) UnloadAll() {
	m.unloadAll()
	m.registerBuiltins()
}

func (m *Manager) unloadAll() {
	m.Loader.UnloadAll(loader.UnloadHooks{
		ReportShutdownFailure: func(err error) {
			m.logger.Warn("plugin shutdown hook failed", "error", err)
			if m.oob != nil {
				m.oob(err)
			}
		},
		ClearEventBus: m.Events.Reset,
	})
}

// CreateTransient constructs a fresh instance of clsid (spec §4.3).
func (m *Manager) CreateTransient(clsid ident.ClassId) (*component.Handle, error) {
	return m.Instances.CreateTransient(clsid)
}

// GetService resolves clsid's singleton instance (spec §4.3).
func (m *Manager) GetService(clsid ident.ClassId) (*component.Handle, error) {
	return m.Instances.GetService(clsid)
}

// CreateDefault creates a transient instance of iid's default
// implementation (spec §4.3).
func (m *Manager) CreateDefault(iid ident.InterfaceId) (*component.Handle, error) {
	return m.Instances.CreateDefault(iid)
}

// GetDefaultService resolves iid's default implementation's singleton
// instance (spec §4.3).
func (m *Manager) GetDefaultService(iid ident.InterfaceId) (*component.Handle, error) {
	return m.Instances.GetDefaultService(iid)
}

// QueryInterface runs the version-gated interface cast (spec §4.3.1).
func (m *Manager) QueryInterface(h *component.Handle, iid ident.InterfaceId, major, minor uint32) (*component.InterfaceRef, error) {
	return m.Instances.QueryInterface(h, iid, major, minor)
}

// CreateTransientAs combines lookup, factory, and query in one call
// (spec §4.3).
func (m *Manager) CreateTransientAs(clsid ident.ClassId, iid ident.InterfaceId, major, minor uint32) (*component.InterfaceRef, error) {
	return m.Instances.CreateTransientAs(clsid, iid, major, minor)
}

// GetServiceAs combines singleton lookup and query in one call (spec
// §4.3).
func (m *Manager) GetServiceAs(clsid ident.ClassId, iid ident.InterfaceId, major, minor uint32) (*component.InterfaceRef, error) {
	return m.Instances.GetServiceAs(clsid, iid, major, minor)
}

// GetServiceByAlias resolves a human-assigned alias to its clsid and
// fetches its singleton instance (spec §4.2, §4.3).
func (m *Manager) GetServiceByAlias(alias string) (*component.Handle, error) {
	clsid, ok := m.Registry.LookupByAlias(alias)
	if !ok {
		return nil, cberrors.New(cberrors.AliasNotFound, "alias %q not registered", alias)
	}
	return m.Instances.GetService(clsid)
}
