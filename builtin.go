// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

package corebus

import (
	"github.com/componentbus/corebus/cberrors"
	"github.com/componentbus/corebus/eventbus"
	"github.com/componentbus/corebus/ident"
	"github.com/componentbus/corebus/registry"
)

// Built-in class and interface ids (spec §4.4's closing paragraph: "the
// core's own services (event bus, query, manager) are re-registered in
// their built-in slots so the runtime is reusable"). These are never
// exposed to a plugin's register_component call — registerBuiltins is the
// only caller of registry.RegisterComponent with these clsids.
var (
	EventBusClsid = ident.NewClassId("corebus-builtin-event-bus-SERVICE")
	QueryClsid    = ident.NewClassId("corebus-builtin-plugin-query-SERVICE")
	ManagerClsid  = ident.NewClassId("corebus-builtin-manager-SERVICE")

	IEventBusID = ident.NewInterfaceId("corebus-IEventBus-IID")
	IQueryID    = ident.NewInterfaceId("corebus-IPluginQuery-IID")
	IManagerID  = ident.NewInterfaceId("corebus-IManager-IID")
)

var (
	eventBusInterface = ident.InterfaceDescriptor{IID: IEventBusID, Name: "corebus.IEventBus", Major: 1, Minor: 0}
	queryInterface    = ident.InterfaceDescriptor{IID: IQueryID, Name: "corebus.IPluginQuery", Major: 1, Minor: 0}
	managerInterface  = ident.InterfaceDescriptor{IID: IManagerID, Name: "corebus.IManager", Major: 1, Minor: 0}
)

// registerBuiltins (re-)registers the three built-in singleton services
// into the registry. It is called once from New and again at the end of
// UnloadAll, since unload phase 2 clears every registry table (spec
// §4.4).
func (m *Manager) registerBuiltins() {
	mustRegister := func(info registry.ComponentInfo) {
		if _, err := m.Registry.RegisterComponent(info); err != nil {
			// Built-in registration can only fail from a programming error
			// in this file (a duplicate clsid or a missing base interface),
			// never from plugin input; surfacing it as a panic matches how
			// the rest of this package treats "should never happen" states.
			panic(err)
		}
	}

	mustRegister(registry.ComponentInfo{
		Clsid:       EventBusClsid,
		IsSingleton: true,
		Interfaces:  []ident.InterfaceDescriptor{ident.BaseInterface, eventBusInterface},
		IsDefault:   true,
		Factory: func() (registry.Instance, error) {
			return &eventBusService{bus: m.Events}, nil
		},
	})
	mustRegister(registry.ComponentInfo{
		Clsid:       QueryClsid,
		IsSingleton: true,
		Interfaces:  []ident.InterfaceDescriptor{ident.BaseInterface, queryInterface},
		IsDefault:   true,
		Factory: func() (registry.Instance, error) {
			return &queryService{reg: m.Registry, ld: m.Loader}, nil
		},
	})
	mustRegister(registry.ComponentInfo{
		Clsid:       ManagerClsid,
		IsSingleton: true,
		Interfaces:  []ident.InterfaceDescriptor{ident.BaseInterface, managerInterface},
		IsDefault:   true,
		Factory: func() (registry.Instance, error) {
			return &managerService{m: m}, nil
		},
	})
}

// IEventBus is the interface QueryInterface hands back for the built-in
// event bus service, the Go-native counterpart of the original's
// IEventBus (plugins subscribe/fire through this rather than reaching
// into a concrete Bus type).
type IEventBus interface {
	Bus() *eventbus.Bus
}

type eventBusService struct{ bus *eventbus.Bus }

func (s *eventBusService) Bus() *eventbus.Bus { return s.bus }

func (s *eventBusService) Cast(iid ident.InterfaceId) (any, error) {
	switch iid {
	case ident.BaseInterfaceID, IEventBusID:
		return s, nil
	default:
		return nil, cberrors.New(cberrors.InterfaceNotImpl, "event bus service does not implement interface %d", iid)
	}
}

// InterfaceVersion mirrors the original's InterfaceDetails::version pair
// (spec's original_source `i_plugin_query.h`).
type InterfaceVersion struct {
	Major uint32
	Minor uint32
}

// InterfaceDetails describes one interface a queried component
// implements.
type InterfaceDetails struct {
	IID     ident.InterfaceId
	Name    string
	Version InterfaceVersion
}

// ComponentDetails describes one registered component or service, the Go
// counterpart of the original's introspection `ComponentDetails` struct.
type ComponentDetails struct {
	Clsid                 ident.ClassId
	Alias                 string
	IsSingleton           bool
	SourcePluginPath      string
	IsRegisteredAsDefault bool
	ImplementedInterfaces []InterfaceDetails
}

// IPluginQuery is the read-only introspection service every Manager
// registers as a built-in (spec's original_source `i_plugin_query.h`):
// list everything currently registered, find components implementing a
// given interface, and see which plugin file registered what.
type IPluginQuery interface {
	GetAllComponents() []ComponentDetails
	GetComponentDetails(clsid ident.ClassId) (ComponentDetails, bool)
	GetComponentDetailsByAlias(alias string) (ComponentDetails, bool)
	FindComponentsImplementing(iid ident.InterfaceId) []ComponentDetails
	GetLoadedPluginFiles() []string
	GetComponentsFromPlugin(pluginPath string) []ComponentDetails
}

type queryService struct {
	reg *registry.Registry
	ld  loaderPaths
}

// loaderPaths is the narrow slice of *loader.Loader the query service
// needs, declared as an unexported interface so this file doesn't need to
// know the loader package's full surface.
type loaderPaths interface {
	LoadedPaths() []string
}

func (s *queryService) Cast(iid ident.InterfaceId) (any, error) {
	switch iid {
	case ident.BaseInterfaceID, IQueryID:
		return s, nil
	default:
		return nil, cberrors.New(cberrors.InterfaceNotImpl, "query service does not implement interface %d", iid)
	}
}

func (s *queryService) GetAllComponents() []ComponentDetails {
	infos := s.reg.AllComponents()
	out := make([]ComponentDetails, 0, len(infos))
	for _, info := range infos {
		out = append(out, toDetails(info))
	}
	return out
}

func (s *queryService) GetComponentDetails(clsid ident.ClassId) (ComponentDetails, bool) {
	info, ok := s.reg.LookupByClsid(clsid)
	if !ok {
		return ComponentDetails{}, false
	}
	return toDetails(info), true
}

func (s *queryService) GetComponentDetailsByAlias(alias string) (ComponentDetails, bool) {
	clsid, ok := s.reg.LookupByAlias(alias)
	if !ok {
		return ComponentDetails{}, false
	}
	return s.GetComponentDetails(clsid)
}

func (s *queryService) FindComponentsImplementing(iid ident.InterfaceId) []ComponentDetails {
	infos := s.reg.ComponentsImplementing(iid)
	out := make([]ComponentDetails, 0, len(infos))
	for _, info := range infos {
		out = append(out, toDetails(info))
	}
	return out
}

func (s *queryService) GetLoadedPluginFiles() []string {
	return s.ld.LoadedPaths()
}

func (s *queryService) GetComponentsFromPlugin(pluginPath string) []ComponentDetails {
	infos := s.reg.ComponentsOfPlugin(pluginPath)
	out := make([]ComponentDetails, 0, len(infos))
	for _, info := range infos {
		out = append(out, toDetails(info))
	}
	return out
}

func toDetails(info *registry.ComponentInfo) ComponentDetails {
	ifaces := make([]InterfaceDetails, 0, len(info.Interfaces))
	for _, d := range info.Interfaces {
		ifaces = append(ifaces, InterfaceDetails{
			IID:     d.IID,
			Name:    d.Name,
			Version: InterfaceVersion{Major: d.Major, Minor: d.Minor},
		})
	}
	return ComponentDetails{
		Clsid:                 info.Clsid,
		Alias:                 info.Alias,
		IsSingleton:           info.IsSingleton,
		SourcePluginPath:      info.SourcePluginPath,
		IsRegisteredAsDefault: info.IsDefault,
		ImplementedInterfaces: ifaces,
	}
}

// IManager is the interface QueryInterface hands back for the built-in
// manager service: lets a plugin reach the owning Manager itself (for
// Load/UnloadAll or further service lookups) without a global.
type IManager interface {
	Self() *Manager
}

type managerService struct{ m *Manager }

func (s *managerService) Self() *Manager { return s.m }

func (s *managerService) Cast(iid ident.InterfaceId) (any, error) {
	switch iid {
	case ident.BaseInterfaceID, IManagerID:
		return s, nil
	default:
		return nil, cberrors.New(cberrors.InterfaceNotImpl, "manager service does not implement interface %d", iid)
	}
}
