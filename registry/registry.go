// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

// Package registry holds the six process-wide indices that back class
// lookup, alias resolution, default-implementation resolution, interface
// queries, and plugin-scoped teardown (spec §4.2). All six live under a
// single sync.RWMutex; registration is all-or-nothing, and a partially
// applied registration is never observable by a reader.
package registry

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"

	"github.com/componentbus/corebus/cberrors"
	"github.com/componentbus/corebus/ident"
)

// Publisher is the narrow event-publish capability the registry needs to
// announce a successful registration. It is declared locally, rather than
// imported from the eventbus package, so registry stays below eventbus in
// the dependency order (spec §2); eventbus.Bus satisfies it structurally.
type Publisher interface {
	Publish(event any)
}

// ComponentRegisterEvent is published after RegisterComponent returns,
// outside the registry's lock (spec §4.2). Its EventID/Name methods let it
// satisfy eventbus.Event without registry importing eventbus.
type ComponentRegisterEvent struct {
	Clsid ident.ClassId
	Alias string
}

var componentRegisterEventID = ident.NewEventId("3f6a7e2a-9b7a-4f1a-9b8d-9f0c7d6e5a41")

func (ComponentRegisterEvent) EventID() ident.EventId { return componentRegisterEventID }
func (ComponentRegisterEvent) Name() string           { return "corebus.ComponentRegisterEvent" }

// Registry is the process-wide (or, in tests, per-Manager) set of indices
// described by spec §4.2.
type Registry struct {
	logger    hclog.Logger
	publisher Publisher

	mu sync.RWMutex

	byClsid         map[ident.ClassId]*ComponentInfo
	byAlias         map[string]ident.ClassId
	byIface         map[ident.InterfaceId]*set.Set[ident.ClassId]
	defaultForIface map[ident.InterfaceId]ident.ClassId
	byPluginPath    map[string]*set.Set[ident.ClassId]
	singletons      map[ident.ClassId]*SingletonSlot

	nextSeq uint64
}

// New builds an empty Registry. publisher may be nil, in which case
// registration events are simply not published (useful in unit tests that
// don't wire an event bus).
func New(logger hclog.Logger, publisher Publisher) *Registry {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Registry{
		logger:          logger.Named("registry"),
		publisher:       publisher,
		byClsid:         make(map[ident.ClassId]*ComponentInfo),
		byAlias:         make(map[string]ident.ClassId),
		byIface:         make(map[ident.InterfaceId]*set.Set[ident.ClassId]),
		defaultForIface: make(map[ident.InterfaceId]ident.ClassId),
		byPluginPath:    make(map[string]*set.Set[ident.ClassId]),
		singletons:      make(map[ident.ClassId]*SingletonSlot),
	}
}

// RegisterComponent validates and inserts info into all six indices as a
// single atomic step. On any validation failure nothing is mutated.
//
// Every component must publish ident.BaseInterface among info.Interfaces;
// this is a caller contract (spec §6), enforced here defensively rather
// than left to manifest as a confusing InterfaceNotImpl later.
func (r *Registry) RegisterComponent(info ComponentInfo) (*ComponentInfo, error) {
	if !info.Clsid.Valid() {
		return nil, cberrors.New(cberrors.Internal, "register_component: invalid clsid")
	}
	if info.Factory == nil {
		return nil, cberrors.New(cberrors.Internal, "register_component: nil factory for clsid %d", info.Clsid)
	}
	hasBase := false
	for _, d := range info.Interfaces {
		if d.IID == ident.BaseInterfaceID {
			hasBase = true
			break
		}
	}
	if !hasBase {
		return nil, cberrors.New(cberrors.Internal, "register_component: clsid %d does not list the base interface", info.Clsid)
	}

	r.mu.Lock()

	if _, exists := r.byClsid[info.Clsid]; exists {
		r.mu.Unlock()
		return nil, cberrors.New(cberrors.DuplicateClsid, "clsid %d already registered", info.Clsid)
	}
	if info.Alias != "" {
		if _, exists := r.byAlias[info.Alias]; exists {
			r.mu.Unlock()
			return nil, cberrors.New(cberrors.DuplicateClsid, "alias %q already registered", info.Alias)
		}
	}
	if info.IsDefault {
		for _, d := range info.Interfaces {
			if d.IID == ident.BaseInterfaceID {
				continue
			}
			if existing, exists := r.defaultForIface[d.IID]; exists {
				r.mu.Unlock()
				return nil, cberrors.New(cberrors.DefaultConflict,
					"interface %d already has default clsid %d", d.IID, existing)
			}
		}
	}

	r.nextSeq++
	info.seq = r.nextSeq
	stored := info

	r.byClsid[stored.Clsid] = &stored
	if stored.Alias != "" {
		r.byAlias[stored.Alias] = stored.Clsid
	}
	for _, d := range stored.Interfaces {
		s, ok := r.byIface[d.IID]
		if !ok {
			s = set.New[ident.ClassId](0)
			r.byIface[d.IID] = s
		}
		s.Insert(stored.Clsid)
	}
	if stored.IsDefault {
		for _, d := range stored.Interfaces {
			if d.IID == ident.BaseInterfaceID {
				continue
			}
			r.defaultForIface[d.IID] = stored.Clsid
		}
	}
	if stored.SourcePluginPath != "" {
		s, ok := r.byPluginPath[stored.SourcePluginPath]
		if !ok {
			s = set.New[ident.ClassId](0)
			r.byPluginPath[stored.SourcePluginPath] = s
		}
		s.Insert(stored.Clsid)
	}
	if stored.IsSingleton {
		r.singletons[stored.Clsid] = &SingletonSlot{}
	}

	result := r.byClsid[stored.Clsid]
	r.mu.Unlock()

	r.logger.Debug("registered component", "clsid", stored.Clsid, "alias", stored.Alias, "plugin", stored.SourcePluginPath)
	if r.publisher != nil {
		r.publisher.Publish(ComponentRegisterEvent{Clsid: stored.Clsid, Alias: stored.Alias})
	}

	return result, nil
}

// Rollback removes every clsid in clsids from all six indices. Used by the
// loader to undo a partially completed plugin load (spec §4.4): if entry
// registers three classes and then fails, all three are rolled back, not
// just the ones registered after the failure point.
func (r *Registry) Rollback(clsids []ident.ClassId) {
	if len(clsids) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, clsid := range clsids {
		info, ok := r.byClsid[clsid]
		if !ok {
			continue
		}
		delete(r.byClsid, clsid)
		if info.Alias != "" {
			delete(r.byAlias, info.Alias)
		}
		for _, d := range info.Interfaces {
			if s, ok := r.byIface[d.IID]; ok {
				s.Remove(clsid)
				if s.Empty() {
					delete(r.byIface, d.IID)
				}
			}
			if existing, ok := r.defaultForIface[d.IID]; ok && existing == clsid {
				delete(r.defaultForIface, d.IID)
			}
		}
		if info.SourcePluginPath != "" {
			if s, ok := r.byPluginPath[info.SourcePluginPath]; ok {
				s.Remove(clsid)
				if s.Empty() {
					delete(r.byPluginPath, info.SourcePluginPath)
				}
			}
		}
		delete(r.singletons, clsid)
	}
	r.logger.Debug("rolled back registrations", "count", len(clsids))
}

// Clear empties every index. Used by loader unload phase 2 (spec §4.4.3),
// after shutdown hooks have run and before libraries are unmapped.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byClsid = make(map[ident.ClassId]*ComponentInfo)
	r.byAlias = make(map[string]ident.ClassId)
	r.byIface = make(map[ident.InterfaceId]*set.Set[ident.ClassId])
	r.defaultForIface = make(map[ident.InterfaceId]ident.ClassId)
	r.byPluginPath = make(map[string]*set.Set[ident.ClassId])
	r.singletons = make(map[ident.ClassId]*SingletonSlot)
	r.nextSeq = 0
}

// LookupByClsid returns the ComponentInfo registered for clsid.
func (r *Registry) LookupByClsid(clsid ident.ClassId) (*ComponentInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byClsid[clsid]
	return info, ok
}

// LookupByAlias resolves a human-assigned alias to its clsid.
func (r *Registry) LookupByAlias(alias string) (ident.ClassId, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clsid, ok := r.byAlias[alias]
	return clsid, ok
}

// DefaultFor returns the clsid registered as the default implementation of
// iid, if one exists.
func (r *Registry) DefaultFor(iid ident.InterfaceId) (ident.ClassId, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clsid, ok := r.defaultForIface[iid]
	return clsid, ok
}

// ComponentsImplementing returns every registered class whose interface
// list includes iid, ordered by registration sequence.
func (r *Registry) ComponentsImplementing(iid ident.InterfaceId) []*ComponentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byIface[iid]
	if !ok {
		return nil
	}
	return r.sortedInfos(s.Slice())
}

// ComponentsOfPlugin returns every class a given plugin path registered,
// ordered by registration sequence. Used during targeted unload.
func (r *Registry) ComponentsOfPlugin(path string) []*ComponentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byPluginPath[path]
	if !ok {
		return nil
	}
	return r.sortedInfos(s.Slice())
}

// AllComponents returns every registered class, ordered by registration
// sequence.
func (r *Registry) AllComponents() []*ComponentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clsids := make([]ident.ClassId, 0, len(r.byClsid))
	for c := range r.byClsid {
		clsids = append(clsids, c)
	}
	return r.sortedInfos(clsids)
}

// SingletonSlot returns the slot backing clsid's shared instance. Ok is
// false if clsid is not registered as a singleton (or not registered at
// all). The returned slot is not protected against a concurrent
// Rollback/Clear removing the entry after this call returns;
// component.GetService fetches the slot afresh on every call rather than
// retaining it.
func (r *Registry) SingletonSlot(clsid ident.ClassId) (*SingletonSlot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.singletons[clsid]
	return slot, ok
}

// sortedInfos resolves clsids to their ComponentInfo and sorts by
// registration sequence. Caller must hold r.mu (read or write).
func (r *Registry) sortedInfos(clsids []ident.ClassId) []*ComponentInfo {
	infos := make([]*ComponentInfo, 0, len(clsids))
	for _, c := range clsids {
		if info, ok := r.byClsid[c]; ok {
			infos = append(infos, info)
		}
	}
	for i := 1; i < len(infos); i++ {
		for j := i; j > 0 && infos[j-1].seq > infos[j].seq; j-- {
			infos[j-1], infos[j] = infos[j], infos[j-1]
		}
	}
	return infos
}
