// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

// Package component implements creation and typed query of component
// instances on top of registry: create-transient, get-singleton
// (once-initialization with captured failure), default-implementation
// resolution, and the version-gated interface cast (spec §4.3).
package component

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/componentbus/corebus/cberrors"
	"github.com/componentbus/corebus/ident"
	"github.com/componentbus/corebus/registry"
)

// Instances turns registry lookups into live, reference-counted component
// handles. One Instances wraps one Registry; the root package's Manager
// owns exactly one of each.
type Instances struct {
	reg    *registry.Registry
	logger hclog.Logger

	mu               sync.Mutex
	singletonHandles map[ident.ClassId]*Handle
}

// New builds an Instances backed by reg.
func New(reg *registry.Registry, logger hclog.Logger) *Instances {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Instances{
		reg:              reg,
		logger:           logger.Named("component"),
		singletonHandles: make(map[ident.ClassId]*Handle),
	}
}

// CreateTransient constructs a fresh instance of clsid (spec §4.3
// create_transient). Fails ClsidNotFound if clsid isn't registered,
// NotAComponent if clsid is a singleton.
func (in *Instances) CreateTransient(clsid ident.ClassId) (*Handle, error) {
	info, ok := in.reg.LookupByClsid(clsid)
	if !ok {
		return nil, cberrors.New(cberrors.ClsidNotFound, "clsid %d not registered", clsid)
	}
	if info.IsSingleton {
		return nil, cberrors.New(cberrors.NotAComponent, "clsid %d is a singleton; use get_service", clsid)
	}

	inst, err := construct(info)
	if err != nil {
		return nil, err
	}
	if err := runInitialize(inst); err != nil {
		return nil, cberrors.Wrap(cberrors.FactoryFailed, err, "initialize failed for clsid %d", clsid)
	}
	return newHandle(clsid, info, inst), nil
}

// GetService resolves clsid's singleton instance (spec §4.3 get_service,
// §4.3.2 once-initialization). Fails ClsidNotFound if clsid isn't
// registered, NotAService if clsid is transient. The first caller runs the
// factory and Initialize; every other caller, concurrent or not, observes
// the same success or the same captured failure.
func (in *Instances) GetService(clsid ident.ClassId) (*Handle, error) {
	info, ok := in.reg.LookupByClsid(clsid)
	if !ok {
		return nil, cberrors.New(cberrors.ClsidNotFound, "clsid %d not registered", clsid)
	}
	if !info.IsSingleton {
		return nil, cberrors.New(cberrors.NotAService, "clsid %d is transient; use create_transient", clsid)
	}

	slot, ok := in.reg.SingletonSlot(clsid)
	if !ok {
		return nil, cberrors.New(cberrors.Internal, "clsid %d marked singleton but has no slot", clsid)
	}

	key := fmt.Sprintf("%d", uint64(clsid))
	inst, err := slot.Resolve(key, func() (registry.Instance, error) {
		inst, err := construct(info)
		if err != nil {
			return nil, err
		}
		if err := runInitialize(inst); err != nil {
			return nil, cberrors.Wrap(cberrors.FactoryFailed, err, "initialize failed for clsid %d", clsid)
		}
		return inst, nil
	})
	if err != nil {
		return nil, err
	}

	return in.sharedHandle(clsid, info, inst).AddRef(), nil
}

// ResolvedSingletonHandle returns clsid's shared handle if and only if its
// singleton has already been successfully resolved by some prior
// GetService call. It never triggers construction; the loader's unload
// phase 1 (spec §4.4) uses this to collect "singletons that have been
// initialized" without accidentally constructing one just to shut it down.
func (in *Instances) ResolvedSingletonHandle(clsid ident.ClassId) (*Handle, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	h, ok := in.singletonHandles[clsid]
	return h, ok
}

// ClearSingletons empties the singleton-handle cache and returns every
// handle it held, transferring their intrinsic reference to the caller.
// Used by the loader's unload phase 2 (spec §4.4): the caller Releases
// each returned handle once the registry has been cleared, which is what
// drops a singleton's refcount from 1 to 0 and runs its Shutdown hook (a
// no-op by then, since phase 1 already ran it) while the library is still
// mapped.
func (in *Instances) ClearSingletons() []*Handle {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]*Handle, 0, len(in.singletonHandles))
	for _, h := range in.singletonHandles {
		out = append(out, h)
	}
	in.singletonHandles = make(map[ident.ClassId]*Handle)
	return out
}

// sharedHandle returns the single Handle all GetService callers for clsid
// share, creating it the first time the slot resolves successfully.
func (in *Instances) sharedHandle(clsid ident.ClassId, info *registry.ComponentInfo, inst registry.Instance) *Handle {
	in.mu.Lock()
	defer in.mu.Unlock()
	if h, ok := in.singletonHandles[clsid]; ok {
		return h
	}
	h := newHandle(clsid, info, inst)
	in.singletonHandles[clsid] = h
	return h
}

// CreateDefault resolves iid to its default clsid and creates a transient
// instance of it. Fails AliasNotFound if no default is registered for iid,
// matching spec §4.3's explicit wording.
func (in *Instances) CreateDefault(iid ident.InterfaceId) (*Handle, error) {
	clsid, ok := in.reg.DefaultFor(iid)
	if !ok {
		return nil, cberrors.New(cberrors.AliasNotFound, "no default registered for interface %d", iid)
	}
	return in.CreateTransient(clsid)
}

// GetDefaultService resolves iid to its default clsid and fetches its
// singleton instance. Fails AliasNotFound if no default is registered.
func (in *Instances) GetDefaultService(iid ident.InterfaceId) (*Handle, error) {
	clsid, ok := in.reg.DefaultFor(iid)
	if !ok {
		return nil, cberrors.New(cberrors.AliasNotFound, "no default registered for interface %d", iid)
	}
	return in.GetService(clsid)
}

// QueryInterface runs the version-gated cast of spec §4.3.1: iid must be
// in h's class's static interface list (else InterfaceNotImpl), the
// registered major must equal callerMajor (else VersionMajorMismatch), and
// the registered minor must be at least callerMinor (else
// VersionMinorTooLow). On success the returned InterfaceRef shares
// ownership with h.
func (in *Instances) QueryInterface(h *Handle, iid ident.InterfaceId, callerMajor, callerMinor uint32) (*InterfaceRef, error) {
	desc, ok := h.info.DescriptorFor(iid)
	if !ok {
		return nil, cberrors.New(cberrors.InterfaceNotImpl, "clsid %d does not implement interface %d", h.clsid, iid)
	}
	if desc.Major != callerMajor {
		return nil, cberrors.New(cberrors.VersionMajorMismatch,
			"interface %d: registered major %d, caller wants %d", iid, desc.Major, callerMajor)
	}
	if desc.Minor < callerMinor {
		return nil, cberrors.New(cberrors.VersionMinorTooLow,
			"interface %d: registered minor %d, caller needs %d", iid, desc.Minor, callerMinor)
	}

	value, err := h.instance.Cast(iid)
	if err != nil {
		return nil, cberrors.Wrap(cberrors.Internal, err, "cast failed for interface %d on clsid %d", iid, h.clsid)
	}
	return &InterfaceRef{handle: h.AddRef(), value: value}, nil
}

// CreateTransientAs is the convenience form spec §4.3 describes combining
// lookup, factory, and query in one call.
func (in *Instances) CreateTransientAs(clsid ident.ClassId, iid ident.InterfaceId, major, minor uint32) (*InterfaceRef, error) {
	h, err := in.CreateTransient(clsid)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return in.QueryInterface(h, iid, major, minor)
}

// GetServiceAs combines GetService and QueryInterface in one call.
func (in *Instances) GetServiceAs(clsid ident.ClassId, iid ident.InterfaceId, major, minor uint32) (*InterfaceRef, error) {
	h, err := in.GetService(clsid)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return in.QueryInterface(h, iid, major, minor)
}

func construct(info *registry.ComponentInfo) (inst registry.Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst = nil
			err = cberrors.New(cberrors.FactoryFailed, "factory for clsid %d panicked: %v", info.Clsid, r)
		}
	}()
	inst, err = info.Factory()
	if err != nil {
		return nil, cberrors.Wrap(cberrors.FactoryFailed, err, "factory failed for clsid %d", info.Clsid)
	}
	if inst == nil {
		return nil, cberrors.New(cberrors.FactoryFailed, "factory for clsid %d returned nil", info.Clsid)
	}
	return inst, nil
}

func runInitialize(inst registry.Instance) (err error) {
	initer, ok := inst.(Initializer)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initialize panicked: %v", r)
		}
	}()
	return initer.Initialize()
}
