// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

package corebus

import (
	"github.com/componentbus/corebus/cberrors"
	"github.com/componentbus/corebus/component"
	"github.com/componentbus/corebus/ident"
)

// errNoActiveManager is returned by every package-level locator function
// when no Manager has been installed with SetGlobal, mirroring the
// original's "PluginManager is not active or has been destroyed" check
// ahead of every z3y::GetService-family call.
func errNoActiveManager() error {
	return cberrors.New(cberrors.Internal, "corebus: no active Manager (call SetGlobal first)")
}

// GetService is the package-level service-locator form of
// Manager.GetService (spec §9, original_source
// z3y_service_locator.h): it reaches the process-wide Global Manager so
// plugin code deep in a call stack never has to carry its own Manager
// reference.
func GetService(clsid ident.ClassId) (*component.Handle, error) {
	m, ok := Global()
	if !ok {
		return nil, errNoActiveManager()
	}
	return m.GetService(clsid)
}

// GetDefaultService is the package-level form of Manager.GetDefaultService.
func GetDefaultService(iid ident.InterfaceId) (*component.Handle, error) {
	m, ok := Global()
	if !ok {
		return nil, errNoActiveManager()
	}
	return m.GetDefaultService(iid)
}

// CreateTransient is the package-level form of Manager.CreateTransient.
func CreateTransient(clsid ident.ClassId) (*component.Handle, error) {
	m, ok := Global()
	if !ok {
		return nil, errNoActiveManager()
	}
	return m.CreateTransient(clsid)
}

// CreateDefault is the package-level form of Manager.CreateDefault.
func CreateDefault(iid ident.InterfaceId) (*component.Handle, error) {
	m, ok := Global()
	if !ok {
		return nil, errNoActiveManager()
	}
	return m.CreateDefault(iid)
}

// GetServiceAs is the package-level form of Manager.GetServiceAs,
// combining singleton lookup and the version-gated interface query.
func GetServiceAs(clsid ident.ClassId, iid ident.InterfaceId, major, minor uint32) (*component.InterfaceRef, error) {
	m, ok := Global()
	if !ok {
		return nil, errNoActiveManager()
	}
	return m.GetServiceAs(clsid, iid, major, minor)
}

// CreateTransientAs is the package-level form of
// Manager.CreateTransientAs.
func CreateTransientAs(clsid ident.ClassId, iid ident.InterfaceId, major, minor uint32) (*component.InterfaceRef, error) {
	m, ok := Global()
	if !ok {
		return nil, errNoActiveManager()
	}
	return m.CreateTransientAs(clsid, iid, major, minor)
}
