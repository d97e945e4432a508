// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

package loader

import (
	"github.com/componentbus/corebus/ident"
	"github.com/componentbus/corebus/registry"
)

// Registrar is the registry-facing adaptor passed to a plugin's entry
// function (spec §6). It is scoped to exactly one Load call: every
// RegisterComponent through it is tagged with the path being loaded and
// appended to this load's rollback list, so a single Rollback call can
// undo the whole transaction if the entry function later fails.
type Registrar struct {
	reg        *registry.Registry
	path       string
	registered []ident.ClassId
}

// RegisterComponent is the one registration call a plugin's entry function
// makes, one or more times, per spec §6: "The plugin invokes
// register_component(clsid, factory, is_singleton, alias, interfaces,
// is_default) one or more times." interfaces must include
// ident.BaseInterface; registry.RegisterComponent enforces that.
func (r *Registrar) RegisterComponent(
	clsid ident.ClassId,
	factory registry.Factory,
	isSingleton bool,
	alias string,
	interfaces []ident.InterfaceDescriptor,
	isDefault bool,
) error {
	info := registry.ComponentInfo{
		Clsid:            clsid,
		IsSingleton:      isSingleton,
		Alias:            alias,
		SourcePluginPath: r.path,
		Interfaces:       interfaces,
		IsDefault:        isDefault,
		Factory:          factory,
	}
	registered, err := r.reg.RegisterComponent(info)
	if err != nil {
		return err
	}
	r.registered = append(r.registered, registered.Clsid)
	return nil
}
