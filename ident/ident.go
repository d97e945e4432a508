// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

// Package ident computes the stable 64-bit identifiers that the rest of
// corebus uses for identity comparisons: ClassId for component classes,
// InterfaceId for interface types, and EventId for event types.
//
// Every identifier is derived from a UUID string the caller supplies (a
// component, interface, or event author picks one UUID and never changes
// it). The derivation is a fixed FNV-1a hash over the UUID's UTF-8 bytes,
// chosen so two different UUIDs never collide in practice and so that
// identity comparisons on hot paths are plain integer equality rather than
// string comparison or RTTI.
package ident

import "hash/fnv"

// ClassId identifies a concrete component class.
type ClassId uint64

// InterfaceId identifies an interface type together with its version.
// Only the iid portion participates in the hash; (major, minor) are carried
// alongside it in an InterfaceDescriptor, not folded into the hash, so that
// a minor version bump does not change identity.
type InterfaceId uint64

// EventId identifies an event type.
type EventId uint64

// Invalid is the reserved zero value shared by ClassId, InterfaceId, and
// EventId. A generator that hashes an empty or malformed UUID string must
// never be trusted to produce it; callers should treat a zero id as a bug.
const Invalid = 0

// HashUUID runs the framework's fixed FNV-1a hash over the UTF-8 bytes of a
// UUID string. It never returns 0 for a non-empty input in practice, but
// callers that need a hard guarantee should reject an Invalid result.
func HashUUID(uuid string) uint64 {
	h := fnv.New64a()
	// hash.Hash.Write never returns an error.
	_, _ = h.Write([]byte(uuid))
	return h.Sum64()
}

// NewClassId derives a ClassId from a component class's UUID string.
func NewClassId(uuid string) ClassId { return ClassId(HashUUID(uuid)) }

// NewInterfaceId derives an InterfaceId from an interface type's UUID string.
func NewInterfaceId(uuid string) InterfaceId { return InterfaceId(HashUUID(uuid)) }

// NewEventId derives an EventId from an event type's UUID string.
func NewEventId(uuid string) EventId { return EventId(HashUUID(uuid)) }

// Valid reports whether id is not the reserved zero value.
func (id ClassId) Valid() bool { return id != Invalid }

// Valid reports whether id is not the reserved zero value.
func (id InterfaceId) Valid() bool { return id != Invalid }

// Valid reports whether id is not the reserved zero value.
func (id EventId) Valid() bool { return id != Invalid }

// InterfaceDescriptor is the constant, compile-time-produced 4-tuple every
// interface type carries: its identifier, a human-readable name (used only
// in diagnostics, never in identity comparisons), and a major.minor version.
//
// Major is the breaking-change axis: a caller and an implementation must
// agree on major exactly. Minor is additive: an implementation's minor must
// be at least as high as what the caller requires.
type InterfaceDescriptor struct {
	IID   InterfaceId
	Name  string
	Major uint32
	Minor uint32
}

// BaseInterfaceUUID is the UUID string of the universal base interface that
// every registered component must implement (§6 registration constraints).
// It carries no methods of its own; its sole purpose is to give
// query_interface and the default-implementation conflict check a common
// "not a specific capability" interface every component answers to.
const BaseInterfaceUUID = "00000000-0000-0000-0000-000000000001"

// BaseInterfaceID is the InterfaceId of the universal base interface.
var BaseInterfaceID = NewInterfaceId(BaseInterfaceUUID)

// BaseInterface is the InterfaceDescriptor every component's interface list
// must include.
var BaseInterface = InterfaceDescriptor{
	IID:   BaseInterfaceID,
	Name:  "corebus.IUnknown",
	Major: 1,
	Minor: 0,
}
