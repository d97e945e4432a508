// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

package loader

import "github.com/componentbus/corebus/ident"

// Publisher is the narrow event-publish capability the loader needs.
// Declared locally (not imported from eventbus) for the same reason as
// registry.Publisher: it keeps loader below eventbus in the dependency
// order, while eventbus.Bus still satisfies it structurally.
type Publisher interface {
	Publish(event any)
}

var (
	pluginLoadSuccessEventID = ident.NewEventId("6b8f1e3a-2c4d-4a5a-9f0e-7a1b2c3d4e5f")
	pluginLoadFailureEventID = ident.NewEventId("9d2f4a7b-6e1c-4b3a-8f9d-0a1b2c3d4e60")
)

// PluginLoadSuccessEvent is published after Load commits a plugin's
// registrations (spec §4.4 step 6).
type PluginLoadSuccessEvent struct {
	Path          string
	CorrelationID string
}

func (PluginLoadSuccessEvent) EventID() ident.EventId { return pluginLoadSuccessEventID }
func (PluginLoadSuccessEvent) Name() string           { return "corebus.PluginLoadSuccessEvent" }

// PluginLoadFailureEvent is published whenever Load fails, at any of its
// four failure points (open, resolve, unexpected entry symbol type,
// entry-raised), each carrying a non-empty diagnostic message.
type PluginLoadFailureEvent struct {
	Path          string
	CorrelationID string
	Message       string
}

func (PluginLoadFailureEvent) EventID() ident.EventId { return pluginLoadFailureEventID }
func (PluginLoadFailureEvent) Name() string            { return "corebus.PluginLoadFailureEvent" }
