// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

// Package loader implements the transactional shared-library load/unload
// described by spec §4.4: open, resolve the entry symbol, call it under a
// registration transaction, commit on success or roll back every
// registration and close the library on failure; and a strict
// three-phase shutdown for unloading everything at once.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-uuid"

	"github.com/componentbus/corebus/cberrors"
	"github.com/componentbus/corebus/component"
	"github.com/componentbus/corebus/platform"
	"github.com/componentbus/corebus/registry"
)

// EntryFunc is the signature a plugin's exported entry symbol must have
// (spec §6): it takes the registry-facing adaptor and returns nothing. It
// may panic instead of returning an error; Load treats a panic exactly
// like an explicit failure and still rolls back.
type EntryFunc func(*Registrar)

// DefaultEntrySymbol is the default exported symbol name Load resolves,
// overridable per call (spec §6).
const DefaultEntrySymbol = "plugin_init"

// loadedLib records one successfully loaded shared library, in load order.
type loadedLib struct {
	path   string
	handle platform.LibraryHandle
}

// Config controls loader tunables. All fields have defaults applied by
// New.
type Config struct {
	Logger hclog.Logger
	// Backend is the platform abstraction used to open/resolve/close
	// shared libraries. Defaults to platform.NewDefaultBackend().
	Backend platform.Backend
	// EntrySymbol is the exported symbol name resolved on every Load
	// unless a call overrides it. Defaults to DefaultEntrySymbol.
	EntrySymbol string
	// DirectoryExtensions restricts LoadDirectory to files with one of
	// these extensions (leading dot, e.g. ".so"). A nil/empty slice
	// selects the host platform's own shared-library extension.
	DirectoryExtensions []string
}

// Loader owns the ordered list of opened libraries and turns plugin entry
// calls into registry transactions (spec §4.4).
type Loader struct {
	logger      hclog.Logger
	backend     platform.Backend
	entrySymbol string
	extensions  []string

	reg       *registry.Registry
	instances *component.Instances
	publisher Publisher

	mu   sync.Mutex
	libs []loadedLib
}

// New builds a Loader. reg and instances are the registry and instance
// factory it registers plugins into and tears down singletons through;
// publisher may be nil.
func New(cfg Config, reg *registry.Registry, instances *component.Instances, publisher Publisher) *Loader {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	backend := cfg.Backend
	if backend == nil {
		backend = platform.NewDefaultBackend()
	}
	entrySymbol := cfg.EntrySymbol
	if entrySymbol == "" {
		entrySymbol = DefaultEntrySymbol
	}
	extensions := cfg.DirectoryExtensions
	if len(extensions) == 0 {
		extensions = []string{platformSharedLibExtension()}
	}
	return &Loader{
		logger:      logger.Named("loader"),
		backend:     backend,
		entrySymbol: entrySymbol,
		extensions:  extensions,
		reg:         reg,
		instances:   instances,
		publisher:   publisher,
	}
}

// IsLoaded reports whether path is already in the loaded set.
func (l *Loader) IsLoaded(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.indexOf(path) >= 0
}

// indexOf returns the index of path in l.libs, or -1. Caller must hold l.mu.
func (l *Loader) indexOf(path string) int {
	for i, lib := range l.libs {
		if lib.path == path {
			return i
		}
	}
	return -1
}

// Load turns path into zero or more registrations (spec §4.4 "Load one
// library"). It is idempotent on path: loading the same path twice is a
// no-op success the second time (spec §8).
func (l *Loader) Load(path string) error {
	if l.IsLoaded(path) {
		l.logger.Debug("load: already loaded, no-op", "path", path)
		return nil
	}

	correlationID, _ := uuid.GenerateUUID()

	handle, err := l.backend.OpenLibrary(path)
	if err != nil {
		msg := fmt.Sprintf("open_library failed: %v", err)
		l.publishFailure(path, correlationID, msg)
		return cberrors.Wrap(cberrors.Internal, err, "loader: open %s", path)
	}

	symPtr, err := l.backend.ResolveSymbol(handle, l.entrySymbol)
	if err != nil || symPtr == nil {
		_ = l.backend.CloseLibrary(handle)
		msg := fmt.Sprintf("resolve_symbol(%s) failed: %v", l.entrySymbol, err)
		l.publishFailure(path, correlationID, msg)
		return cberrors.New(cberrors.Internal, "loader: resolve %s in %s", l.entrySymbol, path)
	}

	entry, ok := symPtr.(EntryFunc)
	if !ok {
		if fn, ok2 := symPtr.(func(*Registrar)); ok2 {
			entry = fn
		} else {
			_ = l.backend.CloseLibrary(handle)
			msg := fmt.Sprintf("symbol %s has unexpected type %T", l.entrySymbol, symPtr)
			l.publishFailure(path, correlationID, msg)
			return cberrors.New(cberrors.Internal, "loader: %s", msg)
		}
	}

	registrar := &Registrar{reg: l.reg, path: path}
	if failMsg := l.invokeEntry(entry, registrar); failMsg != "" {
		l.reg.Rollback(registrar.registered)
		_ = l.backend.CloseLibrary(handle)
		l.publishFailure(path, correlationID, failMsg)
		return cberrors.New(cberrors.Internal, "loader: entry for %s failed: %s", path, failMsg)
	}

	l.mu.Lock()
	l.libs = append(l.libs, loadedLib{path: path, handle: handle})
	l.mu.Unlock()

	l.logger.Info("plugin loaded", "path", path, "components", len(registrar.registered))
	if l.publisher != nil {
		l.publisher.Publish(PluginLoadSuccessEvent{Path: path, CorrelationID: correlationID})
	}
	return nil
}

// invokeEntry calls entry, converting a panic into a failure message
// instead of propagating it (spec §4.4 step 7: "If entry raised").
func (l *Loader) invokeEntry(entry EntryFunc, registrar *Registrar) (failureMessage string) {
	defer func() {
		if r := recover(); r != nil {
			failureMessage = fmt.Sprintf("entry function panicked: %v", r)
		}
	}()
	entry(registrar)
	return ""
}

func (l *Loader) publishFailure(path, correlationID, message string) {
	l.logger.Warn("plugin load failed", "path", path, "error", message)
	if l.publisher != nil {
		l.publisher.Publish(PluginLoadFailureEvent{Path: path, CorrelationID: correlationID, Message: message})
	}
}

// LoadFailure pairs a path with the error LoadDirectory observed loading
// it.
type LoadFailure struct {
	Path string
	Err  error
}

// LoadDirectory loads every file under dir whose extension matches the
// loader's configured set (spec §4.4 "Load directory"). Successes are
// silent; every failure is both collected into the returned slice and
// folded into a single *multierror.Error for one summary diagnostic line
// (this package's answer to spec §7's requirement that loader failures
// "never crash the process" even when several plugins in a directory fail
// independently).
func (l *Loader) LoadDirectory(dir string, recursive bool) ([]LoadFailure, error) {
	paths, err := l.discover(dir, recursive)
	if err != nil {
		return nil, cberrors.Wrap(cberrors.Internal, err, "loader: scan directory %s", dir)
	}

	var failures []LoadFailure
	var summary *multierror.Error
	for _, p := range paths {
		if err := l.Load(p); err != nil {
			failures = append(failures, LoadFailure{Path: p, Err: err})
			summary = multierror.Append(summary, fmt.Errorf("%s: %w", p, err))
		}
	}
	if summary != nil {
		l.logger.Warn("load_directory completed with failures", "dir", dir, "failures", len(failures), "summary", summary.Error())
	}
	return failures, summary.ErrorOrNil()
}

func (l *Loader) discover(dir string, recursive bool) ([]string, error) {
	var out []string
	collect := func(path string, isDir bool) {
		if isDir {
			return
		}
		for _, ext := range l.extensions {
			if filepath.Ext(path) == ext {
				out = append(out, path)
				return
			}
		}
	}

	if recursive {
		err := filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			collect(path, info.IsDir())
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			collect(filepath.Join(dir, e.Name()), e.IsDir())
		}
	}

	sort.Strings(out)
	return out, nil
}

// LoadedPaths returns every currently loaded path, in load order.
func (l *Loader) LoadedPaths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.libs))
	for i, lib := range l.libs {
		out[i] = lib.path
	}
	return out
}
