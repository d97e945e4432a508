// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

package component

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/componentbus/corebus/cberrors"
	"github.com/componentbus/corebus/ident"
	"github.com/componentbus/corebus/registry"
)

var (
	widgetIface = ident.InterfaceDescriptor{
		IID:   ident.NewInterfaceId("widget-iface-uuid"),
		Name:  "test.IWidget",
		Major: 1,
		Minor: 2,
	}
	otherIface = ident.InterfaceDescriptor{
		IID:   ident.NewInterfaceId("other-iface-uuid"),
		Name:  "test.IOther",
		Major: 1,
		Minor: 0,
	}
)

// countingWidget tracks how many times Initialize/Shutdown run and gives
// each instance a distinct identity for freshness checks.
type countingWidget struct {
	id          int
	initCalls   *int32
	shutCalls   *int32
	initErr     error
	shutErr     error
	shutPanic   bool
}

func (w *countingWidget) Cast(iid ident.InterfaceId) (any, error) {
	switch iid {
	case ident.BaseInterfaceID, widgetIface.IID:
		return w, nil
	default:
		return nil, nil
	}
}

func (w *countingWidget) Initialize() error {
	atomic.AddInt32(w.initCalls, 1)
	return w.initErr
}

func (w *countingWidget) Shutdown() error {
	atomic.AddInt32(w.shutCalls, 1)
	if w.shutPanic {
		panic("boom")
	}
	return w.shutErr
}

func newRegistryWithWidget(t *testing.T, isSingleton bool) (*registry.Registry, ident.ClassId, *int32, *int32) {
	t.Helper()
	r := registry.New(nil, nil)
	var initCalls, shutCalls int32
	var nextID int32
	info := registry.ComponentInfo{
		Clsid:       ident.NewClassId("widget-" + t.Name()),
		IsSingleton: isSingleton,
		Interfaces:  []ident.InterfaceDescriptor{ident.BaseInterface, widgetIface},
		Factory: func() (registry.Instance, error) {
			id := atomic.AddInt32(&nextID, 1)
			return &countingWidget{id: int(id), initCalls: &initCalls, shutCalls: &shutCalls}, nil
		},
	}
	registered, err := r.RegisterComponent(info)
	require.NoError(t, err)
	return r, registered.Clsid, &initCalls, &shutCalls
}

func TestCreateTransient_DistinctObjectsEachCall(t *testing.T) {
	t.Parallel()

	r, clsid, initCalls, _ := newRegistryWithWidget(t, false)
	in := New(r, nil)

	seen := make(map[int]bool)
	for i := 0; i < 5; i++ {
		h, err := in.CreateTransient(clsid)
		require.NoError(t, err)
		w := h.instance.(*countingWidget)
		require.False(t, seen[w.id], "object identity %d reused", w.id)
		seen[w.id] = true
	}
	require.Len(t, seen, 5)
	require.EqualValues(t, 5, atomic.LoadInt32(initCalls))
}

func TestCreateTransient_RejectsSingleton(t *testing.T) {
	t.Parallel()

	r, clsid, _, _ := newRegistryWithWidget(t, true)
	in := New(r, nil)

	_, err := in.CreateTransient(clsid)
	require.True(t, cberrors.Is(err, cberrors.NotAComponent))
}

func TestCreateTransient_UnknownClsid(t *testing.T) {
	t.Parallel()

	in := New(registry.New(nil, nil), nil)
	_, err := in.CreateTransient(ident.NewClassId("nope"))
	require.True(t, cberrors.Is(err, cberrors.ClsidNotFound))
}

func TestGetService_RejectsTransient(t *testing.T) {
	t.Parallel()

	r, clsid, _, _ := newRegistryWithWidget(t, false)
	in := New(r, nil)

	_, err := in.GetService(clsid)
	require.True(t, cberrors.Is(err, cberrors.NotAService))
}

func TestGetService_SameObjectConcurrently(t *testing.T) {
	t.Parallel()

	r, clsid, initCalls, _ := newRegistryWithWidget(t, true)
	in := New(r, nil)

	const n = 20
	handles := make([]*Handle, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			h, err := in.GetService(clsid)
			require.NoError(t, err)
			handles[i] = h
		}()
	}
	wg.Wait()

	first := handles[0].instance.(*countingWidget).id
	for _, h := range handles {
		require.Equal(t, first, h.instance.(*countingWidget).id)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(initCalls))
}

func TestGetService_FailureIsSticky(t *testing.T) {
	t.Parallel()

	r := registry.New(nil, nil)
	boom := errors.New("construction boom")
	info := registry.ComponentInfo{
		Clsid:       ident.NewClassId("sticky-fail"),
		IsSingleton: true,
		Interfaces:  []ident.InterfaceDescriptor{ident.BaseInterface, widgetIface},
		Factory:     func() (registry.Instance, error) { return nil, boom },
	}
	registered, err := r.RegisterComponent(info)
	require.NoError(t, err)

	in := New(r, nil)
	_, err1 := in.GetService(registered.Clsid)
	_, err2 := in.GetService(registered.Clsid)
	require.True(t, cberrors.Is(err1, cberrors.FactoryFailed))
	require.True(t, cberrors.Is(err2, cberrors.FactoryFailed))
}

func TestQueryInterface_VersionGate(t *testing.T) {
	t.Parallel()

	r, clsid, _, _ := newRegistryWithWidget(t, false)
	in := New(r, nil)
	h, err := in.CreateTransient(clsid)
	require.NoError(t, err)

	ref, err := in.QueryInterface(h, widgetIface.IID, 1, 0)
	require.NoError(t, err)
	require.NotNil(t, ref.Value())
	require.NoError(t, ref.Release())

	_, err = in.QueryInterface(h, widgetIface.IID, 1, 3)
	require.True(t, cberrors.Is(err, cberrors.VersionMinorTooLow))

	_, err = in.QueryInterface(h, widgetIface.IID, 2, 0)
	require.True(t, cberrors.Is(err, cberrors.VersionMajorMismatch))

	_, err = in.QueryInterface(h, otherIface.IID, 1, 0)
	require.True(t, cberrors.Is(err, cberrors.InterfaceNotImpl))
}

func TestHandle_ShutdownRunsOnceAtZeroRefs(t *testing.T) {
	t.Parallel()

	r, clsid, _, shutCalls := newRegistryWithWidget(t, false)
	in := New(r, nil)
	h, err := in.CreateTransient(clsid)
	require.NoError(t, err)

	h.AddRef()
	require.NoError(t, h.Release())
	require.EqualValues(t, 0, atomic.LoadInt32(shutCalls), "shutdown must not fire while a reference remains")

	require.NoError(t, h.Release())
	require.EqualValues(t, 1, atomic.LoadInt32(shutCalls))

	// Calling runShutdown again (as the loader's explicit unload walk
	// would) must not invoke Shutdown a second time.
	require.NoError(t, h.runShutdown())
	require.EqualValues(t, 1, atomic.LoadInt32(shutCalls))
}

func TestHandle_ShutdownPanicIsCaptured(t *testing.T) {
	t.Parallel()

	r := registry.New(nil, nil)
	var shutCalls, initCalls int32
	info := registry.ComponentInfo{
		Clsid:      ident.NewClassId("panicky-shutdown"),
		Interfaces: []ident.InterfaceDescriptor{ident.BaseInterface, widgetIface},
		Factory: func() (registry.Instance, error) {
			return &countingWidget{initCalls: &initCalls, shutCalls: &shutCalls, shutPanic: true}, nil
		},
	}
	registered, err := r.RegisterComponent(info)
	require.NoError(t, err)

	in := New(r, nil)
	h, err := in.CreateTransient(registered.Clsid)
	require.NoError(t, err)

	shutErr := h.Release()
	require.Error(t, shutErr)
	require.Contains(t, shutErr.Error(), "panicked")
}

func TestCreateDefault_NoDefaultRegistered(t *testing.T) {
	t.Parallel()

	in := New(registry.New(nil, nil), nil)
	_, err := in.CreateDefault(widgetIface.IID)
	require.True(t, cberrors.Is(err, cberrors.AliasNotFound))
}

func TestGetServiceAs_CombinesLookupAndQuery(t *testing.T) {
	t.Parallel()

	r, clsid, _, _ := newRegistryWithWidget(t, true)
	in := New(r, nil)

	ref, err := in.GetServiceAs(clsid, widgetIface.IID, 1, 0)
	require.NoError(t, err)
	require.NotNil(t, ref.Value())
	require.NoError(t, ref.Release())
}
