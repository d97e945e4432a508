// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/componentbus/corebus/cberrors"
	"github.com/componentbus/corebus/ident"
)

type fakeInstance struct{}

func (fakeInstance) Cast(ident.InterfaceId) (any, error) { return nil, nil }

var widgetIface = ident.InterfaceDescriptor{
	IID:   ident.NewInterfaceId("widget-iface-uuid"),
	Name:  "test.IWidget",
	Major: 1,
	Minor: 0,
}

func baseInfo(clsidUUID string) ComponentInfo {
	return ComponentInfo{
		Clsid:      ident.NewClassId(clsidUUID),
		Interfaces: []ident.InterfaceDescriptor{ident.BaseInterface, widgetIface},
		Factory:    func() (Instance, error) { return fakeInstance{}, nil },
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *recordingPublisher) Publish(event any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func TestRegisterComponent_RejectsMissingBaseInterface(t *testing.T) {
	t.Parallel()

	r := New(nil, nil)
	info := ComponentInfo{
		Clsid:      ident.NewClassId("no-base"),
		Interfaces: []ident.InterfaceDescriptor{widgetIface},
		Factory:    func() (Instance, error) { return fakeInstance{}, nil },
	}
	_, err := r.RegisterComponent(info)
	require.True(t, cberrors.Is(err, cberrors.Internal))
}

func TestRegisterComponent_DuplicateClsid(t *testing.T) {
	t.Parallel()

	r := New(nil, nil)
	info := baseInfo("dup-clsid")
	_, err := r.RegisterComponent(info)
	require.NoError(t, err)

	_, err = r.RegisterComponent(info)
	require.True(t, cberrors.Is(err, cberrors.DuplicateClsid))
}

func TestRegisterComponent_DuplicateAlias(t *testing.T) {
	t.Parallel()

	r := New(nil, nil)
	a := baseInfo("alias-a")
	a.Alias = "widget"
	b := baseInfo("alias-b")
	b.Alias = "widget"

	_, err := r.RegisterComponent(a)
	require.NoError(t, err)
	_, err = r.RegisterComponent(b)
	require.True(t, cberrors.Is(err, cberrors.DuplicateClsid))
}

func TestRegisterComponent_DefaultConflict(t *testing.T) {
	t.Parallel()

	r := New(nil, nil)
	a := baseInfo("default-a")
	a.IsDefault = true
	b := baseInfo("default-b")
	b.IsDefault = true

	_, err := r.RegisterComponent(a)
	require.NoError(t, err)

	_, err = r.RegisterComponent(b)
	require.True(t, cberrors.Is(err, cberrors.DefaultConflict))

	// Failed registration must not have partially applied: clsid b is
	// completely absent, not half-registered.
	_, ok := r.LookupByClsid(b.Clsid)
	require.False(t, ok)
}

func TestRegisterComponent_PublishesEvent(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	r := New(nil, pub)
	info := baseInfo("published")
	info.Alias = "pub-widget"

	_, err := r.RegisterComponent(info)
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	evt, ok := pub.events[0].(ComponentRegisterEvent)
	require.True(t, ok)
	require.Equal(t, info.Clsid, evt.Clsid)
	require.Equal(t, "pub-widget", evt.Alias)
}

func TestLookups(t *testing.T) {
	t.Parallel()

	r := New(nil, nil)
	info := baseInfo("lookup-me")
	info.Alias = "lookup-alias"
	info.IsDefault = true
	info.SourcePluginPath = "/plugins/widget.so"

	registered, err := r.RegisterComponent(info)
	require.NoError(t, err)

	got, ok := r.LookupByClsid(info.Clsid)
	require.True(t, ok)
	require.Equal(t, registered, got)

	clsid, ok := r.LookupByAlias("lookup-alias")
	require.True(t, ok)
	require.Equal(t, info.Clsid, clsid)

	clsid, ok = r.DefaultFor(widgetIface.IID)
	require.True(t, ok)
	require.Equal(t, info.Clsid, clsid)

	impls := r.ComponentsImplementing(widgetIface.IID)
	require.Len(t, impls, 1)
	require.Equal(t, info.Clsid, impls[0].Clsid)

	ofPlugin := r.ComponentsOfPlugin("/plugins/widget.so")
	require.Len(t, ofPlugin, 1)
	require.Equal(t, info.Clsid, ofPlugin[0].Clsid)

	all := r.AllComponents()
	require.Len(t, all, 1)
}

func TestAllComponents_OrderedByRegistrationSequence(t *testing.T) {
	t.Parallel()

	r := New(nil, nil)
	var clsids []ident.ClassId
	for _, uuid := range []string{"seq-a", "seq-b", "seq-c"} {
		info, err := r.RegisterComponent(baseInfo(uuid))
		require.NoError(t, err)
		clsids = append(clsids, info.Clsid)
	}

	all := r.AllComponents()
	require.Len(t, all, 3)
	for i, info := range all {
		require.Equal(t, clsids[i], info.Clsid)
	}
}

func TestRollback_RemovesFromEveryIndex(t *testing.T) {
	t.Parallel()

	r := New(nil, nil)
	info := baseInfo("rollback-me")
	info.Alias = "rollback-alias"
	info.IsDefault = true
	info.IsSingleton = true
	info.SourcePluginPath = "/plugins/rollback.so"

	_, err := r.RegisterComponent(info)
	require.NoError(t, err)

	r.Rollback([]ident.ClassId{info.Clsid})

	_, ok := r.LookupByClsid(info.Clsid)
	require.False(t, ok)
	_, ok = r.LookupByAlias("rollback-alias")
	require.False(t, ok)
	_, ok = r.DefaultFor(widgetIface.IID)
	require.False(t, ok)
	require.Empty(t, r.ComponentsOfPlugin("/plugins/rollback.so"))
	_, ok = r.SingletonSlot(info.Clsid)
	require.False(t, ok)
}

func TestClear(t *testing.T) {
	t.Parallel()

	r := New(nil, nil)
	_, err := r.RegisterComponent(baseInfo("clear-me"))
	require.NoError(t, err)

	r.Clear()

	require.Empty(t, r.AllComponents())
}

func TestSingletonSlot_CreatedOnlyForSingletons(t *testing.T) {
	t.Parallel()

	r := New(nil, nil)
	transient := baseInfo("transient-one")
	singleton := baseInfo("singleton-one")
	singleton.IsSingleton = true

	_, err := r.RegisterComponent(transient)
	require.NoError(t, err)
	_, err = r.RegisterComponent(singleton)
	require.NoError(t, err)

	_, ok := r.SingletonSlot(transient.Clsid)
	require.False(t, ok)

	slot, ok := r.SingletonSlot(singleton.Clsid)
	require.True(t, ok)
	require.NotNil(t, slot)
}
