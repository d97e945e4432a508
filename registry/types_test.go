// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSingletonSlot_ResolveOnlyOnce(t *testing.T) {
	t.Parallel()

	slot := &SingletonSlot{}
	var calls int32
	construct := func() (Instance, error) {
		atomic.AddInt32(&calls, 1)
		return fakeInstance{}, nil
	}

	inst1, err := slot.Resolve("k", construct)
	require.NoError(t, err)
	inst2, err := slot.Resolve("k", construct)
	require.NoError(t, err)

	require.Equal(t, inst1, inst2)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestSingletonSlot_ConcurrentResolveCallsConstructOnce(t *testing.T) {
	t.Parallel()

	slot := &SingletonSlot{}
	var calls int32
	construct := func() (Instance, error) {
		atomic.AddInt32(&calls, 1)
		return fakeInstance{}, nil
	}

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := slot.Resolve("k", construct)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestSingletonSlot_FailureIsSticky(t *testing.T) {
	t.Parallel()

	slot := &SingletonSlot{}
	boom := errors.New("boom")
	var calls int32
	construct := func() (Instance, error) {
		atomic.AddInt32(&calls, 1)
		return nil, boom
	}

	_, err1 := slot.Resolve("k", construct)
	_, err2 := slot.Resolve("k", construct)

	require.ErrorIs(t, err1, boom)
	require.ErrorIs(t, err2, boom)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "construct must not be retried after a captured failure")
}
