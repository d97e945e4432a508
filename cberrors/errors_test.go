// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

package cberrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIs(t *testing.T) {
	t.Parallel()

	err := New(ClsidNotFound, "clsid %d missing", 7)
	require.True(t, Is(err, ClsidNotFound))
	require.False(t, Is(err, AliasNotFound))
}

func TestWrapUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := Wrap(FactoryFailed, cause, "factory panicked")

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "boom")
	require.Contains(t, err.Error(), "factory panicked")
}

func TestCodeString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "VersionMinorTooLow", VersionMinorTooLow.String())
}
