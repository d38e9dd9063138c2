// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build linux || darwin

package sfmalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMmapArena(t *testing.T) {
	a, err := NewMmapArena(1 << 20)
	require.NoError(t, err)

	var sf SFMalloc
	require.True(t, sf.Init(a, SFDefaultOptions))
	p := sf.Malloc(1000)
	require.NotNil(t, p)
	sf.Free(p)
	checkInvariants(t, &sf)

	require.NoError(t, a.Release())
	require.NoError(t, a.Release(), "second release must be a no-op")
}

func TestMmapArenaInvalidSize(t *testing.T) {
	_, err := NewMmapArena(0)
	require.Error(t, err)
}
