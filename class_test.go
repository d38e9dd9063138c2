// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package sfmalloc

import (
	"testing"
)

func TestSizeClass(t *testing.T) {
	cases := []struct {
		size uintptr
		want int
	}{
		{mbs, 0},
		{40, 0},
		{64, 0},
		{72, 1},
		{128, 1},
		{136, 2},
		{256, 2},
		{264, 3},
		{512, 3},
		{520, 4},
		{1 << 25, 19},
		{1<<25 + 8, 19},
		{1 << 30, 19}, // anything larger still lands in the last class
	}
	for _, c := range cases {
		if got := sizeClass(c.size); got != c.want {
			t.Errorf("sizeClass(%d)=%d, want %d", c.size, got, c.want)
		}
	}
}

func TestClassMaxDim(t *testing.T) {
	if got := classMaxDim(0); got != 63 {
		t.Errorf("classMaxDim(0)=%d, want 63", got)
	}
	if got := classMaxDim(LimitCoalesce); got != 255 {
		t.Errorf("classMaxDim(%d)=%d, want 255", LimitCoalesce, got)
	}
	// the class bounds and the class function must agree
	for c := 0; c < Classes; c++ {
		if got := sizeClass(classMaxDim(c) + 1); got != c {
			t.Errorf("sizeClass(%d)=%d, want %d", classMaxDim(c)+1, got, c)
		}
	}
}

func TestAlign8(t *testing.T) {
	for _, c := range [][2]uintptr{
		{0, 0}, {1, 8}, {7, 8}, {8, 8}, {9, 16}, {23, 24}, {4000, 4000},
	} {
		if got := align8(c[0]); got != c[1] {
			t.Errorf("align8(%d)=%d, want %d", c[0], got, c[1])
		}
	}
}
