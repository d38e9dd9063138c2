// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package sfmalloc

import (
	"unsafe"

	"github.com/pkg/errors"
)

// Grower is the brk-style heap extension primitive the allocator
// consumes. Sbrk extends the heap by exactly n bytes and returns the
// address of the first newly added byte, or nil on failure. Successive
// calls return contiguous regions; the heap never shrinks.
type Grower interface {
	Sbrk(n uintptr) unsafe.Pointer
}

// Arena is a Grower over a fixed byte slice: a reserved maximum heap
// inside which the break only ever moves up. The base is rounded up so
// that the first byte handed out is Alignment-aligned.
type Arena struct {
	mem     []byte
	brk     uintptr // offset of the first byte past the current break
	base    uintptr // aligned start offset into mem
	release func() error
}

// NewArena wraps mem as a heap region.
func NewArena(mem []byte) (*Arena, error) {
	if uintptr(len(mem)) < mbs+Alignment {
		return nil, errors.Errorf(
			"sfmalloc: arena of %d bytes cannot hold a minimum block",
			len(mem))
	}
	addr := uintptr(unsafe.Pointer(&mem[0]))
	base := align8(addr) - addr
	return &Arena{mem: mem, brk: base, base: base}, nil
}

// NewSizedArena reserves a fresh maxBytes heap region.
func NewSizedArena(maxBytes int) (*Arena, error) {
	if maxBytes <= 0 {
		return nil, errors.Errorf("sfmalloc: invalid arena size %d", maxBytes)
	}
	return NewArena(make([]byte, maxBytes))
}

// Sbrk extends the heap by n bytes and returns the first new byte, or
// nil once the reservation is exhausted. Sbrk(0) returns the current
// break.
func (a *Arena) Sbrk(n uintptr) unsafe.Pointer {
	if n == 0 {
		return unsafe.Pointer(uintptr(unsafe.Pointer(&a.mem[0])) + a.brk)
	}
	if a.brk+n > uintptr(len(a.mem)) {
		return nil
	}
	p := unsafe.Pointer(&a.mem[a.brk])
	a.brk += n
	return p
}

// Used returns how many bytes the break has moved past the base.
func (a *Arena) Used() uintptr { return a.brk - a.base }

// Remaining returns how many bytes are left before Sbrk starts failing.
func (a *Arena) Remaining() uintptr { return uintptr(len(a.mem)) - a.brk }

// Release returns the reservation to the system for arenas that hold
// one (see NewMmapArena) and is a no-op otherwise. The arena must not
// be used afterwards.
func (a *Arena) Release() error {
	if a.release == nil {
		return nil
	}
	rel := a.release
	a.release = nil
	a.mem = nil
	return rel()
}
