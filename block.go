// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package sfmalloc

import (
	"unsafe"
)

// word sizes of the on-heap metadata
const (
	addrSize   = unsafe.Sizeof(uintptr(0))
	headerSize = unsafe.Sizeof(uintptr(0))
	footerSize = headerSize
	hfOverhead = headerSize + footerSize

	// header + footer + the two free-list links that occupy the payload
	// while the block is free
	maxOverhead = hfOverhead + 2*addrSize

	lookupTableSize = Classes * addrSize
)

// minimum block size: every block, allocated or free, must be able to
// host header, footer and the two links
const mbs = (maxOverhead + Alignment - 1) &^ (Alignment - 1)

const (
	sizeMask = ^uintptr(Alignment - 1)
	allocBit = uintptr(1)
)

// block is an opaque handle to a heap block. It carries the block's
// payload (user-visible) address; header, footer and neighbors are all
// derived from it. The zero block means "no block".
type block struct {
	p unsafe.Pointer
}

func blockAt(p unsafe.Pointer) block { return block{p} }

func (b block) isNil() bool { return b.p == nil }

// readWord and writeWord access a packed header/footer word.
func readWord(p unsafe.Pointer) uintptr     { return *(*uintptr)(p) }
func writeWord(p unsafe.Pointer, v uintptr) { *(*uintptr)(p) = v }

// readAddr and writeAddr access a free-list link slot.
func readAddr(p unsafe.Pointer) unsafe.Pointer     { return *(*unsafe.Pointer)(p) }
func writeAddr(p unsafe.Pointer, a unsafe.Pointer) { *(*unsafe.Pointer)(p) = a }

// pack combines a block size and the allocated flag into a tag word.
func pack(size uintptr, allocated bool) uintptr {
	if allocated {
		return size | allocBit
	}
	return size
}

// header returns the address of the block's header word.
func (b block) header() unsafe.Pointer {
	return unsafe.Pointer(uintptr(b.p) - headerSize)
}

// size returns the block's total size, header and footer included.
func (b block) size() uintptr { return readWord(b.header()) & sizeMask }

// allocated returns the state of the header's allocated bit.
func (b block) allocated() bool { return readWord(b.header())&allocBit != 0 }

// footer returns the address of the block's footer word
// (its position follows from the header's size field).
func (b block) footer() unsafe.Pointer {
	return unsafe.Pointer(uintptr(b.p) + b.size() - hfOverhead)
}

// setHeaderFooter writes the same packed tag into the header and into
// the footer located size bytes further down.
func (b block) setHeaderFooter(size uintptr, allocated bool) {
	tag := pack(size, allocated)
	writeWord(b.header(), tag)
	writeWord(unsafe.Pointer(uintptr(b.p)+size-hfOverhead), tag)
}

// payloadBytes returns the user-visible capacity of the block.
func (b block) payloadBytes() uintptr { return b.size() - hfOverhead }

// right returns the block immediately after b in the heap.
func (b block) right() block {
	return block{unsafe.Pointer(uintptr(b.p) + b.size())}
}

// left returns the block immediately before b in the heap, located
// through its footer, the word right before b's header.
func (b block) left() block {
	leftSize := readWord(unsafe.Pointer(uintptr(b.p)-hfOverhead)) & sizeMask
	return block{unsafe.Pointer(uintptr(b.p) - leftSize)}
}

// Free-list links live in the first two address-sized payload slots of
// a free block: previous first, next right after. While the block is
// allocated the same bytes belong to the user.

func (b block) prevFree() block { return block{readAddr(b.p)} }

func (b block) nextFree() block {
	return block{readAddr(unsafe.Pointer(uintptr(b.p) + addrSize))}
}

func (b block) setPrevFree(o block) { writeAddr(b.p, o.p) }

func (b block) setNextFree(o block) {
	writeAddr(unsafe.Pointer(uintptr(b.p)+addrSize), o.p)
}
