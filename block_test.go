// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package sfmalloc

import (
	"testing"
	"unsafe"
)

// carve a couple of blocks by hand and exercise the codec
func TestBlockCodec(t *testing.T) {
	a, err := NewSizedArena(4096)
	if err != nil {
		t.Fatal(err)
	}
	raw := a.Sbrk(512)
	if raw == nil {
		t.Fatal("sbrk failed")
	}

	b1 := blockAt(unsafe.Pointer(uintptr(raw) + headerSize))
	b1.setHeaderFooter(48, true)

	if b1.size() != 48 {
		t.Fatalf("size=%d, want 48", b1.size())
	}
	if !b1.allocated() {
		t.Fatal("allocated bit not set")
	}
	if b1.payloadBytes() != 48-hfOverhead {
		t.Fatalf("payload=%d", b1.payloadBytes())
	}
	if readWord(b1.header()) != readWord(b1.footer()) {
		t.Fatal("footer does not mirror header")
	}

	b2 := b1.right()
	b2.setHeaderFooter(64, false)
	if b2.allocated() {
		t.Fatal("allocated bit set on a free block")
	}
	if uintptr(b2.p) != uintptr(b1.p)+48 {
		t.Fatal("right neighbor at the wrong address")
	}
	if b2.left() != b1 {
		t.Fatal("left navigation through the footer failed")
	}
	if b1.right() != b2 {
		t.Fatal("right navigation failed")
	}

	// links live in the free payload
	b2.setPrevFree(block{})
	b2.setNextFree(b1)
	if !b2.prevFree().isNil() {
		t.Fatal("prev link not nil")
	}
	if b2.nextFree() != b1 {
		t.Fatal("next link lost")
	}

	// resizing moves the footer along with the size field
	b2.setHeaderFooter(96, false)
	if b2.size() != 96 {
		t.Fatalf("size=%d, want 96", b2.size())
	}
	if readWord(b2.header()) != readWord(b2.footer()) {
		t.Fatal("footer not rewritten on resize")
	}
	if uintptr(b2.right().p) != uintptr(b2.p)+96 {
		t.Fatal("navigation disagrees after resize")
	}
}

func TestPack(t *testing.T) {
	if pack(64, false) != 64 {
		t.Fatal("free tag carries extra bits")
	}
	if pack(64, true) != 65 {
		t.Fatal("allocated bit not packed")
	}
	v := pack(4096, true)
	if v&sizeMask != 4096 || v&allocBit == 0 {
		t.Fatal("pack round trip failed")
	}
}
