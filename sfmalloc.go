// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package sfmalloc provides a segregated-fits malloc library over a
// single contiguous, monotonically growing heap.
//
// Free blocks are indexed by 20 power-of-two size classes whose lists
// are threaded through the blocks' own payloads, every block carries
// boundary tags (a packed header word mirrored in a footer word), and
// blocks larger than a fixed size threshold (255 bytes) are coalesced
// with their large free neighbors on free. The allocator is single threaded: it assumes
// exclusive access to its heap and performs no locking. Its operations
// must not be called from signal handlers or from within the grow
// primitive.
package sfmalloc

import (
	"unsafe"
)

const NAME = "sfmalloc"

// MUsed contains the sfmalloc memory usage statistics.
type MUsed struct {
	Used        uintptr // total payload bytes allocated
	RealUsed    uintptr // real size = Used + malloc overhead
	MaxRealUsed uintptr
}

// Options encodes various configuration flags for SFMalloc.
type Options uint32

const (
	SFDebug          Options = 1 << iota
	SFFirstFit               // first-fit free list search instead of best-fit
	SFDumpStatsShort         // dump status in log, short version
	SFDefaultOptions Options = 0
)

// SFMalloc is the allocator context: one heap region, the in-heap class
// lookup table and the classical malloc functions (as methods).
type SFMalloc struct {
	options Options
	grow    Grower

	size uintptr // total heap size obtained so far
	used MUsed   // statistics

	lookupTable unsafe.Pointer // Classes address slots at the heap bottom
	firstBlock  block          // lowest-address block
	endHeap     block          // rightmost block
}

// Debug returns true if malloc debugging is turned on.
func (sf *SFMalloc) Debug() bool { return sf.options&SFDebug != 0 }

// FirstFit returns true if the free-list search uses the first-fit
// policy instead of the default best-fit.
func (sf *SFMalloc) FirstFit() bool { return sf.options&SFFirstFit != 0 }

// addUsed increases the "used" stats with n allocated payload bytes.
func (sf *SFMalloc) addUsed(n uintptr) {
	sf.used.Used += n
	sf.used.RealUsed += n
	if sf.used.MaxRealUsed < sf.used.RealUsed {
		sf.used.MaxRealUsed = sf.used.RealUsed
	}
}

// subUsed subtracts n released payload bytes from the "used" stats.
func (sf *SFMalloc) subUsed(n uintptr) {
	sf.used.Used -= n
	sf.used.RealUsed -= n
}

// addOverhead adds n bytes of metadata overhead to the internal
// bookkeeping.
func (sf *SFMalloc) addOverhead(n uintptr) {
	sf.used.RealUsed += n
	if sf.used.MaxRealUsed < sf.used.RealUsed {
		sf.used.MaxRealUsed = sf.used.RealUsed
	}
}

// subOverhead subtracts n bytes of metadata overhead from the internal
// bookkeeping.
func (sf *SFMalloc) subOverhead(n uintptr) {
	sf.used.RealUsed -= n
}

// MUsage returns current memory usage values.
func (sf *SFMalloc) MUsage() MUsed { return sf.used }

// Available returns how many bytes of the current heap are neither
// allocated nor metadata.
func (sf *SFMalloc) Available() uintptr { return sf.size - sf.used.RealUsed }

// HeapSize returns the total number of bytes obtained from the grow
// primitive so far.
func (sf *SFMalloc) HeapSize() uintptr { return sf.size }

// Owns returns whether or not p lies inside the allocator's heap.
// Behaviour is undefined if p was Free()d.
func (sf *SFMalloc) Owns(p unsafe.Pointer) bool {
	return uintptr(p) >= uintptr(sf.firstBlock.p) &&
		uintptr(p) <= uintptr(sf.endHeap.p)
}

// Init initialises the allocator over a heap region obtained from g.
// It acquires the bytes for the class lookup table (plus whatever
// padding keeps the first payload Alignment-aligned) and a first free
// block of minimum size, placed on the class 0 list. Init must be
// called exactly once before any other operation.
// It returns true on success and false if the grow primitive fails.
func (sf *SFMalloc) Init(g Grower, options Options) bool {
	*sf = SFMalloc{} // zero, in case of re-init
	sf.grow = g
	sf.options = options

	padd := align8(lookupTableSize+headerSize) - lookupTableSize - headerSize

	base := g.Sbrk(padd + lookupTableSize + mbs)
	if base == nil {
		return false
	}
	sf.size = padd + lookupTableSize + mbs
	sf.lookupTable = unsafe.Pointer(uintptr(base) + padd)

	for c := 0; c < Classes; c++ {
		sf.setClassHead(c, block{})
	}

	first := blockAt(unsafe.Pointer(
		uintptr(sf.lookupTable) + lookupTableSize + headerSize))
	first.setHeaderFooter(mbs, false)
	sf.pushFront(0, first)

	sf.firstBlock = first
	sf.endHeap = first
	sf.addOverhead(padd + lookupTableSize + hfOverhead)
	return true
}

// Malloc allocates size bytes of memory and returns an Alignment-aligned
// pointer to them. A free block is taken from the class lists when one
// fits; otherwise the heap is extended by exactly the needed amount.
// On failure (size 0 or out of memory) it returns nil.
func (sf *SFMalloc) Malloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}
	newsize := align8(size + hfOverhead)
	if newsize < mbs {
		newsize = mbs
	}

	for c := sizeClass(newsize); c < Classes; c++ {
		ptr := sf.searchList(c, newsize)
		if ptr.isNil() {
			// nothing suitable, go on looking in the next class
			continue
		}
		if ptr.size()-newsize <= mbs {
			// the remainder would be too small to stand alone,
			// consume the block whole
			ptr.setHeaderFooter(ptr.size(), true)
			sf.removeFromList(c, ptr)
			sf.addUsed(ptr.payloadBytes())
		} else {
			sf.split(ptr, newsize)
			sf.addOverhead(hfOverhead)
			sf.addUsed(newsize - hfOverhead)
		}
		return ptr.p
	}

	// no fit in any free list, ask for additional memory
	raw := sf.grow.Sbrk(newsize)
	if raw == nil {
		return nil
	}
	sf.size += newsize
	ptr := blockAt(unsafe.Pointer(uintptr(raw) + headerSize))
	ptr.setHeaderFooter(newsize, true)
	sf.endHeap = ptr
	sf.addOverhead(hfOverhead)
	sf.addUsed(newsize - hfOverhead)
	return ptr.p
}

// Free releases the memory associated with p (p must have been
// previously returned by Malloc or Realloc and not freed since; nil is
// a no-op). Blocks larger than the coalescing threshold are merged with
// their large free neighbors before going back on a class list.
func (sf *SFMalloc) Free(p unsafe.Pointer) {
	if p == nil {
		WARN("free(nil) called\n")
		return
	}
	if !sf.Owns(p) {
		PANIC("BUG: Free called with pointer %p out of the heap "+
			"(usable range %p-%p)\n", p, sf.firstBlock.p, sf.endHeap.p)
		return
	}
	ptr := blockAt(p)
	if !ptr.allocated() {
		PANIC("BUG: attempt to free already freed pointer %p\n", p)
		return
	}

	ptr.setHeaderFooter(ptr.size(), false)
	sf.subUsed(ptr.payloadBytes())

	if ptr.size() > classMaxDim(LimitCoalesce) {
		ptr = sf.coalesce(ptr)
	}
	sf.pushFront(sizeClass(ptr.size()), ptr)
}

// Realloc grows or shrinks a previously allocated pointer to size
// bytes. Growing first tries to absorb free right neighbors in place
// (whole blocks only, so the result may exceed the request); when that
// is not possible the payload moves to a fresh allocation, the old
// contents are copied over and the old pointer is freed. On out of
// memory it returns nil and leaves p untouched.
// Realloc(nil, size) behaves like Malloc(size). Realloc(p, 0) frees p
// and returns it; the returned pointer must not be dereferenced.
func (sf *SFMalloc) Realloc(p unsafe.Pointer, size uintptr) unsafe.Pointer {
	if p == nil {
		if size > 0 {
			return sf.Malloc(size)
		}
		return nil
	}
	if size == 0 {
		sf.Free(p)
		return p
	}
	if !sf.Owns(p) {
		PANIC("BUG: Realloc called with pointer %p out of the heap "+
			"(usable range %p-%p)\n", p, sf.firstBlock.p, sf.endHeap.p)
		return nil
	}

	ptr := blockAt(p)
	if !ptr.allocated() {
		PANIC("BUG: attempt to realloc an already freed pointer %p\n", p)
		return nil
	}

	blockSize := ptr.size()
	newsize := align8(size + hfOverhead)
	if newsize < mbs {
		newsize = mbs
	}

	switch {
	case newsize == blockSize:
		return p

	case newsize > blockSize:
		diff := newsize - blockSize
		if sf.simulateRightCoalesce(ptr, diff) {
			// enough free space on the right: absorb whole
			// neighbors until diff is covered
			total := uintptr(0)
			iter, last := ptr, ptr
			for iter != sf.endHeap && !iter.right().allocated() {
				r := iter.right()
				total += r.size()
				sf.removeFromList(sizeClass(r.size()), r)
				sf.subOverhead(hfOverhead)
				sf.addUsed(r.size())
				last = r
				iter = r
				if total >= diff {
					break
				}
			}
			ptr.setHeaderFooter(blockSize+total, true)
			if last == sf.endHeap {
				sf.endHeap = ptr
			}
			return p
		}

		// no joining possible, move to a fresh block
		np := sf.Malloc(newsize)
		if np == nil {
			return nil
		}
		n := blockSize - hfOverhead
		copy(unsafe.Slice((*byte)(np), n), unsafe.Slice((*byte)(p), n))
		sf.Free(p)
		return np

	default: // shrink
		if blockSize-newsize <= mbs {
			// the residue could not stand alone, keep the block as is
			return p
		}
		sf.split(ptr, newsize)
		sf.addOverhead(hfOverhead)
		sf.subUsed(blockSize - newsize)
		return p
	}
}

// split divides a block into an allocated prefix of newsize bytes and a
// free remainder pushed onto the list of its own class. The caller
// guarantees that the remainder exceeds the minimum block size and that
// newsize is aligned.
func (sf *SFMalloc) split(ptr block, newsize uintptr) {
	remaining := ptr.size() - newsize

	if !ptr.allocated() {
		sf.removeFromList(sizeClass(ptr.size()), ptr)
	}
	ptr.setHeaderFooter(newsize, true)

	rest := ptr.right()
	rest.setHeaderFooter(remaining, false)
	sf.pushFront(sizeClass(remaining), rest)

	if sf.endHeap == ptr {
		sf.endHeap = rest
	}
}

// coalesce merges ptr with the contiguous runs of free neighbors larger
// than the coalescing threshold, in both directions, and returns the
// merged block. Sub-threshold free splinters stop the sweep; the gate
// is on each neighbor's own size, not on the running sum.
func (sf *SFMalloc) coalesce(ptr block) block {
	total := ptr.size()
	iter := ptr

	// sweep right up to the end of the heap
	for iter != sf.endHeap {
		r := iter.right()
		if r.allocated() || r.size() <= classMaxDim(LimitCoalesce) {
			break
		}
		total += r.size()
		sf.removeFromList(sizeClass(r.size()), r)
		sf.subOverhead(hfOverhead)
		iter = r
	}

	// sweep left down to the first block, through the footers
	for ptr != sf.firstBlock {
		l := ptr.left()
		if l.allocated() || l.size() <= classMaxDim(LimitCoalesce) {
			break
		}
		total += l.size()
		sf.removeFromList(sizeClass(l.size()), l)
		sf.subOverhead(hfOverhead)
		ptr = l
	}

	ptr.setHeaderFooter(total, false)
	if iter == sf.endHeap {
		sf.endHeap = ptr
	}
	return ptr
}

// simulateRightCoalesce checks whether walking right over contiguous
// free neighbors can gather at least diff bytes. It modifies nothing.
func (sf *SFMalloc) simulateRightCoalesce(ptr block, diff uintptr) bool {
	total := uintptr(0)
	for ptr != sf.endHeap {
		r := ptr.right()
		if r.allocated() {
			break
		}
		total += r.size()
		ptr = r
		if total >= diff {
			return true
		}
	}
	return false
}
