// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package sfmalloc

import (
	"github.com/intuitivelabs/slog"
)

// Check scans the whole heap and every free list for consistency
// problems: pairs of adjacent free blocks above the coalescing
// threshold that escaped merging and free-list members whose allocated
// bit is set. Problems are reported in the log; the count of problems
// found is returned.
func (sf *SFMalloc) Check() int {
	problems := 0

	for ptr := sf.firstBlock; ptr != sf.endHeap; ptr = ptr.right() {
		r := ptr.right()
		if !ptr.allocated() && ptr.size() > classMaxDim(LimitCoalesce) &&
			!r.allocated() && r.size() > classMaxDim(LimitCoalesce) {
			ERR("check: the two adjacent blocks %p and %p escaped the"+
				" coalescing process\n", ptr.p, r.p)
			problems++
		}
	}

	for c := 0; c < Classes; c++ {
		for f := sf.classHead(c); !f.isNil(); f = f.nextFree() {
			if f.allocated() {
				ERR("check: block %p is in free list %d but it's not"+
					" marked as free\n", f.p, c)
				problems++
			}
		}
	}

	if problems != 0 && sf.Debug() {
		sf.dumpStatus()
	}
	return problems
}

// dumpStatus will write current status information in the log
func (sf *SFMalloc) dumpStatus() {
	const lev = slog.LDBG
	const prefix = "sf_status "

	if !Log.L(lev) {
		return
	}
	Log.LLog(lev, 0, prefix, "(%p):\n", sf)
	if sf == nil {
		return
	}
	Log.LLog(lev, 0, prefix, "heap size= %d\n", sf.size)
	Log.LLog(lev, 0, prefix, "used= %d, used+overhead=%d, free=%d\n",
		sf.used.Used, sf.used.RealUsed, sf.Available())
	Log.LLog(lev, 0, prefix, "max used (+overhead)= %d\n",
		sf.used.MaxRealUsed)
	if sf.options&SFDumpStatsShort != 0 {
		return
	}
	Log.LLog(lev, 0, prefix, "dumping all alloc'ed blocks:\n")
	i := 0
	for ptr := sf.firstBlock; ; ptr = ptr.right() {
		if ptr.allocated() {
			Log.LLog(lev, 0, prefix,
				"   %3d.    address=%p size=%d\n",
				i, ptr.p, ptr.size())
		}
		i++
		if ptr == sf.endHeap {
			break
		}
	}
	Log.LLog(lev, 0, prefix, "dumping free list stats:\n")
	for c := 0; c < Classes; c++ {
		n := 0
		for f := sf.classHead(c); !f.isNil(); f = f.nextFree() {
			n++
		}
		if n != 0 {
			Log.LLog(lev, 0, prefix,
				"class= %3d. blocks no.: %5d\n"+
					"\t\t max size: %9d (head %9d)\n",
				c, n, classMaxDim(c)+1, sf.classHead(c).size())
		}
	}
	Log.LLog(lev, 0, prefix, "-----------------------------\n")
}
