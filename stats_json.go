// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package sfmalloc

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// StatsJSON renders a detailed map of the heap as JSON: the usage
// totals, every block with its offset, size and state, and the
// per-class free-list population.
func (sf *SFMalloc) StatsJSON() ([]byte, error) {
	w := jwriter.NewWriter()
	obj := w.Object()

	obj.Name("heapSize").Int(int(sf.size))
	obj.Name("used").Int(int(sf.used.Used))
	obj.Name("realUsed").Int(int(sf.used.RealUsed))
	obj.Name("maxRealUsed").Int(int(sf.used.MaxRealUsed))
	obj.Name("available").Int(int(sf.Available()))

	base := uintptr(sf.lookupTable)
	blocks := obj.Name("blocks").Array()
	for ptr := sf.firstBlock; ; ptr = ptr.right() {
		b := blocks.Object()
		b.Name("offset").Int(int(uintptr(ptr.p) - base))
		b.Name("size").Int(int(ptr.size()))
		b.Name("free").Bool(!ptr.allocated())
		b.End()
		if ptr == sf.endHeap {
			break
		}
	}
	blocks.End()

	lists := obj.Name("freeLists").Array()
	for c := 0; c < Classes; c++ {
		n := 0
		for f := sf.classHead(c); !f.isNil(); f = f.nextFree() {
			n++
		}
		if n == 0 {
			continue
		}
		l := lists.Object()
		l.Name("class").Int(c)
		l.Name("count").Int(n)
		l.End()
	}
	lists.End()

	obj.End()
	return w.Bytes(), w.Error()
}
