// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build linux || darwin

package sfmalloc

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// NewMmapArena reserves maxBytes of anonymous private memory for the
// heap, outside the Go garbage collector. The mapping is returned to
// the system by Release.
func NewMmapArena(maxBytes int) (*Arena, error) {
	if maxBytes <= 0 {
		return nil, errors.Errorf("sfmalloc: invalid arena size %d", maxBytes)
	}
	mem, err := unix.Mmap(-1, 0, maxBytes,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrap(err, "sfmalloc: mmap arena")
	}
	a, err := NewArena(mem)
	if err != nil {
		_ = unix.Munmap(mem)
		return nil, err
	}
	a.release = func() error { return unix.Munmap(mem) }
	return a, nil
}
