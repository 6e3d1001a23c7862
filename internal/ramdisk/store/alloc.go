// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package store

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Mmap allocates backing memory as an anonymous private mapping outside of
// the go heap. Exhaustion is reported as ENOMEM.
type Mmap struct{}

func (Mmap) Allocate(size int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}

	return data, nil
}

func (Mmap) Free(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	return unix.Munmap(buf)
}

func (Mmap) Name() string {
	return "mmap"
}

// Heap allocates backing memory as a plain go slice.
type Heap struct {
	// Upper bound of a single allocation in bytes. Zero means no limit.
	Limit int
}

func (h Heap) Allocate(size int) ([]byte, error) {
	if h.Limit > 0 && size > h.Limit {
		return nil, fmt.Errorf("%d bytes over the heap limit of %d: %w", size, h.Limit, unix.ENOMEM)
	}

	return make([]byte, size), nil
}

func (Heap) Free(buf []byte) error {
	return nil
}

func (Heap) Name() string {
	return "heap"
}

// PageSize returns the memory page size of the system.
func PageSize() int {
	return unix.Getpagesize()
}
