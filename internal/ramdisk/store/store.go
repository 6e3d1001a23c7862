// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package store owns the memory behind a ram volume. It only allocates and
// frees, all addressing and bounds checking is done by the volume. Nothing
// here is synchronized, callers serialize Free against any access.
package store

import (
	"errors"
	"fmt"
)

const (
	// Size of the sector in bytes. Linux expresses block layer positions
	// in 512 byte units regardless of the logical block size of the device.
	SectorSize  = 512
	SectorShift = 9
)

var ErrZeroCapacity = errors.New("capacity must be at least one sector")

// Allocator reserves and releases the contiguous buffers backing volumes.
type Allocator interface {
	// Allocate returns a zeroed buffer of exactly size bytes.
	Allocate(size int) ([]byte, error)

	// Free releases buf obtained from Allocate. It must be called at most
	// once per buffer.
	Free(buf []byte) error

	Name() string
}

// Store is the backing memory of one volume.
type Store struct {
	data            []byte
	capacitySectors uint64
	allocator       Allocator
}

// New allocates backing memory for capacitySectors sectors.
func New(allocator Allocator, capacitySectors uint64) (*Store, error) {
	if capacitySectors == 0 {
		return nil, ErrZeroCapacity
	}

	maxSectors := uint64(maxInt) >> SectorShift
	if capacitySectors > maxSectors {
		return nil, fmt.Errorf("capacity of %d sectors is not addressable", capacitySectors)
	}

	size := int(capacitySectors << SectorShift)
	data, err := allocator.Allocate(size)
	if err != nil {
		return nil, fmt.Errorf("%s allocation of %d bytes: %w", allocator.Name(), size, err)
	}

	s := Store{
		data:            data,
		capacitySectors: capacitySectors,
		allocator:       allocator,
	}

	return &s, nil
}

// Bytes returns the whole backing buffer. The slice is valid until Free.
func (s *Store) Bytes() []byte {
	return s.data
}

// Len returns the capacity in bytes.
func (s *Store) Len() int {
	return len(s.data)
}

func (s *Store) CapacitySectors() uint64 {
	return s.capacitySectors
}

// Free returns the memory to the allocator. Calling it twice is a bug of the
// caller.
func (s *Store) Free() error {
	data := s.data
	s.data = nil
	s.capacitySectors = 0

	return s.allocator.Free(data)
}

// ByName returns the allocator registered under name. Used for configuration.
func ByName(name string) (Allocator, error) {
	switch name {
	case "", "mmap":
		return Mmap{}, nil
	case "heap":
		return Heap{}, nil
	}

	return nil, fmt.Errorf("unknown allocator %q", name)
}

const maxInt = int(^uint(0) >> 1)
