// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestNewAllocatesCapacity(t *testing.T) {
	for _, a := range []Allocator{Mmap{}, Heap{}} {
		t.Run(a.Name(), func(t *testing.T) {
			s, err := New(a, 128)
			require.NoError(t, err)

			assert.Equal(t, 128*SectorSize, s.Len())
			assert.Equal(t, uint64(128), s.CapacitySectors())
			assert.Equal(t, make([]byte, 128*SectorSize), s.Bytes(), "memory not zeroed")

			s.Bytes()[s.Len()-1] = 0xff
			require.NoError(t, s.Free())
			assert.Nil(t, s.Bytes())
			assert.Zero(t, s.CapacitySectors())
		})
	}
}

func TestNewRejectsZeroCapacity(t *testing.T) {
	_, err := New(Heap{}, 0)
	assert.ErrorIs(t, err, ErrZeroCapacity)
}

func TestNewReportsAllocatorFailure(t *testing.T) {
	_, err := New(Heap{Limit: 4096}, 9)
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.ENOMEM)
	assert.Contains(t, err.Error(), "heap allocation of 4608 bytes")
}

func TestNewRejectsUnaddressableCapacity(t *testing.T) {
	_, err := New(Heap{}, ^uint64(0))
	assert.Error(t, err)
}

func TestByName(t *testing.T) {
	a, err := ByName("")
	require.NoError(t, err)
	assert.Equal(t, "mmap", a.Name())

	a, err = ByName("heap")
	require.NoError(t, err)
	assert.Equal(t, "heap", a.Name())

	_, err = ByName("vmalloc")
	assert.Error(t, err)
}

func TestPageSize(t *testing.T) {
	ps := PageSize()
	assert.Greater(t, ps, 0)
	assert.Zero(t, ps%SectorSize)
}
