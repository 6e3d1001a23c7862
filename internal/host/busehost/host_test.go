// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package busehost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asch/ramblk/internal/ramdisk"
)

func TestNewValidatesOptions(t *testing.T) {
	tests := []struct {
		opts Options
		ok   bool
	}{
		{Options{BlockSize: 4096, WriteChunkSize: 4 << 20}, true},
		{Options{BlockSize: 512, WriteChunkSize: 512}, true},
		{Options{BlockSize: 1024, WriteChunkSize: 4096}, false},
		{Options{BlockSize: 4096, WriteChunkSize: 0}, false},
		{Options{BlockSize: 4096, WriteChunkSize: 6000}, false},
	}

	for _, tt := range tests {
		_, err := New(tt.opts)
		if tt.ok {
			assert.NoError(t, err, "%+v", tt.opts)
		} else {
			assert.Error(t, err, "%+v", tt.opts)
		}
	}
}

func TestHostWithoutDevice(t *testing.T) {
	h, err := New(Options{BlockSize: 4096, WriteChunkSize: 4 << 20})
	require.NoError(t, err)

	q, err := h.SetupQueues(ramdisk.QueueConfig{HWQueues: 1, QueueDepth: 128}, nil)
	require.NoError(t, err)
	assert.NoError(t, h.ReleaseQueues(q))
	assert.Error(t, h.ReleaseQueues(struct{}{}))

	_, err = h.SetupQueues(ramdisk.QueueConfig{HWQueues: 1}, nil)
	assert.Error(t, err)

	_, err = h.RegisterVolume(ramdisk.Identity{}, struct{}{})
	assert.Error(t, err)

	assert.ErrorIs(t, h.DeregisterVolume(&device{}), ErrNotRegistered)
	assert.ErrorIs(t, h.Run(), ErrNotRegistered)
	assert.ErrorIs(t, h.Stop(), ErrNotRegistered)
}

func TestRegisterRejectsUnalignedSize(t *testing.T) {
	h, err := New(Options{BlockSize: 4096, WriteChunkSize: 4 << 20})
	require.NoError(t, err)

	q, err := h.SetupQueues(ramdisk.QueueConfig{HWQueues: 1, QueueDepth: 128}, nil)
	require.NoError(t, err)

	_, err = h.RegisterVolume(ramdisk.Identity{CapacitySectors: 9, SectorSize: ramdisk.SectorSize}, q)
	assert.Error(t, err)
}

func TestDeviceName(t *testing.T) {
	d := &device{major: 3}
	assert.Equal(t, "buse3", d.Name())
	assert.Equal(t, 3, d.Major())
	assert.Zero(t, d.Minor())
}
