// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asch/ramblk/internal/config"
	"github.com/asch/ramblk/internal/host/local"
	"github.com/asch/ramblk/internal/null"
	"github.com/asch/ramblk/internal/ramdisk"
	"github.com/asch/ramblk/internal/ramdisk/store"
)

func loadConfig(t *testing.T) config.Config {
	t.Helper()

	c, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	return c
}

func TestVolumeOptions(t *testing.T) {
	c := loadConfig(t)
	c.Allocator = "heap"
	c.HWQueues = 2

	opts, err := volumeOptions(c)
	require.NoError(t, err)

	assert.Equal(t, "ramblk", opts.Name)
	assert.Equal(t, uint64(16*store.PageSize()/store.SectorSize), opts.CapacitySectors)
	assert.Equal(t, "heap", opts.Allocator.Name())
	assert.Equal(t, 2, opts.Queue.HWQueues)
	assert.True(t, opts.Removable)
}

func TestVolumeOptionsUnknownAllocator(t *testing.T) {
	c := loadConfig(t)
	c.Allocator = "tape"

	_, err := volumeOptions(c)
	assert.Error(t, err)
}

func TestSelfTest(t *testing.T) {
	c := loadConfig(t)
	c.Allocator = "heap"

	opts, err := volumeOptions(c)
	require.NoError(t, err)

	h := local.NewHost()
	require.NoError(t, runSelfTest(h, opts))
	assert.Zero(t, h.Disks(), "self test leaves nothing registered")
}

func TestRemoveVolumeLogsFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = logger })

	h := null.NewHost()
	h.DeregisterErr = errors.New("device busy")

	opts := ramdisk.DefaultOptions()
	opts.Name = "failing"
	opts.Allocator = store.Heap{}

	vol, err := ramdisk.Create(h, opts)
	require.NoError(t, err)
	buf.Reset()

	err = removeVolume(vol)
	assert.ErrorIs(t, err, h.DeregisterErr)
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "device busy")
	assert.Contains(t, buf.String(), `"volume":"failing"`)
}

func TestRemoveVolumeQuietOnSuccess(t *testing.T) {
	var buf bytes.Buffer
	logger := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.WarnLevel)
	t.Cleanup(func() { log.Logger = logger })

	opts := ramdisk.DefaultOptions()
	opts.Allocator = store.Heap{}

	vol, err := ramdisk.Create(null.NewHost(), opts)
	require.NoError(t, err)

	assert.NoError(t, removeVolume(vol))
	assert.Empty(t, buf.String())
}
