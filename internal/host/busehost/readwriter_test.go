// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package busehost

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asch/ramblk/internal/null"
	"github.com/asch/ramblk/internal/ramdisk"
	"github.com/asch/ramblk/internal/ramdisk/store"
)

const (
	testBlockSize = 4096
	testChunkSize = 4 * testBlockSize
)

func newVolume(t *testing.T, sectors uint64) *ramdisk.Volume {
	t.Helper()

	opts := ramdisk.DefaultOptions()
	opts.CapacitySectors = sectors
	opts.Allocator = store.Heap{}

	v, err := ramdisk.Create(null.NewHost(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { v.Remove() })

	return v
}

// Builds a write chunk the way the kernel module lays it out.
func writeChunk(metadataSize int, extents []extent, data [][]byte) []byte {
	chunk := make([]byte, metadataSize)
	for i, e := range extents {
		item := chunk[i*writeItemSize:]
		binary.LittleEndian.PutUint64(item[0:], uint64(e.Sector))
		binary.LittleEndian.PutUint64(item[8:], uint64(e.Length))
		binary.LittleEndian.PutUint64(item[16:], uint64(e.SeqNo))
		binary.LittleEndian.PutUint64(item[24:], uint64(e.Flag))
	}

	for _, d := range data {
		chunk = append(chunk, d...)
	}

	return chunk
}

func read(t *testing.T, v *ramdisk.Volume, sector uint64, n int) []byte {
	t.Helper()

	buf := make([]byte, n)
	_, err := v.Process(ramdisk.Request{Op: ramdisk.Read, Sector: sector, Segments: [][]byte{buf}})
	require.NoError(t, err)

	return buf
}

func TestParseExtent(t *testing.T) {
	b := make([]byte, writeItemSize)
	binary.LittleEndian.PutUint64(b[0:], 8)
	binary.LittleEndian.PutUint64(b[8:], 16)
	binary.LittleEndian.PutUint64(b[16:], 42)
	binary.LittleEndian.PutUint64(b[24:], 1)

	assert.Equal(t, extent{Sector: 8, Length: 16, SeqNo: 42, Flag: 1}, parseExtent(b))
}

func TestBuseWrite(t *testing.T) {
	v := newVolume(t, 64)
	rw := newReadWriter(v, testBlockSize, testChunkSize)
	require.Equal(t, 4*writeItemSize, rw.metadataSize)

	first := bytes.Repeat([]byte{1}, 8*ramdisk.SectorSize)
	second := bytes.Repeat([]byte{2}, 8*ramdisk.SectorSize)
	chunk := writeChunk(rw.metadataSize,
		[]extent{{Sector: 16, Length: 8, SeqNo: 1}, {Sector: 0, Length: 8, SeqNo: 2}},
		[][]byte{first, second})

	require.NoError(t, rw.BuseWrite(2, chunk))

	assert.Equal(t, second, read(t, v, 0, len(second)))
	assert.Equal(t, first, read(t, v, 16, len(first)))
	assert.Equal(t, uint64(2), v.Stats().Writes)
}

func TestBuseWriteClipped(t *testing.T) {
	v := newVolume(t, 64)
	rw := newReadWriter(v, testBlockSize, testChunkSize)

	data := bytes.Repeat([]byte{7}, 8*ramdisk.SectorSize)
	chunk := writeChunk(rw.metadataSize, []extent{{Sector: 60, Length: 8}}, [][]byte{data})

	require.NoError(t, rw.BuseWrite(1, chunk))
	assert.Equal(t, data[:4*ramdisk.SectorSize], read(t, v, 60, 4*ramdisk.SectorSize))
	assert.Equal(t, uint64(1), v.Stats().Clipped)
}

func TestBuseWriteMalformed(t *testing.T) {
	v := newVolume(t, 64)
	rw := newReadWriter(v, testBlockSize, testChunkSize)

	chunk := writeChunk(rw.metadataSize, []extent{{Sector: 0, Length: 8}}, [][]byte{make([]byte, ramdisk.SectorSize)})
	assert.ErrorIs(t, rw.BuseWrite(1, chunk), ramdisk.ErrInvalidArgument, "data shorter than the extent")

	assert.ErrorIs(t, rw.BuseWrite(5, chunk), ramdisk.ErrInvalidArgument, "more writes than metadata slots")
	assert.ErrorIs(t, rw.BuseWrite(1, chunk[:10]), ramdisk.ErrInvalidArgument, "chunk shorter than metadata")
	assert.Zero(t, v.Stats().Writes)
}

func TestBuseRead(t *testing.T) {
	v := newVolume(t, 64)
	rw := newReadWriter(v, testBlockSize, testChunkSize)

	want := bytes.Repeat([]byte("buse"), testBlockSize/4)
	_, err := v.Process(ramdisk.Request{Op: ramdisk.Write, Sector: 8, Segments: [][]byte{want}})
	require.NoError(t, err)

	chunk := make([]byte, 2*testBlockSize)
	require.NoError(t, rw.BuseRead(1, 1, chunk))
	assert.Equal(t, want, chunk[:testBlockSize])
	assert.Equal(t, make([]byte, testBlockSize), chunk[testBlockSize:], "read more than asked")

	assert.ErrorIs(t, rw.BuseRead(0, 3, chunk), ramdisk.ErrInvalidArgument)
}

func TestBuseReadAfterRemove(t *testing.T) {
	v := newVolume(t, 64)
	rw := newReadWriter(v, testBlockSize, testChunkSize)
	require.NoError(t, v.Remove())

	assert.ErrorIs(t, rw.BuseRead(0, 1, make([]byte, testBlockSize)), ramdisk.ErrInvalidHandle)
}
