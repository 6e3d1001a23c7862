// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package busehost

import (
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/asch/ramblk/internal/ramdisk"
)

const (
	// Size of the metadata for one write in the write chunk read from the
	// kernel.
	writeItemSize = 32
)

// One write from the metadata section of a write chunk. Sector and Length
// are in 512 byte sectors, as the kernel sends them.
type extent struct {
	Sector int64
	Length int64

	// Sequential number of the write.
	SeqNo int64

	// Reserved for future usage.
	Flag int64
}

// readWriter implements BuseReadWriter on top of a ramdisk.Dispatcher. Buse
// library serves the kernel queues from several threads, each call is turned
// into one or more requests and dispatched right away.
type readWriter struct {
	dispatcher ramdisk.Dispatcher

	// Logical block size of the device. Reads are addressed in blocks.
	blockSize int64

	// Size of the chunk portion which contains all writes metadata.
	// After this offset real data are stored.
	metadataSize int
}

func newReadWriter(d ramdisk.Dispatcher, blockSize int64, writeChunkSize int64) *readWriter {
	return &readWriter{
		dispatcher:   d,
		blockSize:    blockSize,
		metadataSize: int(writeChunkSize / blockSize * writeItemSize),
	}
}

// Parses write extent information from 32 bytes of raw memory. The memory is
// one write in metadata section of the chunk.
func parseExtent(b []byte) extent {
	return extent{
		Sector: int64(binary.LittleEndian.Uint64(b[:8])),
		Length: int64(binary.LittleEndian.Uint64(b[8:16])),
		SeqNo:  int64(binary.LittleEndian.Uint64(b[16:24])),
		Flag:   int64(binary.LittleEndian.Uint64(b[24:32])),
	}
}

// Handle writes coming from the buse library. writes contain number of write
// commands in this call and chunk contains memory where these commands are
// stored together with their data. First part of the chunk are metadata, until
// metadataSize and the rest are data of all writes in the same order.
func (rw *readWriter) BuseWrite(writes int64, chunk []byte) error {
	if len(chunk) < rw.metadataSize || writes*writeItemSize > int64(rw.metadataSize) {
		return ramdisk.ErrInvalidArgument.WithMessage(fmt.Sprintf("write chunk of %d bytes cannot hold %d writes", len(chunk), writes))
	}

	metadata := chunk[:rw.metadataSize]
	data := chunk[rw.metadataSize:]

	for i := int64(0); i < writes; i++ {
		e := parseExtent(metadata[:writeItemSize])
		metadata = metadata[writeItemSize:]

		size := e.Length * ramdisk.SectorSize
		if e.Sector < 0 || size < 0 || size > int64(len(data)) {
			return ramdisk.ErrInvalidArgument.WithMessage(fmt.Sprintf("write %d of %d sectors at %d overruns the chunk", e.SeqNo, e.Length, e.Sector))
		}

		req := ramdisk.Request{
			Op:       ramdisk.Write,
			Sector:   uint64(e.Sector),
			Segments: [][]byte{data[:size]},
		}

		n, err := rw.dispatcher.Dispatch(req)
		if err != nil {
			return err
		}

		if int64(n) < size {
			log.Debug().Int64("sector", e.Sector).Int64("seqno", e.SeqNo).Int("written", n).Msg("Write clipped at the end of the volume.")
		}

		data = data[size:]
	}

	return nil
}

// Read extent starting at sector with length length to the buffer chunk.
// Both are in blocks of the device.
func (rw *readWriter) BuseRead(sector, length int64, chunk []byte) error {
	size := length * rw.blockSize
	if sector < 0 || size < 0 || size > int64(len(chunk)) {
		return ramdisk.ErrInvalidArgument.WithMessage(fmt.Sprintf("read of %d blocks at %d does not fit the chunk", length, sector))
	}

	req := ramdisk.Request{
		Op:       ramdisk.Read,
		Sector:   uint64(sector * rw.blockSize / ramdisk.SectorSize),
		Segments: [][]byte{chunk[:size]},
	}

	n, err := rw.dispatcher.Dispatch(req)
	if err != nil {
		return err
	}

	if int64(n) < size {
		log.Debug().Int64("block", sector).Int("read", n).Msg("Read clipped at the end of the volume.")
	}

	return nil
}

func (rw *readWriter) BusePreRun() {
	log.Info().Msg("BUSE device is about to serve requests.")
}

func (rw *readWriter) BusePostRemove() {
	log.Info().Msg("BUSE device disconnected.")
}
