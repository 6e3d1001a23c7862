// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package geometry computes the legacy cylinder/head/sector triple reported
// to tools which still ask for it. The values are advisory only, nothing in
// ramblk addresses the volume through them.
package geometry

import (
	"encoding/binary"
	"errors"
	"math"
	"math/bits"

	"github.com/noxer/bytewriter"
)

const (
	// Breakpoints of the legacy CHS translation. Sectors per track and
	// heads saturate here.
	maxSectorsPerTrack = 63
	maxHeads           = 255

	// Width of the cylinder field in struct hd_geometry.
	maxWireCylinders = 0xffff

	// Size of struct hd_geometry on 64-bit Linux: u8 heads, u8 sectors,
	// u16 cylinders, 4 bytes of padding and unsigned long start.
	HDGeometrySize = 16
)

var ErrShortBuffer = errors.New("buffer too short for hd_geometry")

// Geometry as returned by HDIO_GETGEO.
type Geometry struct {
	Heads           uint32
	SectorsPerTrack uint32
	Cylinders       uint64

	// First sector of the volume. Always 0 since the volume is not
	// partitioned.
	Start uint64
}

// Compute returns the geometry for a volume with capacitySectors sectors.
func Compute(capacitySectors uint64) Geometry {
	if capacitySectors <= maxSectorsPerTrack {
		return Geometry{
			Heads:           1,
			SectorsPerTrack: uint32(capacitySectors),
			Cylinders:       1,
		}
	}

	g := Geometry{SectorsPerTrack: maxSectorsPerTrack}

	quotient := divCeil(capacitySectors, maxSectorsPerTrack)
	if quotient > maxHeads {
		g.Heads = maxHeads
		g.Cylinders = divCeil(quotient, maxHeads)
	} else {
		g.Heads = uint32(quotient)
		g.Cylinders = 1
	}

	return g
}

// Total returns the number of sectors the geometry describes, saturated at
// math.MaxUint64. It is never less than the capacity it was computed from.
func (g Geometry) Total() uint64 {
	hi, lo := bits.Mul64(uint64(g.SectorsPerTrack)*uint64(g.Heads), g.Cylinders)
	if hi != 0 {
		return math.MaxUint64
	}

	return lo
}

// PutHDGeometry encodes g as struct hd_geometry into buf. The cylinder count
// is clamped to the 16 bits the structure has room for.
func (g Geometry) PutHDGeometry(buf []byte) error {
	if len(buf) < HDGeometrySize {
		return ErrShortBuffer
	}

	cylinders := g.Cylinders
	if cylinders > maxWireCylinders {
		cylinders = maxWireCylinders
	}

	w := bytewriter.New(buf[:HDGeometrySize])

	raw := struct {
		Heads     uint8
		Sectors   uint8
		Cylinders uint16
		_         [4]byte
		Start     uint64
	}{
		Heads:     uint8(g.Heads),
		Sectors:   uint8(g.SectorsPerTrack),
		Cylinders: uint16(cylinders),
		Start:     g.Start,
	}

	return binary.Write(w, binary.LittleEndian, &raw)
}

// Ceiling of a/b for a > 0 which does not overflow near math.MaxUint64.
func divCeil(a, b uint64) uint64 {
	return (a-1)/b + 1
}
