// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package ramdisk_test

import (
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/asch/ramblk/internal/ramdisk"
)

// Replays random requests against the volume and against a plain seekable
// buffer of the same size, clipping the model by hand.
func TestMatchesSeekableModel(t *testing.T) {
	const sectors = 96
	const capacity = sectors * ramdisk.SectorSize

	v, _ := newVolume(t, sectors)
	model := bytesextra.NewReadWriteSeeker(make([]byte, capacity))

	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 2000; i++ {
		sector := uint64(rng.Intn(sectors + 4))

		var segs [][]byte
		for n := rng.Intn(4) + 1; n > 0; n-- {
			seg := make([]byte, rng.Intn(3*ramdisk.SectorSize))
			rng.Read(seg)
			segs = append(segs, seg)
		}

		op := ramdisk.Op(rng.Intn(2))
		req := ramdisk.Request{Op: op, Sector: sector, Segments: segs}

		want := 0
		if sector < sectors {
			want = req.Len()
			if remaining := capacity - int(sector)*ramdisk.SectorSize; want > remaining {
				want = remaining
			}
		}

		if op == ramdisk.Write && want > 0 {
			_, err := model.Seek(int64(sector)*ramdisk.SectorSize, io.SeekStart)
			require.NoError(t, err)
			_, err = model.Write(flatten(segs)[:want])
			require.NoError(t, err)
		}

		n, err := v.Process(req)
		require.NoError(t, err)
		require.Equal(t, want, n, "request %d at sector %d", i, sector)

		if op == ramdisk.Read && want > 0 {
			expected := make([]byte, want)
			_, err := model.Seek(int64(sector)*ramdisk.SectorSize, io.SeekStart)
			require.NoError(t, err)
			_, err = io.ReadFull(model, expected)
			require.NoError(t, err)
			require.Equal(t, expected, flatten(segs)[:want], "request %d at sector %d", i, sector)
		}
	}
}

func flatten(segs [][]byte) []byte {
	var b []byte
	for _, s := range segs {
		b = append(b, s...)
	}

	return b
}
