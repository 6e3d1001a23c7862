// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package ramdisk

import (
	"sync/atomic"
)

// Stats are cumulative counters of processed requests.
type Stats struct {
	Reads        uint64
	Writes       uint64
	BytesRead    uint64
	BytesWritten uint64

	// Requests completed with fewer bytes than requested because they ran
	// past the end of the volume.
	Clipped uint64
}

type stats struct {
	reads        atomic.Uint64
	writes       atomic.Uint64
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
	clipped      atomic.Uint64
}

func (s *stats) account(req Request, transferred uint64) {
	if req.Op == Write {
		s.writes.Add(1)
		s.bytesWritten.Add(transferred)
	} else {
		s.reads.Add(1)
		s.bytesRead.Add(transferred)
	}

	if transferred < uint64(req.Len()) {
		s.clipped.Add(1)
	}
}

// Stats returns a snapshot of the request counters. The counters are read
// one by one, hence the snapshot is not atomic as a whole.
func (v *Volume) Stats() Stats {
	return Stats{
		Reads:        v.stats.reads.Load(),
		Writes:       v.stats.writes.Load(),
		BytesRead:    v.stats.bytesRead.Load(),
		BytesWritten: v.stats.bytesWritten.Load(),
		Clipped:      v.stats.clipped.Load(),
	}
}
