// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package ramdisk

// Op is the direction of a request.
type Op uint8

const (
	Read Op = iota
	Write
)

func (o Op) String() string {
	switch o {
	case Read:
		return "read"
	case Write:
		return "write"
	}

	return "unknown"
}

// Request is one I/O request. Segments are filled (read) or drained (write)
// in order, starting at Sector.
type Request struct {
	Op       Op
	Sector   uint64
	Segments [][]byte
}

// Len returns the number of bytes the request asks for.
func (r Request) Len() int {
	var n int
	for _, s := range r.Segments {
		n += len(s)
	}

	return n
}

// Process copies the request segments from or to the store and returns the
// number of bytes transferred. A request running past the end of the volume
// is clipped there, the shortfall is not an error. Process never blocks and
// may be called concurrently.
func (v *Volume) Process(req Request) (int, error) {
	v.inflight.Add(1)
	defer v.inflight.Add(-1)

	if v.State() != Active {
		return 0, ErrInvalidHandle
	}

	if req.Op != Read && req.Op != Write {
		return 0, ErrInvalidArgument
	}

	data := v.store.Bytes()
	capacity := uint64(len(data))

	var transferred uint64
	if req.Sector < v.capacitySectors {
		offset := req.Sector << SectorShift

		for _, seg := range req.Segments {
			remaining := capacity - offset
			if remaining == 0 {
				break
			}

			n := uint64(len(seg))
			if n > remaining {
				n = remaining
			}

			if req.Op == Write {
				copy(data[offset:offset+n], seg[:n])
			} else {
				copy(seg[:n], data[offset:offset+n])
			}

			offset += n
			transferred += n
		}
	}

	v.stats.account(req, transferred)

	return int(transferred), nil
}

// Dispatch implements Dispatcher.
func (v *Volume) Dispatch(req Request) (int, error) {
	return v.Process(req)
}
