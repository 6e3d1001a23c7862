// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package ramdisk

import (
	"github.com/rs/zerolog/log"
)

// Returned for opens of a volume which is gone. Matches both ErrNoSuchDevice
// and ErrInvalidHandle.
var errOpenRemoved = ErrNoSuchDevice.Wrap(ErrInvalidHandle)

// Open records a new opener. It fails with ErrNoSuchDevice unless the volume
// is active.
func (v *Volume) Open() error {
	switch v.State() {
	case Active:
	case Deregistering, Removed:
		return errOpenRemoved
	default:
		return ErrNoSuchDevice
	}

	n := v.openCount.Add(1)
	log.Debug().Str("volume", v.opts.Name).Int64("openers", n).Msg("Volume opened.")

	return nil
}

// Close drops one opener. It never fails, not even for a close without a
// matching open.
func (v *Volume) Close() {
	n := v.openCount.Add(-1)
	if n < 0 {
		log.Warn().Str("volume", v.opts.Name).Int64("openers", n).Msg("Volume closed more times than opened.")
		return
	}

	log.Debug().Str("volume", v.opts.Name).Int64("openers", n).Msg("Volume closed.")
}

// OpenCount returns the number of current openers.
func (v *Volume) OpenCount() int64 {
	return v.openCount.Load()
}
