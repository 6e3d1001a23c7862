// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package ramdisk

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/asch/ramblk/internal/ramdisk/geometry"
)

// Control codes understood by Ioctl. The values are the Linux ones.
const (
	IoctlGetGeometry   uint32 = 0x0301 // HDIO_GETGEO
	IoctlGetCapability uint32 = 0x5331 // CDROM_GET_CAPABILITY
)

// Capability is an optional property a volume may advertise.
type Capability int

const (
	CapRemovable Capability = iota
	CapCDROM
	CapPartitionScan
)

func (c Capability) String() string {
	switch c {
	case CapRemovable:
		return "removable"
	case CapCDROM:
		return "cdrom"
	case CapPartitionScan:
		return "partition-scan"
	}

	return fmt.Sprintf("capability(%d)", int(c))
}

// QueryGeometry returns the legacy CHS geometry of the volume.
func (v *Volume) QueryGeometry() (geometry.Geometry, error) {
	if v.State() != Active {
		return geometry.Geometry{}, ErrInvalidHandle
	}

	return geometry.Compute(v.capacitySectors), nil
}

// QueryCapability reports whether the volume advertises c. Unknown
// capabilities fail with ErrNotSupported.
func (v *Volume) QueryCapability(c Capability) (bool, error) {
	if v.State() != Active {
		return false, ErrInvalidHandle
	}

	switch c {
	case CapRemovable:
		return v.opts.Removable, nil
	case CapCDROM:
		return v.opts.CDROM, nil
	case CapPartitionScan:
		return v.opts.PartitionScan, nil
	}

	return false, ErrNotSupported.WithMessage(c.String())
}

// Ioctl answers the control query cmd. arg is the caller memory the answer is
// copied to, if the query has one.
func (v *Volume) Ioctl(cmd uint32, arg []byte) error {
	log.Trace().Str("volume", v.opts.Name).Msgf("ioctl %x received", cmd)

	switch cmd {
	case IoctlGetGeometry:
		g, err := v.QueryGeometry()
		if err != nil {
			return err
		}

		if err := g.PutHDGeometry(arg); err != nil {
			return ErrInvalidArgument.Wrap(err)
		}

		return nil

	case IoctlGetCapability:
		cdrom, err := v.QueryCapability(CapCDROM)
		if err != nil {
			return err
		}

		if !cdrom {
			return ErrInvalidArgument.WithMessage("not a cdrom")
		}

		return nil
	}

	if v.State() != Active {
		return ErrInvalidHandle
	}

	return ErrNotSupported.WithMessage(fmt.Sprintf("ioctl %#x", cmd))
}
