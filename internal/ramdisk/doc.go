// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package ramdisk implements a block volume held entirely in memory. A
// Volume is created against a Host, which is the I/O subsystem making it
// visible (BUSE kernel module, in-process blk-mq dispatcher or nothing at
// all). The host calls Process for every request, Open and Close on openers
// and Ioctl for control queries.
//
// Requests are served by plain memory copies without any locking. Requests
// running past the end of the volume are clipped and complete short.
//
// The package keeps no global state, any number of volumes can exist at the
// same time.
package ramdisk
