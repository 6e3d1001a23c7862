// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package local

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/asch/ramblk/internal/blkmq"
	"github.com/asch/ramblk/internal/ramdisk"
)

// Operations are the file operations of a disk. The volume registered with
// the host provides them.
type Operations interface {
	Open() error
	Close()
	Ioctl(cmd uint32, arg []byte) error
}

// Disk is a volume registered with the local host. It implements
// ramdisk.Handle.
type Disk struct {
	id    ramdisk.Identity
	major int
	minor int

	queue *blkmq.Queue
	ops   Operations

	// Round robin over the hardware contexts.
	next     atomic.Uint64
	contexts uint64

	dead atomic.Bool
}

var errGone = ramdisk.ErrNoSuchDevice.Wrap(ramdisk.ErrInvalidHandle)

func (d *Disk) Name() string { return d.id.Name }
func (d *Disk) Major() int   { return d.major }
func (d *Disk) Minor() int   { return d.minor }

// Size returns the disk capacity in bytes.
func (d *Disk) Size() int64 {
	return int64(d.id.CapacitySectors) * int64(d.id.SectorSize)
}

// Submit queues req on the next hardware context and waits for completion.
func (d *Disk) Submit(ctx context.Context, req ramdisk.Request) (blkmq.Completion, error) {
	return d.submit(ctx, req, false)
}

// SubmitPrio is Submit ahead of all normal requests waiting on the context.
func (d *Disk) SubmitPrio(ctx context.Context, req ramdisk.Request) (blkmq.Completion, error) {
	return d.submit(ctx, req, true)
}

func (d *Disk) submit(ctx context.Context, req ramdisk.Request, prio bool) (blkmq.Completion, error) {
	if d.dead.Load() {
		return blkmq.Completion{}, ramdisk.ErrInvalidHandle
	}

	hctx := int(d.next.Add(1) % d.contexts)

	c, err := d.queue.Submit(ctx, req, blkmq.SubmitOptions{Context: hctx, Prio: prio})
	if errors.Is(err, blkmq.ErrQueueDead) {
		return c, ramdisk.ErrInvalidHandle.Wrap(err)
	}

	return c, err
}

// Open is called when the disk node is opened.
func (d *Disk) Open() error {
	if d.dead.Load() || d.ops == nil {
		return errGone
	}

	return d.ops.Open()
}

// Release is called when the disk node is closed.
func (d *Disk) Release() {
	if d.ops != nil {
		d.ops.Close()
	}
}

func (d *Disk) Ioctl(cmd uint32, arg []byte) error {
	if d.dead.Load() {
		return ramdisk.ErrInvalidHandle
	}

	if d.ops == nil {
		return ramdisk.ErrNotSupported
	}

	return d.ops.Ioctl(cmd, arg)
}

// ReadAt implements io.ReaderAt. off has to be sector aligned.
func (d *Disk) ReadAt(p []byte, off int64) (int, error) {
	c, err := d.transfer(ramdisk.Read, p, off)
	if err != nil {
		return c.Transferred, err
	}

	if c.Status == blkmq.StatusShort {
		return c.Transferred, io.EOF
	}

	return c.Transferred, nil
}

// WriteAt implements io.WriterAt. off has to be sector aligned.
func (d *Disk) WriteAt(p []byte, off int64) (int, error) {
	c, err := d.transfer(ramdisk.Write, p, off)
	if err != nil {
		return c.Transferred, err
	}

	if c.Status == blkmq.StatusShort {
		return c.Transferred, io.ErrShortWrite
	}

	return c.Transferred, nil
}

func (d *Disk) transfer(op ramdisk.Op, p []byte, off int64) (blkmq.Completion, error) {
	if off < 0 || off%ramdisk.SectorSize != 0 {
		return blkmq.Completion{}, ramdisk.ErrInvalidArgument.WithMessage("unaligned offset")
	}

	req := ramdisk.Request{
		Op:       op,
		Sector:   uint64(off) >> ramdisk.SectorShift,
		Segments: [][]byte{p},
	}

	c, err := d.Submit(context.Background(), req)
	if err != nil {
		return c, err
	}

	if c.Status == blkmq.StatusIOErr {
		return c, c.Err
	}

	return c, nil
}
