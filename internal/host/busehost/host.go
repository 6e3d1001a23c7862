// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package busehost exposes a volume through the BUSE kernel module as
// /dev/buse<major>. The buse library does all the communication with the
// kernel, this package only translates its read and write calls into volume
// requests. One Host serves one device.
package busehost

import (
	"errors"
	"fmt"
	"sync"

	"github.com/asch/buse/lib/go/buse"
	"github.com/rs/zerolog/log"

	"github.com/asch/ramblk/internal/ramdisk"
)

var (
	ErrAlreadyRegistered = errors.New("buse host serves a single device")
	ErrNotRegistered     = errors.New("no device registered")
)

// Options of the buse library which are not derived from the volume.
type Options struct {
	// Flush semantics. True means durable, false means barrier only.
	Durable bool

	// Logical block size, 512 or 4096.
	BlockSize int64

	// Number of user-space threads for serving queues. Zero lets the
	// library decide.
	Threads int

	WriteChunkSize int64
	WriteShmSize   int64
	ReadShmSize    int64
	CollisionArea  int64

	// Use block layer scheduler.
	Scheduler bool
}

func (o Options) validate() error {
	if o.BlockSize != 512 && o.BlockSize != 4096 {
		return fmt.Errorf("block size %d is neither 512 nor 4096", o.BlockSize)
	}

	if o.WriteChunkSize <= 0 || o.WriteChunkSize%o.BlockSize != 0 {
		return fmt.Errorf("write chunk size %d is not a multiple of the block size", o.WriteChunkSize)
	}

	return nil
}

// Host implements ramdisk.Host with the buse library.
type Host struct {
	opts Options

	mu  sync.Mutex
	dev *device
}

type queues struct {
	cfg        ramdisk.QueueConfig
	dispatcher ramdisk.Dispatcher
}

// Registered buse device. It implements ramdisk.Handle.
type device struct {
	buse  buse.Buse
	major int
}

func (d *device) Name() string { return fmt.Sprintf("buse%d", d.major) }
func (d *device) Major() int   { return d.major }
func (d *device) Minor() int   { return 0 }

func New(opts Options) (*Host, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	return &Host{opts: opts}, nil
}

// The kernel module owns the dispatch queues, they are only configured here
// and passed to buse.New on registration.
func (h *Host) SetupQueues(cfg ramdisk.QueueConfig, d ramdisk.Dispatcher) (ramdisk.Queues, error) {
	if cfg.QueueDepth < 1 {
		return nil, fmt.Errorf("queue depth %d", cfg.QueueDepth)
	}

	return &queues{cfg: cfg, dispatcher: d}, nil
}

func (h *Host) ReleaseQueues(q ramdisk.Queues) error {
	if _, ok := q.(*queues); !ok {
		return fmt.Errorf("foreign queues %T", q)
	}

	return nil
}

func (h *Host) RegisterVolume(id ramdisk.Identity, q ramdisk.Queues) (ramdisk.Handle, error) {
	qs, ok := q.(*queues)
	if !ok {
		return nil, fmt.Errorf("foreign queues %T", q)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dev != nil {
		return nil, ErrAlreadyRegistered
	}

	size := int64(id.CapacitySectors) * int64(id.SectorSize)
	if size%h.opts.BlockSize != 0 {
		return nil, fmt.Errorf("volume of %d bytes is not a multiple of the block size %d", size, h.opts.BlockSize)
	}

	threads := h.opts.Threads
	if threads == 0 {
		threads = qs.cfg.HWQueues
	}

	rw := newReadWriter(qs.dispatcher, h.opts.BlockSize, h.opts.WriteChunkSize)

	b, err := buse.New(rw, buse.Options{
		Durable:        h.opts.Durable,
		WriteChunkSize: h.opts.WriteChunkSize,
		BlockSize:      h.opts.BlockSize,
		Threads:        threads,
		Major:          int64(id.Major),
		WriteShmSize:   h.opts.WriteShmSize,
		ReadShmSize:    h.opts.ReadShmSize,
		Size:           size,
		CollisionArea:  h.opts.CollisionArea,
		QueueDepth:     int64(qs.cfg.QueueDepth),
		Scheduler:      h.opts.Scheduler,
	})
	if err != nil {
		return nil, err
	}

	h.dev = &device{buse: b, major: id.Major}

	log.Info().Msgf("BUSE device %d registered!", id.Major)

	return h.dev, nil
}

func (h *Host) DeregisterVolume(handle ramdisk.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dev == nil || handle != ramdisk.Handle(h.dev) {
		return ErrNotRegistered
	}

	log.Info().Msgf("Removing %s", h.dev.Name())
	h.dev.buse.RemoveDevice()
	h.dev = nil

	return nil
}

// Run serves the kernel until Stop is called.
func (h *Host) Run() error {
	dev, err := h.device()
	if err != nil {
		return err
	}

	dev.buse.Run()

	return nil
}

// Stop makes Run return. The device stays registered.
func (h *Host) Stop() error {
	dev, err := h.device()
	if err != nil {
		return err
	}

	log.Info().Msgf("Stopping %s device!", dev.Name())
	dev.buse.StopDevice()

	return nil
}

func (h *Host) device() (*device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dev == nil {
		return nil, ErrNotRegistered
	}

	return h.dev, nil
}
