// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package ramdisk

import (
	"runtime"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/asch/ramblk/internal/ramdisk/store"
)

const (
	SectorSize  = store.SectorSize
	SectorShift = store.SectorShift

	// Size of the original ram disk in memory pages.
	defaultPages = 16

	defaultName       = "ramblk"
	defaultHWQueues   = 1
	defaultQueueDepth = 128
)

// State of the volume lifecycle.
type State int32

const (
	Uninitialized State = iota
	Allocating
	Registered
	Active
	Deregistering
	Removed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Allocating:
		return "allocating"
	case Registered:
		return "registered"
	case Active:
		return "active"
	case Deregistering:
		return "deregistering"
	case Removed:
		return "removed"
	}

	return "unknown"
}

// Options for Create. Zero values are replaced by defaults except for the
// boolean flags, use DefaultOptions to start from the defaults.
type Options struct {
	Name  string
	Major int

	// Capacity of the volume in 512 byte sectors.
	CapacitySectors uint64

	Allocator store.Allocator
	Queue     QueueConfig

	// Capability flags advertised through control queries.
	Removable     bool
	PartitionScan bool
	CDROM         bool
}

// DefaultOptions returns options describing the classic sample ram disk: 16
// pages of memory, removable media, no partition scan, one dispatch context
// with depth 128.
func DefaultOptions() Options {
	return Options{
		Name:            defaultName,
		CapacitySectors: uint64(defaultPages*store.PageSize()) >> SectorShift,
		Allocator:       store.Mmap{},
		Queue: QueueConfig{
			HWQueues:   defaultHWQueues,
			QueueDepth: defaultQueueDepth,
		},
		Removable: true,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()

	if o.Name == "" {
		o.Name = d.Name
	}
	if o.CapacitySectors == 0 {
		o.CapacitySectors = d.CapacitySectors
	}
	if o.Allocator == nil {
		o.Allocator = d.Allocator
	}
	if o.Queue.HWQueues == 0 {
		o.Queue.HWQueues = d.Queue.HWQueues
	}
	if o.Queue.QueueDepth == 0 {
		o.Queue.QueueDepth = d.Queue.QueueDepth
	}

	return o
}

// Volume is a fixed size block device held in memory. It is safe for
// concurrent use. Requests to overlapping sectors are not ordered against
// each other.
type Volume struct {
	opts Options
	host Host

	store           *store.Store
	capacitySectors uint64

	queues Queues
	handle Handle

	state     atomic.Int32
	openCount atomic.Int64

	// Number of Process calls currently touching the store. Remove waits
	// for it to drop to zero before the store is freed.
	inflight atomic.Int64

	stats stats
}

// Create allocates the backing store, acquires dispatch queues from host and
// registers the volume. On failure nothing stays registered or allocated and
// the returned error matches ErrAllocation or ErrRegistration.
func Create(host Host, opts Options) (*Volume, error) {
	opts = opts.withDefaults()

	v := &Volume{
		opts: opts,
		host: host,
	}

	v.setState(Allocating)

	s, err := store.New(opts.Allocator, opts.CapacitySectors)
	if err != nil {
		v.setState(Removed)
		log.Warn().Err(err).Str("volume", opts.Name).Msg("Failed to allocate backing store.")
		return nil, ErrAllocation.Wrap(err)
	}

	v.store = s
	v.capacitySectors = s.CapacitySectors()

	var undo cleanup
	undo.push(v.store.Free)

	v.queues, err = host.SetupQueues(opts.Queue, v)
	if err != nil {
		return nil, v.rollback(undo, "Failed to set up dispatch queues.", err)
	}
	queues := v.queues
	undo.push(func() error {
		return host.ReleaseQueues(queues)
	})

	v.handle, err = host.RegisterVolume(v.Identity(), v.queues)
	if err != nil {
		return nil, v.rollback(undo, "Failed to register volume.", err)
	}

	v.setState(Registered)
	v.openCount.Store(0)
	v.setState(Active)

	log.Info().
		Str("volume", v.handle.Name()).
		Int("major", v.handle.Major()).
		Int("minor", v.handle.Minor()).
		Uint64("sectors", v.capacitySectors).
		Msg("Volume created.")

	return v, nil
}

// Unwinds partially created volume and builds the error reported by Create.
func (v *Volume) rollback(undo cleanup, msg string, cause error) error {
	log.Warn().Err(cause).Str("volume", v.opts.Name).Msg(msg)

	err := error(ErrRegistration.Wrap(cause))
	if cerr := undo.run(); cerr != nil {
		log.Error().Err(cerr).Str("volume", v.opts.Name).Msg("Rollback incomplete.")
		err = multierror.Append(err, cerr)
	}

	v.queues = nil
	v.setState(Removed)

	return err
}

// Remove deregisters the volume, releases its queues and frees the store in
// this order. It does not wait for openers to close the volume. Requests
// already inside Process are allowed to finish before the store is freed.
func (v *Volume) Remove() error {
	if !v.state.CompareAndSwap(int32(Active), int32(Deregistering)) {
		return ErrInvalidHandle.WithMessage("volume " + v.State().String())
	}

	if n := v.openCount.Load(); n > 0 {
		log.Warn().Str("volume", v.opts.Name).Int64("openers", n).Msg("Removing volume which is still open.")
	}

	var result *multierror.Error

	if err := v.host.DeregisterVolume(v.handle); err != nil {
		result = multierror.Append(result, err)
	}

	v.waitInflight()

	if err := v.host.ReleaseQueues(v.queues); err != nil {
		result = multierror.Append(result, err)
	}
	v.queues = nil

	if err := v.store.Free(); err != nil {
		result = multierror.Append(result, err)
	}

	v.setState(Removed)

	if err := result.ErrorOrNil(); err != nil {
		log.Error().Err(err).Str("volume", v.opts.Name).Msg("Volume removed with errors.")
		return err
	}

	log.Info().Str("volume", v.opts.Name).Msg("Volume removed.")

	return nil
}

func (v *Volume) waitInflight() {
	for v.inflight.Load() > 0 {
		runtime.Gosched()
	}
}

func (v *Volume) setState(s State) {
	v.state.Store(int32(s))
}

func (v *Volume) State() State {
	return State(v.state.Load())
}

// Handle returns the host registration. It is nil if the volume never got
// registered.
func (v *Volume) Handle() Handle {
	return v.handle
}

func (v *Volume) CapacitySectors() uint64 {
	return v.capacitySectors
}

// Identity returns what the volume registers with the host.
func (v *Volume) Identity() Identity {
	return Identity{
		Name:            v.opts.Name,
		Major:           v.opts.Major,
		CapacitySectors: v.capacitySectors,
		SectorSize:      SectorSize,
		Removable:       v.opts.Removable,
		PartitionScan:   v.opts.PartitionScan,
	}
}

// Stack of release functions run in reverse order of acquisition.
type cleanup []func() error

func (c *cleanup) push(f func() error) {
	*c = append(*c, f)
}

func (c cleanup) run() error {
	var result *multierror.Error

	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}
