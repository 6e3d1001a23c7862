// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package local is a ramdisk.Host living entirely in the process. Volumes get
// blk-mq style dispatch queues from the blkmq package and a name, major and
// minor in a registry. The registered disks are looked up by name and used as
// a kernel would: open, release, ioctl and request submission.
package local

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/asch/ramblk/internal/blkmq"
	"github.com/asch/ramblk/internal/ramdisk"
)

// Major handed out to volumes registering without one. It is the first
// number of the Linux range for local and experimental use.
const DynamicMajor = 240

var (
	ErrExists   = errors.New("disk name already registered")
	ErrNotFound = errors.New("no such disk")
)

// Host implements ramdisk.Host. It is safe for concurrent use.
type Host struct {
	mu     sync.Mutex
	disks  map[string]*Disk
	minors map[int]*minorMap
}

// Dispatch resources of one volume.
type queues struct {
	tagSet     *blkmq.TagSet
	queue      *blkmq.Queue
	dispatcher ramdisk.Dispatcher
	hwQueues   int
}

func NewHost() *Host {
	return &Host{
		disks:  make(map[string]*Disk),
		minors: make(map[int]*minorMap),
	}
}

func (h *Host) SetupQueues(cfg ramdisk.QueueConfig, d ramdisk.Dispatcher) (ramdisk.Queues, error) {
	tagSet, err := blkmq.NewTagSet(blkmq.TagSetConfig{
		HWQueues:   cfg.HWQueues,
		QueueDepth: cfg.QueueDepth,
		CmdSize:    cfg.CmdSize,
	})
	if err != nil {
		return nil, fmt.Errorf("allocate tag set: %w", err)
	}

	queue, err := tagSet.InitQueue(d)
	if err != nil {
		tagSet.Free()
		return nil, fmt.Errorf("init queue: %w", err)
	}

	q := queues{
		tagSet:     tagSet,
		queue:      queue,
		dispatcher: d,
		hwQueues:   cfg.HWQueues,
	}

	return &q, nil
}

func (h *Host) ReleaseQueues(q ramdisk.Queues) error {
	qs, ok := q.(*queues)
	if !ok {
		return fmt.Errorf("foreign queues %T", q)
	}

	qs.queue.Cleanup()

	return qs.tagSet.Free()
}

func (h *Host) RegisterVolume(id ramdisk.Identity, q ramdisk.Queues) (ramdisk.Handle, error) {
	qs, ok := q.(*queues)
	if !ok {
		return nil, fmt.Errorf("foreign queues %T", q)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.disks[id.Name]; ok {
		return nil, fmt.Errorf("%s: %w", id.Name, ErrExists)
	}

	major := id.Major
	if major == 0 {
		major = DynamicMajor
	}

	mm, ok := h.minors[major]
	if !ok {
		mm = newMinorMap()
		h.minors[major] = mm
	}

	minor, err := mm.allocate()
	if err != nil {
		return nil, fmt.Errorf("major %d: %w", major, err)
	}

	ops, _ := qs.dispatcher.(Operations)

	d := &Disk{
		id:    id,
		major: major,
		minor: minor,
		queue: qs.queue,
		ops:   ops,
	}
	d.contexts = uint64(qs.hwQueues)

	h.disks[id.Name] = d

	log.Info().Str("disk", id.Name).Int("major", major).Int("minor", minor).Msg("Disk added.")

	return d, nil
}

func (h *Host) DeregisterVolume(handle ramdisk.Handle) error {
	d, ok := handle.(*Disk)
	if !ok {
		return fmt.Errorf("foreign handle %T", handle)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.disks[d.id.Name] != d {
		return fmt.Errorf("%s: %w", d.id.Name, ErrNotFound)
	}

	d.dead.Store(true)
	delete(h.disks, d.id.Name)

	mm := h.minors[d.major]
	if err := mm.free(d.minor); err != nil {
		return err
	}
	if mm.empty() {
		delete(h.minors, d.major)
	}

	log.Info().Str("disk", d.id.Name).Msg("Disk deleted.")

	return nil
}

// Lookup returns the registered disk called name.
func (h *Host) Lookup(name string) (*Disk, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	d, ok := h.disks[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	return d, nil
}

// Disks returns the number of registered disks.
func (h *Host) Disks() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.disks)
}
