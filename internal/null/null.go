// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Null package does nothing but correctly.
package null

import (
	"sync"

	"github.com/asch/ramblk/internal/ramdisk"
)

// Host is a ramdisk.Host which accepts every registration and never
// dispatches a request. Useful for inspecting a volume without exposing it
// anywhere and for exercising the volume lifecycle in tests. Each step can be
// made to fail by setting the corresponding error.
type Host struct {
	SetupErr      error
	ReleaseErr    error
	RegisterErr   error
	DeregisterErr error

	mu    sync.Mutex
	calls []string
}

// Registration handle of the null host.
type handle struct {
	name string
}

func (h handle) Name() string { return h.name }
func (h handle) Major() int   { return 0 }
func (h handle) Minor() int   { return 0 }

type queues struct {
	cfg ramdisk.QueueConfig
}

func NewHost() *Host {
	return &Host{}
}

func (n *Host) SetupQueues(cfg ramdisk.QueueConfig, d ramdisk.Dispatcher) (ramdisk.Queues, error) {
	n.record("setup")
	if n.SetupErr != nil {
		return nil, n.SetupErr
	}

	return &queues{cfg}, nil
}

func (n *Host) ReleaseQueues(q ramdisk.Queues) error {
	n.record("release")
	return n.ReleaseErr
}

func (n *Host) RegisterVolume(id ramdisk.Identity, q ramdisk.Queues) (ramdisk.Handle, error) {
	n.record("register")
	if n.RegisterErr != nil {
		return nil, n.RegisterErr
	}

	return handle{id.Name}, nil
}

func (n *Host) DeregisterVolume(h ramdisk.Handle) error {
	n.record("deregister")
	return n.DeregisterErr
}

// Calls returns the host operations invoked so far, in order.
func (n *Host) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]string(nil), n.calls...)
}

func (n *Host) record(call string) {
	n.mu.Lock()
	n.calls = append(n.calls, call)
	n.mu.Unlock()
}
