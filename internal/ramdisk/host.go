// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package ramdisk

// Dispatcher serves one I/O request and returns the number of bytes
// transferred. Implementations must not block.
type Dispatcher interface {
	Dispatch(req Request) (int, error)
}

// QueueConfig describes the dispatch resources a volume asks the host for.
type QueueConfig struct {
	// Number of parallel dispatch contexts (hardware queues).
	HWQueues int

	// Number of requests which can be in flight at once per context.
	QueueDepth int

	// Size of the per-request auxiliary storage in bytes.
	CmdSize int
}

// Identity is what the volume asks the host to make visible.
type Identity struct {
	// Disk name, e.g. /dev/<Name>.
	Name string

	// Requested major. Zero lets the host choose.
	Major int

	CapacitySectors uint64
	SectorSize      int
	Removable       bool
	PartitionScan   bool
}

// Queues is an opaque token for dispatch resources acquired from a host.
type Queues interface{}

// Handle is the registration of a volume within the host.
type Handle interface {
	Name() string
	Major() int
	Minor() int
}

// Host is the I/O subsystem a volume is exposed through. The volume acquires
// queues before registration and releases them after deregistration. Once
// DeregisterVolume returns the host must not dispatch any new request.
type Host interface {
	SetupQueues(cfg QueueConfig, d Dispatcher) (Queues, error)
	ReleaseQueues(q Queues) error
	RegisterVolume(id Identity, q Queues) (Handle, error)
	DeregisterVolume(h Handle) error
}
