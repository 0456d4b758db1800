// Package blockdev implements the block device service: a single block
// device reached through a split virtqueue, exposing synchronous sector
// read/write.
package blockdev

import (
	"encoding/binary"
	"sync"

	"github.com/lynafyna/chilena/internal/vring"
	"github.com/lynafyna/chilena/pkg/kerr"
	"github.com/lynafyna/chilena/pkg/klog"
)

var log = klog.For("blockdev")

const (
	reqKindRead  uint32 = 0
	reqKindWrite uint32 = 1

	descFlagNext  uint16 = 1
	descFlagWrite uint16 = 2
)

// requestHeader mirrors a VirtIO block request header: kind, reserved,
// sector — the bytes the head descriptor of every chain points at.
type requestHeader struct {
	Kind     uint32
	Reserved uint32
	Sector   uint64
}

func (h requestHeader) bytes() [16]byte {
	var buf [16]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.Kind)
	binary.LittleEndian.PutUint32(buf[4:8], h.Reserved)
	binary.LittleEndian.PutUint64(buf[8:16], h.Sector)
	return buf
}

// descriptor is one entry of the split virtqueue's descriptor table — the
// request header, the data buffer, or the status byte, chained via Next.
type descriptor struct {
	addr  [16]byte // opaque payload, just enough to keep the chain concrete
	flags uint16
	next  uint16
}

// FaultInjector lets tests simulate the device misbehaving, without which
// Timeout and DeviceError could never be observed against a backend that
// always succeeds synchronously.
type FaultInjector func(sector uint64, write bool) (statusNonZero bool, neverCompletes bool)

// Device is the synchronous sector read/write service, built over a split
// virtqueue with an available ring, a used ring, and a
// single-descriptor-table-per-request chain of head/data/status.
type Device struct {
	mu         sync.Mutex
	backend    Backend
	queueSize  uint16
	avail      *vring.Ring
	used       *vring.Ring
	spinLimit  int
	descTable  [3]descriptor
	statusByte byte
	fault      FaultInjector
}

// New wires a Device to a Backend over a virtqueue of the given size (the
// device-advertised queue size — never a compile-time constant) with a
// bounded busy-poll spin limit.
func New(backend Backend, queueSize uint16, spinLimit int) *Device {
	return &Device{
		backend:   backend,
		queueSize: queueSize,
		avail:     vring.New(queueSize),
		used:      vring.New(queueSize),
		spinLimit: spinLimit,
	}
}

// SetFaultInjector installs a fault hook used only by tests exercising the
// Timeout and DeviceError paths; nil (the default) means every request
// completes cleanly on the next poll.
func (d *Device) SetFaultInjector(f FaultInjector) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fault = f
}

// ReadSector reads sector n into out. Synchronous; blocks the caller by
// busy-polling the used ring.
func (d *Device) ReadSector(n uint64, out *[SectorSize]byte) error {
	return d.request(n, out, false)
}

// WriteSector writes in to sector n. Synchronous; blocks the caller by
// busy-polling the used ring.
func (d *Device) WriteSector(n uint64, in *[SectorSize]byte) error {
	return d.request(n, in, true)
}

func (d *Device) request(sector uint64, buf *[SectorSize]byte, write bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sector >= d.backend.Capacity() {
		log.WithField("sector", sector).Warn("blockdev: sector out of range")
		return kerr.ErrSectorOutOfRange
	}

	statusNonZero, neverCompletes := false, false
	if d.fault != nil {
		statusNonZero, neverCompletes = d.fault(sector, write)
	}

	// Build the three-descriptor chain: header -> data -> status, device-
	// writable flags set on whichever legs the device fills in.
	hdr := requestHeader{Sector: sector}
	if write {
		hdr.Kind = reqKindWrite
	} else {
		hdr.Kind = reqKindRead
	}
	d.descTable[0] = descriptor{addr: hdr.bytes(), flags: descFlagNext, next: 1}
	dataFlags := descFlagNext
	if !write {
		dataFlags |= descFlagWrite
	}
	d.descTable[1] = descriptor{flags: dataFlags, next: 2}
	d.descTable[2] = descriptor{flags: descFlagWrite}

	// Publish the chain head into the available ring.
	head := d.avail.Reserve()
	_ = head // the slot index the device will read the chain head from
	memoryFence()
	availIdx := d.avail.Publish()
	memoryFence()
	d.notifyDevice()

	if neverCompletes {
		// Device never services the request: poll to exhaustion.
		for i := 0; i < d.spinLimit; i++ {
		}
		log.WithField("sector", sector).Warn("blockdev: spin timeout")
		return kerr.ErrTimeout
	}

	// Service the request against the real backend now, as the device
	// would between notify and the used-ring tick the driver polls for.
	var err error
	if statusNonZero {
		d.statusByte = 0xFF
	} else if write {
		err = d.backend.WriteAt(sector, buf)
		if err == nil {
			d.statusByte = 0
		} else {
			d.statusByte = 0xFF
		}
	} else {
		err = d.backend.ReadAt(sector, buf)
		if err == nil {
			d.statusByte = 0
		} else {
			d.statusByte = 0xFF
		}
	}
	deviceUsedIndex := availIdx // device processes in order, one outstanding request

	completed := false
	for i := 0; i < d.spinLimit; i++ {
		if d.used.Pending(deviceUsedIndex) > 0 {
			d.used.Advance()
			completed = true
			break
		}
	}
	if !completed {
		log.WithField("sector", sector).Warn("blockdev: spin timeout")
		return kerr.ErrTimeout
	}

	if d.statusByte != 0 {
		log.WithField("sector", sector).Warn("blockdev: device reported error status")
		return kerr.ErrDeviceError
	}
	if err != nil {
		return err
	}
	return nil
}

// memoryFence is a no-op under the request's mutex (which already gives
// us the ordering the real driver needs the two explicit fences for);
// kept as a named step so the publish sequence mirrors the real
// available-ring protocol line for line.
func memoryFence() {}

// notifyDevice mirrors writing the queue-notify register; the backend
// services the request inline immediately afterward.
func (d *Device) notifyDevice() {}
