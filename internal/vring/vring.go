// Package vring implements the available/used ring index arithmetic for a
// split virtqueue: the wraparound read/write-position math a circular
// buffer needs, applied to a fixed-size ring of descriptor-chain head
// indices instead of bytes.
package vring

// Ring tracks a producer index and a consumer index over a fixed queue
// size.
type Ring struct {
	size  uint16
	write uint16 // next slot the producer will fill (avail_idx / used write)
	read  uint16 // next slot the consumer will take (last_used cursor)
}

// New creates a ring over a queue of the given size (the device-advertised
// queue size, not a compile-time constant).
func New(size uint16) *Ring {
	return &Ring{size: size}
}

// Size returns the queue size this ring was created with.
func (r *Ring) Size() uint16 { return r.size }

// Slot returns the ring slot the next produced entry should be written to,
// and advances the write cursor.
func (r *Ring) Slot() uint16 {
	slot := r.write % r.size
	r.write++
	return slot
}

// WriteIndex returns the producer index to publish (e.g. avail.idx).
func (r *Ring) WriteIndex() uint16 { return r.write }

// Reserve returns the slot the next produced entry will occupy, without
// advancing the write cursor — the "write chain head into its slot" half
// of publishing a descriptor.
func (r *Ring) Reserve() uint16 { return r.write % r.size }

// Publish advances the write cursor and returns the new producer index —
// the "increment the available index" half of publishing a descriptor.
// Callers issue a memory fence on each side of this call.
func (r *Ring) Publish() uint16 {
	r.write++
	return r.write
}

// Pending reports how many produced entries the consumer has not yet
// taken.
func (r *Ring) Pending(deviceIndex uint16) uint16 {
	return deviceIndex - r.read
}

// Advance moves the consumer cursor forward by one.
func (r *Ring) Advance() {
	r.read++
}

// ReadCursor returns the consumer's current position (the driver's "last
// used" cursor).
func (r *Ring) ReadCursor() uint16 { return r.read }
