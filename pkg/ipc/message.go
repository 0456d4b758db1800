// Package ipc defines the leaf message and process-state types the
// single-slot synchronous mailbox is built from. It has no dependency on
// pkg/process: the mailbox storage and the send/recv state machine live
// there instead, because both must share the process table's lock with
// the scheduler.
package ipc

// PayloadSize is the fixed mailbox payload size in bytes.
const PayloadSize = 64

// Message is a single mailbox slot's contents: the sender's pid, a
// caller-defined kind tag, and a fixed-size payload.
type Message struct {
	Sender int
	Kind   uint32
	Data   [PayloadSize]byte
}

// BlockState is a process's IPC scheduling state: runnable, or blocked
// waiting to send to a specific target, or blocked waiting to receive
// from anyone.
type BlockState struct {
	kind   blockKind
	target int
}

type blockKind uint8

const (
	blockRunning blockKind = iota
	blockWaitingSend
	blockWaitingRecv
)

// Running is the state of a schedulable process.
func Running() BlockState { return BlockState{kind: blockRunning} }

// WaitingSend is the state of a process blocked trying to deliver a
// message to target.
func WaitingSend(target int) BlockState { return BlockState{kind: blockWaitingSend, target: target} }

// WaitingRecv is the state of a process blocked waiting for any message.
func WaitingRecv() BlockState { return BlockState{kind: blockWaitingRecv} }

// IsRunning reports whether the scheduler may dispatch this process.
func (s BlockState) IsRunning() bool { return s.kind == blockRunning }

// IsWaitingSend reports whether the process is blocked sending, and to
// whom.
func (s BlockState) IsWaitingSend() (target int, ok bool) {
	return s.target, s.kind == blockWaitingSend
}

// IsWaitingRecv reports whether the process is blocked receiving.
func (s BlockState) IsWaitingRecv() bool { return s.kind == blockWaitingRecv }

// String renders the state for logging.
func (s BlockState) String() string {
	switch s.kind {
	case blockRunning:
		return "Running"
	case blockWaitingSend:
		return "WaitingSend"
	case blockWaitingRecv:
		return "WaitingRecv"
	default:
		return "Unknown"
	}
}
