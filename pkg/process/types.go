package process

import (
	"github.com/lynafyna/chilena/pkg/ipc"
	"github.com/lynafyna/chilena/pkg/klog"
)

var log = klog.For("process")

// Table sizing and address layout constants. MaxProcs and MaxProcMem are
// the built-in defaults Manager falls back to when constructed with
// NewManager; NewManagerWithLimits overrides them with kconfig-supplied
// values instead.
const (
	MaxHandles = 64
	MaxProcs   = 8
	MaxProcMem = 10 << 20 // 10 MiB per process
	UserBase   = 0x0080_0000
	PageSize   = 4096
)

// HandleKind is the type of resource a process handle refers to: the three
// standard streams, a null sink, and read-only disk files. Sockets and
// devices are not realized.
type HandleKind int

const (
	HandleClosed HandleKind = iota
	HandleConsoleIn
	HandleConsoleOut
	HandleConsoleErr
	HandleNull
	HandleFile
)

// Handle is one entry of a process's I/O handle table. Data and Offset are
// only meaningful when Kind == HandleFile: Open reads the whole file into
// Data up front (there is no virtual memory to fault pages in from), and
// each Read call advances Offset.
type Handle struct {
	Kind   HandleKind
	Name   string // backing file name, when Kind == HandleFile
	Data   []byte
	Offset int
}

// CpuRegisters is a snapshot of the general-purpose registers saved across
// a context switch: callee-saved registers first, then caller-saved
// scratch registers, in the same field order a packed, 8-byte-aligned C
// struct would use (so a byte-for-byte dump matches the real layout).
type CpuRegisters struct {
	// Callee-saved (System V ABI) — must survive a context switch.
	R15 uint64
	R14 uint64
	R13 uint64
	R12 uint64
	RBP uint64
	RBX uint64
	// Caller-saved (scratch).
	R11 uint64
	R10 uint64
	R9  uint64
	R8  uint64
	RDI uint64
	RSI uint64
	RDX uint64
	RCX uint64
	RAX uint64
}

// InterruptFrame is the frame an interrupt/trap pushes on its way into the
// kernel: the state needed to resume the interrupted instruction stream.
type InterruptFrame struct {
	InstructionPointer uintptr
	CodeSegment        uint64
	CPUFlags           uint64
	StackPointer       uintptr
	StackSegment       uint64
}

// UserProgram is the body of a process's "virtual CPU thread" — the
// goroutine standing in for userspace execution the scheduler dispatches.
// It receives a Context bound to its own process-table entry and returns
// an exit code when it completes.
type UserProgram func(ctx *Context) int

// Heap is a process's bump-allocator heap state: the virtual range set
// aside above its data segment for dynamic allocation. Next only ever
// moves forward; there is no free() — matching a bump allocator's usual
// tradeoff of simplicity for the inability to reclaim individual blocks.
// Frames backing [Base, Next) are mapped in lazily as Manager.GrowHeap
// extends it.
type Heap struct {
	Base  uintptr
	Next  uintptr
	Limit uintptr
}

// Entry is one live process-table slot: identity, the address window and
// page table it was loaded into, its saved execution state, its mailbox,
// and its handle table.
type Entry struct {
	ID         int
	ParentID   int
	CodeBase   uintptr
	StackBase  uintptr
	EntryPoint uintptr
	PageTable  PageTable
	Frames     []uintptr // every physical frame allocated on this process's behalf, for terminate to free

	SavedFrame *InterruptFrame
	SavedRegs  *CpuRegisters

	Mailbox    *ipc.Message
	BlockState ipc.BlockState

	Handles [MaxHandles]Handle
	Env     map[string]string
	Cwd     string
	User    string
	Argv    []string
	Heap    Heap

	ExitCode int
	program  UserProgram

	gate    chan struct{} // scheduler grants this process a run quantum
	stopped chan struct{} // closed once the goroutine has returned
	started bool
	exited  bool
}

func newEntry(id int) *Entry {
	return &Entry{
		ID:         id,
		BlockState: ipc.Running(),
		Env:        make(map[string]string),
		Cwd:        "/",
		gate:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// defaultHandles wires stdin/stdout/stderr/null onto a fresh process.
func defaultHandles() [MaxHandles]Handle {
	var h [MaxHandles]Handle
	h[0] = Handle{Kind: HandleConsoleIn}
	h[1] = Handle{Kind: HandleConsoleOut}
	h[2] = Handle{Kind: HandleConsoleErr}
	h[3] = Handle{Kind: HandleNull}
	return h
}
