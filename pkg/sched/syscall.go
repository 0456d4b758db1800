package sched

import (
	"io"

	"github.com/lynafyna/chilena/pkg/chfs"
	"github.com/lynafyna/chilena/pkg/ipc"
	"github.com/lynafyna/chilena/pkg/kerr"
	"github.com/lynafyna/chilena/pkg/process"
)

// Syscall numbers, interrupt 0x80 with the number in the accumulator
// register.
const (
	SysExit  = 0x01
	SysRead  = 0x03
	SysWrite = 0x04
	SysOpen  = 0x05
	SysClose = 0x06
	SysSleep = 0x0B
	SysSend  = 0x10
	SysRecv  = 0x11
)

// Preassigned handle IDs.
const (
	HandleStdin  = 0
	HandleStdout = 1
	HandleStderr = 2
	HandleNull   = 3
)

// Dispatcher is the syscall vector's implementation: it routes a syscall
// number to the process table, mailbox, or filesystem operation it names.
type Dispatcher struct {
	procs  *process.Manager
	fs     *chfs.Filesystem
	stdout io.Writer
	stderr io.Writer
}

// NewDispatcher wires a syscall vector to the process manager and
// filesystem it dispatches into, with console output routed to out/errOut
// (the handles every process is preassigned at handles 1 and 2).
func NewDispatcher(procs *process.Manager, fs *chfs.Filesystem, out, errOut io.Writer) *Dispatcher {
	return &Dispatcher{procs: procs, fs: fs, stdout: out, stderr: errOut}
}

// Exit terminates pid with code and then returns to its caller. It does
// not stop pid's UserProgram goroutine: code after the call keeps running,
// and the program's own return value no longer changes the exit code.
func (d *Dispatcher) Exit(pid, code int) {
	d.procs.Terminate(pid, code)
}

// Write implements the write syscall: handle 1/2 go to the host console
// writers Dispatcher was built with, handle 3 (null) discards, and any
// other handle is rejected (no process in this realization opens file
// handles for writing — chfs.WriteFile is whole-buffer).
func (d *Dispatcher) Write(pid, handle int, buf []byte) (int, error) {
	switch handle {
	case HandleStdout:
		return d.stdout.Write(buf)
	case HandleStderr:
		return d.stderr.Write(buf)
	case HandleNull:
		return len(buf), nil
	default:
		return 0, kerr.ErrNotFound
	}
}

// Read implements the read syscall. File handles opened via Open are
// resolved against the calling process's handle table, each call
// returning the next slice of the file and advancing its read offset;
// stdin reads are not realized (there is no real keyboard device behind
// this model) and return zero bytes.
func (d *Dispatcher) Read(pid int, handle int, buf []byte) (int, error) {
	if handle == HandleStdin {
		return 0, nil
	}
	return d.procs.ReadHandle(pid, handle, buf)
}

// Open implements the open syscall against the disk filesystem: it reads
// the whole named file into memory (since this realization has no
// virtual memory to fault a handle's contents in page by page) and
// allocates a handle into the calling process's table referring to it.
// A subsequent Read(pid, handle, buf) call resolves that handle back to
// the file's data.
func (d *Dispatcher) Open(pid int, path string) (int, error) {
	data, err := d.fs.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return d.procs.OpenHandle(pid, path, data)
}

// Close releases the calling process's handle, returned by Open, back to
// its handle table.
func (d *Dispatcher) Close(pid int, handle int) error {
	return d.procs.CloseHandle(pid, handle)
}

// Sleep yields the caller's run quantum back to the scheduler. There is
// no timer interrupt in this realization (real hardware provides one), so
// a requested delay is realized as a single cooperative yield rather than
// a real wait.
func (d *Dispatcher) Sleep(ctx *process.Context, seconds float64) {
	ctx.Yield()
}

// Send implements the send syscall.
func (d *Dispatcher) Send(ctx *process.Context, target int, kind uint32, data [ipc.PayloadSize]byte) error {
	return ctx.Send(target, kind, data)
}

// Recv implements the recv syscall.
func (d *Dispatcher) Recv(ctx *process.Context) (ipc.Message, error) {
	return ctx.Recv()
}
