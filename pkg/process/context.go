package process

import "github.com/lynafyna/chilena/pkg/ipc"

// Context is the handle a UserProgram uses to act as its own process: ask
// its pid, yield the scheduler gate back, and perform IPC. It is the
// realization of the syscall boundary a real process would cross via
// int 0x80 — here a direct method call, since there is no ring3/ring0
// distinction to cross in a goroutine.
type Context struct {
	pid int
	mgr *Manager
}

// Pid returns the process's own process ID.
func (c *Context) Pid() int { return c.pid }

// Argv returns the process's argument vector, as marshaled by Manager.Create.
func (c *Context) Argv() []string {
	e := c.mgr.entryLocked(c.pid)
	if e == nil {
		return nil
	}
	return e.Argv
}

// Sbrk grows the process's heap by size bytes and returns the start of the
// newly allocated block, mapping in whatever frames that range newly
// crosses. There is no matching free — the heap only ever grows.
func (c *Context) Sbrk(size uintptr) (uintptr, error) {
	return c.mgr.GrowHeap(c.pid, size)
}

// Yield blocks until the scheduler grants this process its next run
// quantum, the cooperative half of the scheduler-gate preemption model.
func (c *Context) Yield() {
	e := c.mgr.entryLocked(c.pid)
	if e == nil {
		return
	}
	select {
	case <-e.gate:
	case <-e.stopped:
	}
}

// Send delivers a message to target, blocking with bounded retry.
func (c *Context) Send(target int, kind uint32, data [ipc.PayloadSize]byte) error {
	return c.mgr.send(c.pid, target, kind, data)
}

// Recv blocks until a message arrives in this process's mailbox.
func (c *Context) Recv() (ipc.Message, error) {
	return c.mgr.recv(c.pid)
}

func (m *Manager) entryLocked(pid int) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table[pid]
}
