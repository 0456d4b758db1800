package process

import (
	"sync"

	"github.com/lynafyna/chilena/pkg/ipc"
	"github.com/lynafyna/chilena/pkg/kerr"
)

// Manager owns the process table and the platform it loads processes
// into. Its lock also serializes the IPC send/recv state machine, because
// both the scheduler and IPC must observe a consistent BlockState per
// process — this is why send/recv live here rather than in pkg/ipc.
// maxProcs, maxProcMem, and retryLimit are runtime-configurable (set from
// kconfig by NewManagerWithLimits) rather than the package constants, so a
// kernel.ini edit actually changes table capacity, window size, and the
// mailbox send retry bound.
type Manager struct {
	mu         sync.Mutex
	cond       *sync.Cond
	table      []*Entry
	platform   Platform
	kernelPT   PageTable
	maxProcs   int
	maxProcMem uintptr
	retryLimit int
}

// NewManager creates an empty process table over the given platform, sized
// to the built-in defaults (MaxProcs slots of MaxProcMem bytes each, a
// 1000-retry mailbox send bound). Pid 0 is reserved for the kernel idle
// slot (never schedulable).
func NewManager(platform Platform) *Manager {
	return NewManagerWithLimits(platform, MaxProcs, MaxProcMem, 1000)
}

// NewManagerWithLimits is NewManager with table capacity, per-process
// address window size, and mailbox send retry bound taken from the
// caller (normally kconfig.Config) instead of the package defaults.
func NewManagerWithLimits(platform Platform, maxProcs int, maxProcMem uint64, mailboxRetryLimit int) *Manager {
	if maxProcs < 2 {
		maxProcs = MaxProcs
	}
	if maxProcMem < uint64(PageSize)*2 {
		maxProcMem = MaxProcMem
	}
	if mailboxRetryLimit <= 0 {
		mailboxRetryLimit = 1000
	}
	m := &Manager{
		platform:   platform,
		kernelPT:   platform.ClonePageTable(),
		table:      make([]*Entry, maxProcs),
		maxProcs:   maxProcs,
		maxProcMem: uintptr(maxProcMem),
		retryLimit: mailboxRetryLimit,
	}
	m.cond = sync.NewCond(&m.mu)
	m.table[0] = newEntry(0)
	return m
}

// Capacity returns the process table's configured slot count (including
// the reserved kernel slot 0), for callers like the scheduler whose
// round-robin traversal must match the table's actual size.
func (m *Manager) Capacity() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxProcs
}

// findFreeSlot scans slots 1..maxProcs-1 for an unclaimed id, reusing a
// freed slot rather than handing out a monotonically increasing one.
func (m *Manager) findFreeSlot() (int, bool) {
	for i := 1; i < m.maxProcs; i++ {
		if m.table[i] == nil {
			return i, true
		}
	}
	return 0, false
}

// findFreeCodeBase scans the maxProcs-1 address windows above UserBase
// for one no live process currently occupies.
func (m *Manager) findFreeCodeBase() (uintptr, bool) {
	for slot := 0; slot < m.maxProcs-1; slot++ {
		candidate := UserBase + uintptr(slot)*m.maxProcMem
		taken := false
		for i := 1; i < m.maxProcs; i++ {
			if m.table[i] != nil && m.table[i].CodeBase == candidate {
				taken = true
				break
			}
		}
		if !taken {
			return candidate, true
		}
	}
	return 0, false
}

// roundUpPage rounds n up to the next PageSize boundary.
func roundUpPage(n int) int {
	return (n + PageSize - 1) &^ (PageSize - 1)
}

// Create validates image as a CHN executable, allocates a process-table
// slot and an address window, clones the kernel page table, and maps
// frames covering the code/data range plus a single stack page, then
// reserves (but does not yet back with frames) a heap window above the
// data segment. The image bytes are not copied into those frames, and the
// header's StackSize does not change the one-page stack mapping. argv is marshaled
// into the entry for the process to read via Context.Argv; it is not
// copied into the simulated address space since there is no real
// code there to read it from memory. The process is left in the table but
// not yet running; call Exec to start it.
func (m *Manager) Create(parentID int, image []byte, program UserProgram, argv ...string) (int, error) {
	header, err := ParseHeader(image)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.findFreeSlot()
	if !ok {
		log.Warn("process: no free process-table slot")
		return 0, kerr.ErrNoProcessSlot
	}
	codeBase, ok := m.findFreeCodeBase()
	if !ok {
		log.Warn("process: no free address window")
		return 0, kerr.ErrNoProcessSlot
	}
	if uintptr(header.MinMemory) > m.maxProcMem {
		log.WithField("min_memory", header.MinMemory).Warn("process: image requires more memory than a process window provides")
		return 0, kerr.ErrOutOfMemory
	}

	pt := m.platform.ClonePageTable()
	codeStart := HeaderSize
	codeEnd := codeStart + int(header.CodeSize)
	dataEnd := codeEnd + int(header.DataSize)
	var frames []uintptr
	for off := 0; off < dataEnd-codeStart; off += PageSize {
		frame, ok := m.platform.AllocateFrame()
		if !ok {
			log.Warn("process: frame allocator exhausted")
			return 0, kerr.ErrOutOfMemory
		}
		m.platform.MapPage(pt, codeBase+uintptr(off), frame)
		frames = append(frames, frame)
	}
	stackBase := codeBase + m.maxProcMem - PageSize
	if frame, ok := m.platform.AllocateFrame(); ok {
		m.platform.MapPage(pt, stackBase, frame)
		frames = append(frames, frame)
	} else {
		log.Warn("process: frame allocator exhausted mapping stack")
		return 0, kerr.ErrOutOfMemory
	}

	// The heap starts one guard page above the data segment and is sized
	// to half the remaining window up to the stack; the other half stays
	// unmapped. No argument region is placed in the window.
	heapBase := codeBase + uintptr(roundUpPage(dataEnd-codeStart)) + PageSize
	heapLimit := heapBase + (stackBase-heapBase)/2

	e := newEntry(slot)
	e.ParentID = parentID
	e.CodeBase = codeBase
	e.StackBase = stackBase
	e.EntryPoint = codeBase + uintptr(header.EntryOffset)
	e.PageTable = pt
	e.Frames = frames
	e.Handles = defaultHandles()
	e.Argv = argv
	e.Heap = Heap{Base: heapBase, Next: heapBase, Limit: heapLimit}
	e.program = program

	// A child inherits its parent's environment, working directory, and
	// user identity at spawn time rather than starting empty.
	if parent := m.table[parentID]; parent != nil {
		for k, v := range parent.Env {
			e.Env[k] = v
		}
		e.Cwd = parent.Cwd
		e.User = parent.User
	}

	m.table[slot] = e
	log.WithField("pid", slot).WithField("code_base", codeBase).Info("process: created")
	return slot, nil
}

// Exec starts the process's virtual CPU thread: a goroutine running its
// UserProgram immediately, never gated behind the scheduler — a process's
// first dispatch is a direct jump into its entry point, not something the
// scheduler decides. The goroutine runs uninterrupted until it calls
// Context.Yield, at which point Scheduler.Tick decides when it resumes.
func (m *Manager) Exec(pid int) error {
	m.mu.Lock()
	e := m.table[pid]
	if e == nil {
		m.mu.Unlock()
		return kerr.ErrNotFound
	}
	if e.started {
		m.mu.Unlock()
		return nil
	}
	e.started = true
	m.mu.Unlock()

	ctx := &Context{pid: pid, mgr: m}
	go func() {
		code := e.program(ctx)
		m.terminate(pid, code)
	}()
	return nil
}

// Dispatch opens pid's gate for one run quantum, resuming a process
// blocked in Context.Yield — the scheduler's half of that handshake.
func (m *Manager) Dispatch(pid int) {
	m.mu.Lock()
	e := m.table[pid]
	m.mu.Unlock()
	if e == nil {
		return
	}
	select {
	case e.gate <- struct{}{}:
	case <-e.stopped:
	}
}

// Live reports whether pid names a live (non-kernel, non-nil) process.
func (m *Manager) Live(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return pid > 0 && pid < m.maxProcs && m.table[pid] != nil
}

// Runnable returns the pids (excluding 0) currently in BlockState Running,
// in table order — the scheduler's candidate list for round robin.
func (m *Manager) Runnable() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for i := 1; i < m.maxProcs; i++ {
		if e := m.table[i]; e != nil && e.BlockState.IsRunning() {
			out = append(out, i)
		}
	}
	return out
}

// Count returns the number of live (non-kernel) processes.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := 1; i < m.maxProcs; i++ {
		if m.table[i] != nil {
			n++
		}
	}
	return n
}

// SaveState/LoadState let the scheduler stash and restore a process's
// interrupt frame and register snapshot across a Tick's dispatch decision:
// SaveState on the process being switched away from, LoadState on the one
// being switched to.
func (m *Manager) SaveState(pid int, frame *InterruptFrame, regs *CpuRegisters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.table[pid]; e != nil {
		e.SavedFrame = frame
		e.SavedRegs = regs
	}
}

// GrowHeap extends pid's heap by size bytes, mapping whatever new frames
// that range crosses, and returns the start of the newly allocated block.
// It never shrinks: there is no free, matching the bump-allocator model.
func (m *Manager) GrowHeap(pid int, size uintptr) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.table[pid]
	if e == nil {
		return 0, kerr.ErrNotFound
	}
	start := e.Heap.Next
	end := start + size
	if end > e.Heap.Limit {
		return 0, kerr.ErrOutOfMemory
	}

	firstPage := uintptr(roundUpPage(int(start-e.Heap.Base))) + e.Heap.Base
	lastPage := uintptr(roundUpPage(int(end-e.Heap.Base))) + e.Heap.Base
	for page := firstPage; page < lastPage; page += PageSize {
		frame, ok := m.platform.AllocateFrame()
		if !ok {
			return 0, kerr.ErrOutOfMemory
		}
		m.platform.MapPage(e.PageTable, page, frame)
		e.Frames = append(e.Frames, frame)
	}

	e.Heap.Next = end
	return start, nil
}

// OpenHandle allocates a free handle slot (above the preassigned
// stdin/stdout/stderr/null handles) in pid's handle table, backed by
// data, and returns the handle ID a subsequent ReadHandle/CloseHandle
// refers to it by.
func (m *Manager) OpenHandle(pid int, name string, data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.table[pid]
	if e == nil {
		return 0, kerr.ErrNotFound
	}
	for i := 4; i < MaxHandles; i++ {
		if e.Handles[i].Kind == HandleClosed {
			e.Handles[i] = Handle{Kind: HandleFile, Name: name, Data: data}
			return i, nil
		}
	}
	return 0, kerr.ErrHandleTableFull
}

// ReadHandle copies up to len(buf) bytes from pid's open file handle
// starting at its current read offset, advances that offset by the
// number of bytes copied, and returns the count.
func (m *Manager) ReadHandle(pid, handle int, buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.table[pid]
	if e == nil || handle < 0 || handle >= MaxHandles {
		return 0, kerr.ErrNotFound
	}
	h := &e.Handles[handle]
	if h.Kind != HandleFile {
		return 0, kerr.ErrNotFound
	}
	n := copy(buf, h.Data[h.Offset:])
	h.Offset += n
	return n, nil
}

// CloseHandle releases pid's handle, making the slot available for reuse.
func (m *Manager) CloseHandle(pid, handle int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.table[pid]
	if e == nil || handle < 4 || handle >= MaxHandles {
		return kerr.ErrNotFound
	}
	e.Handles[handle] = Handle{}
	return nil
}

func (m *Manager) LoadState(pid int) (*InterruptFrame, *CpuRegisters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.table[pid]; e != nil {
		return e.SavedFrame, e.SavedRegs
	}
	return nil, nil
}

// Terminate tears pid down: the public entry point, used by syscalls like
// exit that act on the caller's own pid from outside the goroutine.
func (m *Manager) Terminate(pid int, exitCode int) {
	m.terminate(pid, exitCode)
}

// terminate tears a process down: briefly take the table lock just long
// enough to read the page table and mark the slot exiting, release the
// lock before the (potentially slow) unmap work, and only reacquire the
// lock afterward to clear the slot — so unmapping never happens while the
// table is held, avoiding a deadlock against a scheduler tick trying to
// read the same table.
func (m *Manager) terminate(pid int, exitCode int) {
	m.mu.Lock()
	e := m.table[pid]
	if e == nil || e.exited {
		m.mu.Unlock()
		return
	}
	e.exited = true
	e.ExitCode = exitCode
	pt := e.PageTable
	codeBase := e.CodeBase
	frames := e.Frames
	maxProcMem := m.maxProcMem
	m.mu.Unlock()

	for off := uintptr(0); off < maxProcMem; off += PageSize {
		m.platform.UnmapPage(pt, codeBase+off)
	}
	for _, frame := range frames {
		m.platform.FreeFrame(frame)
	}

	m.mu.Lock()
	m.table[pid] = nil
	m.mu.Unlock()
	close(e.stopped)
	m.cond.Broadcast()
	log.WithField("pid", pid).WithField("exit_code", exitCode).Info("process: terminated")
}

// send implements bounded-retry blocking send: deliver directly into an
// empty target mailbox, or block as WaitingSend and retry up to
// m.retryLimit times before giving up.
func (m *Manager) send(senderPid, targetPid int, kind uint32, data [ipc.PayloadSize]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if targetPid <= 0 || targetPid >= m.maxProcs || m.table[targetPid] == nil {
		return kerr.ErrInvalidTarget
	}

	msg := ipc.Message{Sender: senderPid, Kind: kind, Data: data}
	retries := 0
	for {
		target := m.table[targetPid]
		if target == nil {
			return kerr.ErrInvalidTarget
		}
		if target.Mailbox == nil {
			target.Mailbox = &msg
			target.BlockState = ipc.Running()
			if sender := m.table[senderPid]; sender != nil {
				sender.BlockState = ipc.Running()
			}
			m.cond.Broadcast()
			return nil
		}

		if retries >= m.retryLimit {
			if sender := m.table[senderPid]; sender != nil {
				sender.BlockState = ipc.Running()
			}
			return kerr.ErrInvalidTarget
		}
		if sender := m.table[senderPid]; sender != nil {
			sender.BlockState = ipc.WaitingSend(targetPid)
		}
		retries++
		m.cond.Wait()
	}
}

// recv implements unbounded blocking receive: take a waiting mailbox
// message immediately, or block as WaitingRecv until one arrives.
func (m *Manager) recv(pid int) (ipc.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		self := m.table[pid]
		if self == nil {
			return ipc.Message{}, kerr.ErrInvalidTarget
		}
		if self.Mailbox != nil {
			msg := *self.Mailbox
			self.Mailbox = nil
			self.BlockState = ipc.Running()
			m.cond.Broadcast()
			return msg, nil
		}
		self.BlockState = ipc.WaitingRecv()
		m.cond.Wait()
	}
}

// StoppedChan returns a channel closed once pid has terminated. Must be
// called while pid is still live (e.g. right after Create); callers that
// need to observe exit should capture it before calling Exec.
func (m *Manager) StoppedChan(pid int) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.table[pid]; e != nil {
		return e.stopped
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// BlockStateOf returns pid's current BlockState, for scheduler inspection.
func (m *Manager) BlockStateOf(pid int) (ipc.BlockState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.table[pid]; e != nil {
		return e.BlockState, true
	}
	return ipc.BlockState{}, false
}
