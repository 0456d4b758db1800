// Package sched implements the scheduler and trap core: the tick counter,
// round-robin dispatch, and the syscall vector.
package sched

import (
	"github.com/lynafyna/chilena/pkg/klog"
	"github.com/lynafyna/chilena/pkg/process"
)

var log = klog.For("sched")

// SchedInterval is the number of ticks between dispatch decisions.
const SchedInterval = 10

// Scheduler drives round-robin dispatch over a process.Manager's table.
// It holds no process state of its own beyond the tick counter and the
// round-robin cursor — everything about a process lives in pkg/process,
// which the scheduler only ever reads and signals through.
type Scheduler struct {
	mgr      *process.Manager
	tick     uint64
	current  int
	interval uint64
}

// New creates a scheduler over mgr, with the round-robin cursor starting
// at the kernel idle slot and the dispatch interval set to SchedInterval.
func New(mgr *process.Manager) *Scheduler {
	return &Scheduler{mgr: mgr, current: 0, interval: SchedInterval}
}

// SetInterval overrides the number of ticks between dispatch decisions,
// for callers wiring the scheduler to a configured value (kconfig's
// SchedIntervalTicks) instead of the default constant.
func (s *Scheduler) SetInterval(ticks uint64) {
	if ticks > 0 {
		s.interval = ticks
	}
}

// Tick advances the tick counter and, every interval ticks (SchedInterval
// unless SetInterval changed it), dispatches the next runnable process. Because this module runs each process as a
// goroutine rather than swapping a single CPU's registers, "dispatch"
// means granting that process's gate channel one run quantum rather than
// performing a literal register/CR3 switch. The save/load step is still
// realized around that switch: the outgoing process (s.current) gets its
// frame and registers saved before the scheduler moves on, and the
// incoming process's previously saved state (if any) is loaded before it
// runs — absent on a process's first dispatch, present on every dispatch
// after its first preemption.
func (s *Scheduler) Tick() {
	s.tick++
	if s.tick%s.interval != 0 {
		return
	}
	if s.mgr.Count() < 2 {
		return
	}

	next, ok := s.selectNext()
	if !ok {
		return
	}

	if s.current != 0 {
		s.mgr.SaveState(s.current, &process.InterruptFrame{}, &process.CpuRegisters{})
	}
	s.mgr.LoadState(next)

	s.current = next
	log.WithField("tick", s.tick).WithField("pid", next).Debug("sched: dispatch")
	s.mgr.Dispatch(next)
}

// selectNext scans (current+1) mod N, (current+2) mod N, ... skipping pid
// 0 and any process not in BlockState Running.
func (s *Scheduler) selectNext() (int, bool) {
	n := s.mgr.Capacity()
	for i := 1; i < n; i++ {
		candidate := (s.current + i) % n
		if candidate == 0 {
			continue
		}
		state, ok := s.mgr.BlockStateOf(candidate)
		if ok && state.IsRunning() {
			return candidate, true
		}
	}
	return 0, false
}

// CurrentTick exposes the tick counter for tests and introspection.
func (s *Scheduler) CurrentTick() uint64 { return s.tick }
