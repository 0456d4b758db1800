package process

import (
	"testing"
	"time"

	"github.com/lynafyna/chilena/pkg/ipc"
	"github.com/lynafyna/chilena/pkg/kerr"
	"github.com/stretchr/testify/require"
)

func validImage(t *testing.T) []byte {
	t.Helper()
	return buildImage(t, Header{StackSize: 65536}, []byte{0x90}, nil)
}

func newTestManager() *Manager {
	return NewManager(NewSimPlatform(0x1000))
}

func TestCreateAssignsSlotAndAddressWindow(t *testing.T) {
	m := newTestManager()
	pid, err := m.Create(0, validImage(t), func(ctx *Context) int { return 0 })
	require.NoError(t, err)
	require.Equal(t, 1, pid)
	require.Equal(t, 1, m.Count())
	require.Equal(t, uintptr(UserBase), m.table[pid].CodeBase)
}

func TestCreateRejectsInvalidImage(t *testing.T) {
	m := newTestManager()
	bad := validImage(t)
	bad[0] = 0
	_, err := m.Create(0, bad, func(ctx *Context) int { return 0 })
	require.ErrorIs(t, err, kerr.ErrInvalidExecutable)
}

func TestSlotAndAddressWindowReusedAfterTermination(t *testing.T) {
	m := newTestManager()
	pid1, err := m.Create(0, validImage(t), func(ctx *Context) int { return 0 })
	require.NoError(t, err)
	base1 := m.table[pid1].CodeBase

	m.Terminate(pid1, 0)

	pid2, err := m.Create(0, validImage(t), func(ctx *Context) int { return 0 })
	require.NoError(t, err)
	require.Equal(t, pid1, pid2, "freed slot should be reused")
	require.Equal(t, base1, m.table[pid2].CodeBase, "freed address window should be reused")
}

func TestProcessTableExhaustion(t *testing.T) {
	m := newTestManager()
	for i := 0; i < MaxProcs-1; i++ {
		_, err := m.Create(0, validImage(t), func(ctx *Context) int { return 0 })
		require.NoError(t, err)
	}
	_, err := m.Create(0, validImage(t), func(ctx *Context) int { return 0 })
	require.ErrorIs(t, err, kerr.ErrNoProcessSlot)
}

func TestExecAndTerminateRunsProgramToCompletion(t *testing.T) {
	m := newTestManager()
	ran := make(chan int, 1)
	pid, err := m.Create(0, validImage(t), func(ctx *Context) int {
		ran <- ctx.Pid()
		return 42
	})
	require.NoError(t, err)

	stopped := m.StoppedChan(pid)
	require.NoError(t, m.Exec(pid))

	select {
	case got := <-ran:
		require.Equal(t, pid, got)
	case <-time.After(time.Second):
		t.Fatal("program never ran")
	}

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("process never terminated")
	}
	require.False(t, m.Live(pid))
}

func TestSendRecvDeliversPing(t *testing.T) {
	m := newTestManager()
	received := make(chan ipc.Message, 1)

	pidB, err := m.Create(0, validImage(t), func(ctx *Context) int {
		msg, err := ctx.Recv()
		require.NoError(t, err)
		received <- msg
		return 0
	})
	require.NoError(t, err)
	stoppedB := m.StoppedChan(pidB)

	pidA, err := m.Create(0, validImage(t), func(ctx *Context) int {
		var data [ipc.PayloadSize]byte
		copy(data[:], "ping")
		require.NoError(t, ctx.Send(pidB, 1, data))
		return 0
	})
	require.NoError(t, err)
	stoppedA := m.StoppedChan(pidA)

	require.NoError(t, m.Exec(pidB))
	require.NoError(t, m.Exec(pidA))

	select {
	case msg := <-received:
		require.Equal(t, pidA, msg.Sender)
		require.Equal(t, byte('p'), msg.Data[0])
	case <-time.After(time.Second):
		t.Fatal("message never delivered")
	}
	<-stoppedA
	<-stoppedB
}

func TestCreatePassesArgvThroughToProgram(t *testing.T) {
	m := newTestManager()
	got := make(chan []string, 1)
	pid, err := m.Create(0, validImage(t), func(ctx *Context) int {
		got <- ctx.Argv()
		return 0
	}, "one", "two")
	require.NoError(t, err)
	require.NoError(t, m.Exec(pid))

	select {
	case argv := <-got:
		require.Equal(t, []string{"one", "two"}, argv)
	case <-time.After(time.Second):
		t.Fatal("program never ran")
	}
}

func TestSbrkGrowsHeapWithinWindowAndFailsPastLimit(t *testing.T) {
	m := newTestManager()
	pid, err := m.Create(0, validImage(t), func(ctx *Context) int { return 0 })
	require.NoError(t, err)

	first, err := m.GrowHeap(pid, 100)
	require.NoError(t, err)

	second, err := m.GrowHeap(pid, 50)
	require.NoError(t, err)
	require.Equal(t, first+100, second, "GrowHeap must not overlap a prior allocation")

	_, err = m.GrowHeap(pid, MaxProcMem)
	require.ErrorIs(t, err, kerr.ErrOutOfMemory, "growing past the heap's reserved window must fail")
}

func TestTerminateFreesAllocatedFrames(t *testing.T) {
	platform := NewSimPlatform(0x1000)
	m := NewManager(platform)
	pid, err := m.Create(0, validImage(t), func(ctx *Context) int { return 0 })
	require.NoError(t, err)
	_, err = m.GrowHeap(pid, 100)
	require.NoError(t, err)

	framesBefore := len(platform.freelist)
	m.Terminate(pid, 0)
	require.Greater(t, len(platform.freelist), framesBefore, "terminate must return this process's frames to the free list")
}

func TestNewManagerWithLimitsOverridesCapacityAndRetryBound(t *testing.T) {
	m := NewManagerWithLimits(NewSimPlatform(0x1000), 3, MaxProcMem, 2)
	require.Equal(t, 3, m.Capacity())
	require.Equal(t, 2, m.retryLimit)

	pid1, err := m.Create(0, validImage(t), func(ctx *Context) int { return 0 })
	require.NoError(t, err)
	_, err = m.Create(0, validImage(t), func(ctx *Context) int { return 0 })
	require.NoError(t, err)
	_, err = m.Create(0, validImage(t), func(ctx *Context) int { return 0 })
	require.ErrorIs(t, err, kerr.ErrNoProcessSlot, "a 3-slot table (including slot 0) holds only 2 processes")

	m.Terminate(pid1, 0)
	_, err = m.Create(0, validImage(t), func(ctx *Context) int { return 0 })
	require.NoError(t, err, "freed slot should be reusable even with a non-default capacity")
}

func TestNewManagerWithLimitsFallsBackOnInvalidValues(t *testing.T) {
	m := NewManagerWithLimits(NewSimPlatform(0x1000), 0, 0, 0)
	require.Equal(t, MaxProcs, m.Capacity(), "a zero/invalid limit must fall back to the built-in default")
}

func TestSendToInvalidTargetFails(t *testing.T) {
	m := newTestManager()
	done := make(chan error, 1)
	pid, err := m.Create(0, validImage(t), func(ctx *Context) int {
		var data [ipc.PayloadSize]byte
		done <- ctx.Send(99, 1, data)
		return 0
	})
	require.NoError(t, err)
	require.NoError(t, m.Exec(pid))

	select {
	case err := <-done:
		require.ErrorIs(t, err, kerr.ErrInvalidTarget)
	case <-time.After(time.Second):
		t.Fatal("send never returned")
	}
}
