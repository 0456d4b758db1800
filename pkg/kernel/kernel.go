// Package kernel wires the block device, filesystem, process manager, and
// scheduler together into the boot/run/shutdown lifecycle of a Chilena
// core.
package kernel

import (
	"io"
	"os"
	"time"

	"github.com/lynafyna/chilena/pkg/blockdev"
	"github.com/lynafyna/chilena/pkg/chfs"
	"github.com/lynafyna/chilena/pkg/kconfig"
	"github.com/lynafyna/chilena/pkg/klog"
	"github.com/lynafyna/chilena/pkg/process"
	"github.com/lynafyna/chilena/pkg/sched"
)

var log = klog.For("kernel")

// Kernel owns every subsystem a booted core needs: the block device, the
// disk filesystem mounted on it, the process table, and the scheduler
// driving it. A single goroutine calling Tick in a loop stands in for the
// real timer interrupt the platform boundary assumes.
type Kernel struct {
	cfg     kconfig.Config
	dev     *blockdev.Device
	fs      *chfs.Filesystem
	procs   *process.Manager
	sched   Scheduler
	disp    *sched.Dispatcher
	backend *blockdev.FileBackend

	stdout io.Writer
	stderr io.Writer

	shutdownHooks []func()
}

// Scheduler is the subset of sched.Scheduler's surface Kernel drives.
// Boot always installs a sched.Scheduler here; it takes no scheduler from
// its caller.
type Scheduler interface {
	Tick()
}

// Boot opens (creating if necessary) the disk image named by cfg, mounts
// or formats the filesystem on it, and wires the process manager and
// scheduler on top: open the block device, mount the filesystem
// (formatting if unmounted), then bring up process management.
func Boot(cfg kconfig.Config, stdout, stderr io.Writer) (*Kernel, error) {
	capacity := uint64((cfg.MaxProcs+1)*16 + 64)
	backend, err := blockdev.OpenFileBackend(cfg.DiskImagePath, capacity)
	if err != nil {
		return nil, err
	}
	dev := blockdev.New(backend, 8, cfg.BlockDevSpinLimit)

	fs := chfs.New(dev)
	if !fs.Mount() {
		log.Info("kernel: no filesystem found, formatting")
		if err := fs.Format(); err != nil {
			backend.Close()
			return nil, err
		}
	}

	procs := process.NewManagerWithLimits(process.NewSimPlatform(process.UserBase), cfg.MaxProcs, cfg.MaxProcMem, cfg.MailboxRetryLimit)
	disp := sched.NewDispatcher(procs, fs, stdout, stderr)
	schedCore := sched.New(procs)
	schedCore.SetInterval(cfg.SchedIntervalTicks)

	k := &Kernel{
		cfg:     cfg,
		dev:     dev,
		fs:      fs,
		procs:   procs,
		sched:   schedCore,
		disp:    disp,
		backend: backend,
		stdout:  stdout,
		stderr:  stderr,
	}
	log.Info("kernel: boot complete")
	return k, nil
}

// BootDefault boots with Config.Default() and the process's own stdout
// and stderr.
func BootDefault() (*Kernel, error) {
	return Boot(kconfig.Default(), os.Stdout, os.Stderr)
}

// Filesystem exposes the mounted filesystem for callers loading programs
// onto it before RunProgram.
func (k *Kernel) Filesystem() *chfs.Filesystem { return k.fs }

// Processes exposes the process manager, for callers that need direct
// table access (tests, introspection tools).
func (k *Kernel) Processes() *process.Manager { return k.procs }

// RunProgram loads name from the filesystem as a CHN executable, creates
// and execs a process for it with the given argv, and drives the
// scheduler until that process terminates. Returns the process's exit code.
func (k *Kernel) RunProgram(name string, program process.UserProgram, argv ...string) (int, error) {
	image, err := k.fs.ReadFile(name)
	if err != nil {
		return 0, err
	}

	var exitCode int
	wrapped := func(ctx *process.Context) int {
		exitCode = program(ctx)
		return exitCode
	}

	pid, err := k.procs.Create(0, image, wrapped, argv...)
	if err != nil {
		return 0, err
	}
	stopped := k.procs.StoppedChan(pid)
	if err := k.procs.Exec(pid); err != nil {
		return 0, err
	}

	for {
		select {
		case <-stopped:
			return exitCode, nil
		default:
			k.sched.Tick()
			if !k.procs.Live(pid) {
				return exitCode, nil
			}
			time.Sleep(time.Microsecond)
		}
	}
}

// OnShutdown registers a hook run during Shutdown, in registration order.
func (k *Kernel) OnShutdown(hook func()) {
	k.shutdownHooks = append(k.shutdownHooks, hook)
}

// Shutdown runs registered shutdown hooks and closes the block device.
func (k *Kernel) Shutdown() error {
	for _, hook := range k.shutdownHooks {
		hook()
	}
	log.Info("kernel: shutdown")
	if k.backend != nil {
		return k.backend.Close()
	}
	return nil
}

// Dispatcher exposes the syscall vector for wiring a program's UserProgram
// to kernel services.
func (k *Kernel) Dispatcher() *sched.Dispatcher { return k.disp }
