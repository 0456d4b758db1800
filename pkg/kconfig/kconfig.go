// Package kconfig loads the kernel's boot-time tunables from an ini file.
package kconfig

import "gopkg.in/ini.v1"

// Config holds every tunable left as an implementation default.
type Config struct {
	MaxProcs           int    // process table capacity, including slot 0
	MaxProcMem         uint64 // bytes per process address window
	SchedIntervalTicks uint64 // scheduler quantum, in timer ticks
	MailboxRetryLimit  int    // bounded send() retry count
	BlockDevSpinLimit  int    // bounded read_sector/write_sector poll count
	DiskImagePath      string
}

// Default returns the kernel's built-in tunable values.
func Default() Config {
	return Config{
		MaxProcs:           8,
		MaxProcMem:         10 << 20,
		SchedIntervalTicks: 10,
		MailboxRetryLimit:  1000,
		BlockDevSpinLimit:  10_000_000,
		DiskImagePath:      "chilena.img",
	}
}

// Load reads a kernel.ini file, overriding only the keys present in it.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := ini.Load(path)
	if err != nil {
		return cfg, err
	}
	sec := f.Section("kernel")
	cfg.MaxProcs = sec.Key("max_procs").MustInt(cfg.MaxProcs)
	cfg.MaxProcMem = uint64(sec.Key("max_proc_mem").MustUint64(cfg.MaxProcMem))
	cfg.SchedIntervalTicks = sec.Key("sched_interval_ticks").MustUint64(cfg.SchedIntervalTicks)
	cfg.MailboxRetryLimit = sec.Key("mailbox_retry_limit").MustInt(cfg.MailboxRetryLimit)
	cfg.BlockDevSpinLimit = sec.Key("blockdev_spin_limit").MustInt(cfg.BlockDevSpinLimit)
	cfg.DiskImagePath = sec.Key("disk_image_path").MustString(cfg.DiskImagePath)
	return cfg, nil
}
