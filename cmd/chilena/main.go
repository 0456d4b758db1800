// Command chilena boots a Chilena core over a disk image, loads a named
// CHN program from its filesystem, runs it to completion, and reports its
// exit code.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/lynafyna/chilena/pkg/kconfig"
	"github.com/lynafyna/chilena/pkg/kernel"
	"github.com/lynafyna/chilena/pkg/kerr"
	"github.com/lynafyna/chilena/pkg/klog"
	"github.com/lynafyna/chilena/pkg/process"
)

var log = klog.For("cmd")

// nativePrograms maps a CHN file name on the filesystem to the Go
// callback that realizes "executing" it. There is no x86 interpreter in
// this core — instruction execution is the hardware's job; each
// process's UserProgram stands in for the machine code a real CHN
// image's code section would contain.
var nativePrograms = map[string]process.UserProgram{
	"hello.chn": helloProgram,
}

func main() {
	configPath := flag.String("config", "", "kernel.ini path (optional, defaults used if absent)")
	imagePath := flag.String("image", "", "disk image path override")
	programName := flag.String("run", "hello.chn", "name of the CHN program to run from the filesystem")
	argvFlag := flag.String("args", "", "comma-separated argv passed to the program")
	installDemo := flag.Bool("install-demo", true, "write the built-in demo programs to the filesystem if missing")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	klog.SetLevel(*debug)

	cfg := kconfig.Default()
	if *configPath != "" {
		loaded, err := kconfig.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chilena: could not load config %s: %v\n", *configPath, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *imagePath != "" {
		cfg.DiskImagePath = *imagePath
	}

	k, err := kernel.Boot(cfg, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chilena: boot failed: %v\n", err)
		os.Exit(1)
	}
	defer k.Shutdown()

	if *installDemo {
		if err := installDemoPrograms(k); err != nil {
			fmt.Fprintf(os.Stderr, "chilena: could not install demo programs: %v\n", err)
			os.Exit(1)
		}
	}

	program, ok := nativePrograms[*programName]
	if !ok {
		fmt.Fprintf(os.Stderr, "chilena: no native implementation registered for %s\n", *programName)
		os.Exit(1)
	}

	var argv []string
	if *argvFlag != "" {
		argv = strings.Split(*argvFlag, ",")
	}

	code, err := k.RunProgram(*programName, program, argv...)
	if err != nil {
		if err == kerr.ErrNotFound {
			fmt.Fprintf(os.Stderr, "chilena: %s not found on disk (pass -install-demo or write it first)\n", *programName)
		} else {
			fmt.Fprintf(os.Stderr, "chilena: run failed: %v\n", err)
		}
		os.Exit(1)
	}

	log.WithField("program", *programName).WithField("exit_code", code).Info("chilena: program exited")
	os.Exit(code)
}

func demoImage() []byte {
	h := process.EncodeHeader(process.Header{StackSize: 65536})
	return append(append([]byte{}, h[:]...), 0x90)
}

func installDemoPrograms(k *kernel.Kernel) error {
	fs := k.Filesystem()
	for name := range nativePrograms {
		if fs.Exists(name) {
			continue
		}
		if err := fs.WriteFile(name, demoImage()); err != nil {
			return err
		}
	}
	return nil
}

func helloProgram(ctx *process.Context) int {
	fmt.Fprintln(os.Stdout, "hello from chilena pid", ctx.Pid(), "argv", ctx.Argv())
	return 0
}
