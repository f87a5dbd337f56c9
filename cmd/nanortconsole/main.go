// Command nanortconsole attaches the kernel's console collaborator to a
// real pseudo-terminal so a user can `cat` or `screen` the printed
// device node and watch kernel console output live, the host-simulation
// analogue of wiring a real UART up to a serial console.
//
// Grounded on Daedaluz-goserial's pty_linux.go and the teacher's own
// PTY-based serial tooling (e.g. cmd/tnctest's pseudo-terminal KISS
// client), and on the teacher go.mod's github.com/creack/pty,
// github.com/pkg/term.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nanort/nanort/console"
	"github.com/nanort/nanort/kconfig"
	"github.com/nanort/nanort/kernel"
	"github.com/nanort/nanort/kernlog"
	"github.com/nanort/nanort/thread"
)

func main() {
	var configPath = pflag.StringP("config", "c", "", "Path to a kconfig YAML document. Defaults to the built-in demo configuration.")
	var heartbeatInterval = pflag.DurationP("heartbeat", "i", time.Second, "Wall-clock interval between console heartbeat lines.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "nanortconsole - live kernel console over a pseudo-terminal.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: nanortconsole [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	sink, err := console.NewPTYSink()
	if err != nil {
		fmt.Fprintf(os.Stderr, "nanortconsole: open pty: %v\n", err)
		os.Exit(1)
	}
	defer sink.Close()

	con := console.New(sink)
	fmt.Fprintf(os.Stderr, "nanortconsole: attach a terminal to %s to watch kernel output\n", sink.Name())
	fmt.Fprintf(os.Stderr, "  e.g.  cat %s\n", sink.Name())

	var doc kconfig.Document
	if *configPath != "" {
		doc, err = kconfig.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "nanortconsole: %v\n", err)
			os.Exit(1)
		}
	} else {
		doc = kconfig.Default()
	}

	cfg := doc.KernelConfig()
	cfg.Log = kernlog.Stderr(0)

	k, err := kernel.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nanortconsole: kernel.New: %v\n", err)
		os.Exit(1)
	}

	// A single low-rate thread prints a heartbeat line to the console so
	// anyone watching the pty can see the kernel is alive. Only the loaded
	// document's kernel-level fields are used here; its resources and
	// threads are not spawned.
	ticksPerBeat := uint32(heartbeatInterval.Milliseconds() * int64(cfg.TickHZ) / 1000)
	if ticksPerBeat == 0 {
		ticksPerBeat = 1
	}
	if _, err := k.Spawn("console-heartbeat", func() {
		self := k.Sched.Current().(*thread.Thread)
		n := 0
		for {
			con.Printf("[%d] heartbeat %d\n", n, n)
			n++
			k.Threads.Sleep(self, ticksPerBeat)
		}
	}, make([]byte, 1024), cfg.PriorityMax-2, 10); err != nil {
		fmt.Fprintf(os.Stderr, "nanortconsole: spawn heartbeat: %v\n", err)
		os.Exit(1)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := k.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "nanortconsole: kernel run exited: %v\n", err)
		}
	}()

	<-sigc
	fmt.Fprintln(os.Stderr, "nanortconsole: shutting down")
	k.Shutdown()
}
