// Command nanortsim is the host-simulation demo binary: it loads a
// kconfig YAML document (or kconfig.Default if none is given), boots a
// kernel.Kernel from it, runs the declarative thread list live against
// real wall-clock-driven ticks, and prints a strftime-formatted uptime
// report when the run ends.
//
// Grounded on the teacher's many thin cmd/*/main.go wrappers
// (cmd/direwolf/main.go, cmd/tnctest/main.go et al.): parse flags, load
// configuration, call into the library package.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
	"github.com/spf13/pflag"

	"github.com/nanort/nanort/ipc"
	"github.com/nanort/nanort/kconfig"
	"github.com/nanort/nanort/kernel"
	"github.com/nanort/nanort/kernlog"
	"github.com/nanort/nanort/thread"
)

func main() {
	var configPath = pflag.StringP("config", "c", "", "Path to a kconfig YAML document. Defaults to the built-in demo configuration.")
	var duration = pflag.DurationP("duration", "d", 5*time.Second, "Wall-clock duration to run the simulation before shutting down.")
	var verbose = pflag.CountP("verbose", "v", "Increase log verbosity. Repeat for more detail (-v info, -vv debug).")
	var timestampFormat = pflag.StringP("timestamp-format", "T", "%Y-%m-%d %H:%M:%S", "strftime format used for the final uptime report.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "nanortsim - live host simulation of the nanort RTOS kernel.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: nanortsim [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	level := log.WarnLevel
	switch {
	case *verbose >= 2:
		level = log.DebugLevel
	case *verbose == 1:
		level = log.InfoLevel
	}
	logger := kernlog.Stderr(level)

	var doc kconfig.Document
	var err error
	if *configPath != "" {
		doc, err = kconfig.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "nanortsim: %v\n", err)
			os.Exit(1)
		}
	} else {
		doc = kconfig.Default()
	}

	cfg := doc.KernelConfig()
	cfg.Log = logger

	k, err := kernel.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nanortsim: kernel.New: %v\n", err)
		os.Exit(1)
	}

	run := newDemoRun(k, logger)
	if err := run.buildResources(doc.Resources); err != nil {
		fmt.Fprintf(os.Stderr, "nanortsim: %v\n", err)
		os.Exit(1)
	}
	if err := run.spawnThreads(doc.Threads); err != nil {
		fmt.Fprintf(os.Stderr, "nanortsim: %v\n", err)
		os.Exit(1)
	}

	start := time.Now()
	go func() {
		if err := k.Run(); err != nil {
			logger.Error("kernel run exited early", "err", err)
		}
	}()

	time.Sleep(*duration)
	k.Shutdown()

	startStr, _ := strftime.Format(*timestampFormat, start)
	endStr, _ := strftime.Format(*timestampFormat, time.Now())

	fmt.Printf("\nnanortsim uptime report\n")
	fmt.Printf("  started:  %s\n", startStr)
	fmt.Printf("  ended:    %s\n", endStr)
	fmt.Printf("  ran for:  %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("  threads:\n")
	run.stats.report(func(name string, count int) {
		fmt.Printf("    %-16s ran %d times\n", name, count)
	})
}

// demoStats accumulates a run count per thread name so the final report
// can show which threads actually got scheduled and how often.
type demoStats struct {
	mu     sync.Mutex
	counts map[string]int
}

func newDemoStats() *demoStats {
	return &demoStats{counts: make(map[string]int)}
}

func (s *demoStats) bump(name string) {
	s.mu.Lock()
	s.counts[name]++
	s.mu.Unlock()
}

func (s *demoStats) report(emit func(name string, count int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, count := range s.counts {
		emit(name, count)
	}
}

// demoRun holds everything the canned thread bodies close over: the
// kernel handle, the resources the kconfig document named, and the
// shared stats counter.
type demoRun struct {
	k     *kernel.Kernel
	log   *kernlog.Logger
	stats *demoStats
	mutex map[string]*ipc.Mutex
	sem   map[string]*ipc.Semaphore
	queue map[string]*ipc.MessageQueue
}

func newDemoRun(k *kernel.Kernel, lg *kernlog.Logger) *demoRun {
	return &demoRun{
		k:     k,
		log:   lg,
		stats: newDemoStats(),
		mutex: make(map[string]*ipc.Mutex),
		sem:   make(map[string]*ipc.Semaphore),
		queue: make(map[string]*ipc.MessageQueue),
	}
}

func (r *demoRun) current() *thread.Thread {
	return r.k.Sched.Current().(*thread.Thread)
}

func (r *demoRun) buildResources(specs []kconfig.ResourceSpec) error {
	for _, rs := range specs {
		order := ipc.OrderFIFO
		if rs.Priority {
			order = ipc.OrderPriority
		}
		switch rs.Kind {
		case "mutex":
			mu, err := r.k.NewMutex(order)
			if err != nil {
				return fmt.Errorf("resource %s: %w", rs.Name, err)
			}
			r.mutex[rs.Name] = mu
		case "semaphore":
			sem, err := r.k.NewSemaphore(rs.Value, order)
			if err != nil {
				return fmt.Errorf("resource %s: %w", rs.Name, err)
			}
			r.sem[rs.Name] = sem
		case "queue":
			mq, err := r.k.NewMessageQueue(rs.MsgSize, rs.MaxMsgs, order)
			if err != nil {
				return fmt.Errorf("resource %s: %w", rs.Name, err)
			}
			r.queue[rs.Name] = mq
		default:
			return fmt.Errorf("resource %s: unknown kind %q", rs.Name, rs.Kind)
		}
	}
	return nil
}

func (r *demoRun) spawnThreads(specs []kconfig.ThreadSpec) error {
	for _, ts := range specs {
		body, err := r.buildBody(ts)
		if err != nil {
			return err
		}
		stack := make([]byte, ts.StackBytes)
		if _, err := r.k.Spawn(ts.Name, body, stack, ts.Priority, ts.Tick); err != nil {
			return fmt.Errorf("spawn %s: %w", ts.Name, err)
		}
	}
	return nil
}

func (r *demoRun) buildBody(ts kconfig.ThreadSpec) (func(), error) {
	switch ts.Kind {
	case kconfig.KindCounter:
		return func() {
			self := r.current()
			for {
				r.stats.bump(ts.Name)
				r.k.Threads.Sleep(self, ts.Delay)
			}
		}, nil

	case kconfig.KindMutexHolder:
		mu, ok := r.mutex[ts.Resource]
		if !ok {
			return nil, fmt.Errorf("thread %s: %s is not a mutex", ts.Name, ts.Resource)
		}
		return func() {
			self := r.current()
			if err := mu.Take(self, -1); err != nil {
				r.log.Warn("mutex take failed", "thread", ts.Name, "err", err)
				return
			}
			r.stats.bump(ts.Name)
			for i := 0; i < ts.Repeat; i++ {
				r.k.Threads.Sleep(self, ts.Delay)
			}
			_ = mu.Release(self)
		}, nil

	case kconfig.KindMutexWaiter:
		mu, ok := r.mutex[ts.Resource]
		if !ok {
			return nil, fmt.Errorf("thread %s: %s is not a mutex", ts.Name, ts.Resource)
		}
		return func() {
			self := r.current()
			if err := mu.Take(self, -1); err != nil {
				r.log.Warn("mutex take failed", "thread", ts.Name, "err", err)
				return
			}
			r.stats.bump(ts.Name)
			_ = mu.Release(self)
		}, nil

	case kconfig.KindProducer:
		mq, ok := r.queue[ts.Resource]
		if !ok {
			return nil, fmt.Errorf("thread %s: %s is not a queue", ts.Name, ts.Resource)
		}
		return func() {
			self := r.current()
			for {
				if err := mq.SendWait(self, []byte(ts.Name), 0); err == nil {
					r.stats.bump(ts.Name)
				}
				r.k.Threads.Sleep(self, ts.Delay)
			}
		}, nil

	case kconfig.KindConsumer:
		mq, ok := r.queue[ts.Resource]
		if !ok {
			return nil, fmt.Errorf("thread %s: %s is not a queue", ts.Name, ts.Resource)
		}
		return func() {
			self := r.current()
			buf := make([]byte, 64)
			for {
				if n, err := mq.Recv(self, buf, -1); err == nil {
					r.stats.bump(ts.Name)
					r.log.Debug("consumed message", "thread", ts.Name, "payload", string(buf[:n]))
				} else {
					return
				}
			}
		}, nil

	default:
		return nil, fmt.Errorf("thread %s: unknown kind %q", ts.Name, ts.Kind)
	}
}
