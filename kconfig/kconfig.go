// Package kconfig is the host-simulation binary's file-based
// configuration layer: a YAML document mapping onto kernel.Config plus a
// declarative list of demo threads, so cmd/nanortsim never hand-builds a
// kernel.Config from flags alone. The kernel core itself never imports
// this package — nothing in spec.md's portable kernel reads a file.
//
// Grounded on the teacher's own "read a config file, populate a typed
// struct" pattern (config.go's INI-style section readers in
// doismellburning-samoyed), generalized from a TNC's audio-channel
// config to a kernel's priority/tick/thread config, and on the teacher
// go.mod's gopkg.in/yaml.v3.
package kconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nanort/nanort/kernel"
)

// ThreadKind names one of the canned demo thread bodies cmd/nanortsim
// knows how to build. A YAML document can only select among these; it
// has no way to embed arbitrary Go code, which is the point of keeping
// thread behavior declarative here and mapped to real closures in the
// binary that loads it.
type ThreadKind string

const (
	// KindCounter loops bumping a named counter then sleeping Delay
	// ticks — the spec.md §8 priority/slice-alternation scenario.
	KindCounter ThreadKind = "counter"

	// KindMutexHolder takes the mutex named by Resource, sleeps Delay
	// ticks Repeat times while holding it, then releases.
	KindMutexHolder ThreadKind = "mutex-holder"

	// KindMutexWaiter attempts a single blocking take of the mutex
	// named by Resource.
	KindMutexWaiter ThreadKind = "mutex-waiter"

	// KindProducer sends a message to the queue named by Resource
	// every Delay ticks.
	KindProducer ThreadKind = "producer"

	// KindConsumer receives a message from the queue named by Resource
	// every time one is available, logging each.
	KindConsumer ThreadKind = "consumer"
)

// ThreadSpec is one entry in the demo thread list: everything
// cmd/nanortsim needs to both construct the thread (name, priority,
// stack, time slice) and select + parameterize its canned body (Kind,
// Delay, Repeat, Resource).
type ThreadSpec struct {
	Name       string     `yaml:"name"`
	Kind       ThreadKind `yaml:"kind"`
	Priority   int        `yaml:"priority"`
	StackBytes int        `yaml:"stack_bytes"`
	Tick       uint32     `yaml:"tick"`
	Delay      uint32     `yaml:"delay_ticks"`
	Repeat     int        `yaml:"repeat"`
	Resource   string     `yaml:"resource"`
}

// ResourceSpec describes one IPC object the demo threads above may
// reference by name via ThreadSpec.Resource.
type ResourceSpec struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"` // "mutex", "semaphore", "queue"
	Value    uint16 `yaml:"value,omitempty"`
	MsgSize  int    `yaml:"msg_size,omitempty"`
	MaxMsgs  int    `yaml:"max_msgs,omitempty"`
	Priority bool   `yaml:"priority_order,omitempty"`
}

// Document is the full shape of a nanortsim YAML config file: the
// kernel's own tunables plus the declarative resource and thread lists
// that make up one live demo run.
type Document struct {
	PriorityMax        int    `yaml:"priority_max"`
	TickHZ             uint32 `yaml:"tick_hz"`
	IdleStackBytes     int    `yaml:"idle_stack_bytes"`
	EnableMutex        bool   `yaml:"enable_mutex"`
	EnableSemaphore    bool   `yaml:"enable_semaphore"`
	EnableMessageQueue bool   `yaml:"enable_message_queue"`

	Resources []ResourceSpec `yaml:"resources"`
	Threads   []ThreadSpec   `yaml:"threads"`
}

// Default returns a Document matching kernel.DefaultConfig with seven
// demo threads wired up (three counters, a mutex holder and waiter, and
// a producer/consumer pair on "mailbox"), the configuration nanortsim
// falls back to when no -config flag is given.
func Default() Document {
	def := kernel.DefaultConfig()
	return Document{
		PriorityMax:        def.PriorityMax,
		TickHZ:             def.TickHZ,
		IdleStackBytes:     def.IdleStackSize,
		EnableMutex:        def.EnableMutex,
		EnableSemaphore:    def.EnableSemaphore,
		EnableMessageQueue: def.EnableMessageQueue,
		Resources: []ResourceSpec{
			{Name: "work-mutex", Kind: "mutex", Priority: true},
			{Name: "shutdown-sem", Kind: "semaphore", Value: 0},
			{Name: "mailbox", Kind: "queue", MsgSize: 32, MaxMsgs: 4},
		},
		Threads: []ThreadSpec{
			{Name: "t1", Kind: KindCounter, Priority: 10, StackBytes: 1024, Tick: 10, Delay: 40},
			{Name: "t2", Kind: KindCounter, Priority: 12, StackBytes: 1024, Tick: 10, Delay: 50},
			{Name: "t3", Kind: KindCounter, Priority: 15, StackBytes: 1024, Tick: 10, Delay: 10},
			{Name: "holder", Kind: KindMutexHolder, Priority: 20, StackBytes: 1024, Tick: 10, Delay: 120, Repeat: 5, Resource: "work-mutex"},
			{Name: "waiter", Kind: KindMutexWaiter, Priority: 8, StackBytes: 1024, Tick: 10, Resource: "work-mutex"},
			{Name: "producer", Kind: KindProducer, Priority: 18, StackBytes: 1024, Tick: 10, Delay: 30, Resource: "mailbox"},
			{Name: "consumer", Kind: KindConsumer, Priority: 18, StackBytes: 1024, Tick: 10, Resource: "mailbox"},
		},
	}
}

// Load reads and parses a YAML document from path.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("kconfig: read %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("kconfig: parse %s: %w", path, err)
	}
	if err := doc.validate(); err != nil {
		return Document{}, fmt.Errorf("kconfig: %s: %w", path, err)
	}
	return doc, nil
}

func (d Document) validate() error {
	if d.PriorityMax <= 0 {
		return fmt.Errorf("priority_max must be positive")
	}
	seen := make(map[string]bool, len(d.Resources))
	for _, r := range d.Resources {
		if r.Name == "" {
			return fmt.Errorf("resource with empty name")
		}
		seen[r.Name] = true
	}
	for _, th := range d.Threads {
		if th.Name == "" {
			return fmt.Errorf("thread with empty name")
		}
		if th.Resource != "" && !seen[th.Resource] {
			return fmt.Errorf("thread %s references undeclared resource %s", th.Name, th.Resource)
		}
	}
	return nil
}

// KernelConfig converts d's kernel-level fields into a kernel.Config,
// leaving Port, Log, and Heartbeat for the caller to fill in (those are
// runtime collaborators, never something a YAML file should construct).
func (d Document) KernelConfig() kernel.Config {
	cfg := kernel.DefaultConfig()
	cfg.PriorityMax = d.PriorityMax
	if d.TickHZ != 0 {
		cfg.TickHZ = d.TickHZ
	}
	if d.IdleStackBytes != 0 {
		cfg.IdleStackSize = d.IdleStackBytes
	}
	cfg.EnableMutex = d.EnableMutex
	cfg.EnableSemaphore = d.EnableSemaphore
	cfg.EnableMessageQueue = d.EnableMessageQueue
	return cfg
}
