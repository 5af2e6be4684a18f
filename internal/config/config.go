// internal/config/config.go

// Package config loads the simulator configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	yaml "github.com/goccy/go-yaml"

	"ringsched/internal/job"
	"ringsched/internal/machine"
	"ringsched/internal/platform"
	"ringsched/internal/sched"
)

// Config mirrors config.yml
type Config struct {
	Scheduler sched.Config   `yaml:"scheduler"`
	Machine   machine.Config `yaml:"machine"`
	Tasks     []TaskSpec     `yaml:"tasks"`
	Trace     TraceConfig    `yaml:"trace"`
}

// TaskSpec describes one task created at boot.
type TaskSpec struct {
	Name    string `yaml:"name"`
	Program string `yaml:"program"` // spin | exit | forever | idle
	Ticks   uint32 `yaml:"ticks"`   // work before returning or exiting
	Ring    uint8  `yaml:"ring"`    // 0 (kernel) .. 3 (user)
	Entry   uint32 `yaml:"entry"`   // assigned when zero
}

// TraceConfig selects where events go besides the console.
type TraceConfig struct {
	CSV     string `yaml:"csv"`
	SQLite  string `yaml:"sqlite"`
	Verbose bool   `yaml:"verbose"` // print ticks too
}

// first entry handed out to tasks without an explicit one
const entryBase uint32 = 0x00400000

// If the config file is not found, we use default values
func defaultConfig() Config {
	return Config{
		Scheduler: sched.DefaultConfig(),
		Machine:   machine.DefaultConfig(),
		Tasks: []TaskSpec{
			{Name: "kernel-worker", Program: "spin", Ticks: 120, Ring: 0},
			{Name: "user-shell", Program: "forever", Ring: 3},
			{Name: "user-batch", Program: "exit", Ticks: 45, Ring: 3},
		},
	}
}

// Load reads YAML and overrides defaults; empty path = defaults only
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// fall back to the defaults
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.Scheduler = cfg.Scheduler.Normalize()
	cfg.Machine = cfg.Machine.Normalize()
	if err := cfg.resolveTasks(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) resolveTasks() error {
	if c.Scheduler.SinkAddress == c.Scheduler.IdleEntry {
		return fmt.Errorf("sink stub and idle task share address %#x", c.Scheduler.SinkAddress)
	}
	used := map[uint32]string{
		c.Scheduler.SinkAddress: "sink stub",
		c.Scheduler.IdleEntry:   "idle task",
	}
	for i := range c.Tasks {
		t := &c.Tasks[i]
		if t.Name == "" {
			t.Name = fmt.Sprintf("task-%d", i)
		}
		if _, ok := job.ByName(t.Program, t.Ticks); !ok {
			return fmt.Errorf("task %s: unknown program %q", t.Name, t.Program)
		}
		if t.Ring > uint8(platform.Ring3) {
			return fmt.Errorf("task %s: ring %d out of range", t.Name, t.Ring)
		}
		if t.Entry == 0 {
			t.Entry = entryBase + uint32(i)*0x10000
		}
		if other, ok := used[t.Entry]; ok {
			return fmt.Errorf("task %s: entry %#x already used by %s", t.Name, t.Entry, other)
		}
		used[t.Entry] = t.Name
	}
	return nil
}

// MachineProgram returns the program a task spec runs.
func (t TaskSpec) MachineProgram() machine.Program {
	p, _ := job.ByName(t.Program, t.Ticks)
	return p
}

// Privilege returns the ring of a task spec.
func (t TaskSpec) Privilege() platform.Privilege { return platform.Privilege(t.Ring) }
