package sched

import "ringsched/internal/platform"

// Config holds the scheduling policy constants.
type Config struct {
	Capacity      int    `yaml:"capacity"`       // 1024 (by default)
	StackPages    int    `yaml:"stack_pages"`    // 2 (by default), one region per task
	KernelQuantum int64  `yaml:"kernel_quantum"` // 50 ticks for ring 0
	UserQuantum   int64  `yaml:"user_quantum"`   // 20 ticks for the other rings
	SinkAddress   uint32 `yaml:"sink_address"`   // stub a returning entry function lands in
	IdleEntry     uint32 `yaml:"idle_entry"`     // halt-until-interrupt loop
}

// Default kernel text layout of the two stubs the core references.
const (
	DefaultSinkAddress uint32 = 0x00101000
	DefaultIdleEntry   uint32 = 0x00101040
)

// DefaultConfig returns the policy the kernel boots with.
func DefaultConfig() Config {
	return Config{
		Capacity:      1024,
		StackPages:    2,
		KernelQuantum: 50,
		UserQuantum:   20,
		SinkAddress:   DefaultSinkAddress,
		IdleEntry:     DefaultIdleEntry,
	}
}

// Normalize replaces out of range values with defaults.
func (c Config) Normalize() Config {
	def := DefaultConfig()

	// sanity clamps
	if c.Capacity <= 0 {
		c.Capacity = def.Capacity
	} else if c.Capacity > MaxCapacity {
		c.Capacity = MaxCapacity
	}
	// less trusted tasks split the region into a task stack and an
	// interrupt stack, so one page is never enough.
	if c.StackPages < 2 {
		c.StackPages = def.StackPages
	}
	if c.KernelQuantum <= 0 {
		c.KernelQuantum = def.KernelQuantum
	}
	if c.UserQuantum <= 0 {
		c.UserQuantum = def.UserQuantum
	}
	if c.SinkAddress == 0 {
		c.SinkAddress = def.SinkAddress
	}
	if c.IdleEntry == 0 {
		c.IdleEntry = def.IdleEntry
	}
	return c
}

// Quantum is the slice length granted to tasks at the given ring.
func (c Config) Quantum(pl platform.Privilege) int64 {
	if pl.Trusted() {
		return c.KernelQuantum
	}
	return c.UserQuantum
}

// StackBytes is the size of the stack region of every task.
func (c Config) StackBytes() uint32 {
	return uint32(c.StackPages) * platform.PageSize
}
