// internal/machine/machine.go

// Package machine emulates just enough of an i386 PC to run the multitasking
// core end to end: RAM, a page allocator, the GDT, the TSS, a register file,
// interrupt entry/exit with ring transitions, and a program table standing
// in for instruction fetch.
package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ringsched/internal/frame"
	"ringsched/internal/platform"
)

// ErrHalted is returned by Run once the machine has stopped for good.
var ErrHalted = errors.New("machine halted")

// Registers is the architectural register file.
type Registers struct {
	EAX, ECX, EDX, EBX, ESP, EBP, ESI, EDI uint32
	EIP, EFlags                            uint32
	CS, SS, DS, ES, FS, GS                 uint32
}

// CPL is the ring the CPU currently executes at.
func (r *Registers) CPL() platform.Privilege { return platform.RPL(r.CS) }

// Outcome is what a program did during one tick.
type Outcome int

const (
	Continue Outcome = iota // still running
	Return                  // executed ret from its entry function
	Exit                    // raised the exit service call
	Wait                    // hlt until the next interrupt
)

// Program stands in for the code at an entry address. Step runs one tick
// worth of instructions; all state must live in the registers so that it
// survives being saved and restored.
type Program interface {
	Step(r *Registers) Outcome
}

// Machine is the emulated PC. Tick and Exclusive serialize on one mutex,
// which plays the role of the interrupt flag for host code.
type Machine struct {
	mu sync.Mutex

	RAM   *RAM
	Pages *PageFrames
	GDT   *GDT
	TSS   *TSS

	regs     Registers
	handlers map[uint8]platform.Handler
	programs map[uint32]Program
	log      *slog.Logger

	running bool // a task context is loaded
	waiting bool // hlt
	jumped  bool // RestoreAndJump ran inside the current handler
	halted  bool
	reason  string
	ticks   int64
}

// New builds a machine from cfg.
func New(cfg Config, log *slog.Logger) *Machine {
	cfg = cfg.Normalize()
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	size := uint32(cfg.RAMPages) * platform.PageSize
	return &Machine{
		RAM:      NewRAM(cfg.RAMBase, int(size)),
		Pages:    NewPageFrames(cfg.RAMBase, size),
		GDT:      NewGDT(cfg.GDTEntries),
		TSS:      &TSS{},
		handlers: make(map[uint8]platform.Handler),
		programs: make(map[uint32]Program),
		log:      log,
		regs: Registers{
			CS: uint32(KernelCodeSelector),
			SS: uint32(KernelDataSelector),
			DS: uint32(KernelDataSelector),
		},
	}
}

// Load maps a program at an entry address.
func (m *Machine) Load(entry uint32, p Program) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs[entry] = p
}

// InstallHandler hooks vector.
func (m *Machine) InstallHandler(vector uint8, h platform.Handler) {
	m.handlers[vector] = h
}

// Exclusive runs fn with interrupts masked.
func (m *Machine) Exclusive(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

// RestoreAndJump pops the snapshot at sp into the register file. Execution
// continues at the restored EIP on the next tick.
func (m *Machine) RestoreAndJump(sp uint32) {
	f, next, err := frame.Pop(m.RAM, sp)
	if err != nil {
		m.Halt(fmt.Sprintf("restore frame at %#x: %v", sp, err))
		return
	}

	m.regs = Registers{
		EAX: f.EAX, ECX: f.ECX, EDX: f.EDX, EBX: f.EBX,
		EBP: f.EBP, ESI: f.ESI, EDI: f.EDI,
		EIP: f.EIP, EFlags: f.EFlags, CS: f.CS,
		DS: f.DS, ES: f.ES, FS: f.FS, GS: f.GS,
		ESP: next, SS: m.regs.SS,
	}
	if f.CrossesPrivilege() {
		m.regs.ESP = f.UserESP
		m.regs.SS = f.UserSS
	}
	m.running = true
	m.waiting = false
	m.jumped = true
}

// Halt stops the machine. Nothing runs afterwards.
func (m *Machine) Halt(reason string) {
	if m.halted {
		return
	}
	m.halted = true
	m.reason = reason
	m.log.Error("machine halted", "reason", reason, "eip", m.regs.EIP)
}

// Halted reports whether Halt was called, and why.
func (m *Machine) Halted() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted, m.reason
}

// Registers returns a copy of the register file.
func (m *Machine) Registers() Registers {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs
}

// Ticks returns the number of ticks executed.
func (m *Machine) Ticks() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks
}

// Tick runs the current program for one tick, then raises the timer
// interrupt. A tick spent in the exit call raises nothing else, so every
// tick charged to a task is a tick it executed.
func (m *Machine) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.halted || !m.running {
		return
	}
	m.ticks++
	if !m.waiting && m.step() == Exit {
		return
	}
	if m.halted {
		return
	}
	m.interrupt(platform.TimerVector)
}

// Interrupt raises vector as if signalled by hardware or int n.
func (m *Machine) Interrupt(vector uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halted || !m.running {
		return
	}
	m.interrupt(vector)
}

func (m *Machine) step() Outcome {
	p, ok := m.programs[m.regs.EIP]
	if !ok {
		m.Halt(fmt.Sprintf("no program at eip %#x", m.regs.EIP))
		return Wait
	}
	out := p.Step(&m.regs)
	switch out {
	case Return:
		ret, err := m.RAM.LoadWord(m.regs.ESP)
		if err != nil {
			m.Halt(fmt.Sprintf("ret: %v", err))
			return out
		}
		m.regs.ESP += frame.WordSize
		m.regs.EIP = ret
	case Exit:
		m.interrupt(platform.SyscallVector)
	case Wait:
		m.waiting = true
	}
	return out
}

// interrupt performs the hardware entry sequence plus the common ISR stub:
// switch to ESP0 when coming from a less trusted ring, push the snapshot,
// enter ring 0 with IF clear, and call the handler. If the handler does not
// transfer control elsewhere the interrupted context is resumed.
func (m *Machine) interrupt(vector uint8) {
	r := &m.regs
	f := frame.Frame{
		GS: r.GS, FS: r.FS, ES: r.ES, DS: r.DS,
		EDI: r.EDI, ESI: r.ESI, EBP: r.EBP, ESP: r.ESP,
		EBX: r.EBX, EDX: r.EDX, ECX: r.ECX, EAX: r.EAX,
		Vector: uint32(vector),
		EIP:    r.EIP,
		CS:     r.CS,
		EFlags: r.EFlags,
	}

	sp := r.ESP
	if f.CrossesPrivilege() {
		f.UserESP, f.UserSS = r.ESP, r.SS
		sp = m.TSS.ESP0
		r.SS = uint32(m.TSS.SS0)
	}
	sp, err := frame.Push(m.RAM, sp, f)
	if err != nil {
		m.Halt(fmt.Sprintf("interrupt %#x: %v", vector, err))
		return
	}

	r.ESP = sp
	r.CS = uint32(KernelCodeSelector)
	r.DS, r.ES, r.FS, r.GS = uint32(KernelDataSelector), uint32(KernelDataSelector),
		uint32(KernelDataSelector), uint32(KernelDataSelector)
	r.EFlags &^= platform.EFlagsIF
	m.waiting = false

	m.jumped = false
	if h, ok := m.handlers[vector]; ok {
		h(sp)
	}
	if !m.jumped && !m.halted {
		m.RestoreAndJump(sp)
	}
}

// Run executes one tick per value received on ticks until ctx is done or
// the machine halts.
func (m *Machine) Run(ctx context.Context, ticks <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ticks:
			if !ok {
				return nil
			}
			m.Tick()
			if halted, reason := m.Halted(); halted {
				return fmt.Errorf("%w: %s", ErrHalted, reason)
			}
		}
	}
}

// TSS holds the privilege-transition stack the CPU switches to when an
// interrupt arrives at ring > 0.
type TSS struct {
	SS0  uint16
	ESP0 uint32
}

func (t *TSS) SetKernelStack(ss0 uint16, esp0 uint32) {
	t.SS0 = ss0
	t.ESP0 = esp0
}
