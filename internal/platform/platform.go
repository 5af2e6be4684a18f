// internal/platform/platform.go

// Package platform declares the narrow contracts the multitasking core
// consumes from the rest of the kernel: interrupt dispatch, page allocation,
// descriptor tables, the task state segment and the CPU itself.
package platform

import "fmt"

// PageSize is the granularity of the page allocator.
const PageSize = 4096

// EFlagsIF is the interrupt-enable bit of EFLAGS.
const EFlagsIF uint32 = 1 << 9

// Well known interrupt vectors.
const (
	TimerVector   uint8 = 0x20 // IRQ0 after PIC remapping
	SyscallVector uint8 = 0x80 // exit service call
)

// Privilege is a protection ring. Ring0 is the most trusted.
type Privilege uint8

const (
	Ring0 Privilege = iota
	Ring1
	Ring2
	Ring3
)

func (p Privilege) String() string {
	return fmt.Sprintf("ring%d", uint8(p))
}

// Trusted reports whether code at this ring runs without a stack switch on
// interrupt entry.
func (p Privilege) Trusted() bool { return p == Ring0 }

// Selector builds a segment selector for the descriptor at handle with the
// given requested privilege level.
func Selector(handle uint16, rpl Privilege) uint16 {
	return handle&^0x7 | uint16(rpl&0x3)
}

// RPL extracts the requested privilege level of a selector.
func RPL(selector uint32) Privilege { return Privilege(selector & 0x3) }

// DescriptorKind is the type of segment a descriptor describes.
type DescriptorKind uint8

const (
	CodeSegment DescriptorKind = iota
	DataSegment
	TaskSegment
)

func (k DescriptorKind) String() string {
	switch k {
	case CodeSegment:
		return "code"
	case DataSegment:
		return "data"
	case TaskSegment:
		return "tss"
	default:
		return "unknown"
	}
}

// Handler services an interrupt. sp is the address of the snapshot the
// interrupt entry path just pushed.
type Handler func(sp uint32)

// Interrupts lets the core hook vectors.
type Interrupts interface {
	InstallHandler(vector uint8, h Handler)
}

// PageAllocator hands out physically contiguous page runs.
type PageAllocator interface {
	AllocatePages(count int) (uint32, error)
	FreePage(addr uint32) error
}

// DescriptorTable is the GDT manager.
type DescriptorTable interface {
	AllocateHandle() (uint16, error)
	ReleaseHandle(handle uint16) error
	Configure(handle uint16, base, limit uint32, kind DescriptorKind, pl Privilege) error
	KernelDataSelector() uint16
}

// TaskState is the privilege-transition stack pointer field of the TSS.
type TaskState interface {
	SetKernelStack(ss0 uint16, esp0 uint32)
}

// Memory is word granular access to physical memory.
type Memory interface {
	LoadWord(addr uint32) (uint32, error)
	StoreWord(addr, v uint32) error
}

// CPU performs the one-way transfer into a task.
//
// RestoreAndJump pops the snapshot at sp and continues execution wherever it
// says. Callers must treat it as never returning: nothing may run after it on
// the dispatch path.
type CPU interface {
	RestoreAndJump(sp uint32)
	Halt(reason string)
}
