// internal/sched/task.go

package sched

import "ringsched/internal/platform"

// TaskID identifies a slot of the task table. It is stable for the slot and
// reused once the slot has been reclaimed.
type TaskID uint16

// NoParent is the parent of tasks created while no task was running.
const NoParent TaskID = 0xFFFF

// MaxCapacity bounds the task table so that every slot index fits a TaskID
// distinct from NoParent.
const MaxCapacity = int(NoParent)

// State is the scheduling state of a task.
type State uint8

const (
	Available State = iota // slot is free
	Ready                  // waiting in the ready queue
	Running                // owns the CPU
	Blocked                // reserved, nothing enters it yet
	Finished               // waiting for its resources to be reclaimed
)

func (s State) String() string {
	switch s {
	case Available:
		return "Available"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Blocked:
		return "Blocked"
	case Finished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// listKind records which intrusive list a slot currently belongs to.
type listKind uint8

const (
	listNone listKind = iota
	listAvailable
	listReady
)

func (k listKind) String() string {
	switch k {
	case listAvailable:
		return "available"
	case listReady:
		return "ready"
	default:
		return "none"
	}
}

// Task represents one schedulable unit of execution.
type Task struct {
	ID        TaskID
	ParentID  TaskID
	State     State
	Privilege platform.Privilege
	Entry     uint32 // first instruction

	// Selectors of the two shared task descriptors, RPL = Privilege.
	CodeSelector uint16
	DataSelector uint16

	KernelStackTop uint32 // loaded into the TSS on every switch
	SavedSP        uint32 // latest snapshot, valid while not Running

	QuantumUsed  int64 // ticks consumed in the current slice
	QuantumTotal int64 // slice length for this privilege
	TotalTicks   int64 // lifetime ticks, folded in at every requeue

	Idle bool // created on demand when nothing else was ready

	list listKind
}

// InList reports whether the task is linked into the ready queue or the
// available pool.
func (t *Task) InList() bool { return t.list != listNone }
