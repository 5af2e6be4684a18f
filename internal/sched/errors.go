package sched

import "errors"

var (
	// ErrNoSlotsAvailable means the task table is full.
	ErrNoSlotsAvailable = errors.New("no task slots available")
	// ErrNoStackMemory means the page allocator could not back a task stack.
	ErrNoStackMemory = errors.New("no memory for task stack")
	// ErrInvariantViolation flags a scheduler bug. The kernel halts on it.
	ErrInvariantViolation = errors.New("scheduler invariant violation")
)
