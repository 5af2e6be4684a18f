// internal/job/programs.go

// Package job provides the workload programs the emulated machine runs.
// Progress is kept in EAX so it is saved and restored with the task.
package job

import "ringsched/internal/machine"

// Spin returns from its entry function after n ticks of work.
func Spin(n uint32) machine.Program { return spin{n: n} }

type spin struct{ n uint32 }

func (p spin) Step(r *machine.Registers) machine.Outcome {
	r.EAX++
	if r.EAX >= p.n {
		return machine.Return
	}
	return machine.Continue
}

// ExitAfter issues the exit call after n ticks of work.
func ExitAfter(n uint32) machine.Program { return exitAfter{n: n} }

type exitAfter struct{ n uint32 }

func (p exitAfter) Step(r *machine.Registers) machine.Outcome {
	r.EAX++
	if r.EAX >= p.n {
		return machine.Exit
	}
	return machine.Continue
}

// Forever never finishes. EAX counts the ticks it has been given.
func Forever() machine.Program { return forever{} }

type forever struct{}

func (forever) Step(r *machine.Registers) machine.Outcome {
	r.EAX++
	return machine.Continue
}

// Idle halts until the next interrupt, every time.
func Idle() machine.Program { return idle{} }

type idle struct{}

func (idle) Step(*machine.Registers) machine.Outcome { return machine.Wait }

// ExitStub is the code a task lands in when its entry function returns: it
// raises the exit call straight away.
func ExitStub() machine.Program { return exitStub{} }

type exitStub struct{}

func (exitStub) Step(*machine.Registers) machine.Outcome { return machine.Exit }

// ByName resolves the program kinds accepted in workload files.
func ByName(kind string, ticks uint32) (machine.Program, bool) {
	switch kind {
	case "spin":
		return Spin(ticks), true
	case "exit":
		return ExitAfter(ticks), true
	case "forever":
		return Forever(), true
	case "idle":
		return Idle(), true
	default:
		return nil, false
	}
}
