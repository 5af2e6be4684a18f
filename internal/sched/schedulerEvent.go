// internal/sched/schedulerEvent.go

package sched

import (
	"time"

	"ringsched/internal/platform"
)

// StatusKind represents the type of scheduler event
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusEnqueue
	StatusDispatch
	StatusPreempt
	StatusFinish
	StatusTick
)

// StatusEvent is emitted every tick or on key actions
type StatusEvent struct {
	Time        time.Time
	Tick        int64 // timer ticks seen since Start
	Kind        StatusKind
	TaskID      TaskID
	ParentID    TaskID
	Privilege   platform.Privilege
	QuantumUsed int64
	RanTicks    int64 // lifetime ticks of the task
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusIdle:
		return "Idle"
	case StatusEnqueue:
		return "Enqueued"
	case StatusDispatch:
		return "Dispatch"
	case StatusPreempt:
		return "Preempt"
	case StatusFinish:
		return "Finish"
	case StatusTick:
		return "Tick"
	default:
		return "Unknown"
	}
}

// Observer receives scheduler events. It runs on the interrupt path, with
// the machine stopped until it returns.
type Observer interface {
	Observe(StatusEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(StatusEvent)

func (f ObserverFunc) Observe(ev StatusEvent) { f(ev) }

type nopObserver struct{}

func (nopObserver) Observe(StatusEvent) {}
