// internal/sched/scheduler.go

package sched

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ringsched/internal/platform"
)

// Platform bundles the kernel collaborators the scheduler drives.
type Platform struct {
	Memory      platform.Memory
	Pages       platform.PageAllocator
	Descriptors platform.DescriptorTable
	TSS         platform.TaskState
	CPU         platform.CPU
}

// Scheduler implements the round-robin multitasking core.
//
// Every method runs on the single interrupt-serviced control path, so the
// scheduler holds no locks. Hosts that call Create from outside an
// interrupt handler must mask interrupts around the call.
type Scheduler struct {
	cfg Config
	p   Platform
	log *slog.Logger
	obs Observer

	reg     *Registry
	enabled bool  // false until Start
	live    int   // tasks not Available
	ticks   int64 // timer ticks seen while enabled

	// handles of the two shared task descriptors, reconfigured per switch
	codeHandle uint16
	dataHandle uint16
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLogger routes diagnostics to l.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithObserver streams scheduler events to o.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.obs = o }
}

// New builds the task table and reserves the two task descriptors.
func New(cfg Config, p Platform, opts ...Option) (*Scheduler, error) {
	cfg = cfg.Normalize()
	s := &Scheduler{
		cfg: cfg,
		p:   p,
		log: slog.New(slog.DiscardHandler),
		obs: nopObserver{},
		reg: NewRegistry(cfg.Capacity),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.codeHandle, err = p.Descriptors.AllocateHandle(); err != nil {
		return nil, fmt.Errorf("allocate task code descriptor: %w", err)
	}
	if s.dataHandle, err = p.Descriptors.AllocateHandle(); err != nil {
		if rerr := p.Descriptors.ReleaseHandle(s.codeHandle); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return nil, fmt.Errorf("allocate task data descriptor: %w", err)
	}
	return s, nil
}

// InstallHandlers hooks the timer tick and the exit service call.
func (s *Scheduler) InstallHandlers(intr platform.Interrupts) {
	intr.InstallHandler(platform.TimerVector, s.HandleTimer)
	intr.InstallHandler(platform.SyscallVector, s.HandleExit)
}

// Start enables scheduling and dispatches the first task. When it resumes
// a task it does not come back through the normal path.
func (s *Scheduler) Start() {
	s.enabled = true
	s.Dispatch()
}

// Enabled reports whether Start has run.
func (s *Scheduler) Enabled() bool { return s.enabled }

// HandleTimer is the timer interrupt entry. sp is the snapshot of the
// interrupted task.
func (s *Scheduler) HandleTimer(sp uint32) {
	if !s.enabled {
		return
	}
	s.ticks++
	if cur := s.reg.Current(); cur != nil {
		cur.SavedSP = sp
		cur.QuantumUsed++
		s.emit(StatusTick, cur)
	}
	s.Dispatch()
}

// HandleExit services the exit call: the current task is finished and
// another one is dispatched.
func (s *Scheduler) HandleExit(sp uint32) {
	if !s.enabled {
		return
	}
	cur := s.reg.Current()
	if cur != nil {
		cur.SavedSP = sp
		if cur.Idle {
			s.violation(cur, "idle task requested exit")
			return
		}
		cur.State = Finished
	}
	s.Dispatch()
}

// Current returns the running task, or nil between dispatches.
func (s *Scheduler) Current() *Task { return s.reg.Current() }

// Registry exposes the task table for inspection.
func (s *Scheduler) Registry() *Registry { return s.reg }

// TaskCount is the number of live tasks.
func (s *Scheduler) TaskCount() int { return s.live }

// Ticks is the number of timer ticks handled since Start.
func (s *Scheduler) Ticks() int64 { return s.ticks }

// Config returns the normalized configuration.
func (s *Scheduler) Config() Config { return s.cfg }

func (s *Scheduler) emit(kind StatusKind, t *Task) {
	s.obs.Observe(StatusEvent{
		Time:        time.Now(),
		Tick:        s.ticks,
		Kind:        kind,
		TaskID:      t.ID,
		ParentID:    t.ParentID,
		Privilege:   t.Privilege,
		QuantumUsed: t.QuantumUsed,
		RanTicks:    t.TotalTicks,
	})
}

// violation logs a scheduler bug and halts the machine. The returned error
// wraps ErrInvariantViolation for callers that can still report it.
func (s *Scheduler) violation(t *Task, msg string) error {
	attrs := []any{}
	if t != nil {
		attrs = append(attrs, "task_id", t.ID, "state", t.State.String())
	}
	s.log.Error(msg, attrs...)
	s.p.CPU.Halt(msg)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrInvariantViolation, msg)
	}
	return fmt.Errorf("%w: task %d (%s): %s", ErrInvariantViolation, t.ID, t.State, msg)
}
