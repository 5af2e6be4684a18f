// internal/sched/lifecycle.go

package sched

import (
	"errors"
	"fmt"

	"ringsched/internal/frame"
	"ringsched/internal/platform"
)

// Create allocates a slot and a stack for a task starting at entry and
// queues it as Ready. The returned errors wrap ErrNoSlotsAvailable or
// ErrNoStackMemory; neither leaves anything allocated behind.
func (s *Scheduler) Create(entry uint32, pl platform.Privilege) (*Task, error) {
	return s.create(entry, pl, false)
}

func (s *Scheduler) create(entry uint32, pl platform.Privilege, idle bool) (*Task, error) {
	if pl > platform.Ring3 {
		return nil, fmt.Errorf("create task: invalid privilege %d", pl)
	}
	if !s.reg.HasAvailable() {
		s.log.Warn("no free task slot", "capacity", s.reg.Cap())
		return nil, ErrNoSlotsAvailable
	}

	base, err := s.p.Pages.AllocatePages(s.cfg.StackPages)
	if err != nil {
		s.log.Warn("could not allocate task stack", "pages", s.cfg.StackPages, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrNoStackMemory, err)
	}

	t, err := s.reg.AllocateSlot()
	if err != nil {
		s.releaseStack(base)
		return nil, err
	}
	t.Privilege = pl
	t.Entry = entry
	t.Idle = idle
	t.CodeSelector = platform.Selector(s.codeHandle, pl)
	t.DataSelector = platform.Selector(s.dataHandle, pl)
	t.KernelStackTop = base + s.cfg.StackBytes()
	t.QuantumTotal = s.cfg.Quantum(pl)

	if err := s.synthesize(t); err != nil {
		s.releaseStack(base)
		*t = Task{ID: t.ID}
		_ = s.reg.ReclaimSlot(t)
		return nil, fmt.Errorf("create task: %w", err)
	}

	t.State = Ready
	if err := s.reg.EnqueueReady(t); err != nil {
		return nil, s.violation(t, err.Error())
	}
	s.live++
	s.emit(StatusEnqueue, t)
	return t, nil
}

// synthesize lays out the first snapshot of t as if it had been interrupted
// right before its entry instruction, with the sink stub as the caller its
// entry function returns to.
func (s *Scheduler) synthesize(t *Task) error {
	mem := s.p.Memory
	top := t.KernelStackTop

	if t.Privilege.Trusted() {
		sp, err := frame.PushWord(mem, top, s.cfg.SinkAddress)
		if err != nil {
			return err
		}
		f := frame.Synthesize(t.Entry, t.CodeSelector, t.DataSelector, 0)
		if t.SavedSP, err = frame.Push(mem, sp, f); err != nil {
			return err
		}
		return nil
	}

	// The lower half is the task's own stack, the upper half is where the
	// CPU lands when an interrupt arrives at the task's ring.
	userSP, err := frame.PushWord(mem, top-s.cfg.StackBytes()/2, s.cfg.SinkAddress)
	if err != nil {
		return err
	}
	f := frame.Synthesize(t.Entry, t.CodeSelector, t.DataSelector, userSP)
	if t.SavedSP, err = frame.Push(mem, top, f); err != nil {
		return err
	}
	return nil
}

// Finish reclaims t. It must be called at most once per task instance.
func (s *Scheduler) Finish(t *Task) error {
	if t == nil {
		return nil
	}
	if err := s.reg.owns(t); err != nil {
		return s.violation(nil, err.Error())
	}
	if t.State == Available {
		return s.violation(t, "finish of a slot that is already available")
	}
	if t.Idle {
		return s.violation(t, "idle task cannot finish")
	}

	t.State = Finished
	t.TotalTicks += t.QuantumUsed
	s.emit(StatusFinish, t)

	s.reg.RemoveReady(t)
	s.releaseStack(t.KernelStackTop - s.cfg.StackBytes())

	wasCurrent := s.reg.Current() == t
	if err := s.reg.ReclaimSlot(t); err != nil {
		return s.violation(t, err.Error())
	}
	if wasCurrent {
		s.reg.setCurrent(nil)
	}
	s.live--
	return nil
}

// releaseStack frees a task stack page by page.
func (s *Scheduler) releaseStack(base uint32) {
	var errs []error
	for i := 0; i < s.cfg.StackPages; i++ {
		if err := s.p.Pages.FreePage(base + uint32(i)*platform.PageSize); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Warn("could not release task stack", "base", base, "err", err)
	}
}
