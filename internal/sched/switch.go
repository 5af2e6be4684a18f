// internal/sched/switch.go

package sched

import (
	"ringsched/internal/frame"
	"ringsched/internal/platform"
)

// Flat 4 GiB segments; protection comes from the DPL alone.
const (
	segmentBase  uint32 = 0
	segmentLimit uint32 = 0xFFFFFFFF
)

// Resume switches the CPU to t. t must be Ready and unlinked from the ready
// queue. On real hardware this never returns; callers must not touch
// scheduler state after it.
func (s *Scheduler) Resume(t *Task) {
	if t == nil || t.State != Ready {
		if t != nil {
			s.log.Error("resume of a task that is not ready", "task_id", t.ID, "state", t.State.String())
		}
		return
	}
	if t.InList() {
		s.violation(t, "resume of a task still linked in the "+t.list.String()+" list")
		return
	}

	t.State = Running

	gdt := s.p.Descriptors
	if err := gdt.Configure(s.codeHandle, segmentBase, segmentLimit, platform.CodeSegment, t.Privilege); err != nil {
		s.violation(t, "configure task code descriptor: "+err.Error())
		return
	}
	if err := gdt.Configure(s.dataHandle, segmentBase, segmentLimit, platform.DataSegment, t.Privilege); err != nil {
		s.violation(t, "configure task data descriptor: "+err.Error())
		return
	}

	s.p.TSS.SetKernelStack(gdt.KernelDataSelector(), t.KernelStackTop)

	if err := frame.EnableInterrupts(s.p.Memory, t.SavedSP); err != nil {
		s.violation(t, err.Error())
		return
	}

	// a task resumed within its own quantum is not a new dispatch
	prev := s.reg.Current()
	s.reg.setCurrent(t)
	if prev != t {
		s.emit(StatusDispatch, t)
	}
	s.p.CPU.RestoreAndJump(t.SavedSP)
}

// DescribeContext dumps the saved snapshot of t.
func (s *Scheduler) DescribeContext(t *Task) (string, error) {
	f, err := frame.Load(s.p.Memory, t.SavedSP)
	if err != nil {
		return "", err
	}
	return f.String(), nil
}
