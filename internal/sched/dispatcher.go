// internal/sched/dispatcher.go

package sched

import "ringsched/internal/platform"

// Dispatch picks the task to run next and resumes it. It is invoked from the
// timer tick, from the exit call, and once by Start.
//
//   - a Finished current task is reclaimed first;
//   - a Running current task keeps the CPU until its quantum is used up,
//     then goes to the back of the ready queue;
//   - with no current task the head of the ready queue runs, or an idle task
//     is created when the queue is empty.
//
// Only the head of the ready queue is ever inspected.
func (s *Scheduler) Dispatch() {
	cur := s.reg.Current()

	if cur != nil && cur.State == Finished {
		if err := s.Finish(cur); err != nil {
			return
		}
		cur = nil
	}

	if cur != nil {
		if cur.State != Running {
			s.violation(cur, "current task is neither running nor finished")
			return
		}
		if cur.QuantumUsed < cur.QuantumTotal {
			cur.State = Ready
			s.Resume(cur)
			return
		}

		// quantum exhausted: rotate
		cur.TotalTicks += cur.QuantumUsed
		cur.QuantumUsed = 0
		cur.State = Ready
		next := s.reg.DequeueNextReady()
		if next == nil {
			// alone in the system, keep running it
			s.Resume(cur)
			return
		}
		if err := s.reg.EnqueueReady(cur); err != nil {
			s.violation(cur, err.Error())
			return
		}
		s.emit(StatusPreempt, cur)
		next.QuantumUsed = 0
		s.Resume(next)
		return
	}

	next := s.reg.DequeueNextReady()
	if next == nil {
		idle, err := s.create(s.cfg.IdleEntry, platform.Ring0, true)
		if err != nil {
			s.log.Error("could not create idle task", "err", err)
			s.violation(nil, "could not create idle task")
			return
		}
		s.emit(StatusIdle, idle)
		next = s.reg.DequeueNextReady()
	}
	next.QuantumUsed = 0
	s.Resume(next)
}
