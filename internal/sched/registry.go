// internal/sched/registry.go

package sched

import "fmt"

// Registry is the fixed task table together with the available pool, the
// ready queue and the current task. It is the only owner of task storage.
// Not safe for concurrent use: callers run with interrupts disabled.
type Registry struct {
	tasks     []Task
	available *taskList
	ready     *taskList
	current   *Task
}

// NewRegistry preallocates capacity slots, all Available and queued in slot
// order.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 || capacity > MaxCapacity {
		panic(fmt.Sprintf("sched: registry capacity %d out of range", capacity))
	}
	r := &Registry{
		tasks:     make([]Task, capacity),
		available: newTaskList(listAvailable),
		ready:     newTaskList(listReady),
	}
	for i := range r.tasks {
		r.tasks[i].ID = TaskID(i)
		r.available.pushBack(&r.tasks[i])
	}
	return r
}

// Cap returns the table size.
func (r *Registry) Cap() int { return len(r.tasks) }

// HasAvailable reports whether AllocateSlot would succeed.
func (r *Registry) HasAvailable() bool { return !r.available.empty() }

// AllocateSlot pops a free slot and stamps its parent from the current task.
func (r *Registry) AllocateSlot() (*Task, error) {
	i := r.available.popFront()
	if i < 0 {
		return nil, ErrNoSlotsAvailable
	}
	t := &r.tasks[i]
	t.list = listNone
	t.ParentID = NoParent
	if r.current != nil {
		t.ParentID = r.current.ID
	}
	return t, nil
}

// ReclaimSlot zeroes every field but the id and returns the slot to the
// available pool.
func (r *Registry) ReclaimSlot(t *Task) error {
	if err := r.owns(t); err != nil {
		return err
	}
	if t.list != listNone {
		return fmt.Errorf("%w: reclaiming task %d still in the %s list",
			ErrInvariantViolation, t.ID, t.list)
	}
	*t = Task{ID: t.ID}
	r.available.pushBack(t)
	return nil
}

// EnqueueReady appends t to the ready queue.
func (r *Registry) EnqueueReady(t *Task) error {
	if err := r.owns(t); err != nil {
		return err
	}
	if t.list != listNone {
		return fmt.Errorf("%w: task %d already in the %s list",
			ErrInvariantViolation, t.ID, t.list)
	}
	r.ready.pushBack(t)
	return nil
}

// DequeueNextReady pops the head of the ready queue, or returns nil.
func (r *Registry) DequeueNextReady() *Task {
	i := r.ready.popFront()
	if i < 0 {
		return nil
	}
	t := &r.tasks[i]
	t.list = listNone
	return t
}

// RemoveReady unlinks t from the ready queue.
func (r *Registry) RemoveReady(t *Task) bool {
	if t.list != listReady {
		return false
	}
	return r.ready.remove(t)
}

// Current returns the running task, or nil.
func (r *Registry) Current() *Task { return r.current }

func (r *Registry) setCurrent(t *Task) { r.current = t }

// Lookup returns the slot with the given id.
func (r *Registry) Lookup(id TaskID) (*Task, bool) {
	if int(id) >= len(r.tasks) {
		return nil, false
	}
	return &r.tasks[id], true
}

// Tasks returns a copy of the table.
func (r *Registry) Tasks() []Task {
	out := make([]Task, len(r.tasks))
	copy(out, r.tasks)
	return out
}

// ReadyIDs lists the ready queue from head to tail.
func (r *Registry) ReadyIDs() []TaskID { return r.ready.ids() }

// AvailableLen is the number of free slots.
func (r *Registry) AvailableLen() int { return r.available.len() }

// Check verifies the table against the list invariants: at most one task
// running, Ready exactly when queued, Available exactly when pooled.
func (r *Registry) Check() error {
	inReady := make(map[TaskID]bool, r.ready.len())
	for _, id := range r.ready.ids() {
		if inReady[id] {
			return fmt.Errorf("%w: task %d queued twice", ErrInvariantViolation, id)
		}
		inReady[id] = true
	}
	inAvail := make(map[TaskID]bool, r.available.len())
	for _, id := range r.available.ids() {
		if inAvail[id] || inReady[id] {
			return fmt.Errorf("%w: task %d in two lists", ErrInvariantViolation, id)
		}
		inAvail[id] = true
	}

	running := 0
	for i := range r.tasks {
		t := &r.tasks[i]
		switch t.State {
		case Ready:
			if !inReady[t.ID] || t.list != listReady {
				return fmt.Errorf("%w: ready task %d not queued", ErrInvariantViolation, t.ID)
			}
		case Available:
			if !inAvail[t.ID] || t.list != listAvailable {
				return fmt.Errorf("%w: available task %d not pooled", ErrInvariantViolation, t.ID)
			}
		default:
			if inReady[t.ID] || inAvail[t.ID] || t.list != listNone {
				return fmt.Errorf("%w: %s task %d is linked", ErrInvariantViolation, t.State, t.ID)
			}
			if t.State == Running {
				running++
				if r.current != t {
					return fmt.Errorf("%w: running task %d is not current", ErrInvariantViolation, t.ID)
				}
			}
		}
	}
	if running > 1 {
		return fmt.Errorf("%w: %d tasks running", ErrInvariantViolation, running)
	}
	return nil
}

func (r *Registry) owns(t *Task) error {
	if t == nil || int(t.ID) >= len(r.tasks) || &r.tasks[t.ID] != t {
		return fmt.Errorf("%w: task is not a slot of this table", ErrInvariantViolation)
	}
	return nil
}
