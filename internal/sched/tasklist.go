package sched

import (
	"github.com/emirpasic/gods/lists/doublylinkedlist"
)

// taskList is a FIFO of slot indices. The table owns the tasks; the list only
// records order.
type taskList struct {
	kind listKind
	l    *doublylinkedlist.List
}

func newTaskList(kind listKind) *taskList {
	return &taskList{kind: kind, l: doublylinkedlist.New()}
}

func (q *taskList) pushBack(t *Task) {
	q.l.Append(int(t.ID))
	t.list = q.kind
}

// popFront returns the slot index at the head, or -1 when empty.
func (q *taskList) popFront() int {
	v, ok := q.l.Get(0)
	if !ok {
		return -1
	}
	q.l.Remove(0)
	return v.(int)
}

// remove unlinks t wherever it sits. Only used off the hot path.
func (q *taskList) remove(t *Task) bool {
	i := q.l.IndexOf(int(t.ID))
	if i < 0 {
		return false
	}
	q.l.Remove(i)
	t.list = listNone
	return true
}

func (q *taskList) empty() bool { return q.l.Empty() }

func (q *taskList) len() int { return q.l.Size() }

func (q *taskList) ids() []TaskID {
	vals := q.l.Values()
	ids := make([]TaskID, 0, len(vals))
	for _, v := range vals {
		ids = append(ids, TaskID(v.(int)))
	}
	return ids
}
