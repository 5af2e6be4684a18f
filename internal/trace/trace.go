// internal/trace/trace.go

// Package trace records the scheduler's event stream to the console, CSV
// files and SQLite databases.
package trace

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"ringsched/internal/sched"
)

// Recorder persists scheduler events.
type Recorder interface {
	Record(runID string, ev sched.StatusEvent) error
	Close() error
}

// NewRunID returns a fresh identifier for one boot of the kernel.
func NewRunID() string { return uuid.NewString() }

// Pump drains events into every recorder until the channel is closed, then
// closes the recorders.
func Pump(runID string, events <-chan sched.StatusEvent, recs ...Recorder) error {
	var errs []error
	for ev := range events {
		for _, r := range recs {
			if err := r.Record(runID, ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, r := range recs {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Console prints events in a fixed-width human format. Ticks are skipped
// unless Verbose is set.
type Console struct {
	W       io.Writer
	Verbose bool
}

func (c *Console) Record(_ string, ev sched.StatusEvent) error {
	// if we received a tick event which periodically occurs,
	// we can just return early and not log it for the brevity of output.
	if ev.Kind == sched.StatusTick && !c.Verbose {
		return nil
	}

	// an auxiliary function to center the event kind in the output
	center := func(str string, width int) string {
		spaces := int(float64(width-len(str)) / 2)
		return strings.Repeat(" ", spaces) + str + strings.Repeat(" ", width-(spaces+len(str)))
	}

	_, err := fmt.Fprintf(c.W, "%s = Tick: %07d [%s] => Task: %04d (%s, parent %s), Quantum used: %03d, Total ran: %04d ticks\n",
		ev.Time.Format("Jan 02 15:04:05.000"),
		ev.Tick,
		center(ev.Kind.String(), 16),
		ev.TaskID,
		ev.Privilege,
		parent(ev.ParentID),
		ev.QuantumUsed,
		ev.RanTicks,
	)
	return err
}

func (c *Console) Close() error { return nil }

func parent(id sched.TaskID) string {
	if id == sched.NoParent {
		return "none"
	}
	return fmt.Sprintf("%04d", id)
}
