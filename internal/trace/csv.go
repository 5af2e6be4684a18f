package trace

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"ringsched/internal/sched"
)

var csvHeader = []string{"run_id", "timestamp", "tick", "event", "task_id", "parent_id", "privilege", "quantum_used", "ran_ticks"}

// CSV writes one row per event.
type CSV struct {
	f *os.File
	w *csv.Writer
}

// NewCSV creates path and writes the header.
func NewCSV(path string) (*CSV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv trace: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	w.Flush()
	return &CSV{f: f, w: w}, nil
}

func (c *CSV) Record(runID string, ev sched.StatusEvent) error {
	rec := []string{
		runID,
		ev.Time.Format(time.RFC3339Nano),
		strconv.FormatInt(ev.Tick, 10),
		ev.Kind.String(),
		strconv.Itoa(int(ev.TaskID)),
		strconv.Itoa(int(ev.ParentID)),
		strconv.Itoa(int(ev.Privilege)),
		strconv.FormatInt(ev.QuantumUsed, 10),
		strconv.FormatInt(ev.RanTicks, 10),
	}
	if err := c.w.Write(rec); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSV) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}
