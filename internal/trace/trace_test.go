package trace

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"ringsched/internal/platform"
	"ringsched/internal/sched"
)

func sampleEvents() []sched.StatusEvent {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return []sched.StatusEvent{
		{Time: now, Kind: sched.StatusEnqueue, TaskID: 1, ParentID: sched.NoParent, Privilege: platform.Ring3},
		{Time: now, Tick: 1, Kind: sched.StatusTick, TaskID: 1, QuantumUsed: 1},
		{Time: now, Tick: 5, Kind: sched.StatusFinish, TaskID: 1, ParentID: sched.NoParent, Privilege: platform.Ring3, RanTicks: 5},
	}
}

func TestPumpFansOut(t *testing.T) {
	var out bytes.Buffer
	path := filepath.Join(t.TempDir(), "trace.csv")
	c, err := NewCSV(path)
	if err != nil {
		t.Fatalf("csv: %v", err)
	}

	ch := make(chan sched.StatusEvent, 3)
	for _, ev := range sampleEvents() {
		ch <- ev
	}
	close(ch)

	runID := NewRunID()
	if err := Pump(runID, ch, &Console{W: &out}, c); err != nil {
		t.Fatalf("pump: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("console lines = %d:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[0], "Enqueued") || !strings.Contains(lines[0], "parent none") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Finish") || !strings.Contains(lines[1], "Total ran: 0005") {
		t.Errorf("line 1 = %q", lines[1])
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("csv rows = %d", len(rows))
	}
	if rows[0][0] != "run_id" || rows[3][0] != runID || rows[3][3] != "Finish" || rows[3][8] != "5" {
		t.Errorf("csv = %v", rows)
	}
}

func TestConsoleVerbosePrintsTicks(t *testing.T) {
	var out bytes.Buffer
	c := &Console{W: &out, Verbose: true}
	for _, ev := range sampleEvents() {
		if err := c.Record("run", ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if n := strings.Count(out.String(), "\n"); n != 3 {
		t.Errorf("lines = %d", n)
	}
}

func TestSQLiteSummary(t *testing.T) {
	db, err := NewSQLite(filepath.Join(t.TempDir(), "trace.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	runID := NewRunID()
	for _, ev := range sampleEvents() {
		if err := db.Record(runID, ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := db.Record(NewRunID(), sampleEvents()[2]); err != nil {
		t.Fatalf("record other run: %v", err)
	}

	sum, err := db.Summary(runID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(sum) != 1 || sum[1] != 5 {
		t.Errorf("summary = %v", sum)
	}
}

func TestRunIDIsUUID(t *testing.T) {
	if _, err := uuid.Parse(NewRunID()); err != nil {
		t.Errorf("run id: %v", err)
	}
}
