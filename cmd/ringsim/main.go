package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/mattn/go-tty"

	"ringsched/internal/config"
	"ringsched/internal/job"
	"ringsched/internal/machine"
	"ringsched/internal/sched"
	"ringsched/internal/trace"
)

func main() {
	cfgPath := flag.String("config", "config.yml", "configuration file")
	maxTicks := flag.Int("ticks", 0, "stop after n ticks (0 = until interrupted)")
	csvPath := flag.String("csv", "", "write events as CSV to this file")
	dbPath := flag.String("sqlite", "", "write events to this SQLite database")
	step := flag.Bool("step", false, "single step: any key delivers one tick, q quits")
	verbose := flag.Bool("verbose", false, "print every tick and debug logs")
	flag.Parse()

	if err := run(*cfgPath, *maxTicks, *csvPath, *dbPath, *step, *verbose); err != nil {
		fmt.Fprintln(os.Stderr, "ringsim:", err)
		os.Exit(1)
	}
}

func run(cfgPath string, maxTicks int, csvPath, dbPath string, step, verbose bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if csvPath != "" {
		cfg.Trace.CSV = csvPath
	}
	if dbPath != "" {
		cfg.Trace.SQLite = dbPath
	}
	cfg.Trace.Verbose = cfg.Trace.Verbose || verbose

	level := slog.LevelInfo
	if cfg.Trace.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// Boot the machine and map the kernel stubs
	m := machine.New(cfg.Machine, log.With("component", "machine"))
	m.Load(cfg.Scheduler.SinkAddress, job.ExitStub())
	m.Load(cfg.Scheduler.IdleEntry, job.Idle())

	// Trace sinks
	recs := []trace.Recorder{&trace.Console{W: os.Stdout, Verbose: cfg.Trace.Verbose}}
	var db *trace.SQLite
	if cfg.Trace.CSV != "" {
		c, err := trace.NewCSV(cfg.Trace.CSV)
		if err != nil {
			return err
		}
		recs = append(recs, c)
	}
	if cfg.Trace.SQLite != "" {
		db, err = trace.NewSQLite(cfg.Trace.SQLite)
		if err != nil {
			return err
		}
		recs = append(recs, db)
	}

	runID := trace.NewRunID()
	events := make(chan sched.StatusEvent, 256)
	pumped := make(chan error, 1)
	go func() { pumped <- trace.Pump(runID, events, recs...) }()

	s, err := sched.New(cfg.Scheduler, sched.Platform{
		Memory:      m.RAM,
		Pages:       m.Pages,
		Descriptors: m.GDT,
		TSS:         m.TSS,
		CPU:         m,
	},
		sched.WithLogger(log.With("component", "sched")),
		sched.WithObserver(sched.ObserverFunc(func(ev sched.StatusEvent) { events <- ev })),
	)
	if err != nil {
		close(events)
		<-pumped
		return err
	}
	s.InstallHandlers(m)

	// Create the workload
	for _, spec := range cfg.Tasks {
		m.Load(spec.Entry, spec.MachineProgram())
		var cerr error
		m.Exclusive(func() { _, cerr = s.Create(spec.Entry, spec.Privilege()) })
		if cerr != nil {
			log.Warn("task not created", "name", spec.Name, "err", cerr)
		}
	}

	fmt.Printf("ringsim run %s: %d tasks, kernel quantum %d, user quantum %d\n",
		runID, s.TaskCount(), cfg.Scheduler.KernelQuantum, cfg.Scheduler.UserQuantum)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	clock := machine.NewTickClock(64)
	if step {
		go func() {
			if err := stepTicks(clock, stop); err != nil {
				log.Error("step mode", "err", err)
				stop()
			}
		}()
	} else {
		clock.Start(time.Duration(cfg.Machine.TickMS) * time.Millisecond)
	}

	m.Exclusive(s.Start)
	runErr := m.Run(ctx, limit(ctx, clock.Ch, maxTicks))
	clock.Stop()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// No handler runs once Run has returned, so nothing emits any more
	close(events)
	if err := <-pumped; err != nil {
		log.Error("trace", "err", err)
	}

	summarize(m, s, clock, cfg.Trace.Verbose)
	if db != nil {
		printTotals(runID, cfg.Trace.SQLite)
	}
	return runErr
}

// limit forwards at most n ticks, then closes. n <= 0 forwards forever.
func limit(ctx context.Context, in <-chan struct{}, n int) <-chan struct{} {
	if n <= 0 {
		return in
	}
	out := make(chan struct{})
	go func() {
		defer close(out)
		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return
			case <-in:
			}
			select {
			case <-ctx.Done():
				return
			case out <- struct{}{}:
			}
		}
	}()
	return out
}

func stepTicks(clock *machine.TickClock, quit func()) error {
	t, err := tty.Open()
	if err != nil {
		return err
	}
	defer t.Close()

	fmt.Println("step mode: any key = one tick, q = quit")
	for {
		r, err := t.ReadRune()
		if err != nil {
			return err
		}
		if r == 'q' {
			quit()
			return nil
		}
		clock.Pulse()
	}
}

func summarize(m *machine.Machine, s *sched.Scheduler, clock *machine.TickClock, verbose bool) {
	fmt.Printf("\n%d ticks executed, %d delivered, %d missed\n", m.Ticks(), clock.Count(), clock.Missed())
	if halted, reason := m.Halted(); halted {
		fmt.Printf("machine halted: %s\n", reason)
	}

	m.Exclusive(func() {
		fmt.Println(tableHeader)
		for _, t := range s.Registry().Tasks() {
			if t.State == sched.Available {
				continue
			}
			fmt.Println(taskRow(t))
		}
		if err := s.Registry().Check(); err != nil {
			fmt.Printf("registry check failed: %v\n", err)
		}
		if !verbose {
			return
		}

		// saved snapshots of everything waiting for the CPU
		for _, id := range s.Registry().ReadyIDs() {
			t, ok := s.Registry().Lookup(id)
			if !ok {
				continue
			}
			ctx, err := s.DescribeContext(t)
			if err != nil {
				ctx = err.Error()
			}
			fmt.Printf("task %04d: %s\n", id, ctx)
		}
		for _, line := range m.GDT.Dump() {
			fmt.Println("gdt", line)
		}
	})
}

var tableHeader = fmt.Sprintf("%-6s %-9s %-6s %-10s %-8s %s", "TASK", "STATE", "RING", "ENTRY", "QUANTUM", "RAN")

func taskRow(t sched.Task) string {
	return fmt.Sprintf("%-6d %-9s %-6s 0x%08x %-8d %d",
		t.ID, t.State, t.Privilege, t.Entry, t.QuantumUsed, t.TotalTicks+t.QuantumUsed)
}

func printTotals(runID, path string) {
	db, err := trace.NewSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "summary:", err)
		return
	}
	defer db.Close()

	totals, err := db.Summary(runID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "summary:", err)
		return
	}
	for id, ran := range totals {
		fmt.Printf("finished task %04d ran %d ticks\n", id, ran)
	}
}
