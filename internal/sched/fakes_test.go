package sched

import (
	"errors"
	"fmt"
	"testing"

	"ringsched/internal/platform"
)

type fakeMemory map[uint32]uint32

func (m fakeMemory) LoadWord(addr uint32) (uint32, error) {
	if addr%4 != 0 {
		return 0, fmt.Errorf("unaligned load %#x", addr)
	}
	return m[addr], nil
}

func (m fakeMemory) StoreWord(addr, v uint32) error {
	if addr%4 != 0 {
		return fmt.Errorf("unaligned store %#x", addr)
	}
	m[addr] = v
	return nil
}

var errFakeOOM = errors.New("fake: out of pages")

// fakePages hands out fresh, never reused page runs.
type fakePages struct {
	next      uint32
	left      int // pages that can still be handed out
	freed     map[uint32]bool
	allocated int
}

func newFakePages(pages int) *fakePages {
	return &fakePages{next: 0x00100000, left: pages, freed: map[uint32]bool{}}
}

func (p *fakePages) AllocatePages(count int) (uint32, error) {
	if count > p.left {
		return 0, errFakeOOM
	}
	p.left -= count
	p.allocated += count
	addr := p.next
	p.next += uint32(count) * platform.PageSize
	return addr, nil
}

func (p *fakePages) FreePage(addr uint32) error {
	if p.freed[addr] {
		return fmt.Errorf("double free %#x", addr)
	}
	p.freed[addr] = true
	return nil
}

type descriptorCall struct {
	handle uint16
	kind   platform.DescriptorKind
	pl     platform.Privilege
}

type fakeGDT struct {
	next     uint16
	limit    int // handles left before AllocateHandle fails, 0 = unlimited
	handed   int
	released []uint16
	calls    []descriptorCall
}

const fakeKernelData uint16 = 0x10

func (g *fakeGDT) AllocateHandle() (uint16, error) {
	if g.limit > 0 && g.handed == g.limit {
		return 0, errors.New("gdt full")
	}
	g.handed++
	if g.next == 0 {
		g.next = 0x18
	}
	h := g.next
	g.next += 8
	return h, nil
}

func (g *fakeGDT) ReleaseHandle(handle uint16) error {
	g.released = append(g.released, handle)
	g.handed--
	return nil
}

func (g *fakeGDT) Configure(handle uint16, base, limit uint32, kind platform.DescriptorKind, pl platform.Privilege) error {
	g.calls = append(g.calls, descriptorCall{handle: handle, kind: kind, pl: pl})
	return nil
}

func (g *fakeGDT) KernelDataSelector() uint16 { return fakeKernelData }

type fakeTSS struct {
	ss0  uint16
	esp0 uint32
}

func (t *fakeTSS) SetKernelStack(ss0 uint16, esp0 uint32) { t.ss0, t.esp0 = ss0, esp0 }

// fakeCPU records the transfers instead of performing them.
type fakeCPU struct {
	jumps []uint32
	halts []string
}

func (c *fakeCPU) RestoreAndJump(sp uint32) { c.jumps = append(c.jumps, sp) }
func (c *fakeCPU) Halt(reason string)       { c.halts = append(c.halts, reason) }

type fakeInterrupts map[uint8]platform.Handler

func (f fakeInterrupts) InstallHandler(v uint8, h platform.Handler) { f[v] = h }

type harness struct {
	s     *Scheduler
	mem   fakeMemory
	pages *fakePages
	gdt   *fakeGDT
	tss   *fakeTSS
	cpu   *fakeCPU
	intr  fakeInterrupts
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Capacity = 8
	return cfg
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		mem:   fakeMemory{},
		pages: newFakePages(1 << 10),
		gdt:   &fakeGDT{},
		tss:   &fakeTSS{},
		cpu:   &fakeCPU{},
		intr:  fakeInterrupts{},
	}
	s, err := New(cfg, Platform{
		Memory:      h.mem,
		Pages:       h.pages,
		Descriptors: h.gdt,
		TSS:         h.tss,
		CPU:         h.cpu,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.InstallHandlers(h.intr)
	h.s = s
	return h
}

func (h *harness) create(t *testing.T, entry uint32, pl platform.Privilege) *Task {
	t.Helper()
	task, err := h.s.Create(entry, pl)
	if err != nil {
		t.Fatalf("Create(%#x, %s): %v", entry, pl, err)
	}
	return task
}

// tick delivers a timer interrupt on the snapshot of the running task.
func (h *harness) tick(t *testing.T) {
	t.Helper()
	cur := h.s.Current()
	if cur == nil {
		t.Fatal("tick with no current task")
	}
	h.intr[platform.TimerVector](cur.SavedSP)
	h.check(t)
}

func (h *harness) check(t *testing.T) {
	t.Helper()
	if err := h.s.Registry().Check(); err != nil {
		t.Fatalf("registry invariants: %v", err)
	}
	if len(h.cpu.halts) > 0 {
		t.Fatalf("unexpected halt: %v", h.cpu.halts)
	}
}

func (h *harness) lastJump() uint32 {
	if len(h.cpu.jumps) == 0 {
		return 0
	}
	return h.cpu.jumps[len(h.cpu.jumps)-1]
}
