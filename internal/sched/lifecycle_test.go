package sched

import (
	"errors"
	"strings"
	"testing"

	"ringsched/internal/frame"
	"ringsched/internal/platform"
)

func TestCreateTrustedTaskFrame(t *testing.T) {
	h := newHarness(t, testConfig())
	task := h.create(t, 0xC0DE, platform.Ring0)
	h.check(t)

	const top = 0x00102000
	if task.KernelStackTop != top {
		t.Fatalf("kernel stack top = %#x, want %#x", task.KernelStackTop, top)
	}
	if got := h.mem[top-4]; got != DefaultSinkAddress {
		t.Errorf("sentinel = %#x, want %#x", got, DefaultSinkAddress)
	}
	if want := uint32(top - 4 - 17*4); task.SavedSP != want {
		t.Errorf("saved sp = %#x, want %#x", task.SavedSP, want)
	}

	f, err := frame.Load(h.mem, task.SavedSP)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if f.CrossesPrivilege() {
		t.Errorf("ring 0 task frame crosses privilege")
	}
	if f.EIP != 0xC0DE || f.CS != 0x18 || f.DS != 0x20 {
		t.Errorf("eip/cs/ds = %#x/%#x/%#x", f.EIP, f.CS, f.DS)
	}
	if f.EFlags != platform.EFlagsIF {
		t.Errorf("eflags = %#x", f.EFlags)
	}
	if f.EAX|f.EBX|f.ECX|f.EDX|f.ESI|f.EDI|f.EBP|f.Vector|f.ErrorCode != 0 {
		t.Errorf("registers not zeroed: %v", f)
	}

	if task.State != Ready || task.QuantumTotal != 50 || task.ParentID != NoParent {
		t.Errorf("task = %+v", *task)
	}
	if ids := h.s.Registry().ReadyIDs(); len(ids) != 1 || ids[0] != task.ID {
		t.Errorf("ready queue = %v", ids)
	}
	if h.s.TaskCount() != 1 {
		t.Errorf("task count = %d", h.s.TaskCount())
	}
}

func TestCreateUntrustedTaskFrame(t *testing.T) {
	h := newHarness(t, testConfig())
	task := h.create(t, 0x00400000, platform.Ring3)
	h.check(t)

	const top = 0x00102000
	const userSentinel = top - 0x1000 - 4
	if got := h.mem[userSentinel]; got != DefaultSinkAddress {
		t.Errorf("sentinel = %#x, want %#x", got, DefaultSinkAddress)
	}
	if want := uint32(top - 19*4); task.SavedSP != want {
		t.Errorf("saved sp = %#x, want %#x", task.SavedSP, want)
	}

	f, err := frame.Load(h.mem, task.SavedSP)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !f.CrossesPrivilege() {
		t.Fatal("ring 3 frame must carry the task stack")
	}
	if f.CS != 0x1B || f.DS != 0x23 || f.UserSS != 0x23 {
		t.Errorf("cs/ds/ss = %#x/%#x/%#x", f.CS, f.DS, f.UserSS)
	}
	if f.UserESP != userSentinel {
		t.Errorf("user esp = %#x, want %#x", f.UserESP, userSentinel)
	}
	if task.QuantumTotal != 20 {
		t.Errorf("quantum = %d", task.QuantumTotal)
	}
}

func TestCreateRejectsBadPrivilege(t *testing.T) {
	h := newHarness(t, testConfig())
	if _, err := h.s.Create(0x1000, platform.Privilege(7)); err == nil {
		t.Fatal("expected error")
	}
	if h.s.Registry().AvailableLen() != 8 {
		t.Error("slot consumed by a rejected create")
	}
}

func TestCapacityAndSlotReuse(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 4
	h := newHarness(t, cfg)

	var tasks []*Task
	for i := 0; i < 4; i++ {
		tasks = append(tasks, h.create(t, 0x1000+uint32(i), platform.Ring3))
	}
	for _, task := range tasks {
		if task.State != Ready {
			t.Errorf("task %d state = %s", task.ID, task.State)
		}
	}

	if _, err := h.s.Create(0x2000, platform.Ring3); !errors.Is(err, ErrNoSlotsAvailable) {
		t.Fatalf("5th create err = %v, want ErrNoSlotsAvailable", err)
	}

	freed := tasks[2].ID
	if err := h.s.Finish(tasks[2]); err != nil {
		t.Fatalf("finish: %v", err)
	}
	h.check(t)

	again := h.create(t, 0x3000, platform.Ring3)
	if again.ID != freed {
		t.Errorf("reused id = %d, want %d", again.ID, freed)
	}
	if again.Entry != 0x3000 || again.State != Ready {
		t.Errorf("reused slot = %+v", *again)
	}
	h.check(t)
}

func TestCreateWithoutStackMemory(t *testing.T) {
	h := newHarness(t, testConfig())
	h.pages.left = 1

	_, err := h.s.Create(0x1000, platform.Ring0)
	if !errors.Is(err, ErrNoStackMemory) {
		t.Fatalf("err = %v, want ErrNoStackMemory", err)
	}
	if n := h.s.Registry().AvailableLen(); n != 8 {
		t.Errorf("available = %d, want 8", n)
	}
	if h.s.TaskCount() != 0 {
		t.Errorf("task count = %d", h.s.TaskCount())
	}
	h.check(t)
}

func TestCreateThenFinishRoundTrip(t *testing.T) {
	h := newHarness(t, testConfig())
	task := h.create(t, 0xC0DE, platform.Ring3)
	id := task.ID

	if err := h.s.Finish(task); err != nil {
		t.Fatalf("finish: %v", err)
	}
	h.check(t)

	if *task != (Task{ID: id, list: listAvailable}) {
		t.Errorf("slot not zeroed: %+v", *task)
	}
	if len(h.s.Registry().ReadyIDs()) != 0 {
		t.Errorf("ready queue = %v", h.s.Registry().ReadyIDs())
	}
	for _, page := range []uint32{0x00100000, 0x00101000} {
		if !h.pages.freed[page] {
			t.Errorf("page %#x not freed", page)
		}
	}
	if h.s.TaskCount() != 0 {
		t.Errorf("task count = %d", h.s.TaskCount())
	}
}

func TestFinishTwiceIsAViolation(t *testing.T) {
	h := newHarness(t, testConfig())
	task := h.create(t, 0xC0DE, platform.Ring0)
	if err := h.s.Finish(task); err != nil {
		t.Fatalf("finish: %v", err)
	}

	err := h.s.Finish(task)
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("err = %v, want ErrInvariantViolation", err)
	}
	if len(h.cpu.halts) != 1 {
		t.Errorf("halts = %v", h.cpu.halts)
	}
}

func TestFinishCurrentClearsIt(t *testing.T) {
	h := newHarness(t, testConfig())
	task := h.create(t, 0xC0DE, platform.Ring0)
	h.s.Start()

	if err := h.s.Finish(task); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if h.s.Current() != nil {
		t.Errorf("current = %+v", *h.s.Current())
	}
	h.check(t)
}

func TestFinishAccumulatesTicks(t *testing.T) {
	h := newHarness(t, testConfig())
	var finished []StatusEvent
	h.s.obs = ObserverFunc(func(ev StatusEvent) {
		if ev.Kind == StatusFinish {
			finished = append(finished, ev)
		}
	})

	task := h.create(t, 0xC0DE, platform.Ring0)
	h.s.Start()
	for i := 0; i < 7; i++ {
		h.tick(t)
	}
	h.intr[platform.SyscallVector](task.SavedSP)

	if len(finished) != 1 {
		t.Fatalf("finish events = %d", len(finished))
	}
	if finished[0].RanTicks != 7 || finished[0].TaskID != 0 {
		t.Errorf("finish event = %+v", finished[0])
	}
}

func TestDescribeContext(t *testing.T) {
	h := newHarness(t, testConfig())
	task := h.create(t, 0x00400000, platform.Ring3)

	got, err := h.s.DescribeContext(task)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	for _, want := range []string{"eip=0x400000", "cs=0x1b", "user_ss=0x23"} {
		if !strings.Contains(got, want) {
			t.Errorf("context %q lacks %q", got, want)
		}
	}
}
