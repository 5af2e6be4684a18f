package job

import (
	"testing"

	"ringsched/internal/machine"
)

func steps(p machine.Program, n int) (machine.Registers, []machine.Outcome) {
	var r machine.Registers
	var out []machine.Outcome
	for i := 0; i < n; i++ {
		out = append(out, p.Step(&r))
	}
	return r, out
}

func TestProgramsFinishAfterTheirTicks(t *testing.T) {
	tests := []struct {
		name string
		p    machine.Program
		last machine.Outcome
	}{
		{"spin", Spin(3), machine.Return},
		{"exit", ExitAfter(3), machine.Exit},
		{"forever", Forever(), machine.Continue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, out := steps(tt.p, 3)
			if out[0] != machine.Continue || out[1] != machine.Continue || out[2] != tt.last {
				t.Errorf("outcomes = %v", out)
			}
			if r.EAX != 3 {
				t.Errorf("eax = %d", r.EAX)
			}
		})
	}
}

func TestStubs(t *testing.T) {
	if _, out := steps(Idle(), 2); out[1] != machine.Wait {
		t.Errorf("idle = %v", out)
	}
	if _, out := steps(ExitStub(), 1); out[0] != machine.Exit {
		t.Errorf("exit stub = %v", out)
	}
}

func TestByName(t *testing.T) {
	for _, kind := range []string{"spin", "exit", "forever", "idle"} {
		if p, ok := ByName(kind, 1); !ok || p == nil {
			t.Errorf("%s not resolved", kind)
		}
	}
	if _, ok := ByName("sleep", 1); ok {
		t.Error("unknown kind resolved")
	}
}
