// internal/frame/frame.go

// Package frame owns the layout of the execution-context snapshot that the
// interrupt entry path pushes and the resume path pops. Nothing outside this
// package knows word offsets.
package frame

import (
	"fmt"

	"ringsched/internal/platform"
)

// Version identifies the snapshot layout below.
const Version = 1

// WordSize is the width of one stack slot in bytes.
const WordSize = 4

// Word offsets from the snapshot base (lowest address, the saved SP).
// GS was pushed last, SS first.
const (
	offGS = iota
	offFS
	offES
	offDS
	offEDI
	offESI
	offEBP
	offESP // ESP as seen by pusha, ignored on restore
	offEBX
	offEDX
	offECX
	offEAX
	offVector
	offErrorCode
	offEIP
	offCS
	offEFlags
	offUserESP // present only when the interrupted code ran at ring > 0
	offUserSS

	sameRingWords  = offUserESP
	crossRingWords = offUserSS + 1
)

// Frame is one snapshot. UserESP and UserSS are meaningful only when
// CrossesPrivilege is true.
type Frame struct {
	GS, FS, ES, DS                         uint32
	EDI, ESI, EBP, ESP, EBX, EDX, ECX, EAX uint32
	Vector, ErrorCode                      uint32
	EIP, CS, EFlags                        uint32
	UserESP, UserSS                        uint32
}

// CrossesPrivilege reports whether returning through this frame drops to a
// less trusted ring, in which case the task's own SS:ESP is part of it.
func (f *Frame) CrossesPrivilege() bool {
	return platform.RPL(f.CS) != platform.Ring0
}

// Size is the number of bytes the frame occupies on the stack.
func (f *Frame) Size() uint32 {
	if f.CrossesPrivilege() {
		return crossRingWords * WordSize
	}
	return sameRingWords * WordSize
}

// Synthesize builds the snapshot of a task that has never run, laid out as if
// it had just been interrupted at its first instruction. userSP is the stack
// pointer the task resumes with when code runs below ring 0; it is ignored
// otherwise.
func Synthesize(entry uint32, code, data uint16, userSP uint32) Frame {
	f := Frame{
		GS:     uint32(data),
		FS:     uint32(data),
		ES:     uint32(data),
		DS:     uint32(data),
		EIP:    entry,
		CS:     uint32(code),
		EFlags: platform.EFlagsIF,
	}
	if f.CrossesPrivilege() {
		f.UserESP = userSP
		f.UserSS = uint32(data)
	}
	return f
}

func (f *Frame) words() []uint32 {
	w := []uint32{
		f.GS, f.FS, f.ES, f.DS,
		f.EDI, f.ESI, f.EBP, f.ESP, f.EBX, f.EDX, f.ECX, f.EAX,
		f.Vector, f.ErrorCode,
		f.EIP, f.CS, f.EFlags,
	}
	if f.CrossesPrivilege() {
		w = append(w, f.UserESP, f.UserSS)
	}
	return w
}

// PushWord pushes v below sp and returns the new stack pointer.
func PushWord(m platform.Memory, sp, v uint32) (uint32, error) {
	sp -= WordSize
	if err := m.StoreWord(sp, v); err != nil {
		return 0, fmt.Errorf("push word at %#x: %w", sp, err)
	}
	return sp, nil
}

// Push writes f so that it ends right below sp, and returns the snapshot
// address, which is the new stack pointer.
func Push(m platform.Memory, sp uint32, f Frame) (uint32, error) {
	base := sp - f.Size()
	for i, v := range f.words() {
		addr := base + uint32(i)*WordSize
		if err := m.StoreWord(addr, v); err != nil {
			return 0, fmt.Errorf("push frame at %#x: %w", base, err)
		}
	}
	return base, nil
}

// Load reads the snapshot at sp without consuming it.
func Load(m platform.Memory, sp uint32) (Frame, error) {
	var f Frame
	cs, err := m.LoadWord(sp + offCS*WordSize)
	if err != nil {
		return f, fmt.Errorf("load frame at %#x: %w", sp, err)
	}
	n := sameRingWords
	if platform.RPL(cs) != platform.Ring0 {
		n = crossRingWords
	}

	w := make([]uint32, crossRingWords)
	for i := 0; i < n; i++ {
		if w[i], err = m.LoadWord(sp + uint32(i)*WordSize); err != nil {
			return f, fmt.Errorf("load frame at %#x: %w", sp, err)
		}
	}

	f = Frame{
		GS: w[offGS], FS: w[offFS], ES: w[offES], DS: w[offDS],
		EDI: w[offEDI], ESI: w[offESI], EBP: w[offEBP], ESP: w[offESP],
		EBX: w[offEBX], EDX: w[offEDX], ECX: w[offECX], EAX: w[offEAX],
		Vector: w[offVector], ErrorCode: w[offErrorCode],
		EIP: w[offEIP], CS: w[offCS], EFlags: w[offEFlags],
		UserESP: w[offUserESP], UserSS: w[offUserSS],
	}
	return f, nil
}

// Pop loads the snapshot at sp and returns the stack pointer just above it.
func Pop(m platform.Memory, sp uint32) (Frame, uint32, error) {
	f, err := Load(m, sp)
	if err != nil {
		return f, 0, err
	}
	return f, sp + f.Size(), nil
}

// EnableInterrupts sets IF in the saved EFLAGS of the snapshot at sp.
func EnableInterrupts(m platform.Memory, sp uint32) error {
	addr := sp + offEFlags*WordSize
	v, err := m.LoadWord(addr)
	if err != nil {
		return fmt.Errorf("enable interrupts in frame at %#x: %w", sp, err)
	}
	return m.StoreWord(addr, v|platform.EFlagsIF)
}

// String dumps the frame in the order a kernel debugger would print it.
func (f Frame) String() string {
	s := fmt.Sprintf("gs=%#x fs=%#x es=%#x ds=%#x "+
		"edi=%d esi=%d ebp=%d esp=%d ebx=%d edx=%d ecx=%d eax=%d "+
		"vector=%d error=%d eip=%#x cs=%#x eflags=%#x",
		f.GS, f.FS, f.ES, f.DS,
		f.EDI, f.ESI, f.EBP, f.ESP, f.EBX, f.EDX, f.ECX, f.EAX,
		f.Vector, f.ErrorCode, f.EIP, f.CS, f.EFlags)
	if f.CrossesPrivilege() {
		s += fmt.Sprintf(" user_esp=%#x user_ss=%#x", f.UserESP, f.UserSS)
	}
	return s
}
