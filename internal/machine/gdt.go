package machine

import (
	"errors"
	"fmt"

	"github.com/emirpasic/gods/maps/treemap"

	"ringsched/internal/platform"
)

// ErrGDTFull is returned when every descriptor slot is taken.
var ErrGDTFull = errors.New("descriptor table full")

// Selectors installed at boot.
const (
	KernelCodeSelector uint16 = 0x08
	KernelDataSelector uint16 = 0x10
)

// Descriptor is one GDT entry.
type Descriptor struct {
	Base    uint32
	Limit   uint32
	Kind    platform.DescriptorKind
	DPL     platform.Privilege
	Present bool
}

func (d Descriptor) String() string {
	if !d.Present {
		return "reserved"
	}
	return fmt.Sprintf("%s base=%#x limit=%#x dpl=%d", d.Kind, d.Base, d.Limit, d.DPL)
}

// GDT is a fixed capacity descriptor table keyed by selector.
type GDT struct {
	capacity int
	entries  *treemap.Map // selector (int) -> Descriptor
}

// NewGDT creates a table with capacity entries; entry 0 is the null
// descriptor and the flat kernel code and data segments follow it.
func NewGDT(capacity int) *GDT {
	if capacity < 3 {
		capacity = 3
	}
	g := &GDT{capacity: capacity, entries: treemap.NewWithIntComparator()}
	g.entries.Put(0, Descriptor{})
	g.entries.Put(int(KernelCodeSelector), Descriptor{Limit: 0xFFFFFFFF, Kind: platform.CodeSegment, Present: true})
	g.entries.Put(int(KernelDataSelector), Descriptor{Limit: 0xFFFFFFFF, Kind: platform.DataSegment, Present: true})
	return g
}

// AllocateHandle reserves the lowest free slot and returns its selector.
func (g *GDT) AllocateHandle() (uint16, error) {
	for i := 1; i < g.capacity; i++ {
		sel := i << 3
		if _, used := g.entries.Get(sel); !used {
			g.entries.Put(sel, Descriptor{})
			return uint16(sel), nil
		}
	}
	return 0, ErrGDTFull
}

// ReleaseHandle returns a slot reserved by AllocateHandle.
func (g *GDT) ReleaseHandle(handle uint16) error {
	sel := int(handle &^ 0x7)
	if sel == 0 || sel == int(KernelCodeSelector) || sel == int(KernelDataSelector) {
		return fmt.Errorf("release descriptor %#x: reserved by the kernel", handle)
	}
	if _, ok := g.entries.Get(sel); !ok {
		return fmt.Errorf("release descriptor %#x: not allocated", handle)
	}
	g.entries.Remove(sel)
	return nil
}

// Configure rewrites the descriptor behind handle. The RPL bits of handle
// are ignored.
func (g *GDT) Configure(handle uint16, base, limit uint32, kind platform.DescriptorKind, pl platform.Privilege) error {
	sel := int(handle &^ 0x7)
	if sel == 0 {
		return fmt.Errorf("configure descriptor %#x: null selector", handle)
	}
	if _, ok := g.entries.Get(sel); !ok {
		return fmt.Errorf("configure descriptor %#x: not allocated", handle)
	}
	g.entries.Put(sel, Descriptor{Base: base, Limit: limit, Kind: kind, DPL: pl, Present: true})
	return nil
}

// KernelDataSelector is the stack segment used on privilege transitions.
func (g *GDT) KernelDataSelector() uint16 { return KernelDataSelector }

// Lookup returns the descriptor a selector refers to.
func (g *GDT) Lookup(selector uint16) (Descriptor, bool) {
	v, ok := g.entries.Get(int(selector &^ 0x7))
	if !ok {
		return Descriptor{}, false
	}
	return v.(Descriptor), true
}

// Dump lists the table in selector order.
func (g *GDT) Dump() []string {
	var out []string
	it := g.entries.Iterator()
	for it.Next() {
		out = append(out, fmt.Sprintf("%#04x %s", it.Key().(int), it.Value().(Descriptor)))
	}
	return out
}
