package machine

import (
	"errors"
	"fmt"

	"github.com/emirpasic/gods/sets/treeset"

	"ringsched/internal/platform"
)

// ErrOutOfPages is returned when no contiguous run of free pages is large
// enough.
var ErrOutOfPages = errors.New("out of physical pages")

// PageFrames allocates page runs out of RAM. Free frames are kept ordered so
// allocations prefer the lowest addresses.
type PageFrames struct {
	base  uint32
	total int
	free  *treeset.Set // frame numbers
}

// NewPageFrames manages every whole page in [base, base+size).
func NewPageFrames(base, size uint32) *PageFrames {
	p := &PageFrames{
		base:  base,
		total: int(size / platform.PageSize),
		free:  treeset.NewWithIntComparator(),
	}
	for i := 0; i < p.total; i++ {
		p.free.Add(i)
	}
	return p
}

// AllocatePages returns the address of count contiguous free pages.
func (p *PageFrames) AllocatePages(count int) (uint32, error) {
	if count <= 0 {
		return 0, fmt.Errorf("allocate %d pages: invalid count", count)
	}
	start, run, prev := -1, 0, -2
	it := p.free.Iterator()
	for it.Next() {
		frame := it.Value().(int)
		if frame == prev+1 {
			run++
		} else {
			start, run = frame, 1
		}
		prev = frame
		if run == count {
			for i := start; i < start+count; i++ {
				p.free.Remove(i)
			}
			return p.base + uint32(start)*platform.PageSize, nil
		}
	}
	return 0, fmt.Errorf("allocate %d pages: %w", count, ErrOutOfPages)
}

// FreePage returns one page to the pool.
func (p *PageFrames) FreePage(addr uint32) error {
	if addr < p.base || (addr-p.base)%platform.PageSize != 0 {
		return fmt.Errorf("free page %#x: not a page boundary", addr)
	}
	frame := int((addr - p.base) / platform.PageSize)
	if frame >= p.total {
		return fmt.Errorf("free page %#x: outside managed memory", addr)
	}
	if p.free.Contains(frame) {
		return fmt.Errorf("free page %#x: already free", addr)
	}
	p.free.Add(frame)
	return nil
}

// FreeCount returns the number of free pages.
func (p *PageFrames) FreeCount() int { return p.free.Size() }

// Total returns the number of managed pages.
func (p *PageFrames) Total() int { return p.total }
