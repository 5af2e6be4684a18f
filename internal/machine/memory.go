package machine

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrBusFault is returned for accesses outside RAM or not word aligned.
var ErrBusFault = errors.New("bus fault")

// RAM is flat little-endian physical memory starting at Base.
type RAM struct {
	Base uint32
	data []byte
}

// NewRAM maps size bytes at base.
func NewRAM(base uint32, size int) *RAM {
	return &RAM{Base: base, data: make([]byte, size)}
}

// Size returns the mapped size in bytes.
func (r *RAM) Size() uint32 { return uint32(len(r.data)) }

// End returns the first address past RAM.
func (r *RAM) End() uint32 { return r.Base + r.Size() }

func (r *RAM) offset(addr uint32) (uint32, error) {
	if addr%4 != 0 || addr < r.Base || addr-r.Base > r.Size()-4 {
		return 0, fmt.Errorf("%w: word at %#x", ErrBusFault, addr)
	}
	return addr - r.Base, nil
}

func (r *RAM) LoadWord(addr uint32) (uint32, error) {
	off, err := r.offset(addr)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(r.data[off:]), nil
}

func (r *RAM) StoreWord(addr, v uint32) error {
	off, err := r.offset(addr)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(r.data[off:], v)
	return nil
}
