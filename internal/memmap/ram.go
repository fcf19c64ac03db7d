package memmap

import (
	"encoding/binary"
	"fmt"
)

// RAM is a contiguous byte-addressable physical memory device. It is the
// concrete [DirectMemory] the MMU/TLB may map directly, bypassing the map's
// dispatch on every access (spec §4.A "physical memory device").
type RAM struct {
	bytes []byte
}

// NewRAM allocates size bytes of zeroed physical memory.
func NewRAM(size uint64) *RAM {
	return &RAM{bytes: make([]byte, size)}
}

// Bytes exposes the backing slice for direct TLB mapping.
func (r *RAM) Bytes() []byte { return r.bytes }

func (r *RAM) Load(offset uint64, size int) (uint64, error) {
	if offset+uint64(size) > uint64(len(r.bytes)) {
		return 0, fmt.Errorf("%w: ram: offset %#x size %d", ErrNotFound, offset, size)
	}

	b := r.bytes[offset : offset+uint64(size)]

	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 8:
		return binary.LittleEndian.Uint64(b), nil
	default:
		return 0, fmt.Errorf("%w: size %d", ErrBadSize, size)
	}
}

func (r *RAM) Store(offset uint64, size int, value uint64) error {
	if offset+uint64(size) > uint64(len(r.bytes)) {
		return fmt.Errorf("%w: ram: offset %#x size %d", ErrNotFound, offset, size)
	}

	b := r.bytes[offset : offset+uint64(size)]

	switch size {
	case 1:
		b[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(b, value)
	default:
		return fmt.Errorf("%w: size %d", ErrBadSize, size)
	}

	return nil
}
