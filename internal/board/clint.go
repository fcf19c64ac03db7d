package board

import "fmt"

// Register offsets within the CLINT's mapped range, matching the
// de-facto SiFive/QEMU "virt" layout: msip at 0x0000, mtimecmp at 0x4000,
// mtime at 0xbff8. Guest firmware in this ecosystem already expects these
// offsets, so there is no reason to invent new ones.
const (
	clintMSIPOffset      = 0x0000
	clintMTimeCmpOffset  = 0x4000
	clintMTimeOffset     = 0xbff8
	clintMTimeCmpDefault = ^uint64(0)
)

// CLINT is the core-local interruptor: a free-running mtime counter, a
// per-hart mtimecmp compare register, and a per-hart msip software-
// interrupt register. It is [memmap.Steppable] (spec §4.D "CLINT advances
// mtime every step") and raises MTIP/MSIP through the sink installed by
// the board, never by holding a pointer back to the hart (Design Notes'
// cyclic-ownership resolution).
type CLINT struct {
	mtime    uint64
	mtimecmp uint64
	msip     uint32

	// sink is the back-call the board wires during construction; it is
	// how CLINT reaches the hart's mip without owning a reference to it.
	sink InterruptSink
}

// InterruptSink raises or lowers an interrupt-pending bit on the hart
// identified by index. A single-hart board always calls it with index 0,
// but the signature carries the index so the board's wiring generalizes
// without every device needing a hart pointer.
type InterruptSink func(hartIndex int, bits uint64, pending bool)

// NewCLINT creates a CLINT with mtimecmp disabled (set to its maximum, so
// it never fires until firmware programs it).
func NewCLINT(sink InterruptSink) *CLINT {
	return &CLINT{mtimecmp: clintMTimeCmpDefault, sink: sink}
}

func (c *CLINT) Load(offset uint64, size int) (uint64, error) {
	switch {
	case offset == clintMSIPOffset:
		return uint64(c.msip), nil
	case offset == clintMTimeCmpOffset:
		return c.mtimecmp, nil
	case offset == clintMTimeOffset:
		return c.mtime, nil
	default:
		return 0, fmt.Errorf("clint: bad offset %#x", offset)
	}
}

func (c *CLINT) Store(offset uint64, size int, value uint64) error {
	switch {
	case offset == clintMSIPOffset:
		c.msip = uint32(value) & 1
		c.sink(0, msipBit, c.msip != 0)
	case offset == clintMTimeCmpOffset:
		c.mtimecmp = value
	case offset == clintMTimeOffset:
		c.mtime = value
	default:
		return fmt.Errorf("clint: bad offset %#x", offset)
	}

	return nil
}

// msipBit is the mip bit CLINT's software-interrupt register drives
// (cpu.MSIP), duplicated here as a plain constant so this package does not
// need to import internal/cpu purely for one bit value.
const msipBit = 1 << 3

// mtipBit is cpu.MTIP, duplicated for the same reason.
const mtipBit = 1 << 7

// Step advances mtime by cycles and updates MTIP (spec §4.D: "CLINT
// advances mtime every step; MTIP is level-triggered off mtime >=
// mtimecmp").
func (c *CLINT) Step(cycles uint64) {
	c.mtime += cycles
	c.sink(0, mtipBit, c.mtime >= c.mtimecmp)
}
