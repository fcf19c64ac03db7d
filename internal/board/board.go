// Package board wires a CPU core, the software MMU, a decoded instruction
// set, and the platform devices (SYSCON, CLINT, PLIC, a 9P virtio
// transport, an optional UART) into a runnable system, the way the
// teacher's internal/vm/vm.go assembles an LC3 out of its CPU and
// devices.
package board

import (
	"fmt"
	"strings"

	"rvemu/internal/cpu"
	"rvemu/internal/decode"
	"rvemu/internal/isa"
	"rvemu/internal/memmap"
	"rvemu/internal/mmu"
	"rvemu/internal/rvlog"
)

// Default physical memory map, matching the RISC-V "virt"-style layout
// guest firmware in this ecosystem already expects.
const (
	FlashBase = 0x0000_1000
	FlashSize = 0x0000_1000

	SysconBase = 0x0100_0000
	SysconSize = 0x1000

	CLINTBase = 0x0200_0000
	CLINTSize = 0x0001_0000

	PLICBase = 0x0c00_0000
	PLICSize = 0x0040_0000

	RAMBase = 0x8000_0000
)

// Board is the composition root: the memory map, a single hart, its MMU
// and compiled decoder, and the slice of steppable platform devices.
// Devices that need to signal the hart (CLINT, PLIC) are wired through
// an [InterruptSink] closure at construction, rather than holding a
// pointer to the Hart or the Board — the Design Notes' resolution for
// what would otherwise be a memory-map/CPU ownership cycle.
type Board struct {
	Bus  *memmap.Map
	Hart *cpu.Hart
	MMU  *mmu.MMU
	Dec  *decode.Dispatcher

	Flash  *memmap.RAM
	RAM    *memmap.RAM
	Syscon *SYSCON
	CLINT  *CLINT
	PLIC   *PLIC

	steppables []memmap.Steppable
	pending    []pendingDevice
	ramSize    uint64
	xlen       int

	log *rvlog.Logger
}

// OptionFn configures a Board during construction, following the
// teacher's vm.OptionFn functional-options idiom.
type OptionFn func(*Board)

// WithRAMSize overrides the default physical RAM size (128 MiB).
func WithRAMSize(size uint64) OptionFn {
	return func(b *Board) { b.ramSize = size }
}

// WithXLEN overrides the default hart word size (64).
func WithXLEN(xlen int) OptionFn {
	return func(b *Board) { b.xlen = xlen }
}

// WithDevice maps an additional device into the bus at [start, end] and,
// if it implements [memmap.Steppable], adds it to the step list. It is
// how internal/console's UART and internal/p9's virtio transport attach
// to a board without this package importing either.
func WithDevice(start, end uint64, dev memmap.Device, name string) OptionFn {
	return func(b *Board) {
		b.pending = append(b.pending, pendingDevice{start, end, dev, name})
	}
}

type pendingDevice struct {
	start, end uint64
	dev        memmap.Device
	name       string
}

// New builds a board: the memory map, flash/RAM, SYSCON/CLINT/PLIC,
// the default RV64IMA/Zicsr schema compiled into a dispatcher, the MMU,
// and the hart itself, then applies opts (which may map more devices).
func New(opts ...OptionFn) *Board {
	b := &Board{
		log:     rvlog.DefaultLogger(),
		ramSize: 128 << 20,
		xlen:    64,
	}

	for _, fn := range opts {
		fn(b)
	}

	b.Bus = memmap.New()
	b.Flash = memmap.NewRAM(FlashSize)
	b.RAM = memmap.NewRAM(b.ramSize)
	b.Syscon = NewSYSCON()

	sink := func(hartIndex int, bits uint64, pending bool) {
		if b.Hart == nil {
			return
		}

		if pending {
			b.Hart.RaiseInterrupt(bits)
		} else {
			b.Hart.LowerInterrupt(bits)
		}
	}

	b.CLINT = NewCLINT(sink)
	b.PLIC = NewPLIC(0, sink)

	mustAdd := func(start, end uint64, dev memmap.Device, name string) {
		if err := b.Bus.Add(start, end, dev, name); err != nil {
			b.log.Error("board: failed to map device", "name", name, "err", err)
			panic(err)
		}
	}

	mustAdd(FlashBase, FlashBase+FlashSize-1, b.Flash, "flash")
	mustAdd(SysconBase, SysconBase+SysconSize-1, b.Syscon, "syscon")
	mustAdd(CLINTBase, CLINTBase+CLINTSize-1, b.CLINT, "clint")
	mustAdd(PLICBase, PLICBase+PLICSize-1, b.PLIC, "plic")
	mustAdd(RAMBase, RAMBase+b.ramSize-1, b.RAM, "ram")

	for _, pd := range b.pending {
		mustAdd(pd.start, pd.end, pd.dev, pd.name)

		if s, ok := pd.dev.(memmap.Steppable); ok {
			b.steppables = append(b.steppables, s)
		}
	}

	set, err := isa.Parse(strings.NewReader(defaultSchema))
	if err != nil {
		b.log.Error("board: malformed default schema", "err", err)
		panic(err)
	}

	trees, err := decode.Build(set)
	if err != nil {
		b.log.Error("board: decoder-tree build failed", "err", err)
		panic(err)
	}

	b.Dec, err = decode.Compile(trees)
	if err != nil {
		b.log.Error("board: decoder compile failed", "err", err)
		panic(err)
	}

	b.MMU = mmu.New(b.Bus)
	b.Hart = cpu.New(b.Bus, b.MMU, b.Dec, cpu.WithXLEN(b.xlen), cpu.WithResetPC(FlashBase))

	b.steppables = append(b.steppables, b.CLINT)

	return b
}

// Reset restores the hart to its reset state. A hard reset also zeroes
// RAM; a soft reset (hard=false) leaves memory contents intact, matching
// a SYSCON-requested warm reboot.
func (b *Board) Reset(hard bool) {
	b.Hart = cpu.New(b.Bus, b.MMU, b.Dec, cpu.WithXLEN(b.xlen), cpu.WithResetPC(FlashBase))
	b.MMU.FlushAll()

	if hard {
		for i := range b.RAM.Bytes() {
			b.RAM.Bytes()[i] = 0
		}
	}
}

// Step advances the hart by up to cycles instruction retirements and
// every steppable device by cycles, then reports whether the guest
// requested poweroff via SYSCON.
func (b *Board) Step(cycles uint64) (halted bool, err error) {
	for _, s := range b.steppables {
		s.Step(cycles)
	}

	if _, err := b.Hart.Step(cycles); err != nil {
		return false, fmt.Errorf("board: step: %w", err)
	}

	return b.Syscon.Halted(), nil
}

// Boot installs the four-instruction, two-word firmware stub at
// FlashBase and points the hart's PC at it (spec §6); no other hart
// state is reset. a1 holds dtbAddr on
// entry to the guest's boot code; a0 is left 0 (single-hart hartid). The
// DTB bytes themselves are the caller's responsibility to place at
// dtbAddr — only the pointer contract is emulated here.
func (b *Board) Boot(entry, dtbAddr uint64) error {
	words := []uint32{
		0x00000297, // auipc t0, 0
		0x0102b303, // ld    t1, 16(t0)
		0x0182b583, // ld    a1,  24(t0)
		0x00030067, // jalr  x0, t1, 0
	}

	for i, w := range words {
		if err := b.Bus.Store(FlashBase+uint64(i*4), 4, uint64(w)); err != nil {
			return fmt.Errorf("board: boot: %w", err)
		}
	}

	if err := b.Bus.Store(FlashBase+16, 8, entry); err != nil {
		return fmt.Errorf("board: boot: %w", err)
	}

	if err := b.Bus.Store(FlashBase+24, 8, dtbAddr); err != nil {
		return fmt.Errorf("board: boot: %w", err)
	}

	b.Hart.PC = FlashBase

	return nil
}
