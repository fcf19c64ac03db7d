// Package cpu implements the RISC-V execution core (spec §4.D component
// F): the per-hart register file, CSR bank, privilege state machine, and
// instruction interpreter loop. RV32 is not a parallel type; it is the same
// Hart with XLEN set to 32, a strict narrowing of the RV64 state exactly as
// spec §3 describes ("RV32 state is a strict projection").
package cpu

import (
	"fmt"
	"sync/atomic"

	"rvemu/internal/decode"
	"rvemu/internal/isa"
	"rvemu/internal/memmap"
	"rvemu/internal/mmu"
	"rvemu/internal/rvlog"
)

// Hart is a single RISC-V hardware thread: registers, CSRs, privilege, and
// the machinery needed to fetch, decode, and execute instructions against a
// memory map through an MMU.
type Hart struct {
	XLEN int // 32 or 64

	PC uint64
	X  [32]uint64

	CSR  CSRFile
	Priv Privilege

	// mip is updated from other threads via atomic OR/AND-NOT (spec §6);
	// every other CSR belongs to the single emulator thread.
	mip atomic.Uint64

	Mcycle uint64

	reservationValid bool
	reservationAddr  uint64

	WaitingForInterrupt bool

	MMU  *mmu.MMU
	Bus  *memmap.Map
	Dec  *decode.Dispatcher

	// hoisted holds the field values the decoder pre-extracted for the
	// instruction currently executing (spec §4.C field hoisting); arg()
	// consults it before falling back to a fresh extraction from word. Set
	// fresh by step1 before each execute call.
	hoisted map[string]int64

	log *rvlog.Logger
}

// OptionFn configures a Hart during construction, following the teacher's
// functional-options idiom (internal/vm/cpu.go's OptionFn).
type OptionFn func(*Hart)

// WithXLEN overrides the default (64-bit) word size.
func WithXLEN(xlen int) OptionFn {
	return func(h *Hart) { h.XLEN = xlen }
}

// WithResetPC sets the initial program counter.
func WithResetPC(pc uint64) OptionFn {
	return func(h *Hart) { h.PC = pc }
}

// New creates a hart wired to the given bus, MMU, and compiled decoder.
func New(bus *memmap.Map, mmu *mmu.MMU, dec *decode.Dispatcher, opts ...OptionFn) *Hart {
	h := &Hart{
		XLEN: 64,
		PC:   0x1000,
		Priv: Machine,
		Bus:  bus,
		MMU:  mmu,
		Dec:  dec,
		log:  rvlog.DefaultLogger(),
	}

	for _, fn := range opts {
		fn(h)
	}

	return h
}

func (h *Hart) String() string {
	return fmt.Sprintf("PC:%#x X1:%#x priv:%s mcycle:%d", h.PC, h.X[1], h.Priv, h.Mcycle)
}

// RaiseInterrupt sets bits in mip from any thread (spec §6 "cross-thread
// signalling is limited to interrupt raising"). It also clears
// WaitingForInterrupt if the newly set bits are both pending and enabled,
// matching spec §6's allowance for benign races: a later Step would notice
// anyway.
func (h *Hart) RaiseInterrupt(bits uint64) {
	h.mip.Or(bits)

	if bits&h.CSR.Mie != 0 {
		h.WaitingForInterrupt = false
	}
}

// LowerInterrupt clears bits in mip from any thread.
func (h *Hart) LowerInterrupt(bits uint64) {
	h.mip.And(^bits)
}

func (h *Hart) mipValue() uint64 { return h.mip.Load() }

func (h *Hart) maskXLEN(v uint64) uint64 {
	if h.XLEN == 32 {
		return v & 0xffffffff
	}

	return v
}

func (h *Hart) writeReg(i int, v uint64) {
	if i == 0 {
		return
	}

	h.X[i] = h.maskXLEN(v)
}

// EffectivePrivilege implements mmu.HartState: MPRV overrides the
// privilege used for load/store (never fetch) with mstatus.MPP, per spec
// §4.E.
func (h *Hart) EffectivePrivilege(kind mmu.AccessKind) int {
	if kind != mmu.Fetch && h.CSR.Mstatus&statusMPRV != 0 {
		return int((h.CSR.Mstatus & statusMPP) >> statusMPPShift)
	}

	return int(h.Priv)
}

func (h *Hart) Satp() uint64 { return h.CSR.Satp }
func (h *Hart) SUM() bool    { return h.CSR.Mstatus&statusSUM != 0 }
func (h *Hart) MXR() bool    { return h.CSR.Mstatus&statusMXR != 0 }

// Step runs the hart for up to cycles instruction retirements, or until it
// enters the waiting-for-interrupt state, matching spec §4.D's step
// contract. It returns the number of instructions actually retired.
func (h *Hart) Step(cycles uint64) (uint64, error) {
	var retired uint64

	if h.WaitingForInterrupt {
		h.Mcycle += cycles

		if h.pendingEnabledInterrupt() {
			h.WaitingForInterrupt = false
		} else {
			return 0, nil
		}
	}

	for retired < cycles {
		if vec, ok := h.pendingInterrupt(); ok {
			h.deliverTrap(vec)

			return retired, nil
		}

		if err := h.step1(); err != nil {
			return retired, err
		}

		retired++
		h.Mcycle++

		if h.WaitingForInterrupt {
			return retired, nil
		}
	}

	return retired, nil
}

// step1 fetches, decodes, and executes a single instruction, delivering any
// trap raised along the way (spec §4.D: "the compiled decoder increments
// mcycle, executes handlers, advances PC").
func (h *Hart) step1() error {
	pc := h.PC

	word, fault := h.fetch(pc)
	if fault != nil {
		h.deliverException(fault)
		return nil
	}

	size := 4
	if word&0b11 != 0b11 {
		size = 2
	}

	decl, hoisted, err := h.Dec.Decode(word, size)
	if err != nil {
		h.deliverException(illegalInstruction(word))
		return nil
	}

	if decl.Kind == isa.Illegal {
		h.deliverException(illegalInstruction(word))
		return nil
	}

	nextPC := pc + uint64(size)

	h.hoisted = hoisted
	trap := h.execute(decl, word, pc, &nextPC)
	h.hoisted = nil

	if trap != nil {
		h.deliverException(trap)
		return nil
	}

	h.PC = h.maskXLEN(nextPC)

	return nil
}

func (h *Hart) fetch(pc uint64) (uint32, *Trap) {
	if pc&0b1 != 0 {
		return 0, misalignedFault(CauseInstructionMisaligned, pc)
	}

	_, dev, off, err := h.MMU.Translate(h, pc, mmu.Fetch)
	if err != nil {
		return 0, translateFault(err, pc, CauseInstructionPageFault, CauseInstructionFault)
	}

	lo, err := dev.Load(off, 2)
	if err != nil {
		return 0, accessFault(CauseInstructionFault, pc)
	}

	if lo&0b11 != 0b11 {
		return uint32(lo), nil
	}

	// The high half-word of a 32-bit instruction may lie on a different
	// page than the low half (spec §4.D point 5: "cross-page 32-bit
	// instructions are handled specially"). Re-translate pc+2 through the
	// MMU rather than reusing dev/off from the low half's translation:
	// the two pages may map to non-contiguous physical ranges, different
	// devices, or different permissions, and only a fresh translation can
	// fault correctly when the second page is unmapped or inaccessible
	// (spec §8: "succeeds iff both pages translate").
	hiPC := pc + 2

	_, hiDev, hiOff, err := h.MMU.Translate(h, hiPC, mmu.Fetch)
	if err != nil {
		return 0, translateFault(err, hiPC, CauseInstructionPageFault, CauseInstructionFault)
	}

	hi, err := hiDev.Load(hiOff, 2)
	if err != nil {
		return 0, accessFault(CauseInstructionFault, hiPC)
	}

	return uint32(lo) | uint32(hi)<<16, nil
}

func translateFault(err error, addr uint64, pageCause, accessCause int) *Trap {
	var f *mmu.Fault
	if e, ok := err.(*mmu.Fault); ok {
		f = e
	}

	if f != nil && fmtIs(f, mmu.ErrPageFault) {
		return pageFault(pageCause, addr)
	}

	return accessFault(accessCause, addr)
}

func fmtIs(f *mmu.Fault, target error) bool { return f.Is(target) }

// pendingInterrupt reports the highest-priority pending, enabled interrupt
// vector number if one should be taken before the next instruction.
func (h *Hart) pendingInterrupt() (uint64, bool) {
	pending := h.mipValue() & h.CSR.Mie
	if pending == 0 {
		return 0, false
	}

	if h.Priv == Machine && h.CSR.Mstatus&statusMIE == 0 {
		return 0, false
	}

	if h.Priv == Supervisor && h.CSR.Mstatus&statusSIE == 0 && h.CSR.Mideleg&pending == pending {
		return 0, false
	}

	// Priority order per privileged spec: MEI, MSI, MTI, SEI, SSI, STI.
	for _, bit := range []uint64{MEIP, MSIP, MTIP, SEIP, SSIP, STIP} {
		if pending&bit != 0 {
			return bit, true
		}
	}

	return 0, false
}

func (h *Hart) pendingEnabledInterrupt() bool {
	_, ok := h.pendingInterrupt()
	return ok
}

func (h *Hart) deliverTrap(bit uint64) {
	h.deliverException(interruptTrap(bit))
}
