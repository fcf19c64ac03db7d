// Package mmu implements the software memory-management unit: page-table
// walking for Sv32/Sv39/Sv48 and the three-way translation-lookaside-buffer
// cache (spec §4.E). It has no dependency on package cpu; the hart-specific
// state it needs (privilege, satp, mstatus bits) is read through the
// HartState interface, so the CPU core can hold an *MMU without an import
// cycle.
package mmu

import (
	"errors"
	"fmt"

	"rvemu/internal/memmap"
)

// AccessKind distinguishes the three independent TLBs named in spec §3.
type AccessKind int

const (
	Fetch AccessKind = iota
	Load
	Store
)

func (k AccessKind) String() string {
	switch k {
	case Fetch:
		return "fetch"
	case Load:
		return "load"
	default:
		return "store"
	}
}

// satp.MODE field values.
const (
	SatpBare = 0
	SatpSv32 = 1
	SatpSv39 = 8
	SatpSv48 = 9
)

// HartState is the minimal view of CPU state a translation needs (spec
// §4.E "privilege to consider is the current privilege, overridden to MPP
// for load/store when MPRV=1").
type HartState interface {
	// EffectivePrivilege returns the privilege level to use for a memory
	// access of the given kind: the current privilege, unless MPRV
	// overrides it for load/store (never for fetch).
	EffectivePrivilege(kind AccessKind) int

	Satp() uint64
	SUM() bool
	MXR() bool

	// XLEN is 32 or 64; RV32 never walks Sv48 (spec §3 "no Sv48").
	XLEN() int
}

// Privilege levels as plain ints, matching cpu.Privilege's U=0, S=1, M=3
// numbering without importing package cpu.
const (
	privUser       = 0
	privSupervisor = 1
	privMachine    = 3
)

// Sentinel errors (spec §4.E: misaligned, page fault, access fault).
var (
	ErrPageFault   = errors.New("page fault")
	ErrAccessFault = errors.New("access fault")
)

// Fault carries the faulting address for errors.Is-compatible inspection,
// mirroring the teacher's MemoryError pattern (internal/vm/mem.go).
type Fault struct {
	Addr uint64
	kind error
}

func (f *Fault) Error() string  { return fmt.Sprintf("%s: %#x", f.kind, f.Addr) }
func (f *Fault) Is(err error) bool {
	if err == f.kind {
		return true
	}

	_, ok := err.(*Fault)

	return ok
}
func (f *Fault) Unwrap() error { return f.kind }

func pageFault(addr uint64) *Fault   { return &Fault{Addr: addr, kind: ErrPageFault} }
func accessFault(addr uint64) *Fault { return &Fault{Addr: addr, kind: ErrAccessFault} }

// tlbEntry is the triple named in spec §3: a tag (virtual page number plus
// the ASID/mode context it was installed under), the physical offset, and
// the device it resolved to so a hit can skip the memory-map lookup too.
type tlbEntry struct {
	valid  bool
	tag    uint64
	offset uint64 // added to VA's page offset to get PA
	dev    memmap.Device
	base   uint64 // range start of dev, to compute offset into device
	writable bool
	executable bool
	readable bool
}

const tlbSize = 256

type tlb struct {
	entries [tlbSize]tlbEntry
}

func (t *tlb) index(tag uint64) int { return int(tag % tlbSize) }

func (t *tlb) lookup(tag uint64) (tlbEntry, bool) {
	e := t.entries[t.index(tag)]
	if e.valid && e.tag == tag {
		return e, true
	}

	return tlbEntry{}, false
}

func (t *tlb) insert(e tlbEntry) {
	e.valid = true
	t.entries[t.index(e.tag)] = e
}

func (t *tlb) flush() {
	for i := range t.entries {
		t.entries[i] = tlbEntry{}
	}
}

const pageShift = 12
const pageSize = 1 << pageShift
const pageMask = pageSize - 1

// MMU translates virtual addresses and services TLB lookups on behalf of a
// single hart (spec §6: single emulator thread, so no internal locking is
// needed beyond what package memmap already provides for its own Map).
type MMU struct {
	bus *memmap.Map

	fetchTLB, loadTLB, storeTLB tlb
}

func New(bus *memmap.Map) *MMU {
	return &MMU{bus: bus}
}

// FlushAll invalidates all three TLBs. Called on privilege changes, satp
// writes, and the mstatus/mstatush bits named in spec §3's TLB-entry
// invariant.
func (m *MMU) FlushAll() {
	m.fetchTLB.flush()
	m.loadTLB.flush()
	m.storeTLB.flush()
}

func (m *MMU) tlbFor(kind AccessKind) *tlb {
	switch kind {
	case Fetch:
		return &m.fetchTLB
	case Load:
		return &m.loadTLB
	default:
		return &m.storeTLB
	}
}

// Translate resolves a virtual address to a physical one, consulting the
// TLB first and walking page tables on a miss (spec §4.E).
func (m *MMU) Translate(hart HartState, va uint64, kind AccessKind) (pa uint64, dev memmap.Device, devOffset uint64, err error) {
	priv := hart.EffectivePrivilege(kind)
	satp := hart.Satp()
	mode := (satp >> satpModeShift(hart.XLEN())) & satpModeMask(hart.XLEN())

	if priv == privMachine || mode == SatpBare {
		r, err := m.bus.Lookup(va)
		if err != nil {
			return 0, nil, 0, accessFault(va)
		}

		return va, r.Device, va - r.Start, nil
	}

	page := va &^ pageMask
	tagCtx := satp<<2 | uint64(priv)
	tag := page ^ tagCtx

	tlbTable := m.tlbFor(kind)
	if e, ok := tlbTable.lookup(tag); ok {
		if !permitted(e, kind, hart) {
			return 0, nil, 0, pageFault(va)
		}

		return e.offset + va, e.dev, e.offset + va - e.base, nil
	}

	leaf, levelSize, perms, err := walk(m.bus, satp, va, hart.XLEN())
	if err != nil {
		return 0, nil, 0, err
	}

	physPage := leaf &^ (levelSize - 1)
	offset := va & (levelSize - 1)
	physAddr := physPage | offset

	r, err := m.bus.Lookup(physAddr)
	if err != nil {
		return 0, nil, 0, accessFault(physAddr)
	}

	e := tlbEntry{
		tag:        tag,
		offset:     physPage - page,
		dev:        r.Device,
		base:       r.Start,
		readable:   perms.r,
		writable:   perms.w,
		executable: perms.x,
	}

	if !permitted(e, kind, hart) {
		return 0, nil, 0, pageFault(va)
	}

	tlbTable.insert(e)

	return physAddr, r.Device, physAddr - r.Start, nil
}

func permitted(e tlbEntry, kind AccessKind, hart HartState) bool {
	switch kind {
	case Fetch:
		return e.executable
	case Load:
		return e.readable || (hart.MXR() && e.executable)
	default:
		return e.writable
	}
}

func satpModeShift(xlen int) uint64 {
	if xlen == 32 {
		return 31
	}

	return 60
}

func satpModeMask(xlen int) uint64 {
	if xlen == 32 {
		return 0x1
	}

	return 0xf
}
