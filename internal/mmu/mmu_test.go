package mmu_test

import (
	"errors"
	"testing"

	"rvemu/internal/memmap"
	"rvemu/internal/mmu"
)

type fakeHart struct {
	priv int
	satp uint64
	sum  bool
	mxr  bool
	xlen int
}

func (h *fakeHart) EffectivePrivilege(mmu.AccessKind) int { return h.priv }
func (h *fakeHart) Satp() uint64                          { return h.satp }
func (h *fakeHart) SUM() bool                              { return h.sum }
func (h *fakeHart) MXR() bool                              { return h.mxr }
func (h *fakeHart) XLEN() int                              { return h.xlen }

func TestTranslateBareMode(t *testing.T) {
	t.Parallel()

	bus := memmap.New()
	ram := memmap.NewRAM(0x1000)

	if err := bus.Add(0x1000, 0x1fff, ram, "ram"); err != nil {
		t.Fatalf("Add = %v", err)
	}

	m := mmu.New(bus)
	hart := &fakeHart{priv: 3, xlen: 64} // machine mode: identity map

	pa, dev, _, err := m.Translate(hart, 0x1040, mmu.Load)
	if err != nil {
		t.Fatalf("Translate = %v", err)
	}

	if pa != 0x1040 || dev != ram {
		t.Errorf("Translate = (%#x, %v), want (0x1040, ram)", pa, dev)
	}
}

func TestTranslateSv39PageFaultOnUnmappedRoot(t *testing.T) {
	t.Parallel()

	bus := memmap.New()
	ram := memmap.NewRAM(0x2000)

	if err := bus.Add(0x80000000, 0x80001fff, ram, "ram"); err != nil {
		t.Fatalf("Add = %v", err)
	}

	m := mmu.New(bus)

	hart := &fakeHart{
		priv: 0, // user mode, translation active
		satp: uint64(mmu.SatpSv39) << 60, // PPN=0, root table at physical 0, unmapped
		xlen: 64,
	}

	_, _, _, err := m.Translate(hart, 0x1000, mmu.Load)
	if !errors.Is(err, mmu.ErrPageFault) && !errors.Is(err, mmu.ErrAccessFault) {
		t.Fatalf("Translate = %v, want page/access fault", err)
	}
}

func TestTranslateCachesInTLB(t *testing.T) {
	t.Parallel()

	bus := memmap.New()
	ram := memmap.NewRAM(0x1000)

	if err := bus.Add(0x1000, 0x1fff, ram, "ram"); err != nil {
		t.Fatalf("Add = %v", err)
	}

	m := mmu.New(bus)
	hart := &fakeHart{priv: 3, xlen: 64}

	for i := 0; i < 2; i++ {
		pa, _, _, err := m.Translate(hart, 0x1008, mmu.Load)
		if err != nil {
			t.Fatalf("Translate[%d] = %v", i, err)
		}

		if pa != 0x1008 {
			t.Errorf("Translate[%d] = %#x, want 0x1008", i, pa)
		}
	}

	m.FlushAll()

	if _, _, _, err := m.Translate(hart, 0x1008, mmu.Load); err != nil {
		t.Fatalf("Translate after flush = %v", err)
	}
}
