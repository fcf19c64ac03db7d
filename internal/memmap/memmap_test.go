package memmap_test

import (
	"errors"
	"testing"

	"rvemu/internal/memmap"
)

func TestAddOverlap(t *testing.T) {
	t.Parallel()

	m := memmap.New()
	a := memmap.NewRAM(0x1000)
	b := memmap.NewRAM(0x1000)

	if err := m.Add(0x1000, 0x1fff, a, "a"); err != nil {
		t.Fatalf("Add(a) = %v", err)
	}

	if err := m.Add(0x1800, 0x27ff, b, "b"); !errors.Is(err, memmap.ErrOverlap) {
		t.Fatalf("Add(b) = %v, want ErrOverlap", err)
	}

	if err := m.Add(0x2000, 0x2fff, a, "a2"); !errors.Is(err, memmap.ErrDuplicateDevice) {
		t.Fatalf("re-Add(a) = %v, want ErrDuplicateDevice", err)
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	m := memmap.New()
	dev1 := memmap.NewRAM(0x100)
	dev2 := memmap.NewRAM(0x100)

	_ = m.Add(0x2000, 0x20ff, dev1, "dev1")
	_ = m.Add(0x1000, 0x10ff, dev2, "dev2")

	r, err := m.Lookup(0x1050)
	if err != nil {
		t.Fatalf("Lookup = %v", err)
	}

	if r.Device != dev2 {
		t.Errorf("Lookup(0x1050) found wrong device")
	}

	if _, err := m.Lookup(0x1500); !errors.Is(err, memmap.ErrNotFound) {
		t.Errorf("Lookup(0x1500) = %v, want ErrNotFound", err)
	}
}

func TestLoadStoreRoundtrip(t *testing.T) {
	t.Parallel()

	m := memmap.New()
	ram := memmap.NewRAM(0x1000)

	if err := m.Add(0x8000_0000, 0x8000_0fff, ram, "ram"); err != nil {
		t.Fatalf("Add = %v", err)
	}

	if err := m.Store(0x8000_0010, 4, 0xdeadbeef); err != nil {
		t.Fatalf("Store = %v", err)
	}

	got, err := m.Load(0x8000_0010, 4)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}

	if got != 0xdeadbeef {
		t.Errorf("Load = %#x, want 0xdeadbeef", got)
	}

	if !m.IsDirty(ram, 0x10) {
		t.Errorf("IsDirty = false, want true after Store")
	}
}

func TestAllocatorDisjoint(t *testing.T) {
	t.Parallel()

	m := memmap.New()
	alloc := memmap.NewAllocator(m)

	devA := memmap.NewRAM(0x37)
	devB := memmap.NewRAM(0x100)

	addrA, err := alloc.AllocateDevice(0x37, devA, "a")
	if err != nil {
		t.Fatalf("AllocateDevice(a) = %v", err)
	}

	if addrA%8 != 0 {
		t.Errorf("addrA = %#x, not 8-byte aligned", addrA)
	}

	addrB, err := alloc.AllocateDevice(0x100, devB, "b")
	if err != nil {
		t.Fatalf("AllocateDevice(b) = %v", err)
	}

	rA, _ := m.Lookup(addrA)
	rB, _ := m.Lookup(addrB)

	if rA.Overlaps(rB) {
		t.Errorf("allocated ranges overlap: %s, %s", rA, rB)
	}
}

func TestAllocatorZeroSize(t *testing.T) {
	t.Parallel()

	m := memmap.New()
	alloc := memmap.NewAllocator(m)

	if _, err := alloc.AllocateDevice(0, memmap.NewRAM(1), "zero"); !errors.Is(err, memmap.ErrBadSize) {
		t.Fatalf("AllocateDevice(0) = %v, want ErrBadSize", err)
	}
}

func TestAllocatorExhausted(t *testing.T) {
	t.Parallel()

	m := memmap.New()
	alloc := memmap.NewAllocator(m)

	hugeSize := memmap.DeviceWindowEnd - memmap.DeviceWindowStart + 2

	if _, err := alloc.AllocateDevice(hugeSize, memmap.NewRAM(1), "huge"); !errors.Is(err, memmap.ErrExhausted) {
		t.Fatalf("AllocateDevice(huge) = %v, want ErrExhausted", err)
	}
}
