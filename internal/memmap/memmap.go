// Package memmap implements address-to-device routing over a sorted,
// non-overlapping set of physical memory ranges (spec §3/§4.A).
package memmap

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"rvemu/internal/rvlog"
)

// Device is anything that can be mapped into the physical address space.
// Devices that back a contiguous, directly-addressable byte array (physical
// RAM) additionally implement [DirectMemory] so the MMU/TLB (component G)
// may bypass per-access dispatch.
type Device interface {
	Load(offset uint64, size int) (uint64, error)
	Store(offset uint64, size int, value uint64) error
}

// Steppable devices advance their internal state by a cycle budget. Not every
// device is steppable (physical memory is not); the board only steps those
// that are.
type Steppable interface {
	Step(cycles uint64)
}

// DirectMemory is implemented by a Device whose bytes the MMU may map
// directly, skipping the map's dispatch on every access.
type DirectMemory interface {
	Device
	Bytes() []byte
}

// Range is a half-open... no: an *inclusive* [Start, End] span of the
// physical address space bound to a single Device (spec §3: "end >= start
// and size <= 2^32").
type Range struct {
	Start  uint64
	End    uint64
	Device Device
	Name   string
}

// Size returns the number of addressable bytes in the range.
func (r Range) Size() uint64 { return r.End - r.Start + 1 }

// Contains reports whether addr falls within the range.
func (r Range) Contains(addr uint64) bool { return addr >= r.Start && addr <= r.End }

// Overlaps reports whether the two ranges share any address.
func (r Range) Overlaps(o Range) bool { return r.Start <= o.End && o.Start <= r.End }

func (r Range) String() string {
	return fmt.Sprintf("[%#010x:%#010x] %s", r.Start, r.End, r.Name)
}

var (
	// ErrOverlap is returned when adding a range that intersects an existing one.
	ErrOverlap = errors.New("memmap: overlapping range")

	// ErrNotFound is returned when no range covers a requested address.
	ErrNotFound = errors.New("memmap: no device at address")

	// ErrDuplicateDevice is returned when the same Device is added twice.
	ErrDuplicateDevice = errors.New("memmap: device already mapped")

	// ErrBadSize is returned for unsupported access widths or zero-sized devices.
	ErrBadSize = errors.New("memmap: bad size")
)

// Map is an ordered set of non-overlapping ranges, indexed for O(log n)
// lookup by address. Mutation (Add/Remove) must not race with concurrent
// Load/Store traffic; callers coordinate externally (spec §5 treats the map
// as read-mostly).
type Map struct {
	mu     sync.RWMutex
	ranges []Range // kept sorted by Start
	dirty  map[Device]map[uint64]bool

	log *rvlog.Logger
}

// New creates an empty memory map.
func New() *Map {
	return &Map{
		dirty: make(map[Device]map[uint64]bool),
		log:   rvlog.DefaultLogger(),
	}
}

// Add inserts a new range in sorted order. It fails if the range overlaps an
// existing one, if the device is already mapped, or if the range is empty.
func (m *Map) Add(start, end uint64, dev Device, name string) error {
	if dev == nil {
		return fmt.Errorf("%w: nil device", ErrBadSize)
	}

	if end < start {
		return fmt.Errorf("%w: end %#x < start %#x", ErrBadSize, end, start)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cand := Range{Start: start, End: end, Device: dev, Name: name}

	for _, r := range m.ranges {
		if r.Device == dev {
			return fmt.Errorf("%w: %s", ErrDuplicateDevice, name)
		}

		if r.Overlaps(cand) {
			return fmt.Errorf("%w: %s intersects %s", ErrOverlap, cand, r)
		}
	}

	idx := sort.Search(len(m.ranges), func(i int) bool { return m.ranges[i].Start >= start })
	m.ranges = append(m.ranges, Range{})
	copy(m.ranges[idx+1:], m.ranges[idx:])
	m.ranges[idx] = cand

	m.log.Debug("memmap: added range", "range", cand)

	return nil
}

// Remove deletes the range covering dev, if any.
func (m *Map) Remove(dev Device) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.ranges {
		if r.Device == dev {
			m.ranges = append(m.ranges[:i], m.ranges[i+1:]...)
			delete(m.dirty, dev)

			return
		}
	}
}

// Lookup returns the range covering addr, via binary search on Start.
func (m *Map) Lookup(addr uint64) (Range, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.lookupLocked(addr)
}

func (m *Map) lookupLocked(addr uint64) (Range, error) {
	// Find the last range whose Start <= addr.
	idx := sort.Search(len(m.ranges), func(i int) bool { return m.ranges[i].Start > addr }) - 1
	if idx < 0 || idx >= len(m.ranges) {
		return Range{}, fmt.Errorf("%w: %#x", ErrNotFound, addr)
	}

	r := m.ranges[idx]
	if !r.Contains(addr) {
		return Range{}, fmt.Errorf("%w: %#x", ErrNotFound, addr)
	}

	return r, nil
}

// LookupIntersecting returns every range that overlaps [start, end].
func (m *Map) LookupIntersecting(start, end uint64) []Range {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cand := Range{Start: start, End: end}

	var out []Range

	for _, r := range m.ranges {
		if r.Overlaps(cand) {
			out = append(out, r)
		}
	}

	return out
}

// Ranges returns a snapshot copy of the current ranges, sorted by Start.
func (m *Map) Ranges() []Range {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Range, len(m.ranges))
	copy(out, m.ranges)

	return out
}

func sizeLog2(size int) (int, error) {
	switch size {
	case 1:
		return 0, nil
	case 2:
		return 1, nil
	case 4:
		return 2, nil
	case 8:
		return 3, nil
	default:
		return 0, fmt.Errorf("%w: size %d", ErrBadSize, size)
	}
}

// Load reads size (1, 2, 4, or 8) bytes at addr, routed to the containing
// device's Load at addr-range.Start.
func (m *Map) Load(addr uint64, size int) (uint64, error) {
	if _, err := sizeLog2(size); err != nil {
		return 0, err
	}

	r, err := m.Lookup(addr)
	if err != nil {
		return 0, err
	}

	v, err := r.Device.Load(addr-r.Start, size)
	if err != nil {
		return 0, fmt.Errorf("memmap: load %#x: %w", addr, err)
	}

	return v, nil
}

// Store writes size bytes of value at addr, routed to the containing device.
func (m *Map) Store(addr uint64, size int, value uint64) error {
	if _, err := sizeLog2(size); err != nil {
		return err
	}

	r, err := m.Lookup(addr)
	if err != nil {
		return err
	}

	if err := r.Device.Store(addr-r.Start, size, value); err != nil {
		return fmt.Errorf("memmap: store %#x: %w", addr, err)
	}

	m.SetDirty(r, addr-r.Start)

	return nil
}

// SetDirty marks offset within range r's device as written. It may be called
// concurrently with Store from any thread; dirtiness is tracked in a
// per-device, per-page set guarded by the map's own RWMutex, taken for
// writing, so a SetDirty briefly blocks routing lookups.
func (m *Map) SetDirty(r Range, offset uint64) {
	const pageSize = 1 << 12

	page := offset &^ (pageSize - 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	pages, ok := m.dirty[r.Device]
	if !ok {
		pages = make(map[uint64]bool)
		m.dirty[r.Device] = pages
	}

	pages[page] = true
}

// IsDirty reports whether the page containing offset has been written since
// the map was created or the device was last cleared with ClearDirty.
func (m *Map) IsDirty(dev Device, offset uint64) bool {
	const pageSize = 1 << 12

	page := offset &^ (pageSize - 1)

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.dirty[dev][page]
}
