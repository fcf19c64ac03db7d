package p9

import (
	"container/list"
	"fmt"

	"rvemu/internal/rvlog"
)

// MountTagFeature is the virtio-9p feature bit announcing the device's
// config-space mount tag (spec §4.F/§6: "a MOUNT_TAG feature bit").
const MountTagFeature = 1 << 0

// Config-space register offsets. Real virtio-9p exposes a tag_len/tag
// pair; everything else (feature negotiation, queue geometry) is
// handled by the generic virtio-mmio transport layer this device sits
// behind, not modeled here since no guest driver in this emulator walks
// a real descriptor ring (see DESIGN.md).
const (
	configTagLenOffset = 0x00
	configTagOffset    = 0x02
)

// Device is the virtio-9p transport: one request queue carrying 9P2000.L
// messages to a Server, stepped with a per-cycle byte budget (spec §4.F:
// "steppable; each step has a byte budget ≈ max(1, cycles*32/1000); a
// pending queue notification drains descriptor chains until budget
// exhausted or queue empties").
//
// The virtio descriptor ring itself is not modeled: this emulator has no
// guest driver that walks one, so Submit stands in for "a descriptor
// chain became available" and Replies drains completed responses in
// order, preserving the budget-throttling and message-dispatch semantics
// the spec actually tests against (see DESIGN.md).
type Device struct {
	tag    string
	server *Server

	pending *list.List // of []byte, queued raw requests awaiting budget
	done    [][]byte   // completed replies awaiting collection

	log *rvlog.Logger
}

// NewDevice creates a virtio-9p device exporting fs under tag.
func NewDevice(tag string, fs FS, log *rvlog.Logger) *Device {
	if log == nil {
		log = rvlog.DefaultLogger()
	}

	return &Device{
		tag:     tag,
		server:  NewServer(fs, log),
		pending: list.New(),
		log:     log,
	}
}

// Submit queues a raw 9P2000.L request for processing on a future Step.
func (d *Device) Submit(raw []byte) {
	cp := append([]byte(nil), raw...)
	d.pending.PushBack(cp)
}

// Replies drains and returns every reply completed since the last call.
func (d *Device) Replies() [][]byte {
	out := d.done
	d.done = nil

	return out
}

// Step drains queued requests until the cycle-derived byte budget is
// exhausted or the queue empties (spec §4.F's throttling formula).
func (d *Device) Step(cycles uint64) {
	budget := cycles * 32 / 1000
	if budget < 1 {
		budget = 1
	}

	spent := uint64(0)

	for spent < budget {
		front := d.pending.Front()
		if front == nil {
			return
		}

		raw := front.Value.([]byte)
		d.pending.Remove(front)

		reply := d.server.Handle(raw)
		if reply != nil {
			d.done = append(d.done, reply)
		}

		spent += uint64(len(raw) + len(reply))
	}
}

// Load implements memmap.Device over the device's config space: the
// mount tag length and bytes (spec §6's "config space {tag_len, tag}").
func (d *Device) Load(offset uint64, size int) (uint64, error) {
	switch {
	case offset == configTagLenOffset && size == 2:
		return uint64(len(d.tag)), nil
	case offset >= configTagOffset && offset < configTagOffset+uint64(len(d.tag)):
		i := offset - configTagOffset

		var v uint64

		for b := 0; b < size && int(i)+b < len(d.tag); b++ {
			v |= uint64(d.tag[int(i)+b]) << (8 * b)
		}

		return v, nil
	default:
		return 0, nil
	}
}

// Store implements memmap.Device; the device's config space is
// read-only to the guest (feature negotiation happens at the
// virtio-mmio transport layer, out of this device's scope).
func (d *Device) Store(offset uint64, size int, value uint64) error {
	return fmt.Errorf("p9: config space is read-only (offset %#x)", offset)
}

// Features reports the device's virtio feature bits.
func (d *Device) Features() uint64 { return MountTagFeature }

// Tag returns the device's mount tag.
func (d *Device) Tag() string { return d.tag }
