package p9

import (
	"testing"

	"rvemu/internal/p9/osfs"
)

func TestDeviceStepThrottlesOnByteBudget(t *testing.T) {
	t.Parallel()

	dev := NewDevice("rootfs", osfs.New(t.TempDir()), nil)

	for i := 0; i < 5; i++ {
		dev.Submit(buildVersion(uint16(i), defaultMsize, "9P2000.L"))
	}

	// A tiny cycle count yields a budget of 1 byte — the minimum floor —
	// so at most one small message can complete per Step call.
	dev.Step(1)

	replies := dev.Replies()
	if len(replies) == 0 {
		t.Fatalf("Step(1) produced no replies, want at least one (budget floors at 1)")
	}

	if len(replies) >= 5 {
		t.Fatalf("Step(1) drained all 5 requests, want throttling by the byte budget")
	}
}

func TestDeviceStepDrainsQueueGivenEnoughBudget(t *testing.T) {
	t.Parallel()

	dev := NewDevice("rootfs", osfs.New(t.TempDir()), nil)

	for i := 0; i < 3; i++ {
		dev.Submit(buildVersion(uint16(i), defaultMsize, "9P2000.L"))
	}

	dev.Step(100000)

	replies := dev.Replies()
	if len(replies) != 3 {
		t.Fatalf("Step with a large budget produced %d replies, want 3", len(replies))
	}
}

func TestDeviceConfigSpaceExposesTag(t *testing.T) {
	t.Parallel()

	dev := NewDevice("rootfs", osfs.New(t.TempDir()), nil)

	n, err := dev.Load(0x00, 2)
	if err != nil {
		t.Fatalf("Load(tag_len) = %v", err)
	}

	if n != uint64(len("rootfs")) {
		t.Errorf("tag_len = %d, want %d", n, len("rootfs"))
	}
}
