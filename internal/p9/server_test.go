package p9

import (
	"bytes"
	"encoding/binary"
	"testing"

	"rvemu/internal/p9/osfs"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	return NewServer(osfs.New(t.TempDir()), nil)
}

func buildVersion(tag uint16, msize uint32, version string) []byte {
	e := &encoder{}
	e.u32(msize)
	e.str(version)

	return e.finish(Tversion, tag)
}

func TestVersionHandshakeRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	req := buildVersion(0xFFFF, 8192, "9P2000.L")

	reply := s.Handle(req)
	if reply == nil {
		t.Fatalf("Handle returned nil")
	}

	hdr, err := decode(reply)
	if err != nil {
		t.Fatalf("decode(reply) = %v", err)
	}

	if hdr.Type != Rversion {
		t.Fatalf("reply type = %d, want Rversion(%d)", hdr.Type, Rversion)
	}

	if hdr.Tag != 0xFFFF {
		t.Fatalf("reply tag = %#x, want 0xFFFF (echoed from request)", hdr.Tag)
	}

	msize, err := readU32(hdr.body)
	if err != nil {
		t.Fatalf("readU32(msize) = %v", err)
	}

	if msize != 8192 {
		t.Errorf("msize = %d, want 8192", msize)
	}

	version, err := readStr(hdr.body)
	if err != nil {
		t.Fatalf("readStr(version) = %v", err)
	}

	if version != "9P2000.L" {
		t.Errorf("version = %q, want 9P2000.L", version)
	}
}

func TestVersionClampsOversizedRequest(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	req := buildVersion(1, 1<<20, "9P2000.L")

	reply := s.Handle(req)

	hdr, err := decode(reply)
	if err != nil {
		t.Fatalf("decode(reply) = %v", err)
	}

	msize, err := readU32(hdr.body)
	if err != nil {
		t.Fatalf("readU32(msize) = %v", err)
	}

	if msize != defaultMsize {
		t.Errorf("msize = %d, want clamp to %d", msize, defaultMsize)
	}
}

func TestAttachWalkLopenReadWriteClunk(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	if reply := s.Handle(buildVersion(0, defaultMsize, "9P2000.L")); reply == nil {
		t.Fatalf("version: Handle returned nil")
	}

	// Tattach fid=1
	attach := &encoder{}
	attach.u32(1) // fid
	attach.u32(^uint32(0))
	attach.str("user")
	attach.str("")

	reply := s.Handle(attach.finish(Tattach, 1))

	hdr, err := decode(reply)
	if err != nil || hdr.Type != Rattach {
		t.Fatalf("attach reply: type=%d err=%v", hdr.Type, err)
	}

	// Tlcreate on fid=1 to create "greeting.txt"
	create := &encoder{}
	create.u32(1) // fid
	create.str("greeting.txt")
	create.u32(2) // O_RDWR
	create.u32(0o644)
	create.u32(0)

	reply = s.Handle(create.finish(Tlcreate, 2))

	hdr, err = decode(reply)
	if err != nil || hdr.Type != Rlcreate {
		t.Fatalf("lcreate reply: type=%d err=%v", hdr.Type, err)
	}

	// Twrite fid=1, offset=0, data="hello"
	write := &encoder{}
	write.u32(1)
	write.u64(0)
	write.bytesField([]byte("hello"))

	reply = s.Handle(write.finish(Twrite, 3))

	hdr, err = decode(reply)
	if err != nil || hdr.Type != Rwrite {
		t.Fatalf("write reply: type=%d err=%v", hdr.Type, err)
	}

	n, err := readU32(hdr.body)
	if err != nil || n != 5 {
		t.Fatalf("write count = %d, err=%v, want 5", n, err)
	}

	// Tclunk fid=1 so the next lopen starts from a closed file.
	clunk := &encoder{}
	clunk.u32(1)

	reply = s.Handle(clunk.finish(Tclunk, 4))

	hdr, err = decode(reply)
	if err != nil || hdr.Type != Rclunk {
		t.Fatalf("clunk reply: type=%d err=%v", hdr.Type, err)
	}

	// Re-attach fid=1, walk to "greeting.txt" on fid=2, lopen + read it back.
	reply = s.Handle(attach.finish(Tattach, 5))
	if hdr, err := decode(reply); err != nil || hdr.Type != Rattach {
		t.Fatalf("re-attach failed: %v", err)
	}

	walk := &encoder{}
	walk.u32(1) // fid
	walk.u32(2) // newfid
	walk.u16(1) // nwname
	walk.str("greeting.txt")

	reply = s.Handle(walk.finish(Twalk, 6))

	hdr, err = decode(reply)
	if err != nil || hdr.Type != Rwalk {
		t.Fatalf("walk reply: type=%d err=%v", hdr.Type, err)
	}

	nwqid, err := readU16(hdr.body)
	if err != nil || nwqid != 1 {
		t.Fatalf("walk nwqid = %d, err=%v, want 1", nwqid, err)
	}

	open := &encoder{}
	open.u32(2) // fid
	open.u32(0) // O_RDONLY

	reply = s.Handle(open.finish(Tlopen, 7))
	if hdr, err := decode(reply); err != nil || hdr.Type != Rlopen {
		t.Fatalf("lopen reply: type=%d err=%v", hdr.Type, err)
	}

	read := &encoder{}
	read.u32(2) // fid
	read.u64(0)
	read.u32(64)

	reply = s.Handle(read.finish(Tread, 8))

	hdr, err = decode(reply)
	if err != nil || hdr.Type != Rread {
		t.Fatalf("read reply: type=%d err=%v", hdr.Type, err)
	}

	var n2 uint32

	if err := binary.Read(hdr.body, binary.LittleEndian, &n2); err != nil {
		t.Fatalf("read count field: %v", err)
	}

	got := make([]byte, n2)
	if _, err := hdr.body.Read(got); err != nil {
		t.Fatalf("read data: %v", err)
	}

	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("read data = %q, want %q", got, "hello")
	}
}

func TestWalkRejectsOpenedFid(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	s.Handle(buildVersion(0, defaultMsize, "9P2000.L"))

	attach := &encoder{}
	attach.u32(1)
	attach.u32(^uint32(0))
	attach.str("user")
	attach.str("")
	s.Handle(attach.finish(Tattach, 1))

	open := &encoder{}
	open.u32(1)
	open.u32(0)
	s.Handle(open.finish(Tlopen, 2))

	walk := &encoder{}
	walk.u32(1)
	walk.u32(9)
	walk.u16(0)

	reply := s.Handle(walk.finish(Twalk, 3))

	hdr, err := decode(reply)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if hdr.Type != Rlerror {
		t.Fatalf("walk on opened fid: type = %d, want Rlerror(%d)", hdr.Type, Rlerror)
	}
}
