// Package p9 implements the 9P2000.L message protocol and a virtio
// transport device for it (spec §4.F/§6), grounded on nothing in the
// example corpus — no 9P server exists in the retrieved pack — and
// built directly from the wire format 9P2000.L itself specifies: a
// little-endian size/type/tag header followed by a type-specific body.
// The wire codec follows the same encoding/binary-over-bytes.Buffer
// idiom internal/memmap/ram.go uses for its own little-endian accesses.
package p9

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Message type (opcode) constants, the 9P2000.L subset spec §4.F names.
const (
	Tstatfs   = 8
	Rstatfs   = 9
	Tlopen    = 12
	Rlopen    = 13
	Tlcreate  = 14
	Rlcreate  = 15
	Rlerror   = 7
	Tgetattr  = 24
	Rgetattr  = 25
	Treaddir  = 40
	Rreaddir  = 41
	Tfsync    = 50
	Rfsync    = 51
	Tmkdir    = 72
	Rmkdir    = 73
	Trenameat = 74
	Rrenameat = 75
	Tunlinkat = 76
	Runlinkat = 77
	Tversion  = 100
	Rversion  = 101
	Tattach   = 104
	Rattach   = 105
	Tflush    = 108
	Rflush    = 109
	Twalk     = 110
	Rwalk     = 111
	Tread     = 116
	Rread     = 117
	Twrite    = 118
	Rwrite    = 119
	Tclunk    = 120
	Rclunk    = 121
)

const noTag = 0xffff

// Errno values a backend failure maps to on the wire (spec §4.F: "a
// security exception maps to EPERM, no-such-file to ENOENT, ...").
const (
	ErrnoPerm     = 1
	ErrnoNoEnt    = 2
	ErrnoIO       = 5
	ErrnoExist    = 17
	ErrnoNotDir   = 20
	ErrnoNotEmpty = 39
	ErrnoNotSupp  = 524
)

var (
	ErrPerm     = errors.New("p9: operation not permitted")
	ErrNotExist = errors.New("p9: no such file or directory")
	ErrExist    = errors.New("p9: file exists")
	ErrNotDir   = errors.New("p9: not a directory")
	ErrNotEmpty = errors.New("p9: directory not empty")
	ErrIO       = errors.New("p9: I/O error")
	ErrNotSupp  = errors.New("p9: operation not supported")
)

// errno maps a backend error to its 9P2000.L errno, defaulting to EIO for
// anything unrecognized (spec §4.F's explicit list, plus a catch-all).
func errno(err error) uint32 {
	switch {
	case errors.Is(err, ErrPerm):
		return ErrnoPerm
	case errors.Is(err, ErrNotExist):
		return ErrnoNoEnt
	case errors.Is(err, ErrExist):
		return ErrnoExist
	case errors.Is(err, ErrNotDir):
		return ErrnoNotDir
	case errors.Is(err, ErrNotEmpty):
		return ErrnoNotEmpty
	case errors.Is(err, ErrNotSupp):
		return ErrnoNotSupp
	default:
		return ErrnoIO
	}
}

// QIDType classifies a QID (spec §4.F "type is one of {file, directory,
// symlink}").
type QIDType uint8

const (
	QTFile    QIDType = 0x00
	QTSymlink QIDType = 0x02
	QTDir     QIDType = 0x80
)

// QID is 9P's stable server-side file identity (spec §4.F).
type QID struct {
	Type    QIDType
	Version uint32
	Path    uint64
}

func (q QID) encode(buf *bytes.Buffer) {
	buf.WriteByte(byte(q.Type))
	_ = binary.Write(buf, binary.LittleEndian, q.Version)
	_ = binary.Write(buf, binary.LittleEndian, q.Path)
}

func decodeQID(r *bytes.Reader) (QID, error) {
	var q QID

	t, err := r.ReadByte()
	if err != nil {
		return q, err
	}

	q.Type = QIDType(t)

	if err := binary.Read(r, binary.LittleEndian, &q.Version); err != nil {
		return q, err
	}

	if err := binary.Read(r, binary.LittleEndian, &q.Path); err != nil {
		return q, err
	}

	return q, nil
}

// header is the common envelope every 9P2000.L message carries.
type header struct {
	Size uint32
	Type uint8
	Tag  uint16
}

// decodedMessage is a parsed request: its envelope plus a reader
// positioned at the start of the type-specific body.
type decodedMessage struct {
	header
	body *bytes.Reader
}

// decode parses the common header and hands back a reader over the rest
// of the message for the type-specific handler to consume.
func decode(raw []byte) (decodedMessage, error) {
	if len(raw) < 7 {
		return decodedMessage{}, fmt.Errorf("p9: short message (%d bytes)", len(raw))
	}

	var h header

	r := bytes.NewReader(raw)
	if err := binary.Read(r, binary.LittleEndian, &h.Size); err != nil {
		return decodedMessage{}, err
	}

	t, err := r.ReadByte()
	if err != nil {
		return decodedMessage{}, err
	}

	h.Type = t

	if err := binary.Read(r, binary.LittleEndian, &h.Tag); err != nil {
		return decodedMessage{}, err
	}

	return decodedMessage{header: h, body: r}, nil
}

// encoder accumulates a reply body; finish() prepends the size/type/tag
// envelope and returns the complete wire message.
type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) u8(v uint8)   { e.buf.WriteByte(v) }
func (e *encoder) u16(v uint16) { _ = binary.Write(&e.buf, binary.LittleEndian, v) }
func (e *encoder) u32(v uint32) { _ = binary.Write(&e.buf, binary.LittleEndian, v) }
func (e *encoder) u64(v uint64) { _ = binary.Write(&e.buf, binary.LittleEndian, v) }
func (e *encoder) qid(q QID)    { q.encode(&e.buf) }

func (e *encoder) str(s string) {
	e.u16(uint16(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) bytesField(b []byte) {
	e.u32(uint32(len(b)))
	e.buf.Write(b)
}

func (e *encoder) finish(msgType uint8, tag uint16) []byte {
	body := e.buf.Bytes()
	size := uint32(4 + 1 + 2 + len(body))

	out := make([]byte, 0, size)
	out = binary.LittleEndian.AppendUint32(out, size)
	out = append(out, msgType)
	out = binary.LittleEndian.AppendUint16(out, tag)
	out = append(out, body...)

	return out
}

func readStr(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}

	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}

	return string(b), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)

	return v, err
}

func readU64(r *bytes.Reader) (uint64, error) {
	var v uint64
	err := binary.Read(r, binary.LittleEndian, &v)

	return v, err
}

func readU16(r *bytes.Reader) (uint16, error) {
	var v uint16
	err := binary.Read(r, binary.LittleEndian, &v)

	return v, err
}

// errorReply builds an Rlerror reply carrying a backend error's errno.
func errorReply(tag uint16, err error) []byte {
	e := &encoder{}
	e.u32(errno(err))

	return e.finish(Rlerror, tag)
}
