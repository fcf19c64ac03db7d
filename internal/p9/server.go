package p9

import (
	"fmt"
	"sync"

	"rvemu/internal/rvlog"
)

const defaultMsize = 8192

// fidEntry is one row of the server's fid table (spec §4.F: "a mapping
// from fid to (path, optional open file handle, open flags)... walk may
// not operate on an opened fid; clunk closes and removes"). The table is
// small and not shared across threads, so a plain map under the
// Server's own mutex is enough — no LRU or eviction policy.
type fidEntry struct {
	path   []string
	handle FileHandle
	opened bool
	flags  uint32
}

// Server implements the 9P2000.L message subset spec §4.F names, against
// an FS backend. It has no notion of a transport: Handle takes one raw
// request message and returns one raw reply message, so it can sit
// behind the virtio Device (device.go) or be driven directly in tests.
type Server struct {
	mu    sync.Mutex
	fs    FS
	fids  map[uint32]*fidEntry
	msize uint32
	log   *rvlog.Logger
}

// NewServer creates a Server exporting fs's root.
func NewServer(fs FS, log *rvlog.Logger) *Server {
	if log == nil {
		log = rvlog.DefaultLogger()
	}

	return &Server{
		fs:    fs,
		fids:  make(map[uint32]*fidEntry),
		msize: defaultMsize,
		log:   log,
	}
}

// Handle dispatches one raw 9P2000.L request and returns its raw reply.
// A malformed envelope (too short to hold size/type/tag) returns nil;
// every other failure, including an unsupported opcode, replies Rlerror
// with the mapped errno rather than dropping the message.
func (s *Server) Handle(raw []byte) []byte {
	msg, err := decode(raw)
	if err != nil {
		s.log.Debug("p9: malformed message", "error", err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reply, err := s.dispatch(msg)
	if err != nil {
		return errorReply(msg.Tag, err)
	}

	return reply
}

func (s *Server) dispatch(msg decodedMessage) ([]byte, error) {
	switch msg.Type {
	case Tversion:
		return s.version(msg)
	case Tattach:
		return s.attach(msg)
	case Tflush:
		return s.flush(msg)
	case Twalk:
		return s.walk(msg)
	case Tread:
		return s.read(msg)
	case Twrite:
		return s.write(msg)
	case Tclunk:
		return s.clunk(msg)
	case Tstatfs:
		return s.statfs(msg)
	case Tlopen:
		return s.lopen(msg)
	case Tlcreate:
		return s.lcreate(msg)
	case Tgetattr:
		return s.getattr(msg)
	case Treaddir:
		return s.readdir(msg)
	case Tfsync:
		return s.fsync(msg)
	case Tmkdir:
		return s.mkdir(msg)
	case Trenameat:
		return s.renameat(msg)
	case Tunlinkat:
		return s.unlinkat(msg)
	default:
		return nil, fmt.Errorf("%w: opcode %d", ErrNotSupp, msg.Type)
	}
}

func (s *Server) version(msg decodedMessage) ([]byte, error) {
	reqMsize, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	version, err := readStr(msg.body)
	if err != nil {
		return nil, err
	}

	if reqMsize < defaultMsize {
		s.msize = reqMsize
	} else {
		s.msize = defaultMsize
	}

	// A version negotiation resets the session: every fid from a prior
	// life is invalid (spec §4.F: "version... frees all fids").
	for _, f := range s.fids {
		if f.opened && f.handle != nil {
			_ = f.handle.Close()
		}
	}

	s.fids = make(map[uint32]*fidEntry)

	if version != "9P2000.L" {
		version = "unknown"
	}

	e := &encoder{}
	e.u32(s.msize)
	e.str(version)

	return e.finish(Rversion, msg.Tag), nil
}

func (s *Server) attach(msg decodedMessage) ([]byte, error) {
	fid, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	if _, err := readU32(msg.body); err != nil { // afid, unused (no auth)
		return nil, err
	}

	if _, err := readStr(msg.body); err != nil { // uname
		return nil, err
	}

	if _, err := readStr(msg.body); err != nil { // aname
		return nil, err
	}

	qid, err := s.fs.GetUniqueID(nil)
	if err != nil {
		return nil, err
	}

	s.fids[fid] = &fidEntry{path: nil}

	e := &encoder{}
	e.qid(qid)

	return e.finish(Rattach, msg.Tag), nil
}

// flush cancels an in-flight request by tag. Handle is synchronous, so by
// the time a Tflush arrives every prior request has already completed —
// there is nothing to cancel, and the reply is unconditionally success.
func (s *Server) flush(msg decodedMessage) ([]byte, error) {
	if _, err := readU16(msg.body); err != nil { // oldtag
		return nil, err
	}

	e := &encoder{}

	return e.finish(Rflush, msg.Tag), nil
}

func (s *Server) walk(msg decodedMessage) ([]byte, error) {
	fid, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	newfid, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	nwname, err := readU16(msg.body)
	if err != nil {
		return nil, err
	}

	names := make([]string, nwname)
	for i := range names {
		names[i], err = readStr(msg.body)
		if err != nil {
			return nil, err
		}
	}

	src, ok := s.fids[fid]
	if !ok {
		return nil, fmt.Errorf("%w: unknown fid", ErrNotExist)
	}

	if src.opened {
		return nil, fmt.Errorf("%w: fid has an open handle", ErrPerm)
	}

	if newfid != fid {
		if _, exists := s.fids[newfid]; exists {
			return nil, fmt.Errorf("%w: newfid already in use", ErrExist)
		}
	}

	path := append([]string(nil), src.path...)

	var qids []QID

	for _, name := range names {
		next := append(append([]string(nil), path...), name)

		if !s.fs.Exists(next) {
			break
		}

		qid, err := s.fs.GetUniqueID(next)
		if err != nil {
			break
		}

		qids = append(qids, qid)
		path = next
	}

	if len(names) > 0 && len(qids) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNotExist, names)
	}

	if len(qids) == len(names) {
		s.fids[newfid] = &fidEntry{path: path}
	}

	e := &encoder{}
	e.u16(uint16(len(qids)))

	for _, q := range qids {
		e.qid(q)
	}

	return e.finish(Rwalk, msg.Tag), nil
}

func (s *Server) lopen(msg decodedMessage) ([]byte, error) {
	fid, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	flags, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	f, ok := s.fids[fid]
	if !ok {
		return nil, fmt.Errorf("%w: unknown fid", ErrNotExist)
	}

	handle, err := s.fs.Open(f.path, flags)
	if err != nil {
		return nil, err
	}

	qid, err := s.fs.GetUniqueID(f.path)
	if err != nil {
		return nil, err
	}

	f.handle = handle
	f.opened = true
	f.flags = flags

	e := &encoder{}
	e.qid(qid)
	e.u32(0) // iounit: 0 means "no preference", client picks its own chunking

	return e.finish(Rlopen, msg.Tag), nil
}

func (s *Server) lcreate(msg decodedMessage) ([]byte, error) {
	fid, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	name, err := readStr(msg.body)
	if err != nil {
		return nil, err
	}

	flags, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	mode, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	if _, err := readU32(msg.body); err != nil { // gid, ownership not modeled
		return nil, err
	}

	f, ok := s.fids[fid]
	if !ok {
		return nil, fmt.Errorf("%w: unknown fid", ErrNotExist)
	}

	handle, newPath, err := s.fs.Create(f.path, name, flags, mode)
	if err != nil {
		return nil, err
	}

	qid, err := s.fs.GetUniqueID(newPath)
	if err != nil {
		return nil, err
	}

	f.path = newPath
	f.handle = handle
	f.opened = true
	f.flags = flags

	e := &encoder{}
	e.qid(qid)
	e.u32(0)

	return e.finish(Rlcreate, msg.Tag), nil
}

func (s *Server) read(msg decodedMessage) ([]byte, error) {
	fid, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	offset, err := readU64(msg.body)
	if err != nil {
		return nil, err
	}

	count, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	f, ok := s.fids[fid]
	if !ok || !f.opened {
		return nil, fmt.Errorf("%w: fid not open", ErrPerm)
	}

	count = s.clampToReplyBudget(count)

	buf := make([]byte, count)

	n, err := f.handle.Read(offset, buf)
	if err != nil {
		return nil, err
	}

	e := &encoder{}
	e.bytesField(buf[:n])

	return e.finish(Rread, msg.Tag), nil
}

func (s *Server) write(msg decodedMessage) ([]byte, error) {
	fid, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	offset, err := readU64(msg.body)
	if err != nil {
		return nil, err
	}

	count, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	data := make([]byte, count)
	if _, err := msg.body.Read(data); err != nil {
		return nil, err
	}

	f, ok := s.fids[fid]
	if !ok || !f.opened {
		return nil, fmt.Errorf("%w: fid not open", ErrPerm)
	}

	n, err := f.handle.Write(offset, data)
	if err != nil {
		return nil, err
	}

	e := &encoder{}
	e.u32(uint32(n))

	return e.finish(Rwrite, msg.Tag), nil
}

func (s *Server) clunk(msg decodedMessage) ([]byte, error) {
	fid, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	f, ok := s.fids[fid]
	if ok && f.opened && f.handle != nil {
		_ = f.handle.Close()
	}

	delete(s.fids, fid)

	e := &encoder{}

	return e.finish(Rclunk, msg.Tag), nil
}

func (s *Server) statfs(msg decodedMessage) ([]byte, error) {
	if _, err := readU32(msg.body); err != nil { // fid
		return nil, err
	}

	st, err := s.fs.StatFS()
	if err != nil {
		return nil, err
	}

	e := &encoder{}
	e.u32(st.Type)
	e.u32(st.BSize)
	e.u64(st.Blocks)
	e.u64(st.BFree)
	e.u64(st.BAvail)
	e.u64(st.Files)
	e.u64(st.FFree)
	e.u64(0) // fsid
	e.u32(st.NameLen)

	return e.finish(Rstatfs, msg.Tag), nil
}

func (s *Server) getattr(msg decodedMessage) ([]byte, error) {
	fid, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	if _, err := readU64(msg.body); err != nil { // request_mask, we always return everything
		return nil, err
	}

	f, ok := s.fids[fid]
	if !ok {
		return nil, fmt.Errorf("%w: unknown fid", ErrNotExist)
	}

	qid, err := s.fs.GetUniqueID(f.path)
	if err != nil {
		return nil, err
	}

	attr, err := s.fs.GetAttributes(f.path)
	if err != nil {
		return nil, err
	}

	const validAll = ^uint64(0)

	e := &encoder{}
	e.u64(validAll)
	e.qid(qid)
	e.u32(attr.Mode)
	e.u32(attr.UID)
	e.u32(attr.GID)
	e.u64(attr.NLink)
	e.u64(attr.RDev)
	e.u64(attr.Size)
	e.u64(attr.BlkSize)
	e.u64(attr.Blocks)
	e.u64(uint64(attr.Atime.Unix()))
	e.u64(uint64(attr.Atime.Nanosecond()))
	e.u64(uint64(attr.Mtime.Unix()))
	e.u64(uint64(attr.Mtime.Nanosecond()))
	e.u64(uint64(attr.Ctime.Unix()))
	e.u64(uint64(attr.Ctime.Nanosecond()))
	e.u64(0) // btime_sec
	e.u64(0) // btime_nsec
	e.u64(0) // gen
	e.u64(0) // data_version

	return e.finish(Rgetattr, msg.Tag), nil
}

func (s *Server) readdir(msg decodedMessage) ([]byte, error) {
	fid, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	offset, err := readU64(msg.body)
	if err != nil {
		return nil, err
	}

	count, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	f, ok := s.fids[fid]
	if !ok || !f.opened {
		return nil, fmt.Errorf("%w: fid not open", ErrPerm)
	}

	entries, err := f.handle.Readdir()
	if err != nil {
		return nil, err
	}

	count = s.clampToReplyBudget(count)

	body := &encoder{}

	for _, ent := range entries {
		if ent.Offset <= offset {
			continue
		}

		var entBuf encoder
		entBuf.qid(ent.QID)
		entBuf.u64(ent.Offset)
		entBuf.u8(ent.Type)
		entBuf.str(ent.Name)

		if uint32(body.buf.Len()+entBuf.buf.Len()) > count {
			break
		}

		body.buf.Write(entBuf.buf.Bytes())
	}

	e := &encoder{}
	e.bytesField(body.buf.Bytes())

	return e.finish(Rreaddir, msg.Tag), nil
}

func (s *Server) fsync(msg decodedMessage) ([]byte, error) {
	if _, err := readU32(msg.body); err != nil { // fid
		return nil, err
	}

	if _, err := readU32(msg.body); err != nil { // datasync
		return nil, err
	}

	e := &encoder{}

	return e.finish(Rfsync, msg.Tag), nil
}

func (s *Server) mkdir(msg decodedMessage) ([]byte, error) {
	dfid, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	name, err := readStr(msg.body)
	if err != nil {
		return nil, err
	}

	mode, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	if _, err := readU32(msg.body); err != nil { // gid
		return nil, err
	}

	f, ok := s.fids[dfid]
	if !ok {
		return nil, fmt.Errorf("%w: unknown fid", ErrNotExist)
	}

	newPath, err := s.fs.Mkdir(f.path, name, mode)
	if err != nil {
		return nil, err
	}

	qid, err := s.fs.GetUniqueID(newPath)
	if err != nil {
		return nil, err
	}

	e := &encoder{}
	e.qid(qid)

	return e.finish(Rmkdir, msg.Tag), nil
}

func (s *Server) renameat(msg decodedMessage) ([]byte, error) {
	olddirfid, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	oldname, err := readStr(msg.body)
	if err != nil {
		return nil, err
	}

	newdirfid, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	newname, err := readStr(msg.body)
	if err != nil {
		return nil, err
	}

	oldDir, ok := s.fids[olddirfid]
	if !ok {
		return nil, fmt.Errorf("%w: unknown fid", ErrNotExist)
	}

	newDir, ok := s.fids[newdirfid]
	if !ok {
		return nil, fmt.Errorf("%w: unknown fid", ErrNotExist)
	}

	oldPath := append(append([]string(nil), oldDir.path...), oldname)

	if err := s.fs.Rename(oldPath, newDir.path, newname); err != nil {
		return nil, err
	}

	e := &encoder{}

	return e.finish(Rrenameat, msg.Tag), nil
}

func (s *Server) unlinkat(msg decodedMessage) ([]byte, error) {
	dirfid, err := readU32(msg.body)
	if err != nil {
		return nil, err
	}

	name, err := readStr(msg.body)
	if err != nil {
		return nil, err
	}

	if _, err := readU32(msg.body); err != nil { // flags
		return nil, err
	}

	dir, ok := s.fids[dirfid]
	if !ok {
		return nil, fmt.Errorf("%w: unknown fid", ErrNotExist)
	}

	if err := s.fs.Unlink(dir.path, name); err != nil {
		return nil, err
	}

	e := &encoder{}

	return e.finish(Runlinkat, msg.Tag), nil
}

// clampToReplyBudget bounds a client-requested count to what still fits
// under the negotiated message size, leaving room for the reply
// envelope and the count/size field already written ahead of the data
// (spec §6: "read/write count parameter clamped silently to remaining
// reply capacity").
func (s *Server) clampToReplyBudget(count uint32) uint32 {
	const replyOverhead = 4 + 1 + 2 + 4 // size + type + tag + count/data-length field

	budget := s.msize - replyOverhead
	if count > budget {
		return budget
	}

	return count
}
