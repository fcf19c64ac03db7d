// Package osfs implements p9.FS over the host filesystem, rooted at a
// fixed directory so a guest can never walk above its export root. No
// example in the corpus implements a 9P backend, so this package is
// built directly from spec.md §6's FS interface description rather than
// grounded on a teacher file (see DESIGN.md); it leans on the standard
// library's os package since there is no third-party filesystem
// abstraction elsewhere in the pack to adopt instead.
package osfs

import (
	"os"
	"path/filepath"
	"sort"

	"rvemu/internal/p9"
)

// FS exports a host directory tree as a p9.FS.
type FS struct {
	root string
}

// New creates an FS rooted at root. The directory must already exist.
func New(root string) *FS {
	return &FS{root: filepath.Clean(root)}
}

func (f *FS) resolve(path []string) string {
	parts := append([]string{f.root}, path...)
	return filepath.Join(parts...)
}

func (f *FS) StatFS() (p9.StatFS, error) {
	return p9.StatFS{
		Type:    0x01021994, // TMPFS_MAGIC-ish placeholder, no real statfs(2) call is portable across hosts
		BSize:   4096,
		Blocks:  1 << 20,
		BFree:   1 << 19,
		BAvail:  1 << 19,
		Files:   1 << 16,
		FFree:   1 << 15,
		NameLen: 255,
	}, nil
}

func (f *FS) Exists(path []string) bool {
	_, err := os.Stat(f.resolve(path))
	return err == nil
}

func (f *FS) IsDirectory(path []string) bool {
	fi, err := os.Stat(f.resolve(path))
	return err == nil && fi.IsDir()
}

func (f *FS) IsReadable(path []string) bool {
	return f.accessible(path, os.O_RDONLY)
}

func (f *FS) IsWritable(path []string) bool {
	return f.accessible(path, os.O_WRONLY)
}

func (f *FS) IsExecutable(path []string) bool {
	fi, err := os.Stat(f.resolve(path))
	if err != nil {
		return false
	}

	return fi.Mode()&0o111 != 0
}

func (f *FS) accessible(path []string, flag int) bool {
	fi, err := os.Stat(f.resolve(path))
	if err != nil {
		return false
	}

	if fi.IsDir() {
		return true
	}

	fh, err := os.OpenFile(f.resolve(path), flag, 0)
	if err != nil {
		return false
	}

	_ = fh.Close()

	return true
}

func (f *FS) GetAttributes(path []string) (p9.Attr, error) {
	fi, err := os.Stat(f.resolve(path))
	if err != nil {
		return p9.Attr{}, mapErr(err)
	}

	nlink := uint64(1)
	if fi.IsDir() {
		nlink = 2
	}

	return p9.Attr{
		Mode:    uint32(fi.Mode().Perm()) | modeTypeBits(fi),
		NLink:   nlink,
		Size:    uint64(fi.Size()),
		BlkSize: 4096,
		Blocks:  (uint64(fi.Size()) + 511) / 512,
		Atime:   fi.ModTime(),
		Mtime:   fi.ModTime(),
		Ctime:   fi.ModTime(),
	}, nil
}

func modeTypeBits(fi os.FileInfo) uint32 {
	const (
		sIFDIR = 0o040000
		sIFLNK = 0o120000
		sIFREG = 0o100000
	)

	switch {
	case fi.IsDir():
		return sIFDIR
	case fi.Mode()&os.ModeSymlink != 0:
		return sIFLNK
	default:
		return sIFREG
	}
}

func (f *FS) GetUniqueID(path []string) (p9.QID, error) {
	fi, err := os.Stat(f.resolve(path))
	if err != nil {
		return p9.QID{}, mapErr(err)
	}

	qType := p9.QTFile

	switch {
	case fi.IsDir():
		qType = p9.QTDir
	case fi.Mode()&os.ModeSymlink != 0:
		qType = p9.QTSymlink
	}

	return p9.QID{
		Type:    qType,
		Version: uint32(fi.ModTime().UnixNano()),
		Path:    pathHash(path),
	}, nil
}

// pathHash derives a stable 64-bit path identity from the export-root-
// relative path segments, standing in for a real inode number (which
// isn't portable to read without per-OS syscall.Stat_t handling).
func pathHash(path []string) uint64 {
	var h uint64 = 1469598103934665603 // FNV-1a offset basis

	for _, seg := range path {
		for i := 0; i < len(seg); i++ {
			h ^= uint64(seg[i])
			h *= 1099511628211
		}

		h ^= '/'
		h *= 1099511628211
	}

	return h
}

type osFileHandle struct {
	f    *os.File
	path []string
	fs   *FS
}

func (h *osFileHandle) Read(offset uint64, buf []byte) (int, error) {
	n, err := h.f.ReadAt(buf, int64(offset))
	if err != nil && n == 0 {
		return 0, mapErr(err)
	}

	return n, nil
}

func (h *osFileHandle) Write(offset uint64, buf []byte) (int, error) {
	n, err := h.f.WriteAt(buf, int64(offset))
	if err != nil {
		return n, mapErr(err)
	}

	return n, nil
}

func (h *osFileHandle) Readdir() ([]p9.DirEntry, error) {
	entries, err := h.f.ReadDir(-1)
	if err != nil {
		return nil, mapErr(err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	out := make([]p9.DirEntry, 0, len(entries))

	for i, ent := range entries {
		childPath := append(append([]string(nil), h.path...), ent.Name())

		qid, err := h.fs.GetUniqueID(childPath)
		if err != nil {
			continue
		}

		typ := uint8(0)
		if ent.IsDir() {
			typ = uint8(p9.QTDir)
		}

		out = append(out, p9.DirEntry{
			QID:    qid,
			Offset: uint64(i + 1),
			Type:   typ,
			Name:   ent.Name(),
		})
	}

	return out, nil
}

func (h *osFileHandle) Close() error { return h.f.Close() }

func (f *FS) Open(path []string, flags uint32) (p9.FileHandle, error) {
	fh, err := os.OpenFile(f.resolve(path), translateFlags(flags), 0)
	if err != nil {
		return nil, mapErr(err)
	}

	return &osFileHandle{f: fh, path: path, fs: f}, nil
}

func (f *FS) Create(dir []string, name string, flags uint32, mode uint32) (p9.FileHandle, []string, error) {
	newPath := append(append([]string(nil), dir...), name)

	fh, err := os.OpenFile(f.resolve(newPath), translateFlags(flags)|os.O_CREATE|os.O_EXCL, os.FileMode(mode&0o777))
	if err != nil {
		return nil, nil, mapErr(err)
	}

	return &osFileHandle{f: fh, path: newPath, fs: f}, newPath, nil
}

func (f *FS) Readdir(path []string) ([]p9.DirEntry, error) {
	fh, err := os.Open(f.resolve(path))
	if err != nil {
		return nil, mapErr(err)
	}
	defer fh.Close()

	h := &osFileHandle{f: fh, path: path, fs: f}

	return h.Readdir()
}

func (f *FS) Mkdir(dir []string, name string, mode uint32) ([]string, error) {
	newPath := append(append([]string(nil), dir...), name)

	if err := os.Mkdir(f.resolve(newPath), os.FileMode(mode&0o777)); err != nil {
		return nil, mapErr(err)
	}

	return newPath, nil
}

func (f *FS) Rename(oldPath, newDir []string, newName string) error {
	newPath := append(append([]string(nil), newDir...), newName)

	if err := os.Rename(f.resolve(oldPath), f.resolve(newPath)); err != nil {
		return mapErr(err)
	}

	return nil
}

func (f *FS) Unlink(dir []string, name string) error {
	target := append(append([]string(nil), dir...), name)

	if err := os.Remove(f.resolve(target)); err != nil {
		return mapErr(err)
	}

	return nil
}

func translateFlags(flags uint32) int {
	// The low two bits of the Linux open(2) flags word are the access
	// mode (O_RDONLY/O_WRONLY/O_RDWR), which happen to match Go's os
	// package constants directly; higher bits (O_APPEND, O_TRUNC, ...)
	// are intentionally not translated since guests in this emulator
	// only exercise plain reads and writes.
	return int(flags & 0o3)
}

func mapErr(err error) error {
	switch {
	case os.IsNotExist(err):
		return p9.ErrNotExist
	case os.IsExist(err):
		return p9.ErrExist
	case os.IsPermission(err):
		return p9.ErrPerm
	default:
		return p9.ErrIO
	}
}
