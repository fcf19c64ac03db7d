package p9

import "time"

// Attr mirrors the subset of Linux stat(2) fields spec §4.F's getattr
// reply carries.
type Attr struct {
	Mode     uint32
	UID      uint32
	GID      uint32
	NLink    uint64
	RDev     uint64
	Size     uint64
	BlkSize  uint64
	Blocks   uint64
	Atime    time.Time
	Mtime    time.Time
	Ctime    time.Time
}

// StatFS mirrors statfs(2)'s fields (spec §4.F's statfs reply).
type StatFS struct {
	Type    uint32
	BSize   uint32
	Blocks  uint64
	BFree   uint64
	BAvail  uint64
	Files   uint64
	FFree   uint64
	NameLen uint32
}

// DirEntry is one entry of a readdir reply.
type DirEntry struct {
	QID    QID
	Offset uint64
	Type   uint8
	Name   string
}

// FileHandle is an open file or directory, obtained from FS.Open or
// FS.Create and released by Close (spec §6: "a FileHandle with
// read(offset,buf)/write(offset,buf)/readdir()/close()").
type FileHandle interface {
	Read(offset uint64, buf []byte) (int, error)
	Write(offset uint64, buf []byte) (int, error)
	Readdir() ([]DirEntry, error)
	Close() error
}

// FS is the file-system backend the 9P server drives (spec §6's
// "FS backend interface"); paths are slash-separated segments relative
// to the export root, never containing ".." — the server resolves walks
// segment by segment and never hands the backend a raw client string.
type FS interface {
	StatFS() (StatFS, error)
	Exists(path []string) bool
	IsDirectory(path []string) bool
	IsReadable(path []string) bool
	IsWritable(path []string) bool
	IsExecutable(path []string) bool
	GetAttributes(path []string) (Attr, error)
	GetUniqueID(path []string) (QID, error)
	Open(path []string, flags uint32) (FileHandle, error)
	Create(path []string, name string, flags uint32, mode uint32) (FileHandle, []string, error)
	Readdir(path []string) ([]DirEntry, error)
	Mkdir(path []string, name string, mode uint32) ([]string, error)
	Rename(oldPath, newDir []string, newName string) error
	Unlink(dir []string, name string) error
}
