package osfs_test

import (
	"testing"

	"rvemu/internal/p9"
	"rvemu/internal/p9/osfs"
)

func TestCreateWriteReadRoundtrip(t *testing.T) {
	t.Parallel()

	fs := osfs.New(t.TempDir())

	handle, path, err := fs.Create(nil, "note.txt", 2, 0o644)
	if err != nil {
		t.Fatalf("Create = %v", err)
	}

	if len(path) != 1 || path[0] != "note.txt" {
		t.Fatalf("Create path = %v, want [note.txt]", path)
	}

	if _, err := handle.Write(0, []byte("hello, guest")); err != nil {
		t.Fatalf("Write = %v", err)
	}

	if err := handle.Close(); err != nil {
		t.Fatalf("Close = %v", err)
	}

	if !fs.Exists(path) {
		t.Fatalf("Exists(%v) = false after Create", path)
	}

	read, err := fs.Open(path, 0)
	if err != nil {
		t.Fatalf("Open = %v", err)
	}
	defer read.Close()

	buf := make([]byte, 64)

	n, err := read.Read(0, buf)
	if err != nil {
		t.Fatalf("Read = %v", err)
	}

	if string(buf[:n]) != "hello, guest" {
		t.Errorf("Read = %q, want %q", buf[:n], "hello, guest")
	}
}

func TestMkdirReaddirUnlink(t *testing.T) {
	t.Parallel()

	fs := osfs.New(t.TempDir())

	dirPath, err := fs.Mkdir(nil, "sub", 0o755)
	if err != nil {
		t.Fatalf("Mkdir = %v", err)
	}

	if !fs.IsDirectory(dirPath) {
		t.Fatalf("IsDirectory(%v) = false", dirPath)
	}

	if _, _, err := fs.Create(dirPath, "a.txt", 2, 0o644); err != nil {
		t.Fatalf("Create(sub/a.txt) = %v", err)
	}

	entries, err := fs.Readdir(dirPath)
	if err != nil {
		t.Fatalf("Readdir = %v", err)
	}

	if len(entries) != 1 || entries[0].Name != "a.txt" {
		t.Fatalf("Readdir entries = %+v, want one entry a.txt", entries)
	}

	if err := fs.Unlink(dirPath, "a.txt"); err != nil {
		t.Fatalf("Unlink = %v", err)
	}

	if fs.Exists(append(append([]string(nil), dirPath...), "a.txt")) {
		t.Errorf("file still exists after Unlink")
	}
}

func TestGetAttributesNotFoundMapsToENOENT(t *testing.T) {
	t.Parallel()

	fs := osfs.New(t.TempDir())

	_, err := fs.GetAttributes([]string{"missing"})
	if err != p9.ErrNotExist {
		t.Errorf("GetAttributes(missing) error = %v, want p9.ErrNotExist", err)
	}
}
