package fileiface

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestInterface(t *testing.T) (*Interface, string) {
	t.Helper()
	dataDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dataDir, "u-1"), 0o755); err != nil {
		t.Fatal(err)
	}
	return New(dataDir), dataDir
}

func TestWriteThenRead_RoundTrips(t *testing.T) {
	i, _ := newTestInterface(t)

	if err := i.WriteFile("u-1", "sub/dir/file.txt", []byte("hello")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := i.ReadFile("u-1", "sub/dir/file.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("content = %q", got)
	}
}

func TestDeleteFile_RecursesDirectories(t *testing.T) {
	i, dataDir := newTestInterface(t)

	if err := i.WriteFile("u-1", "nested/a.txt", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := i.DeleteFile("u-1", "nested"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "u-1", "nested")); !os.IsNotExist(err) {
		t.Fatal("directory should be gone")
	}
}

func TestRenameFile_CreatesDestinationParents(t *testing.T) {
	i, _ := newTestInterface(t)

	if err := i.WriteFile("u-1", "a.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := i.RenameFile("u-1", "a.txt", "moved/here/b.txt"); err != nil {
		t.Fatalf("RenameFile: %v", err)
	}
	got, err := i.ReadFile("u-1", "moved/here/b.txt")
	if err != nil || string(got) != "x" {
		t.Fatalf("read after rename: %q, %v", got, err)
	}
	if _, err := i.ReadFile("u-1", "a.txt"); err == nil {
		t.Fatal("source should be gone after rename")
	}
}

func TestListDir_ReportsEntries(t *testing.T) {
	i, _ := newTestInterface(t)

	if err := i.WriteFile("u-1", "f.txt", []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if err := i.WriteFile("u-1", "d/inner.txt", []byte("y")); err != nil {
		t.Fatal(err)
	}

	entries, err := i.ListDir("u-1", "/")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	byName := map[string]Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}

	f, ok := byName["f.txt"]
	if !ok || f.IsDir || f.Size != 3 {
		t.Fatalf("f.txt entry = %+v", f)
	}
	d, ok := byName["d"]
	if !ok || !d.IsDir || d.Size != 0 {
		t.Fatalf("directory entry should report size 0, got %+v", d)
	}
}

func TestWriteFile_RejectsOversizedBuffer(t *testing.T) {
	i, _ := newTestInterface(t)

	big := make([]byte, MaxFileBytes+1)
	if err := i.WriteFile("u-1", "big.bin", big); err == nil {
		t.Fatal("expected oversized write to fail")
	}
}

func TestCompressDecompress_RoundTrips(t *testing.T) {
	i, _ := newTestInterface(t)

	if err := i.WriteFile("u-1", "world/a.txt", []byte("alpha")); err != nil {
		t.Fatal(err)
	}
	if err := i.WriteFile("u-1", "world/sub/b.txt", []byte("beta")); err != nil {
		t.Fatal(err)
	}

	if err := i.Compress("u-1", "world", "world.tar.gz"); err != nil {
		t.Fatalf("Compress: %v", err)
	}

	entries, err := i.ArchiveContents("u-1", "world.tar.gz")
	if err != nil {
		t.Fatalf("ArchiveContents: %v", err)
	}
	if len(entries) < 3 {
		t.Fatalf("expected dir + 2 files in archive, got %d entries", len(entries))
	}

	if err := i.Decompress("u-1", "world.tar.gz", "restored"); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	got, err := i.ReadFile("u-1", "restored/world/sub/b.txt")
	if err != nil || string(got) != "beta" {
		t.Fatalf("read restored: %q, %v", got, err)
	}
}
