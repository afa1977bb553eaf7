package fileiface

import (
	"os"
	"path/filepath"
	"testing"
)

func setupWorkload(t *testing.T) (root, serverID string) {
	t.Helper()
	dataDir := t.TempDir()
	serverID = "srv-1"
	if err := os.MkdirAll(filepath.Join(dataDir, serverID, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	return dataDir, serverID
}

func TestResolvePath_RejectsTraversal(t *testing.T) {
	dataDir, serverID := setupWorkload(t)
	iface := New(dataDir)

	cases := []string{
		"../../etc/passwd",
		"../secret",
		"sub/../../escape",
		"/../../etc/passwd",
	}
	for _, c := range cases {
		if _, err := iface.resolvePath(serverID, c); err == nil {
			t.Fatalf("expected traversal to be rejected for %q", c)
		}
	}
}

func TestResolvePath_RejectsSeparatorInServerID(t *testing.T) {
	dataDir, _ := setupWorkload(t)
	iface := New(dataDir)
	if _, err := iface.resolvePath("a/b", "file.txt"); err == nil {
		t.Fatalf("expected serverId with separator to be rejected")
	}
}

func TestResolvePath_MissingWorkload(t *testing.T) {
	dataDir := t.TempDir()
	iface := New(dataDir)
	if _, err := iface.resolvePath("does-not-exist", "file.txt"); err == nil {
		t.Fatalf("expected missing workload root to fail")
	}
}

func TestResolvePath_ExistingFile(t *testing.T) {
	dataDir, serverID := setupWorkload(t)
	iface := New(dataDir)

	path := filepath.Join(dataDir, serverID, "sub", "f.txt")
	if err := os.WriteFile(path, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	resolved, err := iface.resolvePath(serverID, "sub/f.txt")
	if err != nil {
		t.Fatalf("resolvePath: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolvePath = %q, want %q", resolved, path)
	}
}

func TestResolvePath_NewFileUnderExistingParent(t *testing.T) {
	dataDir, serverID := setupWorkload(t)
	iface := New(dataDir)

	resolved, err := iface.resolvePath(serverID, "sub/new.txt")
	if err != nil {
		t.Fatalf("resolvePath: %v", err)
	}
	want := filepath.Join(dataDir, serverID, "sub", "new.txt")
	if resolved != want {
		t.Fatalf("resolvePath = %q, want %q", resolved, want)
	}
}

func TestResolvePath_NeitherExists(t *testing.T) {
	dataDir, serverID := setupWorkload(t)
	iface := New(dataDir)

	resolved, err := iface.resolvePath(serverID, "deep/nested/new.txt")
	if err != nil {
		t.Fatalf("resolvePath: %v", err)
	}
	want := filepath.Join(dataDir, serverID, "deep", "nested", "new.txt")
	if resolved != want {
		t.Fatalf("resolvePath = %q, want %q", resolved, want)
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	dataDir, serverID := setupWorkload(t)
	iface := New(dataDir)

	if err := iface.WriteFile(serverID, "sub/round.txt", []byte("hello")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := iface.ReadFile(serverID, "sub/round.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("ReadFile = %q, want %q", data, "hello")
	}
}

func TestWriteFile_OverMaxSizeRejected(t *testing.T) {
	dataDir, serverID := setupWorkload(t)
	iface := New(dataDir)

	big := make([]byte, MaxFileBytes+1)
	if err := iface.WriteFile(serverID, "sub/big.bin", big); err == nil {
		t.Fatalf("expected oversized write to be rejected")
	}
}

func TestListDir(t *testing.T) {
	dataDir, serverID := setupWorkload(t)
	iface := New(dataDir)

	if err := iface.WriteFile(serverID, "sub/a.txt", []byte("a")); err != nil {
		t.Fatal(err)
	}
	entries, err := iface.ListDir(serverID, "sub")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.txt" || entries[0].IsDir {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
