package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsMounted_NotMounted(t *testing.T) {
	dir := t.TempDir()
	mounted, err := IsMounted(filepath.Join(dir, "nope"))
	if err != nil {
		t.Fatalf("IsMounted: %v", err)
	}
	if mounted {
		t.Fatalf("expected not mounted")
	}
}

func TestImagePath(t *testing.T) {
	m := NewManager()
	got := m.imagePath("/d", "abc-123")
	want := filepath.Join("/d", "images", "abc-123.img")
	if got != want {
		t.Fatalf("imagePath = %q, want %q", got, want)
	}
}

func TestDirHasEntries(t *testing.T) {
	dir := t.TempDir()
	has, err := dirHasEntries(dir)
	if err != nil || has {
		t.Fatalf("expected empty dir to report no entries, got has=%v err=%v", has, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	has, err = dirHasEntries(dir)
	if err != nil || !has {
		t.Fatalf("expected populated dir to report entries, got has=%v err=%v", has, err)
	}

	has, err = dirHasEntries(filepath.Join(dir, "missing"))
	if err != nil || has {
		t.Fatalf("expected missing dir to report no entries without error, got has=%v err=%v", has, err)
	}
}
