package fileiface

import (
	"os"
	"path/filepath"

	"github.com/cuemby/fleetagent/pkg/errs"
)

// MaxFileBytes caps a single read or write.
const MaxFileBytes = 100 * 1024 * 1024

// Entry is one row of a directory listing.
type Entry struct {
	Name     string
	IsDir    bool
	Size     int64
	Modified int64 // unix seconds, 0 if unavailable
	Mode     os.FileMode
}

// ReadFile reads the file at (serverID, path), failing before reading if
// the file is larger than MaxFileBytes.
func (i *Interface) ReadFile(serverID, path string) ([]byte, error) {
	resolved, err := i.resolvePath(serverID, path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotFound, "stat file", err)
	}
	if fi.Size() > MaxFileBytes {
		return nil, errs.New(errs.KindFilesystem, "file exceeds maximum readable size")
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "read file", err)
	}
	return data, nil
}

// WriteFile writes data at (serverID, path), creating parent directories as
// needed, and rejects buffers larger than MaxFileBytes before writing.
func (i *Interface) WriteFile(serverID, path string, data []byte) error {
	if len(data) > MaxFileBytes {
		return errs.New(errs.KindFilesystem, "write exceeds maximum buffer size")
	}
	resolved, err := i.resolvePath(serverID, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return errs.Wrap(errs.KindFilesystem, "create parent dirs", err)
	}
	if err := os.WriteFile(resolved, data, 0o644); err != nil {
		return errs.Wrap(errs.KindIO, "write file", err)
	}
	return nil
}

// DeleteFile removes the file or directory at (serverID, path), recursively
// for directories.
func (i *Interface) DeleteFile(serverID, path string) error {
	resolved, err := i.resolvePath(serverID, path)
	if err != nil {
		return err
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return errs.Wrap(errs.KindNotFound, "stat for delete", err)
	}
	if fi.IsDir() {
		err = os.RemoveAll(resolved)
	} else {
		err = os.Remove(resolved)
	}
	if err != nil {
		return errs.Wrap(errs.KindIO, "delete", err)
	}
	return nil
}

// RenameFile resolves both endpoints under the same workload and renames,
// creating the destination's parent directories first.
func (i *Interface) RenameFile(serverID, from, to string) error {
	src, err := i.resolvePath(serverID, from)
	if err != nil {
		return err
	}
	dst, err := i.resolvePath(serverID, to)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errs.Wrap(errs.KindFilesystem, "create destination parent", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return errs.Wrap(errs.KindIO, "rename", err)
	}
	return nil
}

// ListDir returns the entries of the directory at (serverID, path).
func (i *Interface) ListDir(serverID, path string) ([]Entry, error) {
	resolved, err := i.resolvePath(serverID, path)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, errs.Wrap(errs.KindFilesystem, "list dir", err)
	}

	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		var size int64
		var modified int64
		mode := os.FileMode(0)
		if err == nil {
			mode = info.Mode()
			modified = info.ModTime().Unix()
			if !de.IsDir() {
				size = info.Size()
			}
		}
		out = append(out, Entry{
			Name:     de.Name(),
			IsDir:    de.IsDir(),
			Size:     size,
			Modified: modified,
			Mode:     mode,
		})
	}
	return out, nil
}

// Chmod sets permissions on the resolved path.
func (i *Interface) Chmod(serverID, path string, mode os.FileMode) error {
	resolved, err := i.resolvePath(serverID, path)
	if err != nil {
		return err
	}
	if err := os.Chmod(resolved, mode); err != nil {
		return errs.Wrap(errs.KindIO, "chmod", err)
	}
	return nil
}
