package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/fleetagent/pkg/config"
	"golang.org/x/sys/unix"
)

// consoleMountPath is where the console directory is bind-mounted inside
// every container; the entrypoint script redirects the FIFO onto stdin from
// this fixed location regardless of the container's own filesystem layout.
const consoleMountPath = "/var/run/console"

func consoleBaseDir() string {
	return filepath.Join("/tmp", config.Scope)
}

func consoleDir(name string) string {
	return filepath.Join(consoleBaseDir(), name)
}

func consoleFIFOPath(name string) string {
	return filepath.Join(consoleDir(name), "stdin")
}

func statNoFollow(path string) (os.FileInfo, error) {
	return os.Lstat(path)
}

// prepareConsoleDir creates the per-workload console directory and its
// stdin FIFO.
func prepareConsoleDir(name string) (string, error) {
	dir := consoleDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create console dir: %w", err)
	}
	fifo := consoleFIFOPath(name)
	if _, err := os.Stat(fifo); os.IsNotExist(err) {
		if err := unix.Mkfifo(fifo, 0o660); err != nil {
			return "", fmt.Errorf("mkfifo: %w", err)
		}
	}
	return dir, nil
}

func removeConsoleDir(name string) error {
	return os.RemoveAll(consoleDir(name))
}

func consoleDirExists(name string) (string, bool) {
	dir := consoleDir(name)
	if _, err := os.Stat(dir); err != nil {
		return "", false
	}
	return dir, true
}

// writeEntrypointScript writes the small shell shim that binds the FIFO to
// stdin before exec'ing the workload's startup command, and returns its
// in-container path.
func writeEntrypointScript(consoleDir, startup string) (string, error) {
	path := filepath.Join(consoleDir, "entrypoint.sh")
	script := fmt.Sprintf("#!/bin/bash\nexec %s < %s\n", startup, filepath.Join(consoleMountPath, "stdin"))
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		return "", err
	}
	return filepath.Join(consoleMountPath, "entrypoint.sh"), nil
}

// consoleRegistry tracks the host-side write handle for each workload's
// stdin FIFO. At most one handle is open per workload at any time.
type consoleRegistry struct {
	mu      sync.RWMutex
	writers map[string]*os.File
}

func newConsoleRegistry() *consoleRegistry {
	return &consoleRegistry{writers: make(map[string]*os.File)}
}

// attach opens the workload's stdin FIFO for reading and writing with
// O_NONBLOCK, then clears O_NONBLOCK. The open mode is load-bearing: a
// write-only open blocks until a reader exists, which would deadlock
// against the container's own start, but a read-write open on a FIFO
// succeeds immediately.
func (r *consoleRegistry) attach(name, dir string) error {
	fifo := filepath.Join(dir, "stdin")
	fd, err := unix.Open(fifo, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open fifo %s: %w", fifo, err)
	}
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err == nil {
		_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags&^unix.O_NONBLOCK)
	}
	f := os.NewFile(uintptr(fd), fifo)

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.writers[name]; ok && old != f {
		_ = old.Close()
	}
	r.writers[name] = f
	return nil
}

func (r *consoleRegistry) get(name string) (*os.File, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.writers[name]
	return f, ok
}

func (r *consoleRegistry) detach(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.writers[name]; ok {
		_ = f.Close()
		delete(r.writers, name)
	}
}

// SendInput writes data to the workload's stdin. It prefers the stored FIFO
// handle; if none is open, it tries to reattach to the FIFO on disk. If no
// handle can be used or the write fails, it falls back to sendInputViaExec.
func (d *Driver) SendInput(ctx context.Context, name, data string) error {
	f, ok := d.consoles.get(name)
	if !ok {
		if dir, exists := consoleDirExists(name); exists {
			if err := d.consoles.attach(name, dir); err == nil {
				f, ok = d.consoles.get(name)
			}
		}
	}
	if ok && f != nil {
		if _, err := f.WriteString(data); err == nil {
			return nil
		}
	}
	return d.sendInputViaExec(ctx, name, data)
}

// RestoreConsoleWriters reattaches a host-side FIFO writer for every name in
// running, skipping any whose FIFO is missing on disk. Called once after a
// fresh control-session connection.
func (d *Driver) RestoreConsoleWriters(running []string) {
	for _, name := range running {
		if dir, ok := consoleDirExists(name); ok {
			if err := d.consoles.attach(name, dir); err != nil {
				continue
			}
		}
	}
}
