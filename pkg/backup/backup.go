package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/fleetagent/pkg/errs"
)

// Manager creates, restores, and deletes workload backup archives. It
// shells out to the system `tar` binary the same way pkg/storage shells
// out to mkfs/mount rather than rolling its own archive/tar walk.
type Manager struct {
	backupsRoot string
}

// NewManager creates a Manager rooted at "/var/lib/<scope>/backups".
func NewManager(scope string) *Manager {
	return &Manager{backupsRoot: filepath.Join("/var/lib", scope, "backups")}
}

// Path returns the default backup path for a workload/name pair.
func (m *Manager) Path(workloadUUID, name string) string {
	if !strings.HasSuffix(name, ".tar.gz") {
		name += ".tar.gz"
	}
	return filepath.Join(m.backupsRoot, workloadUUID, name)
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Result is everything create_backup reports back to the backend.
type Result struct {
	BackupPath string
	SizeMB     float64
	Checksum   string
	CreatedAt  time.Time
}

// Create tars and gzips serverDir into backupPath, computing its SHA-256
// checksum. serverDir must already exist.
func (m *Manager) Create(serverDir, backupPath string) (Result, error) {
	if _, err := os.Stat(serverDir); err != nil {
		if os.IsNotExist(err) {
			return Result{}, errs.New(errs.KindNotFound, "server directory does not exist: "+serverDir)
		}
		return Result{}, errs.Wrap(errs.KindFilesystem, "stat server dir", err)
	}

	if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
		return Result{}, errs.Wrap(errs.KindFilesystem, "create backup parent dir", err)
	}

	if err := run("tar", "-czf", backupPath, "-C", serverDir, "."); err != nil {
		return Result{}, errs.Wrap(errs.KindIO, "create archive", err)
	}

	checksum, size, err := checksumAndSize(backupPath)
	if err != nil {
		return Result{}, err
	}

	return Result{
		BackupPath: backupPath,
		SizeMB:     float64(size) / (1024 * 1024),
		Checksum:   checksum,
		CreatedAt:  time.Now(),
	}, nil
}

func checksumAndSize(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, errs.Wrap(errs.KindIO, "open archive for checksum", err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, errs.Wrap(errs.KindIO, "read archive for checksum", err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// Restore extracts backupPath into serverDir, creating it if absent.
func (m *Manager) Restore(backupPath, serverDir string) error {
	if _, err := os.Stat(backupPath); err != nil {
		if os.IsNotExist(err) {
			return errs.New(errs.KindNotFound, "backup does not exist: "+backupPath)
		}
		return errs.Wrap(errs.KindFilesystem, "stat backup", err)
	}
	if err := os.MkdirAll(serverDir, 0o755); err != nil {
		return errs.Wrap(errs.KindFilesystem, "create server dir", err)
	}
	if err := run("tar", "-xzf", backupPath, "-C", serverDir); err != nil {
		return errs.Wrap(errs.KindIO, "extract archive", err)
	}
	return nil
}

// Delete removes backupPath if present. Deleting an already-absent backup
// is not an error.
func (m *Manager) Delete(backupPath string) error {
	if err := os.Remove(backupPath); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindFilesystem, "delete backup", err)
	}
	return nil
}
