package storage

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cuemby/fleetagent/pkg/errs"
	"github.com/cuemby/fleetagent/pkg/log"
	"github.com/google/uuid"
)

// Manager drives loop-mounted per-workload image files. Every method is
// safe to call repeatedly; the operations it wraps (fallocate, mkfs,
// mount, resize2fs, e2fsck) are themselves idempotent or checked for
// current state first.
type Manager struct {
	imagesDir func(dataDir string) string
}

// NewManager creates a Manager. Image files live under
// "<dataDir>/images/<uuid>.img"; the mount point is "<dataDir>/<uuid>".
func NewManager() *Manager {
	return &Manager{
		imagesDir: func(dataDir string) string { return filepath.Join(dataDir, "images") },
	}
}

func (m *Manager) imagePath(dataDir, uuid string) string {
	return filepath.Join(m.imagesDir(dataDir), uuid+".img")
}

func run(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// IsMounted reports whether mountPoint appears as a mounted filesystem in
// /proc/mounts.
func IsMounted(mountPoint string) (bool, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return false, fmt.Errorf("read /proc/mounts: %w", err)
	}
	defer f.Close()

	clean := filepath.Clean(mountPoint)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if filepath.Clean(fields[1]) == clean {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// EnsureMounted creates the workload's image if absent and loop-mounts it
// at mountPoint, migrating any pre-existing data first.
func (m *Manager) EnsureMounted(dataDir, uuid string, mountPoint string, sizeMB int64) error {
	logger := log.WithComponent("storage")

	if err := os.MkdirAll(m.imagesDir(dataDir), 0o755); err != nil {
		return errs.Wrap(errs.KindFilesystem, "create images dir", err)
	}
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return errs.Wrap(errs.KindFilesystem, "create mount dir", err)
	}

	mounted, err := IsMounted(mountPoint)
	if err != nil {
		return errs.Wrap(errs.KindFilesystem, "check mount state", err)
	}
	if mounted {
		return nil
	}

	img := m.imagePath(dataDir, uuid)
	imageExisted := true
	if _, statErr := os.Stat(img); os.IsNotExist(statErr) {
		imageExisted = false
		if err := createImage(img, sizeMB); err != nil {
			return errs.Wrap(errs.KindFilesystem, "create image", err)
		}
	}

	if !imageExisted {
		if hasPreExistingData, err := dirHasEntries(mountPoint); err != nil {
			return errs.Wrap(errs.KindFilesystem, "inspect mount dir", err)
		} else if hasPreExistingData {
			if err := m.migrate(img, mountPoint); err != nil {
				return errs.Wrap(errs.KindFilesystem, "migrate pre-existing data", err)
			}
		}
	}

	if err := mountImage(img, mountPoint); err != nil {
		return errs.Wrap(errs.KindFilesystem, "mount image", err)
	}
	logger.Info().Str("uuid", uuid).Str("mount", mountPoint).Msg("image mounted")
	return nil
}

func createImage(img string, sizeMB int64) error {
	if _, err := run("fallocate", "-l", fmt.Sprintf("%dM", sizeMB), img); err != nil {
		return err
	}
	if _, err := run("mkfs.ext4", "-F", img); err != nil {
		return err
	}
	return nil
}

func dirHasEntries(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return len(entries) > 0, nil
}

// migrate mounts img at a scratch directory, rsyncs mountPoint's existing
// contents into it, unmounts, then clears mountPoint so the loop-mount can
// take its place.
func (m *Manager) migrate(img, mountPoint string) error {
	scratch := filepath.Join(os.TempDir(), "fleet-migrate-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	if err := mountImage(img, scratch); err != nil {
		return err
	}
	if _, err := run("rsync", "-a", mountPoint+"/", scratch+"/"); err != nil {
		_, _ = run("umount", scratch)
		return err
	}
	if _, err := run("umount", scratch); err != nil {
		return err
	}

	entries, err := os.ReadDir(mountPoint)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(mountPoint, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func mountImage(img, mountPoint string) error {
	_, err := run("mount", "-o", "loop", img, mountPoint)
	return err
}

func unmount(mountPoint string) error {
	_, err := run("umount", mountPoint)
	return err
}

// Resize grows or shrinks the workload's image to newMB. Growth is
// online when allowOnlineGrow is true and the volume is currently mounted;
// shrink is always offline.
func (m *Manager) Resize(dataDir, uuid, mountPoint string, newMB int64, allowOnlineGrow bool) error {
	img := m.imagePath(dataDir, uuid)

	cur, err := imageSizeMB(img)
	if err != nil {
		return errs.Wrap(errs.KindFilesystem, "stat image", err)
	}
	if cur == newMB {
		return nil
	}

	mounted, err := IsMounted(mountPoint)
	if err != nil {
		return errs.Wrap(errs.KindFilesystem, "check mount state", err)
	}

	if newMB > cur {
		return m.grow(img, mountPoint, newMB, mounted, allowOnlineGrow)
	}
	return m.shrink(img, mountPoint, newMB, mounted)
}

func (m *Manager) grow(img, mountPoint string, newMB int64, mounted, allowOnlineGrow bool) error {
	if allowOnlineGrow && mounted {
		if _, err := run("fallocate", "-l", fmt.Sprintf("%dM", newMB), img); err != nil {
			return errs.Wrap(errs.KindFilesystem, "grow image", err)
		}
		if _, err := run("resize2fs", mountPoint); err != nil {
			return errs.Wrap(errs.KindFilesystem, "resize2fs mount", err)
		}
		return nil
	}

	if mounted {
		if err := unmount(mountPoint); err != nil {
			return errs.Wrap(errs.KindFilesystem, "unmount for offline grow", err)
		}
	}
	if _, err := run("fallocate", "-l", fmt.Sprintf("%dM", newMB), img); err != nil {
		return errs.Wrap(errs.KindFilesystem, "grow image", err)
	}
	if _, err := run("resize2fs", img); err != nil {
		return errs.Wrap(errs.KindFilesystem, "resize2fs image", err)
	}
	if mounted {
		if err := mountImage(img, mountPoint); err != nil {
			return errs.Wrap(errs.KindFilesystem, "remount after grow", err)
		}
	}
	return nil
}

func (m *Manager) shrink(img, mountPoint string, newMB int64, mounted bool) error {
	if mounted {
		if err := unmount(mountPoint); err != nil {
			return errs.Wrap(errs.KindFilesystem, "unmount for shrink", err)
		}
	}
	if _, err := run("e2fsck", "-f", "-y", img); err != nil {
		return errs.Wrap(errs.KindFilesystem, "e2fsck", err)
	}
	if _, err := run("resize2fs", img, fmt.Sprintf("%dM", newMB)); err != nil {
		return errs.Wrap(errs.KindFilesystem, "resize2fs shrink", err)
	}
	if _, err := run("fallocate", "-l", fmt.Sprintf("%dM", newMB), img); err != nil {
		return errs.Wrap(errs.KindFilesystem, "truncate image", err)
	}
	if mounted {
		if err := mountImage(img, mountPoint); err != nil {
			return errs.Wrap(errs.KindFilesystem, "remount after shrink", err)
		}
	}
	return nil
}

func imageSizeMB(img string) (int64, error) {
	fi, err := os.Stat(img)
	if err != nil {
		return 0, err
	}
	return fi.Size() / (1024 * 1024), nil
}
