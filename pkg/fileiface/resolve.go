package fileiface

import (
	"path/filepath"
	"strings"

	"github.com/cuemby/fleetagent/pkg/errs"
)

// Interface resolves and operates on paths rooted under a single directory,
// data_dir, with one subdirectory per workload.
type Interface struct {
	dataDir string
}

// New creates a file Interface rooted at dataDir.
func New(dataDir string) *Interface {
	return &Interface{dataDir: dataDir}
}

// resolvePath maps a client-supplied path into the workload's directory.
// Every step matters: the sandbox guarantee is the conjunction of all of
// them, not any single check.
func (i *Interface) resolvePath(serverID, requested string) (string, error) {
	// Step 1: reject serverId containing path separators.
	if strings.ContainsRune(serverID, '/') || strings.ContainsRune(serverID, filepath.Separator) {
		return "", errs.New(errs.KindInvalidRequest, "serverId must not contain path separators")
	}

	// Step 2: reject requested containing any ".." component.
	for _, part := range strings.Split(filepath.ToSlash(requested), "/") {
		if part == ".." {
			return "", errs.New(errs.KindPermissionDenied, "path traversal rejected")
		}
	}

	// Step 3: canonicalize the workload root.
	root := filepath.Join(i.dataDir, serverID)
	canonicalBase, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", errs.Wrap(errs.KindPermissionDenied, "workload root not found", err)
	}

	// Step 4: join the requested path onto the canonical base.
	rel := requested
	if filepath.IsAbs(requested) {
		rel = strings.TrimPrefix(filepath.ToSlash(requested), "/")
	}
	joined := filepath.Join(canonicalBase, rel)

	// Step 5: if the joined path exists, canonicalize it and confirm the
	// prefix.
	if real, err := filepath.EvalSymlinks(joined); err == nil {
		if !withinBase(real, canonicalBase) {
			return "", errs.New(errs.KindPermissionDenied, "resolved path escapes workload root")
		}
		return real, nil
	}

	// Step 6: if only the parent exists, canonicalize the parent and
	// confirm that prefix, then re-append the file name.
	parent := filepath.Dir(joined)
	if realParent, err := filepath.EvalSymlinks(parent); err == nil {
		if !withinBase(realParent, canonicalBase) {
			return "", errs.New(errs.KindPermissionDenied, "resolved path escapes workload root")
		}
		return filepath.Join(realParent, filepath.Base(joined)), nil
	}

	// Step 7: neither exists. The joined path (built from the canonical
	// base) must still carry that base as a literal prefix.
	if !withinBase(joined, canonicalBase) {
		return "", errs.New(errs.KindPermissionDenied, "resolved path escapes workload root")
	}
	return joined, nil
}

// withinBase reports whether path equals base or is nested under it.
func withinBase(path, base string) bool {
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(filepath.Separator))
}
