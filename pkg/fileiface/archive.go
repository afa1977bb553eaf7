package fileiface

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cuemby/fleetagent/pkg/errs"
)

// Compress tar.gz's the directory or file at (serverID, srcPath) into
// destPath (both resolved under the workload root). tar.gz round-trips
// name, size, and directory flag, which is all callers rely on.
func (i *Interface) Compress(serverID, srcPath, destPath string) error {
	src, err := i.resolvePath(serverID, srcPath)
	if err != nil {
		return err
	}
	dest, err := i.resolvePath(serverID, destPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errs.Wrap(errs.KindFilesystem, "create archive parent", err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return errs.Wrap(errs.KindIO, "create archive", err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	base := filepath.Dir(src)
	return filepath.Walk(src, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// Decompress extracts the tar.gz archive at (serverID, srcPath) into
// destPath, creating destPath if absent.
func (i *Interface) Decompress(serverID, srcPath, destPath string) error {
	src, err := i.resolvePath(serverID, srcPath)
	if err != nil {
		return err
	}
	dest, err := i.resolvePath(serverID, destPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return errs.Wrap(errs.KindFilesystem, "create destination", err)
	}

	f, err := os.Open(src)
	if err != nil {
		return errs.Wrap(errs.KindIO, "open archive", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return errs.Wrap(errs.KindFilesystem, "open gzip stream", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errs.Wrap(errs.KindFilesystem, "read tar entry", err)
		}
		target := filepath.Join(dest, filepath.Clean("/"+hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}

// ArchiveEntry describes one member of an archive without extracting it.
type ArchiveEntry struct {
	Name  string
	Size  int64
	IsDir bool
}

// ArchiveContents lists the members of the tar.gz archive at
// (serverID, path) without extracting it.
func (i *Interface) ArchiveContents(serverID, path string) ([]ArchiveEntry, error) {
	resolved, err := i.resolvePath(serverID, path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(resolved)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "open archive", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, errs.Wrap(errs.KindFilesystem, "open gzip stream", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	var out []ArchiveEntry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.KindFilesystem, "read tar entry", err)
		}
		out = append(out, ArchiveEntry{
			Name:  hdr.Name,
			Size:  hdr.Size,
			IsDir: hdr.Typeflag == tar.TypeDir,
		})
	}
	return out, nil
}

// InstallFromURL downloads the resource at url into (serverID, destPath),
// capping the written size at MaxFileBytes: a larger download fails and
// the partial file is removed.
func (i *Interface) InstallFromURL(serverID, destPath, url string) error {
	dest, err := i.resolvePath(serverID, destPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errs.Wrap(errs.KindFilesystem, "create parent dir", err)
	}

	resp, err := http.Get(url)
	if err != nil {
		return errs.Wrap(errs.KindNetwork, "fetch url", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errs.New(errs.KindNetwork, "unexpected status downloading "+url)
	}

	out, err := os.Create(dest)
	if err != nil {
		return errs.Wrap(errs.KindIO, "create destination file", err)
	}
	defer out.Close()

	n, err := io.Copy(out, io.LimitReader(resp.Body, MaxFileBytes+1))
	if err != nil {
		return errs.Wrap(errs.KindIO, "write downloaded file", err)
	}
	if n > MaxFileBytes {
		out.Close()
		_ = os.Remove(dest)
		return errs.New(errs.KindFilesystem, "downloaded file exceeds maximum size")
	}
	return nil
}
