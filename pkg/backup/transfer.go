package backup

import (
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/fleetagent/pkg/errs"
)

// downloadChunkSize is the raw (pre-base64) chunk size the download flow
// reads and sends per backup_download_chunk message.
const downloadChunkSize = 256 * 1024

// DownloadChunk is one line of the chunked download flow: either data plus
// done=false, or done=true with no data (the sentinel final message).
type DownloadChunk struct {
	Data string // base64-encoded
	Done bool
}

// OpenDownload opens backupPath for chunked reading and reports its size,
// answering backup_download_response's validation step.
func OpenDownload(backupPath string) (*Download, int64, error) {
	info, err := os.Stat(backupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, errs.New(errs.KindNotFound, "backup does not exist: "+backupPath)
		}
		return nil, 0, errs.Wrap(errs.KindFilesystem, "stat backup for download", err)
	}
	f, err := os.Open(backupPath)
	if err != nil {
		return nil, 0, errs.Wrap(errs.KindIO, "open backup for download", err)
	}
	return &Download{file: f}, info.Size(), nil
}

// Download is one in-flight chunked download. Each call to Next reads the
// next chunk; the caller keeps calling until Done is true.
type Download struct {
	file *os.File
	buf  [downloadChunkSize]byte
}

// Next reads the next chunk of the backup file. Once the file is
// exhausted it returns the done sentinel and the Download should be
// closed.
func (d *Download) Next() (DownloadChunk, error) {
	n, err := d.file.Read(d.buf[:])
	if err == io.EOF || n == 0 {
		return DownloadChunk{Done: true}, nil
	}
	if err != nil {
		return DownloadChunk{}, errs.Wrap(errs.KindIO, "read backup chunk", err)
	}
	return DownloadChunk{Data: base64.StdEncoding.EncodeToString(d.buf[:n])}, nil
}

// Close releases the download's file handle.
func (d *Download) Close() error {
	return d.file.Close()
}

// UploadRegistry tracks in-flight uploads keyed by requestId, the way the
// per-workload console/monitor maps are each guarded by their own lock.
type UploadRegistry struct {
	mu      sync.RWMutex
	uploads map[string]*os.File
}

// NewUploadRegistry creates an empty registry.
func NewUploadRegistry() *UploadRegistry {
	return &UploadRegistry{uploads: make(map[string]*os.File)}
}

// Start creates destPath (truncating if it exists) and records the open
// handle under requestId, answering upload_backup_start.
func (r *UploadRegistry) Start(requestID, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return errs.Wrap(errs.KindFilesystem, "create upload parent dir", err)
	}
	f, err := os.Create(destPath)
	if err != nil {
		return errs.Wrap(errs.KindIO, "create upload destination", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.uploads[requestID]; ok {
		_ = old.Close()
	}
	r.uploads[requestID] = f
	return nil
}

// Chunk decodes base64 data and appends it to the open upload identified
// by requestID, answering upload_backup_chunk.
func (r *UploadRegistry) Chunk(requestID, data string) error {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return errs.Wrap(errs.KindInvalidRequest, "decode upload chunk", err)
	}

	r.mu.RLock()
	f, ok := r.uploads[requestID]
	r.mu.RUnlock()
	if !ok {
		return errs.New(errs.KindNotFound, "no open upload for requestId")
	}

	if _, err := f.Write(raw); err != nil {
		return errs.Wrap(errs.KindIO, "write upload chunk", err)
	}
	return nil
}

// Complete flushes and closes the upload identified by requestID,
// answering upload_backup_complete.
func (r *UploadRegistry) Complete(requestID string) error {
	r.mu.Lock()
	f, ok := r.uploads[requestID]
	delete(r.uploads, requestID)
	r.mu.Unlock()

	if !ok {
		return errs.New(errs.KindNotFound, "no open upload for requestId")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errs.Wrap(errs.KindIO, "flush upload", err)
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.KindIO, "close upload", err)
	}
	return nil
}

// Abort closes and forgets an in-flight upload without completing it,
// e.g. on control session disconnect.
func (r *UploadRegistry) Abort(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.uploads[requestID]; ok {
		_ = f.Close()
		delete(r.uploads, requestID)
	}
}
