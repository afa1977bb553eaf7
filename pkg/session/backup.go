package session

import (
	"github.com/cuemby/fleetagent/pkg/backup"
	"github.com/cuemby/fleetagent/pkg/errs"
	"github.com/cuemby/fleetagent/pkg/metrics"
	"github.com/cuemby/fleetagent/pkg/types"
)

// handleCreateBackup tars and checksums a workload's server directory.
func (s *Session) handleCreateBackup(env types.Envelope) error {
	serverUUID := env.String("serverUuid")
	backupID := env.String("backupId")
	serverDir := env.String("serverDir")
	if serverDir == "" {
		serverDir = s.serverDir(serverUUID, nil)
	}
	backupPath := env.String("backupPath")
	if backupPath == "" {
		backupPath = s.backups.Path(serverUUID, env.String("backupName"))
	}

	timer := metrics.NewTimer()
	result, err := s.backups.Create(serverDir, backupPath)
	timer.ObserveDurationVec(metrics.BackupDuration, "create")
	s.recordBackupOutcome("create", err)
	if err != nil {
		s.Emit(types.MsgBackupComplete, map[string]any{
			"serverUuid": serverUUID, "backupId": backupID, "success": false, "error": err.Error(),
		})
		return err
	}

	metrics.BackupBytesTransferredTotal.WithLabelValues("create").Add(result.SizeMB * 1024 * 1024)
	fields := map[string]any{
		"serverUuid": serverUUID, "success": true,
		"backupPath": result.BackupPath, "sizeMb": result.SizeMB, "checksum": result.Checksum,
	}
	if backupID != "" {
		fields["backupId"] = backupID
	}
	s.Emit(types.MsgBackupComplete, fields)
	return nil
}

// handleRestoreBackup extracts a backup archive into a workload's server
// directory.
func (s *Session) handleRestoreBackup(env types.Envelope) error {
	serverUUID := env.String("serverUuid")
	backupPath := env.String("backupPath")
	serverDir := env.String("serverDir")
	if serverDir == "" {
		serverDir = s.serverDir(serverUUID, nil)
	}

	timer := metrics.NewTimer()
	err := s.backups.Restore(backupPath, serverDir)
	timer.ObserveDurationVec(metrics.BackupDuration, "restore")
	s.recordBackupOutcome("restore", err)

	s.Emit(types.MsgBackupRestoreComplete, map[string]any{
		"serverUuid": serverUUID, "success": err == nil, "error": errMessage(err),
	})
	return err
}

// handleDeleteBackup deletes a backup archive; deleting an absent one is not
// an error.
func (s *Session) handleDeleteBackup(env types.Envelope) error {
	serverUUID := env.String("serverUuid")
	backupPath := env.String("backupPath")

	err := s.backups.Delete(backupPath)
	s.recordBackupOutcome("delete", err)

	s.Emit(types.MsgBackupDeleteComplete, map[string]any{
		"serverUuid": serverUUID, "success": err == nil, "error": errMessage(err),
	})
	return err
}

func (s *Session) recordBackupOutcome(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(errs.KindOf(err))
	}
	metrics.BackupOperationsTotal.WithLabelValues(kind, outcome).Inc()
}

// handleDownloadBackupStart validates the backup exists and reports its
// size, the precondition for the chunked download loop.
func (s *Session) handleDownloadBackupStart(env types.Envelope) error {
	requestID := env.String("requestId")
	backupPath := env.String("backupPath")

	download, size, err := backup.OpenDownload(backupPath)
	if err != nil {
		s.Emit(types.MsgBackupDownloadResp, map[string]any{
			"requestId": requestID, "success": false, "error": err.Error(),
		})
		return err
	}

	s.downloadsMu.Lock()
	s.downloads[requestID] = download
	s.downloadsMu.Unlock()

	s.Emit(types.MsgBackupDownloadResp, map[string]any{
		"requestId": requestID, "success": true, "sizeBytes": size,
	})
	return nil
}

// handleDownloadBackup streams the whole backup in 256 KiB base64 chunks,
// ending with the done sentinel, then closes the download. The
// Emit mutex keeps the chunk sequence ordered against any concurrent
// outbound traffic.
func (s *Session) handleDownloadBackup(env types.Envelope) error {
	requestID := env.String("requestId")

	s.downloadsMu.Lock()
	download, ok := s.downloads[requestID]
	s.downloadsMu.Unlock()
	if !ok {
		return errs.New(errs.KindNotFound, "no open download for requestId")
	}
	defer s.closeDownload(requestID)

	for {
		chunk, err := download.Next()
		if err != nil {
			return err
		}
		if chunk.Done {
			s.Emit(types.MsgBackupDownloadChunk, map[string]any{"requestId": requestID, "done": true})
			return nil
		}
		metrics.BackupBytesTransferredTotal.WithLabelValues("download").Add(float64(len(chunk.Data)))
		s.Emit(types.MsgBackupDownloadChunk, map[string]any{
			"requestId": requestID, "data": chunk.Data, "done": false,
		})
	}
}

func (s *Session) closeDownload(requestID string) {
	s.downloadsMu.Lock()
	defer s.downloadsMu.Unlock()
	if d, ok := s.downloads[requestID]; ok {
		_ = d.Close()
		delete(s.downloads, requestID)
	}
}

// handleUploadBackupStart opens the destination file for a chunked upload.
func (s *Session) handleUploadBackupStart(env types.Envelope) error {
	requestID := env.String("requestId")
	destPath := env.String("destPath")

	err := s.uploads.Start(requestID, destPath)
	s.Emit(types.MsgBackupUploadResp, map[string]any{
		"requestId": requestID, "success": err == nil, "error": errMessage(err),
	})
	return err
}

// handleUploadBackupChunk appends one decoded chunk to the open upload.
func (s *Session) handleUploadBackupChunk(env types.Envelope) error {
	requestID := env.String("requestId")
	data := env.String("data")

	err := s.uploads.Chunk(requestID, data)
	if err == nil {
		metrics.BackupBytesTransferredTotal.WithLabelValues("upload").Add(float64(len(data)))
	}
	s.Emit(types.MsgBackupUploadChunkResp, map[string]any{
		"requestId": requestID, "success": err == nil, "error": errMessage(err),
	})
	return err
}

// handleUploadBackupComplete flushes and closes the finished upload.
func (s *Session) handleUploadBackupComplete(env types.Envelope) error {
	requestID := env.String("requestId")
	err := s.uploads.Complete(requestID)
	s.recordBackupOutcome("upload", err)
	s.Emit(types.MsgBackupUploadResp, map[string]any{
		"requestId": requestID, "success": err == nil, "error": errMessage(err), "complete": true,
	})
	return err
}
