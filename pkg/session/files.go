package session

import (
	"encoding/base64"
	"os"

	"github.com/cuemby/fleetagent/pkg/errs"
	"github.com/cuemby/fleetagent/pkg/metrics"
	"github.com/cuemby/fleetagent/pkg/types"
)

// handleFileOperation dispatches the sandboxed file interface operations,
// each addressed at a workload by serverId and scoped under its data
// directory by pkg/fileiface. The operation subtype is carried in the
// nested "type" field; when that still reads as the envelope's own
// "file_operation" (or is absent), "operation" disambiguates.
func (s *Session) handleFileOperation(env types.Envelope) error {
	op := fileOperationType(env)
	serverID := env.String("serverId")
	requestID := env.String("requestId")

	outcome := "ok"
	err := s.runFileOperation(op, serverID, env)
	if err != nil {
		outcome = string(errs.KindOf(err))
	}
	metrics.FileOperationsTotal.WithLabelValues(op, outcome).Inc()

	s.Emit("file_operation_response", map[string]any{
		"requestId": requestID,
		"operation": op,
		"success":   err == nil,
		"error":     errMessage(err),
	})
	return err
}

// fileOperationType pulls the operation subtype out of a file_operation
// frame: the documented "type" field, falling back to "operation" when
// "type" carries (or collapsed onto) the envelope's own tag.
func fileOperationType(env types.Envelope) string {
	op := env.String("type")
	if op == "" || op == types.InFileOperation {
		op = env.String("operation")
	}
	return op
}

// isFileOperationType reports whether msgType names a file operation
// subtype. A frame built with a duplicate "type" key decodes with the
// subtype as its envelope tag, so the dispatcher checks here before
// declaring a type unknown.
func isFileOperationType(msgType string) bool {
	switch msgType {
	case "read", "write", "delete", "rename", "chmod", "list",
		"compress", "decompress", "archive_contents", "install_url":
		return true
	}
	return false
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (s *Session) runFileOperation(op, serverID string, env types.Envelope) error {
	path := env.String("path")
	switch op {
	case "read":
		data, err := s.files.ReadFile(serverID, path)
		if err != nil {
			return err
		}
		s.Emit("file_contents", map[string]any{
			"serverId": serverID, "path": path,
			"data": base64.StdEncoding.EncodeToString(data),
		})
		return nil
	case "write":
		raw := env.String("data")
		data, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return errs.Wrap(errs.KindInvalidRequest, "decode file data", err)
		}
		return s.files.WriteFile(serverID, path, data)
	case "delete":
		return s.files.DeleteFile(serverID, path)
	case "rename":
		return s.files.RenameFile(serverID, path, env.String("destination"))
	case "chmod":
		return s.files.Chmod(serverID, path, os.FileMode(env.Int("mode")))
	case "list":
		entries, err := s.files.ListDir(serverID, path)
		if err != nil {
			return err
		}
		s.Emit("directory_listing", map[string]any{
			"serverId": serverID, "path": path, "entries": entries,
		})
		return nil
	case "compress":
		return s.files.Compress(serverID, path, env.String("destination"))
	case "decompress":
		return s.files.Decompress(serverID, path, env.String("destination"))
	case "archive_contents":
		entries, err := s.files.ArchiveContents(serverID, path)
		if err != nil {
			return err
		}
		s.Emit("archive_contents", map[string]any{
			"serverId": serverID, "path": path, "entries": entries,
		})
		return nil
	case "install_url":
		return s.files.InstallFromURL(serverID, path, env.String("url"))
	default:
		return errs.New(errs.KindInvalidRequest, "unknown file operation: "+op)
	}
}
