package session

import (
	"context"

	"github.com/cuemby/fleetagent/pkg/metrics"
	"github.com/cuemby/fleetagent/pkg/types"
)

// handleResizeStorage grows or shrinks a workload's loop-mounted image
// in place.
func (s *Session) handleResizeStorage(ctx context.Context, env types.Envelope) error {
	serverUUID := env.String("serverUuid")
	mountPoint := s.serverDir(serverUUID, env.StringMap("environment"))
	newMB := env.Int64("allocatedDiskMb")
	if newMB <= 0 {
		s.Emit(types.MsgStorageResizeComplete, map[string]any{
			"serverUuid": serverUUID, "success": false, "error": "allocatedDiskMb must be positive",
		})
		return nil
	}

	timer := metrics.NewTimer()
	err := s.storage.Resize(s.cfg.Server.DataDir, serverUUID, mountPoint, newMB, s.cfg.Storage.AllowOnlineGrow)
	timer.ObserveDuration(metrics.StorageResizeDuration)

	s.Emit(types.MsgStorageResizeComplete, map[string]any{
		"serverUuid": serverUUID, "success": err == nil, "error": errMessage(err),
	})
	return err
}
