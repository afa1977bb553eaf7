package session

import (
	"context"
	"time"

	"github.com/cuemby/fleetagent/pkg/errs"
	"github.com/cuemby/fleetagent/pkg/metrics"
	"github.com/cuemby/fleetagent/pkg/types"
)

// dispatch is the inbound command table, one case per message
// type. Every branch is timed and counted by type and outcome so
// pkg/metrics's command duration histogram and outcome counter stay populated without each handler
// repeating the bookkeeping.
func (s *Session) dispatch(ctx context.Context, env types.Envelope) {
	msgType := env.String("type")
	timer := metrics.NewTimer()
	outcome := "ok"
	defer func() {
		timer.ObserveDurationVec(metrics.CommandDuration, msgType)
		metrics.CommandsHandledTotal.WithLabelValues(msgType, outcome).Inc()
	}()

	var err error
	switch msgType {
	case types.InServerControl:
		err = s.handleServerControl(ctx, env)
	case types.InInstallServer:
		err = s.handleInstall(ctx, env)
	case types.InStartServer:
		err = s.handleStart(ctx, env, false)
	case types.InRestartServer:
		err = s.handleStart(ctx, env, true)
	case types.InStopServer:
		err = s.handleStop(ctx, env, false)
	case types.InKillServer:
		err = s.handleStop(ctx, env, true)
	case types.InConsoleInput:
		err = s.handleConsoleInput(ctx, env)
	case types.InResumeConsole:
		err = s.handleResumeConsole(ctx, env)
	case types.InFileOperation:
		err = s.handleFileOperation(env)
	case types.InCreateBackup:
		err = s.handleCreateBackup(env)
	case types.InRestoreBackup:
		err = s.handleRestoreBackup(env)
	case types.InDeleteBackup:
		err = s.handleDeleteBackup(env)
	case types.InDownloadBackupStart:
		err = s.handleDownloadBackupStart(env)
	case types.InDownloadBackup:
		err = s.handleDownloadBackup(env)
	case types.InUploadBackupStart:
		err = s.handleUploadBackupStart(env)
	case types.InUploadBackupChunk:
		err = s.handleUploadBackupChunk(env)
	case types.InUploadBackupComplete:
		err = s.handleUploadBackupComplete(env)
	case types.InResizeStorage:
		err = s.handleResizeStorage(ctx, env)
	case types.InNodeHandshakeResponse:
		s.logger.Debug().Msg("node handshake accepted by backend")
	default:
		if isFileOperationType(msgType) {
			err = s.handleFileOperation(env)
		} else {
			s.logger.Warn().Str("type", msgType).Msg("unknown inbound message type, ignoring")
		}
	}

	if err != nil {
		outcome = string(errs.KindOf(err))
		s.logger.Warn().Err(err).Str("type", msgType).Msg("command failed")
	}
}

// handleServerControl dispatches the envelope-style command (action field)
// onto the same handlers the dedicated message types use.
func (s *Session) handleServerControl(ctx context.Context, env types.Envelope) error {
	if env.Bool("suspended") {
		return errs.New(errs.KindInvalidRequest, "workload is suspended")
	}
	switch env.String("action") {
	case "install":
		return s.handleInstall(ctx, env)
	case "start":
		return s.handleStart(ctx, env, false)
	case "restart":
		return s.handleStart(ctx, env, true)
	case "stop":
		return s.handleStop(ctx, env, false)
	case "kill":
		return s.handleStop(ctx, env, true)
	default:
		return errs.New(errs.KindInvalidRequest, "unknown server_control action: "+env.String("action"))
	}
}

// resolveContainer tries serverID then serverUUID against the runtime,
// preferring serverID if both resolve to distinct existing containers.
func (s *Session) resolveContainer(ctx context.Context, serverID, serverUUID string) (string, error) {
	idExists := serverID != "" && s.driver.Exists(ctx, serverID)
	uuidExists := serverUUID != "" && s.driver.Exists(ctx, serverUUID)

	switch {
	case idExists && uuidExists && serverID != serverUUID:
		s.logger.Warn().Str("serverId", serverID).Str("serverUuid", serverUUID).
			Msg("both identities resolve to distinct containers, preferring serverId")
		return serverID, nil
	case idExists:
		return serverID, nil
	case uuidExists:
		return serverUUID, nil
	default:
		return "", errs.New(errs.KindNotFound, "no container found for serverId or serverUuid")
	}
}

// removeExistingByEitherIdentity force-removes any container currently
// existing under serverID or serverUUID before a create, so two start
// attempts for the same workload can never run concurrently.
func (s *Session) removeExistingByEitherIdentity(ctx context.Context, serverID, serverUUID string) {
	for _, name := range []string{serverID, serverUUID} {
		if name == "" {
			continue
		}
		if s.driver.Exists(ctx, name) {
			s.reconciler.DisarmExitMonitor(name)
			if err := s.driver.Remove(ctx, name); err != nil {
				s.logger.Warn().Err(err).Str("container", name).Msg("failed to remove pre-existing container")
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
