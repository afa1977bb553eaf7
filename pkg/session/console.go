package session

import (
	"context"

	"github.com/cuemby/fleetagent/pkg/errs"
	"github.com/cuemby/fleetagent/pkg/runtime"
	"github.com/cuemby/fleetagent/pkg/types"
)

// armLogPump starts (or restarts) a `logs -f` stream for name and pumps its
// lines to the control channel as console_output events. Any stream already
// running for name is stopped first so at most one pump runs per container.
func (s *Session) armLogPump(name, serverID string) {
	s.stopLogPump(name)

	stream, err := s.driver.SpawnLogStream(context.Background(), name)
	if err != nil {
		s.logger.Warn().Err(err).Str("container", name).Msg("failed to spawn log stream")
		return
	}

	s.logStreamsMu.Lock()
	s.logStreams[name] = stream
	s.logStreamsMu.Unlock()

	go func() {
		runtime.PumpLines(stream.Stdout, func(line string) bool {
			s.Emit(types.MsgConsoleOutput, map[string]any{
				"serverId": serverID, "stream": types.StreamStdout, "data": line + "\n",
			})
			return true
		})
	}()
	go func() {
		runtime.PumpLines(stream.Stderr, func(line string) bool {
			s.Emit(types.MsgConsoleOutput, map[string]any{
				"serverId": serverID, "stream": types.StreamStderr, "data": line + "\n",
			})
			return true
		})
	}()
}

func (s *Session) hasLogPump(name string) bool {
	s.logStreamsMu.Lock()
	defer s.logStreamsMu.Unlock()
	_, ok := s.logStreams[name]
	return ok
}

// stopLogPump stops and forgets the log stream for name, if any.
func (s *Session) stopLogPump(name string) {
	s.logStreamsMu.Lock()
	stream, ok := s.logStreams[name]
	delete(s.logStreams, name)
	s.logStreamsMu.Unlock()
	if ok {
		_ = stream.Stop()
	}
}

// handleConsoleInput writes raw bytes to the workload's stdin FIFO.
func (s *Session) handleConsoleInput(ctx context.Context, env types.Envelope) error {
	serverID, serverUUID := env.Identity()
	name, err := s.resolveContainer(ctx, serverID, serverUUID)
	if err != nil {
		return err
	}
	// The backend only sends console input for workloads whose console a
	// user has open; make sure their output is flowing back too.
	if !s.hasLogPump(name) {
		s.armLogPump(name, serverID)
	}
	data := env.String("data")
	if data == "" {
		return nil
	}
	return s.driver.SendInput(ctx, name, data)
}

// handleResumeConsole reattaches the console pump for a workload the backend
// believes is running but whose stream the agent may have lost (e.g. after a
// reconnect). It nudges stdin with a newline and restarts the log pump.
func (s *Session) handleResumeConsole(ctx context.Context, env types.Envelope) error {
	serverID, serverUUID := env.Identity()
	name, err := s.resolveContainer(ctx, serverID, serverUUID)
	if err != nil {
		return err
	}
	running, err := s.driver.IsRunning(ctx, name)
	if err != nil {
		return err
	}
	if !running {
		return errs.New(errs.KindInvalidRequest, "workload is not running")
	}
	if err := s.driver.SendInput(ctx, name, "\n"); err != nil {
		s.logger.Warn().Err(err).Str("container", name).Msg("resume console: stdin nudge failed")
	}
	s.armLogPump(name, serverID)
	return nil
}
