package session

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/fleetagent/pkg/config"
	"github.com/cuemby/fleetagent/pkg/errs"
	"github.com/cuemby/fleetagent/pkg/metrics"
	"github.com/cuemby/fleetagent/pkg/runtime"
	"github.com/cuemby/fleetagent/pkg/types"
)

// scopeLine formats a system console line the way the install and start
// flows prefix their banners and failure reasons ("[<scope>] ...").
func scopeLine(format string, args ...any) string {
	return fmt.Sprintf("["+config.Scope+"] "+format, args...)
}

// substituteTemplate replaces every "{{KEY}}" occurrence in script with the
// matching entry from env, leaving unknown keys untouched.
func substituteTemplate(script string, env map[string]string) string {
	for k, v := range env {
		script = strings.ReplaceAll(script, "{{"+k+"}}", v)
	}
	return script
}

// serverDir resolves the workload's data directory: environment.SERVER_DIR
// if present, else the conventional fallback under the agent's data_dir.
func (s *Session) serverDir(serverUUID string, environment map[string]string) string {
	if dir, ok := environment["SERVER_DIR"]; ok && dir != "" {
		return dir
	}
	return filepath.Join(s.cfg.Server.DataDir, serverUUID)
}

// handleInstall implements the install flow. The install script runs on
// the host under /bin/bash -c, never inside the workload image.
func (s *Session) handleInstall(ctx context.Context, env types.Envelope) error {
	serverID := env.String("serverId")
	serverUUID := env.String("serverUuid")
	tpl := types.Envelope(env.Map("template"))
	installScript := tpl.String("installScript")
	environment := env.StringMap("environment")

	if serverUUID == "" || serverID == "" || installScript == "" {
		return s.installFail(serverID, serverUUID, errs.New(errs.KindInvalidRequest, "serverId, serverUuid, and template.installScript are required"))
	}

	dir := s.serverDir(serverUUID, environment)
	diskMB := s.cfg.Storage.DefaultDiskMB
	if n := env.Int64("allocatedDiskMb"); n > 0 {
		diskMB = n
	}

	if err := s.storage.EnsureMounted(s.cfg.Server.DataDir, serverUUID, dir, diskMB); err != nil {
		return s.installFail(serverID, serverUUID, err)
	}

	script := substituteTemplate(installScript, environment)

	s.Emit(types.MsgConsoleOutput, map[string]any{
		"serverId": serverID, "serverUuid": serverUUID,
		"stream": types.StreamSystem, "data": scopeLine("Starting installation.\n"),
	})

	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", script)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.installFail(serverID, serverUUID, errs.Wrap(errs.KindInstallation, "open install stdout", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.installFail(serverID, serverUUID, errs.Wrap(errs.KindInstallation, "open install stderr", err))
	}
	if err := cmd.Start(); err != nil {
		return s.installFail(serverID, serverUUID, errs.Wrap(errs.KindInstallation, "spawn install script", err))
	}

	var lastStdout, lastStderr string
	done := make(chan struct{}, 2)
	go func() {
		runtime.PumpLines(stdout, func(line string) bool {
			lastStdout = line
			s.Emit(types.MsgConsoleOutput, map[string]any{
				"serverId": serverID, "serverUuid": serverUUID,
				"stream": types.StreamStdout, "data": line + "\n",
			})
			return true
		})
		done <- struct{}{}
	}()
	go func() {
		runtime.PumpLines(stderr, func(line string) bool {
			lastStderr = line
			s.Emit(types.MsgConsoleOutput, map[string]any{
				"serverId": serverID, "serverUuid": serverUUID,
				"stream": types.StreamStderr, "data": line + "\n",
			})
			return true
		})
		done <- struct{}{}
	}()
	<-done
	<-done

	if err := cmd.Wait(); err != nil {
		reason := lastStderr
		if reason == "" {
			reason = lastStdout
		}
		if reason == "" {
			reason = "install script failed"
		}
		s.Emit(types.MsgConsoleOutput, map[string]any{
			"serverId": serverID, "serverUuid": serverUUID,
			"stream": types.StreamSystem, "data": scopeLine("%s\n", reason),
		})
		s.Emit(types.MsgServerStateUpdate, map[string]any{
			"serverId": serverID, "serverUuid": serverUUID,
			"state": string(types.StateError), "reason": reason,
		})
		return errs.New(errs.KindInstallation, reason)
	}

	s.Emit(types.MsgConsoleOutput, map[string]any{
		"serverId": serverID, "serverUuid": serverUUID,
		"stream": types.StreamSystem, "data": scopeLine("Installation complete.\n"),
	})
	s.Emit(types.MsgServerStateUpdate, map[string]any{
		"serverId": serverID, "serverUuid": serverUUID,
		"state": string(types.StateStopped),
	})
	return nil
}

func (s *Session) installFail(serverID, serverUUID string, err error) error {
	s.Emit(types.MsgServerStateUpdate, map[string]any{
		"serverId": serverID, "serverUuid": serverUUID,
		"state": string(types.StateError), "reason": err.Error(),
	})
	return err
}

// computeMemoryXMS derives the MEMORY_XMS value injected when the backend
// does not supply one: half of the allocation by default, configurable via
// runtime.memory_xms_percent, never less than 1.
func computeMemoryXMS(memoryMB int64, percent int) int64 {
	if percent <= 0 {
		percent = 50
	}
	xms := int64(math.Max(1, float64(memoryMB)*float64(percent)/100))
	return xms
}

// translatePortBindings converts the envelope's portBindings object
// (stringified container port -> numeric host port) into the runtime
// driver's PortBindings map. Both sides of every entry are validated:
// an unparseable container port, a non-numeric host port, or a host
// port outside 1..65535 rejects the whole request rather than reaching
// the runtime invocation or the firewall.
func translatePortBindings(env types.Envelope) (types.PortBindings, error) {
	raw := env.Map("portBindings")
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(types.PortBindings, len(raw))
	for containerPort, v := range raw {
		if cp, err := strconv.Atoi(containerPort); err != nil || cp < 1 || cp > 65535 {
			return nil, errs.New(errs.KindInvalidRequest, "invalid container port in portBindings: "+containerPort)
		}
		var hostPort int
		switch n := v.(type) {
		case float64:
			hostPort = int(n)
		case int:
			hostPort = n
		default:
			return nil, errs.New(errs.KindInvalidRequest, "host port for container port "+containerPort+" is not a number")
		}
		if hostPort < 1 || hostPort > 65535 {
			return nil, errs.New(errs.KindInvalidRequest, fmt.Sprintf("host port %d for container port %s is out of range", hostPort, containerPort))
		}
		out[containerPort] = hostPort
	}
	return out, nil
}

// handleStart implements the start/restart flow. restart performs a
// stop, a 2 s pause, then the same start sequence.
func (s *Session) handleStart(ctx context.Context, env types.Envelope, restart bool) error {
	serverID := env.String("serverId")
	serverUUID := env.String("serverUuid")

	if restart {
		if err := s.stopWorkload(ctx, serverID, serverUUID, false, false); err != nil {
			s.logger.Warn().Err(err).Str("serverUuid", serverUUID).Msg("restart: stop before start failed, continuing")
		}
		sleepCtx(ctx, 2*time.Second)
	}

	tpl := types.Envelope(env.Map("template"))
	image := tpl.String("image")
	startup := tpl.String("startup")
	memoryMB := env.Int64("allocatedMemoryMb")
	cpuCores := env.Int64("allocatedCpuCores")
	primaryPort := env.Int("primaryPort")
	environment := env.StringMap("environment")

	if serverUUID == "" || serverID == "" || image == "" || startup == "" || memoryMB <= 0 || cpuCores <= 0 || primaryPort <= 0 {
		return s.installFail(serverID, serverUUID, errs.New(errs.KindInvalidRequest, "serverId, serverUuid, template.image, template.startup, allocatedMemoryMb, allocatedCpuCores, and primaryPort are required"))
	}

	s.Emit(types.MsgServerStateUpdate, map[string]any{
		"serverId": serverID, "serverUuid": serverUUID,
		"state": string(types.StateStarting),
	})

	dir := s.serverDir(serverUUID, environment)
	if err := s.storage.EnsureMounted(s.cfg.Server.DataDir, serverUUID, dir, s.cfg.Storage.DefaultDiskMB); err != nil {
		return s.installFail(serverID, serverUUID, err)
	}

	runEnv := make(map[string]string, len(environment)+3)
	for k, v := range environment {
		runEnv[k] = v
	}
	runEnv["MEMORY"] = fmt.Sprintf("%d", memoryMB)
	runEnv["PORT"] = fmt.Sprintf("%d", primaryPort)
	if _, ok := runEnv["MEMORY_XMS"]; !ok {
		runEnv["MEMORY_XMS"] = fmt.Sprintf("%d", computeMemoryXMS(memoryMB, s.cfg.Runtime.MemoryXMSPercent))
	}

	startupCmd := substituteTemplate(startup, runEnv)
	portBindings, err := translatePortBindings(env)
	if err != nil {
		return s.installFail(serverID, serverUUID, err)
	}

	s.removeExistingByEitherIdentity(ctx, serverID, serverUUID)

	envSlice := make([]string, 0, len(runEnv))
	for k, v := range runEnv {
		envSlice = append(envSlice, k+"="+v)
	}

	createCfg := runtime.CreateConfig{
		Name:         serverUUID,
		Image:        image,
		Startup:      startupCmd,
		Env:          envSlice,
		MemoryMB:     memoryMB,
		CPUCores:     float64(cpuCores),
		DataDir:      dir,
		ContainerDir: "/data",
		PrimaryPort:  primaryPort,
		PortBindings: portBindings,
		NetworkMode:  types.NetworkMode(tpl.String("networkMode")),
		NetworkName:  tpl.String("networkName"),
		NetworkIP:    tpl.String("networkIp"),
	}

	timer := metrics.NewTimer()
	containerIP, err := s.driver.Create(ctx, createCfg)
	timer.ObserveDuration(metrics.ContainerCreateDuration)
	if err != nil {
		return s.installFail(serverID, serverUUID, err)
	}

	running, err := s.driver.IsRunning(ctx, serverUUID)
	if err != nil || !running {
		exitCode, _ := s.driver.ExitCode(ctx, serverUUID)
		logs, _ := s.driver.GetLogs(ctx, serverUUID, 100)
		reason := fmt.Sprintf("container exited immediately with code %d", exitCode)
		s.Emit(types.MsgConsoleOutput, map[string]any{
			"serverId": serverID, "serverUuid": serverUUID,
			"stream": types.StreamSystem, "data": scopeLine("%s\n", reason),
		})
		pumpStaticLog(logs, func(line string) {
			s.Emit(types.MsgConsoleOutput, map[string]any{
				"serverId": serverID, "serverUuid": serverUUID,
				"stream": types.StreamStdout, "data": line + "\n",
			})
		})
		return s.installFail(serverID, serverUUID, errs.New(errs.KindContainer, reason))
	}

	// With no explicit bindings the runtime picked an ephemeral host port
	// for the primary container port; learn it back so the firewall hole
	// and the reported bindings match reality.
	resolved := portBindings
	if len(resolved) == 0 && createCfg.NetworkMode != types.NetworkModeHost {
		hostPort, portErr := s.driver.HostPort(ctx, serverUUID, primaryPort)
		if portErr != nil {
			s.logger.Warn().Err(portErr).Str("container", serverUUID).Msg("could not resolve ephemeral host port")
			hostPort = primaryPort
		}
		resolved = types.PortBindings{fmt.Sprintf("%d", primaryPort): hostPort}
	}
	s.openFirewallForStart(serverUUID, containerIP, primaryPort, resolved)

	s.armLogPump(serverUUID, serverID)
	s.reconciler.ArmExitMonitor(serverUUID)

	s.Emit(types.MsgServerStateUpdate, map[string]any{
		"serverId": serverID, "serverUuid": serverUUID,
		"state": string(types.StateRunning), "portBindings": resolved,
	})
	return nil
}

func (s *Session) openFirewallForStart(name, containerIP string, primaryPort int, bindings types.PortBindings) {
	if containerIP == "" {
		return
	}
	ports := map[int]bool{}
	if len(bindings) == 0 {
		ports[primaryPort] = true
	} else {
		for _, hostPort := range bindings {
			ports[hostPort] = true
		}
	}
	for port := range ports {
		if err := s.firewall.AllowPort(port, containerIP); err != nil {
			s.logger.Warn().Err(err).Str("container", name).Int("port", port).Msg("failed to open firewall port")
		}
	}
}

func pumpStaticLog(logs string, fn func(line string)) {
	scanner := bufio.NewScanner(strings.NewReader(logs))
	for scanner.Scan() {
		fn(scanner.Text())
	}
}

// handleStop implements stop/kill: disarm the exit monitor before the
// transition so the deliberate stop is never reported as a crash, then
// stop or kill, remove the container, and emit the terminal state.
func (s *Session) handleStop(ctx context.Context, env types.Envelope, kill bool) error {
	serverID := env.String("serverId")
	serverUUID := env.String("serverUuid")
	return s.stopWorkload(ctx, serverID, serverUUID, kill, true)
}

// stopWorkload stops or kills a workload. emitState is false when the stop
// is the first half of a restart, whose one terminal state update is the
// running (or error) emitted by the start half.
func (s *Session) stopWorkload(ctx context.Context, serverID, serverUUID string, kill, emitState bool) error {
	name, err := s.resolveContainer(ctx, serverID, serverUUID)
	if err != nil {
		return err
	}

	s.reconciler.DisarmExitMonitor(name)
	s.stopLogPump(name)

	timer := metrics.NewTimer()
	if kill {
		err = s.driver.Kill(ctx, name, "SIGKILL")
	} else {
		err = s.driver.Stop(ctx, name, 30*time.Second)
	}
	timer.ObserveDuration(metrics.ContainerStopDuration)
	if err != nil {
		s.logger.Warn().Err(err).Str("container", name).Msg("stop/kill failed, removing anyway")
	}

	exitCode, _ := s.driver.ExitCode(ctx, name)

	if err := s.driver.Remove(ctx, name); err != nil {
		s.logger.Warn().Err(err).Str("container", name).Msg("failed to remove container after stop")
	}

	if emitState {
		state := types.StateStopped
		if kill {
			state = types.StateCrashed
		}
		s.Emit(types.MsgServerStateUpdate, map[string]any{
			"serverId": serverID, "serverUuid": serverUUID,
			"state": string(state), "exitCode": exitCode,
		})
	}
	return nil
}
