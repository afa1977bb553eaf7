package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/fleetagent/pkg/errs"
	"github.com/cuemby/fleetagent/pkg/log"
	"github.com/cuemby/fleetagent/pkg/types"
)

// Driver invokes the container CLI and tracks console writers. All methods
// are safe for concurrent use across workloads. Operations on the same
// workload are not serialized here, and the control session dispatches
// every inbound message on its own goroutine.
type Driver struct {
	binary    string
	namespace string
	consoles  *consoleRegistry
}

// NewDriver creates a Driver that invokes binary (e.g. "nerdctl") scoped to
// namespace for every container operation.
func NewDriver(binary, namespace string) *Driver {
	return &Driver{
		binary:    binary,
		namespace: namespace,
		consoles:  newConsoleRegistry(),
	}
}

func (d *Driver) cmd(ctx context.Context, args ...string) *exec.Cmd {
	full := append([]string{"--namespace", d.namespace}, args...)
	return exec.CommandContext(ctx, d.binary, full...)
}

func (d *Driver) run(ctx context.Context, args ...string) (string, error) {
	cmd := d.cmd(ctx, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), errs.Wrap(errs.KindContainer, fmt.Sprintf("%s %s", d.binary, strings.Join(args, " ")), fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}
	return stdout.String(), nil
}

// CreateConfig carries everything Create needs to launch a workload's
// container.
type CreateConfig struct {
	Name         string // serverUuid, used as the container name
	Image        string
	Startup      string
	Env          []string
	MemoryMB     int64
	CPUCores     float64
	DataDir      string
	ContainerDir string // fixed mount point inside the container
	PrimaryPort  int
	PortBindings types.PortBindings
	NetworkMode  types.NetworkMode
	NetworkName  string
	NetworkIP    string
}

// fixedCapabilities is the exact capability set the container keeps after
// dropping ALL.
var fixedCapabilities = []string{"CHOWN", "SETUID", "SETGID", "NET_BIND_SERVICE"}

// Create prepares the console FIFO, builds the CLI invocation, and launches
// the container detached. On failure the console directory is torn down and
// any static IP reservation release is best-effort.
func (d *Driver) Create(ctx context.Context, cfg CreateConfig) (containerIP string, err error) {
	logger := log.WithContainer(cfg.Name)

	consoleDir, err := prepareConsoleDir(cfg.Name)
	if err != nil {
		return "", errs.Wrap(errs.KindFilesystem, "prepare console dir", err)
	}
	defer func() {
		if err != nil {
			_ = removeConsoleDir(cfg.Name)
			if cfg.NetworkIP != "" && cfg.NetworkName != "" {
				releaseIPReservation(cfg.NetworkName, cfg.NetworkIP)
			}
		}
	}()

	if err = d.consoles.attach(cfg.Name, consoleDir); err != nil {
		return "", errs.Wrap(errs.KindIO, "attach console fifo", err)
	}

	entrypoint, err := writeEntrypointScript(consoleDir, cfg.Startup)
	if err != nil {
		return "", errs.Wrap(errs.KindFilesystem, "write entrypoint", err)
	}

	args := []string{"run", "-d", "--name", cfg.Name}
	args = append(args, "--memory", fmt.Sprintf("%dm", cfg.MemoryMB))
	if cfg.CPUCores > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(cfg.CPUCores, 'f', -1, 64))
	}
	args = append(args, "--security-opt", "no-new-privileges")
	args = append(args, "--cap-drop", "ALL")
	for _, cap := range fixedCapabilities {
		args = append(args, "--cap-add", cap)
	}
	args = append(args, "-v", fmt.Sprintf("%s:%s", cfg.DataDir, cfg.ContainerDir))
	args = append(args, "-v", fmt.Sprintf("%s:%s", consoleDir, consoleMountPath))
	args = append(args, "-w", cfg.ContainerDir)

	for _, hostPath := range []string{"/etc/machine-id", "/sys/class/dmi/id/product_uuid"} {
		if pathExists(hostPath) {
			args = append(args, "-v", fmt.Sprintf("%s:%s:ro", hostPath, hostPath))
		}
	}

	for _, e := range cfg.Env {
		args = append(args, "-e", e)
	}

	switch cfg.NetworkMode {
	case types.NetworkModeHost:
		args = append(args, "--network", "host")
	case types.NetworkModeBridge, "":
		args = append(args, "--network", "bridge")
		args = append(args, d.portArgs(cfg)...)
	default:
		args = append(args, "--network", string(cfg.NetworkMode))
		if cfg.NetworkIP != "" {
			args = append(args, "--ip", cfg.NetworkIP)
		}
		args = append(args, d.portArgs(cfg)...)
	}

	args = append(args, "--entrypoint", entrypoint, cfg.Image)

	if _, err = d.run(ctx, args...); err != nil {
		return "", err
	}

	containerIP, ipErr := d.ContainerIP(ctx, cfg.Name)
	if ipErr != nil {
		logger.Warn().Err(ipErr).Msg("could not resolve container ip after create")
	}
	return containerIP, nil
}

func (d *Driver) portArgs(cfg CreateConfig) []string {
	if len(cfg.PortBindings) == 0 {
		return []string{"-p", fmt.Sprintf("%d", cfg.PrimaryPort)}
	}
	var out []string
	for containerPort, hostPort := range cfg.PortBindings {
		out = append(out, "-p", fmt.Sprintf("%d:%s", hostPort, containerPort))
	}
	return out
}

// Start starts a stopped container, reattaching its console writer.
func (d *Driver) Start(ctx context.Context, name string) error {
	if _, err := d.run(ctx, "start", name); err != nil {
		return err
	}
	if dir, ok := consoleDirExists(name); ok {
		_ = d.consoles.attach(name, dir)
	}
	return nil
}

// Stop stops a container gracefully, waiting up to timeout before the
// runtime escalates to SIGKILL.
func (d *Driver) Stop(ctx context.Context, name string, timeout time.Duration) error {
	_, err := d.run(ctx, "stop", "-t", fmt.Sprintf("%d", int(timeout.Seconds())), name)
	return err
}

// Kill sends SIGKILL (or the given signal) immediately.
func (d *Driver) Kill(ctx context.Context, name, signal string) error {
	if signal == "" {
		signal = "SIGKILL"
	}
	_, err := d.run(ctx, "kill", "-s", signal, name)
	return err
}

// Remove force-removes the container and tears down its console FIFO
// directory.
func (d *Driver) Remove(ctx context.Context, name string) error {
	d.consoles.detach(name)
	_, err := d.run(ctx, "rm", "-f", name)
	_ = removeConsoleDir(name)
	return err
}

func pathExists(p string) bool {
	_, err := statNoFollow(p)
	return err == nil
}
