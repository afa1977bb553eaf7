package runtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// sendInputViaExec falls back to piping input through the container's own
// process table when no FIFO handle is usable: it execs
// `sh -c 'cat > /proc/<pid>/fd/0'` against the target PID, resolved as the
// unique child of PID 1 inside the container's namespace.
func (d *Driver) sendInputViaExec(ctx context.Context, name, data string) error {
	pid, err := d.resolveStdinPID(ctx, name)
	if err != nil {
		return err
	}
	args := []string{"exec", "-i", name, "sh", "-c", fmt.Sprintf("cat > /proc/%d/fd/0", pid)}
	cmd := d.cmd(ctx, args...)
	cmd.Stdin = strings.NewReader(data)
	return cmd.Run()
}

// resolveStdinPID inspects the container's process table for the unique
// child of PID 1.
func (d *Driver) resolveStdinPID(ctx context.Context, name string) (int, error) {
	out, err := d.run(ctx, "exec", name, "ps", "-o", "pid,ppid", "--no-headers")
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		pid, err1 := strconv.Atoi(fields[0])
		ppid, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			continue
		}
		if ppid == 1 && pid != 1 {
			return pid, nil
		}
	}
	return 0, fmt.Errorf("no child of pid 1 found in container %s", name)
}

// Exec runs command inside the container and returns its stdout; stderr is
// carried in the error when the command fails.
func (d *Driver) Exec(ctx context.Context, name string, command []string) (string, error) {
	args := append([]string{"exec", name}, command...)
	return d.run(ctx, args...)
}
