package runtime

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cuemby/fleetagent/pkg/errs"
	"github.com/cuemby/fleetagent/pkg/types"
)

// IsRunning reports whether the container's .State.Running field is
// "true".
func (d *Driver) IsRunning(ctx context.Context, name string) (bool, error) {
	out, err := d.run(ctx, "inspect", "-f", "{{.State.Running}}", name)
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(out) == "true", nil
}

// Exists reports whether a container by this name is known to the
// runtime, running or not.
func (d *Driver) Exists(ctx context.Context, name string) bool {
	_, err := d.run(ctx, "inspect", name)
	return err == nil
}

// ContainerIP returns the first non-empty IP across all networks the
// container is attached to. The inspect template emits one IP per line;
// the first non-blank line wins.
func (d *Driver) ContainerIP(ctx context.Context, name string) (string, error) {
	out, err := d.run(ctx, "inspect", "-f",
		"{{range .NetworkSettings.Networks}}{{.IPAddress}}\n{{end}}", name)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line, nil
		}
	}
	return "", errs.New(errs.KindNotFound, "container has no assigned ip")
}

// HostPort resolves the host port the runtime bound for containerPort,
// used after a create with no explicit bindings to learn the ephemeral
// port back from the runtime. The `port` subcommand prints
// "0.0.0.0:49153" (possibly one line per address family); the first
// parseable port wins.
func (d *Driver) HostPort(ctx context.Context, name string, containerPort int) (int, error) {
	out, err := d.run(ctx, "port", name, strconv.Itoa(containerPort)+"/tcp")
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.LastIndex(line, ":")
		if idx < 0 {
			continue
		}
		port, convErr := strconv.Atoi(line[idx+1:])
		if convErr == nil && port > 0 {
			return port, nil
		}
	}
	return 0, errs.New(errs.KindNotFound, "no host port bound for container port "+strconv.Itoa(containerPort))
}

// ExitCode returns the container's last exit code.
func (d *Driver) ExitCode(ctx context.Context, name string) (int, error) {
	out, err := d.run(ctx, "inspect", "-f", "{{.State.ExitCode}}", name)
	if err != nil {
		return 0, err
	}
	code, convErr := strconv.Atoi(strings.TrimSpace(out))
	if convErr != nil {
		return 0, errs.Wrap(errs.KindInternal, "parse exit code", convErr)
	}
	return code, nil
}

// containerListRow is one row of `runtime ps` output, captured as raw JSON
// fields so callers can pull the ones they need without binding to a
// specific CLI's exact schema.
type containerListRow struct {
	Names []string `json:"Names"`
	ID    string   `json:"ID"`
	State string   `json:"State"`
}

// List enumerates every container the runtime currently tracks under this
// namespace, used by the periodic reconcile sweep and the CNI
// allocation GC.
func (d *Driver) List(ctx context.Context) ([]types.ContainerInfo, error) {
	out, err := d.run(ctx, "ps", "-a", "--format", "json")
	if err != nil {
		return nil, err
	}
	var rows []containerListRow
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var row containerListRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			continue
		}
		rows = append(rows, row)
	}

	out2 := make([]types.ContainerInfo, 0, len(rows))
	for _, row := range rows {
		name := row.ID
		if len(row.Names) > 0 {
			name = row.Names[0]
		}
		out2 = append(out2, types.ContainerInfo{
			Name:    name,
			ID:      row.ID,
			Running: strings.EqualFold(row.State, "running") || strings.EqualFold(row.State, "up"),
		})
	}
	return out2, nil
}
