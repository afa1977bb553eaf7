package runtime

import (
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cuemby/fleetagent/pkg/events"
)

// EventStream is a running `events` child process whose stdout must be
// read line-by-line.
type EventStream struct {
	cmd    *exec.Cmd
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// WatchAll spawns the namespace-wide JSON event stream, the basis of the
// event-driven reconciler.
func (d *Driver) WatchAll(ctx context.Context) (*EventStream, error) {
	return d.spawnEvents(ctx, "events", "--format", "json")
}

// WatchContainer spawns an event stream filtered to a single container
// name, used by the per-workload exit monitor.
func (d *Driver) WatchContainer(ctx context.Context, name string) (*EventStream, error) {
	return d.spawnEvents(ctx, "events", "--filter", "container="+name, "--format", "json")
}

func (d *Driver) spawnEvents(ctx context.Context, args ...string) (*EventStream, error) {
	cmd := d.cmd(ctx, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &EventStream{cmd: cmd, Stdout: stdout, Stderr: stderr}, nil
}

// Wait blocks until the event stream's process exits.
func (s *EventStream) Wait() error {
	return s.cmd.Wait()
}

// Stop kills the event stream's process.
func (s *EventStream) Stop() error {
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

// rawEvent is one line of the runtime's JSON event stream.
type rawEvent struct {
	ID     string `json:"ID"`
	Status string `json:"Status"`
	Actor  struct {
		ID         string            `json:"ID"`
		Attributes map[string]string `json:"Attributes"`
	} `json:"Actor"`
}

// ParseEvent decodes one line of the runtime's event stream into an
// events.Event, or returns ok=false if the line isn't a recognized
// lifecycle status.
func ParseEvent(line string) (*events.Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}
	var raw rawEvent
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, false
	}
	status := events.EventType(raw.Status)
	if !events.SettleStates[status] && !events.RemovalStates[status] {
		return nil, false
	}
	name := raw.Actor.Attributes["name"]
	if name == "" {
		name = raw.ID
	}
	ev := &events.Event{
		ID:        raw.ID,
		Type:      status,
		Container: name,
	}
	if code, ok := raw.Actor.Attributes["exitCode"]; ok {
		if n, err := strconv.Atoi(code); err == nil {
			ev.ExitCode = n
		}
	}
	return ev, true
}
