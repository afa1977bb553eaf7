/*
Package runtime drives the external container CLI that hosts workload
containers, scoped to a fixed namespace. It is the only package that
shells out to the container tooling; everything above it (the control
session, the reconciler, the telemetry loops) speaks in terms of this
package's Driver.

# Responsibilities

The Driver covers the full per-container surface the agent needs:

  - Lifecycle: Create, Start, Stop (graceful with timeout), Kill, Remove.
  - Console: a host-side stdin FIFO per container, created before the
    container starts and bind-mounted into it, plus SendInput with an
    exec-based fallback when no FIFO handle is usable.
  - Observation: IsRunning, Exists, ContainerIP, HostPort, ExitCode,
    List, Stats, GetLogs, SpawnLogStream.
  - Events: WatchAll (namespace-wide JSON stream) and WatchContainer
    (filtered to one name), both long-running child processes whose
    stdout the caller pumps line by line.
  - CNI hygiene: CleanStaleIPAllocations sweeps host-local IPAM files
    that no running container holds.

# Console FIFO

Create prepares /tmp/<scope>/<name>/stdin as a FIFO and opens it
read-write with O_NONBLOCK before launching the container, then clears
O_NONBLOCK. The open mode is load-bearing: a write-only open of a FIFO
blocks until a reader exists, which would deadlock against the container
start, while a read-write open succeeds immediately. A small entrypoint
script written next to the FIFO redirects it onto stdin and execs the
workload's startup command, so stdin keeps working regardless of what
the image declares as its entrypoint.

The consoleRegistry holds at most one open writer per container. Remove
closes and deletes the writer along with the console directory; a fresh
control session reattaches writers for containers still running via
RestoreConsoleWriters.

# Container creation

Create builds one `run -d` invocation: memory and CPU limits,
no-new-privileges, cap-drop ALL plus the fixed add-back set (CHOWN,
SETUID, SETGID, NET_BIND_SERVICE), the workload directory mounted at a
fixed container path, read-only binds of the host machine-id and
product-uuid when present, the console directory mount, and the
entrypoint script. Networking is host, bridge (the default), or a named
CNI network with an optional static --ip. Port publishing is skipped
under host networking; with no explicit bindings the primary container
port is exposed on an ephemeral host port that HostPort can read back
after start.

On any create failure the console directory is removed and, if a static
IP was requested, its host-local allocation file is released best-effort.

# Error surface

Every CLI invocation that exits non-zero is wrapped into a container
error carrying the command line and trimmed stderr, so callers can
forward a useful reason to the backend without re-running anything.

Usage:

	driver := runtime.NewDriver("nerdctl", "fleet")

	ip, err := driver.Create(ctx, runtime.CreateConfig{
		Name:         "u-1",
		Image:        "registry.example.com/game:latest",
		Startup:      "./server --port 25565",
		MemoryMB:     2048,
		CPUCores:     2,
		DataDir:      "/var/lib/fleet/u-1",
		ContainerDir: "/data",
		PrimaryPort:  25565,
	})
	if err != nil {
		return err
	}

	stream, err := driver.WatchAll(ctx)
	if err != nil {
		return err
	}
	go runtime.PumpLines(stream.Stdout, func(line string) bool {
		if ev, ok := runtime.ParseEvent(line); ok {
			broker.Publish(ev)
		}
		return true
	})
*/
package runtime
