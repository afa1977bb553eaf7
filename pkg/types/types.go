package types

import (
	"os"
	"sync"
)

// NetworkMode selects how a workload's container is attached to the network.
type NetworkMode string

const (
	NetworkModeHost   NetworkMode = "host"
	NetworkModeBridge NetworkMode = "bridge"
)

// ContainerState is the external lifecycle state reported to the backend.
type ContainerState string

const (
	StateRunning  ContainerState = "running"
	StateStopped  ContainerState = "stopped"
	StateCrashed  ContainerState = "crashed"
	StateError    ContainerState = "error"
	StateStarting ContainerState = "starting"
)

// PortBindings maps a stringified container port to its host port.
type PortBindings map[string]int

// ResourceAllocation captures the resource grant for a workload.
type ResourceAllocation struct {
	MemoryMB int64
	CPUCores float64
	DiskMB   int64
}

// Workload is the in-memory record the agent reconstructs on demand; the
// agent keeps no database of its own, so this is rebuilt from the runtime
// and from inbound command fields rather than loaded from disk.
type Workload struct {
	ServerID   string
	ServerUUID string

	DataDir      string
	PrimaryPort  int
	PortBindings PortBindings
	Resources    ResourceAllocation
	NetworkMode  NetworkMode
	NetworkName  string
	NetworkIP    string
	Environment  map[string]string

	mu            sync.Mutex
	consoleWriter *os.File
}

// SetConsoleWriter installs the host-side FIFO writer for this workload,
// closing whatever writer was previously open. At most one writer may be
// open per workload at any time.
func (w *Workload) SetConsoleWriter(f *os.File) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.consoleWriter != nil && w.consoleWriter != f {
		_ = w.consoleWriter.Close()
	}
	w.consoleWriter = f
}

// ConsoleWriter returns the current console writer, or nil if the workload
// has no open stdin handle.
func (w *Workload) ConsoleWriter() *os.File {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.consoleWriter
}

// ClearConsoleWriter closes and forgets the console writer, if any.
func (w *Workload) ClearConsoleWriter() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.consoleWriter != nil {
		_ = w.consoleWriter.Close()
		w.consoleWriter = nil
	}
}

// EnvSlice renders Environment as NAME=VALUE pairs, suitable for passing to
// the runtime driver.
func (w *Workload) EnvSlice() []string {
	out := make([]string, 0, len(w.Environment))
	for k, v := range w.Environment {
		out = append(out, k+"="+v)
	}
	return out
}

// ContainerStats is the runtime's one-shot resource snapshot. The numeric
// fields stay as the runtime prints them (e.g. "512MiB / 1GiB") since the
// exact stats format is runtime-version-specific; callers that need a
// number parse it themselves.
type ContainerStats struct {
	CPUPercent string
	MemUsage   string
	MemLimit   string
	NetRX      string
	NetTX      string
	BlockRead  string
	BlockWrite string
}

// ContainerInfo is a single row of the runtime's container listing.
type ContainerInfo struct {
	Name    string
	ID      string
	Running bool
}

// HealthReport is the periodic node-wide snapshot sent as a health_report
// event.
type HealthReport struct {
	CPUPercent     float64
	MemoryUsageMB  int64
	MemoryTotalMB  int64
	DiskUsageMB    int64
	DiskTotalMB    int64
	ContainerCount int
	UptimeSeconds  int64
}

// ResourceStats is the per-workload snapshot sent as a resource_stats event.
type ResourceStats struct {
	ServerUUID    string
	CPUPercent    float64
	MemoryUsageMB int64
	NetworkRxB    int64
	NetworkTxB    int64
	DiskIOMB      int64
	DiskUsageMB   int64
	DiskTotalMB   int64
}
