/*
Package types defines the data model shared by every other package in the
agent: the Workload record, port and resource configuration, the loose
Envelope used to decode control-channel frames, and the outbound snapshot
types (HealthReport, ResourceStats).

# Workload record

A Workload is reconstructed on demand, never loaded from a local database:
the agent keeps no persistent store of its own, so on reconnect the control
session rebuilds what it needs to know from the runtime driver's own view of
running containers (see pkg/reconciler) plus whatever fields the inbound
command that triggered the operation carried.

# Envelope

Inbound control-channel frames are decoded into an Envelope (a loose
map[string]any keyed by "type") rather than into one rigid struct per
message: the backend tolerates either serverId or serverUuid being absent on
some legacy paths, and a rigid struct with required-field validation would
reject those. Handlers pull the fields they need with the typed accessors
(String, Int, Map, ...) and validate presence themselves.

# Thread safety

Workload's console-writer field is guarded by an internal mutex, so
SetConsoleWriter, ConsoleWriter and ClearConsoleWriter may be called from
several goroutines. Everything else on Workload is set once at
construction and treated as read-only afterward. No other package
constructs a Workload: the live per-container FIFO writers are held by the
runtime driver's console registry (pkg/runtime).
*/
package types
