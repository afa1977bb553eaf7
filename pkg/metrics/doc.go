/*
Package metrics registers fleetagent's Prometheus metrics and exposes them
over the loopback HTTP server's /metrics endpoint (see pkg/localhttp).

Metrics are grouped by subsystem: the control session (connection state,
reconnects, heartbeats, per-command outcome and latency), the runtime
(container counts and lifecycle duration), the reconciler (sweep duration,
cycle count, armed exit monitors), storage (disk usage, resize duration),
backups (bytes transferred, per-kind duration and outcome), and the
sandboxed file interface (per-operation outcome).

Collector periodically samples the runtime driver for the gauges a single
event can't keep current on its own; everything else is updated inline by
the component that owns the transition. Timer times operations for the
duration histograms, and the healthChecker component registry backs the
/health, /ready and /live handlers independent of any one subsystem.
*/
package metrics
