// Package localhttp serves the agent's loopback operational endpoints:
// /health (component health), /live (liveness), /ready (readiness, gated
// on critical components), and /metrics (Prometheus). It never serves anything workload-facing;
// that surface belongs to the control session over the WebSocket.
package localhttp
