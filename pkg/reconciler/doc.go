// Package reconciler keeps the backend's view of each workload's state
// converged with the runtime: an instant path driven by the runtime's
// namespace-wide event stream, a periodic full sweep, and a per-workload
// exit monitor armed on start and cancelled on stop/kill.
package reconciler
