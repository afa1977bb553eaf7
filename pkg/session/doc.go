// Package session implements the control session: the single
// duplex WebSocket channel to the backend that carries the inbound command
// dispatch table and the outbound, mutex-serialized event stream. It is
// the one package that ties every other subsystem (runtime, storage,
// fileiface, firewall, network, backup, reconciler) to the wire protocol.
package session
