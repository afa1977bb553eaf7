/*
Package events implements a lightweight in-memory event bus that decouples
the runtime driver's event-stream readers from the state reconciler and the
per-workload exit monitors that react to them.

# Architecture

The runtime exposes two event streams: a namespace-wide stream carrying
every container's lifecycle transitions, and a per-container stream scoped
to one workload. Both are read by goroutines in pkg/reconciler; the
namespace-wide stream is republished onto a Broker, while each per-container
stream feeds only its own exit monitor. Broker subscribers receive events
asynchronously over buffered channels and never block the publisher.

# Event types

The EventType values mirror the runtime's own event names: start, die,
stop, kill, pause, unpause, remove, destroy. SettleStates, RemovalStates,
and ExitStates group these into the three ways the reconciler reacts to
them (settle-then-sync, immediate-stopped, exit-code-read).

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			if events.ExitStates[ev.Type] {
				// read exit code, emit server_state_update
			}
		}
	}()

	broker.Publish(&events.Event{Type: events.EventDie, Container: "abc123"})

# Delivery semantics

Publish never blocks on a slow subscriber: each subscriber channel is
buffered (50 events) and a full buffer causes that subscriber to skip the
event rather than stall the broadcast loop. The reconciler's periodic
full sync is the fallback that catches whatever the instant path drops.
*/
package events
