package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/fleetagent/pkg/events"
	"github.com/cuemby/fleetagent/pkg/runtime"
)

type fakeEmitter struct {
	mu    sync.Mutex
	calls []call
}

type call struct {
	msgType string
	fields  map[string]any
}

func (f *fakeEmitter) Emit(msgType string, fields map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{msgType: msgType, fields: fields})
}

func (f *fakeEmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestReconciler() (*Reconciler, *fakeEmitter) {
	emitter := &fakeEmitter{}
	broker := events.NewBroker()
	broker.Start()
	// A driver whose binary exits immediately: every CLI call errors, the
	// per-container event stream dies at once, and the monitors fall back
	// to the broker the tests publish on.
	r := New(runtime.NewDriver("false", "test"), broker, emitter)
	return r, emitter
}

func TestArmExitMonitor_TracksOneHandlePerName(t *testing.T) {
	r, _ := newTestReconciler()

	r.ArmExitMonitor("web-1")
	r.monMu.Lock()
	n := len(r.monitors)
	r.monMu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 armed monitor, got %d", n)
	}

	// Re-arming the same name must cancel the previous monitor, not leak a
	// second one.
	r.ArmExitMonitor("web-1")
	r.monMu.Lock()
	n = len(r.monitors)
	r.monMu.Unlock()
	if n != 1 {
		t.Fatalf("expected re-arm to keep exactly 1 monitor, got %d", n)
	}

	r.DisarmExitMonitor("web-1")
	r.monMu.Lock()
	n = len(r.monitors)
	r.monMu.Unlock()
	if n != 0 {
		t.Fatalf("expected disarm to remove the monitor, got %d remaining", n)
	}
}

func TestDisarmExitMonitor_UnknownNameIsNoop(t *testing.T) {
	r, _ := newTestReconciler()
	r.DisarmExitMonitor("never-armed") // must not panic
}

func TestRunExitMonitor_EventFastPathReportsExit(t *testing.T) {
	r, emitter := newTestReconciler()

	r.ArmExitMonitor("web-2")
	r.broker.Publish(&events.Event{Type: events.EventDie, Container: "web-2", ExitCode: 137})

	deadline := time.Now().Add(time.Second)
	for emitter.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if emitter.count() != 1 {
		t.Fatalf("expected exactly one emitted message, got %d", emitter.count())
	}

	emitter.mu.Lock()
	got := emitter.calls[0]
	emitter.mu.Unlock()
	if got.msgType != "server_state_update" {
		t.Fatalf("msgType = %q", got.msgType)
	}
	if got.fields["exitCode"] != 137 {
		t.Fatalf("exitCode = %v", got.fields["exitCode"])
	}

	r.monMu.Lock()
	_, armed := r.monitors["web-2"]
	r.monMu.Unlock()
	if armed {
		t.Fatalf("expected monitor to clear itself after reporting exit")
	}
}

func TestRunInstantSync_RemovalEmitsImmediateStoppedSync(t *testing.T) {
	r, emitter := newTestReconciler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.runInstantSync(ctx)

	r.broker.Publish(&events.Event{Type: events.EventDestroy, Container: "web-3"})

	deadline := time.Now().Add(time.Second)
	for emitter.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if emitter.count() != 1 {
		t.Fatalf("expected exactly one emitted message, got %d", emitter.count())
	}

	emitter.mu.Lock()
	got := emitter.calls[0]
	emitter.mu.Unlock()
	if got.msgType != "server_state_sync" || got.fields["state"] != "stopped" {
		t.Fatalf("unexpected sync message: %+v", got)
	}
}
