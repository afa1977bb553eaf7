package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/fleetagent/pkg/events"
	"github.com/cuemby/fleetagent/pkg/log"
	"github.com/cuemby/fleetagent/pkg/metrics"
	"github.com/cuemby/fleetagent/pkg/runtime"
	"github.com/cuemby/fleetagent/pkg/types"
)

// Emitter sends an outbound control-channel message. The control session's
// writer satisfies this; the reconciler never depends on the session
// package directly, only on this narrow handle.
type Emitter interface {
	Emit(msgType string, fields map[string]any)
}

const (
	periodicInterval = 5 * time.Minute
	settleDelay      = 100 * time.Millisecond
	pollInterval     = 2 * time.Second
	eventReaderRetry = 5 * time.Second
)

// Reconciler keeps the backend's view of every workload on this node
// converged with what the runtime actually reports, and watches individual
// workloads for their terminal exit so a crash is reported promptly even
// without backend-initiated polling.
type Reconciler struct {
	driver  *runtime.Driver
	broker  *events.Broker
	emitter Emitter
	logger  zerolog.Logger

	monMu    sync.Mutex
	monitors map[string]context.CancelFunc
}

// New creates a Reconciler. Start must be called once to begin the
// instant-path consumer and the periodic sweep.
func New(driver *runtime.Driver, broker *events.Broker, emitter Emitter) *Reconciler {
	return &Reconciler{
		driver:   driver,
		broker:   broker,
		emitter:  emitter,
		logger:   log.WithComponent("reconciler"),
		monitors: make(map[string]context.CancelFunc),
	}
}

// SetEmitter installs the emitter after construction, resolving the
// construction-order cycle between the reconciler and the control session:
// the session needs a *Reconciler to build, and the reconciler needs an
// Emitter the session itself satisfies. Call before Start.
func (r *Reconciler) SetEmitter(e Emitter) {
	r.monMu.Lock()
	defer r.monMu.Unlock()
	r.emitter = e
}

// Start launches the runtime event reader, the instant-path sync consumer,
// and the periodic full sweep. It returns once ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	go r.runEventReader(ctx)
	go r.runInstantSync(ctx)
	r.runPeriodic(ctx)
}

// runEventReader spawns the runtime's namespace-wide event stream and
// republishes every decodable line onto the broker, restarting the stream
// with a fixed backoff if the child process exits or fails to start.
func (r *Reconciler) runEventReader(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		stream, err := r.driver.WatchAll(ctx)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to start event stream")
			if !sleepOrDone(ctx, eventReaderRetry) {
				return
			}
			continue
		}

		go runtime.PumpLines(stream.Stderr, func(line string) bool {
			r.logger.Warn().Str("stream", "events-stderr").Msg(line)
			return true
		})

		runtime.PumpLines(stream.Stdout, func(line string) bool {
			if ev, ok := runtime.ParseEvent(line); ok {
				r.broker.Publish(ev)
			}
			return ctx.Err() == nil
		})

		_ = stream.Wait()
		if !sleepOrDone(ctx, eventReaderRetry) {
			return
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// runInstantSync subscribes to the broker and reacts to every lifecycle
// event: a removal is an immediate stopped sync, anything else settles for
// settleDelay (the runtime's inspect can lag the event by a beat) before a
// full per-container sync.
func (r *Reconciler) runInstantSync(ctx context.Context) {
	sub := r.broker.Subscribe()
	defer r.broker.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			switch {
			case events.RemovalStates[ev.Type]:
				r.emitter.Emit(types.MsgServerStateSync, map[string]any{
					"serverUuid":  ev.Container,
					"containerId": ev.Container,
					"state":       "stopped",
				})
			case events.SettleStates[ev.Type]:
				name := ev.Container
				go func() {
					if !sleepOrDone(ctx, settleDelay) {
						return
					}
					r.syncContainerState(ctx, name)
				}()
			}
		}
	}
}

// syncContainerState inspects one container and emits its current state as
// a server_state_sync message.
func (r *Reconciler) syncContainerState(ctx context.Context, name string) {
	if !r.driver.Exists(ctx, name) {
		r.emitter.Emit(types.MsgServerStateSync, map[string]any{
			"serverUuid":  name,
			"containerId": name,
			"state":       "stopped",
		})
		return
	}

	fields := map[string]any{"serverUuid": name, "containerId": name}
	running, err := r.driver.IsRunning(ctx, name)
	if err != nil {
		r.logger.Warn().Err(err).Str("container", name).Msg("inspect failed during sync")
		return
	}
	if running {
		fields["state"] = "running"
	} else {
		fields["state"] = "stopped"
		if code, err := r.driver.ExitCode(ctx, name); err == nil {
			fields["exitCode"] = code
		}
	}
	r.emitter.Emit(types.MsgServerStateSync, fields)
}

// runPeriodic runs an immediate full sweep followed by one every
// periodicInterval, until ctx is cancelled.
func (r *Reconciler) runPeriodic(ctx context.Context) {
	if err := r.ReconcileNow(ctx); err != nil {
		r.logger.Error().Err(err).Msg("initial reconcile failed")
	}

	ticker := time.NewTicker(periodicInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ReconcileNow(ctx); err != nil {
				r.logger.Error().Err(err).Msg("periodic reconcile failed")
			}
		}
	}
}

// ReconcileNow lists every container the runtime tracks, syncs each one,
// and closes the sweep with a server_state_sync_complete naming every
// container found, letting the backend prune workloads this node no
// longer reports.
func (r *Reconciler) ReconcileNow(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	containers, err := r.driver.List(ctx)
	if err != nil {
		return err
	}

	running := 0
	names := make([]string, 0, len(containers))
	for _, c := range containers {
		names = append(names, c.Name)
		state := "stopped"
		fields := map[string]any{"serverUuid": c.Name, "containerId": c.ID}
		if c.Running {
			state = "running"
			running++
		} else if code, err := r.driver.ExitCode(ctx, c.Name); err == nil {
			fields["exitCode"] = code
		}
		fields["state"] = state
		r.emitter.Emit(types.MsgServerStateSync, fields)
	}
	metrics.ContainersTotal.WithLabelValues("running").Set(float64(running))
	metrics.ContainersTotal.WithLabelValues("stopped").Set(float64(len(containers) - running))

	r.emitter.Emit(types.MsgServerStateSyncDone, map[string]any{"foundContainers": names})
	return nil
}

// ArmExitMonitor starts watching name for its terminal exit. Any
// previously armed monitor for the same name is cancelled first, so
// restart-then-arm never leaves two monitors racing over one workload.
func (r *Reconciler) ArmExitMonitor(name string) {
	r.monMu.Lock()
	defer r.monMu.Unlock()

	if cancel, ok := r.monitors[name]; ok {
		cancel()
	} else {
		metrics.ExitMonitorsArmed.Inc()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.monitors[name] = cancel
	go r.runExitMonitor(ctx, name)
}

// DisarmExitMonitor stops watching name, e.g. because the control session
// issued a deliberate stop or kill and the exit is already accounted for.
func (r *Reconciler) DisarmExitMonitor(name string) {
	r.monMu.Lock()
	defer r.monMu.Unlock()
	if cancel, ok := r.monitors[name]; ok {
		cancel()
		delete(r.monitors, name)
		metrics.ExitMonitorsArmed.Dec()
	}
}

func (r *Reconciler) clearMonitor(name string) {
	r.monMu.Lock()
	defer r.monMu.Unlock()
	if _, ok := r.monitors[name]; ok {
		delete(r.monitors, name)
		metrics.ExitMonitorsArmed.Dec()
	}
}

// runExitMonitor watches one container for its terminal state. The
// primary signal is the runtime's per-container event stream; the broker
// (fed by the namespace-wide stream) and a 2 s poll back it up, so a
// missed or delayed event never leaves a crash unreported.
func (r *Reconciler) runExitMonitor(ctx context.Context, name string) {
	streamCh := r.watchExit(ctx, name)

	sub := r.broker.Subscribe()
	defer r.broker.Unsubscribe(sub)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case code, ok := <-streamCh:
			if !ok {
				// Stream died without a terminal event; the broker and
				// the poll keep covering.
				streamCh = nil
				continue
			}
			r.finishExit(ctx, name, code)
			return

		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Container != name || !events.ExitStates[ev.Type] {
				continue
			}
			r.finishExit(ctx, name, ev.ExitCode)
			return

		case <-ticker.C:
			running, err := r.driver.IsRunning(ctx, name)
			if err != nil {
				continue
			}
			if running {
				continue
			}
			code, _ := r.driver.ExitCode(ctx, name)
			r.reportExit(ctx, name, code)
			r.clearMonitor(name)
			return
		}
	}
}

// watchExit spawns the runtime's per-container event stream and returns a
// channel that delivers the exit code of the first terminal event, then
// closes. A nil return (stream could not be started) blocks forever in
// the caller's select, leaving the broker and poll paths in charge.
func (r *Reconciler) watchExit(ctx context.Context, name string) <-chan int {
	stream, err := r.driver.WatchContainer(ctx, name)
	if err != nil {
		r.logger.Warn().Err(err).Str("container", name).Msg("per-container event stream unavailable, relying on poll")
		return nil
	}
	ch := make(chan int, 1)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Stop() }()
		runtime.PumpLines(stream.Stdout, func(line string) bool {
			ev, ok := runtime.ParseEvent(line)
			if !ok || ev.Container != name || !events.ExitStates[ev.Type] {
				return true
			}
			ch <- ev.ExitCode
			return false
		})
	}()
	return ch
}

// finishExit re-reads the exit code from the runtime when inspect still
// has the container (the event's attribute can lag or be absent), then
// reports and clears the monitor.
func (r *Reconciler) finishExit(ctx context.Context, name string, code int) {
	if c, err := r.driver.ExitCode(ctx, name); err == nil {
		code = c
	}
	r.reportExit(ctx, name, code)
	r.clearMonitor(name)
}

func (r *Reconciler) reportExit(_ context.Context, name string, exitCode int) {
	r.logger.Info().Str("container", name).Int("exitCode", exitCode).Msg("workload exited")
	if exitCode != 0 {
		metrics.ContainerCrashesTotal.Inc()
	}
	r.emitter.Emit(types.MsgServerStateUpdate, map[string]any{
		"serverUuid": name,
		"state":      "crashed",
		"exitCode":   exitCode,
		"reason":     fmt.Sprintf("Container exited with code %d", exitCode),
	})
}
