package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Control session metrics
	SessionConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetagent_session_connected",
			Help: "Whether the control session is currently connected (1) or not (0)",
		},
	)

	SessionReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetagent_session_reconnects_total",
			Help: "Total number of times the control session has reconnected",
		},
	)

	HeartbeatsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetagent_heartbeats_sent_total",
			Help: "Total number of heartbeat messages sent to the backend",
		},
	)

	CommandsHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetagent_commands_handled_total",
			Help: "Total number of inbound control-channel commands handled, by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetagent_command_duration_seconds",
			Help:    "Time taken to handle an inbound control-channel command",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Workload/runtime metrics
	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetagent_containers_total",
			Help: "Number of containers this node currently tracks, by running state",
		},
		[]string{"state"},
	)

	ContainerCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetagent_container_create_duration_seconds",
			Help:    "Time taken to create a workload container",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetagent_container_start_duration_seconds",
			Help:    "Time taken to start a workload container",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetagent_container_stop_duration_seconds",
			Help:    "Time taken to stop a workload container",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerCrashesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetagent_container_crashes_total",
			Help: "Total number of workload containers observed to exit with a non-zero code",
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetagent_reconciliation_duration_seconds",
			Help:    "Time taken for a full reconciliation sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetagent_reconciliation_cycles_total",
			Help: "Total number of reconciliation sweeps completed",
		},
	)

	ExitMonitorsArmed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetagent_exit_monitors_armed",
			Help: "Number of per-workload exit monitors currently armed",
		},
	)

	// Storage metrics
	StorageBytesUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetagent_storage_bytes_used",
			Help: "Bytes used in a workload's loop-mounted disk image",
		},
		[]string{"serverUuid"},
	)

	StorageResizeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetagent_storage_resize_duration_seconds",
			Help:    "Time taken to resize a workload's disk image",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Backup/transfer metrics
	BackupBytesTransferredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetagent_backup_bytes_transferred_total",
			Help: "Total bytes transferred for backup archives, by direction",
		},
		[]string{"direction"},
	)

	BackupOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetagent_backup_operations_total",
			Help: "Total number of backup operations, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	BackupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetagent_backup_duration_seconds",
			Help:    "Time taken for a backup operation, by kind",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"kind"},
	)

	// File interface metrics
	FileOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetagent_file_operations_total",
			Help: "Total number of sandboxed file operations, by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(SessionConnected)
	prometheus.MustRegister(SessionReconnectsTotal)
	prometheus.MustRegister(HeartbeatsSentTotal)
	prometheus.MustRegister(CommandsHandledTotal)
	prometheus.MustRegister(CommandDuration)

	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(ContainerCreateDuration)
	prometheus.MustRegister(ContainerStartDuration)
	prometheus.MustRegister(ContainerStopDuration)
	prometheus.MustRegister(ContainerCrashesTotal)

	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ExitMonitorsArmed)

	prometheus.MustRegister(StorageBytesUsed)
	prometheus.MustRegister(StorageResizeDuration)

	prometheus.MustRegister(BackupBytesTransferredTotal)
	prometheus.MustRegister(BackupOperationsTotal)
	prometheus.MustRegister(BackupDuration)

	prometheus.MustRegister(FileOperationsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
