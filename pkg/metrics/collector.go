package metrics

import (
	"context"
	"time"

	"github.com/cuemby/fleetagent/pkg/runtime"
)

// Collector periodically samples the runtime for gauges that aren't
// naturally updated by an event (container counts), the way the
// reconciler updates them on every sweep but finer-grained, between
// sweeps, so /metrics never goes more than its own interval stale.
type Collector struct {
	driver *runtime.Driver
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over driver.
func NewCollector(driver *runtime.Driver) *Collector {
	return &Collector{
		driver: driver,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	containers, err := c.driver.List(ctx)
	if err != nil {
		return
	}

	running := 0
	for _, container := range containers {
		if container.Running {
			running++
		}
	}
	ContainersTotal.WithLabelValues("running").Set(float64(running))
	ContainersTotal.WithLabelValues("stopped").Set(float64(len(containers) - running))
}
