package manager

import (
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
)

// DefaultCollectInterval is how often the collector samples Stats
const DefaultCollectInterval = 15 * time.Second

// MetricsCollector periodically copies manager stats into the gauges
type MetricsCollector struct {
	manager  *Manager
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(mgr *Manager, interval time.Duration) *MetricsCollector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	return &MetricsCollector{
		manager:  mgr,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer close(c.doneCh)

		// Collect immediately on start
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

// Stop stops the collector and waits for it to exit
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *MetricsCollector) collect() {
	stats := c.manager.Stats()

	metrics.AppsTotal.Set(float64(stats.Apps))
	metrics.ChannelsTotal.Set(float64(stats.Channels))
	metrics.UsersTotal.Set(float64(stats.Users))
	metrics.SubscriptionsActive.Set(float64(stats.Subscriptions))
	metrics.QueuedBatches.Set(float64(stats.QueuedBatches))
	metrics.StoredEvents.Set(float64(stats.StoredEvents))
}
