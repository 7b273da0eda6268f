package manager

import (
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.CreateApp("a"))
	require.NoError(t, m.CreateChannel("a", "c"))
	_, err := m.CreateMailboxUser("bob")
	require.NoError(t, err)

	c := NewMetricsCollector(m, time.Hour)
	c.Start()
	defer c.Stop()

	// Start collects once immediately.
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.AppsTotal) == 1 &&
			testutil.ToFloat64(metrics.ChannelsTotal) == 1 &&
			testutil.ToFloat64(metrics.UsersTotal) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMetricsCollectorDefaultInterval(t *testing.T) {
	c := NewMetricsCollector(newManager(t), 0)
	assert.Equal(t, DefaultCollectInterval, c.interval)
}
