package ddns

import (
	"context"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.IncTick(TickChecked)
	pr.IncTick(TickChecked)
	pr.IncTick(TickCooldown)
	pr.IncUpdate(true)
	pr.IncUpdate(false)
	pr.IncNotification(false)
	pr.SetAttemptCount(2)
	pr.ObserveCycleDuration(150 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(pr.ticks.WithLabelValues(TickChecked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.ticks.WithLabelValues(TickCooldown)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.updates.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.updates.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.notifications.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pr.attemptCount))

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.ElementsMatch(t, []string{
		"ddns_ticks_total",
		"ddns_update_attempts_total",
		"ddns_notifications_total",
		"ddns_attempt_count",
		"ddns_cycle_duration_seconds",
	}, names)
}

func TestRecorderWiredIntoDaemon(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	u, err := New(
		UsingProvider(ProviderFunc(func(ctx context.Context, addr netip.Addr) (bool, error) { return false, nil })),
		UsingStore(&FileStore{path: filepath.Join(t.TempDir(), "cache.json"), logger: discard}),
		UsingResolver(staticResolver(netip.MustParseAddr("10.0.0.9"))),
		WithRecorder(pr),
	)
	require.NoError(t, err)
	d, err := NewDaemon(u, DaemonConfig{})
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, TickResultChecked, d.Tick(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.ticks.WithLabelValues(TickChecked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.updates.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.notifications.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.attemptCount))
}
