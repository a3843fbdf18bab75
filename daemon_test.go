package ddns_test

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	ddns "github.com/Travis-Britz/ddnsd"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDaemon(t *testing.T, u *ddns.Updater, cfg ddns.DaemonConfig) *ddns.Daemon {
	t.Helper()
	d, err := ddns.NewDaemon(u, cfg)
	require.NoError(t, err)
	return d
}

func failingState(lastError time.Time) ddns.State {
	return ddns.State{
		CurrentIP:    netip.MustParseAddr("1.2.3.4"),
		AttemptCount: 3,
		LastUpdated:  testNow.Add(-24 * time.Hour),
		LastError:    lastError,
		IsError:      true,
	}
}

func TestTickSkipsDuringCooldown(t *testing.T) {
	f := newFixture("1.2.3.5")
	previous := failingState(testNow.Add(-time.Millisecond))
	f.store.state = previous
	d := newTestDaemon(t, f.updater(t), ddns.DaemonConfig{MaxAttempts: 3, Cooldown: 15 * time.Minute})
	defer d.Close()

	assert.Equal(t, ddns.TickResultCooldown, d.Tick(context.Background()))
	assert.Zero(t, f.provider.callCount())
	assert.Empty(t, f.store.saves())
	assert.Empty(t, f.notifier.sent())
	assert.Equal(t, previous, f.store.Load())
}

func TestTickResetsAfterCooldown(t *testing.T) {
	f := newFixture("1.2.3.4")
	f.store.state = failingState(testNow.Add(-16 * time.Minute))
	d := newTestDaemon(t, f.updater(t), ddns.DaemonConfig{MaxAttempts: 3, Cooldown: 15 * time.Minute})
	defer d.Close()

	assert.Equal(t, ddns.TickResultChecked, d.Tick(context.Background()))
	assert.Equal(t, 1, f.provider.callCount())

	saves := f.store.saves()
	require.Len(t, saves, 2)
	assert.Zero(t, saves[0].AttemptCount, "attempt count is reset and persisted before the attempt")
	assert.True(t, saves[0].IsError)
	assert.Equal(t, ddns.State{CurrentIP: netip.MustParseAddr("1.2.3.4"), LastUpdated: testNow}, saves[1])
}

func TestTickFailsAgainAfterCooldown(t *testing.T) {
	f := newFixture("1.2.3.4")
	f.provider.ok = false
	f.store.state = failingState(testNow.Add(-16 * time.Minute))
	d := newTestDaemon(t, f.updater(t), ddns.DaemonConfig{MaxAttempts: 3, Cooldown: 15 * time.Minute})
	defer d.Close()

	assert.Equal(t, ddns.TickResultChecked, d.Tick(context.Background()))
	st := f.store.Load()
	assert.Equal(t, 1, st.AttemptCount)
	assert.Equal(t, testNow, st.LastError)
}

func TestTickCooldownAfterMaxAttempts(t *testing.T) {
	f := newFixture("1.2.3.5")
	f.provider.ok = false
	f.store.state = ddns.State{CurrentIP: netip.MustParseAddr("1.2.3.4")}
	d := newTestDaemon(t, f.updater(t), ddns.DaemonConfig{MaxAttempts: 3, Cooldown: 15 * time.Minute})
	defer d.Close()

	for i := 1; i <= 3; i++ {
		require.Equal(t, ddns.TickResultChecked, d.Tick(context.Background()))
		require.Equal(t, i, f.store.Load().AttemptCount)
		f.clock.Advance(time.Minute)
	}

	assert.Equal(t, ddns.TickResultCooldown, d.Tick(context.Background()))
	assert.Equal(t, 3, f.provider.callCount())
	assert.Len(t, f.notifier.sent(), 3)
	assert.Equal(t, 3, f.store.Load().AttemptCount)

	f.provider.mu.Lock()
	f.provider.ok = true
	f.provider.mu.Unlock()
	f.clock.Advance(15 * time.Minute)

	assert.Equal(t, ddns.TickResultChecked, d.Tick(context.Background()))
	assert.Equal(t, 4, f.provider.callCount())
	st := f.store.Load()
	assert.False(t, st.IsError)
	assert.Equal(t, netip.MustParseAddr("1.2.3.5"), st.CurrentIP)
}

func TestTickNullLastErrorIsNotCoolingDown(t *testing.T) {
	f := newFixture("1.2.3.4")
	f.store.state = failingState(time.Time{})
	d := newTestDaemon(t, f.updater(t), ddns.DaemonConfig{})
	defer d.Close()

	assert.Equal(t, ddns.TickResultChecked, d.Tick(context.Background()))
	assert.Equal(t, 1, f.provider.callCount())
}

func TestTickResetSaveFailure(t *testing.T) {
	f := newFixture("1.2.3.4")
	f.store.state = failingState(testNow.Add(-time.Hour))
	f.store.saveErr = ddns.NewError(ddns.KindPersistence, "write state file", assert.AnError)
	d := newTestDaemon(t, f.updater(t), ddns.DaemonConfig{})
	defer d.Close()

	assert.Equal(t, ddns.TickResultError, d.Tick(context.Background()))
	assert.Zero(t, f.provider.callCount())
}

func TestTickRecoversPanics(t *testing.T) {
	f := newFixture("1.2.3.5")
	f.provider.hook = func() { panic("provider exploded") }
	d := newTestDaemon(t, f.updater(t), ddns.DaemonConfig{})
	defer d.Close()

	assert.NotPanics(t, func() {
		assert.Equal(t, ddns.TickResultError, d.Tick(context.Background()))
	})
	// the guard is released after a panic
	f.provider.mu.Lock()
	f.provider.hook = nil
	f.provider.mu.Unlock()
	assert.Equal(t, ddns.TickResultChecked, d.Tick(context.Background()))
}

func TestTickIsSingleFlight(t *testing.T) {
	f := newFixture("1.2.3.5")
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.provider.hook = func() {
		once.Do(func() { close(entered) })
		<-release
	}
	d := newTestDaemon(t, f.updater(t), ddns.DaemonConfig{})
	defer d.Close()

	done := make(chan ddns.TickResult)
	go func() { done <- d.Tick(context.Background()) }()

	<-entered
	assert.Equal(t, ddns.TickResultBusy, d.Tick(context.Background()))
	close(release)
	assert.Equal(t, ddns.TickResultChecked, <-done)
	assert.Equal(t, 1, f.provider.callCount())
}

func TestTickIPDetectionFailure(t *testing.T) {
	f := newFixture("1.2.3.5")
	f.resolve = func(context.Context) (netip.Addr, error) { return netip.Addr{}, assert.AnError }
	d := newTestDaemon(t, f.updater(t), ddns.DaemonConfig{})
	defer d.Close()

	assert.Equal(t, ddns.TickResultError, d.Tick(context.Background()))
	assert.Empty(t, f.store.saves())
}

func TestNewDaemonValidation(t *testing.T) {
	f := newFixture("1.2.3.5")
	u := f.updater(t)

	_, err := ddns.NewDaemon(nil, ddns.DaemonConfig{})
	assert.Error(t, err)

	for name, cfg := range map[string]ddns.DaemonConfig{
		"bad schedule":      {Schedule: "every minute"},
		"negative attempts": {MaxAttempts: -1},
		"negative cooldown": {Cooldown: -time.Second},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ddns.NewDaemon(u, cfg)
			require.Error(t, err)
			assert.True(t, ddns.IsKind(err, ddns.KindConfig))
		})
	}
}

func TestRunOnStart(t *testing.T) {
	f := newFixture("1.2.3.5")
	u, err := ddns.New(
		ddns.UsingProvider(f.provider),
		ddns.UsingStore(f.store),
		ddns.UsingNotifier(f.notifier),
		ddns.UsingResolver(ddns.ResolverFunc(func(context.Context) (netip.Addr, error) { return f.ip, nil })),
		ddns.WithClock(clockwork.NewRealClock()),
	)
	require.NoError(t, err)
	d := newTestDaemon(t, u, ddns.DaemonConfig{RunOnStart: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return len(f.notifier.sent()) > 0 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, f.provider.callCount())
	assert.Equal(t, netip.MustParseAddr("1.2.3.5"), f.store.Load().CurrentIP)
}
