package ddns_test

import (
	"net/netip"
	"testing"
	"time"

	ddns "github.com/Travis-Britz/ddnsd"
	"github.com/stretchr/testify/assert"
)

func TestStateMessage(t *testing.T) {
	tests := []struct {
		state ddns.State
		want  string
	}{
		{ddns.State{}, "Current IP: null. Last updated: null"},
		{
			ddns.State{CurrentIP: netip.MustParseAddr("1.2.3.5"), LastUpdated: time.Date(2026, 10, 18, 4, 30, 0, 0, time.FixedZone("EST", -5*3600))},
			"Current IP: 1.2.3.5. Last updated: 2026-10-18T09:30:00.000Z",
		},
		{
			ddns.State{CurrentIP: netip.MustParseAddr("1.2.3.4"), AttemptCount: 3, LastError: testNow, IsError: true},
			"Failed to update IP. Attempts: 3. Last error: 2026-10-18T09:30:00.000Z",
		},
		{ddns.State{AttemptCount: 1, IsError: true}, "Failed to update IP. Attempts: 1. Last error: null"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.Message())
	}
}

func TestStateNeedsUpdate(t *testing.T) {
	a := netip.MustParseAddr("1.2.3.4")
	b := netip.MustParseAddr("1.2.3.5")

	assert.False(t, ddns.State{CurrentIP: a}.NeedsUpdate(a))
	assert.True(t, ddns.State{CurrentIP: a}.NeedsUpdate(b))
	assert.True(t, ddns.State{}.NeedsUpdate(a))
	assert.True(t, ddns.State{CurrentIP: a, IsError: true}.NeedsUpdate(a))
}

func TestStateTransitions(t *testing.T) {
	a := netip.MustParseAddr("1.2.3.4")
	st := ddns.State{CurrentIP: a, LastUpdated: testNow.Add(-time.Hour)}

	st = st.Failed(testNow)
	st = st.Failed(testNow.Add(time.Minute))
	assert.Equal(t, ddns.State{
		CurrentIP:    a,
		AttemptCount: 2,
		LastUpdated:  testNow.Add(-time.Hour),
		LastError:    testNow.Add(time.Minute),
		IsError:      true,
	}, st)

	b := netip.MustParseAddr("1.2.3.5")
	st = st.Succeeded(b, testNow.Add(2*time.Minute))
	assert.Equal(t, ddns.State{CurrentIP: b, LastUpdated: testNow.Add(2 * time.Minute)}, st)
}

func TestStateCoolingDown(t *testing.T) {
	const maxAttempts = 3
	cooldown := 15 * time.Minute

	tests := []struct {
		name  string
		state ddns.State
		want  bool
	}{
		{"healthy", ddns.State{}, false},
		{"below max", ddns.State{IsError: true, AttemptCount: 2, LastError: testNow}, false},
		{"just failed", ddns.State{IsError: true, AttemptCount: 3, LastError: testNow.Add(-time.Millisecond)}, true},
		{"above max", ddns.State{IsError: true, AttemptCount: 7, LastError: testNow.Add(-14 * time.Minute)}, true},
		{"expired", ddns.State{IsError: true, AttemptCount: 3, LastError: testNow.Add(-16 * time.Minute)}, false},
		{"exactly expired", ddns.State{IsError: true, AttemptCount: 3, LastError: testNow.Add(-cooldown)}, false},
		{"null last error", ddns.State{IsError: true, AttemptCount: 3}, false},
		{"not failing", ddns.State{AttemptCount: 3, LastError: testNow}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.CoolingDown(testNow, maxAttempts, cooldown))
		})
	}
}
