package ddns

import (
	"fmt"
	"net/netip"
	"time"
)

// TimeLayout is the text form of State timestamps in the state file and in notifications.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// State is the single record describing the outcome of the last update attempts.
// A zero State is the default used when nothing has been persisted yet.
type State struct {
	CurrentIP    netip.Addr // last address confirmed by the provider; zero when never set
	AttemptCount int        // consecutive failures since the last success
	LastUpdated  time.Time  // zero when never set
	LastError    time.Time  // zero when not failing
	IsError      bool
}

// NeedsUpdate reports whether observed must be pushed to the provider.
func (s State) NeedsUpdate(observed netip.Addr) bool {
	return s.IsError || observed != s.CurrentIP
}

// Succeeded returns the state after the provider accepted addr at now.
func (s State) Succeeded(addr netip.Addr, now time.Time) State {
	return State{
		CurrentIP:   addr,
		LastUpdated: now,
	}
}

// Failed returns the state after a failed attempt at now.
// The previously confirmed address and update time are kept.
func (s State) Failed(now time.Time) State {
	s.AttemptCount++
	s.LastError = now
	s.IsError = true
	return s
}

// CoolingDown reports whether an attempt at now must be skipped because
// maxAttempts failures have been recorded less than cooldown ago.
// A failing state without a LastError time is never cooling down.
func (s State) CoolingDown(now time.Time, maxAttempts int, cooldown time.Duration) bool {
	if !s.IsError || s.AttemptCount < maxAttempts {
		return false
	}
	if s.LastError.IsZero() {
		return false
	}
	return now.Sub(s.LastError) < cooldown
}

// Message is the human readable summary sent after every attempt.
func (s State) Message() string {
	if s.IsError {
		return fmt.Sprintf("Failed to update IP. Attempts: %d. Last error: %s", s.AttemptCount, formatTime(s.LastError))
	}
	return fmt.Sprintf("Current IP: %s. Last updated: %s", formatIP(s.CurrentIP), formatTime(s.LastUpdated))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "null"
	}
	return t.UTC().Format(TimeLayout)
}

func formatIP(a netip.Addr) string {
	if !a.IsValid() {
		return "null"
	}
	return a.String()
}
