// Package liveness tracks whether a remote party is still talking to us.
//
// A Monitor is a tiny edge-triggered state machine: Seen marks the party
// online, Check flips it offline once the timeout has elapsed since the last
// contact. Both report transitions only, so callers can emit exactly one
// event per change. Monitors are not safe for concurrent use; the owning
// loop serializes access.
package liveness

import "time"

// Monitor holds the liveness state for one direction of one link.
type Monitor struct {
	timeout  time.Duration
	lastSeen time.Time
	online   bool
}

// NewMonitor returns an offline monitor with the given staleness timeout.
func NewMonitor(timeout time.Duration) *Monitor {
	return &Monitor{timeout: timeout}
}

// Seen records contact at now. It returns true when the monitor was offline
// (including never seen) and is now online.
func (m *Monitor) Seen(now time.Time) bool {
	m.lastSeen = now
	if m.online {
		return false
	}
	m.online = true
	return true
}

// Check runs the staleness test at now and returns true exactly when the
// monitor transitions from online to offline.
func (m *Monitor) Check(now time.Time) bool {
	if !m.online || now.Sub(m.lastSeen) <= m.timeout {
		return false
	}
	m.online = false
	return true
}

// Online reports the current state.
func (m *Monitor) Online() bool { return m.online }

// LastSeen returns the time of the last contact, zero if none.
func (m *Monitor) LastSeen() time.Time { return m.lastSeen }
