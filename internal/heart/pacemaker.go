// Package heart tracks heartbeat send/ack timestamps so a caller can detect a
// peer that has stopped acknowledging heartbeats. Unlike a classic pacemaker
// goroutine, Monitor owns no ticker of its own: the auxiliary loop drives
// the timer and calls Sent/Echo/Dead inline, since the voice auxiliary loop
// is a single cooperative select rather than a dedicated heartbeat goroutine.
package heart

import (
	"sync/atomic"
	"time"
)

// AtomicTime is a UnixNano timestamp guarded by atomic load/store.
type AtomicTime struct {
	unixnano int64
}

func (t *AtomicTime) Get() int64 { return atomic.LoadInt64(&t.unixnano) }

func (t *AtomicTime) Set(tm time.Time) { atomic.StoreInt64(&t.unixnano, tm.UnixNano()) }

// Monitor tracks the timestamps of the most recent heartbeat send and the
// most recent ack, and reports whether the connection looks dead.
type Monitor struct {
	Heartrate time.Duration

	SentBeat AtomicTime
	EchoBeat AtomicTime
}

// NewMonitor creates a Monitor for the given heartbeat interval and
// initializes EchoBeat to now, so a fresh connection never reports dead
// before its first real heartbeat.
func NewMonitor(heartrate time.Duration) *Monitor {
	m := &Monitor{Heartrate: heartrate}
	m.EchoBeat.Set(time.Now())
	return m
}

// Sent records that a heartbeat was just sent.
func (m *Monitor) Sent() { m.SentBeat.Set(time.Now()) }

// Echo records that a heartbeat ack was just received.
func (m *Monitor) Echo() { m.EchoBeat.Set(time.Now()) }

// Dead reports whether the most recent send happened more than two
// heartbeat intervals after the most recent echo.
func (m *Monitor) Dead() bool {
	echo := m.EchoBeat.Get()
	sent := m.SentBeat.Get()

	if echo == 0 || sent == 0 {
		return false
	}

	return sent-echo > int64(m.Heartrate)*2
}
