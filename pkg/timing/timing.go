// Package timing breaks a request's lifetime down into the phases a
// Connection can actually observe server-side: how long it sat queued
// behind prior work on the connection before its goroutine got to run,
// and how long the pipeline itself took to produce a Response.
package timing

import (
	"fmt"
	"time"
)

// Metrics is the timing breakdown for one request, read back out of the
// request scope by Logger once a response is ready.
type Metrics struct {
	QueueWait  time.Duration `json:"queue_wait"`
	Processing time.Duration `json:"processing"`
	Total      time.Duration `json:"total"`
}

// Timer measures one request's accepted → processed → done lifecycle.
type Timer struct {
	accepted       time.Time
	processStart   time.Time
	processEnd     time.Time
}

// NewTimer starts a Timer at the moment a request was handed to the
// connection (i.e. fully parsed off the wire).
func NewTimer() *Timer {
	return &Timer{accepted: time.Now()}
}

// StartProcessing marks when the pipeline goroutine actually began running
// for this request, after any queueing behind prior requests.
func (t *Timer) StartProcessing() {
	t.processStart = time.Now()
}

// EndProcessing marks when the pipeline produced a Response.
func (t *Timer) EndProcessing() {
	t.processEnd = time.Now()
}

// Metrics computes the final breakdown; call after EndProcessing.
func (t *Timer) Metrics() Metrics {
	m := Metrics{Total: time.Since(t.accepted)}
	if !t.processStart.IsZero() {
		m.QueueWait = t.processStart.Sub(t.accepted)
	}
	if !t.processEnd.IsZero() && !t.processStart.IsZero() {
		m.Processing = t.processEnd.Sub(t.processStart)
	}
	return m
}

// String gives a human-readable one-line summary for debug logging.
func (m Metrics) String() string {
	return fmt.Sprintf("queue_wait: %v, processing: %v, total: %v", m.QueueWait, m.Processing, m.Total)
}
