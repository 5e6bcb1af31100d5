// Package monitor tracks per-download byte throughput and the process-wide
// bandwidth history.
package monitor

import (
	"sync/atomic"
)

// WindowSize is the number of one-second samples kept for rate calculation.
const WindowSize = 30

// Monitor counts bytes for one active download. Report may be called from
// the worker's I/O goroutine at any time; Update and the derived-value
// accessors must only be called from the Scheduler's timer, which serializes
// them.
type Monitor struct {
	totalBytes int64
	current    atomic.Int64
	pending    atomic.Int64

	window [WindowSize]int64
	next   int
	count  int

	rate    int64
	eta     int64 // -1 while unknown
	percent int
}

func New(totalBytes, alreadyDownloaded int64) *Monitor {
	m := &Monitor{totalBytes: totalBytes, eta: -1}
	m.current.Store(alreadyDownloaded)
	m.percent = percentOf(alreadyDownloaded, totalBytes)
	return m
}

// Report adds n downloaded bytes.
func (m *Monitor) Report(n int64) {
	m.current.Add(n)
	m.pending.Add(n)
}

// Update drains the bytes reported since the last call into the rolling
// window and recomputes rate, ETA and percent. It returns the drained byte
// count so the caller can aggregate system-wide throughput.
func (m *Monitor) Update() int64 {
	n := m.pending.Swap(0)

	m.window[m.next] = n
	m.next = (m.next + 1) % WindowSize
	if m.count < WindowSize {
		m.count++
	}

	var sum int64
	for i := 0; i < m.count; i++ {
		sum += m.window[(m.next-1-i+2*WindowSize)%WindowSize]
	}
	m.rate = sum / int64(m.count)

	cur := m.current.Load()
	if m.rate > 0 {
		m.eta = (m.totalBytes - cur) / m.rate
	} else {
		m.eta = -1
	}
	m.percent = percentOf(cur, m.totalBytes)
	return n
}

// Snapshot returns the current derived values. etaKnown is false while no
// positive rate has been observed.
func (m *Monitor) Snapshot() (bytesPerSecond, secondsToComplete int64, percent int, etaKnown bool) {
	return m.rate, m.eta, m.percent, m.eta >= 0
}

func percentOf(current, total int64) int {
	if total <= 0 {
		return 100
	}
	return int(current * 100 / total)
}
