package monitor

// BandwidthHistory is a fixed-length ring of link-utilization percentages,
// recorded once per second from the sum of all active downloads' byte
// deltas. Not safe for concurrent use; the Scheduler's timer owns it.
type BandwidthHistory struct {
	samples  [WindowSize]float64
	next     int
	count    int
	capacity float64 // link capacity in bytes per second
}

func NewBandwidthHistory(connectionMbits int) *BandwidthHistory {
	capacity := float64(connectionMbits) * 1000 * 1000 / 8
	if capacity <= 0 {
		capacity = 1
	}
	return &BandwidthHistory{capacity: capacity}
}

// Record appends the utilization for one second's worth of downloaded bytes.
func (h *BandwidthHistory) Record(bytes int64) {
	pct := float64(bytes) / h.capacity * 100
	if pct > 100 {
		pct = 100
	}
	h.samples[h.next] = pct
	h.next = (h.next + 1) % WindowSize
	if h.count < WindowSize {
		h.count++
	}
}

// Samples returns the recorded utilization percentages, oldest first.
func (h *BandwidthHistory) Samples() []float64 {
	out := make([]float64, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.samples[(h.next-h.count+i+WindowSize)%WindowSize]
	}
	return out
}
