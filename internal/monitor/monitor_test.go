package monitor

import (
	"sync"
	"testing"
)

func TestMonitorArithmetic(t *testing.T) {
	m := New(1000, 0)

	for i := 0; i < 3; i++ {
		m.Report(100)
		m.Update()
	}

	bps, eta, pct, known := m.Snapshot()
	if bps != 100 {
		t.Fatalf("expected 100 B/s got %d", bps)
	}
	if pct != 30 {
		t.Fatalf("expected 30%% got %d", pct)
	}
	if !known || eta != 7 {
		t.Fatalf("expected ETA 7s got %d (known=%v)", eta, known)
	}
}

func TestMonitorNoRate(t *testing.T) {
	m := New(1000, 0)
	m.Update()

	bps, _, _, known := m.Snapshot()
	if bps != 0 {
		t.Fatalf("expected zero rate got %d", bps)
	}
	if known {
		t.Fatalf("ETA should be unknown at zero rate")
	}
}

func TestMonitorAlreadyDownloaded(t *testing.T) {
	m := New(200, 100)
	if _, _, pct, _ := m.Snapshot(); pct != 50 {
		t.Fatalf("expected 50%% on construction got %d", pct)
	}
	m.Report(100)
	m.Update()
	if _, _, pct, _ := m.Snapshot(); pct != 100 {
		t.Fatalf("expected 100%% got %d", pct)
	}
}

func TestMonitorWindowDropsOldest(t *testing.T) {
	m := New(1<<40, 0)

	// Fill the window with zeros, then push WindowSize fast samples; the
	// zero seconds must age out completely.
	for i := 0; i < WindowSize; i++ {
		m.Update()
	}
	for i := 0; i < WindowSize; i++ {
		m.Report(500)
		m.Update()
	}

	bps, _, _, _ := m.Snapshot()
	if bps != 500 {
		t.Fatalf("expected 500 B/s after window turnover got %d", bps)
	}
}

func TestMonitorConcurrentReport(t *testing.T) {
	m := New(1<<30, 0)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Report(1)
			}
		}()
	}
	wg.Wait()

	if drained := m.Update(); drained != 10000 {
		t.Fatalf("expected 10000 drained bytes got %d", drained)
	}
}

func TestBandwidthHistory(t *testing.T) {
	h := NewBandwidthHistory(8) // 1 MB/s capacity

	h.Record(500 * 1000)  // 50%
	h.Record(1000 * 1000) // 100%
	h.Record(9999 * 1000) // clamped

	got := h.Samples()
	want := []float64{50, 100, 100}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: expected %v got %v", i, want[i], got[i])
		}
	}
}

func TestBandwidthHistoryRing(t *testing.T) {
	h := NewBandwidthHistory(8)
	for i := 0; i < WindowSize+5; i++ {
		h.Record(int64(i) * 1000)
	}
	got := h.Samples()
	if len(got) != WindowSize {
		t.Fatalf("expected %d samples got %d", WindowSize, len(got))
	}
	// oldest surviving sample is i=5
	if got[0] != 0.5 {
		t.Fatalf("expected oldest sample 0.5 got %v", got[0])
	}
}
