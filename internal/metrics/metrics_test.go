package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndGauge(t *testing.T) {
	StateTransitions.WithLabelValues("Queued").Inc()
	ActiveDownloads.Set(3)
	DownloadedBytes.Add(1024)

	expectedTransitions := `# HELP stashd_state_transitions_total Count of download state transitions applied by the scheduler.
# TYPE stashd_state_transitions_total counter
stashd_state_transitions_total{state="Queued"} 1
`
	if err := testutil.CollectAndCompare(StateTransitions, strings.NewReader(expectedTransitions)); err != nil {
		t.Fatalf("unexpected transitions metric: %v", err)
	}

	expectedGauge := `# HELP stashd_active_downloads Number of downloads currently running.
# TYPE stashd_active_downloads gauge
stashd_active_downloads 3
`
	if err := testutil.CollectAndCompare(ActiveDownloads, strings.NewReader(expectedGauge)); err != nil {
		t.Fatalf("unexpected active downloads gauge: %v", err)
	}

	expectedBytes := `# HELP stashd_downloaded_bytes_total Bytes fetched from the sharehoster.
# TYPE stashd_downloaded_bytes_total counter
stashd_downloaded_bytes_total 1024
`
	if err := testutil.CollectAndCompare(DownloadedBytes, strings.NewReader(expectedBytes)); err != nil {
		t.Fatalf("unexpected downloaded bytes counter: %v", err)
	}
}
