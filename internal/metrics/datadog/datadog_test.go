package datadog

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tradepipe/internal/metrics"
)

func TestNewBackend_RequiresAddr(t *testing.T) {
	t.Parallel()

	if b, err := NewBackend(Config{}); err == nil || b != nil {
		t.Fatalf("NewBackend(empty) = %v, %v; want nil, error", b, err)
	}
}

func TestLabelsToTags(t *testing.T) {
	t.Parallel()

	if got := labelsToTags(nil); got != nil {
		t.Fatalf("labelsToTags(nil) = %v, want nil", got)
	}
	got := labelsToTags(metrics.Labels{"step": "ingest", "job": "j", "status": "success"})
	want := []string{"job:j", "status:success", "step:ingest"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("tags mismatch (-want +got):\n%s", diff)
	}
}

// TestBackend_SendsToAgent points the backend at a local UDP socket acting as
// the DogStatsD agent and checks the histogram payload arrives tagged.
func TestBackend_SendsToAgent(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp listen not available: %v", err)
	}
	defer conn.Close()

	b, err := NewBackend(Config{
		Addr:       conn.LocalAddr().String(),
		Namespace:  "test.",
		GlobalTags: []string{"env:ci"},
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	defer b.Close()

	b.ObserveHistogram(metrics.StepDurationSeconds, 1.25, metrics.Labels{"step": "clean"})
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "clean"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	want := "test." + metrics.StepDurationSeconds + ":1.25|h"
	deadline := time.Now().Add(3 * time.Second)
	buf := make([]byte, 8192)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			break
		}
		payload := string(buf[:n])
		for _, line := range strings.Split(payload, "\n") {
			if strings.HasPrefix(line, want) {
				if !strings.Contains(line, "env:ci") || !strings.Contains(line, "step:clean") {
					t.Fatalf("payload %q missing tags", line)
				}
				return
			}
		}
	}
	t.Fatalf("no %q payload received", want)
}

func TestBackend_NilClientIsNoop(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	b.IncCounter(metrics.RunsTotal, 1, nil)
	b.ObserveHistogram(metrics.StepDurationSeconds, 1, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
