package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestMessageCounters(t *testing.T) {
	m := newTestMetrics(t)
	m.MessageReceived("discord")
	m.MessageReceived("discord")
	m.MessageSent("discord", "success")
	m.MessageSent("discord", "error")

	expected := `
		# HELP cmdrelay_messages_total Total number of chat messages by channel and direction
		# TYPE cmdrelay_messages_total counter
		cmdrelay_messages_total{channel="discord",direction="inbound"} 2
		cmdrelay_messages_total{channel="discord",direction="outbound"} 1
	`
	if err := testutil.CollectAndCompare(m.MessageCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
	if got := testutil.ToFloat64(m.SendCounter.WithLabelValues("discord", "error")); got != 1 {
		t.Errorf("error sends = %v, want 1", got)
	}
}

func TestRecordCommand(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordCommand("ping", "replied", 5*time.Millisecond)
	m.RecordCommand("ping", "replied", 7*time.Millisecond)
	m.RecordCommand("", "not_found", 0)

	if got := testutil.ToFloat64(m.CommandCounter.WithLabelValues("ping", "replied")); got != 2 {
		t.Errorf("ping replied = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CommandCounter.WithLabelValues("none", "not_found")); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
	// Misses do not create a duration series.
	if count := testutil.CollectAndCount(m.CommandDuration); count != 1 {
		t.Errorf("duration series = %d, want 1", count)
	}
}

func TestGauges(t *testing.T) {
	m := newTestMetrics(t)
	m.SetConnected("discord", true)
	if got := testutil.ToFloat64(m.Connected.WithLabelValues("discord")); got != 1 {
		t.Errorf("connected = %v, want 1", got)
	}
	m.SetConnected("discord", false)
	if got := testutil.ToFloat64(m.Connected.WithLabelValues("discord")); got != 0 {
		t.Errorf("connected = %v, want 0", got)
	}

	m.SetQueueDepth("outbound", 3)
	if got := testutil.ToFloat64(m.QueueDepth.WithLabelValues("outbound")); got != 3 {
		t.Errorf("queue depth = %v, want 3", got)
	}
}

func TestRecordError(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordError("dispatcher", "panic")
	m.RecordError("dispatcher", "panic")

	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("dispatcher", "panic")); got != 2 {
		t.Errorf("errors = %v, want 2", got)
	}
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewMetrics(reg)
}
