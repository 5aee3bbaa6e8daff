package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zzenonn/zdav/internal/connections"
	"github.com/zzenonn/zdav/internal/domain"
)

func TestMessages(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"progress", ProgressMessage("item-1", "42"), "item-1|42"},
		{"status", StatusMessage("item-1", domain.Unhealthy, domain.RepairDeleted), "item-1|1|2"},
		{"connections", ConnectionsMessage(connections.PoolStats{Live: 3, Idle: 1, Max: 10}), "3|10|1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

type countingSink struct {
	progress, status, conns int
}

func (c *countingSink) HealthProgress(string, string)                                 { c.progress++ }
func (c *countingSink) HealthStatus(string, domain.HealthResult, domain.RepairAction) { c.status++ }
func (c *countingSink) Connections(connections.PoolStats)                             { c.conns++ }

func TestMulti_FansOut(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	m := Multi{a, b, Nop{}}

	m.HealthProgress("x", "10")
	m.HealthStatus("x", domain.Healthy, domain.RepairNone)
	m.Connections(connections.PoolStats{})

	for i, s := range []*countingSink{a, b} {
		if s.progress != 1 || s.status != 1 || s.conns != 1 {
			t.Errorf("sink %d = %+v, want one of each event", i, *s)
		}
	}
}

func TestPrometheusSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	s.Connections(connections.PoolStats{Live: 4, Idle: 2, Max: 8})
	s.HealthStatus("x", domain.Unhealthy, domain.RepairRepaired)
	s.HealthStatus("y", domain.Unhealthy, domain.RepairRepaired)
	s.HealthProgress("x", "55")

	if got := testutil.ToFloat64(s.liveConnections); got != 4 {
		t.Errorf("live = %v, want 4", got)
	}
	if got := testutil.ToFloat64(s.maxConnections); got != 8 {
		t.Errorf("max = %v, want 8", got)
	}
	if got := testutil.ToFloat64(s.healthChecks.WithLabelValues("unhealthy", "repaired")); got != 2 {
		t.Errorf("repaired checks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(s.checkProgress); got != 55 {
		t.Errorf("progress = %v, want 55", got)
	}

	s.HealthProgress("x", ProgressDone)
	if got := testutil.ToFloat64(s.checkProgress); got != 0 {
		t.Errorf("progress after done = %v, want 0", got)
	}
}
