package metrics

import (
	"strings"
	"testing"
)

func TestCounter(t *testing.T) {
	c := NewCounter("awg_test_total", "test counter")
	labels := Labels{"card": "481"}
	c.Inc(labels)
	c.Add(labels, 2)
	if got := c.Get(labels); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
	if got := c.Get(Labels{"card": "other"}); got != 0 {
		t.Fatalf("unrelated labels = %d, want 0", got)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("awg_test_gauge", "test gauge")
	g.Set(nil, 5)
	g.Add(nil, -2)
	if got := g.Get(nil); got != 3 {
		t.Fatalf("gauge = %g, want 3", got)
	}
}

func TestHistogramTimer(t *testing.T) {
	h := NewHistogram("awg_test_seconds", "test histogram", DefaultBuckets())
	done := h.Timer(nil)
	done()
	if got := h.GetCount(nil); got != 1 {
		t.Fatalf("observations = %d, want 1", got)
	}
}

func TestRegistryGatherFormat(t *testing.T) {
	r := NewRegistry()
	c := NewCounter("awg_uploads_total", "Total full uploads")
	r.MustRegister(c)
	c.Inc(Labels{"card": "481"})

	out := r.Gather()
	for _, want := range []string{
		"# HELP awg_uploads_total Total full uploads",
		"# TYPE awg_uploads_total counter",
		`awg_uploads_total{card="481"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("gather output missing %q:\n%s", want, out)
		}
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(NewCounter("awg_dup_total", ""))
	if err := r.Register(NewCounter("awg_dup_total", "")); err == nil {
		t.Fatal("duplicate metric name accepted")
	}
}

func TestAWGMetricsRegistered(t *testing.T) {
	m := NewAWGMetrics()
	m.UploadsTotal.Inc(Labels{"card": "1"})
	m.CardConnected.Set(Labels{"card": "1"}, 1)
	out := m.Registry().Gather()
	for _, name := range []string{
		"awg_compiles_total",
		"awg_uploads_total",
		"awg_hotswaps_total",
		"awg_digest_skips_total",
		"awg_rollbacks_total",
		"awg_card_connected",
	} {
		if !strings.Contains(out, name) {
			t.Errorf("gather output missing metric %s", name)
		}
	}
}
