package observability_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/feeledger/entry"
	"github.com/xraph/feeledger/observability"
	"github.com/xraph/feeledger/payment"
	"github.com/xraph/feeledger/plugin"
)

type fakeCounter struct{ n float64 }

func (c *fakeCounter) Inc()          { c.n++ }
func (c *fakeCounter) Add(v float64) { c.n += v }

type fakeHistogram struct{ obs []float64 }

func (h *fakeHistogram) Observe(v float64) { h.obs = append(h.obs, v) }

type fakeFactory struct {
	counters   map[string]*fakeCounter
	histograms map[string]*fakeHistogram
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		counters:   make(map[string]*fakeCounter),
		histograms: make(map[string]*fakeHistogram),
	}
}

func (f *fakeFactory) Counter(name string) observability.Counter {
	c := &fakeCounter{}
	f.counters[name] = c
	return c
}

func (f *fakeFactory) Histogram(name string) observability.Histogram {
	h := &fakeHistogram{}
	f.histograms[name] = h
	return h
}

func TestEntryCountersByType(t *testing.T) {
	f := newFakeFactory()
	m := observability.NewMetricsExtension(f)
	ctx := context.Background()

	types := []entry.Type{entry.TypeCharge, entry.TypePayment, entry.TypePayment, entry.TypeCredit}
	for _, typ := range types {
		_ = m.OnEntryAppended(ctx, &entry.Entry{Type: typ})
	}

	tests := []struct {
		name string
		want float64
	}{
		{"feeledger.entry.charge", 1},
		{"feeledger.entry.payment", 2},
		{"feeledger.entry.credit", 1},
		{"feeledger.entry.fine", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.counters[tt.name].n; got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSweepAndAdminMetrics(t *testing.T) {
	f := newFakeFactory()
	m := observability.NewMetricsExtension(f)
	ctx := context.Background()

	_ = m.OnSweepCompleted(ctx, 7, 3, 40*time.Millisecond)
	_ = m.OnAdminAction(ctx, &plugin.AdminAction{Action: "apply_fine"})
	_ = m.OnAdminAction(ctx, &plugin.AdminAction{Action: "apply_fine", Err: errors.New("forbidden")})
	_ = m.OnPaymentReconciled(ctx, &payment.Attempt{Amount: 25000}, nil)

	if got := f.counters["feeledger.sweep.checked"].n; got != 7 {
		t.Errorf("sweep checked: got %v, want 7", got)
	}
	if got := f.counters["feeledger.sweep.settled"].n; got != 3 {
		t.Errorf("sweep settled: got %v, want 3", got)
	}
	if got := f.histograms["feeledger.sweep.latency_ms"].obs; len(got) != 1 || got[0] != 40 {
		t.Errorf("sweep latency: got %v, want [40]", got)
	}
	if got := f.counters["feeledger.admin.actions"].n; got != 2 {
		t.Errorf("admin actions: got %v, want 2", got)
	}
	if got := f.counters["feeledger.admin.denied"].n; got != 1 {
		t.Errorf("admin denied: got %v, want 1", got)
	}
	if got := f.histograms["feeledger.payment.amount_minor"].obs; len(got) != 1 || got[0] != 25000 {
		t.Errorf("payment amount: got %v, want [25000]", got)
	}
}

func TestPrometheusFactory(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg)

	c := f.Counter("feeledger.payment.failed")
	c.Inc()
	c.Add(2)

	if again := f.Counter("feeledger.payment.failed"); again != c {
		t.Errorf("second lookup returned a different counter")
	}

	pc, ok := c.(prometheus.Counter)
	if !ok {
		t.Fatalf("counter type: got %T, want prometheus.Counter", c)
	}
	if got := testutil.ToFloat64(pc); got != 3 {
		t.Errorf("counter value: got %v, want 3", got)
	}

	f.Histogram("feeledger.sweep.latency_ms").Observe(12)
	n, err := testutil.GatherAndCount(reg, "feeledger_payment_failed_total", "feeledger_sweep_latency_ms")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 2 {
		t.Errorf("metric families: got %d, want 2", n)
	}
}

func TestPrometheusFactorySharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := observability.NewPrometheusFactory(reg)
	b := observability.NewPrometheusFactory(reg)

	a.Counter("feeledger.entry.charge").Inc()
	b.Counter("feeledger.entry.charge").Inc()

	pc := b.Counter("feeledger.entry.charge").(prometheus.Counter)
	if got := testutil.ToFloat64(pc); got != 2 {
		t.Errorf("shared counter: got %v, want 2", got)
	}
}

func TestPrometheusFactoryLogsRegistrationFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feeledger_payment_failed_total",
		Help: "registered elsewhere with another help string",
	}))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	f := observability.NewPrometheusFactory(reg, observability.WithPrometheusLogger(logger))

	c := f.Counter("feeledger.payment.failed")
	c.Inc()

	out := buf.String()
	if !strings.Contains(out, "metric not registered") || !strings.Contains(out, "feeledger.payment.failed") {
		t.Errorf("log output: got %q, want a registration failure for feeledger.payment.failed", out)
	}
}
