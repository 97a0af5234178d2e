package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gateway-fm/txstress/internal/tracker"
	"github.com/gateway-fm/txstress/pkg/types"
)

func newTestMetrics() (*PrometheusMetrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewPrometheusMetrics(reg), reg
}

func TestTrackerObserver(t *testing.T) {
	m, _ := newTestMetrics()

	m.TxSubmitted(tracker.Tx{})
	m.TxSubmitted(tracker.Tx{})
	m.TxConfirmed(tracker.Tx{Confirmed: true, Latency: 1500 * time.Millisecond, HasLatency: true})

	if got := testutil.ToFloat64(m.TxTotal.WithLabelValues("sent")); got != 2 {
		t.Errorf("sent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TxTotal.WithLabelValues("confirmed")); got != 1 {
		t.Errorf("confirmed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PendingTxs); got != 1 {
		t.Errorf("pending = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.ConfirmLatency); got != 1 {
		t.Errorf("latency series = %d, want 1", got)
	}
}

func TestConfirmedWithoutLatencyIsNotObserved(t *testing.T) {
	m, reg := newTestMetrics()

	m.TxConfirmed(tracker.Tx{Confirmed: true, Latency: time.Second, HasLatency: true})
	m.TxConfirmed(tracker.Tx{Confirmed: true})

	if got := testutil.ToFloat64(m.TxTotal.WithLabelValues("confirmed")); got != 2 {
		t.Errorf("confirmed = %v, want 2", got)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "txstress_confirmation_latency_seconds" {
			continue
		}
		if got := mf.GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
			t.Errorf("latency samples = %d, want 1", got)
		}
		return
	}
	t.Error("confirmation latency histogram not gathered")
}

func TestRecordDispatchFailure(t *testing.T) {
	m, _ := newTestMetrics()
	m.RecordDispatchFailure("submit")
	m.RecordDispatchFailure("submit")
	m.RecordDispatchFailure("gas_price")
	m.RecordSkipped()

	if got := testutil.ToFloat64(m.TxTotal.WithLabelValues("failed")); got != 3 {
		t.Errorf("failed = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("submit")); got != 2 {
		t.Errorf("submit errors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TxTotal.WithLabelValues("skipped")); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
}

func TestRecordRPCCallBucketsUnknownMethods(t *testing.T) {
	m, _ := newTestMetrics()
	m.RecordRPCCall("eth_gasPrice", nil, time.Millisecond)
	m.RecordRPCCall("debug_traceTransaction", errors.New("nope"), time.Millisecond)

	if got := testutil.CollectAndCount(m.RPCLatency); got != 2 {
		t.Fatalf("rpc series = %d, want 2", got)
	}
	if got := testutil.CollectAndCount(m.RPCLatency, "txstress_rpc_latency_seconds"); got != 2 {
		t.Errorf("named series = %d, want 2", got)
	}
}

func TestSetRunState(t *testing.T) {
	m, _ := newTestMetrics()
	m.SetRunState(types.StateRunning)
	m.SetRunState(types.StateDraining)

	for _, s := range types.AllStates {
		want := 0.0
		if s == types.StateDraining {
			want = 1
		}
		if got := testutil.ToFloat64(m.RunState.WithLabelValues(string(s))); got != want {
			t.Errorf("state %s = %v, want %v", s, got, want)
		}
	}
}

func TestHandler(t *testing.T) {
	m, reg := newTestMetrics()
	m.RecordBlock(10)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "txstress_blocks_observed_total 1") {
		t.Errorf("metrics output missing block counter:\n%s", body)
	}
}
