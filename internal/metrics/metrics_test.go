package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilCollectorsAreNoops(t *testing.T) {
	var c *Collectors
	c.ObserveEvaluation()
	c.ObserveEvaluationError()
	c.ObserveAutoClose("stop_loss_triggered")
	c.ObserveSweep(time.Millisecond)
	c.ObserveOpen("BTCUSDT", "LONG")
	c.ObserveClose("manual", 1)
	c.ObserveTick("BTCUSDT")
}

func TestCollectorsCount(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ObserveEvaluation()
	c.ObserveEvaluation()
	c.ObserveAutoClose("take_profit_triggered")
	c.ObserveClose("take_profit_triggered", 12.5)
	c.ObserveClose("manual", -2.5)

	if got := testutil.ToFloat64(c.Evaluations); got != 2 {
		t.Fatalf("evaluations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.AutoCloses.WithLabelValues("take_profit_triggered")); got != 1 {
		t.Fatalf("auto closes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.RealizedPnL); got != 10 {
		t.Fatalf("realized pnl = %v, want 10", got)
	}
}
