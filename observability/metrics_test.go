package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStakeMetrics(t *testing.T) {
	m := Stake()
	if Stake() != m {
		t.Fatalf("expected a single registry")
	}

	before := testutil.ToFloat64(m.operations.WithLabelValues("stake", "ok"))
	m.Observe(" stake ", "", time.Millisecond)
	if got := testutil.ToFloat64(m.operations.WithLabelValues("stake", "ok")); got != before+1 {
		t.Fatalf("operations = %v, want %v", got, before+1)
	}

	m.SetPool(10, 20, 30, 2)
	if testutil.ToFloat64(m.remaining) != 20 || testutil.ToFloat64(m.stakers) != 2 {
		t.Fatalf("pool gauges not updated")
	}

	open := testutil.ToFloat64(m.streams)
	done := m.StreamOpened()
	done()
	done()
	if testutil.ToFloat64(m.streams) != open {
		t.Fatalf("stream gauge not restored")
	}

	m.SetHalted(true)
	if testutil.ToFloat64(m.halted) != 1 {
		t.Fatalf("expected halted gauge set")
	}
	m.SetHalted(false)

	var nilMetrics *StakeMetrics
	nilMetrics.Observe("stake", "ok", time.Second)
	nilMetrics.RecordRPC("stake_stake", 0)
	nilMetrics.StreamOpened()()
}
