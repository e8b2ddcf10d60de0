package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pilot-net/urlcheck/pkg/types"
)

func TestObserve_StatusAndRespTimeGauges(t *testing.T) {
	r := New()
	obs := types.Observation{
		TaskName: "svc",
		HTTP:     &types.HTTPResponse{StatusCode: 200, RespTimeMs: 42},
	}
	flags := types.ConditionFlags{HasHTTPResponse: true, JSONParseable: true}

	r.Observe("svc", flags, obs)

	if got := testutil.ToFloat64(r.status.WithLabelValues("svc")); got != 200 {
		t.Fatalf("expected status gauge 200, got %v", got)
	}
}

func TestObserve_TransportFailureIncrementsTimeoutCounter(t *testing.T) {
	r := New()
	obs := types.Observation{
		TaskName:  "svc",
		Transport: &types.TransportFailure{Reason: "timeout", RespTimeMs: 5000},
	}
	flags := types.ConditionFlags{TimeoutFail: true}

	r.Observe("svc", flags, obs)

	if got := testutil.ToFloat64(r.probeTimeouts.WithLabelValues("svc")); got != 1 {
		t.Fatalf("expected 1 timeout recorded, got %v", got)
	}
	if got := testutil.ToFloat64(r.status.WithLabelValues("svc")); got != -1 {
		t.Fatalf("expected status gauge -1 for transport failure, got %v", got)
	}
}

// TestObserve_AlertStateReflectsAlarmTruthRegardlessOfSuppression mirrors P5
// from the state machine: the metrics sink must reflect ConditionFlags
// (ground truth) even though nothing here knows about AlarmNotified or
// silence windows at all — there is no suppression concept in this package.
func TestObserve_AlertStateReflectsAlarmTruthRegardlessOfSuppression(t *testing.T) {
	r := New()
	obs := types.Observation{
		TaskName: "svc",
		HTTP:     &types.HTTPResponse{StatusCode: 500, RespTimeMs: 10},
	}
	flags := types.ConditionFlags{CodeFail: true, HasHTTPResponse: true}

	r.Observe("svc", flags, obs)

	if got := testutil.ToFloat64(r.alertState.WithLabelValues("svc", string(types.KindStatusCode))); got != 1 {
		t.Fatalf("expected alert_state=1 for failing status_code kind, got %v", got)
	}
	if got := testutil.ToFloat64(r.alertState.WithLabelValues("svc", string(types.KindTimeout))); got != 0 {
		t.Fatalf("expected alert_state=0 for non-failing timeout kind, got %v", got)
	}
}

func TestObserve_SSLDaysRemaining(t *testing.T) {
	r := New()
	expiry := time.Now().Add(10 * 24 * time.Hour)
	obs := types.Observation{
		TaskName: "svc",
		HTTP:     &types.HTTPResponse{StatusCode: 200, RespTimeMs: 20, TLSCertExpiry: &expiry},
	}
	flags := types.ConditionFlags{HasHTTPResponse: true}

	r.Observe("svc", flags, obs)

	got := testutil.ToFloat64(r.sslDaysRemain.WithLabelValues("svc"))
	if got < 9 || got > 10 {
		t.Fatalf("expected ssl days remaining near 10, got %v", got)
	}
}

func TestSnapshot_ReturnsNonNegativeUptime(t *testing.T) {
	r := New()
	h := r.Snapshot()
	if h.UptimeSeconds < 0 {
		t.Fatalf("expected non-negative uptime, got %v", h.UptimeSeconds)
	}
	if h.GoroutineCount <= 0 {
		t.Fatalf("expected positive goroutine count, got %v", h.GoroutineCount)
	}
}
