package statemachine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pilot-net/urlcheck/internal/evaluator"
	"github.com/pilot-net/urlcheck/pkg/types"
)

func baseConfig() *types.AlertConfig {
	return types.DefaultAlertConfig()
}

func httpObs(task string, status int, body string, respMs int64, at time.Time) types.Observation {
	return types.Observation{
		TaskName:  task,
		Timestamp: at,
		HTTP: &types.HTTPResponse{
			StatusCode: status,
			Body:       []byte(body),
			RespTimeMs: respMs,
		},
	}
}

func transportObs(task string, respMs int64, at time.Time) types.Observation {
	return types.Observation{
		TaskName:  task,
		Timestamp: at,
		Transport: &types.TransportFailure{Reason: "connect refused", RespTimeMs: respMs},
	}
}

// Scenario 1: false-recovery guard (status).
func TestScenario_FalseRecoveryGuardStatus(t *testing.T) {
	cfg := baseConfig()
	expect := types.TaskExpectation{Name: "svc", URL: "http://svc/health", Threshold: types.Threshold{StatCode: 200}}
	state := types.NewTaskState("svc")
	t0 := time.Now()

	obs1 := httpObs("svc", 503, "", 40, t0)
	flags1 := evaluator.Evaluate(expect, obs1)
	d1 := Evaluate(cfg, expect, flags1, obs1, state, t0)
	if len(d1.Events) != 1 || d1.Events[0].Type != types.AlertEventFiring {
		t.Fatalf("expected one Firing event after probe1, got %+v", d1.Events)
	}
	if !d1.NextState.AlarmNotified[types.KindStatusCode] {
		t.Fatal("expected alarm_notified.status_code = true after firing")
	}

	obs2 := transportObs("svc", 5000, t0.Add(time.Minute))
	flags2 := evaluator.Evaluate(expect, obs2)
	d2 := Evaluate(cfg, expect, flags2, obs2, d1.NextState, t0.Add(time.Minute))

	for _, e := range d2.Events {
		if e.Kind == types.KindStatusCode && e.Type == types.AlertEventRecovery {
			t.Fatal("transport failure must never validate a status_code recovery")
		}
	}
	if !d2.NextState.AlarmNotified[types.KindStatusCode] {
		t.Fatal("alarm_notified.status_code must remain true after a guarded recovery attempt")
	}
}

// Scenario 2: false-recovery guard (json).
func TestScenario_FalseRecoveryGuardJSON(t *testing.T) {
	cfg := baseConfig()
	expect := types.TaskExpectation{
		Name: "svc", URL: "http://svc/data",
		ExpectJSON: true, JSONPath: "$.slideshow.author", JSONPathValue: "WRONG",
	}
	state := types.NewTaskState("svc")
	t0 := time.Now()

	obs1 := httpObs("svc", 200, `{"slideshow":{"author":"Yours Truly"}}`, 50, t0)
	flags1 := evaluator.Evaluate(expect, obs1)
	d1 := Evaluate(cfg, expect, flags1, obs1, state, t0)
	if len(d1.Events) != 1 || d1.Events[0].Kind != types.KindJSONPath || d1.Events[0].Type != types.AlertEventFiring {
		t.Fatalf("expected Firing json_path after probe1, got %+v", d1.Events)
	}

	obs2 := transportObs("svc", 5000, t0.Add(time.Minute))
	flags2 := evaluator.Evaluate(expect, obs2)
	d2 := Evaluate(cfg, expect, flags2, obs2, d1.NextState, t0.Add(time.Minute))
	for _, e := range d2.Events {
		if e.Kind == types.KindJSONPath && e.Type == types.AlertEventRecovery {
			t.Fatal("transport failure must never validate a json_path recovery")
		}
	}
}

// Scenario 3: delay relapse.
func TestScenario_DelayRelapse(t *testing.T) {
	cfg := baseConfig()
	expect := types.TaskExpectation{Name: "svc", URL: "http://svc/", Threshold: types.Threshold{Delay: [2]int{300, 0}}}
	state := types.NewTaskState("svc")
	t0 := time.Now()

	obs1 := httpObs("svc", 200, "", 500, t0)
	d1 := Evaluate(cfg, expect, evaluator.Evaluate(expect, obs1), obs1, state, t0)
	if len(d1.Events) != 1 || d1.Events[0].Type != types.AlertEventFiring {
		t.Fatalf("expected Firing delay after probe1, got %+v", d1.Events)
	}

	obs2 := httpObs("svc", 200, "", 250, t0.Add(time.Minute))
	d2 := Evaluate(cfg, expect, evaluator.Evaluate(expect, obs2), obs2, d1.NextState, t0.Add(time.Minute))
	if len(d2.Events) != 1 || d2.Events[0].Type != types.AlertEventRecovery {
		t.Fatalf("expected Recovery delay after probe2, got %+v", d2.Events)
	}

	// probe3 falls past the default 120-minute silence window opened by probe1.
	obs3 := httpObs("svc", 200, "", 400, t0.Add(121*time.Minute))
	d3 := Evaluate(cfg, expect, evaluator.Evaluate(expect, obs3), obs3, d2.NextState, t0.Add(121*time.Minute))
	if len(d3.Events) != 1 || d3.Events[0].Type != types.AlertEventFiring {
		t.Fatalf("expected fresh Firing delay after probe3, got %+v", d3.Events)
	}
}

// Scenario 4: suppression.
func TestScenario_Suppression(t *testing.T) {
	cfg := baseConfig()
	rule := cfg.Rules[types.KindStatusCode]
	rule.SuppressMinutes = 120
	cfg.Rules[types.KindStatusCode] = rule

	expect := types.TaskExpectation{Name: "svc", URL: "http://svc/", Threshold: types.Threshold{StatCode: 200}}
	state := types.NewTaskState("svc")
	t0 := time.Now()

	obs1 := httpObs("svc", 500, "", 40, t0)
	d1 := Evaluate(cfg, expect, evaluator.Evaluate(expect, obs1), obs1, state, t0)
	if len(d1.Events) != 1 {
		t.Fatalf("expected exactly one Firing event at t=0, got %d", len(d1.Events))
	}

	obs2 := httpObs("svc", 500, "", 40, t0.Add(60*time.Minute))
	d2 := Evaluate(cfg, expect, evaluator.Evaluate(expect, obs2), obs2, d1.NextState, t0.Add(60*time.Minute))
	if len(d2.Events) != 0 {
		t.Fatalf("expected no Firing event within the 120-minute silence window, got %d", len(d2.Events))
	}
}

// Scenario 5: clean recovery.
func TestScenario_CleanRecovery(t *testing.T) {
	cfg := baseConfig()
	expect := types.TaskExpectation{Name: "svc", URL: "http://svc/", Threshold: types.Threshold{StatCode: 200, MathStr: "ok"}}
	state := types.NewTaskState("svc")
	t0 := time.Now()

	obs1 := httpObs("svc", 500, "ok", 40, t0)
	d1 := Evaluate(cfg, expect, evaluator.Evaluate(expect, obs1), obs1, state, t0)
	if len(d1.Events) != 1 || d1.Events[0].Type != types.AlertEventFiring {
		t.Fatalf("expected Firing status_code after probe1, got %+v", d1.Events)
	}

	obs2 := httpObs("svc", 200, "ok", 40, t0.Add(time.Minute))
	d2 := Evaluate(cfg, expect, evaluator.Evaluate(expect, obs2), obs2, d1.NextState, t0.Add(time.Minute))
	if len(d2.Events) != 1 || d2.Events[0].Type != types.AlertEventRecovery {
		t.Fatalf("expected Recovery status_code after probe2, got %+v", d2.Events)
	}
}

// Scenario 6: first-run firing.
func TestScenario_FirstRunFiring(t *testing.T) {
	cfg := baseConfig()
	expect := types.TaskExpectation{Name: "svc", URL: "http://svc/", Threshold: types.Threshold{StatCode: 200}}
	state := types.NewTaskState("svc")
	t0 := time.Now()

	obs1 := httpObs("svc", 500, "", 40, t0)
	d1 := Evaluate(cfg, expect, evaluator.Evaluate(expect, obs1), obs1, state, t0)

	if len(d1.Events) != 1 || d1.Events[0].Type != types.AlertEventFiring {
		t.Fatalf("expected a single Firing event, got %+v", d1.Events)
	}
	for _, e := range d1.Events {
		if e.Type == types.AlertEventRecovery {
			t.Fatal("first run must never emit a recovery")
		}
	}
	if !d1.NextState.AlarmNotified[types.KindStatusCode] {
		t.Fatal("expected alarm_notified.status_code = true after first-run firing")
	}
}

// B1: first-run suppresses recoveries even if alarm[k] = 0.
func TestBoundary_FirstRunSuppressesRecovery(t *testing.T) {
	cfg := baseConfig()
	expect := types.TaskExpectation{Name: "svc", URL: "http://svc/", Threshold: types.Threshold{StatCode: 200}}
	state := types.NewTaskState("svc")
	t0 := time.Now()

	obs1 := httpObs("svc", 200, "", 40, t0)
	d1 := Evaluate(cfg, expect, evaluator.Evaluate(expect, obs1), obs1, state, t0)
	if len(d1.Events) != 0 {
		t.Fatalf("expected no events on a clean first run, got %+v", d1.Events)
	}
}

// B2: suppress_minutes = 0 disables suppression entirely.
func TestBoundary_ZeroSuppressDisablesWindow(t *testing.T) {
	cfg := baseConfig()
	rule := cfg.Rules[types.KindStatusCode]
	rule.SuppressMinutes = 0
	cfg.Rules[types.KindStatusCode] = rule

	expect := types.TaskExpectation{Name: "svc", URL: "http://svc/", Threshold: types.Threshold{StatCode: 200}}
	state := types.NewTaskState("svc")
	t0 := time.Now()

	obs1 := httpObs("svc", 500, "", 40, t0)
	d1 := Evaluate(cfg, expect, evaluator.Evaluate(expect, obs1), obs1, state, t0)

	obs2 := httpObs("svc", 200, "", 40, t0.Add(time.Second))
	d2 := Evaluate(cfg, expect, evaluator.Evaluate(expect, obs2), obs2, d1.NextState, t0.Add(time.Second))

	obs3 := httpObs("svc", 500, "", 40, t0.Add(2*time.Second))
	d3 := Evaluate(cfg, expect, evaluator.Evaluate(expect, obs3), obs3, d2.NextState, t0.Add(2*time.Second))
	if len(d3.Events) != 1 || d3.Events[0].Type != types.AlertEventFiring {
		t.Fatalf("expected an immediate re-firing with suppression disabled, got %+v", d3.Events)
	}
}

// P5: metrics-facing alarm[k] always reflects current condition regardless
// of suppression.
func TestInvariant_AlarmReflectsTruthRegardlessOfSuppression(t *testing.T) {
	cfg := baseConfig()
	expect := types.TaskExpectation{Name: "svc", URL: "http://svc/", Threshold: types.Threshold{StatCode: 200}}
	state := types.NewTaskState("svc")
	t0 := time.Now()

	obs1 := httpObs("svc", 500, "", 40, t0)
	d1 := Evaluate(cfg, expect, evaluator.Evaluate(expect, obs1), obs1, state, t0)

	obs2 := httpObs("svc", 200, "", 40, t0.Add(time.Second))
	d2 := Evaluate(cfg, expect, evaluator.Evaluate(expect, obs2), obs2, d1.NextState, t0.Add(time.Second))

	obs3 := httpObs("svc", 500, "", 40, t0.Add(2*time.Second))
	d3 := Evaluate(cfg, expect, evaluator.Evaluate(expect, obs3), obs3, d2.NextState, t0.Add(2*time.Second))

	if len(d3.Events) != 0 {
		t.Fatalf("expected the re-firing inside the silence window to be suppressed, got %+v", d3.Events)
	}
	if !d3.NextState.Alarm[types.KindStatusCode] {
		t.Fatal("alarm[status_code] must be true even though the firing notification was suppressed")
	}
}

// P6: history retention never keeps entries older than the horizon.
func TestInvariant_HistoryRetention(t *testing.T) {
	cfg := baseConfig()
	cfg.HistoryRetentionDays = 3
	expect := types.TaskExpectation{Name: "svc", URL: "http://svc/"}
	state := types.NewTaskState("svc")
	t0 := time.Now()

	old := types.HistoryEntry{Timestamp: t0.AddDate(0, 0, -10), StatusCode: 200}
	state.History = append(state.History, old)

	obs := httpObs("svc", 200, "", 40, t0)
	d := Evaluate(cfg, expect, evaluator.Evaluate(expect, obs), obs, state, t0)

	for _, e := range d.NextState.History {
		if e.Timestamp.Before(t0.AddDate(0, 0, -3)) {
			t.Fatalf("found history entry older than retention horizon: %v", e.Timestamp)
		}
	}
}

// Legacy state shape: alarm_notified defaults to alarm on load.
func TestLegacyState_AlarmNotifiedDefaultsToAlarm(t *testing.T) {
	legacy := []byte(`{"task_name":"svc","alarm":{"status_code":true},"last_resp_time_ms":40,"last_observed_at":"2024-01-01T00:00:00Z"}`)
	var state types.TaskState
	if err := json.Unmarshal(legacy, &state); err != nil {
		t.Fatalf("unexpected error unmarshaling legacy state: %v", err)
	}
	if !state.AlarmNotified[types.KindStatusCode] {
		t.Fatal("expected alarm_notified.status_code to default to alarm.status_code (true) for legacy state files")
	}
}
