package evaluator

import (
	"testing"
	"time"

	"github.com/pilot-net/urlcheck/pkg/types"
)

func TestEvaluate_StatusCodeMismatch(t *testing.T) {
	expect := types.TaskExpectation{
		Name:      "home",
		Threshold: types.Threshold{StatCode: 200},
	}
	obs := types.Observation{
		HTTP: &types.HTTPResponse{StatusCode: 503, RespTimeMs: 40},
	}

	flags := Evaluate(expect, obs)
	if !flags.CodeFail {
		t.Fatal("expected CodeFail for 503 against expected 200")
	}
	if flags.TimeoutFail {
		t.Fatal("did not expect TimeoutFail for a completed response")
	}
}

func TestEvaluate_TransportFailureOnlyTripsTimeout(t *testing.T) {
	warningDays := 14
	expect := types.TaskExpectation{
		Name:       "home",
		Threshold:  types.Threshold{StatCode: 200, MathStr: "ok", Delay: [2]int{500, 0}},
		ExpectJSON: true,
		SSL:        types.SSLConfig{Verify: true, WarningDays: &warningDays},
	}
	obs := types.Observation{
		Transport: &types.TransportFailure{Reason: "connection refused", RespTimeMs: 5000},
	}

	flags := Evaluate(expect, obs)
	if !flags.TimeoutFail {
		t.Fatal("expected TimeoutFail for a transport failure")
	}
	if flags.CodeFail || flags.SubstringFail || flags.JSONFail || flags.DelayFail || flags.SSLFail {
		t.Fatalf("expected every other check forced to false on transport failure, got %+v", flags)
	}
	if flags.HasHTTPResponse {
		t.Fatal("HasHTTPResponse must be false for a transport failure")
	}
}

func TestEvaluate_SubstringMatch(t *testing.T) {
	expect := types.TaskExpectation{
		Name:      "home",
		Threshold: types.Threshold{MathStr: "healthy"},
	}
	obs := types.Observation{
		HTTP: &types.HTTPResponse{StatusCode: 200, Body: []byte(`{"status":"healthy"}`)},
	}

	flags := Evaluate(expect, obs)
	if flags.SubstringFail {
		t.Fatal("expected substring match to pass")
	}
}

func TestEvaluate_SubstringMismatch(t *testing.T) {
	expect := types.TaskExpectation{
		Name:      "home",
		Threshold: types.Threshold{MathStr: "healthy"},
	}
	obs := types.Observation{
		HTTP: &types.HTTPResponse{StatusCode: 200, Body: []byte(`{"status":"degraded"}`)},
	}

	flags := Evaluate(expect, obs)
	if !flags.SubstringFail {
		t.Fatal("expected substring mismatch to fail")
	}
}

func TestEvaluate_JSONPathMatch(t *testing.T) {
	expect := types.TaskExpectation{
		Name:          "home",
		ExpectJSON:    true,
		JSONPath:      "$.data.status",
		JSONPathValue: "up",
	}
	obs := types.Observation{
		HTTP: &types.HTTPResponse{StatusCode: 200, Body: []byte(`{"data":{"status":"up"}}`)},
	}

	flags := Evaluate(expect, obs)
	if flags.JSONFail {
		t.Fatal("expected json path match to pass")
	}
	if !flags.JSONParseable || !flags.JSONPathMatched {
		t.Fatal("expected provenance bits set for a matching path")
	}
}

func TestEvaluate_JSONUnparseableBody(t *testing.T) {
	expect := types.TaskExpectation{
		Name:       "home",
		ExpectJSON: true,
	}
	obs := types.Observation{
		HTTP: &types.HTTPResponse{StatusCode: 200, Body: []byte(`not json`)},
	}

	flags := Evaluate(expect, obs)
	if !flags.JSONFail {
		t.Fatal("expected unparseable body to fail")
	}
	if flags.JSONParseable {
		t.Fatal("expected JSONParseable false for invalid JSON")
	}
}

func TestEvaluate_DelaySingleBreach(t *testing.T) {
	expect := types.TaskExpectation{
		Name:      "home",
		Threshold: types.Threshold{Delay: [2]int{500, 0}},
	}
	obs := types.Observation{
		HTTP: &types.HTTPResponse{StatusCode: 200, RespTimeMs: 800},
	}

	flags := Evaluate(expect, obs)
	if !flags.DelayFail {
		t.Fatal("expected delay breach for 800ms against 500ms threshold")
	}
}

func TestEvaluate_SSLExpiringSoon(t *testing.T) {
	warningDays := 14
	expect := types.TaskExpectation{
		Name: "home",
		SSL:  types.SSLConfig{Verify: true, WarningDays: &warningDays},
	}
	expiry := time.Now().Add(5 * 24 * time.Hour)
	obs := types.Observation{
		HTTP: &types.HTTPResponse{StatusCode: 200, TLSCertExpiry: &expiry},
	}

	flags := Evaluate(expect, obs)
	if !flags.SSLFail {
		t.Fatal("expected SSLFail when cert expires within warning window")
	}
}

func TestEvaluate_SSLFarFromExpiry(t *testing.T) {
	warningDays := 14
	expect := types.TaskExpectation{
		Name: "home",
		SSL:  types.SSLConfig{Verify: true, WarningDays: &warningDays},
	}
	expiry := time.Now().Add(90 * 24 * time.Hour)
	obs := types.Observation{
		HTTP: &types.HTTPResponse{StatusCode: 200, TLSCertExpiry: &expiry},
	}

	flags := Evaluate(expect, obs)
	if flags.SSLFail {
		t.Fatal("did not expect SSLFail for a cert far from expiry")
	}
}

func TestEvaluate_SSLWarningDaysZeroDisablesEvaluation(t *testing.T) {
	disabled := 0
	expect := types.TaskExpectation{
		Name: "home",
		SSL:  types.SSLConfig{Verify: true, WarningDays: &disabled},
	}
	expiry := time.Now().Add(1 * time.Hour)
	obs := types.Observation{
		HTTP: &types.HTTPResponse{StatusCode: 200, TLSCertExpiry: &expiry},
	}

	flags := Evaluate(expect, obs)
	if flags.SSLFail {
		t.Fatal("expected ssl_warning_days=0 to disable SSL evaluation even for a cert expiring imminently")
	}
}

func TestEvaluate_SSLWarningDaysUnsetDefaultsTo30(t *testing.T) {
	expect := types.TaskExpectation{
		Name:     "home",
		URL:      "https://example.com",
		Interval: time.Minute,
		Timeout:  time.Second,
		SSL:      types.SSLConfig{Verify: true},
	}
	if err := expect.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expect.SSL.WarningDays == nil || *expect.SSL.WarningDays != 30 {
		t.Fatalf("expected Validate to default warning_days to 30, got %+v", expect.SSL.WarningDays)
	}

	expiring := time.Now().Add(20 * 24 * time.Hour)
	obs := types.Observation{
		HTTP: &types.HTTPResponse{StatusCode: 200, TLSCertExpiry: &expiring},
	}
	flags := Evaluate(expect, obs)
	if !flags.SSLFail {
		t.Fatal("expected the defaulted 30-day window to catch a cert expiring in 20 days")
	}
}
