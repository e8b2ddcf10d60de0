// Package evaluator turns a raw probe Observation into ConditionFlags —
// no I/O. Every alert kind is judged from the current observation against
// the task expectation's thresholds; ssl_expiry also depends on the current
// wall-clock time.
package evaluator

import (
	"bytes"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/pilot-net/urlcheck/pkg/types"
)

// Evaluate computes ConditionFlags for one observation against one task's
// expectation. It never returns an error: an unparseable JSON path is a
// JSONFail, not a program error, because the prober already succeeded.
func Evaluate(expect types.TaskExpectation, obs types.Observation) types.ConditionFlags {
	flags := types.ConditionFlags{
		RespTimeMs: obs.RespTimeMs(),
	}

	if obs.IsTransportFailure() {
		// A transport failure only ever trips timeout. Every other check
		// presupposes a response to inspect, so none of them can independently
		// fail — forcing them to true would co-fire alerts that have nothing
		// to do with the actual condition.
		flags.HasHTTPResponse = false
		flags.TimeoutFail = true
		flags.CodeFail = false
		flags.SubstringFail = false
		flags.DelayFail = false
		flags.SSLFail = false
		flags.JSONFail = false
		return flags
	}

	resp := obs.HTTP
	flags.HasHTTPResponse = true
	flags.TimeoutFail = false

	if expect.Threshold.StatCode != 0 {
		flags.CodeFail = resp.StatusCode != expect.Threshold.StatCode
	}

	if expect.Threshold.MathStr != "" {
		flags.SubstringFail = !bytes.Contains(resp.Body, []byte(expect.Threshold.MathStr))
	}

	if expect.ExpectJSON {
		flags.JSONFail, flags.JSONParseable, flags.JSONPathMatched = evaluateJSON(expect, resp.Body)
	}

	maxMs, _ := expect.DelayBreachThreshold()
	if maxMs > 0 {
		flags.DelayFail = resp.RespTimeMs > int64(maxMs)
	}

	if expect.SSL.Verify {
		flags.SSLFail = evaluateSSL(expect, resp)
	}

	return flags
}

// evaluateJSON reports whether the response body fails the configured JSON
// expectation, along with provenance: whether the body parsed as JSON at
// all, and whether the configured path (when present) matched the expected
// value. A body that isn't even valid JSON fails unconditionally.
func evaluateJSON(expect types.TaskExpectation, body []byte) (fail bool, parseable bool, pathMatched bool) {
	var doc interface{}
	if err := unmarshalJSON(body, &doc); err != nil {
		return true, false, false
	}
	parseable = true

	if expect.JSONPath == "" {
		return false, true, true
	}

	query, err := gojq.Parse(jsonPathToJQ(expect.JSONPath))
	if err != nil {
		return true, true, false
	}

	iter := query.Run(doc)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			_ = err
			continue
		}
		if matchesExpectedValue(v, expect.JSONPathValue) {
			return false, true, true
		}
	}
	return true, true, false
}

func matchesExpectedValue(v interface{}, want string) bool {
	switch t := v.(type) {
	case string:
		return t == want
	case bool:
		return (want == "true" && t) || (want == "false" && !t)
	case nil:
		return want == "null" || want == ""
	default:
		return formatJSONScalar(v) == want
	}
}

// jsonPathToJQ translates the subset of dotted JSONPath this system accepts
// ("$.a.b.c") into a gojq query string ".a.b.c". Anything gojq itself
// understands (bracket indices, wildcards) passes through unchanged.
func jsonPathToJQ(path string) string {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "$")
	if p == "" {
		return "."
	}
	if !strings.HasPrefix(p, ".") && !strings.HasPrefix(p, "[") {
		p = "." + p
	}
	return p
}

func evaluateSSL(expect types.TaskExpectation, resp *types.HTTPResponse) bool {
	// warning_days defaults to 30 when the config omits it (normally filled
	// in by TaskExpectation.Validate; defaulted again here in case it
	// wasn't). ssl_warning_days = 0 (or negative) disables SSL evaluation
	// entirely, per boundary B3 — it is never silently replaced with a
	// fallback window, and that disabling applies to every SSL check, not
	// just the expiry countdown.
	warnDays := 30
	if expect.SSL.WarningDays != nil {
		warnDays = *expect.SSL.WarningDays
	}
	if warnDays <= 0 {
		return false
	}

	if resp.TLSVerifyErr != "" {
		return true
	}
	if resp.TLSCertExpiry == nil {
		// No TLS info at all (plain HTTP target with ssl.verify set) — can't
		// evaluate, treat as a pass rather than a false alarm.
		return false
	}
	return daysUntil(*resp.TLSCertExpiry) <= warnDays
}
