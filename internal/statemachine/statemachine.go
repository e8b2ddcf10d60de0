// Package statemachine implements the per-task alert state machine: it
// consumes evaluator output and prior persisted state and decides which
// alerts fire, which recover, and which are withheld by a silence window.
//
// The one rule that matters more than any other here: alarm tracks the
// currently observed condition, alarm_notified tracks what the outside
// world was last told. Edge detection reads alarm_notified, never alarm.
// Collapsing the two was the historical source of false recoveries.
package statemachine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/urlcheck/pkg/types"
)

// Clock abstracts time.Now for tests; production code uses RealClock.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Decision is the outcome of evaluating one observation: the next state to
// persist and the alert events (if any) for the Notifier to dispatch.
type Decision struct {
	NextState *types.TaskState
	Events    []types.AlertEvent
}

// Evaluate is the pure core of the alert engine. prior must not be nil;
// callers pass types.NewTaskState(taskName) for a task with no prior state,
// which is itself the first-run signal (no last_alert_time entries means
// every silence check passes and every recovery-candidacy check is skipped
// because alarm_notified starts at all-false).
func Evaluate(cfg *types.AlertConfig, expect types.TaskExpectation, flags types.ConditionFlags, obs types.Observation, prior *types.TaskState, now time.Time) Decision {
	next := prior.Clone()
	var events []types.AlertEvent

	for _, k := range types.AllKinds {
		current := flags.Failing(k)
		notified := next.AlarmNotified[k]

		rule := cfg.RuleFor(k)

		switch {
		case !notified && current:
			// Firing candidate.
			if rule.Enabled && silenceElapsed(rule, next.LastAlertTime[k], now) {
				events = append(events, buildEvent(expect, k, types.AlertEventFiring, flags, obs, now))
				next.AlarmNotified[k] = true
				next.LastAlertTime[k] = now
			}

		case notified && !current:
			// Recovery candidate, subject to the kind's validity predicate.
			if rule.Recover && recoveryValid(k, flags) {
				if k == types.KindDelay && delayStillOverBudget(expect, obs) {
					// Relapsed within the same tick: treat as a fresh Firing
					// rather than a Recovery, still subject to silence.
					if rule.Enabled && silenceElapsed(rule, next.LastAlertTime[k], now) {
						events = append(events, buildEvent(expect, k, types.AlertEventFiring, flags, obs, now))
						next.AlarmNotified[k] = true
						next.LastAlertTime[k] = now
					}
				} else {
					events = append(events, buildEvent(expect, k, types.AlertEventRecovery, flags, obs, now))
					next.AlarmNotified[k] = false
				}
			}
		}

		// alarm always reflects ground truth, regardless of suppression.
		next.Alarm[k] = current
	}

	next.LastRespTimeMs = obs.RespTimeMs()
	next.LastObservedAt = now
	appendHistory(next, obs, cfg.HistoryRetentionDays, now)

	return Decision{NextState: next, Events: events}
}

// silenceElapsed reports whether enough time has passed since the last
// Firing of kind k to allow another one. A zero last-alert time (never
// fired) always passes. suppress_minutes = 0 disables the window entirely.
func silenceElapsed(rule types.AlertRule, lastAlert time.Time, now time.Time) bool {
	if rule.SuppressMinutes == 0 {
		return true
	}
	if lastAlert.IsZero() {
		return true
	}
	return now.Sub(lastAlert) >= rule.SuppressWindow()
}

// recoveryValid applies the kind-specific recovery-validity predicate.
// A transport failure (has_http_response=false) never validates a recovery
// for status_code, content_match, or json_path — the historical bug this
// guards against is a dropped connection masquerading as "back to 200".
func recoveryValid(k types.AlertKind, flags types.ConditionFlags) bool {
	switch k {
	case types.KindStatusCode, types.KindContentMatch:
		return flags.HasHTTPResponse
	case types.KindJSONPath:
		return flags.HasHTTPResponse && flags.JSONParseable && flags.JSONPathMatched
	default: // timeout, delay, ssl_expiry
		return true
	}
}

// delayStillOverBudget re-checks the current sample's response time against
// the configured budget at recovery-decision time, independent of the
// already-computed DelayFail flag — the explicit re-check the spec calls
// for, kept separate from Evaluate's own flag computation so a relapse
// within the same tick is never silently treated as a clean recovery.
func delayStillOverBudget(expect types.TaskExpectation, obs types.Observation) bool {
	maxMs, _ := expect.DelayBreachThreshold()
	if maxMs <= 0 {
		return false
	}
	return obs.RespTimeMs() > int64(maxMs)
}

func appendHistory(state *types.TaskState, obs types.Observation, retentionDays int, now time.Time) {
	entry := types.HistoryEntry{
		Timestamp: now,
		RespTimeMs: obs.RespTimeMs(),
	}
	if obs.HTTP != nil {
		entry.StatusCode = obs.HTTP.StatusCode
		entry.Failed = false
	} else {
		entry.StatusCode = -1
		entry.Failed = true
	}
	state.History = append(state.History, entry)

	if retentionDays <= 0 {
		retentionDays = 3
	}
	horizon := now.AddDate(0, 0, -retentionDays)
	kept := state.History[:0]
	for _, e := range state.History {
		if !e.Timestamp.Before(horizon) {
			kept = append(kept, e)
		}
	}
	state.History = kept
}

func buildEvent(expect types.TaskExpectation, k types.AlertKind, evtType types.AlertEventType, flags types.ConditionFlags, obs types.Observation, now time.Time) types.AlertEvent {
	statusCode := -1
	if obs.HTTP != nil {
		statusCode = obs.HTTP.StatusCode
	}
	return types.AlertEvent{
		ID:         uuid.NewString(),
		TaskName:   expect.Name,
		Kind:       k,
		Type:       evtType,
		At:         now,
		Message:    buildMessage(expect, k, evtType, statusCode, obs.RespTimeMs(), now),
		StatusCode: statusCode,
		RespTimeMs: obs.RespTimeMs(),
	}
}

// buildMessage templates the notification body. It is invoked fresh for
// every event, including Recovery events for delay, so the response time
// reported is always the one from the observation that triggered this
// particular decision — never a value cached from the original Firing.
func buildMessage(expect types.TaskExpectation, k types.AlertKind, evtType types.AlertEventType, statusCode int, respTimeMs int64, now time.Time) string {
	verb := "故障"
	if evtType == types.AlertEventRecovery {
		verb = "恢复"
	}
	return fmt.Sprintf("[%s] %s %s: url=%s status=%d resp_time_ms=%d at=%s",
		verb, expect.Name, k.DisplayName(), expect.URL, statusCode, respTimeMs, now.Format(time.RFC3339))
}
