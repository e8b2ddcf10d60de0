package types

import (
	"encoding/json"
	"time"
)

// =============================================================================
// TASK STATE
// =============================================================================

// HistoryEntry is one retained probe result. The state machine appends one
// per observation and drops entries older than the history retention
// horizon; the Report Generator judges freshness from LastObservedAt, not
// from History.
type HistoryEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	StatusCode int       `json:"status_code"`
	RespTimeMs int64     `json:"resp_time_ms"`
	Failed     bool      `json:"failed"`
}

// TaskState is the durable, per-task alert bookkeeping persisted by the
// State Store. Alarm and AlarmNotified are deliberately separate maps:
// Alarm reflects ground truth ("is this condition currently failing"),
// AlarmNotified reflects what was last communicated ("did we tell anyone").
// Collapsing them into one map is the single most common bug in systems
// like this — it produces a false recovery notification the instant a
// silenced alert's condition clears, because there was no way to tell
// "still broken, just quiet" from "actually fixed".
type TaskState struct {
	TaskName string `json:"task_name"`

	Alarm         map[AlertKind]bool `json:"alarm"`
	AlarmNotified map[AlertKind]bool `json:"alarm_notified"`

	LastAlertTime  map[AlertKind]time.Time `json:"last_alert_time,omitempty"`
	ConsecutiveHit map[AlertKind]int       `json:"consecutive_hit,omitempty"`

	LastRespTimeMs int64                     `json:"last_resp_time_ms"`
	LastObservedAt time.Time                 `json:"last_observed_at"`
	History        []HistoryEntry            `json:"history,omitempty"`
}

// NewTaskState returns an empty state for a task that has never been probed.
func NewTaskState(taskName string) *TaskState {
	return &TaskState{
		TaskName:       taskName,
		Alarm:          make(map[AlertKind]bool),
		AlarmNotified:  make(map[AlertKind]bool),
		LastAlertTime:  make(map[AlertKind]time.Time),
		ConsecutiveHit: make(map[AlertKind]int),
	}
}

// taskStateWire is the JSON wire shape, used to detect the legacy format
// (no alarm_notified key) written by an earlier revision of the state file.
type taskStateWire struct {
	TaskName       string                  `json:"task_name"`
	Alarm          map[AlertKind]bool      `json:"alarm"`
	AlarmNotified  *map[AlertKind]bool     `json:"alarm_notified"`
	LastAlertTime  map[AlertKind]time.Time `json:"last_alert_time,omitempty"`
	ConsecutiveHit map[AlertKind]int       `json:"consecutive_hit,omitempty"`
	LastRespTimeMs int64                   `json:"last_resp_time_ms"`
	LastObservedAt time.Time               `json:"last_observed_at"`
	History        []HistoryEntry          `json:"history,omitempty"`
}

// UnmarshalJSON defaults AlarmNotified to a copy of Alarm when the field is
// absent, so state files written before alarm_notified existed load as
// "already notified of everything currently alarming" rather than
// re-firing every open alert on the next evaluation.
func (t *TaskState) UnmarshalJSON(data []byte) error {
	var w taskStateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t.TaskName = w.TaskName
	t.Alarm = w.Alarm
	if t.Alarm == nil {
		t.Alarm = make(map[AlertKind]bool)
	}
	if w.AlarmNotified != nil {
		t.AlarmNotified = *w.AlarmNotified
	} else {
		t.AlarmNotified = make(map[AlertKind]bool, len(t.Alarm))
		for k, v := range t.Alarm {
			t.AlarmNotified[k] = v
		}
	}
	t.LastAlertTime = w.LastAlertTime
	if t.LastAlertTime == nil {
		t.LastAlertTime = make(map[AlertKind]time.Time)
	}
	t.ConsecutiveHit = w.ConsecutiveHit
	if t.ConsecutiveHit == nil {
		t.ConsecutiveHit = make(map[AlertKind]int)
	}
	t.LastRespTimeMs = w.LastRespTimeMs
	t.LastObservedAt = w.LastObservedAt
	t.History = w.History
	return nil
}

// Clone returns a deep copy so callers can compute a tentative next state
// without mutating the original.
func (t *TaskState) Clone() *TaskState {
	c := &TaskState{
		TaskName:       t.TaskName,
		Alarm:          make(map[AlertKind]bool, len(t.Alarm)),
		AlarmNotified:  make(map[AlertKind]bool, len(t.AlarmNotified)),
		LastAlertTime:  make(map[AlertKind]time.Time, len(t.LastAlertTime)),
		ConsecutiveHit: make(map[AlertKind]int, len(t.ConsecutiveHit)),
		LastRespTimeMs: t.LastRespTimeMs,
		LastObservedAt: t.LastObservedAt,
		History:        append([]HistoryEntry(nil), t.History...),
	}
	for k, v := range t.Alarm {
		c.Alarm[k] = v
	}
	for k, v := range t.AlarmNotified {
		c.AlarmNotified[k] = v
	}
	for k, v := range t.LastAlertTime {
		c.LastAlertTime[k] = v
	}
	for k, v := range t.ConsecutiveHit {
		c.ConsecutiveHit[k] = v
	}
	return c
}
