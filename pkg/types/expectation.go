// Package types defines the core domain types for the health-check and
// alert engine: task expectations, probe observations, condition flags,
// per-task alert state, and alert events.
//
// # Design Principles
//
// 1. Simplicity: types represent the domain model directly, no ORM layer.
// 2. Serialization: all types round-trip through JSON and YAML.
// 3. Immutability: TaskExpectation is loaded once per config reload and
//    never mutated in place.
package types

import (
	"fmt"
	"time"
)

// =============================================================================
// TASK EXPECTATION
// =============================================================================

// TaskExpectation is the immutable configuration for one monitored URL,
// loaded from conf/tasks.yaml. It never changes between probe cycles;
// a config reload replaces the whole map rather than mutating fields.
type TaskExpectation struct {
	Name    string        `yaml:"name" json:"name"`
	Method  string        `yaml:"method" json:"method"`
	URL     string        `yaml:"url" json:"url"`
	Interval time.Duration `yaml:"interval" json:"interval"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`

	Threshold Threshold `yaml:"threshold" json:"threshold"`

	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Cookies map[string]string `yaml:"cookies,omitempty" json:"cookies,omitempty"`
	Payload string            `yaml:"payload,omitempty" json:"payload,omitempty"`

	Retry RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`
	Proxy string      `yaml:"proxy,omitempty" json:"proxy,omitempty"`

	SSL SSLConfig `yaml:"ssl,omitempty" json:"ssl,omitempty"`

	ExpectJSON      bool   `yaml:"expect_json,omitempty" json:"expect_json,omitempty"`
	JSONPath        string `yaml:"json_path,omitempty" json:"json_path,omitempty"`
	JSONPathValue   string `yaml:"json_path_value,omitempty" json:"json_path_value,omitempty"`
	MaxResponseSize int64  `yaml:"max_response_size,omitempty" json:"max_response_size,omitempty"`
}

// Threshold defines the pass/fail conditions for a task's probe.
type Threshold struct {
	// StatCode is the expected HTTP status code. Zero means "don't check".
	StatCode int `yaml:"stat_code,omitempty" json:"stat_code,omitempty"`

	// MathStr is an expected substring in the response body. Empty means
	// "don't check".
	MathStr string `yaml:"math_str,omitempty" json:"math_str,omitempty"`

	// Delay is [max_ms, consecutive_n]. A response slower than max_ms
	// breaches the delay condition, and a single breach fires. consecutive_n
	// (second element) is parsed and returned by DelayBreachThreshold, but
	// the evaluator does not apply it.
	Delay [2]int `yaml:"delay,omitempty" json:"delay,omitempty"`
}

// RetryConfig controls transient-failure retry behavior in the prober.
type RetryConfig struct {
	Count int           `yaml:"count,omitempty" json:"count,omitempty"`
	Delay time.Duration `yaml:"delay,omitempty" json:"delay,omitempty"`
}

// SSLConfig controls certificate validation for HTTPS targets.
type SSLConfig struct {
	Verify bool `yaml:"verify,omitempty" json:"verify,omitempty"`

	// WarningDays is nil when the config omits the field entirely — Validate
	// fills that case in with the spec default of 30. An explicit 0
	// distinguishes "disable SSL expiry evaluation" from "unset" and is
	// never overwritten.
	WarningDays *int `yaml:"warning_days,omitempty" json:"warning_days,omitempty"`
}

// Validate checks that the task expectation has the minimum fields needed
// to run a probe.
func (t *TaskExpectation) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if t.URL == "" {
		return fmt.Errorf("task %q: url is required", t.Name)
	}
	if t.Interval <= 0 {
		return fmt.Errorf("task %q: interval must be positive", t.Name)
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("task %q: timeout must be positive", t.Name)
	}
	if t.Method == "" {
		t.Method = "GET"
	}
	if t.JSONPath != "" && !t.ExpectJSON {
		return fmt.Errorf("task %q: json_path set without expect_json", t.Name)
	}
	if t.SSL.WarningDays == nil {
		defaultWarningDays := 30
		t.SSL.WarningDays = &defaultWarningDays
	}
	return nil
}

// DelayBreachThreshold returns the configured max response time in
// milliseconds, and the configured consecutive-breach count (1 when unset).
// Only maxMs affects evaluation; delay fires on a single breach.
func (t *TaskExpectation) DelayBreachThreshold() (maxMs int, consecutiveN int) {
	maxMs = t.Threshold.Delay[0]
	consecutiveN = t.Threshold.Delay[1]
	if consecutiveN <= 0 {
		consecutiveN = 1
	}
	return maxMs, consecutiveN
}
