package report

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pilot-net/urlcheck/pkg/types"
)

type fakeLoader struct {
	names   []string
	states  map[string]*types.TaskState
	existed map[string]bool
	failing map[string]bool
}

func (f *fakeLoader) ListTaskNames() ([]string, error) {
	return f.names, nil
}

func (f *fakeLoader) Load(taskName string) (*types.TaskState, bool, error) {
	if f.failing[taskName] {
		return nil, false, errors.New("disk error")
	}
	st, ok := f.states[taskName]
	if !ok {
		return types.NewTaskState(taskName), false, nil
	}
	return st, f.existed[taskName], nil
}

func expectation(name string, interval time.Duration) types.TaskExpectation {
	return types.TaskExpectation{Name: name, URL: "https://example.com", Interval: interval, Timeout: time.Second}
}

func TestClassify_NoDataForUnprobedTask(t *testing.T) {
	loader := &fakeLoader{names: []string{}, states: map[string]*types.TaskState{}, existed: map[string]bool{}}
	g := New(loader, []types.TaskExpectation{expectation("svc-a", time.Minute)}, time.Hour, nil)

	results, err := g.Classify(time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || !results[0].NoData {
		t.Fatalf("expected single no-data classification, got %+v", results)
	}
}

func TestClassify_UnreadableOnLoadError(t *testing.T) {
	loader := &fakeLoader{names: []string{"svc-a"}, failing: map[string]bool{"svc-a": true}}
	g := New(loader, nil, time.Hour, nil)

	results, err := g.Classify(time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || !results[0].Unreadable {
		t.Fatalf("expected unreadable classification, got %+v", results)
	}
}

func TestClassify_CurrentlyAlertingVsNotifiedAlertingDiffer(t *testing.T) {
	now := time.Now()
	st := types.NewTaskState("svc-a")
	st.Alarm[types.KindStatusCode] = true
	st.AlarmNotified[types.KindStatusCode] = false // suppressed: alarming but not yet notified
	st.LastObservedAt = now

	loader := &fakeLoader{
		names:   []string{"svc-a"},
		states:  map[string]*types.TaskState{"svc-a": st},
		existed: map[string]bool{"svc-a": true},
	}
	g := New(loader, []types.TaskExpectation{expectation("svc-a", time.Minute)}, time.Hour, nil)

	results, err := g.Classify(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := results[0]
	if c.Normal {
		t.Fatalf("expected not normal, task is alarming")
	}
	if len(c.CurrentlyAlerting) != 1 {
		t.Fatalf("expected 1 currently-alerting kind, got %v", c.CurrentlyAlerting)
	}
	if len(c.NotifiedAlerting) != 0 {
		t.Fatalf("expected 0 notified-alerting kinds (suppressed), got %v", c.NotifiedAlerting)
	}
}

func TestClassify_StaleWhenPastThreeTimesInterval(t *testing.T) {
	now := time.Now()
	st := types.NewTaskState("svc-a")
	st.LastObservedAt = now.Add(-10 * time.Minute)

	loader := &fakeLoader{
		names:   []string{"svc-a"},
		states:  map[string]*types.TaskState{"svc-a": st},
		existed: map[string]bool{"svc-a": true},
	}
	// interval 1 minute -> threshold is max(3min, 180s) = 180s = 3min; 10min stale observation exceeds it.
	g := New(loader, []types.TaskExpectation{expectation("svc-a", time.Minute)}, time.Hour, nil)

	results, err := g.Classify(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[0].Stale {
		t.Fatalf("expected stale classification, got %+v", results[0])
	}
}

func TestClassify_NotStaleWithinThreshold(t *testing.T) {
	now := time.Now()
	st := types.NewTaskState("svc-a")
	st.LastObservedAt = now.Add(-30 * time.Second)

	loader := &fakeLoader{
		names:   []string{"svc-a"},
		states:  map[string]*types.TaskState{"svc-a": st},
		existed: map[string]bool{"svc-a": true},
	}
	g := New(loader, []types.TaskExpectation{expectation("svc-a", time.Minute)}, time.Hour, nil)

	results, err := g.Classify(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Stale {
		t.Fatalf("expected not stale, got %+v", results[0])
	}
}

// TestClassify_IsIdempotentOverUnchangedState covers R3: running the
// classifier twice over unchanged state must yield identical results.
func TestClassify_IsIdempotentOverUnchangedState(t *testing.T) {
	now := time.Now()
	st := types.NewTaskState("svc-a")
	st.Alarm[types.KindTimeout] = true
	st.AlarmNotified[types.KindTimeout] = true
	st.LastObservedAt = now

	loader := &fakeLoader{
		names:   []string{"svc-a"},
		states:  map[string]*types.TaskState{"svc-a": st},
		existed: map[string]bool{"svc-a": true},
	}
	g := New(loader, []types.TaskExpectation{expectation("svc-a", time.Minute)}, time.Hour, nil)

	first, err := g.Classify(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := g.Classify(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if FormatSummary(first) != FormatSummary(second) {
		t.Fatalf("expected identical summaries across repeated classification")
	}
}

func TestFormatSummary_IncludesAllSections(t *testing.T) {
	out := FormatSummary([]Classification{
		{TaskName: "a", Normal: true},
		{TaskName: "b", CurrentlyAlerting: []types.AlertKind{types.KindTimeout}},
	})
	for _, want := range []string{"normal", "currently-alerting", "notified-alerting", "no-data", "stale", "unreadable"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected summary to contain section %q, got:\n%s", want, out)
		}
	}
}
