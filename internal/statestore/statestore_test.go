package statestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pilot-net/urlcheck/pkg/types"
)

func TestLoad_MissingReturnsFreshState(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, existed, err := store.Load("nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if existed {
		t.Fatal("expected existed=false for a missing task")
	}
	if state.TaskName != "nope" {
		t.Fatalf("wrong task name: %s", state.TaskName)
	}
}

// R1: Save(state) then Load returns an equal state.
func TestSaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := types.NewTaskState("svc")
	state.Alarm[types.KindStatusCode] = true
	state.AlarmNotified[types.KindStatusCode] = true
	state.LastAlertTime[types.KindStatusCode] = time.Now().Truncate(time.Second)
	state.LastRespTimeMs = 123

	if err := store.Save("svc", state); err != nil {
		t.Fatalf("unexpected error saving: %v", err)
	}

	loaded, existed, err := store.Load("svc")
	if err != nil {
		t.Fatalf("unexpected error loading: %v", err)
	}
	if !existed {
		t.Fatal("expected existed=true after a save")
	}
	if loaded.LastRespTimeMs != 123 {
		t.Fatalf("wrong last_resp_time_ms: %d", loaded.LastRespTimeMs)
	}
	if !loaded.Alarm[types.KindStatusCode] || !loaded.AlarmNotified[types.KindStatusCode] {
		t.Fatal("expected status_code alarm flags to round-trip as true")
	}
}

func TestLoad_CorruptFileTreatedAsMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("unexpected error writing fixture: %v", err)
	}

	state, existed, err := store.Load("broken")
	if err != nil {
		t.Fatalf("expected corrupt files to be handled without error, got: %v", err)
	}
	if existed {
		t.Fatal("expected existed=false for a corrupt file")
	}
	if state.TaskName != "broken" {
		t.Fatalf("wrong task name: %s", state.TaskName)
	}
}

func TestListTaskNames(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, name := range []string{"a", "b", "c"} {
		if err := store.Save(name, types.NewTaskState(name)); err != nil {
			t.Fatalf("unexpected error saving %s: %v", name, err)
		}
	}

	names, err := store.ListTaskNames()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 task names, got %d: %v", len(names), names)
	}
}

func TestSave_NoStaleTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.Save("svc", types.NewTaskState("svc")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one file after save, found %d", len(entries))
	}
	if entries[0].Name() != "svc.json" {
		t.Fatalf("unexpected file left behind: %s", entries[0].Name())
	}
}
