package state

import (
	"testing"
)

func TestCreateInitialStateAllPending(t *testing.T) {
	run := CreateInitialState("run-1", "dalmatian", "noble", "auto",
		[]string{"nova", "neutron"}, []string{"neutron", "nova"}, 0, true, 4)
	if len(run.Packages) != 2 {
		t.Fatalf("len(Packages) = %d, want 2", len(run.Packages))
	}
	for name, ps := range run.Packages {
		if ps.Status != Pending {
			t.Errorf("%s status = %v, want pending", name, ps.Status)
		}
	}
}

func TestSaveAndLoadStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	run := CreateInitialState("run-1", "dalmatian", "noble", "auto",
		[]string{"nova"}, []string{"nova"}, 0, true, 1)

	if err := SaveState(run, dir); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	loaded, err := LoadState(dir)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if loaded == nil || loaded.RunID != "run-1" {
		t.Fatalf("LoadState() = %+v, want run-1", loaded)
	}
}

func TestLoadStateMissingReturnsNil(t *testing.T) {
	run, err := LoadState(t.TempDir())
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if run != nil {
		t.Errorf("LoadState() = %+v, want nil", run)
	}
}

func TestMarkTransitions(t *testing.T) {
	run := CreateInitialState("run-1", "t", "noble", "auto", []string{"nova"}, []string{"nova"}, 0, true, 1)

	if err := run.MarkStarted("nova"); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	if err := run.MarkStarted("nova"); err == nil {
		t.Error("expected error marking already-started package as started")
	}
	if err := run.MarkSuccess("nova", "/logs/nova.log"); err != nil {
		t.Fatalf("MarkSuccess: %v", err)
	}
	if run.Packages["nova"].Status != Success {
		t.Errorf("status = %v, want success", run.Packages["nova"].Status)
	}
}

func TestMarkFailedRequiresStarted(t *testing.T) {
	run := CreateInitialState("run-1", "t", "noble", "auto", []string{"nova"}, []string{"nova"}, 0, true, 1)
	if err := run.MarkFailed("nova", FailureBuild, "boom", ""); err == nil {
		t.Error("expected error marking pending package as failed")
	}
}

func TestShouldStop(t *testing.T) {
	run := CreateInitialState("r", "t", "noble", "auto", []string{"a", "b"}, []string{"a", "b"}, 0, false, 1)
	run.MarkStarted("a")
	if run.ShouldStop() {
		t.Error("ShouldStop() = true before any failure")
	}
	run.MarkFailed("a", FailureBuild, "boom", "")
	if !run.ShouldStop() {
		t.Error("ShouldStop() = false, want true (keep_going=false, 1 failure)")
	}
}

func TestShouldStopMaxFailures(t *testing.T) {
	run := CreateInitialState("r", "t", "noble", "auto", []string{"a", "b"}, []string{"a", "b"}, 2, true, 1)
	run.MarkStarted("a")
	run.MarkFailed("a", FailureBuild, "boom", "")
	if run.ShouldStop() {
		t.Error("ShouldStop() = true before reaching max_failures")
	}
	run.MarkStarted("b")
	run.MarkFailed("b", FailureBuild, "boom", "")
	if !run.ShouldStop() {
		t.Error("ShouldStop() = false, want true at max_failures")
	}
}

func TestResetFailedToPending(t *testing.T) {
	run := CreateInitialState("r", "t", "noble", "auto", []string{"a"}, []string{"a"}, 0, true, 1)
	run.MarkStarted("a")
	run.MarkFailed("a", FailureBuild, "boom", "")
	run.ResetFailedToPending()
	if run.Packages["a"].Status != Pending {
		t.Errorf("status = %v, want pending", run.Packages["a"].Status)
	}
}

type fakeDeps map[string][]string

func (f fakeDeps) Dependencies(name string) []string { return f[name] }

func TestBlocked(t *testing.T) {
	run := CreateInitialState("r", "t", "noble", "auto",
		[]string{"a", "b", "c"}, []string{"c", "b", "a"}, 0, true, 1)
	// a depends on b, b depends on c; c fails, so b (and then a) are blocked.
	deps := fakeDeps{"a": {"b"}, "b": {"c"}}

	run.MarkStarted("c")
	run.MarkFailed("c", FailureBuild, "boom", "")

	blocked := run.Blocked(deps)
	blockedSet := map[string]bool{}
	for _, n := range blocked {
		blockedSet[n] = true
	}
	if !blockedSet["b"] || !blockedSet["a"] {
		t.Errorf("Blocked() = %v, want a and b blocked", blocked)
	}
}
