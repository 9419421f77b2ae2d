package buildall

import (
	"context"
	"fmt"
	"log"
	"testing"

	"github.com/canonical/packastack"
	"github.com/canonical/packastack/internal/buildtype"
	"github.com/canonical/packastack/internal/discovery"
	"github.com/canonical/packastack/internal/plan"
	"github.com/canonical/packastack/internal/releases"
	"github.com/canonical/packastack/internal/state"
	"github.com/canonical/packastack/internal/upstream"
)

type fakeIndex struct {
	deps    map[string][]string
	sources map[string]string
}

func (f fakeIndex) Depends(sourcePackage string) []string { return f.deps[sourcePackage] }

func (f fakeIndex) ResolveSource(binaryName string) (string, bool, bool) {
	source, ok := f.sources[binaryName]
	return source, false, ok
}

type recordingBuilder struct {
	fail  map[string]bool
	built []string
}

func (b *recordingBuilder) Build(ctx context.Context, pkg string, sel buildtype.Selection) (string, error) {
	b.built = append(b.built, pkg)
	if b.fail[pkg] {
		return "/log/" + pkg + ".log", packastack.Coded(packastack.BuildFailed, fmt.Errorf("build failed for %s", pkg))
	}
	return "/log/" + pkg + ".log", nil
}

type countingIndex struct{ count int }

func (c *countingIndex) Regenerate(ctx context.Context) error {
	c.count++
	return nil
}

func testLogger() *log.Logger {
	return log.New(discardWriter{}, "", 0)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func basePlanRequest() plan.Request {
	idx := fakeIndex{
		deps: map[string][]string{
			"nova": {"libpython-oslo-config"},
		},
		sources: map[string]string{
			"libpython-oslo-config": "python-oslo.config",
		},
	}
	return plan.Request{
		Discovery:    discovery.Options{ExplicitList: []string{"nova", "python-oslo.config"}},
		ReleasesRepo: &releases.Repo{},
		Registry:     &upstream.Registry{},
		BinaryIndex:  idx,
	}
}

func TestRunDryRun(t *testing.T) {
	builder := &recordingBuilder{fail: map[string]bool{}}
	code, err := Run(context.Background(), Request{
		RunID:        "run-1",
		Target:       "dalmatian",
		UbuntuSeries: "noble",
		DryRun:       true,
		Parallel:     1,
		StateDir:     t.TempDir(),
		Plan:         basePlanRequest(),
		Builder:      builder,
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != packastack.Success {
		t.Errorf("ExitCode = %v, want Success", code)
	}
	if len(builder.built) != 0 {
		t.Errorf("dry run should not build anything, built = %v", builder.built)
	}
}

func TestRunSequentialAllSucceed(t *testing.T) {
	builder := &recordingBuilder{fail: map[string]bool{}}
	idxGen := &countingIndex{}
	code, err := Run(context.Background(), Request{
		RunID:        "run-2",
		Target:       "dalmatian",
		UbuntuSeries: "noble",
		Parallel:     1,
		KeepGoing:    true,
		StateDir:     t.TempDir(),
		Plan:         basePlanRequest(),
		Builder:      builder,
		Index:        idxGen,
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != packastack.Success {
		t.Errorf("ExitCode = %v, want Success", code)
	}
	if len(builder.built) != 2 {
		t.Errorf("built = %v, want 2 packages", builder.built)
	}
	if idxGen.count != 2 {
		t.Errorf("index regenerated %d times, want 2 (once per success)", idxGen.count)
	}
}

func TestRunSequentialStopsOnFailureWithoutKeepGoing(t *testing.T) {
	builder := &recordingBuilder{fail: map[string]bool{"python-oslo.config": true}}
	code, err := Run(context.Background(), Request{
		RunID:        "run-3",
		Target:       "dalmatian",
		UbuntuSeries: "noble",
		Parallel:     1,
		KeepGoing:    false,
		StateDir:     t.TempDir(),
		Plan:         basePlanRequest(),
		Builder:      builder,
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != packastack.AllBuildFailed {
		t.Errorf("ExitCode = %v, want AllBuildFailed", code)
	}
	if len(builder.built) != 1 {
		t.Errorf("built = %v, want exactly 1 (stopped after first failure)", builder.built)
	}
}

func TestRunResumeMissingStateIsResumeError(t *testing.T) {
	code, err := Run(context.Background(), Request{
		Resume:   true,
		StateDir: t.TempDir(),
		Plan:     basePlanRequest(),
		Logger:   testLogger(),
	})
	if code != packastack.ResumeError {
		t.Errorf("ExitCode = %v, want ResumeError", code)
	}
	if err == nil {
		t.Error("expected a non-nil error")
	}
}

func TestRunResumeRetryFailed(t *testing.T) {
	dir := t.TempDir()
	prior := state.CreateInitialState("run-4", "dalmatian", "noble", "auto",
		[]string{"nova", "python-oslo.config"}, []string{"python-oslo.config", "nova"}, 0, true, 1)
	prior.MarkStarted("python-oslo.config")
	prior.MarkFailed("python-oslo.config", state.FailureBuild, "boom", "")
	prior.MarkStarted("nova")
	prior.MarkSuccess("nova", "")
	if err := state.SaveState(prior, dir); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	builder := &recordingBuilder{fail: map[string]bool{}}
	code, err := Run(context.Background(), Request{
		RunID:        "run-4",
		Target:       "dalmatian",
		UbuntuSeries: "noble",
		Resume:       true,
		RetryFailed:  true,
		Parallel:     1,
		KeepGoing:    true,
		StateDir:     dir,
		Plan:         basePlanRequest(),
		Builder:      builder,
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != packastack.Success {
		t.Errorf("ExitCode = %v, want Success", code)
	}
	if len(builder.built) != 1 || builder.built[0] != "python-oslo.config" {
		t.Errorf("built = %v, want only python-oslo.config rebuilt", builder.built)
	}
}

type recordingProgress struct {
	updates []string
	done    bool
}

func (p *recordingProgress) Update(label string) { p.updates = append(p.updates, label) }
func (p *recordingProgress) Done()               { p.done = true }

func TestRunNotifiesProgressPerPackageAndOnCompletion(t *testing.T) {
	builder := &recordingBuilder{fail: map[string]bool{"python-oslo.config": true}}
	prog := &recordingProgress{}
	code, err := Run(context.Background(), Request{
		RunID:        "run-5",
		Target:       "dalmatian",
		UbuntuSeries: "noble",
		Parallel:     1,
		KeepGoing:    true,
		StateDir:     t.TempDir(),
		Plan:         basePlanRequest(),
		Builder:      builder,
		Progress:     prog,
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != packastack.AllBuildFailed {
		t.Errorf("ExitCode = %v, want AllBuildFailed", code)
	}
	if len(prog.updates) != 2 {
		t.Errorf("progress updates = %v, want one per package", prog.updates)
	}
	if !prog.done {
		t.Errorf("progress.Done() was not called")
	}
}
