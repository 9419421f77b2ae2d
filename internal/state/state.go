// Package state persists run state to a directory such that a run can be
// resumed after an interrupted or failed invocation.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// Status is a package's build state during a run.
type Status string

const (
	Pending Status = "pending"
	Started Status = "started"
	Success Status = "success"
	Failed  Status = "failed"
	Blocked Status = "blocked" // virtual: never persisted as a transition
)

// FailureType classifies why a package failed.
type FailureType string

const (
	FailureFetch       FailureType = "fetch"
	FailurePatch       FailureType = "patch"
	FailureMissingDep  FailureType = "missing_dep"
	FailureCycle       FailureType = "cycle"
	FailureBuild       FailureType = "build"
	FailurePolicy      FailureType = "policy"
	FailureUnknown     FailureType = "unknown"
)

// PackageState is the per-package build state.
type PackageState struct {
	Status           Status      `json:"status"`
	FailureType      FailureType `json:"failure_type,omitempty"`
	FailureMessage   string      `json:"failure_message,omitempty"`
	LogPath          string      `json:"log_path,omitempty"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	DurationSeconds  float64     `json:"duration_seconds,omitempty"`
}

// Run is the persisted state of one packastack run.
type Run struct {
	mu sync.Mutex

	RunID        string                   `json:"run_id"`
	Target       string                   `json:"target"`
	UbuntuSeries string                   `json:"ubuntu_series"`
	BuildType    string                   `json:"build_type"`
	KeepGoing    bool                     `json:"keep_going"`
	MaxFailures  int                      `json:"max_failures"`
	Parallel     int                      `json:"parallel"`
	BuildOrder   []string                 `json:"build_order"`
	Packages     map[string]*PackageState `json:"packages"`
	Cycles       [][]string               `json:"cycles,omitempty"`
	MissingDeps  map[string][]string      `json:"missing_deps,omitempty"`
	StartedAt    time.Time                `json:"started_at"`
	CompletedAt  *time.Time               `json:"completed_at,omitempty"`
}

// CreateInitialState builds a fresh Run with every package pending.
func CreateInitialState(runID, target, series, buildType string, packages, buildOrder []string, maxFailures int, keepGoing bool, parallel int) *Run {
	pkgStates := make(map[string]*PackageState, len(packages))
	for _, name := range packages {
		pkgStates[name] = &PackageState{Status: Pending}
	}
	return &Run{
		RunID:        runID,
		Target:       target,
		UbuntuSeries: series,
		BuildType:    buildType,
		KeepGoing:    keepGoing,
		MaxFailures:  maxFailures,
		Parallel:     parallel,
		BuildOrder:   buildOrder,
		Packages:     pkgStates,
		StartedAt:    time.Now(),
	}
}

func statePath(dir string) string {
	return filepath.Join(dir, "state.json")
}

// LoadState reads state.json from dir. Returns nil, nil if the file does
// not exist (a fresh run, not an error).
func LoadState(dir string) (*Run, error) {
	data, err := os.ReadFile(statePath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Errorf("reading state from %s: %w", dir, err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, xerrors.Errorf("parsing state from %s: %w", dir, err)
	}
	return &run, nil
}

// SaveState writes the run atomically: write to a temp file, fsync,
// rename (github.com/google/renameio, as the teacher uses for branch
// pointer updates in cmd/autobuilder).
func SaveState(run *Run, dir string) error {
	run.mu.Lock()
	data, err := json.MarshalIndent(run, "", "  ")
	run.mu.Unlock()
	if err != nil {
		return xerrors.Errorf("marshaling state: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Errorf("creating state dir %s: %w", dir, err)
	}
	if err := renameio.WriteFile(statePath(dir), data, 0o644); err != nil {
		return xerrors.Errorf("writing state to %s: %w", dir, err)
	}
	return nil
}

// MarkStarted transitions pkg from pending to started. Returns an error
// if pkg is unknown or not pending.
func (r *Run) MarkStarted(pkg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.Packages[pkg]
	if !ok {
		return xerrors.Errorf("mark_started: unknown package %q", pkg)
	}
	if ps.Status != Pending {
		return xerrors.Errorf("mark_started: %q is %s, want pending", pkg, ps.Status)
	}
	now := time.Now()
	ps.Status = Started
	ps.StartedAt = &now
	return nil
}

// MarkSuccess transitions pkg from started to success.
func (r *Run) MarkSuccess(pkg string, logPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.Packages[pkg]
	if !ok {
		return xerrors.Errorf("mark_success: unknown package %q", pkg)
	}
	if ps.Status != Started {
		return xerrors.Errorf("mark_success: %q is %s, want started", pkg, ps.Status)
	}
	ps.Status = Success
	if logPath != "" {
		ps.LogPath = logPath
	}
	if ps.StartedAt != nil {
		ps.DurationSeconds = time.Since(*ps.StartedAt).Seconds()
	}
	return nil
}

// MarkFailed transitions pkg from started to failed.
func (r *Run) MarkFailed(pkg string, failureType FailureType, message string, logPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.Packages[pkg]
	if !ok {
		return xerrors.Errorf("mark_failed: unknown package %q", pkg)
	}
	if ps.Status != Started {
		return xerrors.Errorf("mark_failed: %q is %s, want started", pkg, ps.Status)
	}
	ps.Status = Failed
	ps.FailureType = failureType
	ps.FailureMessage = message
	if logPath != "" {
		ps.LogPath = logPath
	}
	if ps.StartedAt != nil {
		ps.DurationSeconds = time.Since(*ps.StartedAt).Seconds()
	}
	return nil
}

// ShouldStop reports whether the run should stop launching new work:
// either keep_going is false and at least one package has failed, or the
// failure count has reached max_failures (when max_failures > 0).
func (r *Run) ShouldStop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	failures := 0
	for _, ps := range r.Packages {
		if ps.Status == Failed {
			failures++
		}
	}
	if failures == 0 {
		return false
	}
	if !r.KeepGoing {
		return true
	}
	return r.MaxFailures > 0 && failures >= r.MaxFailures
}

// ResetFailedToPending transitions every failed package back to pending,
// for resume with retry_failed.
func (r *Run) ResetFailedToPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ps := range r.Packages {
		if ps.Status == Failed {
			*ps = PackageState{Status: Pending}
		}
	}
}

// MarkCompleted records the run's completion timestamp.
func (r *Run) MarkCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.CompletedAt = &now
}

// FailedPackages returns the names of packages currently in the failed
// state, sorted.
func (r *Run) FailedPackages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, ps := range r.Packages {
		if ps.Status == Failed {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Dependencies abstracts the graph lookups Blocked needs, satisfied by
// *depgraph.Graph without importing it here (keeps internal/state free of
// a dependency on internal/depgraph).
type Dependencies interface {
	Dependencies(name string) []string
}

// Blocked computes, on demand, the set of pending packages whose graph
// ancestors have all failed. Blocked is a virtual status, never
// persisted as a transition.
func (r *Run) Blocked(deps Dependencies) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var blocked []string
	for name, ps := range r.Packages {
		if ps.Status != Pending {
			continue
		}
		if r.allAncestorsFailedLocked(name, deps, map[string]bool{}) {
			blocked = append(blocked, name)
		}
	}
	return blocked
}

func (r *Run) allAncestorsFailedLocked(name string, deps Dependencies, visited map[string]bool) bool {
	direct := deps.Dependencies(name)
	if len(direct) == 0 {
		return false
	}
	for _, dep := range direct {
		if visited[dep] {
			continue
		}
		visited[dep] = true
		ps, ok := r.Packages[dep]
		if !ok {
			continue // dependency outside the run's target set
		}
		if ps.Status == Failed {
			continue
		}
		if ps.Status == Success {
			return false
		}
		// dep is pending/started: only blocking if its own ancestors are
		// all failed too.
		if !r.allAncestorsFailedLocked(dep, deps, visited) {
			return false
		}
	}
	return true
}
