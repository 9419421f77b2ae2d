package releases

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDetermineCycleStage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "data", "series_status.yaml"), `
- name: dalmatian
  status: development
- name: caracal
  status: maintained
- name: antelope
  status: unsupported
`)
	repo := &Repo{Path: dir}

	tests := []struct {
		series string
		want   CycleStage
	}{
		{"dalmatian", PreFinal},
		{"caracal", PostFinal},
		{"antelope", Unknown},
		{"nonexistent", Unknown},
	}
	for _, tt := range tests {
		if got := DetermineCycleStage(repo, tt.series); got != tt.want {
			t.Errorf("DetermineCycleStage(%q) = %v, want %v", tt.series, got, tt.want)
		}
	}
}

func TestDetermineCycleStageMissingRepo(t *testing.T) {
	if got := DetermineCycleStage(&Repo{Path: "/nonexistent/path"}, "dalmatian"); got != Unknown {
		t.Errorf("DetermineCycleStage on missing repo = %v, want Unknown", got)
	}
	if got := DetermineCycleStage(nil, "dalmatian"); got != Unknown {
		t.Errorf("DetermineCycleStage(nil) = %v, want Unknown", got)
	}
}

func TestLoadProjectReleases(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "deliverables", "dalmatian", "nova.yaml"), `
type: service
release-model: cycle-with-rc
releases:
  - version: 30.0.0.0b1
    projects:
      - repo: openstack/nova
        hash: abc123
  - version: 30.0.0
    projects:
      - repo: openstack/nova
        hash: def456
`)
	repo := &Repo{Path: dir}

	d, err := LoadProjectReleases(repo, "dalmatian", "nova")
	if err != nil {
		t.Fatalf("LoadProjectReleases: %v", err)
	}
	if d == nil {
		t.Fatal("expected non-nil deliverable")
	}
	if !d.HasReleases() {
		t.Error("HasReleases() = false, want true")
	}
	if !d.HasBetaRCOrFinal() {
		t.Error("HasBetaRCOrFinal() = false, want true")
	}
	if got, want := d.GetLatestVersion(), "30.0.0"; got != want {
		t.Errorf("GetLatestVersion() = %q, want %q", got, want)
	}
}

func TestLoadProjectReleasesMissing(t *testing.T) {
	dir := t.TempDir()
	repo := &Repo{Path: dir}
	d, err := LoadProjectReleases(repo, "dalmatian", "does-not-exist")
	if err != nil {
		t.Fatalf("LoadProjectReleases: %v", err)
	}
	if d != nil {
		t.Errorf("expected nil deliverable, got %+v", d)
	}
}

func TestLoadOpenStackPackages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "deliverables", "dalmatian", "nova.yaml"), `
type: service
releases:
  - version: "30.0.0"
    projects:
      - repo: openstack/nova
`)
	repo := &Repo{Path: dir}
	pkgs := LoadOpenStackPackages(repo, "dalmatian")
	if _, ok := pkgs["nova"]; !ok {
		t.Error("expected \"nova\" key in package map")
	}
}

func TestGetCurrentDevelopmentSeries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "data", "series_status.yaml"), `
- name: caracal
  status: maintained
- name: dalmatian
  status: development
`)
	repo := &Repo{Path: dir}
	if got, want := GetCurrentDevelopmentSeries(repo), "dalmatian"; got != want {
		t.Errorf("GetCurrentDevelopmentSeries() = %q, want %q", got, want)
	}
}

func TestGetCurrentDevelopmentSeriesMissing(t *testing.T) {
	if got := GetCurrentDevelopmentSeries(&Repo{Path: "/nonexistent"}); got != "" {
		t.Errorf("GetCurrentDevelopmentSeries() = %q, want empty", got)
	}
}
