package env

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "packastack.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesPathDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "series: 2024.1\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Series != "2024.1" {
		t.Errorf("Series = %q, want %q", cfg.Series, "2024.1")
	}
	if cfg.Distribution != "noble" {
		t.Errorf("Distribution = %q, want default %q", cfg.Distribution, "noble")
	}
	if cfg.Paths.PackagingRepos == "" {
		t.Error("PackagingRepos default not applied")
	}
	if cfg.MaxParallel < 1 {
		t.Errorf("MaxParallel = %d, want >= 1", cfg.MaxParallel)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "series: 2024.1\nbogus_field: true\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown config field")
	}
}

func TestLoadRequiresSeries(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "distribution: noble\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing series")
	}
}

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	cfg := defaultConfig()
	cfg.Series = "2024.1"
	cfg.Paths.applyDefaults(root)

	e := &Env{Config: cfg, Root: root}
	if err := e.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	if _, err := os.Stat(cfg.Paths.StateDir); err != nil {
		t.Errorf("StateDir not created: %v", err)
	}
}
