package upstream

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveDefaults(t *testing.T) {
	var r *Registry
	cfg := r.Resolve("nova")
	if got, want := cfg.URL, "https://opendev.org/openstack/nova.git"; got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
	if cfg.DefaultBranch != "master" {
		t.Errorf("DefaultBranch = %q, want master", cfg.DefaultBranch)
	}
	if cfg.ReleaseSource.Type != ReleaseSourceOpenStack {
		t.Errorf("ReleaseSource.Type = %q, want %q", cfg.ReleaseSource.Type, ReleaseSourceOpenStack)
	}
	if cfg.ReleaseSource.Deliverable != "nova" {
		t.Errorf("ReleaseSource.Deliverable = %q, want nova", cfg.ReleaseSource.Deliverable)
	}
}

func TestLoadAndResolveExplicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	if err := os.WriteFile(path, []byte(`
projects:
  oslo.config:
    url: https://opendev.org/openstack/oslo.config.git
    default_branch: master
    aliases: [python-oslo.config]
    tarball:
      prefer: [pypi, official]
    signatures:
      mode: required
`), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reg.HasExplicitEntry("oslo.config") {
		t.Error("HasExplicitEntry(oslo.config) = false, want true")
	}
	if !reg.HasExplicitEntry("python-oslo.config") {
		t.Error("HasExplicitEntry(python-oslo.config) = false (prefix-strip failed)")
	}

	cfg := reg.Resolve("python-oslo.config")
	if got, want := cfg.Signatures.Mode, SignatureRequired; got != want {
		t.Errorf("Signatures.Mode = %q, want %q", got, want)
	}
	if len(cfg.Tarball.Prefer) != 2 || cfg.Tarball.Prefer[0] != MethodPyPI {
		t.Errorf("Tarball.Prefer = %v, want [pypi official]", cfg.Tarball.Prefer)
	}
}

func TestLoadMissingFileIsNonFatal(t *testing.T) {
	reg, err := Load("/nonexistent/registry.yaml")
	if err != nil {
		t.Fatalf("Load of missing file should be non-fatal, got: %v", err)
	}
	cfg := reg.Resolve("nova")
	if cfg.URL == "" {
		t.Error("expected default config, got empty URL")
	}
}

func TestAliasResolution(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	if err := os.WriteFile(path, []byte(`
projects:
  heat:
    url: https://opendev.org/openstack/heat.git
    aliases: [heat-api]
`), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg := reg.Resolve("heat-api")
	if got, want := cfg.URL, "https://opendev.org/openstack/heat.git"; got != want {
		t.Errorf("Resolve via alias = %q, want %q", got, want)
	}
}
