// Package upstream resolves a source-package or deliverable name to its
// upstream project configuration: the Git location, the release source
// it should be tracked through, tarball acquisition preferences and
// signature policy.
package upstream

import (
	"os"
	"strings"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// ReleaseSourceType names how a project's upstream releases are tracked.
type ReleaseSourceType string

const (
	ReleaseSourceOpenStack ReleaseSourceType = "openstack-releases"
	ReleaseSourceDebianWatch ReleaseSourceType = "debian-watch"
	ReleaseSourceNone      ReleaseSourceType = "none"
)

// TarballMethod names one way of acquiring an upstream tarball.
type TarballMethod string

const (
	MethodOfficial       TarballMethod = "official"
	MethodUscan          TarballMethod = "uscan"
	MethodPyPI           TarballMethod = "pypi"
	MethodGitHubRelease  TarballMethod = "github_release"
	MethodGitArchive     TarballMethod = "git_archive"
)

// SignatureMode governs whether a downloaded tarball's GPG signature is
// required.
type SignatureMode string

const (
	SignatureAuto     SignatureMode = "auto"
	SignatureRequired SignatureMode = "required"
	SignatureOff      SignatureMode = "off"
)

// Config is the resolved upstream project configuration for one common
// name, built from the three on-disk registry sub-structs below plus
// deterministic defaults.
type Config struct {
	URL           string
	DefaultBranch string
	Type          string // upstream project type, as recorded in the registry

	ReleaseSource ReleaseSourceConfig
	Tarball       TarballConfig
	Signatures    SignatureConfig
}

// ReleaseSourceConfig names how this project's releases are tracked.
type ReleaseSourceConfig struct {
	Type        ReleaseSourceType `yaml:"type"`
	Deliverable string            `yaml:"deliverable"`
}

// TarballConfig orders the tarball-acquisition methods to try.
type TarballConfig struct {
	Prefer []TarballMethod `yaml:"prefer"`
}

// SignatureConfig governs signature verification policy.
type SignatureConfig struct {
	Mode SignatureMode `yaml:"mode"`
}

// entry is one registry record, as stored in the on-disk YAML file.
type entry struct {
	URL           string              `yaml:"url"`
	DefaultBranch string              `yaml:"default_branch"`
	Type          string              `yaml:"type"`
	Aliases       []string            `yaml:"aliases"`
	ReleaseSource ReleaseSourceConfig `yaml:"release_source"`
	Tarball       TarballConfig       `yaml:"tarball"`
	Signatures    SignatureConfig     `yaml:"signatures"`
}

// registryFile mirrors the on-disk registry document: a map of common
// name to entry.
type registryFile struct {
	Projects map[string]entry `yaml:"projects"`
}

// Registry resolves common names to Config, consulting explicit entries
// before falling back to deterministic defaults. The zero Registry (no
// entries loaded) is valid and resolves everything via defaults.
type Registry struct {
	entries map[string]entry
	aliases map[string]string // alias -> canonical key
}

// Load reads a registry YAML file. A missing or unparsable file is
// non-fatal: resolution simply falls back to defaults thereafter.
func Load(path string) (*Registry, error) {
	r := &Registry{entries: map[string]entry{}, aliases: map[string]string{}}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return r, xerrors.Errorf("opening upstream registry %s: %w", path, err)
	}
	defer f.Close()

	var doc registryFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return r, xerrors.Errorf("parsing upstream registry %s: %w", path, err)
	}
	for name, e := range doc.Projects {
		r.entries[name] = e
		for _, alias := range e.Aliases {
			r.aliases[alias] = name
		}
	}
	return r, nil
}

// HasExplicitEntry reports whether name resolves to an explicit registry
// record (as opposed to falling back to defaults), used by
// internal/discovery's cross-reference pass.
func (r *Registry) HasExplicitEntry(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.lookup(name)
	return ok
}

// lookup applies the resolution order: verbatim, then python- stripped,
// then aliases.
func (r *Registry) lookup(name string) (entry, bool) {
	if e, ok := r.entries[name]; ok {
		return e, true
	}
	if stripped := strings.TrimPrefix(name, "python-"); stripped != name {
		if e, ok := r.entries[stripped]; ok {
			return e, true
		}
	}
	if canonical, ok := r.aliases[name]; ok {
		if e, ok := r.entries[canonical]; ok {
			return e, true
		}
	}
	return entry{}, false
}

// Resolve returns the Config for name, falling back to deterministic
// defaults when no explicit entry (or a partial one) is found:
// URL = https://opendev.org/openstack/{name}.git, default branch =
// master, release_source = openstack-releases with deliverable = name.
func (r *Registry) Resolve(name string) Config {
	def := Config{
		URL:           "https://opendev.org/openstack/" + name + ".git",
		DefaultBranch: "master",
		ReleaseSource: ReleaseSourceConfig{
			Type:        ReleaseSourceOpenStack,
			Deliverable: name,
		},
		Tarball: TarballConfig{
			Prefer: []TarballMethod{MethodOfficial, MethodPyPI, MethodGitArchive},
		},
		Signatures: SignatureConfig{Mode: SignatureAuto},
	}
	if r == nil {
		return def
	}
	e, ok := r.lookup(name)
	if !ok {
		return def
	}
	cfg := def
	if e.URL != "" {
		cfg.URL = e.URL
	}
	if e.DefaultBranch != "" {
		cfg.DefaultBranch = e.DefaultBranch
	}
	if e.Type != "" {
		cfg.Type = e.Type
	}
	if e.ReleaseSource.Type != "" {
		cfg.ReleaseSource = e.ReleaseSource
		if cfg.ReleaseSource.Deliverable == "" {
			cfg.ReleaseSource.Deliverable = name
		}
	}
	if len(e.Tarball.Prefer) > 0 {
		cfg.Tarball = e.Tarball
	}
	if e.Signatures.Mode != "" {
		cfg.Signatures = e.Signatures
	}
	return cfg
}
