// Package releases parses on-disk OpenStack release metadata (the
// openstack/releases-style deliverables tree) into read-only structures
// used by the build-type selector (internal/buildtype) and the plan
// assembler (internal/plan).
package releases

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// CycleStage is the phase of an OpenStack release series relative to its
// final release.
type CycleStage string

const (
	PreFinal  CycleStage = "pre_final"
	PostFinal CycleStage = "post_final"
	Unknown   CycleStage = "unknown"
)

// Release is a single entry in a deliverable's release history.
type Release struct {
	Version string            `yaml:"version"`
	IsBeta  bool              `yaml:"-"`
	IsRC    bool              `yaml:"-"`
	IsFinal bool              `yaml:"-"`
	Projects []ReleaseProject `yaml:"projects"`
}

// ReleaseProject is the per-repository commit hash entry under a release.
type ReleaseProject struct {
	Repo string `yaml:"repo"`
	Hash string `yaml:"hash"`
}

// rawDeliverable mirrors deliverables/<series>/<project>.yaml on disk.
type rawDeliverable struct {
	Type         string    `yaml:"type"`
	ReleaseModel string    `yaml:"release-model"`
	Releases     []Release `yaml:"releases"`
}

// Deliverable is the parsed metadata for one OpenStack project within a
// series.
type Deliverable struct {
	Name         string
	Type         string // service | library | client | horizon-plugin | tempest-plugin | other
	ReleaseModel string // cycle-with-rc | cycle-with-intermediary | cycle-trailing | independent | ...
	Releases     []Release
}

// HasReleases reports whether the deliverable has at least one release
// entry in this series.
func (d *Deliverable) HasReleases() bool {
	return d != nil && len(d.Releases) > 0
}

// HasBetaRCOrFinal reports whether any release is tagged beta, rc or
// final.
func (d *Deliverable) HasBetaRCOrFinal() bool {
	if d == nil {
		return false
	}
	for _, r := range d.Releases {
		if r.IsBeta || r.IsRC || r.IsFinal {
			return true
		}
	}
	return false
}

// GetLatestRelease returns the most recent release by semver ordering, or
// nil if there are none.
func (d *Deliverable) GetLatestRelease() *Release {
	if d == nil || len(d.Releases) == 0 {
		return nil
	}
	best := &d.Releases[0]
	bestV, bestErr := semver.NewVersion(normalizeSemver(best.Version))
	for i := 1; i < len(d.Releases); i++ {
		r := &d.Releases[i]
		v, err := semver.NewVersion(normalizeSemver(r.Version))
		switch {
		case bestErr != nil && err == nil:
			best, bestV, bestErr = r, v, err
		case bestErr == nil && err == nil && v.GreaterThan(bestV):
			best, bestV, bestErr = r, v, err
		case bestErr != nil && err != nil && r.Version > best.Version:
			best = r
		}
	}
	return best
}

// GetLatestVersion returns the version string of the latest release, or
// the empty string if there are none.
func (d *Deliverable) GetLatestVersion() string {
	if r := d.GetLatestRelease(); r != nil {
		return r.Version
	}
	return ""
}

// normalizeSemver collapses doubled dots before a version is handed to
// github.com/Masterminds/semver/v3. It does not rewrite OpenStack's
// non-strict prerelease suffixes: "2024.1.0.0b1" still fails to parse,
// and GetLatestRelease then ranks it below any parseable version and
// orders unparseable versions among themselves by string comparison.
func normalizeSemver(v string) string {
	return strings.ReplaceAll(v, "..", ".")
}

func classifyRelease(r *Release) {
	v := strings.ToLower(r.Version)
	switch {
	case strings.Contains(v, "b") && !strings.Contains(v, "rc"):
		r.IsBeta = true
	case strings.Contains(v, "rc"):
		r.IsRC = true
	default:
		r.IsFinal = true
	}
}

// SeriesInfo is the per-series status record (series_status.yaml).
type SeriesInfo struct {
	Name   string `yaml:"name"`
	Status string `yaml:"status"`
}

// Repo is a read-only handle onto an on-disk release-metadata checkout
// (e.g. a clone of openstack/releases). A nil or non-existent Repo
// degrades every query to its zero value rather than erroring.
type Repo struct {
	Path string
}

// Exists reports whether the repo path is usable.
func (r *Repo) Exists() bool {
	if r == nil || r.Path == "" {
		return false
	}
	info, err := os.Stat(r.Path)
	return err == nil && info.IsDir()
}

// DetermineCycleStage maps a series' status to a CycleStage.
func DetermineCycleStage(repo *Repo, series string) CycleStage {
	if !repo.Exists() {
		return Unknown
	}
	infos, err := loadSeriesInfo(repo)
	if err != nil {
		return Unknown
	}
	info, ok := infos[series]
	if !ok {
		return Unknown
	}
	switch info.Status {
	case "development":
		return PreFinal
	case "maintained", "extended maintenance", "unmaintained":
		return PostFinal
	default:
		return Unknown
	}
}

func loadSeriesInfo(repo *Repo) (map[string]SeriesInfo, error) {
	path := filepath.Join(repo.Path, "data", "series_status.yaml")
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("opening series status: %w", err)
	}
	defer f.Close()

	var list []SeriesInfo
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&list); err != nil {
		return nil, xerrors.Errorf("parsing series status: %w", err)
	}
	out := make(map[string]SeriesInfo, len(list))
	for _, s := range list {
		out[s.Name] = s
	}
	return out, nil
}

// LoadProjectReleases parses deliverables/<series>/<deliverable>.yaml.
// Returns nil, nil when the file does not exist (not-in-releases is a
// normal, expected case, not an error).
func LoadProjectReleases(repo *Repo, series, deliverable string) (*Deliverable, error) {
	if !repo.Exists() {
		return nil, nil
	}
	path := filepath.Join(repo.Path, "deliverables", series, deliverable+".yaml")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Errorf("opening deliverable %s: %w", deliverable, err)
	}
	defer f.Close()

	var raw rawDeliverable
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&raw); err != nil {
		return nil, xerrors.Errorf("parsing deliverable %s: %w", deliverable, err)
	}
	for i := range raw.Releases {
		classifyRelease(&raw.Releases[i])
	}
	return &Deliverable{
		Name:         deliverable,
		Type:         raw.Type,
		ReleaseModel: raw.ReleaseModel,
		Releases:     raw.Releases,
	}, nil
}

// LoadOpenStackPackages scans deliverables/<series>/*.yaml and maps each
// deliverable's source-package name (one per project listed in its
// releases) to the deliverable. It never fails: an unreadable tree
// yields an empty map.
func LoadOpenStackPackages(repo *Repo, series string) map[string]*Deliverable {
	out := map[string]*Deliverable{}
	if !repo.Exists() {
		return out
	}
	dir := filepath.Join(repo.Path, "deliverables", series)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".yaml")
		d, err := LoadProjectReleases(repo, series, name)
		if err != nil || d == nil {
			continue
		}
		for _, r := range d.Releases {
			for _, p := range r.Projects {
				pkg := sourcePackageFromRepo(p.Repo)
				if pkg != "" {
					out[pkg] = d
				}
			}
		}
		// Also key by the deliverable name itself: many source packages
		// are named identically to their OpenStack project.
		out[name] = d
	}
	return out
}

// sourcePackageFromRepo derives a plausible Ubuntu source-package name
// from an "openstack/<project>" repo path (e.g. "openstack/oslo.config"
// -> "python-oslo.config" is registry-specific and handled by
// internal/upstream; here we only strip the org prefix).
func sourcePackageFromRepo(repo string) string {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return repo
}

// GetCurrentDevelopmentSeries returns the name of the series whose status
// is "development", or "" if none is found.
func GetCurrentDevelopmentSeries(repo *Repo) string {
	if !repo.Exists() {
		return ""
	}
	infos, err := loadSeriesInfo(repo)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(infos))
	for name, info := range infos {
		if info.Status == "development" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[len(names)-1]
}
