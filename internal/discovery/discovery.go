// Package discovery produces the filtered list of source-package names a
// run plans for, trying a priority-ordered list of authorities.
package discovery

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/go-github/v27/github"
	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// FilterReason explains why a candidate repo name was excluded.
type FilterReason string

const (
	ReasonNonPackageRepo   FilterReason = "non-package-repo"
	ReasonCharmSuffix      FilterReason = "charm-suffix"
	ReasonOperatorSuffix   FilterReason = "operator-suffix"
	ReasonDotfile          FilterReason = "dotfile"
	ReasonMissingControl   FilterReason = "missing-debian-control"
	ReasonMissingUpstream  FilterReason = "missing-upstream"
	ReasonMissingPackaging FilterReason = "missing-packaging"
)

// knownNonPackageRepos is a fixed list of repos in the fleet-management
// registry that are not themselves source packages (meta/tooling repos).
var knownNonPackageRepos = map[string]bool{
	"release-tools":    true,
	"packaging-specs":  true,
	".github":          true,
}

var excludedSuffixes = []string{"-charm", "-operator"}

func isExcludedName(name string) (FilterReason, bool) {
	if strings.HasPrefix(name, ".") {
		return ReasonDotfile, true
	}
	if knownNonPackageRepos[name] {
		return ReasonNonPackageRepo, true
	}
	for _, suffix := range excludedSuffixes {
		if strings.HasSuffix(name, suffix) {
			if suffix == "-charm" {
				return ReasonCharmSuffix, true
			}
			return ReasonOperatorSuffix, true
		}
	}
	return "", false
}

// Result is the outcome of a discovery run.
type Result struct {
	Packages      []string
	FilteredRepos map[string]FilterReason
	Errors        []error
	Source        string // which authority supplied the package list
}

// Options configures Discover. Authorities rank in priority order:
// ExplicitList, then PackagesFile, then the team registry, then
// LocalCacheDir.
type Options struct {
	ExplicitList  []string
	PackagesFile  string
	TeamRegistry  *TeamRegistryConfig
	LocalCacheDir string
	Offline       bool
}

// TeamRegistryConfig points at the fleet-management team's repository
// registry on GitHub, plus a local JSON cache used when the live query
// fails or Offline is set.
type TeamRegistryConfig struct {
	Client   *github.Client
	Owner    string
	Repo     string
	Path     string
	CacheDir string
}

// Discover uses the highest-priority authority that is configured and
// returns its packages, deduplicated and filtered. If that authority
// fails, its error is returned with an empty package list; lower-priority
// authorities are not tried.
func Discover(ctx context.Context, opts Options) Result {
	var (
		names  []string
		source string
		err    error
	)

	switch {
	case len(opts.ExplicitList) > 0:
		names, source = opts.ExplicitList, "explicit-list"

	case opts.PackagesFile != "":
		names, err = fromPackagesFile(opts.PackagesFile)
		source = "packages-file"

	case opts.TeamRegistry != nil:
		names, err = fromTeamRegistry(ctx, *opts.TeamRegistry, opts.Offline)
		source = "team-registry"

	case opts.LocalCacheDir != "":
		names, err = fromLocalCacheDir(opts.LocalCacheDir)
		source = "local-cache"
	}

	res := Result{FilteredRepos: map[string]FilterReason{}, Source: source}
	if err != nil {
		res.Errors = append(res.Errors, err)
		return res
	}

	seen := map[string]bool{}
	for _, name := range dedupe(names) {
		if seen[name] {
			continue
		}
		seen[name] = true
		if reason, excluded := isExcludedName(name); excluded {
			res.FilteredRepos[name] = reason
			continue
		}
		res.Packages = append(res.Packages, name)
	}
	sort.Strings(res.Packages)
	return res
}

func dedupe(names []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func fromPackagesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("opening packages file %s: %w", path, err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Errorf("reading packages file %s: %w", path, err)
	}
	return names, nil
}

// cacheEntry is the on-disk JSON cache of a prior successful team
// registry query.
type cacheEntry struct {
	Names []string `json:"names"`
}

func cachePath(cfg TeamRegistryConfig) string {
	return filepath.Join(cfg.CacheDir, "team-registry.json")
}

// fromTeamRegistry queries the fleet-management team's registry
// repository for a directory listing of package repos, falling back to
// a JSON cache on failure (cache write failures are ignored). Grounded
// on the teacher's autobuilder commit-polling use of google/go-github
// against a configured org/repo.
func fromTeamRegistry(ctx context.Context, cfg TeamRegistryConfig, offline bool) ([]string, error) {
	if !offline && cfg.Client != nil {
		_, dirContents, _, err := cfg.Client.Repositories.GetContents(
			ctx, cfg.Owner, cfg.Repo, cfg.Path, nil)
		if err == nil {
			names := make([]string, 0, len(dirContents))
			for _, entry := range dirContents {
				if entry.GetType() == "dir" {
					names = append(names, entry.GetName())
				}
			}
			if cfg.CacheDir != "" {
				writeCache(cfg, names) // best-effort; write failures are ignored
			}
			return names, nil
		}
	}

	if cfg.CacheDir == "" {
		return nil, xerrors.New("team registry unavailable and no cache configured")
	}
	data, err := os.ReadFile(cachePath(cfg))
	if err != nil {
		return nil, xerrors.Errorf("team registry unavailable, reading cache: %w", err)
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, xerrors.Errorf("team registry cache %s is invalid: %w", cachePath(cfg), err)
	}
	return entry.Names, nil
}

func writeCache(cfg TeamRegistryConfig, names []string) {
	data, err := json.Marshal(cacheEntry{Names: names})
	if err != nil {
		return
	}
	_ = os.MkdirAll(cfg.CacheDir, 0o755)
	_ = renameio.WriteFile(cachePath(cfg), data, 0o644)
}

// fromLocalCacheDir scans cacheDir for subdirectories containing
// debian/control, treating each as a packaging checkout.
func fromLocalCacheDir(cacheDir string) ([]string, error) {
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return nil, xerrors.Errorf("reading local packaging cache %s: %w", cacheDir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(cacheDir, e.Name(), "debian", "control")); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
