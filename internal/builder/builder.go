// Package builder drives a single package through fetch, upstream
// resolution, changelog/patch management and the source/binary build
// pipeline. External tools (git, gbp, dpkg-buildpackage, sbuild, uscan,
// gpg) are abstracted behind small collaborator interfaces so the step
// sequence itself is unit-testable, mirroring the teacher's
// cmd/autobuilder buildctx: a stamp-file-gated list of steps executed in
// order, the first failure aborting the rest.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/canonical/packastack"
	"github.com/canonical/packastack/internal/buildtype"
	"github.com/canonical/packastack/internal/upstream"
)

// FetchResult is returned by GitFetcher.FetchAndCheckout. Describe is
// only meaningful for snapshot builds: the `git describe --tags --long`
// result for whatever ref was checked out.
type FetchResult struct {
	Path     string
	Branches []string
	Cloned   bool
	Updated  bool
	Describe packastack.GitDescribe
}

// GitFetcher clones/updates a packaging repository checkout.
type GitFetcher interface {
	FetchAndCheckout(ctx context.Context, project, dest string) (FetchResult, error)
}

// ToolChecker verifies external tools are on PATH.
type ToolChecker interface {
	CheckTools(required []string) error
}

// PolicyChecker answers whether a snapshot build is allowed for a
// project in a series.
type PolicyChecker interface {
	IsSnapshotEligible(series, project string) (bool, error)
}

// TarballResult is the outcome of a successful tarball acquisition.
type TarballResult struct {
	Path      string
	SHA256    string
	SHA512    string
	Method    upstream.TarballMethod
}

// TarballAcquirer tries one acquisition method.
type TarballAcquirer interface {
	Acquire(ctx context.Context, method upstream.TarballMethod, project, version, destDir string) (TarballResult, error)
}

// VersionResolver finds the latest published upstream version when a
// project has no authoritative release-tracking source configured
// (upstream.ReleaseSourceNone): a heuristic fallback that scrapes an
// HTML release-index page.
type VersionResolver interface {
	LatestVersion(ctx context.Context, indexURL string) (string, error)
}

// ChangelogEntry is read from / appended to debian/changelog.
type ChangelogEntry struct {
	Version string
	Message string
}

// PackagingTools runs the gbp/dpkg/sbuild/apt pipeline steps: upstream
// branch and tarball import, changelog, patch-queue import/export,
// source and binary build, and publish into the local repository.
type PackagingTools interface {
	EnsureUpstreamBranch(ctx context.Context, repoPath, series string) error
	ImportOrig(ctx context.Context, repoPath, tarballPath string) error
	ReadChangelog(repoPath string) (ChangelogEntry, error)
	WriteChangelogEntry(ctx context.Context, repoPath string, entry ChangelogEntry) error
	PatchQueueImport(ctx context.Context, repoPath string, force bool) error
	PatchQueueExport(ctx context.Context, repoPath string) error
	BuildSource(ctx context.Context, repoPath string) (dsc, changes string, err error)
	BuildBinary(ctx context.Context, dscPath string) (logPath string, err error)
	Publish(ctx context.Context, artifacts []string) error
}

// Request is the input to Run.
type Request struct {
	Package      string
	TargetSeries string // OpenStack series
	UbuntuSeries string
	CloudArchive string
	BuildType    buildtype.Type
	MilestoneTag string
	GitRef       string // snapshot ref, defaults to HEAD
	Binary       bool
	Force        bool
	RunDir       string

	Upstream   upstream.Config
	Fetcher    GitFetcher
	Tools      ToolChecker
	Policy     PolicyChecker
	Tarballs   TarballAcquirer
	Packaging  PackagingTools
	Versions   VersionResolver
}

// Outcome is the result of a successful Run.
type Outcome struct {
	Version      string
	DscPath      string
	ChangesPath  string
	LogPath      string
	BinaryLog    string
}

func requiredTools(req Request) []string {
	tools := []string{"git", "gbp", "dpkg-buildpackage"}
	if req.Binary {
		tools = append(tools, "sbuild")
	}
	if req.Upstream.ReleaseSource.Type == upstream.ReleaseSourceDebianWatch {
		tools = append(tools, "uscan")
	}
	return tools
}

// Run executes the single-package build pipeline: tool check, policy
// gate, fetch, upstream selection, tarball acquisition, signature
// scrubbing, changelog, patch queue, source build, binary build and
// publish. The plan check happens one layer up in internal/plan before
// Run is even called. Each phase maps to exactly one packastack.ExitCode;
// the first failing phase aborts the rest.
func Run(ctx context.Context, req Request) (Outcome, error) {
	if req.Tools != nil {
		if err := req.Tools.CheckTools(requiredTools(req)); err != nil {
			return Outcome{}, packastack.Coded(packastack.ToolMissing, err)
		}
	}

	if req.BuildType == buildtype.Snapshot && req.Policy != nil {
		eligible, err := req.Policy.IsSnapshotEligible(req.TargetSeries, req.Package)
		if err != nil {
			return Outcome{}, packastack.Coded(packastack.PolicyBlocked, err)
		}
		if !eligible && !req.Force {
			return Outcome{}, packastack.Coded(packastack.PolicyBlocked,
				xerrors.Errorf("snapshot builds are not eligible for %s in %s", req.Package, req.TargetSeries))
		}
	}

	dest := filepath.Join(req.RunDir, "src", req.Package)
	fetch, err := req.Fetcher.FetchAndCheckout(ctx, req.Package, dest)
	if err != nil {
		return Outcome{}, packastack.Coded(packastack.FetchFailed, err)
	}

	version, tarballURL, sigURL, err := resolveUpstream(ctx, req)
	if err != nil {
		return Outcome{}, packastack.Coded(packastack.FetchFailed, err)
	}

	tarball, err := acquireTarball(ctx, req, version, tarballURL, sigURL)
	if err != nil {
		return Outcome{}, packastack.Coded(packastack.FetchFailed, err)
	}

	if err := scrubSignaturesIfSnapshot(req, fetch.Path); err != nil {
		return Outcome{}, packastack.Coded(packastack.PatchFailed, err)
	}

	if req.Packaging != nil {
		if err := req.Packaging.EnsureUpstreamBranch(ctx, fetch.Path, req.UbuntuSeries); err != nil {
			return Outcome{}, packastack.Coded(packastack.PatchFailed, err)
		}
		if err := req.Packaging.ImportOrig(ctx, fetch.Path, tarball.Path); err != nil {
			return Outcome{}, packastack.Coded(packastack.PatchFailed, err)
		}

		current, err := req.Packaging.ReadChangelog(fetch.Path)
		if err != nil {
			return Outcome{}, packastack.Coded(packastack.PatchFailed, err)
		}
		newVersion, err := composeVersion(req, current.Version, version, fetch.Describe)
		if err != nil {
			return Outcome{}, packastack.Coded(packastack.PatchFailed, err)
		}
		if err := req.Packaging.WriteChangelogEntry(ctx, fetch.Path, ChangelogEntry{
			Version: newVersion,
			Message: changelogMessage(req.BuildType, newVersion),
		}); err != nil {
			return Outcome{}, packastack.Coded(packastack.PatchFailed, err)
		}
		version = newVersion

		if err := req.Packaging.PatchQueueImport(ctx, fetch.Path, req.Force); err != nil {
			return Outcome{}, packastack.Coded(packastack.PatchFailed, err)
		}
		if err := req.Packaging.PatchQueueExport(ctx, fetch.Path); err != nil {
			return Outcome{}, packastack.Coded(packastack.PatchFailed, err)
		}

		dsc, changes, err := req.Packaging.BuildSource(ctx, fetch.Path)
		if err != nil {
			return Outcome{}, packastack.Coded(packastack.BuildFailed, err)
		}

		var binLog string
		if req.Binary {
			binLog, err = req.Packaging.BuildBinary(ctx, dsc)
			if err != nil {
				return Outcome{}, packastack.Coded(packastack.BuildFailed, err)
			}
		}

		artifacts := []string{dsc, changes}
		if binLog != "" {
			artifacts = append(artifacts, binLog)
		}
		if err := req.Packaging.Publish(ctx, artifacts); err != nil {
			return Outcome{}, packastack.Coded(packastack.BuildFailed, err)
		}

		return Outcome{
			Version:     version,
			DscPath:     dsc,
			ChangesPath: changes,
			BinaryLog:   binLog,
		}, nil
	}

	return Outcome{Version: version}, nil
}

// resolveUpstream chooses a concrete upstream version and tarball/
// signature URL: release/milestone versions come from release metadata
// and the fixed tarballs.opendev.org layout; snapshot versions are
// planned from a git ref.
func resolveUpstream(ctx context.Context, req Request) (version, tarballURL, sigURL string, err error) {
	switch req.BuildType {
	case buildtype.Release, buildtype.Milestone:
		// The caller is expected to have resolved the release version
		// already (internal/releases); Request carries it via GitRef
		// as a convenience channel when used outside internal/plan.
		version = req.GitRef
		if version == "" && req.Upstream.ReleaseSource.Type == upstream.ReleaseSourceNone && req.Versions != nil {
			version, err = req.Versions.LatestVersion(ctx, req.Upstream.URL)
			if err != nil {
				return "", "", "", xerrors.Errorf("heuristic version lookup for %s: %w", req.Package, err)
			}
		}
		if version == "" {
			return "", "", "", xerrors.New("release/milestone build requires a resolved upstream version")
		}
		tarballURL = TarballURL(req.Package, version)
		if req.Upstream.Signatures.Mode != upstream.SignatureOff {
			sigURL = tarballURL + ".asc"
		}
	case buildtype.Snapshot:
		ref := req.GitRef
		if ref == "" {
			ref = "HEAD"
		}
		version = ref
	default:
		return "", "", "", xerrors.Errorf("unknown build type %q", req.BuildType)
	}
	return version, tarballURL, sigURL, nil
}

// TarballURL composes the deterministic tarballs.opendev.org URL:
// hyphens are replaced with underscores in the filename component only.
func TarballURL(project, version string) string {
	filename := strings.ReplaceAll(project, "-", "_")
	return fmt.Sprintf("https://tarballs.opendev.org/openstack/%s/%s-%s.tar.gz", project, filename, version)
}

func acquireTarball(ctx context.Context, req Request, version, tarballURL, sigURL string) (TarballResult, error) {
	if req.Tarballs == nil {
		return TarballResult{}, xerrors.New("no tarball acquirer configured")
	}
	prefer := req.Upstream.Tarball.Prefer
	if len(prefer) == 0 {
		prefer = []upstream.TarballMethod{upstream.MethodOfficial, upstream.MethodPyPI, upstream.MethodGitArchive}
	}
	destDir := filepath.Join(req.RunDir, "tarballs", req.Package)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return TarballResult{}, err
	}

	var lastErr error
	for _, method := range prefer {
		result, err := req.Tarballs.Acquire(ctx, method, req.Package, version, destDir)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = xerrors.New("no tarball acquisition method configured")
	}
	return TarballResult{}, xerrors.Errorf("all tarball acquisition methods failed for %s: %w", req.Package, lastErr)
}

// scrubSignaturesIfSnapshot removes embedded signing keys from
// debian/upstream/ for snapshot builds; release and milestone builds
// retain them.
func scrubSignaturesIfSnapshot(req Request, repoPath string) error {
	if req.BuildType != buildtype.Snapshot {
		return nil
	}
	dir := filepath.Join(repoPath, "debian", "upstream")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Name()), "signing-key") {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// composeVersion computes the new Debian version for currentVersion
// given the build type.
func composeVersion(req Request, currentVersion, upstreamVersion string, describe packastack.GitDescribe) (string, error) {
	current, err := packastack.ParseDebianVersion(currentVersion)
	if err != nil {
		// A malformed or absent changelog entry starts fresh at epoch "".
		current = packastack.DebianVersion{}
	}
	switch req.BuildType {
	case buildtype.Release:
		return packastack.ReleaseVersion(current.Epoch, upstreamVersion), nil
	case buildtype.Milestone:
		return packastack.MilestoneVersion(current.Epoch, upstreamVersion, req.MilestoneTag), nil
	case buildtype.Snapshot:
		yyyymmdd := time.Now().UTC().Format("20060102")
		return packastack.SnapshotVersion(current.Epoch, describe.Base, yyyymmdd, describe.CommitCount, describe.ShortSHA), nil
	default:
		return "", xerrors.Errorf("unknown build type %q", req.BuildType)
	}
}

// ComposeSnapshotVersion composes a snapshot version from a parsed git
// describe and the current changelog epoch.
func ComposeSnapshotVersion(currentVersion string, describe packastack.GitDescribe, yyyymmdd string) string {
	current, err := packastack.ParseDebianVersion(currentVersion)
	epoch := ""
	if err == nil {
		epoch = current.Epoch
	}
	return packastack.SnapshotVersion(epoch, describe.Base, yyyymmdd, describe.CommitCount, describe.ShortSHA)
}

func changelogMessage(bt buildtype.Type, version string) string {
	switch bt {
	case buildtype.Release:
		return fmt.Sprintf("New upstream release %s", version)
	case buildtype.Milestone:
		return fmt.Sprintf("New upstream milestone %s", version)
	case buildtype.Snapshot:
		return fmt.Sprintf("New upstream snapshot %s", version)
	default:
		return "New upstream version " + version
	}
}
