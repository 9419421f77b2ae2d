package subprocess

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"

	"golang.org/x/xerrors"

	"github.com/canonical/packastack/internal/builder"
)

// PackagingTools drives gbp, dpkg-buildpackage and sbuild as
// subprocesses, the same way the teacher's buildctx.run walks a fixed
// step list of exec.CommandContext invocations. PublishDir receives the
// source and binary build artifacts after a successful build.
type PackagingTools struct {
	PublishDir string
}

// EnsureUpstreamBranch checks out (creating if necessary) the packaging
// branch for series, tracking origin when the branch doesn't exist
// locally yet.
func (PackagingTools) EnsureUpstreamBranch(ctx context.Context, repoPath, series string) error {
	branch := "debian/" + series
	if err := run(ctx, repoPath, "git", "checkout", branch); err == nil {
		return nil
	}
	if err := run(ctx, repoPath, "git", "checkout", "-b", branch, "origin/"+branch); err == nil {
		return nil
	}
	return run(ctx, repoPath, "git", "checkout", "-b", branch)
}

// ImportOrig imports tarballPath as the new upstream tarball via
// `gbp import-orig`.
func (PackagingTools) ImportOrig(ctx context.Context, repoPath, tarballPath string) error {
	return run(ctx, repoPath, "gbp", "import-orig", "--no-interactive", "--pristine-tar", tarballPath)
}

var changelogHeaderRe = regexp.MustCompile(`^\S+ \(([^)]+)\)`)

// ReadChangelog reads the topmost debian/changelog entry's version. The
// returned entry's Message is left empty.
func (PackagingTools) ReadChangelog(repoPath string) (builder.ChangelogEntry, error) {
	path := filepath.Join(repoPath, "debian", "changelog")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return builder.ChangelogEntry{}, nil
		}
		return builder.ChangelogEntry{}, xerrors.Errorf("reading %s: %w", path, err)
	}
	m := changelogHeaderRe.FindSubmatch(data)
	if m == nil {
		return builder.ChangelogEntry{}, xerrors.Errorf("%s: no parseable changelog header", path)
	}
	return builder.ChangelogEntry{Version: string(m[1])}, nil
}

// WriteChangelogEntry prepends a new changelog entry via `dch`.
func (PackagingTools) WriteChangelogEntry(ctx context.Context, repoPath string, entry builder.ChangelogEntry) error {
	if err := run(ctx, repoPath, "dch", "--newversion", entry.Version,
		"--force-distribution", "--distribution", "UNRELEASED", entry.Message); err != nil {
		return err
	}
	return run(ctx, repoPath, "dch", "--release", "--no-query")
}

// PatchQueueImport imports the debian/patches series onto the upstream
// branch as a patch-queue/ branch via `gbp pq import`. When force is
// set, any stale patch-queue/ branch is dropped first.
func (PackagingTools) PatchQueueImport(ctx context.Context, repoPath string, force bool) error {
	if force {
		current, err := output(ctx, repoPath, "git", "symbolic-ref", "--short", "HEAD")
		if err == nil {
			_ = run(ctx, repoPath, "git", "branch", "-D", "patch-queue/"+trimNewline(current))
		}
	}
	return run(ctx, repoPath, "gbp", "pq", "import")
}

// PatchQueueExport exports the current patch-queue/ branch back to
// debian/patches via `gbp pq export`.
func (PackagingTools) PatchQueueExport(ctx context.Context, repoPath string) error {
	return run(ctx, repoPath, "gbp", "pq", "export")
}

// BuildSource runs `gbp buildpackage -S` and locates the resulting .dsc
// and .changes files in the parent of repoPath, where dpkg-source
// places source build products.
func (PackagingTools) BuildSource(ctx context.Context, repoPath string) (dsc, changes string, err error) {
	if err := run(ctx, repoPath, "gbp", "buildpackage", "-S", "--no-sign", "-us", "-uc"); err != nil {
		return "", "", err
	}
	parent := filepath.Dir(repoPath)
	dsc, err = newestMatch(parent, "*.dsc")
	if err != nil {
		return "", "", err
	}
	changes, err = newestMatch(parent, "*_source.changes")
	if err != nil {
		changes, err = newestMatch(parent, "*.changes")
		if err != nil {
			return "", "", err
		}
	}
	return dsc, changes, nil
}

// BuildBinary runs `sbuild` against dscPath and returns the path to its
// captured build log.
func (PackagingTools) BuildBinary(ctx context.Context, dscPath string) (string, error) {
	logPath := dscPath[:len(dscPath)-len(filepath.Ext(dscPath))] + ".sbuild.log"
	f, err := os.Create(logPath)
	if err != nil {
		return "", xerrors.Errorf("creating sbuild log %s: %w", logPath, err)
	}
	defer f.Close()

	if err := runTo(ctx, filepath.Dir(dscPath), f, "sbuild", dscPath); err != nil {
		return logPath, err
	}
	return logPath, nil
}

// Publish copies build artifacts into PublishDir.
func (p PackagingTools) Publish(ctx context.Context, artifacts []string) error {
	if p.PublishDir == "" {
		return nil
	}
	if err := os.MkdirAll(p.PublishDir, 0o755); err != nil {
		return xerrors.Errorf("creating publish dir %s: %w", p.PublishDir, err)
	}
	for _, artifact := range artifacts {
		if artifact == "" {
			continue
		}
		dest := filepath.Join(p.PublishDir, filepath.Base(artifact))
		if err := copyFile(artifact, dest); err != nil {
			return xerrors.Errorf("publishing %s: %w", artifact, err)
		}
	}
	return nil
}

func runTo(ctx context.Context, dir string, out io.Writer, argv ...string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		return xerrors.Errorf("%v: %w", cmd.Args, err)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func newestMatch(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", xerrors.Errorf("no file matching %s in %s", pattern, dir)
	}
	sort.Slice(matches, func(i, j int) bool {
		fi, _ := os.Stat(matches[i])
		fj, _ := os.Stat(matches[j])
		if fi == nil || fj == nil {
			return matches[i] < matches[j]
		}
		return fi.ModTime().After(fj.ModTime())
	})
	return matches[0], nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
