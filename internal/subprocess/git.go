// Package subprocess provides the real, exec.CommandContext-backed
// implementations of internal/builder's collaborator interfaces: git
// checkout management, external tool discovery, the gbp/dpkg/sbuild
// packaging pipeline, and upstream tarball acquisition. It mirrors the
// teacher's cmd/autobuilder buildctx: every external tool is invoked
// with its stdout/stderr passed through to the process's own
// stdout/stderr (or captured, where the output is parsed) and its argv
// wrapped into the returned error on failure.
package subprocess

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"

	"github.com/canonical/packastack"
	"github.com/canonical/packastack/internal/builder"
)

// GitFetcher clones or updates a packaging repository checkout from a
// fixed openstack-org remote layout, grounded on internal/upstream's
// `https://opendev.org/openstack/{name}.git` default.
type GitFetcher struct {
	// RemoteBase is prepended to the project name to build the clone
	// URL: RemoteBase + project + ".git". Defaults to opendev.org's
	// openstack namespace.
	RemoteBase string
	Ref        string // branch or ref to reset to after fetch; "" means the remote's default branch
}

func (g GitFetcher) remoteBase() string {
	if g.RemoteBase != "" {
		return g.RemoteBase
	}
	return "https://opendev.org/openstack/"
}

// FetchAndCheckout clones project into dest if it doesn't exist yet, or
// fetches and hard-resets an existing checkout otherwise, then runs
// `git describe --tags --long` for snapshot version composition.
func (g GitFetcher) FetchAndCheckout(ctx context.Context, project, dest string) (builder.FetchResult, error) {
	url := g.remoteBase() + project + ".git"
	result := builder.FetchResult{Path: dest}

	if _, err := os.Stat(filepath.Join(dest, ".git")); err != nil {
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return builder.FetchResult{}, xerrors.Errorf("creating %s: %w", filepath.Dir(dest), err)
		}
		if err := run(ctx, "", "git", "clone", url, dest); err != nil {
			return builder.FetchResult{}, err
		}
		result.Cloned = true
	} else {
		if err := run(ctx, dest, "git", "fetch", "--all", "--tags"); err != nil {
			return builder.FetchResult{}, err
		}
		result.Updated = true
	}

	ref := g.Ref
	if ref == "" {
		ref = "HEAD"
		if out, err := output(ctx, dest, "git", "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
			ref = strings.TrimPrefix(strings.TrimSpace(out), "refs/remotes/origin/")
		}
	}
	if err := run(ctx, dest, "git", "reset", "--hard", "origin/"+strings.TrimPrefix(ref, "origin/")); err != nil {
		return builder.FetchResult{}, err
	}

	branches, err := output(ctx, dest, "git", "branch", "-a", "--format=%(refname:short)")
	if err != nil {
		return builder.FetchResult{}, err
	}
	for _, b := range strings.Split(strings.TrimSpace(branches), "\n") {
		if b = strings.TrimSpace(b); b != "" {
			result.Branches = append(result.Branches, b)
		}
	}

	describe, err := output(ctx, dest, "git", "describe", "--tags", "--long")
	if err != nil {
		describe = "" // no tags: ParseGitDescribe yields base 0.0.0
	}
	result.Describe = packastack.ParseGitDescribe(strings.TrimSpace(describe))
	if result.Describe.ShortSHA == "" {
		if sha, err := output(ctx, dest, "git", "rev-parse", "--short", "HEAD"); err == nil {
			result.Describe.ShortSHA = strings.TrimSpace(sha)
		}
	}

	return result, nil
}

func run(ctx context.Context, dir string, argv ...string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return xerrors.Errorf("%v: %w", cmd.Args, err)
	}
	return nil
}

func output(ctx context.Context, dir string, argv ...string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", xerrors.Errorf("%v: %w: %s", cmd.Args, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
