package subprocess

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v27/github"
	"golang.org/x/xerrors"

	"github.com/canonical/packastack/internal/builder"
	"github.com/canonical/packastack/internal/upstream"
)

// TarballAcquirer implements builder.TarballAcquirer against the real
// network: the fixed tarballs.opendev.org layout, PyPI's JSON API, a
// configured GitHub client for release assets, and a local `git
// archive` for the git-archive fallback.
type TarballAcquirer struct {
	HTTPClient *http.Client
	GitHub     *github.Client

	// SrcDir is the directory containing each project's git checkout,
	// used by MethodGitArchive and MethodUscan. It follows the same
	// layout builder.Run uses: SrcDir/<project>.
	SrcDir string
}

func (t TarballAcquirer) client() *http.Client {
	if t.HTTPClient != nil {
		return t.HTTPClient
	}
	return http.DefaultClient
}

// Acquire tries one named method, returning the downloaded tarball's
// path and checksums on success.
func (t TarballAcquirer) Acquire(ctx context.Context, method upstream.TarballMethod, project, version, destDir string) (builder.TarballResult, error) {
	switch method {
	case upstream.MethodOfficial:
		return t.acquireURL(ctx, method, builder.TarballURL(project, version), destDir, project, version)
	case upstream.MethodPyPI:
		return t.acquirePyPI(ctx, project, version, destDir)
	case upstream.MethodGitHubRelease:
		return t.acquireGitHubRelease(ctx, project, version, destDir)
	case upstream.MethodGitArchive:
		return t.acquireGitArchive(ctx, project, version, destDir)
	case upstream.MethodUscan:
		return t.acquireUscan(ctx, project, destDir)
	default:
		return builder.TarballResult{}, xerrors.Errorf("unknown tarball acquisition method %q", method)
	}
}

func (t TarballAcquirer) acquireURL(ctx context.Context, method upstream.TarballMethod, url, destDir, project, version string) (builder.TarballResult, error) {
	filename := strings.ReplaceAll(project, "-", "_") + "-" + version + ".tar.gz"
	return t.download(ctx, method, url, filepath.Join(destDir, filename))
}

// pypiProjectInfo is the subset of PyPI's JSON API response needed to
// locate a release's source distribution.
type pypiProjectInfo struct {
	Releases map[string][]struct {
		URL        string `json:"url"`
		Filename   string `json:"filename"`
		PackageType string `json:"packagetype"`
	} `json:"releases"`
}

func (t TarballAcquirer) acquirePyPI(ctx context.Context, project, version, destDir string) (builder.TarballResult, error) {
	apiURL := fmt.Sprintf("https://pypi.org/pypi/%s/json", project)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return builder.TarballResult{}, err
	}
	resp, err := t.client().Do(req)
	if err != nil {
		return builder.TarballResult{}, xerrors.Errorf("fetching PyPI metadata for %s: %w", project, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return builder.TarballResult{}, xerrors.Errorf("PyPI metadata for %s: HTTP %d", project, resp.StatusCode)
	}
	var info pypiProjectInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return builder.TarballResult{}, xerrors.Errorf("decoding PyPI metadata for %s: %w", project, err)
	}

	files, ok := info.Releases[version]
	if !ok {
		return builder.TarballResult{}, xerrors.Errorf("PyPI has no release %s for %s", version, project)
	}
	for _, f := range files {
		if f.PackageType == "sdist" {
			return t.download(ctx, upstream.MethodPyPI, f.URL, filepath.Join(destDir, f.Filename))
		}
	}
	return builder.TarballResult{}, xerrors.Errorf("PyPI release %s of %s has no sdist", version, project)
}

func (t TarballAcquirer) acquireGitHubRelease(ctx context.Context, project, version, destDir string) (builder.TarballResult, error) {
	if t.GitHub == nil {
		return builder.TarballResult{}, xerrors.New("github_release tarball method requires a configured GitHub client")
	}
	owner, repo := "openstack", project
	if strings.Contains(project, "/") {
		parts := strings.SplitN(project, "/", 2)
		owner, repo = parts[0], parts[1]
	}
	release, _, err := t.GitHub.Repositories.GetReleaseByTag(ctx, owner, repo, version)
	if err != nil {
		return builder.TarballResult{}, xerrors.Errorf("looking up GitHub release %s/%s@%s: %w", owner, repo, version, err)
	}
	for _, asset := range release.Assets {
		name := asset.GetName()
		if strings.HasSuffix(name, ".tar.gz") {
			return t.download(ctx, upstream.MethodGitHubRelease, asset.GetBrowserDownloadURL(), filepath.Join(destDir, name))
		}
	}
	return builder.TarballResult{}, xerrors.Errorf("GitHub release %s/%s@%s has no .tar.gz asset", owner, repo, version)
}

func (t TarballAcquirer) acquireGitArchive(ctx context.Context, project, version, destDir string) (builder.TarballResult, error) {
	repoPath := filepath.Join(t.SrcDir, project)
	if _, err := os.Stat(repoPath); err != nil {
		return builder.TarballResult{}, xerrors.Errorf("git_archive requires a checkout at %s: %w", repoPath, err)
	}
	filename := strings.ReplaceAll(project, "-", "_") + "-" + version + ".tar.gz"
	dest := filepath.Join(destDir, filename)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return builder.TarballResult{}, err
	}
	prefix := fmt.Sprintf("%s-%s/", project, version)
	if err := run(ctx, repoPath, "git", "archive", "--format=tar.gz",
		"--prefix="+prefix, "-o", dest, version); err != nil {
		return builder.TarballResult{}, err
	}
	return checksumResult(upstream.MethodGitArchive, dest)
}

func (t TarballAcquirer) acquireUscan(ctx context.Context, project, destDir string) (builder.TarballResult, error) {
	repoPath := filepath.Join(t.SrcDir, project)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return builder.TarballResult{}, err
	}
	if err := run(ctx, repoPath, "uscan", "--no-conf", "--destdir", destDir,
		"--download-current-version", "--force-download"); err != nil {
		return builder.TarballResult{}, err
	}
	path, err := newestMatch(destDir, "*.tar.*")
	if err != nil {
		return builder.TarballResult{}, xerrors.Errorf("uscan ran but produced no tarball in %s: %w", destDir, err)
	}
	return checksumResult(upstream.MethodUscan, path)
}

func (t TarballAcquirer) download(ctx context.Context, method upstream.TarballMethod, url, dest string) (builder.TarballResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return builder.TarballResult{}, err
	}
	resp, err := t.client().Do(req)
	if err != nil {
		return builder.TarballResult{}, xerrors.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return builder.TarballResult{}, xerrors.Errorf("downloading %s: HTTP %d", url, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return builder.TarballResult{}, err
	}
	out, err := os.Create(dest)
	if err != nil {
		return builder.TarballResult{}, err
	}
	sha256h := sha256.New()
	sha512h := sha512.New()
	_, err = io.Copy(io.MultiWriter(out, sha256h, sha512h), resp.Body)
	out.Close()
	if err != nil {
		return builder.TarballResult{}, xerrors.Errorf("writing %s: %w", dest, err)
	}

	return builder.TarballResult{
		Path:   dest,
		SHA256: hex.EncodeToString(sha256h.Sum(nil)),
		SHA512: hex.EncodeToString(sha512h.Sum(nil)),
		Method: method,
	}, nil
}

func checksumResult(method upstream.TarballMethod, path string) (builder.TarballResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return builder.TarballResult{}, err
	}
	defer f.Close()

	sha256h := sha256.New()
	sha512h := sha512.New()
	if _, err := io.Copy(io.MultiWriter(sha256h, sha512h), f); err != nil {
		return builder.TarballResult{}, err
	}
	return builder.TarballResult{
		Path:   path,
		SHA256: hex.EncodeToString(sha256h.Sum(nil)),
		SHA512: hex.EncodeToString(sha512h.Sum(nil)),
		Method: method,
	}, nil
}
