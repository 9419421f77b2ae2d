// Package localrepo manages the local APT archive that build-all
// publishes artifacts into between waves: pool layout, control
// extraction, Packages/Packages.gz index generation and the version
// and dependency-constraint queries the policy and dependency-graph
// components need against what has actually been built so far.
package localrepo

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/pgzip"

	"github.com/canonical/packastack"
)

// DebPackageInfo is the set of fields a Packages-file stanza for one
// binary .deb carries, plus the pool-relative bookkeeping
// (Filename/Size/hashes) RegenerateIndexes fills in once it knows
// where the file lives in the archive.
type DebPackageInfo struct {
	Package       string
	Version       string
	Architecture  string
	Source        string
	Depends       string
	PreDepends    string
	Provides      string
	Description   string
	Maintainer    string
	Section       string
	Priority      string
	InstalledSize int

	Filename string
	Size     int64
	MD5Sum   string
	SHA256   string
}

// PublishResult reports the outcome of PublishArtifacts.
type PublishResult struct {
	Success        bool
	PublishedPaths []string
	Error          string
}

// IndexResult reports the outcome of RegenerateIndexes.
type IndexResult struct {
	Success        bool
	PackagesFile   string
	PackagesGzFile string
	PackageCount   int
	Error          string
}

// ComputeFileHashes returns the hex-encoded MD5 and SHA256 digests of
// a file's contents, computed in a single pass.
func ComputeFileHashes(path string) (md5hex, sha256hex string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("computing hashes for %s: %w", path, err)
	}
	defer f.Close()

	h1, h2 := md5.New(), sha256.New()
	if _, err := io.Copy(io.MultiWriter(h1, h2), f); err != nil {
		return "", "", fmt.Errorf("computing hashes for %s: %w", path, err)
	}
	return hex.EncodeToString(h1.Sum(nil)), hex.EncodeToString(h2.Sum(nil)), nil
}

// extractDebControlTimeout bounds the dpkg-deb subprocess: a hung
// archive must not hang the whole index regeneration walk.
const extractDebControlTimeout = 30 * time.Second

// ExtractDebControl shells out to dpkg-deb to read the control stanza
// of a .deb, returning nil if the tool is missing, the package is
// malformed, the subprocess times out, or the stanza lacks one of the
// required Package/Version/Architecture fields.
func ExtractDebControl(path string) *DebPackageInfo {
	ctx, cancel := context.WithTimeout(context.Background(), extractDebControlTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "dpkg-deb", "--info", path, "control").Output()
	if err != nil {
		return nil
	}
	info := parseControl(string(out))
	if info == nil || info.Package == "" || info.Version == "" || info.Architecture == "" {
		return nil
	}
	return info
}

func parseControl(data string) *DebPackageInfo {
	info := &DebPackageInfo{}
	lines := strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n")
	currentField := ""
	for _, line := range lines {
		if line == "" {
			currentField = ""
			continue
		}
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && currentField != "" {
			trimmed := strings.TrimLeft(line, " \t")
			if trimmed == "." {
				trimmed = ""
			}
			switch currentField {
			case "Description":
				info.Description += "\n" + trimmed
			case "Depends":
				info.Depends = strings.TrimSpace(info.Depends + " " + trimmed)
			case "Pre-Depends":
				info.PreDepends = strings.TrimSpace(info.PreDepends + " " + trimmed)
			}
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		field := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		currentField = field
		setField(info, field, value)
	}
	return info
}

// setField assigns a single control-stanza field to info. Unknown
// fields are ignored; an invalid Installed-Size leaves it at zero.
func setField(info *DebPackageInfo, field, value string) {
	switch field {
	case "Package":
		info.Package = value
	case "Version":
		info.Version = value
	case "Architecture":
		info.Architecture = value
	case "Source":
		info.Source = value
	case "Depends":
		info.Depends = value
	case "Pre-Depends":
		info.PreDepends = value
	case "Provides":
		info.Provides = value
	case "Description":
		info.Description = value
	case "Maintainer":
		info.Maintainer = value
	case "Section":
		info.Section = value
	case "Priority":
		info.Priority = value
	case "Installed-Size":
		if n, err := strconv.Atoi(value); err == nil {
			info.InstalledSize = n
		}
	}
}

// FormatPackagesEntry renders one Packages-file stanza for info. A
// multi-line Description is folded per deb-control(5): blank lines
// within it become a lone "." and continuation lines are indented by
// one space. An empty Description is omitted entirely.
func FormatPackagesEntry(info DebPackageInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Package: %s\n", info.Package)
	fmt.Fprintf(&b, "Version: %s\n", info.Version)
	fmt.Fprintf(&b, "Architecture: %s\n", info.Architecture)
	if info.Source != "" {
		fmt.Fprintf(&b, "Source: %s\n", info.Source)
	}
	if info.Maintainer != "" {
		fmt.Fprintf(&b, "Maintainer: %s\n", info.Maintainer)
	}
	if info.InstalledSize != 0 {
		fmt.Fprintf(&b, "Installed-Size: %d\n", info.InstalledSize)
	}
	if info.PreDepends != "" {
		fmt.Fprintf(&b, "Pre-Depends: %s\n", info.PreDepends)
	}
	if info.Depends != "" {
		fmt.Fprintf(&b, "Depends: %s\n", info.Depends)
	}
	if info.Provides != "" {
		fmt.Fprintf(&b, "Provides: %s\n", info.Provides)
	}
	if info.Section != "" {
		fmt.Fprintf(&b, "Section: %s\n", info.Section)
	}
	if info.Priority != "" {
		fmt.Fprintf(&b, "Priority: %s\n", info.Priority)
	}
	fmt.Fprintf(&b, "Filename: %s\n", info.Filename)
	fmt.Fprintf(&b, "Size: %d\n", info.Size)
	if info.MD5Sum != "" {
		fmt.Fprintf(&b, "MD5sum: %s\n", info.MD5Sum)
	}
	if info.SHA256 != "" {
		fmt.Fprintf(&b, "SHA256: %s\n", info.SHA256)
	}
	if info.Description != "" {
		descLines := strings.Split(info.Description, "\n")
		fmt.Fprintf(&b, "Description: %s\n", descLines[0])
		for _, l := range descLines[1:] {
			if l == "" {
				b.WriteString(" .\n")
			} else {
				fmt.Fprintf(&b, " %s\n", l)
			}
		}
	}
	return b.String()
}

// PublishArtifacts copies each build artifact (.dsc, .changes, source
// and binary .deb/.ddeb, .buildinfo, orig tarball) into repoRoot's
// pool/main/, creating the pool directory if needed. Missing source
// files are skipped rather than treated as an error; a copy failure
// (e.g. a permission error) aborts and is reported.
func PublishArtifacts(artifactPaths []string, repoRoot string) PublishResult {
	poolMain := filepath.Join(repoRoot, "pool", "main")
	if err := os.MkdirAll(poolMain, 0o755); err != nil {
		return PublishResult{Error: err.Error()}
	}

	var published []string
	for _, src := range artifactPaths {
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(poolMain, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return PublishResult{Error: fmt.Sprintf("publishing %s: %v", src, err)}
		}
		published = append(published, dst)
	}
	return PublishResult{Success: true, PublishedPaths: published}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// RegenerateIndexes walks repoRoot/pool/main recursively for .deb
// files whose Architecture is arch or "all", extracts their control
// stanza, and writes dists/local/main/binary-<arch>/Packages plus a
// gzip-compressed Packages.gz (via klauspost/pgzip's drop-in,
// parallel-decoding-friendly Writer, matching what the upstream
// archive's own apt-ftparchive-produced indexes use). Packages that
// fail control extraction are silently skipped, same as any archive
// tool tolerating a corrupt member.
func RegenerateIndexes(repoRoot, arch string) IndexResult {
	poolMain := filepath.Join(repoRoot, "pool", "main")

	var pkgs []DebPackageInfo
	if _, err := os.Stat(poolMain); err == nil {
		walkErr := filepath.WalkDir(poolMain, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".deb") {
				return nil
			}
			info := ExtractDebControl(path)
			if info == nil {
				return nil
			}
			if info.Architecture != arch && info.Architecture != "all" {
				return nil
			}
			rel, relErr := filepath.Rel(repoRoot, path)
			if relErr != nil {
				rel = path
			}
			info.Filename = rel
			if st, statErr := os.Stat(path); statErr == nil {
				info.Size = st.Size()
			}
			if md5sum, sha256sum, hashErr := ComputeFileHashes(path); hashErr == nil {
				info.MD5Sum, info.SHA256 = md5sum, sha256sum
			}
			pkgs = append(pkgs, *info)
			return nil
		})
		if walkErr != nil {
			return IndexResult{Error: walkErr.Error()}
		}
	}

	sort.Slice(pkgs, func(i, j int) bool {
		if pkgs[i].Package != pkgs[j].Package {
			return pkgs[i].Package < pkgs[j].Package
		}
		return pkgs[i].Version < pkgs[j].Version
	})

	distDir := filepath.Join(repoRoot, "dists", "local", "main", "binary-"+arch)
	if err := os.MkdirAll(distDir, 0o755); err != nil {
		return IndexResult{Error: err.Error()}
	}

	var content strings.Builder
	for i, p := range pkgs {
		if i > 0 {
			content.WriteString("\n")
		}
		content.WriteString(FormatPackagesEntry(p))
	}

	packagesPath := filepath.Join(distDir, "Packages")
	if err := os.WriteFile(packagesPath, []byte(content.String()), 0o644); err != nil {
		return IndexResult{Error: err.Error()}
	}

	gzPath := filepath.Join(distDir, "Packages.gz")
	if err := writeGzip(gzPath, []byte(content.String())); err != nil {
		return IndexResult{Error: err.Error()}
	}

	return IndexResult{
		Success:        true,
		PackagesFile:   packagesPath,
		PackagesGzFile: gzPath,
		PackageCount:   len(pkgs),
	}
}

func writeGzip(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := pgzip.NewWriter(f)
	if _, err := gz.Write(data); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

// GetAvailableVersions returns every Version a binary package appears
// under across all dists/local/main/binary-*/Packages files, newest
// first. A package built for multiple architectures contributes one
// entry per arch directory, so duplicates across archs are expected
// and not collapsed.
func GetAvailableVersions(repoRoot, pkgName string) []string {
	base := filepath.Join(repoRoot, "dists", "local", "main")
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil
	}

	var versions []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "binary-") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(base, e.Name(), "Packages"))
		if err != nil {
			continue
		}
		for _, stanza := range strings.Split(string(data), "\n\n") {
			var pkg, ver string
			for _, line := range strings.Split(stanza, "\n") {
				switch {
				case strings.HasPrefix(line, "Package:"):
					pkg = strings.TrimSpace(strings.TrimPrefix(line, "Package:"))
				case strings.HasPrefix(line, "Version:"):
					ver = strings.TrimSpace(strings.TrimPrefix(line, "Version:"))
				}
			}
			if pkg == pkgName && ver != "" {
				versions = append(versions, ver)
			}
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return packastack.CompareVersions(versions[i], versions[j]) > 0
	})
	return versions
}

// GetSourceVersions scans repoRoot/pool/main for "<pkgName>_<version>.dsc"
// filenames, percent-decoding the version component (dpkg encodes the
// epoch colon as %3a in filenames), newest first.
func GetSourceVersions(repoRoot, pkgName string) []string {
	poolMain := filepath.Join(repoRoot, "pool", "main")
	entries, err := os.ReadDir(poolMain)
	if err != nil {
		return nil
	}

	var versions []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".dsc") {
			continue
		}
		stem := strings.TrimSuffix(name, ".dsc")
		idx := strings.Index(stem, "_")
		if idx < 0 {
			continue
		}
		if stem[:idx] != pkgName {
			continue
		}
		ver, err := url.QueryUnescape(stem[idx+1:])
		if err != nil {
			ver = stem[idx+1:]
		}
		versions = append(versions, ver)
	}
	sort.Slice(versions, func(i, j int) bool {
		return packastack.CompareVersions(versions[i], versions[j]) > 0
	})
	return versions
}

// Satisfies reports whether any version of pkgName currently published
// in the archive meets constraint, a Debian-style dependency relation
// ("", ">= 2.0.0", "<< 3.0.0", or a bare version meaning exact match).
// A package with no published versions never satisfies anything, even
// an empty constraint.
func Satisfies(repoRoot, pkgName, constraint string) bool {
	versions := GetAvailableVersions(repoRoot, pkgName)
	if len(versions) == 0 {
		return false
	}
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		return true
	}
	rel, want := parseConstraint(constraint)
	for _, v := range versions {
		c := packastack.CompareVersions(v, want)
		switch rel {
		case ">=":
			if c >= 0 {
				return true
			}
		case "<=":
			if c <= 0 {
				return true
			}
		case ">>":
			if c > 0 {
				return true
			}
		case "<<":
			if c < 0 {
				return true
			}
		default: // "="
			if c == 0 {
				return true
			}
		}
	}
	return false
}

func parseConstraint(s string) (rel, version string) {
	fields := strings.Fields(s)
	if len(fields) == 2 {
		switch fields[0] {
		case ">=", "<=", ">>", "<<", "=":
			return fields[0], fields[1]
		}
	}
	return "=", s
}

// EnsureRepoInitialized creates empty dists/local/main/binary-<arch>
// and binary-all index directories (with empty Packages and
// Packages.gz files) if they don't already exist. It never overwrites
// existing index content, so it is safe to call before every run.
func EnsureRepoInitialized(repoRoot, arch string) bool {
	for _, dir := range []string{"binary-" + arch, "binary-all"} {
		distDir := filepath.Join(repoRoot, "dists", "local", "main", dir)
		if err := os.MkdirAll(distDir, 0o755); err != nil {
			return false
		}
		packagesPath := filepath.Join(distDir, "Packages")
		if _, err := os.Stat(packagesPath); os.IsNotExist(err) {
			if err := os.WriteFile(packagesPath, []byte{}, 0o644); err != nil {
				return false
			}
		}
		gzPath := filepath.Join(distDir, "Packages.gz")
		if _, err := os.Stat(gzPath); os.IsNotExist(err) {
			if err := writeGzip(gzPath, []byte{}); err != nil {
				return false
			}
		}
	}
	return true
}

// Regenerator adapts RegenerateIndexes to buildall.IndexRegenerator,
// so build-all can trigger an index refresh after every wave or
// successful sequential build without depending on this package's
// concrete API.
type Regenerator struct {
	RepoRoot string
	Arch     string
}

// Regenerate implements buildall.IndexRegenerator.
func (r Regenerator) Regenerate(ctx context.Context) error {
	res := RegenerateIndexes(r.RepoRoot, r.Arch)
	if !res.Success {
		return fmt.Errorf("regenerating local apt indexes: %s", res.Error)
	}
	return nil
}
