package packastack

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DebianVersion is a parsed Debian package version of the form
// "[epoch:]upstream[-revision]" (man deb-version). Epoch and revision are
// kept as strings for reconstruction; ordering comparisons (CompareVersions)
// reparse them as needed rather than caching a comparable form on the
// struct itself.
type DebianVersion struct {
	Epoch    string // empty if no epoch component was present
	Upstream string
	Revision string // empty if no revision component was present
}

// String reconstructs the version string. Round-tripping
// ParseDebianVersion(s).String() == s holds for every s admitted by the
// grammar.
func (v DebianVersion) String() string {
	var b strings.Builder
	if v.Epoch != "" {
		b.WriteString(v.Epoch)
		b.WriteByte(':')
	}
	b.WriteString(v.Upstream)
	if v.Revision != "" {
		b.WriteByte('-')
		b.WriteString(v.Revision)
	}
	return b.String()
}

// ParseDebianVersion splits a Debian version string into epoch, upstream
// and revision components.
func ParseDebianVersion(s string) (DebianVersion, error) {
	if s == "" {
		return DebianVersion{}, fmt.Errorf("empty version")
	}
	var v DebianVersion
	rest := s
	if idx := strings.IndexByte(rest, ':'); idx >= 0 {
		v.Epoch = rest[:idx]
		rest = rest[idx+1:]
	}
	if idx := strings.LastIndexByte(rest, '-'); idx >= 0 {
		v.Upstream = rest[:idx]
		v.Revision = rest[idx+1:]
	} else {
		v.Upstream = rest
	}
	if v.Upstream == "" {
		return DebianVersion{}, fmt.Errorf("malformed version %q: no upstream component", s)
	}
	return v, nil
}

// ReleaseVersion composes the Debian version for a "release" build:
// "{epoch}:{upstream}-0ubuntu1".
func ReleaseVersion(epoch, upstream string) string {
	return DebianVersion{Epoch: epoch, Upstream: upstream, Revision: "0ubuntu1"}.String()
}

// MilestoneVersion composes the Debian version for a "milestone" build:
// "{epoch}:{upstream}~{milestone}-0ubuntu1".
func MilestoneVersion(epoch, upstream, milestone string) string {
	return DebianVersion{
		Epoch:    epoch,
		Upstream: upstream + "~" + milestone,
		Revision: "0ubuntu1",
	}.String()
}

// SnapshotVersion composes the Debian version for a "snapshot" build:
// "{epoch}:{base}+git{YYYYMMDD}.{count}.{sha7}-0ubuntu1".
func SnapshotVersion(epoch, base, yyyymmdd string, count int, sha7 string) string {
	upstream := fmt.Sprintf("%s+git%s.%d.%s", base, yyyymmdd, count, sha7)
	return DebianVersion{Epoch: epoch, Upstream: upstream, Revision: "0ubuntu1"}.String()
}

var snapshotUpstreamRe = regexp.MustCompile(`^.+\+git\d{8}\.\d+\.[0-9a-f]{7}$`)

// IsSnapshotUpstream reports whether upstream matches the snapshot version
// grammar.
func IsSnapshotUpstream(upstream string) bool {
	return snapshotUpstreamRe.MatchString(upstream)
}

var describeLongRe = regexp.MustCompile(`^(.*)-(\d+)-g([0-9a-f]+)$`)

// GitDescribe is the parsed result of `git describe --tags --long`.
type GitDescribe struct {
	// Base is the describe tag with any leading "v" stripped, or "0.0.0"
	// if the repository has no tags.
	Base string
	// CommitCount is the number of commits since Base (0 when exactly at
	// the tag).
	CommitCount int
	// ShortSHA is the abbreviated commit hash from the describe string, if
	// present. When describe returned a bare tag (the at-tag case), this is
	// empty and the caller fills it in from `git rev-parse --short`.
	ShortSHA string
}

// ParseGitDescribe parses the output of `git describe --tags --long`
// (e.g. "30.0.0-50-gabc1234") or a bare tag name (e.g. "30.0.0", the
// at-tag case) into a GitDescribe. An empty string (no tags at all) yields
// Base "0.0.0".
func ParseGitDescribe(describe string) GitDescribe {
	describe = strings.TrimSpace(describe)
	if describe == "" {
		return GitDescribe{Base: "0.0.0"}
	}
	if m := describeLongRe.FindStringSubmatch(describe); m != nil {
		count, _ := strconv.Atoi(m[2])
		return GitDescribe{
			Base:        strings.TrimPrefix(m[1], "v"),
			CommitCount: count,
			ShortSHA:    m[3],
		}
	}
	return GitDescribe{Base: strings.TrimPrefix(describe, "v")}
}

// CompareVersions orders two Debian version strings per the algorithm in
// Debian Policy §5.6.12: epoch compares numerically, then upstream and
// revision each compare by the verrevcmp rule (alternating runs of
// non-digits and digits, non-digit runs ordered with '~' sorting before
// everything, including the empty string). Returns <0, 0 or >0 as a, b
// are less than, equal to, or greater than one another. No library in
// the example pack models dpkg's collation (Masterminds/semver is
// semver-specific and does not apply to the dpkg version grammar), so
// this is implemented directly from the documented algorithm.
func CompareVersions(a, b string) int {
	va, errA := ParseDebianVersion(a)
	vb, errB := ParseDebianVersion(b)
	if errA != nil {
		va = DebianVersion{Upstream: a}
	}
	if errB != nil {
		vb = DebianVersion{Upstream: b}
	}
	if c := compareEpoch(va.Epoch, vb.Epoch); c != 0 {
		return c
	}
	if c := verRevCmp(va.Upstream, vb.Upstream); c != 0 {
		return c
	}
	return verRevCmp(va.Revision, vb.Revision)
}

func compareEpoch(a, b string) int {
	ea, eb := epochValue(a), epochValue(b)
	switch {
	case ea < eb:
		return -1
	case ea > eb:
		return 1
	default:
		return 0
	}
}

func epochValue(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// charOrder ranks a single byte for verrevcmp: '~' sorts lowest (even
// below the end of string, represented here as 0), letters sort by their
// own value, everything else sorts above all letters.
func charOrder(c byte) int {
	switch {
	case c == '~':
		return -1
	case c == 0:
		return 0
	case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
		return int(c)
	default:
		return int(c) + 256
	}
}

func isDigitByte(c byte) bool { return c >= '0' && c <= '9' }

func byteAt(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return 0
}

// verRevCmp compares two upstream or revision strings per dpkg's
// verrevcmp: alternating non-digit and digit runs, non-digit runs
// compared byte by byte via charOrder, digit runs compared numerically
// (leading zeros ignored).
func verRevCmp(a, b string) int {
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		for (i < len(a) && !isDigitByte(a[i])) || (j < len(b) && !isDigitByte(b[j])) {
			ca, cb := charOrder(byteAt(a, i)), charOrder(byteAt(b, j))
			if ca != cb {
				if ca < cb {
					return -1
				}
				return 1
			}
			i++
			j++
		}
		for i < len(a) && a[i] == '0' {
			i++
		}
		for j < len(b) && b[j] == '0' {
			j++
		}
		startI := i
		for i < len(a) && isDigitByte(a[i]) {
			i++
		}
		startJ := j
		for j < len(b) && isDigitByte(b[j]) {
			j++
		}
		na, nb := a[startI:i], b[startJ:j]
		if len(na) != len(nb) {
			if len(na) < len(nb) {
				return -1
			}
			return 1
		}
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
	}
	return 0
}
