package buildall

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// RequirementsSource reads a package's upstream requirements.txt and
// test-requirements.txt content, used to generate cycle-break
// suggestions, ported from the original's extract_upstream_deps /
// parse_requirements_file.
type RequirementsSource interface {
	ReadRequirements(pkg string) (reqs, testReqs []byte, err error)
}

var reqNameCutset = "=<>!~;[ \t"

// ParseRequirementsFile extracts bare project names from a
// requirements.txt-style file: blank lines, comments and `-r`/`-e`
// directives are skipped; version specifiers, environment markers and
// extras are stripped.
func ParseRequirementsFile(data []byte) []string {
	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "-") {
			continue
		}
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}
		name := line
		if idx := strings.IndexAny(name, reqNameCutset); idx >= 0 {
			name = name[:idx]
		}
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// normalizeProjectName maps a requirements.txt project name and a
// graph/source-package name onto the same key for comparison: lowercase,
// "python-" prefix stripped, and dots, dashes and underscores removed
// entirely so "oslo.config", "oslo-config" and
// "python-oslo.config" all normalize identically.
func normalizeProjectName(name string) string {
	name = strings.ToLower(name)
	name = strings.TrimPrefix(name, "python-")
	name = strings.NewReplacer(".", "", "-", "", "_", "").Replace(name)
	return name
}

// Suggestion recommends which edge of a dependency cycle to break,
// based on which direction the upstream requirements files actually
// assert.
type Suggestion struct {
	Package   string
	DependsOn string
	Reason    string
}

// SuggestCycleBreaks inspects each cycle's member packages' upstream
// requirements files and reports, for every pair where one package's
// requirements name another cycle member, which edge upstream actually
// wants kept — so the operator can break the other one.
func SuggestCycleBreaks(cycles [][]string, src RequirementsSource) []Suggestion {
	if src == nil {
		return nil
	}
	var out []Suggestion
	for _, cycle := range cycles {
		members := map[string]bool{}
		for _, name := range cycle {
			members[name] = true
		}
		for _, pkg := range cycle {
			reqs, testReqs, err := src.ReadRequirements(pkg)
			if err != nil {
				continue
			}
			required := map[string]bool{}
			for _, n := range ParseRequirementsFile(reqs) {
				required[normalizeProjectName(n)] = true
			}
			for _, n := range ParseRequirementsFile(testReqs) {
				required[normalizeProjectName(n)] = true
			}
			for other := range members {
				if other == pkg {
					continue
				}
				if required[normalizeProjectName(other)] {
					out = append(out, Suggestion{
						Package:   pkg,
						DependsOn: other,
						Reason: fmt.Sprintf(
							"%s's upstream requirements list %s; keep that edge and break the reverse one to resolve the cycle",
							pkg, other),
					})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Package != out[j].Package {
			return out[i].Package < out[j].Package
		}
		return out[i].DependsOn < out[j].DependsOn
	})
	return out
}
