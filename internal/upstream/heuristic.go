package upstream

import (
	"context"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/mod/module"
	"golang.org/x/mod/semver"
	"golang.org/x/net/html"
	"golang.org/x/xerrors"
)

// HeuristicCheck scrapes an upstream HTML release-index page for version
// links when no authoritative source (OpenStack releases, debian/watch)
// is available. Grounded on the teacher's checkDebian/extractLinks
// approach for distri packages lacking upstream metadata.
type HeuristicCheck struct {
	Client *http.Client
}

var versionLinkRe = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)*)`)

// LatestVersion fetches indexURL and returns the highest version number
// found in its hyperlinks, or "" if none parse.
func (h *HeuristicCheck) LatestVersion(ctx context.Context, indexURL string) (string, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, indexURL, nil)
	if err != nil {
		return "", xerrors.Errorf("building request for %s: %w", indexURL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", xerrors.Errorf("fetching %s: %w", indexURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", xerrors.Errorf("fetching %s: status %s", indexURL, resp.Status)
	}

	links, err := extractLinks(resp.Body)
	if err != nil {
		return "", xerrors.Errorf("parsing %s: %w", indexURL, err)
	}
	versions := extractVersions(links)
	if len(versions) == 0 {
		return "", nil
	}
	return versions[len(versions)-1], nil
}

// extractLinks walks an HTML document and returns every href attribute
// value of every <a> element.
func extractLinks(r interface{ Read([]byte) (int, error) }) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key == "href" {
					links = append(links, a.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

// extractVersions pulls dotted-decimal version numbers out of a set of
// link hrefs and returns them sorted ascending by semver precedence
// (non-parseable candidates are dropped).
func extractVersions(links []string) []string {
	seen := map[string]bool{}
	var versions []string
	for _, link := range links {
		m := versionLinkRe.FindString(link)
		if m == "" || seen[m] || !semver.IsValid("v"+m) {
			continue
		}
		seen[m] = true
		versions = append(versions, m)
	}
	sort.Slice(versions, func(i, j int) bool {
		return semver.Compare("v"+versions[i], "v"+versions[j]) < 0
	})
	return versions
}

// IsGoModuleURL reports whether url looks like a Go-module-proxied
// upstream. Nothing in this module calls it; tarball acquisition does
// not consult it.
func IsGoModuleURL(url string) bool {
	path := strings.TrimPrefix(url, "https://")
	path = strings.TrimPrefix(path, "http://")
	path = strings.TrimSuffix(path, ".git")
	return module.CheckPath(path) == nil
}
