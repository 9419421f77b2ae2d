package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLatestVersionFromLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
<a href="proj-1.2.0.tar.gz">1.2.0</a>
<a href="proj-1.10.0.tar.gz">1.10.0</a>
<a href="proj-1.3.0.tar.gz">1.3.0</a>
</body></html>`))
	}))
	defer srv.Close()

	h := &HeuristicCheck{Client: srv.Client()}
	got, err := h.LatestVersion(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("LatestVersion: %v", err)
	}
	if want := "1.10.0"; got != want {
		t.Errorf("LatestVersion() = %q, want %q", got, want)
	}
}

func TestLatestVersionNoLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>nothing here</body></html>`))
	}))
	defer srv.Close()

	h := &HeuristicCheck{Client: srv.Client()}
	got, err := h.LatestVersion(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("LatestVersion: %v", err)
	}
	if got != "" {
		t.Errorf("LatestVersion() = %q, want empty", got)
	}
}

func TestIsGoModuleURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://github.com/google/go-github", true},
		{"https://opendev.org/openstack/nova.git", false},
	}
	for _, tt := range tests {
		if got := IsGoModuleURL(tt.url); got != tt.want {
			t.Errorf("IsGoModuleURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
