package subprocess

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/canonical/packastack/internal/upstream"
)

func TestAcquireURLComputesChecksums(t *testing.T) {
	body := []byte("fake tarball contents")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	acq := TarballAcquirer{}
	result, err := acq.acquireURL(context.Background(), upstream.MethodOfficial, srv.URL, t.TempDir(), "nova", "28.1.0")
	if err != nil {
		t.Fatalf("acquireURL: %v", err)
	}

	want := sha256.Sum256(body)
	if result.SHA256 != hex.EncodeToString(want[:]) {
		t.Errorf("SHA256 = %s, want %s", result.SHA256, hex.EncodeToString(want[:]))
	}
	if result.Method != upstream.MethodOfficial {
		t.Errorf("Method = %q, want official", result.Method)
	}
}

func TestAcquireURLPropagatesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	acq := TarballAcquirer{}
	if _, err := acq.acquireURL(context.Background(), upstream.MethodOfficial, srv.URL, t.TempDir(), "nova", "28.1.0"); err == nil {
		t.Fatal("expected an error for a 404 response")
	}
}

func TestAcquireGitHubReleaseRequiresConfiguredClient(t *testing.T) {
	acq := TarballAcquirer{}
	if _, err := acq.acquireGitHubRelease(context.Background(), "nova", "28.1.0", t.TempDir()); err == nil {
		t.Fatal("expected an error when no GitHub client is configured")
	}
}

func TestAcquireGitArchiveRequiresExistingCheckout(t *testing.T) {
	acq := TarballAcquirer{SrcDir: t.TempDir()}
	if _, err := acq.acquireGitArchive(context.Background(), "nova", "28.1.0", t.TempDir()); err == nil {
		t.Fatal("expected an error when no checkout exists under SrcDir")
	}
}

func TestAcquireUnknownMethod(t *testing.T) {
	acq := TarballAcquirer{}
	if _, err := acq.Acquire(context.Background(), upstream.TarballMethod("bogus"), "nova", "28.1.0", t.TempDir()); err == nil {
		t.Fatal("expected an error for an unknown method")
	}
}
