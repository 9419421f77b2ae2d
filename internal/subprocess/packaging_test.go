package subprocess

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReadChangelogParsesTopEntry(t *testing.T) {
	dir := t.TempDir()
	debian := filepath.Join(dir, "debian")
	if err := os.MkdirAll(debian, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "nova (2:28.1.0-0ubuntu1) noble; urgency=medium\n\n  * New upstream release.\n\n -- A B <a@b.com>  Mon, 01 Jan 2024 00:00:00 +0000\n"
	if err := os.WriteFile(filepath.Join(debian, "changelog"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	entry, err := (PackagingTools{}).ReadChangelog(dir)
	if err != nil {
		t.Fatalf("ReadChangelog: %v", err)
	}
	if entry.Version != "2:28.1.0-0ubuntu1" {
		t.Errorf("Version = %q, want 2:28.1.0-0ubuntu1", entry.Version)
	}
}

func TestReadChangelogMissingFileIsEmptyNotError(t *testing.T) {
	entry, err := (PackagingTools{}).ReadChangelog(t.TempDir())
	if err != nil {
		t.Fatalf("ReadChangelog: %v", err)
	}
	if entry.Version != "" {
		t.Errorf("Version = %q, want empty for a missing changelog", entry.Version)
	}
}

func TestNewestMatchPicksMostRecentlyModified(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "a.dsc")
	newer := filepath.Join(dir, "b.dsc")
	if err := os.WriteFile(older, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(newer, []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatal(err)
	}

	got, err := newestMatch(dir, "*.dsc")
	if err != nil {
		t.Fatalf("newestMatch: %v", err)
	}
	if got != newer {
		t.Errorf("newestMatch = %q, want %q", got, newer)
	}
}

func TestTrimNewline(t *testing.T) {
	if got := trimNewline("master\n"); got != "master" {
		t.Errorf("trimNewline = %q, want %q", got, "master")
	}
	if got := trimNewline("master\r\n"); got != "master" {
		t.Errorf("trimNewline = %q, want %q", got, "master")
	}
}
