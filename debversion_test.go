package packastack

import "testing"

func TestParseDebianVersionRoundTrip(t *testing.T) {
	for _, s := range []string{
		"2:17.0.0-0ubuntu1",
		"17.0.0-0ubuntu1",
		"1:2.3.4~b1-0ubuntu1",
		"30.0.0+git20240115.42.abc1234-0ubuntu1",
		"1.0",
	} {
		v, err := ParseDebianVersion(s)
		if err != nil {
			t.Fatalf("ParseDebianVersion(%q): %v", s, err)
		}
		if got := v.String(); got != s {
			t.Errorf("ParseDebianVersion(%q).String() = %q, want %q", s, got, s)
		}
	}
}

func TestParseDebianVersionComponents(t *testing.T) {
	v, err := ParseDebianVersion("2:17.0.0-0ubuntu1~22.04.1")
	if err != nil {
		t.Fatal(err)
	}
	if v.Epoch != "2" {
		t.Errorf("Epoch = %q, want %q", v.Epoch, "2")
	}
	if v.Upstream != "17.0.0" {
		t.Errorf("Upstream = %q, want %q", v.Upstream, "17.0.0")
	}
	if v.Revision != "0ubuntu1~22.04.1" {
		t.Errorf("Revision = %q, want %q", v.Revision, "0ubuntu1~22.04.1")
	}
}

func TestParseDebianVersionEmpty(t *testing.T) {
	if _, err := ParseDebianVersion(""); err == nil {
		t.Fatal("expected error for empty version")
	}
}

func TestSnapshotVersion(t *testing.T) {
	got := SnapshotVersion("", "30.0.0", "20240115", 42, "abc1234")
	want := "30.0.0+git20240115.42.abc1234-0ubuntu1"
	if got != want {
		t.Errorf("SnapshotVersion() = %q, want %q", got, want)
	}
	v, err := ParseDebianVersion(got)
	if err != nil {
		t.Fatal(err)
	}
	if !IsSnapshotUpstream(v.Upstream) {
		t.Errorf("IsSnapshotUpstream(%q) = false, want true", v.Upstream)
	}
}

func TestIsSnapshotUpstream(t *testing.T) {
	tests := []struct {
		upstream string
		want     bool
	}{
		{"30.0.0+git20240115.42.abc1234", true},
		{"30.0.0+git20240115.0.abc1234", true},
		{"30.0.0", false},
		{"30.0.0~b1", false},
		{"30.0.0+git2024011.42.abc1234", false},    // short date
		{"30.0.0+git20240115.42.abc123", false},    // short sha
		{"30.0.0+git20240115.42.ABC1234", false},   // uppercase sha
	}
	for _, tt := range tests {
		if got := IsSnapshotUpstream(tt.upstream); got != tt.want {
			t.Errorf("IsSnapshotUpstream(%q) = %v, want %v", tt.upstream, got, tt.want)
		}
	}
}

func TestReleaseAndMilestoneVersion(t *testing.T) {
	if got, want := ReleaseVersion("", "30.0.0"), "30.0.0-0ubuntu1"; got != want {
		t.Errorf("ReleaseVersion() = %q, want %q", got, want)
	}
	if got, want := ReleaseVersion("2", "30.0.0"), "2:30.0.0-0ubuntu1"; got != want {
		t.Errorf("ReleaseVersion() = %q, want %q", got, want)
	}
	if got, want := MilestoneVersion("", "30.0.0", "b1"), "30.0.0~b1-0ubuntu1"; got != want {
		t.Errorf("MilestoneVersion() = %q, want %q", got, want)
	}
}

func TestParseGitDescribe(t *testing.T) {
	tests := []struct {
		in   string
		want GitDescribe
	}{
		{"30.0.0-50-gabc1234", GitDescribe{Base: "30.0.0", CommitCount: 50, ShortSHA: "abc1234"}},
		{"v30.0.0-50-gabc1234", GitDescribe{Base: "30.0.0", CommitCount: 50, ShortSHA: "abc1234"}},
		{"30.0.0", GitDescribe{Base: "30.0.0"}},
		{"", GitDescribe{Base: "0.0.0"}},
	}
	for _, tt := range tests {
		if got := ParseGitDescribe(tt.in); got != tt.want {
			t.Errorf("ParseGitDescribe(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "2.0.0", -1},
		{"2.0.0", "1.0.0", 1},
		{"1:1.0.0", "2:0.1.0", -1},
		{"29.0.0-0ubuntu1", "29.0.0-0ubuntu2", -1},
		{"29.0.0~b1", "29.0.0", -1},
		{"29.0.0", "29.0.0~b1", 1},
		{"1.0", "1.0.0", -1},
		{"1.0.10", "1.0.9", 1},
		{"1.0.01", "1.0.1", 0},
		{"2:1.0.0-1", "1:5.0.0-1", 1},
	}
	for _, tt := range tests {
		got := CompareVersions(tt.a, tt.b)
		sign := func(n int) int {
			switch {
			case n < 0:
				return -1
			case n > 0:
				return 1
			default:
				return 0
			}
		}
		if sign(got) != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want sign %d", tt.a, tt.b, got, tt.want)
		}
	}
}
