package progress

import (
	"bytes"
	"strings"
	"testing"
)

func TestUpdateNonTTY(t *testing.T) {
	var buf bytes.Buffer
	bar := New(&buf, 3)
	bar.Update("nova")
	bar.Update("glance")
	bar.Done()

	got := buf.String()
	if !strings.Contains(got, "[1/3] nova") || !strings.Contains(got, "[2/3] glance") {
		t.Fatalf("unexpected output: %q", got)
	}
	if strings.Contains(got, "\r") {
		t.Fatalf("non-tty writer should not receive carriage returns: %q", got)
	}
}

func TestUpdateCountsMonotonically(t *testing.T) {
	var buf bytes.Buffer
	bar := New(&buf, 5)
	for i, pkg := range []string{"a", "b", "c"} {
		bar.Update(pkg)
		want := i + 1
		if bar.done != want {
			t.Fatalf("after %d updates, done = %d, want %d", i+1, bar.done, want)
		}
	}
}
