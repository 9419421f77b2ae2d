package subprocess

import (
	"os"
	"testing"
)

func TestCheckToolsAllPresent(t *testing.T) {
	if err := (ToolChecker{}).CheckTools([]string{"sh"}); err != nil {
		t.Errorf("CheckTools([sh]) = %v, want nil", err)
	}
}

func TestCheckToolsReportsMissing(t *testing.T) {
	oldPath := os.Getenv("PATH")
	defer os.Setenv("PATH", oldPath)
	os.Setenv("PATH", t.TempDir())

	err := (ToolChecker{}).CheckTools([]string{"definitely-not-a-real-tool", "also-missing"})
	if err == nil {
		t.Fatal("expected an error for missing tools")
	}
}
