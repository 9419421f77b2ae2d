package subprocess

import (
	"os/exec"
	"sort"
	"strings"

	"golang.org/x/xerrors"
)

// ToolChecker verifies required external tools are on PATH via
// exec.LookPath, the same check the teacher's buildctx relies on
// exec.CommandContext to perform implicitly on first use, made explicit
// so a missing tool is reported once for the whole package rather than
// failing deep into the step sequence.
type ToolChecker struct{}

// CheckTools returns a single error naming every tool in required that
// is not on PATH, or nil if all are present.
func (ToolChecker) CheckTools(required []string) error {
	var missing []string
	for _, name := range required {
		if _, err := exec.LookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return xerrors.Errorf("required tools not found on PATH: %s", strings.Join(missing, ", "))
}
