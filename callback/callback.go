// Package callback runs the user-supplied hook scripts that live
// alongside firmware metadata (state-change, validate, rollback,
// error, pre-install, post-install): exec.Command, no shell,
// CombinedOutput, interpret the result. A hook printing "cancel"
// cancels the transition; anything else continues.
package callback

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/sidecar-iot/updateagent/uhuerror"
)

// Transition is the result a hook script communicates back.
type Transition int

const (
	// Continue means proceed with the state's own logic.
	Continue Transition = iota
	// Cancel means short-circuit back to EntryPoint without running
	// the state's own logic.
	Cancel
)

// Runner executes hook scripts found in a metadata directory.
type Runner struct {
	// Dir is the firmware metadata directory the hook scripts live in.
	Dir string
}

// NewRunner builds a Runner rooted at dir.
func NewRunner(dir string) *Runner {
	return &Runner{Dir: dir}
}

// Run invokes the named hook with args, if it exists and is
// executable. A missing hook is not an error -- every hook is
// optional -- and yields Continue.
func (r *Runner) Run(ctx context.Context, hook string, args ...string) (Transition, error) {
	path := filepath.Join(r.Dir, hook)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Continue, nil
	}
	if err != nil {
		return Continue, uhuerror.NewProcess(err)
	}
	if info.Mode()&0o111 == 0 {
		log.Warnf("hook %s exists but is not executable, skipping", hook)
		return Continue, nil
	}

	cmd := exec.CommandContext(ctx, path, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		log.Warnf("hook %s exited with error: %s (%s)", hook, err, output)
		return Continue, uhuerror.NewProcess(err)
	}

	if strings.TrimSpace(string(output)) == "cancel" {
		return Cancel, nil
	}

	return Continue, nil
}
