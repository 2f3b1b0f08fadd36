// Package reboot is the platform helper that actually restarts the
// device, behind the Rebooter interface with a thin
// exec.Command-backed default.
package reboot

import (
	"context"
	"os/exec"

	"github.com/sidecar-iot/updateagent/uhuerror"
)

// Rebooter invokes a platform reboot. Invoke normally does not return.
type Rebooter interface {
	Invoke(ctx context.Context) error
}

// Command shells out to the given command (default: "reboot").
type Command struct {
	Name string
	Args []string
}

// New builds the default Rebooter, shelling out to "reboot".
func New() *Command {
	return &Command{Name: "reboot"}
}

func (c *Command) Invoke(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if err := cmd.Run(); err != nil {
		return uhuerror.NewProcess(err)
	}
	return nil
}
