package updateagent

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/sidecar-iot/updateagent/callback"
)

// HandleStartupCallbacks runs the validation/rollback bookkeeping
// that must happen before the scheduler starts: if a previous install
// left an in-flight upgrade recorded, decide whether the device
// booted into it (validate) or not (roll back).
func HandleStartupCallbacks(ctx context.Context, agentCtx *Context) error {
	expected, hasUpgrade := agentCtx.Runtime.UpgradeToInstallation()
	if !hasUpgrade {
		return nil
	}

	active, err := agentCtx.InstallSet.Active()
	if err != nil {
		return err
	}

	if active == expected {
		transition, err := agentCtx.Callbacks.Run(ctx, "validate")
		if err != nil {
			log.Warnf("validate callback failed: %s", err)
		}

		if transition == callback.Cancel {
			if err := agentCtx.InstallSet.SwapActive(); err != nil {
				return err
			}
			return agentCtx.Reboot.Invoke(ctx)
		}

		if err := agentCtx.InstallSet.MarkValidated(); err != nil {
			return err
		}
		return agentCtx.Runtime.ResetInstallationSettings()
	}

	if _, err := agentCtx.Callbacks.Run(ctx, "rollback"); err != nil {
		log.Warnf("rollback callback failed: %s", err)
	}

	return agentCtx.Runtime.ResetInstallationSettings()
}

// NewInitialState builds the state the scheduler starts from: always
// EntryPoint.
func NewInitialState() State {
	return &EntryPointState{}
}
