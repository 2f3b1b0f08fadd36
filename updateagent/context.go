// Package updateagent is the update lifecycle state machine and its
// command/event bus. Everything it depends on (cloud client, callback
// runner, installer registry, object store, installation-set manager)
// is consumed as a collaborator handed in via Context, keeping
// transport, crypto, and storage concerns out of the core.
package updateagent

import (
	"github.com/mohae/deepcopy"

	"github.com/sidecar-iot/updateagent/callback"
	"github.com/sidecar-iot/updateagent/cloudclient"
	"github.com/sidecar-iot/updateagent/config"
	"github.com/sidecar-iot/updateagent/firmware"
	"github.com/sidecar-iot/updateagent/installer"
	"github.com/sidecar-iot/updateagent/installset"
	"github.com/sidecar-iot/updateagent/memlog"
	"github.com/sidecar-iot/updateagent/objectstore"
	"github.com/sidecar-iot/updateagent/reboot"
	"github.com/sidecar-iot/updateagent/runtimesettings"
	"github.com/sidecar-iot/updateagent/updatepackage"
)

// Context is everything a state's Progress needs: the scheduler owns
// it and hands handlers exclusive mutable access during their
// progression.
type Context struct {
	Settings *config.Settings
	Runtime  *runtimesettings.RuntimeSettings
	Firmware *firmware.Metadata

	Cloud      cloudclient.Client
	Callbacks  *callback.Runner
	Installers *installer.Registry
	InstallSet installset.Manager
	Reboot     reboot.Rebooter
	Objects    *objectstore.Store
	Parser     updatepackage.Parser
	Verifier   updatepackage.Verifier
	Log        *memlog.Buffer
}

// ServerAddress returns the effective update server address: a
// runtime override wins over the configured default.
func (c *Context) ServerAddress() string {
	if override, ok := c.Runtime.CustomServerAddress(); ok {
		return override
	}
	return c.Settings.Network.ServerAddress
}

// InfoSnapshot is the Info command's reply payload.
// Settings/Firmware are deep-copied via mohae/deepcopy and
// RuntimeSettings is the value copy RuntimeSettings.Snapshot returns,
// so an HTTP caller never holds the scheduler's own structs.
type InfoSnapshot struct {
	State           string
	Version         string
	Settings        config.Settings
	Firmware        firmware.Metadata
	RuntimeSettings runtimesettings.Document
}

// Snapshot builds an InfoSnapshot for the given state name.
func (c *Context) Snapshot(stateName, version string) InfoSnapshot {
	settingsCopy := deepcopy.Copy(*c.Settings).(config.Settings)
	firmwareCopy := deepcopy.Copy(*c.Firmware).(firmware.Metadata)

	return InfoSnapshot{
		State:           stateName,
		Version:         version,
		Settings:        settingsCopy,
		Firmware:        firmwareCopy,
		RuntimeSettings: c.Runtime.Snapshot(),
	}
}
