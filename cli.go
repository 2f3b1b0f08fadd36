package main

import (
	"os"
	"time"

	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/sidecar-iot/updateagent/config"
)

// CliOpts are command-line overrides layered on top of the
// envconfig-derived Settings.
type CliOpts struct {
	ServerAddress       *string
	ListenSocket        *string
	DisablePolling      *bool
	PollingInterval     *time.Duration
	RuntimeSettingsPath *string
	ReadOnly            *bool
	MetadataPath        *string
	LoggingLevel        *string
	LoggingFormat       *string
}

// parseCommandLine declares and parses every CLI flag, returning the
// opts struct configureOverrides applies on top of Settings.
func parseCommandLine() *CliOpts {
	app := kingpin.New("updateagent", "On-device firmware update agent.")

	opts := &CliOpts{
		ServerAddress:       app.Flag("server-address", "Update server address, overrides NETWORK_SERVER_ADDRESS.").String(),
		ListenSocket:        app.Flag("listen-socket", "Control HTTP API bind address, overrides NETWORK_LISTEN_SOCKET.").String(),
		DisablePolling:      app.Flag("disable-polling", "Disable background polling regardless of POLLING_ENABLED.").Bool(),
		PollingInterval:     app.Flag("polling-interval", "Interval between polls.").Duration(),
		RuntimeSettingsPath: app.Flag("runtime-settings-path", "Path to the persisted runtime settings file.").String(),
		ReadOnly:            app.Flag("read-only", "Treat storage as read-only; never persist runtime settings.").Bool(),
		MetadataPath:        app.Flag("metadata-path", "Path to the firmware metadata directory.").String(),
		LoggingLevel:        app.Flag("log-level", "Logging level: debug, info, warn, error.").String(),
		LoggingFormat:       app.Flag("log-format", "Logging format: text or json.").String(),
	}

	kingpin.MustParse(app.Parse(os.Args[1:]))

	return opts
}

// configureOverrides takes CLI opts and applies them over the top of
// Settings loaded from the environment. CLI wins over env.
func configureOverrides(settings *config.Settings, opts *CliOpts) {
	if opts.ServerAddress != nil && *opts.ServerAddress != "" {
		settings.Network.ServerAddress = *opts.ServerAddress
	}
	if opts.ListenSocket != nil && *opts.ListenSocket != "" {
		settings.Network.ListenSocket = *opts.ListenSocket
	}
	if opts.PollingInterval != nil && *opts.PollingInterval != 0 {
		settings.Polling.Interval = *opts.PollingInterval
	}
	if opts.DisablePolling != nil && *opts.DisablePolling {
		settings.Polling.Enabled = false
	}
	if opts.RuntimeSettingsPath != nil && *opts.RuntimeSettingsPath != "" {
		settings.Storage.RuntimeSettingsPath = *opts.RuntimeSettingsPath
	}
	if opts.ReadOnly != nil && *opts.ReadOnly {
		settings.Storage.ReadOnly = true
	}
	if opts.MetadataPath != nil && *opts.MetadataPath != "" {
		settings.Firmware.MetadataPath = *opts.MetadataPath
	}
	if opts.LoggingLevel != nil && *opts.LoggingLevel != "" {
		settings.Agent.LoggingLevel = *opts.LoggingLevel
	}
	if opts.LoggingFormat != nil && *opts.LoggingFormat != "" {
		settings.Agent.LoggingFormat = *opts.LoggingFormat
	}
}
