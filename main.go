// Command updateagent is the process entrypoint: it loads settings,
// runs the startup validate/rollback bookkeeping, spawns the
// scheduler, and serves the control HTTP API.
package main

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/relistan/go-director"
	log "github.com/sirupsen/logrus"
	"gopkg.in/relistan/rubberneck.v1"

	"github.com/sidecar-iot/updateagent/callback"
	"github.com/sidecar-iot/updateagent/cloudclient"
	"github.com/sidecar-iot/updateagent/config"
	"github.com/sidecar-iot/updateagent/firmware"
	"github.com/sidecar-iot/updateagent/httpapi"
	"github.com/sidecar-iot/updateagent/installer"
	"github.com/sidecar-iot/updateagent/installset"
	"github.com/sidecar-iot/updateagent/memlog"
	"github.com/sidecar-iot/updateagent/objectstore"
	"github.com/sidecar-iot/updateagent/reboot"
	"github.com/sidecar-iot/updateagent/runtimesettings"
	"github.com/sidecar-iot/updateagent/updateagent"
	"github.com/sidecar-iot/updateagent/updatepackage"
)

// Version is stamped at build time via -ldflags; "dev" otherwise.
var Version = "dev"

// configureLoggingLevel sets logrus's level from Settings.Agent.
func configureLoggingLevel(settings *config.Settings) {
	switch settings.Agent.LoggingLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// configureLoggingFormat switches between text and JSON log output.
func configureLoggingFormat(settings *config.Settings) {
	if settings.Agent.LoggingFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// exitWithError logs and terminates with a non-zero status; startup
// failures never leave a half-wired agent running.
func exitWithError(err error, message string) {
	if err != nil {
		log.Fatalf("%s (%s)", message, err.Error())
	}
}

// buildContext assembles the scheduler's Context from freshly loaded
// settings/runtime-settings/firmware plus every collaborator the
// state machine consumes.
func buildContext(settings *config.Settings, runtime *runtimesettings.RuntimeSettings, fw *firmware.Metadata, logBuf *memlog.Buffer) *updateagent.Context {
	objects, err := objectstore.New(settings.Storage.ObjectStorePath)
	exitWithError(err, "Can't open object store")

	installSetPath := filepath.Join(settings.Firmware.MetadataPath, "active-install-set")

	return &updateagent.Context{
		Settings:   settings,
		Runtime:    runtime,
		Firmware:   fw,
		Cloud:      cloudclient.New(settings.Network.ServerAddress, 30*time.Second),
		Callbacks:  callback.NewRunner(settings.Firmware.MetadataPath),
		Installers: installer.NewRegistry(),
		InstallSet: installset.NewFileManager(installSetPath),
		Reboot:     reboot.New(),
		Objects:    objects,
		Parser:     updatepackage.StubParser{},
		Verifier:   updatepackage.StubVerifier{},
		Log:        logBuf,
	}
}

func main() {
	settings, err := config.Load()
	exitWithError(err, "Can't load configuration")

	opts := parseCommandLine()
	configureOverrides(settings, opts)

	configureLoggingLevel(settings)
	configureLoggingFormat(settings)

	logBuf := memlog.New(memlog.DefaultCapacity)
	log.AddHook(logBuf)

	printer := rubberneck.NewPrinter(log.Infof, rubberneck.NoAddLineFeed)
	printer.PrintWithLabel("UpdateAgent", settings)

	runtime, err := runtimesettings.Load(settings.Storage.RuntimeSettingsPath)
	exitWithError(err, "Can't load runtime settings")
	if !settings.Storage.ReadOnly {
		runtime.EnablePersistency()
	}

	fw, err := firmware.Load(settings.Firmware.MetadataPath)
	exitWithError(err, "Can't load firmware metadata")

	agentCtx := buildContext(settings, runtime, fw, logBuf)

	startupCtx := context.Background()
	if err := updateagent.HandleStartupCallbacks(startupCtx, agentCtx); err != nil {
		exitWithError(err, "Startup validate/rollback failed")
	}

	bus := updateagent.NewBus()
	scheduler := updateagent.NewScheduler(bus, agentCtx, updateagent.NewInitialState(), Version)

	schedulerLooper := director.NewFreeLooper(director.FOREVER, make(chan error))
	go scheduler.Run(schedulerLooper)

	gc := installer.NewStagingGC(settings.Storage.ObjectStorePath)
	gcLooper := director.NewTimedLooper(director.FOREVER, installer.DefaultGCInterval, make(chan error))
	go gc.Run(gcLooper)

	httpapi.Version = Version
	api := httpapi.New(bus.Address(), logBuf)

	log.Infof("Control HTTP API listening on %s", settings.Network.ListenSocket)
	err = http.ListenAndServe(settings.Network.ListenSocket, api.HttpMux())
	exitWithError(err, "Control HTTP API failed to bind")
}
