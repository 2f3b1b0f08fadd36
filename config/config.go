// Package config loads the agent's immutable Settings from the
// environment, one envconfig.Process pass per section.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// NetworkConfig controls where the agent talks to the update server
// and where it exposes its own control surface.
type NetworkConfig struct {
	ServerAddress string `envconfig:"SERVER_ADDRESS" default:"https://api.updatehub.io"`
	ListenSocket  string `envconfig:"LISTEN_SOCKET" default:"127.0.0.1:8080"`
}

// PollingConfig controls the background polling cadence.
type PollingConfig struct {
	Enabled             bool          `envconfig:"ENABLED" default:"true"`
	Interval            time.Duration `envconfig:"INTERVAL" default:"1h"`
	ExtraIntervalJitter time.Duration `envconfig:"EXTRA_INTERVAL_JITTER" default:"1m"`
}

// StorageConfig controls where runtime settings and in-flight
// downloads are persisted.
type StorageConfig struct {
	RuntimeSettingsPath string `envconfig:"RUNTIME_SETTINGS_PATH" default:"/var/lib/updateagent/runtime_settings.toml"`
	ObjectStorePath     string `envconfig:"OBJECT_STORE_PATH" default:"/var/lib/updateagent/objects"`
	ReadOnly            bool   `envconfig:"READ_ONLY" default:"false"`
}

// FirmwareConfig points at the on-disk firmware metadata directory.
type FirmwareConfig struct {
	MetadataPath string `envconfig:"METADATA_PATH" default:"/usr/share/updateagent"`
}

// AgentConfig holds the ambient, non-domain settings: logging.
type AgentConfig struct {
	LoggingLevel  string `envconfig:"LOGGING_LEVEL" default:"info"`
	LoggingFormat string `envconfig:"LOGGING_FORMAT" default:"text"`
}

// Settings is the agent's full, immutable-after-load configuration.
type Settings struct {
	Network  NetworkConfig  // NETWORK_
	Polling  PollingConfig  // POLLING_
	Storage  StorageConfig  // STORAGE_
	Firmware FirmwareConfig // FIRMWARE_
	Agent    AgentConfig    // AGENT_
}

// Load resolves Settings from the environment. It never calls
// log.Fatal itself -- main.go owns the process's exit-code policy.
func Load() (*Settings, error) {
	var settings Settings

	sections := []struct {
		prefix string
		target interface{}
	}{
		{"network", &settings.Network},
		{"polling", &settings.Polling},
		{"storage", &settings.Storage},
		{"firmware", &settings.Firmware},
		{"agent", &settings.Agent},
	}

	for _, section := range sections {
		if err := envconfig.Process(section.prefix, section.target); err != nil {
			return nil, fmt.Errorf("can't parse %s config: %w", section.prefix, err)
		}
	}

	return &settings, nil
}
