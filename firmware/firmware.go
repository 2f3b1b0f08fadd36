// Package firmware loads the read-only product/version identity the
// agent reports to the cloud server and consults during download
// preparation compatibility checks: a handful of small files (and
// optionally executable device-identity hooks) under a metadata
// directory.
package firmware

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sidecar-iot/updateagent/uhuerror"
)

// Metadata is the device's product identity, as reported to the cloud
// server in probe/report calls and exposed via GET /info.
type Metadata struct {
	ProductUID     string
	Version        string
	Hardware       string
	DeviceIdentity map[string]string
}

// Load reads Metadata from dir. product-uid and version are required
// plain files; hardware is optional; any executable file under
// dir/device-identity.d is run and its stdout (KEY=VALUE lines) folded
// into DeviceIdentity.
func Load(dir string) (*Metadata, error) {
	productUID, err := readRequired(dir, "product-uid")
	if err != nil {
		return nil, err
	}

	version, err := readRequired(dir, "version")
	if err != nil {
		return nil, err
	}

	hardware, _ := readOptional(dir, "hardware")

	identity, err := runDeviceIdentityHooks(dir)
	if err != nil {
		return nil, err
	}

	return &Metadata{
		ProductUID:     productUID,
		Version:        version,
		Hardware:       hardware,
		DeviceIdentity: identity,
	}, nil
}

func readRequired(dir, name string) (string, error) {
	value, err := readOptional(dir, name)
	if err != nil {
		return "", uhuerror.NewFirmware(fmt.Errorf("reading %s: %w", name, err))
	}
	if value == "" {
		return "", uhuerror.NewFirmware(fmt.Errorf("%s is empty", name))
	}
	return value, nil
}

func readOptional(dir, name string) (string, error) {
	contents, err := os.ReadFile(filepath.Join(dir, name))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(contents)), nil
}

func runDeviceIdentityHooks(dir string) (map[string]string, error) {
	identity := make(map[string]string)

	hooksDir := filepath.Join(dir, "device-identity.d")
	entries, err := os.ReadDir(hooksDir)
	if os.IsNotExist(err) {
		return identity, nil
	}
	if err != nil {
		return nil, uhuerror.NewFirmware(err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		out, err := exec.Command(filepath.Join(hooksDir, entry.Name())).Output()
		if err != nil {
			return nil, uhuerror.NewProcess(fmt.Errorf("device-identity hook %s: %w", entry.Name(), err))
		}

		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			identity[parts[0]] = parts[1]
		}
	}

	return identity, nil
}

// SupportsHardware reports whether this device's hardware identifier
// is in the supported list, or whether the package places no
// restriction (an empty list).
func (m *Metadata) SupportsHardware(supported []string) bool {
	if len(supported) == 0 {
		return true
	}
	for _, h := range supported {
		if h == m.Hardware {
			return true
		}
	}
	return false
}
