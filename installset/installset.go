// Package installset manages the two on-device installation slots
// (A/B). It is a thin platform helper behind the Manager interface,
// backed here by a single state file so the rest of the agent has
// something concrete to drive in tests; device builds swap in a
// bootloader-specific implementation.
package installset

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sidecar-iot/updateagent/uhuerror"
)

// Manager is the platform helper interface the core consumes.
type Manager interface {
	// Active returns the currently active installation set (0 or 1).
	Active() (int, error)
	// Inactive returns the installation set that isn't active.
	Inactive() (int, error)
	// SwapActive flips which set is considered active.
	SwapActive() error
	// MarkValidated records that the active set has passed validation.
	MarkValidated() error
}

// FileManager is a Manager backed by a single file holding "0" or "1".
type FileManager struct {
	Path string
}

// NewFileManager builds a FileManager rooted at path. If the file
// doesn't exist yet, set 0 is treated as active.
func NewFileManager(path string) *FileManager {
	return &FileManager{Path: path}
}

func (m *FileManager) Active() (int, error) {
	contents, err := os.ReadFile(m.Path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, uhuerror.NewIo(err)
	}

	active, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil {
		return 0, uhuerror.NewIo(fmt.Errorf("corrupt install-set file: %w", err))
	}
	if active != 0 && active != 1 {
		return 0, uhuerror.NewIo(fmt.Errorf("invalid install set %d", active))
	}

	return active, nil
}

func (m *FileManager) Inactive() (int, error) {
	active, err := m.Active()
	if err != nil {
		return 0, err
	}
	return 1 - active, nil
}

func (m *FileManager) SwapActive() error {
	inactive, err := m.Inactive()
	if err != nil {
		return err
	}
	return m.write(inactive)
}

// MarkValidated is a no-op for the file-backed manager: the active set
// recorded on disk already reflects validated state. Platforms with a
// real bootloader-backed "tentative" flag would clear it here.
func (m *FileManager) MarkValidated() error {
	return nil
}

func (m *FileManager) write(active int) error {
	if err := os.WriteFile(m.Path, []byte(strconv.Itoa(active)), 0o644); err != nil {
		return uhuerror.NewIo(err)
	}
	return nil
}
