// Package installer applies downloaded objects onto persistent
// targets. Only the raw backend is implemented on this build; the
// device-specific modes (ubifs, tarball, imxkobs) are registered as
// stubs that fail with a clear error rather than pretending to
// install.
package installer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sidecar-iot/updateagent/updatepackage"
	"github.com/sidecar-iot/updateagent/uhuerror"
)

// Backend installs a single object's bytes onto the target described
// by obj.Target, on the given installation set.
type Backend interface {
	Install(ctx context.Context, obj updatepackage.Object, src io.Reader, installSet int) error
}

// Registry maps an object's Mode string to the Backend that handles it.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry builds the default Registry: a real raw backend plus
// stubs for the device-specific object modes.
func NewRegistry() *Registry {
	unsupported := func(mode string) Backend {
		return unsupportedBackend{mode: mode}
	}

	return &Registry{backends: map[string]Backend{
		"raw":     &RawBackend{},
		"ubifs":   unsupported("ubifs"),
		"tarball": unsupported("tarball"),
		"imxkobs": unsupported("imxkobs"),
	}}
}

// Lookup returns the Backend registered for mode.
func (r *Registry) Lookup(mode string) (Backend, error) {
	backend, ok := r.backends[mode]
	if !ok {
		return nil, uhuerror.NewInstallation(fmt.Errorf("no installer backend for mode %q", mode))
	}
	return backend, nil
}

// RawBackend writes an object's bytes directly onto a block device or
// plain file target.
type RawBackend struct{}

func (RawBackend) Install(ctx context.Context, obj updatepackage.Object, src io.Reader, installSet int) error {
	dst, err := os.OpenFile(obj.Target.Target, os.O_WRONLY, 0o644)
	if err != nil {
		return uhuerror.NewInstallation(fmt.Errorf("opening target %s: %w", obj.Target.Target, err))
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return uhuerror.NewInstallation(fmt.Errorf("writing object %s: %w", obj.ID, err))
	}

	return nil
}

// unsupportedBackend reports a clear, typed error instead of silently
// pretending to install. A real device build would swap this for a
// libubi/imx-specific implementation.
type unsupportedBackend struct {
	mode string
}

func (u unsupportedBackend) Install(ctx context.Context, obj updatepackage.Object, src io.Reader, installSet int) error {
	return uhuerror.NewInstallation(fmt.Errorf("installer backend %q is not available on this build", u.mode))
}
