package updateagent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sidecar-iot/updateagent/callback"
	"github.com/sidecar-iot/updateagent/cloudclient"
	"github.com/sidecar-iot/updateagent/config"
	"github.com/sidecar-iot/updateagent/firmware"
	"github.com/sidecar-iot/updateagent/installer"
	"github.com/sidecar-iot/updateagent/memlog"
	"github.com/sidecar-iot/updateagent/objectstore"
	"github.com/sidecar-iot/updateagent/runtimesettings"
	"github.com/sidecar-iot/updateagent/uhuerror"
	"github.com/sidecar-iot/updateagent/updatepackage"
)

// assertErr is a generic sentinel error for tests that only care that
// an error was returned.
var assertErr = errors.New("boom")

// transitionErr is a ready-made TransitionError for ErrorState tests.
var transitionErr = uhuerror.TransitionError{Kind: uhuerror.Client, Err: assertErr}

// stubCloud is a scripted cloudclient.Client for exercising the state
// machine without a network, the mockhttp-free flavor of test double
// this package's tests need since probing happens above the HTTP layer.
type stubCloud struct {
	probeOutcome  cloudclient.ProbeOutcome
	probeErr      error
	reportErr     error
	reports       []string
	serverAddress string

	// objectBodies maps an object ID to the bytes DownloadObject
	// serves for it; downloads records the fetch order.
	objectBodies map[string][]byte
	downloads    []string
	downloadErr  error
}

func (s *stubCloud) Probe(ctx context.Context, retries int, fw *firmware.Metadata) (cloudclient.ProbeOutcome, error) {
	return s.probeOutcome, s.probeErr
}

func (s *stubCloud) DownloadObject(ctx context.Context, packageUID, objectID string, byteOffset int64) (*http.Response, error) {
	s.downloads = append(s.downloads, objectID)
	if s.downloadErr != nil {
		return nil, s.downloadErr
	}

	body, ok := s.objectBodies[objectID]
	if !ok {
		return nil, errors.New("no scripted body for object " + objectID)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}, nil
}

func (s *stubCloud) Report(ctx context.Context, state string, fw *firmware.Metadata, packageUID string, previousState, errorMessage, currentLog *string) error {
	s.reports = append(s.reports, state)
	return s.reportErr
}

func (s *stubCloud) SetServerAddress(address string) {
	s.serverAddress = address
}

// stubRebooter records whether Invoke was called instead of actually
// rebooting anything.
type stubRebooter struct {
	invoked bool
	err     error
}

func (r *stubRebooter) Invoke(ctx context.Context) error {
	r.invoked = true
	return r.err
}

// stubInstallSet is a fixed-answer installset.Manager for tests.
type stubInstallSet struct {
	active    int
	validated bool
	swapped   bool
}

func (s *stubInstallSet) Active() (int, error)   { return s.active, nil }
func (s *stubInstallSet) Inactive() (int, error) { return 1 - s.active, nil }
func (s *stubInstallSet) SwapActive() error {
	s.swapped = true
	s.active = 1 - s.active
	return nil
}
func (s *stubInstallSet) MarkValidated() error {
	s.validated = true
	return nil
}

func newTestContext(t interface{ TempDir() string }, cloud cloudclient.Client) *Context {
	objDir := t.TempDir()
	store, err := objectstore.New(objDir)
	if err != nil {
		panic(err)
	}

	runtime, err := runtimesettings.Load(t.TempDir() + "/runtime_settings.toml")
	if err != nil {
		panic(err)
	}

	settings := &config.Settings{}
	settings.Network.ServerAddress = "https://update.example.com"
	settings.Polling.Interval = time.Hour
	settings.Polling.ExtraIntervalJitter = 0

	fw := &firmware.Metadata{ProductUID: "device1", Version: "1.0.0", Hardware: "board-a"}

	return &Context{
		Settings:   settings,
		Runtime:    runtime,
		Firmware:   fw,
		Cloud:      cloud,
		Callbacks:  callback.NewRunner(t.TempDir()),
		Installers: installer.NewRegistry(),
		InstallSet: &stubInstallSet{active: 0},
		Reboot:     &stubRebooter{},
		Objects:    store,
		Parser:     updatepackage.StubParser{},
		Verifier:   updatepackage.StubVerifier{},
		Log:        memlog.New(0),
	}
}

// mustDisablePolling builds a fresh RuntimeSettings backed by a TOML
// file with polling disabled, for EntryPoint tests.
func mustDisablePolling(t interface{ TempDir() string }) *runtimesettings.RuntimeSettings {
	path := t.TempDir() + "/runtime_settings.toml"
	if err := os.WriteFile(path, []byte("[polling]\nenabled = false\n"), 0o644); err != nil {
		panic(err)
	}
	rs, err := runtimesettings.Load(path)
	if err != nil {
		panic(err)
	}
	return rs
}

// mustWriteFile writes data to path, panicking on error -- test setup
// only, never exercised by production code paths.
func mustWriteFile(path string, data []byte) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		panic(err)
	}
}

// mustCommitObject stages data directly into agentCtx's object store
// under sha256sum, bypassing DownloadState, for Install-focused tests.
func mustCommitObject(agentCtx *Context, sha256sum string, data []byte) {
	tmp, err := agentCtx.Objects.Create(sha256sum)
	if err != nil {
		panic(err)
	}
	if _, err := tmp.Write(data); err != nil {
		panic(err)
	}
	if err := agentCtx.Objects.Commit(sha256sum, tmp); err != nil {
		panic(err)
	}
}
