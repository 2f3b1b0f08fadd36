package updateagent

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sidecar-iot/updateagent/cloudclient"
	"github.com/sidecar-iot/updateagent/updatepackage"
	"github.com/sidecar-iot/updateagent/uhuerror"
)

// TransitionKind classifies how the scheduler should wait before the
// next progression tick.
type TransitionKind int

const (
	// Immediate means progress again without waiting.
	Immediate TransitionKind = iota
	// Delayed means wait up to a duration, unless woken or a command arrives.
	Delayed
	// Never means wait indefinitely, unless woken or a command arrives.
	Never
)

// StepTransition tells the scheduler how long to wait before the next
// progression tick.
type StepTransition struct {
	Kind  TransitionKind
	Delay time.Duration
}

func immediate() StepTransition { return StepTransition{Kind: Immediate} }
func never() StepTransition     { return StepTransition{Kind: Never} }
func delayed(d time.Duration) StepTransition {
	if d < 0 {
		d = 0
	}
	return StepTransition{Kind: Delayed, Delay: d}
}

// State is the tagged union of lifecycle states. Each variant is a
// concrete type implementing Progress; the central dispatch lives in
// the scheduler, not in this interface, mirroring the "thin trait,
// fat dispatcher" shape the design notes call for.
type State interface {
	// Name is the wire/log name used in reports, /info, and testing.
	Name() string
	// Progress runs this state's logic against ctx and returns the
	// next state plus how the scheduler should wait before resuming.
	Progress(ctx context.Context, agentCtx *Context) (State, StepTransition, error)
	// Reportable marks states wrapped with the progress-report /
	// transition-callback machinery.
	Reportable() bool
}

// isPreemptive reports whether external LocalInstall/RemoteInstall/Probe
// requests are legal while s is current.
func isPreemptive(s State) bool {
	switch s.(type) {
	case *ParkState, *EntryPointState, *PollState:
		return true
	default:
		return false
	}
}

// isDownloading reports whether AbortDownload is legal while s is current.
func isDownloading(s State) bool {
	switch s.(type) {
	case *DownloadState, *DirectDownloadState:
		return true
	default:
		return false
	}
}

// ParkState is the terminal rest state: nothing to do until woken by
// a command.
type ParkState struct{}

func (*ParkState) Name() string     { return "park" }
func (*ParkState) Reportable() bool { return false }
func (*ParkState) Progress(context.Context, *Context) (State, StepTransition, error) {
	return &ParkState{}, never(), nil
}

// EntryPointState decides whether polling is enabled.
type EntryPointState struct{}

func (*EntryPointState) Name() string     { return "entry_point" }
func (*EntryPointState) Reportable() bool { return false }

func (*EntryPointState) Progress(_ context.Context, agentCtx *Context) (State, StepTransition, error) {
	if agentCtx.Runtime.PollingEnabled() {
		return &PollState{}, immediate(), nil
	}
	return &ParkState{}, never(), nil
}

// PollState computes the wait until the next poll is due.
type PollState struct{}

func (*PollState) Name() string     { return "poll" }
func (*PollState) Reportable() bool { return false }

func (*PollState) Progress(_ context.Context, agentCtx *Context) (State, StepTransition, error) {
	interval := agentCtx.Settings.Polling.Interval
	jitter := agentCtx.Settings.Polling.ExtraIntervalJitter

	last := agentCtx.Runtime.LastPolling()
	due := last.Add(interval)

	wait := time.Until(due)
	if jitter > 0 {
		wait += time.Duration(rand.Int63n(int64(jitter)))
	}
	if wait <= 0 {
		return &ProbeState{}, immediate(), nil
	}
	return &ProbeState{}, delayed(wait), nil
}

// ProbeState asks the cloud client whether an update is available.
type ProbeState struct {
	// ServerAddressOverride, when non-empty, is stored as the runtime
	// server-address override before probing. The Probe command does
	// not use this field; handleProbe stores its own override.
	ServerAddressOverride string
}

func (*ProbeState) Name() string     { return "probe" }
func (*ProbeState) Reportable() bool { return false }

func (s *ProbeState) Progress(ctx context.Context, agentCtx *Context) (State, StepTransition, error) {
	if s.ServerAddressOverride != "" {
		if err := agentCtx.Runtime.SetCustomServerAddress(s.ServerAddressOverride); err != nil {
			return nil, StepTransition{}, uhuerror.NewRuntimeSettings(err)
		}
	}

	agentCtx.Cloud.SetServerAddress(agentCtx.ServerAddress())
	outcome, err := agentCtx.Cloud.Probe(ctx, agentCtx.Runtime.Retries(), agentCtx.Firmware)
	if err != nil {
		return nil, StepTransition{}, uhuerror.NewClient(err)
	}

	switch outcome.Kind {
	case cloudclient.ExtraPoll:
		return &EntryPointState{}, delayed(time.Duration(outcome.ExtraPollSecs) * time.Second), nil
	case cloudclient.NoUpdate:
		if err := agentCtx.Runtime.SetLastPolling(time.Now()); err != nil {
			return nil, StepTransition{}, uhuerror.NewRuntimeSettings(err)
		}
		return &EntryPointState{}, immediate(), nil
	case cloudclient.Update:
		if err := agentCtx.Runtime.SetLastPolling(time.Now()); err != nil {
			return nil, StepTransition{}, uhuerror.NewRuntimeSettings(err)
		}
		return NewValidation(outcome.Package, outcome.Signature), immediate(), nil
	default:
		return nil, StepTransition{}, uhuerror.NewClient(fmt.Errorf("unknown probe outcome"))
	}
}

// PrepareDownloadState verifies a probed package and picks an
// installation-set target.
type PrepareDownloadState struct {
	Package   *updatepackage.Package
	Signature []byte
}

// NewValidation builds the state that validates a just-probed
// package. Validation and download preparation always run
// back-to-back, so they share this one type.
func NewValidation(pkg *updatepackage.Package, signature []byte) State {
	return &PrepareDownloadState{Package: pkg, Signature: signature}
}

func (*PrepareDownloadState) Name() string     { return "prepare_download" }
func (*PrepareDownloadState) Reportable() bool { return false }

func (s *PrepareDownloadState) Progress(_ context.Context, agentCtx *Context) (State, StepTransition, error) {
	if err := agentCtx.Verifier.Verify(s.Package, nil); err != nil {
		return nil, StepTransition{}, uhuerror.NewUpdatePackage(err)
	}

	if !agentCtx.Firmware.SupportsHardware(s.Package.SupportedHardware) {
		return nil, StepTransition{}, uhuerror.NewUpdatePackage(
			fmt.Errorf("package %s does not support hardware %q", s.Package.UID, agentCtx.Firmware.Hardware))
	}

	inactive, err := agentCtx.InstallSet.Inactive()
	if err != nil {
		return nil, StepTransition{}, uhuerror.NewInstallation(err)
	}

	return &DownloadState{Package: s.Package, Signature: s.Signature, InstallSet: inactive}, immediate(), nil
}

// DirectDownloadState fetches an operator-supplied URL to a local
// temp file, entered via the RemoteInstall command.
type DirectDownloadState struct {
	URL string
}

func (*DirectDownloadState) Name() string     { return "direct_download" }
func (*DirectDownloadState) Reportable() bool { return false }

func (s *DirectDownloadState) Progress(ctx context.Context, agentCtx *Context) (State, StepTransition, error) {
	path, err := agentCtx.fetchToTemp(ctx, s.URL)
	if err != nil {
		return nil, StepTransition{}, uhuerror.NewIo(err)
	}
	return &PrepareLocalInstallState{Path: path}, immediate(), nil
}

// PrepareLocalInstallState parses and verifies a local package file,
// entered directly via LocalInstall or via DirectDownload.
type PrepareLocalInstallState struct {
	Path string
}

func (*PrepareLocalInstallState) Name() string     { return "prepare_local_install" }
func (*PrepareLocalInstallState) Reportable() bool { return false }

func (s *PrepareLocalInstallState) Progress(_ context.Context, agentCtx *Context) (State, StepTransition, error) {
	raw, err := agentCtx.readLocalPackage(s.Path)
	if err != nil {
		return nil, StepTransition{}, uhuerror.NewUncompress(err)
	}

	pkg, err := agentCtx.Parser.Parse(raw)
	if err != nil {
		return nil, StepTransition{}, uhuerror.NewUpdatePackage(err)
	}

	if err := agentCtx.Verifier.Verify(pkg, nil); err != nil {
		return nil, StepTransition{}, uhuerror.NewUpdatePackage(err)
	}

	inactive, err := agentCtx.InstallSet.Inactive()
	if err != nil {
		return nil, StepTransition{}, uhuerror.NewInstallation(err)
	}

	return &InstallState{Package: pkg, InstallSet: inactive}, immediate(), nil
}

// DownloadState streams every not-yet-present object into the
// content-addressed object store.
type DownloadState struct {
	Package    *updatepackage.Package
	Signature  []byte
	InstallSet int
}

func (*DownloadState) Name() string     { return "download" }
func (*DownloadState) Reportable() bool { return true }

func (s *DownloadState) Progress(ctx context.Context, agentCtx *Context) (State, StepTransition, error) {
	// One object per tick: the scheduler drains commands between
	// ticks, so an AbortDownload submitted mid-download is observed
	// between object fetches rather than after the whole package.
	for _, obj := range s.Package.Objects {
		if agentCtx.Objects.Has(obj.Sha256Sum) {
			continue
		}
		if err := agentCtx.downloadObject(ctx, s.Package.UID, obj); err != nil {
			return nil, StepTransition{}, err
		}
		return s, immediate(), nil
	}
	return &InstallState{Package: s.Package, InstallSet: s.InstallSet}, immediate(), nil
}

// InstallState applies every object onto the target installation set.
type InstallState struct {
	Package    *updatepackage.Package
	InstallSet int
}

func (*InstallState) Name() string     { return "install" }
func (*InstallState) Reportable() bool { return true }

func (s *InstallState) Progress(ctx context.Context, agentCtx *Context) (State, StepTransition, error) {
	// pre-install/post-install are informational hooks: their output
	// is ignored and a failure never blocks the install itself.
	_, _ = agentCtx.Callbacks.Run(ctx, "pre-install", s.Package.UID)

	for _, obj := range s.Package.Objects {
		if err := agentCtx.installObject(ctx, obj, s.InstallSet); err != nil {
			return nil, StepTransition{}, err
		}
	}

	if err := agentCtx.Runtime.SetUpgradeToInstallation(s.InstallSet); err != nil {
		return nil, StepTransition{}, uhuerror.NewRuntimeSettings(err)
	}

	_, _ = agentCtx.Callbacks.Run(ctx, "post-install", s.Package.UID)

	return &RebootState{}, immediate(), nil
}

// RebootState invokes the platform reboot helper. In the ordinary
// case the process is torn down before Progress returns.
type RebootState struct{}

func (*RebootState) Name() string     { return "reboot" }
func (*RebootState) Reportable() bool { return true }

func (s *RebootState) Progress(ctx context.Context, agentCtx *Context) (State, StepTransition, error) {
	if err := agentCtx.Reboot.Invoke(ctx); err != nil {
		return nil, StepTransition{}, uhuerror.NewProcess(err)
	}
	return &ParkState{}, never(), nil
}

// ErrorState logs the captured failure, resets in-progress upgrade
// bookkeeping, and returns control to EntryPoint.
type ErrorState struct {
	Err *uhuerror.TransitionError
}

func (*ErrorState) Name() string     { return "error" }
func (*ErrorState) Reportable() bool { return false }

func (s *ErrorState) Progress(ctx context.Context, agentCtx *Context) (State, StepTransition, error) {
	agentCtx.logError(s.Err)

	_, _ = agentCtx.Callbacks.Run(ctx, "error", s.Err.Error())

	if err := agentCtx.Runtime.ResetInstallationSettings(); err != nil {
		agentCtx.logError(&uhuerror.TransitionError{Kind: uhuerror.RuntimeSettings, Err: err})
	}

	return &EntryPointState{}, immediate(), nil
}

