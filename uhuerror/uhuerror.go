// Package uhuerror holds the closed error taxonomy shared by every
// layer of the update agent. A TransitionError always carries one of
// the Kinds below so the scheduler can decide, without inspecting
// strings, whether a failure is recoverable (most kinds just push the
// state machine into the Error state) or fatal (Mailbox).
package uhuerror

import "fmt"

// Kind is the closed set of error origins the scheduler knows how to
// react to.
type Kind int

const (
	// InvalidRequest means bad input arrived over the control HTTP API.
	InvalidRequest Kind = iota
	// ObjectsNotReady means the Install state's preconditions failed.
	ObjectsNotReady
	// Client means the cloud client's HTTP calls failed.
	Client
	// Firmware means firmware metadata loading or a callback script failed.
	Firmware
	// Installation means an installer backend failed.
	Installation
	// RuntimeSettings means persisting runtime settings failed.
	RuntimeSettings
	// UpdatePackage means manifest parsing or signature verification failed.
	UpdatePackage
	// Uncompress means unpacking a local update archive failed.
	Uncompress
	// Serialization means JSON (de)serialization failed.
	Serialization
	// Io means a filesystem operation failed.
	Io
	// Mailbox means an internal channel closed unexpectedly. Fatal.
	Mailbox
	// Process means spawning a callback script failed.
	Process
)

var names = map[Kind]string{
	InvalidRequest:  "invalid-request",
	ObjectsNotReady: "objects-not-ready",
	Client:          "client",
	Firmware:        "firmware",
	Installation:    "installation",
	RuntimeSettings: "runtime-settings",
	UpdatePackage:   "update-package",
	Uncompress:      "uncompress",
	Serialization:   "serialization",
	Io:              "io",
	Mailbox:         "mailbox",
	Process:         "process",
}

func (k Kind) String() string {
	if name, ok := names[k]; ok {
		return name
	}
	return "unknown"
}

// Fatal reports whether the scheduler loop must exit on this Kind
// rather than transition to the Error state.
func (k Kind) Fatal() bool {
	return k == Mailbox
}

// TransitionError is the error type every state handler returns.
type TransitionError struct {
	Kind Kind
	Err  error
}

func (e *TransitionError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func newf(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &TransitionError{Kind: kind, Err: err}
}

// Helper constructors, one per Kind, so call sites read like
// uhuerror.NewClient(err) instead of repeating the struct literal.
func NewInvalidRequest(err error) error  { return newf(InvalidRequest, err) }
func NewObjectsNotReady(err error) error { return newf(ObjectsNotReady, err) }
func NewClient(err error) error          { return newf(Client, err) }
func NewFirmware(err error) error        { return newf(Firmware, err) }
func NewInstallation(err error) error    { return newf(Installation, err) }
func NewRuntimeSettings(err error) error { return newf(RuntimeSettings, err) }
func NewUpdatePackage(err error) error   { return newf(UpdatePackage, err) }
func NewUncompress(err error) error      { return newf(Uncompress, err) }
func NewSerialization(err error) error   { return newf(Serialization, err) }
func NewIo(err error) error              { return newf(Io, err) }
func NewMailbox(err error) error         { return newf(Mailbox, err) }
func NewProcess(err error) error         { return newf(Process, err) }

// As extracts a *TransitionError from err, if any, using the stdlib
// errors.As convention but without importing errors (to keep this
// package dependency-free).
func As(err error) (*TransitionError, bool) {
	te, ok := err.(*TransitionError)
	if ok {
		return te, true
	}
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
		if te, ok := err.(*TransitionError); ok {
			return te, true
		}
	}
}
