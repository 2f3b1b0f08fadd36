package updateagent

import (
	"context"
	"errors"

	"github.com/sidecar-iot/updateagent/uhuerror"
)

// errUnexpectedReply indicates a reply sink received a value of the
// wrong type for its command -- a bug in handleCommand, never a
// condition a caller can recover from.
var errUnexpectedReply = errors.New("unexpected reply type from scheduler")

// Address is the only way external code (the HTTP control surface)
// interacts with the scheduler: clone-cheap, safe for concurrent use,
// and incapable of touching Context directly.
type Address struct {
	bus *Bus
}

// Send submits cmd and blocks until its reply is ready or ctx is
// canceled. If the scheduler's command channel is full, Send blocks
// too, backpressuring the HTTP handlers that call it.
func (a *Address) Send(ctx context.Context, cmd Command) (interface{}, error) {
	sink := newReplySink()
	envelope := commandEnvelope{Command: cmd, Reply: sink}

	select {
	case a.bus.commands <- envelope:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case reply := <-sink:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Info is a typed convenience wrapper over Send for the Info command.
func (a *Address) Info(ctx context.Context, version string) (InfoReply, error) {
	reply, err := a.Send(ctx, InfoCommand{Version: version})
	if err != nil {
		return InfoReply{}, err
	}
	info, ok := reply.(InfoReply)
	if !ok {
		return InfoReply{}, uhuerror.NewMailbox(errUnexpectedReply)
	}
	return info, nil
}

// Probe is a typed convenience wrapper over Send for the Probe command.
func (a *Address) Probe(ctx context.Context, serverAddressOverride string) (ProbeReply, error) {
	reply, err := a.Send(ctx, ProbeCommand{ServerAddressOverride: serverAddressOverride})
	if err != nil {
		return ProbeReply{}, err
	}
	probe, ok := reply.(ProbeReply)
	if !ok {
		return ProbeReply{}, uhuerror.NewMailbox(errUnexpectedReply)
	}
	return probe, nil
}

// AbortDownload is a typed convenience wrapper over Send for AbortDownload.
func (a *Address) AbortDownload(ctx context.Context) (AcceptanceReply, error) {
	reply, err := a.Send(ctx, AbortDownloadCommand{})
	if err != nil {
		return AcceptanceReply{}, err
	}
	acceptance, ok := reply.(AcceptanceReply)
	if !ok {
		return AcceptanceReply{}, uhuerror.NewMailbox(errUnexpectedReply)
	}
	return acceptance, nil
}

// LocalInstall is a typed convenience wrapper over Send for LocalInstall.
func (a *Address) LocalInstall(ctx context.Context, path string) (AcceptanceReply, error) {
	reply, err := a.Send(ctx, LocalInstallCommand{Path: path})
	if err != nil {
		return AcceptanceReply{}, err
	}
	acceptance, ok := reply.(AcceptanceReply)
	if !ok {
		return AcceptanceReply{}, uhuerror.NewMailbox(errUnexpectedReply)
	}
	return acceptance, nil
}

// RemoteInstall is a typed convenience wrapper over Send for RemoteInstall.
func (a *Address) RemoteInstall(ctx context.Context, url string) (AcceptanceReply, error) {
	reply, err := a.Send(ctx, RemoteInstallCommand{URL: url})
	if err != nil {
		return AcceptanceReply{}, err
	}
	acceptance, ok := reply.(AcceptanceReply)
	if !ok {
		return AcceptanceReply{}, uhuerror.NewMailbox(errUnexpectedReply)
	}
	return acceptance, nil
}
