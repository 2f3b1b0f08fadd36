package updateagent

import (
	"context"
	"time"

	"github.com/relistan/go-director"
	log "github.com/sirupsen/logrus"

	"github.com/sidecar-iot/updateagent/cloudclient"
	"github.com/sidecar-iot/updateagent/uhuerror"
)

// Scheduler owns the current State and Context and drives
// progression. It is the one logical task that touches either; the
// channels in Bus are the only concurrency boundary with the outside
// world.
type Scheduler struct {
	bus     *Bus
	ctx     *Context
	state   State
	version string

	// reportedEnter is the name of the reportable state an entry
	// report (and state-change callback) already ran for, so a state
	// that spans several ticks (Download fetches one object per tick)
	// only announces itself once.
	reportedEnter string
}

// NewScheduler builds a Scheduler starting from initial, bound to ctx
// and bus.
func NewScheduler(bus *Bus, ctx *Context, initial State, version string) *Scheduler {
	return &Scheduler{bus: bus, ctx: ctx, state: initial, version: version}
}

// Run drives the scheduler loop under looper until the looper is
// stopped or a Mailbox-kind error forces an exit.
func (s *Scheduler) Run(looper director.Looper) {
	looper.Loop(func() error {
		return s.tick(context.Background())
	})
}

// tick performs one full iteration of the loop: drain the waker,
// drain pending commands, progress, commit, wait.
func (s *Scheduler) tick(ctx context.Context) error {
	defer instrumentTick(s.state.Name())()

	s.bus.drainWaker()

	if err := s.drainCommands(ctx); err != nil {
		return err
	}

	next, transition, err := s.progressState(ctx)
	if err != nil {
		te, ok := uhuerror.As(err)
		if !ok {
			te = &uhuerror.TransitionError{Kind: uhuerror.Io, Err: err}
		}
		if te.Kind.Fatal() {
			return te
		}
		s.state = &ErrorState{Err: te}
		return nil
	}

	s.state = next

	return s.wait(ctx, transition)
}

// wait blocks according to transition, returning early if a command
// arrives (handled inline) or a waker token lands.
func (s *Scheduler) wait(ctx context.Context, transition StepTransition) error {
	switch transition.Kind {
	case Immediate:
		return nil
	case Delayed:
		timer := time.NewTimer(transition.Delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			return nil
		case <-s.bus.waker:
			return nil
		case envelope := <-s.bus.commands:
			s.handleCommand(ctx, envelope)
			return nil
		}
	case Never:
		select {
		case <-s.bus.waker:
			return nil
		case envelope := <-s.bus.commands:
			s.handleCommand(ctx, envelope)
			return nil
		}
	default:
		return nil
	}
}

// drainCommands handles every command already queued, without blocking.
func (s *Scheduler) drainCommands(ctx context.Context) error {
	for {
		select {
		case envelope := <-s.bus.commands:
			s.handleCommand(ctx, envelope)
		default:
			return nil
		}
	}
}

// handleCommand applies one command synchronously against the current
// state and always replies exactly once.
func (s *Scheduler) handleCommand(ctx context.Context, envelope commandEnvelope) {
	switch cmd := envelope.Command.(type) {
	case InfoCommand:
		snapshot := s.ctx.Snapshot(s.state.Name(), s.version)
		envelope.Reply.Reply(InfoReply{Snapshot: snapshot})

	case ProbeCommand:
		s.handleProbe(ctx, cmd, envelope.Reply)

	case AbortDownloadCommand:
		if !isDownloading(s.state) {
			envelope.Reply.Reply(AcceptanceReply{Accepted: false, PrevState: s.state.Name()})
			return
		}
		prev := s.state.Name()
		s.state = &EntryPointState{}
		envelope.Reply.Reply(AcceptanceReply{Accepted: true, PrevState: prev})

	case LocalInstallCommand:
		if !isPreemptive(s.state) {
			envelope.Reply.Reply(AcceptanceReply{Accepted: false, PrevState: s.state.Name()})
			return
		}
		prev := s.state.Name()
		s.ctx.Log.Enable()
		s.bus.wake()
		s.state = &PrepareLocalInstallState{Path: cmd.Path}
		envelope.Reply.Reply(AcceptanceReply{Accepted: true, PrevState: prev})

	case RemoteInstallCommand:
		if !isPreemptive(s.state) {
			envelope.Reply.Reply(AcceptanceReply{Accepted: false, PrevState: s.state.Name()})
			return
		}
		prev := s.state.Name()
		s.ctx.Log.Enable()
		s.bus.wake()
		s.state = &DirectDownloadState{URL: cmd.URL}
		envelope.Reply.Reply(AcceptanceReply{Accepted: true, PrevState: prev})

	default:
		log.Warnf("scheduler: unknown command type %T", envelope.Command)
		envelope.Reply.Reply(AcceptanceReply{Accepted: false, PrevState: s.state.Name()})
	}
}

func (s *Scheduler) handleProbe(ctx context.Context, cmd ProbeCommand, reply ReplySink) {
	if !isPreemptive(s.state) {
		reply.Reply(ProbeReply{Kind: ProbeBusy, BusyState: s.state.Name()})
		return
	}

	if cmd.ServerAddressOverride != "" {
		if err := s.ctx.Runtime.SetCustomServerAddress(cmd.ServerAddressOverride); err != nil {
			s.ctx.logError(&uhuerror.TransitionError{Kind: uhuerror.RuntimeSettings, Err: err})
			reply.Reply(ProbeReply{Kind: ProbeBusy, BusyState: s.state.Name()})
			return
		}
	}

	s.ctx.Cloud.SetServerAddress(s.ctx.ServerAddress())
	outcome, err := s.ctx.Cloud.Probe(ctx, s.ctx.Runtime.Retries(), s.ctx.Firmware)
	if err != nil {
		s.ctx.logError(&uhuerror.TransitionError{Kind: uhuerror.Client, Err: err})
		reply.Reply(ProbeReply{Kind: ProbeBusy, BusyState: s.state.Name()})
		return
	}

	switch outcome.Kind {
	case cloudclient.ExtraPoll:
		reply.Reply(ProbeReply{Kind: ProbeDelayed, DelaySeconds: outcome.ExtraPollSecs})
	case cloudclient.NoUpdate:
		s.bus.wake()
		_ = s.ctx.Runtime.SetLastPolling(time.Now())
		s.state = &EntryPointState{}
		reply.Reply(ProbeReply{Kind: ProbeUnavailable})
	default:
		s.bus.wake()
		_ = s.ctx.Runtime.SetLastPolling(time.Now())
		s.state = NewValidation(outcome.Package, outcome.Signature)
		reply.Reply(ProbeReply{Kind: ProbeAvailable})
	}
}
