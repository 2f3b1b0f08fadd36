package updateagent

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/sidecar-iot/updateagent/callback"
	"github.com/sidecar-iot/updateagent/uhuerror"
)

// progressState runs the current state's Progress, wrapped with the
// transition-callback and progress-reporting machinery for states
// marked Reportable. Non-reportable states progress directly.
func (s *Scheduler) progressState(ctx context.Context) (State, StepTransition, error) {
	if !s.state.Reportable() {
		s.reportedEnter = ""
		return s.state.Progress(ctx, s.ctx)
	}

	enterName := s.state.Name()

	// Entry work runs once per state entry, not once per tick: a
	// Download spanning several ticks announces itself only on the
	// first.
	if s.reportedEnter != enterName {
		transition, err := s.ctx.Callbacks.Run(ctx, "state-change", enterName)
		if err != nil {
			log.Warnf("state-change callback for %s failed: %s", enterName, err)
		}
		if transition == callback.Cancel {
			return &EntryPointState{}, immediate(), nil
		}

		s.reportState(ctx, enterName, nil, nil)
		s.reportedEnter = enterName
	}

	next, stepTransition, progressErr := s.state.Progress(ctx, s.ctx)
	if progressErr != nil {
		te, ok := uhuerror.As(progressErr)
		message := progressErr.Error()
		if ok {
			message = te.Error()
		}
		currentLog := s.ctx.Log.Text()
		s.reportErrorState(ctx, enterName, message, currentLog)
		s.reportedEnter = ""
		return nil, StepTransition{}, progressErr
	}

	if next.Name() != enterName {
		s.reportState(ctx, next.Name(), &enterName, nil)
		s.reportedEnter = ""
	}

	return next, stepTransition, nil
}

// reportState POSTs a best-effort progress report. Failures are
// logged and swallowed -- reporting is never allowed to fail the
// transition itself.
func (s *Scheduler) reportState(ctx context.Context, stateName string, previousState, errorMessage *string) {
	packageUID := s.currentPackageUID()

	if err := s.ctx.Cloud.Report(ctx, stateName, s.ctx.Firmware, packageUID, previousState, errorMessage, nil); err != nil {
		log.Warnf("reporting state %s failed: %s", stateName, err)
	}
}

func (s *Scheduler) reportErrorState(ctx context.Context, previousState, errorMessage, currentLog string) {
	packageUID := s.currentPackageUID()

	if err := s.ctx.Cloud.Report(ctx, "error", s.ctx.Firmware, packageUID, &previousState, &errorMessage, &currentLog); err != nil {
		log.Warnf("reporting error state failed: %s", err)
	}
}

// currentPackageUID extracts the package UID carried by the current
// state, if any; reports for states without a package (Poll, Probe,
// EntryPoint) simply omit it.
func (s *Scheduler) currentPackageUID() string {
	switch st := s.state.(type) {
	case *DownloadState:
		return st.Package.UID
	case *InstallState:
		return st.Package.UID
	default:
		return ""
	}
}
