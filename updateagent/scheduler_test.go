package updateagent

import (
	"context"
	"os"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/sidecar-iot/updateagent/cloudclient"
	"github.com/sidecar-iot/updateagent/updatepackage"
)

func newTestScheduler(t interface{ TempDir() string }, cloud cloudclient.Client, initial State) *Scheduler {
	bus := NewBus()
	agentCtx := newTestContext(t, cloud)
	return NewScheduler(bus, agentCtx, initial, "1.2.3")
}

func TestHandleCommandInfo(t *testing.T) {
	Convey("Given a scheduler in Poll", t, func() {
		sched := newTestScheduler(t, &stubCloud{}, &PollState{})

		Convey("Info is always legal", func() {
			sink := newReplySink()
			sched.handleCommand(context.Background(), commandEnvelope{Command: InfoCommand{}, Reply: sink})

			reply := (<-sink).(InfoReply)
			So(reply.Snapshot.State, ShouldEqual, "poll")
		})
	})
}

func TestHandleCommandLocalInstall(t *testing.T) {
	Convey("Given a scheduler in a preemptive state", t, func() {
		sched := newTestScheduler(t, &stubCloud{}, &PollState{})

		Convey("LocalInstall is accepted and transitions to PrepareLocalInstall", func() {
			sink := newReplySink()
			sched.handleCommand(context.Background(), commandEnvelope{Command: LocalInstallCommand{Path: "/tmp/pkg.uhupkg"}, Reply: sink})

			reply := (<-sink).(AcceptanceReply)
			So(reply.Accepted, ShouldBeTrue)
			So(reply.PrevState, ShouldEqual, "poll")
			So(sched.state, ShouldHaveSameTypeAs, &PrepareLocalInstallState{})
		})
	})

	Convey("Given a scheduler in a non-preemptive state", t, func() {
		sched := newTestScheduler(t, &stubCloud{}, &InstallState{})

		Convey("LocalInstall is rejected", func() {
			sink := newReplySink()
			sched.handleCommand(context.Background(), commandEnvelope{Command: LocalInstallCommand{Path: "/tmp/pkg.uhupkg"}, Reply: sink})

			reply := (<-sink).(AcceptanceReply)
			So(reply.Accepted, ShouldBeFalse)
			So(sched.state, ShouldHaveSameTypeAs, &InstallState{})
		})
	})
}

func TestHandleCommandAbortDownload(t *testing.T) {
	Convey("Given a scheduler mid-download", t, func() {
		sched := newTestScheduler(t, &stubCloud{}, &DownloadState{})

		Convey("AbortDownload is accepted and transitions to EntryPoint", func() {
			sink := newReplySink()
			sched.handleCommand(context.Background(), commandEnvelope{Command: AbortDownloadCommand{}, Reply: sink})

			reply := (<-sink).(AcceptanceReply)
			So(reply.Accepted, ShouldBeTrue)
			So(reply.PrevState, ShouldEqual, "download")
			So(sched.state, ShouldHaveSameTypeAs, &EntryPointState{})
		})
	})

	Convey("Given a scheduler that is not downloading", t, func() {
		sched := newTestScheduler(t, &stubCloud{}, &PollState{})

		Convey("AbortDownload is rejected", func() {
			sink := newReplySink()
			sched.handleCommand(context.Background(), commandEnvelope{Command: AbortDownloadCommand{}, Reply: sink})

			reply := (<-sink).(AcceptanceReply)
			So(reply.Accepted, ShouldBeFalse)
		})
	})
}

func TestHandleProbeCommand(t *testing.T) {
	Convey("Given a scheduler busy installing", t, func() {
		sched := newTestScheduler(t, &stubCloud{}, &InstallState{})

		Convey("Probe replies Busy without network I/O", func() {
			sink := newReplySink()
			sched.handleCommand(context.Background(), commandEnvelope{Command: ProbeCommand{}, Reply: sink})

			reply := (<-sink).(ProbeReply)
			So(reply.Kind, ShouldEqual, ProbeBusy)
			So(reply.BusyState, ShouldEqual, "install")
		})
	})

	Convey("Given a preemptive scheduler with no update available", t, func() {
		sched := newTestScheduler(t, &stubCloud{probeOutcome: cloudclientNoUpdateOutcome()}, &PollState{})

		Convey("Probe replies Unavailable and transitions to EntryPoint", func() {
			sink := newReplySink()
			sched.handleCommand(context.Background(), commandEnvelope{Command: ProbeCommand{}, Reply: sink})

			reply := (<-sink).(ProbeReply)
			So(reply.Kind, ShouldEqual, ProbeUnavailable)
			So(sched.state, ShouldHaveSameTypeAs, &EntryPointState{})
		})
	})
}

func cloudclientNoUpdateOutcome() cloudclient.ProbeOutcome {
	return cloudclient.ProbeOutcome{Kind: cloudclient.NoUpdate}
}

func TestTickCommitsErrorState(t *testing.T) {
	Convey("Given a scheduler whose probe fails", t, func() {
		sched := newTestScheduler(t, &stubCloud{probeErr: assertErr}, &ProbeState{})

		Convey("A failing progression commits the Error state", func() {
			So(sched.tick(context.Background()), ShouldBeNil)

			So(sched.state, ShouldHaveSameTypeAs, &ErrorState{})

			Convey("And the Error state returns control to EntryPoint", func() {
				So(sched.tick(context.Background()), ShouldBeNil)
				So(sched.state, ShouldHaveSameTypeAs, &EntryPointState{})
			})
		})
	})
}

func TestHappyPathInstall(t *testing.T) {
	Convey("Given a poll-due scheduler whose server has an update", t, func() {
		body := []byte("new firmware bytes")
		target := t.TempDir() + "/target-device"
		mustWriteFile(target, []byte("old firmware bytes"))

		pkg := &updatepackage.Package{
			UID: "pkg1",
			Objects: []updatepackage.Object{{
				ID:        "obj1",
				Sha256Sum: sha256sumOf(body),
				Mode:      "raw",
				Target:    updatepackage.TargetType{Target: target},
			}},
			Signature: []byte("sig"),
		}
		cloud := &stubCloud{
			probeOutcome: cloudclient.ProbeOutcome{Kind: cloudclient.Update, Package: pkg, Signature: pkg.Signature},
			objectBodies: map[string][]byte{"obj1": body},
		}

		sched := newTestScheduler(t, cloud, &PollState{})

		Convey("Ticking runs Poll through Probe, Download, and Install", func() {
			for i := 0; i < 20; i++ {
				if _, done := sched.state.(*RebootState); done {
					break
				}
				So(sched.tick(context.Background()), ShouldBeNil)
			}

			So(sched.state, ShouldHaveSameTypeAs, &RebootState{})

			upgradeTo, pending := sched.ctx.Runtime.UpgradeToInstallation()
			So(pending, ShouldBeTrue)
			So(upgradeTo, ShouldEqual, 1)

			installed, err := os.ReadFile(target)
			So(err, ShouldBeNil)
			So(string(installed), ShouldEqual, string(body))

			So(cloud.reports, ShouldContain, "download")
			So(cloud.reports, ShouldContain, "install")
		})
	})
}

func TestBusWakerCapacity(t *testing.T) {
	Convey("Given a Bus", t, func() {
		bus := NewBus()

		Convey("Waking it twice only queues one token", func() {
			bus.wake()
			bus.wake()

			count := 0
			select {
			case <-bus.waker:
				count++
			default:
			}
			select {
			case <-bus.waker:
				count++
			default:
			}

			So(count, ShouldEqual, 1)
		})
	})
}
