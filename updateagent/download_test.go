package updateagent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/sidecar-iot/updateagent/updatepackage"
)

func sha256sumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func twoObjectPackage(bodies map[string][]byte) *updatepackage.Package {
	return &updatepackage.Package{
		UID: "pkg1",
		Objects: []updatepackage.Object{
			{ID: "obj1", Sha256Sum: sha256sumOf(bodies["obj1"]), Mode: "raw"},
			{ID: "obj2", Sha256Sum: sha256sumOf(bodies["obj2"]), Mode: "raw"},
		},
		Signature: []byte("sig"),
	}
}

func TestDownloadState(t *testing.T) {
	Convey("Given a Download state with two objects", t, func() {
		bodies := map[string][]byte{
			"obj1": []byte("first object bytes"),
			"obj2": []byte("second object bytes"),
		}
		cloud := &stubCloud{objectBodies: bodies}
		agentCtx := newTestContext(t, cloud)

		pkg := twoObjectPackage(bodies)
		state := &DownloadState{Package: pkg, Signature: pkg.Signature, InstallSet: 1}

		Convey("It fetches one object per tick", func() {
			next, transition, err := state.Progress(context.Background(), agentCtx)

			So(err, ShouldBeNil)
			So(next, ShouldEqual, state)
			So(transition.Kind, ShouldEqual, Immediate)
			So(cloud.downloads, ShouldResemble, []string{"obj1"})
			So(agentCtx.Objects.Has(pkg.Objects[0].Sha256Sum), ShouldBeTrue)
			So(agentCtx.Objects.Has(pkg.Objects[1].Sha256Sum), ShouldBeFalse)

			Convey("And transitions to Install once every object is staged", func() {
				mid, _, err := next.Progress(context.Background(), agentCtx)
				So(err, ShouldBeNil)

				final, transition, err := mid.Progress(context.Background(), agentCtx)

				So(err, ShouldBeNil)
				So(final, ShouldHaveSameTypeAs, &InstallState{})
				So(transition.Kind, ShouldEqual, Immediate)
				So(cloud.downloads, ShouldResemble, []string{"obj1", "obj2"})
			})
		})

		Convey("Objects already staged are never re-fetched", func() {
			mustCommitObject(agentCtx, pkg.Objects[0].Sha256Sum, bodies["obj1"])

			next, _, err := state.Progress(context.Background(), agentCtx)

			So(err, ShouldBeNil)
			So(cloud.downloads, ShouldResemble, []string{"obj2"})
			So(next, ShouldEqual, state)
		})

		Convey("A content-hash mismatch fails the download", func() {
			bodies["obj1"] = []byte("tampered bytes")

			_, _, err := state.Progress(context.Background(), agentCtx)

			So(err, ShouldNotBeNil)
			So(agentCtx.Objects.Has(pkg.Objects[0].Sha256Sum), ShouldBeFalse)
		})
	})
}

func TestAbortMidDownload(t *testing.T) {
	Convey("Given a scheduler mid-way through a two-object download", t, func() {
		bodies := map[string][]byte{
			"obj1": []byte("first object bytes"),
			"obj2": []byte("second object bytes"),
		}
		cloud := &stubCloud{objectBodies: bodies}
		pkg := twoObjectPackage(bodies)

		sched := newTestScheduler(t, cloud, &DownloadState{Package: pkg, Signature: pkg.Signature, InstallSet: 1})

		So(sched.tick(context.Background()), ShouldBeNil)
		So(cloud.downloads, ShouldResemble, []string{"obj1"})

		Convey("AbortDownload between object fetches lands before the next one", func() {
			sink := newReplySink()
			sched.handleCommand(context.Background(), commandEnvelope{Command: AbortDownloadCommand{}, Reply: sink})

			reply := (<-sink).(AcceptanceReply)
			So(reply.Accepted, ShouldBeTrue)
			So(sched.state, ShouldHaveSameTypeAs, &EntryPointState{})

			Convey("The partially staged object stays for a later resume", func() {
				So(sched.ctx.Objects.Has(pkg.Objects[0].Sha256Sum), ShouldBeTrue)
				So(cloud.downloads, ShouldResemble, []string{"obj1"})
			})
		})
	})
}
