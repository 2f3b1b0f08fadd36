package cloudclient

import (
	"context"
	"io"
	"testing"

	httpmock "gopkg.in/jarcoal/httpmock.v1"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/sidecar-iot/updateagent/firmware"
	"github.com/sidecar-iot/updateagent/mockhttp"
)

func testClient() *HTTPClient {
	c := New("http://update.example.com", 0)
	httpmock.ActivateNonDefault(c.HTTPClient)
	return c
}

func testFirmware() *firmware.Metadata {
	return &firmware.Metadata{
		ProductUID: "abc123",
		Version:    "1.0.0",
		Hardware:   "board-rev-a",
	}
}

func TestProbe(t *testing.T) {
	Convey("Given an HTTPClient", t, func() {
		c := testClient()
		defer httpmock.DeactivateAndReset()

		Convey("When the server replies 404", func() {
			httpmock.RegisterResponder("POST", "http://update.example.com/upgrades",
				httpmock.NewStringResponder(404, ""))

			outcome, err := c.Probe(context.Background(), 0, testFirmware())

			So(err, ShouldBeNil)
			So(outcome.Kind, ShouldEqual, NoUpdate)
		})

		Convey("When the server replies 200 with a package", func() {
			httpmock.RegisterResponder("POST", "http://update.example.com/upgrades",
				httpmock.NewStringResponder(200, `{"package":{"uid":"pkg1","supported-hardware":["board-rev-a"]}}`))

			outcome, err := c.Probe(context.Background(), 0, testFirmware())

			So(err, ShouldBeNil)
			So(outcome.Kind, ShouldEqual, Update)
			So(outcome.Package, ShouldNotBeNil)
			So(outcome.Package.UID, ShouldEqual, "pkg1")
		})

		Convey("When the server replies 200 with no package", func() {
			httpmock.RegisterResponder("POST", "http://update.example.com/upgrades",
				httpmock.NewStringResponder(200, `{}`))

			_, err := c.Probe(context.Background(), 0, testFirmware())

			So(err, ShouldNotBeNil)
		})

		Convey("When the server replies with a transient 503", func() {
			httpmock.RegisterResponder("POST", "http://update.example.com/upgrades",
				httpmock.NewStringResponder(503, ""))

			outcome, err := c.Probe(context.Background(), 0, testFirmware())

			So(err, ShouldBeNil)
			So(outcome.Kind, ShouldEqual, ExtraPoll)
			So(outcome.ExtraPollSecs, ShouldEqual, 60)
		})

		Convey("When the server replies with an unexpected status", func() {
			httpmock.RegisterResponder("POST", "http://update.example.com/upgrades",
				httpmock.NewStringResponder(418, ""))

			_, err := c.Probe(context.Background(), 0, testFirmware())

			So(err, ShouldNotBeNil)
		})
	})
}

func TestDownloadObject(t *testing.T) {
	Convey("Given an HTTPClient", t, func() {
		c := testClient()
		defer httpmock.DeactivateAndReset()

		Convey("When the object exists", func() {
			httpmock.RegisterResponder("GET", "http://update.example.com/products/self/packages/pkg1/objects/obj1",
				httpmock.NewStringResponder(200, "firmware-bytes"))

			resp, err := c.DownloadObject(context.Background(), "pkg1", "obj1", 0)

			So(err, ShouldBeNil)
			So(resp, ShouldNotBeNil)
			resp.Body.Close()
		})

		Convey("When the server errors", func() {
			httpmock.RegisterResponder("GET", "http://update.example.com/products/self/packages/pkg1/objects/obj1",
				httpmock.NewStringResponder(500, ""))

			_, err := c.DownloadObject(context.Background(), "pkg1", "obj1", 0)

			So(err, ShouldNotBeNil)
		})
	})
}

// TestDownloadObjectResumesByRange drives DownloadObject over a real
// httptest.Server via the mockhttp transport stub, instead of
// httpmock's registered-responder round tripper, to confirm a resumed
// download (byteOffset > 0) actually puts a Range header on the
// wire -- httpmock intercepts above the transport, where that header
// never materializes.
func TestDownloadObjectResumesByRange(t *testing.T) {
	Convey("Given an HTTPClient wired to a raw-socket mock server", t, func() {
		expectations := []mockhttp.HttpExpectation{
			{Expect: "/objects/obj1", Send: "firmware-bytes", Content: "application/octet-stream"},
		}

		c := New("http://update.example.com", 0)
		c.HTTPClient = mockhttp.ClientWithExpectations(expectations)

		Convey("When resuming from a byte offset", func() {
			resp, err := c.DownloadObject(context.Background(), "pkg1", "obj1", 4096)
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			So(err, ShouldBeNil)
			So(string(body), ShouldEqual, "firmware-bytes")

			So(expectations[0].SeenRange, ShouldNotBeNil)
			So(*expectations[0].SeenRange, ShouldEqual, "bytes=4096-")
		})
	})
}

func TestReport(t *testing.T) {
	Convey("Given an HTTPClient", t, func() {
		c := testClient()
		defer httpmock.DeactivateAndReset()

		Convey("When the server accepts the report", func() {
			httpmock.RegisterResponder("POST", "http://update.example.com/report",
				httpmock.NewStringResponder(200, ""))

			err := c.Report(context.Background(), "downloading", testFirmware(), "pkg1", nil, nil, nil)

			So(err, ShouldBeNil)
		})

		Convey("When the server rejects the report", func() {
			httpmock.RegisterResponder("POST", "http://update.example.com/report",
				httpmock.NewStringResponder(400, ""))

			err := c.Report(context.Background(), "downloading", testFirmware(), "pkg1", nil, nil, nil)

			So(err, ShouldNotBeNil)
		})
	})
}
