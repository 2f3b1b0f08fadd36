// Package mockhttp is a minimal raw-socket-level HTTP stub, kept
// alongside gopkg.in/jarcoal/httpmock.v1 for the one cloudclient test
// that wants a real httptest.Server behind the transport rather than a
// registered-responder round tripper: DownloadObject's range-request
// path, where the thing under test is whether the Range header an
// actual client issues reaches an actual handler.
package mockhttp

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
)

// NewMockedTransport routes every request at a *http.Client through
// server regardless of the request's own host, by abusing the
// transport's proxy hook.
func NewMockedTransport(server *httptest.Server) *http.Transport {
	return &http.Transport{
		Proxy: func(req *http.Request) (*url.URL, error) {
			return url.Parse(server.URL)
		},
	}
}

// HttpExpectation matches an inbound request by a substring of its
// RequestURI and serves back Send (or Err, as a 500) for it. SeenRange
// records the Range header of a matching request that carried one, so a
// caller can confirm a byte-offset resume actually sent one. RangeHeader
// is not consulted by the server.
type HttpExpectation struct {
	Expect      string
	Send        string
	Err         error
	Content     string
	RangeHeader string
	SeenRange   *string
}

func NewMockedServer(expectations []HttpExpectation) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := range expectations {
			e := &expectations[i]
			if !strings.Contains(r.RequestURI, e.Expect) {
				continue
			}

			if got := r.Header.Get("Range"); got != "" {
				e.SeenRange = &got
			}

			if e.Err != nil {
				http.Error(w, e.Err.Error(), http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", e.Content)
			w.Write([]byte(e.Send))
			return
		}
	}))
}

func ClientWithExpectations(expectations []HttpExpectation) *http.Client {
	return &http.Client{Transport: NewMockedTransport(NewMockedServer(expectations))}
}
