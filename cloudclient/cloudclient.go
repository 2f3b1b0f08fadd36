// Package cloudclient is the thin adapter over the update server's
// HTTP API: probe, report, and download-object. Transport-level
// timeouts live here, not in the state machine.
package cloudclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pquerna/ffjson/ffjson"

	"github.com/sidecar-iot/updateagent/firmware"
	"github.com/sidecar-iot/updateagent/updatepackage"
	"github.com/sidecar-iot/updateagent/uhuerror"
)

// ProbeOutcomeKind is the closed set of probe outcomes.
type ProbeOutcomeKind int

const (
	// ExtraPoll asks the agent to come back after the given number of seconds.
	ExtraPoll ProbeOutcomeKind = iota
	// NoUpdate means the device is already current.
	NoUpdate
	// Update carries the package and signature to install.
	Update
)

// ProbeOutcome is the result of a Probe call.
type ProbeOutcome struct {
	Kind          ProbeOutcomeKind
	ExtraPollSecs int
	Package       *updatepackage.Package
	Signature     []byte
}

// Client is the collaborator interface the state machine consumes.
// SetServerAddress lets callers apply the runtime server-address
// override before a Probe, since Probe itself only takes a retries
// hint and firmware metadata.
type Client interface {
	Probe(ctx context.Context, retries int, fw *firmware.Metadata) (ProbeOutcome, error)
	DownloadObject(ctx context.Context, packageUID, objectID string, byteOffset int64) (*http.Response, error)
	Report(ctx context.Context, state string, fw *firmware.Metadata, packageUID string, previousState, errorMessage, currentLog *string) error
	SetServerAddress(address string)
}

// HTTPClient implements Client against a real update server.
type HTTPClient struct {
	mu            sync.RWMutex
	serverAddress string
	HTTPClient    *http.Client
}

// New builds an HTTPClient with the given server address and a
// bounded request timeout.
func New(serverAddress string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		serverAddress: serverAddress,
		HTTPClient:    &http.Client{Timeout: timeout},
	}
}

// SetServerAddress updates the address subsequent calls target. Safe
// for concurrent use: the scheduler is single-threaded but this also
// backs tests that inspect the client from outside it.
func (c *HTTPClient) SetServerAddress(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serverAddress = address
}

func (c *HTTPClient) address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverAddress
}

type probeRequest struct {
	ProductUID     string            `json:"product_uid"`
	Version        string            `json:"version"`
	Hardware       string            `json:"hardware,omitempty"`
	DeviceIdentity map[string]string `json:"device_identity,omitempty"`
	Retries        int               `json:"retries"`
}

type probeResponse struct {
	ExtraPoll int                    `json:"extra_poll,omitempty"`
	Package   *updatepackage.Package `json:"package,omitempty"`
	Signature []byte                 `json:"signature,omitempty"`
}

func (c *HTTPClient) Probe(ctx context.Context, retries int, fw *firmware.Metadata) (ProbeOutcome, error) {
	body, err := ffjson.Marshal(probeRequest{
		ProductUID:     fw.ProductUID,
		Version:        fw.Version,
		Hardware:       fw.Hardware,
		DeviceIdentity: fw.DeviceIdentity,
		Retries:        retries,
	})
	if err != nil {
		return ProbeOutcome{}, uhuerror.NewSerialization(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.address()+"/upgrades", bytes.NewReader(body))
	if err != nil {
		return ProbeOutcome{}, uhuerror.NewClient(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Content-Type", "application/vnd.updatehub-v1+json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return ProbeOutcome{}, uhuerror.NewClient(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ProbeOutcome{Kind: NoUpdate}, nil
	case http.StatusOK:
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return ProbeOutcome{}, uhuerror.NewIo(err)
		}

		var out probeResponse
		if err := ffjson.Unmarshal(raw, &out); err != nil {
			return ProbeOutcome{}, uhuerror.NewSerialization(err)
		}
		if out.Package == nil {
			return ProbeOutcome{}, uhuerror.NewClient(fmt.Errorf("server replied 200 with no package"))
		}
		return ProbeOutcome{Kind: Update, Package: out.Package, Signature: out.Signature}, nil
	default:
		if resp.StatusCode >= 500 {
			return ProbeOutcome{Kind: ExtraPoll, ExtraPollSecs: 60}, nil
		}
		return ProbeOutcome{}, uhuerror.NewClient(fmt.Errorf("unexpected probe status %d", resp.StatusCode))
	}
}

func (c *HTTPClient) DownloadObject(ctx context.Context, packageUID, objectID string, byteOffset int64) (*http.Response, error) {
	url := fmt.Sprintf("%s/products/%s/packages/%s/objects/%s", c.address(), "self", packageUID, objectID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, uhuerror.NewClient(err)
	}
	if byteOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", byteOffset))
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, uhuerror.NewClient(err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, uhuerror.NewClient(fmt.Errorf("unexpected download status %d", resp.StatusCode))
	}

	return resp, nil
}

type reportRequest struct {
	Status        string  `json:"status"`
	ProductUID    string  `json:"product_uid"`
	PackageUID    string  `json:"package_uid,omitempty"`
	PreviousState *string `json:"previous-state,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`
	CurrentLog    *string `json:"current_log,omitempty"`
}

func (c *HTTPClient) Report(ctx context.Context, state string, fw *firmware.Metadata, packageUID string, previousState, errorMessage, currentLog *string) error {
	body, err := ffjson.Marshal(reportRequest{
		Status:        state,
		ProductUID:    fw.ProductUID,
		PackageUID:    packageUID,
		PreviousState: previousState,
		ErrorMessage:  errorMessage,
		CurrentLog:    currentLog,
	})
	if err != nil {
		return uhuerror.NewSerialization(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.address()+"/report", bytes.NewReader(body))
	if err != nil {
		return uhuerror.NewClient(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return uhuerror.NewClient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return uhuerror.NewClient(fmt.Errorf("unexpected report status %d", resp.StatusCode))
	}

	return nil
}
