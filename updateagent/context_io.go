package updateagent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/sidecar-iot/updateagent/uhuerror"
	"github.com/sidecar-iot/updateagent/updatepackage"
)

// downloadObject streams a single object into the content-addressed
// store unless it's already present, verifying its content hash as it
// writes. Already-staged objects are skipped, which is what makes an
// interrupted download resumable.
func (c *Context) downloadObject(ctx context.Context, packageUID string, obj updatepackage.Object) error {
	if c.Objects.Has(obj.Sha256Sum) {
		return nil
	}

	resp, err := c.Cloud.DownloadObject(ctx, packageUID, obj.ID, 0)
	if err != nil {
		return uhuerror.NewClient(err)
	}
	defer resp.Body.Close()

	tmp, err := c.Objects.Create(obj.Sha256Sum)
	if err != nil {
		return uhuerror.NewIo(err)
	}

	hasher := sha256.New()
	writer := io.MultiWriter(tmp, hasher)

	if _, err := io.Copy(writer, resp.Body); err != nil {
		_ = c.Objects.Abandon(tmp)
		return uhuerror.NewIo(fmt.Errorf("downloading object %s: %w", obj.ID, err))
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	if sum != obj.Sha256Sum {
		_ = c.Objects.Abandon(tmp)
		return uhuerror.NewUpdatePackage(fmt.Errorf("object %s: content hash mismatch, got %s want %s", obj.ID, sum, obj.Sha256Sum))
	}

	if err := c.Objects.Commit(obj.Sha256Sum, tmp); err != nil {
		return err
	}

	return nil
}

// installObject hands a staged object's bytes to the backend
// registered for its mode.
func (c *Context) installObject(ctx context.Context, obj updatepackage.Object, installSet int) error {
	backend, err := c.Installers.Lookup(obj.Mode)
	if err != nil {
		return err
	}

	src, err := c.Objects.Open(obj.Sha256Sum)
	if err != nil {
		return err
	}
	defer src.Close()

	return backend.Install(ctx, obj, src, installSet)
}

// fetchToTemp downloads an operator-supplied URL (RemoteInstall) to a
// local temp file and returns its path.
func (c *Context) fetchToTemp(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "remote-install-*.pkg")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return "", err
	}

	return tmp.Name(), nil
}

// readLocalPackage reads a LocalInstall/DirectDownload candidate file
// whole. No uncompression is done anywhere on this path: the bytes are
// handed to the Parser as read, so only an already-plain package file
// is handled.
func (c *Context) readLocalPackage(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// logError records a TransitionError at Error level, tagged with its Kind.
func (c *Context) logError(err *uhuerror.TransitionError) {
	log.WithField("kind", err.Kind.String()).Error(err.Error())
}
