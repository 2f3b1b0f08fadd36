package updatepackage

import (
	"encoding/json"
	"errors"
)

var errEmptySignature = errors.New("signature is empty")

// decodeStub decodes a JSON-encoded Package. Real manifests are a
// signed, compressed archive format that lives behind Parser on
// production builds; JSON is enough to let tests build fixtures and
// drive the state machine end to end.
func decodeStub(raw []byte) (*Package, error) {
	var pkg Package
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// Encode is the StubParser's inverse, used by tests and by
// DirectDownload/PrepareLocalInstall fixtures to build raw bytes.
func Encode(pkg *Package) ([]byte, error) {
	return json.Marshal(pkg)
}
