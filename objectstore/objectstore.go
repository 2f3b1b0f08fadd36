// Package objectstore is the content-addressed staging area downloads
// write into. Objects are named by their sha256sum, written to a temp
// file and atomically renamed into place, so a download interrupted
// mid-object leaves no partially-written entry under its final name.
package objectstore

import (
	"os"
	"path/filepath"

	"github.com/sidecar-iot/updateagent/uhuerror"
)

// Store is a directory of content-addressed objects.
type Store struct {
	Dir string
}

// New builds a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, uhuerror.NewIo(err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) finalPath(sha256sum string) string {
	return filepath.Join(s.Dir, sha256sum)
}

// Has reports whether an object is already fully staged, making
// Download resumable by object.
func (s *Store) Has(sha256sum string) bool {
	_, err := os.Stat(s.finalPath(sha256sum))
	return err == nil
}

// Create opens a temp file to stream a new object's bytes into. The
// caller must pass the returned file to Commit (success) or Abandon
// (abort/error) when done.
func (s *Store) Create(sha256sum string) (*os.File, error) {
	f, err := os.CreateTemp(s.Dir, sha256sum+".part-*")
	if err != nil {
		return nil, uhuerror.NewIo(err)
	}
	return f, nil
}

// Commit closes tmp and atomically renames it into place under
// sha256sum, making the object visible to Has/Open.
func (s *Store) Commit(sha256sum string, tmp *os.File) error {
	name := tmp.Name()
	if err := tmp.Close(); err != nil {
		return uhuerror.NewIo(err)
	}
	if err := os.Rename(name, s.finalPath(sha256sum)); err != nil {
		return uhuerror.NewIo(err)
	}
	return nil
}

// Abandon discards a temp file without committing it. Fully staged
// objects from an aborted download stay in place so a retry can
// resume; Abandon is for genuine write errors only.
func (s *Store) Abandon(tmp *os.File) error {
	name := tmp.Name()
	tmp.Close()
	return os.Remove(name)
}

// Open opens a previously-committed object for reading (by an
// installer backend).
func (s *Store) Open(sha256sum string) (*os.File, error) {
	f, err := os.Open(s.finalPath(sha256sum))
	if err != nil {
		return nil, uhuerror.NewIo(err)
	}
	return f, nil
}
