package installer

import (
	"os"
	"path/filepath"
	"time"

	"github.com/relistan/go-director"
	log "github.com/sirupsen/logrus"
)

// DefaultRetention is how long a staged (committed) download object is
// kept around after an install attempt before the GC reclaims it.
const DefaultRetention = 24 * time.Hour

// DefaultGCInterval is how often the GC sweeps the staging directory.
const DefaultGCInterval = 1 * time.Hour

// StagingGC periodically removes committed objects older than
// Retention from a staging directory.
type StagingGC struct {
	Dir       string
	Retention time.Duration
}

// NewStagingGC builds a StagingGC with the package defaults.
func NewStagingGC(dir string) *StagingGC {
	return &StagingGC{Dir: dir, Retention: DefaultRetention}
}

// Run drives one GC sweep per looper.Loop tick until the looper is
// stopped or a sweep fails unrecoverably.
func (g *StagingGC) Run(looper director.Looper) {
	looper.Loop(func() error {
		return g.sweep()
	})
}

func (g *StagingGC) sweep() error {
	entries, err := os.ReadDir(g.Dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-g.Retention)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Warnf("staging gc: stat %s: %s", entry.Name(), err)
			continue
		}

		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(g.Dir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Warnf("staging gc: remove %s: %s", path, err)
			continue
		}
		log.Debugf("staging gc: reclaimed %s", path)
	}

	return nil
}
