// Package runtimesettings persists the mutable state the update agent
// needs to survive a restart: polling bookkeeping, a custom server
// address override, and the in-flight upgrade's target installation
// set. It's rendered as TOML at a configurable path, rewritten after
// every mutation while persistency is enabled.
package runtimesettings

import (
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Polling holds the persisted polling bookkeeping.
type Polling struct {
	Enabled       bool      `toml:"enabled"`
	Last          time.Time `toml:"last"`
	Retries       int       `toml:"retries"`
	ServerAddress string    `toml:"server_address,omitempty"`
}

// Update holds the persisted in-flight-upgrade bookkeeping.
type Update struct {
	UpgradeToInstallation *int `toml:"upgrade_to_installation,omitempty"`
}

// Document is the on-disk/snapshot shape of RuntimeSettings.
type Document struct {
	Polling Polling `toml:"polling"`
	Update  Update  `toml:"update"`
}

// RuntimeSettings is the scheduler's mutable, persisted state. Every
// mutator takes the lock, updates the in-memory document and -- iff
// persistency is enabled -- writes it back to disk before returning.
type RuntimeSettings struct {
	mu         sync.Mutex
	doc        Document
	path       string
	persistent bool
}

// Load reads RuntimeSettings from path. A missing file is not an
// error -- it's what a fresh install looks like -- and yields default
// (polling enabled, zero-value) settings.
func Load(path string) (*RuntimeSettings, error) {
	rs := &RuntimeSettings{path: path, doc: Document{Polling: Polling{Enabled: true}}}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return rs, nil
	}

	if _, err := toml.DecodeFile(path, &rs.doc); err != nil {
		return nil, err
	}

	return rs, nil
}

// EnablePersistency turns on writing every mutation back to disk. The
// process entrypoint (main.go) calls this at startup iff storage isn't
// read-only.
func (rs *RuntimeSettings) EnablePersistency() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.persistent = true
}

// save writes the current document to disk. Callers must hold rs.mu.
func (rs *RuntimeSettings) save() error {
	if !rs.persistent {
		return nil
	}

	f, err := os.Create(rs.path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(rs.doc)
}

// PollingEnabled reports whether the background poll loop should run.
func (rs *RuntimeSettings) PollingEnabled() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.doc.Polling.Enabled
}

// LastPolling returns the timestamp of the last successful probe.
func (rs *RuntimeSettings) LastPolling() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.doc.Polling.Last
}

// SetLastPolling persists now as the last-polling timestamp. Callers
// only ever pass time.Now(), so the stored value is monotonically
// non-decreasing as long as the system clock doesn't go backwards.
func (rs *RuntimeSettings) SetLastPolling(now time.Time) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.doc.Polling.Last = now
	return rs.save()
}

// Retries returns the persisted probe retry counter.
func (rs *RuntimeSettings) Retries() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.doc.Polling.Retries
}

// CustomServerAddress returns the operator-supplied override, if any.
func (rs *RuntimeSettings) CustomServerAddress() (string, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.doc.Polling.ServerAddress == "" {
		return "", false
	}
	return rs.doc.Polling.ServerAddress, true
}

// SetCustomServerAddress persists an operator-supplied probe override.
func (rs *RuntimeSettings) SetCustomServerAddress(address string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.doc.Polling.ServerAddress = address
	return rs.save()
}

// UpgradeToInstallation returns the installation set an in-flight
// upgrade expects to boot into, if any.
func (rs *RuntimeSettings) UpgradeToInstallation() (int, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.doc.Update.UpgradeToInstallation == nil {
		return 0, false
	}
	return *rs.doc.Update.UpgradeToInstallation, true
}

// SetUpgradeToInstallation records the installation set Install just
// wrote to, so startup can validate or roll back next boot.
func (rs *RuntimeSettings) SetUpgradeToInstallation(installSet int) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.doc.Update.UpgradeToInstallation = &installSet
	return rs.save()
}

// ResetInstallationSettings clears the in-flight-upgrade bookkeeping,
// called after a successful validation, a rollback, or an Error
// transition.
func (rs *RuntimeSettings) ResetInstallationSettings() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.doc.Update.UpgradeToInstallation = nil
	return rs.save()
}

// Snapshot returns a value copy of the persisted document, safe to
// hand to a caller outside the scheduler (e.g. for the Info reply).
func (rs *RuntimeSettings) Snapshot() Document {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.doc
}
