// Package memlog is the in-memory log buffer GET /log serves and
// error reports attach as current_log: a logrus hook that mirrors
// emitted entries into a bounded in-process ring. It's an explicit
// dependency the scheduler is handed, never a package-level
// singleton, so tests can substitute their own.
package memlog

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultCapacity bounds how many entries the buffer retains.
const DefaultCapacity = 2000

// Entry is one captured log line.
type Entry struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Buffer is a bounded, thread-safe ring buffer of log Entries that
// also implements logrus.Hook so it can be attached directly to the
// agent's logger.
type Buffer struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	enabled  bool
}

// New builds a Buffer with the given capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity}
}

// Enable turns on capture. LocalInstall/RemoteInstall call this the
// instant they're accepted so the ensuing download and install are
// fully captured for error reports.
func (b *Buffer) Enable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = true
}

// Disable turns capture back off without dropping what's buffered.
func (b *Buffer) Disable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = false
}

// Levels is part of logrus.Hook: capture everything.
func (b *Buffer) Levels() []log.Level {
	return log.AllLevels
}

// Fire is part of logrus.Hook.
func (b *Buffer) Fire(e *log.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.enabled {
		return nil
	}

	fields := make(map[string]string, len(e.Data))
	for k, v := range e.Data {
		fields[k] = formatField(v)
	}

	entry := Entry{Time: e.Time, Level: e.Level.String(), Message: e.Message, Fields: fields}

	if len(b.entries) >= b.capacity {
		b.entries = b.entries[1:]
	}
	b.entries = append(b.entries, entry)

	return nil
}

// Entries returns a snapshot of the currently buffered log lines.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Text joins the buffered entries into a single string, the shape
// Report's current_log field expects.
func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out string
	for _, e := range b.entries {
		out += e.Time.Format(time.RFC3339) + " [" + e.Level + "] " + e.Message + "\n"
	}
	return out
}

func formatField(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	default:
		return fmt.Sprintf("%v", t)
	}
}
