package pipeline

import (
	"sync"

	"github.com/sells-group/intel-engine/internal/model"
)

// DeadLetters is the in-memory dead-letter list for pipeline executions that
// exhausted their retries. Entries leave the list only through an explicit
// retry or removal.
type DeadLetters struct {
	mu      sync.Mutex
	entries []model.DeadLetterEntry
}

// NewDeadLetters creates an empty dead-letter list.
func NewDeadLetters() *DeadLetters {
	return &DeadLetters{}
}

// Add appends an entry.
func (d *DeadLetters) Add(entry model.DeadLetterEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entry)
}

// List returns a copy of all entries in arrival order.
func (d *DeadLetters) List() []model.DeadLetterEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.DeadLetterEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Remove deletes the entry for processID and returns it. The second return
// is false when no entry exists.
func (d *DeadLetters) Remove(processID string) (model.DeadLetterEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.entries {
		if e.ProcessID == processID {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			return e, true
		}
	}
	return model.DeadLetterEntry{}, false
}

// Len returns the number of entries.
func (d *DeadLetters) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
