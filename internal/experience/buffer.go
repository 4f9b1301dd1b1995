// Package experience implements ExperienceBuffer (spec component C11):
// an append-only, bounded ring of {agent, action, outcome} tuples used
// for later analysis or training. Persistence beyond the in-memory ring
// is an optional external collaborator (spec.md §4.11); this package
// only ever holds the most recent Capacity entries.
package experience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/swarmwarden/swarmwarden/internal/model"
)

// DefaultCapacity is the ring size spec.md §3 names.
const DefaultCapacity = 5000

// Entry is one logged experience, matching model.Experience but kept as
// its own alias point in case Buffer ever needs fields Experience does
// not carry.
type Entry = model.Experience

// Buffer is ExperienceBuffer (C11): a single mutex-guarded ring.
type Buffer struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	next     int // write cursor once the ring has wrapped
	filled   bool

	logger *slog.Logger
}

// New creates a Buffer with the given capacity (<=0 uses DefaultCapacity).
func New(capacity int, logger *slog.Logger) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
		logger:   logger.With("component", "experience.Buffer"),
	}
}

// Log appends entry (oldest evicted first once the ring is full) and
// returns the assigned entry ID, generating one via ULID if entry.ID is
// empty.
func (b *Buffer) Log(entry Entry) string {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) < b.capacity {
		b.entries = append(b.entries, entry)
	} else {
		b.entries[b.next] = entry
		b.next = (b.next + 1) % b.capacity
		b.filled = true
	}
	return entry.ID
}

// orderedLocked returns entries in insertion order (oldest first),
// caller must hold b.mu.
func (b *Buffer) orderedLocked() []Entry {
	if !b.filled {
		return append([]Entry(nil), b.entries...)
	}
	out := make([]Entry, 0, len(b.entries))
	out = append(out, b.entries[b.next:]...)
	out = append(out, b.entries[:b.next]...)
	return out
}

// Recent returns the last n entries for agentID (n<=0 returns all
// matching entries), newest last.
func (b *Buffer) Recent(agentID string, n int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matches []Entry
	for _, e := range b.orderedLocked() {
		if agentID == "" || e.AgentID == agentID {
			matches = append(matches, e)
		}
	}
	if n > 0 && n < len(matches) {
		matches = matches[len(matches)-n:]
	}
	return matches
}

// BatchQuery filters a Batch call.
type BatchQuery struct {
	AgentID string // optional
	N       int    // optional cap, 0 = unbounded
}

// Batch returns entries matching q, newest last.
func (b *Buffer) Batch(q BatchQuery) []Entry {
	return b.Recent(q.AgentID, q.N)
}

// Summary is the result of Summarize: mean reward plus the tail slice it
// was computed from.
type Summary struct {
	MeanReward float64
	Count      int
	Tail       []Entry
}

// Summarize returns the mean reward and the last n entries for agentID.
func (b *Buffer) Summarize(agentID string, n int) Summary {
	tail := b.Recent(agentID, n)
	if len(tail) == 0 {
		return Summary{Tail: tail}
	}
	var sum float64
	for _, e := range tail {
		sum += e.Reward
	}
	return Summary{MeanReward: sum / float64(len(tail)), Count: len(tail), Tail: tail}
}

// Len returns the number of entries currently retained.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
