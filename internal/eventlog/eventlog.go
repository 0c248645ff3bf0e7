package eventlog

import (
	"sync"

	"vault-core-go/internal/models"
)

// DefaultCapacity matches the on-chain event retention limit.
const DefaultCapacity = 1000

// Log is a bounded, append-only record of settlement outcomes. Once the
// configured capacity is exceeded, the oldest entries are evicted.
type Log struct {
	mu       sync.RWMutex
	capacity int
	entries  []models.SettlementEvent
}

// New creates a log with the given capacity; zero or negative selects
// DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity}
}

// Append adds an event to the tail, evicting from the head when the log is full.
func (l *Log) Append(event models.SettlementEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, event)
	if len(l.entries) > l.capacity {
		overflow := len(l.entries) - l.capacity
		l.entries = append([]models.SettlementEvent(nil), l.entries[overflow:]...)
	}
}

// Query returns up to limit events, newest first, skipping the first offset
// matches. A nil kind returns every kind; otherwise only matching events
// count toward the limit and offset. Zero or negative limit returns all
// retained matches.
func (l *Log) Query(kind *models.EventKind, limit, offset int) []models.SettlementEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 {
		limit = len(l.entries)
	}

	out := make([]models.SettlementEvent, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if kind != nil && l.entries[i].Kind != *kind {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		out = append(out, l.entries[i])
	}
	return out
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
