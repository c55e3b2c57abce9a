package rewards

import (
	"sync"

	"github.com/tutu-network/shf/internal/domain"
)

// ─── Live Entry Feed ────────────────────────────────────────────────────────
// Every posted entry is offered to the subscribers of its subject.
// Delivery is best effort: a subscriber that falls behind drops entries
// rather than slowing down the writer.

// Feed fans posted entries out to subscribers.
type Feed struct {
	mu      sync.RWMutex
	clients map[chan domain.LedgerEntry]string // channel → subject ("" = all subjects)
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{clients: make(map[chan domain.LedgerEntry]string)}
}

// Subscribe registers a client for one subject, or every subject when
// subjectID is empty. Returns the channel and an unsubscribe func.
func (f *Feed) Subscribe(subjectID string) (<-chan domain.LedgerEntry, func()) {
	ch := make(chan domain.LedgerEntry, 32)
	f.mu.Lock()
	f.clients[ch] = subjectID
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.clients, ch)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Publish offers an entry to every matching subscriber.
func (f *Feed) Publish(e domain.LedgerEntry) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for ch, subject := range f.clients {
		if subject != "" && subject != e.SubjectID {
			continue
		}
		select {
		case ch <- e.Clone():
		default:
			// Client too slow, drop the entry
		}
	}
}

// ClientCount returns the number of connected clients.
func (f *Feed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}
