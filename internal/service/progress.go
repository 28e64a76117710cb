package service

import (
	"sync"
	"time"

	"github.com/channelworks/partner-sync-api/internal/models"
)

// ProgressEvent reports forward movement of a sync pass. Events are advisory:
// a slow subscriber loses events rather than stalling the sync.
type ProgressEvent struct {
	GroupID string          `json:"group_id"`
	Type    models.SyncType `json:"type"`
	Stage   string          `json:"stage"`
	Current int             `json:"current"`
	Total   int             `json:"total"`
	At      time.Time       `json:"at"`
}

// ProgressBroadcaster fans progress events out to subscribers over buffered
// channels. Publish never blocks.
type ProgressBroadcaster struct {
	mu   sync.Mutex
	subs map[int]chan ProgressEvent
	next int
}

func NewProgressBroadcaster() *ProgressBroadcaster {
	return &ProgressBroadcaster{subs: make(map[int]chan ProgressEvent)}
}

// Subscribe returns an event channel and a cancel function. The channel is
// closed when cancel is called.
func (b *ProgressBroadcaster) Subscribe() (<-chan ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan ProgressEvent, 64)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber whose buffer has room and
// drops it for the rest.
func (b *ProgressBroadcaster) Publish(event ProgressEvent) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub <- event:
		default:
		}
	}
}
