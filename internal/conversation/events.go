package conversation

import (
	"sync"
	"time"
)

// EventFeed keeps the most recent state events per conversation, each
// stamped with a feed-wide sequence number. UIs poll with Since.
type EventFeed struct {
	mu     sync.Mutex
	seq    int64
	limit  int
	now    func() time.Time
	byConv map[string][]StateEvent
}

// NewEventFeed creates a feed retaining up to limit events per conversation.
func NewEventFeed(limit int) *EventFeed {
	if limit < 1 {
		limit = 100
	}
	return &EventFeed{
		limit:  limit,
		now:    func() time.Time { return time.Now().UTC() },
		byConv: make(map[string][]StateEvent),
	}
}

// Publish stamps and stores ev.
func (f *EventFeed) Publish(ev StateEvent) StateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	ev.Seq = f.seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = f.now()
	}
	events := append(f.byConv[ev.ConversationID], ev)
	if len(events) > f.limit {
		events = events[len(events)-f.limit:]
	}
	f.byConv[ev.ConversationID] = events
	return ev
}

// Since returns events for conversationID with Seq > seq, oldest first.
func (f *EventFeed) Since(conversationID string, seq int64) []StateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []StateEvent
	for _, ev := range f.byConv[conversationID] {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
