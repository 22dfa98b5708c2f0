package stream

import (
	"context"
	"sync"
	"time"
)

// DetectionEvent is an accepted ingest event forwarded to live dashboards.
type DetectionEvent struct {
	ID         string         `json:"id"`
	OrgID      string         `json:"org_id"`
	AgentID    string         `json:"agent_id"`
	EventType  string         `json:"event_type"`
	Severity   string         `json:"severity"`
	Title      string         `json:"title"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	DetectedAt time.Time      `json:"detected_at"`
	ReceivedAt time.Time      `json:"received_at"`
}

const subscriberBuffer = 16

type subscriber struct {
	orgID string
	ch    chan DetectionEvent
}

// Stream fans events out to subscribers of the same organization. Delivery
// never crosses organizations.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

// New returns an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for orgID. The channel is closed when ctx
// ends.
func (s *Stream) Subscribe(ctx context.Context, orgID string) <-chan DetectionEvent {
	ch := make(chan DetectionEvent, subscriberBuffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{orgID: orgID, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish delivers evt to every subscriber of evt.OrgID and returns how many
// received it. Slow subscribers miss events rather than block the publisher.
func (s *Stream) Publish(evt DetectionEvent) int {
	if evt.OrgID == "" {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	delivered := 0
	for _, sub := range s.subs {
		if sub.orgID != evt.OrgID {
			continue
		}
		select {
		case sub.ch <- evt:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the number of active subscribers across all orgs.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
