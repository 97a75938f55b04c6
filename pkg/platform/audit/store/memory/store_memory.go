package memory

import (
	"context"
	"iter"
	"maps"
	"sync"

	audit "careverify/pkg/platform/audit"
)

// InMemoryStore keeps the ledger in a single slice; Seq is the 1-based index.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
	// byResource indexes positions in events per resource.
	byResource map[string][]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byResource: make(map[string][]int)}
}

func resourceKey(resourceType, resourceID string) string {
	return resourceType + "/" + resourceID
}

func (s *InMemoryStore) Append(ctx context.Context, event audit.Event) (audit.Event, error) {
	if err := ctx.Err(); err != nil {
		return audit.Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	event.Seq = int64(len(s.events) + 1)
	event.Payload = maps.Clone(event.Payload)
	s.events = append(s.events, event)
	key := resourceKey(event.ResourceType, event.ResourceID)
	s.byResource[key] = append(s.byResource[key], len(s.events)-1)
	return event, nil
}

// ReadTimeline walks the resource index one entry at a time, taking the read
// lock per step, so events appended mid-iteration are yielded too.
func (s *InMemoryStore) ReadTimeline(ctx context.Context, resourceType, resourceID string) iter.Seq2[audit.Event, error] {
	key := resourceKey(resourceType, resourceID)
	return func(yield func(audit.Event, error) bool) {
		for i := 0; ; i++ {
			if err := ctx.Err(); err != nil {
				yield(audit.Event{}, err)
				return
			}
			s.mu.RLock()
			positions := s.byResource[key]
			if i >= len(positions) {
				s.mu.RUnlock()
				return
			}
			ev := s.events[positions[i]]
			s.mu.RUnlock()

			ev.Payload = maps.Clone(ev.Payload)
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (s *InMemoryStore) ReadAfter(ctx context.Context, afterSeq int64, limit int) ([]audit.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(s.events)) {
		return nil, nil
	}
	end := len(s.events)
	if limit > 0 && int(afterSeq)+limit < end {
		end = int(afterSeq) + limit
	}
	out := make([]audit.Event, 0, end-int(afterSeq))
	for _, ev := range s.events[afterSeq:end] {
		ev.Payload = maps.Clone(ev.Payload)
		out = append(out, ev)
	}
	return out, nil
}

// Len returns the number of stored events.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
