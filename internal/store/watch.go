package store

import "github.com/leitnerhq/leitner/internal/schema"

// Change describes one committed mutation, local or pulled.
type Change struct {
	Table string
	ID    string
	Op    schema.OpKind
}

// Watch registers a change subscriber.
//
// The channel is buffered; when a subscriber falls behind, notifications are
// dropped rather than blocking writers. A receive therefore means "something
// changed, re-query", not "here is every change".
func (s *Store) Watch() <-chan Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Change, 64)
	if s.closed {
		close(ch)
		return ch
	}
	s.subs[ch] = struct{}{}
	return ch
}

// Unwatch removes a subscriber and closes its channel.
func (s *Store) Unwatch(ch <-chan Change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subs {
		if (<-chan Change)(sub) == ch {
			delete(s.subs, sub)
			close(sub)
			return
		}
	}
}

func (s *Store) notify(c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subs {
		select {
		case sub <- c:
		default:
			// Subscriber is full; it will re-query on its next receive.
		}
	}
}
