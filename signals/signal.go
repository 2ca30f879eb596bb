// Package signals is the in-process event bus: typed signals with ordered,
// synchronous receivers, and a GORM plugin that turns the save and delete
// callback chain into PreSave, PostSave and PostDelete signals.
package signals

import (
	"context"
	"fmt"
	"sync"
)

// Handler receives one event. A non-nil error stops delivery.
type Handler[E any] func(ctx context.Context, e E) error

type receiver[E any] struct {
	uid string
	fn  Handler[E]
}

// Signal dispatches events of type E to its receivers in the order they were
// connected. The zero value is ready to use.
type Signal[E any] struct {
	mu        sync.RWMutex
	receivers []receiver[E]
}

// Connect adds fn under uid. It returns false and leaves the signal untouched
// when a receiver with the same uid is already connected.
func (s *Signal[E]) Connect(uid string, fn Handler[E]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.receivers {
		if r.uid == uid {
			return false
		}
	}
	s.receivers = append(s.receivers, receiver[E]{uid: uid, fn: fn})
	return true
}

// Disconnect removes the receiver registered under uid.
func (s *Signal[E]) Disconnect(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.receivers {
		if r.uid == uid {
			s.receivers = append(s.receivers[:i:i], s.receivers[i+1:]...)
			return true
		}
	}
	return false
}

// Len reports the number of connected receivers.
func (s *Signal[E]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.receivers)
}

// Send delivers e to every receiver before returning. The first receiver
// error aborts delivery and is returned wrapped with the receiver uid.
func (s *Signal[E]) Send(ctx context.Context, e E) error {
	s.mu.RLock()
	receivers := make([]receiver[E], len(s.receivers))
	copy(receivers, s.receivers)
	s.mu.RUnlock()

	for _, r := range receivers {
		if err := r.fn(ctx, e); err != nil {
			return fmt.Errorf("%s: %w", r.uid, err)
		}
	}
	return nil
}
