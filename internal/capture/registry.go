package capture

import (
	"context"
	"errors"
	"sync"
)

var registry = struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
}{sessions: make(map[*Session]struct{})}

func register(s *Session) {
	registry.mu.Lock()
	registry.sessions[s] = struct{}{}
	registry.mu.Unlock()
}

func unregister(s *Session) {
	registry.mu.Lock()
	delete(registry.sessions, s)
	registry.mu.Unlock()
}

// Active returns the number of sessions holding a platform stream.
func Active() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return len(registry.sessions)
}

// StopAll stops every live session and waits for each teardown to finish.
// Hosts call it on shutdown so no platform stream outlives the process.
func StopAll(ctx context.Context) error {
	registry.mu.Lock()
	sessions := make([]*Session, 0, len(registry.sessions))
	for s := range registry.sessions {
		sessions = append(sessions, s)
	}
	registry.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}

	var errs []error
	for _, s := range sessions {
		if err := s.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
