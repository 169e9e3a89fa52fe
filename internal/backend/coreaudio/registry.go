package coreaudio

import "sync"

// registry hands out ids that native callbacks carry instead of Go
// pointers. An id stays resolvable until it is removed; lookups after
// that report false, so a notification that races a close is dropped.
type registry[T any] struct {
	mu      sync.Mutex
	next    uintptr
	entries map[uintptr]T
}

func (r *registry[T]) add(v T) uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[uintptr]T)
	}
	r.next++
	r.entries[r.next] = v
	return r.next
}

func (r *registry[T]) lookup(id uintptr) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.entries[id]
	return v, ok
}

// remove reports whether id was registered.
func (r *registry[T]) remove(id uintptr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

func (r *registry[T]) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
