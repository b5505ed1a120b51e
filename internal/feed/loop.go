package feed

import "sync"

// Loop serializes every state transition of a session. User actions, fetch
// completions and timer callbacks all run through Do, so the engine behaves
// as if it were single threaded even though fetches complete on their own
// goroutines.
//
// Do is not reentrant: code already running inside the loop must call the
// unexported, lock-free variants instead.
type Loop struct {
	mu sync.Mutex
}

// Do runs fn with exclusive access to the session state.
func (l *Loop) Do(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}
